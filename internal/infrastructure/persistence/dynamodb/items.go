package dynamodb

import (
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"cortex-backend/internal/domain"
)

// Single-table layout: one partition per project, sort-key prefixes per row
// shape. Everything a project owns lives in its partition so project-scoped
// queries and drops stay single-partition operations.
const (
	pkPrefix     = "PROJECT#"
	skNode       = "NODE#"
	skEntity     = "ENTITY#"
	skRel        = "REL#"
	skEdge       = "EDGE#"
	skLink       = "LINK#"
	propPrefix   = "p_"
	maxBatchSize = 25
)

func projectPK(projectName string) string { return pkPrefix + projectName }

func nodeSK(nodeKey string) string    { return skNode + nodeKey }
func entitySK(entityID string) string { return skEntity + entityID }
func relationshipSK(id string) string { return skRel + id }
func edgeSK(childKey string) string   { return skEdge + childKey }
func linkSK(sourcePath, entityID string) string {
	return skLink + sourcePath + "#" + entityID
}

func stringAttr(value string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: value}
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": stringAttr(pk),
		"SK": stringAttr(sk),
	}
}

// entityFromItem rebuilds a domain entity from its row. Prefixed property
// attributes fold back into the Properties map.
func entityFromItem(item map[string]types.AttributeValue) (domain.Entity, error) {
	entity := domain.Entity{
		ID:          stringField(item, "entity_id"),
		Name:        stringField(item, "name"),
		Kind:        domain.EntityKind(stringField(item, "kind")),
		Description: stringField(item, "description"),
		SourcePath:  stringField(item, "source_path"),
		ProjectName: stringField(item, "project_name"),
		Confidence:  numberField(item, "confidence"),
	}
	if n := numberField(item, "line_number"); n > 0 {
		entity.LineNumber = int(n)
	}
	props, err := propertiesFromItem(item)
	if err != nil {
		return domain.Entity{}, err
	}
	entity.Properties = props
	return entity, nil
}

func nodeFromItem(item map[string]types.AttributeValue) (domain.GraphNode, error) {
	node := domain.GraphNode{
		Kind:        domain.GraphNodeKind(stringField(item, "kind")),
		ProjectName: stringField(item, "project_name"),
		Path:        stringField(item, "path"),
		Name:        stringField(item, "name"),
	}
	props, err := propertiesFromItem(item)
	if err != nil {
		return domain.GraphNode{}, err
	}
	node.Properties = props
	return node, nil
}

func propertiesFromItem(item map[string]types.AttributeValue) (map[string]any, error) {
	var props map[string]any
	for name, attr := range item {
		if !strings.HasPrefix(name, propPrefix) {
			continue
		}
		var value any
		if err := attributevalue.Unmarshal(attr, &value); err != nil {
			return nil, err
		}
		if props == nil {
			props = make(map[string]any)
		}
		props[strings.TrimPrefix(name, propPrefix)] = value
	}
	return props, nil
}

func stringField(item map[string]types.AttributeValue, name string) string {
	if attr, ok := item[name].(*types.AttributeValueMemberS); ok {
		return attr.Value
	}
	return ""
}

func numberField(item map[string]types.AttributeValue, name string) float64 {
	if attr, ok := item[name].(*types.AttributeValueMemberN); ok {
		if v, err := strconv.ParseFloat(attr.Value, 64); err == nil {
			return v
		}
	}
	return 0
}
