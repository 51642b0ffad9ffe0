// Package dynamodb implements the property-graph store on a single DynamoDB
// table. One partition per project; merge-style UpdateItem upserts so a
// write never deletes attributes it does not name. The only row-removal
// path is DropProject.
package dynamodb

import (
	"context"
	stderrors "errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "graph_store"

// GraphStore is the DynamoDB adapter for ports.GraphStore.
type GraphStore struct {
	client  *dynamodb.Client
	table   string
	logger  *zap.Logger
	metrics *observability.Collector
}

var _ ports.GraphStore = (*GraphStore)(nil)

// NewClient builds the DynamoDB client from the graph configuration. A
// non-empty endpoint overrides the regional one (local development).
func NewClient(ctx context.Context, cfg config.Graph) (*dynamodb.Client, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	awsCfg, err := awsConfig.LoadDefaultConfig(loadCtx, awsConfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.NewGraphStoreUnavailable("failed to load AWS config", err).WithComponent(component)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.RequestTimeout > 0 {
			o.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
		}
	}), nil
}

// NewGraphStore wires the adapter onto an existing client.
func NewGraphStore(client *dynamodb.Client, tableName string, logger *zap.Logger, metrics *observability.Collector) *GraphStore {
	return &GraphStore{
		client:  client,
		table:   tableName,
		logger:  logger.Named(component),
		metrics: metrics,
	}
}

func (s *GraphStore) UpsertEntities(ctx context.Context, projectName string, entities []domain.Entity) error {
	for _, entity := range entities {
		if err := s.upsertEntity(ctx, projectName, entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *GraphStore) upsertEntity(ctx context.Context, projectName string, entity domain.Entity) error {
	update := expression.
		Set(expression.Name("entity_id"), expression.Value(entity.ID)).
		Set(expression.Name("project_name"), expression.Value(projectName)).
		Set(expression.Name("updated_at"), expression.Value(time.Now().UTC().Format(time.RFC3339)))
	if entity.Name != "" {
		update = update.
			Set(expression.Name("name"), expression.Value(entity.Name)).
			Set(expression.Name("name_lower"), expression.Value(strings.ToLower(entity.Name)))
	}
	if entity.Kind != "" {
		update = update.Set(expression.Name("kind"), expression.Value(string(entity.Kind)))
	}
	if entity.Description != "" {
		update = update.
			Set(expression.Name("description"), expression.Value(entity.Description)).
			Set(expression.Name("description_lower"), expression.Value(strings.ToLower(entity.Description)))
	}
	if entity.SourcePath != "" {
		update = update.Set(expression.Name("source_path"), expression.Value(entity.SourcePath))
	}
	if entity.Confidence != 0 {
		update = update.Set(expression.Name("confidence"), expression.Value(entity.Confidence))
	}
	if entity.LineNumber != 0 {
		update = update.Set(expression.Name("line_number"), expression.Value(entity.LineNumber))
	}
	update = setProperties(update, entity.Properties)

	return s.updateItem(ctx, "upsert_entity",
		itemKey(projectPK(projectName), entitySK(entity.ID)), update)
}

func (s *GraphStore) UpsertNode(ctx context.Context, node domain.GraphNode) error {
	return s.updateItem(ctx, "upsert_node",
		itemKey(projectPK(node.ProjectName), nodeSK(node.Key())), nodeUpdate(node))
}

func nodeUpdate(node domain.GraphNode) expression.UpdateBuilder {
	update := expression.
		Set(expression.Name("node_key"), expression.Value(node.Key())).
		Set(expression.Name("kind"), expression.Value(string(node.Kind))).
		Set(expression.Name("project_name"), expression.Value(node.ProjectName)).
		Set(expression.Name("updated_at"), expression.Value(time.Now().UTC().Format(time.RFC3339)))
	if node.Name != "" {
		update = update.Set(expression.Name("name"), expression.Value(node.Name))
	}
	if node.Path != "" {
		update = update.Set(expression.Name("path"), expression.Value(node.Path))
	}
	return setProperties(update, node.Properties)
}

// UpsertTree writes nodes then edges, each in transactional chunks of 25.
// Atomicity is per chunk, matching the per-batch transaction contract.
func (s *GraphStore) UpsertTree(ctx context.Context, projectName string, nodes []domain.GraphNode, edges []domain.ContainmentEdge) error {
	var writes []types.TransactWriteItem
	for _, node := range nodes {
		item, err := s.transactUpdate(itemKey(projectPK(projectName), nodeSK(node.Key())), nodeUpdate(node))
		if err != nil {
			return err
		}
		writes = append(writes, item)
	}
	for _, edge := range edges {
		update := expression.
			Set(expression.Name("parent_key"), expression.Value(edge.ParentKey)).
			Set(expression.Name("child_key"), expression.Value(edge.ChildKey)).
			Set(expression.Name("project_name"), expression.Value(projectName))
		item, err := s.transactUpdate(itemKey(projectPK(projectName), edgeSK(edge.ChildKey)), update)
		if err != nil {
			return err
		}
		writes = append(writes, item)
	}

	for start := 0; start < len(writes); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(writes) {
			end = len(writes)
		}
		began := time.Now()
		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: writes[start:end],
		})
		s.metrics.ObserveStore("dynamodb", "transact_write", time.Since(began), err)
		if err != nil {
			return storeError("tree transaction failed", err).WithDetail("chunk_start", start)
		}
	}
	return nil
}

func (s *GraphStore) transactUpdate(key map[string]types.AttributeValue, update expression.UpdateBuilder) (types.TransactWriteItem, error) {
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return types.TransactWriteItem{}, errors.NewInternal("failed to build update expression", err).WithComponent(component)
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(s.table),
			Key:                       key,
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		},
	}, nil
}

// UpsertRelationships writes each relationship row and makes sure both
// endpoint rows exist. A missing endpoint becomes a minimal placeholder
// carrying only its id and project name.
func (s *GraphStore) UpsertRelationships(ctx context.Context, projectName string, relationships []domain.Relationship) error {
	for _, rel := range relationships {
		update := expression.
			Set(expression.Name("relationship_id"), expression.Value(rel.ID)).
			Set(expression.Name("source_id"), expression.Value(rel.SourceID)).
			Set(expression.Name("target_id"), expression.Value(rel.TargetID)).
			Set(expression.Name("kind"), expression.Value(string(rel.Kind))).
			Set(expression.Name("project_name"), expression.Value(projectName))
		if rel.Confidence != 0 {
			update = update.Set(expression.Name("confidence"), expression.Value(rel.Confidence))
		}
		update = setProperties(update, rel.Properties)

		if err := s.updateItem(ctx, "upsert_relationship",
			itemKey(projectPK(projectName), relationshipSK(rel.ID)), update); err != nil {
			return err
		}
		for _, endpointID := range []string{rel.SourceID, rel.TargetID} {
			if err := s.ensureEndpoint(ctx, projectName, endpointID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureEndpoint upserts the entity row touching only id and project name,
// so a real entity written earlier keeps all of its attributes.
func (s *GraphStore) ensureEndpoint(ctx context.Context, projectName, entityID string) error {
	update := expression.
		Set(expression.Name("entity_id"), expression.Value(entityID)).
		Set(expression.Name("project_name"), expression.Value(projectName))
	return s.updateItem(ctx, "ensure_endpoint",
		itemKey(projectPK(projectName), entitySK(entityID)), update)
}

func (s *GraphStore) LinkEntitiesToFile(ctx context.Context, projectName, sourcePath string, entityIDs []string) error {
	fileKey := domain.GraphNode{Kind: domain.GraphNodeFile, ProjectName: projectName, Path: sourcePath}.Key()
	for _, entityID := range entityIDs {
		update := expression.
			Set(expression.Name("kind"), expression.Value("contains_entity")).
			Set(expression.Name("file_key"), expression.Value(fileKey)).
			Set(expression.Name("file_path"), expression.Value(sourcePath)).
			Set(expression.Name("entity_id"), expression.Value(entityID)).
			Set(expression.Name("project_name"), expression.Value(projectName))
		if err := s.updateItem(ctx, "link_entity",
			itemKey(projectPK(projectName), linkSK(sourcePath, entityID)), update); err != nil {
			return err
		}
	}
	return nil
}

// SearchEntities substring-matches name and description. Scoped searches
// query the project partition; unscoped ones scan the table.
func (s *GraphStore) SearchEntities(ctx context.Context, projectName, query string, limit int) ([]domain.Entity, error) {
	needle := strings.ToLower(query)
	filter := expression.Name("name_lower").Contains(needle).
		Or(expression.Name("description_lower").Contains(needle))

	var items []map[string]types.AttributeValue
	var err error
	if projectName != "" {
		items, err = s.queryPartition(ctx, projectName, skEntity, &filter, limit)
	} else {
		items, err = s.scanEntities(ctx, filter, limit)
	}
	if err != nil {
		return nil, err
	}

	entities := make([]domain.Entity, 0, len(items))
	for _, item := range items {
		entity, parseErr := entityFromItem(item)
		if parseErr != nil {
			s.logger.Warn("skipping unparseable entity row", zap.Error(parseErr))
			continue
		}
		entities = append(entities, entity)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	if limit > 0 && len(entities) > limit {
		entities = entities[:limit]
	}
	return entities, nil
}

func (s *GraphStore) queryPartition(ctx context.Context, projectName, skPrefix string, filter *expression.ConditionBuilder, limit int) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(projectPK(projectName))).
		And(expression.Key("SK").BeginsWith(skPrefix))
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if filter != nil {
		builder = builder.WithFilter(*filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, errors.NewInternal("failed to build query expression", err).WithComponent(component)
	}

	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		began := time.Now()
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		s.metrics.ObserveStore("dynamodb", "query", time.Since(began), err)
		if err != nil {
			return nil, storeError("query failed", err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil || (limit > 0 && len(items) >= limit) {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *GraphStore) scanEntities(ctx context.Context, filter expression.ConditionBuilder, limit int) ([]map[string]types.AttributeValue, error) {
	combined := expression.Name("SK").BeginsWith(skEntity).And(filter)
	expr, err := expression.NewBuilder().WithFilter(combined).Build()
	if err != nil {
		return nil, errors.NewInternal("failed to build scan expression", err).WithComponent(component)
	}

	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		began := time.Now()
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		s.metrics.ObserveStore("dynamodb", "scan", time.Since(began), err)
		if err != nil {
			return nil, storeError("scan failed", err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil || (limit > 0 && len(items) >= limit) {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// ContainmentPath walks parent edges from the file node up to the project
// node and returns the chain root-first.
func (s *GraphStore) ContainmentPath(ctx context.Context, projectName, sourcePath string) ([]domain.GraphNode, error) {
	fileKey := domain.GraphNode{Kind: domain.GraphNodeFile, ProjectName: projectName, Path: sourcePath}.Key()
	projectKey := domain.GraphNode{Kind: domain.GraphNodeProject, ProjectName: projectName}.Key()

	node, found, err := s.getNode(ctx, projectName, fileKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NewNotFound("file node " + sourcePath).WithComponent(component)
	}

	chain := []domain.GraphNode{node}
	currentKey := fileKey
	// Containment trees are shallow; the bound only guards against a
	// corrupted edge cycle.
	for depth := 0; depth < 64 && currentKey != projectKey; depth++ {
		parentKey, found, err := s.getParentKey(ctx, projectName, currentKey)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		parent, found, err := s.getNode(ctx, projectName, parentKey)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		chain = append(chain, parent)
		currentKey = parentKey
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (s *GraphStore) getNode(ctx context.Context, projectName, nodeKey string) (domain.GraphNode, bool, error) {
	began := time.Now()
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       itemKey(projectPK(projectName), nodeSK(nodeKey)),
	})
	s.metrics.ObserveStore("dynamodb", "get_node", time.Since(began), err)
	if err != nil {
		return domain.GraphNode{}, false, storeError("get node failed", err)
	}
	if out.Item == nil {
		return domain.GraphNode{}, false, nil
	}
	node, err := nodeFromItem(out.Item)
	if err != nil {
		return domain.GraphNode{}, false, errors.NewInternal("unparseable node row", err).WithComponent(component)
	}
	return node, true, nil
}

func (s *GraphStore) getParentKey(ctx context.Context, projectName, childKey string) (string, bool, error) {
	began := time.Now()
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       itemKey(projectPK(projectName), edgeSK(childKey)),
	})
	s.metrics.ObserveStore("dynamodb", "get_edge", time.Since(began), err)
	if err != nil {
		return "", false, storeError("get edge failed", err)
	}
	if out.Item == nil {
		return "", false, nil
	}
	parent := stringField(out.Item, "parent_key")
	return parent, parent != "", nil
}

// DropProject deletes every row in the project partition.
func (s *GraphStore) DropProject(ctx context.Context, projectName string) error {
	keyCond := expression.Key("PK").Equal(expression.Value(projectPK(projectName)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return errors.NewInternal("failed to build drop query", err).WithComponent(component)
	}

	var deletes []types.WriteRequest
	var startKey map[string]types.AttributeValue
	for {
		began := time.Now()
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ProjectionExpression:      aws.String("PK, SK"),
			ExclusiveStartKey:         startKey,
		})
		s.metrics.ObserveStore("dynamodb", "query", time.Since(began), err)
		if err != nil {
			return storeError("drop scan failed", err)
		}
		for _, item := range out.Items {
			deletes = append(deletes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: item},
			})
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	if err := s.batchWrite(ctx, deletes); err != nil {
		return err
	}
	s.logger.Info("project dropped",
		zap.String("project", projectName),
		zap.Int("rows", len(deletes)))
	return nil
}

// batchWrite chunks requests to the 25-item limit and retries unprocessed
// items up to three times.
func (s *GraphStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(requests) {
			end = len(requests)
		}

		pending := requests[start:end]
		for attempt := 0; ; attempt++ {
			began := time.Now()
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.table: pending},
			})
			s.metrics.ObserveStore("dynamodb", "batch_write", time.Since(began), err)
			if err != nil {
				return storeError("batch write failed", err)
			}
			unprocessed := out.UnprocessedItems[s.table]
			if len(unprocessed) == 0 {
				break
			}
			if attempt >= 3 {
				return errors.NewGraphStoreUnavailable("batch write left unprocessed items", nil).
					WithComponent(component).
					WithDetail("unprocessed", len(unprocessed))
			}
			pending = unprocessed
			select {
			case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
			case <-ctx.Done():
				return errors.NewGraphStoreUnavailable("batch write cancelled", ctx.Err()).WithComponent(component)
			}
		}
	}
	return nil
}

func (s *GraphStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err != nil {
		return errors.NewGraphStoreUnavailable("describe table failed", err).WithComponent(component)
	}
	return nil
}

func (s *GraphStore) updateItem(ctx context.Context, operation string, key map[string]types.AttributeValue, update expression.UpdateBuilder) error {
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return errors.NewInternal("failed to build update expression", err).WithComponent(component)
	}

	began := time.Now()
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	s.metrics.ObserveStore("dynamodb", operation, time.Since(began), err)
	if err != nil {
		return storeError(operation+" failed", err)
	}
	return nil
}

// storeError classifies a failed call. Server faults, throttling and
// transaction races stay retryable; any other client fault cannot succeed on
// retry and becomes a permanent internal error.
func storeError(message string, err error) *errors.AppError {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient && !transientCode(apiErr.ErrorCode()) {
		return errors.NewInternal(message+": "+apiErr.ErrorCode(), err).WithComponent(component)
	}
	return errors.NewGraphStoreUnavailable(message, err).WithComponent(component)
}

func transientCode(code string) bool {
	switch code {
	case "ThrottlingException",
		"ProvisionedThroughputExceededException",
		"RequestLimitExceeded",
		"LimitExceededException",
		"TransactionCanceledException",
		"TransactionConflictException":
		return true
	}
	return false
}

func setProperties(update expression.UpdateBuilder, properties map[string]any) expression.UpdateBuilder {
	for name, value := range properties {
		update = update.Set(expression.Name(propPrefix+name), expression.Value(value))
	}
	return update
}
