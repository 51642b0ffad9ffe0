package domain

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// EntityKind is the closed vocabulary for extracted entities. Extractor
// output is normalized into this set; unknown kinds collapse to
// EntityKindConcept.
type EntityKind string

const (
	EntityKindFunction      EntityKind = "function"
	EntityKindMethod        EntityKind = "method"
	EntityKindClass         EntityKind = "class"
	EntityKindModule        EntityKind = "module"
	EntityKindVariable      EntityKind = "variable"
	EntityKindConstant      EntityKind = "constant"
	EntityKindAPIEndpoint   EntityKind = "api_endpoint"
	EntityKindConfigSetting EntityKind = "config_setting"
	EntityKindConcept       EntityKind = "concept"
	EntityKindDocument      EntityKind = "document"
	EntityKindPattern       EntityKind = "pattern"
	EntityKindService       EntityKind = "service"
	EntityKindKeyword       EntityKind = "keyword"
	EntityKindCodeExample   EntityKind = "code_example"
	EntityKindStruct        EntityKind = "struct"
	EntityKindInterface     EntityKind = "interface"
	EntityKindTestCase      EntityKind = "test_case"
)

var entityKinds = map[EntityKind]struct{}{
	EntityKindFunction:      {},
	EntityKindMethod:        {},
	EntityKindClass:         {},
	EntityKindModule:        {},
	EntityKindVariable:      {},
	EntityKindConstant:      {},
	EntityKindAPIEndpoint:   {},
	EntityKindConfigSetting: {},
	EntityKindConcept:       {},
	EntityKindDocument:      {},
	EntityKindPattern:       {},
	EntityKindService:       {},
	EntityKindKeyword:       {},
	EntityKindCodeExample:   {},
	EntityKindStruct:        {},
	EntityKindInterface:     {},
	EntityKindTestCase:      {},
}

// NormalizeEntityKind matches a raw kind label against the closed set,
// case-insensitively. Unknown labels return (EntityKindConcept, false) so the
// caller can record a warning.
func NormalizeEntityKind(raw string) (EntityKind, bool) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := entityKinds[kind]; ok {
		return kind, true
	}
	return EntityKindConcept, false
}

// Entity is one extracted knowledge unit.
type Entity struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Kind        EntityKind     `json:"kind"`
	Description string         `json:"description,omitempty"`
	SourcePath  string         `json:"source_path"`
	ProjectName string         `json:"project_name"`
	Confidence  float64        `json:"confidence"`
	LineNumber  int            `json:"line_number,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
}

// NewEntityID derives the stable 64-bit identifier for an entity. Identical
// (project, source_path, name, kind) tuples map to the same id across
// re-ingestion runs.
func NewEntityID(projectName, sourcePath, name string, kind EntityKind) string {
	sum := xxhash.Sum64String(projectName + "\x00" + sourcePath + "\x00" + name + "\x00" + string(kind))
	return fmt.Sprintf("%016x", sum)
}

// RelationshipKind is the closed vocabulary for graph edges.
type RelationshipKind string

const (
	RelationshipCalls          RelationshipKind = "calls"
	RelationshipImports        RelationshipKind = "imports"
	RelationshipContains       RelationshipKind = "contains"
	RelationshipContainsEntity RelationshipKind = "contains_entity"
	RelationshipRelatesTo      RelationshipKind = "relates_to"
	RelationshipDependsOn      RelationshipKind = "depends_on"
	RelationshipReferences     RelationshipKind = "references"
	RelationshipExtends        RelationshipKind = "extends"
	RelationshipImplements     RelationshipKind = "implements"
)

var relationshipKinds = map[RelationshipKind]struct{}{
	RelationshipCalls:          {},
	RelationshipImports:        {},
	RelationshipContains:       {},
	RelationshipContainsEntity: {},
	RelationshipRelatesTo:      {},
	RelationshipDependsOn:      {},
	RelationshipReferences:     {},
	RelationshipExtends:        {},
	RelationshipImplements:     {},
}

// NormalizeRelationshipKind matches a raw edge label against the closed set.
// Unknown labels return (RelationshipRelatesTo, false).
func NormalizeRelationshipKind(raw string) (RelationshipKind, bool) {
	kind := RelationshipKind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := relationshipKinds[kind]; ok {
		return kind, true
	}
	return RelationshipRelatesTo, false
}

// Relationship is one directed edge between two entities.
type Relationship struct {
	ID         string           `json:"id"`
	SourceID   string           `json:"source_id"`
	TargetID   string           `json:"target_id"`
	Kind       RelationshipKind `json:"kind"`
	Confidence float64          `json:"confidence"`
	Properties map[string]any   `json:"properties,omitempty"`
}

// NewRelationshipID derives a stable identifier so edge upserts merge rather
// than duplicate.
func NewRelationshipID(sourceID, targetID string, kind RelationshipKind) string {
	sum := xxhash.Sum64String(sourceID + "\x00" + targetID + "\x00" + string(kind))
	return fmt.Sprintf("%016x", sum)
}

// ClampConfidence forces a confidence score into [0, 1].
func ClampConfidence(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
