// Package extraction calls the external entity extractor and normalizes its
// response into canonical entity and relationship records. The extractor's
// raw schema never leaves this package.
package extraction

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "entity_extraction"

// Extraction is the normalized outcome of one extractor call.
type Extraction struct {
	Entities      []domain.Entity
	Relationships []domain.Relationship
	Warnings      []string
}

// Client wraps the extractor backend with a per-call timeout and the
// normalization rules.
type Client struct {
	backend ports.ExtractorBackend
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewClient builds an extraction client. A zero timeout defaults to 10s.
func NewClient(backend ports.ExtractorBackend, timeout time.Duration, logger *zap.Logger, metrics *observability.Collector) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		backend: backend,
		timeout: timeout,
		logger:  logger.Named("extraction"),
		metrics: metrics,
	}
}

// Extract runs the extractor for one document and normalizes the response.
// Entity identifiers are stable across re-ingestion of the same
// (project, source_path, name, kind) tuple.
func (c *Client) Extract(ctx context.Context, projectName, sourcePath, content string, opts ports.ExtractionOptions) (*Extraction, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.backend.ExtractDocument(callCtx, sourcePath, content, opts)
	if err != nil {
		return nil, c.classify(err)
	}

	result := &Extraction{}

	// Name -> id mapping for relationships that reference entities by name.
	idsByName := make(map[string]string, len(raw.Entities))

	for _, rawEntity := range raw.Entities {
		entity, warning := c.normalizeEntity(projectName, sourcePath, rawEntity)
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		result.Entities = append(result.Entities, entity)
		idsByName[entity.Name] = entity.ID
	}

	for _, rawRel := range raw.Relationships {
		rel, warning, ok := c.normalizeRelationship(rawRel, idsByName)
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		if !ok {
			continue
		}
		result.Relationships = append(result.Relationships, rel)
	}

	for _, warning := range result.Warnings {
		c.logger.Warn("extraction normalization", zap.String("source_path", sourcePath), zap.String("warning", warning))
	}

	return result, nil
}

func (c *Client) normalizeEntity(projectName, sourcePath string, raw ports.RawEntity) (domain.Entity, string) {
	var warning string

	kind, known := domain.NormalizeEntityKind(raw.Kind)
	if !known {
		warning = fmt.Sprintf("unknown entity kind %q for %q, defaulted to concept", raw.Kind, raw.Name)
	}

	id := raw.ID
	if id == "" {
		id = domain.NewEntityID(projectName, sourcePath, raw.Name, kind)
	}

	return domain.Entity{
		ID:          id,
		Name:        raw.Name,
		Kind:        kind,
		Description: raw.Description,
		SourcePath:  sourcePath,
		ProjectName: projectName,
		Confidence:  domain.ClampConfidence(raw.Confidence),
		LineNumber:  raw.LineNumber,
		Properties:  raw.Properties,
	}, warning
}

// normalizeRelationship resolves endpoints and drops edges whose endpoints
// the extractor neither returned nor named by identifier. Explicit ids pass
// through: the graph writer creates project-scoped placeholders for them.
func (c *Client) normalizeRelationship(raw ports.RawRelationship, idsByName map[string]string) (domain.Relationship, string, bool) {
	sourceID, srcOK := resolveEndpoint(raw.SourceID, raw.SourceName, idsByName)
	targetID, tgtOK := resolveEndpoint(raw.TargetID, raw.TargetName, idsByName)
	if !srcOK || !tgtOK {
		return domain.Relationship{}, fmt.Sprintf(
			"dropped %s relationship with unresolved endpoint (source=%q target=%q)",
			raw.Kind, raw.SourceName+raw.SourceID, raw.TargetName+raw.TargetID), false
	}

	kind, knownKind := domain.NormalizeRelationshipKind(raw.Kind)
	var warning string
	if !knownKind {
		warning = fmt.Sprintf("unknown relationship kind %q, defaulted to relates_to", raw.Kind)
	}

	id := raw.ID
	if id == "" {
		id = domain.NewRelationshipID(sourceID, targetID, kind)
	}

	return domain.Relationship{
		ID:         id,
		SourceID:   sourceID,
		TargetID:   targetID,
		Kind:       kind,
		Confidence: domain.ClampConfidence(raw.Confidence),
		Properties: raw.Properties,
	}, warning, true
}

// resolveEndpoint prefers an explicit id; otherwise looks the name up among
// the entities returned in the same response.
func resolveEndpoint(id, name string, idsByName map[string]string) (string, bool) {
	if id != "" {
		return id, true
	}
	if name == "" {
		return "", false
	}
	resolved, ok := idsByName[name]
	return resolved, ok
}

func (c *Client) classify(err error) error {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.WithComponent(component)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewExtractionTimeout("extractor call exceeded its budget", err).WithComponent(component)
	}
	return errors.NewExtractionUnavailable("extractor call failed", err).WithComponent(component)
}
