package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/infrastructure/persistence/memory"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

func newTestClient(backend *memory.Extractor) *Client {
	return NewClient(backend, time.Second, zap.NewNop(), observability.NewCollector("test"))
}

func TestExtract_NormalizesKindsAndAssignsIDs(t *testing.T) {
	backend := memory.NewExtractor()
	backend.SetResult("svc/auth.py", &ports.RawExtraction{
		Entities: []ports.RawEntity{
			{Name: "login", Kind: "Function", Confidence: 0.9},
			{Name: "AuthFlow", Kind: "business-rule", Confidence: 1.7},
		},
	})
	client := newTestClient(backend)

	result, err := client.Extract(context.Background(), "acme", "svc/auth.py", "def login(): ...", ports.ExtractionOptions{})
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)

	login := result.Entities[0]
	assert.Equal(t, domain.EntityKindFunction, login.Kind, "kind labels match case-insensitively")
	assert.Equal(t, domain.NewEntityID("acme", "svc/auth.py", "login", domain.EntityKindFunction), login.ID)
	assert.Equal(t, "acme", login.ProjectName)
	assert.Equal(t, "svc/auth.py", login.SourcePath)

	flow := result.Entities[1]
	assert.Equal(t, domain.EntityKindConcept, flow.Kind, "unknown kinds collapse to concept")
	assert.Equal(t, 1.0, flow.Confidence, "confidence is clamped to [0,1]")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "business-rule")
}

func TestExtract_StableIDsAcrossRuns(t *testing.T) {
	backend := memory.NewExtractor()
	backend.SetFallback(&ports.RawExtraction{
		Entities: []ports.RawEntity{{Name: "login", Kind: "function", Confidence: 0.8}},
	})
	client := newTestClient(backend)

	first, err := client.Extract(context.Background(), "acme", "svc/auth.py", "v1", ports.ExtractionOptions{})
	require.NoError(t, err)
	second, err := client.Extract(context.Background(), "acme", "svc/auth.py", "v2 changed content", ports.ExtractionOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Entities[0].ID, second.Entities[0].ID,
		"same (project, path, name, kind) maps to the same id on re-ingestion")

	other, err := client.Extract(context.Background(), "other-project", "svc/auth.py", "v1", ports.ExtractionOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Entities[0].ID, other.Entities[0].ID)
}

func TestExtract_KeepsExtractorSuppliedIDs(t *testing.T) {
	backend := memory.NewExtractor()
	backend.SetFallback(&ports.RawExtraction{
		Entities: []ports.RawEntity{{ID: "ent-42", Name: "login", Kind: "function", Confidence: 0.8}},
	})
	client := newTestClient(backend)

	result, err := client.Extract(context.Background(), "acme", "a.py", "x", ports.ExtractionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ent-42", result.Entities[0].ID)
}

func TestExtract_ResolvesRelationshipEndpointsByName(t *testing.T) {
	backend := memory.NewExtractor()
	backend.SetFallback(&ports.RawExtraction{
		Entities: []ports.RawEntity{
			{Name: "login", Kind: "function", Confidence: 0.9},
			{Name: "check_token", Kind: "function", Confidence: 0.9},
		},
		Relationships: []ports.RawRelationship{
			{SourceName: "login", TargetName: "check_token", Kind: "calls", Confidence: 0.8},
		},
	})
	client := newTestClient(backend)

	result, err := client.Extract(context.Background(), "acme", "a.py", "x", ports.ExtractionOptions{})
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1)

	rel := result.Relationships[0]
	assert.Equal(t, result.Entities[0].ID, rel.SourceID)
	assert.Equal(t, result.Entities[1].ID, rel.TargetID)
	assert.Equal(t, domain.RelationshipCalls, rel.Kind)
	assert.NotEmpty(t, rel.ID)
}

func TestExtract_DropsRelationshipsWithUnknownEndpoints(t *testing.T) {
	backend := memory.NewExtractor()
	backend.SetFallback(&ports.RawExtraction{
		Entities: []ports.RawEntity{{Name: "login", Kind: "function", Confidence: 0.9}},
		Relationships: []ports.RawRelationship{
			{SourceName: "login", TargetName: "ghost_helper", Kind: "calls", Confidence: 0.8},
		},
	})
	client := newTestClient(backend)

	result, err := client.Extract(context.Background(), "acme", "a.py", "x", ports.ExtractionOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Relationships, "edges with unresolved endpoints are dropped, not invented")
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[len(result.Warnings)-1], "ghost_helper")
}

func TestExtract_KeepsExplicitEndpointIDs(t *testing.T) {
	// Endpoints named by id may point at entities from earlier ingestions;
	// the graph writer creates placeholders for them.
	backend := memory.NewExtractor()
	backend.SetFallback(&ports.RawExtraction{
		Entities: []ports.RawEntity{{Name: "login", Kind: "function", Confidence: 0.9}},
		Relationships: []ports.RawRelationship{
			{SourceName: "login", TargetID: "pre-existing-id", Kind: "invokes", Confidence: 0.8},
		},
	})
	client := newTestClient(backend)

	result, err := client.Extract(context.Background(), "acme", "a.py", "x", ports.ExtractionOptions{})
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "pre-existing-id", result.Relationships[0].TargetID)
	assert.Equal(t, domain.RelationshipRelatesTo, result.Relationships[0].Kind,
		"unknown edge kinds collapse to relates_to")
}

func TestExtract_BackendFailureIsTyped(t *testing.T) {
	backend := memory.NewExtractor()
	backend.SetError("ExtractDocument", assert.AnError)
	client := newTestClient(backend)

	_, err := client.Extract(context.Background(), "acme", "a.py", "x", ports.ExtractionOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindExtractionUnavailable, errors.KindOf(err))
}

func TestExtract_TimeoutIsTyped(t *testing.T) {
	backend := memory.NewExtractor()
	backend.SetError("ExtractDocument", context.DeadlineExceeded)
	client := newTestClient(backend)

	_, err := client.Extract(context.Background(), "acme", "a.py", "x", ports.ExtractionOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindExtractionTimeout, errors.KindOf(err))
}

func TestExtract_RejectionPassesThrough(t *testing.T) {
	backend := memory.NewExtractor()
	backend.SetError("ExtractDocument", errors.NewExtractionRejected("binary payload"))
	client := newTestClient(backend)

	_, err := client.Extract(context.Background(), "acme", "a.py", string([]byte{0x00, 0x01}), ports.ExtractionOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindExtractionRejected, errors.KindOf(err))
}
