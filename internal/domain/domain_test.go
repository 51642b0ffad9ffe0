package domain

import (
	"testing"

	"cortex-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexRequest_Validate(t *testing.T) {
	valid := IndexRequest{
		SourcePath:    "services/cache/eviction.go",
		Content:       "package cache",
		ProjectName:   "svc",
		CorrelationID: "corr-1",
	}

	t.Run("Valid", func(t *testing.T) {
		req := valid
		assert.NoError(t, req.Validate())
	})

	t.Run("MissingSourcePath", func(t *testing.T) {
		req := valid
		req.SourcePath = "   "
		err := req.Validate()
		require.Error(t, err)
		assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
	})

	t.Run("MissingContent", func(t *testing.T) {
		req := valid
		req.Content = ""
		err := req.Validate()
		require.Error(t, err)
		assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
	})

	t.Run("InvalidUTF8", func(t *testing.T) {
		req := valid
		req.Content = string([]byte{0xff, 0xfe})
		err := req.Validate()
		require.Error(t, err)
		assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
	})

	t.Run("EmptyProjectAfterTrim", func(t *testing.T) {
		req := valid
		req.ProjectName = "  \t "
		err := req.Validate()
		require.Error(t, err)
		assert.Equal(t, errors.KindInvalidProject, errors.KindOf(err))
	})
}

func TestNormalizeEntityKind(t *testing.T) {
	tests := []struct {
		raw   string
		want  EntityKind
		known bool
	}{
		{"function", EntityKindFunction, true},
		{"FUNCTION", EntityKindFunction, true},
		{"  Method ", EntityKindMethod, true},
		{"api_endpoint", EntityKindAPIEndpoint, true},
		{"code_example", EntityKindCodeExample, true},
		{"galaxy", EntityKindConcept, false},
		{"", EntityKindConcept, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			kind, known := NormalizeEntityKind(tt.raw)
			assert.Equal(t, tt.want, kind)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestNewEntityID_Deterministic(t *testing.T) {
	a := NewEntityID("svc", "pkg/cache.go", "Evict", EntityKindFunction)
	b := NewEntityID("svc", "pkg/cache.go", "Evict", EntityKindFunction)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	// Any component changing must change the id.
	assert.NotEqual(t, a, NewEntityID("other", "pkg/cache.go", "Evict", EntityKindFunction))
	assert.NotEqual(t, a, NewEntityID("svc", "pkg/other.go", "Evict", EntityKindFunction))
	assert.NotEqual(t, a, NewEntityID("svc", "pkg/cache.go", "Insert", EntityKindFunction))
	assert.NotEqual(t, a, NewEntityID("svc", "pkg/cache.go", "Evict", EntityKindMethod))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.5))
	assert.Equal(t, 1.0, ClampConfidence(1.5))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
}

func TestNewChunkPointID_Deterministic(t *testing.T) {
	a := NewChunkPointID("blake3:abcd", 0)
	b := NewChunkPointID("blake3:abcd", 0)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, NewChunkPointID("blake3:abcd", 1))
	assert.NotEqual(t, a, NewChunkPointID("blake3:ef01", 0))
}

func TestSearchRequest_Validate(t *testing.T) {
	t.Run("EmptyQuery", func(t *testing.T) {
		req := SearchRequest{Query: " ", Kind: SearchHybrid}
		err := req.Validate()
		require.Error(t, err)
		assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
	})

	t.Run("UnknownKind", func(t *testing.T) {
		req := SearchRequest{Query: "cache", Kind: "psychic"}
		require.Error(t, req.Validate())
	})

	t.Run("QualityWeightOutOfRange", func(t *testing.T) {
		w := 1.2
		req := SearchRequest{Query: "cache", Kind: SearchHybrid, QualityWeight: &w}
		require.Error(t, req.Validate())
	})

	t.Run("Valid", func(t *testing.T) {
		w := 0.3
		req := SearchRequest{Query: "cache eviction", Kind: SearchHybrid, QualityWeight: &w}
		assert.NoError(t, req.Validate())
	})
}

func TestSearchKind_Sources(t *testing.T) {
	assert.Equal(t, []string{SourceRAG}, SearchSemantic.Sources())
	assert.Equal(t, []string{SourceVector}, SearchVector.Sources())
	assert.Equal(t, []string{SourceKnowledgeGraph}, SearchKnowledgeGraph.Sources())
	assert.ElementsMatch(t,
		[]string{SourceRAG, SourceVector, SourceKnowledgeGraph},
		SearchHybrid.Sources())
}

func TestGraphNode_Key(t *testing.T) {
	project := GraphNode{Kind: GraphNodeProject, ProjectName: "svc", Name: "svc"}
	dir := GraphNode{Kind: GraphNodeDirectory, ProjectName: "svc", Path: "services/cache", Name: "cache"}
	file := GraphNode{Kind: GraphNodeFile, ProjectName: "svc", Path: "services/cache/lru.go", Name: "lru.go"}

	assert.Equal(t, "project#svc", project.Key())
	assert.Equal(t, "directory#svc#services/cache", dir.Key())
	assert.Equal(t, "file#svc#services/cache/lru.go", file.Key())

	// Same key for same identity, regardless of extra properties.
	again := GraphNode{Kind: GraphNodeFile, ProjectName: "svc", Path: "services/cache/lru.go", Name: "lru.go",
		Properties: map[string]any{"language": "go"}}
	assert.Equal(t, file.Key(), again.Key())
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(TopicDocumentIndexCompleted, "corr-9", "cortex-backend",
		IndexReceipt{ContentHash: "blake3:aa", CacheHit: true})
	require.NoError(t, err)

	assert.Equal(t, TopicDocumentIndexCompleted, env.EventType)
	assert.Equal(t, "corr-9", env.CorrelationID)
	assert.Equal(t, "cortex-backend", env.SourceComponent)
	assert.False(t, env.EmittedAt.IsZero())
	assert.Contains(t, string(env.Payload), "blake3:aa")
}

func TestNewErrorEnvelope(t *testing.T) {
	t.Run("RetryableDependencyFailure", func(t *testing.T) {
		err := errors.NewGraphStoreUnavailable("merge entities", nil).WithComponent("graph_indexer")
		env := NewErrorEnvelope(err, 1, nil)

		assert.Equal(t, "GraphStoreUnavailable", env.ErrorKind)
		assert.Equal(t, "graph_indexer", env.FailedComponent)
		assert.True(t, env.RetryAllowed)
		assert.Equal(t, 1, env.RetryCount)
		assert.Equal(t, "retry with backoff", env.SuggestedAction)
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		env := NewErrorEnvelope(errors.NewInvalidInput("content is required"), 0, nil)

		assert.Equal(t, "InvalidInput", env.ErrorKind)
		assert.False(t, env.RetryAllowed)
		assert.Equal(t, "fix the request payload and resubmit", env.SuggestedAction)
	})
}
