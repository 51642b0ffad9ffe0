package external

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cortex-backend/internal/config"
	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
)

func TestEmbeddingProvider_Embed(t *testing.T) {
	var gotBody embedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	provider := NewEmbeddingProvider(config.Embedding{
		ProviderURL:    server.URL,
		Model:          "text-embedding-3-small",
		RequestTimeout: time.Second,
	}, zap.NewNop())

	vector, err := provider.Embed(context.Background(), "def login(): pass")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
	assert.Equal(t, "def login(): pass", gotBody.Text)
	assert.Equal(t, "text-embedding-3-small", gotBody.Model)
}

func TestExtractorClient_ExtractDocument(t *testing.T) {
	t.Run("ParsesEntitiesAndRelationships", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/extract", r.URL.Path)
			var req extractRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "svc/auth.py", req.SourcePath)
			assert.True(t, req.Options.IncludeRelationshipExtraction)

			json.NewEncoder(w).Encode(ports.RawExtraction{
				Entities: []ports.RawEntity{
					{Name: "AuthService", Kind: "class", Confidence: 0.9},
				},
				Relationships: []ports.RawRelationship{
					{SourceName: "AuthService", TargetName: "Session", Kind: "depends_on", Confidence: 0.7},
				},
			})
		}))
		defer server.Close()

		client := NewExtractorClient(config.Extraction{ServiceURL: server.URL, RequestTimeout: time.Second}, zap.NewNop())
		raw, err := client.ExtractDocument(context.Background(), "svc/auth.py", "class AuthService: ...",
			ports.ExtractionOptions{IncludeRelationshipExtraction: true})
		require.NoError(t, err)
		require.Len(t, raw.Entities, 1)
		assert.Equal(t, "AuthService", raw.Entities[0].Name)
		require.Len(t, raw.Relationships, 1)
	})

	t.Run("ClientErrorBecomesRejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "binary content not supported", http.StatusUnprocessableEntity)
		}))
		defer server.Close()

		client := NewExtractorClient(config.Extraction{ServiceURL: server.URL, RequestTimeout: time.Second}, zap.NewNop())
		_, err := client.ExtractDocument(context.Background(), "logo.bin", "\x00\x01", ports.ExtractionOptions{})
		require.Error(t, err)
		assert.Equal(t, errors.KindExtractionRejected, errors.KindOf(err))
		assert.False(t, errors.IsRetryable(err))
	})

	t.Run("ServerErrorStaysUntyped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model crashed", http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewExtractorClient(config.Extraction{ServiceURL: server.URL, RequestTimeout: time.Second}, zap.NewNop())
		_, err := client.ExtractDocument(context.Background(), "svc/auth.py", "x", ports.ExtractionOptions{})
		require.Error(t, err)

		var status *statusError
		require.True(t, stderrors.As(err, &status))
		assert.Equal(t, http.StatusInternalServerError, status.Code)
	})
}

func TestScorerClient_AssessCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assess", r.URL.Path)
		json.NewEncoder(w).Encode(ports.QualityAssessment{
			QualityScore: 0.82,
			Compliance:   map[string]bool{"has_docstrings": true},
		})
	}))
	defer server.Close()

	client := NewScorerClient(config.Quality{ServiceURL: server.URL, RequestTimeout: time.Second}, zap.NewNop())
	assessment, err := client.AssessCode(context.Background(), "def f(): pass", "svc/auth.py", "python")
	require.NoError(t, err)
	assert.InDelta(t, 0.82, assessment.QualityScore, 1e-9)
	assert.True(t, assessment.Compliance["has_docstrings"])
}

func TestRAGClient_Query(t *testing.T) {
	minQuality := 0.5
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		var req ragQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "session handling", req.Query)
		assert.Equal(t, "acme", req.Filters.ProjectName)
		assert.Equal(t, 20, req.Limit)

		json.NewEncoder(w).Encode(ragQueryResponse{
			Results: []ports.RAGHit{
				{SourcePath: "svc/auth.py", Score: 0.9, Excerpt: "def login"},
			},
		})
	}))
	defer server.Close()

	client := NewRAGClient(config.Search{RAGServiceURL: server.URL, PerSourceTimeout: time.Second}, zap.NewNop())
	hits, err := client.Query(context.Background(), "session handling",
		domain.SearchFilters{ProjectName: "acme", MinQuality: &minQuality}, 20)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "svc/auth.py", hits[0].SourcePath)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newServiceClient("test", server.URL, time.Second, zap.NewNop())
	for i := 0; i < 5; i++ {
		err := client.postJSON(context.Background(), "/x", map[string]string{}, nil)
		var status *statusError
		require.True(t, stderrors.As(err, &status), "call %d should reach the server", i+1)
	}

	err := client.postJSON(context.Background(), "/x", map[string]string{}, nil)
	assert.True(t, stderrors.Is(err, gobreaker.ErrOpenState))
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newServiceClient("test", server.URL, time.Second, zap.NewNop())
	for i := 0; i < 10; i++ {
		err := client.postJSON(context.Background(), "/x", map[string]string{}, nil)
		var status *statusError
		require.True(t, stderrors.As(err, &status))
		assert.Equal(t, http.StatusBadRequest, status.Code)
	}
}
