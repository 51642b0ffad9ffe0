package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/infrastructure/persistence/memory"
	"cortex-backend/pkg/errors"
)

func newProjectRouter(catalog *memory.MetadataStore, graphs *memory.GraphStore) http.Handler {
	router := chi.NewRouter()
	h := NewProjectHandler(catalog, graphs, zap.NewNop())
	router.Route("/api/v1/projects/{projectName}", func(r chi.Router) {
		r.Get("/documents", h.ListDocuments)
		r.Get("/documents/*", h.GetDocument)
		r.Delete("/", h.DropProject)
	})
	return router
}

func seedCatalog(t *testing.T, catalog *memory.MetadataStore) {
	t.Helper()

	ctx := context.Background()
	rows := []domain.DocumentRecord{
		{ProjectName: "cortex", SourcePath: "internal/auth/service.go", ContentHash: "blake3:aaa", Language: "go", EntityCount: 4, IndexedAt: time.Now().UTC()},
		{ProjectName: "cortex", SourcePath: "internal/auth/token.go", ContentHash: "blake3:bbb", Language: "go", EntityCount: 2, IndexedAt: time.Now().UTC()},
		{ProjectName: "other", SourcePath: "main.go", ContentHash: "blake3:ccc", Language: "go", IndexedAt: time.Now().UTC()},
	}
	for _, row := range rows {
		require.NoError(t, catalog.UpsertDocument(ctx, row))
	}
}

func TestListDocuments(t *testing.T) {
	catalog := memory.NewMetadataStore()
	graphs := memory.NewGraphStore()
	seedCatalog(t, catalog)
	router := newProjectRouter(catalog, graphs)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects/cortex/documents", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var response documentListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, "cortex", response.ProjectName)
	require.Equal(t, 2, response.Count)
	require.Equal(t, "internal/auth/service.go", response.Documents[0].SourcePath, "rows sort by source path")
	require.Equal(t, "internal/auth/token.go", response.Documents[1].SourcePath)
}

func TestListDocumentsPagination(t *testing.T) {
	catalog := memory.NewMetadataStore()
	graphs := memory.NewGraphStore()
	seedCatalog(t, catalog)
	router := newProjectRouter(catalog, graphs)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects/cortex/documents?limit=1&offset=1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var response documentListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, 1, response.Count)
	require.Equal(t, "internal/auth/token.go", response.Documents[0].SourcePath)
}

func TestListDocumentsEmptyProject(t *testing.T) {
	router := newProjectRouter(memory.NewMetadataStore(), memory.NewGraphStore())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects/ghost/documents", nil))

	require.Equal(t, http.StatusOK, w.Code, "an unknown project lists as empty, not as an error")
	var response documentListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, 0, response.Count)
	require.NotNil(t, response.Documents)
}

func TestListDocumentsRejectsBadPaging(t *testing.T) {
	router := newProjectRouter(memory.NewMetadataStore(), memory.NewGraphStore())

	for _, query := range []string{"?limit=zero", "?limit=0", "?offset=-3"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects/cortex/documents"+query, nil))
		require.Equal(t, http.StatusBadRequest, w.Code, "query %s", query)
	}
}

func TestGetDocumentByPath(t *testing.T) {
	catalog := memory.NewMetadataStore()
	graphs := memory.NewGraphStore()
	seedCatalog(t, catalog)
	router := newProjectRouter(catalog, graphs)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects/cortex/documents/internal/auth/service.go", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var record domain.DocumentRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&record))
	require.Equal(t, "blake3:aaa", record.ContentHash)
	require.Equal(t, 4, record.EntityCount)
}

func TestGetDocumentMissing(t *testing.T) {
	router := newProjectRouter(memory.NewMetadataStore(), memory.NewGraphStore())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/projects/cortex/documents/nope.go", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	envelope := decodeErrorEnvelope(t, w)
	require.Equal(t, string(errors.KindNotFound), envelope.ErrorKind)
}

func TestDropProjectClearsBothStores(t *testing.T) {
	catalog := memory.NewMetadataStore()
	graphs := memory.NewGraphStore()
	seedCatalog(t, catalog)

	ctx := context.Background()
	require.NoError(t, graphs.UpsertEntities(ctx, "cortex", []domain.Entity{
		{ID: "func:auth.Login", Name: "Login", Kind: "function"},
	}))
	router := newProjectRouter(catalog, graphs)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/projects/cortex", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, graphs.EntityCount("cortex"))

	remaining, err := catalog.ListDocuments(ctx, "cortex", 10, 0)
	require.NoError(t, err)
	require.Empty(t, remaining)

	// The other project is untouched.
	others, err := catalog.ListDocuments(ctx, "other", 10, 0)
	require.NoError(t, err)
	require.Len(t, others, 1)
}

func TestDropProjectStopsOnGraphFailure(t *testing.T) {
	catalog := memory.NewMetadataStore()
	graphs := memory.NewGraphStore()
	seedCatalog(t, catalog)
	graphs.SetError("DropProject", errors.NewGraphStoreUnavailable("table offline", nil))
	router := newProjectRouter(catalog, graphs)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/projects/cortex", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, 0, catalog.Calls("DeleteProject"), "catalog delete must not run when the graph drop fails")

	rows, err := catalog.ListDocuments(context.Background(), "cortex", 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2, "catalog rows survive for a retried drop")
}

func TestDropProjectReportsPartialFailure(t *testing.T) {
	catalog := memory.NewMetadataStore()
	graphs := memory.NewGraphStore()
	seedCatalog(t, catalog)
	catalog.SetError("DeleteProject", errors.NewInternal("catalog write failed", nil))
	router := newProjectRouter(catalog, graphs)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/projects/cortex", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	envelope := decodeErrorEnvelope(t, w)
	partial, ok := envelope.PartialResults.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, partial["graph_dropped"])
}
