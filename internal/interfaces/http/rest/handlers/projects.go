package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ProjectHandler serves the per-project catalog and the project drop.
type ProjectHandler struct {
	catalog ports.MetadataStore
	graphs  ports.GraphStore
	logger  *zap.Logger
}

// NewProjectHandler creates the handler.
func NewProjectHandler(catalog ports.MetadataStore, graphs ports.GraphStore, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{catalog: catalog, graphs: graphs, logger: logger}
}

type documentListResponse struct {
	ProjectName string                  `json:"project_name"`
	Documents   []domain.DocumentRecord `json:"documents"`
	Count       int                     `json:"count"`
}

// ListDocuments handles GET /api/v1/projects/{projectName}/documents.
func (h *ProjectHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "projectName")

	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		respondError(h.logger, w, errors.NewInvalidInput("limit must be a positive integer"), nil)
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		respondError(h.logger, w, errors.NewInvalidInput("offset must be a non-negative integer"), nil)
		return
	}

	documents, err := h.catalog.ListDocuments(r.Context(), projectName, limit, offset)
	if err != nil {
		respondError(h.logger, w, err, nil)
		return
	}
	if documents == nil {
		documents = []domain.DocumentRecord{}
	}
	respondJSON(h.logger, w, http.StatusOK, documentListResponse{
		ProjectName: projectName,
		Documents:   documents,
		Count:       len(documents),
	})
}

// GetDocument handles GET /api/v1/projects/{projectName}/documents/*, where
// the wildcard is the source path.
func (h *ProjectHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "projectName")
	sourcePath := chi.URLParam(r, "*")
	if sourcePath == "" {
		respondError(h.logger, w, errors.NewInvalidInput("source path is required"), nil)
		return
	}

	document, err := h.catalog.GetDocument(r.Context(), projectName, sourcePath)
	if err != nil {
		respondError(h.logger, w, err, nil)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, document)
}

// DropProject handles DELETE /api/v1/projects/{projectName}. Graph rows go
// first, then the catalog; there is no cross-store transaction, so a failure
// in between leaves catalog rows behind for a retried drop to clear.
func (h *ProjectHandler) DropProject(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "projectName")

	if err := h.graphs.DropProject(r.Context(), projectName); err != nil {
		respondError(h.logger, w, err, nil)
		return
	}
	if err := h.catalog.DeleteProject(r.Context(), projectName); err != nil {
		h.logger.Error("graph dropped but catalog delete failed",
			zap.String("project_name", projectName),
			zap.Error(err))
		respondError(h.logger, w, err, map[string]bool{"graph_dropped": true})
		return
	}

	h.logger.Info("project dropped", zap.String("project_name", projectName))
	respondJSON(h.logger, w, http.StatusOK, map[string]string{
		"project_name": projectName,
		"status":       "dropped",
	})
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
