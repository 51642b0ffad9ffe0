// Package handlers implements the REST endpoints. Each handler owns its
// request shape; responses reuse the domain wire types so the HTTP surface
// and the event transport speak the same dialect.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"cortex-backend/internal/domain"
	"cortex-backend/pkg/errors"
)

// respondJSON writes payload with the given status. An encoding failure can
// only be logged; the header is already on the wire.
func respondJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// respondError maps the error kind onto a status code and writes the same
// error envelope a failed event would carry. partial may hold whatever
// results accumulated before the failure.
func respondError(logger *zap.Logger, w http.ResponseWriter, err error, partial any) {
	status := http.StatusInternalServerError
	if appErr, ok := errors.AsAppError(err); ok {
		status = appErr.HTTPStatus()
	}
	respondJSON(logger, w, status, domain.NewErrorEnvelope(err, 0, partial))
}
