// Package api exposes HTTP handlers for migration control and per-collection record access.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/batch"
	"example.com/fitsync/internal/cleaner"
	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/migration"
	"example.com/fitsync/internal/platform/logger"
	"example.com/fitsync/internal/repository"
)

// Handler coordinates HTTP requests with the repositories, the batch executor and the
// migration orchestrator.
type Handler struct {
	repos       *repository.Repositories
	collections map[string]collection
	migrator    *migration.Orchestrator
	executor    *batch.Executor
	logger      *logger.Logger
}

// NewHandler builds a Handler.
func NewHandler(repos *repository.Repositories, migrator *migration.Orchestrator, executor *batch.Executor, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		repos:       repos,
		collections: newCollections(repos),
		migrator:    migrator,
		executor:    executor,
		logger:      log.With("component", "api"),
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/migration", h.migrationRoot)
	mux.HandleFunc("/v1/migration/verify", h.verifyMigration)
	mux.HandleFunc("/v1/migration/rollback", h.rollbackMigration)
	mux.HandleFunc("/v1/profile", h.profile)
	mux.HandleFunc("/v1/batch", h.batchWrites)
	mux.HandleFunc("/v1/", h.records)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requireScope writes an error and returns false unless the caller holds one of scopes.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	_, err := auth.Authorize(r.Context(), scopes...)
	switch {
	case err == nil:
		return true
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	}
	return false
}

func decodeBody(r *http.Request) (any, error) {
	var raw any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// writeStoreError maps store and domain errors onto HTTP statuses.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "record not found")
	case errors.Is(err, domain.ErrOwnerMismatch):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, cleaner.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, docstore.ErrInvalidQuery),
		errors.Is(err, docstore.ErrInvalidWrite),
		errors.Is(err, batch.ErrUnsupportedOperation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func pathID(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}
