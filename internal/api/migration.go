package api

import (
	"errors"
	"net/http"

	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/migration"
)

func (h *Handler) migrationRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, auth.ScopeMigrate, auth.ScopeDataRead) {
			return
		}
		status, err := h.migrator.GetMigrationStatus(r.Context())
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodPost:
		if !requireScope(w, r, auth.ScopeMigrate) {
			return
		}
		report, err := h.migrator.MigrateAllData(r.Context())
		if err != nil {
			writeJSON(w, migrationStatusCode(err), report)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) verifyMigration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeMigrate) {
		return
	}
	result, err := h.migrator.VerifyMigration(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) rollbackMigration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeMigrate) {
		return
	}
	if err := h.migrator.RollbackMigration(r.Context()); err != nil {
		writeError(w, migrationStatusCode(err), "rollback_failed", err.Error())
		return
	}
	status, err := h.migrator.GetMigrationStatus(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func migrationStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, migration.ErrInProgress), errors.Is(err, migration.ErrNoBackup):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
