package api

import (
	"net/http"

	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/batch"
	"example.com/fitsync/internal/cleaner"
	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
)

// profile serves the caller's singleton profile document.
func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	owner, err := auth.OwnerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, auth.ScopeDataRead, auth.ScopeDataWrite) {
			return
		}
		rec, err := h.repos.Profiles.GetByID(r.Context(), owner, true)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPatch:
		if !requireScope(w, r, auth.ScopeDataWrite) {
			return
		}
		raw, err := decodeBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		patch, ok := raw.(map[string]any)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", "body must be an object")
			return
		}

		// The merge runs inside the transaction so concurrent patches apply in turn.
		_, err = h.executor.ExecuteTransaction(r.Context(), []batch.Operation{{
			Kind:       string(docstore.WriteSet),
			Collection: domain.CollectionProfiles,
			ID:         owner,
			Transform: func(current *docstore.Document) (map[string]any, error) {
				base := map[string]any{}
				if current != nil {
					base = current.Data
				}
				return mergeProfile(base, patch)
			},
		}})
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// mergeProfile applies patch section by section onto base and cleans the result.
func mergeProfile(base, patch map[string]any) (map[string]any, error) {
	settings := mergeSection(base, patch, "settings")
	attrs := mergeSection(base, patch, "profile")
	scalars, _ := mergeSection(base, patch, "migratedData").(map[string]any)
	profile, err := cleaner.Profile(settings, attrs, scalars)
	if err != nil {
		return nil, err
	}
	return toMap(profile)
}

// mergeSection merges the object under key in patch onto the same object in base.
func mergeSection(base, patch map[string]any, key string) any {
	current, _ := base[key].(map[string]any)
	update, ok := patch[key].(map[string]any)
	if !ok {
		if v, present := patch[key]; present {
			return v
		}
		return current
	}
	if current == nil {
		return update
	}
	return docstore.MergeData(current, update)
}
