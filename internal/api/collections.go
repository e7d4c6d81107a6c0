package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/cleaner"
	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// collection is the untyped view of one repository used by the generic handlers. Every write
// goes through the cleaner so stored records keep their range guarantees.
type collection interface {
	create(ctx context.Context, raw any) (string, error)
	get(ctx context.Context, id string) (any, error)
	replace(ctx context.Context, id string, raw any) error
	patch(ctx context.Context, id string, raw any) error
	remove(ctx context.Context, id string) error
	list(ctx context.Context, q docstore.Query) (any, error)
	cleanData(raw any) (map[string]any, error)
	mergeAndClean(current map[string]any, raw any) (map[string]any, error)
}

type typedCollection[T any] struct {
	repo  *repository.Repository[T]
	clean func(raw any) (T, error)
}

func newCollections(repos *repository.Repositories) map[string]collection {
	return map[string]collection{
		domain.CollectionProgress:  typedCollection[domain.ProgressRecord]{repos.Progress, cleaner.Progress},
		domain.CollectionWorkouts:  typedCollection[domain.WorkoutSession]{repos.Workouts, cleaner.Workout},
		domain.CollectionExercises: typedCollection[domain.ExerciseLogEntry]{repos.Exercises, func(raw any) (domain.ExerciseLogEntry, error) { return cleaner.Exercise(raw, "") }},
		domain.CollectionNutrition: typedCollection[domain.NutritionMealLog]{repos.Nutrition, cleaner.Nutrition},
		domain.CollectionRecovery:  typedCollection[domain.RecoverySessionLog]{repos.Recovery, cleaner.Recovery},
	}
}

func (c typedCollection[T]) create(ctx context.Context, raw any) (string, error) {
	rec, err := c.clean(raw)
	if err != nil {
		return "", err
	}
	return c.repo.Create(ctx, rec, "")
}

func (c typedCollection[T]) get(ctx context.Context, id string) (any, error) {
	return c.repo.GetByID(ctx, id, true)
}

func (c typedCollection[T]) replace(ctx context.Context, id string, raw any) error {
	rec, err := c.clean(raw)
	if err != nil {
		return err
	}
	return c.repo.Update(ctx, id, rec, false)
}

// patch merges raw onto the stored record and writes back the cleaned result.
func (c typedCollection[T]) patch(ctx context.Context, id string, raw any) error {
	patch, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: patch must be an object", cleaner.ErrRejected)
	}
	current, err := c.repo.GetByID(ctx, id, false)
	if err != nil {
		return err
	}
	base, err := toMap(current.Data)
	if err != nil {
		return err
	}
	rec, err := c.clean(docstore.MergeData(base, patch))
	if err != nil {
		return err
	}
	return c.repo.Update(ctx, id, rec, false)
}

func (c typedCollection[T]) remove(ctx context.Context, id string) error {
	return c.repo.Delete(ctx, id)
}

func (c typedCollection[T]) list(ctx context.Context, q docstore.Query) (any, error) {
	return c.repo.QueryWithConstraints(ctx, q)
}

func (c typedCollection[T]) cleanData(raw any) (map[string]any, error) {
	rec, err := c.clean(raw)
	if err != nil {
		return nil, err
	}
	return toMap(rec)
}

func (c typedCollection[T]) mergeAndClean(current map[string]any, raw any) (map[string]any, error) {
	patch, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: patch must be an object", cleaner.ErrRejected)
	}
	return c.cleanData(docstore.MergeData(current, patch))
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// records serves /v1/{collection} and /v1/{collection}/{id}.
func (h *Handler) records(w http.ResponseWriter, r *http.Request) {
	name, id, _ := strings.Cut(pathID(r.URL.Path, "/v1/"), "/")
	coll, ok := h.collections[name]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown collection")
		return
	}

	if id == "" {
		switch r.Method {
		case http.MethodPost:
			h.createRecord(w, r, coll)
		case http.MethodGet:
			h.listRecords(w, r, coll)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, auth.ScopeDataRead, auth.ScopeDataWrite) {
			return
		}
		rec, err := coll.get(r.Context(), id)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut, http.MethodPatch:
		if !requireScope(w, r, auth.ScopeDataWrite) {
			return
		}
		raw, err := decodeBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		if r.Method == http.MethodPut {
			err = coll.replace(r.Context(), id, raw)
		} else {
			err = coll.patch(r.Context(), id, raw)
		}
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if !requireScope(w, r, auth.ScopeDataWrite) {
			return
		}
		if err := coll.remove(r.Context(), id); err != nil {
			h.writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request, coll collection) {
	if !requireScope(w, r, auth.ScopeDataWrite) {
		return
	}
	raw, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	id, err := coll.create(r.Context(), raw)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// ListRecordsResponse packages list results.
type ListRecordsResponse struct {
	Items any `json:"items"`
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request, coll collection) {
	if !requireScope(w, r, auth.ScopeDataRead, auth.ScopeDataWrite) {
		return
	}

	q := docstore.Query{Limit: defaultListLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > maxListLimit {
				parsed = maxListLimit
			}
			q.Limit = parsed
		}
	}
	if field := strings.TrimSpace(r.URL.Query().Get("order_by")); field != "" {
		desc, _ := strconv.ParseBool(r.URL.Query().Get("desc"))
		q.OrderBy = []docstore.Order{{Field: field, Desc: desc}}
	}
	if date := strings.TrimSpace(r.URL.Query().Get("date")); date != "" {
		q = q.Where("date", docstore.OpEqual, date)
	}

	items, err := coll.list(r.Context(), q)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRecordsResponse{Items: items})
}
