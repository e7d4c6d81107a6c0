package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/batch"
	"example.com/fitsync/internal/docstore"
)

// BatchRequest is the payload for POST /v1/batch. Mode is "transaction" or "batch".
type BatchRequest struct {
	Mode       string           `json:"mode"`
	Operations []BatchOperation `json:"operations"`
}

// BatchOperation is one write in a BatchRequest.
type BatchOperation struct {
	Kind       string         `json:"kind"`
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data,omitempty"`
	Merge      bool           `json:"merge,omitempty"`
}

// BatchResponse reports what was applied.
type BatchResponse struct {
	Applied int            `json:"applied"`
	Results []batch.Result `json:"results,omitempty"`
}

// batchWrites applies a group of writes. Set data is cleaned before it is queued. In transaction
// mode an update is merged with the stored record and the merged record is cleaned; in batch
// mode no reads are possible, so update data must clean on its own.
func (h *Handler) batchWrites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !requireScope(w, r, auth.ScopeDataWrite) {
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	transactional := req.Mode == "" || req.Mode == "transaction"
	if !transactional && req.Mode != "batch" {
		writeError(w, http.StatusBadRequest, "validation_failed", "mode must be transaction or batch")
		return
	}

	ops := make([]batch.Operation, 0, len(req.Operations))
	for i, in := range req.Operations {
		op, err := h.toOperation(in, transactional)
		if err != nil {
			h.writeStoreError(w, fmt.Errorf("operation %d: %w", i, err))
			return
		}
		ops = append(ops, op)
	}

	if transactional {
		results, err := h.executor.ExecuteTransaction(r.Context(), ops)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, BatchResponse{Applied: len(results), Results: results})
		return
	}
	n, err := h.executor.ExecuteBatch(r.Context(), ops)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{Applied: n})
}

func (h *Handler) toOperation(in BatchOperation, transactional bool) (batch.Operation, error) {
	op := batch.Operation{Kind: in.Kind, Collection: in.Collection, ID: in.ID, Merge: in.Merge}
	coll, ok := h.collections[in.Collection]
	if !ok {
		return op, fmt.Errorf("%w: unknown collection %q", docstore.ErrInvalidWrite, in.Collection)
	}

	switch docstore.WriteKind(in.Kind) {
	case docstore.WriteSet:
		data, err := coll.cleanData(in.Data)
		if err != nil {
			return op, err
		}
		op.Data = data
	case docstore.WriteUpdate:
		if transactional {
			patch := in.Data
			op.Merge = false
			op.Transform = func(current *docstore.Document) (map[string]any, error) {
				base := map[string]any{}
				if current != nil && in.Merge {
					base = current.Data
				}
				return coll.mergeAndClean(base, patch)
			}
			return op, nil
		}
		data, err := coll.cleanData(in.Data)
		if err != nil {
			return op, err
		}
		op.Data = data
	case docstore.WriteDelete:
	default:
		return op, fmt.Errorf("%w: %q", batch.ErrUnsupportedOperation, in.Kind)
	}
	return op, nil
}
