package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/batch-mailer/internal/pkg/httputil"
	"github.com/ignite/batch-mailer/internal/service/batch"
)

// CreateBatch ingests a batch and its recipients.
//
//	POST /api/batches
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var in batch.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	res, err := h.batches.Create(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, res)
}

// GetBatch returns a batch with its durable counters.
//
//	GET /api/batches/{batchId}
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.batches.Get(r.Context(), chi.URLParam(r, "batchId"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, b)
}

// GetRecipients lists a batch's recipients in order with their statuses.
//
//	GET /api/recipients/{batchId}
func (h *Handlers) GetRecipients(w http.ResponseWriter, r *http.Request) {
	recs, err := h.batches.Recipients(r.Context(), chi.URLParam(r, "batchId"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, recs)
}

// GetSummary returns the point-in-time summary computed from recipient
// statuses.
//
//	GET /api/summary/{batchId}
func (h *Handlers) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.batches.Summary(r.Context(), chi.URLParam(r, "batchId"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, sum)
}
