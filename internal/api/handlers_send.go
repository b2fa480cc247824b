package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/batch-mailer/internal/dispatch"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/pkg/httputil"
)

// SendRequest starts a dispatch run.
type SendRequest struct {
	Credentials domain.Credentials `json:"credentials"`
	BatchID     string             `json:"batchId"`
}

// StartSend validates the request and launches the batch's dispatch loop.
// It responds as soon as the loop is scheduled.
//
//	POST /api/send
func (h *Handlers) StartSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	ack, err := h.dispatcher.Start(r.Context(), req.BatchID, req.Credentials)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, ack)
}

// SendStatus streams progress for a batch as server-sent events. Set
// detail=true to attach per-recipient statuses to each event.
//
//	GET /api/send/status?batchId=...&detail=true
func (h *Handlers) SendStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	batchID := strings.TrimSpace(q.Get("batchId"))
	if batchID == "" {
		httputil.BadRequest(w, "Batch ID is required")
		return
	}
	detail, _ := strconv.ParseBool(q.Get("detail"))

	st, err := h.publisher.Open(r.Context(), batchID, detail)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.publisher.Serve(w, r, st); err != nil {
		h.log.Warn("progress stream ended with error", "batch_id", batchID, "error", err)
	}
}

// GetSession returns the in-process dispatch session for a batch.
//
//	GET /api/sessions/{batchId}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.dispatcher.Registry().Get(chi.URLParam(r, "batchId"))
	if !ok {
		respondError(w, dispatch.ErrSessionNotFound)
		return
	}
	httputil.OK(w, snap)
}
