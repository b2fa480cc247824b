// Package api exposes batch ingestion, dispatch and progress streaming over
// HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/ignite/batch-mailer/internal/dispatch"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/pkg/httputil"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
	"github.com/ignite/batch-mailer/internal/service/batch"
	"github.com/ignite/batch-mailer/internal/stream"
)

// Handlers contains the HTTP handlers for the batch mailer API.
type Handlers struct {
	batches    *batch.Service
	dispatcher *dispatch.Dispatcher
	publisher  *stream.Publisher
	log        *logger.Logger
}

// NewHandlers creates handlers over the given services.
func NewHandlers(batches *batch.Service, d *dispatch.Dispatcher, p *stream.Publisher) *Handlers {
	return &Handlers{
		batches:    batches,
		dispatcher: d,
		publisher:  p,
		log:        logger.Named("api"),
	}
}

// respondError maps domain errors onto status codes. Anything unrecognized
// is logged and reported as a generic 500.
func respondError(w http.ResponseWriter, err error) {
	var fe *domain.FieldError
	switch {
	case errors.Is(err, dispatch.ErrInvalidCredentials) && errors.As(err, &fe):
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_credentials", fe.Message, fe)
	case errors.Is(err, dispatch.ErrInvalidBatchID):
		httputil.BadRequest(w, "Batch ID is required")
	case errors.Is(err, batch.ErrInvalidInput):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, batch.ErrNotFound), errors.Is(err, stream.ErrBatchNotFound):
		httputil.NotFound(w, "Batch not found")
	case errors.Is(err, batch.ErrNoRecipients):
		httputil.ErrorCode(w, http.StatusNotFound, "no_recipients", "No recipients found for this batch", nil)
	case errors.Is(err, dispatch.ErrSessionNotFound):
		httputil.ErrorCode(w, http.StatusNotFound, "session_not_found", "Email sending session not found", nil)
	case errors.Is(err, dispatch.ErrAlreadyDispatching):
		httputil.ErrorCode(w, http.StatusConflict, "already_dispatching", "Emails are already being sent for this batch", nil)
	case errors.Is(err, dispatch.ErrBatchComplete):
		httputil.ErrorCode(w, http.StatusConflict, "batch_complete", "Every recipient in this batch has already been processed", nil)
	case errors.Is(err, batch.ErrDuplicateBatch):
		httputil.ErrorCode(w, http.StatusConflict, "duplicate_batch", "A batch with this ID already exists", nil)
	default:
		httputil.InternalError(w, err)
	}
}
