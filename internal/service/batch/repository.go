package batch

import (
	"context"

	"github.com/ignite/batch-mailer/internal/domain"
)

// Repository defines the data access contract for batches and their
// recipients. Every call is atomic on its own. Implementations must be safe
// for concurrent use.
type Repository interface {
	// CreateBatch inserts a batch. Returns ErrDuplicateBatch if the batch id
	// is taken.
	CreateBatch(ctx context.Context, b *domain.Batch) error
	// GetBatch returns a batch by its public id. Returns ErrNotFound if it
	// doesn't exist.
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, error)
	// UpdateBatchSentCount increments sent_emails (success) or failed_emails.
	UpdateBatchSentCount(ctx context.Context, batchID string, success bool) error
	// SaveRecipients inserts recipients in order and returns them with ids.
	SaveRecipients(ctx context.Context, recipients []domain.Recipient) ([]domain.Recipient, error)
	// GetRecipientsByBatchID returns a batch's recipients in insertion order.
	GetRecipientsByBatchID(ctx context.Context, batchID string) ([]domain.Recipient, error)
	// UpdateRecipientStatus moves a pending recipient to a terminal status.
	// Returns ErrStatusFinal if the recipient already left pending and
	// ErrRecipientMissing if it doesn't exist.
	UpdateRecipientStatus(ctx context.Context, id int64, status domain.RecipientStatus) error
}
