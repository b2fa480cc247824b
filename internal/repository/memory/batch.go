// Package memory provides an in-process recipient store. State is lost when
// the process exits.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/service/batch"
)

// BatchRepo implements batch.Repository in memory.
type BatchRepo struct {
	mu         sync.RWMutex
	batches    map[string]*domain.Batch
	recipients map[int64]*domain.Recipient
	order      map[string][]int64 // batch id -> recipient ids in insertion order
	nextBatch  int64
	nextRecip  int64
}

var _ batch.Repository = (*BatchRepo)(nil)

// NewBatchRepo creates an empty in-memory repository.
func NewBatchRepo() *BatchRepo {
	return &BatchRepo{
		batches:    make(map[string]*domain.Batch),
		recipients: make(map[int64]*domain.Recipient),
		order:      make(map[string][]int64),
	}
}

func (r *BatchRepo) CreateBatch(_ context.Context, b *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[b.BatchID]; ok {
		return batch.ErrDuplicateBatch
	}
	r.nextBatch++
	b.ID = r.nextBatch
	cp := *b
	r.batches[b.BatchID] = &cp
	return nil
}

func (r *BatchRepo) GetBatch(_ context.Context, batchID string) (*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[batchID]
	if !ok {
		return nil, batch.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *BatchRepo) UpdateBatchSentCount(_ context.Context, batchID string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return batch.ErrNotFound
	}
	if success {
		b.SentEmails++
	} else {
		b.FailedEmails++
	}
	return nil
}

func (r *BatchRepo) SaveRecipients(_ context.Context, in []domain.Recipient) ([]domain.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Recipient, 0, len(in))
	for _, rec := range in {
		if rec.BatchID == "" {
			return nil, fmt.Errorf("recipient %q has no batch id", rec.Email)
		}
		if rec.Status == "" {
			rec.Status = domain.RecipientPending
		}
		r.nextRecip++
		rec.ID = r.nextRecip
		stored := rec
		r.recipients[rec.ID] = &stored
		r.order[rec.BatchID] = append(r.order[rec.BatchID], rec.ID)
		out = append(out, rec)
	}
	return out, nil
}

func (r *BatchRepo) GetRecipientsByBatchID(_ context.Context, batchID string) ([]domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.order[batchID]
	out := make([]domain.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.recipients[id])
	}
	return out, nil
}

func (r *BatchRepo) UpdateRecipientStatus(_ context.Context, id int64, status domain.RecipientStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recipients[id]
	if !ok {
		return batch.ErrRecipientMissing
	}
	if rec.Status.IsTerminal() {
		return batch.ErrStatusFinal
	}
	rec.Status = status
	return nil
}
