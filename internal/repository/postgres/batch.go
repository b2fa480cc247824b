// Package postgres implements the recipient store against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/service/batch"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// BatchRepo implements batch.Repository against PostgreSQL.
type BatchRepo struct{ db *sql.DB }

var _ batch.Repository = (*BatchRepo)(nil)

// NewBatchRepo creates a Postgres-backed batch repository.
func NewBatchRepo(db *sql.DB) *BatchRepo { return &BatchRepo{db: db} }

func (r *BatchRepo) CreateBatch(ctx context.Context, b *domain.Batch) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO mailer_batches
			(batch_id, sender_name, sender_email, total_emails, sent_emails, failed_emails, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, b.BatchID, b.SenderName, b.SenderEmail, b.TotalEmails, b.SentEmails, b.FailedEmails, b.CreatedAt,
	).Scan(&b.ID)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return batch.ErrDuplicateBatch
	}
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (r *BatchRepo) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	b := &domain.Batch{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, batch_id, sender_name, sender_email, total_emails,
		       sent_emails, failed_emails, created_at
		FROM mailer_batches
		WHERE batch_id = $1
	`, batchID).Scan(
		&b.ID, &b.BatchID, &b.SenderName, &b.SenderEmail, &b.TotalEmails,
		&b.SentEmails, &b.FailedEmails, &b.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, batch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *BatchRepo) UpdateBatchSentCount(ctx context.Context, batchID string, success bool) error {
	q := `UPDATE mailer_batches SET failed_emails = failed_emails + 1 WHERE batch_id = $1`
	if success {
		q = `UPDATE mailer_batches SET sent_emails = sent_emails + 1 WHERE batch_id = $1`
	}
	res, err := r.db.ExecContext(ctx, q, batchID)
	if err != nil {
		return fmt.Errorf("update batch counts: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return batch.ErrNotFound
	}
	return nil
}

func (r *BatchRepo) SaveRecipients(ctx context.Context, in []domain.Recipient) ([]domain.Recipient, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mailer_recipients (batch_id, name, email, designation, company, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]domain.Recipient, 0, len(in))
	for _, rec := range in {
		if rec.Status == "" {
			rec.Status = domain.RecipientPending
		}
		if err := stmt.QueryRowContext(ctx,
			rec.BatchID, rec.Name, rec.Email, rec.Designation, rec.Company, rec.Status,
		).Scan(&rec.ID); err != nil {
			return nil, fmt.Errorf("insert recipient: %w", err)
		}
		out = append(out, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (r *BatchRepo) GetRecipientsByBatchID(ctx context.Context, batchID string) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, batch_id, name, email, designation, company, status
		FROM mailer_recipients
		WHERE batch_id = $1
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(
			&rec.ID, &rec.BatchID, &rec.Name, &rec.Email, &rec.Designation, &rec.Company, &rec.Status,
		); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *BatchRepo) UpdateRecipientStatus(ctx context.Context, id int64, status domain.RecipientStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailer_recipients SET status = $1
		WHERE id = $2 AND status = 'pending'
	`, status, id)
	if err != nil {
		return fmt.Errorf("update recipient status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM mailer_recipients WHERE id = $1`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return batch.ErrRecipientMissing
	}
	if err != nil {
		return fmt.Errorf("read recipient status: %w", err)
	}
	return batch.ErrStatusFinal
}
