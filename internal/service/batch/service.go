package batch

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
)

// Service implements batch ingestion and reporting on top of a Repository.
// All public methods are safe for concurrent use if the underlying
// repository is.
type Service struct {
	repo Repository
	now  func() time.Time
	log  *logger.Logger
}

// NewService creates a batch service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now, log: logger.Named("batch")}
}

// RecipientInput is one row of an uploaded recipient list.
type RecipientInput struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Designation string `json:"designation"`
	Company     string `json:"company"`
}

// CreateInput holds the fields for ingesting a new batch.
type CreateInput struct {
	BatchID     string           `json:"batchId"`
	SenderName  string           `json:"senderName"`
	SenderEmail string           `json:"senderEmail"`
	Recipients  []RecipientInput `json:"recipients"`
}

// CreateResult reports what was stored.
type CreateResult struct {
	BatchID     string `json:"batchId"`
	TotalEmails int    `json:"totalEmails"`
	Skipped     int    `json:"skipped"`
}

// Create validates and persists a batch and its recipients. Rows missing a
// field or carrying an invalid address are skipped and counted; a batch
// with no valid rows is rejected.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if strings.TrimSpace(in.SenderName) == "" {
		return nil, fmt.Errorf("%w: senderName is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(in.SenderEmail); err != nil {
		return nil, fmt.Errorf("%w: senderEmail is invalid", ErrInvalidInput)
	}

	batchID := strings.TrimSpace(in.BatchID)
	if batchID == "" {
		batchID = uuid.New().String()
	}

	recipients := make([]domain.Recipient, 0, len(in.Recipients))
	skipped := 0
	for i, row := range in.Recipients {
		r, err := row.normalize()
		if err != nil {
			skipped++
			s.log.Debug("skipping recipient row", "row", i+1, "reason", err)
			continue
		}
		r.BatchID = batchID
		recipients = append(recipients, r)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no valid recipients (%d skipped)", ErrInvalidInput, skipped)
	}

	b := &domain.Batch{
		BatchID:     batchID,
		SenderName:  strings.TrimSpace(in.SenderName),
		SenderEmail: strings.TrimSpace(in.SenderEmail),
		TotalEmails: len(recipients),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateBatch(ctx, b); err != nil {
		return nil, err
	}
	if _, err := s.repo.SaveRecipients(ctx, recipients); err != nil {
		return nil, fmt.Errorf("save recipients: %w", err)
	}

	s.log.Info("batch created", "batch_id", batchID, "total", len(recipients), "skipped", skipped)
	return &CreateResult{BatchID: batchID, TotalEmails: len(recipients), Skipped: skipped}, nil
}

func (in RecipientInput) normalize() (domain.Recipient, error) {
	r := domain.Recipient{
		Name:        strings.TrimSpace(in.Name),
		Email:       strings.TrimSpace(in.Email),
		Designation: strings.TrimSpace(in.Designation),
		Company:     strings.TrimSpace(in.Company),
		Status:      domain.RecipientPending,
	}
	if r.Name == "" || r.Email == "" || r.Designation == "" || r.Company == "" {
		return r, fmt.Errorf("%w: missing field", ErrInvalidRecipient)
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return r, fmt.Errorf("%w: bad address", ErrInvalidRecipient)
	}
	if domainPart := addr.Address[strings.LastIndex(addr.Address, "@")+1:]; !strings.Contains(domainPart, ".") {
		return r, fmt.Errorf("%w: address has no top-level domain", ErrInvalidRecipient)
	}
	return r, nil
}

// Get returns a single batch.
func (s *Service) Get(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

// Recipients returns a batch's recipients in order. Returns ErrNotFound if
// the batch doesn't exist.
func (s *Service) Recipients(ctx context.Context, batchID string) ([]domain.Recipient, error) {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.repo.GetRecipientsByBatchID(ctx, batchID)
}

// Summary computes the point-in-time view of a batch by scanning recipient
// statuses. It never consults an active dispatch session.
func (s *Service) Summary(ctx context.Context, batchID string) (*domain.BatchSummary, error) {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	recipients, err := s.repo.GetRecipientsByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}

	sum := &domain.BatchSummary{
		BatchID:     b.BatchID,
		Total:       len(recipients),
		SenderName:  b.SenderName,
		SenderEmail: b.SenderEmail,
		CreatedAt:   b.CreatedAt,
	}
	for _, r := range recipients {
		switch r.Status {
		case domain.RecipientSent:
			sum.Sent++
		case domain.RecipientFailed:
			sum.Failed++
		case domain.RecipientPending:
			sum.Pending++
		}
	}
	return sum, nil
}

// IsNotFound reports whether err means the batch or its recipients are absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoRecipients)
}
