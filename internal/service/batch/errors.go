package batch

import "errors"

// Sentinel errors for the batch service layer.
var (
	ErrNotFound         = errors.New("batch not found")
	ErrNoRecipients     = errors.New("no recipients found for this batch")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrDuplicateBatch   = errors.New("batch already exists")
	ErrRecipientMissing = errors.New("recipient not found")
	ErrStatusFinal      = errors.New("recipient status is already final")
	ErrInvalidInput     = errors.New("invalid batch input")
)
