package domain

// RecipientStatus enumerates the delivery states of a recipient.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientSent || s == RecipientFailed
}

// IsValid reports whether s is one of the known statuses.
func (s RecipientStatus) IsValid() bool {
	switch s {
	case RecipientPending, RecipientSent, RecipientFailed:
		return true
	}
	return false
}

// Recipient is one addressee of a batch plus the fields used to fill the
// message template.
type Recipient struct {
	ID          int64           `json:"id" db:"id"`
	BatchID     string          `json:"batchId" db:"batch_id"`
	Name        string          `json:"name" db:"name"`
	Email       string          `json:"email" db:"email"`
	Designation string          `json:"designation" db:"designation"`
	Company     string          `json:"company" db:"company"`
	Status      RecipientStatus `json:"status" db:"status"`
}

// RecipientStatusEntry is the compact per-recipient view attached to
// detailed progress events.
type RecipientStatusEntry struct {
	ID     int64           `json:"id"`
	Email  string          `json:"email"`
	Status RecipientStatus `json:"status"`
}
