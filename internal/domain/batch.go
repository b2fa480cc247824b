package domain

import "time"

// Batch is a named group of recipients submitted together for one sending run.
// SentEmails and FailedEmails only ever grow while a run is active.
type Batch struct {
	ID           int64     `json:"id" db:"id"`
	BatchID      string    `json:"batchId" db:"batch_id"`
	SenderName   string    `json:"senderName" db:"sender_name"`
	SenderEmail  string    `json:"senderEmail" db:"sender_email"`
	TotalEmails  int       `json:"totalEmails" db:"total_emails"`
	SentEmails   int       `json:"sentEmails" db:"sent_emails"`
	FailedEmails int       `json:"failedEmails" db:"failed_emails"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Progress returns the batch's durable counters.
func (b *Batch) Progress() Progress {
	return Progress{Total: b.TotalEmails, Sent: b.SentEmails, Failed: b.FailedEmails}
}

// BatchSummary is the point-in-time, pull-based view of a batch computed
// by scanning recipient statuses.
type BatchSummary struct {
	BatchID     string    `json:"batchId"`
	Total       int       `json:"total"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Pending     int       `json:"pending"`
	SenderName  string    `json:"senderName"`
	SenderEmail string    `json:"senderEmail"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DispatchAck is returned synchronously once a dispatch run is scheduled.
type DispatchAck struct {
	Message     string `json:"message"`
	BatchID     string `json:"batchId"`
	TotalEmails int    `json:"totalEmails"`
}
