package domain

// Progress is a consistent view of a batch's aggregate counters.
type Progress struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Done is the number of recipients with a terminal status.
func (p Progress) Done() int { return p.Sent + p.Failed }

// Pending is the number of recipients still waiting to be attempted.
func (p Progress) Pending() int {
	if n := p.Total - p.Done(); n > 0 {
		return n
	}
	return 0
}

// Finished reports whether every recipient reached a terminal status.
func (p Progress) Finished() bool { return p.Done() >= p.Total }

// EventType is the kind of a progress stream event.
type EventType string

const (
	EventInit     EventType = "init"
	EventUpdate   EventType = "update"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// ProgressEvent is one logical JSON object pushed over a progress stream.
type ProgressEvent struct {
	Type       EventType              `json:"type"`
	BatchID    string                 `json:"batchId"`
	Total      int                    `json:"total"`
	Sent       int                    `json:"sent"`
	Failed     int                    `json:"failed"`
	Pending    int                    `json:"pending"`
	Recipients []RecipientStatusEntry `json:"recipients,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

// NewProgressEvent builds an event carrying the counters of p.
func NewProgressEvent(t EventType, batchID string, p Progress) ProgressEvent {
	return ProgressEvent{
		Type:    t,
		BatchID: batchID,
		Total:   p.Total,
		Sent:    p.Sent,
		Failed:  p.Failed,
		Pending: p.Pending(),
	}
}
