package dispatch

import (
	"sync"
	"time"

	"github.com/ignite/batch-mailer/internal/domain"
)

// Snapshot is a consistent, read-only copy of a dispatch session.
type Snapshot struct {
	BatchID     string             `json:"batchId"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	InProgress  bool               `json:"inProgress"`
	Total       int                `json:"total"`
	Sent        int                `json:"sent"`
	Failed      int                `json:"failed"`
	Credentials domain.Credentials `json:"-"`
}

// Progress returns the snapshot's counters.
func (s Snapshot) Progress() domain.Progress {
	return domain.Progress{Total: s.Total, Sent: s.Sent, Failed: s.Failed}
}

type session struct {
	batchID     string
	creds       domain.Credentials
	startedAt   time.Time
	completedAt time.Time
	inProgress  bool
	total       int
	sent        int
	failed      int
	evict       *time.Timer
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		BatchID:     s.batchID,
		StartedAt:   s.startedAt,
		InProgress:  s.inProgress,
		Total:       s.total,
		Sent:        s.sent,
		Failed:      s.failed,
		Credentials: s.creds,
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// Registry maps batch ids to the progress of their dispatch run. Each
// batch's loop is its only writer; progress streams read snapshots.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	retention time.Duration
	now       func() time.Time
}

// NewRegistry creates a registry that forgets finished sessions after
// retention. Zero retention evicts on completion.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		sessions:  make(map[string]*session),
		retention: retention,
		now:       time.Now,
	}
}

// Create starts tracking a run. p seeds the counters so a resumed batch
// reports what the store already recorded. A finished session for the same
// batch is replaced; an in-progress one is an error.
func (r *Registry) Create(batchID string, p domain.Progress, creds domain.Credentials) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[batchID]; ok {
		if old.inProgress {
			return Snapshot{}, ErrAlreadyDispatching
		}
		if old.evict != nil {
			old.evict.Stop()
		}
	}

	s := &session{
		batchID:    batchID,
		creds:      creds,
		startedAt:  r.now(),
		inProgress: true,
		total:      p.Total,
		sent:       p.Sent,
		failed:     p.Failed,
	}
	r.sessions[batchID] = s
	return s.snapshot(), nil
}

// Get returns a snapshot of the batch's session. A missing session is a
// normal outcome.
func (r *Registry) Get(batchID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[batchID]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// RecordResult counts one attempted recipient. Counters never pass total.
func (r *Registry) RecordResult(batchID string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[batchID]
	if !ok || !s.inProgress {
		return ErrSessionNotFound
	}
	if s.sent+s.failed >= s.total {
		return nil
	}
	if success {
		s.sent++
	} else {
		s.failed++
	}
	return nil
}

// MarkComplete ends the run and schedules eviction after the retention
// period.
func (r *Registry) MarkComplete(batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[batchID]
	if !ok {
		return ErrSessionNotFound
	}
	s.inProgress = false
	s.completedAt = r.now()
	if r.retention <= 0 {
		delete(r.sessions, batchID)
		return nil
	}
	s.evict = time.AfterFunc(r.retention, func() { r.evictSession(batchID, s) })
	return nil
}

// Evict forgets a session immediately.
func (r *Registry) Evict(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[batchID]; ok {
		if s.evict != nil {
			s.evict.Stop()
		}
		delete(r.sessions, batchID)
	}
}

// evictSession removes s only if it is still the batch's current session.
func (r *Registry) evictSession(batchID string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[batchID] == s {
		delete(r.sessions, batchID)
	}
}

// Active returns the number of runs still in progress.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.inProgress {
			n++
		}
	}
	return n
}

// Len returns the number of tracked sessions, finished ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
