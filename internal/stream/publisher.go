// Package stream publishes live progress of a batch's dispatch run to one
// observer per stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/batch-mailer/internal/dispatch"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
	"github.com/ignite/batch-mailer/internal/service/batch"
)

var (
	// ErrBatchNotFound is returned by Open when neither a session nor a
	// persisted batch exists.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrStalled ends a store-backed stream whose counters stopped moving.
	ErrStalled = errors.New("progress stalled")
)

const stalledMessage = "progress stalled"

// Options tune a Publisher.
type Options struct {
	PollInterval time.Duration
	Heartbeat    time.Duration
	// StallTimeout ends streams with no session behind them once counters
	// stop changing for this long. Zero disables it.
	StallTimeout time.Duration
	Logger       *logger.Logger
}

// Publisher opens progress streams. It only reads the registry and the
// store; it never affects a dispatch run.
type Publisher struct {
	registry *dispatch.Registry
	repo     batch.Repository
	opts     Options
	log      *logger.Logger
}

// NewPublisher creates a Publisher reading reg and repo.
func NewPublisher(reg *dispatch.Registry, repo batch.Repository, opts Options) *Publisher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	l := opts.Logger
	if l == nil {
		l = logger.Named("stream")
	}
	return &Publisher{registry: reg, repo: repo, opts: opts, log: l}
}

// Sink receives a stream's output.
type Sink interface {
	Event(ev domain.ProgressEvent) error
	// Ping keeps an idle connection open.
	Ping() error
}

// EmitFunc adapts a plain function to a Sink without heartbeats.
type EmitFunc func(domain.ProgressEvent) error

func (f EmitFunc) Event(ev domain.ProgressEvent) error { return f(ev) }
func (f EmitFunc) Ping() error                         { return nil }

// Stream is one observer's view of a batch: init once, updates while the
// counters move, then complete exactly once.
type Stream struct {
	p       *Publisher
	batchID string
	detail  bool

	// initial progress and whether it was already final at open
	initial  domain.Progress
	finished bool
	// synthesized streams were opened without a session
	synthesized bool
}

// BatchID returns the batch the stream observes.
func (s *Stream) BatchID() string { return s.batchID }

// Synthesized reports whether the stream was opened from store counters
// because no session existed.
func (s *Stream) Synthesized() bool { return s.synthesized }

// Open resolves the batch's progress source. An active or recently
// finished session is preferred; otherwise a session view is synthesized
// from the store's counters. A missing batch fails with ErrBatchNotFound
// and a batch without recipients with batch.ErrNoRecipients.
func (p *Publisher) Open(ctx context.Context, batchID string, detail bool) (*Stream, error) {
	s := &Stream{p: p, batchID: batchID, detail: detail}

	if snap, ok := p.registry.Get(batchID); ok {
		s.initial = snap.Progress()
		s.finished = !snap.InProgress
		return s, nil
	}

	b, err := p.repo.GetBatch(ctx, batchID)
	if errors.Is(err, batch.ErrNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	recipients, err := p.repo.GetRecipientsByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, batch.ErrNoRecipients
	}

	s.synthesized = true
	s.initial = b.Progress()
	s.finished = storeFinished(s.initial)
	return s, nil
}

// storeFinished applies the batch invariant: counters reach total exactly
// when the run is complete.
func storeFinished(p domain.Progress) bool {
	return p.Total > 0 && p.Done() >= p.Total
}

// Run drives the stream until complete, an error event, or ctx is done. A
// cancelled ctx means the observer left; Run stops polling and returns
// ctx.Err() without emitting anything else.
func (s *Stream) Run(ctx context.Context, sink Sink) error {
	if err := s.emit(ctx, sink, domain.EventInit, s.initial); err != nil {
		return err
	}
	if s.finished {
		return s.emit(ctx, sink, domain.EventComplete, s.initial)
	}

	poll := time.NewTicker(s.p.opts.PollInterval)
	defer poll.Stop()

	var ping <-chan time.Time
	if s.p.opts.Heartbeat > 0 {
		t := time.NewTicker(s.p.opts.Heartbeat)
		defer t.Stop()
		ping = t.C
	}

	last := s.initial
	lastChange := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ping:
			if err := sink.Ping(); err != nil {
				return err
			}

		case <-poll.C:
			cur, finished, fromStore, err := s.read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.p.log.Warn("progress read failed", "batch_id", s.batchID, "error", err)
				return s.fail(sink, last, err.Error(), err)
			}
			if finished {
				return s.emit(ctx, sink, domain.EventComplete, cur)
			}
			if cur != last {
				last = cur
				lastChange = time.Now()
				if err := s.emit(ctx, sink, domain.EventUpdate, cur); err != nil {
					return err
				}
				continue
			}
			if fromStore && s.p.opts.StallTimeout > 0 && time.Since(lastChange) >= s.p.opts.StallTimeout {
				return s.fail(sink, cur, stalledMessage, ErrStalled)
			}
		}
	}
}

// read prefers the registry. When no session exists (never started here, or
// evicted) the store's counters decide completion.
func (s *Stream) read(ctx context.Context) (p domain.Progress, finished, fromStore bool, err error) {
	if snap, ok := s.p.registry.Get(s.batchID); ok {
		return snap.Progress(), !snap.InProgress, false, nil
	}
	b, err := s.p.repo.GetBatch(ctx, s.batchID)
	if err != nil {
		return domain.Progress{}, false, true, err
	}
	p = b.Progress()
	return p, storeFinished(p), true, nil
}

func (s *Stream) emit(ctx context.Context, sink Sink, t domain.EventType, p domain.Progress) error {
	ev := domain.NewProgressEvent(t, s.batchID, p)
	if s.detail {
		ev.Recipients = s.recipientStatuses(ctx)
	}
	return sink.Event(ev)
}

func (s *Stream) fail(sink Sink, p domain.Progress, msg string, cause error) error {
	ev := domain.NewProgressEvent(domain.EventError, s.batchID, p)
	ev.Message = msg
	if err := sink.Event(ev); err != nil {
		return err
	}
	return cause
}

func (s *Stream) recipientStatuses(ctx context.Context) []domain.RecipientStatusEntry {
	recs, err := s.p.repo.GetRecipientsByBatchID(ctx, s.batchID)
	if err != nil {
		s.p.log.Warn("recipient detail unavailable", "batch_id", s.batchID, "error", err)
		return nil
	}
	out := make([]domain.RecipientStatusEntry, len(recs))
	for i, r := range recs {
		out[i] = domain.RecipientStatusEntry{ID: r.ID, Email: r.Email, Status: r.Status}
	}
	return out
}
