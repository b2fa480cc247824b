// Package dispatch runs batch sends: a registry of in-flight runs and the
// sequential, rate-limited loop that sends to every pending recipient.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/mailer"
	"github.com/ignite/batch-mailer/internal/metrics"
	"github.com/ignite/batch-mailer/internal/pkg/distlock"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
	"github.com/ignite/batch-mailer/internal/service/batch"
	"golang.org/x/time/rate"
)

const startedMessage = "Email sending initialized successfully"

// CompletionHook runs after a batch's session is marked complete. Hooks run
// sequentially on the loop's goroutine; a panicking hook is logged and
// skipped.
type CompletionHook func(ctx context.Context, batchID string, final domain.Progress)

// Options configure a Dispatcher.
type Options struct {
	// SendDelay is the minimum gap between two sends of one batch.
	SendDelay time.Duration
	// AllowedDomain is the required sender address suffix, e.g. "@gmail.com".
	AllowedDomain string
	// TransportName labels metrics ("smtp", "ses").
	TransportName string
	// SendTimeout bounds each verify and send call.
	SendTimeout time.Duration
	Template    *mailer.Template
	// Locks guards runs across processes. Nil disables cross-process locking.
	Locks  *distlock.Factory
	Logger *logger.Logger
}

// Dispatcher validates dispatch requests and runs one background loop per
// batch.
type Dispatcher struct {
	repo       batch.Repository
	registry   *Registry
	transports mailer.Factory
	opts       Options
	log        *logger.Logger

	hooksMu sync.RWMutex
	hooks   []CompletionHook

	wg sync.WaitGroup
}

// New creates a Dispatcher writing through repo and tracking runs in reg.
func New(repo batch.Repository, reg *Registry, transports mailer.Factory, opts Options) *Dispatcher {
	if opts.Template == nil {
		opts.Template = mailer.NewTemplate("", "")
	}
	if opts.TransportName == "" {
		opts.TransportName = "smtp"
	}
	l := opts.Logger
	if l == nil {
		l = logger.Named("dispatch")
	}
	return &Dispatcher{
		repo:       repo,
		registry:   reg,
		transports: transports,
		opts:       opts,
		log:        l,
	}
}

// Registry returns the session registry the dispatcher writes to.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// OnComplete registers a hook fired once per finished run.
func (d *Dispatcher) OnComplete(h CompletionHook) {
	d.hooksMu.Lock()
	defer d.hooksMu.Unlock()
	d.hooks = append(d.hooks, h)
}

// run is the state owned by one background loop.
type run struct {
	batchID string
	pending []domain.Recipient
	mailer  *mailer.Mailer
	lock    distlock.DistLock
	log     *logger.Logger
}

// Start validates the request, creates the batch's session and launches the
// loop. It returns as soon as the loop is scheduled, before any send.
//
// Only pending recipients are sent; recipients that already reached a
// terminal status are carried into the session's starting counters.
func (d *Dispatcher) Start(ctx context.Context, batchID string, creds domain.Credentials) (domain.DispatchAck, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return domain.DispatchAck{}, ErrInvalidBatchID
	}
	if err := creds.Validate(d.opts.AllowedDomain); err != nil {
		return domain.DispatchAck{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	b, err := d.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.DispatchAck{}, err
	}
	recipients, err := d.repo.GetRecipientsByBatchID(ctx, batchID)
	if err != nil {
		return domain.DispatchAck{}, fmt.Errorf("load recipients: %w", err)
	}
	if len(recipients) == 0 {
		metrics.DispatchRuns.WithLabelValues("rejected").Inc()
		return domain.DispatchAck{}, batch.ErrNoRecipients
	}

	pending, progress := partition(recipients)
	if len(pending) == 0 {
		metrics.DispatchRuns.WithLabelValues("rejected").Inc()
		return domain.DispatchAck{}, ErrBatchComplete
	}
	if progress.Total != b.TotalEmails || progress.Sent != b.SentEmails || progress.Failed != b.FailedEmails {
		d.log.Warn("batch counters disagree with recipient statuses, using statuses",
			"batch_id", batchID,
			"total", b.TotalEmails, "sent", b.SentEmails, "failed", b.FailedEmails,
			"scanned_total", progress.Total, "scanned_sent", progress.Sent, "scanned_failed", progress.Failed)
	}

	if snap, ok := d.registry.Get(batchID); ok && snap.InProgress {
		return domain.DispatchAck{}, ErrAlreadyDispatching
	}

	transport, err := d.transports(creds)
	if err != nil {
		return domain.DispatchAck{}, fmt.Errorf("create transport: %w", err)
	}

	lock, err := d.acquire(ctx, batchID)
	if err != nil {
		transport.Close()
		return domain.DispatchAck{}, err
	}

	if _, err := d.registry.Create(batchID, progress, creds.Redacted()); err != nil {
		d.release(lock, batchID)
		transport.Close()
		return domain.DispatchAck{}, err
	}

	log := d.log.With("batch_id", batchID)
	r := &run{
		batchID: batchID,
		pending: pending,
		lock:    lock,
		log:     log,
		mailer: mailer.New(transport, d.opts.Template, creds, mailer.Options{
			Timeout: d.opts.SendTimeout,
			Logger:  log,
		}),
	}

	d.wg.Add(1)
	metrics.ActiveDispatches.Inc()
	metrics.DispatchRuns.WithLabelValues("started").Inc()
	go d.loop(context.WithoutCancel(ctx), r)

	log.Info("dispatch started", "pending", len(pending), "total", progress.Total, "sender_email", creds.Email)
	return domain.DispatchAck{
		Message:     startedMessage,
		BatchID:     batchID,
		TotalEmails: progress.Total,
	}, nil
}

// Wait blocks until every running loop finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func partition(recipients []domain.Recipient) ([]domain.Recipient, domain.Progress) {
	p := domain.Progress{Total: len(recipients)}
	var pending []domain.Recipient
	for _, rec := range recipients {
		switch rec.Status {
		case domain.RecipientSent:
			p.Sent++
		case domain.RecipientFailed:
			p.Failed++
		default:
			pending = append(pending, rec)
		}
	}
	return pending, p
}

func (d *Dispatcher) acquire(ctx context.Context, batchID string) (distlock.DistLock, error) {
	lock := d.opts.Locks.ForBatch(batchID)
	if lock == nil {
		return nil, nil
	}
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyDispatching
	}
	return lock, nil
}

func (d *Dispatcher) release(lock distlock.DistLock, batchID string) {
	if lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil && !errors.Is(err, distlock.ErrNotHeld) {
		d.log.Warn("failed to release dispatch lock", "batch_id", batchID, "error", err)
	}
}

// pacer holds the loop to one send per delay, counted from the end of the
// previous recipient's processing rather than from its start, so a slow
// send never shortens the pause that follows it.
type pacer struct {
	every rate.Limit
	lim   *rate.Limiter
}

func newPacer(delay time.Duration) *pacer {
	if delay <= 0 {
		return &pacer{every: rate.Inf}
	}
	return &pacer{every: rate.Every(delay)}
}

// wait blocks until the pause after the last finished recipient is over.
// The first call returns at once.
func (p *pacer) wait(ctx context.Context) error {
	if p.lim == nil {
		return nil
	}
	return p.lim.Wait(ctx)
}

// finished starts the pause at t with an empty bucket.
func (p *pacer) finished(t time.Time) {
	if p.every == rate.Inf {
		return
	}
	p.lim = rate.NewLimiter(p.every, 1)
	p.lim.AllowN(t, 1)
}

// loop sends to every pending recipient in order and always ends by
// marking the session complete exactly once.
func (d *Dispatcher) loop(ctx context.Context, r *run) {
	defer d.wg.Done()
	defer metrics.ActiveDispatches.Dec()
	defer d.release(r.lock, r.batchID)

	start := time.Now()
	pace := newPacer(d.opts.SendDelay)
	for _, rec := range r.pending {
		if err := pace.wait(ctx); err != nil {
			r.log.Warn("rate limiter wait failed", "error", err)
		}
		ok := d.sendOne(ctx, r, rec)
		d.record(ctx, r, rec, ok)
		d.extend(ctx, r)
		pace.finished(time.Now())
	}

	if err := r.mailer.Close(); err != nil {
		r.log.Debug("closing transport", "error", err)
	}
	if err := d.registry.MarkComplete(r.batchID); err != nil {
		r.log.Error("failed to mark session complete", "error", err)
	}
	metrics.DispatchRuns.WithLabelValues("completed").Inc()

	final := domain.Progress{}
	if snap, ok := d.registry.Get(r.batchID); ok {
		final = snap.Progress()
	} else if b, err := d.repo.GetBatch(ctx, r.batchID); err == nil {
		final = b.Progress()
	}
	r.log.Info("dispatch complete",
		"sent", final.Sent, "failed", final.Failed, "total", final.Total,
		"duration", time.Since(start).String())

	d.fireHooks(ctx, r, final)
}

// sendOne converts every outcome, panics included, into success or failure.
func (d *Dispatcher) sendOne(ctx context.Context, r *run, rec domain.Recipient) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("mail transport panicked", "recipient_id", rec.ID, "panic", fmt.Sprint(p))
			ok = false
		}
	}()

	start := time.Now()
	err := r.mailer.Send(ctx, rec)
	metrics.SendDuration.WithLabelValues(d.opts.TransportName).Observe(time.Since(start).Seconds())
	if err != nil {
		// a failed verification was already logged once by the mailer
		if !errors.Is(err, mailer.ErrVerificationFailed) {
			r.log.Warn("send failed", "recipient_id", rec.ID, "recipient_email", rec.Email, "error", err)
		}
		return false
	}
	return true
}

// record writes the outcome through the store before the registry so that
// session readers are never ahead of durable state. Store errors are logged
// and the run continues.
func (d *Dispatcher) record(ctx context.Context, r *run, rec domain.Recipient, ok bool) {
	status := domain.RecipientFailed
	if ok {
		status = domain.RecipientSent
		metrics.EmailsSent.WithLabelValues(d.opts.TransportName).Inc()
	} else {
		metrics.EmailsFailed.WithLabelValues(d.opts.TransportName).Inc()
	}

	countInStore := true
	if err := d.repo.UpdateRecipientStatus(ctx, rec.ID, status); err != nil {
		if errors.Is(err, batch.ErrStatusFinal) {
			// finalized elsewhere; its counter was already bumped
			countInStore = false
			r.log.Warn("recipient already final", "recipient_id", rec.ID)
		} else {
			metrics.StoreWriteErrors.WithLabelValues("recipient_status").Inc()
			r.log.Error("failed to update recipient status", "recipient_id", rec.ID, "error", err)
		}
	}
	if countInStore {
		if err := d.repo.UpdateBatchSentCount(ctx, r.batchID, ok); err != nil {
			metrics.StoreWriteErrors.WithLabelValues("batch_count").Inc()
			r.log.Error("failed to update batch counters", "error", err)
		}
	}
	if err := d.registry.RecordResult(r.batchID, ok); err != nil {
		r.log.Error("failed to record result", "error", err)
	}
}

func (d *Dispatcher) extend(ctx context.Context, r *run) {
	ext, ok := r.lock.(distlock.Extender)
	if !ok {
		return
	}
	if err := ext.Extend(ctx, d.opts.Locks.TTL()); err != nil {
		r.log.Warn("failed to extend dispatch lock", "error", err)
	}
}

func (d *Dispatcher) fireHooks(ctx context.Context, r *run, final domain.Progress) {
	d.hooksMu.RLock()
	hooks := append([]CompletionHook(nil), d.hooks...)
	d.hooksMu.RUnlock()

	for _, h := range hooks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("completion hook panicked", "panic", fmt.Sprint(p))
				}
			}()
			h(ctx, r.batchID, final)
		}()
	}
}
