// Package mailer sends personalized batch emails through a pluggable
// transport (SMTP or Amazon SES).
package mailer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
)

// ErrVerificationFailed is returned by every send of a run whose transport
// failed verification.
var ErrVerificationFailed = errors.New("mail transport verification failed")

// Transport is a mail relay connection for one sender account.
type Transport interface {
	// Verify checks connectivity and credentials.
	Verify(ctx context.Context) error
	// Send delivers one message.
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Factory builds a transport for one dispatch run's credentials.
type Factory func(creds domain.Credentials) (Transport, error)

// VerifyState tracks the lazy credential check of a Mailer.
type VerifyState int

const (
	Unverified VerifyState = iota
	Verified
	VerifyFailed
)

func (s VerifyState) String() string {
	switch s {
	case Verified:
		return "verified"
	case VerifyFailed:
		return "failed"
	default:
		return "unverified"
	}
}

// Mailer is the per-run mail client. Verification runs once before the
// first send and its outcome is cached for the life of the Mailer.
type Mailer struct {
	transport Transport
	tmpl      *Template
	creds     domain.Credentials
	timeout   time.Duration
	log       *logger.Logger

	mu        sync.Mutex
	state     VerifyState
	verifyErr error
}

// Options configure a Mailer.
type Options struct {
	// Timeout bounds each verify or send call. Zero means no bound.
	Timeout time.Duration
	Logger  *logger.Logger
}

// New binds a transport, template and sender credentials.
func New(t Transport, tmpl *Template, creds domain.Credentials, opts Options) *Mailer {
	if tmpl == nil {
		tmpl = NewTemplate("", "")
	}
	l := opts.Logger
	if l == nil {
		l = logger.Named("mailer")
	}
	return &Mailer{
		transport: t,
		tmpl:      tmpl,
		creds:     creds,
		timeout:   opts.Timeout,
		log:       l,
	}
}

// State returns the current verification state.
func (m *Mailer) State() VerifyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Verify runs the transport check at most once.
func (m *Mailer) Verify(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Verified:
		return nil
	case VerifyFailed:
		return m.verifyErr
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()
	if err := m.transport.Verify(ctx); err != nil {
		m.state = VerifyFailed
		m.verifyErr = fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		m.log.Error("mail transport verification failed, remaining sends in this run will fail",
			"sender_email", m.creds.Email, "error", err)
		return m.verifyErr
	}
	m.state = Verified
	return nil
}

// Send personalizes the template for r and delivers it. Any failure,
// including a cached failed verification, is returned as an error.
func (m *Mailer) Send(ctx context.Context, r domain.Recipient) error {
	if err := m.Verify(ctx); err != nil {
		return err
	}
	ctx, cancel := m.bound(ctx)
	defer cancel()
	if err := m.transport.Send(ctx, m.tmpl.Render(m.creds, r)); err != nil {
		return fmt.Errorf("send to recipient %d: %w", r.ID, err)
	}
	return nil
}

// Close releases the transport.
func (m *Mailer) Close() error { return m.transport.Close() }

func (m *Mailer) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}
