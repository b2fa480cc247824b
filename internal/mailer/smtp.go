package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite/batch-mailer/internal/domain"
	"gopkg.in/gomail.v2"
)

// SMTPConfig describes the relay every SMTP transport dials.
type SMTPConfig struct {
	Host               string
	Port               int
	InsecureSkipVerify bool
}

type smtpDialer interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPTransport sends through one authenticated SMTP session that is opened
// by Verify and reused across sends. A failed send drops the session and
// the next send redials.
type SMTPTransport struct {
	dialer smtpDialer
	conn   gomail.SendCloser
}

var _ Transport = (*SMTPTransport)(nil)

// NewSMTPTransport authenticates as the sender's own account.
func NewSMTPTransport(cfg SMTPConfig, creds domain.Credentials) *SMTPTransport {
	d := gomail.NewDialer(cfg.Host, cfg.Port, creds.Email, creds.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &SMTPTransport{dialer: d}
}

// SMTPFactory returns a Factory producing SMTP transports for cfg.
func SMTPFactory(cfg SMTPConfig) Factory {
	return func(creds domain.Credentials) (Transport, error) {
		return NewSMTPTransport(cfg, creds), nil
	}
}

// Verify dials and authenticates, keeping the session for later sends.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := t.dialer.Dial()
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	t.conn = conn
	return nil
}

// Send delivers msg on the open session. gomail has no deadlines, so a
// send still running when ctx ends is abandoned: the session is dropped and
// closed in the background, and the next send redials.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if err := t.Verify(ctx); err != nil {
		return err
	}
	conn := t.conn
	done := make(chan error, 1)
	go func() { done <- gomail.Send(conn, buildMessage(msg)) }()

	select {
	case err := <-done:
		if err != nil {
			t.conn = nil
			conn.Close()
			return err
		}
		return nil
	case <-ctx.Done():
		t.conn = nil
		// QUIT on a stalled session can block as long as the send did
		go conn.Close()
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func (t *SMTPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func buildMessage(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.FromAddress, msg.FromName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID(msg.FromAddress))
	m.SetBody("text/html", msg.HTML)
	return m
}

func messageID(from string) string {
	host := "localhost"
	if _, domain, ok := strings.Cut(from, "@"); ok && domain != "" {
		host = domain
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
}
