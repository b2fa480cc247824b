package mailer

import (
	"fmt"
	"os"
	"strings"

	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/osteele/liquid"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "A Quick Hello"

// DefaultBody is the built-in HTML body. Bracketed placeholders are filled
// per recipient.
const DefaultBody = `<p>Dear [Name],</p>
<p>I hope this message finds you in great health and high spirits.</p>
<p>I just wanted to reach out and say hello. I trust everything is going well at [Company Name] in your role as [Designation]. I have a few things I'd love to share with you and would really appreciate the opportunity to connect whenever you have some time.</p>
<p>Looking forward to hearing from you soon.</p>
<p>Warm regards,<br>
[Sender Name]</p>
`

// Message is one fully personalized email ready for a transport.
type Message struct {
	FromName    string
	FromAddress string
	To          string
	Subject     string
	HTML        string
}

// From renders the From header value: "Full Name" <address>.
func (m Message) From() string {
	return fmt.Sprintf("%q <%s>", m.FromName, m.FromAddress)
}

// Template personalizes the subject and body for each recipient. The
// subject is a Liquid template; the body uses literal bracket placeholders.
type Template struct {
	subjectRaw string
	subject    *liquid.Template
	body       string
}

// NewTemplate parses subject as Liquid. A subject that fails to parse is
// sent verbatim.
func NewTemplate(subject, body string) *Template {
	if subject == "" {
		subject = DefaultSubject
	}
	if body == "" {
		body = DefaultBody
	}
	t := &Template{subjectRaw: subject, body: body}
	if tpl, err := liquid.NewEngine().ParseString(subject); err == nil {
		t.subject = tpl
	}
	return t
}

// LoadTemplate reads the HTML body from path, or uses DefaultBody when path
// is empty.
func LoadTemplate(subject, path string) (*Template, error) {
	if path == "" {
		return NewTemplate(subject, ""), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return NewTemplate(subject, string(data)), nil
}

// Body returns the raw, unpersonalized body.
func (t *Template) Body() string { return t.body }

// Render builds the message for one recipient sent from creds.
func (t *Template) Render(creds domain.Credentials, r domain.Recipient) Message {
	return Message{
		FromName:    creds.FullName,
		FromAddress: creds.Email,
		To:          r.Email,
		Subject:     t.renderSubject(creds, r),
		HTML:        replacePlaceholders(t.body, creds, r),
	}
}

func (t *Template) renderSubject(creds domain.Credentials, r domain.Recipient) string {
	if t.subject == nil {
		return t.subjectRaw
	}
	out, err := t.subject.RenderString(liquid.Bindings{
		"name":        r.Name,
		"designation": r.Designation,
		"company":     r.Company,
		"sender_name": creds.FullName,
	})
	if err != nil {
		return t.subjectRaw
	}
	return out
}

// replacePlaceholders substitutes every occurrence of the known bracket
// placeholders. Unknown brackets are left alone and empty fields become
// empty strings.
func replacePlaceholders(body string, creds domain.Credentials, r domain.Recipient) string {
	return strings.NewReplacer(
		"[Name]", r.Name,
		"[Designation]", r.Designation,
		"[Company Name]", r.Company,
		"[Sender Name]", creds.FullName,
	).Replace(body)
}
