package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name   string
		creds  Credentials
		suffix string
		field  string
	}{
		{"valid gmail", Credentials{FullName: "Sahil", Email: "sahil@gmail.com", Password: "app-pass"}, "@gmail.com", ""},
		{"suffix is case-insensitive", Credentials{FullName: "Sahil", Email: "Sahil@GMAIL.com", Password: "x"}, "@gmail.com", ""},
		{"any domain when suffix empty", Credentials{FullName: "A", Email: "a@corp.io", Password: "x"}, "", ""},
		{"missing name", Credentials{FullName: "  ", Email: "a@gmail.com", Password: "x"}, "@gmail.com", "fullName"},
		{"malformed address", Credentials{FullName: "A", Email: "not-an-email", Password: "x"}, "@gmail.com", "email"},
		{"display-name form rejected", Credentials{FullName: "A", Email: "A <a@gmail.com>", Password: "x"}, "@gmail.com", "email"},
		{"wrong domain", Credentials{FullName: "A", Email: "a@yahoo.com", Password: "x"}, "@gmail.com", "email"},
		{"missing password", Credentials{FullName: "A", Email: "a@gmail.com"}, "@gmail.com", "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate(tt.suffix)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var fe *FieldError
			require.True(t, errors.As(err, &fe), "expected FieldError, got %v", err)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestCredentialsRedacted(t *testing.T) {
	c := Credentials{FullName: "A", Email: "a@gmail.com", Password: "secret"}
	r := c.Redacted()
	assert.Empty(t, r.Password)
	assert.Equal(t, "secret", c.Password, "original must be untouched")
}

func TestProgress(t *testing.T) {
	p := Progress{Total: 5, Sent: 2, Failed: 1}
	assert.Equal(t, 3, p.Done())
	assert.Equal(t, 2, p.Pending())
	assert.False(t, p.Finished())

	p.Sent = 4
	assert.True(t, p.Finished())
	assert.Equal(t, 0, p.Pending())

	empty := Progress{}
	assert.True(t, empty.Finished(), "an empty batch has nothing left to send")
}

func TestRecipientStatus(t *testing.T) {
	assert.False(t, RecipientPending.IsTerminal())
	assert.True(t, RecipientSent.IsTerminal())
	assert.True(t, RecipientFailed.IsTerminal())
	assert.True(t, RecipientFailed.IsValid())
	assert.False(t, RecipientStatus("bounced").IsValid())
}

func TestNewProgressEvent(t *testing.T) {
	ev := NewProgressEvent(EventUpdate, "b1", Progress{Total: 3, Sent: 1, Failed: 1})
	assert.Equal(t, EventUpdate, ev.Type)
	assert.Equal(t, "b1", ev.BatchID)
	assert.Equal(t, 1, ev.Pending)
}
