package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

// Credentials identify the single mail account a batch is sent from.
// The password is never serialized back out.
type Credentials struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// FieldError describes one invalid credential field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the credential shape: non-empty name, a parseable address
// ending in domainSuffix (case-insensitive; empty suffix accepts any domain),
// and a non-empty secret.
func (c Credentials) Validate(domainSuffix string) error {
	if strings.TrimSpace(c.FullName) == "" {
		return &FieldError{Field: "fullName", Message: "Full name is required"}
	}
	addr, err := mail.ParseAddress(c.Email)
	if err != nil || addr.Address != strings.TrimSpace(c.Email) {
		return &FieldError{Field: "email", Message: "Invalid email address"}
	}
	if domainSuffix != "" && !strings.HasSuffix(strings.ToLower(addr.Address), strings.ToLower(domainSuffix)) {
		return &FieldError{Field: "email", Message: fmt.Sprintf("Only %s addresses are supported", strings.TrimPrefix(domainSuffix, "@"))}
	}
	if c.Password == "" {
		return &FieldError{Field: "password", Message: "Password is required"}
	}
	return nil
}

// Redacted returns a copy without the secret.
func (c Credentials) Redacted() Credentials {
	c.Password = ""
	return c
}
