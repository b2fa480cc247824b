// Package logger is the structured logging facade used across the service.
//
// Entries are emitted through zap as JSON. Fields are alternating key/value
// pairs; when PII redaction is enabled, values under keys that mention an
// email or recipient are masked and any address embedded in other string
// values is masked too.
package logger
