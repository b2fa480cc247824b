package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "debug",
	INFO:  "info",
	WARN:  "warn",
	ERROR: "error",
}

// ParseLevel maps "debug", "info", "warn" or "error" to a Level. Unknown
// names fall back to INFO.
func ParseLevel(s string) Level {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return l
		}
	}
	return INFO
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Options configures the process-wide logger.
type Options struct {
	Level     Level
	Debug     bool // human-readable development encoder
	RedactPII bool
}

// Logger provides structured logging with optional PII redaction.
// Fields are passed as alternating key/value pairs.
type Logger struct {
	sugar     *zap.SugaredLogger
	redactPII bool
}

var (
	mu            sync.RWMutex
	defaultLogger = mustBuild(Options{Level: INFO, RedactPII: true})
)

func mustBuild(opts Options) *Logger {
	l, err := Build(opts)
	if err != nil {
		return New(zap.NewNop(), opts.RedactPII)
	}
	return l
}

// Build constructs a zap-backed logger writing JSON to stderr.
func Build(opts Options) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(opts.Level.zapLevel())
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return New(z, opts.RedactPII), nil
}

// New wraps an existing zap logger.
func New(z *zap.Logger, redactPII bool) *Logger {
	return &Logger{sugar: z.Sugar(), redactPII: redactPII}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger { return New(zap.NewNop(), false) }

// Init replaces the default logger used by the package-level functions.
func Init(opts Options) error {
	l, err := Build(opts)
	if err != nil {
		return err
	}
	SetDefault(l)
	return nil
}

// SetDefault replaces the default logger.
func SetDefault(l *Logger) {
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Default returns the current default logger.
func Default() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Named returns a child of the default logger tagged with a component name.
func Named(name string) *Logger { return Default().Named(name) }

// Sync flushes buffered entries of the default logger.
func Sync() { _ = Default().sugar.Sync() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { Default().Debug(msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { Default().Info(msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { Default().Warn(msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { Default().Error(msg, fields...) }

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{sugar: l.sugar.Named(name), redactPII: l.redactPII}
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(l.scrub(fields)...), redactPII: l.redactPII}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.sugar.Debugw(msg, l.scrub(fields)...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.sugar.Infow(msg, l.scrub(fields)...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.sugar.Warnw(msg, l.scrub(fields)...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.sugar.Errorw(msg, l.scrub(fields)...) }

// scrub stringifies keys and redacts values that may carry addresses.
// A trailing key without a value is dropped.
func (l *Logger) scrub(fields []interface{}) []interface{} {
	out := make([]interface{}, 0, len(fields))
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fields[i+1]
		if l.redactPII {
			val = redactField(key, val)
		}
		out = append(out, key, val)
	}
	return out
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactField(key string, val interface{}) interface{} {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case error:
		s = v.Error()
	case fmt.Stringer:
		s = v.String()
	default:
		return val
	}
	return redactPIIValue(key, s)
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if (strings.Contains(key, "email") || strings.Contains(key, "recipient")) && strings.Count(val, "@") == 1 && !strings.ContainsAny(val, " <>") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
