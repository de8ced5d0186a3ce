// Package logging builds the zap loggers used across the introducer.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a zap logger for the given mode. "production" (or "prod")
// emits JSON at info level; anything else uses the human readable
// development encoder at debug level. level, when set, overrides the
// mode's default level.
func New(mode, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// RedactEmail keeps the first character of the local part and the domain:
// "satya@microsoft.com" becomes "s***@microsoft.com".
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// Email is a zap field carrying a redacted email address.
func Email(email string) zap.Field {
	return zap.String("email", RedactEmail(email))
}

// Contact is a zap field carrying a contact id.
func Contact(id string) zap.Field {
	return zap.String("contact_id", id)
}
