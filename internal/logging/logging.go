// Package logging wraps zap for the structured, debug-level protocol
// tracing SessionClient needs: dropped replies, misdirected messages, and
// evictions.
package logging

import "go.uber.org/zap"

// Logger is the narrow interface this module's components depend on,
// satisfied by *zap.SugaredLogger.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// New builds a production zap logger (JSON encoding, info level and above)
// and returns its sugared form.
func New() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// NewDevelopment builds a development zap logger (console encoding, debug
// level and above, caller/stack traces on warn+) for use in tests.
func NewDevelopment() (*zap.SugaredLogger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop returns a Logger that discards everything, for callers that don't
// want logging wired up (e.g. unit tests of unrelated behavior).
func Nop() Logger {
	return zap.NewNop().Sugar()
}
