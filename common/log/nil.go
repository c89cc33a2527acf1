package log

import "context"

// NopLogger drops every entry.
type NopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &NopLogger{}
}

func (l *NopLogger) Log(_ context.Context, _ Level, _ string, _ ...Field) {}

//nolint:ireturn
func (l *NopLogger) With(_ ...Field) Logger {
	return l
}

func (l *NopLogger) Enabled(_ Level) bool {
	return false
}

func (l *NopLogger) Sync(_ context.Context) error { return nil }
