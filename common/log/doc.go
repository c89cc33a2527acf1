// Package log defines the logging interface shared by every backend client
// in this module, together with typed fields and a no-op implementation.
//
// The zap package provides the production adapter.
package log
