// Package zap adapts go.uber.org/zap to the log.Logger interface used by the
// backend clients, and builds environment-specific zap loggers.
package zap
