// Package opentelemetry holds the telemetry helpers shared by the backend
// clients: OTLP provider setup, span error recording, connection counters
// and trace-context propagation through message headers.
package opentelemetry
