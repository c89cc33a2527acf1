// Package constant holds literals shared by the backend clients: environment
// variable names and telemetry attribute keys.
//
// Keep this package free of runtime behavior.
package constant
