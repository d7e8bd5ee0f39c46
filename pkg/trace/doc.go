// Package trace records session lifecycle events.
//
// The session layer emits one Event per connectivity flip, handshake,
// subscription replay, liveness probe outcome and teardown. Sinks
// implement Logger; SlogAdapter bridges to log/slog for development
// and NopLogger disables tracing entirely.
package trace
