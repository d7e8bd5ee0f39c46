package trace

import (
	"log/slog"
	"time"
)

// Kind classifies a lifecycle event.
type Kind uint8

const (
	// KindConnected - transport connectivity established.
	KindConnected Kind = iota + 1

	// KindDisconnected - transport connectivity lost.
	KindDisconnected

	// KindHandshake - device handshake sent and confirmed.
	KindHandshake

	// KindReplay - auto subscriptions replayed after (re)connect.
	KindReplay

	// KindProbe - liveness probe completed.
	KindProbe

	// KindUnhealthy - watchdog declared the process unhealthy.
	KindUnhealthy

	// KindDestroyed - session torn down.
	KindDestroyed
)

// String returns the event kind name.
func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "CONNECTED"
	case KindDisconnected:
		return "DISCONNECTED"
	case KindHandshake:
		return "HANDSHAKE"
	case KindReplay:
		return "REPLAY"
	case KindProbe:
		return "PROBE"
	case KindUnhealthy:
		return "UNHEALTHY"
	case KindDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// Event is one session lifecycle event.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Kind classifies the event.
	Kind Kind

	// DeviceID is the device the event belongs to, if known.
	DeviceID string

	// SessionID is the transport session id at event time, if any.
	SessionID string

	// Detail carries event-specific context (subscription counts,
	// probe outcome, error text).
	Detail map[string]any
}

// Logger receives session lifecycle events. Pass nil or NopLogger to
// disable tracing. Implementations must be safe for concurrent use.
type Logger interface {
	Log(event Event)
}

// NopLogger discards all events. Usable as a zero value.
type NopLogger struct{}

// Log discards the event.
func (NopLogger) Log(Event) {}

var _ Logger = NopLogger{}

// SlogAdapter writes lifecycle events to an slog.Logger at debug
// level, except unhealthy events which log at warn.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the underlying slog logger.
func (a *SlogAdapter) Log(event Event) {
	if a.logger == nil {
		return
	}

	attrs := []any{
		"kind", event.Kind.String(),
	}
	if event.DeviceID != "" {
		attrs = append(attrs, "device_id", event.DeviceID)
	}
	if event.SessionID != "" {
		attrs = append(attrs, "session_id", event.SessionID)
	}
	for k, v := range event.Detail {
		attrs = append(attrs, k, v)
	}

	if event.Kind == KindUnhealthy {
		a.logger.Warn("session event", attrs...)
		return
	}
	a.logger.Debug("session event", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
