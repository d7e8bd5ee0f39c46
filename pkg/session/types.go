package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/corelink-protocol/corelink-go/pkg/connector"
	"github.com/corelink-protocol/corelink-go/pkg/trace"
	"github.com/corelink-protocol/corelink-go/pkg/version"
)

// Session errors.
var (
	ErrNotConnected       = errors.New("not connected")
	ErrDestroyed          = errors.New("session destroyed")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrNotInitialized     = errors.New("session not initialized")
	ErrEchoTimeout        = errors.New("liveness echo not received")
)

// Remote methods of the core the session layer invokes. Every call is
// prefixed with (deviceId, deviceToken).
const (
	// MethodInitialize is the registration handshake.
	MethodInitialize = "device.initialize"

	// MethodUnInitialize unregisters the device; returns its id.
	MethodUnInitialize = "device.unInitialize"

	// MethodStatus forwards a device status object.
	MethodStatus = "device.status"

	// MethodPing is the lightweight idle keep-alive call.
	MethodPing = "device.ping"

	// MethodPingWithEcho asks the core to echo a token back through
	// the server-initiated command channel.
	MethodPingWithEcho = "device.pingWithEcho"

	// MethodGetTime returns the core's current time in unix
	// milliseconds.
	MethodGetTime = "system.time"
)

// Timing defaults.
const (
	// DefaultKeepAliveInterval is the idle keep-alive delay.
	DefaultKeepAliveInterval = 90 * time.Second

	// ProbePollInterval is the liveness probe's echo poll interval.
	ProbePollInterval = 300 * time.Millisecond

	// ProbeMaxAttempts is the number of echo polls before the
	// liveness probe gives up.
	ProbeMaxAttempts = 50
)

// DeviceIdentity holds the opaque identifiers issued once for a
// peripheral device. Immutable for the lifetime of a Session.
type DeviceIdentity struct {
	// DeviceID is the stable device identifier.
	DeviceID string `yaml:"deviceId"`

	// Token authenticates the device on every remote call.
	Token string `yaml:"deviceToken"`
}

// DeviceDescriptor is the static metadata sent during the handshake.
type DeviceDescriptor struct {
	// Type is the device type/category understood by the core.
	Type string `yaml:"deviceType"`

	// Name is the human-readable device name.
	Name string `yaml:"deviceName"`

	// Versions optionally reports component versions. When nil the
	// library's default versions map is sent.
	Versions map[string]string `yaml:"versions,omitempty"`
}

// ConnectorFactory creates the transport connector for a root session.
type ConnectorFactory func() (connector.Connector, error)

// Options configures a Session.
type Options struct {
	// Identity is the device identity. Required.
	Identity DeviceIdentity

	// Descriptor is the handshake metadata. Type is required.
	Descriptor DeviceDescriptor

	// NewConnector creates the transport for a root session.
	// Required for Init; ignored for InitWithParent.
	NewConnector ConnectorFactory

	// EnableWatchdog turns on the liveness watchdog for this session.
	EnableWatchdog bool

	// WatchdogTimeout overrides the watchdog cycle wait (default 60s).
	WatchdogTimeout time.Duration

	// WatchdogGrace overrides the watchdog kill grace (default 5s).
	WatchdogGrace time.Duration

	// KeepAliveInterval overrides the idle keep-alive delay
	// (default 90s).
	KeepAliveInterval time.Duration

	// ServerDelay is passed to the time-sync adapter.
	ServerDelay time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// Tracer receives session lifecycle events. If nil, tracing is
	// disabled.
	Tracer trace.Logger
}

// Validate checks if the options are valid.
func (o *Options) Validate() error {
	if o.Identity.DeviceID == "" || o.Identity.Token == "" {
		return errors.New("device identity required")
	}
	if o.Descriptor.Type == "" {
		return errors.New("device type required")
	}
	return nil
}

// StatusCode classifies a device status report.
type StatusCode int

const (
	// StatusUnknown - state not yet determined.
	StatusUnknown StatusCode = iota

	// StatusGood - operating normally.
	StatusGood

	// StatusWarningMinor - degraded, attention suggested.
	StatusWarningMinor

	// StatusWarningMajor - degraded, attention required.
	StatusWarningMajor

	// StatusBad - not operational.
	StatusBad

	// StatusFatal - unrecoverable.
	StatusFatal
)

// String returns the status code name.
func (c StatusCode) String() string {
	switch c {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusGood:
		return "GOOD"
	case StatusWarningMinor:
		return "WARNING_MINOR"
	case StatusWarningMajor:
		return "WARNING_MAJOR"
	case StatusBad:
		return "BAD"
	case StatusFatal:
		return "FATAL"
	default:
		return "INVALID"
	}
}

// Status is a device status report forwarded to the core.
type Status struct {
	// Code is the status classification.
	Code StatusCode `cbor:"code" json:"code"`

	// Messages are optional human-readable details.
	Messages []string `cbor:"messages,omitempty" json:"messages,omitempty"`
}

// handshakeVersions returns the versions map for the handshake.
func (o *Options) handshakeVersions() map[string]string {
	if o.Descriptor.Versions != nil {
		return o.Descriptor.Versions
	}
	return version.DefaultVersions()
}
