package coretest

import (
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Error codes the fake core replies with.
const (
	codeNotFound     = 404
	codeUnauthorized = 403
	codeBadRequest   = 400
)

// callFrame is the wire representation of one remote call.
type callFrame struct {
	Method string `cbor:"method"`
	Args   []any  `cbor:"args"`
}

// replyFrame is the wire representation of one reply.
type replyFrame struct {
	Result  any    `cbor:"result,omitempty"`
	ErrCode int    `cbor:"errCode,omitempty"`
	ErrMsg  string `cbor:"errMsg,omitempty"`
}

// DeviceRecord is the core-side view of one registered device.
type DeviceRecord struct {
	ID             string
	Token          string
	Type           string
	Name           string
	ConnectionID   string
	ParentDeviceID string
	Versions       map[string]string

	Handshakes int
	Pings      int
	Echoes     int
	LastStatus map[string]any
}

// Core is an in-memory fake of the central service. It speaks the
// same CBOR call frames a real transport would carry and implements
// the device-facing method surface: registration handshake,
// unregistration, status, ping and the echo probe.
//
// Connections are made through Conn, which dispatches into the core
// synchronously.
type Core struct {
	mu sync.Mutex

	tokens  map[string]string
	devices map[string]*DeviceRecord

	refuseConnects int
	echoFn         func(token string)
	now            func() time.Time
}

// NewCore creates an empty fake core that accepts every device token.
func NewCore() *Core {
	return &Core{
		tokens:  make(map[string]string),
		devices: make(map[string]*DeviceRecord),
		now:     time.Now,
	}
}

// RequireToken makes the core reject calls for deviceID that do not
// carry the given token.
func (c *Core) RequireToken(deviceID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[deviceID] = token
}

// RefuseConnections makes the next n connection attempts fail.
func (c *Core) RefuseConnections(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refuseConnects = n
}

// OnEcho installs the echo delivery hook. The fake core has no real
// server-initiated command channel; tests route the hook to
// Session.SetPingResponse.
func (c *Core) OnEcho(fn func(token string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.echoFn = fn
}

// SetNow overrides the core's clock.
func (c *Core) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Device returns a copy of the record for deviceID.
func (c *Core) Device(deviceID string) (DeviceRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.devices[deviceID]
	if !ok {
		return DeviceRecord{}, false
	}
	return *rec, true
}

// Registered reports whether deviceID currently has a registration.
func (c *Core) Registered(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.devices[deviceID]
	return ok
}

// HandshakeCount returns how many handshakes deviceID has performed,
// counting across unregister/re-register.
func (c *Core) HandshakeCount(deviceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.devices[deviceID]; ok {
		return rec.Handshakes
	}
	return 0
}

// acceptConnect consumes one connection attempt.
func (c *Core) acceptConnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refuseConnects > 0 {
		c.refuseConnects--
		return false
	}
	return true
}

// dispatch handles one encoded call frame and returns the encoded
// reply, exactly as a wire transport would.
func (c *Core) dispatch(data []byte) []byte {
	var frame callFrame
	if err := cbor.Unmarshal(data, &frame); err != nil {
		return encodeReply(replyFrame{ErrCode: codeBadRequest, ErrMsg: "malformed call frame"})
	}
	return encodeReply(c.handle(frame))
}

func (c *Core) handle(frame callFrame) replyFrame {
	if len(frame.Args) < 2 {
		return replyFrame{ErrCode: codeBadRequest, ErrMsg: "missing device identity"}
	}
	deviceID, _ := frame.Args[0].(string)
	token, _ := frame.Args[1].(string)
	args := frame.Args[2:]

	c.mu.Lock()
	if expected, ok := c.tokens[deviceID]; ok && expected != token {
		c.mu.Unlock()
		return replyFrame{ErrCode: codeUnauthorized, ErrMsg: "invalid device token"}
	}

	switch frame.Method {
	case "device.initialize":
		return c.handleInitializeLocked(deviceID, token, args)

	case "device.unInitialize":
		if _, ok := c.devices[deviceID]; !ok {
			c.mu.Unlock()
			return replyFrame{ErrCode: codeNotFound, ErrMsg: "device not registered"}
		}
		delete(c.devices, deviceID)
		c.mu.Unlock()
		return replyFrame{Result: deviceID}

	case "device.status":
		rec, ok := c.devices[deviceID]
		if !ok {
			c.mu.Unlock()
			return replyFrame{ErrCode: codeNotFound, ErrMsg: "device not registered"}
		}
		if len(args) < 1 {
			c.mu.Unlock()
			return replyFrame{ErrCode: codeBadRequest, ErrMsg: "missing status"}
		}
		status := asStringMap(args[0])
		rec.LastStatus = status
		c.mu.Unlock()
		return replyFrame{Result: status}

	case "device.ping":
		rec, ok := c.devices[deviceID]
		if !ok {
			c.mu.Unlock()
			return replyFrame{ErrCode: codeNotFound, ErrMsg: "device not registered"}
		}
		rec.Pings++
		c.mu.Unlock()
		return replyFrame{Result: "pong"}

	case "device.pingWithEcho":
		rec, ok := c.devices[deviceID]
		if !ok {
			c.mu.Unlock()
			return replyFrame{ErrCode: codeNotFound, ErrMsg: "device not registered"}
		}
		if len(args) < 1 {
			c.mu.Unlock()
			return replyFrame{ErrCode: codeBadRequest, ErrMsg: "missing echo token"}
		}
		echoToken, _ := args[0].(string)
		rec.Echoes++
		echoFn := c.echoFn
		c.mu.Unlock()
		if echoFn != nil {
			echoFn(echoToken)
		}
		return replyFrame{}

	case "system.time":
		now := c.now
		c.mu.Unlock()
		return replyFrame{Result: now().UnixMilli()}

	default:
		c.mu.Unlock()
		return replyFrame{ErrCode: codeNotFound, ErrMsg: "unknown method " + frame.Method}
	}
}

// handleInitializeLocked registers or re-registers a device. Called
// with c.mu held; releases it.
func (c *Core) handleInitializeLocked(deviceID, token string, args []any) replyFrame {
	defer c.mu.Unlock()

	if len(args) < 1 {
		return replyFrame{ErrCode: codeBadRequest, ErrMsg: "missing announcement"}
	}
	announcement := asStringMap(args[0])
	if announcement == nil {
		return replyFrame{ErrCode: codeBadRequest, ErrMsg: "malformed announcement"}
	}

	rec, ok := c.devices[deviceID]
	if !ok {
		rec = &DeviceRecord{ID: deviceID}
		c.devices[deviceID] = rec
	}
	rec.Token = token
	rec.Type, _ = announcement["type"].(string)
	rec.Name, _ = announcement["name"].(string)
	rec.ConnectionID, _ = announcement["connectionId"].(string)
	rec.ParentDeviceID, _ = announcement["parentDeviceId"].(string)
	rec.Versions = asStringStringMap(announcement["versions"])
	rec.Handshakes++

	return replyFrame{Result: deviceID}
}

func encodeReply(reply replyFrame) []byte {
	data, err := cbor.Marshal(reply)
	if err != nil {
		// Reply frames only carry plain values; this cannot happen
		// for the shapes the core produces.
		panic(err)
	}
	return data
}

// asStringMap normalizes CBOR-decoded maps, whose keys decode as any.
func asStringMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for key, value := range m {
			if name, ok := key.(string); ok {
				out[name] = value
			}
		}
		return out
	default:
		return nil
	}
}

func asStringStringMap(v any) map[string]string {
	m := asStringMap(v)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for key, value := range m {
		if text, ok := value.(string); ok {
			out[key] = text
		}
	}
	return out
}
