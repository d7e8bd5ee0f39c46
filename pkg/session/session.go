package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corelink-protocol/corelink-go/pkg/connector"
	"github.com/corelink-protocol/corelink-go/pkg/notify"
	"github.com/corelink-protocol/corelink-go/pkg/timesync"
	"github.com/corelink-protocol/corelink-go/pkg/trace"
	"github.com/corelink-protocol/corelink-go/pkg/watchdog"
)

// lifecycleCallTimeout bounds remote calls the session issues on its
// own behalf (handshake, replay, keep-alive) when no caller context is
// available.
const lifecycleCallTimeout = 30 * time.Second

// Session is one logical connection of a peripheral device to the
// core. A root session owns a transport connector; child sessions
// delegate all remote calls to the root of their connection tree and
// mirror its connectivity.
//
// A session survives transport reconnects: whenever connectivity comes
// back under a new transport session id it silently repeats the device
// handshake and replays its auto subscriptions.
type Session struct {
	mu sync.Mutex

	id   string
	opts Options

	arena *arena

	// conn is set for root sessions only, during Init, and is not
	// replaced afterwards.
	conn connector.Connector

	initialized bool
	closing     bool
	destroyed   bool
	connected   bool

	// lastHandshakeSessionID is the transport session id the last
	// handshake was sent under. Comparing it against the connector's
	// current id detects reconnects that happened underneath us.
	lastHandshakeSessionID string
	assignedDeviceID       string

	lastPingResponse string

	registry  *registry
	keepAlive *idleTimer

	wd       *watchdog.Watchdog
	wdHandle watchdog.Handle

	clock *timesync.Synchronizer

	removeConnHooks  []func()
	removeParentHook func()

	connChangedHub  *notify.Hub[bool]
	connectedHub    *notify.Hub[struct{}]
	disconnectedHub *notify.Hub[struct{}]
	errorHub        *notify.Hub[error]
	failedHub       *notify.Hub[error]

	tracer trace.Logger
}

// New creates a session from the given options. The session is inert
// until Init or InitWithParent is called.
func New(opts Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.NopLogger{}
	}

	s := &Session{
		id:              uuid.NewString(),
		opts:            opts,
		registry:        newRegistry(),
		connChangedHub:  notify.NewHub[bool](),
		connectedHub:    notify.NewHub[struct{}](),
		disconnectedHub: notify.NewHub[struct{}](),
		errorHub:        notify.NewHub[error](),
		failedHub:       notify.NewHub[error](),
		tracer:          tracer,
	}
	s.keepAlive = newIdleTimer(opts.KeepAliveInterval, s.keepAliveFired)
	return s, nil
}

// Init creates the transport via the configured connector factory,
// connects, performs the device handshake and initializes time
// synchronization. It returns the device id assigned by the core.
func (s *Session) Init(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", ErrDestroyed
	}
	if s.initialized {
		s.mu.Unlock()
		return "", ErrAlreadyInitialized
	}
	factory := s.opts.NewConnector
	s.mu.Unlock()

	if factory == nil {
		return "", fmt.Errorf("%w: no connector factory configured", ErrNotConnected)
	}
	conn, err := factory()
	if err != nil {
		return "", fmt.Errorf("%w: creating connector: %v", ErrNotConnected, err)
	}

	s.mu.Lock()
	s.initialized = true
	s.conn = conn
	if s.arena == nil {
		s.arena = newArena()
	}
	a := s.arena
	s.mu.Unlock()
	a.register(s)

	s.wireConnector(conn)

	if s.opts.EnableWatchdog {
		wd := watchdog.New(watchdog.Config{
			Timeout: s.opts.WatchdogTimeout,
			Grace:   s.opts.WatchdogGrace,
			Logger:  s.opts.Logger,
		})
		wd.OnUnhealthy(s.unhealthySignalled)
		s.mu.Lock()
		s.wd = wd
		s.mu.Unlock()
		wd.Start()
	}

	if err := conn.Connect(ctx); err != nil {
		return "", err
	}

	// The connector may or may not have reported the initial
	// connectivity itself; this flip is idempotent.
	s.handleConnectivity(true)

	deviceID, err := s.ensureHandshake(ctx)
	if err != nil {
		return "", err
	}

	s.initTimeSync(ctx)

	return deviceID, nil
}

// InitWithParent attaches this session as a child of parent, mirrors
// the parent's connectivity and performs its own device handshake over
// the shared transport, announcing the parent's device id. It returns
// the device id assigned by the core.
//
// Every failure path fully rolls back: the session is detached again
// and stays uninitialized, so the caller can retry once the parent is
// connected.
func (s *Session) InitWithParent(ctx context.Context, parent *Session) (string, error) {
	if parent == nil {
		return "", fmt.Errorf("%w: no parent session", ErrNotConnected)
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", ErrDestroyed
	}
	if s.initialized {
		s.mu.Unlock()
		return "", ErrAlreadyInitialized
	}
	s.initialized = true
	s.mu.Unlock()

	uninitialize := func() {
		s.mu.Lock()
		s.initialized = false
		s.mu.Unlock()
	}

	if err := parent.AddChild(s); err != nil {
		uninitialize()
		return "", err
	}

	if !s.Connected() {
		parent.RemoveChild(s)
		uninitialize()
		return "", fmt.Errorf("%w: parent session is disconnected", ErrNotConnected)
	}

	deviceID, err := s.ensureHandshake(ctx)
	if err != nil {
		parent.RemoveChild(s)
		uninitialize()
		return "", err
	}
	return deviceID, nil
}

// AddChild attaches child under s. The child joins s's connection
// tree, follows s's connectivity from now on and immediately adopts
// the current state. Re-attaching a previously removed child triggers
// a fresh handshake if the transport session changed in between.
func (s *Session) AddChild(child *Session) error {
	if child == nil || child == s {
		return fmt.Errorf("invalid child session")
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.arena == nil {
		s.arena = newArena()
	}
	a := s.arena
	s.mu.Unlock()
	a.register(s)

	child.mu.Lock()
	if child.destroyed {
		child.mu.Unlock()
		return ErrDestroyed
	}
	childArena := child.arena
	child.arena = a
	child.mu.Unlock()

	if childArena != nil && childArena != a {
		a.adoptFrom(childArena)
	}
	a.register(child)
	a.link(s.id, child.id)

	remove := s.connChangedHub.Subscribe(child.handleConnectivity)
	child.mu.Lock()
	oldHook := child.removeParentHook
	child.removeParentHook = remove
	child.mu.Unlock()
	if oldHook != nil {
		oldHook()
	}

	child.handleConnectivity(s.Connected())
	return nil
}

// RemoveChild detaches child from s. The child stops following s's
// connectivity and is treated as disconnected; it is not destroyed
// and can be re-attached later. Calling it on a session that is not
// a child of s is a no-op.
func (s *Session) RemoveChild(child *Session) {
	if child == nil {
		return
	}

	s.mu.Lock()
	a := s.arena
	s.mu.Unlock()
	if a == nil || a.parentOf(child.id) != s {
		return
	}
	a.unlink(child.id)

	child.mu.Lock()
	remove := child.removeParentHook
	child.removeParentHook = nil
	child.mu.Unlock()
	if remove != nil {
		remove()
	}

	child.handleConnectivity(false)
}

/// Destroy tears down the session: it signals a disconnect, destroys
// all child sessions, stops the watchdog and keep-alive, detaches from
// its parent and closes the transport if this session owns it.
// Destroy is idempotent.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed || s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.mu.Unlock()

	// Flip to disconnected first so observers see exactly one
	// disconnect, then freeze the session.
	s.handleConnectivity(false)

	s.mu.Lock()
	s.destroyed = true
	conn := s.conn
	wd := s.wd
	s.wd = nil
	removeHooks := s.removeConnHooks
	s.removeConnHooks = nil
	removeParent := s.removeParentHook
	s.removeParentHook = nil
	a := s.arena
	s.mu.Unlock()

	if removeParent != nil {
		removeParent()
	}

	if a != nil {
		for _, child := range a.childrenOf(s.id) {
			child.Destroy()
		}
	}

	if wd != nil {
		wd.Stop()
	}
	s.keepAlive.cancel()

	for _, remove := range removeHooks {
		remove()
	}
	if conn != nil {
		conn.Close()
	}
	if a != nil {
		a.unregister(s.id)
	}

	s.trace(trace.KindDestroyed, nil)
}

// CallMethod invokes a remote method over the connection tree's
// transport, prefixed with the device identity. It fails with
// ErrNotConnected while the session is disconnected and with
// ErrDestroyed after Destroy.
func (s *Session) CallMethod(ctx context.Context, method string, args ...any) (any, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, ErrDestroyed
	}
	if !s.initialized {
		s.mu.Unlock()
		return nil, ErrNotInitialized
	}
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}
	conn := s.transport()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return s.callWithIdentity(ctx, conn, method, args...)
}

// SetStatus forwards a device status to the core and returns the
// status the core accepted.
func (s *Session) SetStatus(ctx context.Context, status Status) (Status, error) {
	result, err := s.CallMethod(ctx, MethodStatus, statusArgument(status))
	if err != nil {
		return Status{}, err
	}
	return statusFromResult(result), nil
}

// UnInitialize unregisters the device from the core and returns the id
// the core released. The session itself stays alive; subsequent
// device-scoped calls fail remotely with a not-found error.
func (s *Session) UnInitialize(ctx context.Context) (string, error) {
	result, err := s.CallMethod(ctx, MethodUnInitialize)
	if err != nil {
		return "", err
	}
	id, _ := result.(string)
	return id, nil
}

// Ping issues a lightweight keep-alive call.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.CallMethod(ctx, MethodPing)
	return err
}

// Subscribe establishes a plain subscription over the tree's
// transport. Plain subscriptions are not replayed after a reconnect.
func (s *Session) Subscribe(ctx context.Context, publication string, params ...any) (string, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", ErrDestroyed
	}
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		return "", ErrNotConnected
	}
	conn := s.transport()
	if conn == nil {
		return "", ErrNotConnected
	}
	return conn.Subscribe(ctx, publication, params...)
}

// AutoSubscribe establishes a subscription and records it for silent
// replay after every reconnect. The returned id identifies the current
// live subscription; replays allocate fresh ids internally.
func (s *Session) AutoSubscribe(ctx context.Context, publication string, params ...any) (string, error) {
	id, err := s.Subscribe(ctx, publication, params...)
	if err != nil {
		return "", err
	}
	s.registry.record(id, publication, params)
	return id, nil
}

// Unsubscribe cancels a subscription by id and drops it from the
// replay registry if it was an auto subscription.
func (s *Session) Unsubscribe(id string) error {
	s.registry.remove(id)

	conn := s.transport()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Unsubscribe(id)
}

// Observe registers change hooks for a local collection cache on the
// tree's transport. The returned function stops observation; it is
// non-nil even while disconnected.
func (s *Session) Observe(collection string, obs connector.Observer) (stop func()) {
	conn := s.transport()
	if conn == nil {
		return func() {}
	}
	return conn.Observe(collection, obs)
}

// Collection returns the local cache of a subscribed collection, or
// nil while disconnected.
func (s *Session) Collection(name string) connector.Collection {
	conn := s.transport()
	if conn == nil {
		return nil
	}
	return conn.Collection(name)
}

// SetPingResponse records a token echoed back by the core. The hosting
// process routes the core's echo command here; the liveness probe
// polls it.
func (s *Session) SetPingResponse(token string) {
	s.mu.Lock()
	s.lastPingResponse = token
	s.mu.Unlock()
}

// CurrentTime returns the core's estimated current time, delegated to
// the connection tree's root. Before a successful synchronization it
// returns the local time.
func (s *Session) CurrentTime() time.Time {
	if clock := s.timeSync(); clock != nil {
		return clock.CurrentTime()
	}
	return time.Now()
}

// TimeSync returns the tree's time synchronizer, or nil before the
// root session initialized one.
func (s *Session) TimeSync() *timesync.Synchronizer {
	return s.timeSync()
}

// Watchdog returns this session's watchdog, or nil when the watchdog
// is disabled or the session is not a root.
func (s *Session) Watchdog() *watchdog.Watchdog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wd
}

// Connected reports whether the session currently considers itself
// connected.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// DeviceID returns the device id assigned by the core during the
// handshake, falling back to the configured identity before the first
// handshake.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignedDeviceID != "" {
		return s.assignedDeviceID
	}
	return s.opts.Identity.DeviceID
}

// SessionID returns this session's stable local identifier. It is
// unrelated to the transport session id, which changes on reconnect.
func (s *Session) SessionID() string {
	return s.id
}

// TransportSessionID returns the current transport session id of the
// connection tree, or "" while disconnected.
func (s *Session) TransportSessionID() string {
	conn := s.transport()
	if conn == nil {
		return ""
	}
	return conn.ConnectionID()
}

// Parent returns the parent session, or nil for roots and detached
// sessions.
func (s *Session) Parent() *Session {
	s.mu.Lock()
	a := s.arena
	s.mu.Unlock()
	if a == nil {
		return nil
	}
	return a.parentOf(s.id)
}

// Children returns the direct child sessions.
func (s *Session) Children() []*Session {
	s.mu.Lock()
	a := s.arena
	s.mu.Unlock()
	if a == nil {
		return nil
	}
	return a.childrenOf(s.id)
}

// AutoSubscriptionCount returns the number of recorded auto
// subscriptions.
func (s *Session) AutoSubscriptionCount() int {
	return s.registry.count()
}

// OnConnected registers a handler fired when the session becomes
// connected. The returned function removes the registration.
func (s *Session) OnConnected(fn func()) (remove func()) {
	return s.connectedHub.Subscribe(func(struct{}) { fn() })
}

// OnDisconnected registers a handler fired when the session loses
// connectivity.
func (s *Session) OnDisconnected(fn func()) (remove func()) {
	return s.disconnectedHub.Subscribe(func(struct{}) { fn() })
}

// OnConnectionChanged registers a handler fired on every connectivity
// flip with the new state.
func (s *Session) OnConnectionChanged(fn func(connected bool)) (remove func()) {
	return s.connChangedHub.Subscribe(fn)
}

// OnError registers a handler for asynchronous session errors:
// transport errors, failed handshake repeats, failed subscription
// replays.
func (s *Session) OnError(fn func(err error)) (remove func()) {
	return s.errorHub.Subscribe(fn)
}

// OnFailed registers a handler for terminal transport failures.
func (s *Session) OnFailed(fn func(err error)) (remove func()) {
	return s.failedHub.Subscribe(fn)
}

// ownConnector returns the connector this session owns, or nil for
// child sessions.
func (s *Session) ownConnector() connector.Connector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// setArena is used when a session's tree is merged into another one.
func (s *Session) setArena(a *arena) {
	s.mu.Lock()
	s.arena = a
	s.mu.Unlock()
}

// transport resolves the connection tree's connector.
func (s *Session) transport() connector.Connector {
	s.mu.Lock()
	a := s.arena
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		return conn
	}
	if a == nil {
		return nil
	}
	return a.transportOf(s.id)
}

// timeSync resolves the tree root's synchronizer.
func (s *Session) timeSync() *timesync.Synchronizer {
	s.mu.Lock()
	a := s.arena
	clock := s.clock
	s.mu.Unlock()

	if clock != nil {
		return clock
	}
	if a == nil {
		return nil
	}
	root := a.rootOf(s.id)
	if root == nil || root == s {
		return nil
	}
	root.mu.Lock()
	defer root.mu.Unlock()
	return root.clock
}

// wireConnector subscribes the session to the connector's lifecycle
// events.
func (s *Session) wireConnector(conn connector.Connector) {
	hooks := []func(){
		conn.OnConnectionChanged(s.handleConnectivity),
		conn.OnError(func(err error) {
			s.errorHub.Publish(err)
		}),
		conn.OnFailed(func(err error) {
			s.failedHub.Publish(err)
		}),
	}

	s.mu.Lock()
	s.removeConnHooks = append(s.removeConnHooks, hooks...)
	s.mu.Unlock()
}

// handleConnectivity is the single entry point for connectivity flips,
// whether they come from the own connector or from the parent session.
// Repeated reports of the current state are ignored, so observers see
// every transition exactly once.
func (s *Session) handleConnectivity(isConnected bool) {
	s.mu.Lock()
	if s.destroyed || s.connected == isConnected {
		s.mu.Unlock()
		return
	}
	s.connected = isConnected
	s.mu.Unlock()

	if isConnected {
		s.onConnected()
	} else {
		s.onDisconnected()
	}

	s.connChangedHub.Publish(isConnected)
	if isConnected {
		s.connectedHub.Publish(struct{}{})
	} else {
		s.disconnectedHub.Publish(struct{}{})
	}
}

// onConnected runs the connected-side lifecycle: handshake repeat
// detection, auto-subscription replay, probe registration and
// keep-alive arming. Failures are surfaced via OnError; connectivity
// itself stays up.
func (s *Session) onConnected() {
	s.trace(trace.KindConnected, nil)

	ctx, cancel := context.WithTimeout(context.Background(), lifecycleCallTimeout)
	defer cancel()

	if _, err := s.ensureHandshake(ctx); err != nil {
		s.errorHub.Publish(fmt.Errorf("handshake: %w", err))
		if logger := s.opts.Logger; logger != nil {
			logger.Debug("session: handshake failed",
				"deviceID", s.opts.Identity.DeviceID,
				"error", err)
		}
	}

	s.replaySubscriptions(ctx)
	s.registerProbe()
	s.keepAlive.arm()
}

// onDisconnected tears down the connected-side lifecycle.
func (s *Session) onDisconnected() {
	s.deregisterProbe()
	s.keepAlive.cancel()
	s.trace(trace.KindDisconnected, nil)
}

// ensureHandshake sends the device handshake if none was confirmed for
// the current transport session id yet. A changed id means the
// transport reconnected underneath us and the core no longer knows the
// device, so the handshake is silently repeated.
func (s *Session) ensureHandshake(ctx context.Context) (string, error) {
	conn := s.transport()
	if conn == nil || !conn.Connected() {
		return "", ErrNotConnected
	}
	transportSessionID := conn.ConnectionID()
	if transportSessionID == "" {
		return "", ErrNotConnected
	}

	s.mu.Lock()
	if s.lastHandshakeSessionID == transportSessionID {
		id := s.assignedDeviceID
		s.mu.Unlock()
		return id, nil
	}
	// Claim the transport session id before calling out, so a
	// concurrent flip does not double-send.
	s.lastHandshakeSessionID = transportSessionID
	s.mu.Unlock()

	var parentDeviceID string
	if parent := s.Parent(); parent != nil {
		parentDeviceID = parent.DeviceID()
	}

	announcement := map[string]any{
		"type":         s.opts.Descriptor.Type,
		"name":         s.opts.Descriptor.Name,
		"connectionId": transportSessionID,
		"versions":     s.opts.handshakeVersions(),
	}
	if parentDeviceID != "" {
		announcement["parentDeviceId"] = parentDeviceID
	}

	result, err := s.callWithIdentity(ctx, conn, MethodInitialize, announcement)
	if err != nil {
		s.mu.Lock()
		if s.lastHandshakeSessionID == transportSessionID {
			s.lastHandshakeSessionID = ""
		}
		s.mu.Unlock()
		return "", err
	}

	assigned, _ := result.(string)
	if assigned == "" {
		assigned = s.opts.Identity.DeviceID
	}

	s.mu.Lock()
	s.assignedDeviceID = assigned
	s.mu.Unlock()

	s.trace(trace.KindHandshake, map[string]any{
		"assignedDeviceID": assigned,
	})

	return assigned, nil
}

// replaySubscriptions silently re-establishes all recorded auto
// subscriptions over the current transport session.
func (s *Session) replaySubscriptions(ctx context.Context) {
	subs := s.registry.snapshot()
	if len(subs) == 0 {
		return
	}

	conn := s.transport()
	if conn == nil {
		return
	}

	replayed := 0
	for _, sub := range subs {
		newID, err := conn.Subscribe(ctx, sub.publication, sub.params...)
		if err != nil {
			s.errorHub.Publish(fmt.Errorf("replaying subscription %q: %w", sub.publication, err))
			continue
		}
		s.registry.rekey(sub.id, newID)
		replayed++
	}

	s.trace(trace.KindReplay, map[string]any{
		"replayed": replayed,
		"total":    len(subs),
	})
}

// registerProbe adds the liveness probe to the watchdog for the
// duration of the connectivity.
func (s *Session) registerProbe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wd == nil || s.wdHandle != 0 {
		return
	}
	probe := &livenessProbe{sess: s}
	s.wdHandle = s.wd.AddCheck(probe.run)
}

// deregisterProbe removes the liveness probe from the watchdog.
func (s *Session) deregisterProbe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wd == nil || s.wdHandle == 0 {
		return
	}
	s.wd.RemoveCheck(s.wdHandle)
	s.wdHandle = 0
}

// keepAliveFired is the idle keep-alive callback. It pings the core
// and re-arms while the session stays connected. Ping failures are not
// fatal here; a dead connection is the watchdog's call.
func (s *Session) keepAliveFired() {
	if !s.Connected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lifecycleCallTimeout)
	defer cancel()

	if err := s.Ping(ctx); err != nil {
		if logger := s.opts.Logger; logger != nil {
			logger.Debug("session: keep-alive ping failed",
				"deviceID", s.opts.Identity.DeviceID,
				"error", err)
		}
	}

	if s.Connected() {
		s.keepAlive.arm()
	}
}

// pingResponse returns the most recently echoed token.
func (s *Session) pingResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPingResponse
}

// probeSucceeded is called by the liveness probe after a confirmed
// echo round trip. The round trip doubles as activity, so the idle
// keep-alive is pushed out.
func (s *Session) probeSucceeded() {
	s.keepAlive.delay()
	s.trace(trace.KindProbe, map[string]any{"ok": true})
}

// unhealthySignalled forwards the watchdog's verdict to the trace log.
func (s *Session) unhealthySignalled(sig watchdog.Signal) {
	s.trace(trace.KindUnhealthy, map[string]any{
		"checks": sig.Checks,
	})
}

// initTimeSync creates the root session's synchronizer and performs
// the initial round trip. Failures are reported via OnError; the
// session works without synchronized time.
func (s *Session) initTimeSync(ctx context.Context) {
	clock := timesync.New(timesync.Config{ServerDelay: s.opts.ServerDelay}, s.queryCoreTime)

	s.mu.Lock()
	s.clock = clock
	s.mu.Unlock()

	if err := clock.Init(ctx); err != nil {
		s.errorHub.Publish(fmt.Errorf("time sync: %w", err))
		if logger := s.opts.Logger; logger != nil {
			logger.Debug("session: time sync failed",
				"deviceID", s.opts.Identity.DeviceID,
				"error", err)
		}
	}
}

// queryCoreTime asks the core for its current time.
func (s *Session) queryCoreTime(ctx context.Context) (time.Time, error) {
	result, err := s.CallMethod(ctx, MethodGetTime)
	if err != nil {
		return time.Time{}, err
	}
	return timeFromResult(result)
}

// callWithIdentity prefixes every remote call with the device
// identity.
func (s *Session) callWithIdentity(ctx context.Context, conn connector.Connector, method string, args ...any) (any, error) {
	callArgs := make([]any, 0, len(args)+2)
	callArgs = append(callArgs, s.opts.Identity.DeviceID, s.opts.Identity.Token)
	callArgs = append(callArgs, args...)
	return conn.Call(ctx, method, callArgs...)
}

// trace emits a lifecycle event.
func (s *Session) trace(kind trace.Kind, detail map[string]any) {
	s.mu.Lock()
	deviceID := s.assignedDeviceID
	if deviceID == "" {
		deviceID = s.opts.Identity.DeviceID
	}
	transportSessionID := s.lastHandshakeSessionID
	tracer := s.tracer
	s.mu.Unlock()

	tracer.Log(trace.Event{
		Timestamp: time.Now(),
		Kind:      kind,
		DeviceID:  deviceID,
		SessionID: transportSessionID,
		Detail:    detail,
	})
}

// statusArgument converts a status into the wire representation.
func statusArgument(status Status) map[string]any {
	arg := map[string]any{
		"code": int(status.Code),
	}
	if len(status.Messages) > 0 {
		arg["messages"] = status.Messages
	}
	return arg
}

// statusFromResult parses the core's status reply.
func statusFromResult(result any) Status {
	switch v := result.(type) {
	case Status:
		return v
	case map[string]any:
		return statusFromMap(v)
	case map[any]any:
		converted := make(map[string]any, len(v))
		for key, value := range v {
			if name, ok := key.(string); ok {
				converted[name] = value
			}
		}
		return statusFromMap(converted)
	default:
		return Status{}
	}
}

func statusFromMap(m map[string]any) Status {
	var status Status
	switch code := m["code"].(type) {
	case int:
		status.Code = StatusCode(code)
	case int64:
		status.Code = StatusCode(code)
	case uint64:
		status.Code = StatusCode(code)
	case float64:
		status.Code = StatusCode(code)
	}
	if messages, ok := m["messages"].([]any); ok {
		for _, message := range messages {
			if text, ok := message.(string); ok {
				status.Messages = append(status.Messages, text)
			}
		}
	}
	if messages, ok := m["messages"].([]string); ok {
		status.Messages = append(status.Messages, messages...)
	}
	return status
}

// timeFromResult parses the core's time reply: either a time value or
// unix milliseconds.
func timeFromResult(result any) (time.Time, error) {
	switch v := result.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.UnixMilli(v), nil
	case uint64:
		return time.UnixMilli(int64(v)), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	case float64:
		return time.UnixMilli(int64(v)), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected time reply of type %T", result)
	}
}
