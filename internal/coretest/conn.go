package coretest

import (
	"context"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/corelink-protocol/corelink-go/pkg/connector"
	"github.com/corelink-protocol/corelink-go/pkg/notify"
)

// subscription is one live subscription on a Conn.
type subscription struct {
	id          string
	publication string
	params      []any
}

// Conn is an in-process connector.Connector backed by a Core. Every
// Call round-trips through CBOR call frames, so the full wire encoding
// is exercised without sockets.
//
// Drop and Reconnect simulate transport behavior: a reconnect issues a
// fresh connection id, exactly like a transport that re-established
// the physical link on its own.
type Conn struct {
	core *Core

	// Backoff configures the reconnection delays used while the core
	// refuses connections. Zero values use the package defaults.
	Backoff connector.BackoffConfig

	mu           sync.Mutex
	connected    bool
	closed       bool
	connectionID string

	subs           map[string]*subscription
	subscribeCalls map[string]int

	collections map[string]*collection

	connectedHub    *notify.Hub[struct{}]
	disconnectedHub *notify.Hub[struct{}]
	connChangedHub  *notify.Hub[bool]
	errorHub        *notify.Hub[error]
	failedHub       *notify.Hub[error]
}

var _ connector.Connector = (*Conn)(nil)

// NewConn creates a disconnected connection to core.
func NewConn(core *Core) *Conn {
	return &Conn{
		core:            core,
		subs:            make(map[string]*subscription),
		subscribeCalls:  make(map[string]int),
		collections:     make(map[string]*collection),
		connectedHub:    notify.NewHub[struct{}](),
		disconnectedHub: notify.NewHub[struct{}](),
		connChangedHub:  notify.NewHub[bool](),
		errorHub:        notify.NewHub[error](),
		failedHub:       notify.NewHub[error](),
	}
}

// Connect establishes the connection, retrying with backoff while the
// core refuses.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return connector.ErrConnectionClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	backoff := connector.NewBackoffWithConfig(c.Backoff)
	for {
		if c.core.acceptConnect() {
			break
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
	}

	c.establish()
	return nil
}

// Close tears down the connection for good.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return connector.ErrConnectionClosed
	}
	c.closed = true
	wasConnected := c.connected
	c.connected = false
	c.connectionID = ""
	c.mu.Unlock()

	if wasConnected {
		c.connChangedHub.Publish(false)
		c.disconnectedHub.Publish(struct{}{})
	}
	return nil
}

// Connected implements connector.Connector.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ConnectionID implements connector.Connector.
func (c *Conn) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Drop simulates connectivity loss.
func (c *Conn) Drop() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.connectionID = ""
	c.mu.Unlock()

	c.connChangedHub.Publish(false)
	c.disconnectedHub.Publish(struct{}{})
}

// Reconnect simulates the transport re-establishing the link on its
// own, under a fresh connection id.
func (c *Conn) Reconnect() {
	c.mu.Lock()
	if c.closed || c.connected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.establish()
}

// DropAndReconnect simulates a full transport-level reconnect cycle.
func (c *Conn) DropAndReconnect() {
	c.Drop()
	c.Reconnect()
}

// FailTerminally reports a terminal connection failure and drops
// connectivity.
func (c *Conn) FailTerminally(err error) {
	c.Drop()
	c.failedHub.Publish(err)
}

// InjectError surfaces a transport error to OnError subscribers.
func (c *Conn) InjectError(err error) {
	c.errorHub.Publish(err)
}

func (c *Conn) establish() {
	c.mu.Lock()
	c.connected = true
	c.connectionID = uuid.NewString()
	c.mu.Unlock()

	c.connChangedHub.Publish(true)
	c.connectedHub.Publish(struct{}{})
}

// Call implements connector.Connector by round-tripping a CBOR call
// frame through the core.
func (c *Conn) Call(ctx context.Context, method string, args ...any) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, connector.ErrConnectionClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return nil, connector.ErrNotConnected
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := cbor.Marshal(callFrame{Method: method, Args: args})
	if err != nil {
		return nil, err
	}

	var reply replyFrame
	if err := cbor.Unmarshal(c.core.dispatch(frame), &reply); err != nil {
		return nil, err
	}
	if reply.ErrCode != 0 {
		return nil, &connector.RemoteCallError{
			Method:  method,
			Code:    reply.ErrCode,
			Message: reply.ErrMsg,
		}
	}
	return reply.Result, nil
}

// Subscribe implements connector.Connector.
func (c *Conn) Subscribe(ctx context.Context, name string, params ...any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", connector.ErrConnectionClosed
	}
	if !c.connected {
		return "", connector.ErrNotConnected
	}

	id := uuid.NewString()
	c.subs[id] = &subscription{id: id, publication: name, params: params}
	c.subscribeCalls[name]++
	return id, nil
}

// Unsubscribe implements connector.Connector.
func (c *Conn) Unsubscribe(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[id]; !ok {
		return connector.ErrSubscriptionNotFound
	}
	delete(c.subs, id)
	return nil
}

// SubscribeCalls returns how often a publication has been subscribed
// to over this connection's lifetime, counting replays.
func (c *Conn) SubscribeCalls(publication string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeCalls[publication]
}

// ActiveSubscriptions returns the publications with a live
// subscription, with multiplicity.
func (c *Conn) ActiveSubscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.subs))
	for _, sub := range c.subs {
		names = append(names, sub.publication)
	}
	return names
}

// HasSubscription reports whether id is a live subscription.
func (c *Conn) HasSubscription(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[id]
	return ok
}

// Observe implements connector.Connector.
func (c *Conn) Observe(collectionName string, obs connector.Observer) (stop func()) {
	return c.getCollection(collectionName).observe(obs)
}

// Collection implements connector.Connector.
func (c *Conn) Collection(name string) connector.Collection {
	return c.getCollection(name)
}

// PushDocument adds or replaces a document in a local collection and
// notifies observers, as arriving subscription data would.
func (c *Conn) PushDocument(collectionName, id string, doc map[string]any) {
	c.getCollection(collectionName).push(id, doc)
}

// RemoveDocument removes a document and notifies observers.
func (c *Conn) RemoveDocument(collectionName, id string) {
	c.getCollection(collectionName).removeDoc(id)
}

func (c *Conn) getCollection(name string) *collection {
	c.mu.Lock()
	defer c.mu.Unlock()

	col, ok := c.collections[name]
	if !ok {
		col = newCollection()
		c.collections[name] = col
	}
	return col
}

// OnConnected implements connector.Connector.
func (c *Conn) OnConnected(fn func()) (remove func()) {
	return c.connectedHub.Subscribe(func(struct{}) { fn() })
}

// OnDisconnected implements connector.Connector.
func (c *Conn) OnDisconnected(fn func()) (remove func()) {
	return c.disconnectedHub.Subscribe(func(struct{}) { fn() })
}

// OnConnectionChanged implements connector.Connector.
func (c *Conn) OnConnectionChanged(fn func(connected bool)) (remove func()) {
	return c.connChangedHub.Subscribe(fn)
}

// OnError implements connector.Connector.
func (c *Conn) OnError(fn func(err error)) (remove func()) {
	return c.errorHub.Subscribe(fn)
}

// OnFailed implements connector.Connector.
func (c *Conn) OnFailed(fn func(err error)) (remove func()) {
	return c.failedHub.Subscribe(fn)
}

func sleepCtx(ctx context.Context, backoff *connector.Backoff) error {
	timer := time.NewTimer(backoff.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
