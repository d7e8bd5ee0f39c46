package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corelink-protocol/corelink-go/pkg/connector"
	"github.com/corelink-protocol/corelink-go/pkg/notify"
)

// fakeCall is one recorded remote call.
type fakeCall struct {
	method string
	args   []any
}

// fakeConnector is a scriptable in-memory connector for white-box
// session tests. It records every call and answers handshake and time
// queries with sensible defaults; onCall overrides everything.
type fakeConnector struct {
	mu sync.Mutex

	connected    bool
	closed       bool
	connectionID string
	connSeq      int

	calls []fakeCall

	// onCall, when set, handles every call. Otherwise results/errs
	// per method apply, with built-in defaults for device.initialize
	// and system.time.
	onCall  func(method string, args []any) (any, error)
	results map[string]any
	errs    map[string]error

	subs   map[string]string
	subSeq int

	connChangedHub  *notify.Hub[bool]
	connectedHub    *notify.Hub[struct{}]
	disconnectedHub *notify.Hub[struct{}]
	errorHub        *notify.Hub[error]
	failedHub       *notify.Hub[error]
}

var _ connector.Connector = (*fakeConnector)(nil)

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		results:         make(map[string]any),
		errs:            make(map[string]error),
		subs:            make(map[string]string),
		connChangedHub:  notify.NewHub[bool](),
		connectedHub:    notify.NewHub[struct{}](),
		disconnectedHub: notify.NewHub[struct{}](),
		errorHub:        notify.NewHub[error](),
		failedHub:       notify.NewHub[error](),
	}
}

func (f *fakeConnector) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return connector.ErrConnectionClosed
	}
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.connSeq++
	f.connected = true
	f.connectionID = fmt.Sprintf("conn-%d", f.connSeq)
	f.mu.Unlock()

	f.connChangedHub.Publish(true)
	f.connectedHub.Publish(struct{}{})
	return nil
}

func (f *fakeConnector) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return connector.ErrConnectionClosed
	}
	f.closed = true
	wasConnected := f.connected
	f.connected = false
	f.connectionID = ""
	f.mu.Unlock()

	if wasConnected {
		f.connChangedHub.Publish(false)
		f.disconnectedHub.Publish(struct{}{})
	}
	return nil
}

func (f *fakeConnector) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnector) ConnectionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectionID
}

// drop simulates connectivity loss without closing. Live
// subscriptions die with the transport session, as they would on a
// real connection.
func (f *fakeConnector) drop() {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return
	}
	f.connected = false
	f.subs = make(map[string]string)
	f.mu.Unlock()

	f.connChangedHub.Publish(false)
	f.disconnectedHub.Publish(struct{}{})
}

// reconnect restores connectivity. With freshID the transport session
// id changes, as after a real physical reconnect.
func (f *fakeConnector) reconnect(freshID bool) {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return
	}
	f.connected = true
	if freshID {
		f.connSeq++
		f.connectionID = fmt.Sprintf("conn-%d", f.connSeq)
	}
	f.mu.Unlock()

	f.connChangedHub.Publish(true)
	f.connectedHub.Publish(struct{}{})
}

func (f *fakeConnector) Call(ctx context.Context, method string, args ...any) (any, error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return nil, connector.ErrNotConnected
	}
	f.calls = append(f.calls, fakeCall{method: method, args: args})
	onCall := f.onCall
	err := f.errs[method]
	result, hasResult := f.results[method]
	f.mu.Unlock()

	if onCall != nil {
		return onCall(method, args)
	}
	if err != nil {
		return nil, err
	}
	if hasResult {
		return result, nil
	}

	switch method {
	case MethodInitialize:
		// Assign the announced device id.
		id, _ := args[0].(string)
		return id, nil
	case MethodUnInitialize:
		id, _ := args[0].(string)
		return id, nil
	case MethodGetTime:
		return time.Now().UnixMilli(), nil
	default:
		return nil, nil
	}
}

func (f *fakeConnector) Subscribe(ctx context.Context, name string, params ...any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return "", connector.ErrNotConnected
	}
	f.subSeq++
	id := fmt.Sprintf("sub-%d", f.subSeq)
	f.subs[id] = name
	return id, nil
}

func (f *fakeConnector) Unsubscribe(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[id]; !ok {
		return connector.ErrSubscriptionNotFound
	}
	delete(f.subs, id)
	return nil
}

func (f *fakeConnector) Observe(collection string, obs connector.Observer) (stop func()) {
	return func() {}
}

func (f *fakeConnector) Collection(name string) connector.Collection {
	return nil
}

func (f *fakeConnector) OnConnected(fn func()) (remove func()) {
	return f.connectedHub.Subscribe(func(struct{}) { fn() })
}

func (f *fakeConnector) OnDisconnected(fn func()) (remove func()) {
	return f.disconnectedHub.Subscribe(func(struct{}) { fn() })
}

func (f *fakeConnector) OnConnectionChanged(fn func(connected bool)) (remove func()) {
	return f.connChangedHub.Subscribe(fn)
}

func (f *fakeConnector) OnError(fn func(err error)) (remove func()) {
	return f.errorHub.Subscribe(fn)
}

func (f *fakeConnector) OnFailed(fn func(err error)) (remove func()) {
	return f.failedHub.Subscribe(fn)
}

// callsTo returns the recorded calls for one method.
func (f *fakeConnector) callsTo(method string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []fakeCall
	for _, call := range f.calls {
		if call.method == method {
			out = append(out, call)
		}
	}
	return out
}

// subscriptionsOf returns the live subscription count per publication.
func (f *fakeConnector) subscriptionsOf(publication string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, name := range f.subs {
		if name == publication {
			count++
		}
	}
	return count
}

func (f *fakeConnector) setResult(method string, result any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = result
}

func (f *fakeConnector) setError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}
