package connector

import (
	"context"
	"errors"
	"fmt"
)

// Connector errors.
var (
	ErrNotConnected         = errors.New("not connected")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Connector is the transport session the corelink layer runs on top of.
// Implementations own the physical connection, its reconnection policy
// and the wire encoding; the session layer only reacts to the events
// surfaced here.
//
// ConnectionID identifies the current transport session. It changes
// whenever the physical connection is re-established, including
// reconnects the connector performs on its own.
type Connector interface {
	// Connect establishes the physical connection.
	Connect(ctx context.Context) error

	// Close tears down the connection. Further calls fail with
	// ErrConnectionClosed.
	Close() error

	// Connected reports the last known connectivity state without
	// blocking.
	Connected() bool

	// ConnectionID returns the opaque identifier of the current
	// transport session, or "" while disconnected.
	ConnectionID() string

	// Call invokes a remote method. A server-side error is returned
	// as a *RemoteCallError; transport-level failures are returned
	// as-is.
	Call(ctx context.Context, method string, args ...any) (any, error)

	// Subscribe establishes a subscription to a named publication and
	// returns its subscription id.
	Subscribe(ctx context.Context, name string, params ...any) (string, error)

	// Unsubscribe cancels a subscription by id.
	Unsubscribe(id string) error

	// Observe registers change hooks for a local collection cache.
	// The returned function stops observation.
	Observe(collection string, obs Observer) (stop func())

	// Collection returns the local cache for a subscribed collection.
	Collection(name string) Collection

	// OnConnected registers a handler for connectivity establishment.
	// The returned function removes the registration.
	OnConnected(fn func()) (remove func())

	// OnDisconnected registers a handler for connectivity loss.
	OnDisconnected(fn func()) (remove func())

	// OnConnectionChanged registers a handler fired on every
	// connectivity flip with the new state.
	OnConnectionChanged(fn func(connected bool)) (remove func())

	// OnError registers a handler for transport errors. Transport
	// errors are surfaced here, never returned from Call.
	OnError(fn func(err error)) (remove func())

	// OnFailed registers a handler for terminal connection failures.
	OnFailed(fn func(err error)) (remove func())
}

// Observer delivers change notifications for one observed collection.
// Any of the hooks may be nil.
type Observer struct {
	// Added is called when a document appears in the collection.
	Added func(id string, doc map[string]any)

	// Changed is called when a document is updated.
	Changed func(id string, doc map[string]any)

	// Removed is called when a document disappears.
	Removed func(id string)
}

// Collection is a queryable local cache of one subscribed collection.
type Collection interface {
	// FindOne returns the document with the given id.
	FindOne(id string) (map[string]any, bool)

	// Find returns all cached documents by id.
	Find() map[string]map[string]any
}

// RemoteCallError is an error reply from the remote side of a Call.
// It is propagated to the caller of the specific operation and never
// swallowed by the session layer.
type RemoteCallError struct {
	// Method is the remote method that failed.
	Method string

	// Code is the server's error code.
	Code int

	// Message is the server's error description.
	Message string
}

// Error implements the error interface.
func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote call %s failed: %d %s", e.Method, e.Code, e.Message)
}

// NotFoundCode is the server's not-found error class, returned for
// operations against a device that has been uninitialized.
const NotFoundCode = 404

// IsNotFound reports whether err is a remote not-found error.
func IsNotFound(err error) bool {
	var rce *RemoteCallError
	return errors.As(err, &rce) && rce.Code == NotFoundCode
}
