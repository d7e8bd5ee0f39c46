// Package connector defines the transport boundary of the corelink
// session layer.
//
// The session layer does not implement a transport. It consumes a
// Connector: an already-built client that provides connect/reconnect
// events, remote method calls, subscription primitives and a local
// collection cache. Reconnection is the connector's responsibility;
// the session layer reacts to the resulting events by re-running the
// device handshake and replaying recorded subscriptions.
//
// # Session identity
//
// Every physical (re)connection carries a fresh ConnectionID. The
// session layer compares it against the id its last handshake was
// confirmed on to detect reconnects that the connector healed
// silently.
//
// # Backoff
//
// Backoff is provided for connector implementations that reconnect
// automatically:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds, held until success
//  4. Reset to 1s on successful reconnection
//
// Jitter of up to 25% is added to each delay to avoid thundering herd
// when many peripherals reconnect at once.
package connector
