// Package timesync adapts a remote time source for the session layer.
//
// The session queries the core's clock once during initialization and
// afterwards relies on CurrentTime, IsGood and Quality, all of which
// return the last known values without blocking. The adapter is
// deliberately minimal: proper clock-skew estimation lives in an
// external time-sync engine, this package only implements the consumed
// contract.
package timesync
