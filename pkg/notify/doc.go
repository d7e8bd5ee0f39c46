// Package notify provides typed event fan-out for corelink components.
//
// Each component owns one Hub per event kind (connectivity changes,
// errors, watchdog signals) and publishes to it explicitly. Subscribers
// receive events in subscription order and hold a removal function for
// their registration, so teardown never depends on comparing function
// references.
package notify
