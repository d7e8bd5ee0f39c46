// Package watchdog implements a process liveness monitor.
//
// A Watchdog periodically runs a set of registered probes. Each cycle
// the probes race a fixed kill timer: if they all succeed in time the
// cycle re-arms from scratch, otherwise the kill timer fires and an
// unhealthy signal is published. A genuinely hung probe (for example a
// socket write that never completes) cannot prevent detection, because
// the kill timer runs independently of whether the probes ever settle.
//
// # Unhealthy handling
//
// The package itself never terminates the process. Hosts either
// subscribe to OnUnhealthy or install Config.FatalFunc and decide
// there (terminate, restart, log-and-continue).
//
// # Check removal
//
// AddCheck returns a Handle and removal is handle-based. Removing with
// a handle other than the one issued at registration is a silent
// no-op.
package watchdog
