package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/corelink-protocol/corelink-go/pkg/notify"
)

// Watchdog timing defaults.
const (
	// DefaultTimeout is the default wait between check cycles.
	DefaultTimeout = 60 * time.Second

	// DefaultGrace is the fixed grace the kill timer allows a cycle's
	// checks to complete in.
	DefaultGrace = 5 * time.Second
)

// CheckFunc is an asynchronous liveness probe. It returns nil on
// success. Errors are swallowed at the aggregation point: a failed
// probe leads to the same outcome as a hung one, one grace later,
// because the kill timer is the single source of truth for unhealthy.
type CheckFunc func(ctx context.Context) error

// Handle identifies a registered check. The zero Handle is never
// issued; removing with it is a no-op.
type Handle uint64

// Signal is published when the kill timer fires.
type Signal struct {
	// At is when the watchdog declared the process unhealthy.
	At time.Time

	// Checks is the number of probes that were running in the
	// unhealthy cycle.
	Checks int
}

// Config configures a Watchdog.
type Config struct {
	// Timeout is the wait between check cycles. Default 60s.
	Timeout time.Duration

	// Grace is the kill timer duration. Default 5s.
	Grace time.Duration

	// FatalFunc, if set, runs after the unhealthy signal has been
	// published. The watchdog itself never terminates the process;
	// the hosting process decides by installing this or by
	// subscribing to OnUnhealthy.
	FatalFunc func()

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Watchdog is a liveness monitor. While armed it repeatedly waits
// Timeout, then runs all registered checks concurrently while a kill
// timer of Grace races them. If every check succeeds before the kill
// timer fires the cycle re-arms from scratch; otherwise the kill
// timer fires and an unhealthy signal is published exactly once for
// that cycle.
//
// The kill timer and the cycle timer are mutually exclusive: at most
// one of each is pending at any instant.
type Watchdog struct {
	mu sync.Mutex

	timeout time.Duration
	grace   time.Duration
	fatalFn func()
	logger  *slog.Logger

	armed      bool
	checks     map[Handle]CheckFunc
	nextHandle Handle

	// Cycle generation. Stale timer callbacks and stale check
	// completions compare against this and bail out.
	cycle uint64

	cycleTimer *time.Timer
	killTimer  *time.Timer

	// Context for the checks of the current cycle.
	checkCancel context.CancelFunc

	unhealthy *notify.Hub[Signal]
}

// New creates a watchdog. It is idle until Start is called.
func New(cfg Config) *Watchdog {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}

	return &Watchdog{
		timeout:   cfg.Timeout,
		grace:     cfg.Grace,
		fatalFn:   cfg.FatalFunc,
		logger:    cfg.Logger,
		checks:    make(map[Handle]CheckFunc),
		unhealthy: notify.NewHub[Signal](),
	}
}

// Start arms the watchdog. Starting an armed watchdog is a no-op.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.armed {
		return
	}
	w.armed = true
	w.scheduleCycleLocked()
}

// Stop disarms the watchdog and cancels all pending timers and
// in-flight checks. Stopping an idle watchdog is a no-op.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.armed {
		return
	}
	w.armed = false
	w.cycle++
	w.stopTimersLocked()
}

// Armed reports whether the watchdog is running.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

// AddCheck registers a probe and returns its handle. The probe takes
// effect from the next cycle.
func (w *Watchdog) AddCheck(fn CheckFunc) Handle {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextHandle++
	h := w.nextHandle
	w.checks[h] = fn
	return h
}

// RemoveCheck removes a previously registered probe. Removing with a
// handle that was never issued, or was already removed, is a silent
// no-op.
func (w *Watchdog) RemoveCheck(h Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.checks, h)
}

// CheckCount returns the number of registered probes.
func (w *Watchdog) CheckCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.checks)
}

// OnUnhealthy registers a handler for unhealthy signals.
// The returned function removes the registration.
func (w *Watchdog) OnUnhealthy(fn func(Signal)) (remove func()) {
	return w.unhealthy.Subscribe(fn)
}

// scheduleCycleLocked arms the cycle timer for the current generation.
func (w *Watchdog) scheduleCycleLocked() {
	gen := w.cycle
	w.cycleTimer = time.AfterFunc(w.timeout, func() {
		w.runChecks(gen)
	})
}

// stopTimersLocked cancels whichever timers are pending. Cancelling an
// already-fired timer is a no-op.
func (w *Watchdog) stopTimersLocked() {
	if w.cycleTimer != nil {
		w.cycleTimer.Stop()
		w.cycleTimer = nil
	}
	if w.killTimer != nil {
		w.killTimer.Stop()
		w.killTimer = nil
	}
	if w.checkCancel != nil {
		w.checkCancel()
		w.checkCancel = nil
	}
}

// runChecks launches the cycle's probes and starts the kill timer.
// The kill timer starts with the probe launch, not after a first
// failure: every probe round trip is bounded by the fixed grace no
// matter how long the cycle wait was.
func (w *Watchdog) runChecks(gen uint64) {
	w.mu.Lock()
	if !w.armed || gen != w.cycle {
		w.mu.Unlock()
		return
	}
	w.cycleTimer = nil

	checks := make([]CheckFunc, 0, len(w.checks))
	for _, fn := range w.checks {
		checks = append(checks, fn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.checkCancel = cancel

	w.killTimer = time.AfterFunc(w.grace, func() {
		w.killFired(gen, len(checks))
	})
	logger := w.logger
	w.mu.Unlock()

	if logger != nil {
		logger.Debug("watchdog: running checks", "count", len(checks))
	}

	go w.awaitChecks(ctx, gen, checks)
}

// awaitChecks runs all probes concurrently and reports the aggregate.
func (w *Watchdog) awaitChecks(ctx context.Context, gen uint64, checks []CheckFunc) {
	var wg sync.WaitGroup
	var failed sync.Mutex
	anyFailed := false

	for _, fn := range checks {
		wg.Add(1)
		go func(fn CheckFunc) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				failed.Lock()
				anyFailed = true
				failed.Unlock()
			}
		}(fn)
	}

	wg.Wait()
	w.checksCompleted(gen, !anyFailed)
}

// checksCompleted handles the aggregate probe result. On success the
// kill timer is cancelled and the cycle re-arms from scratch. On
// failure nothing happens here: the kill timer fires one grace after
// the probes started, which is the only observable unhealthy path.
func (w *Watchdog) checksCompleted(gen uint64, allOK bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.armed || gen != w.cycle {
		return
	}
	if !allOK {
		return
	}

	w.cycle++
	w.stopTimersLocked()
	w.scheduleCycleLocked()
}

// killFired is the kill timer callback. It publishes the unhealthy
// signal exactly once for the cycle, then re-arms.
func (w *Watchdog) killFired(gen uint64, checkCount int) {
	w.mu.Lock()
	if !w.armed || gen != w.cycle {
		w.mu.Unlock()
		return
	}

	w.cycle++
	w.killTimer = nil
	w.stopTimersLocked()
	w.scheduleCycleLocked()

	logger := w.logger
	fatalFn := w.fatalFn
	w.mu.Unlock()

	if logger != nil {
		logger.Error("watchdog: checks did not complete within grace",
			"checks", checkCount,
			"grace", w.grace)
	}

	w.unhealthy.Publish(Signal{At: time.Now(), Checks: checkCount})

	if fatalFn != nil {
		fatalFn()
	}
}
