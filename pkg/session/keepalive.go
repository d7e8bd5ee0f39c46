package session

import (
	"sync"
	"time"
)

// idleTimer is the idle keep-alive timer. While armed it fires once
// after the configured interval; the firing callback is responsible
// for re-arming while the session stays connected. Delay restarts the
// countdown without a round trip, used when a liveness probe just
// proved the connection alive.
type idleTimer struct {
	mu       sync.Mutex
	interval time.Duration
	fire     func()
	timer    *time.Timer
	armed    bool
}

func newIdleTimer(interval time.Duration, fire func()) *idleTimer {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	return &idleTimer{interval: interval, fire: fire}
}

// arm schedules the timer. Arming an armed timer is a no-op.
func (t *idleTimer) arm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.armed {
		return
	}
	t.armed = true
	t.timer = time.AfterFunc(t.interval, t.fired)
}

// cancel stops the timer. Cancelling an idle or already-fired timer
// is a no-op.
func (t *idleTimer) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return
	}
	t.armed = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// delay restarts the countdown if the timer is armed. It never
// cancels outright.
func (t *idleTimer) delay() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed || t.timer == nil {
		return
	}
	t.timer.Stop()
	t.timer = time.AfterFunc(t.interval, t.fired)
}

func (t *idleTimer) fired() {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.timer = nil
	fire := t.fire
	t.mu.Unlock()

	if fire != nil {
		fire()
	}
}
