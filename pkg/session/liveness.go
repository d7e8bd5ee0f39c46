package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// livenessProbe is the watchdog probe that round-trips a token
// through the core to detect connections that look open but no longer
// answer. The token comes back over the server-initiated command
// channel and is delivered via Session.SetPingResponse.
type livenessProbe struct {
	sess *Session

	// Zero values use ProbePollInterval and ProbeMaxAttempts.
	poll     time.Duration
	attempts int
}

func (p *livenessProbe) pollInterval() time.Duration {
	if p.poll > 0 {
		return p.poll
	}
	return ProbePollInterval
}

func (p *livenessProbe) maxAttempts() int {
	if p.attempts > 0 {
		return p.attempts
	}
	return ProbeMaxAttempts
}

// run implements watchdog.CheckFunc. It sends a fresh token, then
// polls the most recently echoed token until it matches or the
// attempts are exhausted. A failed send is non-fatal to the probe's
// own completion; the probe still waits for the echo, and the
// watchdog's kill timer bounds the whole round trip.
func (p *livenessProbe) run(ctx context.Context) error {
	token := uuid.NewString()

	if _, err := p.sess.CallMethod(ctx, MethodPingWithEcho, token); err != nil {
		if logger := p.sess.opts.Logger; logger != nil {
			logger.Debug("liveness: echo request failed",
				"deviceID", p.sess.opts.Identity.DeviceID,
				"error", err)
		}
	}

	for attempt := 0; attempt < p.maxAttempts(); attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval()):
		}

		if p.sess.pingResponse() == token {
			p.sess.probeSucceeded()
			return nil
		}
	}

	return ErrEchoTimeout
}
