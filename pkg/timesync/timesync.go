package timesync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Synchronizer errors.
var (
	ErrNoQueryFunc     = errors.New("no remote time query function")
	ErrNotSynchronized = errors.New("not synchronized")
)

// Defaults.
const (
	// DefaultServerDelay is the assumed one-way processing delay of
	// the remote when none is configured.
	DefaultServerDelay = 0 * time.Millisecond

	// DefaultGoodRoundTrip is the maximum round trip for which the
	// synchronization is considered good.
	DefaultGoodRoundTrip = 500 * time.Millisecond
)

// QueryFunc returns the remote's current time. It is typically backed
// by a remote procedure call.
type QueryFunc func(ctx context.Context) (time.Time, error)

// Config configures a Synchronizer.
type Config struct {
	// ServerDelay is subtracted from the measured offset to account
	// for remote-side processing before the timestamp is taken.
	ServerDelay time.Duration

	// GoodRoundTrip is the quality threshold for IsGood.
	// Default 500ms.
	GoodRoundTrip time.Duration
}

// Synchronizer estimates the remote clock from a single round trip.
// It implements only the contract the session layer consumes: one
// query at initialization, then non-blocking last-known-value getters.
// Continuous clock-skew estimation is the concern of a dedicated
// time-sync engine, not of this adapter.
type Synchronizer struct {
	mu sync.RWMutex

	serverDelay   time.Duration
	goodRoundTrip time.Duration
	query         QueryFunc

	synced    bool
	offset    time.Duration
	roundTrip time.Duration
}

// New creates a synchronizer with the given remote time query.
func New(cfg Config, query QueryFunc) *Synchronizer {
	if cfg.GoodRoundTrip <= 0 {
		cfg.GoodRoundTrip = DefaultGoodRoundTrip
	}

	return &Synchronizer{
		serverDelay:   cfg.ServerDelay,
		goodRoundTrip: cfg.GoodRoundTrip,
		query:         query,
	}
}

// Init performs one remote round trip and records the clock offset.
// The remote timestamp is assumed to be taken at the round-trip
// midpoint, shifted by the configured server delay.
func (s *Synchronizer) Init(ctx context.Context) error {
	if s.query == nil {
		return ErrNoQueryFunc
	}

	sentAt := time.Now()
	remote, err := s.query(ctx)
	if err != nil {
		return err
	}
	roundTrip := time.Since(sentAt)

	midpoint := sentAt.Add(roundTrip / 2)
	offset := remote.Sub(midpoint) - s.serverDelay

	s.mu.Lock()
	s.synced = true
	s.offset = offset
	s.roundTrip = roundTrip
	s.mu.Unlock()

	return nil
}

// CurrentTime returns the estimated remote time. Before a successful
// Init it returns the local time unmodified.
func (s *Synchronizer) CurrentTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Now().Add(s.offset)
}

// Offset returns the estimated remote-minus-local clock offset.
func (s *Synchronizer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// IsGood reports whether a synchronization exists and its round trip
// was within the configured threshold.
func (s *Synchronizer) IsGood() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced && s.roundTrip <= s.goodRoundTrip
}

// Quality returns the round trip of the last synchronization.
// ok is false before the first successful Init.
func (s *Synchronizer) Quality() (roundTrip time.Duration, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roundTrip, s.synced
}
