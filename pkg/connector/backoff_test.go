package connector

import (
	"testing"
	"time"
)

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff()

	if b.Peek() < InitialBackoff {
		t.Errorf("Peek() = %v, want >= %v", b.Peek(), InitialBackoff)
	}
	if b.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", b.Attempts())
	}
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        800 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0, // deterministic
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond, // capped
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(want))
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial: 50 * time.Millisecond,
		Max:     time.Second,
		Jitter:  0,
	})

	b.Next()
	b.Next()
	b.Reset()

	if got := b.Next(); got != 50*time.Millisecond {
		t.Errorf("Next() after Reset = %v, want 50ms", got)
	}
	if b.Attempts() != 1 {
		t.Errorf("Attempts() after Reset+Next = %d, want 1", b.Attempts())
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond
	b := NewBackoffWithConfig(BackoffConfig{
		Initial: base,
		Max:     base,
		Jitter:  0.25,
	})

	for i := 0; i < 50; i++ {
		got := b.Peek()
		if got < base || got > base+base/4 {
			t.Fatalf("Peek() = %v, want within [%v, %v]", got, base, base+base/4)
		}
	}
}

func TestBackoffPeekDoesNotAdvance(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Initial: 10 * time.Millisecond,
		Max:     time.Second,
		Jitter:  0,
	})

	b.Peek()
	b.Peek()

	if got := b.Next(); got != 10*time.Millisecond {
		t.Errorf("Next() = %v, want 10ms (Peek must not advance)", got)
	}
}
