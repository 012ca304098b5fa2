// Package temporal implements the sequential delay-function proof engine and
// the UTC-boundary clock that anchors finality to wall-clock instants.
package temporal

import (
	"errors"
	"fmt"
	"time"
)

// TemporalError sentinels, returned (wrapped) by this package's functions.
var (
	ErrProofInvalid          = errors.New("temporal: proof invalid")
	ErrWindowMismatch        = errors.New("temporal: window mismatch")
	ErrClockSkew             = errors.New("temporal: clock skew")
	ErrIterationCountOutOfRange = errors.New("temporal: iteration count out of range")
)

// DefaultIntervalSeconds is the default UTC finality-boundary interval.
// The VDF iteration count is sized so a proof takes close to, but never
// more than, this many seconds on reference hardware — see vdf.go.
const DefaultIntervalSeconds = 60

// DefaultToleranceSeconds is the default admissible clock skew for block and
// heartbeat timestamps.
const DefaultToleranceSeconds = 5

// Clock maintains the UTC-boundary window index used by finality and by the
// per-slot VRF lottery's seed.
type Clock struct {
	intervalSeconds int64
	toleranceSeconds int64
}

// NewClock creates a Clock with the given finality interval and clock
// tolerance, both in seconds. Pass 0 for either to use the spec default.
func NewClock(intervalSeconds, toleranceSeconds int64) *Clock {
	if intervalSeconds <= 0 {
		intervalSeconds = DefaultIntervalSeconds
	}
	if toleranceSeconds <= 0 {
		toleranceSeconds = DefaultToleranceSeconds
	}
	return &Clock{intervalSeconds: intervalSeconds, toleranceSeconds: toleranceSeconds}
}

// CurrentWindow returns floor(now_utc / interval).
func (c *Clock) CurrentWindow() uint64 {
	return c.WindowOf(time.Now().Unix())
}

// WindowOf returns the window index containing the given UTC second.
func (c *Clock) WindowOf(utcSeconds int64) uint64 {
	if utcSeconds < 0 {
		return 0
	}
	return uint64(utcSeconds / c.intervalSeconds)
}

// BoundaryOf returns the UTC instant at which window w closes (the instant
// at which window w+1 begins).
func (c *Clock) BoundaryOf(w uint64) time.Time {
	secs := int64(w+1) * c.intervalSeconds
	return time.Unix(secs, 0).UTC()
}

// SecondsToNextBoundary returns the number of seconds (fractional) remaining
// until the current window closes.
func (c *Clock) SecondsToNextBoundary() float64 {
	now := time.Now().UTC()
	boundary := c.BoundaryOf(c.CurrentWindow())
	return boundary.Sub(now).Seconds()
}

// IntervalSeconds returns the configured finality interval.
func (c *Clock) IntervalSeconds() int64 { return c.intervalSeconds }

// ToleranceSeconds returns the configured clock-skew tolerance.
func (c *Clock) ToleranceSeconds() int64 { return c.toleranceSeconds }

// CheckSkew validates that timestampSecs (with sub-second timestampNanos) is
// within ±tolerance of the local UTC clock. Exactly at the tolerance boundary
// is admissible; one nanosecond beyond it is rejected.
func (c *Clock) CheckSkew(timestampSecs int64, timestampNanos uint32) error {
	return c.checkSkewAt(timestampSecs, timestampNanos, time.Now().UTC())
}

// checkSkewAt is CheckSkew measured against the given local instant.
func (c *Clock) checkSkewAt(timestampSecs int64, timestampNanos uint32, now time.Time) error {
	ts := time.Unix(timestampSecs, int64(timestampNanos)).UTC()
	drift := ts.Sub(now)
	if drift < 0 {
		drift = -drift
	}
	if drift > time.Duration(c.toleranceSeconds)*time.Second {
		return fmt.Errorf("%w: %s off local UTC (tolerance %ds)", ErrClockSkew, drift, c.toleranceSeconds)
	}
	return nil
}

// AcceptsProofWindow reports whether a delay-function proof declared for
// window `declared` may still be embedded in a block: it must not be from the
// future, and the embedding block must arrive before window+1's boundary,
// i.e. strictly before the current window advances past declared+1.
func (c *Clock) AcceptsProofWindow(declared uint64) error {
	current := c.CurrentWindow()
	if declared > current {
		return fmt.Errorf("%w: proof declares future window %d (current %d)", ErrWindowMismatch, declared, current)
	}
	if current > declared+1 {
		return fmt.Errorf("%w: proof window %d closed (current %d)", ErrWindowMismatch, declared, current)
	}
	return nil
}

// SlotOf returns the 1-second UTC slot index used by the leader lottery.
func SlotOf(t time.Time) uint64 {
	secs := t.UTC().Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs)
}

// CurrentSlot returns the current 1-second UTC slot index.
func CurrentSlot() uint64 {
	return SlotOf(time.Now())
}
