package deployment

import "time"

// =============================================================================
// Provisioning Backoff
// =============================================================================

// Backoff is a bounded exponential retry policy.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultBackoff returns the policy used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     500 * time.Millisecond,
		Max:         10 * time.Second,
		Multiplier:  2,
		MaxAttempts: 4,
	}
}

// Normalize fills zero fields with defaults.
func (b Backoff) Normalize() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	return b
}

// Delay returns the wait before the given retry (1-based: Delay(1) is the
// wait after the first failed attempt), capped at Max.
//
// Example:
//
//	b := Backoff{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
//	b.Delay(1) // 1s
//	b.Delay(3) // 4s
//	b.Delay(4) // 5s
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	d := float64(b.Initial)
	for i := 1; i < retry; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}
