package domain

import "time"

const (
	// DefaultMinBackoff is used when no minimum poll interval is configured.
	DefaultMinBackoff = time.Second
	// DefaultMaxBackoff is used when no maximum poll interval is configured.
	DefaultMaxBackoff = 5 * time.Minute
)

// BackoffBounds bounds the adaptive poll interval.
type BackoffBounds struct {
	Min time.Duration
	Max time.Duration
}

// Normalize fills defaults and guarantees Min <= Max.
func (b BackoffBounds) Normalize() BackoffBounds {
	if b.Min <= 0 {
		b.Min = DefaultMinBackoff
	}
	if b.Max <= 0 {
		b.Max = DefaultMaxBackoff
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	return b
}

// Clamp forces d into [Min, Max].
func (b BackoffBounds) Clamp(d time.Duration) time.Duration {
	b = b.Normalize()
	if d < b.Min {
		return b.Min
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Next returns the interval to wait after a cycle that integrated the given
// number of events: any integration resets to Min, a no-op poll doubles.
func (b BackoffBounds) Next(current time.Duration, integrated int) time.Duration {
	b = b.Normalize()
	if integrated > 0 {
		return b.Min
	}
	current = b.Clamp(current)
	if current > b.Max/2 {
		return b.Max
	}
	return b.Clamp(current * 2)
}
