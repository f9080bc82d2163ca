package stream

import "time"

const (
	DefaultBackoffFloor   = time.Second
	DefaultBackoffFactor  = 1.7
	DefaultBackoffCeiling = 10 * time.Second
)

// Backoff is the delay between failed attempts: floor, then multiplied by factor
// after every failure, capped at ceiling. Not safe for concurrent use.
type Backoff struct {
	floor   float64 // seconds
	factor  float64
	ceiling float64
	current float64
}

// NewBackoff falls back to the defaults for non-positive durations and a factor
// below 1. A ceiling under the floor is raised to the floor.
func NewBackoff(floor time.Duration, factor float64, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if factor < 1 {
		factor = DefaultBackoffFactor
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffCeiling
	}
	if ceiling < floor {
		ceiling = floor
	}
	b := &Backoff{floor: floor.Seconds(), factor: factor, ceiling: ceiling.Seconds()}
	b.current = b.floor
	return b
}

// Current is the delay the next failure will wait.
func (b *Backoff) Current() time.Duration {
	return seconds(b.current)
}

// Fail returns the delay to wait now and grows the next one.
func (b *Backoff) Fail() time.Duration {
	wait := b.current
	b.current = min(b.current*b.factor, b.ceiling)
	return seconds(wait)
}

func (b *Backoff) Reset() {
	b.current = b.floor
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
