package pipeline

import "time"

const (
	// DefaultWaitUnit is one backoff unit.
	DefaultWaitUnit = time.Second
	// DefaultWaitCeiling is the cumulative delay, in units, after which the
	// scheduler stops waiting.
	DefaultWaitCeiling = 50
)

// Backoff is the scheduler's triangular wait. The first sleep is one unit;
// after each sleep the delay grows by one unit and is added to the total.
// The wait is over once the total exceeds the ceiling.
type Backoff struct {
	unit    time.Duration
	ceiling int
	delay   int
	total   int
	slept   time.Duration
}

// NewBackoff returns a Backoff. Non-positive arguments use the defaults.
func NewBackoff(unit time.Duration, ceiling int) *Backoff {
	if unit <= 0 {
		unit = DefaultWaitUnit
	}
	if ceiling <= 0 {
		ceiling = DefaultWaitCeiling
	}
	return &Backoff{unit: unit, ceiling: ceiling, delay: 1}
}

// Delay returns the next sleep.
func (b *Backoff) Delay() time.Duration {
	return time.Duration(b.delay) * b.unit
}

// Advance records that Delay was slept and reports whether another round
// is allowed.
func (b *Backoff) Advance() bool {
	b.slept += b.Delay()
	b.delay++
	b.total += b.delay
	return b.total <= b.ceiling
}

// Total returns the accumulated delay in units.
func (b *Backoff) Total() int { return b.total }

// Slept returns the time spent in completed rounds.
func (b *Backoff) Slept() time.Duration { return b.slept }
