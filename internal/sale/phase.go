package sale

import "time"

// Phase is the lifecycle position of a sale.
type Phase int

// Sale phases. NotOpen and Open are derived from the clock on every call;
// Finalized is the only stored transition.
const (
	PhaseNotOpen Phase = iota
	PhaseOpen
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseNotOpen:
		return "not-open"
	case PhaseOpen:
		return "open"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// PhaseAt computes the phase at now. A sale opens at exactly openingTime.
func PhaseAt(now, openingTime time.Time, finalized bool) Phase {
	if finalized {
		return PhaseFinalized
	}
	if now.Before(openingTime) {
		return PhaseNotOpen
	}
	return PhaseOpen
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock returns a settable instant. It is used by tests and by hosts
// that pin time for scripted runs.
type FixedClock struct {
	T time.Time
}

// Now returns the pinned instant.
func (c *FixedClock) Now() time.Time { return c.T }

// Advance moves the pinned instant forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }
