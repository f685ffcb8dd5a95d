package agentruntime

import "time"

// Clock abstracts the wall clock so get_default_context is deterministic
// in tests (spec §9, "Clock injection").
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a deterministic Clock for tests.
type FixedClock struct {
	At time.Time
}

// Now implements Clock.
func (c FixedClock) Now() time.Time { return c.At }

// defaultContextHeader renders the live "default context" header
// prepended to every user turn: "[当前时间: YYYY-MM-DD HH:MM:SS
// (YYYY-MM-DD Weekday)]\n\n" (grounded on
// original_source's get_default_context/core_logic.py formatting).
func defaultContextHeader(clock Clock) string {
	now := clock.Now()
	return "[当前时间: " + now.Format("2006-01-02 15:04:05") +
		" (" + now.Format("2006-01-02") + " " + now.Format("Monday") + ")]\n\n"
}
