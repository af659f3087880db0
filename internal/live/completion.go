package live

import (
	"time"

	"github.com/ampprint/ampprint/internal/charging"
)

// Completion decides whether a session that is still reporting has in fact
// finished charging. Chargers keep streaming near-zero samples long after
// the battery is full, so "finished" has to be inferred from the shape of
// the recent readings rather than from the connection state.
type Completion struct {
	// MinReadings is the minimum total sample count before the heuristic
	// will rule at all; younger sessions are never "finished".
	MinReadings int
	// TrailingWindow is how far back from now the idle check looks.
	TrailingWindow time.Duration
	// TrailingMinCount is how many samples the trailing window must hold.
	TrailingMinCount int
	// IdleWatts is the ceiling every trailing sample must stay under.
	IdleWatts float64
	// BufferWindow is the span just before the trailing window used to
	// detect power trending back up.
	BufferWindow time.Duration
	// BufferMinCount is how many buffer samples the trend check needs;
	// with fewer, the trend check is skipped.
	BufferMinCount int
	// ReboundFactor flags a rebound when the trailing average exceeds the
	// buffer average by this factor.
	ReboundFactor float64
}

// DefaultCompletion returns the tuning that ships with the engine.
func DefaultCompletion() Completion {
	return Completion{
		MinReadings:      20,
		TrailingWindow:   10 * time.Minute,
		TrailingMinCount: 5,
		IdleWatts:        5,
		BufferWindow:     5 * time.Minute,
		BufferMinCount:   3,
		ReboundFactor:    1.2,
	}
}

// Finished reports whether the session looks done as of now.
//
// The session counts as finished when it has enough history, every sample in
// the trailing window sits below the idle ceiling, and the trailing average
// is not climbing relative to the buffer window before it. A device drawing
// 2 W after drawing 1 W is waking up, not finishing, even though both are
// under the ceiling.
func (c Completion) Finished(sess *charging.Session, now time.Time) bool {
	if sess == nil || len(sess.Readings) < c.MinReadings {
		return false
	}

	trailingStart := now.Add(-c.TrailingWindow)
	bufferStart := trailingStart.Add(-c.BufferWindow)

	var trailing, buffer []float64
	for _, r := range sess.Readings {
		switch {
		case !r.At.Before(trailingStart):
			trailing = append(trailing, r.Watts)
		case !r.At.Before(bufferStart):
			buffer = append(buffer, r.Watts)
		}
	}

	if len(trailing) < c.TrailingMinCount {
		return false
	}
	for _, w := range trailing {
		if w >= c.IdleWatts {
			return false
		}
	}

	if len(buffer) >= c.BufferMinCount {
		if mean(trailing) > mean(buffer)*c.ReboundFactor {
			return false
		}
	}
	return true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
