package live

import (
	"time"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/pattern"
)

// Confidence knobs. A session that has outlived its group's average charge
// is re-aimed at the group maximum with sharply reduced confidence; one that
// is younger than the group's fastest charge gets a milder haircut.
const (
	maxConfidence       = 0.95
	overrunPenalty      = 0.7
	earlySessionPenalty = 0.9
)

// Estimate is a remaining-time prediction for an in-progress session.
type Estimate struct {
	PatternID  string        `json:"pattern_id,omitempty"`
	DeviceName string        `json:"device_name,omitempty"`
	Similarity float64       `json:"similarity,omitempty"`
	Remaining  time.Duration `json:"remaining"`
	Confidence float64       `json:"confidence"`
}

// Estimator predicts remaining charge time from group duration history.
type Estimator struct {
	guesser    *Guesser
	completion Completion
}

// NewEstimator returns an estimator over the given collection.
func NewEstimator(store *pattern.Store, completion Completion) *Estimator {
	return &Estimator{guesser: NewGuesser(store), completion: completion}
}

// Estimate predicts how much longer the session will run.
//
// A session the completion heuristic already considers finished gets zero
// remaining at the ceiling confidence. Otherwise the prediction comes from
// the best-matching group's duration history: no qualifying group, or a
// group with no history yet, means no estimate and a nil result. A session
// with too few readings returns an error wrapping profile.ErrInsufficientData.
func (e *Estimator) Estimate(sess *charging.Session, now time.Time) (*Estimate, error) {
	if e.completion.Finished(sess, now) {
		return &Estimate{Remaining: 0, Confidence: maxConfidence}, nil
	}

	guess, err := e.guesser.BestMatch(sess)
	if err != nil {
		return nil, err
	}
	if guess == nil {
		return nil, nil
	}
	pat, err := e.guesser.store.Get(guess.PatternID)
	if err != nil {
		return nil, err
	}
	stats := pat.Durations
	if stats == nil || stats.TotalSessions == 0 {
		return nil, nil
	}

	elapsed := sess.Elapsed(now)
	confidence := guess.Similarity
	var remaining time.Duration

	if elapsed > stats.Average {
		remaining = stats.Max - elapsed
		if remaining < 0 {
			remaining = 0
		}
		confidence *= overrunPenalty
	} else {
		remaining = stats.Average - elapsed
		if elapsed < stats.Min {
			confidence *= earlySessionPenalty
		}
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	return &Estimate{
		PatternID:  guess.PatternID,
		DeviceName: guess.DeviceName,
		Similarity: guess.Similarity,
		Remaining:  remaining,
		Confidence: confidence,
	}, nil
}
