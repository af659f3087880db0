// Package live answers questions about sessions that are still running:
// which device this probably is, whether the charge looks finished, and how
// long it is likely to keep going. Everything here is read-only over the
// group collection.
package live

import (
	"fmt"
	"sort"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/pattern"
	"github.com/ampprint/ampprint/internal/profile"
	"github.com/ampprint/ampprint/internal/similarity"
)

// Guess is one candidate identification for an in-progress session.
type Guess struct {
	PatternID  string  `json:"pattern_id"`
	DeviceName string  `json:"device_name"`
	Similarity float64 `json:"similarity"`
}

// Guesser matches partial fingerprints against the group collection.
type Guesser struct {
	store *pattern.Store
}

// NewGuesser returns a guesser over the given collection.
func NewGuesser(store *pattern.Store) *Guesser {
	return &Guesser{store: store}
}

// BestMatch returns the most similar group at or above the match threshold,
// or nil when no group qualifies. Sessions with too few positive readings
// return an error wrapping profile.ErrInsufficientData; callers treat that
// as "ask again later", not as a failure.
func (g *Guesser) BestMatch(sess *charging.Session) (*Guess, error) {
	guesses, err := g.RankedMatches(sess, nil)
	if err != nil {
		return nil, err
	}
	if len(guesses) == 0 {
		return nil, nil
	}
	return &guesses[0], nil
}

// RankedMatches returns every group scoring at or above the match threshold,
// most similar first, skipping group ids in exclude. Callers use exclude to
// re-ask after a user dismisses a guess.
func (g *Guesser) RankedMatches(sess *charging.Session, exclude map[string]bool) ([]Guess, error) {
	p, err := extractPartial(sess)
	if err != nil {
		return nil, err
	}

	var out []Guess
	for _, pat := range g.store.Snapshot() {
		if exclude[pat.ID] {
			continue
		}
		score := similarity.Score(&pat.Average, p)
		if score < similarity.MatchThreshold {
			continue
		}
		out = append(out, Guess{PatternID: pat.ID, DeviceName: pat.DeviceName, Similarity: score})
	}
	// Stable sort keeps collection order for equal scores, matching how
	// the store itself breaks ties.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

func extractPartial(sess *charging.Session) (*profile.Profile, error) {
	if sess == nil {
		return nil, fmt.Errorf("session required: %w", pattern.ErrInvalidInput)
	}
	p, err := profile.Extract(sess.Watts())
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	return p, nil
}
