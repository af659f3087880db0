package live

import (
	"errors"
	"testing"
	"time"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/pattern"
	"github.com/ampprint/ampprint/internal/profile"
	"github.com/ampprint/ampprint/internal/similarity"
)

var testEpoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

var (
	laptopWatts      = []float64{45, 43, 40, 38}
	laptopCloseWatts = []float64{47, 45, 42, 40}
	phoneWatts       = []float64{15, 12, 10, 8}
)

// completeSession builds a finished session whose readings span dur.
func completeSession(id, name string, start time.Time, dur time.Duration, watts []float64) *charging.Session {
	end := start.Add(dur)
	s := &charging.Session{ID: id, ChargerID: "charger-1", DeviceName: name, StartedAt: start, EndedAt: &end}
	step := dur / time.Duration(len(watts))
	for i, w := range watts {
		s.Readings = append(s.Readings, charging.Reading{At: start.Add(time.Duration(i) * step), Watts: w})
	}
	return s
}

// activeSession builds an in-progress session with one reading per minute.
func activeSession(id string, start time.Time, watts []float64) *charging.Session {
	s := &charging.Session{ID: id, ChargerID: "charger-1", StartedAt: start}
	for i, w := range watts {
		s.Readings = append(s.Readings, charging.Reading{At: start.Add(time.Duration(i) * time.Minute), Watts: w})
	}
	return s
}

// rebuiltStore returns a collection with duration history: a laptop group
// from two sessions (60m and 90m) and a phone group from one (30m).
func rebuiltStore(t *testing.T) *pattern.Store {
	t.Helper()
	sessions := []*charging.Session{
		completeSession("hist-1", "", testEpoch, 60*time.Minute, laptopWatts),
		completeSession("hist-2", "", testEpoch.Add(2*time.Hour), 90*time.Minute, laptopCloseWatts),
		completeSession("hist-3", "", testEpoch.Add(5*time.Hour), 30*time.Minute, phoneWatts),
	}
	profiles := make(map[string]*profile.Profile, len(sessions))
	for _, sess := range sessions {
		p, err := profile.Extract(sess.Watts())
		if err != nil {
			t.Fatalf("Extract(%s): %v", sess.ID, err)
		}
		profiles[sess.ID] = p
	}
	s := pattern.NewStore()
	if rep := s.Recluster(sessions, profiles); rep.Patterns != 2 {
		t.Fatalf("fixture built %d groups, want 2", rep.Patterns)
	}
	return s
}

func TestBestMatch(t *testing.T) {
	store := rebuiltStore(t)
	g := NewGuesser(store)

	guess, err := g.BestMatch(activeSession("live-1", testEpoch, laptopWatts))
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if guess == nil {
		t.Fatal("no guess for a fingerprint matching known history")
	}
	if guess.Similarity < similarity.MatchThreshold {
		t.Errorf("similarity %v below threshold", guess.Similarity)
	}
	want, err := store.FindBySession("hist-1")
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	if guess.PatternID != want.ID {
		t.Errorf("guessed group %s, want laptop group %s", guess.PatternID, want.ID)
	}
}

func TestBestMatchNoQualifyingGroup(t *testing.T) {
	g := NewGuesser(rebuiltStore(t))

	guess, err := g.BestMatch(activeSession("live-1", testEpoch, []float64{900, 850, 820, 800}))
	if err != nil {
		t.Fatalf("BestMatch: %v", err)
	}
	if guess != nil {
		t.Errorf("guessed %+v for a fingerprint unlike anything known", guess)
	}
}

func TestBestMatchInsufficientReadings(t *testing.T) {
	g := NewGuesser(rebuiltStore(t))

	_, err := g.BestMatch(activeSession("live-1", testEpoch, []float64{45, 43}))
	if !errors.Is(err, profile.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestRankedMatchesExclusion(t *testing.T) {
	// Two groups with laptop-like fingerprints: one accumulated normally,
	// one pinned apart by a manual name. Both should rank for a laptop.
	sessions := []*charging.Session{
		completeSession("hist-1", "", testEpoch, 60*time.Minute, laptopWatts),
		completeSession("hist-2", "", testEpoch.Add(2*time.Hour), 90*time.Minute, laptopCloseWatts),
		completeSession("hist-3", "Drill Battery", testEpoch.Add(4*time.Hour), 45*time.Minute, laptopWatts),
	}
	profiles := make(map[string]*profile.Profile, len(sessions))
	for _, sess := range sessions {
		p, err := profile.Extract(sess.Watts())
		if err != nil {
			t.Fatalf("Extract(%s): %v", sess.ID, err)
		}
		profiles[sess.ID] = p
	}
	store := pattern.NewStore()
	if rep := store.Recluster(sessions, profiles); rep.Patterns != 2 {
		t.Fatalf("fixture built %d groups, want 2", rep.Patterns)
	}

	g := NewGuesser(store)
	sess := activeSession("live-1", testEpoch, laptopWatts)

	ranked, err := g.RankedMatches(sess, nil)
	if err != nil {
		t.Fatalf("RankedMatches: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("got %d ranked matches, want both laptop-like groups", len(ranked))
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Similarity > ranked[i-1].Similarity {
			t.Errorf("ranking not descending at %d: %v after %v", i, ranked[i].Similarity, ranked[i-1].Similarity)
		}
	}

	// Dismissing the top guess removes exactly that group from the ranking.
	excluded, err := g.RankedMatches(sess, map[string]bool{ranked[0].PatternID: true})
	if err != nil {
		t.Fatalf("RankedMatches with exclusion: %v", err)
	}
	for _, guess := range excluded {
		if guess.PatternID == ranked[0].PatternID {
			t.Errorf("excluded group %s still ranked", guess.PatternID)
		}
	}
	if len(excluded) != len(ranked)-1 {
		t.Errorf("exclusion removed %d entries, want 1", len(ranked)-len(excluded))
	}
}
