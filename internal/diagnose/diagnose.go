// Package diagnose explains why a charging session has, or does not
// have, a device name. It ranks the session's power profile against
// every known device group and reduces the outcome to a verdict code
// plus a human-readable detail line.
package diagnose

import (
	"fmt"
	"sort"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/pattern"
	"github.com/ampprint/ampprint/internal/profile"
	"github.com/ampprint/ampprint/internal/similarity"
)

// Verdict classifies the naming state of a session.
type Verdict string

const (
	// VerdictNamed means the session already carries a device name.
	VerdictNamed Verdict = "named"
	// VerdictInsufficientData means too few positive readings to profile.
	VerdictInsufficientData Verdict = "insufficient_data"
	// VerdictGrouped means the session is already a member of a group.
	VerdictGrouped Verdict = "grouped"
	// VerdictNoHistory means no device groups exist yet.
	VerdictNoHistory Verdict = "no_history"
	// VerdictNoMatch means the best candidate scored under the match threshold.
	VerdictNoMatch Verdict = "no_match"
	// VerdictWeakMatch means the session would join a group but not
	// confidently enough to inherit its name automatically.
	VerdictWeakMatch Verdict = "weak_match"
	// VerdictAutoAssign means the best candidate clears the auto-assign bar.
	VerdictAutoAssign Verdict = "auto_assign"
)

const maxCandidates = 3

// Candidate is one device group the session was compared against.
type Candidate struct {
	PatternID  string               `json:"pattern_id"`
	DeviceName string               `json:"device_name"`
	Similarity float64              `json:"similarity"`
	Breakdown  similarity.Breakdown `json:"breakdown"`
}

// Report is the full diagnosis for one session.
type Report struct {
	SessionID    string           `json:"session_id"`
	Verdict      Verdict          `json:"verdict"`
	Detail       string           `json:"detail"`
	ReadingCount int              `json:"reading_count"`
	UsableCount  int              `json:"usable_count"`
	Profile      *profile.Profile `json:"profile,omitempty"`
	Candidates   []Candidate      `json:"candidates,omitempty"`
}

// Engine diagnoses sessions against a group collection.
type Engine struct {
	store *pattern.Store
}

func NewEngine(store *pattern.Store) *Engine {
	return &Engine{store: store}
}

// Session produces a Report for the given session. The session may be
// live or complete; the verdict describes what the matcher would do
// with it as profiled right now.
func (e *Engine) Session(sess *charging.Session) (*Report, error) {
	if sess == nil {
		return nil, fmt.Errorf("diagnose: session is required")
	}

	watts := sess.Watts()
	rep := &Report{
		SessionID:    sess.ID,
		ReadingCount: len(sess.Readings),
		UsableCount:  countPositive(watts),
	}

	if sess.DeviceName != "" {
		rep.Verdict = VerdictNamed
		rep.Detail = fmt.Sprintf("session already has device name %q", sess.DeviceName)
		return rep, nil
	}

	fp, err := profile.Extract(watts)
	if err != nil {
		rep.Verdict = VerdictInsufficientData
		rep.Detail = fmt.Sprintf("only %d usable readings, need at least %d above zero watts to build a profile",
			rep.UsableCount, profile.MinReadings)
		return rep, nil
	}
	rep.Profile = fp
	rep.Candidates = e.rank(fp)

	if pat, err := e.store.FindBySession(sess.ID); err == nil {
		rep.Verdict = VerdictGrouped
		rep.Detail = fmt.Sprintf("session belongs to group %q (%s) but matched below the %.2f auto-assign confidence, so no device name was written to it",
			pat.DeviceName, pat.ID, similarity.AutoAssignThreshold)
		return rep, nil
	}

	if len(rep.Candidates) == 0 {
		rep.Verdict = VerdictNoHistory
		rep.Detail = "no device groups exist yet; this session will found the first one when it completes"
		return rep, nil
	}

	best := rep.Candidates[0]
	switch {
	case best.Similarity < similarity.MatchThreshold:
		rep.Verdict = VerdictNoMatch
		rep.Detail = fmt.Sprintf("best candidate %q scored %.2f, under the %.2f match threshold; a new group will be founded at completion",
			best.DeviceName, best.Similarity, similarity.MatchThreshold)
	case best.Similarity < similarity.AutoAssignThreshold:
		rep.Verdict = VerdictWeakMatch
		rep.Detail = fmt.Sprintf("would join group %q at %.2f similarity, under the %.2f needed to inherit its name automatically",
			best.DeviceName, best.Similarity, similarity.AutoAssignThreshold)
	default:
		rep.Verdict = VerdictAutoAssign
		rep.Detail = fmt.Sprintf("matches group %q at %.2f similarity; the name will be assigned when the session completes",
			best.DeviceName, best.Similarity)
	}
	return rep, nil
}

// rank scores the profile against every group, best first.
func (e *Engine) rank(fp *profile.Profile) []Candidate {
	pats := e.store.Snapshot()
	out := make([]Candidate, 0, len(pats))
	for _, pat := range pats {
		br := similarity.Compare(fp, &pat.Average)
		out = append(out, Candidate{
			PatternID:  pat.ID,
			DeviceName: pat.DeviceName,
			Similarity: br.Total,
			Breakdown:  br,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

func countPositive(watts []float64) int {
	n := 0
	for _, w := range watts {
		if w > 0 {
			n++
		}
	}
	return n
}
