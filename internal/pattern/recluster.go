package pattern

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/profile"
	"github.com/ampprint/ampprint/internal/similarity"
)

// ReclusterReport summarizes a rebuild.
type ReclusterReport struct {
	Patterns  int `json:"patterns"`
	Clustered int `json:"clustered_sessions"`
	Skipped   int `json:"skipped_sessions"`
}

// priorIdentity is where a session lived before a rebuild.
type priorIdentity struct {
	id   string
	name string
}

// Recluster rebuilds the whole collection from scratch out of the given
// sessions and their fingerprints, then swaps it in atomically.
//
// The rebuild honors earlier decisions instead of erasing them:
//
//   - Sessions are walked in a stable order (StartedAt, then id), so the
//     same inputs always rebuild the same groups.
//   - A manually named session only joins groups carrying exactly that
//     name; the matcher cannot quietly overrule a human.
//   - A session founding a group reuses its prior group's id and name when
//     the session's current name still agrees with that record, so stable
//     groups keep their identity across rebuilds.
//
// Sessions that are incomplete or missing from profiles are skipped.
// Duration statistics are recomputed from scratch for every group, which is
// also how a merged group regains its median. The resulting collection is
// ordered by descending session count.
func (s *Store) Recluster(sessions []*charging.Session, profiles map[string]*profile.Profile) *ReclusterReport {
	ordered := make([]*charging.Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess != nil && sess.ID != "" {
			ordered = append(ordered, sess)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].StartedAt.Equal(ordered[j].StartedAt) {
			return ordered[i].StartedAt.Before(ordered[j].StartedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	prior := make(map[string]priorIdentity)
	for _, p := range s.patterns {
		for _, sid := range p.SessionIDs {
			prior[sid] = priorIdentity{id: p.ID, name: p.DeviceName}
		}
	}

	var next []*Pattern
	usedIDs := make(map[string]bool)
	durations := make(map[string][]time.Duration)
	report := &ReclusterReport{}

	nameUsed := func(name string) bool {
		for _, p := range next {
			if p.DeviceName == name {
				return true
			}
		}
		return false
	}

	for _, sess := range ordered {
		fp := profiles[sess.ID]
		if fp == nil || !sess.Complete() {
			report.Skipped++
			continue
		}

		name := strings.TrimSpace(sess.DeviceName)
		manual := IsManualName(name)
		eligible := func(pat *Pattern) bool {
			return !manual || pat.DeviceName == name
		}

		if idx, score := bestIndex(next, fp, eligible); idx >= 0 && score >= similarity.MatchThreshold {
			pat := next[idx]
			pat.Average = foldProfile(pat.Average, pat.Count, *fp)
			pat.SessionIDs = append(pat.SessionIDs, sess.ID)
			pat.Count++
			pat.FirstSeen = minTime(pat.FirstSeen, sess.StartedAt)
			pat.LastSeen = maxTime(pat.LastSeen, sessionSeenAt(sess))
			durations[pat.ID] = append(durations[pat.ID], sess.Duration())
			report.Clustered++
			continue
		}

		id := ""
		if rec, ok := prior[sess.ID]; ok && !usedIDs[rec.id] && (name == "" || name == rec.name) {
			id = rec.id
			name = rec.name
		} else if !manual {
			name = nextDefaultName(nameUsed)
		}
		if id == "" {
			id = uuid.NewString()
		}
		usedIDs[id] = true

		pat := &Pattern{
			ID:          id,
			DeviceName:  name,
			ChargerID:   sess.ChargerID,
			ChargerName: sess.ChargerName,
			Average:     *fp,
			SessionIDs:  []string{sess.ID},
			Count:       1,
			FirstSeen:   sess.StartedAt,
			LastSeen:    sessionSeenAt(sess),
		}
		next = append(next, pat)
		durations[pat.ID] = append(durations[pat.ID], sess.Duration())
		report.Clustered++
	}

	for _, pat := range next {
		pat.Durations = durationStatsFrom(durations[pat.ID])
	}

	sort.Slice(next, func(i, j int) bool {
		if next[i].Count != next[j].Count {
			return next[i].Count > next[j].Count
		}
		if !next[i].FirstSeen.Equal(next[j].FirstSeen) {
			return next[i].FirstSeen.Before(next[j].FirstSeen)
		}
		return next[i].ID < next[j].ID
	})

	s.patterns = next
	s.byID = make(map[string]*Pattern, len(next))
	for _, p := range next {
		s.byID[p.ID] = p
	}
	report.Patterns = len(next)
	return report
}
