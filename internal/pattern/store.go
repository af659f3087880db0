package pattern

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/profile"
	"github.com/ampprint/ampprint/internal/similarity"
)

// Store is the in-memory device-group collection. One RWMutex guards it:
// mutators take the write lock, queries the read lock, so reads never see a
// half-applied edit. Collection order is creation order, and similarity ties
// go to the earliest group.
type Store struct {
	mu       sync.RWMutex
	patterns []*Pattern
	byID     map[string]*Pattern
}

// NewStore returns an empty collection.
func NewStore() *Store {
	return &Store{byID: make(map[string]*Pattern)}
}

// MatchResult reports where MatchOrCreate placed a session.
type MatchResult struct {
	// Pattern is the group holding the session, after the update.
	Pattern *Pattern
	// Created is true when the session founded a new group.
	Created bool
	// Similarity is the score against the matched group's average before the
	// session was folded in. Zero when Created.
	Similarity float64
}

// MatchOrCreate assigns a finished session's fingerprint to the most similar
// existing group, or founds a new one when nothing scores at least the match
// threshold. On a match the group's running average absorbs the fingerprint,
// and a generated group label gives way to the session's manual name unless
// another group already holds that name. On a miss the new group takes the
// session's manual name if it has one, else the next free generated label.
func (s *Store) MatchOrCreate(session *charging.Session, p *profile.Profile) (*MatchResult, error) {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return nil, fmt.Errorf("session id required: %w", ErrInvalidInput)
	}
	if p == nil {
		return nil, fmt.Errorf("profile required: %w", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if holder := s.holderOf(session.ID); holder != nil {
		return nil, fmt.Errorf("session %s already belongs to group %s: %w",
			session.ID, holder.ID, ErrInvalidInput)
	}

	if idx, score := bestIndex(s.patterns, p, nil); idx >= 0 && score >= similarity.MatchThreshold {
		pat := s.patterns[idx]
		s.absorb(pat, session, p)
		if name := strings.TrimSpace(session.DeviceName); !IsManualName(pat.DeviceName) && IsManualName(name) && s.findByName(name) == nil {
			pat.DeviceName = name
		}
		return &MatchResult{Pattern: pat.Clone(), Similarity: score}, nil
	}

	name := strings.TrimSpace(session.DeviceName)
	if !IsManualName(name) {
		name = nextDefaultName(s.nameInUse)
	}
	pat := s.found(uuid.NewString(), name, session, p)
	return &MatchResult{Pattern: pat.Clone(), Created: true}, nil
}

// RelabelResult reports the outcome of a single-session rename.
type RelabelResult struct {
	// Pattern is the group now holding the session.
	Pattern *Pattern
	// Created is true when the rename founded a fresh singleton group.
	Created bool
	// RemovedFromID names the group the session left, "" if it had none.
	RemovedFromID string
	// RemovedDeleted is true when leaving emptied that group and it was dropped.
	RemovedDeleted bool
}

// RelabelSession renames one session: it leaves its current group (which is
// deleted if emptied), then joins the group already named newName or founds a
// fresh singleton. This is the only way to split a single session out of a
// group the matcher put it in.
func (s *Store) RelabelSession(session *charging.Session, newName string, p *profile.Profile) (*RelabelResult, error) {
	name := strings.TrimSpace(newName)
	if name == "" {
		return nil, fmt.Errorf("device name required: %w", ErrInvalidInput)
	}
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return nil, fmt.Errorf("session id required: %w", ErrInvalidInput)
	}
	if p == nil {
		return nil, fmt.Errorf("profile required: %w", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	holder := s.holderOf(session.ID)
	if holder != nil && holder.DeviceName == name {
		return &RelabelResult{Pattern: holder.Clone()}, nil
	}

	res := &RelabelResult{}
	if holder != nil {
		res.RemovedFromID = holder.ID
		holder.SessionIDs = removeString(holder.SessionIDs, session.ID)
		holder.Count--
		if holder.Count == 0 {
			s.drop(holder.ID)
			res.RemovedDeleted = true
		}
	}

	if target := s.findByName(name); target != nil {
		s.absorb(target, session, p)
		res.Pattern = target.Clone()
		return res, nil
	}

	pat := s.found(uuid.NewString(), name, session, p)
	res.Pattern = pat.Clone()
	res.Created = true
	return res, nil
}

// RelabelGroup renames a whole group. A name held by another group is a
// conflict: the returned *ConflictError names that group so the caller can
// offer a merge instead. The store does not touch session names; callers
// propagate the new name to member sessions using the returned SessionIDs.
func (s *Store) RelabelGroup(patternID, newName string) (*Pattern, error) {
	name := strings.TrimSpace(newName)
	if name == "" {
		return nil, fmt.Errorf("device name required: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(patternID) == "" {
		return nil, fmt.Errorf("group id required: %w", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pat, ok := s.byID[patternID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", patternID, ErrNotFound)
	}
	if other := s.findByName(name); other != nil && other.ID != pat.ID {
		return nil, &ConflictError{Name: name, ExistingID: other.ID}
	}
	pat.DeviceName = name
	return pat.Clone(), nil
}

// MergeResult carries the surviving group and the session ids it absorbed,
// so callers can propagate the surviving name onto those sessions.
type MergeResult struct {
	Pattern     *Pattern
	AbsorbedIDs []string
}

// Merge folds the source group into the target and removes the source.
// Profile statistics blend weighted by member count, Min/Max widen to the
// true extremes, and the merged duration median becomes unavailable until
// the next rebuild. The target keeps its name and id.
func (s *Store) Merge(sourceID, targetID string) (*MergeResult, error) {
	if strings.TrimSpace(sourceID) == "" || strings.TrimSpace(targetID) == "" {
		return nil, fmt.Errorf("source and target ids required: %w", ErrInvalidInput)
	}
	if sourceID == targetID {
		return nil, fmt.Errorf("cannot merge group %s into itself: %w", sourceID, ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.byID[sourceID]
	if !ok {
		return nil, fmt.Errorf("source group %s: %w", sourceID, ErrNotFound)
	}
	dst, ok := s.byID[targetID]
	if !ok {
		return nil, fmt.Errorf("target group %s: %w", targetID, ErrNotFound)
	}

	dst.Average = mergeProfiles(dst.Average, dst.Count, src.Average, src.Count)
	absorbed := append([]string(nil), src.SessionIDs...)
	dst.SessionIDs = append(dst.SessionIDs, absorbed...)
	dst.Count += src.Count
	dst.FirstSeen = minTime(dst.FirstSeen, src.FirstSeen)
	dst.LastSeen = maxTime(dst.LastSeen, src.LastSeen)
	dst.Durations = mergeDurationStats(dst.Durations, src.Durations)
	s.drop(src.ID)

	return &MergeResult{Pattern: dst.Clone(), AbsorbedIDs: absorbed}, nil
}

// Delete removes a group. Member sessions keep whatever names they carry.
func (s *Store) Delete(patternID string) (*Pattern, error) {
	if strings.TrimSpace(patternID) == "" {
		return nil, fmt.Errorf("group id required: %w", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pat, ok := s.byID[patternID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", patternID, ErrNotFound)
	}
	s.drop(patternID)
	return pat.Clone(), nil
}

// Get returns a copy of one group.
func (s *Store) Get(patternID string) (*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pat, ok := s.byID[patternID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", patternID, ErrNotFound)
	}
	return pat.Clone(), nil
}

// FindBySession returns a copy of the group holding a session.
func (s *Store) FindBySession(sessionID string) (*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pat := s.holderOf(sessionID); pat != nil {
		return pat.Clone(), nil
	}
	return nil, fmt.Errorf("no group holds session %s: %w", sessionID, ErrNotFound)
}

// List returns copies of every group, most sessions first. Ties break on
// FirstSeen then id so output order is reproducible.
func (s *Store) List() []*Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of groups.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// Snapshot returns copies of every group in collection order, for
// persistence. Restore with the same slice reproduces the collection
// exactly, including match tie-breaking behavior.
func (s *Store) Snapshot() []*Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p.Clone())
	}
	return out
}

// Restore replaces the collection. Empty or duplicate-id entries are
// dropped rather than trusted; a snapshot is only as clean as the disk
// it came from.
func (s *Store) Restore(patterns []*Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patterns = make([]*Pattern, 0, len(patterns))
	s.byID = make(map[string]*Pattern, len(patterns))
	for _, p := range patterns {
		if p == nil || p.ID == "" || p.Count == 0 {
			continue
		}
		if _, dup := s.byID[p.ID]; dup {
			continue
		}
		s.insert(p.Clone())
	}
}

// absorb folds one session into an existing group. Caller holds the lock.
func (s *Store) absorb(pat *Pattern, session *charging.Session, p *profile.Profile) {
	pat.Average = foldProfile(pat.Average, pat.Count, *p)
	pat.SessionIDs = append(pat.SessionIDs, session.ID)
	pat.Count++
	pat.FirstSeen = minTime(pat.FirstSeen, session.StartedAt)
	pat.LastSeen = maxTime(pat.LastSeen, sessionSeenAt(session))
}

// found creates a singleton group seeded from one session. Caller holds the lock.
func (s *Store) found(id, name string, session *charging.Session, p *profile.Profile) *Pattern {
	pat := &Pattern{
		ID:          id,
		DeviceName:  name,
		ChargerID:   session.ChargerID,
		ChargerName: session.ChargerName,
		Average:     *p,
		SessionIDs:  []string{session.ID},
		Count:       1,
		FirstSeen:   session.StartedAt,
		LastSeen:    sessionSeenAt(session),
	}
	s.insert(pat)
	return pat
}

func (s *Store) insert(p *Pattern) {
	s.patterns = append(s.patterns, p)
	s.byID[p.ID] = p
}

func (s *Store) drop(id string) {
	for i, p := range s.patterns {
		if p.ID == id {
			s.patterns = append(s.patterns[:i], s.patterns[i+1:]...)
			break
		}
	}
	delete(s.byID, id)
}

func (s *Store) holderOf(sessionID string) *Pattern {
	for _, p := range s.patterns {
		for _, sid := range p.SessionIDs {
			if sid == sessionID {
				return p
			}
		}
	}
	return nil
}

func (s *Store) findByName(name string) *Pattern {
	for _, p := range s.patterns {
		if p.DeviceName == name {
			return p
		}
	}
	return nil
}

func (s *Store) nameInUse(name string) bool {
	return s.findByName(name) != nil
}

// bestIndex scores a fingerprint against every candidate and returns the
// index and score of the strict maximum, so earlier candidates win ties.
// Returns -1 when nothing is eligible.
func bestIndex(patterns []*Pattern, p *profile.Profile, eligible func(*Pattern) bool) (int, float64) {
	best, bestScore := -1, 0.0
	for i, pat := range patterns {
		if eligible != nil && !eligible(pat) {
			continue
		}
		if score := similarity.Score(&pat.Average, p); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}

// sessionSeenAt is the moment a session was last observed.
func sessionSeenAt(s *charging.Session) time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	return s.StartedAt
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
