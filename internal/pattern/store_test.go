package pattern

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/profile"
	"github.com/ampprint/ampprint/internal/similarity"
)

var testEpoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// Power curves for four sessions: two laptop-like, one phone-like, one
// trickle charger. The laptop pair groups together, the rest stay apart.
var (
	laptopWatts      = []float64{45, 43, 40, 38}
	laptopAgainWatts = []float64{46, 44, 41, 39}
	phoneWatts       = []float64{15, 12, 10, 8}
	trickleWatts     = []float64{5, 5.5, 5.2, 5}
)

// newSession builds a complete session whose readings span dur.
func newSession(id, name string, start time.Time, dur time.Duration, watts []float64) *charging.Session {
	end := start.Add(dur)
	s := &charging.Session{
		ID:         id,
		ChargerID:  "charger-1",
		DeviceName: name,
		StartedAt:  start,
		EndedAt:    &end,
	}
	if len(watts) > 0 {
		step := dur / time.Duration(len(watts))
		for i, w := range watts {
			s.Readings = append(s.Readings, charging.Reading{At: start.Add(time.Duration(i) * step), Watts: w})
		}
	}
	return s
}

func mustProfile(t *testing.T, watts []float64) *profile.Profile {
	t.Helper()
	p, err := profile.Extract(watts)
	if err != nil {
		t.Fatalf("Extract(%v): %v", watts, err)
	}
	return p
}

func mustMatch(t *testing.T, s *Store, sess *charging.Session) *MatchResult {
	t.Helper()
	res, err := s.MatchOrCreate(sess, mustProfile(t, sess.Watts()))
	if err != nil {
		t.Fatalf("MatchOrCreate(%s): %v", sess.ID, err)
	}
	return res
}

// checkInvariants asserts the membership rules that must hold after any
// sequence of operations: counts match membership, every group is non-empty
// and named, and no session appears in two groups.
func checkInvariants(t *testing.T, s *Store) {
	t.Helper()
	seen := map[string]string{}
	for _, p := range s.Snapshot() {
		if p.Count != len(p.SessionIDs) {
			t.Errorf("group %s: Count %d != %d member ids", p.ID, p.Count, len(p.SessionIDs))
		}
		if p.Count == 0 {
			t.Errorf("group %s: empty group survived", p.ID)
		}
		if p.DeviceName == "" {
			t.Errorf("group %s: blank device name", p.ID)
		}
		for _, sid := range p.SessionIDs {
			if other, dup := seen[sid]; dup {
				t.Errorf("session %s in both %s and %s", sid, other, p.ID)
			}
			seen[sid] = p.ID
		}
	}
}

func TestMatchOrCreate(t *testing.T) {
	s := NewStore()

	first := mustMatch(t, s, newSession("s-1", "", testEpoch, time.Hour, laptopWatts))
	if !first.Created {
		t.Fatal("first session did not create a group")
	}
	if first.Pattern.DeviceName != "Phone" {
		t.Errorf("generated name = %q, want first pool entry Phone", first.Pattern.DeviceName)
	}

	second := mustMatch(t, s, newSession("s-2", "", testEpoch.Add(24*time.Hour), time.Hour, laptopAgainWatts))
	if second.Created {
		t.Fatal("near-identical session created a second group")
	}
	if second.Pattern.ID != first.Pattern.ID {
		t.Errorf("matched group %s, want %s", second.Pattern.ID, first.Pattern.ID)
	}
	if second.Similarity < similarity.MatchThreshold {
		t.Errorf("match similarity %v below threshold", second.Similarity)
	}
	if second.Pattern.Count != 2 || len(second.Pattern.SessionIDs) != 2 {
		t.Errorf("group after match: count %d, ids %v", second.Pattern.Count, second.Pattern.SessionIDs)
	}
	if !second.Pattern.LastSeen.After(first.Pattern.LastSeen) {
		t.Errorf("LastSeen not advanced: %v", second.Pattern.LastSeen)
	}
	checkInvariants(t, s)
}

// Four sessions, three devices: the laptop pair converges on one group and
// the phone and trickle charger each get their own.
func TestMatchOrCreateThreeDevices(t *testing.T) {
	s := NewStore()
	mustMatch(t, s, newSession("s-1", "", testEpoch, time.Hour, laptopWatts))
	mustMatch(t, s, newSession("s-2", "", testEpoch.Add(1*time.Hour), time.Hour, laptopAgainWatts))
	mustMatch(t, s, newSession("s-3", "", testEpoch.Add(2*time.Hour), time.Hour, phoneWatts))
	mustMatch(t, s, newSession("s-4", "", testEpoch.Add(3*time.Hour), time.Hour, trickleWatts))

	if s.Len() != 3 {
		t.Fatalf("got %d groups, want 3", s.Len())
	}
	list := s.List()
	if list[0].Count != 2 || list[1].Count != 1 || list[2].Count != 1 {
		t.Errorf("group counts = %d/%d/%d, want 2/1/1", list[0].Count, list[1].Count, list[2].Count)
	}
	checkInvariants(t, s)
}

func TestMatchOrCreateManualNames(t *testing.T) {
	s := NewStore()

	created := mustMatch(t, s, newSession("s-1", "Work Laptop", testEpoch, time.Hour, laptopWatts))
	if created.Pattern.DeviceName != "Work Laptop" {
		t.Errorf("created group name = %q, want the session's manual name", created.Pattern.DeviceName)
	}

	// A generated name yields to a manual member name on match.
	phone := mustMatch(t, s, newSession("s-2", "", testEpoch, time.Hour, phoneWatts))
	if IsManualName(phone.Pattern.DeviceName) {
		t.Fatalf("unnamed session produced manual name %q", phone.Pattern.DeviceName)
	}
	promoted := mustMatch(t, s, newSession("s-3", "Roomba", testEpoch, time.Hour, phoneWatts))
	if promoted.Pattern.DeviceName != "Roomba" {
		t.Errorf("group name after manual member = %q, want Roomba", promoted.Pattern.DeviceName)
	}

	// An established manual name is not overwritten by a later one.
	kept := mustMatch(t, s, newSession("s-4", "Mixer", testEpoch, time.Hour, phoneWatts))
	if kept.Pattern.DeviceName != "Roomba" {
		t.Errorf("manual name overwritten: %q", kept.Pattern.DeviceName)
	}
	checkInvariants(t, s)
}

// A manual member name is not promoted onto a matched group when another
// group already carries it; the generated label stays and the session keeps
// its own name for a later relabel or merge.
func TestMatchOrCreateSkipsDuplicatePromotion(t *testing.T) {
	s := NewStore()
	mustMatch(t, s, newSession("s-1", "Work Laptop", testEpoch, time.Hour, laptopWatts))
	founded := mustMatch(t, s, newSession("s-2", "", testEpoch.Add(time.Hour), time.Hour, phoneWatts))
	if IsManualName(founded.Pattern.DeviceName) {
		t.Fatalf("unnamed session founded group with manual name %q", founded.Pattern.DeviceName)
	}

	res := mustMatch(t, s, newSession("s-3", "Work Laptop", testEpoch.Add(2*time.Hour), time.Hour, phoneWatts))
	if res.Created {
		t.Fatal("matching session founded a new group")
	}
	if res.Pattern.ID != founded.Pattern.ID {
		t.Fatalf("session joined %s, want the phone group %s", res.Pattern.ID, founded.Pattern.ID)
	}
	if res.Pattern.DeviceName != founded.Pattern.DeviceName {
		t.Errorf("group renamed to %q, duplicating an existing label", res.Pattern.DeviceName)
	}
	checkInvariants(t, s)
}

// The charger that saw a device first stays on the group as provenance;
// matches arriving from other chargers do not rewrite it.
func TestMatchOrCreateRecordsSeedingCharger(t *testing.T) {
	s := NewStore()

	seed := newSession("s-1", "", testEpoch, time.Hour, laptopWatts)
	seed.ChargerID = "plug-garage"
	seed.ChargerName = "Garage Plug"
	created := mustMatch(t, s, seed)
	if created.Pattern.ChargerID != "plug-garage" || created.Pattern.ChargerName != "Garage Plug" {
		t.Errorf("seeding charger = %q/%q, want plug-garage/Garage Plug",
			created.Pattern.ChargerID, created.Pattern.ChargerName)
	}

	other := newSession("s-2", "", testEpoch.Add(time.Hour), time.Hour, laptopAgainWatts)
	other.ChargerID = "plug-office"
	matched := mustMatch(t, s, other)
	if matched.Created {
		t.Fatal("second laptop session founded a new group")
	}
	if matched.Pattern.ChargerID != "plug-garage" {
		t.Errorf("match rewrote seeding charger to %q", matched.Pattern.ChargerID)
	}
}

func TestMatchOrCreateRejectsBadInput(t *testing.T) {
	s := NewStore()
	p := mustProfile(t, laptopWatts)

	if _, err := s.MatchOrCreate(nil, p); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nil session: err = %v, want ErrInvalidInput", err)
	}
	if _, err := s.MatchOrCreate(&charging.Session{ID: "  "}, p); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank id: err = %v, want ErrInvalidInput", err)
	}
	if _, err := s.MatchOrCreate(newSession("s-1", "", testEpoch, time.Hour, laptopWatts), nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nil profile: err = %v, want ErrInvalidInput", err)
	}

	sess := newSession("s-1", "", testEpoch, time.Hour, laptopWatts)
	mustMatch(t, s, sess)
	if _, err := s.MatchOrCreate(sess, p); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("re-adding a grouped session: err = %v, want ErrInvalidInput", err)
	}
	if s.Len() != 1 {
		t.Errorf("failed ops changed the collection: %d groups", s.Len())
	}
}

func TestRelabelSessionJoinsExistingGroup(t *testing.T) {
	s := NewStore()
	laptop := newSession("s-1", "", testEpoch, time.Hour, laptopWatts)
	phone := newSession("s-2", "", testEpoch, time.Hour, phoneWatts)
	laptopGroup := mustMatch(t, s, laptop).Pattern
	phoneGroup := mustMatch(t, s, phone).Pattern

	res, err := s.RelabelSession(laptop, phoneGroup.DeviceName, mustProfile(t, laptopWatts))
	if err != nil {
		t.Fatalf("RelabelSession: %v", err)
	}
	if res.Created {
		t.Error("joined an existing name but reported Created")
	}
	if res.Pattern.ID != phoneGroup.ID || res.Pattern.Count != 2 {
		t.Errorf("joined group = %s count %d, want %s count 2", res.Pattern.ID, res.Pattern.Count, phoneGroup.ID)
	}
	if res.RemovedFromID != laptopGroup.ID || !res.RemovedDeleted {
		t.Errorf("old singleton not removed: %+v", res)
	}
	if _, err := s.Get(laptopGroup.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("emptied group still present: %v", err)
	}
	checkInvariants(t, s)
}

// Renaming one session out of a group is the single-session split path: the
// session lands in a fresh singleton and the source group shrinks.
func TestRelabelSessionSplitsSingleton(t *testing.T) {
	s := NewStore()
	a := newSession("s-1", "", testEpoch, time.Hour, laptopWatts)
	b := newSession("s-2", "", testEpoch.Add(time.Hour), time.Hour, laptopAgainWatts)
	mustMatch(t, s, a)
	group := mustMatch(t, s, b).Pattern
	if group.Count != 2 {
		t.Fatalf("setup: group count = %d, want 2", group.Count)
	}

	res, err := s.RelabelSession(b, "Space Heater", mustProfile(t, b.Watts()))
	if err != nil {
		t.Fatalf("RelabelSession: %v", err)
	}
	if !res.Created {
		t.Error("split did not create a fresh group")
	}
	if res.Pattern.DeviceName != "Space Heater" || res.Pattern.Count != 1 {
		t.Errorf("singleton = %q count %d", res.Pattern.DeviceName, res.Pattern.Count)
	}
	if res.RemovedDeleted {
		t.Error("source group reported deleted while it still has a member")
	}
	remaining, err := s.Get(group.ID)
	if err != nil {
		t.Fatalf("source group vanished: %v", err)
	}
	if remaining.Count != 1 || remaining.SessionIDs[0] != "s-1" {
		t.Errorf("source group after split: %+v", remaining)
	}
	checkInvariants(t, s)
}

func TestRelabelSessionSameNameIsNoop(t *testing.T) {
	s := NewStore()
	sess := newSession("s-1", "", testEpoch, time.Hour, laptopWatts)
	group := mustMatch(t, s, sess).Pattern

	res, err := s.RelabelSession(sess, group.DeviceName, mustProfile(t, laptopWatts))
	if err != nil {
		t.Fatalf("RelabelSession: %v", err)
	}
	if res.Created || res.RemovedFromID != "" {
		t.Errorf("same-name relabel was not a no-op: %+v", res)
	}
	after, _ := s.Get(group.ID)
	if after.Count != 1 {
		t.Errorf("no-op relabel changed count: %d", after.Count)
	}
}

func TestRelabelSessionRejectsBlankName(t *testing.T) {
	s := NewStore()
	sess := newSession("s-1", "", testEpoch, time.Hour, laptopWatts)
	mustMatch(t, s, sess)

	if _, err := s.RelabelSession(sess, "   ", mustProfile(t, laptopWatts)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank name: err = %v, want ErrInvalidInput", err)
	}
	if s.Len() != 1 {
		t.Error("rejected relabel mutated the collection")
	}
}

func TestRelabelGroup(t *testing.T) {
	s := NewStore()
	group := mustMatch(t, s, newSession("s-1", "", testEpoch, time.Hour, laptopWatts)).Pattern

	renamed, err := s.RelabelGroup(group.ID, "Bench Supply")
	if err != nil {
		t.Fatalf("RelabelGroup: %v", err)
	}
	if renamed.DeviceName != "Bench Supply" {
		t.Errorf("name = %q, want Bench Supply", renamed.DeviceName)
	}

	// Renaming to its own name is fine.
	if _, err := s.RelabelGroup(group.ID, "Bench Supply"); err != nil {
		t.Errorf("self-rename: %v", err)
	}

	if _, err := s.RelabelGroup("nope", "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: err = %v, want ErrNotFound", err)
	}
	if _, err := s.RelabelGroup(group.ID, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank name: err = %v, want ErrInvalidInput", err)
	}
}

// A name collision must identify the holder and leave both groups untouched.
func TestRelabelGroupConflict(t *testing.T) {
	s := NewStore()
	laptop := mustMatch(t, s, newSession("s-1", "Laptop Dock", testEpoch, time.Hour, laptopWatts)).Pattern
	phone := mustMatch(t, s, newSession("s-2", "Night Phone", testEpoch, time.Hour, phoneWatts)).Pattern

	_, err := s.RelabelGroup(laptop.ID, "Night Phone")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want *ConflictError", err)
	}
	if conflict.ExistingID != phone.ID || conflict.Name != "Night Phone" {
		t.Errorf("conflict = %+v, want holder %s", conflict, phone.ID)
	}

	// Nothing moved.
	a, _ := s.Get(laptop.ID)
	b, _ := s.Get(phone.ID)
	if a.DeviceName != "Laptop Dock" || b.DeviceName != "Night Phone" {
		t.Errorf("conflict mutated names: %q / %q", a.DeviceName, b.DeviceName)
	}
}

func TestMerge(t *testing.T) {
	s := NewStore()
	mustMatch(t, s, newSession("s-1", "", testEpoch, time.Hour, laptopWatts))
	target := mustMatch(t, s, newSession("s-2", "", testEpoch.Add(time.Hour), time.Hour, laptopAgainWatts)).Pattern
	source := mustMatch(t, s, newSession("s-3", "", testEpoch.Add(2*time.Hour), 30*time.Minute, phoneWatts)).Pattern

	res, err := s.Merge(source.ID, target.ID)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	merged := res.Pattern
	if merged.ID != target.ID {
		t.Errorf("survivor = %s, want target %s", merged.ID, target.ID)
	}
	if merged.Count != 3 || len(merged.SessionIDs) != 3 {
		t.Errorf("merged count = %d ids %v, want 3 members", merged.Count, merged.SessionIDs)
	}
	if len(res.AbsorbedIDs) != 1 || res.AbsorbedIDs[0] != "s-3" {
		t.Errorf("absorbed ids = %v, want [s-3]", res.AbsorbedIDs)
	}
	if _, err := s.Get(source.ID); !errors.Is(err, ErrNotFound) {
		t.Error("source group still present after merge")
	}
	if merged.Average.Min != 8 {
		t.Errorf("merged Min = %v, want extreme 8", merged.Average.Min)
	}
	if !merged.FirstSeen.Equal(testEpoch) {
		t.Errorf("FirstSeen = %v, want earliest %v", merged.FirstSeen, testEpoch)
	}
	if !merged.LastSeen.Equal(testEpoch.Add(2*time.Hour + 30*time.Minute)) {
		t.Errorf("LastSeen = %v, want latest end", merged.LastSeen)
	}
	checkInvariants(t, s)
}

func TestMergeRejectsBadInput(t *testing.T) {
	s := NewStore()
	group := mustMatch(t, s, newSession("s-1", "", testEpoch, time.Hour, laptopWatts)).Pattern

	if _, err := s.Merge(group.ID, group.ID); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("self-merge: err = %v, want ErrInvalidInput", err)
	}
	if _, err := s.Merge("missing", group.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing source: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Merge(group.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing target: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Merge("", group.ID); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank source: err = %v, want ErrInvalidInput", err)
	}

	after, _ := s.Get(group.ID)
	if after.Count != 1 {
		t.Error("rejected merges mutated the survivor")
	}
}

func TestDelete(t *testing.T) {
	s := NewStore()
	group := mustMatch(t, s, newSession("s-1", "", testEpoch, time.Hour, laptopWatts)).Pattern
	other := mustMatch(t, s, newSession("s-2", "", testEpoch, time.Hour, phoneWatts)).Pattern

	removed, err := s.Delete(group.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed.ID != group.ID {
		t.Errorf("removed %s, want %s", removed.ID, group.ID)
	}
	if _, err := s.Get(group.ID); !errors.Is(err, ErrNotFound) {
		t.Error("deleted group still present")
	}
	if _, err := s.Get(other.ID); err != nil {
		t.Errorf("unrelated group disturbed: %v", err)
	}
	if _, err := s.Delete(group.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}
}

func TestListOrdersByCount(t *testing.T) {
	s := NewStore()
	mustMatch(t, s, newSession("s-1", "", testEpoch, time.Hour, laptopWatts))
	mustMatch(t, s, newSession("s-2", "", testEpoch.Add(time.Hour), time.Hour, laptopAgainWatts))
	mustMatch(t, s, newSession("s-3", "", testEpoch.Add(2*time.Hour), time.Hour, phoneWatts))

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("got %d groups, want 2", len(list))
	}
	if list[0].Count < list[1].Count {
		t.Errorf("List not ordered by descending count: %d then %d", list[0].Count, list[1].Count)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	mustMatch(t, s, newSession("s-1", "Toaster", testEpoch, time.Hour, laptopWatts))
	mustMatch(t, s, newSession("s-2", "", testEpoch, time.Hour, phoneWatts))
	snap := s.Snapshot()

	restored := NewStore()
	restored.Restore(snap)

	if restored.Len() != s.Len() {
		t.Fatalf("restored %d groups, want %d", restored.Len(), s.Len())
	}
	for _, want := range snap {
		got, err := restored.Get(want.ID)
		if err != nil {
			t.Fatalf("restored store missing %s: %v", want.ID, err)
		}
		if got.DeviceName != want.DeviceName || got.Count != want.Count {
			t.Errorf("group %s: got %q/%d, want %q/%d", want.ID, got.DeviceName, got.Count, want.DeviceName, want.Count)
		}
	}

	// Mutating the snapshot after the fact must not reach the store.
	snap[0].DeviceName = "scribbled"
	if got, _ := restored.Get(snap[0].ID); got.DeviceName == "scribbled" {
		t.Error("snapshot mutation leaked into restored store")
	}

	// Corrupt entries are dropped, not trusted.
	restored.Restore([]*Pattern{nil, {ID: "", Count: 1}, {ID: "x", Count: 0}})
	if restored.Len() != 0 {
		t.Errorf("restore kept corrupt entries: %d groups", restored.Len())
	}
}

// Concurrent readers and writers must not trip the race detector or break
// membership invariants.
func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	p := mustProfile(t, laptopWatts)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := fmt.Sprintf("s-%d-%d", n, j)
				sess := newSession(id, "", testEpoch.Add(time.Duration(j)*time.Minute), time.Hour, laptopWatts)
				if _, err := s.MatchOrCreate(sess, p); err != nil {
					t.Errorf("MatchOrCreate(%s): %v", id, err)
				}
				s.List()
				s.Len()
			}
		}(i)
	}
	wg.Wait()
	checkInvariants(t, s)

	total := 0
	for _, p := range s.Snapshot() {
		total += p.Count
	}
	if total != 8*20 {
		t.Errorf("sessions accounted for = %d, want %d", total, 8*20)
	}
}
