package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ampprint/ampprint/internal/pattern"
	"github.com/ampprint/ampprint/internal/profile"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	f := NewSnapshotFile(path)

	median := 45 * time.Minute
	in := []*pattern.Pattern{
		{
			ID:         "p-1",
			DeviceName: "Work Laptop",
			Average:    profile.Profile{Mean: 41.5, Median: 43, Min: 38, Max: 45, PeakPowerRatio: 0.25},
			SessionIDs: []string{"s-1", "s-2"},
			Count:      2,
			FirstSeen:  time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
			LastSeen:   time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
			Durations: &pattern.DurationStats{
				Average: 45 * time.Minute, Min: 30 * time.Minute, Max: time.Hour,
				Median: &median, TotalSessions: 2,
			},
		},
		{ID: "p-2", DeviceName: "Phone", Count: 1, SessionIDs: []string{"s-3"}},
	}

	if err := f.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("loaded %d patterns, want 2", len(out))
	}
	got := out[0]
	if got.ID != "p-1" || got.DeviceName != "Work Laptop" || got.Count != 2 {
		t.Errorf("pattern = %+v", got)
	}
	if got.Average.Mean != 41.5 || got.Average.PeakPowerRatio != 0.25 {
		t.Errorf("profile did not round-trip: %+v", got.Average)
	}
	if got.Durations == nil || got.Durations.Median == nil || *got.Durations.Median != 45*time.Minute {
		t.Errorf("durations did not round-trip: %+v", got.Durations)
	}
	if out[1].Durations != nil {
		t.Errorf("absent durations came back as %+v", out[1].Durations)
	}
}

func TestSnapshotLoadMissingFile(t *testing.T) {
	f := NewSnapshotFile(filepath.Join(t.TempDir(), "never-written.json"))
	out, err := f.Load()
	if err != nil {
		t.Fatalf("Load of missing file: %v", err)
	}
	if out != nil {
		t.Errorf("missing snapshot loaded %d patterns, want none", len(out))
	}
}

func TestSnapshotSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.json")
	f := NewSnapshotFile(path)

	if err := f.Save([]*pattern.Pattern{{ID: "old", Count: 1}}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := f.Save([]*pattern.Pattern{{ID: "new", Count: 1}}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	out, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 1 || out[0].ID != "new" {
		t.Errorf("loaded %+v, want just the new snapshot", out)
	}

	// No temp files may survive a completed save.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		for _, e := range entries {
			t.Logf("left behind: %s", e.Name())
		}
		t.Errorf("snapshot dir holds %d files, want 1", len(entries))
	}
}

func TestSnapshotRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	if err := os.WriteFile(path, []byte(`{"version": 99, "patterns": []}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewSnapshotFile(path).Load(); err == nil {
		t.Error("version 99 snapshot loaded without error")
	}
}

func TestSnapshotRestoresIntoStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.json")
	f := NewSnapshotFile(path)

	src := pattern.NewStore()
	src.Restore([]*pattern.Pattern{
		{ID: "p-1", DeviceName: "Kettle", Count: 2, SessionIDs: []string{"s-1", "s-2"}},
	})
	if err := f.Save(src.Snapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dst := pattern.NewStore()
	dst.Restore(loaded)
	got, err := dst.Get("p-1")
	if err != nil {
		t.Fatalf("restored store missing pattern: %v", err)
	}
	if got.DeviceName != "Kettle" || got.Count != 2 {
		t.Errorf("restored pattern = %+v", got)
	}
}
