// Package charging holds the session data model shared by the fingerprinting
// engine and its hosts.
//
// A Session is one charge cycle on one charger: an ordered series of power
// readings between a start and an (optional) end time. Sessions are assembled
// at the host boundary — the engine only ever reads them.
package charging

import (
	"strings"
	"time"
)

// Reading is a single timestamped power sample in watts.
type Reading struct {
	At    time.Time `json:"at"`
	Watts float64   `json:"watts"`
}

// Session is one charge cycle's readings, complete or in progress.
// DeviceName is the externally visible label ("" while unnamed); it is
// written by auto-assignment and by user edits, never by the engine directly.
type Session struct {
	ID          string     `json:"id"`
	ChargerID   string     `json:"charger_id"`
	ChargerName string     `json:"charger_name"`
	DeviceName  string     `json:"device_name,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Readings    []Reading  `json:"readings"`
}

// Complete reports whether the session has ended.
func (s *Session) Complete() bool {
	return s.EndedAt != nil
}

// Duration returns the session length, or 0 while the session is active.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Elapsed returns time since the session started, for in-progress estimates.
func (s *Session) Elapsed(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Watts returns just the power values, in reading order.
func (s *Session) Watts() []float64 {
	out := make([]float64, len(s.Readings))
	for i, r := range s.Readings {
		out[i] = r.Watts
	}
	return out
}

// ChargerIdentity is the canonical charger reference. Telemetry from older
// firmware names the charger twice (charger_id plus the legacy plug_id);
// everything past the host boundary uses this single form.
type ChargerIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// NormalizeChargerIdentity folds the legacy plug_id alias into the canonical
// charger id. The current field wins when both are present; whitespace-only
// values count as absent.
func NormalizeChargerIdentity(chargerID, legacyPlugID, name string) ChargerIdentity {
	id := strings.TrimSpace(chargerID)
	if id == "" {
		id = strings.TrimSpace(legacyPlugID)
	}
	return ChargerIdentity{ID: id, Name: strings.TrimSpace(name)}
}
