// Package pattern maintains the device-group collection: recurring power
// fingerprints, the sessions behind them, and every operation that edits the
// grouping (matching, relabeling, merging, deleting, full rebuilds).
//
// The collection lives in memory and is the single source of truth; hosts
// snapshot it to disk and reload it at boot. All operations are synchronous,
// I/O-free, and all-or-nothing: an operation that returns an error has not
// changed the collection.
package pattern

import (
	"math"
	"sort"
	"time"

	"github.com/ampprint/ampprint/internal/profile"
)

// DurationStats summarizes how long a device's sessions run. Median is a
// pointer because a merge of two groups cannot reconstruct one: nil means
// "unavailable until the next rebuild".
type DurationStats struct {
	Average       time.Duration  `json:"average"`
	Min           time.Duration  `json:"min"`
	Max           time.Duration  `json:"max"`
	Median        *time.Duration `json:"median,omitempty"`
	TotalSessions int            `json:"total_sessions"`
}

// Pattern is one recognized device: a running-average fingerprint plus the
// sessions that produced it. Count always equals len(SessionIDs). The charger
// fields record where the group was first observed and carry no matching
// weight.
type Pattern struct {
	ID          string          `json:"id"`
	DeviceName  string          `json:"device_name"`
	ChargerID   string          `json:"charger_id,omitempty"`
	ChargerName string          `json:"charger_name,omitempty"`
	Average     profile.Profile `json:"average_profile"`
	SessionIDs  []string        `json:"session_ids"`
	Count       int             `json:"count"`
	FirstSeen   time.Time       `json:"first_seen"`
	LastSeen    time.Time       `json:"last_seen"`
	Durations   *DurationStats  `json:"durations,omitempty"`
}

// Clone returns a deep copy safe to hand outside the store.
func (p *Pattern) Clone() *Pattern {
	out := *p
	out.SessionIDs = append([]string(nil), p.SessionIDs...)
	if p.Durations != nil {
		d := *p.Durations
		if p.Durations.Median != nil {
			m := *p.Durations.Median
			d.Median = &m
		}
		out.Durations = &d
	}
	return &out
}

// foldProfile returns the count-weighted running average after absorbing one
// more fingerprint into an average built from n sessions.
func foldProfile(avg profile.Profile, n int, next profile.Profile) profile.Profile {
	w := float64(n)
	f := func(a, b float64) float64 { return profile.Round2((a*w + b) / (w + 1)) }
	return profile.Profile{
		Mean:           f(avg.Mean, next.Mean),
		StdDev:         f(avg.StdDev, next.StdDev),
		Min:            f(avg.Min, next.Min),
		Max:            f(avg.Max, next.Max),
		Median:         f(avg.Median, next.Median),
		P25:            f(avg.P25, next.P25),
		P75:            f(avg.P75, next.P75),
		PeakPowerRatio: f(avg.PeakPowerRatio, next.PeakPowerRatio),
		Curve: profile.CurveShape{
			Early:  f(avg.Curve.Early, next.Curve.Early),
			Middle: f(avg.Curve.Middle, next.Curve.Middle),
			Late:   f(avg.Curve.Late, next.Curve.Late),
		},
	}
}

// mergeProfiles combines two group averages weighted by member count.
// Central statistics blend; Min and Max take the true extremes because the
// merged group has genuinely seen both ranges.
func mergeProfiles(a profile.Profile, na int, b profile.Profile, nb int) profile.Profile {
	wa, wb := float64(na), float64(nb)
	f := func(x, y float64) float64 { return profile.Round2((x*wa + y*wb) / (wa + wb)) }
	return profile.Profile{
		Mean:           f(a.Mean, b.Mean),
		StdDev:         f(a.StdDev, b.StdDev),
		Min:            math.Min(a.Min, b.Min),
		Max:            math.Max(a.Max, b.Max),
		Median:         f(a.Median, b.Median),
		P25:            f(a.P25, b.P25),
		P75:            f(a.P75, b.P75),
		PeakPowerRatio: f(a.PeakPowerRatio, b.PeakPowerRatio),
		Curve: profile.CurveShape{
			Early:  f(a.Curve.Early, b.Curve.Early),
			Middle: f(a.Curve.Middle, b.Curve.Middle),
			Late:   f(a.Curve.Late, b.Curve.Late),
		},
	}
}

// durationStatsFrom computes stats over observed session lengths.
func durationStatsFrom(durations []time.Duration) *DurationStats {
	if len(durations) == 0 {
		return nil
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	median := sorted[len(sorted)/2]
	return &DurationStats{
		Average:       total / time.Duration(len(sorted)),
		Min:           sorted[0],
		Max:           sorted[len(sorted)-1],
		Median:        &median,
		TotalSessions: len(sorted),
	}
}

// mergeDurationStats combines two groups' duration stats. Averages blend by
// session count and extremes carry over, but the median of a union cannot be
// derived from two medians, so it is dropped until the next rebuild.
func mergeDurationStats(a, b *DurationStats) *DurationStats {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		out := *b
		out.Median = nil
		return &out
	}
	if b == nil {
		out := *a
		out.Median = nil
		return &out
	}
	wa, wb := int64(a.TotalSessions), int64(b.TotalSessions)
	if wa+wb == 0 {
		return nil
	}
	avg := time.Duration((int64(a.Average)*wa + int64(b.Average)*wb) / (wa + wb))
	out := &DurationStats{
		Average:       avg,
		Min:           a.Min,
		Max:           a.Max,
		TotalSessions: a.TotalSessions + b.TotalSessions,
	}
	if b.Min < out.Min {
		out.Min = b.Min
	}
	if b.Max > out.Max {
		out.Max = b.Max
	}
	return out
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
