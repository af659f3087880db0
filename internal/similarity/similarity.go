// Package similarity scores how closely two power fingerprints match.
//
// The score is a weighted blend of per-feature sub-scores, each in [0, 1].
// Curve shape dominates the blend: absolute power separates a laptop from a
// phone, but the discharge curve is what separates two devices that happen to
// draw similar wattage.
package similarity

import (
	"math"

	"github.com/ampprint/ampprint/internal/profile"
)

const (
	// MatchThreshold is the minimum score for a session to join an existing
	// device group rather than found a new one.
	MatchThreshold = 0.65

	// AutoAssignThreshold is the stricter bar for copying a group's name onto
	// a finished session without user confirmation.
	AutoAssignThreshold = 0.85
)

// Feature weights. They sum to 1 so a perfect match scores exactly 1.
const (
	weightMean  = 0.20
	weightMed   = 0.15
	weightStdev = 0.10
	weightPeak  = 0.15
	weightCurve = 0.40
)

// epsilon keeps ratio denominators away from zero.
const epsilon = 1e-9

// Breakdown carries the per-feature sub-scores behind a total. Diagnostic
// surfaces show it so users can see which feature dragged a match down.
type Breakdown struct {
	Mean           float64 `json:"mean"`
	Median         float64 `json:"median"`
	StdDev         float64 `json:"std_dev"`
	PeakPowerRatio float64 `json:"peak_power_ratio"`
	CurveShape     float64 `json:"curve_shape"`
	Total          float64 `json:"total"`
}

// Score returns the weighted similarity of two fingerprints in [0, 1].
// It is symmetric, and a fingerprint always scores 1 against itself.
func Score(a, b *profile.Profile) float64 {
	return Compare(a, b).Total
}

// Compare scores two fingerprints and returns the full per-feature breakdown.
func Compare(a, b *profile.Profile) Breakdown {
	br := Breakdown{
		Mean:           ratioScore(a.Mean, b.Mean),
		Median:         ratioScore(a.Median, b.Median),
		StdDev:         spreadScore(a.StdDev, b.StdDev),
		PeakPowerRatio: 1 - math.Abs(a.PeakPowerRatio-b.PeakPowerRatio),
		CurveShape:     curveScore(a.Curve, b.Curve),
	}
	// Blend as one minus the weighted deficit so a perfect match lands on
	// exactly 1.0 instead of drifting a few ulps under it.
	deficit := weightMean*(1-br.Mean) +
		weightMed*(1-br.Median) +
		weightStdev*(1-br.StdDev) +
		weightPeak*(1-br.PeakPowerRatio) +
		weightCurve*(1-br.CurveShape)
	br.Total = clamp01(1 - deficit)
	return br
}

// ratioScore compares two non-negative magnitudes relative to the larger one.
func ratioScore(a, b float64) float64 {
	denom := math.Max(a, math.Max(b, epsilon))
	return clamp01(1 - math.Abs(a-b)/denom)
}

// spreadScore is ratioScore with special handling for flat series: two flat
// series are a perfect spread match, while flat against varying is no match
// at all, because the ratio form would otherwise score the pair 0 twice over
// or divide by nothing.
func spreadScore(a, b float64) float64 {
	if a == 0 && b == 0 {
		return 1
	}
	if a == 0 || b == 0 {
		return 0
	}
	return ratioScore(a, b)
}

// curveScore compares phase averages against the largest phase value seen in
// either curve, so the penalty scales with the session's own power level.
func curveScore(a, b profile.CurveShape) float64 {
	maxPhase := epsilon
	for _, v := range []float64{a.Early, a.Middle, a.Late, b.Early, b.Middle, b.Late} {
		if v > maxPhase {
			maxPhase = v
		}
	}
	diff := math.Abs(a.Early-b.Early) + math.Abs(a.Middle-b.Middle) + math.Abs(a.Late-b.Late)
	return clamp01(1 - diff/(3*maxPhase))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
