// Package profile turns a session's power readings into a numeric fingerprint.
//
// The fingerprint is a fixed set of closed-form statistics: central tendency,
// spread, percentiles, a peak-power ratio, and the average power across the
// early/middle/late thirds of the session. The curve shape is the strongest
// discriminator between taper-down charging (batteries) and flat draw
// (dumb loads), so it carries the largest similarity weight downstream.
package profile

import (
	"errors"
	"math"
	"sort"
)

// MinReadings is the smallest number of positive readings that defines a
// fingerprint. Below it the session is not yet analyzable.
const MinReadings = 3

// ErrInsufficientData marks a session with fewer than MinReadings positive
// readings. It is a valid skip signal, not a failure: callers ignore the
// session and try again once more readings exist.
var ErrInsufficientData = errors.New("insufficient readings to build a profile")

// CurveShape is the average power of the three contiguous thirds of a session.
type CurveShape struct {
	Early  float64 `json:"early"`
	Middle float64 `json:"middle"`
	Late   float64 `json:"late"`
}

// Profile is the numeric fingerprint of one charging session. All values are
// rounded to two decimals so comparison and storage stay stable across runs.
type Profile struct {
	Mean           float64    `json:"mean"`
	StdDev         float64    `json:"std_dev"`
	Min            float64    `json:"min"`
	Max            float64    `json:"max"`
	Median         float64    `json:"median"`
	P25            float64    `json:"p25"`
	P75            float64    `json:"p75"`
	PeakPowerRatio float64    `json:"peak_power_ratio"`
	Curve          CurveShape `json:"curve_shape"`
}

// Extract builds a Profile from raw power values in reading order.
// Non-positive values are dropped first; fewer than MinReadings survivors
// returns ErrInsufficientData.
func Extract(watts []float64) (*Profile, error) {
	values := make([]float64, 0, len(watts))
	for _, w := range watts {
		if w > 0 {
			values = append(values, w)
		}
	}
	if len(values) < MinReadings {
		return nil, ErrInsufficientData
	}

	n := float64(len(values))

	sum := 0.0
	min := values[0]
	max := values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / n

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / n)

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	peakFloor := mean + stdDev
	peaks := 0
	for _, v := range values {
		if v >= peakFloor {
			peaks++
		}
	}

	return &Profile{
		Mean:           Round2(mean),
		StdDev:         Round2(stdDev),
		Min:            Round2(min),
		Max:            Round2(max),
		Median:         Round2(percentile(sorted, 0.50)),
		P25:            Round2(percentile(sorted, 0.25)),
		P75:            Round2(percentile(sorted, 0.75)),
		PeakPowerRatio: Round2(float64(peaks) / n),
		Curve:          curveShape(values),
	}, nil
}

// percentile picks the value at the sorted index floor(len*p).
func percentile(sorted []float64, p float64) float64 {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// curveShape splits the readings into three contiguous near-equal thirds,
// in time order, and averages each.
func curveShape(values []float64) CurveShape {
	n := len(values)
	i1 := n / 3
	i2 := 2 * n / 3
	return CurveShape{
		Early:  Round2(average(values[:i1])),
		Middle: Round2(average(values[i1:i2])),
		Late:   Round2(average(values[i2:])),
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Round2 clamps a statistic to the fingerprint's two-decimal precision.
// Derived values (running averages, merges) pass through it too, so stored
// fingerprints stay stable across recomputation.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
