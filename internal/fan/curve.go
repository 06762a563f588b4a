// Package fan maps CPU temperature to an expected cooling fan speed and flags
// readings that do not match the curve.
package fan

import (
	"database/sql"
	"math"
)

const (
	idleSpeed = 1000

	lowTemperature  = 40
	midTemperature  = 60
	highTemperature = 75

	lowSlope  = 50
	midSlope  = 80
	highSlope = 120

	midBase  = 2000
	highBase = 3200

	slowRatio       = 0.7
	fastRatio       = 1.5
	heatLoadTemp    = 50
	coolTemperature = 40
)

// Reason explains why a reading is anomalous.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonNotSpinning Reason = "not_spinning"
	ReasonTooSlow     Reason = "too_slow"
	ReasonTooFast     Reason = "too_fast"
)

// Assessment is the outcome of evaluating one fan reading against the curve.
type Assessment struct {
	Expected float64
	Anomaly  bool
	Reason   Reason
}

// ExpectedRPM returns the rounded expected speed.
func (a Assessment) ExpectedRPM() int {
	return int(math.Round(a.Expected))
}

// ExpectedSpeed returns the expected fan speed in RPM for cpuTemp in Celsius.
// A non-positive temperature is unknown and yields 0.
func ExpectedSpeed(cpuTemp float64) float64 {
	switch {
	case cpuTemp <= 0:
		return 0
	case cpuTemp < lowTemperature:
		return idleSpeed
	case cpuTemp < midTemperature:
		return idleSpeed + (cpuTemp-lowTemperature)*lowSlope
	case cpuTemp < highTemperature:
		return midBase + (cpuTemp-midTemperature)*midSlope
	default:
		return highBase + (cpuTemp-highTemperature)*highSlope
	}
}

// Evaluate classifies a fan reading. Unknown temperature or an unknown fan
// reading yields no anomaly; that is "don't know", not healthy.
func Evaluate(cpuTemp sql.NullFloat64, fanSpeed sql.NullInt64) Assessment {
	if !cpuTemp.Valid || cpuTemp.Float64 <= 0 {
		return Assessment{}
	}

	temp := cpuTemp.Float64
	a := Assessment{Expected: ExpectedSpeed(temp)}
	if !fanSpeed.Valid {
		return a
	}

	speed := float64(fanSpeed.Int64)
	switch {
	case fanSpeed.Int64 == 0 && temp > heatLoadTemp:
		a.Anomaly, a.Reason = true, ReasonNotSpinning
	case speed < a.Expected*slowRatio && temp > heatLoadTemp:
		a.Anomaly, a.Reason = true, ReasonTooSlow
	case speed > a.Expected*fastRatio && temp < coolTemperature:
		a.Anomaly, a.Reason = true, ReasonTooFast
	}

	return a
}
