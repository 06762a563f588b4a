package issues

import (
	"database/sql"

	"codeberg.org/mutker/hwsentry/internal/fan"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

const (
	highCPUThreshold     = 90
	highMemoryThreshold  = 85
	highSwapThreshold    = 75
	highDiskThreshold    = 90
	highTempThreshold    = 80
	lowBatteryThreshold  = 15
	highGPUTempThreshold = 85

	lowFanSpeed          = 1000
	fanStoppedTemp       = 50
	lowFanTemp           = 60
	unknownFanHeatedTemp = 75
)

type rule struct {
	typ            telemetry.IssueType
	description    string
	recommendation string
	fires          func(s *telemetry.MetricSample) bool
}

var thresholdRules = []rule{
	{
		typ:         telemetry.IssueCPU,
		description: "High CPU usage detected",
		recommendation: "Check for runaway processes using top or htop. " +
			"Consider upgrading CPU if consistently high during normal usage.",
		fires: func(s *telemetry.MetricSample) bool { return s.CPUPercent > highCPUThreshold },
	},
	{
		typ:         telemetry.IssueMemory,
		description: "High memory usage detected",
		recommendation: "Close unnecessary applications. Consider adding more RAM " +
			"if consistently high during normal usage.",
		fires: func(s *telemetry.MetricSample) bool { return s.MemoryPercent > highMemoryThreshold },
	},
	{
		typ:         telemetry.IssueSwap,
		description: "High swap memory usage detected",
		recommendation: "Your system is relying heavily on swap memory, which is slower than RAM. " +
			"Consider adding more physical RAM or optimizing memory usage.",
		fires: func(s *telemetry.MetricSample) bool { return s.SwapPercent > highSwapThreshold },
	},
	{
		typ:         telemetry.IssueDisk,
		description: "High disk usage detected",
		recommendation: "Free up disk space by removing unnecessary files or applications. " +
			"Consider upgrading storage capacity.",
		fires: func(s *telemetry.MetricSample) bool { return s.DiskUsagePercent > highDiskThreshold },
	},
	{
		typ:         telemetry.IssueTemperature,
		description: "High CPU temperature detected",
		recommendation: "Check that cooling fans are working properly. Clean dust from heat sinks. " +
			"Ensure proper ventilation. Consider applying new thermal paste if problem persists.",
		fires: func(s *telemetry.MetricSample) bool {
			return s.CPUTemp.Valid && s.CPUTemp.Float64 > highTempThreshold
		},
	},
	{
		typ:            telemetry.IssueBattery,
		description:    "Low battery level detected",
		recommendation: "Connect to power source. If battery drains quickly, consider battery replacement.",
		fires: func(s *telemetry.MetricSample) bool {
			b := s.BatteryPercent
			return b.Valid && b.Float64 > 0 && b.Float64 < lowBatteryThreshold
		},
	},
}

var gpuRule = rule{
	typ:         telemetry.IssueGPU,
	description: "High GPU temperature detected",
	recommendation: "Check that the graphics card fans are spinning and not obstructed. " +
		"Clean dust from the GPU heat sink. Consider lowering the GPU power limit if problem persists.",
	fires: func(s *telemetry.MetricSample) bool {
		return s.GPUTemp.Valid && s.GPUTemp.Float64 > highGPUTempThreshold
	},
}

// Analyze runs the threshold rules, then the fan rules, then the GPU rule
// over s and returns the candidates in that order. a is the fan curve
// assessment of s. At most one candidate per issue type is returned.
func Analyze(s *telemetry.MetricSample, a fan.Assessment) []Candidate {
	var out []Candidate

	for _, r := range thresholdRules {
		if r.fires(s) {
			out = append(out, r.candidate())
		}
	}

	if c, ok := fanCandidate(s, a); ok {
		out = append(out, c)
	}

	if gpuRule.fires(s) {
		out = append(out, gpuRule.candidate())
	}

	return out
}

func (r rule) candidate() Candidate {
	return Candidate{Type: r.typ, Description: r.description, Recommendation: r.recommendation}
}

// fanCandidate derives the single cooling_system candidate. Explicit fan
// rules take precedence over the curve mismatch.
func fanCandidate(s *telemetry.MetricSample, a fan.Assessment) (Candidate, bool) {
	c := Candidate{Type: telemetry.IssueCoolingSystem}
	if a.Expected > 0 {
		c.FanExpectedSpeed = sql.NullInt64{Int64: int64(a.ExpectedRPM()), Valid: true}
	}

	var temp float64
	if s.CPUTemp.Valid {
		temp = s.CPUTemp.Float64
	}
	speed := s.MeasuredFanSpeed()

	switch {
	case speed.Valid && speed.Int64 == 0 && temp > fanStoppedTemp:
		c.Description = "Fan not spinning but CPU temperature is elevated"
		c.Recommendation = "Check if CPU fan is properly connected and functioning. " +
			"Ensure the fan is not obstructed by dust or debris. " +
			"Replace the fan if necessary."
	case speed.Valid && speed.Int64 > 0 && speed.Int64 < lowFanSpeed && temp > lowFanTemp:
		c.Description = "Low fan speed with high CPU temperature"
		c.Recommendation = "Clean dust from fans and heat sinks. Check fan settings in BIOS. " +
			"Consider replacing the fan if problem persists or installing additional cooling."
	case !speed.Valid && temp > unknownFanHeatedTemp:
		c.Description = "High CPU temperature with unknown fan status"
		c.Recommendation = "Check all cooling fans are functioning properly. " +
			"Clean dust from heat sinks and ensure proper ventilation. " +
			"Consider installing monitoring software that can detect fan speeds."
	case a.Anomaly:
		c.Description, c.Recommendation = curveMismatch(a.Reason)
	default:
		return Candidate{}, false
	}

	return c, true
}

func curveMismatch(reason fan.Reason) (description, recommendation string) {
	switch reason {
	case fan.ReasonNotSpinning:
		return "Fan not spinning but CPU temperature is elevated",
			"Check if CPU fan is properly connected and functioning. Replace if necessary."
	case fan.ReasonTooSlow:
		return "Fan speed too low for current temperature",
			"Clean dust from fans and heat sinks. Check fan settings in BIOS. " +
				"Consider replacing the fan if problem persists."
	case fan.ReasonTooFast:
		return "Fan running unusually fast at low temperature",
			"Check for fan controller issues. Consider updating BIOS or " +
				"fan control software. Ensure temperature sensors are working properly."
	default:
		return "Cooling fan anomaly detected", "Check if CPU fan is working properly."
	}
}
