package telemetry

import (
	"context"
	"database/sql"
	"time"
)

// Source supplies one raw sample per call. Unavailable sensors are absorbed
// into defaults; only a total acquisition failure is returned as an error.
type Source interface {
	Sample(ctx context.Context) (*MetricSample, error)
}

// MetricSample is one observation of the host.
type MetricSample struct {
	ID        int64
	Timestamp time.Time

	CPUPercent       float64
	MemoryPercent    float64
	SwapPercent      float64
	DiskUsagePercent float64
	DiskReadCount    int64
	DiskWriteCount   int64
	NetworkBytesSent int64
	NetworkBytesRecv int64

	// NULL means the sensor was not available.
	CPUTemp        sql.NullFloat64
	BatteryPercent sql.NullFloat64
	FanSpeed       sql.NullInt64
	GPUTemp        sql.NullFloat64
	GPUFanPercent  sql.NullInt64

	// FanSimulated marks FanSpeed as fabricated rather than measured.
	FanSimulated bool

	FanExpectedSpeed int
	FanAnomaly       bool
	IsAnomaly        bool
	// AnomalyScore is NULL when no model scored the sample.
	AnomalyScore sql.NullFloat64
}

// MeasuredFanSpeed returns the fan reading only when it came from a real sensor.
func (s *MetricSample) MeasuredFanSpeed() sql.NullInt64 {
	if s.FanSimulated {
		return sql.NullInt64{}
	}
	return s.FanSpeed
}

// Scored reports whether the anomaly model produced a verdict for the sample.
func (s *MetricSample) Scored() bool {
	return s.AnomalyScore.Valid
}

// IssueType is the category of a hardware issue.
type IssueType string

const (
	IssueCPU           IssueType = "cpu"
	IssueMemory        IssueType = "memory"
	IssueSwap          IssueType = "swap"
	IssueDisk          IssueType = "disk"
	IssueTemperature   IssueType = "temperature"
	IssueBattery       IssueType = "battery"
	IssueCoolingSystem IssueType = "cooling_system"
	IssueGPU           IssueType = "gpu"
)

// IssueTypes lists the taxonomy in rule evaluation order.
var IssueTypes = []IssueType{
	IssueCPU, IssueMemory, IssueSwap, IssueDisk,
	IssueTemperature, IssueBattery, IssueCoolingSystem, IssueGPU,
}

// IsValid returns whether t is part of the taxonomy
func (t IssueType) IsValid() bool {
	for _, known := range IssueTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t IssueType) String() string {
	return string(t)
}

// HardwareIssue is a finding derived from a sample.
type HardwareIssue struct {
	ID             int64
	SampleID       int64
	Timestamp      time.Time
	Type           IssueType
	Description    string
	Recommendation string
	IsResolved     bool
	ResolvedAt     sql.NullTime
	// FanExpectedSpeed is set on cooling_system issues.
	FanExpectedSpeed sql.NullInt64
}

// Resolve marks the issue resolved at now. It reports false if it already was.
func (i *HardwareIssue) Resolve(now time.Time) bool {
	if i.IsResolved {
		return false
	}
	i.IsResolved = true
	i.ResolvedAt = sql.NullTime{Time: now, Valid: true}
	return true
}

// TrainingRecord is the provenance of one trained model.
type TrainingRecord struct {
	ID              int64
	TrainedAt       time.Time
	ModelRef        string
	ScalerRef       string
	TrainingSamples int
	Contamination   float64
	FeatureSchema   int
	// PerformanceScore is NULL when no held-out validation could be run.
	PerformanceScore sql.NullFloat64
	Notes            string
}
