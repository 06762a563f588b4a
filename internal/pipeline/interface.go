package pipeline

import (
	"context"
	"time"

	"codeberg.org/mutker/hwsentry/internal/anomaly"
	"codeberg.org/mutker/hwsentry/internal/fan"
	"codeberg.org/mutker/hwsentry/internal/issues"
	"codeberg.org/mutker/hwsentry/internal/store"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// Store is the record store as seen by the pipeline.
type Store interface {
	issues.IssueStore

	SaveSample(ctx context.Context, s *telemetry.MetricSample) (int64, error)
	// QueryRecent returns up to n samples, most recent first.
	QueryRecent(ctx context.Context, n int) ([]telemetry.MetricSample, error)
	LatestSample(ctx context.Context) (*telemetry.MetricSample, error)
	CountSamples(ctx context.Context) (int, error)
	ListIssues(ctx context.Context, f store.IssueFilter) ([]telemetry.HardwareIssue, error)
}

// Models owns the anomaly model. Current must be safe to call while Train runs.
type Models interface {
	Current() *anomaly.Model
	// Refresh installs a model recorded since the current one was loaded.
	Refresh(ctx context.Context) (bool, error)
	Train(ctx context.Context, samples []telemetry.MetricSample) (*telemetry.TrainingRecord, error)
}

// Instrumentation receives pipeline events for export.
type Instrumentation interface {
	ObserveTick(result string, d time.Duration)
	RecordAnomaly(signal string)
	RecordIssue(issueType, action string)
	RecordTraining(result string)
	SetModelLoaded(loaded bool)
	SetAnomalyScore(score float64)
	SetCPUTemperature(celsius float64)
}

// TickResult describes one completed tick.
type TickResult struct {
	ID     string
	Sample *telemetry.MetricSample
	Fan    fan.Assessment
	// Candidates is empty unless the sample was anomalous.
	Candidates []issues.Candidate
	Issues     []issues.Recorded
}

// Summary is the current state of the host as recorded.
type Summary struct {
	Latest     *telemetry.MetricSample
	Samples    int
	Unresolved []telemetry.HardwareIssue
	// ModelTrained is true when a model is loaded; LastTraining is nil for
	// models loaded from the default location.
	ModelTrained bool
	LastTraining *telemetry.TrainingRecord
}

type nopInstrumentation struct{}

func (nopInstrumentation) ObserveTick(string, time.Duration) {}
func (nopInstrumentation) RecordAnomaly(string)               {}
func (nopInstrumentation) RecordIssue(string, string)         {}
func (nopInstrumentation) RecordTraining(string)              {}
func (nopInstrumentation) SetModelLoaded(bool)                {}
func (nopInstrumentation) SetAnomalyScore(float64)            {}
func (nopInstrumentation) SetCPUTemperature(float64)          {}
