package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/logger"
	"codeberg.org/mutker/hwsentry/internal/store"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type RepositorySuite struct {
	suite.Suite
	ctx  context.Context
	dir  string
	repo *store.Repository
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = s.T().TempDir()

	repo, err := store.NewRepository(store.Config{DBPath: filepath.Join(s.dir, "hwsentry.db")}, logger.Nop())
	s.Require().NoError(err)
	s.repo = repo
}

func (s *RepositorySuite) TearDownTest() {
	s.Require().NoError(s.repo.Close())
}

func (s *RepositorySuite) sample(ts time.Time, cpu float64) *telemetry.MetricSample {
	return &telemetry.MetricSample{
		Timestamp:        ts,
		CPUPercent:       cpu,
		MemoryPercent:    40,
		DiskUsagePercent: 55,
		NetworkBytesSent: 1000,
		NetworkBytesRecv: 3000,
	}
}

func (s *RepositorySuite) saveSample(ts time.Time, cpu float64) *telemetry.MetricSample {
	sample := s.sample(ts, cpu)
	_, err := s.repo.SaveSample(s.ctx, sample)
	s.Require().NoError(err)
	return sample
}

func (s *RepositorySuite) TestSaveSampleRoundTrip() {
	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	sample := s.sample(ts, 12.5)
	sample.CPUTemp = sql.NullFloat64{Float64: 0, Valid: true}
	sample.FanSpeed = sql.NullInt64{Int64: 1800, Valid: true}
	sample.FanSimulated = true
	sample.FanExpectedSpeed = 1500
	sample.IsAnomaly = true
	sample.AnomalyScore = sql.NullFloat64{Float64: -0.12, Valid: true}

	id, err := s.repo.SaveSample(s.ctx, sample)
	s.Require().NoError(err)
	s.Equal(id, sample.ID)

	got, err := s.repo.LatestSample(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(got)

	s.True(ts.Equal(got.Timestamp))
	s.Equal(12.5, got.CPUPercent)
	s.True(got.CPUTemp.Valid, "measured zero stays distinct from absent")
	s.Zero(got.CPUTemp.Float64)
	s.False(got.BatteryPercent.Valid)
	s.False(got.GPUTemp.Valid)
	s.Equal(int64(1800), got.FanSpeed.Int64)
	s.True(got.FanSimulated)
	s.Equal(1500, got.FanExpectedSpeed)
	s.True(got.IsAnomaly)
	s.True(got.Scored())
	s.InDelta(-0.12, got.AnomalyScore.Float64, 1e-12)
}

func (s *RepositorySuite) TestSaveSampleTwiceRejected() {
	sample := s.saveSample(time.Now(), 1)

	_, err := s.repo.SaveSample(s.ctx, sample)
	s.True(errors.HasCode(err, store.ErrInvalidRecord))
}

func (s *RepositorySuite) TestUnscoredSampleHasNullScore() {
	s.saveSample(time.Now(), 1)

	got, err := s.repo.LatestSample(s.ctx)
	s.Require().NoError(err)
	s.False(got.Scored())
	s.False(got.IsAnomaly)
}

func (s *RepositorySuite) TestQueryRecentMostRecentFirst() {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.saveSample(base.Add(time.Duration(i)*time.Minute), float64(i))
	}

	samples, err := s.repo.QueryRecent(s.ctx, 3)
	s.Require().NoError(err)
	s.Require().Len(samples, 3)
	s.Equal(4.0, samples[0].CPUPercent)
	s.Equal(3.0, samples[1].CPUPercent)
	s.Equal(2.0, samples[2].CPUPercent)

	n, err := s.repo.CountSamples(s.ctx)
	s.Require().NoError(err)
	s.Equal(5, n)
}

func (s *RepositorySuite) TestLatestSampleEmpty() {
	got, err := s.repo.LatestSample(s.ctx)
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *RepositorySuite) TestIssueUpsertAndResolve() {
	first := s.saveSample(time.Now(), 95)
	second := s.saveSample(time.Now(), 96)

	open, err := s.repo.FindUnresolvedIssue(s.ctx, telemetry.IssueCPU)
	s.Require().NoError(err)
	s.Nil(open)

	issue := &telemetry.HardwareIssue{
		SampleID:       first.ID,
		Timestamp:      time.Now(),
		Type:           telemetry.IssueCPU,
		Description:    "High CPU usage: 95.0%",
		Recommendation: "Check for resource-intensive processes.",
	}
	s.Require().NoError(s.repo.UpsertIssue(s.ctx, issue))
	s.NotZero(issue.ID)

	open, err = s.repo.FindUnresolvedIssue(s.ctx, telemetry.IssueCPU)
	s.Require().NoError(err)
	s.Require().NotNil(open)
	s.Equal(issue.ID, open.ID)

	open.SampleID = second.ID
	open.Timestamp = time.Now().Add(time.Minute)
	s.Require().NoError(s.repo.UpsertIssue(s.ctx, open))

	got, err := s.repo.GetIssue(s.ctx, issue.ID)
	s.Require().NoError(err)
	s.Equal(second.ID, got.SampleID)
	s.Equal("High CPU usage: 95.0%", got.Description)
	s.False(got.IsResolved)

	changed, err := s.repo.ResolveIssue(s.ctx, issue.ID)
	s.Require().NoError(err)
	s.True(changed)

	got, err = s.repo.GetIssue(s.ctx, issue.ID)
	s.Require().NoError(err)
	s.True(got.IsResolved)
	s.True(got.ResolvedAt.Valid)
	resolvedAt := got.ResolvedAt.Time

	changed, err = s.repo.ResolveIssue(s.ctx, issue.ID)
	s.Require().NoError(err)
	s.False(changed, "resolving twice is a no-op")

	got, err = s.repo.GetIssue(s.ctx, issue.ID)
	s.Require().NoError(err)
	s.True(resolvedAt.Equal(got.ResolvedAt.Time))

	open, err = s.repo.FindUnresolvedIssue(s.ctx, telemetry.IssueCPU)
	s.Require().NoError(err)
	s.Nil(open)
}

func (s *RepositorySuite) TestResolveUnknownIssue() {
	_, err := s.repo.ResolveIssue(s.ctx, 42)
	s.True(errors.HasCode(err, store.ErrIssueNotFound))
}

func (s *RepositorySuite) TestUpsertIssueValidates() {
	err := s.repo.UpsertIssue(s.ctx, &telemetry.HardwareIssue{Type: telemetry.IssueCPU})
	s.True(errors.HasCode(err, store.ErrInvalidRecord), "issue without sample")

	sample := s.saveSample(time.Now(), 1)
	err = s.repo.UpsertIssue(s.ctx, &telemetry.HardwareIssue{SampleID: sample.ID, Type: "bogus"})
	s.True(errors.HasCode(err, store.ErrInvalidRecord), "unknown type")
}

func (s *RepositorySuite) TestBulkResolveAndList() {
	sample := s.saveSample(time.Now(), 99)

	var ids []int64
	for _, typ := range []telemetry.IssueType{telemetry.IssueCPU, telemetry.IssueMemory, telemetry.IssueDisk} {
		issue := &telemetry.HardwareIssue{SampleID: sample.ID, Timestamp: time.Now(), Type: typ}
		s.Require().NoError(s.repo.UpsertIssue(s.ctx, issue))
		ids = append(ids, issue.ID)
	}

	_, err := s.repo.ResolveIssue(s.ctx, ids[0])
	s.Require().NoError(err)

	n, err := s.repo.BulkResolve(s.ctx, append(ids, 9999))
	s.Require().NoError(err)
	s.Equal(2, n, "already resolved and unknown ids are skipped")

	all, err := s.repo.ListIssues(s.ctx, store.IssueFilter{})
	s.Require().NoError(err)
	s.Len(all, 3)

	open, err := s.repo.ListIssues(s.ctx, store.IssueFilter{Resolved: sql.NullBool{Bool: false, Valid: true}})
	s.Require().NoError(err)
	s.Empty(open)

	mem, err := s.repo.ListIssues(s.ctx, store.IssueFilter{Type: telemetry.IssueMemory})
	s.Require().NoError(err)
	s.Require().Len(mem, 1)
	s.Equal(ids[1], mem[0].ID)
}

func (s *RepositorySuite) TestTrainingRecords() {
	latest, err := s.repo.LatestTrainingRecord(s.ctx)
	s.Require().NoError(err)
	s.Nil(latest)

	older := &telemetry.TrainingRecord{
		TrainedAt:       time.Now().Add(-time.Hour),
		ModelRef:        "model-a.json",
		ScalerRef:       "scaler-a.json",
		TrainingSamples: 60,
		Contamination:   0.1,
		FeatureSchema:   2,
	}
	newer := &telemetry.TrainingRecord{
		TrainedAt:        time.Now(),
		ModelRef:         "model-b.json",
		ScalerRef:        "scaler-b.json",
		TrainingSamples:  300,
		Contamination:    0.05,
		FeatureSchema:    2,
		PerformanceScore: sql.NullFloat64{Float64: 0.95, Valid: true},
		Notes:            "Trained with 300 samples",
	}
	s.Require().NoError(s.repo.SaveTrainingRecord(s.ctx, newer))
	s.Require().NoError(s.repo.SaveTrainingRecord(s.ctx, older))

	latest, err = s.repo.LatestTrainingRecord(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal("model-b.json", latest.ModelRef)
	s.Equal(300, latest.TrainingSamples)
	s.True(latest.PerformanceScore.Valid)
	s.Equal("Trained with 300 samples", latest.Notes)

	err = s.repo.SaveTrainingRecord(s.ctx, &telemetry.TrainingRecord{})
	s.True(errors.HasCode(err, store.ErrInvalidRecord))
}

func (s *RepositorySuite) TestListTrainingRecordsNewestFirst() {
	records, err := s.repo.ListTrainingRecords(s.ctx, 0)
	s.Require().NoError(err)
	s.Empty(records)

	base := time.Now().Add(-3 * time.Hour)
	for i, ref := range []string{"model-a.json", "model-c.json", "model-b.json"} {
		offset := []time.Duration{0, 2 * time.Hour, time.Hour}[i]
		s.Require().NoError(s.repo.SaveTrainingRecord(s.ctx, &telemetry.TrainingRecord{
			TrainedAt:       base.Add(offset),
			ModelRef:        ref,
			ScalerRef:       "scaler.json",
			TrainingSamples: 60 + i,
			Contamination:   0.1,
			FeatureSchema:   2,
		}))
	}

	records, err = s.repo.ListTrainingRecords(s.ctx, 0)
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Equal("model-c.json", records[0].ModelRef)
	s.Equal("model-b.json", records[1].ModelRef)
	s.Equal("model-a.json", records[2].ModelRef)
	s.False(records[0].PerformanceScore.Valid)

	records, err = s.repo.ListTrainingRecords(s.ctx, 2)
	s.Require().NoError(err)
	s.Len(records, 2)
}

func (s *RepositorySuite) TestListAnomaliesInWindow() {
	now := time.Now()
	anomalous := func(ts time.Time, cpu float64) *telemetry.MetricSample {
		sample := s.sample(ts, cpu)
		sample.IsAnomaly = true
		_, err := s.repo.SaveSample(s.ctx, sample)
		s.Require().NoError(err)
		return sample
	}

	anomalous(now.AddDate(0, 0, -10), 91)
	older := anomalous(now.Add(-2*time.Hour), 92)
	s.saveSample(now.Add(-time.Hour), 10)
	newer := anomalous(now.Add(-time.Minute), 93)

	got, err := s.repo.ListAnomalies(s.ctx, now.AddDate(0, 0, -7), 0)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(newer.ID, got[0].ID)
	s.Equal(older.ID, got[1].ID)
	for _, sample := range got {
		s.True(sample.IsAnomaly)
	}

	got, err = s.repo.ListAnomalies(s.ctx, now.AddDate(0, 0, -30), 1)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(newer.ID, got[0].ID)
}

func (s *RepositorySuite) TestCleanup() {
	old := s.saveSample(time.Now().AddDate(0, 0, -120), 10)
	fresh := s.saveSample(time.Now(), 20)

	for _, sample := range []*telemetry.MetricSample{old, fresh} {
		s.Require().NoError(s.repo.UpsertIssue(s.ctx, &telemetry.HardwareIssue{
			SampleID: sample.ID, Timestamp: sample.Timestamp, Type: telemetry.IssueDisk, IsResolved: true,
		}))
	}

	_, err := s.repo.Cleanup(s.ctx, 7)
	s.True(errors.HasCode(err, store.ErrInvalidRetention))

	n, err := s.repo.Cleanup(s.ctx, 90)
	s.Require().NoError(err)
	s.Equal(1, n)

	count, err := s.repo.CountSamples(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, count)

	issues, err := s.repo.ListIssues(s.ctx, store.IssueFilter{})
	s.Require().NoError(err)
	s.Require().Len(issues, 1)
	s.Equal(fresh.ID, issues[0].SampleID)
}

func (s *RepositorySuite) TestStatisticsAndSummary() {
	since := time.Now().Add(-time.Hour)
	s.saveSample(time.Now().AddDate(0, 0, -2), 100)

	a := s.saveSample(time.Now(), 10)
	b := s.sample(time.Now(), 30)
	b.IsAnomaly = true
	_, err := s.repo.SaveSample(s.ctx, b)
	s.Require().NoError(err)

	stats, err := s.repo.Statistics(s.ctx, since)
	s.Require().NoError(err)
	s.Equal(2, stats.Samples)
	s.Equal(1, stats.Anomalies)
	s.InDelta(20.0, stats.CPU.Avg, 1e-9)
	s.InDelta(10.0, stats.CPU.Min, 1e-9)
	s.InDelta(30.0, stats.CPU.Max, 1e-9)
	s.InDelta(3000.0, stats.NetworkRecv.Max, 1e-9)

	for _, typ := range []telemetry.IssueType{telemetry.IssueCPU, telemetry.IssueTemperature} {
		s.Require().NoError(s.repo.UpsertIssue(s.ctx, &telemetry.HardwareIssue{
			SampleID: a.ID, Timestamp: time.Now(), Type: typ,
		}))
	}
	s.Require().NoError(s.repo.UpsertIssue(s.ctx, &telemetry.HardwareIssue{
		SampleID: b.ID, Timestamp: time.Now(), Type: telemetry.IssueCPU, IsResolved: true,
	}))

	summary, err := s.repo.IssueSummary(s.ctx, since)
	s.Require().NoError(err)
	s.Equal(3, summary.Total)
	s.Equal(1, summary.Resolved)
	s.Equal(2, summary.Unresolved)
	s.Equal(2, summary.ByType[telemetry.IssueCPU])
	s.Equal(1, summary.ByType[telemetry.IssueTemperature])
}

func (s *RepositorySuite) TestStatisticsEmptyWindow() {
	stats, err := s.repo.Statistics(s.ctx, time.Now())
	s.Require().NoError(err)
	s.Zero(stats.Samples)
	s.Zero(stats.CPU.Avg)
}

func (s *RepositorySuite) TestReopenKeepsData() {
	s.saveSample(time.Now(), 5)
	s.Require().NoError(s.repo.Close())

	repo, err := store.NewRepository(store.Config{DBPath: filepath.Join(s.dir, "hwsentry.db")}, logger.Nop())
	s.Require().NoError(err)
	s.repo = repo

	n, err := s.repo.CountSamples(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func TestConfigValidate(t *testing.T) {
	err := store.Config{}.Validate()
	assert.True(t, errors.HasCode(err, store.ErrInvalidDBPath))
	assert.NoError(t, store.DefaultConfig().Validate())
}
