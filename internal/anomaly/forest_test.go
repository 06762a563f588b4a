package anomaly_test

import (
	"context"
	"testing"

	"codeberg.org/mutker/hwsentry/internal/anomaly"
	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitForestConstantData(t *testing.T) {
	rows := make([][]float64, 60)
	for i := range rows {
		rows[i] = []float64{1, 2, 3}
	}

	f, err := anomaly.FitForest(context.Background(), rows, anomaly.ForestConfig{
		Trees: 10, MaxSamples: 256, Contamination: 0.1, Seed: 42,
	})
	require.NoError(t, err)

	// nothing can be isolated, so nothing is anomalous
	assert.GreaterOrEqual(t, f.Decision(rows[0]), 0.0)
	assert.Equal(t, 60, f.MaxSamples)
}

func TestFitForestRejectsBadConfig(t *testing.T) {
	_, err := anomaly.FitForest(context.Background(), [][]float64{{1}}, anomaly.ForestConfig{Trees: 0, Contamination: 0.1})
	assert.True(t, errors.HasCode(err, anomaly.ErrTrainingFailed))

	_, err = anomaly.FitForest(context.Background(), nil, anomaly.ForestConfig{Trees: 1, Contamination: 0.1})
	assert.True(t, errors.HasCode(err, anomaly.ErrInsufficientData))
}

func TestScalerStandardizes(t *testing.T) {
	s := anomaly.FitScaler([][]float64{{1, 5}, {3, 5}})

	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Std, "constant column keeps unit scale")
	assert.Equal(t, []float64{-1, 0}, s.Transform([]float64{1, 5}))
}

func TestFeatureRowFillsUnknownWithZero(t *testing.T) {
	s := &telemetry.MetricSample{
		CPUPercent:       12,
		NetworkBytesSent: 2048,
		NetworkBytesRecv: 1024,
		FanSimulated:     true,
	}
	s.FanSpeed.Valid, s.FanSpeed.Int64 = true, 1500

	row := anomaly.FeatureRow(s)
	require.Len(t, row, len(anomaly.FeatureColumns))
	assert.InDelta(t, 12.0, row[0], 1e-9)
	assert.InDelta(t, 2.0, row[6], 1e-9)
	assert.InDelta(t, 1.0, row[7], 1e-9)
	assert.Zero(t, row[8], "unknown temperature")
	assert.Zero(t, row[10], "simulated fan speed is not a measurement")
}

func TestNewModelRejectsLegacySchema(t *testing.T) {
	rows := make([][]float64, 60)
	for i := range rows {
		rows[i] = []float64{float64(i), float64(i % 7), 1, 2, 3}
	}
	f, err := anomaly.FitForest(context.Background(), rows, anomaly.ForestConfig{Trees: 5, MaxSamples: 64, Contamination: 0.1, Seed: 1})
	require.NoError(t, err)

	_, err = anomaly.NewModel(f, anomaly.FitScaler(rows), nil)
	assert.True(t, errors.HasCode(err, anomaly.ErrSchemaMismatch))
}
