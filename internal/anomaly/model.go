package anomaly

import (
	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// Model is an immutable fitted forest plus the scaler it was trained behind.
type Model struct {
	Forest *Forest
	Scaler *Scaler
	// Record is nil for models loaded from the default location.
	Record *telemetry.TrainingRecord
}

// NewModel checks that forest and scaler agree with the canonical schema.
func NewModel(forest *Forest, scaler *Scaler, record *telemetry.TrainingRecord) (*Model, error) {
	width := len(FeatureColumns)
	if err := scaler.validate(width); err != nil {
		return nil, err
	}
	if err := forest.validate(width); err != nil {
		return nil, err
	}
	return &Model{Forest: forest, Scaler: scaler, Record: record}, nil
}

// Predict scores one sample. Label -1 in isolation forest terms is IsAnomaly.
func (m *Model) Predict(s *telemetry.MetricSample) Prediction {
	return m.predictRow(FeatureRow(s))
}

func (m *Model) predictRow(row []float64) Prediction {
	d := m.Forest.Decision(m.Scaler.Transform(row))
	return Prediction{IsAnomaly: d < 0, Score: d}
}
