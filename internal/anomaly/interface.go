package anomaly

import (
	"context"

	"codeberg.org/mutker/hwsentry/internal/telemetry"
)

// Prediction is the model verdict for one sample.
type Prediction struct {
	IsAnomaly bool
	// Score is the decision function value, more negative is more anomalous.
	Score float64
}

// Artifacts references one persisted model/scaler pair.
type Artifacts struct {
	ModelRef  string
	ScalerRef string
}

// ArtifactStore persists fitted models as opaque blobs. Save writes a new
// pair only; Promote makes a saved pair the default and Discard removes a
// pair that was never recorded.
type ArtifactStore interface {
	Save(forest *Forest, scaler *Scaler) (Artifacts, error)
	Promote(refs Artifacts) error
	Discard(refs Artifacts) error
	Load(refs Artifacts) (*Forest, *Scaler, error)
	// LoadDefault returns ErrArtifactNotFound when nothing is stored at the default location.
	LoadDefault() (*Forest, *Scaler, error)
}

// TrainingHistory records which artifacts were trained when.
type TrainingHistory interface {
	// LatestTrainingRecord returns nil, nil when no model was ever trained.
	LatestTrainingRecord(ctx context.Context) (*telemetry.TrainingRecord, error)
	SaveTrainingRecord(ctx context.Context, record *telemetry.TrainingRecord) error
}
