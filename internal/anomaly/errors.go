package anomaly

import "codeberg.org/mutker/hwsentry/internal/errors"

const (
	// Training Errors
	ErrInsufficientData = errors.ErrorCode("anomaly_insufficient_training_data")
	ErrTrainingFailed   = errors.ErrorCode("anomaly_training_failed")
	ErrTrainingAborted  = errors.ErrorCode("anomaly_training_aborted")

	// History Errors
	ErrHistoryUnavailable = errors.ErrorCode("anomaly_training_history_unavailable")

	// Artifact Errors
	ErrArtifactNotFound = errors.ErrorCode("anomaly_artifact_not_found")
	ErrArtifactCorrupt  = errors.ErrorCode("anomaly_artifact_corrupt")
	ErrArtifactWrite    = errors.ErrorCode("anomaly_artifact_write_failed")
	ErrSchemaMismatch   = errors.ErrorCode("anomaly_feature_schema_mismatch")
)
