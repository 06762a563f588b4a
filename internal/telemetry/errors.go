package telemetry

import "codeberg.org/mutker/hwsentry/internal/errors"

const (
	// Collection Errors
	ErrTotalAcquisitionFailure = errors.ErrorCode("telemetry_total_acquisition_failure")
	ErrSensorUnavailable       = errors.ErrorCode("telemetry_sensor_unavailable")
)
