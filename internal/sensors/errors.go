package sensors

import "codeberg.org/mutker/hwsentry/internal/errors"

const (
	// Reading Errors
	ErrNoReading      = errors.ErrorCode("sensors_no_reading")
	ErrReadFailed     = errors.ErrorCode("sensors_read_failed")
	ErrCommandFailed  = errors.ErrorCode("sensors_command_failed")
	ErrInvalidReading = errors.ErrorCode("sensors_invalid_reading")

	// NVML Errors
	ErrNotInitialized        = errors.ErrorCode("sensors_nvml_not_initialized")
	ErrNVMLInitFailed        = errors.ErrorCode("sensors_nvml_init_failed")
	ErrNVMLShutdownFailed    = errors.ErrorCode("sensors_nvml_shutdown_failed")
	ErrDeviceNotFound        = errors.ErrorCode("sensors_gpu_device_not_found")
	ErrTemperatureReadFailed = errors.ErrorCode("sensors_gpu_temperature_read_failed")
	ErrFanCountFailed        = errors.ErrorCode("sensors_gpu_fan_count_failed")
	ErrGetFanSpeedFailed     = errors.ErrorCode("sensors_gpu_fan_speed_failed")
)
