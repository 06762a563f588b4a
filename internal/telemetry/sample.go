package telemetry

import (
	"database/sql"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/logger"
)

// Builder composes a MetricSample from independent per-field readings.
// A failed reading leaves the field at its default and is only logged.
type Builder struct {
	sample   MetricSample
	log      logger.Logger
	ok       int
	failed   int
	failures []string
}

// NewBuilder starts a sample captured at now.
func NewBuilder(now time.Time, log logger.Logger) *Builder {
	return &Builder{
		sample: MetricSample{Timestamp: now},
		log:    log,
	}
}

func (b *Builder) record(field string, err error) bool {
	if err != nil {
		b.failed++
		b.failures = append(b.failures, field)
		b.log.Debug().
			Str("field", field).
			Str("error_code", string(ErrSensorUnavailable)).
			Err(err).
			Msg("Sensor unavailable, using default")
		return false
	}
	b.ok++
	return true
}

func (b *Builder) CPUPercent(v float64, err error) *Builder {
	if b.record("cpu_percent", err) {
		b.sample.CPUPercent = clampPercent(v)
	}
	return b
}

func (b *Builder) MemoryPercent(v float64, err error) *Builder {
	if b.record("memory_percent", err) {
		b.sample.MemoryPercent = clampPercent(v)
	}
	return b
}

func (b *Builder) SwapPercent(v float64, err error) *Builder {
	if b.record("swap_percent", err) {
		b.sample.SwapPercent = clampPercent(v)
	}
	return b
}

func (b *Builder) DiskUsagePercent(v float64, err error) *Builder {
	if b.record("disk_usage_percent", err) {
		b.sample.DiskUsagePercent = clampPercent(v)
	}
	return b
}

func (b *Builder) DiskIO(reads, writes uint64, err error) *Builder {
	if b.record("disk_io", err) {
		b.sample.DiskReadCount = toInt64(reads)
		b.sample.DiskWriteCount = toInt64(writes)
	}
	return b
}

func (b *Builder) Network(sent, recv uint64, err error) *Builder {
	if b.record("network", err) {
		b.sample.NetworkBytesSent = toInt64(sent)
		b.sample.NetworkBytesRecv = toInt64(recv)
	}
	return b
}

func (b *Builder) CPUTemp(v float64, err error) *Builder {
	if b.record("cpu_temp", err) {
		b.sample.CPUTemp = sql.NullFloat64{Float64: v, Valid: true}
	}
	return b
}

func (b *Builder) BatteryPercent(v float64, err error) *Builder {
	if b.record("battery_percent", err) {
		b.sample.BatteryPercent = sql.NullFloat64{Float64: clampPercent(v), Valid: true}
	}
	return b
}

// FanSpeed records a fan reading in RPM; simulated readings are tagged.
func (b *Builder) FanSpeed(rpm int64, simulated bool, err error) *Builder {
	if b.record("fan_speed", err) {
		if rpm < 0 {
			rpm = 0
		}
		b.sample.FanSpeed = sql.NullInt64{Int64: rpm, Valid: true}
		b.sample.FanSimulated = simulated
	}
	return b
}

func (b *Builder) GPU(temp float64, fanPercent int64, err error) *Builder {
	if b.record("gpu", err) {
		b.sample.GPUTemp = sql.NullFloat64{Float64: temp, Valid: true}
		b.sample.GPUFanPercent = sql.NullInt64{Int64: fanPercent, Valid: true}
	}
	return b
}

// Build returns the sample, or ErrTotalAcquisitionFailure when every reading failed.
func (b *Builder) Build() (*MetricSample, error) {
	if b.ok == 0 {
		return nil, errors.New().WithData(ErrTotalAcquisitionFailure, b.failures)
	}
	s := b.sample
	return &s, nil
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func toInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	//nolint:gosec // G115: Safe - bounds checked above
	return int64(v)
}
