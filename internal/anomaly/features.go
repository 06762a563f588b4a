package anomaly

import "codeberg.org/mutker/hwsentry/internal/telemetry"

// FeatureSchema is bumped whenever FeatureColumns changes.
const FeatureSchema = 2

const bytesPerKB = 1024

// FeatureColumns is the canonical column order for training and scoring.
var FeatureColumns = []string{
	"cpu_percent",
	"memory_percent",
	"swap_percent",
	"disk_usage_percent",
	"disk_read_count",
	"disk_write_count",
	"network_sent_kb",
	"network_recv_kb",
	"cpu_temp",
	"battery_percent",
	"fan_speed",
}

// FeatureRow projects a sample onto FeatureColumns. Unavailable sensors are 0.
func FeatureRow(s *telemetry.MetricSample) []float64 {
	var cpuTemp, battery, fanSpeed float64
	if s.CPUTemp.Valid {
		cpuTemp = s.CPUTemp.Float64
	}
	if s.BatteryPercent.Valid {
		battery = s.BatteryPercent.Float64
	}
	if fs := s.MeasuredFanSpeed(); fs.Valid {
		fanSpeed = float64(fs.Int64)
	}

	return []float64{
		s.CPUPercent,
		s.MemoryPercent,
		s.SwapPercent,
		s.DiskUsagePercent,
		float64(s.DiskReadCount),
		float64(s.DiskWriteCount),
		float64(s.NetworkBytesSent) / bytesPerKB,
		float64(s.NetworkBytesRecv) / bytesPerKB,
		cpuTemp,
		battery,
		fanSpeed,
	}
}

// FeatureMatrix projects samples in order.
func FeatureMatrix(samples []telemetry.MetricSample) [][]float64 {
	rows := make([][]float64, len(samples))
	for i := range samples {
		rows[i] = FeatureRow(&samples[i])
	}
	return rows
}
