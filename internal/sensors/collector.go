// Package sensors reads host telemetry from gopsutil, sysfs, lm-sensors and
// NVML.
package sensors

import (
	"context"
	"math/rand"
	"os/exec"
	"sync"
	"time"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"codeberg.org/mutker/hwsentry/internal/fan"
	"codeberg.org/mutker/hwsentry/internal/logger"
	"codeberg.org/mutker/hwsentry/internal/telemetry"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

const (
	simulatedIdleRPM = 1200
	simulatedJitter  = 0.05
)

// Collector is the host telemetry source.
type Collector struct {
	cfg    Config
	logger logger.Logger
	gpu    *gpuReader
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewCollector prepares a collector. A GPU that cannot be initialized is
// logged and skipped.
func NewCollector(cfg Config, log logger.Logger) *Collector {
	c := &Collector{
		cfg:    cfg,
		logger: log,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // synthetic readings only
	}

	if cfg.GPU {
		g := &gpuReader{}
		if err := g.Initialize(); err != nil {
			log.Info().Err(err).Msg("NVIDIA GPU not available, GPU telemetry disabled")
		} else {
			c.gpu = g
			log.Debug().Int("fans", g.fanCount).Msg("NVIDIA GPU telemetry enabled")
		}
	}

	return c
}

func (c *Collector) Close() error {
	if c.gpu == nil {
		return nil
	}
	return c.gpu.Shutdown()
}

// Sample reads every sensor once. Individual sensor failures leave their
// field at its default.
func (c *Collector) Sample(ctx context.Context) (*telemetry.MetricSample, error) {
	b := telemetry.NewBuilder(c.now(), c.logger)

	b.CPUPercent(c.cpuPercent(ctx))
	b.MemoryPercent(c.memoryPercent(ctx))
	b.SwapPercent(c.swapPercent(ctx))
	b.DiskUsagePercent(c.diskUsagePercent(ctx))
	b.DiskIO(c.diskIO(ctx))
	b.Network(c.network(ctx))

	temp, tempErr := c.cpuTemperature(ctx)
	b.CPUTemp(temp, tempErr)
	b.FanSpeed(c.fanSpeed(ctx, temp, tempErr))
	b.BatteryPercent(readBattery(c.cfg.PowerSupplyRoot))

	if c.gpu != nil {
		b.GPU(c.gpu.Read())
	}

	return b.Build()
}

func (c *Collector) cpuPercent(ctx context.Context) (float64, error) {
	percentages, err := cpu.PercentWithContext(ctx, c.cfg.CPUInterval, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, errors.New().WithMessage(ErrNoReading, "no cpu percentage")
	}
	return percentages[0], nil
}

func (c *Collector) memoryPercent(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

func (c *Collector) swapPercent(ctx context.Context) (float64, error) {
	v, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

func (c *Collector) diskUsagePercent(ctx context.Context) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, c.cfg.DiskPath)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

func (c *Collector) diskIO(ctx context.Context) (reads, writes uint64, err error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, stat := range counters {
		reads += stat.ReadCount
		writes += stat.WriteCount
	}
	return reads, writes, nil
}

func (c *Collector) network(ctx context.Context) (sent, recv uint64, err error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	if len(counters) == 0 {
		return 0, 0, errors.New().WithMessage(ErrNoReading, "no network interfaces found")
	}
	return counters[0].BytesSent, counters[0].BytesRecv, nil
}

func (c *Collector) cpuTemperature(ctx context.Context) (float64, error) {
	// partial results arrive together with a warnings error
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if len(temps) == 0 && err != nil {
		return 0, err
	}
	return pickCPUTemperature(temps)
}

// fanSpeed tries hwmon, then lm-sensors, then a tagged simulation when
// enabled.
func (c *Collector) fanSpeed(ctx context.Context, cpuTemp float64, tempErr error) (int64, bool, error) {
	if rpm, err := readHwmonFan(c.cfg.HwmonRoot); err == nil {
		return rpm, false, nil
	}

	rpm, err := c.sensorsFan(ctx)
	if err == nil {
		return rpm, false, nil
	}

	if !c.cfg.SimulateFans {
		return 0, false, err
	}

	if tempErr != nil {
		cpuTemp = 0
	}
	return c.simulatedFan(cpuTemp), true, nil
}

func (c *Collector) sensorsFan(ctx context.Context) (int64, error) {
	if c.cfg.SensorsCommand == "" {
		return 0, errors.New().WithMessage(ErrNoReading, "lm-sensors disabled")
	}

	out, err := exec.CommandContext(ctx, c.cfg.SensorsCommand, "-j").Output()
	if err != nil {
		return 0, errors.New().Wrap(ErrCommandFailed, err)
	}
	return parseSensorsFan(out)
}

// simulatedFan follows the fan curve with a little noise.
func (c *Collector) simulatedFan(cpuTemp float64) int64 {
	expected := fan.ExpectedSpeed(cpuTemp)
	if expected == 0 {
		expected = simulatedIdleRPM
	}

	c.mu.Lock()
	noise := 1 + (c.rng.Float64()*2-1)*simulatedJitter
	c.mu.Unlock()

	return int64(expected * noise)
}
