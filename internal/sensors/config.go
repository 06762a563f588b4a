package sensors

import "time"

const (
	defaultCPUInterval     = 500 * time.Millisecond
	defaultDiskPath        = "/"
	defaultHwmonRoot       = "/sys/class/hwmon"
	defaultPowerSupplyRoot = "/sys/class/power_supply"
	defaultSensorsCommand  = "sensors"
)

type Config struct {
	// GPU enables NVML readings of the first GPU.
	GPU bool
	// SimulateFans substitutes a tagged synthetic fan reading when no fan
	// sensor is found.
	SimulateFans bool

	CPUInterval     time.Duration
	DiskPath        string
	HwmonRoot       string
	PowerSupplyRoot string
	SensorsCommand  string
}

func DefaultConfig() Config {
	return Config{
		GPU:             true,
		CPUInterval:     defaultCPUInterval,
		DiskPath:        defaultDiskPath,
		HwmonRoot:       defaultHwmonRoot,
		PowerSupplyRoot: defaultPowerSupplyRoot,
		SensorsCommand:  defaultSensorsCommand,
	}
}
