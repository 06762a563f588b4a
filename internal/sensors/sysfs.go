package sensors

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"github.com/shirou/gopsutil/v3/host"
)

// cpuSensorPrefixes ranks temperature sensor keys, most specific first.
var cpuSensorPrefixes = []string{
	"coretemp_package",
	"k10temp",
	"zenpower",
	"coretemp",
	"cpu",
	"soc_thermal",
	"acpitz",
}

// pickCPUTemperature chooses the reading that best represents the CPU package.
func pickCPUTemperature(temps []host.TemperatureStat) (float64, error) {
	for _, prefix := range cpuSensorPrefixes {
		for _, t := range temps {
			if strings.HasPrefix(strings.ToLower(t.SensorKey), prefix) && t.Temperature > 0 {
				return t.Temperature, nil
			}
		}
	}
	for _, t := range temps {
		if t.Temperature > 0 {
			return t.Temperature, nil
		}
	}
	return 0, errors.New().WithMessage(ErrNoReading, "no temperature sensor")
}

// readHwmonFan returns the fastest fan*_input reading under root. A stopped
// fan reads 0.
func readHwmonFan(root string) (int64, error) {
	paths, err := filepath.Glob(filepath.Join(root, "hwmon*", "fan*_input"))
	if err != nil {
		return 0, errors.New().Wrap(ErrReadFailed, err)
	}
	sort.Strings(paths)

	var (
		best  int64
		found bool
	)
	for _, p := range paths {
		v, err := readInt(p)
		if err != nil || v < 0 {
			continue
		}
		if !found || v > best {
			best, found = v, true
		}
	}
	if !found {
		return 0, errors.New().WithMessage(ErrNoReading, "no hwmon fan")
	}
	return best, nil
}

// readBattery returns the capacity of the first battery under root.
func readBattery(root string) (float64, error) {
	paths, err := filepath.Glob(filepath.Join(root, "BAT*", "capacity"))
	if err != nil {
		return 0, errors.New().Wrap(ErrReadFailed, err)
	}
	sort.Strings(paths)

	for _, p := range paths {
		v, err := readInt(p)
		if err == nil && v >= 0 && v <= 100 {
			return float64(v), nil
		}
	}
	return 0, errors.New().WithMessage(ErrNoReading, "no battery")
}

// parseSensorsFan extracts the fastest fan from `sensors -j` output.
func parseSensorsFan(data []byte) (int64, error) {
	var chips map[string]map[string]any
	if err := json.Unmarshal(data, &chips); err != nil {
		return 0, errors.New().Wrap(ErrInvalidReading, err)
	}

	var (
		best  float64
		found bool
	)
	for _, features := range chips {
		for name, raw := range features {
			if !strings.HasPrefix(name, "fan") {
				continue
			}
			values, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for key, v := range values {
				rpm, ok := v.(float64)
				if !ok || !strings.HasSuffix(key, "_input") || rpm < 0 {
					continue
				}
				if !found || rpm > best {
					best, found = rpm, true
				}
			}
		}
	}
	if !found {
		return 0, errors.New().WithMessage(ErrNoReading, "no fan in sensors output")
	}
	return int64(best), nil
}

func readInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
