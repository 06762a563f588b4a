package sensors

import (
	"codeberg.org/mutker/hwsentry/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// gpuReader reads temperature and fan duty of the first NVIDIA GPU.
type gpuReader struct {
	initialized bool
	device      nvml.Device
	fanCount    int
}

func (g *gpuReader) Initialize() error {
	errFactory := errors.New()
	if g.initialized {
		return nil
	}

	ret := nvml.Init()
	if !isNVMLSuccess(ret) {
		return errFactory.Wrap(ErrNVMLInitFailed, newNVMLError(ret))
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if !isNVMLSuccess(ret) {
		nvml.Shutdown()
		return errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	count, ret := device.GetNumFans()
	if !isNVMLSuccess(ret) {
		count = 0
	}

	g.device = device
	g.fanCount = count
	g.initialized = true

	return nil
}

func (g *gpuReader) Shutdown() error {
	if !g.initialized {
		return nil
	}

	ret := nvml.Shutdown()
	if !isNVMLSuccess(ret) {
		return errors.New().Wrap(ErrNVMLShutdownFailed, newNVMLError(ret))
	}
	g.initialized = false

	return nil
}

// Read returns the GPU core temperature in Celsius and the duty of its first
// fan in percent. Fanless boards report 0 duty.
func (g *gpuReader) Read() (float64, int64, error) {
	errFactory := errors.New()
	if !g.initialized {
		return 0, 0, errFactory.New(ErrNotInitialized)
	}

	temp, ret := g.device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !isNVMLSuccess(ret) {
		return 0, 0, errFactory.Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}

	if g.fanCount == 0 {
		return float64(temp), 0, nil
	}

	speed, ret := g.device.GetFanSpeed_v2(0)
	if !isNVMLSuccess(ret) {
		return 0, 0, errFactory.Wrap(ErrGetFanSpeedFailed, newNVMLError(ret))
	}

	return float64(temp), int64(speed), nil
}

type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

func isNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
