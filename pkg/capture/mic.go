package capture

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Mic captures from the default input device at the given rate, mono s16,
// and converts each period to float frames.
type Mic struct {
	SampleRateHz int

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// Start initializes the audio context and begins capture. Periods arrive
// roughly every 20ms.
func (m *Mic) Start(onFrame func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}
	if m.SampleRateHz <= 0 {
		m.SampleRateHz = 16000
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.SampleRateHz)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) < 2 || onFrame == nil {
				return
			}
			samples := make([]float32, len(input)/2)
			for i := range samples {
				samples[i] = float32(int16(binary.LittleEndian.Uint16(input[i*2:]))) / 32767.0
			}
			onFrame(samples)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start microphone: %w", err)
	}

	m.ctx = ctx
	m.device = device
	return nil
}

// Stop halts capture and releases the device.
func (m *Mic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}
