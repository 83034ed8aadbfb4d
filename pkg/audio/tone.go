package audio

import (
	"math"
	"time"
)

// Tone synthesizes an s16le sine tone. amp is linear gain in (0, 1]; values
// outside that range are clamped.
func Tone(freqHz, sampleRateHz int, d time.Duration, amp float64) []byte {
	if sampleRateHz <= 0 || d <= 0 || freqHz <= 0 {
		return nil
	}
	if amp <= 0 {
		amp = 0.2
	}
	if amp > 1.0 {
		amp = 1.0
	}
	samples := int(float64(sampleRateHz) * d.Seconds())
	if samples <= 0 {
		samples = 1
	}
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		t := float64(i) / float64(sampleRateHz)
		v := amp * math.Sin(2*math.Pi*float64(freqHz)*t)
		s := int16(v * 32767.0)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
