package recorder

import "math"

const (
	defaultVADThreshold = 0.015
	// With 20ms capture periods this holds "speaking" for ~200ms of silence,
	// bridging normal word gaps.
	defaultVADHangover = 10
)

// vad is a voice-activity detector over RMS frame energy. A frame above the
// threshold marks speech and re-arms the hangover; below-threshold frames
// count the hangover down before speech ends.
type vad struct {
	threshold float64
	hangover  int
	remaining int
}

func newVAD(threshold float64, hangover int) *vad {
	if threshold <= 0 {
		threshold = defaultVADThreshold
	}
	if hangover <= 0 {
		hangover = defaultVADHangover
	}
	return &vad{threshold: threshold, hangover: hangover}
}

// score consumes one frame and reports whether the operator is speaking.
func (v *vad) score(samples []float32) bool {
	if len(samples) == 0 {
		return v.decay()
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms >= v.threshold {
		v.remaining = v.hangover
		return true
	}
	return v.decay()
}

func (v *vad) decay() bool {
	if v.remaining > 0 {
		v.remaining--
		return true
	}
	return false
}
