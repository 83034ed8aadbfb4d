// Package audio converts between linear float samples and the wire format:
// little-endian signed 16-bit PCM, base64-encoded for transport as text.
package audio

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/opsvox/opsvox/pkg/core"
)

// EncodePCM16 quantizes linear samples in [-1.0, 1.0] to s16le bytes and
// base64-encodes them. Out-of-range samples are clamped, never rejected.
// Empty input yields an empty string. Pure and stateless.
func EncodePCM16(samples []float32) string {
	if len(samples) == 0 {
		return ""
	}
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		if sample > 1.0 {
			sample = 1.0
		} else if sample < -1.0 {
			sample = -1.0
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample*32767.0)))
	}
	return base64.StdEncoding.EncodeToString(out)
}

// DecodePCM16 is the inverse of EncodePCM16. Round-tripping reproduces each
// sample within one quantization step (1/32767).
func DecodePCM16(encoded string) ([]float32, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, core.NewDecodeError("invalid base64 audio payload")
	}
	if len(raw)%2 != 0 {
		return nil, core.NewDecodeError("odd-length pcm16 payload")
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32767.0
	}
	return samples, nil
}

// DecodePCM16Bytes base64-decodes a payload to raw s16le bytes for playback.
func DecodePCM16Bytes(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, core.NewDecodeError("invalid base64 audio payload")
	}
	if len(raw)%2 != 0 {
		return nil, core.NewDecodeError("odd-length pcm16 payload")
	}
	return raw, nil
}
