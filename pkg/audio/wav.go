package audio

import "encoding/binary"

// Common formats for the voice pipeline: capture runs at 16kHz mono s16le,
// feedback payloads arrive at 24kHz mono s16le.
const (
	CaptureSampleRate  = 16000
	FeedbackSampleRate = 24000
	BitsPerSample      = 16
	Channels           = 1
)

// PCMToWAV wraps raw PCM audio data with a WAV header, for saving feedback
// payloads to disk or handing them to players that require a container.
func PCMToWAV(pcmData []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcmData)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	// WAV header is 44 bytes
	header := make([]byte, 44)

	// RIFF chunk descriptor
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")

	// fmt sub-chunk
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))

	// data sub-chunk
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcmData...)
}

// FeedbackToWAV wraps a feedback payload with a WAV header using the
// pipeline's feedback format.
func FeedbackToWAV(pcmData []byte) []byte {
	return PCMToWAV(pcmData, FeedbackSampleRate, BitsPerSample, Channels)
}
