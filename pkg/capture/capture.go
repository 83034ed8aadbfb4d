// Package capture abstracts the microphone. A Source delivers linear float
// frames in [-1.0, 1.0] to a callback; the recorder encodes and streams them.
// The process is assumed to own a single physical microphone.
package capture

// Source produces capture frames. Start begins delivery to onFrame and
// returns once the device is running; Stop halts delivery. Implementations
// must tolerate Stop without a prior Start and repeated Stops.
type Source interface {
	Start(onFrame func(samples []float32)) error
	Stop()
}
