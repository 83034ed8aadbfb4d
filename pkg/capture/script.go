package capture

import "sync"

// Script is a deterministic in-memory Source for tests and dry runs. Frames
// are pushed by the test; Start only registers the sink.
type Script struct {
	mu      sync.Mutex
	onFrame func([]float32)
	started bool
}

func (s *Script) Start(onFrame func(samples []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame = onFrame
	s.started = true
	return nil
}

func (s *Script) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.onFrame = nil
}

// Running reports whether the source has an active sink.
func (s *Script) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Push delivers one frame to the registered sink, if capture is running.
func (s *Script) Push(samples []float32) {
	s.mu.Lock()
	sink := s.onFrame
	s.mu.Unlock()
	if sink != nil {
		sink(samples)
	}
}
