package playback

import "sync"

// FakeSpeaker is a scripted Speaker for tests. Each Play records the buffer
// and returns a handle the test finishes by hand; nothing is audible.
type FakeSpeaker struct {
	mu      sync.Mutex
	plays   [][]byte
	handles []*FakePlaying
	// FailNext makes the next Play return this error once.
	FailNext error
}

func (f *FakeSpeaker) Play(pcm []byte) (Playing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return nil, err
	}
	buf := append([]byte(nil), pcm...)
	h := &FakePlaying{done: make(chan struct{})}
	f.plays = append(f.plays, buf)
	f.handles = append(f.handles, h)
	return h, nil
}

// Plays returns copies of every buffer handed to Play, in order.
func (f *FakeSpeaker) Plays() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.plays))
	copy(out, f.plays)
	return out
}

// Handle returns the i-th playback handle.
func (f *FakeSpeaker) Handle(i int) *FakePlaying {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

// FakePlaying is a playback handle under test control.
type FakePlaying struct {
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
}

// Finish simulates the audio draining naturally.
func (p *FakePlaying) Finish() {
	p.once.Do(func() { close(p.done) })
}

func (p *FakePlaying) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.once.Do(func() { close(p.done) })
}

// Stopped reports whether Stop was called.
func (p *FakePlaying) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *FakePlaying) Done() <-chan struct{} {
	return p.done
}
