package playback

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/opsvox/opsvox/pkg/audio"
)

// Speaker turns a raw s16le mono buffer into audible output. Play returns as
// soon as playback has started; completion is observed through the returned
// Playing handle.
type Speaker interface {
	Play(pcm []byte) (Playing, error)
}

// Playing is one in-flight playback. Done is closed when the audio finishes
// or is stopped; Stop is safe to call more than once.
type Playing interface {
	Stop()
	Done() <-chan struct{}
}

// Device is the oto-backed Speaker. The underlying audio context is created
// on first use and lives for the rest of the process; oto permits only one
// context per process.
type Device struct {
	// SampleRateHz of the buffers handed to Play. Default 24000.
	SampleRateHz int

	mu  sync.Mutex
	ctx *oto.Context
}

func (d *Device) context() (*oto.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return d.ctx, nil
	}
	rate := d.SampleRateHz
	if rate <= 0 {
		rate = audio.FeedbackSampleRate
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	d.ctx = ctx
	return ctx, nil
}

func (d *Device) Play(pcm []byte) (Playing, error) {
	ctx, err := d.context()
	if err != nil {
		return nil, err
	}
	player := ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	p := &devicePlaying{player: player, done: make(chan struct{})}
	go p.watch()
	return p, nil
}

type devicePlaying struct {
	player *oto.Player
	once   sync.Once
	done   chan struct{}
}

// watch polls the player until it drains, then closes the handle. A Stop
// pauses the player, which ends the poll on its next tick.
func (p *devicePlaying) watch() {
	for p.player.IsPlaying() {
		time.Sleep(20 * time.Millisecond)
	}
	_ = p.player.Close()
	p.once.Do(func() { close(p.done) })
}

func (p *devicePlaying) Stop() {
	p.player.Pause()
}

func (p *devicePlaying) Done() <-chan struct{} {
	return p.done
}
