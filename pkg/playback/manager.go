// Package playback owns the speaker. At most one feedback clip is audible at
// a time: a new request supersedes the current one instead of queueing behind
// it, and a cross-process Lock keeps concurrent opsvox processes from talking
// over each other.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/opsvox/opsvox/pkg/audio"
	"github.com/opsvox/opsvox/pkg/metrics"
	"github.com/opsvox/opsvox/pkg/settings"
)

const (
	toneFreqHz   = 880
	toneDuration = 150 * time.Millisecond
	toneVolume   = 0.2
)

// Config wires a Manager. Speaker, Lock, and Settings are required.
type Config struct {
	Speaker  Speaker
	Lock     Lock
	Settings *settings.Store
	Logger   *slog.Logger

	// OnDone fires after a clip finishes naturally, with the id passed to
	// PlayAudio. A superseded or stopped clip never fires it.
	OnDone func(id string)
	// OnStarted fires when a clip actually reaches the speaker: after the
	// lock is held and the device accepted it. A dropped or failed request
	// never fires it.
	OnStarted func(id string)
	// OnEnded fires exactly once per started clip when it stops being
	// audible, whatever the cause: natural completion, Stop, supersede, or
	// mode-off. Pair it with OnStarted for display overlays.
	OnEnded func(id string)
}

// Manager plays feedback audio and the notification tone, and owns the
// output-mode cycle.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	cur       *clip
	onDone    func(id string)
	onStarted func(id string)
	onEnded   func(id string)
}

type clip struct {
	id         string
	playing    Playing
	superseded bool
	released   bool
	ended      bool
}

func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, onDone: cfg.OnDone, onStarted: cfg.OnStarted, onEnded: cfg.OnEnded}
}

// SetOnDone replaces the completion callback. It exists for wiring cycles at
// startup; call it before the first PlayAudio.
func (m *Manager) SetOnDone(fn func(id string)) {
	m.mu.Lock()
	m.onDone = fn
	m.mu.Unlock()
}

// SetOnStarted replaces the playback-started callback.
func (m *Manager) SetOnStarted(fn func(id string)) {
	m.mu.Lock()
	m.onStarted = fn
	m.mu.Unlock()
}

// SetOnEnded replaces the playback-ended callback.
func (m *Manager) SetOnEnded(fn func(id string)) {
	m.mu.Lock()
	m.onEnded = fn
	m.mu.Unlock()
}

// PlayTone plays the short notification chirp at reduced volume. It is always
// permitted regardless of output mode and does not touch the lock or the
// in-flight clip.
func (m *Manager) PlayTone() {
	pcm := audio.Tone(toneFreqHz, audio.FeedbackSampleRate, toneDuration, toneVolume)
	if _, err := m.cfg.Speaker.Play(pcm); err != nil {
		metrics.PlaybackErrors.Inc()
		m.cfg.Logger.Warn("tone playback failed", "error", err)
	}
}

// PlayAudio decodes a base64 s16le clip and plays it. An empty payload is a
// no-op. Any in-flight clip is stopped first: playback is single-flight and
// last-request-wins, never queued. If another process holds the playback lock
// the clip is dropped with a log line.
func (m *Manager) PlayAudio(encoded, id string) {
	if encoded == "" {
		return
	}
	pcm, err := audio.DecodePCM16Bytes(encoded)
	if err != nil {
		metrics.PlaybackErrors.Inc()
		m.cfg.Logger.Warn("feedback payload undecodable", "id", id, "error", err)
		return
	}

	m.Stop()
	if !m.cfg.Lock.TryAcquire() {
		metrics.LockContention.Inc()
		m.cfg.Logger.Info("playback lock held elsewhere, dropping clip", "id", id)
		return
	}

	playing, err := m.cfg.Speaker.Play(pcm)
	if err != nil {
		m.cfg.Lock.Release()
		metrics.PlaybackErrors.Inc()
		m.cfg.Logger.Warn("playback failed", "id", id, "error", err)
		return
	}

	cur := &clip{id: id, playing: playing}
	m.mu.Lock()
	m.cur = cur
	started := m.onStarted
	m.mu.Unlock()
	if started != nil {
		started(id)
	}
	go m.watch(cur)
}

func (m *Manager) watch(cur *clip) {
	<-cur.playing.Done()

	m.mu.Lock()
	if m.cur == cur {
		m.cur = nil
	}
	superseded := cur.superseded
	release := !cur.released
	cur.released = true
	fireEnded := !cur.ended
	cur.ended = true
	done := m.onDone
	ended := m.onEnded
	m.mu.Unlock()

	if release {
		m.cfg.Lock.Release()
	}
	if fireEnded && ended != nil {
		ended(cur.id)
	}
	if !superseded && done != nil {
		done(cur.id)
	}
}

// Stop halts the in-flight clip, if any, and releases the lock. The stopped
// clip fires the ended callback but never the completion callback.
func (m *Manager) Stop() {
	m.mu.Lock()
	cur := m.cur
	m.cur = nil
	var release, fireEnded bool
	if cur != nil {
		cur.superseded = true
		if !cur.released {
			cur.released = true
			release = true
		}
		if !cur.ended {
			cur.ended = true
			fireEnded = true
		}
	}
	ended := m.onEnded
	m.mu.Unlock()

	if cur != nil {
		cur.playing.Stop()
	}
	if release {
		m.cfg.Lock.Release()
	}
	if fireEnded && ended != nil {
		ended(cur.id)
	}
}

// Mode returns the persisted output mode.
func (m *Manager) Mode() settings.OutputMode {
	return m.cfg.Settings.OutputMode()
}

// SetMode persists a new output mode. Switching to off silences the speaker
// immediately rather than letting the current clip finish.
func (m *Manager) SetMode(mode settings.OutputMode) error {
	if !mode.Valid() {
		return nil
	}
	if err := m.cfg.Settings.SetOutputMode(mode); err != nil {
		return err
	}
	if mode == settings.ModeOff {
		m.Stop()
	}
	return nil
}

// CycleMode advances voice -> off -> tone -> team_name -> voice and returns
// the new mode.
func (m *Manager) CycleMode() (settings.OutputMode, error) {
	next := settings.NextMode(m.cfg.Settings.OutputMode())
	return next, m.SetMode(next)
}
