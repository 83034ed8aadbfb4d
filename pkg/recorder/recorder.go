// Package recorder drives one voice command at a time: it opens a recording
// session, streams encoded microphone frames, follows the server through
// transcription, correction, and dispatch, and loops back to listening so the
// operator never touches the keyboard between commands.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opsvox/opsvox/pkg/audio"
	"github.com/opsvox/opsvox/pkg/capture"
	"github.com/opsvox/opsvox/pkg/channel"
	"github.com/opsvox/opsvox/pkg/core"
	"github.com/opsvox/opsvox/pkg/creds"
	"github.com/opsvox/opsvox/pkg/protocol"
	"github.com/opsvox/opsvox/pkg/settings"
)

// Status names the recorder's position in the command loop.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusCorrecting Status = "correcting"
	StatusSent       Status = "sent"
	StatusSpeaking   Status = "speaking"
	StatusError      Status = "error"
)

// State is an immutable snapshot, replaced whole on every transition.
type State struct {
	Status            Status
	TeamID            string
	RoleID            string
	Transcript        string
	CorrectedCommand  string
	IsSpeaking        bool
	Err               error
	FeedbackSummary   string
	IsPlayingFeedback bool
}

const defaultSentDisplayWindow = 1500 * time.Millisecond

// Session is the transport a recording rides on. channel.Channel satisfies
// it; tests substitute a scripted fake.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(payload any) error
}

// Config wires a Recorder. URL, Auth, Source, and Settings are required in
// production; Dial exists so tests can substitute the transport.
type Config struct {
	// URL of the recording-session endpoint.
	URL string
	// Auth supplies the bearer credential for the session dial.
	Auth *creds.Authorizer
	// Source delivers capture frames.
	Source capture.Source
	// Settings provides the stop phrase, read at Start time.
	Settings *settings.Store
	Logger   *slog.Logger

	// OnState observes every state transition.
	OnState func(State)

	// SentDisplayWindow holds the sent confirmation on screen before the
	// machine reverts to listening. Default 1500ms.
	SentDisplayWindow time.Duration
	// SampleRateHz of capture. Default 16000.
	SampleRateHz int

	VADThreshold float64
	VADHangover  int

	// Dial builds the session transport. Default wraps channel.New with
	// reconnect disabled: a dropped session surfaces as recorder error, not
	// a silent retry.
	Dial func(cfg channel.Config) Session
}

// Recorder is the state machine. All exported methods are safe for
// concurrent use.
type Recorder struct {
	cfg Config

	mu          sync.Mutex
	state       State
	session     Session
	seq         int64
	stopPhrase  string
	vad         *vad
	revert      *time.Timer
	stopping    bool
	preSpeaking Status
}

func New(cfg Config) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SentDisplayWindow <= 0 {
		cfg.SentDisplayWindow = defaultSentDisplayWindow
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = audio.CaptureSampleRate
	}
	if cfg.Dial == nil {
		cfg.Dial = func(c channel.Config) Session { return channel.New(c) }
	}
	return &Recorder{
		cfg:   cfg,
		state: State{Status: StatusIdle},
	}
}

// State returns the current snapshot.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens a recording session against the given target. A missing team
// or role declines with a log line; the machine stays put. Start is only
// honored from idle or error.
func (r *Recorder) Start(teamID, roleID string) {
	if strings.TrimSpace(teamID) == "" || strings.TrimSpace(roleID) == "" {
		r.cfg.Logger.Warn("start declined: team and role are both required",
			"team_id", teamID, "role_id", roleID)
		return
	}

	r.mu.Lock()
	if r.state.Status != StatusIdle && r.state.Status != StatusError {
		r.cfg.Logger.Warn("start declined: recorder busy", "status", string(r.state.Status))
		r.mu.Unlock()
		return
	}
	r.stopping = false
	r.seq = 0
	r.stopPhrase = strings.ToLower(r.cfg.Settings.StopPhrase())
	r.vad = newVAD(r.cfg.VADThreshold, r.cfg.VADHangover)
	sess := r.cfg.Dial(channel.Config{
		Name:             "recording",
		URL:              r.cfg.URL,
		Auth:             r.cfg.Auth,
		Logger:           r.cfg.Logger,
		Handler:          r.handleFrame,
		OnStateChange:    r.onSessionState,
		OnClose:          r.onSessionClose,
		DisableReconnect: true,
	})
	r.session = sess
	r.setStateLocked(State{Status: StatusConnecting, TeamID: teamID, RoleID: roleID})
	r.mu.Unlock()

	go func() {
		if err := sess.Connect(context.Background()); err != nil {
			r.fail(err)
		}
	}()
}

// Stop aborts from any state back to idle: capture halts, the session closes,
// any pending revert is cancelled. Always permitted.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.stopping = true
	sess := r.session
	r.session = nil
	if r.revert != nil {
		r.revert.Stop()
		r.revert = nil
	}
	s := r.state
	s.Status = StatusIdle
	s.Transcript = ""
	s.CorrectedCommand = ""
	s.IsSpeaking = false
	s.Err = nil
	s.FeedbackSummary = ""
	s.IsPlayingFeedback = false
	r.setStateLocked(s)
	r.mu.Unlock()

	r.cfg.Source.Stop()
	if sess != nil {
		sess.Disconnect()
	}
}

// StopUtterance ends the open utterance by hand, exactly as if the stop
// phrase had been heard.
func (r *Recorder) StopUtterance() {
	r.mu.Lock()
	if r.captureStatusLocked() != StatusListening {
		r.mu.Unlock()
		return
	}
	sess := r.session
	s := r.state
	r.setCaptureStatus(&s, StatusProcessing)
	s.IsSpeaking = false
	r.setStateLocked(s)
	r.mu.Unlock()

	if sess != nil {
		_ = sess.Send(protocol.NewStreamEnd())
	}
}

// ClearTranscript wipes the accumulated transcript without changing status.
// It is refused mid-pipeline: processing, correcting, and sent hold their
// text until the loop comes back around.
func (r *Recorder) ClearTranscript() {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.captureStatusLocked() {
	case StatusProcessing, StatusCorrecting, StatusSent:
		return
	}
	s := r.state
	s.Transcript = ""
	r.setStateLocked(s)
}

// SetTarget points subsequent commands at a new team and role. Switching
// teams mid-recording forces a Stop so frames never leak across teams; a
// role-only change under the same team is applied in place.
func (r *Recorder) SetTarget(teamID, roleID string) {
	r.mu.Lock()
	capture := r.captureStatusLocked()
	active := capture != StatusIdle && capture != StatusError
	teamChanged := teamID != r.state.TeamID
	r.mu.Unlock()

	if active && teamChanged {
		r.Stop()
	}
	r.mu.Lock()
	s := r.state
	s.TeamID = teamID
	s.RoleID = roleID
	r.setStateLocked(s)
	r.mu.Unlock()
}

// BeginFeedback overlays the speaking state while the playback manager is
// talking. The overlay is display-only: the capture pipeline keeps running
// underneath, and inbound pipeline frames keep advancing the capture state.
func (r *Recorder) BeginFeedback(summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status != StatusSpeaking {
		r.preSpeaking = r.state.Status
	}
	s := r.state
	s.Status = StatusSpeaking
	s.FeedbackSummary = summary
	s.IsPlayingFeedback = true
	r.setStateLocked(s)
}

// EndFeedback lifts the speaking overlay and restores the pre-speaking state.
func (r *Recorder) EndFeedback() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status != StatusSpeaking {
		return
	}
	s := r.state
	s.Status = r.preSpeaking
	s.FeedbackSummary = ""
	s.IsPlayingFeedback = false
	r.setStateLocked(s)
}

func (r *Recorder) onSessionState(connected bool) {
	if !connected {
		return
	}
	r.mu.Lock()
	if r.captureStatusLocked() != StatusConnecting {
		r.mu.Unlock()
		return
	}
	sess := r.session
	s := r.state
	r.setCaptureStatus(&s, StatusListening)
	r.setStateLocked(s)
	r.mu.Unlock()

	if sess != nil {
		_ = sess.Send(protocol.NewStreamStart(r.cfg.SampleRateHz, audio.Channels))
	}
	if err := r.cfg.Source.Start(r.onFrame); err != nil {
		r.fail(err)
	}
}

func (r *Recorder) onSessionClose(reason core.CloseReason) {
	r.mu.Lock()
	stopping := r.stopping
	idle := r.state.Status == StatusIdle
	r.mu.Unlock()
	if stopping || idle {
		return
	}
	if reason == core.CloseAbnormal {
		r.fail(&core.TransportError{Op: "SESSION", URL: r.cfg.URL, Err: errors.New("connection closed abnormally")})
		return
	}
	// Server finished the session cleanly underneath us.
	r.Stop()
}

// onFrame streams one capture period while listening, overlay or not. Frames
// arriving in any other capture state are dropped.
func (r *Recorder) onFrame(samples []float32) {
	r.mu.Lock()
	if r.captureStatusLocked() != StatusListening {
		r.mu.Unlock()
		return
	}
	sess := r.session
	speaking := r.vad.score(samples)
	if speaking != r.state.IsSpeaking {
		s := r.state
		s.IsSpeaking = speaking
		r.setStateLocked(s)
	}
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	encoded := audio.EncodePCM16(samples)
	if encoded == "" || sess == nil {
		return
	}
	_ = sess.Send(protocol.NewAudioFrame(seq, encoded))
}

func (r *Recorder) handleFrame(data []byte) {
	msg, err := protocol.DecodeRecordingFrame(data)
	if err != nil {
		r.cfg.Logger.Warn("undecodable recording frame", "error", err)
		return
	}
	switch m := msg.(type) {
	case protocol.TranscriptDelta:
		r.onTranscript(m)
	case protocol.Corrected:
		r.onCorrected(m)
	case protocol.CommandSent:
		r.onCommandSent(m)
	case protocol.ErrorEvent:
		r.fail(core.NewAPIError(m.Message))
	}
}

func (r *Recorder) onTranscript(m protocol.TranscriptDelta) {
	r.mu.Lock()
	if r.captureStatusLocked() != StatusListening {
		r.mu.Unlock()
		return
	}
	s := r.state
	if s.Transcript == "" {
		s.Transcript = m.Text
	} else {
		s.Transcript += " " + m.Text
	}
	hitStop := r.stopPhrase != "" && strings.Contains(strings.ToLower(s.Transcript), r.stopPhrase)
	sess := r.session
	if hitStop {
		r.setCaptureStatus(&s, StatusProcessing)
		s.IsSpeaking = false
	}
	r.setStateLocked(s)
	r.mu.Unlock()

	if hitStop && sess != nil {
		_ = sess.Send(protocol.NewStreamEnd())
	}
}

func (r *Recorder) onCorrected(m protocol.Corrected) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.captureStatusLocked() != StatusProcessing {
		return
	}
	s := r.state
	r.setCaptureStatus(&s, StatusCorrecting)
	s.CorrectedCommand = m.Command
	r.setStateLocked(s)
}

func (r *Recorder) onCommandSent(m protocol.CommandSent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.captureStatusLocked() {
	case StatusCorrecting, StatusProcessing:
	default:
		return
	}
	if m.RoutedTo != "" {
		r.cfg.Logger.Info("command routed to alternate target", "routed_to", m.RoutedTo)
	}
	s := r.state
	r.setCaptureStatus(&s, StatusSent)
	r.setStateLocked(s)

	if r.revert != nil {
		r.revert.Stop()
	}
	r.revert = time.AfterFunc(r.cfg.SentDisplayWindow, r.revertToListening)
}

// revertToListening is the hands-free loop: after the sent confirmation has
// been visible long enough, the machine goes back to listening for the next
// command. It never reverts to idle on its own.
func (r *Recorder) revertToListening() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.captureStatusLocked() != StatusSent {
		return
	}
	r.revert = nil
	s := r.state
	r.setCaptureStatus(&s, StatusListening)
	s.Transcript = ""
	s.CorrectedCommand = ""
	r.setStateLocked(s)
}

// fail moves to error from wherever the machine is. Only a fresh Start
// recovers it.
func (r *Recorder) fail(err error) {
	r.cfg.Logger.Error("recording failed", "error", err)
	r.mu.Lock()
	sess := r.session
	r.session = nil
	if r.revert != nil {
		r.revert.Stop()
		r.revert = nil
	}
	s := r.state
	s.Status = StatusError
	s.Err = err
	s.IsSpeaking = false
	r.setStateLocked(s)
	r.mu.Unlock()

	r.cfg.Source.Stop()
	if sess != nil {
		sess.Disconnect()
	}
}

// captureStatusLocked returns the capture-lifecycle status, looking through
// the speaking overlay. Caller holds r.mu.
func (r *Recorder) captureStatusLocked() Status {
	if r.state.Status == StatusSpeaking {
		return r.preSpeaking
	}
	return r.state.Status
}

// setCaptureStatus advances the capture lifecycle on the snapshot being
// built. While the speaking overlay is up the displayed status stays
// speaking and the new capture status is what EndFeedback will restore.
// Caller holds r.mu.
func (r *Recorder) setCaptureStatus(s *State, status Status) {
	if r.state.Status == StatusSpeaking {
		r.preSpeaking = status
		s.Status = StatusSpeaking
		return
	}
	s.Status = status
}

// setStateLocked publishes a new snapshot. Caller holds r.mu; the observer
// runs inline, so it must not call back into the recorder.
func (r *Recorder) setStateLocked(s State) {
	r.state = s
	if r.cfg.OnState != nil {
		r.cfg.OnState(s)
	}
}
