package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opsvox/opsvox/pkg/capture"
	"github.com/opsvox/opsvox/pkg/channel"
	"github.com/opsvox/opsvox/pkg/core"
	"github.com/opsvox/opsvox/pkg/protocol"
	"github.com/opsvox/opsvox/pkg/settings"
)

// fakeSession captures the wiring the recorder hands to its transport so the
// test can play the server's side of the session.
type fakeSession struct {
	cfg channel.Config

	mu           sync.Mutex
	sent         []any
	disconnected bool
	connectErr   error
}

func (f *fakeSession) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.cfg.OnStateChange != nil {
		f.cfg.OnStateChange(true)
	}
	return nil
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeSession) Send(payload any) error {
	f.mu.Lock()
	f.sent = append(f.sent, payload)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) sentFrames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func (f *fakeSession) countType(match func(any) bool) int {
	n := 0
	for _, frame := range f.sentFrames() {
		if match(frame) {
			n++
		}
	}
	return n
}

// serverFrame injects an inbound frame exactly as the channel would deliver it.
func (f *fakeSession) serverFrame(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal server frame: %v", err)
	}
	f.cfg.Handler(data)
}

type harness struct {
	rec      *Recorder
	source   *capture.Script
	sessions []*fakeSession
	mu       sync.Mutex
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	stg, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("settings.Open() error = %v", err)
	}
	h := &harness{source: &capture.Script{}}
	cfg := Config{
		URL:               "ws://ops.test/record",
		Source:            h.source,
		Settings:          stg,
		SentDisplayWindow: 30 * time.Millisecond,
		Dial: func(c channel.Config) Session {
			s := &fakeSession{cfg: c}
			h.mu.Lock()
			h.sessions = append(h.sessions, s)
			h.mu.Unlock()
			return s
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.rec = New(cfg)
	return h
}

func (h *harness) session(i int) *fakeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[i]
}

func (h *harness) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func (h *harness) waitStatus(t *testing.T, want Status) {
	t.Helper()
	waitFor(t, time.Second, func() bool { return h.rec.State().Status == want })
}

func loudFrame() []float32 {
	samples := make([]float32, 320)
	for i := range samples {
		samples[i] = 0.3
	}
	return samples
}

func TestRecorder_StartDeclinedWithoutTarget(t *testing.T) {
	h := newHarness(t, nil)

	h.rec.Start("", "role-1")
	h.rec.Start("team-1", "")

	if got := h.rec.State().Status; got != StatusIdle {
		t.Fatalf("status = %q, want idle", got)
	}
	if h.sessionCount() != 0 {
		t.Fatal("a session was dialed despite the declined start")
	}
}

func TestRecorder_HandsFreeLoop(t *testing.T) {
	h := newHarness(t, nil)

	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)
	sess := h.session(0)

	if n := sess.countType(func(v any) bool { _, ok := v.(protocol.StreamStart); return ok }); n != 1 {
		t.Fatalf("stream_start frames = %d, want 1", n)
	}

	h.source.Push(loudFrame())
	waitFor(t, time.Second, func() bool { return h.rec.State().IsSpeaking })
	if n := sess.countType(func(v any) bool { _, ok := v.(protocol.AudioFrame); return ok }); n != 1 {
		t.Fatalf("audio frames = %d, want 1", n)
	}

	sess.serverFrame(t, protocol.TranscriptDelta{Type: "transcript_delta", Text: "restart the api gateway"})
	if got := h.rec.State().Transcript; got != "restart the api gateway" {
		t.Fatalf("transcript = %q", got)
	}

	// The stop phrase match is case-insensitive.
	sess.serverFrame(t, protocol.TranscriptDelta{Type: "transcript_delta", Text: "Over And OUT"})
	h.waitStatus(t, StatusProcessing)
	if n := sess.countType(func(v any) bool { _, ok := v.(protocol.StreamEnd); return ok }); n != 1 {
		t.Fatalf("stream_end frames = %d, want 1", n)
	}

	sess.serverFrame(t, protocol.Corrected{Type: "corrected", Command: "restart api-gateway"})
	h.waitStatus(t, StatusCorrecting)
	if got := h.rec.State().CorrectedCommand; got != "restart api-gateway" {
		t.Fatalf("corrected = %q", got)
	}

	sess.serverFrame(t, protocol.CommandSent{Type: "command_sent"})
	h.waitStatus(t, StatusSent)

	// The hands-free revert: back to listening, never to idle.
	h.waitStatus(t, StatusListening)
	st := h.rec.State()
	if st.Transcript != "" || st.CorrectedCommand != "" {
		t.Fatalf("state after revert = %+v, want cleared transcript", st)
	}
}

func TestRecorder_StopUtteranceByHand(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)

	h.rec.StopUtterance()
	if got := h.rec.State().Status; got != StatusProcessing {
		t.Fatalf("status = %q, want processing", got)
	}
	sess := h.session(0)
	if n := sess.countType(func(v any) bool { _, ok := v.(protocol.StreamEnd); return ok }); n != 1 {
		t.Fatalf("stream_end frames = %d, want 1", n)
	}
}

func TestRecorder_StopFromAnyState(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)

	h.rec.Stop()
	if got := h.rec.State().Status; got != StatusIdle {
		t.Fatalf("status = %q, want idle", got)
	}
	if h.source.Running() {
		t.Fatal("capture still running after Stop")
	}
	sess := h.session(0)
	sess.mu.Lock()
	disconnected := sess.disconnected
	sess.mu.Unlock()
	if !disconnected {
		t.Fatal("session not closed by Stop")
	}

	// Stop while already idle is harmless.
	h.rec.Stop()
	if got := h.rec.State().Status; got != StatusIdle {
		t.Fatalf("status = %q, want idle", got)
	}
}

func TestRecorder_FramesDroppedOutsideListening(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)
	sess := h.session(0)

	h.rec.StopUtterance()
	h.source.Push(loudFrame())
	if n := sess.countType(func(v any) bool { _, ok := v.(protocol.AudioFrame); return ok }); n != 0 {
		t.Fatalf("audio frames while processing = %d, want 0", n)
	}
}

func TestRecorder_TransportErrorSurfacesAndStartRecovers(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)

	h.session(0).cfg.OnClose(core.CloseAbnormal)
	h.waitStatus(t, StatusError)
	var terr *core.TransportError
	if !errors.As(h.rec.State().Err, &terr) {
		t.Fatalf("Err = %v, want a transport error", h.rec.State().Err)
	}
	if h.source.Running() {
		t.Fatal("capture still running in error state")
	}

	// A fresh Start is the only recovery path, and it works.
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)
	if h.sessionCount() != 2 {
		t.Fatalf("sessions dialed = %d, want 2", h.sessionCount())
	}
}

func TestRecorder_ConnectFailureSurfaces(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		dial := cfg.Dial
		cfg.Dial = func(c channel.Config) Session {
			s := dial(c).(*fakeSession)
			s.connectErr = core.NewAuthenticationError("bad credential")
			return s
		}
	})
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusError)
}

func TestRecorder_ClearTranscriptBlockedMidPipeline(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)
	sess := h.session(0)

	sess.serverFrame(t, protocol.TranscriptDelta{Type: "transcript_delta", Text: "scale up workers"})
	h.rec.ClearTranscript()
	if got := h.rec.State().Transcript; got != "" {
		t.Fatalf("transcript = %q, want cleared while listening", got)
	}

	sess.serverFrame(t, protocol.TranscriptDelta{Type: "transcript_delta", Text: "scale up workers"})
	h.rec.StopUtterance()
	h.rec.ClearTranscript()
	if got := h.rec.State().Transcript; got == "" {
		t.Fatal("transcript cleared during processing")
	}
}

func TestRecorder_SetTargetTeamSwitchForcesStop(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)

	h.rec.SetTarget("team-2", "role-1")
	st := h.rec.State()
	if st.Status != StatusIdle {
		t.Fatalf("status = %q, want idle after a team switch mid-recording", st.Status)
	}
	if st.TeamID != "team-2" {
		t.Fatalf("team = %q, want team-2", st.TeamID)
	}
}

func TestRecorder_SetTargetRoleOnlyKeepsRecording(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)

	h.rec.SetTarget("team-1", "role-2")
	st := h.rec.State()
	if st.Status != StatusListening {
		t.Fatalf("status = %q, want listening after a role-only change", st.Status)
	}
	if st.RoleID != "role-2" {
		t.Fatalf("role = %q, want role-2", st.RoleID)
	}
}

func TestRecorder_SpeakingOverlayRestoresPriorState(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)

	h.rec.BeginFeedback("deploy finished")
	st := h.rec.State()
	if st.Status != StatusSpeaking || !st.IsPlayingFeedback || st.FeedbackSummary != "deploy finished" {
		t.Fatalf("overlay state = %+v", st)
	}

	h.rec.EndFeedback()
	st = h.rec.State()
	if st.Status != StatusListening || st.IsPlayingFeedback || st.FeedbackSummary != "" {
		t.Fatalf("state after overlay = %+v, want listening restored", st)
	}
}

func TestRecorder_PipelineAdvancesUnderSpeakingOverlay(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)
	sess := h.session(0)

	h.rec.StopUtterance()
	h.rec.BeginFeedback("deploy finished")
	if got := h.rec.State().Status; got != StatusSpeaking {
		t.Fatalf("status = %q, want speaking", got)
	}

	// Server frames arriving while feedback plays must still advance the
	// command pipeline behind the overlay.
	sess.serverFrame(t, protocol.Corrected{Type: "corrected", Command: "restart api-gateway"})
	sess.serverFrame(t, protocol.CommandSent{Type: "command_sent"})
	st := h.rec.State()
	if st.Status != StatusSpeaking {
		t.Fatalf("status = %q, want speaking while the overlay is up", st.Status)
	}
	if st.CorrectedCommand != "restart api-gateway" {
		t.Fatalf("corrected = %q, want the frame applied under the overlay", st.CorrectedCommand)
	}

	h.rec.EndFeedback()
	// The sent confirmation resumes where the pipeline left off, then the
	// hands-free revert brings the machine back to listening.
	h.waitStatus(t, StatusListening)
	st = h.rec.State()
	if st.Transcript != "" || st.CorrectedCommand != "" {
		t.Fatalf("state after revert = %+v, want cleared transcript", st)
	}
}

func TestRecorder_StopPhraseHeardUnderSpeakingOverlay(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)
	sess := h.session(0)

	h.rec.BeginFeedback("deploy finished")
	h.source.Push(loudFrame())
	if n := sess.countType(func(v any) bool { _, ok := v.(protocol.AudioFrame); return ok }); n != 1 {
		t.Fatalf("audio frames = %d, want 1: capture keeps streaming under the overlay", n)
	}

	sess.serverFrame(t, protocol.TranscriptDelta{Type: "transcript_delta", Text: "over and out"})
	if n := sess.countType(func(v any) bool { _, ok := v.(protocol.StreamEnd); return ok }); n != 1 {
		t.Fatalf("stream_end frames = %d, want 1: the stop phrase counts even mid-feedback", n)
	}

	h.rec.EndFeedback()
	if got := h.rec.State().Status; got != StatusProcessing {
		t.Fatalf("status = %q, want processing after the overlay lifts", got)
	}
}

func TestRecorder_StartDeclinedWhileBusy(t *testing.T) {
	h := newHarness(t, nil)
	h.rec.Start("team-1", "role-1")
	h.waitStatus(t, StatusListening)

	h.rec.Start("team-1", "role-1")
	if h.sessionCount() != 1 {
		t.Fatalf("sessions dialed = %d, want 1", h.sessionCount())
	}
}
