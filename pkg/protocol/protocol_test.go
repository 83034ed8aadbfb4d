package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeFeedFrame_VoiceFeedback(t *testing.T) {
	raw := []byte(`{
		"type":"voice_feedback",
		"summary":"deploy finished on staging",
		"audio":"AAAA",
		"team_id":"team-1",
		"role_id":"role-2",
		"timestamp":1724770000000,
		"team_name_formatted":"Team One",
		"team_name_audio":"BBBB"
	}`)

	msg, err := DecodeFeedFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFeedFrame() error = %v", err)
	}
	event, ok := msg.(FeedbackEvent)
	if !ok {
		t.Fatalf("decoded type = %T, want FeedbackEvent", msg)
	}
	if event.Summary != "deploy finished on staging" {
		t.Fatalf("summary=%q", event.Summary)
	}
	if event.TimestampMS != 1724770000000 {
		t.Fatalf("timestamp=%d", event.TimestampMS)
	}
	if event.TeamNameAudioB64 != "BBBB" {
		t.Fatalf("team_name_audio=%q", event.TeamNameAudioB64)
	}
}

func TestDecodeFeedFrame_MissingSummary(t *testing.T) {
	_, err := DecodeFeedFrame([]byte(`{"type":"voice_feedback","audio":"AAAA"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T, want *DecodeError", err)
	}
	if decErr.Param != "summary" {
		t.Fatalf("param=%q", decErr.Param)
	}
}

func TestDecodeFeedFrame_Error(t *testing.T) {
	msg, err := DecodeFeedFrame([]byte(`{"type":"error","message":"subscription expired"}`))
	if err != nil {
		t.Fatalf("DecodeFeedFrame() error = %v", err)
	}
	event := msg.(ErrorEvent)
	if event.Message != "subscription expired" {
		t.Fatalf("message=%q", event.Message)
	}
}

func TestDecodeFeedFrame_MalformedJSON(t *testing.T) {
	_, err := DecodeFeedFrame([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*DecodeError); !ok {
		t.Fatalf("err type = %T, want *DecodeError", err)
	}
}

func TestDecodeFeedFrame_UnsupportedType(t *testing.T) {
	_, err := DecodeFeedFrame([]byte(`{"type":"mystery"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr := err.(*DecodeError)
	if decErr.Code != "unsupported" {
		t.Fatalf("code=%q", decErr.Code)
	}
}

func TestIsProbeReply(t *testing.T) {
	if !IsProbeReply([]byte("pong")) {
		t.Fatal("bare pong should be recognized")
	}
	if !IsProbeReply([]byte(" pong\n")) {
		t.Fatal("whitespace around the sentinel should be tolerated")
	}
	if IsProbeReply([]byte(`{"type":"pong"}`)) {
		t.Fatal("JSON frames are not probe replies")
	}
}

func TestDecodeRecordingFrame_TranscriptDelta(t *testing.T) {
	msg, err := DecodeRecordingFrame([]byte(`{"type":"transcript_delta","text":"restart the worker","is_final":false}`))
	if err != nil {
		t.Fatalf("DecodeRecordingFrame() error = %v", err)
	}
	delta := msg.(TranscriptDelta)
	if delta.Text != "restart the worker" {
		t.Fatalf("text=%q", delta.Text)
	}
}

func TestDecodeRecordingFrame_CorrectedRequiresCommand(t *testing.T) {
	if _, err := DecodeRecordingFrame([]byte(`{"type":"corrected"}`)); err == nil {
		t.Fatal("expected error")
	}
	msg, err := DecodeRecordingFrame([]byte(`{"type":"corrected","command":"restart worker-3"}`))
	if err != nil {
		t.Fatalf("DecodeRecordingFrame() error = %v", err)
	}
	if msg.(Corrected).Command != "restart worker-3" {
		t.Fatalf("command=%q", msg.(Corrected).Command)
	}
}

func TestDecodeRecordingFrame_CommandSentRoutedTo(t *testing.T) {
	msg, err := DecodeRecordingFrame([]byte(`{"type":"command_sent","routed_to":"fallback-queue"}`))
	if err != nil {
		t.Fatalf("DecodeRecordingFrame() error = %v", err)
	}
	if msg.(CommandSent).RoutedTo != "fallback-queue" {
		t.Fatalf("routed_to=%q", msg.(CommandSent).RoutedTo)
	}
}

func TestOutboundFrames_Marshal(t *testing.T) {
	start := NewStreamStart(16000, 1)
	data, err := json.Marshal(start)
	if err != nil {
		t.Fatalf("marshal stream_start: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal stream_start: %v", err)
	}
	if decoded["type"] != "stream_start" || decoded["encoding"] != "pcm_s16le" {
		t.Fatalf("stream_start=%v", decoded)
	}

	frame := NewAudioFrame(7, "QUJD")
	if frame.Type != "audio_frame" || frame.Seq != 7 {
		t.Fatalf("audio_frame=%+v", frame)
	}
	if NewStreamEnd().Type != "stream_end" {
		t.Fatal("stream_end type")
	}
}
