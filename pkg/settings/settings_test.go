package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_MissingFileUsesDefaults(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.OutputMode() != ModeVoice {
		t.Fatalf("OutputMode() = %q, want voice", s.OutputMode())
	}
	if s.StopPhrase() != DefaultStopPhrase {
		t.Fatalf("StopPhrase() = %q", s.StopPhrase())
	}
	if s.SpeechRate() != DefaultSpeechRate {
		t.Fatalf("SpeechRate() = %v", s.SpeechRate())
	}
}

func TestStore_WritesThroughAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.SetOutputMode(ModeTone); err != nil {
		t.Fatalf("SetOutputMode() error = %v", err)
	}
	if err := s.SetStopPhrase("that is all"); err != nil {
		t.Fatalf("SetStopPhrase() error = %v", err)
	}
	if err := s.SetSpeechRate(1.25); err != nil {
		t.Fatalf("SetSpeechRate() error = %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("Open() reload error = %v", err)
	}
	if reloaded.OutputMode() != ModeTone {
		t.Fatalf("reloaded mode = %q", reloaded.OutputMode())
	}
	if reloaded.StopPhrase() != "that is all" {
		t.Fatalf("reloaded stop phrase = %q", reloaded.StopPhrase())
	}
	if reloaded.SpeechRate() != 1.25 {
		t.Fatalf("reloaded speech rate = %v", reloaded.SpeechRate())
	}
}

func TestOpen_CorruptFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.OutputMode() != ModeVoice {
		t.Fatalf("OutputMode() = %q, want default", s.OutputMode())
	}
}

func TestNextMode_Cycle(t *testing.T) {
	order := []OutputMode{ModeVoice, ModeOff, ModeTone, ModeTeamName, ModeVoice}
	for i := 0; i+1 < len(order); i++ {
		if got := NextMode(order[i]); got != order[i+1] {
			t.Fatalf("NextMode(%q) = %q, want %q", order[i], got, order[i+1])
		}
	}
}

func TestStore_IgnoresInvalidValues(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.SetOutputMode(OutputMode("loudspeaker")); err != nil {
		t.Fatalf("SetOutputMode() error = %v", err)
	}
	if s.OutputMode() != ModeVoice {
		t.Fatalf("invalid mode should be ignored, got %q", s.OutputMode())
	}
	if err := s.SetSpeechRate(-2); err != nil {
		t.Fatalf("SetSpeechRate() error = %v", err)
	}
	if s.SpeechRate() != DefaultSpeechRate {
		t.Fatalf("negative rate should be ignored, got %v", s.SpeechRate())
	}
}
