// Package settings persists the operator's local preferences: feedback output
// mode, the stop phrase, and speech rate. It is a plain get/set key-value
// surface over one JSON file; durability is the file system's problem.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// OutputMode selects what plays automatically when feedback arrives.
type OutputMode string

const (
	ModeVoice    OutputMode = "voice"
	ModeOff      OutputMode = "off"
	ModeTone     OutputMode = "tone"
	ModeTeamName OutputMode = "team_name"
)

// NextMode advances the 4-way cycle: voice -> off -> tone -> team_name -> voice.
func NextMode(m OutputMode) OutputMode {
	switch m {
	case ModeVoice:
		return ModeOff
	case ModeOff:
		return ModeTone
	case ModeTone:
		return ModeTeamName
	default:
		return ModeVoice
	}
}

// Valid reports whether m is one of the four known modes.
func (m OutputMode) Valid() bool {
	switch m {
	case ModeVoice, ModeOff, ModeTone, ModeTeamName:
		return true
	}
	return false
}

const (
	DefaultStopPhrase = "over and out"
	DefaultSpeechRate = 1.0
)

type values struct {
	OutputMode OutputMode `json:"output_mode"`
	StopPhrase string     `json:"stop_phrase"`
	SpeechRate float64    `json:"speech_rate"`
}

// Store is a concurrency-safe settings store backed by one JSON file. Values
// are read at startup and written through on every change.
type Store struct {
	path string

	mu sync.Mutex
	v  values
}

// Open loads settings from path, creating defaults if the file is missing or
// unreadable. A corrupt file is replaced by defaults rather than failing the
// caller.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		v: values{
			OutputMode: ModeVoice,
			StopPhrase: DefaultStopPhrase,
			SpeechRate: DefaultSpeechRate,
		},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var loaded values
	if err := json.Unmarshal(data, &loaded); err == nil {
		if loaded.OutputMode.Valid() {
			s.v.OutputMode = loaded.OutputMode
		}
		if strings.TrimSpace(loaded.StopPhrase) != "" {
			s.v.StopPhrase = loaded.StopPhrase
		}
		if loaded.SpeechRate > 0 {
			s.v.SpeechRate = loaded.SpeechRate
		}
	}
	return s, nil
}

// DefaultPath returns the per-user settings file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "opsvox", "settings.json"), nil
}

// OutputMode returns the current output mode.
func (s *Store) OutputMode() OutputMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.OutputMode
}

// SetOutputMode persists a new output mode. Invalid modes are ignored.
func (s *Store) SetOutputMode(m OutputMode) error {
	if !m.Valid() {
		return nil
	}
	s.mu.Lock()
	s.v.OutputMode = m
	err := s.flushLocked()
	s.mu.Unlock()
	return err
}

// StopPhrase returns the configured stop phrase.
func (s *Store) StopPhrase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.StopPhrase
}

// SetStopPhrase persists a new stop phrase; empty input restores the default.
func (s *Store) SetStopPhrase(phrase string) error {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		phrase = DefaultStopPhrase
	}
	s.mu.Lock()
	s.v.StopPhrase = phrase
	err := s.flushLocked()
	s.mu.Unlock()
	return err
}

// SpeechRate returns the configured playback speech rate.
func (s *Store) SpeechRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.SpeechRate
}

// SetSpeechRate persists a new speech rate; non-positive rates are ignored.
func (s *Store) SetSpeechRate(rate float64) error {
	if rate <= 0 {
		return nil
	}
	s.mu.Lock()
	s.v.SpeechRate = rate
	err := s.flushLocked()
	s.mu.Unlock()
	return err
}

func (s *Store) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
