// Package protocol defines the wire frames exchanged on the feedback channel
// and on per-recording sessions. Frames are JSON text messages except the
// liveness probe, which is a bare sentinel string on both directions.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// PingSentinel is the outbound liveness probe. It is raw text, not JSON.
	PingSentinel = "ping"
	// PongSentinel is the probe reply. Channels recognize and swallow it
	// without forwarding to the frame handler.
	PongSentinel = "pong"
)

// DecodeError reports a malformed or unsupported inbound frame. Channels log
// it and discard the frame; it never terminates the connection.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// IsProbeReply reports whether a raw text frame is the liveness probe reply.
func IsProbeReply(data []byte) bool {
	return strings.TrimSpace(string(data)) == PongSentinel
}

// FeedbackEvent announces a completed action on some remote agent, with an
// optional spoken rendition of the summary and of the originating team name.
type FeedbackEvent struct {
	Type              string `json:"type"`
	Summary           string `json:"summary"`
	AudioB64          string `json:"audio"`
	TeamID            string `json:"team_id,omitempty"`
	RoleID            string `json:"role_id,omitempty"`
	TimestampMS       int64  `json:"timestamp,omitempty"`
	TeamNameFormatted string `json:"team_name_formatted,omitempty"`
	TeamNameAudioB64  string `json:"team_name_audio,omitempty"`
}

// ErrorEvent is a server-reported error on either channel.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DecodeFeedFrame decodes an inbound feedback-channel frame. The liveness
// reply must be filtered with IsProbeReply before calling this.
func DecodeFeedFrame(data []byte) (any, error) {
	typ, err := frameType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case "voice_feedback":
		var msg FeedbackEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid voice_feedback frame", "")
		}
		if strings.TrimSpace(msg.Summary) == "" {
			return nil, badFrame("voice_feedback.summary is required", "summary")
		}
		return msg, nil
	case "error":
		var msg ErrorEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported feedback frame type", "type")
	}
}

// StreamStart opens an utterance on a recording session and declares the
// capture format.
type StreamStart struct {
	Type         string `json:"type"`
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// AudioFrame carries one encoded capture buffer.
type AudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	DataB64 string `json:"data_b64"`
}

// StreamEnd finalizes the current utterance; the server replies with the
// corrected command and dispatch confirmation.
type StreamEnd struct {
	Type string `json:"type"`
}

// NewStreamStart builds a stream_start frame for s16le capture.
func NewStreamStart(sampleRateHz, channels int) StreamStart {
	return StreamStart{
		Type:         "stream_start",
		Encoding:     "pcm_s16le",
		SampleRateHz: sampleRateHz,
		Channels:     channels,
	}
}

// NewAudioFrame builds an audio_frame around already-encoded sample data.
func NewAudioFrame(seq int64, dataB64 string) AudioFrame {
	return AudioFrame{Type: "audio_frame", Seq: seq, DataB64: dataB64}
}

// NewStreamEnd builds a stream_end frame.
func NewStreamEnd() StreamEnd {
	return StreamEnd{Type: "stream_end"}
}

// TranscriptDelta is a streamed recognition result for the open utterance.
type TranscriptDelta struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final,omitempty"`
}

// Corrected carries the server-corrected command text.
type Corrected struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// CommandSent confirms the corrected command was dispatched to the target,
// optionally flagged as routed to an alternate destination.
type CommandSent struct {
	Type     string `json:"type"`
	RoutedTo string `json:"routed_to,omitempty"`
}

// DecodeRecordingFrame decodes an inbound recording-session frame.
func DecodeRecordingFrame(data []byte) (any, error) {
	typ, err := frameType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case "transcript_delta":
		var msg TranscriptDelta
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid transcript_delta frame", "")
		}
		return msg, nil
	case "corrected":
		var msg Corrected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid corrected frame", "")
		}
		if strings.TrimSpace(msg.Command) == "" {
			return nil, badFrame("corrected.command is required", "command")
		}
		return msg, nil
	case "command_sent":
		var msg CommandSent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid command_sent frame", "")
		}
		return msg, nil
	case "error":
		var msg ErrorEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported recording frame type", "type")
	}
}

func frameType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return "", badFrame("missing type", "type")
	}
	return typ, nil
}
