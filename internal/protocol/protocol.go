// Package protocol defines the messages exchanged on a voice session socket:
// inbound PCM frames and control signals, outbound turn events.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ControlSignal is an out-of-band instruction from the client.
type ControlSignal string

const (
	SignalCommit        ControlSignal = "commit"
	SignalInterrupt     ControlSignal = "interrupt"
	SignalEnd           ControlSignal = "end"
	SignalPlaybackEnded ControlSignal = "playback_ended"

	// Mute and unmute are client UI gestures; the transport maps them onto
	// commit and interrupt before they reach the turn controller.
	SignalMute   ControlSignal = "mute"
	SignalUnmute ControlSignal = "unmute"
)

// Outbound event types.
const (
	EventPartial    = "partial"
	EventTranscript = "transcript"
	EventAudio      = "audio"
	EventText       = "text"
	EventInterrupt  = "interrupt"
	EventError      = "error"
)

// Frame is a fixed-length block of little-endian signed 16-bit mono PCM.
type Frame struct {
	Seq        uint64
	SampleRate int
	PCM        []byte
}

// Samples returns the number of 16-bit samples in the frame.
func (f Frame) Samples() int { return len(f.PCM) / 2 }

// Segment is a piece of recognized speech.
type Segment struct {
	Text    string
	IsFinal bool
	TurnID  int64
}

// AudioChunk is a unit of synthesized speech.
type AudioChunk struct {
	ID       string
	Payload  []byte
	MimeType string
	Text     string
	TurnID   int64
}

// Event is the JSON envelope written to the client.
type Event struct {
	Type     string `json:"type"`
	TurnID   int64  `json:"turn_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Audio    string `json:"audio,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

func Partial(turn int64, text string) Event {
	return Event{Type: EventPartial, TurnID: turn, Text: text}
}

func Transcript(turn int64, text string) Event {
	return Event{Type: EventTranscript, TurnID: turn, Text: text}
}

func Text(turn int64, text string) Event {
	return Event{Type: EventText, TurnID: turn, Text: text}
}

func Interrupt(turn int64) Event {
	return Event{Type: EventInterrupt, TurnID: turn}
}

func Error(code, msg string) Event {
	return Event{Type: EventError, Code: code, Message: msg}
}

// Audio wraps a chunk as an outbound audio event with a base64 payload.
func Audio(c AudioChunk) Event {
	return Event{
		Type:     EventAudio,
		TurnID:   c.TurnID,
		Text:     c.Text,
		Audio:    base64.StdEncoding.EncodeToString(c.Payload),
		MimeType: c.MimeType,
	}
}

// Chunk decodes an outbound audio event back into a chunk.
func (e Event) Chunk() (AudioChunk, error) {
	if e.Type != EventAudio {
		return AudioChunk{}, fmt.Errorf("event %q carries no audio", e.Type)
	}
	b, err := base64.StdEncoding.DecodeString(e.Audio)
	if err != nil {
		return AudioChunk{}, fmt.Errorf("decode audio: %w", err)
	}
	return AudioChunk{Payload: b, MimeType: e.MimeType, Text: e.Text, TurnID: e.TurnID}, nil
}

// DecodeError reports an inbound message that could not be understood.
type DecodeError struct {
	Reason string
	Raw    string
}

func (e *DecodeError) Error() string {
	if e.Raw == "" {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %q", e.Reason, e.Raw)
}

type controlMessage struct {
	Type string `json:"type"`
}

// DecodeControl parses a JSON text message such as {"type":"commit"}.
func DecodeControl(data []byte) (ControlSignal, error) {
	var m controlMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", &DecodeError{Reason: "invalid json", Raw: clip(data)}
	}
	sig := ControlSignal(strings.ToLower(strings.TrimSpace(m.Type)))
	switch sig {
	case SignalCommit, SignalInterrupt, SignalEnd, SignalPlaybackEnded, SignalMute, SignalUnmute:
		return sig, nil
	case "":
		return "", &DecodeError{Reason: "missing type", Raw: clip(data)}
	default:
		return "", &DecodeError{Reason: "unknown control " + string(sig)}
	}
}

// EncodeControl is the client-side counterpart of DecodeControl.
func EncodeControl(sig ControlSignal) []byte {
	b, _ := json.Marshal(controlMessage{Type: string(sig)})
	return b
}

// DecodeBase64PCM accepts the legacy text form of an audio frame.
func DecodeBase64PCM(data []byte) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64 audio"}
	}
	if len(pcm)%2 != 0 {
		return nil, &DecodeError{Reason: "odd pcm16 length"}
	}
	return pcm, nil
}

// LooksLikeJSON reports whether a text message should be parsed as a control.
func LooksLikeJSON(data []byte) bool {
	s := strings.TrimSpace(string(data))
	return strings.HasPrefix(s, "{")
}

func clip(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
