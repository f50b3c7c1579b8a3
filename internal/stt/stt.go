// Package stt streams session audio to a speech recognizer and surfaces
// partial and final transcript segments.
package stt

import (
	"context"
	"errors"

	"yuzu/interviewer/internal/protocol"
)

var ErrClosed = errors.New("stt: stream closed")

type StreamConfig struct {
	SessionID  string
	SampleRate int
}

// Provider opens one recognition stream per voice session.
type Provider interface {
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream is a live recognition session. Segments is closed when the stream
// ends; Err then reports why (nil after Close).
type Stream interface {
	SendAudio(pcm []byte) error
	// Commit asks the recognizer to finalize whatever it has buffered.
	Commit() error
	Segments() <-chan protocol.Segment
	Err() error
	Close() error
}
