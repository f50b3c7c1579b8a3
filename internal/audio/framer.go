package audio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"yuzu/interviewer/internal/protocol"
)

// Framer slices a continuous sample stream into fixed-size frames at the
// target rate, tagging each with an increasing sequence number.
type Framer struct {
	sourceRate int
	targetRate int
	size       int
	seq        uint64
	pending    []int16
}

func NewFramer(sourceRate, targetRate, frameMs int) *Framer {
	if frameMs <= 0 {
		frameMs = 20
	}
	return &Framer{
		sourceRate: sourceRate,
		targetRate: targetRate,
		size:       targetRate * frameMs / 1000,
	}
}

// FrameSamples is the number of samples in each emitted frame.
func (f *Framer) FrameSamples() int { return f.size }

// Write accepts raw capture samples and returns every complete frame.
func (f *Framer) Write(samples []float32) []protocol.Frame {
	pcm := FloatToPCM16(ResampleFloat(samples, f.sourceRate, f.targetRate))
	return f.WritePCM(pcm)
}

// WritePCM accepts samples already at the target rate.
func (f *Framer) WritePCM(pcm []int16) []protocol.Frame {
	f.pending = append(f.pending, pcm...)
	var out []protocol.Frame
	for len(f.pending) >= f.size && f.size > 0 {
		out = append(out, f.frame(f.pending[:f.size]))
		f.pending = f.pending[f.size:]
	}
	return out
}

// Flush pads any remainder with silence and returns it as a final frame.
func (f *Framer) Flush() (protocol.Frame, bool) {
	if len(f.pending) == 0 {
		return protocol.Frame{}, false
	}
	buf := make([]int16, f.size)
	copy(buf, f.pending)
	f.pending = nil
	return f.frame(buf), true
}

func (f *Framer) frame(s []int16) protocol.Frame {
	f.seq++
	return protocol.Frame{Seq: f.seq, SampleRate: f.targetRate, PCM: SamplesToBytes(s)}
}

// Capture is a microphone or any other source of mono float samples.
// Read returns io.EOF when the source is exhausted.
type Capture interface {
	Read(ctx context.Context) ([]float32, error)
	SampleRate() int
}

// FrameSource pumps a Capture through a Framer.
type FrameSource struct {
	capture Capture
	framer  *Framer
}

func NewFrameSource(c Capture, targetRate, frameMs int) *FrameSource {
	return &FrameSource{capture: c, framer: NewFramer(c.SampleRate(), targetRate, frameMs)}
}

// Run delivers frames to emit until the capture ends or ctx is cancelled.
func (s *FrameSource) Run(ctx context.Context, emit func(protocol.Frame) error) error {
	for {
		samples, err := s.capture.Read(ctx)
		if len(samples) > 0 {
			for _, fr := range s.framer.Write(samples) {
				if err := emit(fr); err != nil {
					return err
				}
			}
		}
		if errors.Is(err, io.EOF) {
			if fr, ok := s.framer.Flush(); ok {
				return emit(fr)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
	}
}
