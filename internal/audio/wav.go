package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// WAV is decoded 16-bit PCM, downmixed to mono.
type WAV struct {
	SampleRate int
	PCM        []byte
}

// ReadWAV parses a RIFF/WAVE body holding 16-bit integer PCM. Stereo input
// is averaged to mono.
func ReadWAV(r io.Reader) (WAV, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return WAV{}, err
	}
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WAV{}, fmt.Errorf("not a WAV")
	}
	off := 12
	var dataOff, dataLen int
	var channels uint16
	var rate uint32
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		switch id {
		case "fmt ":
			if size < 16 || off+size > len(b) {
				return WAV{}, fmt.Errorf("bad fmt chunk")
			}
			tag := binary.LittleEndian.Uint16(b[off:])
			channels = binary.LittleEndian.Uint16(b[off+2:])
			rate = binary.LittleEndian.Uint32(b[off+4:])
			bits := binary.LittleEndian.Uint16(b[off+14:])
			if tag != 1 || bits != 16 {
				return WAV{}, fmt.Errorf("unsupported WAV format tag=%d bits=%d", tag, bits)
			}
		case "data":
			dataOff, dataLen = off, size
		}
		if dataOff > 0 {
			break
		}
		off += size + size%2
	}
	if rate == 0 {
		return WAV{}, fmt.Errorf("no fmt chunk")
	}
	if dataOff <= 0 || dataOff+dataLen > len(b) {
		return WAV{}, fmt.Errorf("no data chunk")
	}
	raw := b[dataOff : dataOff+dataLen]
	if channels == 2 {
		out := make([]byte, len(raw)/2)
		for i := 0; i+3 < len(raw); i += 4 {
			l := int32(int16(binary.LittleEndian.Uint16(raw[i:])))
			r := int32(int16(binary.LittleEndian.Uint16(raw[i+2:])))
			binary.LittleEndian.PutUint16(out[i/2:], uint16(int16((l+r)/2)))
		}
		raw = out
	}
	return WAV{SampleRate: int(rate), PCM: raw}, nil
}

// WAVCapture replays a decoded WAV as if it were a live microphone.
type WAVCapture struct {
	samples  []int16
	rate     int
	chunk    int
	pos      int
	realtime bool
}

// NewWAVCapture yields chunkMs of audio per Read; with realtime set each
// Read waits for the chunk's duration.
func NewWAVCapture(w WAV, chunkMs int, realtime bool) *WAVCapture {
	if chunkMs <= 0 {
		chunkMs = 20
	}
	return &WAVCapture{
		samples:  BytesToSamples(w.PCM),
		rate:     w.SampleRate,
		chunk:    w.SampleRate * chunkMs / 1000,
		realtime: realtime,
	}
}

func (c *WAVCapture) SampleRate() int { return c.rate }

func (c *WAVCapture) Read(ctx context.Context) ([]float32, error) {
	if c.pos >= len(c.samples) {
		return nil, io.EOF
	}
	end := c.pos + c.chunk
	if end > len(c.samples) {
		end = len(c.samples)
	}
	out := make([]float32, end-c.pos)
	for i, s := range c.samples[c.pos:end] {
		out[i] = float32(s) / 32768
	}
	c.pos = end
	if c.realtime {
		d := time.Duration(len(out)) * time.Second / time.Duration(c.rate)
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return out, nil
}
