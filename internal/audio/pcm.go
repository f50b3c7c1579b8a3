// Package audio turns raw capture samples into fixed-size PCM16 frames.
package audio

import "math"

// BytesToSamples converts little-endian PCM16 bytes to samples.
func BytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

// SamplesToBytes converts samples to little-endian PCM16 bytes.
func SamplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// FloatToPCM16 converts capture samples in [-1, 1] to signed 16-bit,
// clamping out-of-range input.
func FloatToPCM16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, f := range in {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		if f < 0 {
			out[i] = int16(f * 0x8000)
		} else {
			out[i] = int16(f * 0x7FFF)
		}
	}
	return out
}

// RMS computes the root mean square of little-endian PCM16 audio.
func RMS(b []byte) float64 {
	if len(b) < 2 {
		return 0
	}
	var sum float64
	n := len(b) / 2
	for i := 0; i < n; i++ {
		sample := int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(n))
}
