package audio

// Resample converts mono samples between rates with linear interpolation.
// Speech quality is adequate; no anti-alias filter is applied.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	n := len(samples) * toRate / fromRate
	if n == 0 {
		return []int16{}
	}
	out := make([]int16, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(a + frac*(b-a))
	}
	return out
}

// ResampleBytes resamples little-endian PCM16 bytes.
func ResampleBytes(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate {
		return pcm
	}
	return SamplesToBytes(Resample(BytesToSamples(pcm), fromRate, toRate))
}

// ResampleFloat resamples capture samples before PCM conversion.
func ResampleFloat(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	n := len(samples) * toRate / fromRate
	out := make([]float32, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + frac*(samples[idx+1]-samples[idx])
	}
	return out
}
