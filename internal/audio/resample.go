package audio

import (
	"fmt"
	"math"
)

// TargetSampleRate is the fixed output rate of the transcription profile.
const TargetSampleRate = 8000

// ChannelMode selects how multi-channel input is reduced to mono.
type ChannelMode string

const (
	// ChannelModeAverage mixes all channels with equal weight.
	ChannelModeAverage ChannelMode = "average"
	// ChannelModeFirst keeps channel 0 and drops the rest.
	ChannelModeFirst ChannelMode = "first"
)

// Valid reports whether m is a known mode.
func (m ChannelMode) Valid() bool {
	return m == ChannelModeAverage || m == ChannelModeFirst
}

// OutputLength returns ceil(frames * dstRate / srcRate), the number of samples
// needed to cover the source duration at dstRate.
func OutputLength(frames, srcRate, dstRate int) int {
	if frames <= 0 || srcRate <= 0 || dstRate <= 0 {
		return 0
	}
	num := int64(frames) * int64(dstRate)
	return int((num + int64(srcRate) - 1) / int64(srcRate))
}

// Mixdown reduces pcm to a single channel.
func Mixdown(pcm *PCM, mode ChannelMode) []float32 {
	if pcm == nil || len(pcm.Channels) == 0 {
		return nil
	}
	if len(pcm.Channels) == 1 || mode == ChannelModeFirst {
		out := make([]float32, len(pcm.Channels[0]))
		copy(out, pcm.Channels[0])
		return out
	}

	frames := pcm.Frames()
	out := make([]float32, frames)
	weight := 1 / float64(len(pcm.Channels))
	for i := 0; i < frames; i++ {
		var sum float64
		for _, ch := range pcm.Channels {
			if i < len(ch) {
				sum += float64(ch[i])
			}
		}
		out[i] = float32(sum * weight)
	}
	return out
}

// Resample mixes pcm down to mono and renders exactly
// OutputLength(frames, pcm.SampleRate, dstRate) samples.
func Resample(pcm *PCM, dstRate int, mode ChannelMode) ([]float32, error) {
	if pcm == nil || pcm.Frames() == 0 {
		return nil, ErrNoAudio
	}
	if pcm.SampleRate <= 0 {
		return nil, fmt.Errorf("source sample rate must be positive, got %d", pcm.SampleRate)
	}
	if dstRate <= 0 {
		return nil, fmt.Errorf("target sample rate must be positive, got %d", dstRate)
	}

	mono := Mixdown(pcm, mode)
	n := OutputLength(len(mono), pcm.SampleRate, dstRate)
	if pcm.SampleRate == dstRate {
		return mono[:n], nil
	}

	step := float64(pcm.SampleRate) / float64(dstRate)
	if step > 1 {
		mono = boxFilter(mono, int(math.Ceil(step)))
	}

	return interpolate(mono, n, step), nil
}

// interpolate renders n samples by linear interpolation at positions i*step.
// Positions past the last source sample hold the final value.
func interpolate(src []float32, n int, step float64) []float32 {
	out := make([]float32, n)
	last := len(src) - 1
	for i := 0; i < n; i++ {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = src[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = float32(float64(src[j])*(1-frac) + float64(src[j+1])*frac)
	}
	return out
}

// boxFilter is a centered moving average over width samples. It removes most
// content above the target Nyquist frequency before decimation. Edges average
// over the samples that exist.
func boxFilter(src []float32, width int) []float32 {
	if width <= 1 || len(src) == 0 {
		return src
	}

	prefix := make([]float64, len(src)+1)
	for i, s := range src {
		prefix[i+1] = prefix[i] + float64(s)
	}

	half := width / 2
	out := make([]float32, len(src))
	for i := range src {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := lo + width
		if hi > len(src) {
			hi = len(src)
		}
		out[i] = float32((prefix[hi] - prefix[lo]) / float64(hi-lo))
	}
	return out
}
