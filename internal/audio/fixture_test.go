package audio

import "fmt"

// encodePCM16 wraps interleaved 16-bit samples in a standard WAV container
// (RIFF size field = 36 + data bytes).
func encodePCM16(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}

	dataSize := uint32(len(samples) * 2)
	return writePCM16(samples, sampleRate, channels, 36+dataSize)
}
