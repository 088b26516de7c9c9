package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// PCM is decoded audio: one float sample slice per channel at SampleRate.
// Samples are nominally in [-1, 1].
type PCM struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames (samples per channel).
func (p *PCM) Frames() int {
	if p == nil || len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

// Duration returns the playback length.
func (p *PCM) Duration() time.Duration {
	if p == nil || p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(p.Frames()) / float64(p.SampleRate) * float64(time.Second))
}

// Decoder turns an encoded audio buffer into PCM.
type Decoder interface {
	Decode(ctx context.Context, data []byte, mimeType string) (*PCM, error)
}

// Format names used for dispatch and error reporting.
const (
	FormatWAV   = "wav"
	FormatMP3   = "mp3"
	FormatOther = "other"
)

// DetectFormat classifies input by declared mime type, falling back to magic bytes.
func DetectFormat(data []byte, mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return FormatWAV
	case "audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg-3":
		return FormatMP3
	}

	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatOther
}

// FormatDecoder dispatches to the WAV and MP3 decoders and, for everything
// else or for variants they cannot read, to an optional fallback decoder.
type FormatDecoder struct {
	fallback Decoder
}

// NewFormatDecoder creates a dispatcher. fallback may be nil.
func NewFormatDecoder(fallback Decoder) *FormatDecoder {
	return &FormatDecoder{fallback: fallback}
}

// Decode implements Decoder.
func (d *FormatDecoder) Decode(ctx context.Context, data []byte, mimeType string) (*PCM, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty input")}
	}

	format := DetectFormat(data, mimeType)

	var (
		pcm *PCM
		err error
	)
	switch format {
	case FormatWAV:
		pcm, err = decodeWAVFile(data)
	case FormatMP3:
		pcm, err = decodeMP3(data)
	default:
		err = ErrUnsupportedFormat
	}

	if errors.Is(err, ErrUnsupportedFormat) && d.fallback != nil {
		pcm, err = d.fallback.Decode(ctx, data, mimeType)
	}
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &DecodeError{Format: format, Err: err}
	}

	if pcm.Frames() == 0 {
		return nil, &DecodeError{Format: format, Err: ErrNoAudio}
	}
	if pcm.SampleRate <= 0 {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("invalid sample rate %d", pcm.SampleRate)}
	}

	return pcm, nil
}

// decodeWAVFile reads integer PCM WAV files of any channel count and bit depth.
// Non-PCM encodings (float, ADPCM, ...) report ErrUnsupportedFormat.
func decodeWAVFile(data []byte) (*PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("wav audio format %d: %w", dec.WavAudioFormat, ErrUnsupportedFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read PCM data: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, errors.New("missing format information")
	}

	bitDepth := int(dec.BitDepth)
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	return intBufferToPCM(buf, bitDepth)
}

func intBufferToPCM(buf *goaudio.IntBuffer, bitDepth int) (*PCM, error) {
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels

	// 8-bit WAV is unsigned, everything else is signed.
	var offset float64
	scale := float64(int64(1) << (bitDepth - 1))
	if bitDepth == 8 {
		offset = 128
	}

	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out[ch][i] = float32((float64(buf.Data[i*channels+ch]) - offset) / scale)
		}
	}

	return &PCM{SampleRate: buf.Format.SampleRate, Channels: out}, nil
}

// decodeMP3 decodes MPEG audio. go-mp3 always yields 16-bit stereo.
func decodeMP3(data []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open mp3 stream: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read mp3 frames: %w", err)
	}

	const bytesPerFrame = 4
	frames := len(raw) / bytesPerFrame
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(raw[i*4]) | uint16(raw[i*4+1])<<8)
		r := int16(uint16(raw[i*4+2]) | uint16(raw[i*4+3])<<8)
		left[i] = float32(l) / 32768
		right[i] = float32(r) / 32768
	}

	return &PCM{SampleRate: dec.SampleRate(), Channels: [][]float32{left, right}}, nil
}
