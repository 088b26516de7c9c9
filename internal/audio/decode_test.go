package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"strings"
	"testing"
)

// stereoFixture builds a 16-bit stereo WAV where the left channel is
// constant l and the right channel is constant r.
func stereoFixture(t *testing.T, sampleRate, frames int, l, r int16) []byte {
	t.Helper()
	samples := make([]int16, frames*2)
	for i := 0; i < frames; i++ {
		samples[i*2] = l
		samples[i*2+1] = r
	}
	data, err := encodePCM16(samples, sampleRate, 2)
	if err != nil {
		t.Fatalf("encodePCM16 failed: %v", err)
	}
	return data
}

func TestDetectFormat(t *testing.T) {
	wavBytes := []byte("RIFF\x00\x00\x00\x00WAVEfmt ")

	tests := []struct {
		name string
		data []byte
		mime string
		want string
	}{
		{"wav by mime", nil, "audio/wav", FormatWAV},
		{"wav by mime with params", nil, "audio/x-wav; codecs=1", FormatWAV},
		{"mp3 by mime", nil, "audio/mpeg", FormatMP3},
		{"wav by magic", wavBytes, "application/octet-stream", FormatWAV},
		{"mp3 by id3 magic", []byte("ID3\x04"), "", FormatMP3},
		{"mp3 by frame sync", []byte{0xFF, 0xFB, 0x90}, "", FormatMP3},
		{"ogg", []byte("OggS"), "audio/ogg", FormatOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.data, tt.mime); got != tt.want {
				t.Errorf("DetectFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDecoderWAV(t *testing.T) {
	data := stereoFixture(t, 44100, 441, 16384, -16384)

	pcm, err := NewFormatDecoder(nil).Decode(context.Background(), data, "audio/wav")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if pcm.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", pcm.SampleRate)
	}
	if len(pcm.Channels) != 2 {
		t.Fatalf("Expected 2 channels, got %d", len(pcm.Channels))
	}
	if pcm.Frames() != 441 {
		t.Errorf("Expected 441 frames, got %d", pcm.Frames())
	}
	if math.Abs(float64(pcm.Channels[0][10])-0.5) > 1e-6 {
		t.Errorf("Expected left sample 0.5, got %f", pcm.Channels[0][10])
	}
	if math.Abs(float64(pcm.Channels[1][10])+0.5) > 1e-6 {
		t.Errorf("Expected right sample -0.5, got %f", pcm.Channels[1][10])
	}
}

func TestFormatDecoderRejectsGarbage(t *testing.T) {
	_, err := NewFormatDecoder(nil).Decode(context.Background(), []byte("definitely not audio"), "audio/wav")

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
	if decErr.Format != FormatWAV {
		t.Errorf("Expected format %q, got %q", FormatWAV, decErr.Format)
	}
}

func TestFormatDecoderEmptyInput(t *testing.T) {
	_, err := NewFormatDecoder(nil).Decode(context.Background(), nil, "audio/wav")

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
}

func TestFormatDecoderUnsupportedWithoutFallback(t *testing.T) {
	_, err := NewFormatDecoder(nil).Decode(context.Background(), []byte("OggS...."), "audio/ogg")

	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat in chain, got %v", err)
	}
}

type stubDecoder struct {
	pcm   *PCM
	err   error
	calls int
}

func (s *stubDecoder) Decode(ctx context.Context, data []byte, mimeType string) (*PCM, error) {
	s.calls++
	return s.pcm, s.err
}

func TestFormatDecoderUsesFallback(t *testing.T) {
	fallback := &stubDecoder{pcm: &PCM{SampleRate: 48000, Channels: [][]float32{{0.1, 0.2}}}}

	pcm, err := NewFormatDecoder(fallback).Decode(context.Background(), []byte("OggS...."), "audio/ogg")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if fallback.calls != 1 {
		t.Errorf("Expected fallback to be called once, got %d", fallback.calls)
	}
	if pcm.SampleRate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", pcm.SampleRate)
	}
}

func TestFormatDecoderNoFrames(t *testing.T) {
	fallback := &stubDecoder{pcm: &PCM{SampleRate: 48000, Channels: [][]float32{{}}}}

	_, err := NewFormatDecoder(fallback).Decode(context.Background(), []byte("OggS...."), "audio/ogg")
	if !errors.Is(err, ErrNoAudio) {
		t.Errorf("Expected ErrNoAudio, got %v", err)
	}
}

type fakeRunner struct {
	results map[string]commandResult
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	return f.results[name], f.errs[name]
}

func newTestFFmpegDecoder(runner commandRunner) *FFmpegDecoder {
	d := NewFFmpegDecoder("ffmpeg", "ffprobe")
	d.runner = runner
	d.mkdirTemp = func(dir, pattern string) (string, error) { return os.TempDir(), nil }
	d.writeFile = func(name string, data []byte, perm os.FileMode) error { return nil }
	d.removeAll = func(path string) error { return nil }
	return d
}

func f32le(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestFFmpegDecoder(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]commandResult{
			"ffprobe": {Stdout: []byte(`{"streams":[{"sample_rate":"22050","channels":2}]}`)},
			"ffmpeg":  {Stdout: f32le(0.1, -0.1, 0.2, -0.2, 0.3, -0.3)},
		},
	}

	pcm, err := newTestFFmpegDecoder(runner).Decode(context.Background(), []byte("OggS"), "audio/ogg")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if pcm.SampleRate != 22050 {
		t.Errorf("Expected sample rate 22050, got %d", pcm.SampleRate)
	}
	if len(pcm.Channels) != 2 || pcm.Frames() != 3 {
		t.Fatalf("Expected 2x3 samples, got %dx%d", len(pcm.Channels), pcm.Frames())
	}
	if pcm.Channels[0][2] != 0.3 || pcm.Channels[1][2] != -0.3 {
		t.Errorf("Unexpected deinterleaved samples: %v", pcm.Channels)
	}
	if len(runner.calls) != 2 || !strings.HasPrefix(runner.calls[0], "ffprobe") {
		t.Errorf("Expected ffprobe then ffmpeg, got %v", runner.calls)
	}
	if !strings.Contains(runner.calls[1], "-f f32le") {
		t.Errorf("Expected f32le output format, got %q", runner.calls[1])
	}
}

func TestFFmpegDecoderProbeFailure(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]commandResult{"ffprobe": {ExitCode: 1, Stderr: "Invalid data found"}},
		errs:    map[string]error{"ffprobe": errors.New("exit status 1")},
	}

	_, err := newTestFFmpegDecoder(runner).Decode(context.Background(), []byte("junk"), "audio/ogg")
	if err == nil {
		t.Fatal("Expected error when ffprobe fails")
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Errorf("Expected stderr in error, got %v", err)
	}
}

func TestFFmpegDecoderNoStream(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]commandResult{"ffprobe": {Stdout: []byte(`{"streams":[]}`)}},
	}

	if _, err := newTestFFmpegDecoder(runner).Decode(context.Background(), []byte("junk"), "video/mp4"); err == nil {
		t.Fatal("Expected error when no audio stream is present")
	}
}
