package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// FFmpegDecoder decodes any container ffmpeg understands. ffprobe reports the
// native sample rate and channel count, ffmpeg then emits interleaved float32
// samples at that rate so resampling stays in Go.
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	writeFile   func(name string, data []byte, perm os.FileMode) error
	removeAll   func(path string) error
}

// NewFFmpegDecoder constructs the production decoder with OS dependencies.
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		writeFile:   os.WriteFile,
		removeAll:   os.RemoveAll,
	}
}

// probeOutput mirrors the subset of `ffprobe -of json` used here.
type probeOutput struct {
	Streams []struct {
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Decode implements Decoder.
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte, mimeType string) (*PCM, error) {
	tempDir, err := d.mkdirTemp("", "transcriber-decode-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer d.removeAll(tempDir)

	inputPath := filepath.Join(tempDir, "input"+extensionForMime(mimeType))
	if err := d.writeFile(inputPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp input: %w", err)
	}

	rate, channels, err := d.probe(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	res, err := d.runner.Run(ctx, d.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"pipe:1",
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg exited with %d: %s: %w", res.ExitCode, strings.TrimSpace(res.Stderr), err)
	}

	return deinterleaveF32LE(res.Stdout, rate, channels)
}

func (d *FFmpegDecoder) probe(ctx context.Context, inputPath string) (int, int, error) {
	res, err := d.runner.Run(ctx, d.ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate,channels",
		"-of", "json",
		inputPath,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe exited with %d: %s: %w", res.ExitCode, strings.TrimSpace(res.Stderr), err)
	}

	var out probeOutput
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return 0, 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return 0, 0, errors.New("no audio stream found")
	}

	rate, err := strconv.Atoi(out.Streams[0].SampleRate)
	if err != nil || rate <= 0 {
		return 0, 0, fmt.Errorf("invalid sample rate %q", out.Streams[0].SampleRate)
	}
	channels := out.Streams[0].Channels
	if channels <= 0 {
		return 0, 0, fmt.Errorf("invalid channel count %d", channels)
	}
	return rate, channels, nil
}

func deinterleaveF32LE(raw []byte, sampleRate, channels int) (*PCM, error) {
	frameSize := 4 * channels
	frames := len(raw) / frameSize

	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := i*frameSize + ch*4
			out[ch][i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
		}
	}

	return &PCM{SampleRate: sampleRate, Channels: out}, nil
}

// extensionForMime gives ffmpeg a filename hint; it probes content regardless.
func extensionForMime(mimeType string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "mp4"), strings.Contains(mt, "m4a"), strings.Contains(mt, "aac"):
		return ".m4a"
	case strings.Contains(mt, "ogg"), strings.Contains(mt, "opus"):
		return ".ogg"
	case strings.Contains(mt, "flac"):
		return ".flac"
	case strings.Contains(mt, "webm"):
		return ".webm"
	case strings.Contains(mt, "wav"):
		return ".wav"
	case strings.Contains(mt, "mpeg"), strings.Contains(mt, "mp3"):
		return ".mp3"
	default:
		return ".bin"
	}
}
