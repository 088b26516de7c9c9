package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/audio"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/config"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/progress"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/task"
)

var compressOut string

var compressCmd = &cobra.Command{
	Use:   "compress FILE",
	Short: "Convert audio to 8 kHz mono 16-bit WAV",
	Long: `Runs only the compression stage and writes the WAV that would be sent
for transcription, then prints its sample count, duration and peak level.

Examples:
  transcriber compress interview.mp3
  transcriber compress --out small.wav interview.m4a`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			printError("failed to load configuration", err)
			return err
		}
		if !verbose {
			cfg.Logging.Level = "warn"
			cfg.Logging.Output = "stderr"
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		out := compressOut
		if out == "" {
			out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".8k.wav"
		}

		stats, err := runCompress(ctx, cfg, initLogger(cfg.Logging), args[0], out, os.Stderr)
		if err != nil {
			printError("compression failed", err)
			return err
		}
		fmt.Printf("%s -> %s\n", args[0], out)
		fmt.Printf("  %s\n", stats)
		return nil
	},
}

func init() {
	compressCmd.Flags().StringVarP(&compressOut, "out", "o", "", "output file (default: <input>.8k.wav)")
	rootCmd.AddCommand(compressCmd)
}

// wavStats describes a compressed WAV.
type wavStats struct {
	Samples    int
	SampleRate int
	Duration   time.Duration
	Peak       float64 // 0..1 of full scale
	InputSize  int64
	OutputSize int
}

func (s wavStats) String() string {
	ratio := 0.0
	if s.InputSize > 0 {
		ratio = float64(s.OutputSize) / float64(s.InputSize) * 100
	}
	return fmt.Sprintf("%d samples at %d Hz, %s, peak %.1f%%, %d -> %d bytes (%.1f%%)",
		s.Samples, s.SampleRate, s.Duration.Round(time.Millisecond), s.Peak*100,
		s.InputSize, s.OutputSize, ratio)
}

// runCompress compresses path into out and reports the result. Progress
// lines go to progressOut when it is non-nil.
func runCompress(ctx context.Context, cfg *config.Config, logger *slog.Logger, path, out string, progressOut io.Writer) (wavStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wavStats{}, err
	}

	sink := progress.Discard
	if progressOut != nil {
		sink = progress.Func(func(percent int) {
			fmt.Fprintf(progressOut, "compressing %d%%\n", percent)
		})
	}

	wav, err := newCompressor(cfg.Audio, logger).Compress(ctx, data, task.MimeTypeFor(path), sink)
	if err != nil {
		return wavStats{}, err
	}
	if err := os.WriteFile(out, wav, 0644); err != nil {
		return wavStats{}, fmt.Errorf("write %s: %w", out, err)
	}

	stats, err := describeWAV(wav)
	if err != nil {
		return wavStats{}, err
	}
	stats.InputSize = int64(len(data))
	return stats, nil
}

func describeWAV(wav []byte) (wavStats, error) {
	samples, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return wavStats{}, fmt.Errorf("read compressed audio: %w", err)
	}

	var peak float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v / 32768
		} else {
			v /= 32767
		}
		if v > peak {
			peak = v
		}
	}

	return wavStats{
		Samples:    len(samples),
		SampleRate: rate,
		Duration:   time.Duration(float64(len(samples)) / float64(rate) * float64(time.Second)),
		Peak:       peak,
		OutputSize: len(wav),
	}, nil
}
