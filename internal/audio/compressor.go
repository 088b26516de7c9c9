package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/progress"
)

// Progress checkpoints reported by Compress.
const (
	ProgressDecoded    = 20
	ProgressResampling = 50
	ProgressResampled  = 80
	ProgressEncoded    = 100
)

// CompressorConfig contains resampling parameters.
type CompressorConfig struct {
	ChannelMode   ChannelMode
	FFmpegEnabled bool
	FFmpegPath    string
	FFprobePath   string
}

// Compressor converts arbitrary audio into the 8 kHz mono 16-bit WAV profile.
type Compressor struct {
	decoder     Decoder
	channelMode ChannelMode
	logger      *slog.Logger
}

// NewCompressor builds a compressor with the built-in decoders, plus ffmpeg
// when enabled.
func NewCompressor(cfg CompressorConfig, logger *slog.Logger) *Compressor {
	var fallback Decoder
	if cfg.FFmpegEnabled {
		fallback = NewFFmpegDecoder(cfg.FFmpegPath, cfg.FFprobePath)
	}
	return NewCompressorWithDecoder(NewFormatDecoder(fallback), cfg.ChannelMode, logger)
}

// NewCompressorWithDecoder builds a compressor around a custom decoder.
func NewCompressorWithDecoder(decoder Decoder, mode ChannelMode, logger *slog.Logger) *Compressor {
	if !mode.Valid() {
		mode = ChannelModeAverage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		decoder:     decoder,
		channelMode: mode,
		logger:      logger,
	}
}

// Compress decodes input, resamples it to TargetSampleRate mono and returns the
// WAV bytes. Progress is reported at 20, 50, 80 and 100. Nothing is returned on
// failure.
func (c *Compressor) Compress(ctx context.Context, input []byte, mimeType string, sink progress.Sink) ([]byte, error) {
	start := time.Now()

	pcm, err := c.decoder.Decode(ctx, input, mimeType)
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &DecodeError{Format: DetectFormat(input, mimeType), Err: err}
	}
	progress.Report(sink, ProgressDecoded)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress.Report(sink, ProgressResampling)
	samples, err := Resample(pcm, TargetSampleRate, c.channelMode)
	if err != nil {
		return nil, &EncodingError{Err: fmt.Errorf("resample: %w", err)}
	}
	progress.Report(sink, ProgressResampled)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wavData, err := EncodeWAV(samples, TargetSampleRate)
	if err != nil {
		return nil, &EncodingError{Err: err}
	}
	progress.Report(sink, ProgressEncoded)

	c.logger.Debug("Audio compressed",
		slog.Int("input_bytes", len(input)),
		slog.Int("output_bytes", len(wavData)),
		slog.Int("source_rate", pcm.SampleRate),
		slog.Int("source_channels", len(pcm.Channels)),
		slog.Int("output_samples", len(samples)),
		slog.Duration("audio_duration", pcm.Duration()),
		slog.Duration("elapsed", time.Since(start)),
	)

	return wavData, nil
}
