package cmd

import (
	"fmt"
	"log/slog"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/audio"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/config"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/metrics"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/pipeline"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/task"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/transcription"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/transfer"
)

// components are the pieces shared by serve and transcribe.
type components struct {
	queue     *task.Queue
	client    *transcription.Client
	scheduler *pipeline.Scheduler
}

func buildComponents(cfg *config.Config, logger *slog.Logger, gate pipeline.SessionChecker, m *metrics.Metrics) (*components, error) {
	queue := task.NewQueue(task.QueueConfig{
		MaxFileSize: cfg.Limits.MaxInputFileSize,
		MaxEvents:   cfg.Limits.MaxEvents,
	})

	client, err := transcription.NewClient(transcription.Config{
		Endpoint:           cfg.Transcription.Endpoint,
		APIKey:             cfg.Transcription.APIKey,
		Model:              cfg.Transcription.Model,
		ResponseFormat:     cfg.Transcription.ResponseFormat,
		Language:           cfg.Transcription.Language,
		SummaryModel:       cfg.Transcription.SummaryModel,
		SummaryPrompt:      cfg.Transcription.SummaryPrompt,
		SummaryFallback:    cfg.Transcription.SummaryFallback,
		SummaryMinChars:    cfg.Transcription.SummaryMinChars,
		SummaryTemperature: cfg.Transcription.SummaryTemperature,
		SummaryMaxTokens:   cfg.Transcription.SummaryMaxTokens,
		Timeout:            cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:         cfg.Transcription.MaxRetries,
		MaxConcurrent:      cfg.Transcription.MaxConcurrent,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription client: %w", err)
	}

	compressor := newCompressor(cfg.Audio, logger)

	scheduler := pipeline.NewScheduler(queue, pipeline.Stages{
		Compressor:  compressor,
		Encoder:     transfer.NewEncoder(cfg.Transfer.ChunkSize),
		Transcriber: client,
	}, gate, pipeline.Config{
		CompressionThreshold: cfg.Limits.CompressionThreshold,
	}, logger, m)

	return &components{queue: queue, client: client, scheduler: scheduler}, nil
}

func newCompressor(cfg config.AudioConfig, logger *slog.Logger) *audio.Compressor {
	return audio.NewCompressor(audio.CompressorConfig{
		ChannelMode:   audio.ChannelMode(cfg.ChannelMode),
		FFmpegEnabled: cfg.FFmpegEnabled,
		FFmpegPath:    cfg.FFmpegPath,
		FFprobePath:   cfg.FFprobePath,
	}, logger)
}
