package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/audio"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/metrics"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/progress"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/task"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/transcript"
)

// DefaultCompressionThreshold is the size above which input is compressed (1 MiB).
const DefaultCompressionThreshold int64 = 1024 * 1024

// Compressor turns arbitrary audio into a compact WAV.
type Compressor interface {
	Compress(ctx context.Context, input []byte, mimeType string, sink progress.Sink) ([]byte, error)
}

// Encoder turns a byte stream into transport text.
type Encoder interface {
	Encode(ctx context.Context, r io.Reader, size int64, mimeType string, sink progress.Sink) (string, error)
}

// Transcriber sends encoded audio to the transcription service.
type Transcriber interface {
	Transcribe(ctx context.Context, payload, mimeType string) (*transcript.Result, error)
}

// SessionChecker gates admission on a signed-in user.
type SessionChecker interface {
	Authenticated() bool
}

// Stages bundles the collaborators a task passes through.
type Stages struct {
	Compressor  Compressor
	Encoder     Encoder
	Transcriber Transcriber
}

// Config contains scheduler parameters.
type Config struct {
	CompressionThreshold int64
}

// errTaskRemoved stops a task whose record left the queue mid-pipeline.
var errTaskRemoved = errors.New("task removed")

// Scheduler runs at most one task at a time in submission order.
type Scheduler struct {
	queue   *task.Queue
	stages  Stages
	session SessionChecker
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	gate chan struct{} // capacity 1: held while a task is active
	wake chan struct{}

	mu           sync.Mutex
	activeID     string
	activeCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler. session and m may be nil: a nil session
// admits unconditionally and a nil m records no metrics.
func NewScheduler(queue *task.Queue, stages Stages, session SessionChecker, config Config, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if config.CompressionThreshold <= 0 {
		config.CompressionThreshold = DefaultCompressionThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		queue:   queue,
		stages:  stages,
		session: session,
		config:  config,
		logger:  logger,
		metrics: m,
		gate:    make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
	}
}

// Run is the admission loop. It wakes on queue events, Trigger calls and
// task completion, and returns when ctx is cancelled and the active task
// has exited.
func (s *Scheduler) Run(ctx context.Context) error {
	events, unsubscribe := s.queue.Events().Subscribe(64)
	defer unsubscribe()
	// Task goroutines are only started from this loop.
	defer s.wg.Wait()

	s.logger.Info("Scheduler started",
		slog.Int64("compression_threshold", s.config.CompressionThreshold))

	s.Trigger()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.observeCounts()
		case <-s.wake:
		}

		s.admit(ctx)
	}
}

// Trigger asks the admission loop to look for work.
func (s *Scheduler) Trigger() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Active returns the id of the task being processed.
func (s *Scheduler) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.activeID != ""
}

// Cancel removes the task with id from the queue, then aborts its in-flight
// stage if it is the active task. The record is gone before the stage sees
// the cancellation, so no Error update is published for it.
func (s *Scheduler) Cancel(id string) bool {
	removed := s.queue.Remove(id)

	s.mu.Lock()
	if s.activeID == id && s.activeCancel != nil {
		s.activeCancel()
	}
	s.mu.Unlock()

	if removed && s.metrics != nil {
		s.metrics.RecordTaskRemoved()
	}
	return removed
}

// admit starts the next pending task if the gate is free and a user is
// signed in.
func (s *Scheduler) admit(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.session != nil && !s.session.Authenticated() {
		return
	}

	select {
	case s.gate <- struct{}{}:
	default:
		return
	}

	next, ok := s.queue.NextPending()
	if !ok {
		<-s.gate
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.activeID = next.ID
	s.activeCancel = cancel
	s.mu.Unlock()
	s.setActiveGauge(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			s.activeID = ""
			s.activeCancel = nil
			s.mu.Unlock()
			s.setActiveGauge(0)
			<-s.gate
			s.Trigger()
		}()

		s.process(taskCtx, next)
	}()
}

// process runs every stage of t and records the terminal outcome.
func (s *Scheduler) process(ctx context.Context, t task.Task) {
	logger := s.logger.With(slog.String("task_id", t.ID), slog.String("file", t.File.Name))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			s.fail(t.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	logger.Info("Processing task",
		slog.Int64("size", t.File.Size),
		slog.String("mime_type", t.File.MimeType))

	result, err := s.run(ctx, t, logger)
	switch {
	case errors.Is(err, errTaskRemoved):
		logger.Info("Task removed during processing")
		return
	case err != nil:
		if _, ok := s.queue.Get(t.ID); !ok {
			logger.Info("Task removed during processing", slog.String("error", err.Error()))
			return
		}
		logger.Error("Task failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		s.fail(t.ID, err.Error())
		return
	}

	if err := s.queue.Update(t.ID, task.SuccessUpdate(result)); err != nil {
		logger.Error("Failed to record result", slog.String("error", err.Error()))
		return
	}
	s.queue.SelectIfNone(t.ID)
	if s.metrics != nil {
		s.metrics.RecordTaskCompleted(string(task.StatusSuccess))
	}

	logger.Info("Task completed",
		slog.Int("segments", len(result.Segments)),
		slog.Duration("elapsed", time.Since(start)))
}

// run executes the stages and returns the transcription result.
func (s *Scheduler) run(ctx context.Context, t task.Task, logger *slog.Logger) (*transcript.Result, error) {
	mimeType := t.File.MimeType
	var (
		payload io.Reader
		size    int64
	)

	if t.File.Size > s.config.CompressionThreshold {
		if err := s.enter(t.ID, task.StatusCompressing, 0); err != nil {
			return nil, err
		}

		stageStart := time.Now()
		wav, err := s.compress(ctx, t)
		s.recordStage(task.StatusCompressing, stageStart, err)
		if err != nil {
			return nil, err
		}

		logger.Debug("Compressed audio",
			slog.Int64("input_bytes", t.File.Size),
			slog.Int("output_bytes", len(wav)))

		payload = bytes.NewReader(wav)
		size = int64(len(wav))
		mimeType = "audio/wav"
	} else {
		rc, err := t.File.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", t.File.Name, err)
		}
		defer rc.Close()
		payload = rc
		size = t.File.Size
	}

	if err := s.enter(t.ID, task.StatusUploading, 0); err != nil {
		return nil, err
	}
	stageStart := time.Now()
	encoded, err := s.stages.Encoder.Encode(ctx, payload, size, mimeType, s.progressSink(t.ID))
	s.recordStage(task.StatusUploading, stageStart, err)
	if err != nil {
		return nil, err
	}

	if err := s.enter(t.ID, task.StatusTranscribing, 100); err != nil {
		return nil, err
	}
	stageStart = time.Now()
	if s.metrics != nil {
		s.metrics.RecordTranscriptionRequest()
	}
	result, err := s.stages.Transcriber.Transcribe(ctx, encoded, mimeType)
	s.recordStage(task.StatusTranscribing, stageStart, err)
	if s.metrics != nil {
		elapsed := time.Since(stageStart).Seconds()
		if err != nil {
			s.metrics.RecordTranscriptionFailure(elapsed)
		} else {
			s.metrics.RecordTranscriptionSuccess(elapsed)
		}
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &transcript.Result{}
	}
	return result, nil
}

func (s *Scheduler) compress(ctx context.Context, t task.Task) ([]byte, error) {
	data, err := t.File.ReadAll()
	if err != nil {
		return nil, err
	}

	wav, err := s.stages.Compressor.Compress(ctx, data, t.File.MimeType, s.progressSink(t.ID))
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		seconds, _ := audio.GetWAVDuration(wav)
		s.metrics.RecordCompression(len(wav), seconds)
	}
	return wav, nil
}

// enter moves the task into status, failing with errTaskRemoved when the
// task has left the queue.
func (s *Scheduler) enter(id string, status task.Status, startProgress int) error {
	if _, ok := s.queue.Get(id); !ok {
		return errTaskRemoved
	}
	if err := s.queue.Update(id, task.StageUpdate(status, startProgress)); err != nil {
		return err
	}
	s.logger.Debug("Task entered stage", slog.String("task_id", id), slog.String("status", string(status)))
	return nil
}

func (s *Scheduler) progressSink(id string) progress.Sink {
	return progress.Func(func(percent int) {
		_ = s.queue.Update(id, task.ProgressUpdate(percent))
	})
}

func (s *Scheduler) fail(id, message string) {
	if message == "" {
		message = task.FallbackErrorMessage
	}
	if err := s.queue.Update(id, task.FailureUpdate(message)); err != nil {
		s.logger.Error("Failed to record task error",
			slog.String("task_id", id),
			slog.String("error", err.Error()))
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTaskCompleted(string(task.StatusError))
	}
}

func (s *Scheduler) recordStage(stage task.Status, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordStage(string(stage), time.Since(start).Seconds(), err != nil)
	}
}

func (s *Scheduler) setActiveGauge(n int) {
	if s.metrics != nil {
		s.metrics.SetActiveTasks(n)
	}
}

func (s *Scheduler) observeCounts() {
	if s.metrics == nil {
		return
	}
	counts := s.queue.Counts()
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	s.metrics.SetTaskCounts(out)
}
