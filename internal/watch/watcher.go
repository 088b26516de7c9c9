// Package watch submits audio files dropped into an inbox directory and
// writes their transcripts out when processing succeeds.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/task"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/transcript"
)

// Config contains watcher parameters.
type Config struct {
	Directory  string
	OutputDir  string
	Extensions []string
	Debounce   time.Duration
}

// fileKey identifies one version of a file.
type fileKey struct {
	size    int64
	modTime time.Time
}

// Watcher turns settled Create/Write events into queue submissions.
type Watcher struct {
	config     Config
	extensions map[string]bool
	queue      *task.Queue
	logger     *slog.Logger

	reconcileEvery time.Duration

	// Owned by the Run goroutine.
	pending   map[string]time.Time
	submitted map[string]fileKey
	owned     map[string]string // task id -> source path
}

// New creates a watcher for cfg.Directory.
func New(cfg Config, queue *task.Queue, logger *slog.Logger) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}

	return &Watcher{
		config:     cfg,
		extensions: exts,
		queue:      queue,
		logger:     logger.With(slog.String("component", "watcher")),

		reconcileEvery: time.Second,

		pending:   make(map[string]time.Time),
		submitted: make(map[string]fileKey),
		owned:     make(map[string]string),
	}
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.config.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.Directory); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	events, unsubscribe := w.queue.Events().Subscribe(256)
	defer unsubscribe()

	interval := w.config.Debounce / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Subscribers miss events when their buffer is full.
	reconcile := time.NewTicker(w.reconcileEvery)
	defer reconcile.Stop()

	w.logger.Info("Started watching inbox",
		slog.String("dir", w.config.Directory),
		slog.Duration("debounce", w.config.Debounce))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping inbox watcher")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleFileEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			w.flushSettled(now)

		case <-reconcile.C:
			w.reconcile()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.handleTaskEvent(ev)
		}
	}
}

func (w *Watcher) handleFileEvent(event fsnotify.Event) {
	if !w.extensions[strings.ToLower(filepath.Ext(event.Name))] {
		return
	}

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create || event.Op&fsnotify.Write == fsnotify.Write:
		w.pending[event.Name] = time.Now()
	case event.Op&fsnotify.Remove == fsnotify.Remove || event.Op&fsnotify.Rename == fsnotify.Rename:
		delete(w.pending, event.Name)
		delete(w.submitted, event.Name)
	}
}

// flushSettled submits files that saw no events for the debounce period.
func (w *Watcher) flushSettled(now time.Time) {
	for path, last := range w.pending {
		if now.Sub(last) < w.config.Debounce {
			continue
		}
		delete(w.pending, path)
		w.submit(path)
	}
}

func (w *Watcher) submit(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	key := fileKey{size: info.Size(), modTime: info.ModTime()}
	if prev, ok := w.submitted[path]; ok && prev == key {
		return
	}

	file, err := task.NewFileFromPath(path, "")
	if err != nil {
		w.logger.Error("Failed to read inbox file", slog.String("file", path), slog.String("error", err.Error()))
		return
	}

	created := w.queue.Submit(file)
	w.submitted[path] = key
	for _, t := range created {
		w.owned[t.ID] = path
		w.logger.Info("Submitted inbox file",
			slog.String("file", filepath.Base(path)),
			slog.String("task_id", t.ID),
			slog.String("status", string(t.Status)))
	}
}

// handleTaskEvent writes the transcript of a finished inbox task.
func (w *Watcher) handleTaskEvent(ev task.Event) {
	if _, ok := w.owned[ev.TaskID]; !ok {
		return
	}
	if ev.Type == task.EventRemoved {
		delete(w.owned, ev.TaskID)
		return
	}
	if ev.Task != nil {
		w.settle(*ev.Task)
	}
}

// reconcile reads the current state of every owned task from the queue.
func (w *Watcher) reconcile() {
	for id := range w.owned {
		t, ok := w.queue.Get(id)
		if !ok {
			delete(w.owned, id)
			continue
		}
		w.settle(t)
	}
}

// settle handles an owned task once it reached a terminal state.
func (w *Watcher) settle(t task.Task) {
	path, ok := w.owned[t.ID]
	if !ok || !t.Status.Terminal() {
		return
	}
	delete(w.owned, t.ID)

	if t.Status == task.StatusError {
		w.logger.Warn("Inbox file failed",
			slog.String("file", filepath.Base(path)),
			slog.String("error", t.Error))
		return
	}
	if w.config.OutputDir == "" {
		return
	}

	out := filepath.Join(w.config.OutputDir, transcript.ExportFilename(t.File.Name))
	if err := transcript.WriteText(out, t.Result); err != nil {
		w.logger.Error("Failed to write transcript", slog.String("file", out), slog.String("error", err.Error()))
		return
	}
	w.logger.Info("Transcript written", slog.String("file", out))
}
