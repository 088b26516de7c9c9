package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/config"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/task"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/transcript"
)

var (
	transcribeOut   string
	transcribeQuiet bool
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe FILE...",
	Short: "Transcribe audio files and write transcripts",
	Long: `Runs the task pipeline in-process for the given files, one at a time,
and writes each transcript as transcription-<name>.txt.

Examples:
  transcriber transcribe meeting.mp3
  transcriber transcribe --out transcripts/ a.wav b.m4a`,
	Args: cobra.MinimumNArgs(1),
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
		return runTranscribe(cmd.Context(), cfg, args)
	},
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeOut, "out", "o", "", "output directory (default: next to each input)")
	transcribeCmd.Flags().BoolVarP(&transcribeQuiet, "quiet", "q", false, "do not print progress")
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(parent context.Context, cfg *config.Config, paths []string) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := initLogger(cfg.Logging)

	files := make([]task.File, 0, len(paths))
	for _, path := range paths {
		file, err := task.NewFileFromPath(path, task.MimeTypeFor(path))
		if err != nil {
			printError("cannot read input", err)
			return err
		}
		files = append(files, file)
	}

	comp, err := buildComponents(cfg, logger, nil, nil)
	if err != nil {
		printError("failed to initialize pipeline", err)
		return err
	}
	defer comp.client.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, unsubscribe := comp.queue.Events().Subscribe(256)
	defer unsubscribe()

	tasks := comp.queue.Submit(files...)
	remaining := make(map[string]bool, len(tasks))
	dirs := make(map[string]string, len(tasks))
	for i, t := range tasks {
		remaining[t.ID] = true
		dirs[t.ID] = filepath.Dir(paths[i])
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := comp.scheduler.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Scheduler stopped", slog.String("error", err.Error()))
		}
	}()

	failed := 0
	settle := func(t task.Task) {
		if !remaining[t.ID] || !t.Status.Terminal() {
			return
		}
		delete(remaining, t.ID)

		if t.Status == task.StatusError {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %s\n", t.File.Name, t.Error)
			return
		}

		dir := dirs[t.ID]
		if transcribeOut != "" {
			dir = transcribeOut
		}
		out := filepath.Join(dir, transcript.ExportFilename(t.File.Name))
		if err := transcript.WriteText(out, t.Result); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: write transcript: %v\n", t.File.Name, err)
			return
		}
		fmt.Printf("%s -> %s\n", t.File.Name, out)
		if t.Result.Summary != "" && !transcribeQuiet {
			fmt.Printf("  Summary: %s\n", t.Result.Summary)
		}
	}

	// Tasks rejected at submission are already terminal.
	for _, t := range tasks {
		settle(t)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			cancelRun()
			<-runDone
			return ctx.Err()
		case event := <-events:
			if event.Task == nil {
				continue
			}
			if !transcribeQuiet && event.Type == task.EventUpdated && event.Task.Status.Active() {
				fmt.Fprintf(os.Stderr, "%s: %s %d%%\n", event.Task.File.Name, event.Task.Status, event.Task.Progress)
			}
			settle(*event.Task)
		case <-ticker.C:
			// Subscribers can miss events when their buffer is full.
			for id := range remaining {
				if t, ok := comp.queue.Get(id); ok {
					settle(t)
				}
			}
		}
	}

	cancelRun()
	<-runDone

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(tasks))
	}
	return nil
}
