package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/config"
)

const defaultConfigPath = "configs/config.yaml"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "transcriber",
	Short: "Audio transcription task service",
	Long: `transcriber queues audio files, compresses large ones to 8 kHz mono WAV,
sends them to a Whisper-compatible transcription API and keeps the
timestamped transcripts.

Commands:
  serve       - HTTP API with task queue, event stream and inbox watcher
  transcribe  - Transcribe files from the command line
  login       - Sign in so queued tasks are processed
  logout      - Sign out
  version     - Show version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./"+defaultConfigPath+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the --config file. Without the flag the default path is
// used when present and built-in defaults otherwise.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	switch {
	case cfgFile != "":
		cfg, err = config.Load(cfgFile)
	default:
		if _, statErr := os.Stat(defaultConfigPath); errors.Is(statErr, fs.ErrNotExist) {
			cfg, err = config.LoadDefault()
		} else {
			cfg, err = config.Load(defaultConfigPath)
		}
	}
	if err != nil {
		return nil, err
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
}
