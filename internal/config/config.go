package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// API key environment variables, in order of precedence.
var apiKeyEnvVars = []string{"TRANSCRIBER_API_KEY", "GROQ_API_KEY", "GROK_API_KEY"}

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Limits        LimitsConfig        `yaml:"limits"`
	Audio         AudioConfig         `yaml:"audio"`
	Transfer      TransferConfig      `yaml:"transfer"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Session       SessionConfig       `yaml:"session"`
	Watch         WatchConfig         `yaml:"watch"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port           int    `yaml:"port"`
	Address        string `yaml:"address"`
	Enabled        bool   `yaml:"enabled"`
	ReadTimeout    int    `yaml:"read_timeout"`     // seconds
	WriteTimeout   int    `yaml:"write_timeout"`    // seconds
	MaxUploadBytes int64  `yaml:"max_upload_bytes"` // whole multipart request
}

// LimitsConfig contains file size thresholds
type LimitsConfig struct {
	MaxInputFileSize     int64 `yaml:"max_input_file_size"`
	CompressionThreshold int64 `yaml:"compression_threshold"`
	MaxEvents            int   `yaml:"max_events"`
}

// AudioConfig contains audio compression parameters
type AudioConfig struct {
	ChannelMode   string `yaml:"channel_mode"` // "average" or "first"
	FFmpegEnabled bool   `yaml:"ffmpeg_enabled"`
	FFmpegPath    string `yaml:"ffmpeg_path"`
	FFprobePath   string `yaml:"ffprobe_path"`
}

// TransferConfig contains base64 transfer encoding parameters
type TransferConfig struct {
	ChunkSize int `yaml:"chunk_size"` // bytes
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint           string  `yaml:"endpoint"`
	APIKey             string  `yaml:"api_key"`
	Model              string  `yaml:"model"`
	ResponseFormat     string  `yaml:"response_format"`
	Language           string  `yaml:"language"`
	SummaryModel       string  `yaml:"summary_model"`
	SummaryPrompt      string  `yaml:"summary_prompt"`
	SummaryFallback    string  `yaml:"summary_fallback"`
	SummaryMinChars    int     `yaml:"summary_min_chars"`
	SummaryTemperature float64 `yaml:"summary_temperature"`
	SummaryMaxTokens   int     `yaml:"summary_max_tokens"`
	Timeout            int     `yaml:"timeout"` // seconds
	MaxRetries         int     `yaml:"max_retries"`
	MaxConcurrent      int     `yaml:"max_concurrent"`
}

// SessionConfig contains the sign-in gate configuration
type SessionConfig struct {
	Path         string `yaml:"path"`
	RequireLogin bool   `yaml:"require_login"`
}

// WatchConfig contains inbox directory watcher configuration
type WatchConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Directory  string   `yaml:"directory"`
	OutputDir  string   `yaml:"output_dir"`
	Extensions []string `yaml:"extensions"`
	DebounceMS int      `yaml:"debounce_ms"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           8080,
			Address:        "127.0.0.1",
			Enabled:        true,
			ReadTimeout:    300,
			WriteTimeout:   300,
			MaxUploadBytes: 1 << 30,
		},
		Limits: LimitsConfig{
			MaxInputFileSize:     100 * 1024 * 1024,
			CompressionThreshold: 1024 * 1024,
			MaxEvents:            500,
		},
		Audio: AudioConfig{
			ChannelMode:   "average",
			FFmpegEnabled: true,
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
		},
		Transfer: TransferConfig{
			ChunkSize: 64 * 1024,
		},
		Transcription: TranscriptionConfig{
			Endpoint:           "https://api.groq.com/openai/v1",
			Model:              "whisper-large-v3-turbo",
			ResponseFormat:     "verbose_json",
			SummaryModel:       "llama-3.1-8b-instant",
			SummaryPrompt:      "You are a helpful assistant. Please provide a concise summary of the following transcript.",
			SummaryFallback:    "Processed with Groq",
			SummaryMinChars:    50,
			SummaryTemperature: 0.5,
			SummaryMaxTokens:   256,
			Timeout:            120,
			MaxRetries:         3,
			MaxConcurrent:      2,
		},
		Session: SessionConfig{
			Path:         "data/session.json",
			RequireLogin: true,
		},
		Watch: WatchConfig{
			Directory:  "inbox",
			Extensions: []string{".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm"},
			DebounceMS: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv(os.Getenv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadDefault returns the built-in configuration with environment overrides.
func LoadDefault() (*Config, error) {
	config := Default()
	config.ApplyEnv(os.Getenv)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// ApplyEnv overrides values from the environment via getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	for _, name := range apiKeyEnvVars {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			c.Transcription.APIKey = v
			return
		}
	}
}

// Sanitized returns a copy safe to expose over the API.
func (c *Config) Sanitized() Config {
	out := *c
	if out.Transcription.APIKey != "" {
		out.Transcription.APIKey = "***"
	}
	out.Watch.Extensions = append([]string(nil), c.Watch.Extensions...)
	return out
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transfer.Validate(); err != nil {
		return fmt.Errorf("transfer config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.ReadTimeout < 0 || h.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if h.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes cannot be negative, got %d", h.MaxUploadBytes)
	}

	return nil
}

// Validate validates size limits
func (l *LimitsConfig) Validate() error {
	if l.MaxInputFileSize < 1 {
		return fmt.Errorf("max_input_file_size must be positive, got %d", l.MaxInputFileSize)
	}

	if l.CompressionThreshold < 1 {
		return fmt.Errorf("compression_threshold must be positive, got %d", l.CompressionThreshold)
	}

	if l.CompressionThreshold > l.MaxInputFileSize {
		return fmt.Errorf("compression_threshold (%d) cannot exceed max_input_file_size (%d)",
			l.CompressionThreshold, l.MaxInputFileSize)
	}

	if l.MaxEvents < 0 {
		return fmt.Errorf("max_events cannot be negative, got %d", l.MaxEvents)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.ChannelMode != "average" && a.ChannelMode != "first" {
		return fmt.Errorf("channel_mode must be 'average' or 'first', got '%s'", a.ChannelMode)
	}

	if a.FFmpegEnabled && (a.FFmpegPath == "" || a.FFprobePath == "") {
		return fmt.Errorf("ffmpeg_path and ffprobe_path cannot be empty when ffmpeg is enabled")
	}

	return nil
}

// Validate validates transfer configuration
func (t *TransferConfig) Validate() error {
	if t.ChunkSize < 3 {
		return fmt.Errorf("chunk_size must be at least 3 bytes, got %d", t.ChunkSize)
	}

	return nil
}

// Validate validates transcription configuration. The API key is checked when
// the client is created so that commands not calling the API can run without one.
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.ResponseFormat != "verbose_json" {
		return fmt.Errorf("response_format must be 'verbose_json', got '%s'", t.ResponseFormat)
	}

	if t.SummaryMinChars < 0 {
		return fmt.Errorf("summary_min_chars cannot be negative, got %d", t.SummaryMinChars)
	}

	if t.SummaryTemperature < 0 || t.SummaryTemperature > 2 {
		return fmt.Errorf("summary_temperature must be between 0 and 2, got %f", t.SummaryTemperature)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates watcher configuration
func (w *WatchConfig) Validate() error {
	if !w.Enabled {
		return nil
	}

	if w.Directory == "" {
		return fmt.Errorf("directory cannot be empty when the watcher is enabled")
	}

	if len(w.Extensions) == 0 {
		return fmt.Errorf("extensions cannot be empty when the watcher is enabled")
	}

	if w.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms cannot be negative, got %d", w.DebounceMS)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Addr returns the listen address
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetDebounceDuration returns the watcher debounce as a time.Duration
func (w *WatchConfig) GetDebounceDuration() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}
