package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/transcript"
	"github.com/MuhammadQasim111/AudioTranscriber/internal/transfer"
)

const (
	DefaultEndpoint        = "https://api.groq.com/openai/v1"
	DefaultModel           = "whisper-large-v3-turbo"
	DefaultResponseFormat  = "verbose_json"
	DefaultSummaryModel    = "llama-3.1-8b-instant"
	DefaultSummaryPrompt   = "You are a helpful assistant. Please provide a concise summary of the following transcript."
	DefaultSummaryFallback = "Processed with Groq"
	DefaultSummaryMinChars = 50
)

// Client talks to the transcription and summarization endpoints.
type Client struct {
	config      Config
	httpClient  *http.Client
	semaphore   chan struct{} // Rate limiting semaphore
	logger      *slog.Logger
	backoffBase time.Duration

	// Statistics
	totalRequests    uint64
	successRequests  uint64
	failedRequests   uint64
	totalRetries     uint64
	summaryRequests  uint64
	summaryFallbacks uint64
	avgResponseTime  time.Duration

	mu sync.RWMutex
}

// Config contains transcription client configuration
type Config struct {
	Endpoint       string
	APIKey         string
	Model          string
	ResponseFormat string
	Language       string

	SummaryModel       string
	SummaryPrompt      string
	SummaryFallback    string
	SummaryMinChars    int
	SummaryTemperature float64
	SummaryMaxTokens   int

	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests    uint64        `json:"total_requests"`
	SuccessRequests  uint64        `json:"success_requests"`
	FailedRequests   uint64        `json:"failed_requests"`
	SuccessRate      float64       `json:"success_rate"`
	TotalRetries     uint64        `json:"total_retries"`
	SummaryRequests  uint64        `json:"summary_requests"`
	SummaryFallbacks uint64        `json:"summary_fallbacks"`
	AvgResponseTime  time.Duration `json:"avg_response_time"`
	ActiveRequests   int           `json:"active_requests"`
}

// Error is a failed call to the transcription service. StatusCode is 0 when
// no HTTP response was received.
type Error struct {
	StatusCode int
	Message    string
	Err        error

	permanent bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transcription API error %d: %s", e.StatusCode, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "Transcription failed"
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether the call may succeed when retried: network
// failures, rate limiting and server errors.
func (e *Error) Temporary() bool {
	if e.permanent {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// verboseResponse is the verbose_json transcription body.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.ResponseFormat == "" {
		config.ResponseFormat = DefaultResponseFormat
	}
	if config.SummaryModel == "" {
		config.SummaryModel = DefaultSummaryModel
	}
	if config.SummaryPrompt == "" {
		config.SummaryPrompt = DefaultSummaryPrompt
	}
	if config.SummaryFallback == "" {
		config.SummaryFallback = DefaultSummaryFallback
	}
	if config.SummaryMinChars <= 0 {
		config.SummaryMinChars = DefaultSummaryMinChars
	}
	if config.SummaryTemperature <= 0 {
		config.SummaryTemperature = 0.5
	}
	if config.SummaryMaxTokens <= 0 {
		config.SummaryMaxTokens = 256
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:      config,
		httpClient:  httpClient,
		semaphore:   make(chan struct{}, config.MaxConcurrent),
		logger:      logger,
		backoffBase: time.Second,
	}, nil
}

// Transcribe decodes the base64 payload, sends it for transcription and
// attaches a summary. Summary failures never fail the call.
func (c *Client) Transcribe(ctx context.Context, payload, mimeType string) (*transcript.Result, error) {
	audio, err := transfer.Decode(payload)
	if err != nil {
		return nil, &Error{Message: "Invalid audio data", Err: err, permanent: true}
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var resp verboseResponse
	err = c.withRetry(ctx, func() error {
		return c.doTranscription(ctx, audio, mimeType, &resp)
	})
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	result := buildResult(&resp)
	result.Summary = c.summarize(ctx, result.FullText())

	c.logger.Debug("Transcription completed",
		slog.Int("audio_bytes", len(audio)),
		slog.Int("segments", len(result.Segments)),
		slog.Duration("elapsed", time.Since(startTime)))

	return result, nil
}

// buildResult maps the verbose response to transcript segments.
func buildResult(resp *verboseResponse) *transcript.Result {
	result := &transcript.Result{Segments: make([]transcript.Segment, 0, len(resp.Segments))}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, transcript.Segment{
			Speaker:   transcript.DefaultSpeaker,
			Timestamp: transcript.FormatTimestamp(seg.Start),
			Text:      strings.TrimSpace(seg.Text),
		})
	}

	if len(result.Segments) == 0 && resp.Text != "" {
		result.Segments = append(result.Segments, transcript.Segment{
			Speaker:   transcript.DefaultSpeaker,
			Timestamp: "00:00",
			Text:      strings.TrimSpace(resp.Text),
		})
	}
	return result
}

// summarize returns a summary of text, or the configured fallback when text
// is short or the summary call fails.
func (c *Client) summarize(ctx context.Context, text string) string {
	if utf8.RuneCountInString(text) <= c.config.SummaryMinChars {
		return c.config.SummaryFallback
	}

	c.mu.Lock()
	c.summaryRequests++
	c.mu.Unlock()

	req := chatRequest{
		Model: c.config.SummaryModel,
		Messages: []chatMessage{
			{Role: "system", Content: c.config.SummaryPrompt},
			{Role: "user", Content: text},
		},
		Temperature: c.config.SummaryTemperature,
		MaxTokens:   c.config.SummaryMaxTokens,
	}

	var resp chatResponse
	err := c.withRetry(ctx, func() error {
		return c.doJSON(ctx, "/chat/completions", req, &resp)
	})

	var summary string
	if err == nil && len(resp.Choices) > 0 {
		summary = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if summary == "" {
		if err != nil {
			c.logger.Warn("Summary generation failed", slog.String("error", err.Error()))
		}
		c.mu.Lock()
		c.summaryFallbacks++
		c.mu.Unlock()
		return c.config.SummaryFallback
	}
	return summary
}

// withRetry runs fn until it succeeds, returns a permanent error or the
// retry budget is spent.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		lastErr = err
		var apiErr *Error
		if !errors.As(err, &apiErr) || !apiErr.Temporary() {
			break
		}
		c.logger.Debug("Retrying transcription request",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	return lastErr
}

// backoff doubles backoffBase per attempt, capped at 30 seconds.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoffBase
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// doTranscription performs a single multipart upload.
func (c *Client) doTranscription(ctx context.Context, audio []byte, mimeType string, out *verboseResponse) error {
	body, contentType, err := c.createMultipartRequest(audio, mimeType)
	if err != nil {
		return &Error{Message: "failed to create multipart request", Err: err, permanent: true}
	}

	return c.do(ctx, "/audio/transcriptions", contentType, body, out)
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(audio []byte, mimeType string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio."+extensionFor(mimeType))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(audio); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", c.config.Model},
		{"response_format", c.config.ResponseFormat},
	}
	if c.config.Language != "" {
		fields = append(fields, [2]string{"language", c.config.Language})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// doJSON posts a JSON body and decodes the JSON response.
func (c *Client) doJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &Error{Message: "failed to encode request", Err: err, permanent: true}
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(payload), out)
}

// do performs one HTTP request against the API and decodes the response.
func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.config.Endpoint, "/")+path, body)
	if err != nil {
		return &Error{Message: "failed to create HTTP request", Err: err, permanent: true}
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "AudioTranscriber/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &Error{Message: fmt.Sprintf("HTTP request failed: %v", err), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Message: fmt.Sprintf("failed to read response body: %v", err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Message: "failed to parse response JSON", Err: err, permanent: true}
	}
	return nil
}

// errorMessage extracts {"error":{"message":...}} or falls back to the raw body.
func errorMessage(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

// extensionFor maps an audio mime type to the upload file extension.
func extensionFor(mimeType string) string {
	mt, _, _ := strings.Cut(strings.ToLower(mimeType), ";")
	switch strings.TrimSpace(mt) {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/x-m4a", "audio/m4a":
		return "m4a"
	case "audio/ogg":
		return "ogg"
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/webm", "video/webm":
		return "webm"
	default:
		return "wav"
	}
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:    c.totalRequests,
		SuccessRequests:  c.successRequests,
		FailedRequests:   c.failedRequests,
		SuccessRate:      successRate,
		TotalRetries:     c.totalRetries,
		SummaryRequests:  c.summaryRequests,
		SummaryFallbacks: c.summaryFallbacks,
		AvgResponseTime:  c.avgResponseTime,
		ActiveRequests:   len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish.
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
