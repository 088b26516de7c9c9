package transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, ts *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.Endpoint = ts.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	c, err := NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.backoffBase = time.Millisecond // fast retries in tests
	return c
}

func payload(data string) string {
	return base64.StdEncoding.EncodeToString([]byte(data))
}

type fakeAPI struct {
	transcription  func(w http.ResponseWriter, r *http.Request)
	chat           func(w http.ResponseWriter, r *http.Request)
	transcribeHits atomic.Int32
	chatHits       atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/audio/transcriptions":
		f.transcribeHits.Add(1)
		f.transcription(w, r)
	case "/chat/completions":
		f.chatHits.Add(1)
		if f.chat == nil {
			http.Error(w, "unexpected", http.StatusTeapot)
			return
		}
		f.chat(w, r)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestTranscribeSegmentsAndSummary(t *testing.T) {
	long := "This is a sufficiently long sentence for the summarizer to kick in."
	api := &fakeAPI{
		transcription: func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("Authorization = %q", got)
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("ParseMultipartForm: %v", err)
				return
			}
			if r.FormValue("model") != DefaultModel || r.FormValue("response_format") != "verbose_json" {
				t.Errorf("unexpected form: model=%q format=%q", r.FormValue("model"), r.FormValue("response_format"))
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("FormFile: %v", err)
				return
			}
			data, _ := io.ReadAll(file)
			if string(data) != "RIFFfake" || header.Filename != "audio.wav" {
				t.Errorf("file = %q (%s)", data, header.Filename)
			}

			writeJSON(w, map[string]any{
				"text": long + " Second.",
				"segments": []map[string]any{
					{"start": 0.4, "end": 4.0, "text": "  " + long + " "},
					{"start": 125.9, "end": 127.0, "text": " Second."},
				},
			})
		},
		chat: func(w http.ResponseWriter, r *http.Request) {
			var req chatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode chat request: %v", err)
				return
			}
			if req.Model != DefaultSummaryModel || req.MaxTokens != 256 || req.Temperature != 0.5 {
				t.Errorf("unexpected chat request: %+v", req)
			}
			if len(req.Messages) != 2 || req.Messages[0].Content != DefaultSummaryPrompt || req.Messages[1].Content != long+" Second." {
				t.Errorf("unexpected messages: %+v", req.Messages)
			}
			writeJSON(w, map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "A short summary."}}},
			})
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	c := newTestClient(t, ts, Config{})
	result, err := c.Transcribe(context.Background(), payload("RIFFfake"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if len(result.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(result.Segments))
	}
	first, second := result.Segments[0], result.Segments[1]
	if first.Speaker != "Speaker" || first.Timestamp != "00:00" || first.Text != long {
		t.Errorf("first segment = %+v", first)
	}
	if second.Timestamp != "02:05" || second.Text != "Second." {
		t.Errorf("second segment = %+v", second)
	}
	if result.Summary != "A short summary." {
		t.Errorf("summary = %q", result.Summary)
	}

	stats := c.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 || stats.SummaryRequests != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTranscribeZeroSegmentsFallback(t *testing.T) {
	api := &fakeAPI{
		transcription: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"text": " hello world ", "segments": []any{}})
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	c := newTestClient(t, ts, Config{})
	result, err := c.Transcribe(context.Background(), payload("x"), "audio/mpeg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if len(result.Segments) != 1 {
		t.Fatalf("segments = %+v", result.Segments)
	}
	seg := result.Segments[0]
	if seg.Speaker != "Speaker" || seg.Timestamp != "00:00" || seg.Text != "hello world" {
		t.Errorf("segment = %+v", seg)
	}
	if result.Summary != DefaultSummaryFallback {
		t.Errorf("summary = %q, want fallback", result.Summary)
	}
	if api.chatHits.Load() != 0 {
		t.Error("short transcript should not request a summary")
	}
}

func TestTranscribeEmptyResponse(t *testing.T) {
	api := &fakeAPI{
		transcription: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"text": ""})
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	result, err := newTestClient(t, ts, Config{}).Transcribe(context.Background(), payload("x"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(result.Segments) != 0 || result.Summary != DefaultSummaryFallback {
		t.Errorf("result = %+v", result)
	}
}

func TestTranscribeSummaryFailureFallback(t *testing.T) {
	tests := []struct {
		name string
		chat func(w http.ResponseWriter, r *http.Request)
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
		}},
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"nope"}}`, http.StatusBadRequest)
		}},
		{"empty content", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"choices": []map[string]any{{"message": map[string]string{"content": ""}}}})
		}},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"choices": []any{}})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{
				transcription: func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, map[string]any{
						"text":     strings.Repeat("word ", 20),
						"segments": []map[string]any{{"start": 1, "text": strings.Repeat("word ", 20)}},
					})
				},
				chat: tt.chat,
			}
			ts := httptest.NewServer(api)
			defer ts.Close()

			c := newTestClient(t, ts, Config{MaxRetries: 1})
			result, err := c.Transcribe(context.Background(), payload("x"), "audio/wav")
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if result.Summary != DefaultSummaryFallback {
				t.Errorf("summary = %q, want fallback", result.Summary)
			}
			if len(result.Segments) != 1 {
				t.Errorf("segments lost on summary failure: %+v", result.Segments)
			}
			if c.GetStats().SummaryFallbacks != 1 {
				t.Errorf("stats = %+v", c.GetStats())
			}
		})
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	api := &fakeAPI{}
	api.transcription = func(w http.ResponseWriter, r *http.Request) {
		if api.transcribeHits.Load() < 3 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{"text": "ok"})
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	c := newTestClient(t, ts, Config{MaxRetries: 3})
	result, err := c.Transcribe(context.Background(), payload("x"), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Segments[0].Text != "ok" {
		t.Errorf("segments = %+v", result.Segments)
	}
	if api.transcribeHits.Load() != 3 {
		t.Errorf("hits = %d, want 3", api.transcribeHits.Load())
	}
	if c.GetStats().TotalRetries != 2 {
		t.Errorf("retries = %d, want 2", c.GetStats().TotalRetries)
	}
}

func TestTranscribeClientErrorNotRetried(t *testing.T) {
	api := &fakeAPI{
		transcription: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key"}}`))
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	c := newTestClient(t, ts, Config{MaxRetries: 3})
	_, err := c.Transcribe(context.Background(), payload("x"), "audio/wav")

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Invalid API Key" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if api.transcribeHits.Load() != 1 {
		t.Errorf("hits = %d, want 1", api.transcribeHits.Load())
	}
	if c.GetStats().FailedRequests != 1 {
		t.Errorf("stats = %+v", c.GetStats())
	}
}

func TestTranscribeRetriesExhausted(t *testing.T) {
	api := &fakeAPI{
		transcription: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	_, err := newTestClient(t, ts, Config{MaxRetries: 2}).Transcribe(context.Background(), payload("x"), "audio/wav")

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
	if api.transcribeHits.Load() != 3 {
		t.Errorf("hits = %d, want 3", api.transcribeHits.Load())
	}
}

func TestTranscribeInvalidPayload(t *testing.T) {
	api := &fakeAPI{transcription: func(w http.ResponseWriter, r *http.Request) {}}
	ts := httptest.NewServer(api)
	defer ts.Close()

	_, err := newTestClient(t, ts, Config{}).Transcribe(context.Background(), "not base64!!", "audio/wav")
	if err == nil || err.Error() != "Invalid audio data" {
		t.Fatalf("err = %v", err)
	}
	if api.transcribeHits.Load() != 0 {
		t.Error("invalid payload reached the API")
	}
}

func TestTranscribeCancelled(t *testing.T) {
	api := &fakeAPI{
		transcription: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		},
	}
	ts := httptest.NewServer(api)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, ts, Config{}).Transcribe(ctx, payload("x"), "audio/wav")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Error("expected error without API key")
	}
}

func TestErrorTemporary(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{&Error{StatusCode: 0}, true},
		{&Error{StatusCode: 429}, true},
		{&Error{StatusCode: 502}, true},
		{&Error{StatusCode: 400}, false},
		{&Error{StatusCode: 404}, false},
		{&Error{permanent: true}, false},
	}
	for _, tt := range tests {
		if got := tt.err.Temporary(); got != tt.want {
			t.Errorf("Temporary(%d, permanent=%v) = %v, want %v", tt.err.StatusCode, tt.err.permanent, got, tt.want)
		}
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"audio/wav":                "wav",
		"audio/mpeg":               "mp3",
		"audio/mp4":                "m4a",
		"audio/webm;codecs=opus":   "webm",
		"audio/ogg":                "ogg",
		"application/octet-stream": "wav",
	}
	for in, want := range tests {
		if got := extensionFor(in); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", in, got, want)
		}
	}
}
