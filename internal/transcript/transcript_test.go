package transcript

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00"},
		{0.99, "00:00"},
		{5.5, "00:05"},
		{59.999, "00:59"},
		{60, "01:00"},
		{125.4, "02:05"},
		{3599, "59:59"},
		{3600, "60:00"},
		{6000 * 60, "6000:00"},
		{-3, "00:00"},
		{math.NaN(), "00:00"},
	}

	for _, tt := range tests {
		if got := FormatTimestamp(tt.seconds); got != tt.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestRenderText(t *testing.T) {
	r := &Result{
		Segments: []Segment{
			{Speaker: "Speaker", Timestamp: "00:00", Text: "Hello there."},
			{Speaker: "Speaker", Timestamp: "00:07", Text: "General Kenobi."},
		},
		Summary: "A greeting.",
	}

	want := "[00:00] Speaker: Hello there.\n[00:07] Speaker: General Kenobi."
	if got := RenderText(r); got != want {
		t.Errorf("RenderText = %q, want %q", got, want)
	}

	if got := RenderText(&Result{}); got != "" {
		t.Errorf("Expected empty render, got %q", got)
	}
	if got := RenderText(nil); got != "" {
		t.Errorf("Expected empty render for nil, got %q", got)
	}
}

func TestExportFilename(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"meeting.mp3", "transcription-meeting.txt"},
		{"archive.tar.gz", "transcription-archive.tar.txt"},
		{"noext", "transcription-noext.txt"},
		{"voice note.m4a", "transcription-voice note.txt"},
	}

	for _, tt := range tests {
		if got := ExportFilename(tt.name); got != tt.want {
			t.Errorf("ExportFilename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIsRTL(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"hello world", false},
		{"", false},
		{"سلام دنیا", true},
		{"یہ ایک ٹیسٹ ہے", true},
		{"mixed مرحبا text", true},
		{"שלום", false},
	}

	for _, tt := range tests {
		if got := IsRTL(tt.text); got != tt.want {
			t.Errorf("IsRTL(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestFullTextAndClone(t *testing.T) {
	r := &Result{Segments: []Segment{{Text: "one"}, {Text: "two"}}}
	if got := r.FullText(); got != "one two" {
		t.Errorf("FullText = %q", got)
	}

	c := r.Clone()
	c.Segments[0].Text = "changed"
	if r.Segments[0].Text != "one" {
		t.Error("Clone shares segment storage with the original")
	}

	var nilResult *Result
	if nilResult.Clone() != nil {
		t.Error("Expected nil clone of nil result")
	}
}

func TestWriteText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", ExportFilename("call.wav"))
	r := &Result{Segments: []Segment{{Speaker: "Speaker", Timestamp: "01:02", Text: "done"}}}

	if err := WriteText(path, r); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "[01:02] Speaker: done" {
		t.Errorf("Unexpected file content %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the transcript file, found %d entries", len(entries))
	}
}
