// Package transcript holds transcription results and renders them for export.
package transcript

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultSpeaker labels segments when the collaborator does no diarization.
const DefaultSpeaker = "Speaker"

// Segment is one timestamped piece of transcribed speech.
type Segment struct {
	Speaker   string `json:"speaker"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// Result is the ordered transcript of one file plus an optional summary.
type Result struct {
	Segments []Segment `json:"segments"`
	Summary  string    `json:"summary,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{Summary: r.Summary}
	if r.Segments != nil {
		out.Segments = append([]Segment(nil), r.Segments...)
	}
	return out
}

// FullText joins segment texts with a single space.
func (r *Result) FullText() string {
	if r == nil {
		return ""
	}
	parts := make([]string, len(r.Segments))
	for i, seg := range r.Segments {
		parts[i] = seg.Text
	}
	return strings.Join(parts, " ")
}

// FormatTimestamp renders seconds as MM:SS. Minutes are not capped at 59 and
// may grow past two digits.
func FormatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	minutes := int64(math.Floor(seconds / 60))
	secs := int64(math.Floor(math.Mod(seconds, 60)))
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// RenderText renders the export artifact: one "[timestamp] speaker: text"
// line per segment, joined by newlines.
func RenderText(r *Result) string {
	if r == nil {
		return ""
	}
	lines := make([]string, len(r.Segments))
	for i, seg := range r.Segments {
		lines[i] = fmt.Sprintf("[%s] %s: %s", seg.Timestamp, seg.Speaker, seg.Text)
	}
	return strings.Join(lines, "\n")
}

var lastExtension = regexp.MustCompile(`\.[^/.]+$`)

// ExportFilename returns the download name for a transcript of fileName.
func ExportFilename(fileName string) string {
	return "transcription-" + lastExtension.ReplaceAllString(fileName, "") + ".txt"
}

var rtlScript = regexp.MustCompile(`[\x{0600}-\x{06FF}\x{0750}-\x{077F}\x{08A0}-\x{08FF}\x{FB50}-\x{FDFF}\x{FE70}-\x{FEFF}]`)

// IsRTL reports whether text contains Arabic-script characters (Arabic, Urdu,
// Persian) and should be laid out right to left.
func IsRTL(text string) bool {
	return rtlScript.MatchString(text)
}

// WriteText writes the rendered export to path. The file is replaced
// atomically through a temp file in the same directory.
func WriteText(path string, r *Result) error {
	return atomicWrite(path, []byte(RenderText(r)))
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "transcription-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing transcript: %w", err)
	}
	tmp = nil

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming transcript: %w", err)
	}
	return nil
}
