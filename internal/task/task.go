// Package task holds the task records of submitted audio files and the
// ordered, mutex-guarded queue that owns them.
package task

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/transcript"
)

// Status is the lifecycle stage of a task.
type Status string

const (
	StatusPending      Status = "pending"
	StatusCompressing  Status = "compressing"
	StatusUploading    Status = "uploading"
	StatusTranscribing Status = "transcribing"
	StatusSuccess      Status = "success"
	StatusError        Status = "error"
)

// FallbackErrorMessage is stored when a task fails without a message.
const FallbackErrorMessage = "Processing failed."

// Terminal reports whether s is Success or Error.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Active reports whether s is a processing stage.
func (s Status) Active() bool {
	switch s {
	case StatusCompressing, StatusUploading, StatusTranscribing:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompressing, StatusUploading, StatusTranscribing, StatusSuccess, StatusError:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the task state machine edges.
func isValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCompressing || to == StatusUploading || to == StatusError
	case StatusCompressing:
		return to == StatusUploading || to == StatusError
	case StatusUploading:
		return to == StatusTranscribing || to == StatusError
	case StatusTranscribing:
		return to == StatusSuccess || to == StatusError
	default:
		return false
	}
}

// File describes a submitted audio file and how to read its bytes.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Size     int64  `json:"size"`

	open func() (io.ReadCloser, error)
}

// NewFileFromBytes wraps an in-memory payload.
func NewFileFromBytes(name, mimeType string, data []byte) File {
	return File{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// NewFileFromPath describes a file on disk. An empty mimeType is guessed
// from the extension.
func NewFileFromPath(path, mimeType string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	if mimeType == "" {
		mimeType = MimeTypeFor(path)
	}

	return File{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     info.Size(),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// MimeTypeFor guesses an audio mime type from a file extension.
func MimeTypeFor(path string) string {
	ext := filepath.Ext(path)
	switch ext {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Open returns a reader over the original bytes.
func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %q has no content", f.Name)
	}
	return f.open()
}

// ReadAll returns the complete original bytes.
func (f File) ReadAll() ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// Task is the unit of work for one submitted file.
type Task struct {
	ID        string             `json:"id"`
	File      File               `json:"file"`
	Status    Status             `json:"status"`
	Progress  int                `json:"progress"`
	Result    *transcript.Result `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// clone returns a snapshot that shares no mutable state with t.
func (t *Task) clone() Task {
	out := *t
	out.Result = t.Result.Clone()
	return out
}

// Patch is a partial task update. Nil fields are left unchanged.
type Patch struct {
	Status   *Status
	Progress *int
	Result   *transcript.Result
	Error    *string
}

// StageUpdate moves a task into status with the given starting progress.
func StageUpdate(status Status, progress int) Patch {
	return Patch{Status: &status, Progress: &progress}
}

// ProgressUpdate changes progress within the current stage.
func ProgressUpdate(progress int) Patch {
	return Patch{Progress: &progress}
}

// SuccessUpdate completes a task with its result.
func SuccessUpdate(result *transcript.Result) Patch {
	status := StatusSuccess
	progress := 100
	return Patch{Status: &status, Progress: &progress, Result: result}
}

// FailureUpdate fails a task with message.
func FailureUpdate(message string) Patch {
	status := StatusError
	return Patch{Status: &status, Error: &message}
}
