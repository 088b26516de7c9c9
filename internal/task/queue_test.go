package task

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MuhammadQasim111/AudioTranscriber/internal/transcript"
)

func smallFile(name string) File {
	return NewFileFromBytes(name, "audio/wav", []byte("RIFF"))
}

// TestSubmitKeepsOrder verifies one pending task per file in submission order.
func TestSubmitKeepsOrder(t *testing.T) {
	q := NewQueue(QueueConfig{})
	created := q.Submit(smallFile("a.wav"), smallFile("b.wav"), smallFile("c.wav"))

	if len(created) != 3 {
		t.Fatalf("len = %d, want 3", len(created))
	}

	seen := map[string]bool{}
	for i, task := range q.List() {
		if task.ID != created[i].ID {
			t.Errorf("List()[%d] = %s, want %s", i, task.ID, created[i].ID)
		}
		if task.Status != StatusPending || task.Progress != 0 {
			t.Errorf("task %d: status=%s progress=%d", i, task.Status, task.Progress)
		}
		if seen[task.ID] {
			t.Errorf("duplicate id %s", task.ID)
		}
		seen[task.ID] = true
	}
}

// TestSubmitRejectsOversize checks that a 101 MiB file is created in Error.
func TestSubmitRejectsOversize(t *testing.T) {
	q := NewQueue(QueueConfig{})
	big := File{Name: "huge.wav", MimeType: "audio/wav", Size: 101 * 1024 * 1024}

	created := q.Submit(big, smallFile("ok.wav"))

	if created[0].Status != StatusError {
		t.Fatalf("status = %s, want error", created[0].Status)
	}
	if created[0].Error != "File exceeds 100MB limit." {
		t.Errorf("error = %q", created[0].Error)
	}
	if created[0].Progress != 0 {
		t.Errorf("progress = %d, want 0", created[0].Progress)
	}
	if created[1].Status != StatusPending {
		t.Errorf("second file status = %s, want pending", created[1].Status)
	}

	next, ok := q.NextPending()
	if !ok || next.ID != created[1].ID {
		t.Errorf("NextPending = %v %v, want second task", next.ID, ok)
	}
}

func TestSubmitExactLimitAccepted(t *testing.T) {
	q := NewQueue(QueueConfig{MaxFileSize: 10})
	created := q.Submit(File{Name: "edge.wav", Size: 10}, File{Name: "over.wav", Size: 11})

	if created[0].Status != StatusPending {
		t.Errorf("file at limit: status = %s", created[0].Status)
	}
	if created[1].Error != "File exceeds 10 byte limit." {
		t.Errorf("over limit message = %q", created[1].Error)
	}
	if !errors.Is(&SizeLimitError{Limit: 10}, ErrSizeLimitExceeded) {
		t.Error("SizeLimitError should match ErrSizeLimitExceeded")
	}
}

// TestUpdateLifecycle walks the compressed path to success.
func TestUpdateLifecycle(t *testing.T) {
	q := NewQueue(QueueConfig{})
	id := q.Submit(smallFile("a.wav"))[0].ID

	steps := []Patch{
		StageUpdate(StatusCompressing, 0),
		ProgressUpdate(20),
		ProgressUpdate(50),
		StageUpdate(StatusUploading, 0),
		ProgressUpdate(100),
		StageUpdate(StatusTranscribing, 100),
	}
	for i, p := range steps {
		if err := q.Update(id, p); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	got, _ := q.Get(id)
	if got.Status != StatusTranscribing || got.Progress != 100 {
		t.Fatalf("status=%s progress=%d", got.Status, got.Progress)
	}

	result := &transcript.Result{Segments: []transcript.Segment{{Speaker: "Speaker", Timestamp: "00:00", Text: "hi"}}}
	if err := q.Update(id, SuccessUpdate(result)); err != nil {
		t.Fatalf("success: %v", err)
	}

	got, _ = q.Get(id)
	if got.Status != StatusSuccess || got.Progress != 100 || got.Error != "" {
		t.Fatalf("unexpected terminal task: %+v", got)
	}
	if got.Result == nil || got.Result.Segments[0].Text != "hi" {
		t.Fatalf("result not stored: %+v", got.Result)
	}
}

func TestUpdateProgressRules(t *testing.T) {
	q := NewQueue(QueueConfig{})
	id := q.Submit(smallFile("a.wav"))[0].ID
	_ = q.Update(id, StageUpdate(StatusUploading, 0))

	tests := []struct {
		progress int
		want     int
	}{
		{40, 40},
		{30, 40},
		{-5, 40},
		{250, 100},
	}
	for _, tt := range tests {
		if err := q.Update(id, ProgressUpdate(tt.progress)); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, _ := q.Get(id)
		if got.Progress != tt.want {
			t.Errorf("after %d: progress = %d, want %d", tt.progress, got.Progress, tt.want)
		}
	}
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	tests := []struct {
		name  string
		setup []Status
		to    Status
	}{
		{"pending to success", nil, StatusSuccess},
		{"pending to transcribing", nil, StatusTranscribing},
		{"uploading back to compressing", []Status{StatusUploading}, StatusCompressing},
		{"error is terminal", []Status{StatusError}, StatusPending},
		{"success is terminal", []Status{StatusUploading, StatusTranscribing, StatusSuccess}, StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(QueueConfig{})
			id := q.Submit(smallFile("a.wav"))[0].ID
			for _, s := range tt.setup {
				if err := q.Update(id, StageUpdate(s, 0)); err != nil {
					t.Fatalf("setup %s: %v", s, err)
				}
			}

			err := q.Update(id, StageUpdate(tt.to, 0))
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("err = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestUpdateErrorClearsResult(t *testing.T) {
	q := NewQueue(QueueConfig{})
	id := q.Submit(smallFile("a.wav"))[0].ID
	_ = q.Update(id, StageUpdate(StatusUploading, 0))
	_ = q.Update(id, ProgressUpdate(70))

	if err := q.Update(id, FailureUpdate("")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, _ := q.Get(id)
	if got.Status != StatusError || got.Error != FallbackErrorMessage {
		t.Errorf("status=%s error=%q", got.Status, got.Error)
	}
	if got.Progress != 0 || got.Result != nil {
		t.Errorf("progress=%d result=%v", got.Progress, got.Result)
	}
}

func TestUpdateMissingIsNoop(t *testing.T) {
	q := NewQueue(QueueConfig{})
	q.Submit(smallFile("a.wav"))
	before := q.Events().LastSeq()

	if err := q.Update("missing", StageUpdate(StatusUploading, 0)); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if q.Events().LastSeq() != before {
		t.Error("no-op update published an event")
	}
}

func TestRemoveClearsSelection(t *testing.T) {
	q := NewQueue(QueueConfig{})
	created := q.Submit(smallFile("a.wav"), smallFile("b.wav"))

	if err := q.Select(created[0].ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if !q.Remove(created[0].ID) {
		t.Fatal("remove returned false")
	}
	if q.Remove(created[0].ID) {
		t.Error("second remove returned true")
	}
	if _, ok := q.Selected(); ok {
		t.Error("selection survived removal")
	}
	if q.Len() != 1 {
		t.Errorf("len = %d, want 1", q.Len())
	}
	if err := q.Select("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("select missing: %v", err)
	}
}

func TestSelectIfNone(t *testing.T) {
	q := NewQueue(QueueConfig{})
	created := q.Submit(smallFile("a.wav"), smallFile("b.wav"))

	if !q.SelectIfNone(created[1].ID) {
		t.Fatal("first SelectIfNone should select")
	}
	if q.SelectIfNone(created[0].ID) {
		t.Fatal("second SelectIfNone should not replace the selection")
	}
	sel, ok := q.Selected()
	if !ok || sel.ID != created[1].ID {
		t.Errorf("selected = %s", sel.ID)
	}

	q.ClearSelection()
	if _, ok := q.Selected(); ok {
		t.Error("selection not cleared")
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	q := NewQueue(QueueConfig{})
	id := q.Submit(smallFile("a.wav"))[0].ID
	_ = q.Update(id, StageUpdate(StatusUploading, 0))
	_ = q.Update(id, StageUpdate(StatusTranscribing, 100))
	_ = q.Update(id, SuccessUpdate(&transcript.Result{Segments: []transcript.Segment{{Text: "orig"}}}))

	snap, _ := q.Get(id)
	snap.Result.Segments[0].Text = "mutated"
	snap.Status = StatusPending

	again, _ := q.Get(id)
	if again.Result.Segments[0].Text != "orig" || again.Status != StatusSuccess {
		t.Errorf("queue state changed through a snapshot: %+v", again)
	}
}

func TestCounts(t *testing.T) {
	q := NewQueue(QueueConfig{MaxFileSize: 5})
	q.Submit(File{Name: "a", Size: 1}, File{Name: "b", Size: 1}, File{Name: "c", Size: 9})

	counts := q.Counts()
	if counts[StatusPending] != 2 || counts[StatusError] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestQueuePublishesEvents(t *testing.T) {
	q := NewQueue(QueueConfig{})
	ch, cancel := q.Events().Subscribe(8)
	defer cancel()

	id := q.Submit(smallFile("a.wav"))[0].ID
	_ = q.Update(id, StageUpdate(StatusUploading, 0))
	q.Remove(id)

	want := []EventType{EventSubmitted, EventUpdated, EventRemoved}
	for i, typ := range want {
		ev := <-ch
		if ev.Type != typ || ev.TaskID != id {
			t.Errorf("event %d = %s/%s, want %s/%s", i, ev.Type, ev.TaskID, typ, id)
		}
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d seq = %d", i, ev.Seq)
		}
	}
}

func TestFileFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memo.mp3")
	if err := os.WriteFile(path, []byte("ID3data"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := NewFileFromPath(path, "")
	if err != nil {
		t.Fatalf("NewFileFromPath: %v", err)
	}
	if f.Name != "memo.mp3" || f.MimeType != "audio/mpeg" || f.Size != 7 {
		t.Errorf("unexpected file: %+v", f)
	}

	data, err := f.ReadAll()
	if err != nil || string(data) != "ID3data" {
		t.Errorf("ReadAll = %q, %v", data, err)
	}

	if _, err := NewFileFromPath(filepath.Dir(path), ""); err == nil {
		t.Error("expected error for directory")
	}
	if _, err := (File{Name: "x"}).Open(); err == nil {
		t.Error("expected error opening file without content")
	}
}
