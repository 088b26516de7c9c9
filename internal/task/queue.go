package task

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxFileSize is the largest accepted input file (100 MiB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

var (
	// ErrNotFound is returned when an operation names an unknown task.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when an update violates the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSizeLimitExceeded identifies tasks rejected for their file size.
	ErrSizeLimitExceeded = errors.New("file exceeds size limit")
)

// SizeLimitError reports a file larger than the accepted limit.
type SizeLimitError struct {
	Limit int64
}

// Error renders the user-facing message, e.g. "File exceeds 100MB limit.".
func (e *SizeLimitError) Error() string {
	const mib = 1024 * 1024
	if e.Limit%mib == 0 {
		return fmt.Sprintf("File exceeds %dMB limit.", e.Limit/mib)
	}
	return fmt.Sprintf("File exceeds %d byte limit.", e.Limit)
}

// Is matches ErrSizeLimitExceeded.
func (e *SizeLimitError) Is(target error) bool {
	return target == ErrSizeLimitExceeded
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	MaxFileSize int64
	MaxEvents   int
}

// Queue owns every task, keeps submission order and tracks the selected task.
// Readers always receive copies.
type Queue struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string
	selected string
	maxSize  int64

	events *EventBus
	now    func() time.Time
	newID  func() string
}

// NewQueue creates an empty queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	return &Queue{
		tasks:   make(map[string]*Task),
		maxSize: cfg.MaxFileSize,
		events:  NewEventBus(cfg.MaxEvents),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Events returns the bus carrying queue mutations.
func (q *Queue) Events() *EventBus {
	return q.events
}

// MaxFileSize returns the accepted input size limit.
func (q *Queue) MaxFileSize() int64 {
	return q.maxSize
}

// Submit creates one task per file, in order. Files over the size limit are
// created directly in Error; the batch itself is never rejected.
func (q *Queue) Submit(files ...File) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	created := make([]Task, 0, len(files))
	for _, f := range files {
		now := q.now()
		t := &Task{
			ID:        q.newID(),
			File:      f,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if f.Size > q.maxSize {
			t.Status = StatusError
			t.Error = (&SizeLimitError{Limit: q.maxSize}).Error()
		}

		q.tasks[t.ID] = t
		q.order = append(q.order, t.ID)

		snap := t.clone()
		created = append(created, snap)
		q.publish(EventSubmitted, snap.ID, &snap)
	}
	return created
}

// Update merges patch into the task with id. A missing id is a no-op.
// Progress never decreases within a stage and is clamped to 0..100; entering
// a new stage resets it to the patch value or 0.
func (q *Queue) Update(id string, patch Patch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil
	}

	stageChanged := false
	if patch.Status != nil && *patch.Status != t.Status {
		if !isValidTransition(t.Status, *patch.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, *patch.Status)
		}
		t.Status = *patch.Status
		stageChanged = true
	}

	switch {
	case stageChanged:
		t.Progress = 0
		if patch.Progress != nil {
			t.Progress = clampProgress(*patch.Progress)
		}
	case patch.Progress != nil:
		if p := clampProgress(*patch.Progress); p > t.Progress {
			t.Progress = p
		}
	}

	if patch.Result != nil {
		t.Result = patch.Result.Clone()
	}
	if patch.Error != nil {
		t.Error = *patch.Error
	}

	switch t.Status {
	case StatusSuccess:
		t.Error = ""
		t.Progress = 100
	case StatusError:
		t.Result = nil
		t.Progress = 0
		if t.Error == "" {
			t.Error = FallbackErrorMessage
		}
	}

	t.UpdatedAt = q.now()
	snap := t.clone()
	q.publish(EventUpdated, id, &snap)
	return nil
}

// Remove deletes the task with id and clears the selection if it pointed at it.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[id]; !ok {
		return false
	}
	delete(q.tasks, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if q.selected == id {
		q.selected = ""
	}

	q.publish(EventRemoved, id, nil)
	return true
}

// NextPending returns the earliest submitted task still Pending.
func (q *Queue) NextPending() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		if t := q.tasks[id]; t.Status == StatusPending {
			return t.clone(), true
		}
	}
	return Task{}, false
}

// Get returns a snapshot of one task.
func (q *Queue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return Task{}, false
	}
	return t.clone(), true
}

// List returns snapshots of all tasks in submission order.
func (q *Queue) List() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.tasks[id].clone())
	}
	return out
}

// Len returns the number of tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Counts returns the number of tasks per status.
func (q *Queue) Counts() map[Status]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[Status]int)
	for _, t := range q.tasks {
		counts[t.Status]++
	}
	return counts
}

// Select marks id as the currently viewed task.
func (q *Queue) Select(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tasks[id]; !ok {
		return ErrNotFound
	}
	q.selectLocked(id)
	return nil
}

// SelectIfNone selects id only when nothing is selected yet.
func (q *Queue) SelectIfNone(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.selected != "" {
		return false
	}
	if _, ok := q.tasks[id]; !ok {
		return false
	}
	q.selectLocked(id)
	return true
}

// Selected returns the currently viewed task.
func (q *Queue) Selected() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.selected == "" {
		return Task{}, false
	}
	return q.tasks[q.selected].clone(), true
}

// ClearSelection unsets the currently viewed task.
func (q *Queue) ClearSelection() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.selected == "" {
		return
	}
	q.selected = ""
	q.publish(EventSelected, "", nil)
}

func (q *Queue) selectLocked(id string) {
	q.selected = id
	snap := q.tasks[id].clone()
	q.publish(EventSelected, id, &snap)
}

// publish must be called with q.mu held so events keep mutation order.
func (q *Queue) publish(typ EventType, id string, t *Task) {
	q.events.Publish(Event{Type: typ, TaskID: id, Task: t})
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
