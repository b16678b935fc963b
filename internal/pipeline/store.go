package pipeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("task not found")

// Store is the process-wide task registry. Each entry carries its own lock;
// external readers poll snapshots while exactly one runner mutates the entry
// through the Handle it received at creation.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	task Task
}

func NewStore() *Store {
	return &Store{tasks: make(map[string]*entry)}
}

// Create registers a new running task and returns its write handle. The
// handle is the only way to mutate the task; it belongs to the orchestrator
// run that requested it.
func (s *Store) Create(query string) *Handle {
	e := &entry{task: Task{
		ID:        uuid.New().String(),
		Query:     query,
		Status:    StatusRunning,
		Steps:     make(map[Stage]StageOutput),
		StartedAt: time.Now().UTC(),
	}}

	s.mu.Lock()
	s.tasks[e.task.ID] = e
	s.mu.Unlock()
	return &Handle{entry: e}
}

// Get returns a deep snapshot of the task, safe to read while the run is
// still writing stages.
func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	e, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return Task{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.snapshot(), nil
}

// Handle is the owner-side write capability for one task.
type Handle struct {
	entry *entry
}

func (h *Handle) ID() string { return h.entry.task.ID }

// SetStage records a stage output. Writes against a terminal task or out of
// pipeline order are dropped; both would break invariants readers rely on.
func (h *Handle) SetStage(stage Stage, out StageOutput) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()

	if h.entry.task.terminal() {
		slog.Error("stage write after terminal state dropped", "task_id", h.entry.task.ID, "stage", stage)
		return
	}
	if !h.canRecord(stage) {
		slog.Error("out-of-order stage write dropped", "task_id", h.entry.task.ID, "stage", stage)
		return
	}
	h.entry.task.Steps[stage] = out.clone()
}

// canRecord enforces monotonic progress: every earlier stage must already be
// present. Re-recording an existing stage (the reflection re-search grows
// searching and reading) is always allowed.
func (h *Handle) canRecord(stage Stage) bool {
	for _, s := range stageOrder {
		if s == stage {
			return true
		}
		if _, ok := h.entry.task.Steps[s]; !ok {
			return false
		}
	}
	return false
}

// Complete marks the task completed and attaches the final brief.
func (h *Handle) Complete(brief Brief) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	if h.entry.task.terminal() {
		return
	}
	b := brief.clone().(Brief)
	h.entry.task.Brief = &b
	h.entry.task.Status = StatusCompleted
	now := time.Now().UTC()
	h.entry.task.CompletedAt = &now
}

// Fail marks the task errored, preserving already-recorded stage outputs.
func (h *Handle) Fail(msg string) {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	if h.entry.task.terminal() {
		return
	}
	h.entry.task.Status = StatusError
	h.entry.task.Error = msg
	now := time.Now().UTC()
	h.entry.task.CompletedAt = &now
}

// Snapshot returns the owner's view of the task.
func (h *Handle) Snapshot() Task {
	h.entry.mu.Lock()
	defer h.entry.mu.Unlock()
	return h.entry.task.snapshot()
}
