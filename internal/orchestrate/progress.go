package orchestrate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PuertOcho/puertocho-intent/internal/config"
	"github.com/PuertOcho/puertocho-intent/internal/task"
	"github.com/PuertOcho/puertocho-intent/internal/tools"
)

// ErrTrackerNotFound is returned for unknown tracker ids.
var ErrTrackerNotFound = fmt.Errorf("orchestrate: tracker not found")

// SubtaskProgress is one subtask's tracked state.
type SubtaskProgress struct {
	SubtaskID string         `json:"subtask_id"`
	ActionID  string         `json:"action_id"`
	Status    task.Status    `json:"status"`
	Percent   float64        `json:"percent"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Counts buckets subtask statuses. Pending + InProgress + Completed + Failed
// + Cancelled always equals Total.
type Counts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Snapshot is a tracker's externally visible state at one instant.
type Snapshot struct {
	TrackerID      string            `json:"tracker_id"`
	RequestID      string            `json:"request_id"`
	Counts         Counts            `json:"counts"`
	OverallPercent float64           `json:"overall_percent"`
	Subtasks       []SubtaskProgress `json:"subtasks"`
	StartedAt      time.Time         `json:"started_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Finished reports whether every subtask reached a terminal status.
func (s *Snapshot) Finished() bool {
	return s.Counts.Pending == 0 && s.Counts.InProgress == 0
}

type trackerState struct {
	id        string
	requestID string
	subtasks  map[string]*SubtaskProgress
	order     []string
	startedAt time.Time
	updatedAt time.Time
}

// ProgressTracker tracks per-request execution progress. Completion updates
// are validated against the action's declared output keys before they are
// accepted. Safe for concurrent use.
type ProgressTracker struct {
	registry *tools.Registry
	cfg      config.ProgressConfig

	mu       sync.Mutex
	trackers map[string]*trackerState

	now   func() time.Time
	newID func() string
}

// NewProgressTracker creates a tracker validating results against registry.
func NewProgressTracker(registry *tools.Registry, cfg config.ProgressConfig) *ProgressTracker {
	return &ProgressTracker{
		registry: registry,
		cfg:      cfg,
		trackers: make(map[string]*trackerState),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Start begins tracking a batch. Every subtask starts Pending regardless of
// its current in-memory status.
func (t *ProgressTracker) Start(requestID string, subtasks []*task.Subtask) string {
	now := t.now()
	st := &trackerState{
		id:        t.newID(),
		requestID: requestID,
		subtasks:  make(map[string]*SubtaskProgress, len(subtasks)),
		startedAt: now,
		updatedAt: now,
	}
	for _, sub := range subtasks {
		st.subtasks[sub.ID] = &SubtaskProgress{
			SubtaskID: sub.ID,
			ActionID:  sub.ActionID,
			Status:    task.StatusPending,
			UpdatedAt: now,
		}
		st.order = append(st.order, sub.ID)
	}

	t.mu.Lock()
	t.trackers[st.id] = st
	t.mu.Unlock()
	return st.id
}

// Update records a subtask transition. Completed updates must carry a result
// containing every output key the action declares; invalid completions are
// rejected and the tracked state is left untouched.
func (t *ProgressTracker) Update(trackerID, subtaskID string, status task.Status, percent float64, result map[string]any, errMsg string) error {
	if status == task.StatusCompleted {
		if err := t.validateCompletion(subtaskID, result, trackerID); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.trackers[trackerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTrackerNotFound, trackerID)
	}
	sp, ok := st.subtasks[subtaskID]
	if !ok {
		return fmt.Errorf("orchestrate: tracker %s has no subtask %s", trackerID, subtaskID)
	}

	now := t.now()
	sp.Status = status
	sp.Percent = clampPercent(percent)
	if status == task.StatusCompleted {
		sp.Percent = 100
	}
	sp.Result = result
	sp.Error = errMsg
	sp.UpdatedAt = now
	st.updatedAt = now
	return nil
}

// validateCompletion checks the result shape against the action's output
// keys.
func (t *ProgressTracker) validateCompletion(subtaskID string, result map[string]any, trackerID string) error {
	t.mu.Lock()
	st, ok := t.trackers[trackerID]
	var actionID string
	if ok {
		if sp, found := st.subtasks[subtaskID]; found {
			actionID = sp.ActionID
		}
	}
	t.mu.Unlock()
	if actionID == "" {
		return nil
	}

	action, ok := t.registry.Get(actionID)
	if !ok || len(action.OutputKeys) == 0 {
		return nil
	}
	var missing []string
	for _, key := range action.OutputKeys {
		if _, present := result[key]; !present {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrate: completion of %s missing output keys: %s",
			subtaskID, strings.Join(missing, ", "))
	}
	return nil
}

// Get returns the tracker's current snapshot.
func (t *ProgressTracker) Get(trackerID string) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.trackers[trackerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTrackerNotFound, trackerID)
	}
	return st.snapshot(), nil
}

// Remove discards a tracker.
func (t *ProgressTracker) Remove(trackerID string) {
	t.mu.Lock()
	delete(t.trackers, trackerID)
	t.mu.Unlock()
}

// Sweep cancels every non-terminal subtask of trackers older than the
// configured maximum tracking duration and returns the cancelled tracker
// ids. Meant to run periodically.
func (t *ProgressTracker) Sweep(now time.Time) []string {
	cutoff := now.Add(-t.cfg.MaxTrackingDuration())

	t.mu.Lock()
	defer t.mu.Unlock()
	var swept []string
	for id, st := range t.trackers {
		if !st.startedAt.Before(cutoff) {
			continue
		}
		stale := false
		for _, sp := range st.subtasks {
			if !sp.Status.Terminal() {
				sp.Status = task.StatusCancelled
				sp.Error = "tracking expired"
				sp.UpdatedAt = now
				stale = true
			}
		}
		if stale {
			st.updatedAt = now
			swept = append(swept, id)
		}
	}
	sort.Strings(swept)
	return swept
}

func (st *trackerState) snapshot() *Snapshot {
	snap := &Snapshot{
		TrackerID: st.id,
		RequestID: st.requestID,
		StartedAt: st.startedAt,
		UpdatedAt: st.updatedAt,
	}
	snap.Counts.Total = len(st.subtasks)
	for _, id := range st.order {
		sp := st.subtasks[id]
		snap.Subtasks = append(snap.Subtasks, *sp)
		switch sp.Status {
		case task.StatusPending:
			snap.Counts.Pending++
		case task.StatusExecuting, task.StatusRetrying:
			snap.Counts.InProgress++
		case task.StatusCompleted:
			snap.Counts.Completed++
		case task.StatusFailed, task.StatusTimeout:
			snap.Counts.Failed++
		case task.StatusCancelled:
			snap.Counts.Cancelled++
		}
	}
	if snap.Counts.Total > 0 {
		snap.OverallPercent = float64(snap.Counts.Completed) / float64(snap.Counts.Total) * 100
	}
	return snap
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
