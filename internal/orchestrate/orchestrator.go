// Package orchestrate executes dependency-ordered task plans level by level
// and tracks their progress. Subtasks within a level run concurrently up to
// the configured bound; failures are retried with linear backoff, and
// critical failures halt the run and compensate already completed work.
package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/PuertOcho/puertocho-intent/internal/config"
	"github.com/PuertOcho/puertocho-intent/internal/observe"
	"github.com/PuertOcho/puertocho-intent/internal/task"
	"github.com/PuertOcho/puertocho-intent/internal/tools"
)

// Result summarizes one plan execution.
type Result struct {
	RequestID     string          `json:"request_id"`
	TrackerID     string          `json:"tracker_id"`
	Total         int             `json:"total"`
	Completed     int             `json:"completed"`
	Failed        int             `json:"failed"`
	Cancelled     int             `json:"cancelled"`
	AllSuccessful bool            `json:"all_successful"`
	RolledBack    []string        `json:"rolled_back,omitempty"`
	HaltReason    string          `json:"halt_reason,omitempty"`
	Duration      time.Duration   `json:"duration"`
	Subtasks      []*task.Subtask `json:"subtasks"`
}

// Orchestrator executes task plans. Safe for concurrent use.
type Orchestrator struct {
	registry *tools.Registry
	tracker  *ProgressTracker
	cfg      config.OrchestratorConfig
	metrics  *observe.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// OrchestratorOption configures an [Orchestrator].
type OrchestratorOption func(*Orchestrator)

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator executing against registry and
// reporting through tracker.
func NewOrchestrator(registry *tools.Registry, tracker *ProgressTracker, cfg config.OrchestratorConfig, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		tracker:  tracker,
		cfg:      cfg,
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// execution is the mutable state of one plan run.
type execution struct {
	trackerID string
	plan      *task.Plan

	mu             sync.Mutex
	completedOrder []string
	rolledBack     []string
	halt           error
}

func (e *execution) setHalt(err error) {
	e.mu.Lock()
	if e.halt == nil {
		e.halt = err
	}
	e.mu.Unlock()
}

func (e *execution) halted() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halt
}

// Execute runs the plan to completion. Levels run in order; a critical
// failure (authentication or another permanent rejection, a timeout, or a
// cancelled request) halts the run after the current level, cancels
// everything not yet started, and rolls back completed subtasks that support
// it, in reverse completion order.
func (o *Orchestrator) Execute(ctx context.Context, requestID string, p *task.Plan) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	start := o.now()

	exec := &execution{
		trackerID: o.tracker.Start(requestID, p.All()),
		plan:      p,
	}
	o.metrics.RunningExecutions.Add(ctx, 1)
	defer o.metrics.RunningExecutions.Add(ctx, -1)

	for _, level := range p.Levels {
		if exec.halted() != nil {
			break
		}
		if err := ctx.Err(); err != nil {
			exec.setHalt(err)
			break
		}
		o.runLevel(ctx, exec, level)
	}

	if halt := exec.halted(); halt != nil {
		o.cancelPending(ctx, exec, halt)
		if o.cfg.EnableRollbackOnFailure {
			o.rollback(ctx, exec)
		}
	}
	return o.buildResult(requestID, exec, start), nil
}

// runLevel executes one level, concurrently when enabled.
func (o *Orchestrator) runLevel(ctx context.Context, exec *execution, level []string) {
	if !o.cfg.EnableParallelExecution || len(level) == 1 {
		for _, id := range level {
			if exec.halted() != nil {
				return
			}
			o.runSubtask(ctx, exec, exec.plan.Get(id))
		}
		return
	}

	limit := o.cfg.MaxParallelTasks
	if limit <= 0 {
		limit = 4
	}
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for _, id := range level {
		st := exec.plan.Get(id)
		if err := sem.Acquire(ctx, 1); err != nil {
			exec.setHalt(err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			o.runSubtask(ctx, exec, st)
		}()
	}
	wg.Wait()
}

// runSubtask drives one subtask through its attempt loop and records the
// terminal transition. Critical failures are recorded on the execution.
func (o *Orchestrator) runSubtask(ctx context.Context, exec *execution, st *task.Subtask) {
	if !o.dependenciesCompleted(exec.plan, st) {
		o.finish(ctx, exec, st, task.StatusCancelled, nil, errors.New("dependency not completed"))
		return
	}

	action, ok := o.registry.Get(st.ActionID)
	if !ok {
		o.finish(ctx, exec, st, task.StatusFailed, nil, tools.ErrUnknownAction)
		return
	}
	args := o.argsFor(exec.plan, st, action)

	maxAttempts := 1
	if o.cfg.EnableErrorRecovery {
		retries := st.MaxRetries
		if retries <= 0 {
			retries = o.cfg.MaxRetries
		}
		maxAttempts = 1 + retries
	}

	st.StartedAt = o.now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		st.Status = task.StatusExecuting
		o.publish(exec, st, 0)

		result, err := o.invoke(ctx, action, args)
		if err == nil {
			o.complete(ctx, exec, st, result)
			return
		}
		lastErr = err

		if attempt == maxAttempts || !retryable(action, err) {
			break
		}
		st.Status = task.StatusRetrying
		st.RetryCount++
		o.publish(exec, st, 0)
		slog.Info("subtask retry",
			"subtask", st.ID, "action", st.ActionID, "attempt", attempt, "err", err)
		if serr := o.sleep(ctx, time.Duration(attempt)*o.cfg.RetryDelay()); serr != nil {
			lastErr = serr
			break
		}
	}

	status := task.StatusFailed
	if errors.Is(lastErr, context.DeadlineExceeded) {
		status = task.StatusTimeout
	}
	o.finish(ctx, exec, st, status, nil, lastErr)
	if isCritical(lastErr) {
		exec.setHalt(lastErr)
	}
}

// invoke calls the action under the per-subtask timeout, timing it.
func (o *Orchestrator) invoke(ctx context.Context, action tools.Action, args map[string]any) (map[string]any, error) {
	actx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout())
	defer cancel()

	started := o.now()
	result, err := o.registry.Invoke(actx, action.ID, args)
	o.metrics.ToolExecutionDuration.Record(ctx, o.now().Sub(started).Seconds(),
		metric.WithAttributes(observe.Attr("action", action.ID)))
	return result, err
}

// complete records a successful subtask. A result failing the tracker's
// output-key validation demotes the subtask to failed.
func (o *Orchestrator) complete(ctx context.Context, exec *execution, st *task.Subtask, result map[string]any) {
	st.Result = result
	if err := o.tracker.Update(exec.trackerID, st.ID, task.StatusCompleted, 100, result, ""); err != nil {
		st.Result = nil
		o.finish(ctx, exec, st, task.StatusFailed, nil, err)
		return
	}
	st.Status = task.StatusCompleted
	st.FinishedAt = o.now()
	o.metrics.RecordSubtask(ctx, st.ActionID, string(st.Status))

	exec.mu.Lock()
	exec.completedOrder = append(exec.completedOrder, st.ID)
	exec.mu.Unlock()
}

// finish records a terminal non-completed transition.
func (o *Orchestrator) finish(ctx context.Context, exec *execution, st *task.Subtask, status task.Status, result map[string]any, cause error) {
	st.Status = status
	st.FinishedAt = o.now()
	if cause != nil {
		st.Error = cause.Error()
	}
	if err := o.tracker.Update(exec.trackerID, st.ID, status, 0, result, st.Error); err != nil {
		slog.Warn("progress update failed", "subtask", st.ID, "err", err)
	}
	o.metrics.RecordSubtask(ctx, st.ActionID, string(status))
}

// publish reports a non-terminal transition to the tracker.
func (o *Orchestrator) publish(exec *execution, st *task.Subtask, percent float64) {
	if err := o.tracker.Update(exec.trackerID, st.ID, st.Status, percent, nil, ""); err != nil {
		slog.Warn("progress update failed", "subtask", st.ID, "err", err)
	}
}

// cancelPending marks everything not yet terminal as cancelled after a halt.
func (o *Orchestrator) cancelPending(ctx context.Context, exec *execution, cause error) {
	for _, st := range exec.plan.All() {
		if st.Status.Terminal() {
			continue
		}
		o.finish(ctx, exec, st, task.StatusCancelled, nil, errors.New("execution halted"))
	}
	slog.Warn("execution halted", "tracker", exec.trackerID, "cause", cause)
}

// rollback compensates completed subtasks in reverse completion order.
// Rollback runs even when the request context is already cancelled.
func (o *Orchestrator) rollback(ctx context.Context, exec *execution) {
	rctx := context.WithoutCancel(ctx)

	exec.mu.Lock()
	order := append([]string(nil), exec.completedOrder...)
	exec.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		st := exec.plan.Get(order[i])
		action, ok := o.registry.Get(st.ActionID)
		if !ok || !action.SupportsRollback {
			continue
		}
		args := o.argsFor(exec.plan, st, action)
		if err := o.registry.Rollback(rctx, st.ActionID, args, st.Result); err != nil {
			slog.Error("rollback failed", "subtask", st.ID, "action", st.ActionID, "err", err)
			continue
		}
		o.finish(rctx, exec, st, task.StatusCancelled, nil, errors.New("rolled back"))
		exec.mu.Lock()
		exec.rolledBack = append(exec.rolledBack, st.ID)
		exec.mu.Unlock()
	}
}

// buildResult summarizes the final subtask states.
func (o *Orchestrator) buildResult(requestID string, exec *execution, start time.Time) *Result {
	res := &Result{
		RequestID: requestID,
		TrackerID: exec.trackerID,
		Duration:  o.now().Sub(start),
		Subtasks:  exec.plan.All(),
	}
	for _, st := range res.Subtasks {
		res.Total++
		switch st.Status {
		case task.StatusCompleted:
			res.Completed++
		case task.StatusFailed, task.StatusTimeout:
			res.Failed++
		case task.StatusCancelled:
			res.Cancelled++
		}
	}
	res.AllSuccessful = res.Failed == 0 && res.Cancelled == 0
	if halt := exec.halted(); halt != nil {
		res.HaltReason = halt.Error()
	}
	exec.mu.Lock()
	res.RolledBack = append([]string(nil), exec.rolledBack...)
	exec.mu.Unlock()
	return res
}

// dependenciesCompleted reports whether every dependency finished
// successfully.
func (o *Orchestrator) dependenciesCompleted(p *task.Plan, st *task.Subtask) bool {
	for _, dep := range st.Dependencies {
		depSt := p.Get(dep)
		if depSt == nil || depSt.Status != task.StatusCompleted {
			return false
		}
	}
	return true
}

// argsFor builds the invocation arguments: the subtask's entities plus
// dependency results projected onto the action's declared parameters.
func (o *Orchestrator) argsFor(p *task.Plan, st *task.Subtask, action tools.Action) map[string]any {
	args := make(map[string]any, len(st.Entities))
	for k, v := range st.Entities {
		args[k] = v
	}
	props := schemaProperties(action)
	for _, dep := range st.Dependencies {
		depSt := p.Get(dep)
		if depSt == nil || depSt.Result == nil {
			continue
		}
		for k, v := range depSt.Result {
			if !props[k] {
				continue
			}
			if _, set := args[k]; !set {
				args[k] = v
			}
		}
	}
	return args
}

// schemaProperties lists the parameter names an action's input schema
// declares.
func schemaProperties(action tools.Action) map[string]bool {
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(action.InputSchema, &doc); err != nil {
		return nil
	}
	props := make(map[string]bool, len(doc.Properties))
	for name := range doc.Properties {
		props[name] = true
	}
	return props
}

// retryable decides whether another attempt is allowed. Validation
// rejections and permanent failures never retry. Idempotent actions retry on
// anything else; non-idempotent actions only on explicitly transient
// failures, since a timed-out invocation may have taken effect.
func retryable(action tools.Action, err error) bool {
	var verr *tools.ValidationError
	if errors.As(err, &verr) || errors.Is(err, tools.ErrPermanent) {
		return false
	}
	if action.Idempotent {
		return true
	}
	return errors.Is(err, tools.ErrTransient)
}

// isCritical reports whether the failure must halt the whole run.
func isCritical(err error) bool {
	return errors.Is(err, tools.ErrPermanent) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
