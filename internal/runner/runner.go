// Package runner provides the bounded worker pool that executes pipeline
// jobs. Each submitted job runs on its own goroutine with a per-task
// cancellable context; the pool never queues beyond its fixed capacity
// and rejects submissions instead of blocking callers.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/podforge/podforge/internal/observe"
)

// ErrAtCapacity is returned by Submit when every worker slot is taken.
// Clients are expected to retry with backoff.
var ErrAtCapacity = errors.New("runner: system at capacity")

// ErrDuplicateTask is returned by Submit when the task ID is already
// tracked.
var ErrDuplicateTask = errors.New("runner: task already submitted")

// Job is one pipeline run. The context is cancelled on Cancel and on
// pool shutdown; the job is expected to poll it at its phase boundaries.
type Job func(ctx context.Context)

// TaskInfo describes one tracked task.
type TaskInfo struct {
	TaskID    string `json:"task_id"`
	Running   bool   `json:"running"`
	Cancelled bool   `json:"cancelled"`
}

// QueueStatus is a point-in-time view of the pool.
type QueueStatus struct {
	Max            int      `json:"max_concurrent_tasks"`
	Active         int      `json:"active_tasks"`
	Available      int      `json:"available_slots"`
	TotalSubmitted int      `json:"total_submitted"`
	TaskIDs        []string `json:"task_ids"`
}

// Runner is the fixed-size pipeline job pool.
type Runner struct {
	mu             sync.Mutex
	max            int
	tasks          map[string]*trackedTask
	totalSubmitted int
	closed         bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *observe.Metrics
}

// Option is a functional option for Runner.
type Option func(*Runner)

// WithMetrics overrides the metric instruments, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

type trackedTask struct {
	cancel    context.CancelFunc
	cancelled bool
}

// New creates a Runner with the given worker count. maxConcurrent
// defaults to 4 when non-positive. A nil logger falls back to
// slog.Default.
func New(maxConcurrent int, logger *slog.Logger, opts ...Option) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		max:     maxConcurrent,
		tasks:   make(map[string]*trackedTask),
		baseCtx: ctx,
		cancel:  cancel,
		logger:  logger,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CanAccept reports whether a submission right now would be accepted.
// The answer is advisory; Submit re-checks under the lock.
func (r *Runner) CanAccept() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && len(r.tasks) < r.max
}

// Submit starts job on its own goroutine if a worker slot is free.
// Returns ErrAtCapacity when the pool is full and ErrDuplicateTask when
// taskID is already tracked.
func (r *Runner) Submit(taskID string, job Job) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("runner: pool is shut down")
	}
	if _, exists := r.tasks[taskID]; exists {
		r.mu.Unlock()
		return ErrDuplicateTask
	}
	if len(r.tasks) >= r.max {
		r.mu.Unlock()
		r.metrics.TasksRejected.Add(context.Background(), 1)
		return ErrAtCapacity
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	r.tasks[taskID] = &trackedTask{cancel: cancel}
	r.totalSubmitted++
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info("task submitted", "task_id", taskID)
	r.metrics.ActiveTasks.Add(context.Background(), 1)

	go func() {
		defer r.wg.Done()
		defer cancel()
		defer func() {
			r.mu.Lock()
			delete(r.tasks, taskID)
			r.mu.Unlock()
			r.metrics.ActiveTasks.Add(context.Background(), -1)
			r.logger.Info("task finished", "task_id", taskID)
		}()
		job(ctx)
	}()
	return nil
}

// Cancel requests cooperative cancellation of a tracked task. Returns
// true if the task was tracked at the time of the call.
func (r *Runner) Cancel(taskID string) bool {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if ok {
		t.cancelled = true
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.logger.Info("task cancellation requested", "task_id", taskID)
	t.cancel()
	return true
}

// Active lists all currently tracked tasks sorted by task ID.
func (r *Runner) Active() []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TaskInfo, 0, len(r.tasks))
	for id, t := range r.tasks {
		out = append(out, TaskInfo{TaskID: id, Running: true, Cancelled: t.cancelled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// QueueStatus returns a snapshot of the pool.
func (r *Runner) QueueStatus() QueueStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return QueueStatus{
		Max:            r.max,
		Active:         len(r.tasks),
		Available:      r.max - len(r.tasks),
		TotalSubmitted: r.totalSubmitted,
		TaskIDs:        ids,
	}
}

// Shutdown cancels every running job and waits for them to return or for
// ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
