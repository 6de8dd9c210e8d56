// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package proc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/molecula/relstore/errors"
	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/tracing"
)

// RunnerOption is a functional option type for Runner.
type RunnerOption func(r *Runner)

// OptRunnerSlowTaskThreshold makes the runner profile every task and log
// the profile of those running longer than d.
func OptRunnerSlowTaskThreshold(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.slowTaskThreshold = d
	}
}

// OptRunnerLogger sets the logger, which otherwise comes from the Env.
func OptRunnerLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

type waiter struct {
	task    Task
	granted chan struct{}
	err     error
	began   time.Time
}

// Runner admits tasks by scope. A task waits while it conflicts with a
// running task, or with a task queued before it, so conflicting tasks run
// in submission order within a priority.
type Runner struct {
	env               *Env
	logger            logger.Logger
	slowTaskThreshold time.Duration

	mu      sync.Mutex
	queue   []*waiter
	running map[uuid.UUID]*waiter
	closed  bool

	// background tracks tasks started with Go.
	background sync.WaitGroup
}

// NewRunner returns a runner for tasks over env.
func NewRunner(env *Env, opts ...RunnerOption) *Runner {
	r := &Runner{
		env:     env,
		logger:  env.logger(),
		running: make(map[uuid.UUID]*waiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Env returns the state the runner's tasks run against.
func (r *Runner) Env() *Env { return r.env }

// Lease is a scope granted by Acquire. It must be released exactly once;
// further calls to Release do nothing.
type Lease struct {
	r    *Runner
	w    *waiter
	once sync.Once
}

// Release gives the scope back and admits whatever it was blocking.
func (l *Lease) Release() {
	l.once.Do(func() { l.r.release(l.w) })
}

// Since returns the time elapsed since the scope was granted.
func (l *Lease) Since() time.Duration { return time.Since(l.w.began) }

// Acquire waits until the scope of t is granted. Cancelling ctx gives up
// the wait.
func (r *Runner) Acquire(ctx context.Context, t Task) (*Lease, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, errors.New(errors.ErrClosed, "runner is closed")
	}
	if _, ok := r.running[t.ID()]; ok {
		r.mu.Unlock()
		return nil, errors.Newf(errors.ErrInvalidTransactionState, "task %s already holds its scope", t.ID())
	}
	w := &waiter{task: t, granted: make(chan struct{})}
	r.enqueueLocked(w)
	r.admitLocked()
	r.mu.Unlock()

	select {
	case <-w.granted:
	case <-ctx.Done():
		r.mu.Lock()
		select {
		case <-w.granted:
			r.mu.Unlock()
			if w.err == nil {
				r.release(w)
			}
		default:
			r.removeLocked(w)
			r.admitLocked()
			r.mu.Unlock()
		}
		return nil, ctx.Err()
	}
	if w.err != nil {
		return nil, w.err
	}
	return &Lease{r: r, w: w}, nil
}

// enqueueLocked inserts w behind every queued task of the same or a
// higher priority.
func (r *Runner) enqueueLocked(w *waiter) {
	i := len(r.queue)
	for i > 0 && r.queue[i-1].task.Priority() > w.task.Priority() {
		i--
	}
	r.queue = append(r.queue, nil)
	copy(r.queue[i+1:], r.queue[i:])
	r.queue[i] = w
}

func (r *Runner) removeLocked(w *waiter) {
	for i, q := range r.queue {
		if q == w {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
	RunnerQueueDepth.Set(float64(len(r.queue)))
}

// admitLocked grants every queued task that conflicts neither with a
// running task nor with a task still waiting ahead of it.
func (r *Runner) admitLocked() {
	var blocked []Task
	remaining := r.queue[:0]
	for _, w := range r.queue {
		if r.isBlockedLocked(w.task, blocked) {
			blocked = append(blocked, w.task)
			remaining = append(remaining, w)
			continue
		}
		w.began = time.Now()
		r.running[w.task.ID()] = w
		close(w.granted)
	}
	for i := len(remaining); i < len(r.queue); i++ {
		r.queue[i] = nil
	}
	r.queue = remaining
	RunnerQueueDepth.Set(float64(len(r.queue)))
}

func (r *Runner) isBlockedLocked(t Task, ahead []Task) bool {
	for _, w := range r.running {
		if conflicts(t, w.task) {
			return true
		}
	}
	for _, o := range ahead {
		if conflicts(t, o) {
			return true
		}
	}
	return false
}

func (r *Runner) release(w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, w.task.ID())
	r.admitLocked()
}

// Run executes t once its scope is granted and releases the scope when it
// returns, whether it failed or not. A read-write task that succeeds
// schedules the re-evaluation of the observed queries over the tables it
// changed.
func (r *Runner) Run(ctx context.Context, t ExecTask) ([]*relation.Relation, error) {
	lease, err := r.Acquire(ctx, t)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var span tracing.Span
	var profile *tracing.Profile
	if r.slowTaskThreshold > 0 {
		profile, ctx = tracing.StartProfiledSpanFromContext(ctx, "proc.Task")
		span = profile
	} else {
		span, ctx = tracing.StartSpanFromContext(ctx, "proc.Task")
	}
	span.LogKV("id", t.ID().String(), "priority", t.Priority().String(), "type", t.Type().String())

	results, err := t.Exec(ctx)
	span.Finish()
	r.record(t, lease.Since(), err)
	if profile != nil && profile.Duration > r.slowTaskThreshold {
		r.logSlow(t, profile)
	}
	if err != nil {
		return nil, err
	}
	if c, ok := t.(committer); ok {
		r.ScheduleObservers(c.changedTables())
	}
	return results, nil
}

// Go runs t in the background. Failures are logged.
func (r *Runner) Go(t ExecTask) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debugf("runner closed, dropping %s task %s", t.Priority(), t.ID())
		return
	}
	r.background.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.background.Done()
		if _, err := r.Run(context.Background(), t); err != nil {
			if errors.Is(err, errors.ErrClosed) {
				r.logger.Debugf("%s task %s: %v", t.Priority(), t.ID(), err)
				return
			}
			r.logger.Errorf("%s task %s: %v", t.Priority(), t.ID(), err)
		}
	}()
}

// ScheduleObservers re-evaluates in the background every observed query
// reading one of tables.
func (r *Runner) ScheduleObservers(tables []string) {
	if r.env.Observers == nil || len(tables) == 0 {
		return
	}
	queries := r.env.Observers.QueriesFor(tables)
	if len(queries) == 0 {
		return
	}
	r.Go(NewObserverQueryTask(r.env, queries))
}

func (r *Runner) record(t Task, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	TasksTotal.WithLabelValues(t.Type().String(), t.Priority().String(), status).Inc()
	TaskDurationSeconds.WithLabelValues(t.Type().String()).Observe(d.Seconds())
}

func (r *Runner) logSlow(t Task, p *tracing.Profile) {
	buf, err := json.Marshal(p)
	if err != nil {
		r.logger.Warnf("slow %s task %s took %s", t.Priority(), t.ID(), p.Duration)
		return
	}
	r.logger.Warnf("slow %s task %s took %s: %s", t.Priority(), t.ID(), p.Duration, buf)
}

// RunnerStats is a snapshot of the runner's state.
type RunnerStats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// Stats returns the number of queued and running tasks.
func (r *Runner) Stats() RunnerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunnerStats{Queued: len(r.queue), Running: len(r.running)}
}

// Close fails every queued task with ErrClosed, rejects new ones and waits
// for the background tasks. Running tasks and held leases are left alone.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	for _, w := range r.queue {
		w.err = errors.New(errors.ErrClosed, "runner is closed")
		close(w.granted)
	}
	r.queue = nil
	RunnerQueueDepth.Set(0)
	r.mu.Unlock()

	r.background.Wait()
	return nil
}
