package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Func is the body of a task. It should call rep.Report as it advances and
// return ErrStopped once rep.Stopped reports a stop request.
type Func func(ctx context.Context, rep *Reporter) error

// Runner starts tasks on their own goroutines
type Runner struct {
	store  ProgressStore
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewRunner creates a runner persisting progress in store
func NewRunner(store ProgressStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{store: store, logger: logger}
}

// Store returns the progress store pollers read from
func (r *Runner) Store() ProgressStore {
	return r.store
}

// Start persists a new progress record, runs fn in the background and
// returns immediately. The task keeps running after ctx's request ends;
// only values carried by ctx are kept.
func (r *Runner) Start(ctx context.Context, name string, fn Func) (*Progress, error) {
	p := NewProgress(name)
	if err := r.store.Create(ctx, p); err != nil {
		return nil, err
	}

	rep := &Reporter{store: r.store, progress: *p}
	taskCtx := context.WithoutCancel(ctx)
	log := r.logger.With(zap.String("task_id", p.ID.String()), zap.String("task", name))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		log.Info("task started")
		start := time.Now()

		err := r.run(taskCtx, fn, rep)
		status := StatusCompleted
		switch {
		case errors.Is(err, ErrStopped):
			status = StatusStopped
		case err != nil:
			status = StatusFailed
		}

		if ferr := rep.finish(taskCtx, status, err); ferr != nil {
			log.Error("failed to persist task result", zap.Error(ferr))
		}

		fields := []zap.Field{zap.String("status", string(status)), zap.Duration("duration", time.Since(start))}
		if status == StatusFailed {
			log.Error("task failed", append(fields, zap.Error(err))...)
			return
		}
		log.Info("task finished", fields...)
	}()

	cp := *p
	return &cp, nil
}

func (r *Runner) run(ctx context.Context, fn Func, rep *Reporter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx, rep)
}

// Stop asks a running task to stop. The task finishes its current unit of work first.
func (r *Runner) Stop(ctx context.Context, id uuid.UUID) error {
	return r.store.RequestStop(ctx, id)
}

// Get returns the current progress of a task
func (r *Runner) Get(ctx context.Context, id uuid.UUID) (*Progress, error) {
	return r.store.Get(ctx, id)
}

// Wait blocks until every started task has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Reporter is a task's handle on its own progress record. It is used by
// the task goroutine only.
type Reporter struct {
	store    ProgressStore
	progress Progress
}

// ID returns the task id
func (rep *Reporter) ID() uuid.UUID {
	return rep.progress.ID
}

// Report persists partial progress
func (rep *Reporter) Report(ctx context.Context, partial, total int, message string) error {
	rep.progress.Partial = partial
	rep.progress.Total = total
	rep.progress.Message = message
	rep.progress.UpdatedAt = time.Now().UTC()
	return rep.store.Update(ctx, &rep.progress)
}

// Stopped reports whether a stop was requested. Call it once per unit of work.
func (rep *Reporter) Stopped(ctx context.Context) bool {
	p, err := rep.store.Get(ctx, rep.progress.ID)
	if err != nil {
		return false
	}
	return p.StopRequested
}

func (rep *Reporter) finish(ctx context.Context, status Status, err error) error {
	now := time.Now().UTC()
	rep.progress.Status = status
	rep.progress.UpdatedAt = now
	rep.progress.FinishedAt = &now
	if status == StatusCompleted && rep.progress.Total > 0 {
		rep.progress.Partial = rep.progress.Total
	}
	if err != nil && status == StatusFailed {
		msg := err.Error()
		rep.progress.Error = &msg
	}
	return rep.store.Update(ctx, &rep.progress)
}
