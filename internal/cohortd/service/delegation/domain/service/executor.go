package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultSequentialWindow = 3
	DefaultSubtaskTimeout   = 5 * time.Minute
	DefaultBatchTimeout     = 24 * time.Hour
)

// Dispatch starts one subtask. It either delivers the result to the sink
// before returning (synchronous path) or arranges for a later delivery
// (batch path). prior holds the most recent outputs of the sequential chain.
type Dispatch func(ctx context.Context, spec *entity.SubtaskSpec, prior []string, sink *ResultSink) Dispatched

// Dispatched reports how a subtask was started. The zero value is a
// synchronous dispatch.
type Dispatched struct {
	Path entity.Path
	// Withdraw retracts a deferred generation the executor stopped waiting for.
	Withdraw func(ctx context.Context)
}

func (d Dispatched) path() entity.Path {
	if d.Path == "" {
		return entity.PathSync
	}
	return d.Path
}

// ExecutorConfig bounds subtask execution.
type ExecutorConfig struct {
	// MaxConcurrency caps independent subtasks in flight; 0 means one slot per subtask.
	MaxConcurrency int
	// SequentialWindow is how many prior outputs a sequential subtask sees.
	SequentialWindow int
	// SubtaskTimeout is the wall-clock budget of one synchronous subtask.
	SubtaskTimeout time.Duration
	// BatchTimeout is how long a batch-dispatched subtask is awaited.
	BatchTimeout time.Duration
}

// BlockingFailureError means a subtask the manager marked blocking failed.
type BlockingFailureError struct {
	SubtaskID string
	Reason    string
}

func (e *BlockingFailureError) Error() string {
	return fmt.Sprintf("blocking subtask %s failed: %s", e.SubtaskID, e.Reason)
}

// Executor runs a delegation's subtasks: independent ones concurrently under
// a semaphore, sequential ones strictly in order alongside them.
type Executor struct {
	cfg ExecutorConfig
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.SequentialWindow <= 0 {
		cfg.SequentialWindow = DefaultSequentialWindow
	}
	if cfg.SubtaskTimeout <= 0 {
		cfg.SubtaskTimeout = DefaultSubtaskTimeout
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	return &Executor{cfg: cfg}
}

// Run returns once every subtask of task owner has a terminal result, in
// plan order. A failed blocking subtask cancels the rest and is returned as
// a *BlockingFailureError.
func (e *Executor) Run(ctx context.Context, owner string, specs []*entity.SubtaskSpec, dispatch Dispatch, sink *ResultSink) ([]*entity.SubtaskResult, error) {
	var independent, sequential []*entity.SubtaskSpec
	for _, s := range specs {
		sink.Expect(s.ID)
		if s.Mode == entity.SubtaskSequential {
			sequential = append(sequential, s)
		} else {
			independent = append(independent, s)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		blockOnce sync.Once
		blockErr  error
	)
	runOne := func(spec *entity.SubtaskSpec, prior []string) *entity.SubtaskResult {
		subCtx, subCancel := context.WithTimeout(runCtx, e.cfg.SubtaskTimeout)
		defer subCancel()

		d := dispatch(subCtx, spec, prior, sink)
		waitCtx, budget := subCtx, e.cfg.SubtaskTimeout
		if d.path() == entity.PathBatch {
			var waitCancel context.CancelFunc
			waitCtx, waitCancel = context.WithTimeout(runCtx, e.cfg.BatchTimeout)
			defer waitCancel()
			budget = e.cfg.BatchTimeout
		}
		r, ok := sink.Wait(waitCtx, spec.ID)
		if !ok {
			gone := abandoned(waitCtx, owner, spec, budget)
			gone.Path = d.path()
			if sink.Deliver(gone) && d.Withdraw != nil {
				d.Withdraw(context.WithoutCancel(runCtx))
			}
			r, _ = sink.Get(spec.ID)
		}
		if !r.Success && !r.Cancelled && spec.Blocking {
			blockOnce.Do(func() {
				blockErr = &BlockingFailureError{SubtaskID: spec.ID, Reason: r.Error}
				cancel()
			})
		}
		return r
	}

	limit := int64(e.cfg.MaxConcurrency)
	if limit <= 0 {
		limit = int64(max(len(independent), 1))
	}
	sem := semaphore.NewWeighted(limit)

	var g errgroup.Group
	for _, spec := range independent {
		g.Go(func() error {
			if err := sem.Acquire(runCtx, 1); err != nil {
				sink.Deliver(abandoned(runCtx, owner, spec, e.cfg.SubtaskTimeout))
				return nil
			}
			defer sem.Release(1)
			runOne(spec, nil)
			return nil
		})
	}
	if len(sequential) > 0 {
		g.Go(func() error {
			var outputs []string
			for _, spec := range sequential {
				if runCtx.Err() != nil {
					sink.Deliver(abandoned(runCtx, owner, spec, e.cfg.SubtaskTimeout))
					continue
				}
				r := runOne(spec, window(outputs, e.cfg.SequentialWindow))
				if r.Contributed() {
					outputs = append(outputs, r.Output)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*entity.SubtaskResult, 0, len(specs))
	for _, s := range specs {
		r, _ := sink.Get(s.ID)
		results = append(results, r)
	}
	return results, blockErr
}

func window(outputs []string, m int) []string {
	if len(outputs) <= m {
		return append([]string(nil), outputs...)
	}
	return append([]string(nil), outputs[len(outputs)-m:]...)
}

// abandoned is the result of a subtask whose context ended before it
// delivered. Path stays empty when the subtask was never dispatched.
func abandoned(ctx context.Context, owner string, spec *entity.SubtaskSpec, timeout time.Duration) *entity.SubtaskResult {
	r := &entity.SubtaskResult{SubtaskID: spec.ID, TaskID: owner, SpecialistID: spec.SpecialistID}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.Error = fmt.Sprintf("%v after %s", errno.ErrSubtaskTimeout, timeout)
		return r
	}
	r.Cancelled = true
	r.Error = errno.ErrAborted.Error()
	return r
}

// failureOf classifies an error that ended a subtask under ctx.
func failureOf(ctx context.Context, err error, timeout time.Duration) (msg string, cancelled bool) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("%v after %s", errno.ErrSubtaskTimeout, timeout), false
	case ctx.Err() != nil:
		return errno.ErrAborted.Error(), true
	}
	return err.Error(), false
}
