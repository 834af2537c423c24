package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/llm/provider/spi"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/safego"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// CompleteFunc runs one unmetered generation.
type CompleteFunc func(ctx context.Context, req *entity.GenerateRequest) (*entity.GenerateResponse, error)

// DeferredBatchClient serves providers without a native batch endpoint by
// running members through the synchronous path in the background.
type DeferredBatchClient struct {
	complete    CompleteFunc
	concurrency int64

	mu     sync.Mutex
	jobs   map[string]*deferredJob
	closed bool
	wg     sync.WaitGroup
}

type deferredJob struct {
	cancel  context.CancelFunc
	total   int
	state   entity.RemoteState
	results map[string]*entity.BatchItemResult
}

var _ spi.BatchClient = (*DeferredBatchClient)(nil)

// NewDeferredBatchClient bounds in-flight member calls to concurrency (default 4).
func NewDeferredBatchClient(complete CompleteFunc, concurrency int) *DeferredBatchClient {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &DeferredBatchClient{
		complete:    complete,
		concurrency: int64(concurrency),
		jobs:        make(map[string]*deferredJob),
	}
}

func (c *DeferredBatchClient) Submit(ctx context.Context, prompts []*entity.BatchPrompt, _ map[string]*entity.ModelInstance) (*entity.BatchHandle, error) {
	if len(prompts) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("deferred batch client is closed")
	}

	id := "deferred-" + uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &deferredJob{
		cancel:  cancel,
		total:   len(prompts),
		state:   entity.RemoteStateInProgress,
		results: make(map[string]*entity.BatchItemResult, len(prompts)),
	}
	c.jobs[id] = job

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		defer safego.Recover(runCtx)
		c.run(runCtx, id, job, prompts)
	}()

	return &entity.BatchHandle{
		ProviderID:  prompts[0].Ref.ProviderID,
		RemoteID:    id,
		SubmittedAt: time.Now(),
	}, nil
}

func (c *DeferredBatchClient) run(ctx context.Context, id string, job *deferredJob, prompts []*entity.BatchPrompt) {
	sem := semaphore.NewWeighted(c.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range prompts {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			item := &entity.BatchItemResult{CustomID: p.CustomID}
			resp, err := c.complete(gctx, &entity.GenerateRequest{
				TaskID:       p.TaskID,
				PersonaID:    p.PersonaID,
				Model:        p.Ref.String(),
				Reasoning:    p.Reasoning,
				SystemPrompt: p.SystemPrompt,
				Prompt:       p.Prompt,
				JSON:         p.JSON,
			})
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Text = resp.Text
				item.Usage = resp.Usage
			}
			c.mu.Lock()
			job.results[p.CustomID] = item
			c.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case ctx.Err() != nil:
		job.state = entity.RemoteStateCancelled
	default:
		job.state = entity.RemoteStateCompleted
	}
	logger.Debug("[LLM] deferred batch %s finished: %s (%d/%d results)", id, job.state, len(job.results), job.total)
}

func (c *DeferredBatchClient) Poll(_ context.Context, handle *entity.BatchHandle) (*entity.BatchStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[handle.RemoteID]
	if !ok {
		return &entity.BatchStatus{State: entity.RemoteStateExpired, Message: "job unknown to this process"}, nil
	}
	status := &entity.BatchStatus{State: job.state, Total: job.total}
	for _, r := range job.results {
		if r.Error != "" {
			status.Failed++
		} else {
			status.Completed++
		}
	}
	if job.state == entity.RemoteStateCompleted {
		status.OutputRef = handle.RemoteID
	}
	return status, nil
}

// Fetch returns copies of the collected results and forgets a completed job.
func (c *DeferredBatchClient) Fetch(_ context.Context, handle *entity.BatchHandle, _ *entity.BatchStatus) ([]*entity.BatchItemResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[handle.RemoteID]
	if !ok {
		return nil, fmt.Errorf("deferred batch %s not found", handle.RemoteID)
	}
	out := make([]*entity.BatchItemResult, 0, len(job.results))
	for _, r := range job.results {
		cp := *r
		out = append(out, &cp)
	}
	if job.state.IsTerminal() {
		delete(c.jobs, handle.RemoteID)
	}
	return out, nil
}

func (c *DeferredBatchClient) Cancel(_ context.Context, handle *entity.BatchHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[handle.RemoteID]
	if !ok {
		return nil
	}
	job.cancel()
	if !job.state.IsTerminal() {
		job.state = entity.RemoteStateCancelling
	}
	return nil
}

// Close cancels every running job and waits for the workers to exit.
func (c *DeferredBatchClient) Close() {
	c.mu.Lock()
	c.closed = true
	for _, job := range c.jobs {
		job.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}
