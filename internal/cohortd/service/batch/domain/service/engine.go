package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/repo"
	evententity "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultDebounce         = 500 * time.Millisecond
	DefaultMaxWait          = 5 * time.Second
	DefaultMaxBatchSize     = 100
	DefaultPollInterval     = 60 * time.Second
	DefaultMaxFetchAttempts = 3
	DefaultMemberTimeout    = 24 * time.Hour
)

// Gateway is the batch channel of the model gateway.
type Gateway interface {
	Price(ctx context.Context, ref llmentity.ModelRef, usage *llmentity.TokenUsage, batch bool) (float64, error)
	SubmitBatch(ctx context.Context, prompts []*llmentity.BatchPrompt) (*llmentity.BatchHandle, error)
	PollBatch(ctx context.Context, handle *llmentity.BatchHandle) (*llmentity.BatchStatus, error)
	FetchBatch(ctx context.Context, handle *llmentity.BatchHandle, status *llmentity.BatchStatus) ([]*llmentity.BatchItemResult, error)
	CancelBatch(ctx context.Context, handle *llmentity.BatchHandle) error
}

// Meter records the cost of each parsed member.
type Meter interface {
	Record(ctx context.Context, charge *llmentity.Charge) error
}

// Publisher carries batch progress onto the task event stream.
type Publisher interface {
	Publish(ctx context.Context, event evententity.Event) (uint64, error)
}

// EngineConfig tunes coalescing and polling.
type EngineConfig struct {
	// Debounce is the quiet period after the last arrival before a provider's buffer is submitted.
	Debounce time.Duration
	// MaxWait caps how long the first buffered member waits.
	MaxWait time.Duration
	// MaxBatchSize submits a buffer as soon as it holds this many members.
	MaxBatchSize int
	PollInterval time.Duration
	// MaxFetchAttempts bounds result downloads that come back incomplete.
	MaxFetchAttempts int
	// MemberTimeout expires a job that has produced no result for this long.
	MemberTimeout time.Duration
}

// Engine coalesces member requests into provider batch jobs and returns each
// member's result individually.
type Engine interface {
	// Enqueue buffers m for its provider; deliver runs once when m is terminal.
	Enqueue(ctx context.Context, m *entity.Member, deliver entity.Deliver) error
	// CancelTask withdraws every unfinished member of the given tasks.
	CancelTask(ctx context.Context, taskIDs ...string) error
	// CancelMembers withdraws the given members if they are still unfinished.
	CancelMembers(ctx context.Context, memberIDs ...string) error
	// Poll runs one poll cycle. Overlapping cycles are skipped.
	Poll(ctx context.Context) error
	// Recover cancels jobs left unfinished by a previous process.
	Recover(ctx context.Context) (int, error)
	Get(ctx context.Context, id string) (*entity.BatchJob, error)
	List(ctx context.Context, filter *entity.JobFilter) ([]*entity.BatchJob, error)
	Members(ctx context.Context, jobID string) ([]*entity.Member, error)
	// Start launches the poll loop.
	Start(ctx context.Context) error
	// Stop ends the poll loop and withdraws buffered members without delivering them.
	Stop()
}

// buffer collects one provider's members during the debounce window.
type buffer struct {
	provider string
	members  []*entity.Member
	first    time.Time
	timer    *time.Timer
}

// live is a member this process still owes a delivery.
type live struct {
	member  *entity.Member
	deliver entity.Deliver
}

type engine struct {
	cfg     EngineConfig
	gateway Gateway
	meter   Meter
	bus     Publisher
	jobs    repo.JobRepository
	members repo.MemberRepository
	tracer  trace.Tracer

	mu      sync.Mutex
	buffers map[string]*buffer
	live    map[string]*live
	closed  bool
	flushes sync.WaitGroup

	polling sync.Mutex
	// settling orders job writes between a poll and a concurrent cancel.
	settling sync.Mutex

	loopMu   sync.Mutex
	stopLoop context.CancelFunc
	loopDone chan struct{}
}

var _ Engine = (*engine)(nil)

// NewEngine builds the batch engine. meter and bus may be nil.
func NewEngine(cfg EngineConfig, gateway Gateway, jobs repo.JobRepository, members repo.MemberRepository, meter Meter, bus Publisher) (Engine, error) {
	switch {
	case gateway == nil:
		return nil, errno.NewConfigurationError("batch", "gateway is required")
	case jobs == nil || members == nil:
		return nil, errno.NewConfigurationError("batch", "job and member stores are required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxWait < cfg.Debounce {
		cfg.MaxWait = max(DefaultMaxWait, cfg.Debounce)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxFetchAttempts <= 0 {
		cfg.MaxFetchAttempts = DefaultMaxFetchAttempts
	}
	if cfg.MemberTimeout <= 0 {
		cfg.MemberTimeout = DefaultMemberTimeout
	}
	return &engine{
		cfg:     cfg,
		gateway: gateway,
		meter:   meter,
		bus:     bus,
		jobs:    jobs,
		members: members,
		tracer:  otel.Tracer("cohort/batch"),
		buffers: make(map[string]*buffer),
		live:    make(map[string]*live),
	}, nil
}

func (e *engine) Enqueue(ctx context.Context, m *entity.Member, deliver entity.Deliver) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Ref.ProviderID == "" {
		return errno.NewConfigurationError("batch member "+m.ID, "model reference has no provider")
	}
	m.State = entity.MemberStatePending
	m.JobID = ""
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errno.ErrEngineClosed
	}
	if _, dup := e.live[m.ID]; dup {
		return fmt.Errorf("batch member %s is already queued", m.ID)
	}
	if err := e.members.Save(ctx, m); err != nil {
		return fmt.Errorf("failed to save batch member: %w", err)
	}
	e.live[m.ID] = &live{member: m, deliver: deliver}

	provider := m.Ref.ProviderID
	b, ok := e.buffers[provider]
	if !ok {
		b = &buffer{provider: provider, first: time.Now()}
		e.buffers[provider] = b
	}
	b.members = append(b.members, m)
	logger.Debug("[Batch] member %s (task %s) buffered for %s (%d waiting)", m.ID, m.TaskID, provider, len(b.members))

	if len(b.members) >= e.cfg.MaxBatchSize {
		e.detachLocked(b)
		e.flushes.Add(1)
		go e.flush(b)
		return nil
	}
	wait := min(e.cfg.Debounce, e.cfg.MaxWait-time.Since(b.first))
	if b.timer == nil {
		b.timer = time.AfterFunc(wait, func() { e.expire(b) })
	} else {
		b.timer.Reset(wait)
	}
	return nil
}

func (e *engine) detachLocked(b *buffer) {
	if b.timer != nil {
		b.timer.Stop()
	}
	if e.buffers[b.provider] == b {
		delete(e.buffers, b.provider)
	}
}

// expire runs when a buffer's debounce timer fires.
func (e *engine) expire(b *buffer) {
	e.mu.Lock()
	if e.closed || e.buffers[b.provider] != b {
		e.mu.Unlock()
		return
	}
	e.detachLocked(b)
	e.flushes.Add(1)
	e.mu.Unlock()
	e.flush(b)
}

// flush submits a detached buffer as one job.
func (e *engine) flush(b *buffer) {
	defer e.flushes.Done()
	ctx, span := e.tracer.Start(context.Background(), "batch.submit", trace.WithAttributes(
		attribute.String("provider", b.provider),
		attribute.Int("members", len(b.members)),
	))
	defer span.End()

	now := time.Now()
	job := &entity.BatchJob{
		ID:        uuid.NewString(),
		Provider:  b.provider,
		State:     entity.JobStateQueued,
		CreatedAt: now,
	}

	e.mu.Lock()
	var members []*entity.Member
	for _, m := range b.members {
		// Cancelled while buffered.
		if _, ok := e.live[m.ID]; !ok {
			continue
		}
		m.JobID = job.ID
		members = append(members, m.Clone())
		job.MemberIDs = append(job.MemberIDs, m.ID)
	}
	e.mu.Unlock()
	if len(members) == 0 {
		return
	}
	if err := e.jobs.Save(ctx, job); err != nil {
		logger.Error("[Batch] failed to save job %s: %v", job.ID, err)
	}

	prompts := make([]*llmentity.BatchPrompt, 0, len(members))
	for _, m := range members {
		prompts = append(prompts, m.BatchPrompt())
	}
	handle, err := e.gateway.SubmitBatch(ctx, prompts)
	if err != nil {
		span.RecordError(err)
		logger.Warn("[Batch] job %s: submission to %s failed: %v", job.ID, b.provider, err)
		e.endJob(ctx, job, entity.JobStateFailed, "submission failed: "+err.Error())
		return
	}

	job.RemoteID = handle.RemoteID
	job.Native = handle.Native
	submitted := handle.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}
	job.SubmittedAt = &submitted
	if err := job.Transition(entity.JobStateSubmitted, submitted); err != nil {
		logger.Error("[Batch] %v", err)
	}

	// Saved under the lock so a concurrent cancel's terminal write lands last.
	e.mu.Lock()
	for _, m := range members {
		l, ok := e.live[m.ID]
		if !ok {
			continue
		}
		l.member.State = entity.MemberStateSubmitted
		m.State = entity.MemberStateSubmitted
		if err := e.members.Save(ctx, m); err != nil {
			logger.Warn("[Batch] failed to save member %s: %v", m.ID, err)
		}
	}
	e.mu.Unlock()
	if err := e.jobs.Save(ctx, job); err != nil {
		logger.Error("[Batch] failed to save job %s: %v", job.ID, err)
	}
	logger.Info("[Batch] job %s: queued -> submitted (%s, remote %s, %d member(s))", job.ID, b.provider, job.RemoteID, len(members))
	e.publish(ctx, members, fmt.Sprintf("batch job %s submitted to %s", job.ID, b.provider))

	// Members cancelled during submission leave nothing to wait for.
	if err := e.cancelIfAbandoned(ctx, job.ID); err != nil {
		logger.Warn("[Batch] job %s: %v", job.ID, err)
	}
}

func (e *engine) Poll(ctx context.Context) error {
	if !e.polling.TryLock() {
		logger.Debug("[Batch] poll already in progress, skipping")
		return nil
	}
	defer e.polling.Unlock()

	jobs, err := e.jobs.List(ctx, &entity.JobFilter{States: []entity.JobState{entity.JobStateSubmitted, entity.JobStatePolling}})
	if err != nil {
		return fmt.Errorf("failed to list open batch jobs: %w", err)
	}
	var errs []error
	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.pollJob(ctx, job); err != nil {
			logger.Warn("[Batch] job %s: %v", job.ID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *engine) pollJob(ctx context.Context, job *entity.BatchJob) error {
	ctx, span := e.tracer.Start(ctx, "batch.poll", trace.WithAttributes(attribute.String("job", job.ID)))
	defer span.End()

	status, err := e.gateway.PollBatch(ctx, job.Handle())

	e.settling.Lock()
	defer e.settling.Unlock()
	// A cancel may have ended the job while the provider was answering.
	fresh, gerr := e.jobs.Get(ctx, job.ID)
	if gerr != nil {
		return gerr
	}
	if fresh.State.IsTerminal() {
		logger.Debug("[Batch] job %s ended as %s during poll", job.ID, fresh.State)
		return nil
	}
	job = fresh
	now := time.Now()
	job.LastPolledAt = &now
	if err != nil {
		span.RecordError(err)
		if serr := e.jobs.Save(ctx, job); serr != nil {
			logger.Warn("[Batch] failed to save job %s: %v", job.ID, serr)
		}
		return fmt.Errorf("poll failed: %w", err)
	}
	if job.State == entity.JobStateSubmitted {
		if err := job.Transition(entity.JobStatePolling, now); err != nil {
			return err
		}
		logger.Info("[Batch] job %s: submitted -> polling (%s)", job.ID, status.State)
	}

	switch status.State {
	case llmentity.RemoteStateCompleted:
		return e.collect(ctx, job, status)
	case llmentity.RemoteStateFailed:
		e.endJob(ctx, job, entity.JobStateFailed, remoteMessage("batch job failed at the provider", status))
		return nil
	case llmentity.RemoteStateExpired:
		e.endJob(ctx, job, entity.JobStateExpired, remoteMessage("batch job expired at the provider", status))
		return nil
	case llmentity.RemoteStateCancelled:
		e.endJob(ctx, job, entity.JobStateCancelled, remoteMessage("batch job cancelled at the provider", status))
		return nil
	}

	if job.SubmittedAt != nil && now.Sub(*job.SubmittedAt) > e.cfg.MemberTimeout {
		if err := e.gateway.CancelBatch(ctx, job.Handle()); err != nil {
			logger.Warn("[Batch] job %s: failed to cancel timed-out job: %v", job.ID, err)
		}
		e.endJob(ctx, job, entity.JobStateExpired, fmt.Sprintf("no result within %s", e.cfg.MemberTimeout))
		return nil
	}
	logger.Debug("[Batch] job %s still %s (%d/%d done)", job.ID, status.State, status.Completed, status.Total)
	return e.jobs.Save(ctx, job)
}

func remoteMessage(prefix string, status *llmentity.BatchStatus) string {
	if status.Message != "" {
		return prefix + ": " + status.Message
	}
	return prefix
}

// collect downloads and parses every member result. The job completes only
// when no member is left without one.
func (e *engine) collect(ctx context.Context, job *entity.BatchJob, status *llmentity.BatchStatus) error {
	job.ResultRef = status.OutputRef
	results, err := e.gateway.FetchBatch(ctx, job.Handle(), status)
	if err != nil {
		return e.retryFetch(ctx, job, fmt.Sprintf("failed to fetch results: %v", err))
	}
	byID := make(map[string]*llmentity.BatchItemResult, len(results))
	for _, r := range results {
		if r != nil {
			byID[r.CustomID] = r
		}
	}

	missing := 0
	for _, id := range job.MemberIDs {
		m := e.owed(id)
		if m == nil {
			continue
		}
		r, ok := byID[id]
		if !ok {
			missing++
			continue
		}
		if r.Error != "" {
			e.finish(ctx, id, entity.MemberStateFailed, "", r.Error, nil, 0)
			continue
		}
		cost, err := e.gateway.Price(ctx, m.Ref, r.Usage, true)
		if err != nil {
			logger.Warn("[Batch] member %s: pricing failed, using the provider figure: %v", id, err)
			cost = r.Cost
		}
		e.finish(ctx, id, entity.MemberStateSucceeded, r.Text, "", r.Usage, cost)
	}
	if missing > 0 {
		return e.retryFetch(ctx, job, fmt.Sprintf("%d member result(s) missing from the output", missing))
	}

	now := time.Now()
	if err := job.Transition(entity.JobStateCompleted, now); err != nil {
		return err
	}
	if err := e.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	logger.Info("[Batch] job %s: polling -> completed (%d member(s))", job.ID, len(job.MemberIDs))
	return nil
}

// retryFetch keeps the job polling until the fetch budget is spent.
func (e *engine) retryFetch(ctx context.Context, job *entity.BatchJob, reason string) error {
	job.FetchAttempts++
	if job.FetchAttempts >= e.cfg.MaxFetchAttempts {
		e.endJob(ctx, job, entity.JobStateFailed, fmt.Sprintf("%s after %d attempt(s)", reason, job.FetchAttempts))
		return nil
	}
	job.Error = reason
	if err := e.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return errors.New(reason)
}

// endJob moves job to a terminal state and fails every member still owed a result.
func (e *engine) endJob(ctx context.Context, job *entity.BatchJob, state entity.JobState, reason string) {
	from := job.State
	if err := job.Transition(state, time.Now()); err != nil {
		logger.Error("[Batch] %v", err)
		return
	}
	job.Error = reason
	if err := e.jobs.Save(ctx, job); err != nil {
		logger.Error("[Batch] failed to save job %s: %v", job.ID, err)
	}
	logger.Info("[Batch] job %s: %s -> %s (%s)", job.ID, from, state, reason)

	memberState := entity.MemberStateFailed
	if state == entity.JobStateCancelled {
		memberState = entity.MemberStateCancelled
	}
	var affected []*entity.Member
	for _, id := range job.MemberIDs {
		if m := e.finish(ctx, id, memberState, "", reason, nil, 0); m != nil {
			affected = append(affected, m)
		}
	}
	e.publish(ctx, affected, fmt.Sprintf("batch job %s %s: %s", job.ID, state, reason))
}

// owed returns a snapshot of the member if this process still has to deliver it.
func (e *engine) owed(id string) *entity.Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.live[id]; ok {
		return l.member.Clone()
	}
	return nil
}

// finish settles one member exactly once: persist, meter, deliver.
// It returns nil when the member was already settled.
func (e *engine) finish(ctx context.Context, id string, state entity.MemberState, output, errMsg string, usage *llmentity.TokenUsage, cost float64) *entity.Member {
	e.mu.Lock()
	l, ok := e.live[id]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.live, id)
	m := l.member
	if !m.Finish(state, output, errMsg, time.Now()) {
		e.mu.Unlock()
		return nil
	}
	m.Usage = usage
	m.Cost = cost
	done := m.Clone()
	e.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if err := e.members.Save(ctx, done); err != nil {
		logger.Warn("[Batch] failed to save member %s: %v", id, err)
	}
	if state == entity.MemberStateSucceeded && e.meter != nil {
		charge := &llmentity.Charge{
			TaskID:    done.TaskID,
			PersonaID: done.PersonaID,
			Ref:       done.Ref,
			Usage:     done.Usage,
			Cost:      done.Cost,
			Batch:     true,
			At:        *done.FinishedAt,
		}
		if err := e.meter.Record(ctx, charge); err != nil {
			logger.Warn("[Batch] failed to meter member %s: %v", id, err)
		}
	}
	if state != entity.MemberStateSucceeded && state != entity.MemberStateCancelled {
		logger.Warn("[Batch] member %s (task %s) failed: %s", id, done.TaskID, errMsg)
	}
	if l.deliver != nil {
		l.deliver(done.Clone())
	}
	return done
}

func (e *engine) CancelTask(ctx context.Context, taskIDs ...string) error {
	want := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		want[id] = true
	}
	return e.cancelWhere(ctx, func(m *entity.Member) bool { return want[m.TaskID] })
}

func (e *engine) CancelMembers(ctx context.Context, memberIDs ...string) error {
	want := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		want[id] = true
	}
	return e.cancelWhere(ctx, func(m *entity.Member) bool { return want[m.ID] })
}

// cancelWhere withdraws the unfinished members matching pick. Buffered ones
// never reach a provider; a submitted job is cancelled remotely once none of
// its members is still wanted.
func (e *engine) cancelWhere(ctx context.Context, pick func(*entity.Member) bool) error {
	var ids []string
	jobIDs := make(map[string]bool)
	e.mu.Lock()
	for provider, b := range e.buffers {
		kept := b.members[:0]
		for _, m := range b.members {
			if !pick(m) {
				kept = append(kept, m)
			}
		}
		b.members = kept
		if len(kept) == 0 {
			b.timer.Stop()
			delete(e.buffers, provider)
		}
	}
	for id, l := range e.live {
		if pick(l.member) {
			ids = append(ids, id)
			if l.member.JobID != "" {
				jobIDs[l.member.JobID] = true
			}
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.finish(ctx, id, entity.MemberStateCancelled, "", errno.ErrAborted.Error(), nil, 0)
	}
	if len(ids) > 0 {
		logger.Info("[Batch] cancelled %d member(s)", len(ids))
	}

	var errs []error
	for id := range jobIDs {
		if err := e.cancelIfAbandoned(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// cancelIfAbandoned cancels a submitted job remotely once all its members are cancelled.
func (e *engine) cancelIfAbandoned(ctx context.Context, jobID string) error {
	e.settling.Lock()
	defer e.settling.Unlock()
	job, err := e.jobs.Get(ctx, jobID)
	if errors.Is(err, errno.ErrJobNotFound) {
		// Still being submitted; flush checks again once it has a remote id.
		return nil
	}
	if err != nil {
		return err
	}
	if job.State != entity.JobStateSubmitted && job.State != entity.JobStatePolling {
		return nil
	}
	members, err := e.members.List(ctx, &entity.MemberFilter{JobID: job.ID})
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	for _, m := range members {
		if m.State != entity.MemberStateCancelled {
			return nil
		}
	}
	if err := e.gateway.CancelBatch(ctx, job.Handle()); err != nil {
		logger.Warn("[Batch] job %s: remote cancel failed: %v", job.ID, err)
	}
	e.endJob(ctx, job, entity.JobStateCancelled, "every member was cancelled")
	return nil
}

func (e *engine) Recover(ctx context.Context) (int, error) {
	open := []entity.JobState{entity.JobStateQueued, entity.JobStateSubmitted, entity.JobStatePolling}
	jobs, err := e.jobs.List(ctx, &entity.JobFilter{States: open})
	if err != nil {
		return 0, fmt.Errorf("failed to list open batch jobs: %w", err)
	}
	for _, job := range jobs {
		if job.RemoteID != "" {
			if err := e.gateway.CancelBatch(ctx, job.Handle()); err != nil {
				logger.Warn("[Batch] job %s: remote cancel of orphan failed: %v", job.ID, err)
			}
		}
		if err := job.Transition(entity.JobStateCancelled, time.Now()); err != nil {
			return 0, err
		}
		job.Error = "orphaned by restart"
		if err := e.jobs.Save(ctx, job); err != nil {
			return 0, fmt.Errorf("failed to save job %s: %w", job.ID, err)
		}
	}

	// Members have no deliver callback after a restart; the delegation engine
	// re-enqueues the subtasks of the tasks it resumes.
	orphans, err := e.members.List(ctx, &entity.MemberFilter{States: []entity.MemberState{entity.MemberStatePending, entity.MemberStateSubmitted}})
	if err != nil {
		return len(jobs), fmt.Errorf("failed to list open batch members: %w", err)
	}
	for _, m := range orphans {
		e.mu.Lock()
		_, owned := e.live[m.ID]
		e.mu.Unlock()
		if owned {
			continue
		}
		m.Finish(entity.MemberStateCancelled, "", "orphaned by restart", time.Now())
		if err := e.members.Save(ctx, m); err != nil {
			return len(jobs), fmt.Errorf("failed to save member %s: %w", m.ID, err)
		}
	}
	if len(jobs) > 0 || len(orphans) > 0 {
		logger.Info("[Batch] recovery cancelled %d job(s) and %d member(s)", len(jobs), len(orphans))
	}
	return len(jobs), nil
}

func (e *engine) publish(ctx context.Context, members []*entity.Member, detail string) {
	if e.bus == nil {
		return
	}
	seen := make(map[string]bool)
	for _, m := range members {
		if seen[m.TaskID] {
			continue
		}
		seen[m.TaskID] = true
		_, err := e.bus.Publish(context.WithoutCancel(ctx), evententity.Event{
			TaskID:    m.TaskID,
			Type:      evententity.EventTypeBatch,
			Detail:    detail,
			PersonaID: m.PersonaID,
		})
		if err != nil {
			logger.Warn("[Batch] task %s: failed to publish batch event: %v", m.TaskID, err)
		}
	}
}

func (e *engine) Get(ctx context.Context, id string) (*entity.BatchJob, error) {
	return e.jobs.Get(ctx, id)
}

func (e *engine) List(ctx context.Context, filter *entity.JobFilter) ([]*entity.BatchJob, error) {
	return e.jobs.List(ctx, filter)
}

func (e *engine) Members(ctx context.Context, jobID string) ([]*entity.Member, error) {
	if _, err := e.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return e.members.List(ctx, &entity.MemberFilter{JobID: jobID})
}

func (e *engine) Start(ctx context.Context) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return errno.ErrEngineClosed
	}
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.stopLoop != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.stopLoop = cancel
	e.loopDone = make(chan struct{})
	go e.pollLoop(loopCtx, e.loopDone)
	logger.Info("[Batch] engine started (debounce %s, poll every %s)", e.cfg.Debounce, e.cfg.PollInterval)
	return nil
}

func (e *engine) pollLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Poll(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("[Batch] poll cycle: %v", err)
			}
		}
	}
}

func (e *engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	var dropped []*entity.Member
	for provider, b := range e.buffers {
		b.timer.Stop()
		dropped = append(dropped, b.members...)
		delete(e.buffers, provider)
	}
	for _, m := range dropped {
		delete(e.live, m.ID)
	}
	e.mu.Unlock()

	e.loopMu.Lock()
	if e.stopLoop != nil {
		e.stopLoop()
		<-e.loopDone
	}
	e.loopMu.Unlock()
	e.flushes.Wait()

	// Buffered members were never submitted; their tasks resume after restart.
	ctx := context.Background()
	for _, m := range dropped {
		m.Finish(entity.MemberStateCancelled, "", "batch engine stopped", time.Now())
		if err := e.members.Save(ctx, m); err != nil {
			logger.Warn("[Batch] failed to save member %s: %v", m.ID, err)
		}
	}
	logger.Info("[Batch] engine stopped (%d buffered member(s) withdrawn)", len(dropped))
}
