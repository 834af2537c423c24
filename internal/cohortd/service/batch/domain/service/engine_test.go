package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/batch/store/inmemory"
	evententity "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGateway struct {
	mu        sync.Mutex
	batches   map[string][]*llmentity.BatchPrompt
	order     []string
	submitErr error
	state     llmentity.RemoteState
	message   string
	drop      map[string]bool
	itemErr   map[string]string
	fetchErr  error
	cancelled []string
	polls     int
	pollGate  chan struct{}
}

func newGateway() *fakeGateway {
	return &fakeGateway{
		batches: make(map[string][]*llmentity.BatchPrompt),
		state:   llmentity.RemoteStateInProgress,
		drop:    make(map[string]bool),
		itemErr: make(map[string]string),
	}
}

func (g *fakeGateway) Price(_ context.Context, _ llmentity.ModelRef, usage *llmentity.TokenUsage, batch bool) (float64, error) {
	cost := float64(usage.TotalTokens) * 0.00001
	if batch {
		cost *= 0.5
	}
	return cost, nil
}

func (g *fakeGateway) SubmitBatch(_ context.Context, prompts []*llmentity.BatchPrompt) (*llmentity.BatchHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	id := fmt.Sprintf("remote-%d", len(g.order)+1)
	g.batches[id] = prompts
	g.order = append(g.order, id)
	return &llmentity.BatchHandle{ProviderID: prompts[0].Ref.ProviderID, RemoteID: id, SubmittedAt: time.Now(), Native: true}, nil
}

func (g *fakeGateway) PollBatch(ctx context.Context, h *llmentity.BatchHandle) (*llmentity.BatchStatus, error) {
	g.mu.Lock()
	g.polls++
	gate := g.pollGate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.batches[h.RemoteID])
	return &llmentity.BatchStatus{State: g.state, Total: n, Message: g.message, OutputRef: "file-" + h.RemoteID}, nil
}

func (g *fakeGateway) FetchBatch(_ context.Context, h *llmentity.BatchHandle, _ *llmentity.BatchStatus) ([]*llmentity.BatchItemResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	var out []*llmentity.BatchItemResult
	for _, p := range g.batches[h.RemoteID] {
		if g.drop[p.CustomID] {
			continue
		}
		if msg, ok := g.itemErr[p.CustomID]; ok {
			out = append(out, &llmentity.BatchItemResult{CustomID: p.CustomID, Error: msg})
			continue
		}
		out = append(out, &llmentity.BatchItemResult{
			CustomID: p.CustomID,
			Text:     "out:" + p.Prompt,
			Usage:    &llmentity.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
			Cost:     99,
		})
	}
	return out, nil
}

func (g *fakeGateway) CancelBatch(_ context.Context, h *llmentity.BatchHandle) error {
	g.mu.Lock()
	g.cancelled = append(g.cancelled, h.RemoteID)
	g.mu.Unlock()
	return nil
}

func (g *fakeGateway) submissions() [][]*llmentity.BatchPrompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]*llmentity.BatchPrompt, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.batches[id])
	}
	return out
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	fn(g)
	g.mu.Unlock()
}

type fakeMeter struct {
	mu      sync.Mutex
	charges []*llmentity.Charge
}

func (m *fakeMeter) Record(_ context.Context, c *llmentity.Charge) error {
	m.mu.Lock()
	m.charges = append(m.charges, c)
	m.mu.Unlock()
	return nil
}

func (m *fakeMeter) recorded() []*llmentity.Charge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llmentity.Charge(nil), m.charges...)
}

type fakeBus struct {
	mu     sync.Mutex
	events []evententity.Event
}

func (b *fakeBus) Publish(_ context.Context, ev evententity.Event) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return uint64(len(b.events)), nil
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// inbox collects deliveries by member id.
type inbox struct {
	mu  sync.Mutex
	got map[string][]*entity.Member
}

func newInbox() *inbox {
	return &inbox{got: make(map[string][]*entity.Member)}
}

func (b *inbox) deliver(m *entity.Member) {
	b.mu.Lock()
	b.got[m.ID] = append(b.got[m.ID], m)
	b.mu.Unlock()
}

func (b *inbox) of(id string) []*entity.Member {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*entity.Member(nil), b.got[id]...)
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.got)
}

type harness struct {
	gw      *fakeGateway
	meter   *fakeMeter
	bus     *fakeBus
	jobs    *inmemory.JobStore
	members *inmemory.MemberStore
	box     *inbox
	engine  service.Engine
}

func newHarness(t *testing.T, cfg service.EngineConfig) *harness {
	t.Helper()
	h := &harness{
		gw:      newGateway(),
		meter:   &fakeMeter{},
		bus:     &fakeBus{},
		jobs:    inmemory.NewJobStore(),
		members: inmemory.NewMemberStore(),
		box:     newInbox(),
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	var err error
	h.engine, err = service.NewEngine(cfg, h.gw, h.jobs, h.members, h.meter, h.bus)
	require.NoError(t, err)
	t.Cleanup(h.engine.Stop)
	return h
}

// fast submits as soon as the debounce window of a few milliseconds closes.
var fast = service.EngineConfig{Debounce: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond, MaxFetchAttempts: 2}

func member(id, task, provider string) *entity.Member {
	return &entity.Member{
		ID:        id,
		TaskID:    task,
		SubtaskID: "sub-" + id,
		PersonaID: "analyst",
		Ref:       llmentity.ModelRef{ProviderID: provider, ModelID: "gpt-4o-mini"},
		Prompt:    "prompt " + id,
	}
}

func (h *harness) enqueue(t *testing.T, members ...*entity.Member) {
	t.Helper()
	for _, m := range members {
		require.NoError(t, h.engine.Enqueue(context.Background(), m, h.box.deliver))
	}
}

// submittedJob waits until n jobs are open at the provider and returns the newest.
func (h *harness) submittedJob(t *testing.T, n int) *entity.BatchJob {
	t.Helper()
	var job *entity.BatchJob
	require.Eventually(t, func() bool {
		jobs, err := h.engine.List(context.Background(), &entity.JobFilter{States: []entity.JobState{entity.JobStateSubmitted}})
		if err != nil || len(jobs) < n {
			return false
		}
		job = jobs[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func (h *harness) job(t *testing.T, id string) *entity.BatchJob {
	t.Helper()
	job, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestRequestsWithinDebounceShareOneJob(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})

	for i, id := range []string{"m1", "m2", "m3"} {
		if i > 0 {
			time.Sleep(150 * time.Millisecond)
		}
		h.enqueue(t, member(id, "t1", "openai"))
	}
	assert.Empty(t, h.gw.submissions(), "submitted before the debounce window closed")

	job := h.submittedJob(t, 1)
	time.Sleep(100 * time.Millisecond)
	subs := h.gw.submissions()
	require.Len(t, subs, 1)
	assert.Len(t, subs[0], 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, job.MemberIDs)
	assert.True(t, job.Native)
	assert.Equal(t, "remote-1", job.RemoteID)

	members, err := h.engine.Members(context.Background(), job.ID)
	require.NoError(t, err)
	for _, m := range members {
		assert.Equal(t, entity.MemberStateSubmitted, m.State)
		assert.Equal(t, job.ID, m.JobID)
	}
	assert.Eventually(t, func() bool { return h.bus.count() > 0 }, time.Second, 5*time.Millisecond)
}

func TestProvidersAreBatchedSeparately(t *testing.T) {
	h := newHarness(t, fast)
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t1", "claude"), member("m3", "t2", "openai"))

	h.submittedJob(t, 2)
	subs := h.gw.submissions()
	require.Len(t, subs, 2)
	sizes := map[string]int{}
	for _, s := range subs {
		sizes[s[0].Ref.ProviderID] = len(s)
	}
	assert.Equal(t, map[string]int{"openai": 2, "claude": 1}, sizes)
}

func TestFullBufferSubmitsWithoutWaiting(t *testing.T) {
	h := newHarness(t, service.EngineConfig{Debounce: time.Hour, MaxWait: time.Hour, MaxBatchSize: 2})
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t1", "openai"), member("m3", "t1", "openai"))

	job := h.submittedJob(t, 1)
	assert.Equal(t, []string{"m1", "m2"}, job.MemberIDs)
	require.Len(t, h.gw.submissions(), 1)
}

func TestMaxWaitCapsContinuousArrivals(t *testing.T) {
	h := newHarness(t, service.EngineConfig{Debounce: 80 * time.Millisecond, MaxWait: 150 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 8; i++ {
		h.enqueue(t, member(fmt.Sprintf("m%d", i), "t1", "openai"))
		time.Sleep(40 * time.Millisecond)
	}
	h.submittedJob(t, 1)
	first := h.gw.submissions()[0]
	assert.Less(t, len(first), 8, "max wait did not cut the window")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestJobCompletesOnlyAfterEveryMemberIsParsed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, service.EngineConfig{Debounce: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond, MaxFetchAttempts: 3})
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t1", "openai"), member("m3", "t1", "openai"))
	job := h.submittedJob(t, 1)

	require.NoError(t, h.engine.Poll(ctx))
	assert.Equal(t, entity.JobStatePolling, h.job(t, job.ID).State)
	assert.Zero(t, h.box.len())

	h.gw.set(func(g *fakeGateway) {
		g.state = llmentity.RemoteStateCompleted
		g.drop["m3"] = true
	})
	assert.Error(t, h.engine.Poll(ctx))
	partial := h.job(t, job.ID)
	assert.Equal(t, entity.JobStatePolling, partial.State)
	assert.Equal(t, 1, partial.FetchAttempts)
	assert.Equal(t, "file-remote-1", partial.ResultRef)
	assert.Len(t, h.box.of("m1"), 1)
	assert.Len(t, h.box.of("m2"), 1)
	assert.Empty(t, h.box.of("m3"))

	h.gw.set(func(g *fakeGateway) { delete(g.drop, "m3") })
	require.NoError(t, h.engine.Poll(ctx))
	done := h.job(t, job.ID)
	assert.Equal(t, entity.JobStateCompleted, done.State)
	assert.NotNil(t, done.CompletedAt)

	for _, id := range []string{"m1", "m2", "m3"} {
		got := h.box.of(id)
		require.Len(t, got, 1, id)
		assert.Equal(t, entity.MemberStateSucceeded, got[0].State)
		assert.Equal(t, "out:prompt "+id, got[0].Output)
		assert.InDelta(t, 0.00075, got[0].Cost, 1e-9)
	}

	charges := h.meter.recorded()
	require.Len(t, charges, 3)
	for _, c := range charges {
		assert.True(t, c.Batch)
		assert.Equal(t, "t1", c.TaskID)
		assert.InDelta(t, 0.00075, c.Cost, 1e-9)
	}
}

func TestMissingResultsFailAfterFetchBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fast)
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t1", "openai"))
	job := h.submittedJob(t, 1)

	h.gw.set(func(g *fakeGateway) {
		g.state = llmentity.RemoteStateCompleted
		g.drop["m2"] = true
	})
	assert.Error(t, h.engine.Poll(ctx))
	require.NoError(t, h.engine.Poll(ctx))

	failed := h.job(t, job.ID)
	assert.Equal(t, entity.JobStateFailed, failed.State)
	assert.Contains(t, failed.Error, "missing")

	got := h.box.of("m2")
	require.Len(t, got, 1)
	assert.Equal(t, entity.MemberStateFailed, got[0].State)
	assert.Contains(t, got[0].Error, "missing")
	assert.Equal(t, entity.MemberStateSucceeded, h.box.of("m1")[0].State)
	assert.Len(t, h.meter.recorded(), 1)
}

func TestFetchErrorsCountAgainstBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fast)
	h.enqueue(t, member("m1", "t1", "openai"))
	job := h.submittedJob(t, 1)

	h.gw.set(func(g *fakeGateway) {
		g.state = llmentity.RemoteStateCompleted
		g.fetchErr = errors.New("download interrupted")
	})
	assert.Error(t, h.engine.Poll(ctx))
	assert.Equal(t, entity.JobStatePolling, h.job(t, job.ID).State)
	require.NoError(t, h.engine.Poll(ctx))
	assert.Equal(t, entity.JobStateFailed, h.job(t, job.ID).State)
	assert.Equal(t, entity.MemberStateFailed, h.box.of("m1")[0].State)
}

func TestItemErrorsFailOnlyThatMember(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fast)
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t1", "openai"))
	job := h.submittedJob(t, 1)

	h.gw.set(func(g *fakeGateway) {
		g.state = llmentity.RemoteStateCompleted
		g.itemErr["m1"] = "content_filter"
	})
	require.NoError(t, h.engine.Poll(ctx))

	assert.Equal(t, entity.JobStateCompleted, h.job(t, job.ID).State)
	assert.Equal(t, entity.MemberStateFailed, h.box.of("m1")[0].State)
	assert.Equal(t, "content_filter", h.box.of("m1")[0].Error)
	assert.Equal(t, entity.MemberStateSucceeded, h.box.of("m2")[0].State)
	assert.Len(t, h.meter.recorded(), 1)
}

func TestRemoteTerminalStates(t *testing.T) {
	tests := []struct {
		remote llmentity.RemoteState
		job    entity.JobState
		member entity.MemberState
	}{
		{llmentity.RemoteStateFailed, entity.JobStateFailed, entity.MemberStateFailed},
		{llmentity.RemoteStateExpired, entity.JobStateExpired, entity.MemberStateFailed},
		{llmentity.RemoteStateCancelled, entity.JobStateCancelled, entity.MemberStateCancelled},
	}
	for _, tt := range tests {
		t.Run(string(tt.remote), func(t *testing.T) {
			h := newHarness(t, fast)
			h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t2", "openai"))
			job := h.submittedJob(t, 1)

			h.gw.set(func(g *fakeGateway) {
				g.state = tt.remote
				g.message = "provider says no"
			})
			require.NoError(t, h.engine.Poll(context.Background()))

			ended := h.job(t, job.ID)
			assert.Equal(t, tt.job, ended.State)
			assert.Contains(t, ended.Error, "provider says no")
			for _, id := range []string{"m1", "m2"} {
				got := h.box.of(id)
				require.Len(t, got, 1)
				assert.Equal(t, tt.member, got[0].State)
			}
			assert.Empty(t, h.meter.recorded())
		})
	}
}

func TestStaleJobExpires(t *testing.T) {
	h := newHarness(t, service.EngineConfig{Debounce: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond, MemberTimeout: 30 * time.Millisecond})
	h.enqueue(t, member("m1", "t1", "openai"))
	job := h.submittedJob(t, 1)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, h.engine.Poll(context.Background()))
	assert.Equal(t, entity.JobStateExpired, h.job(t, job.ID).State)
	assert.Equal(t, []string{"remote-1"}, h.gw.cancelled)
	assert.Equal(t, entity.MemberStateFailed, h.box.of("m1")[0].State)
}

func TestSubmissionFailureFailsEveryMember(t *testing.T) {
	h := newHarness(t, fast)
	h.gw.set(func(g *fakeGateway) { g.submitErr = errors.New("401 unauthorized") })
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t1", "openai"))

	require.Eventually(t, func() bool { return h.box.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	for _, id := range []string{"m1", "m2"} {
		got := h.box.of(id)
		assert.Equal(t, entity.MemberStateFailed, got[0].State)
		assert.Contains(t, got[0].Error, "unauthorized")
	}
	jobs, err := h.engine.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entity.JobStateFailed, jobs[0].State)
	assert.Contains(t, jobs[0].Error, "submission failed")
}

func TestCancelWhileBuffered(t *testing.T) {
	h := newHarness(t, service.EngineConfig{Debounce: time.Hour, MaxWait: time.Hour})
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t2", "openai"))

	require.NoError(t, h.engine.CancelTask(context.Background(), "t1"))
	got := h.box.of("m1")
	require.Len(t, got, 1)
	assert.Equal(t, entity.MemberStateCancelled, got[0].State)
	assert.Empty(t, h.box.of("m2"))
	assert.Empty(t, h.gw.submissions())

	require.NoError(t, h.engine.CancelTask(context.Background(), "t2"))
	assert.Equal(t, entity.MemberStateCancelled, h.box.of("m2")[0].State)
}

func TestCancelAfterSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fast)
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t2", "openai"))
	job := h.submittedJob(t, 1)

	require.NoError(t, h.engine.CancelTask(ctx, "t1"))
	assert.Equal(t, entity.MemberStateCancelled, h.box.of("m1")[0].State)
	assert.Equal(t, entity.JobStateSubmitted, h.job(t, job.ID).State, "job still serves t2")
	assert.Empty(t, h.gw.cancelled)

	require.NoError(t, h.engine.CancelTask(ctx, "t2"))
	assert.Equal(t, entity.JobStateCancelled, h.job(t, job.ID).State)
	assert.Equal(t, []string{"remote-1"}, h.gw.cancelled)

	// A late completion never reaches cancelled members.
	h.gw.set(func(g *fakeGateway) { g.state = llmentity.RemoteStateCompleted })
	require.NoError(t, h.engine.Poll(ctx))
	assert.Len(t, h.box.of("m1"), 1)
	assert.Len(t, h.box.of("m2"), 1)
	assert.Empty(t, h.meter.recorded())
}

func TestCancelMembersWithdrawsOnlyThoseMembers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, service.EngineConfig{Debounce: time.Hour, MaxWait: time.Hour})
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t1", "openai"))

	require.NoError(t, h.engine.CancelMembers(ctx, "m1", "unknown"))
	assert.Equal(t, entity.MemberStateCancelled, h.box.of("m1")[0].State)
	assert.Empty(t, h.box.of("m2"))
	assert.Empty(t, h.gw.submissions())
}

func TestCancelMembersAfterSubmissionIsNeverCharged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fast)
	h.enqueue(t, member("m1", "t1", "openai"), member("m2", "t1", "openai"))
	job := h.submittedJob(t, 1)

	require.NoError(t, h.engine.CancelMembers(ctx, "m1"))
	assert.Equal(t, entity.JobStateSubmitted, h.job(t, job.ID).State, "job still serves m2")

	h.gw.set(func(g *fakeGateway) { g.state = llmentity.RemoteStateCompleted })
	require.NoError(t, h.engine.Poll(ctx))
	require.Len(t, h.box.of("m1"), 1)
	assert.Equal(t, entity.MemberStateCancelled, h.box.of("m1")[0].State)
	assert.Equal(t, entity.MemberStateSucceeded, h.box.of("m2")[0].State)
	require.Len(t, h.meter.recorded(), 1)
	assert.Equal(t, "t1", h.meter.recorded()[0].TaskID)

	require.NoError(t, h.engine.CancelMembers(ctx, "m2"))
	assert.Len(t, h.box.of("m2"), 1, "settled members stay settled")
}

func TestCancelDuringPollIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fast)
	h.enqueue(t, member("m1", "t1", "openai"))
	job := h.submittedJob(t, 1)

	gate := make(chan struct{})
	h.gw.set(func(g *fakeGateway) { g.pollGate = gate })
	done := make(chan error, 1)
	go func() { done <- h.engine.Poll(ctx) }()
	require.Eventually(t, func() bool {
		h.gw.mu.Lock()
		defer h.gw.mu.Unlock()
		return h.gw.polls == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, h.engine.CancelTask(ctx, "t1"))
	require.Equal(t, entity.JobStateCancelled, h.job(t, job.ID).State)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, entity.JobStateCancelled, h.job(t, job.ID).State)
	assert.Nil(t, h.job(t, job.ID).LastPolledAt)
}

func TestOverlappingPollsAreSkipped(t *testing.T) {
	h := newHarness(t, fast)
	h.enqueue(t, member("m1", "t1", "openai"))
	h.submittedJob(t, 1)

	gate := make(chan struct{})
	h.gw.set(func(g *fakeGateway) { g.pollGate = gate })

	done := make(chan error, 1)
	go func() { done <- h.engine.Poll(context.Background()) }()
	require.Eventually(t, func() bool {
		h.gw.mu.Lock()
		defer h.gw.mu.Unlock()
		return h.gw.polls == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, h.engine.Poll(context.Background()))
	close(gate)
	require.NoError(t, <-done)

	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	assert.Equal(t, 1, h.gw.polls)
}

func TestPollLoopRunsOnInterval(t *testing.T) {
	h := newHarness(t, service.EngineConfig{Debounce: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond, PollInterval: 20 * time.Millisecond})
	h.gw.set(func(g *fakeGateway) { g.state = llmentity.RemoteStateCompleted })
	require.NoError(t, h.engine.Start(context.Background()))
	h.enqueue(t, member("m1", "t1", "openai"))

	require.Eventually(t, func() bool { return len(h.box.of("m1")) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, entity.MemberStateSucceeded, h.box.of("m1")[0].State)
}

func TestRecoverCancelsOrphans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fast)
	submitted := time.Now().Add(-time.Hour)
	require.NoError(t, h.jobs.Save(ctx, &entity.BatchJob{
		ID: "j-old", Provider: "openai", MemberIDs: []string{"old-1"}, State: entity.JobStatePolling,
		RemoteID: "remote-old", Native: true, CreatedAt: submitted, SubmittedAt: &submitted,
	}))
	require.NoError(t, h.jobs.Save(ctx, &entity.BatchJob{ID: "j-done", Provider: "openai", State: entity.JobStateCompleted, CreatedAt: submitted}))
	require.NoError(t, h.members.Save(ctx, &entity.Member{ID: "old-1", JobID: "j-old", TaskID: "t0", State: entity.MemberStateSubmitted}))
	require.NoError(t, h.members.Save(ctx, &entity.Member{ID: "old-2", TaskID: "t0", State: entity.MemberStatePending}))

	n, err := h.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"remote-old"}, h.gw.cancelled)

	old := h.job(t, "j-old")
	assert.Equal(t, entity.JobStateCancelled, old.State)
	assert.Equal(t, "orphaned by restart", old.Error)
	assert.Equal(t, entity.JobStateCompleted, h.job(t, "j-done").State)

	for _, id := range []string{"old-1", "old-2"} {
		m, err := h.members.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entity.MemberStateCancelled, m.State, id)
	}
}

func TestStopWithdrawsBufferedMembers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, service.EngineConfig{Debounce: time.Hour, MaxWait: time.Hour})
	h.enqueue(t, member("m1", "t1", "openai"))

	h.engine.Stop()
	h.engine.Stop()
	assert.Zero(t, h.box.len())
	assert.Empty(t, h.gw.submissions())

	m, err := h.members.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, entity.MemberStateCancelled, m.State)

	err = h.engine.Enqueue(ctx, member("m2", "t1", "openai"), h.box.deliver)
	assert.ErrorIs(t, err, errno.ErrEngineClosed)
	assert.ErrorIs(t, h.engine.Start(ctx), errno.ErrEngineClosed)
}

func TestEnqueueValidation(t *testing.T) {
	h := newHarness(t, service.EngineConfig{Debounce: time.Hour, MaxWait: time.Hour})

	err := h.engine.Enqueue(context.Background(), &entity.Member{ID: "x", TaskID: "t1"}, h.box.deliver)
	assert.ErrorIs(t, err, errno.ErrConfiguration)

	h.enqueue(t, member("m1", "t1", "openai"))
	assert.Error(t, h.engine.Enqueue(context.Background(), member("m1", "t1", "openai"), h.box.deliver))

	_, err = h.engine.Members(context.Background(), "nope")
	assert.ErrorIs(t, err, errno.ErrJobNotFound)
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := service.NewEngine(service.EngineConfig{}, nil, inmemory.NewJobStore(), inmemory.NewMemberStore(), nil, nil)
	assert.ErrorIs(t, err, errno.ErrConfiguration)
	_, err = service.NewEngine(service.EngineConfig{}, newGateway(), nil, inmemory.NewMemberStore(), nil, nil)
	assert.ErrorIs(t, err, errno.ErrConfiguration)
}
