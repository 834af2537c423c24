package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/go-cmp/cmp"
	batchentity "github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/service"
	taskinmemory "github.com/kiosk404/cohort/internal/cohortd/service/delegation/store/inmemory"
	evententity "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	eventservice "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/service"
	eventsinmemory "github.com/kiosk404/cohort/internal/cohortd/service/events/store/inmemory"
	ledgerentity "github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/entity"
	ledgerservice "github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/service"
	ledgerinmemory "github.com/kiosk404/cohort/internal/cohortd/service/ledger/store/inmemory"
	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	personaservice "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/service"
	personainmemory "github.com/kiosk404/cohort/internal/cohortd/service/persona/store/inmemory"
	reviewentity "github.com/kiosk404/cohort/internal/cohortd/service/review/domain/entity"
	toolentity "github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	toolservice "github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/service"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func org() []*personaentity.Persona {
	return []*personaentity.Persona{
		{ID: "ceo", Tier: personaentity.TierCoordinator, Model: "fake/large", Division: "executive"},
		{ID: "cfo", Tier: personaentity.TierManager, Model: "fake/large", ParentID: "ceo", Division: "finance"},
		{ID: "cto", Tier: personaentity.TierManager, Model: "fake/large", ParentID: "ceo", Division: "engineering"},
		{ID: "analyst", Tier: personaentity.TierSpecialist, Model: "fake/small", ParentID: "cfo", Tools: []string{"calculator"}},
		{ID: "auditor", Tier: personaentity.TierSpecialist, Model: "fake/small", ParentID: "cfo"},
		{ID: "forecaster", Tier: personaentity.TierSpecialist, Model: "fake/small", ParentID: "cfo"},
		{ID: "treasurer", Tier: personaentity.TierSpecialist, Model: "fake/small", ParentID: "cfo"},
		{ID: "engineer", Tier: personaentity.TierSpecialist, Model: "fake/small", ParentID: "cto"},
	}
}

// Call kinds, recognised from the prompt each engine step sends.
const (
	kindRoute      = "route"
	kindPlan       = "plan"
	kindWork       = "work"
	kindSynthesize = "synthesize"
	kindRegenerate = "regenerate"
)

func promptOf(req *llmentity.GenerateRequest) string {
	if req.Prompt != "" {
		return req.Prompt
	}
	for _, m := range req.History {
		if m.Role == schema.User {
			return m.Content
		}
	}
	return ""
}

func kindOf(req *llmentity.GenerateRequest) string {
	p := promptOf(req)
	switch {
	case strings.Contains(p, "A reviewer rejected section"):
		return kindRegenerate
	case strings.Contains(p, "tie their work together"):
		return kindSynthesize
	case strings.Contains(p, "Split the command"):
		return kindPlan
	case strings.Contains(p, "Route the command"):
		return kindRoute
	case strings.Contains(p, "Task from your manager"):
		return kindWork
	}
	return "unknown"
}

type handler func(ctx context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error)

type call struct {
	kind    string
	persona string
	prompt  string
}

// scriptedGateway answers each kind of call with a handler.
type scriptedGateway struct {
	mu       sync.Mutex
	handlers map[string]handler
	calls    []call
}

func newGateway() *scriptedGateway {
	g := &scriptedGateway{handlers: make(map[string]handler)}
	g.on(kindWork, func(_ context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		return reply(req.PersonaID + " findings")
	})
	g.on(kindSynthesize, func(context.Context, *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		return reply(`{"title": "Report", "sections": [` +
			`{"id": "summary", "title": "Summary", "content": "all good"},` +
			`{"id": "conclusion", "title": "Conclusion", "content": "proceed"}]}`)
	})
	return g
}

func reply(text string) (*llmentity.GenerateResponse, error) {
	return &llmentity.GenerateResponse{Text: text, Cost: 0.01}, nil
}

func (g *scriptedGateway) on(kind string, h handler) {
	g.mu.Lock()
	g.handlers[kind] = h
	g.mu.Unlock()
}

func (g *scriptedGateway) route(text string) {
	g.on(kindRoute, func(context.Context, *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		return reply(text)
	})
}

func (g *scriptedGateway) plan(byManager map[string]string) {
	g.on(kindPlan, func(_ context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		p, ok := byManager[req.PersonaID]
		if !ok {
			return nil, fmt.Errorf("no plan for %s", req.PersonaID)
		}
		return reply(p)
	})
}

func (g *scriptedGateway) Resolve(_ context.Context, model string) (llmentity.ModelRef, error) {
	return llmentity.ParseModelRef(model), nil
}

func (g *scriptedGateway) Generate(ctx context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
	k := kindOf(req)
	g.mu.Lock()
	g.calls = append(g.calls, call{kind: k, persona: req.PersonaID, prompt: promptOf(req)})
	h := g.handlers[k]
	g.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("unscripted %s call for %s", k, req.PersonaID)
	}
	return h(ctx, req)
}

// meteredGateway charges every answered call the way the model gateway does.
type meteredGateway struct {
	*scriptedGateway
	meter *ledgerservice.Recorder
}

func (g *meteredGateway) Generate(ctx context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
	resp, err := g.scriptedGateway.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	charge := &llmentity.Charge{
		TaskID:    req.TaskID,
		PersonaID: req.PersonaID,
		Ref:       llmentity.ParseModelRef(req.Model),
		Cost:      resp.Cost,
		At:        time.Now(),
	}
	if err := g.meter.Record(ctx, charge); err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *scriptedGateway) count(kind, persona string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.kind == kind && (persona == "" || c.persona == persona) {
			n++
		}
	}
	return n
}

func (g *scriptedGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fakeReviewer struct {
	mu      sync.Mutex
	seen    []*reviewentity.Artifact
	verdict func(n int, a *reviewentity.Artifact) (*reviewentity.ReviewReport, error)
}

func (r *fakeReviewer) Review(_ context.Context, a *reviewentity.Artifact, _ *reviewentity.Rubric) (*reviewentity.ReviewReport, error) {
	r.mu.Lock()
	r.seen = append(r.seen, a.Clone())
	n := len(r.seen)
	r.mu.Unlock()
	return r.verdict(n, a)
}

func (r *fakeReviewer) RubricFor(division string) *reviewentity.Rubric {
	return &reviewentity.Rubric{Division: division, Version: "v1", Threshold: reviewentity.DefaultThreshold}
}

func (r *fakeReviewer) reviews() []*reviewentity.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*reviewentity.Artifact(nil), r.seen...)
}

func passed() *reviewentity.ReviewReport {
	return &reviewentity.ReviewReport{Passed: true, Score: 0.9}
}

func rejected(reasons map[string]string) *reviewentity.ReviewReport {
	return &reviewentity.ReviewReport{Score: 0.4, Rejections: reasons}
}

// fakeBatch records enqueued members and optionally completes them after delay.
type fakeBatch struct {
	complete bool
	delay    time.Duration

	mu        sync.Mutex
	members   []*batchentity.Member
	cancelled []string
	withdrawn []string
}

func (b *fakeBatch) Enqueue(_ context.Context, m *batchentity.Member, deliver batchentity.Deliver) error {
	b.mu.Lock()
	b.members = append(b.members, m.Clone())
	b.mu.Unlock()
	if b.complete {
		done := m.Clone()
		done.Cost = 0.005
		done.Finish(batchentity.MemberStateSucceeded, "batched "+m.PersonaID, "", time.Now())
		go func() {
			time.Sleep(b.delay)
			deliver(done)
		}()
	}
	return nil
}

func (b *fakeBatch) CancelMembers(_ context.Context, memberIDs ...string) error {
	b.mu.Lock()
	b.withdrawn = append(b.withdrawn, memberIDs...)
	b.mu.Unlock()
	return nil
}

func (b *fakeBatch) CancelTask(_ context.Context, taskIDs ...string) error {
	b.mu.Lock()
	b.cancelled = append(b.cancelled, taskIDs...)
	b.mu.Unlock()
	return nil
}

func (b *fakeBatch) enqueued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members)
}

type harness struct {
	cfg         service.EngineConfig
	gateway     *scriptedGateway
	catalog     personaservice.Catalog
	tools       toolservice.Invoker
	toolCalls   *atomic.Int32
	bus         eventservice.Bus
	tasks       *taskinmemory.TaskStore
	delegations *taskinmemory.DelegationStore
	reviewer    *fakeReviewer
	batch       *fakeBatch
	ledger      *ledgerinmemory.Ledger
	engine      service.Engine
}

type option func(*harness)

func withReviewer(r *fakeReviewer) option { return func(h *harness) { h.reviewer = r } }
func withBatch(b *fakeBatch) option       { return func(h *harness) { h.batch = b } }

// withLedger meters every answered call into l, publishing cost events on the bus.
func withLedger(l *ledgerinmemory.Ledger) option { return func(h *harness) { h.ledger = l } }

func newHarness(t *testing.T, cfg service.EngineConfig, opts ...option) *harness {
	t.Helper()
	ctx := context.Background()

	catalog, err := personaservice.NewCatalog(ctx, personainmemory.NewSource(org()...), nil)
	require.NoError(t, err)
	t.Cleanup(catalog.Close)

	toolCalls := &atomic.Int32{}
	tools := toolservice.NewInvoker()
	require.NoError(t, tools.Register(ctx, toolservice.NewDefinedTool(toolentity.ToolDefinition{
		Name:       "calculator",
		Parameters: []toolentity.ParameterDef{{Name: "expression", Type: "string", Required: true}},
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			toolCalls.Add(1)
			return 2, nil
		},
	})))

	bus, err := eventservice.NewBus(ctx, eventsinmemory.NewEventStore(), 0)
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	h := &harness{
		cfg:         cfg,
		gateway:     newGateway(),
		catalog:     catalog,
		tools:       tools,
		toolCalls:   toolCalls,
		bus:         bus,
		tasks:       taskinmemory.NewTaskStore(),
		delegations: taskinmemory.NewDelegationStore(),
	}
	for _, o := range opts {
		o(h)
	}
	h.start(t)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	deps := service.Dependencies{
		Gateway:     h.gateway,
		Personas:    h.catalog,
		Tools:       h.tools,
		Bus:         h.bus,
		Tasks:       h.tasks,
		Delegations: h.delegations,
	}
	if h.reviewer != nil {
		deps.Reviewer = h.reviewer
	}
	if h.batch != nil {
		deps.Batch = h.batch
	}
	if h.ledger != nil {
		deps.Gateway = &meteredGateway{scriptedGateway: h.gateway, meter: ledgerservice.NewRecorder(h.ledger, h.bus)}
	}
	eng, err := service.NewEngine(h.cfg, deps)
	require.NoError(t, err)
	h.engine = eng
	t.Cleanup(eng.Close)
}

func (h *harness) submit(t *testing.T, req *entity.SubmitRequest) string {
	t.Helper()
	id, err := h.engine.Submit(context.Background(), req)
	require.NoError(t, err)
	return id
}

// wait blocks until the task is terminal, then stops the engine so every
// event of the run is published.
func (h *harness) wait(t *testing.T, id string) *entity.Task {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := h.engine.Get(context.Background(), id)
		return err == nil && task.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	h.engine.Close()
	task, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (h *harness) statuses(t *testing.T, id string) []entity.TaskStatus {
	t.Helper()
	events, err := h.engine.Events(context.Background(), id)
	require.NoError(t, err)
	var out []entity.TaskStatus
	for _, e := range events {
		if e.Type == evententity.EventTypeStatus {
			out = append(out, entity.TaskStatus(e.Status))
		}
	}
	return out
}

func sectionIDs(a *reviewentity.Artifact) []string {
	ids := make([]string, 0, len(a.Sections))
	for _, s := range a.Sections {
		ids = append(ids, s.ID)
	}
	return ids
}

const cfoPlan = `{"subtasks": [
	{"specialist": "analyst", "instruction": "assess the risk", "section": "risk", "title": "Risk"},
	{"specialist": "auditor", "instruction": "audit the books", "section": "audit", "title": "Audit"}]}`

func TestDirectAnswer(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.route(`{"answer": "Paris.", "candidates": []}`)

	id := h.submit(t, &entity.SubmitRequest{Command: "What is the capital of France?"})
	task := h.wait(t, id)

	assert.Equal(t, entity.TaskStatusAnswered, task.Status)
	require.NotNil(t, task.Artifact)
	require.Len(t, task.Artifact.Sections, 1)
	assert.Equal(t, "Paris.", task.Artifact.Sections[0].Content)
	assert.Equal(t, "ceo", task.Artifact.Sections[0].Source)
	assert.Equal(t, []entity.TaskStatus{
		entity.TaskStatusReceived, entity.TaskStatusClassifying, entity.TaskStatusAnswered,
	}, h.statuses(t, id))
	assert.Equal(t, 0, h.gateway.count(kindPlan, ""))
}

func TestProseRoutingReplyIsAnAnswer(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.route("Hello! How can I help?")

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "hi"}))
	assert.Equal(t, entity.TaskStatusAnswered, task.Status)
	assert.Equal(t, "Hello! How can I help?", task.Artifact.Sections[0].Content)
}

func TestSingleManagerSynthesizeReviewDeliver(t *testing.T) {
	reviewer := &fakeReviewer{verdict: func(int, *reviewentity.Artifact) (*reviewentity.ReviewReport, error) {
		return passed(), nil
	}}
	h := newHarness(t, service.EngineConfig{}, withReviewer(reviewer))
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.9}, {"persona": "cto", "score": 0.2}]}`)
	h.gateway.plan(map[string]string{"cfo": cfoPlan})

	id := h.submit(t, &entity.SubmitRequest{Command: "Should we buy Acme?"})
	task := h.wait(t, id)

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.False(t, task.Partial)
	assert.Equal(t, []string{"risk", "audit", "summary", "conclusion"}, sectionIDs(task.Artifact))
	assert.Equal(t, "analyst findings", task.Artifact.Section("risk").Content)
	assert.Equal(t, "cfo", task.Artifact.Section("summary").Source)
	assert.Equal(t, "finance", task.Artifact.Division)
	assert.Equal(t, 1.0, task.Progress)
	assert.Equal(t, []entity.TaskStatus{
		entity.TaskStatusReceived, entity.TaskStatusClassifying, entity.TaskStatusDelegated,
		entity.TaskStatusAwaiting, entity.TaskStatusSynthesizing, entity.TaskStatusReviewing,
		entity.TaskStatusDelivered,
	}, h.statuses(t, id))

	plan, err := h.engine.Delegation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "cfo", plan.ManagerID)
	require.Len(t, plan.Results, 2)
	assert.Equal(t, entity.PathSync, plan.Results[0].Path)
	assert.NotNil(t, plan.Archived)
	assert.Len(t, reviewer.reviews(), 1)
}

func TestPartialFailureOnSubtaskTimeout(t *testing.T) {
	h := newHarness(t, service.EngineConfig{Executor: service.ExecutorConfig{SubtaskTimeout: 100 * time.Millisecond}})
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.9}]}`)
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [
		{"specialist": "analyst", "section": "risk"},
		{"specialist": "auditor", "section": "audit"},
		{"specialist": "forecaster", "section": "forecast"},
		{"specialist": "treasurer", "section": "cash"}]}`})
	h.gateway.on(kindWork, func(ctx context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		if req.PersonaID == "forecaster" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return reply(req.PersonaID + " findings")
	})

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "Quarterly review"}))

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.True(t, task.Partial)
	require.Len(t, task.Failures, 1)
	assert.Contains(t, task.Failures[0], `"forecast" by forecaster`)
	assert.Contains(t, task.Failures[0], "timed out")
	assert.Equal(t, task.Failures, task.Artifact.Gaps)
	assert.Nil(t, task.Artifact.Section("forecast"))
	for _, id := range []string{"risk", "audit", "cash"} {
		assert.NotNil(t, task.Artifact.Section(id), id)
	}
	assert.True(t, task.Artifact.Section("summary").Incomplete)
	assert.Contains(t, task.Artifact.Markdown(), "Missing contributions")
}

func TestBlockingFailureFailsTask(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.9}]}`)
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [
		{"specialist": "analyst", "section": "risk", "blocking": true},
		{"specialist": "auditor", "section": "audit"}]}`})
	h.gateway.on(kindWork, func(_ context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		if req.PersonaID == "analyst" {
			return nil, errors.New("model exploded")
		}
		return reply("audit ok")
	})

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "Quarterly review"}))

	assert.Equal(t, entity.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "blocking subtask cfo.1 failed")
	assert.Nil(t, task.Artifact)
	assert.Equal(t, 0, h.gateway.count(kindSynthesize, ""))
}

func TestSingleContributionCollapses(t *testing.T) {
	reviewer := &fakeReviewer{verdict: func(int, *reviewentity.Artifact) (*reviewentity.ReviewReport, error) {
		return passed(), nil
	}}
	h := newHarness(t, service.EngineConfig{}, withReviewer(reviewer))
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [{"specialist": "auditor", "section": "audit", "title": "Audit"}]}`})

	id := h.submit(t, &entity.SubmitRequest{Command: "Audit the books", TargetPersona: "cfo"})
	task := h.wait(t, id)

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Equal(t, []string{"audit"}, sectionIDs(task.Artifact))
	assert.Equal(t, "auditor findings", task.Artifact.Sections[0].Content)
	assert.Equal(t, 0, h.gateway.count(kindRoute, ""))
	assert.Equal(t, 0, h.gateway.count(kindSynthesize, ""))
	assert.Empty(t, reviewer.reviews())
	assert.Equal(t, []entity.TaskStatus{
		entity.TaskStatusReceived, entity.TaskStatusDelegated, entity.TaskStatusAwaiting, entity.TaskStatusDelivered,
	}, h.statuses(t, id))
}

func TestAmbiguousRoutingFansOut(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.8}, {"persona": "cto", "score": 0.75}]}`)
	h.gateway.plan(map[string]string{
		"cfo": `{"subtasks": [{"specialist": "analyst", "section": "risk"}]}`,
		"cto": `{"subtasks": [{"specialist": "engineer", "section": "architecture"}]}`,
	})

	id := h.submit(t, &entity.SubmitRequest{Command: "Can we afford to rebuild the platform?"})
	task := h.wait(t, id)

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Equal(t, []string{"cfo/risk", "cto/architecture", "summary", "conclusion"}, sectionIDs(task.Artifact))
	assert.Equal(t, "ceo", task.Artifact.Section("summary").Source)
	assert.Equal(t, "executive", task.Artifact.Division)
	assert.Equal(t, 1, h.gateway.count(kindSynthesize, "ceo"))
	require.Len(t, task.ChildIDs, 2)

	family, err := h.engine.List(context.Background(), &entity.TaskFilter{CorrelationID: id})
	require.NoError(t, err)
	assert.Len(t, family, 3)
	for _, cid := range task.ChildIDs {
		child, err := h.engine.Get(context.Background(), cid)
		require.NoError(t, err)
		assert.Equal(t, entity.TaskStatusDelivered, child.Status)
		assert.Equal(t, id, child.ParentID)
		assert.Len(t, child.Artifact.Sections, 1)
		assert.Equal(t, []entity.TaskStatus{
			entity.TaskStatusReceived, entity.TaskStatusDelegated, entity.TaskStatusAwaiting, entity.TaskStatusDelivered,
		}, h.statuses(t, cid))
	}

	roots, err := h.engine.List(context.Background(), &entity.TaskFilter{RootsOnly: true})
	require.NoError(t, err)
	assert.Len(t, roots, 1)
}

func TestZeroMarginRoutesToOneManager(t *testing.T) {
	h := newHarness(t, service.EngineConfig{Routing: &entity.RoutingPolicy{Margin: 0, MinScore: 0.5}})
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.8}, {"persona": "cto", "score": 0.75}]}`)
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [{"specialist": "auditor", "section": "audit"}]}`})

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "Can we afford to rebuild the platform?"}))

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Empty(t, task.ChildIDs)
	assert.Equal(t, 1, h.gateway.count(kindPlan, "cfo"))
	assert.Zero(t, h.gateway.count(kindPlan, "cto"))
}

func TestRepeatedCandidateGetsOneChild(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.8}, {"persona": "cfo", "score": 0.78}]}`)
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [{"specialist": "auditor", "section": "audit"}]}`})

	id := h.submit(t, &entity.SubmitRequest{Command: "Close the books"})
	task := h.wait(t, id)

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Empty(t, task.ChildIDs)
	assert.Equal(t, 1, h.gateway.count(kindPlan, "cfo"))
	family, err := h.engine.List(context.Background(), &entity.TaskFilter{CorrelationID: id})
	require.NoError(t, err)
	assert.Len(t, family, 1)
}

func TestReworkRegeneratesOnlyRejectedSections(t *testing.T) {
	reviewer := &fakeReviewer{verdict: func(n int, _ *reviewentity.Artifact) (*reviewentity.ReviewReport, error) {
		if n == 1 {
			return rejected(map[string]string{"risk": "no numbers", "conclusion": "does not follow"}), nil
		}
		return passed(), nil
	}}
	h := newHarness(t, service.EngineConfig{ReworkLimit: service.DefaultReworkLimit}, withReviewer(reviewer))
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.9}]}`)
	h.gateway.plan(map[string]string{"cfo": cfoPlan})
	h.gateway.on(kindWork, func(_ context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		if strings.Contains(promptOf(req), "Reviewer feedback:\nno numbers") {
			return reply("risk is 12%")
		}
		return reply(req.PersonaID + " findings")
	})
	h.gateway.on(kindRegenerate, func(context.Context, *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		return reply(`{"content": "proceed, given a 12% risk"}`)
	})

	id := h.submit(t, &entity.SubmitRequest{Command: "Should we buy Acme?"})
	task := h.wait(t, id)

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Equal(t, 1, task.ReworkCount)
	assert.Empty(t, task.Findings)
	assert.Equal(t, 1, task.Artifact.Revision)
	assert.Equal(t, "risk is 12%", task.Artifact.Section("risk").Content)
	assert.Equal(t, "proceed, given a 12% risk", task.Artifact.Section("conclusion").Content)

	first := reviewer.reviews()[0]
	for _, sid := range []string{"audit", "summary"} {
		if diff := cmp.Diff(first.Section(sid), task.Artifact.Section(sid)); diff != "" {
			t.Errorf("section %s changed during rework (-before +after):\n%s", sid, diff)
		}
	}
	assert.Equal(t, []string{"risk", "audit", "summary", "conclusion"}, sectionIDs(task.Artifact))

	assert.Equal(t, 2, h.gateway.count(kindWork, "analyst"))
	assert.Equal(t, 1, h.gateway.count(kindWork, "auditor"))
	assert.Equal(t, 1, h.gateway.count(kindSynthesize, ""))
	assert.Equal(t, 1, h.gateway.count(kindRegenerate, "cfo"))
	assert.Equal(t, []entity.TaskStatus{
		entity.TaskStatusReceived, entity.TaskStatusClassifying, entity.TaskStatusDelegated,
		entity.TaskStatusAwaiting, entity.TaskStatusSynthesizing, entity.TaskStatusReviewing,
		entity.TaskStatusReworking, entity.TaskStatusSynthesizing, entity.TaskStatusReviewing,
		entity.TaskStatusDelivered,
	}, h.statuses(t, id))
}

func TestReworkIsBounded(t *testing.T) {
	reviewer := &fakeReviewer{verdict: func(int, *reviewentity.Artifact) (*reviewentity.ReviewReport, error) {
		return rejected(map[string]string{"risk": "still vague"}), nil
	}}
	h := newHarness(t, service.EngineConfig{ReworkLimit: 2}, withReviewer(reviewer))
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.9}]}`)
	h.gateway.plan(map[string]string{"cfo": cfoPlan})

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "Should we buy Acme?"}))

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Equal(t, 2, task.ReworkCount)
	assert.Len(t, reviewer.reviews(), 3)
	assert.Equal(t, []string{"risk: still vague"}, task.Findings)
	assert.Equal(t, task.Findings, task.Artifact.Findings)
	risk := task.Artifact.Section("risk")
	assert.True(t, risk.Incomplete)
	assert.Equal(t, "rejected by review: still vague", risk.Note)
	assert.Equal(t, 3, h.gateway.count(kindWork, "analyst"))
}

func TestReworkDisabled(t *testing.T) {
	reviewer := &fakeReviewer{verdict: func(int, *reviewentity.Artifact) (*reviewentity.ReviewReport, error) {
		return rejected(map[string]string{"summary": "too long"}), nil
	}}
	h := newHarness(t, service.EngineConfig{ReworkLimit: 0}, withReviewer(reviewer))
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.9}]}`)
	h.gateway.plan(map[string]string{"cfo": cfoPlan})

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "Should we buy Acme?"}))
	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Zero(t, task.ReworkCount)
	assert.Len(t, reviewer.reviews(), 1)
	assert.Equal(t, []string{"summary: too long"}, task.Findings)
}

func TestReviewUnavailableStillDelivers(t *testing.T) {
	reviewer := &fakeReviewer{verdict: func(int, *reviewentity.Artifact) (*reviewentity.ReviewReport, error) {
		return nil, fmt.Errorf("%w: reviewer model down", errno.ErrReviewUnavailable)
	}}
	h := newHarness(t, service.EngineConfig{}, withReviewer(reviewer))
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.9}]}`)
	h.gateway.plan(map[string]string{"cfo": cfoPlan})

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "Should we buy Acme?"}))
	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	require.Len(t, task.Findings, 1)
	assert.Contains(t, task.Findings[0], "review unavailable")
	assert.Zero(t, task.ReworkCount)
}

func TestToolBudgetIsEnforced(t *testing.T) {
	h := newHarness(t, service.EngineConfig{ToolBudget: 2})
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.9}]}`)
	h.gateway.plan(map[string]string{"cfo": cfoPlan})
	h.gateway.on(kindWork, func(_ context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		if req.PersonaID != "analyst" {
			return reply("audit ok")
		}
		return &llmentity.GenerateResponse{ToolCalls: []schema.ToolCall{{
			ID:       fmt.Sprintf("call-%d", len(req.History)),
			Function: schema.FunctionCall{Name: "calculator", Arguments: `{"expression": "1+1"}`},
		}}}, nil
	})

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "Model the downside"}))

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Equal(t, 2, task.ToolCalls)
	assert.Equal(t, int32(2), h.toolCalls.Load())
	assert.True(t, task.Partial)
	require.Len(t, task.Failures, 1)
	assert.Contains(t, task.Failures[0], "tool call budget exceeded")
	assert.Equal(t, []string{"audit"}, sectionIDs(task.Artifact))
	assert.Equal(t, 3, h.gateway.count(kindWork, "analyst"))
}

func TestToolResultsAreFedBack(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [{"specialist": "analyst", "section": "risk"}]}`})
	h.gateway.on(kindWork, func(_ context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		for _, m := range req.History {
			if m.Role == schema.Tool {
				return reply("the answer is " + m.Content)
			}
		}
		return &llmentity.GenerateResponse{ToolCalls: []schema.ToolCall{{
			ID:       "c1",
			Function: schema.FunctionCall{Name: "calculator", Arguments: `{"expression": "1+1"}`},
		}}}, nil
	})

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "1+1?", TargetPersona: "cfo"}))
	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Equal(t, "the answer is 2", task.Artifact.Section("risk").Content)
	assert.Equal(t, 1, task.ToolCalls)
}

func TestBatchPathDeliversThroughSink(t *testing.T) {
	batch := &fakeBatch{complete: true}
	h := newHarness(t, service.EngineConfig{}, withBatch(batch))
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [
		{"specialist": "auditor", "section": "audit"},
		{"specialist": "analyst", "section": "risk"}]}`})

	id := h.submit(t, &entity.SubmitRequest{Command: "Year-end close", TargetPersona: "cfo", Mode: entity.ModeBatch})
	task := h.wait(t, id)

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Equal(t, "batched auditor", task.Artifact.Section("audit").Content)
	// Tool users stay on the synchronous path.
	assert.Equal(t, "analyst findings", task.Artifact.Section("risk").Content)
	assert.Equal(t, 1, batch.enqueued())

	plan, err := h.engine.Delegation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.PathBatch, plan.Results[0].Path)
	assert.Equal(t, 0.005, plan.Results[0].Cost)
	assert.Equal(t, entity.PathSync, plan.Results[1].Path)

	batch.mu.Lock()
	m := batch.members[0]
	batch.mu.Unlock()
	assert.Equal(t, id, m.TaskID)
	assert.Equal(t, "cfo.1", m.SubtaskID)
	assert.Equal(t, "fake", m.Ref.ProviderID)
	assert.Contains(t, m.Prompt, "Task from your manager")
}

func TestCancelStopsSubtasksAndWithdrawsBatchMembers(t *testing.T) {
	batch := &fakeBatch{}
	h := newHarness(t, service.EngineConfig{}, withBatch(batch))
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [{"specialist": "auditor", "section": "audit"}]}`})

	id := h.submit(t, &entity.SubmitRequest{Command: "Year-end close", TargetPersona: "cfo", Mode: entity.ModeBatch})
	require.Eventually(t, func() bool { return batch.enqueued() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, h.engine.Cancel(context.Background(), id))
	task, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusCancelled, task.Status)

	plan, err := h.engine.Delegation(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, plan.Results, 1)
	assert.True(t, plan.Results[0].Cancelled)

	batch.mu.Lock()
	assert.Contains(t, batch.cancelled, id)
	batch.mu.Unlock()

	err = h.engine.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, errno.ErrTaskTerminal)
}

func TestBatchSubtaskOutlivesSynchronousTimeout(t *testing.T) {
	batch := &fakeBatch{complete: true, delay: 100 * time.Millisecond}
	cfg := service.EngineConfig{Executor: service.ExecutorConfig{SubtaskTimeout: 20 * time.Millisecond, BatchTimeout: 5 * time.Second}}
	h := newHarness(t, cfg, withBatch(batch))
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [{"specialist": "auditor", "section": "audit"}]}`})

	task := h.wait(t, h.submit(t, &entity.SubmitRequest{Command: "Year-end close", TargetPersona: "cfo", Mode: entity.ModeBatch}))

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.False(t, task.Partial)
	assert.Equal(t, "batched auditor", task.Artifact.Section("audit").Content)
	batch.mu.Lock()
	defer batch.mu.Unlock()
	assert.Empty(t, batch.withdrawn)
}

func TestExpiredBatchSubtaskIsWithdrawn(t *testing.T) {
	batch := &fakeBatch{}
	cfg := service.EngineConfig{Executor: service.ExecutorConfig{SubtaskTimeout: time.Second, BatchTimeout: 50 * time.Millisecond}}
	h := newHarness(t, cfg, withBatch(batch))
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [
		{"specialist": "auditor", "section": "audit"},
		{"specialist": "analyst", "section": "risk"}]}`})

	id := h.submit(t, &entity.SubmitRequest{Command: "Year-end close", TargetPersona: "cfo", Mode: entity.ModeBatch})
	task := h.wait(t, id)

	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.True(t, task.Partial)
	require.Len(t, task.Failures, 1)
	assert.Contains(t, task.Failures[0], "timed out")

	plan, err := h.engine.Delegation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, plan.Results[0].TaskID)
	assert.Equal(t, entity.PathBatch, plan.Results[0].Path)
	assert.Equal(t, entity.PathSync, plan.Results[1].Path)

	batch.mu.Lock()
	defer batch.mu.Unlock()
	require.Len(t, batch.members, 1)
	assert.Equal(t, []string{batch.members[0].ID}, batch.withdrawn)
	assert.Empty(t, batch.cancelled)
}

func TestCancelChargesOnlyAnsweredCalls(t *testing.T) {
	ctx := context.Background()
	ledger := ledgerinmemory.NewLedger()
	h := newHarness(t, service.EngineConfig{}, withLedger(ledger))
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [
		{"specialist": "auditor", "section": "audit"},
		{"specialist": "forecaster", "section": "forecast"}]}`})
	blocked := make(chan struct{})
	h.gateway.on(kindWork, func(ctx context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		if req.PersonaID == "forecaster" {
			close(blocked)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &llmentity.GenerateResponse{Text: "books reconciled", Cost: 0.25}, nil
	})

	id := h.submit(t, &entity.SubmitRequest{Command: "Year-end close", TargetPersona: "cfo"})
	<-blocked
	// The plan call and the auditor are answered; the forecaster never is.
	require.Eventually(t, func() bool {
		records, err := ledger.Query(ctx, &ledgerentity.Filter{TaskIDs: []string{id}})
		return err == nil && len(records) == 2
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, h.engine.Cancel(ctx, id))
	h.engine.Close()

	total, err := ledger.TotalForTask(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.01+0.25, total, 1e-9)

	events, err := h.engine.Events(ctx, id)
	require.NoError(t, err)
	var streamed float64
	for _, e := range events {
		if e.Type == evententity.EventTypeCost {
			streamed += e.CostDelta
		}
	}
	assert.InDelta(t, total, streamed, 1e-9)

	plan, err := h.engine.Delegation(ctx, id)
	require.NoError(t, err)
	require.Len(t, plan.Results, 2)
	assert.Equal(t, 0.25, plan.Results[0].Cost)
	assert.True(t, plan.Results[1].Cancelled)
	assert.Zero(t, plan.Results[1].Cost)
}

func TestCancelChildCancelsCommand(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.route(`{"candidates": [{"persona": "cfo", "score": 0.8}, {"persona": "cto", "score": 0.8}]}`)
	h.gateway.plan(map[string]string{
		"cfo": `{"subtasks": [{"specialist": "auditor", "section": "audit"}]}`,
		"cto": `{"subtasks": [{"specialist": "engineer", "section": "platform"}]}`,
	})
	started := make(chan struct{}, 2)
	h.gateway.on(kindWork, func(ctx context.Context, _ *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	id := h.submit(t, &entity.SubmitRequest{Command: "Plan the migration"})
	<-started
	<-started

	root, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, root.ChildIDs, 2)
	require.NoError(t, h.engine.Cancel(context.Background(), root.ChildIDs[0]))

	family, err := h.engine.List(context.Background(), &entity.TaskFilter{CorrelationID: id})
	require.NoError(t, err)
	require.Len(t, family, 3)
	for _, task := range family {
		assert.Equal(t, entity.TaskStatusCancelled, task.Status, task.ID)
	}
}

func TestSubmitRejectsConfigurationProblems(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})

	id, err := h.engine.Submit(context.Background(), &entity.SubmitRequest{Command: "hello", TargetPersona: "nobody"})
	assert.ErrorIs(t, err, errno.ErrConfiguration)
	require.NotEmpty(t, id)
	task, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, `unknown target persona "nobody"`)

	_, err = h.engine.Submit(context.Background(), &entity.SubmitRequest{Command: "hello", Mode: entity.ModeBatch})
	assert.ErrorIs(t, err, errno.ErrConfiguration)

	_, err = h.engine.Submit(context.Background(), &entity.SubmitRequest{Command: "  "})
	assert.Error(t, err)

	assert.Zero(t, h.gateway.total())
}

func TestCloseLeavesTaskForRecovery(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.plan(map[string]string{"cfo": `{"subtasks": [{"specialist": "auditor", "section": "audit"}]}`})
	var block atomic.Bool
	block.Store(true)
	started := make(chan struct{}, 1)
	h.gateway.on(kindWork, func(ctx context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
		if block.Load() {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return reply("audit done")
	})

	id := h.submit(t, &entity.SubmitRequest{Command: "Audit", TargetPersona: "cfo"})
	<-started
	h.engine.Close()

	task, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusAwaiting, task.Status)
	_, err = h.engine.Submit(context.Background(), &entity.SubmitRequest{Command: "late"})
	assert.ErrorIs(t, err, errno.ErrEngineClosed)

	block.Store(false)
	h.start(t)
	n, err := h.engine.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task = h.wait(t, id)
	assert.Equal(t, entity.TaskStatusDelivered, task.Status)
	assert.Equal(t, "audit done", task.Artifact.Sections[0].Content)
}

func TestRecoverCancelsOrphansAndKeepsCounters(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.route(`{"answer": "done"}`)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, h.tasks.Create(ctx, &entity.Task{
		ID: "r1", Command: "resume me", TargetPersona: entity.TargetAuto, Status: entity.TaskStatusAwaiting,
		CorrelationID: "r1", ChildIDs: []string{"c1"}, ReworkCount: 1, ToolCalls: 3, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, h.tasks.Create(ctx, &entity.Task{
		ID: "c1", Command: "resume me", TargetPersona: "cfo", Status: entity.TaskStatusDelegated,
		ParentID: "r1", CorrelationID: "r1", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, h.tasks.Create(ctx, &entity.Task{
		ID: "d1", Command: "old", Status: entity.TaskStatusDelivered, CorrelationID: "d1", CreatedAt: now, UpdatedAt: now,
	}))

	n, err := h.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	root := h.wait(t, "r1")
	assert.Equal(t, entity.TaskStatusAnswered, root.Status)
	assert.Equal(t, 1, root.ReworkCount)
	assert.Equal(t, 3, root.ToolCalls)
	assert.Empty(t, root.ChildIDs)

	child, err := h.engine.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusCancelled, child.Status)
	assert.Equal(t, "orphaned by restart", child.Error)

	old, err := h.engine.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusDelivered, old.Status)
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := service.NewEngine(service.EngineConfig{}, service.Dependencies{})
	assert.ErrorIs(t, err, errno.ErrConfiguration)
}

func TestProgressEventsCoverEverySubtask(t *testing.T) {
	h := newHarness(t, service.EngineConfig{})
	h.gateway.plan(map[string]string{"cfo": cfoPlan})

	id := h.submit(t, &entity.SubmitRequest{Command: "Review", TargetPersona: "cfo"})
	h.wait(t, id)

	events, err := h.engine.Events(context.Background(), id)
	require.NoError(t, err)
	var progress []float64
	var last uint64
	for _, e := range events {
		assert.Greater(t, e.Seq, last)
		last = e.Seq
		if e.Type == evententity.EventTypeProgress {
			progress = append(progress, e.Progress)
		}
	}
	require.Len(t, progress, 2)
	assert.Contains(t, progress, entity.AwaitingProgress(2, 2))
	assert.True(t, events[len(events)-1].Terminal())
}
