package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	batchentity "github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/repo"
	evententity "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	reviewentity "github.com/kiosk404/cohort/internal/cohortd/service/review/domain/entity"
	toolentity "github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/safego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultReworkLimit bounds review-driven regeneration per task.
const DefaultReworkLimit = 2

// EngineConfig tunes the delegation pipeline.
type EngineConfig struct {
	ReworkLimit int
	ToolBudget  int
	// ReviewCollapsed sends single-contribution artifacts through review too.
	ReviewCollapsed bool
	Executor        ExecutorConfig
	// Routing nil selects entity.DefaultRoutingPolicy.
	Routing *entity.RoutingPolicy
}

// Dependencies are the collaborators of the engine.
type Dependencies struct {
	Gateway  Gateway
	Personas Personas
	Tools    Tools
	// Reviewer may be nil to deliver without review.
	Reviewer Reviewer
	Bus      EventBus
	// Batch may be nil to keep every subtask on the synchronous path.
	Batch       BatchChannel
	Tasks       repo.TaskRepository
	Delegations repo.DelegationRepository
	// Classifier and Decomposer default to the persona-driven implementations.
	Classifier Classifier
	Decomposer Decomposer
}

// Engine accepts commands and drives them to delivery.
type Engine interface {
	// Submit records the task and starts it. A task-level configuration
	// problem fails the task before any generation call; its id is returned
	// together with the error.
	Submit(ctx context.Context, req *entity.SubmitRequest) (string, error)
	Get(ctx context.Context, id string) (*entity.Task, error)
	List(ctx context.Context, filter *entity.TaskFilter) ([]*entity.Task, error)
	Delegation(ctx context.Context, taskID string) (*entity.Delegation, error)
	// Cancel stops a task and waits for it to settle. Cancelling a child
	// task cancels the command it belongs to.
	Cancel(ctx context.Context, id string) error
	Events(ctx context.Context, taskID string) ([]*evententity.Event, error)
	Subscribe(taskID string) (<-chan evententity.Event, func())
	// Recover resumes unfinished root tasks after a restart and cancels
	// their orphaned children. It returns the number of resumed tasks.
	Recover(ctx context.Context) (int, error)
	// Close stops every running task without marking it, so Recover can
	// pick it up on the next start.
	Close()
}

type runHandle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

type engine struct {
	cfg      EngineConfig
	deps     Dependencies
	worker   *Worker
	executor *Executor
	synth    *Synthesizer
	tracer   trace.Tracer

	base context.Context
	stop context.CancelCauseFunc

	mu     sync.Mutex
	runs   map[string]*runHandle
	closed bool
	wg     sync.WaitGroup
}

var _ Engine = (*engine)(nil)

func NewEngine(cfg EngineConfig, deps Dependencies) (Engine, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errno.NewConfigurationError("delegation", "gateway is required")
	case deps.Personas == nil:
		return nil, errno.NewConfigurationError("delegation", "persona catalog is required")
	case deps.Tools == nil:
		return nil, errno.NewConfigurationError("delegation", "tool invoker is required")
	case deps.Bus == nil:
		return nil, errno.NewConfigurationError("delegation", "event bus is required")
	case deps.Tasks == nil || deps.Delegations == nil:
		return nil, errno.NewConfigurationError("delegation", "task and delegation stores are required")
	}
	if cfg.ReworkLimit < 0 {
		cfg.ReworkLimit = DefaultReworkLimit
	}
	if cfg.ToolBudget <= 0 {
		cfg.ToolBudget = toolentity.DefaultToolBudget
	}
	routing := entity.DefaultRoutingPolicy
	if cfg.Routing != nil {
		routing = *cfg.Routing
	}
	if deps.Classifier == nil {
		deps.Classifier = NewCoordinatorClassifier(deps.Gateway, routing)
	}
	if deps.Decomposer == nil {
		deps.Decomposer = NewManagerDecomposer(deps.Gateway)
	}

	executor := NewExecutor(cfg.Executor)
	base, stop := context.WithCancelCause(context.Background())
	return &engine{
		cfg:      cfg,
		deps:     deps,
		worker:   NewWorker(deps.Gateway, deps.Tools, executor.cfg.SubtaskTimeout),
		executor: executor,
		synth:    NewSynthesizer(deps.Gateway),
		tracer:   otel.Tracer("cohort/delegation"),
		base:     base,
		stop:     stop,
		runs:     make(map[string]*runHandle),
	}, nil
}

// runState is owned by the goroutine running one root task.
type runState struct {
	task     *entity.Task
	budget   *toolentity.Budget
	children []*entity.Task
	origins  map[string]*origin
}

// origin ties an artifact section to the subtask that wrote it.
type origin struct {
	owner   *entity.Task
	spec    *entity.SubtaskSpec
	persona *personaentity.Persona
}

type managerOutcome struct {
	manager *personaentity.Persona
	owner   *entity.Task
	team    map[string]*personaentity.Persona
	plan    *entity.Delegation
	results []*entity.SubtaskResult
	err     error
}

func (e *engine) Submit(ctx context.Context, req *entity.SubmitRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return "", errno.ErrEngineClosed
	}

	mode, _ := entity.ParseMode(string(req.Mode))
	target := strings.TrimSpace(req.TargetPersona)
	if target == "" {
		target = entity.TargetAuto
	}
	now := time.Now()
	task := &entity.Task{
		ID:            uuid.NewString(),
		Command:       req.Command,
		TargetPersona: target,
		Status:        entity.TaskStatusReceived,
		Mode:          mode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	task.CorrelationID = task.ID
	if err := e.deps.Tasks.Create(ctx, task); err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	logger.Info("[Delegation] task %s received (target=%s, mode=%s)", task.ID, target, mode)
	e.publishStatus(ctx, task)

	if err := e.preflight(task); err != nil {
		e.finish(ctx, nil, task, entity.TaskStatusFailed, err)
		return task.ID, err
	}
	if err := e.start(task); err != nil {
		return task.ID, err
	}
	return task.ID, nil
}

// preflight rejects configuration problems before any generation call.
func (e *engine) preflight(task *entity.Task) error {
	if task.TargetPersona == entity.TargetAuto {
		if _, err := e.deps.Personas.Coordinator(); err != nil {
			return errno.NewConfigurationError("task "+task.ID, "no coordinator persona to route the command")
		}
	} else if _, err := e.deps.Personas.Get(task.TargetPersona); err != nil {
		cerr := errno.NewConfigurationError("task "+task.ID, "unknown target persona %q", task.TargetPersona)
		cerr.Cause = err
		return cerr
	}
	if task.Mode == entity.ModeBatch && e.deps.Batch == nil {
		return errno.NewConfigurationError("task "+task.ID, "batch mode requested but batch submission is disabled")
	}
	return nil
}

func (e *engine) start(task *entity.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errno.ErrEngineClosed
	}
	ctx, cancel := context.WithCancelCause(e.base)
	h := &runHandle{cancel: cancel, done: make(chan struct{})}
	e.runs[task.ID] = h
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(h.done)
		defer safego.Recover(ctx)
		defer func() {
			e.mu.Lock()
			delete(e.runs, task.ID)
			e.mu.Unlock()
			cancel(nil)
		}()
		e.run(ctx, task)
	}()
	return nil
}

func (e *engine) run(ctx context.Context, task *entity.Task) {
	ctx, span := e.tracer.Start(ctx, "task", trace.WithAttributes(
		attribute.String("task", task.ID),
		attribute.String("target", task.TargetPersona),
	))
	defer span.End()

	st := &runState{
		task:    task,
		budget:  toolentity.NewBudget(task.ID, e.cfg.ToolBudget, task.ToolCalls),
		origins: make(map[string]*origin),
	}
	err := e.process(ctx, st)
	if err != nil {
		span.RecordError(err)
	}

	switch {
	case task.Status.IsTerminal():
	case shuttingDown(ctx):
		logger.Info("[Delegation] task %s interrupted by shutdown, left for recovery", task.ID)
		return
	case ctx.Err() != nil:
		e.finish(ctx, st, task, entity.TaskStatusCancelled, nil)
	case err != nil:
		e.finish(ctx, st, task, entity.TaskStatusFailed, err)
	}
	e.settle(ctx, st)
}

func shuttingDown(ctx context.Context) bool {
	return ctx.Err() != nil && errors.Is(context.Cause(ctx), errno.ErrEngineClosed)
}

// settle ends children left behind by a failed or cancelled root and
// withdraws their queued batch members.
func (e *engine) settle(ctx context.Context, st *runState) {
	ctx = context.WithoutCancel(ctx)
	ids := []string{st.task.ID}
	for _, child := range st.children {
		ids = append(ids, child.ID)
		if !child.Status.IsTerminal() {
			e.finish(ctx, nil, child, entity.TaskStatusCancelled, nil)
		}
	}
	if st.task.Status == entity.TaskStatusCancelled && e.deps.Batch != nil {
		if err := e.deps.Batch.CancelTask(ctx, ids...); err != nil {
			logger.Warn("[Delegation] task %s: failed to cancel batch members: %v", st.task.ID, err)
		}
	}
}

func (e *engine) process(ctx context.Context, st *runState) error {
	task := st.task
	decision, err := e.route(ctx, st)
	if err != nil {
		return err
	}

	if ans, ok := decision.(entity.Answer); ok {
		source := ""
		if c, err := e.deps.Personas.Coordinator(); err == nil {
			source = c.ID
		}
		task.Artifact = &reviewentity.Artifact{
			ID:     uuid.NewString(),
			TaskID: task.ID,
			Sections: []*reviewentity.Section{{
				ID: "answer", Title: "Answer", Content: ans.Text, Source: source,
			}},
		}
		return e.advance(ctx, st, task, entity.TaskStatusAnswered, "answered by the coordinator")
	}

	ids := entity.Managers(decision)
	managers := make([]*personaentity.Persona, 0, len(ids))
	for _, id := range ids {
		m, err := e.deps.Personas.Get(id)
		if err != nil {
			return errno.NewConfigurationError("task "+task.ID, "routed to unknown persona %q", id)
		}
		managers = append(managers, m)
	}
	detail := "delegated to " + strings.Join(ids, ", ")
	if _, ok := decision.(entity.Ambiguous); ok {
		detail = "ambiguous routing, fanned out to " + strings.Join(ids, ", ")
	}
	if err := e.advance(ctx, st, task, entity.TaskStatusDelegated, detail); err != nil {
		return err
	}

	var (
		outcomes []*managerOutcome
		author   *personaentity.Persona
	)
	if len(managers) == 1 {
		author = managers[0]
		outcomes = []*managerOutcome{e.runManager(ctx, st, task, author)}
	} else {
		if author, err = e.deps.Personas.Coordinator(); err != nil {
			return errno.NewConfigurationError("task "+task.ID, "no coordinator persona to merge manager outputs")
		}
		if outcomes, err = e.fanOut(ctx, st, managers); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.aggregate(ctx, st, outcomes, author)
}

func (e *engine) route(ctx context.Context, st *runState) (entity.RoutingDecision, error) {
	task := st.task
	if task.TargetPersona != entity.TargetAuto {
		p, err := e.deps.Personas.Get(task.TargetPersona)
		if err != nil {
			return nil, errno.NewConfigurationError("task "+task.ID, "unknown target persona %q", task.TargetPersona)
		}
		if p.Tier != personaentity.TierCoordinator {
			return entity.DelegateTo{PersonaIDs: []string{p.ID}}, nil
		}
	}
	if err := e.advance(ctx, st, task, entity.TaskStatusClassifying, ""); err != nil {
		return nil, err
	}
	return e.deps.Classifier.Classify(ctx, task, e.deps.Personas)
}

func (e *engine) fanOut(ctx context.Context, st *runState, managers []*personaentity.Persona) ([]*managerOutcome, error) {
	root := st.task
	for _, m := range managers {
		now := time.Now()
		child := &entity.Task{
			ID:            uuid.NewString(),
			Command:       root.Command,
			TargetPersona: m.ID,
			Status:        entity.TaskStatusReceived,
			Mode:          root.Mode,
			ParentID:      root.ID,
			CorrelationID: root.CorrelationID,
			ManagerID:     m.ID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.deps.Tasks.Create(ctx, child); err != nil {
			return nil, fmt.Errorf("failed to create child task: %w", err)
		}
		e.publishStatus(ctx, child)
		st.children = append(st.children, child)
		root.ChildIDs = append(root.ChildIDs, child.ID)
	}
	if err := e.advance(ctx, st, root, entity.TaskStatusAwaiting, fmt.Sprintf("waiting for %d managers", len(managers))); err != nil {
		return nil, err
	}

	outcomes := make([]*managerOutcome, len(managers))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range managers {
		g.Go(func() error {
			out := e.runChild(gctx, st, st.children[i], m)
			outcomes[i] = out
			var blocking *BlockingFailureError
			if errors.As(out.err, &blocking) {
				return out.err
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

// runChild drives one fanned-out manager. The child task is delivered with
// its team's sections; merging and review happen on the root.
func (e *engine) runChild(ctx context.Context, st *runState, child *entity.Task, manager *personaentity.Persona) *managerOutcome {
	if err := e.advance(ctx, st, child, entity.TaskStatusDelegated, "fanned out from "+st.task.ID); err != nil {
		return &managerOutcome{manager: manager, owner: child, err: err}
	}
	out := e.runManager(ctx, st, child, manager)
	switch {
	case shuttingDown(ctx):
	case ctx.Err() != nil:
		e.finish(ctx, st, child, entity.TaskStatusCancelled, nil)
	case out.err != nil:
		e.finish(ctx, st, child, entity.TaskStatusFailed, out.err)
	default:
		contributions, gaps := collect(out, false)
		child.Artifact = e.synth.Assemble(child, manager.Division, contributions, gaps)
		child.Partial = len(gaps) > 0
		child.Failures = gaps
		detail := fmt.Sprintf("%d section(s) from %s", len(contributions), manager.ID)
		if err := e.advance(ctx, st, child, entity.TaskStatusDelivered, detail); err != nil {
			logger.Error("[Delegation] task %s: %v", child.ID, err)
		}
	}
	return out
}

// runManager decomposes and executes one manager's share of owner.
func (e *engine) runManager(ctx context.Context, st *runState, owner *entity.Task, manager *personaentity.Persona) *managerOutcome {
	ctx, span := e.tracer.Start(ctx, "manager", trace.WithAttributes(
		attribute.String("task", owner.ID),
		attribute.String("manager", manager.ID),
	))
	defer span.End()

	out := &managerOutcome{manager: manager, owner: owner, team: map[string]*personaentity.Persona{manager.ID: manager}}
	children, err := e.deps.Personas.ChildrenOf(manager.ID)
	if err != nil {
		out.err = err
		return out
	}
	for _, c := range children {
		out.team[c.ID] = c
	}
	plan, err := e.deps.Decomposer.Decompose(ctx, owner, manager, children)
	if err != nil {
		span.RecordError(err)
		out.err = err
		return out
	}
	out.plan = plan
	if err := e.deps.Delegations.Save(ctx, plan); err != nil {
		out.err = fmt.Errorf("failed to save delegation: %w", err)
		return out
	}
	detail := fmt.Sprintf("%s planned %d subtask(s)", manager.ID, len(plan.Subtasks))
	if err := e.advance(ctx, st, owner, entity.TaskStatusAwaiting, detail); err != nil {
		out.err = err
		return out
	}
	if len(plan.Subtasks) == 0 {
		return out
	}

	total := len(plan.Subtasks)
	var sink *ResultSink
	sink = NewResultSink(func(r *entity.SubtaskResult) {
		e.publishProgress(ctx, owner, r, sink.Len(), total)
	})
	out.results, out.err = e.executor.Run(ctx, owner.ID, plan.Subtasks, e.dispatcher(st, owner, out.team), sink)

	plan.Results = out.results
	if err := e.deps.Delegations.Save(context.WithoutCancel(ctx), plan); err != nil {
		logger.Warn("[Delegation] task %s: failed to save subtask results: %v", owner.ID, err)
	}
	return out
}

func (e *engine) dispatcher(st *runState, owner *entity.Task, team map[string]*personaentity.Persona) Dispatch {
	return func(ctx context.Context, spec *entity.SubtaskSpec, prior []string, sink *ResultSink) Dispatched {
		persona, ok := team[spec.SpecialistID]
		if !ok {
			sink.Deliver(&entity.SubtaskResult{
				SubtaskID: spec.ID, TaskID: owner.ID, SpecialistID: spec.SpecialistID,
				Error: fmt.Sprintf("specialist %q is not on the team", spec.SpecialistID),
			})
			return Dispatched{}
		}
		req := &WorkRequest{Task: owner, Spec: spec, Persona: persona, Budget: st.budget, Prior: prior}
		if e.useBatch(owner, persona) {
			memberID, err := e.enqueue(ctx, req, sink)
			if err == nil {
				return Dispatched{Path: entity.PathBatch, Withdraw: e.withdraw(owner.ID, spec.ID, memberID)}
			}
			logger.Warn("[Delegation] subtask %s: batch enqueue failed, running synchronously: %v", spec.ID, err)
		}
		sink.Deliver(e.worker.Execute(ctx, req))
		return Dispatched{Path: entity.PathSync}
	}
}

// withdraw cancels the batch member of a subtask nobody waits for any more,
// so it is neither submitted nor charged.
func (e *engine) withdraw(taskID, subtaskID, memberID string) func(context.Context) {
	return func(ctx context.Context) {
		if err := e.deps.Batch.CancelMembers(ctx, memberID); err != nil {
			logger.Warn("[Delegation] task %s: failed to withdraw batch member of subtask %s: %v", taskID, subtaskID, err)
		}
	}
}

// useBatch routes tool-free specialists through the batch channel when the
// task or the persona asks for it. Tool loops need the synchronous path.
func (e *engine) useBatch(task *entity.Task, p *personaentity.Persona) bool {
	if e.deps.Batch == nil || len(p.Tools) > 0 {
		return false
	}
	return task.Mode == entity.ModeBatch || p.Batch
}

func (e *engine) enqueue(ctx context.Context, req *WorkRequest, sink *ResultSink) (string, error) {
	ref, err := e.deps.Gateway.Resolve(ctx, req.Persona.Model)
	if err != nil {
		return "", err
	}
	reasoning, _ := llmentity.ParseReasoning(req.Persona.Reasoning)
	member := &batchentity.Member{
		ID:           uuid.NewString(),
		TaskID:       req.Task.ID,
		SubtaskID:    req.Spec.ID,
		PersonaID:    req.Persona.ID,
		Ref:          ref,
		Reasoning:    reasoning,
		SystemPrompt: systemPromptOf(req.Persona),
		Prompt:       WorkPrompt(req),
		State:        batchentity.MemberStatePending,
		EnqueuedAt:   time.Now(),
	}
	err = e.deps.Batch.Enqueue(ctx, member, func(m *batchentity.Member) {
		sink.Deliver(resultFromMember(m))
	})
	return member.ID, err
}

func resultFromMember(m *batchentity.Member) *entity.SubtaskResult {
	r := &entity.SubtaskResult{
		SubtaskID:    m.SubtaskID,
		TaskID:       m.TaskID,
		SpecialistID: m.PersonaID,
		Cost:         m.Cost,
		Path:         entity.PathBatch,
	}
	if m.FinishedAt != nil {
		r.Duration = m.FinishedAt.Sub(m.EnqueuedAt)
	}
	switch m.State {
	case batchentity.MemberStateSucceeded:
		r.Success = true
		r.Output = strings.TrimSpace(m.Output)
	case batchentity.MemberStateCancelled:
		r.Cancelled = true
		r.Error = errno.ErrAborted.Error()
	default:
		r.Error = m.Error
	}
	return r
}

// collect splits a manager's results into contributions and failure notes.
// Section ids are namespaced by manager when several managers share the artifact.
func collect(out *managerOutcome, namespaced bool) ([]*Contribution, []string) {
	if out.plan == nil {
		return nil, nil
	}
	var (
		contributions []*Contribution
		gaps          []string
	)
	for i, r := range out.results {
		spec := out.plan.Subtasks[i]
		if r != nil && r.Contributed() {
			id := spec.Section
			if namespaced {
				id = out.manager.ID + "/" + id
			}
			contributions = append(contributions, &Contribution{SectionID: id, Spec: spec, Result: r})
			continue
		}
		reason := "returned no output"
		if r != nil && r.Error != "" {
			reason = r.Error
		}
		gaps = append(gaps, fmt.Sprintf("section %q by %s failed: %s", spec.Section, spec.SpecialistID, reason))
	}
	return contributions, gaps
}

func (e *engine) aggregate(ctx context.Context, st *runState, outcomes []*managerOutcome, author *personaentity.Persona) error {
	task := st.task
	multi := len(outcomes) > 1
	var (
		contributions []*Contribution
		gaps          []string
	)
	for _, out := range outcomes {
		var blocking *BlockingFailureError
		if errors.As(out.err, &blocking) {
			return fmt.Errorf("manager %s: %w", out.manager.ID, out.err)
		}
		if out.err != nil {
			gaps = append(gaps, fmt.Sprintf("%s could not delegate: %v", out.manager.ID, out.err))
			continue
		}
		cs, gs := collect(out, multi)
		for _, c := range cs {
			st.origins[c.SectionID] = &origin{owner: out.owner, spec: c.Spec, persona: out.team[c.Spec.SpecialistID]}
		}
		contributions = append(contributions, cs...)
		gaps = append(gaps, gs...)
	}
	task.Failures = gaps
	task.Partial = len(gaps) > 0
	if len(contributions) == 0 {
		if len(gaps) == 0 {
			return errors.New("no manager had anything to contribute")
		}
		return fmt.Errorf("every contribution failed: %s", strings.Join(gaps, "; "))
	}

	division := author.Division
	if len(contributions) == 1 {
		artifact := e.synth.Collapse(task, division, contributions[0], gaps)
		if !e.cfg.ReviewCollapsed || e.deps.Reviewer == nil {
			task.Artifact = artifact
			return e.advance(ctx, st, task, entity.TaskStatusDelivered, "single contribution delivered as-is")
		}
		return e.reviewLoop(ctx, st, artifact, author)
	}

	if err := e.advance(ctx, st, task, entity.TaskStatusSynthesizing, fmt.Sprintf("%d contributions", len(contributions))); err != nil {
		return err
	}
	artifact, err := e.synth.Synthesize(ctx, task, author, division, contributions, gaps)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("[Delegation] task %s: synthesis failed, delivering contributions unsynthesized: %v", task.ID, err)
		gaps = append(gaps, "synthesis unavailable: "+err.Error())
		task.Failures = gaps
		task.Partial = true
		artifact = e.synth.Assemble(task, division, contributions, gaps)
	}
	return e.reviewLoop(ctx, st, artifact, author)
}

// reviewLoop alternates review and targeted rework until the artifact passes
// or the rework limit is reached.
func (e *engine) reviewLoop(ctx context.Context, st *runState, artifact *reviewentity.Artifact, author *personaentity.Persona) error {
	task := st.task
	for {
		task.Artifact = artifact
		if e.deps.Reviewer == nil {
			return e.advance(ctx, st, task, entity.TaskStatusDelivered, "delivered without review")
		}
		if err := e.advance(ctx, st, task, entity.TaskStatusReviewing, fmt.Sprintf("revision %d", artifact.Revision)); err != nil {
			return err
		}

		report, err := e.deps.Reviewer.Review(ctx, artifact, e.deps.Reviewer.RubricFor(artifact.Division))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("[Delegation] task %s: %v", task.ID, err)
			artifact.Findings = []string{"review unavailable: " + err.Error()}
			task.Findings = artifact.Findings
			return e.advance(ctx, st, task, entity.TaskStatusDelivered, "delivered without a review verdict")
		}
		if report.Passed {
			artifact.Findings = nil
			task.Findings = nil
			return e.advance(ctx, st, task, entity.TaskStatusDelivered, fmt.Sprintf("passed review with score %.2f", report.Score))
		}
		if task.ReworkCount >= e.cfg.ReworkLimit {
			for _, id := range report.RejectedIDs() {
				if sec := artifact.Section(id); sec != nil {
					sec.Incomplete = true
					sec.Note = "rejected by review: " + report.Rejections[id]
				}
			}
			artifact.Findings = report.Findings()
			task.Findings = artifact.Findings
			return e.advance(ctx, st, task, entity.TaskStatusDelivered,
				fmt.Sprintf("delivered with %d unresolved finding(s) after %d rework(s)", len(task.Findings), task.ReworkCount))
		}

		task.ReworkCount++
		rejected := report.RejectedIDs()
		detail := fmt.Sprintf("rework %d/%d: %s", task.ReworkCount, e.cfg.ReworkLimit, strings.Join(rejected, ", "))
		if err := e.advance(ctx, st, task, entity.TaskStatusReworking, detail); err != nil {
			return err
		}
		artifact = e.rework(ctx, st, artifact, report, author)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.advance(ctx, st, task, entity.TaskStatusSynthesizing, fmt.Sprintf("spliced %d section(s)", len(rejected))); err != nil {
			return err
		}
	}
}

// rework regenerates only the rejected sections and splices them into a
// copy of the artifact. Every other section is carried over untouched.
func (e *engine) rework(ctx context.Context, st *runState, artifact *reviewentity.Artifact, report *reviewentity.ReviewReport, author *personaentity.Persona) *reviewentity.Artifact {
	next := artifact.Clone()
	for _, id := range report.RejectedIDs() {
		sec, err := e.regenerate(ctx, st, next, id, report.Rejections[id], author)
		if err != nil {
			if ctx.Err() != nil {
				return next
			}
			logger.Warn("[Delegation] task %s: rework of section %s failed: %v", st.task.ID, id, err)
			if old := next.Section(id); old != nil {
				old.Incomplete = true
				old.Note = "rework failed: " + err.Error()
			}
			continue
		}
		next.Splice(sec)
	}
	next.Revision++
	return next
}

func (e *engine) regenerate(ctx context.Context, st *runState, artifact *reviewentity.Artifact, id, feedback string, author *personaentity.Persona) (*reviewentity.Section, error) {
	o, ok := st.origins[id]
	prev := artifact.Section(id)
	if !ok || prev == nil {
		return e.synth.Regenerate(ctx, st.task, author, artifact, id, feedback)
	}

	subCtx, cancel := context.WithTimeout(ctx, e.executor.cfg.SubtaskTimeout)
	defer cancel()
	r := e.worker.Execute(subCtx, &WorkRequest{
		Task:     o.owner,
		Spec:     o.spec,
		Persona:  o.persona,
		Budget:   st.budget,
		Previous: prev.Content,
		Feedback: feedback,
	})
	if !r.Contributed() {
		if r.Error == "" {
			r.Error = "returned no output"
		}
		return nil, errors.New(r.Error)
	}
	sec := *prev
	sec.Content = r.Output
	sec.Incomplete = false
	sec.Note = ""
	return &sec, nil
}

// advance moves task along the state machine, persists it and emits the
// status event. The root task also records its tool usage.
func (e *engine) advance(ctx context.Context, st *runState, task *entity.Task, to entity.TaskStatus, detail string) error {
	if !entity.CanTransition(task.Status, to) {
		return &entity.TransitionError{TaskID: task.ID, From: task.Status, To: to}
	}
	from := task.Status
	now := time.Now()
	task.Status = to
	task.Detail = detail
	task.Progress = entity.ProgressOf(to)
	task.UpdatedAt = now
	if st != nil && task == st.task {
		task.ToolCalls = st.budget.Used()
	}
	if to.IsTerminal() {
		task.CompletedAt = &now
	}

	ctx = context.WithoutCancel(ctx)
	if err := e.deps.Tasks.Update(ctx, task); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", task.ID, err)
	}
	if detail != "" {
		logger.Info("[Delegation] task %s: %s -> %s (%s)", task.ID, from, to, detail)
	} else {
		logger.Info("[Delegation] task %s: %s -> %s", task.ID, from, to)
	}
	e.publishStatus(ctx, task)
	if to.IsTerminal() {
		if err := e.deps.Delegations.Archive(ctx, task.ID); err != nil {
			logger.Warn("[Delegation] task %s: failed to archive delegation: %v", task.ID, err)
		}
	}
	return nil
}

// finish ends task as failed or cancelled.
func (e *engine) finish(ctx context.Context, st *runState, task *entity.Task, to entity.TaskStatus, cause error) {
	detail := "cancelled"
	if cause != nil {
		task.Error = cause.Error()
		detail = cause.Error()
	}
	if err := e.advance(ctx, st, task, to, detail); err != nil {
		logger.Error("[Delegation] task %s: %v", task.ID, err)
	}
}

func (e *engine) publishStatus(ctx context.Context, task *entity.Task) {
	_, err := e.deps.Bus.Publish(context.WithoutCancel(ctx), evententity.Event{
		TaskID:   task.ID,
		Type:     evententity.EventTypeStatus,
		Status:   string(task.Status),
		Detail:   task.Detail,
		Progress: task.Progress,
	})
	if err != nil {
		logger.Warn("[Delegation] task %s: failed to publish status: %v", task.ID, err)
	}
}

func (e *engine) publishProgress(ctx context.Context, owner *entity.Task, r *entity.SubtaskResult, done, total int) {
	detail := fmt.Sprintf("subtask %s (%d/%d) ", r.SubtaskID, done, total)
	switch {
	case r.Success:
		detail += "done"
	case r.Cancelled:
		detail += "cancelled"
	default:
		detail += "failed: " + r.Error
	}
	_, err := e.deps.Bus.Publish(context.WithoutCancel(ctx), evententity.Event{
		TaskID:    owner.ID,
		Type:      evententity.EventTypeProgress,
		Detail:    detail,
		Progress:  entity.AwaitingProgress(done, total),
		PersonaID: r.SpecialistID,
	})
	if err != nil {
		logger.Warn("[Delegation] task %s: failed to publish progress: %v", owner.ID, err)
	}
}

func (e *engine) Get(ctx context.Context, id string) (*entity.Task, error) {
	return e.deps.Tasks.Get(ctx, id)
}

func (e *engine) List(ctx context.Context, filter *entity.TaskFilter) ([]*entity.Task, error) {
	return e.deps.Tasks.List(ctx, filter)
}

func (e *engine) Delegation(ctx context.Context, taskID string) (*entity.Delegation, error) {
	return e.deps.Delegations.Get(ctx, taskID)
}

func (e *engine) Events(ctx context.Context, taskID string) ([]*evententity.Event, error) {
	if _, err := e.deps.Tasks.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return e.deps.Bus.History(ctx, taskID)
}

func (e *engine) Subscribe(taskID string) (<-chan evententity.Event, func()) {
	return e.deps.Bus.Subscribe(taskID)
}

func (e *engine) Cancel(ctx context.Context, id string) error {
	task, err := e.deps.Tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	rootID := id
	if !task.IsRoot() {
		rootID = task.ParentID
	}

	e.mu.Lock()
	h := e.runs[rootID]
	e.mu.Unlock()
	if h != nil {
		logger.Info("[Delegation] task %s: cancellation requested", rootID)
		h.cancel(errno.ErrAborted)
		select {
		case <-h.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Not running here: settle the stored record directly.
	root, err := e.deps.Tasks.Get(ctx, rootID)
	if err != nil {
		return err
	}
	if root.Status.IsTerminal() {
		return fmt.Errorf("task %s is %s: %w", rootID, root.Status, errno.ErrTaskTerminal)
	}
	st := &runState{task: root, budget: toolentity.NewBudget(root.ID, e.cfg.ToolBudget, root.ToolCalls)}
	for _, cid := range root.ChildIDs {
		if child, err := e.deps.Tasks.Get(ctx, cid); err == nil {
			st.children = append(st.children, child)
		}
	}
	e.finish(ctx, st, root, entity.TaskStatusCancelled, nil)
	e.settle(ctx, st)
	return nil
}

var unfinished = []entity.TaskStatus{
	entity.TaskStatusReceived, entity.TaskStatusClassifying, entity.TaskStatusDelegated,
	entity.TaskStatusAwaiting, entity.TaskStatusSynthesizing, entity.TaskStatusReviewing,
	entity.TaskStatusReworking,
}

func (e *engine) Recover(ctx context.Context) (int, error) {
	tasks, err := e.deps.Tasks.List(ctx, &entity.TaskFilter{Statuses: unfinished})
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished tasks: %w", err)
	}

	var roots []*entity.Task
	for _, t := range tasks {
		if t.IsRoot() {
			roots = append(roots, t)
			continue
		}
		e.finish(ctx, nil, t, entity.TaskStatusCancelled, errors.New("orphaned by restart"))
	}

	resumed := 0
	for _, t := range roots {
		e.mu.Lock()
		_, running := e.runs[t.ID]
		e.mu.Unlock()
		if running {
			continue
		}
		// A restart re-enters the state machine at Received; rework and
		// tool counters carry over so their bounds still hold.
		t.Status = entity.TaskStatusReceived
		t.Detail = "resumed after restart"
		t.Progress = 0
		t.ChildIDs = nil
		t.Artifact = nil
		t.Failures = nil
		t.Findings = nil
		t.Partial = false
		t.UpdatedAt = time.Now()
		if err := e.deps.Tasks.Update(ctx, t); err != nil {
			return resumed, fmt.Errorf("failed to reset task %s: %w", t.ID, err)
		}
		e.publishStatus(ctx, t)
		if err := e.start(t); err != nil {
			return resumed, err
		}
		resumed++
	}
	if resumed > 0 || len(tasks) > 0 {
		logger.Info("[Delegation] recovery resumed %d task(s), cancelled %d orphan(s)", resumed, len(tasks)-len(roots))
	}
	return resumed, nil
}

func (e *engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.stop(errno.ErrEngineClosed)
	e.wg.Wait()
	logger.Info("[Delegation] engine closed")
}
