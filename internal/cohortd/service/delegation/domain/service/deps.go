package service

import (
	"context"

	"github.com/cloudwego/eino/schema"
	batchentity "github.com/kiosk404/cohort/internal/cohortd/service/batch/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	evententity "github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	reviewentity "github.com/kiosk404/cohort/internal/cohortd/service/review/domain/entity"
	toolentity "github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
)

// Gateway is the slice of the model gateway the engine calls.
type Gateway interface {
	Resolve(ctx context.Context, model string) (llmentity.ModelRef, error)
	Generate(ctx context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error)
}

// Personas is the catalog view used for routing. Every persona returned is a snapshot.
type Personas interface {
	Get(id string) (*personaentity.Persona, error)
	ChildrenOf(id string) ([]*personaentity.Persona, error)
	Coordinator() (*personaentity.Persona, error)
	Managers() []*personaentity.Persona
}

// Tools runs tool calls under the persona allow-list and the task budget.
type Tools interface {
	Invoke(ctx context.Context, budget *toolentity.Budget, persona *personaentity.Persona, name, argsJSON string) (string, error)
	InfosFor(ctx context.Context, persona *personaentity.Persona) ([]*schema.ToolInfo, error)
}

// Reviewer is the quality gate.
type Reviewer interface {
	Review(ctx context.Context, artifact *reviewentity.Artifact, rubric *reviewentity.Rubric) (*reviewentity.ReviewReport, error)
	RubricFor(division string) *reviewentity.Rubric
}

// EventBus carries task events.
type EventBus interface {
	Publish(ctx context.Context, event evententity.Event) (uint64, error)
	Subscribe(taskID string) (<-chan evententity.Event, func())
	History(ctx context.Context, taskID string) ([]*evententity.Event, error)
}

// BatchChannel is the deferred generation path.
type BatchChannel interface {
	Enqueue(ctx context.Context, member *batchentity.Member, deliver batchentity.Deliver) error
	CancelTask(ctx context.Context, taskIDs ...string) error
	CancelMembers(ctx context.Context, memberIDs ...string) error
}

// Classifier isolates the coordinator's routing call.
type Classifier interface {
	Classify(ctx context.Context, task *entity.Task, catalog Personas) (entity.RoutingDecision, error)
}

// Decomposer turns a manager's share of a task into a subtask plan.
type Decomposer interface {
	Decompose(ctx context.Context, task *entity.Task, manager *personaentity.Persona, children []*personaentity.Persona) (*entity.Delegation, error)
}

func generateRequest(task *entity.Task, p *personaentity.Persona, system, prompt string) *llmentity.GenerateRequest {
	reasoning, _ := llmentity.ParseReasoning(p.Reasoning)
	if system == "" {
		system = systemPromptOf(p)
	}
	return &llmentity.GenerateRequest{
		TaskID:       task.ID,
		PersonaID:    p.ID,
		Model:        p.Model,
		Fallbacks:    p.Fallbacks,
		Reasoning:    reasoning,
		SystemPrompt: system,
		Prompt:       prompt,
	}
}
