package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	toolentity "github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WorkRequest is one specialist run.
type WorkRequest struct {
	Task    *entity.Task
	Spec    *entity.SubtaskSpec
	Persona *personaentity.Persona
	Budget  *toolentity.Budget
	// Prior holds the windowed outputs of earlier sequential subtasks.
	Prior []string
	// Revision asks for a corrected version of Previous in light of Feedback.
	Previous string
	Feedback string
}

// Worker drives the generate → tool call → feed back loop for one subtask.
type Worker struct {
	gateway Gateway
	tools   Tools
	timeout time.Duration
	tracer  trace.Tracer
}

func NewWorker(gateway Gateway, tools Tools, timeout time.Duration) *Worker {
	return &Worker{gateway: gateway, tools: tools, timeout: timeout, tracer: otel.Tracer("cohort/delegation")}
}

// Execute always returns a result; failures are recorded on it.
func (w *Worker) Execute(ctx context.Context, req *WorkRequest) *entity.SubtaskResult {
	ctx, span := w.tracer.Start(ctx, "subtask", trace.WithAttributes(
		attribute.String("task", req.Task.ID),
		attribute.String("subtask", req.Spec.ID),
		attribute.String("persona", req.Persona.ID),
	))
	defer span.End()

	start := time.Now()
	res := &entity.SubtaskResult{
		SubtaskID:    req.Spec.ID,
		TaskID:       req.Task.ID,
		SpecialistID: req.Persona.ID,
		Path:         entity.PathSync,
	}
	output, cost, err := w.loop(ctx, req)
	res.Cost = cost
	res.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		res.Error, res.Cancelled = failureOf(ctx, err, w.timeout)
		if !res.Cancelled {
			logger.Warn("[Delegation] subtask %s (%s) failed: %s", req.Spec.ID, req.Persona.ID, res.Error)
		}
		return res
	}
	res.Success = true
	res.Output = output
	return res
}

func (w *Worker) loop(ctx context.Context, req *WorkRequest) (string, float64, error) {
	infos, err := w.tools.InfosFor(ctx, req.Persona)
	if err != nil {
		return "", 0, err
	}
	gen := generateRequest(req.Task, req.Persona, "", WorkPrompt(req))
	gen.Tools = infos

	var cost float64
	for {
		resp, err := w.gateway.Generate(ctx, gen)
		if err != nil {
			return "", cost, err
		}
		cost += resp.Cost
		if len(resp.ToolCalls) == 0 {
			return strings.TrimSpace(resp.Text), cost, nil
		}

		if gen.Prompt != "" {
			gen.History = append(gen.History, schema.UserMessage(gen.Prompt))
			gen.Prompt = ""
		}
		assistant := resp.Message
		if assistant == nil {
			assistant = schema.AssistantMessage(resp.Text, resp.ToolCalls)
		}
		gen.History = append(gen.History, assistant)

		for _, call := range resp.ToolCalls {
			out, err := w.tools.Invoke(ctx, req.Budget, req.Persona, call.Function.Name, call.Function.Arguments)
			if err != nil {
				// Permission and budget violations end the subtask.
				if errno.IsTerminalSubtaskError(err) || ctx.Err() != nil {
					return "", cost, err
				}
				out = fmt.Sprintf(`{"error":%q}`, err.Error())
			}
			gen.History = append(gen.History, &schema.Message{
				Role:       schema.Tool,
				Content:    out,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
			})
		}
	}
}

// WorkPrompt renders the instruction a specialist receives. The batch path
// uses it too, so both paths ask the same question.
func WorkPrompt(req *WorkRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task from your manager:\n%s\n", req.Spec.Instruction)
	fmt.Fprintf(&b, "\nOriginal command:\n%s\n", req.Task.Command)
	if len(req.Prior) > 0 {
		b.WriteString("\nResults of the preceding steps, oldest first:\n")
		for i, p := range req.Prior {
			fmt.Fprintf(&b, "\n### Step %d\n%s\n", i+1, p)
		}
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "\nYour previous answer was rejected by review.\n\nPrevious answer:\n%s\n\nReviewer feedback:\n%s\n\nWrite a corrected answer.\n", req.Previous, req.Feedback)
	}
	b.WriteString("\nReply with the finished section text only.")
	return b.String()
}

func systemPromptOf(p *personaentity.Persona) string {
	if p.SystemPrompt != "" {
		return p.SystemPrompt
	}
	s := fmt.Sprintf("You are %s, a %s", p.DisplayName(), p.Tier)
	if p.Division != "" {
		s += " in the " + p.Division + " division"
	}
	s += "."
	if p.Description != "" {
		s += " " + p.Description
	}
	return s
}
