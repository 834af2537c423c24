package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/json"
)

type coordinatorReply struct {
	Answer     string             `json:"answer"`
	Candidates []entity.Candidate `json:"candidates"`
	Split      bool               `json:"split"`
}

// CoordinatorClassifier asks the coordinator persona to score managers and
// leaves the routing rule to entity.Decide.
type CoordinatorClassifier struct {
	gateway Gateway
	policy  entity.RoutingPolicy
}

var _ Classifier = (*CoordinatorClassifier)(nil)

func NewCoordinatorClassifier(gateway Gateway, policy entity.RoutingPolicy) *CoordinatorClassifier {
	return &CoordinatorClassifier{gateway: gateway, policy: policy}
}

func (c *CoordinatorClassifier) Classify(ctx context.Context, task *entity.Task, catalog Personas) (entity.RoutingDecision, error) {
	coordinator, err := catalog.Coordinator()
	if err != nil {
		return nil, errno.NewConfigurationError("catalog", "no coordinator persona")
	}
	managers := catalog.Managers()
	known := make(map[string]bool, len(managers))

	var b strings.Builder
	b.WriteString("Route the command below. Either answer it yourself or pick the managers who should handle it.\n\n")
	if len(managers) > 0 {
		b.WriteString("Managers:\n")
		for _, m := range managers {
			known[m.ID] = true
			fmt.Fprintf(&b, "- id=%s name=%q division=%q: %s\n", m.ID, m.DisplayName(), m.Division, m.Description)
		}
	}
	fmt.Fprintf(&b, "\nCommand:\n%s\n\n", task.Command)
	b.WriteString(`Reply with JSON only: {"answer": "<your reply if no manager is needed, else empty>", ` +
		`"candidates": [{"persona": "<manager id>", "score": <0..1 fit>}], ` +
		`"split": <true if the command needs several managers working on different parts>}`)

	req := generateRequest(task, coordinator, "", b.String())
	req.JSON = true
	resp, err := c.gateway.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	var reply coordinatorReply
	if err := json.UnmarshalLenient(resp.Text, &reply); err != nil {
		// A prose reply is the coordinator answering directly.
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return nil, fmt.Errorf("classify: empty coordinator reply")
		}
		logger.Debug("[Delegation] task %s: coordinator replied in prose, treating it as an answer", task.ID)
		return entity.Answer{Text: text}, nil
	}

	verdict := entity.Verdict{Answer: strings.TrimSpace(reply.Answer), Split: reply.Split}
	for _, cand := range reply.Candidates {
		if !known[cand.PersonaID] {
			logger.Warn("[Delegation] task %s: coordinator named unknown manager %q", task.ID, cand.PersonaID)
			continue
		}
		verdict.Candidates = append(verdict.Candidates, cand)
	}
	decision, ok := entity.Decide(verdict, c.policy)
	if !ok {
		return nil, fmt.Errorf("classify: coordinator neither answered nor named a manager")
	}
	return decision, nil
}
