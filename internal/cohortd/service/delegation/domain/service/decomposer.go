package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/json"
)

type planItem struct {
	Specialist  string `json:"specialist"`
	Instruction string `json:"instruction"`
	Mode        string `json:"mode"`
	Blocking    bool   `json:"blocking"`
	Section     string `json:"section"`
	Title       string `json:"title"`
}

type planReply struct {
	Subtasks []planItem `json:"subtasks"`
}

// ManagerDecomposer asks the manager persona for a JSON plan.
type ManagerDecomposer struct {
	gateway Gateway
}

var _ Decomposer = (*ManagerDecomposer)(nil)

func NewManagerDecomposer(gateway Gateway) *ManagerDecomposer {
	return &ManagerDecomposer{gateway: gateway}
}

// Decompose plans the manager's share. A persona without children does the
// work itself. An empty plan means the manager has nothing to contribute.
func (d *ManagerDecomposer) Decompose(ctx context.Context, task *entity.Task, manager *personaentity.Persona, children []*personaentity.Persona) (*entity.Delegation, error) {
	plan := &entity.Delegation{TaskID: task.ID, ManagerID: manager.ID, CreatedAt: time.Now()}
	if len(children) == 0 {
		plan.Subtasks = []*entity.SubtaskSpec{{
			SpecialistID: manager.ID,
			Instruction:  task.Command,
			Mode:         entity.SubtaskIndependent,
			Section:      manager.ID,
			Title:        manager.DisplayName(),
		}}
		finalizePlan(plan)
		return plan, nil
	}

	byID := make(map[string]*personaentity.Persona, len(children))
	var b strings.Builder
	b.WriteString("Split the command below into subtasks for your team.\n\nTeam:\n")
	for _, c := range children {
		byID[c.ID] = c
		fmt.Fprintf(&b, "- id=%s name=%q tier=%s tools=%v: %s\n", c.ID, c.DisplayName(), c.Tier, c.Tools, c.Description)
	}
	fmt.Fprintf(&b, "\nCommand:\n%s\n\n", task.Command)
	b.WriteString(`Reply with JSON only: {"subtasks": [{"specialist": "<team member id>", "instruction": "<what to do>", ` +
		`"mode": "independent" | "sequential", "blocking": <true if the report is worthless without it>, ` +
		`"section": "<short section id>", "title": "<section title>"}]}. ` +
		`Sequential subtasks run in the listed order and see earlier results. Return an empty list if your team has nothing to add.`)

	req := generateRequest(task, manager, "", b.String())
	req.JSON = true
	resp, err := d.gateway.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decompose for %s: %w", manager.ID, err)
	}

	var reply planReply
	if err := json.UnmarshalLenient(resp.Text, &reply); err != nil {
		logger.Warn("[Delegation] task %s: unparsable plan from %s, assigning one subtask per team member: %v", task.ID, manager.ID, err)
		plan.Fallback = true
		plan.Notes = append(plan.Notes, "plan unparsable, fell back to one subtask per team member")
		for _, c := range children {
			plan.Subtasks = append(plan.Subtasks, &entity.SubtaskSpec{
				SpecialistID: c.ID,
				Instruction:  task.Command,
				Mode:         entity.SubtaskIndependent,
				Section:      c.ID,
				Title:        c.DisplayName(),
			})
		}
		finalizePlan(plan)
		return plan, nil
	}

	for _, item := range reply.Subtasks {
		if _, ok := byID[item.Specialist]; !ok {
			note := fmt.Sprintf("dropped subtask for unknown specialist %q", item.Specialist)
			logger.Warn("[Delegation] task %s: %s", task.ID, note)
			plan.Notes = append(plan.Notes, note)
			continue
		}
		mode := entity.SubtaskIndependent
		if strings.EqualFold(item.Mode, string(entity.SubtaskSequential)) {
			mode = entity.SubtaskSequential
		}
		instruction := strings.TrimSpace(item.Instruction)
		if instruction == "" {
			instruction = task.Command
		}
		plan.Subtasks = append(plan.Subtasks, &entity.SubtaskSpec{
			SpecialistID: item.Specialist,
			Instruction:  instruction,
			Mode:         mode,
			Blocking:     item.Blocking,
			Section:      sectionID(item.Section, item.Specialist),
			Title:        strings.TrimSpace(item.Title),
		})
	}
	finalizePlan(plan)
	return plan, nil
}

// finalizePlan assigns subtask ids and makes section ids unique within the plan.
func finalizePlan(plan *entity.Delegation) {
	seen := make(map[string]bool)
	for i, s := range plan.Subtasks {
		s.ID = fmt.Sprintf("%s.%d", plan.ManagerID, i+1)
		if s.Section == "" {
			s.Section = s.SpecialistID
		}
		// A suffixed id may itself be taken by a literal section.
		base := s.Section
		for n := 2; seen[s.Section]; n++ {
			s.Section = fmt.Sprintf("%s-%d", base, n)
		}
		seen[s.Section] = true
	}
}

func sectionID(section, fallback string) string {
	section = strings.ToLower(strings.TrimSpace(section))
	section = strings.Join(strings.Fields(section), "-")
	if section == "" {
		return fallback
	}
	return section
}
