package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	reviewentity "github.com/kiosk404/cohort/internal/cohortd/service/review/domain/entity"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/json"
)

// Contribution is one successful subtask output headed for the artifact.
type Contribution struct {
	// SectionID is unique across the whole artifact.
	SectionID string
	Spec      *entity.SubtaskSpec
	Result    *entity.SubtaskResult
}

func (c *Contribution) section() *reviewentity.Section {
	title := c.Spec.Title
	if title == "" {
		title = c.Spec.SpecialistID
	}
	return &reviewentity.Section{
		ID:      c.SectionID,
		Title:   title,
		Content: c.Result.Output,
		Source:  c.Result.SpecialistID,
	}
}

type synthReply struct {
	Title    string `json:"title"`
	Sections []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"sections"`
}

type regenReply struct {
	Content string `json:"content"`
}

// Synthesizer assembles the sectioned artifact. Contributions become
// sections verbatim; the author persona adds the synthesized ones.
type Synthesizer struct {
	gateway Gateway
}

func NewSynthesizer(gateway Gateway) *Synthesizer {
	return &Synthesizer{gateway: gateway}
}

// Collapse delivers a single contribution as-is, with no generation call.
func (s *Synthesizer) Collapse(task *entity.Task, division string, c *Contribution, gaps []string) *reviewentity.Artifact {
	a := &reviewentity.Artifact{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Division: division,
		Sections: []*reviewentity.Section{c.section()},
		Gaps:     append([]string(nil), gaps...),
	}
	return a
}

// Assemble builds the artifact from contributions alone.
func (s *Synthesizer) Assemble(task *entity.Task, division string, contributions []*Contribution, gaps []string) *reviewentity.Artifact {
	a := &reviewentity.Artifact{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Division: division,
		Gaps:     append([]string(nil), gaps...),
	}
	for _, c := range contributions {
		a.Sections = append(a.Sections, c.section())
	}
	return a
}

// Synthesize assembles the contributions and asks author for the
// synthesized sections that tie them together.
func (s *Synthesizer) Synthesize(ctx context.Context, task *entity.Task, author *personaentity.Persona, division string, contributions []*Contribution, gaps []string) (*reviewentity.Artifact, error) {
	a := s.Assemble(task, division, contributions, gaps)

	var b strings.Builder
	fmt.Fprintf(&b, "Your team answered the command below. Write the sections that tie their work together.\n\nCommand:\n%s\n\n", task.Command)
	for _, sec := range a.Sections {
		fmt.Fprintf(&b, "## [%s] %s (by %s)\n%s\n\n", sec.ID, sec.Title, sec.Source, sec.Content)
	}
	if len(gaps) > 0 {
		b.WriteString("These contributions failed and are missing; say so where it matters:\n")
		for _, g := range gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Reply with JSON only: {"title": "<report title>", "sections": [` +
		`{"id": "summary", "title": "Summary", "content": "..."}, {"id": "conclusion", "title": "Conclusion", "content": "..."}]}`)

	req := generateRequest(task, author, "", b.String())
	req.JSON = true
	resp, err := s.gateway.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	var reply synthReply
	var synthesized []*reviewentity.Section
	if err := json.UnmarshalLenient(resp.Text, &reply); err != nil || len(reply.Sections) == 0 {
		logger.Warn("[Delegation] task %s: unstructured synthesis from %s, keeping it as the summary", task.ID, author.ID)
		synthesized = append(synthesized, &reviewentity.Section{ID: "summary", Title: "Summary", Content: strings.TrimSpace(resp.Text)})
	} else {
		a.Title = strings.TrimSpace(reply.Title)
		for _, sec := range reply.Sections {
			id := sectionID(sec.ID, "summary")
			synthesized = append(synthesized, &reviewentity.Section{ID: id, Title: sec.Title, Content: strings.TrimSpace(sec.Content)})
		}
	}
	for _, sec := range synthesized {
		sec.Source = author.ID
		for a.Section(sec.ID) != nil {
			sec.ID += "-synthesis"
		}
		if len(gaps) > 0 {
			sec.Incomplete = true
			sec.Note = fmt.Sprintf("written without %d failed contribution(s)", len(gaps))
		}
		a.Sections = append(a.Sections, sec)
	}
	return a, nil
}

// Regenerate rewrites one section the reviewer rejected. The section may be
// missing from the artifact entirely, in which case it is written fresh.
func (s *Synthesizer) Regenerate(ctx context.Context, task *entity.Task, author *personaentity.Persona, artifact *reviewentity.Artifact, id, feedback string) (*reviewentity.Section, error) {
	prev := artifact.Section(id)
	sec := &reviewentity.Section{ID: id, Title: id, Source: author.ID}
	if prev != nil {
		cp := *prev
		sec = &cp
		sec.Source = author.ID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A reviewer rejected section %q of the report below.\n\nReviewer feedback:\n%s\n\n", id, feedback)
	fmt.Fprintf(&b, "Report:\n%s\n", artifact.Markdown())
	b.WriteString(`Rewrite only that section. Reply with JSON only: {"content": "<new section text>"}`)

	req := generateRequest(task, author, "", b.String())
	req.JSON = true
	resp, err := s.gateway.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("regenerate section %s: %w", id, err)
	}
	var reply regenReply
	if err := json.UnmarshalLenient(resp.Text, &reply); err != nil || strings.TrimSpace(reply.Content) == "" {
		reply.Content = resp.Text
	}
	sec.Content = strings.TrimSpace(reply.Content)
	return sec, nil
}
