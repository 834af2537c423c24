package service

import (
	"context"
	"fmt"
	"strings"

	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/review/domain/entity"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Generator is the gateway call the reviewer persona runs through.
type Generator interface {
	Generate(ctx context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error)
}

// PersonaLookup resolves the reviewer persona.
type PersonaLookup interface {
	Get(id string) (*personaentity.Persona, error)
}

// RubricLookup resolves a division to its rubric.
type RubricLookup interface {
	Lookup(division string) *entity.Rubric
}

// Gate scores artifacts against division rubrics.
type Gate interface {
	// Review runs the structural pass, then asks the reviewer persona to
	// score every non-empty section. A reviewer that cannot be reached or
	// keeps answering unparsably yields an error wrapping ErrReviewUnavailable.
	Review(ctx context.Context, artifact *entity.Artifact, rubric *entity.Rubric) (*entity.ReviewReport, error)
	RubricFor(division string) *entity.Rubric
}

// maxReviewAttempts covers the first call plus one retry on unparsable output.
const maxReviewAttempts = 2

type gate struct {
	gen      Generator
	personas PersonaLookup
	rubrics  RubricLookup
	tracer   trace.Tracer
}

func NewGate(gen Generator, personas PersonaLookup, rubrics RubricLookup) Gate {
	return &gate{gen: gen, personas: personas, rubrics: rubrics, tracer: otel.Tracer("cohort/review")}
}

func (g *gate) RubricFor(division string) *entity.Rubric {
	return g.rubrics.Lookup(division)
}

type scoredSection struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

type reviewerReply struct {
	Sections []scoredSection `json:"sections"`
}

func (g *gate) Review(ctx context.Context, artifact *entity.Artifact, rubric *entity.Rubric) (*entity.ReviewReport, error) {
	ctx, span := g.tracer.Start(ctx, "review", trace.WithAttributes(
		attribute.String("artifact", artifact.ID),
		attribute.String("rubric", rubric.Division+"@"+rubric.Version),
	))
	defer span.End()

	report := &entity.ReviewReport{
		ArtifactID:    artifact.ID,
		RubricVersion: rubric.Version,
		Sections:      map[string]*entity.SectionVerdict{},
		Rejections:    map[string]string{},
	}

	for _, rs := range rubric.Sections {
		if !rs.Required {
			continue
		}
		sec := artifact.Section(rs.ID)
		switch {
		case sec == nil:
			report.Sections[rs.ID] = &entity.SectionVerdict{Reason: "required section is missing"}
		case strings.TrimSpace(sec.Content) == "":
			report.Sections[rs.ID] = &entity.SectionVerdict{Reason: "required section is empty"}
		}
	}

	var toScore []*entity.Section
	for _, s := range artifact.Sections {
		if _, failed := report.Sections[s.ID]; failed || strings.TrimSpace(s.Content) == "" {
			continue
		}
		toScore = append(toScore, s)
	}

	if len(toScore) > 0 {
		scores, err := g.score(ctx, artifact, rubric, toScore)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		for _, s := range toScore {
			sc := scores[s.ID]
			report.Sections[s.ID] = &entity.SectionVerdict{
				Score:  sc.Score,
				Passed: sc.Score >= rubric.Threshold,
				Reason: sc.Reason,
			}
		}
	}

	var total float64
	report.Passed = true
	for id, v := range report.Sections {
		total += v.Score
		if !v.Passed {
			report.Passed = false
			reason := v.Reason
			if reason == "" {
				reason = fmt.Sprintf("score %.2f below threshold %.2f", v.Score, rubric.Threshold)
			}
			report.Rejections[id] = reason
		}
	}
	if n := len(report.Sections); n > 0 {
		report.Score = total / float64(n)
	}
	span.SetAttributes(attribute.Float64("score", report.Score), attribute.Bool("passed", report.Passed))
	logger.Info("[Review] artifact %s scored %.2f against %s@%s, passed=%v, rejected=%v",
		artifact.ID, report.Score, rubric.Division, rubric.Version, report.Passed, report.RejectedIDs())
	return report, nil
}

func (g *gate) score(ctx context.Context, artifact *entity.Artifact, rubric *entity.Rubric, sections []*entity.Section) (map[string]scoredSection, error) {
	reviewer, err := g.personas.Get(rubric.Reviewer)
	if err != nil {
		return nil, fmt.Errorf("%w: reviewer %q: %v", errno.ErrReviewUnavailable, rubric.Reviewer, err)
	}
	req := &llmentity.GenerateRequest{
		TaskID:       artifact.TaskID,
		PersonaID:    reviewer.ID,
		Model:        reviewer.Model,
		Fallbacks:    reviewer.Fallbacks,
		Reasoning:    llmentity.Reasoning(reviewer.Reasoning),
		SystemPrompt: reviewerSystemPrompt(reviewer),
		Prompt:       reviewPrompt(rubric, sections),
		JSON:         true,
	}

	var lastErr error
	for attempt := 1; attempt <= maxReviewAttempts; attempt++ {
		resp, err := g.gen.Generate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", errno.ErrReviewUnavailable, err)
		}
		scores, err := parseScores(resp.Text, sections)
		if err == nil {
			return scores, nil
		}
		lastErr = err
		logger.Warn("[Review] reviewer %s reply unusable (attempt %d/%d): %v", reviewer.ID, attempt, maxReviewAttempts, err)
	}
	return nil, fmt.Errorf("%w: %v", errno.ErrReviewUnavailable, lastErr)
}

func parseScores(text string, sections []*entity.Section) (map[string]scoredSection, error) {
	var reply reviewerReply
	if err := json.UnmarshalLenient(text, &reply); err != nil {
		return nil, err
	}
	scores := make(map[string]scoredSection, len(reply.Sections))
	for _, s := range reply.Sections {
		if s.Score < 0 || s.Score > 1 {
			return nil, fmt.Errorf("section %q score %v outside [0,1]", s.ID, s.Score)
		}
		scores[s.ID] = s
	}
	for _, s := range sections {
		if _, ok := scores[s.ID]; !ok {
			return nil, fmt.Errorf("section %q not scored", s.ID)
		}
	}
	return scores, nil
}

func reviewerSystemPrompt(p *personaentity.Persona) string {
	base := "You are a strict quality reviewer. Score each section independently against its criteria. " +
		"Reply with JSON only: {\"sections\":[{\"id\":\"<section id>\",\"score\":<0..1>,\"reason\":\"<what must change, empty if none>\"}]}."
	if p.SystemPrompt == "" {
		return base
	}
	return p.SystemPrompt + "\n\n" + base
}

const generalCriteria = "accurate, complete for its purpose, internally consistent and clearly written"

func reviewPrompt(rubric *entity.Rubric, sections []*entity.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rubric %s version %s. A section passes at score %.2f or above.\n\n", rubric.Division, rubric.Version, rubric.Threshold)
	for _, s := range sections {
		criteria, ok := rubric.Criteria(s.ID)
		if !ok {
			criteria = generalCriteria
		}
		fmt.Fprintf(&b, "### Section id=%s (%s)\nCriteria: %s\n\n%s\n\n", s.ID, s.Title, criteria, s.Content)
	}
	return b.String()
}
