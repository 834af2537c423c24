package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	llmentity "github.com/kiosk404/cohort/internal/cohortd/service/llm/domain/entity"
	personaentity "github.com/kiosk404/cohort/internal/cohortd/service/persona/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/review/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/review/domain/service"
	"github.com/kiosk404/cohort/internal/cohortd/service/review/store"
	"github.com/kiosk404/cohort/internal/pkg/errno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGen struct {
	mu      sync.Mutex
	replies []string
	err     error
	reqs    []*llmentity.GenerateRequest
}

func (g *scriptedGen) Generate(_ context.Context, req *llmentity.GenerateRequest) (*llmentity.GenerateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.err != nil {
		return nil, g.err
	}
	text := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return &llmentity.GenerateResponse{Text: text}, nil
}

type personas map[string]*personaentity.Persona

func (p personas) Get(id string) (*personaentity.Persona, error) {
	if v, ok := p[id]; ok {
		return v, nil
	}
	return nil, errno.ErrPersonaNotFound
}

var reviewers = personas{"qa": {ID: "qa", Tier: personaentity.TierSpecialist, Model: "fake/small"}}

var rubric = &entity.Rubric{
	Division:  "finance",
	Version:   "3",
	Threshold: 0.7,
	Reviewer:  "qa",
	Sections: []entity.RubricSection{
		{ID: "summary", Criteria: "one paragraph", Required: true},
		{ID: "risk", Criteria: "quantified risks", Required: true},
		{ID: "appendix", Criteria: "sources"},
	},
}

func artifact() *entity.Artifact {
	return &entity.Artifact{
		ID:     "a1",
		TaskID: "t1",
		Sections: []*entity.Section{
			{ID: "summary", Title: "Summary", Content: "Revenue grew 4%."},
			{ID: "risk", Title: "Risk", Content: "FX exposure."},
			{ID: "conclusion", Title: "Conclusion", Content: "Hold."},
		},
	}
}

func newGate(t *testing.T, gen service.Generator) service.Gate {
	t.Helper()
	rs, err := store.NewRubricStore(&entity.Rubric{Version: "default", Threshold: 0.7, Reviewer: "qa"}, rubric)
	require.NoError(t, err)
	return service.NewGate(gen, reviewers, rs)
}

func TestReviewScoresSections(t *testing.T) {
	gen := &scriptedGen{replies: []string{"```json\n" + `{"sections":[
		{"id":"summary","score":0.9},
		{"id":"risk","score":0.4,"reason":"risks are not quantified"},
		{"id":"conclusion","score":0.69}
	]}` + "\n```"}}
	g := newGate(t, gen)

	report, err := g.Review(context.Background(), artifact(), g.RubricFor("finance/treasury"))
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.Equal(t, "3", report.RubricVersion)
	assert.InDelta(t, (0.9+0.4+0.69)/3, report.Score, 1e-9)
	assert.Equal(t, []string{"conclusion", "risk"}, report.RejectedIDs())
	assert.Equal(t, "risks are not quantified", report.Rejections["risk"])
	assert.Contains(t, report.Rejections["conclusion"], "below threshold")
	assert.True(t, report.Sections["summary"].Passed)

	require.Len(t, gen.reqs, 1)
	assert.True(t, gen.reqs[0].JSON)
	assert.Equal(t, "qa", gen.reqs[0].PersonaID)
	assert.Equal(t, "t1", gen.reqs[0].TaskID)
	assert.Contains(t, gen.reqs[0].Prompt, "quantified risks")
}

func TestReviewStructuralFailureSkipsScoringThatSection(t *testing.T) {
	gen := &scriptedGen{replies: []string{`{"sections":[{"id":"summary","score":1},{"id":"conclusion","score":1}]}`}}
	g := newGate(t, gen)

	a := artifact()
	a.Sections[1].Content = "  "
	report, err := g.Review(context.Background(), a, rubric)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, map[string]string{"risk": "required section is empty"}, report.Rejections)
	assert.NotContains(t, gen.reqs[0].Prompt, "id=risk")
}

func TestReviewRetriesUnparsableOnce(t *testing.T) {
	ok := `{"sections":[{"id":"summary","score":1},{"id":"risk","score":1},{"id":"conclusion","score":0.8}]}`
	gen := &scriptedGen{replies: []string{"I think it is fine.", ok}}
	report, err := newGate(t, gen).Review(context.Background(), artifact(), rubric)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Rejections)
	assert.Len(t, gen.reqs, 2)
}

func TestReviewUnavailable(t *testing.T) {
	tests := []struct {
		name string
		gen  *scriptedGen
		want int
	}{
		{"unparsable twice", &scriptedGen{replies: []string{`{"sections":[{"id":"summary","score":7}]}`}}, 2},
		{"missing section", &scriptedGen{replies: []string{`{"sections":[{"id":"summary","score":1}]}`}}, 2},
		{"provider down", &scriptedGen{err: errors.New("503")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGate(t, tt.gen).Review(context.Background(), artifact(), rubric)
			assert.ErrorIs(t, err, errno.ErrReviewUnavailable)
			assert.Len(t, tt.gen.reqs, tt.want)
		})
	}

	g := service.NewGate(&scriptedGen{}, personas{}, nil)
	_, err := g.Review(context.Background(), artifact(), rubric)
	assert.ErrorIs(t, err, errno.ErrReviewUnavailable)
}

func TestArtifactSpliceAndMarkdown(t *testing.T) {
	a := artifact()
	before := a.Clone()
	a.Splice(&entity.Section{ID: "risk", Title: "Risk", Content: "FX exposure of 2.1M EUR.", Note: "reworked"})
	a.Findings = []string{"conclusion: too short"}

	assert.Equal(t, before.Sections[0], a.Sections[0])
	assert.Equal(t, "FX exposure.", before.Sections[1].Content)
	md := a.Markdown()
	assert.Contains(t, md, "## Risk\n\nFX exposure of 2.1M EUR.\n\n> **Note:** reworked")
	assert.Contains(t, md, "## Unresolved review findings\n\n- conclusion: too short")
}
