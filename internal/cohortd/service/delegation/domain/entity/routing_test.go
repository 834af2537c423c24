package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	policy := DefaultRoutingPolicy
	tests := []struct {
		name    string
		verdict Verdict
		want    RoutingDecision
		ok      bool
	}{
		{
			name:    "direct answer",
			verdict: Verdict{Answer: "42"},
			want:    Answer{Text: "42"},
			ok:      true,
		},
		{
			name:    "clear winner",
			verdict: Verdict{Candidates: []Candidate{{"cto", 0.4}, {"cfo", 0.9}}},
			want:    DelegateTo{PersonaIDs: []string{"cfo"}},
			ok:      true,
		},
		{
			name:    "within margin is ambiguous",
			verdict: Verdict{Candidates: []Candidate{{"cfo", 0.8}, {"cto", 0.7}, {"cmo", 0.3}}},
			want:    Ambiguous{PersonaIDs: []string{"cfo", "cto"}},
			ok:      true,
		},
		{
			name:    "ties are ordered by id",
			verdict: Verdict{Candidates: []Candidate{{"cto", 0.8}, {"cfo", 0.8}}},
			want:    Ambiguous{PersonaIDs: []string{"cfo", "cto"}},
			ok:      true,
		},
		{
			name:    "close candidate below floor is ignored",
			verdict: Verdict{Candidates: []Candidate{{"cfo", 0.55}, {"cto", 0.45}}},
			want:    DelegateTo{PersonaIDs: []string{"cfo"}},
			ok:      true,
		},
		{
			name:    "split takes everyone above the floor",
			verdict: Verdict{Split: true, Candidates: []Candidate{{"cfo", 0.9}, {"cto", 0.6}, {"cmo", 0.2}}},
			want:    DelegateTo{PersonaIDs: []string{"cfo", "cto"}},
			ok:      true,
		},
		{
			name:    "weak candidates lose to an answer",
			verdict: Verdict{Answer: "hello", Candidates: []Candidate{{"cfo", 0.3}}},
			want:    Answer{Text: "hello"},
			ok:      true,
		},
		{
			name:    "weak candidates without answer pick the best",
			verdict: Verdict{Candidates: []Candidate{{"cfo", 0.3}, {"cto", 0.2}}},
			want:    DelegateTo{PersonaIDs: []string{"cfo"}},
			ok:      true,
		},
		{
			name:    "repeated manager counts once",
			verdict: Verdict{Candidates: []Candidate{{"cfo", 0.9}, {"cfo", 0.85}}},
			want:    DelegateTo{PersonaIDs: []string{"cfo"}},
			ok:      true,
		},
		{
			name:    "repeated manager keeps its best score",
			verdict: Verdict{Candidates: []Candidate{{"cto", 0.3}, {"cfo", 0.8}, {"cto", 0.75}}},
			want:    Ambiguous{PersonaIDs: []string{"cfo", "cto"}},
			ok:      true,
		},
		{
			name:    "repeated manager under split",
			verdict: Verdict{Split: true, Candidates: []Candidate{{"cfo", 0.9}, {"cto", 0.7}, {"cfo", 0.6}}},
			want:    DelegateTo{PersonaIDs: []string{"cfo", "cto"}},
			ok:      true,
		},
		{
			name:    "nothing",
			verdict: Verdict{},
			ok:      false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decide(tt.verdict, policy)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecideZeroPolicy(t *testing.T) {
	near := Verdict{Candidates: []Candidate{{"cfo", 0.8}, {"cto", 0.75}}}

	got, ok := Decide(near, RoutingPolicy{Margin: 0, MinScore: 0.5})
	assert.True(t, ok)
	assert.Equal(t, DelegateTo{PersonaIDs: []string{"cfo"}}, got, "a zero margin picks one manager")

	weak := Verdict{Candidates: []Candidate{{"cfo", 0.2}, {"cto", 0.15}}}
	got, ok = Decide(weak, RoutingPolicy{Margin: 0.1, MinScore: 0})
	assert.True(t, ok)
	assert.Equal(t, Ambiguous{PersonaIDs: []string{"cfo", "cto"}}, got, "a zero floor admits weak candidates")
}

func TestDecideDoesNotReorderInput(t *testing.T) {
	cands := []Candidate{{"cto", 0.1}, {"cfo", 0.9}}
	Decide(Verdict{Candidates: cands}, DefaultRoutingPolicy)
	assert.Equal(t, "cto", cands[0].PersonaID)
}

func TestManagers(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Managers(Ambiguous{PersonaIDs: []string{"a", "b"}}))
	assert.Equal(t, []string{"a"}, Managers(DelegateTo{PersonaIDs: []string{"a"}}))
	assert.Nil(t, Managers(Answer{Text: "x"}))
}
