package entity

import "sort"

// RoutingDecision is the coordinator's verdict on a command:
// Answer, DelegateTo or Ambiguous.
type RoutingDecision interface {
	isRoutingDecision()
}

// Answer means the coordinator answered directly.
type Answer struct {
	Text string
}

// DelegateTo sends the command to the named managers.
type DelegateTo struct {
	PersonaIDs []string
}

// Ambiguous means no single manager stood out; every listed one gets the command.
type Ambiguous struct {
	PersonaIDs []string
}

func (Answer) isRoutingDecision()     {}
func (DelegateTo) isRoutingDecision() {}
func (Ambiguous) isRoutingDecision()  {}

// Managers returns the personas a decision fans out to.
func Managers(d RoutingDecision) []string {
	switch v := d.(type) {
	case DelegateTo:
		return v.PersonaIDs
	case Ambiguous:
		return v.PersonaIDs
	}
	return nil
}

// Candidate is one manager the coordinator scored for a command.
type Candidate struct {
	PersonaID string  `json:"persona"`
	Score     float64 `json:"score"`
}

// RoutingPolicy tunes decide.
type RoutingPolicy struct {
	// Margin is how close to the top score a candidate must be to share the command.
	Margin float64
	// MinScore is the floor below which a candidate is ignored.
	MinScore float64
}

// DefaultRoutingPolicy fans out to candidates within 0.15 of the best one.
var DefaultRoutingPolicy = RoutingPolicy{Margin: 0.15, MinScore: 0.5}

// Verdict is the coordinator's raw classification.
type Verdict struct {
	// Answer is set when the coordinator can reply without delegating.
	Answer     string
	Candidates []Candidate
	// Split means the coordinator wants every qualifying candidate involved.
	Split bool
}

// Decide turns a verdict into a routing decision. It is pure: the same
// verdict and policy always give the same decision. ok is false when the
// verdict names nobody and carries no answer.
func Decide(v Verdict, policy RoutingPolicy) (RoutingDecision, bool) {
	cands := bestPerPersona(v.Candidates)
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].PersonaID < cands[j].PersonaID
	})

	if len(cands) == 0 || cands[0].Score < policy.MinScore {
		if v.Answer != "" {
			return Answer{Text: v.Answer}, true
		}
		if len(cands) == 0 {
			return nil, false
		}
		// Below the floor without an answer: route to the best guess.
		return DelegateTo{PersonaIDs: []string{cands[0].PersonaID}}, true
	}

	top := cands[0].Score
	var picked []string
	for _, c := range cands {
		if c.Score < policy.MinScore {
			break
		}
		if v.Split || top-c.Score <= policy.Margin+1e-9 {
			picked = append(picked, c.PersonaID)
		}
	}
	if v.Split || len(picked) == 1 {
		return DelegateTo{PersonaIDs: picked}, true
	}
	return Ambiguous{PersonaIDs: picked}, true
}

// bestPerPersona keeps one candidate per persona, the highest scored.
func bestPerPersona(in []Candidate) []Candidate {
	out := make([]Candidate, 0, len(in))
	at := make(map[string]int, len(in))
	for _, c := range in {
		if c.PersonaID == "" {
			continue
		}
		if i, seen := at[c.PersonaID]; seen {
			out[i].Score = max(out[i].Score, c.Score)
			continue
		}
		at[c.PersonaID] = len(out)
		out = append(out, c)
	}
	return out
}
