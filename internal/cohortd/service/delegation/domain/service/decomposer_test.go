package service

import (
	"testing"

	"github.com/kiosk404/cohort/internal/cohortd/service/delegation/domain/entity"
	"github.com/stretchr/testify/assert"
)

func TestFinalizePlanSectionsAreUnique(t *testing.T) {
	tests := []struct {
		name     string
		sections []string
		want     []string
	}{
		{name: "distinct", sections: []string{"risk", "audit"}, want: []string{"risk", "audit"}},
		{name: "repeated", sections: []string{"risk", "risk", "risk"}, want: []string{"risk", "risk-2", "risk-3"}},
		{name: "suffix taken by a literal", sections: []string{"a", "a-2", "a"}, want: []string{"a", "a-2", "a-3"}},
		{name: "literal after suffix", sections: []string{"a", "a", "a-2"}, want: []string{"a", "a-2", "a-2-2"}},
		{name: "empty falls back to specialist", sections: []string{"", "w"}, want: []string{"w", "w-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &entity.Delegation{ManagerID: "cfo"}
			for _, sec := range tt.sections {
				plan.Subtasks = append(plan.Subtasks, &entity.SubtaskSpec{SpecialistID: "w", Section: sec})
			}
			finalizePlan(plan)

			var got, ids []string
			for _, s := range plan.Subtasks {
				got = append(got, s.Section)
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "cfo.1", ids[0])
			assert.Equal(t, "cfo.2", ids[1])
		})
	}
}
