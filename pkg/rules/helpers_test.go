package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paiban/planrules/pkg/model"
)

// 2026-03-10 为周二
var testNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func validationDef(id string, priority int, cond ConditionSpec, actions ...ActionSpec) Definition {
	if len(actions) == 0 {
		actions = []ActionSpec{validateSpec("error", "TEST", "violation "+id)}
	}
	return Definition{
		ID:         id,
		Name:       id,
		Type:       string(RuleValidation),
		Priority:   priority,
		Conditions: cond,
		Actions:    actions,
	}
}

func validateSpec(severity, violationType, message string) ActionSpec {
	return ActionSpec{Type: "validate", Parameters: map[string]any{
		"severity":      severity,
		"violationType": violationType,
		"message":       message,
	}}
}

func mustCompile(t *testing.T, c *Compiler, def Definition) *Rule {
	t.Helper()
	if c == nil {
		c = MustCompiler(nil)
	}
	r, err := c.Compile(def)
	require.NoError(t, err)
	return r
}

func compileCond(t *testing.T, c *Compiler, spec ConditionSpec) Condition {
	t.Helper()
	return mustCompile(t, c, validationDef("cond", 1, spec)).Conditions
}

func sampleFacts() *Facts {
	last := testNow.Add(-24 * time.Hour)
	return &Facts{
		Now: testNow,
		Assignment: &model.Assignment{
			ID:        "a1",
			UserID:    "u1",
			Type:      model.AssignmentGarde24h,
			Specialty: "ophtalmologie",
			StartDate: testNow,
			EndDate:   testNow.Add(24 * time.Hour),
			RoomCount: 2,
		},
		User: &model.Staff{
			ID:              "u1",
			Name:            "Alice",
			Experience:      model.ExperienceSenior,
			ExperienceYears: 8,
			Available:       true,
			Specialties:     []string{"ophtalmologie", "standard"},
		},
		Day:       model.DayOf(testNow),
		HasDay:    true,
		UserStats: &UserStats{LastGuardDate: &last, GuardsThisMonth: 2},
		Planning:  &PlanningStats{SeniorCount: 1, StaffCount: 3},
		Fatigue:   floatPtr(65),
	}
}
