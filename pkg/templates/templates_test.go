package templates

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/fatigue"
	"github.com/paiban/planrules/pkg/model"
	"github.com/paiban/planrules/pkg/rules"
)

func TestDefaults(t *testing.T) {
	all := Defaults()
	require.Len(t, all, 4)

	defaults := 0
	for _, tpl := range all {
		assert.NoError(t, tpl.Validate(), tpl.Category)
		if tpl.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)

	std, ok := Get("standard")
	require.True(t, ok)
	assert.True(t, std.IsDefault)
	assert.Equal(t, 12.0, std.MinimumRestHours)
	assert.Equal(t, 3, std.Supervision.MaxSallesParMAR["ophtalmologie"])

	intensif, ok := Get("INTENSIF")
	require.True(t, ok)
	assert.Equal(t, 90.0, intensif.Fatigue.Seuils.Critique)
	assert.Equal(t, 30.0, intensif.Fatigue.Points.Specialties["urgence"])

	_, ok = Get("urgences")
	assert.False(t, ok)
}

func TestTemplate_Validate(t *testing.T) {
	tpl := standard()
	tpl.Intervalle.MinJoursRecommandes = 3
	tpl.Supervision.MaxSallesParMAR["endoscopie"] = 0
	tpl.Fatigue.Seuils.Critique = 10

	err := tpl.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidationFail, errors.GetCode(err))

	appErr, ok := errors.As(err)
	require.True(t, ok)
	for _, field := range []string{"intervalle.minJoursRecommandes", "supervision.maxSallesParMAR.endoscopie", "fatigueConfig"} {
		assert.Contains(t, appErr.Fields, field)
	}
}

func TestTemplate_RulesCompile(t *testing.T) {
	for _, tpl := range Defaults() {
		t.Run(string(tpl.Category), func(t *testing.T) {
			defs := tpl.Rules()
			compiled, rejected := rules.LoadDefinitions(defs)
			require.Empty(t, rejected)
			assert.Len(t, compiled, len(defs))

			prefix := strings.ToLower(string(tpl.Category)) + "."
			seen := map[string]bool{}
			for _, d := range defs {
				assert.True(t, strings.HasPrefix(d.ID, prefix), d.ID)
				assert.False(t, seen[d.ID], "duplicate %s", d.ID)
				seen[d.ID] = true
			}
			for sp := range tpl.Supervision.MaxSallesParMAR {
				assert.True(t, seen[prefix+"supervision-"+sp])
			}
		})
	}
}

func TestSeedRulesCompile(t *testing.T) {
	compiled, rejected := rules.LoadDefinitions(SeedRules())
	require.Empty(t, rejected)
	require.Len(t, compiled, 4)
	assert.Empty(t, rules.DetectConflicts(compiled))
}

func TestTemplate_YAMLRoundTrip(t *testing.T) {
	defs := pediatrie().Rules()
	data, err := rules.EncodeDefinitionsYAML(defs)
	require.NoError(t, err)

	decoded, err := rules.DecodeDefinitions(data, "yaml")
	require.NoError(t, err)
	require.Len(t, decoded, len(defs))

	compiled, rejected := rules.LoadDefinitions(decoded)
	require.Empty(t, rejected)
	for i, r := range compiled {
		assert.Equal(t, defs[i].ID, r.ID)
		assert.Equal(t, defs[i].Priority, r.Priority)
		assert.Len(t, r.Actions, len(defs[i].Actions))
	}
}

func newEngine(t *testing.T, tpl Template) *rules.Engine {
	t.Helper()
	compiled, rejected := rules.LoadDefinitions(tpl.Rules())
	require.Empty(t, rejected)
	scorer := fatigue.NewScorer(tpl.Fatigue, fatigue.NewMemoryStore())
	return rules.NewEngine(rules.NewStaticSource(compiled...), rules.WithScorer(scorer))
}

func countType(vs []rules.Violation, violationType string) int {
	n := 0
	for _, v := range vs {
		if v.ViolationType == violationType {
			n++
		}
	}
	return n
}

func TestStandardRules_LeaveAndSupervision(t *testing.T) {
	eng := newEngine(t, standard())
	start := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	user := &model.Staff{ID: "u1", Name: "Alice", Experience: model.ExperienceSenior, Available: true, LeaveQuota: 25, LeaveDaysUsed: 27}

	report, err := eng.RunValidation(context.Background(), rules.ValidationInput{
		Assignments: []*model.Assignment{{
			ID: "a1", UserID: "u1", Type: model.AssignmentSupervision, Specialty: "ophtalmologie",
			RoomCount: 4, StartDate: start, EndDate: start.Add(10 * time.Hour),
		}},
		Staff: []*model.Staff{user},
		Now:   start,
	})
	require.NoError(t, err)

	var types []string
	for _, v := range report.Violations {
		types = append(types, v.ViolationType)
	}
	assert.Equal(t, []string{"LEAVE_QUOTA", "SUPERVISION"}, types)
	assert.Equal(t, "Quota de congés dépassé de -2 jours", report.Violations[0].Message)
	assert.Equal(t, "4 salles supervisées en ophtalmologie, maximum 3", report.Violations[1].Message)
	assert.False(t, report.Valid)
}

func TestStandardRules_MonthlyGuardLimit(t *testing.T) {
	eng := newEngine(t, standard())
	var batch []*model.Assignment
	// 四个周一，间隔 7 天
	for i, day := range []int{2, 9, 16, 23} {
		start := time.Date(2026, 3, day, 8, 0, 0, 0, time.UTC)
		batch = append(batch, &model.Assignment{
			ID: string(rune('a' + i)), UserID: "u1", Type: model.AssignmentGarde24h,
			StartDate: start, EndDate: start.Add(24 * time.Hour),
		})
	}

	report, err := eng.RunValidation(context.Background(), rules.ValidationInput{
		Assignments: batch,
		Now:         time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, countType(report.Violations, "MAX_GARDES_MOIS"))
	assert.Equal(t, 0, countType(report.Violations, "MIN_INTERVAL"))
	assert.Equal(t, 0, countType(report.Violations, "MIN_REST"))
	for _, v := range report.Violations {
		if v.ViolationType == "MAX_GARDES_MOIS" {
			assert.Equal(t, "d", v.AssignmentID)
			assert.Equal(t, "4 gardes ce mois, maximum 3", v.Message)
		}
	}
	assert.False(t, report.Valid)
}

func TestStandardRules_DoubleBooking(t *testing.T) {
	eng := newEngine(t, standard())
	start := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)

	report, err := eng.RunValidation(context.Background(), rules.ValidationInput{
		Assignments: []*model.Assignment{
			{ID: "a1", UserID: "u1", Type: model.AssignmentBloc, StartDate: start, EndDate: start.Add(8 * time.Hour)},
			{ID: "a2", UserID: "u1", Type: model.AssignmentConsult, StartDate: start.Add(4 * time.Hour), EndDate: start.Add(10 * time.Hour)},
		},
		Now: start,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, countType(report.Violations, "DOUBLE_BOOKING"))
}
