package stats

import (
	"testing"
	"time"

	"github.com/paiban/planrules/pkg/model"
)

func guard(userID string, day int) *model.Assignment {
	start := time.Date(2026, 3, day, 8, 0, 0, 0, time.UTC)
	return &model.Assignment{UserID: userID, Type: model.AssignmentGarde24h, StartDate: start, EndDate: start.Add(24 * time.Hour)}
}

func TestFairnessAnalyzer_Analyze(t *testing.T) {
	analyzer := NewFairnessAnalyzer()

	staff := []*model.Staff{
		{ID: "u1", Name: "Dr Martin"},
		{ID: "u2", Name: "Dr Bernard"},
		{ID: "u3", Name: "Dr Petit"},
	}
	assignments := []*model.Assignment{
		guard("u1", 2),
		guard("u1", 9),
		guard("u2", 4),
		{UserID: "u3", Type: model.AssignmentConsult, StartDate: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)},
	}

	metrics := analyzer.Analyze(assignments, staff)

	if len(metrics.StaffStats) != 3 {
		t.Fatalf("Expected 3 staff stats, got %d", len(metrics.StaffStats))
	}
	if metrics.StaffStats[0].UserID != "u1" || metrics.StaffStats[0].Count != 2 {
		t.Errorf("u1 should lead with 2 guards, got %+v", metrics.StaffStats[0])
	}
	// 门诊不计入值班统计
	if metrics.StaffStats[2].UserID != "u3" || metrics.StaffStats[2].Count != 0 {
		t.Errorf("u3 should have 0 guards, got %+v", metrics.StaffStats[2])
	}
	if metrics.Mean != 1 {
		t.Errorf("Mean = %f, expected 1", metrics.Mean)
	}
	if metrics.Gini <= 0 || metrics.Gini > 1 {
		t.Errorf("Gini should be in (0,1], got %f", metrics.Gini)
	}
	if metrics.EquityScore <= 0 || metrics.EquityScore >= 1 {
		t.Errorf("EquityScore should be in (0,1), got %f", metrics.EquityScore)
	}
}

func TestFairnessAnalyzer_EmptyInput(t *testing.T) {
	metrics := NewFairnessAnalyzer().Analyze(nil, nil)

	if metrics == nil {
		t.Fatal("Should return empty metrics for nil input")
	}
	if metrics.EquityScore != 1 {
		t.Errorf("Empty input should be perfectly fair, got %f", metrics.EquityScore)
	}
}

func TestFairnessAnalyzer_PerfectFairness(t *testing.T) {
	staff := []*model.Staff{{ID: "u1"}, {ID: "u2"}}
	assignments := []*model.Assignment{guard("u1", 2), guard("u2", 3)}

	metrics := NewFairnessAnalyzer().Analyze(assignments, staff)

	if metrics.Gini > 0.01 {
		t.Errorf("Perfect fairness should have Gini near 0, got %f", metrics.Gini)
	}
	if metrics.EquityScore != 1 {
		t.Errorf("Perfect fairness should score 1, got %f", metrics.EquityScore)
	}
}

func TestEquityScore_MonotonicInVariance(t *testing.T) {
	tests := []map[string]int{
		{"a": 2, "b": 2, "c": 2},
		{"a": 3, "b": 2, "c": 1},
		{"a": 4, "b": 2, "c": 0},
		{"a": 6, "b": 0, "c": 0},
	}

	prev := 2.0
	for i, counts := range tests {
		score := EquityScore(counts)
		if score < 0 || score > 1 {
			t.Fatalf("case %d: score %f out of [0,1]", i, score)
		}
		if score >= prev {
			t.Errorf("case %d: score %f should be lower than %f", i, score, prev)
		}
		prev = score
	}

	if EquityScore(nil) != 1 {
		t.Error("no staff should be perfectly fair")
	}
}

func TestDeviation(t *testing.T) {
	counts := map[string]int{"a": 3, "b": 1, "c": 2}
	if d := Deviation(counts, "a"); d != 1 {
		t.Errorf("Deviation(a) = %f, expected 1", d)
	}
	if d := Deviation(counts, "b"); d != -1 {
		t.Errorf("Deviation(b) = %f, expected -1", d)
	}
}

func TestFairnessAnalyzer_Counts(t *testing.T) {
	analyzer := NewFairnessAnalyzer(model.AssignmentAstreinte)
	assignments := []*model.Assignment{
		{UserID: "u1", Type: model.AssignmentAstreinte},
		{UserID: "u1", Type: model.AssignmentGarde},
	}

	counts := analyzer.Counts(assignments, []string{"u1", "u2"})
	if counts["u1"] != 1 || counts["u2"] != 0 || len(counts) != 2 {
		t.Errorf("Counts() = %v", counts)
	}
}
