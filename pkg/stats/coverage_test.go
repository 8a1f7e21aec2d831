package stats

import (
	"testing"
	"time"

	"github.com/paiban/planrules/pkg/model"
)

func TestCoverageAnalyzer_Analyze(t *testing.T) {
	analyzer := NewCoverageAnalyzer()

	day := time.Date(2026, 3, 7, 8, 0, 0, 0, time.UTC)
	requirements := []model.Requirement{
		{Date: "2026-03-07", AssignmentType: model.AssignmentGarde24h, Count: 2},
		{Date: "2026-03-07", AssignmentType: model.AssignmentAstreinte, Count: 1},
		{Date: "2026-03-08", AssignmentType: model.AssignmentGarde24h, Count: 1},
	}
	assignments := []*model.Assignment{
		{UserID: "u1", Type: model.AssignmentGarde24h, StartDate: day},
		{UserID: "u2", Type: model.AssignmentAstreinte, StartDate: day},
		{UserID: "u3", Type: model.AssignmentAstreinte, StartDate: day},
	}

	metrics := analyzer.Analyze(requirements, assignments)

	if metrics.Required != 4 {
		t.Errorf("Required = %d, expected 4", metrics.Required)
	}
	// 超额的 ASTREINTE 不计入
	if metrics.Filled != 2 {
		t.Errorf("Filled = %d, expected 2", metrics.Filled)
	}
	if metrics.OverallCoverage != 50 {
		t.Errorf("OverallCoverage = %f, expected 50", metrics.OverallCoverage)
	}
	if len(metrics.Gaps) != 2 {
		t.Fatalf("Expected 2 gaps, got %d", len(metrics.Gaps))
	}
	if metrics.Gaps[0].Date != "2026-03-07" || metrics.Gaps[0].Shortage != 1 {
		t.Errorf("unexpected first gap %+v", metrics.Gaps[0])
	}
	if metrics.DailyCoverage["2026-03-08"] != 0 {
		t.Errorf("2026-03-08 coverage = %f, expected 0", metrics.DailyCoverage["2026-03-08"])
	}
}

func TestCoverageAnalyzer_NoRequirements(t *testing.T) {
	metrics := NewCoverageAnalyzer().Analyze(nil, nil)
	if metrics.OverallCoverage != 100 {
		t.Errorf("OverallCoverage = %f, expected 100", metrics.OverallCoverage)
	}
}
