package model

import (
	"testing"
	"time"
)

func TestAssignment_DurationHours(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		expected float64
	}{
		{
			name:     "24小时值班",
			start:    time.Date(2026, 1, 11, 8, 0, 0, 0, time.UTC),
			end:      time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC),
			expected: 24.0,
		},
		{
			name:     "半天",
			start:    time.Date(2026, 1, 11, 8, 0, 0, 0, time.UTC),
			end:      time.Date(2026, 1, 11, 13, 30, 0, 0, time.UTC),
			expected: 5.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Assignment{StartDate: tt.start, EndDate: tt.end}
			if result := a.DurationHours(); result != tt.expected {
				t.Errorf("DurationHours() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestAssignment_IsGuard(t *testing.T) {
	tests := []struct {
		typ      AssignmentType
		expected bool
	}{
		{AssignmentGarde24h, true},
		{AssignmentGarde, true},
		{AssignmentAstreinte, false},
		{AssignmentConsult, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			a := &Assignment{Type: tt.typ}
			if result := a.IsGuard(); result != tt.expected {
				t.Errorf("IsGuard() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestAssignment_Overlaps(t *testing.T) {
	start := time.Date(2026, 1, 11, 8, 0, 0, 0, time.UTC)
	guard := &Assignment{StartDate: start, EndDate: start.Add(24 * time.Hour)}
	consult := &Assignment{StartDate: start.Add(26 * time.Hour), EndDate: start.Add(30 * time.Hour)}
	bloc := &Assignment{StartDate: start.Add(20 * time.Hour), EndDate: start.Add(28 * time.Hour)}

	if guard.Overlaps(consult) {
		t.Error("guard and consultation should not overlap")
	}
	if !guard.Overlaps(bloc) || !bloc.Overlaps(consult) {
		t.Error("bloc should overlap both")
	}
	if guard.Day() != "2026-01-11" {
		t.Errorf("Day() = %s", guard.Day())
	}
}
