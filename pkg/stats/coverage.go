package stats

import (
	"sort"

	"github.com/paiban/planrules/pkg/model"
)

// CoverageMetrics 覆盖率指标
type CoverageMetrics struct {
	Required        int                `json:"required"`
	Filled          int                `json:"filled"`
	OverallCoverage float64            `json:"coveragePercentage"` // 0-100
	Gaps            []CoverageGap      `json:"gaps,omitempty"`
	DailyCoverage   map[string]float64 `json:"dailyCoverage"`
}

// CoverageGap 未满足的需求
type CoverageGap struct {
	Date           string               `json:"date"`
	AssignmentType model.AssignmentType `json:"assignmentType"`
	Required       int                  `json:"required"`
	Assigned       int                  `json:"assigned"`
	Shortage       int                  `json:"shortage"`
}

// CoverageAnalyzer 覆盖率分析器
type CoverageAnalyzer struct{}

// NewCoverageAnalyzer 创建覆盖率分析器
func NewCoverageAnalyzer() *CoverageAnalyzer {
	return &CoverageAnalyzer{}
}

type coverageKey struct {
	day string
	typ model.AssignmentType
}

// Analyze 分析需求覆盖率，超额分配不计入
func (c *CoverageAnalyzer) Analyze(requirements []model.Requirement, assignments []*model.Assignment) *CoverageMetrics {
	metrics := &CoverageMetrics{
		OverallCoverage: 100,
		DailyCoverage:   make(map[string]float64),
	}
	if len(requirements) == 0 {
		return metrics
	}

	assigned := make(map[coverageKey]int)
	for _, a := range assignments {
		assigned[coverageKey{a.Day(), a.Type}]++
	}

	dailyRequired := make(map[string]int)
	dailyFilled := make(map[string]int)
	for _, r := range requirements {
		if r.Count <= 0 {
			continue
		}
		got := assigned[coverageKey{r.Date, r.AssignmentType}]
		filled := got
		if filled > r.Count {
			filled = r.Count
		}
		metrics.Required += r.Count
		metrics.Filled += filled
		dailyRequired[r.Date] += r.Count
		dailyFilled[r.Date] += filled
		if got < r.Count {
			metrics.Gaps = append(metrics.Gaps, CoverageGap{
				Date:           r.Date,
				AssignmentType: r.AssignmentType,
				Required:       r.Count,
				Assigned:       got,
				Shortage:       r.Count - got,
			})
		}
	}

	if metrics.Required > 0 {
		metrics.OverallCoverage = float64(metrics.Filled) / float64(metrics.Required) * 100
	}
	for day, req := range dailyRequired {
		metrics.DailyCoverage[day] = float64(dailyFilled[day]) / float64(req) * 100
	}
	sort.Slice(metrics.Gaps, func(i, j int) bool {
		if metrics.Gaps[i].Date != metrics.Gaps[j].Date {
			return metrics.Gaps[i].Date < metrics.Gaps[j].Date
		}
		return metrics.Gaps[i].AssignmentType < metrics.Gaps[j].AssignmentType
	})
	return metrics
}
