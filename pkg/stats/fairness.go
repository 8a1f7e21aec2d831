// Package stats 提供排班统计分析功能
package stats

import (
	"math"
	"sort"

	"github.com/paiban/planrules/pkg/model"
)

// FairnessMetrics 公平性指标
type FairnessMetrics struct {
	AssignmentClass []model.AssignmentType `json:"assignmentClass"`

	Gini     float64 `json:"gini"`     // 基尼系数 (0=完全公平)
	Variance float64 `json:"variance"` // 人均次数方差
	StdDev   float64 `json:"stdDev"`
	Mean     float64 `json:"mean"`
	Max      float64 `json:"max"`
	Min      float64 `json:"min"`

	WeekendGini float64 `json:"weekendGini"`

	// 公平性得分 [0,1]，方差越大得分越低
	EquityScore float64 `json:"equiteScore"`

	StaffStats []StaffStat `json:"staffStats"`
}

// StaffStat 人员统计
type StaffStat struct {
	UserID       string  `json:"userId"`
	Name         string  `json:"name,omitempty"`
	Count        int     `json:"count"`
	WeekendCount int     `json:"weekendCount"`
	TotalHours   float64 `json:"totalHours"`
	Deviation    float64 `json:"deviation"` // 与平均值的差
}

// FairnessAnalyzer 公平性分析器
type FairnessAnalyzer struct {
	class map[model.AssignmentType]bool
	order []model.AssignmentType
}

// NewFairnessAnalyzer 创建公平性分析器，class 为参与统计的排班类型，为空时使用值班类
func NewFairnessAnalyzer(class ...model.AssignmentType) *FairnessAnalyzer {
	if len(class) == 0 {
		class = []model.AssignmentType{model.AssignmentGarde24h, model.AssignmentGarde}
	}
	f := &FairnessAnalyzer{class: make(map[model.AssignmentType]bool, len(class)), order: class}
	for _, c := range class {
		f.class[c] = true
	}
	return f
}

// InClass 判断排班类型是否参与统计
func (f *FairnessAnalyzer) InClass(t model.AssignmentType) bool {
	return f.class[t]
}

// Counts 统计每个人员的次数；eligible 中未出现在排班里的人员计为0
func (f *FairnessAnalyzer) Counts(assignments []*model.Assignment, eligible []string) map[string]int {
	counts := make(map[string]int, len(eligible))
	for _, id := range eligible {
		counts[id] = 0
	}
	for _, a := range assignments {
		if !f.class[a.Type] {
			continue
		}
		counts[a.UserID]++
	}
	return counts
}

// Analyze 分析排班公平性
func (f *FairnessAnalyzer) Analyze(assignments []*model.Assignment, staff []*model.Staff) *FairnessMetrics {
	eligible := make([]string, 0, len(staff))
	names := make(map[string]string, len(staff))
	for _, s := range staff {
		eligible = append(eligible, s.ID)
		names[s.ID] = s.Name
	}

	statMap := make(map[string]*StaffStat, len(eligible))
	for _, id := range eligible {
		statMap[id] = &StaffStat{UserID: id, Name: names[id]}
	}
	for _, a := range assignments {
		if !f.class[a.Type] {
			continue
		}
		stat, ok := statMap[a.UserID]
		if !ok {
			stat = &StaffStat{UserID: a.UserID}
			statMap[a.UserID] = stat
		}
		stat.Count++
		stat.TotalHours += a.DurationHours()
		if model.IsWeekend(a.StartDate) {
			stat.WeekendCount++
		}
	}

	metrics := &FairnessMetrics{AssignmentClass: f.order, EquityScore: 1}
	if len(statMap) == 0 {
		return metrics
	}

	stats := make([]StaffStat, 0, len(statMap))
	for _, s := range statMap {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].UserID < stats[j].UserID
	})

	counts := make([]float64, len(stats))
	weekends := make([]float64, len(stats))
	for i, s := range stats {
		counts[i] = float64(s.Count)
		weekends[i] = float64(s.WeekendCount)
	}

	metrics.Mean = mean(counts)
	metrics.Variance = variance(counts, metrics.Mean)
	metrics.StdDev = math.Sqrt(metrics.Variance)
	metrics.Max, metrics.Min = valueRange(counts)
	metrics.Gini = Gini(counts)
	metrics.WeekendGini = Gini(weekends)
	metrics.EquityScore = equityFromStdDev(metrics.StdDev)

	for i := range stats {
		stats[i].Deviation = float64(stats[i].Count) - metrics.Mean
	}
	metrics.StaffStats = stats
	return metrics
}

// EquityScore 计算公平性得分 1/(1+σ)，σ为人均次数的总体标准差
//
// 得分随方差严格递减，所有人次数相同时为1。
func EquityScore(counts map[string]int) float64 {
	if len(counts) == 0 {
		return 1
	}
	values := make([]float64, 0, len(counts))
	for _, c := range counts {
		values = append(values, float64(c))
	}
	return equityFromStdDev(math.Sqrt(variance(values, mean(values))))
}

func equityFromStdDev(sd float64) float64 {
	return 1 / (1 + sd)
}

// Deviation 返回某人员次数与平均值的差
func Deviation(counts map[string]int, userID string) float64 {
	if len(counts) == 0 {
		return 0
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return float64(counts[userID]) - float64(total)/float64(len(counts))
}

// mean 计算平均值
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance 计算总体方差
func variance(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(values))
}

// valueRange 计算极值
func valueRange(values []float64) (max, min float64) {
	if len(values) == 0 {
		return 0, 0
	}
	max, min = values[0], values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return
}

// Gini 计算基尼系数
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}

	gini := 0.0
	for i, v := range sorted {
		gini += (2*float64(i+1) - float64(n) - 1) * v
	}

	gini = gini / (float64(n) * sum)
	return math.Max(0, math.Min(1, gini))
}
