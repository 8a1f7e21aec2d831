// Package model 定义规划规则引擎的核心数据模型
package model

import (
	"time"
)

// DateLayout 日期格式
const DateLayout = "2006-01-02"

// JSONMap 用于存储 JSONB 数据
type JSONMap map[string]interface{}

// TimeRange 时间范围
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration 返回时间范围的持续时间
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Overlaps 检查两个时间范围是否重叠
func (tr TimeRange) Overlaps(other TimeRange) bool {
	return tr.Start.Before(other.End) && other.Start.Before(tr.End)
}

// Contains 检查时间范围是否包含某个时间点
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// DateRange 日期范围（闭区间）
type DateRange struct {
	StartDate string `json:"startDate" yaml:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"endDate" yaml:"end_date"`     // YYYY-MM-DD
}

// Contains 检查日期是否在范围内
func (dr DateRange) Contains(day string) bool {
	return day >= dr.StartDate && day <= dr.EndDate
}

// Days 展开为日期列表
func (dr DateRange) Days() ([]string, error) {
	start, err := time.Parse(DateLayout, dr.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(DateLayout, dr.EndDate)
	if err != nil {
		return nil, err
	}
	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days, nil
}

// DayOf 返回时间点所在日期（保留时区）
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayKey 返回日期键 YYYY-MM-DD
func DayKey(t time.Time) string {
	return t.Format(DateLayout)
}

// IsWeekend 判断是否周末
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
