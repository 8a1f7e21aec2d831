package model

import (
	"time"
)

// AssignmentType 排班类型
type AssignmentType string

const (
	AssignmentGarde24h    AssignmentType = "GARDE_24H"    // 24小时值班
	AssignmentGarde       AssignmentType = "GARDE"        // 值班
	AssignmentAstreinte   AssignmentType = "ASTREINTE"    // 待命
	AssignmentSupervision AssignmentType = "SUPERVISION"  // 多台监护
	AssignmentBloc        AssignmentType = "BLOC"         // 手术室
	AssignmentConsult     AssignmentType = "CONSULTATION" // 门诊
	AssignmentFormation   AssignmentType = "FORMATION"    // 培训
)

// IsGuardType 是否值班类（参与公平性统计）
func IsGuardType(t AssignmentType) bool {
	return t == AssignmentGarde24h || t == AssignmentGarde
}

// Assignment 排班分配
type Assignment struct {
	ID        string         `json:"id" yaml:"id"`
	UserID    string         `json:"userId" yaml:"user_id"`
	Type      AssignmentType `json:"type" yaml:"type"`
	ShiftType string         `json:"shiftType,omitempty" yaml:"shift_type,omitempty"` // MATIN/APRES_MIDI/NUIT/JOURNEE
	Specialty string         `json:"specialty,omitempty" yaml:"specialty,omitempty"`
	StartDate time.Time      `json:"startDate" yaml:"start_date"`
	EndDate   time.Time      `json:"endDate" yaml:"end_date"`
	RoomCount int            `json:"roomCount,omitempty" yaml:"room_count,omitempty"` // 同时监护的手术间数
	Pediatric bool           `json:"pediatric,omitempty" yaml:"pediatric,omitempty"`
	Status    string         `json:"status,omitempty" yaml:"status,omitempty"` // proposed/confirmed/cancelled
}

// DurationHours 计算时长（小时）
func (a *Assignment) DurationHours() float64 {
	return a.EndDate.Sub(a.StartDate).Hours()
}

// Day 返回开始日期键
func (a *Assignment) Day() string {
	return DayKey(a.StartDate)
}

// IsGuard 是否为值班
func (a *Assignment) IsGuard() bool {
	return IsGuardType(a.Type)
}

// Range 返回时间范围
func (a *Assignment) Range() TimeRange {
	return TimeRange{Start: a.StartDate, End: a.EndDate}
}

// Overlaps 检查两个分配是否时间重叠
func (a *Assignment) Overlaps(other *Assignment) bool {
	return a.Range().Overlaps(other.Range())
}

// Requirement 某日某类排班的需求人数
type Requirement struct {
	Date           string         `json:"date" yaml:"date"` // YYYY-MM-DD
	AssignmentType AssignmentType `json:"assignmentType" yaml:"assignment_type"`
	Count          int            `json:"count" yaml:"count"`
}
