package model

import (
	"time"
)

// 角色
const (
	RoleMAR  = "MAR"  // 麻醉医师
	RoleIADE = "IADE" // 麻醉护士
)

// 资历
const (
	ExperienceJunior = "junior"
	ExperienceSenior = "senior"
)

// Staff 医护人员
type Staff struct {
	ID              string      `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Role            string      `json:"role" yaml:"role"`
	Experience      string      `json:"experience" yaml:"experience"`
	ExperienceYears float64     `json:"experienceYears,omitempty" yaml:"experience_years,omitempty"`
	Available       bool        `json:"available" yaml:"available"`
	Specialties     []string    `json:"specialties,omitempty" yaml:"specialties,omitempty"`
	LeaveQuota      float64     `json:"leaveQuota,omitempty" yaml:"leave_quota,omitempty"`
	LeaveDaysUsed   float64     `json:"leaveDaysUsed,omitempty" yaml:"leave_days_used,omitempty"`
	Leaves          []DateRange `json:"leaves,omitempty" yaml:"leaves,omitempty"`

	// 调用方预先取得的最近一次值班时间，和历史排班推导结果取较晚者
	LastGuardDate *time.Time `json:"lastGuardDate,omitempty" yaml:"last_guard_date,omitempty"`
}

// IsSenior 是否资深
func (s *Staff) IsSenior() bool {
	return s.Experience == ExperienceSenior
}

// OnLeave 检查某日是否休假
func (s *Staff) OnLeave(day string) bool {
	for _, l := range s.Leaves {
		if l.Contains(day) {
			return true
		}
	}
	return false
}

// HasSpecialty 检查是否具备某专科
func (s *Staff) HasSpecialty(specialty string) bool {
	for _, sp := range s.Specialties {
		if sp == specialty {
			return true
		}
	}
	return false
}

// IsValidExperience 校验资历取值
func IsValidExperience(v string) bool {
	return v == ExperienceJunior || v == ExperienceSenior
}
