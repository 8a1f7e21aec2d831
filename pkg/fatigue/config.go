// Package fatigue 提供疲劳度计分与存储
package fatigue

import (
	"fmt"
	"strings"

	"github.com/paiban/planrules/pkg/errors"
)

// 事件类型
const (
	EventGarde               = "GARDE"
	EventAstreinte           = "ASTREINTE"
	EventSupervisionMultiple = "SUPERVISION_MULTIPLE"
	EventPediatrie           = "PEDIATRIE"
	EventSpecialiteLourde    = "SPECIALITE_LOURDE"

	RecoveryJourOff        = "JOUR_OFF"
	RecoveryDemiJourneeOff = "DEMI_JOURNEE_OFF"
	RecoveryWeekend        = "WEEKEND"
)

// Points 每类排班累计的疲劳分
type Points struct {
	Garde               float64 `json:"garde" yaml:"garde"`
	Astreinte           float64 `json:"astreinte" yaml:"astreinte"`
	SupervisionMultiple float64 `json:"supervisionMultiple" yaml:"supervision_multiple"`
	Pediatrie           float64 `json:"pediatrie" yaml:"pediatrie"`
	SpecialiteLourde    float64 `json:"specialiteLourde" yaml:"specialite_lourde"`

	// 按专科附加的分值（如 urgence、neonatologie），键为小写专科名
	Specialties map[string]float64 `json:"specialties,omitempty" yaml:"specialties,omitempty"`
}

// Recovery 休息恢复分
type Recovery struct {
	JourOff        float64 `json:"jourOff" yaml:"jour_off"`
	DemiJourneeOff float64 `json:"demiJourneeOff" yaml:"demi_journee_off"`
	Weekend        float64 `json:"weekend" yaml:"weekend"`
}

// Thresholds 阈值
type Thresholds struct {
	Alerte   float64 `json:"alerte" yaml:"alerte"`
	Critique float64 `json:"critique" yaml:"critique"`
}

// Config 疲劳度配置
type Config struct {
	Enabled          bool       `json:"enabled" yaml:"enabled"`
	Points           Points     `json:"points" yaml:"points"`
	Recovery         Recovery   `json:"recovery" yaml:"recovery"`
	Seuils           Thresholds `json:"seuils" yaml:"seuils"`
	HeavySpecialties []string   `json:"heavySpecialties,omitempty" yaml:"heavy_specialties,omitempty"`
}

// DefaultConfig 返回标准模板的疲劳度配置
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Points: Points{
			Garde:               30,
			Astreinte:           10,
			SupervisionMultiple: 15,
			Pediatrie:           10,
			SpecialiteLourde:    20,
		},
		Recovery: Recovery{
			JourOff:        15,
			DemiJourneeOff: 8,
			Weekend:        30,
		},
		Seuils: Thresholds{
			Alerte:   50,
			Critique: 80,
		},
		HeavySpecialties: []string{"chirurgie_cardiaque", "neurochirurgie"},
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	var ve errors.ValidationErrors
	if c.Seuils.Alerte < 0 {
		ve.Add("seuils.alerte", "不能为负数")
	}
	if c.Seuils.Critique <= c.Seuils.Alerte {
		ve.Addf("seuils.critique", "必须大于 alerte (%.0f)", c.Seuils.Alerte)
	}
	for name, v := range map[string]float64{
		"points.garde":                c.Points.Garde,
		"points.astreinte":            c.Points.Astreinte,
		"points.supervision_multiple": c.Points.SupervisionMultiple,
		"points.pediatrie":            c.Points.Pediatrie,
		"points.specialite_lourde":    c.Points.SpecialiteLourde,
		"recovery.jour_off":           c.Recovery.JourOff,
		"recovery.demi_journee_off":   c.Recovery.DemiJourneeOff,
		"recovery.weekend":            c.Recovery.Weekend,
	} {
		if v < 0 {
			ve.Add(name, "不能为负数")
		}
	}
	for sp, v := range c.Points.Specialties {
		if v < 0 {
			ve.Add("points.specialties."+sp, "不能为负数")
		}
	}
	if ve.HasErrors() {
		return ve.ToAppError(errors.CodeValidationFail, "疲劳度配置无效")
	}
	return nil
}

// eventPoints 查找事件对应的分值
func (c Config) eventPoints(eventType string, recovery bool) (float64, error) {
	key := strings.ToUpper(eventType)
	if recovery {
		switch key {
		case RecoveryJourOff:
			return c.Recovery.JourOff, nil
		case RecoveryDemiJourneeOff:
			return c.Recovery.DemiJourneeOff, nil
		case RecoveryWeekend:
			return c.Recovery.Weekend, nil
		}
		return 0, errors.InvalidInput("eventType", fmt.Sprintf("未知的恢复事件 %q", eventType))
	}

	switch key {
	case EventGarde, "GARDE_24H":
		return c.Points.Garde, nil
	case EventAstreinte:
		return c.Points.Astreinte, nil
	case EventSupervisionMultiple:
		return c.Points.SupervisionMultiple, nil
	case EventPediatrie:
		return c.Points.Pediatrie, nil
	case EventSpecialiteLourde:
		return c.Points.SpecialiteLourde, nil
	}
	if v, ok := c.Points.Specialties[strings.ToLower(eventType)]; ok {
		return v, nil
	}
	return 0, errors.InvalidInput("eventType", fmt.Sprintf("未知的疲劳事件 %q", eventType))
}

func (c Config) isHeavy(specialty string) bool {
	for _, s := range c.HeavySpecialties {
		if strings.EqualFold(s, specialty) {
			return true
		}
	}
	return false
}
