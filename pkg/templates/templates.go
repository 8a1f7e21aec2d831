// Package templates 提供内置的规则模板与种子规则
package templates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/paiban/planrules/pkg/errors"
	"github.com/paiban/planrules/pkg/fatigue"
	"github.com/paiban/planrules/pkg/model"
	"github.com/paiban/planrules/pkg/rules"
)

// Category 模板类别
type Category string

const (
	CategoryStandard  Category = "STANDARD"
	CategoryIntensif  Category = "INTENSIF"
	CategoryAllege    Category = "ALLEGE"
	CategoryPediatrie Category = "PEDIATRIE"
)

// Interval 值班间隔约束
type Interval struct {
	MinJoursEntreGardes   int `json:"minJoursEntreGardes" yaml:"min_jours_entre_gardes"`
	MinJoursRecommandes   int `json:"minJoursRecommandes" yaml:"min_jours_recommandes"`
	MaxGardesMois         int `json:"maxGardesMois" yaml:"max_gardes_mois"`
	MaxGardesConsecutives int `json:"maxGardesConsecutives" yaml:"max_gardes_consecutives"`
	MaxAstreintesMois     int `json:"maxAstreintesMois" yaml:"max_astreintes_mois"`
}

// Supervision 麻醉医师同时监护的手术间上限
type Supervision struct {
	MaxSallesParMAR       map[string]int      `json:"maxSallesParMAR" yaml:"max_salles_par_mar"`
	MaxSallesExceptionnel int                 `json:"maxSallesExceptionnel" yaml:"max_salles_exceptionnel"`
	SecteursCompatibles   map[string][]string `json:"secteursCompatibles,omitempty" yaml:"secteurs_compatibles,omitempty"`
}

// Equity 公平性权重
type Equity struct {
	PoidsGardesWeekend     float64 `json:"poidsGardesWeekend" yaml:"poids_gardes_weekend"`
	PoidsGardesFeries      float64 `json:"poidsGardesFeries" yaml:"poids_gardes_feries"`
	EquilibrageSpecialites bool    `json:"equilibrageSpecialites" yaml:"equilibrage_specialites"`
}

// Template 规则模板
type Template struct {
	Name                 string         `json:"name" yaml:"name"`
	Category             Category       `json:"category" yaml:"category"`
	Description          string         `json:"description" yaml:"description"`
	IsDefault            bool           `json:"isDefault" yaml:"is_default"`
	MinimumRestHours     float64        `json:"minimumRestPeriod" yaml:"minimum_rest_period"`
	MaxConsultationsWeek int            `json:"maxConsultationsParSemaine" yaml:"max_consultations_par_semaine"`
	Intervalle           Interval       `json:"intervalle" yaml:"intervalle"`
	Supervision          Supervision    `json:"supervision" yaml:"supervision"`
	Equite               Equity         `json:"equite" yaml:"equite"`
	Fatigue              fatigue.Config `json:"fatigueConfig" yaml:"fatigue"`
}

// Defaults 返回四个内置模板
func Defaults() []Template {
	return []Template{standard(), intensif(), allege(), pediatrie()}
}

// Get 按类别查找模板（不区分大小写）
func Get(category string) (Template, bool) {
	for _, t := range Defaults() {
		if strings.EqualFold(string(t.Category), category) {
			return t, true
		}
	}
	return Template{}, false
}

// Validate 校验模板配置
func (t Template) Validate() error {
	var ve errors.ValidationErrors
	if strings.TrimSpace(t.Name) == "" {
		ve.Add("name", "不能为空")
	}
	if t.MinimumRestHours < 0 {
		ve.Add("minimumRestPeriod", "不能为负数")
	}
	iv := t.Intervalle
	if iv.MinJoursEntreGardes < 0 || iv.MaxGardesMois < 0 || iv.MaxAstreintesMois < 0 || iv.MaxGardesConsecutives < 0 {
		ve.Add("intervalle", "不能为负数")
	}
	if iv.MinJoursRecommandes < iv.MinJoursEntreGardes {
		ve.Addf("intervalle.minJoursRecommandes", "不能小于 minJoursEntreGardes (%d)", iv.MinJoursEntreGardes)
	}
	for sp, n := range t.Supervision.MaxSallesParMAR {
		if n < 1 {
			ve.Addf("supervision.maxSallesParMAR."+sp, "必须大于等于 1，实际为 %d", n)
		}
	}
	if err := t.Fatigue.Validate(); err != nil {
		ve.Add("fatigueConfig", err.Error())
	}
	if ve.HasErrors() {
		return ve.ToAppError(errors.CodeValidationFail, fmt.Sprintf("模板 %s 配置无效", t.Category))
	}
	return nil
}

var guardTypes = []any{string(model.AssignmentGarde24h), string(model.AssignmentGarde)}

// Rules 由模板参数推导规则定义
func (t Template) Rules() []rules.Definition {
	prefix := strings.ToLower(string(t.Category)) + "."
	iv := t.Intervalle
	isGuard := rules.LeafSpec("assignment.type", rules.OpIn, guardTypes)

	defs := []rules.Definition{
		validation(prefix+"double-booking", "Chevauchement d'affectations", 100,
			rules.LeafSpec("assignment.overlapsExisting", rules.OpEquals, true),
			validate("error", "DOUBLE_BOOKING", "${user.id} a déjà une affectation sur ce créneau")),
		validation(prefix+"min-interval", "Intervalle minimum entre gardes", 90,
			rules.All(isGuard, rules.LeafSpec("user.lastGuardDate", rules.OpGreater, fmt.Sprintf("now-%ddays", iv.MinJoursEntreGardes))),
			validate("error", "MIN_INTERVAL", fmt.Sprintf("Moins de %d jours depuis la dernière garde (${user.lastGuardDate})", iv.MinJoursEntreGardes))),
		validation(prefix+"interval-recommande", "Intervalle recommandé entre gardes", 60,
			rules.All(isGuard, rules.LeafSpec("user.lastGuardDate", rules.OpGreater, fmt.Sprintf("now-%ddays", iv.MinJoursRecommandes))),
			validate("warning", "INTERVALLE_RECOMMANDE", fmt.Sprintf("Intervalle recommandé de %d jours entre gardes non respecté", iv.MinJoursRecommandes))),
		validation(prefix+"max-gardes-mois", "Maximum de gardes par mois", 80,
			rules.All(isGuard, rules.LeafSpec("user.guardsThisMonth", rules.OpGreater, iv.MaxGardesMois)),
			validate("error", "MAX_GARDES_MOIS", fmt.Sprintf("${user.guardsThisMonth} gardes ce mois, maximum %d", iv.MaxGardesMois))),
		validation(prefix+"max-gardes-consecutives", "Gardes consécutives", 80,
			rules.All(isGuard, rules.LeafSpec("user.consecutiveGuards", rules.OpGreater, iv.MaxGardesConsecutives)),
			validate("error", "MAX_GARDES_CONSECUTIVES", fmt.Sprintf("${user.consecutiveGuards} gardes consécutives, maximum %d", iv.MaxGardesConsecutives))),
		validation(prefix+"max-astreintes-mois", "Maximum d'astreintes par mois", 75,
			rules.All(
				rules.LeafSpec("assignment.type", rules.OpEquals, string(model.AssignmentAstreinte)),
				rules.LeafSpec("user.astreintesThisMonth", rules.OpGreater, iv.MaxAstreintesMois)),
			validate("error", "MAX_ASTREINTES_MOIS", fmt.Sprintf("${user.astreintesThisMonth} astreintes ce mois, maximum %d", iv.MaxAstreintesMois))),
		validation(prefix+"min-rest", "Repos minimum", 85,
			rules.LeafSpec("user.restHours", rules.OpLess, t.MinimumRestHours),
			validate("error", "MIN_REST", fmt.Sprintf("Repos de ${user.restHours}h, minimum %gh", t.MinimumRestHours))),
		validation(prefix+"fatigue-critique", "Fatigue critique", 88,
			rules.LeafSpec("metrics.projectedFatigueScore", rules.OpGreater, t.Fatigue.Seuils.Critique),
			validate("error", "FATIGUE", "Score de fatigue projeté ${metrics.projectedFatigueScore} au-delà du seuil critique")),
		validation(prefix+"fatigue-alerte", "Fatigue en alerte", 65,
			rules.LeafSpec("metrics.projectedFatigueScore", rules.OpBetween, []any{t.Fatigue.Seuils.Alerte, t.Fatigue.Seuils.Critique}),
			validate("warning", "FATIGUE_WARNING", "Score de fatigue projeté ${metrics.projectedFatigueScore} en zone d'alerte")),
		{
			ID:         prefix + "leave-balance",
			Name:       "Solde de congés",
			Type:       string(rules.RuleValidation),
			Priority:   96,
			Status:     string(rules.StatusActive),
			Conditions: rules.LeafSpec("user.leaveQuota", rules.OpGreater, 0),
			Actions: []rules.ActionSpec{{
				Type:       string(rules.ActionCalculate),
				Parameters: map[string]any{"target": "leaveBalance", "expression": "user.leaveQuota - user.leaveDaysUsed"},
			}},
		},
		validation(prefix+"leave-quota", "Quota de congés dépassé", 95,
			rules.LeafSpec("calc.leaveBalance", rules.OpLess, 0),
			validate("warning", "LEAVE_QUOTA", "Quota de congés dépassé de ${calc.leaveBalance} jours")),
		validation(prefix+"equity-weekend", "Équité des gardes de week-end", 40,
			rules.All(isGuard,
				rules.LeafSpec("date.isWeekend", rules.OpEquals, true),
				rules.LeafSpec("metrics.equityDeviation", rules.OpGreater, t.Equite.PoidsGardesWeekend)),
			notify("Gardes de week-end déséquilibrées pour ${user.id} (écart ${metrics.equityDeviation})")),
		validation(prefix+"equity-feries", "Équité des gardes fériées", 40,
			rules.All(isGuard,
				rules.LeafSpec("date.isHoliday", rules.OpEquals, true),
				rules.LeafSpec("metrics.equityDeviation", rules.OpGreater, t.Equite.PoidsGardesFeries)),
			notify("Gardes fériées déséquilibrées pour ${user.id} (écart ${metrics.equityDeviation})")),
	}

	specialties := make([]string, 0, len(t.Supervision.MaxSallesParMAR))
	for sp := range t.Supervision.MaxSallesParMAR {
		specialties = append(specialties, sp)
	}
	sort.Strings(specialties)
	for _, sp := range specialties {
		limit := t.Supervision.MaxSallesParMAR[sp]
		defs = append(defs, validation(prefix+"supervision-"+sp, "Supervision "+sp, 70,
			rules.All(
				rules.LeafSpec("assignment.specialty", rules.OpEquals, sp),
				rules.LeafSpec("assignment.roomCount", rules.OpGreater, limit)),
			validate("error", "SUPERVISION", fmt.Sprintf("${assignment.roomCount} salles supervisées en %s, maximum %d", sp, limit))))
	}
	return defs
}

// SeedRules 返回默认部署的种子规则
func SeedRules() []rules.Definition {
	guard24 := string(model.AssignmentGarde24h)
	return []rules.Definition{
		validation("seed.min-interval", "Intervalle minimum entre gardes", 90,
			rules.All(
				rules.LeafSpec("assignment.type", rules.OpEquals, guard24),
				rules.LeafSpec("user.lastGuardDate", rules.OpGreater, "now-3days")),
			validate("error", "MIN_INTERVAL", "Garde 24h moins de 3 jours après la précédente (${user.lastGuardDate})")),
		validation("seed.fatigue-critique", "Limite de fatigue critique", 85,
			rules.LeafSpec("metrics.fatigueScore", rules.OpGreater, 80),
			validate("error", "FATIGUE", "Score de fatigue ${metrics.fatigueScore} au-delà de la limite critique")),
		validation("seed.fatigue-alerte", "Alerte fatigue élevée", 70,
			rules.LeafSpec("metrics.fatigueScore", rules.OpBetween, []any{60, 80}),
			validate("warning", "FATIGUE_WARNING", "Score de fatigue ${metrics.fatigueScore} élevé")),
		{
			ID:       "seed.weekend-senior",
			Name:     "Garde minimale week-end",
			Type:     string(rules.RuleGeneration),
			Priority: 50,
			Status:   string(rules.StatusActive),
			Conditions: rules.All(
				rules.LeafSpec("date.dayOfWeek", rules.OpIn, []any{0, 6}),
				rules.LeafSpec("planning.seniorCount", rules.OpLess, 2)),
			Actions: []rules.ActionSpec{
				{
					Type: string(rules.ActionAssign),
					Parameters: map[string]any{
						"assignmentType": guard24,
						"count":          2,
						"userCriteria": map[string]any{
							"experience": model.ExperienceSenior,
							"available":  true,
							"sortBy":     rules.SortByFatigue,
							"order":      "asc",
						},
					},
				},
				{
					Type:       string(rules.ActionNotify),
					Parameters: map[string]any{"suggestion": "Week-end du ${date.value}: proposer ${firing.assigneeNames} en garde senior"},
				},
			},
		},
	}
}

func validation(id, name string, priority int, cond rules.ConditionSpec, actions ...rules.ActionSpec) rules.Definition {
	return rules.Definition{
		ID:         id,
		Name:       name,
		Type:       string(rules.RuleValidation),
		Priority:   priority,
		Status:     string(rules.StatusActive),
		Conditions: cond,
		Actions:    actions,
	}
}

func validate(severity, violationType, message string) rules.ActionSpec {
	return rules.ActionSpec{
		Type: string(rules.ActionValidate),
		Parameters: map[string]any{
			"severity":      severity,
			"violationType": violationType,
			"message":       message,
		},
	}
}

func notify(suggestion string) rules.ActionSpec {
	return rules.ActionSpec{
		Type:       string(rules.ActionNotify),
		Parameters: map[string]any{"suggestion": suggestion},
	}
}
