package rules

import (
	"time"

	"github.com/paiban/planrules/pkg/model"
)

// planIndex 一次运行的规划上下文：历史排班、本批排班和已生成的建议
type planIndex struct {
	byUser   map[string][]*model.Assignment
	byDay    map[string][]*model.Assignment
	staff    map[string]*model.Staff
	holidays map[string]bool
	coverage map[string]float64
}

func newPlanIndex(staff []*model.Staff, holidays []string) *planIndex {
	ix := &planIndex{
		byUser:   make(map[string][]*model.Assignment),
		byDay:    make(map[string][]*model.Assignment),
		staff:    make(map[string]*model.Staff, len(staff)),
		holidays: make(map[string]bool, len(holidays)),
	}
	for _, s := range staff {
		ix.staff[s.ID] = s
	}
	for _, h := range holidays {
		ix.holidays[h] = true
	}
	return ix
}

func (ix *planIndex) add(a *model.Assignment) {
	ix.byUser[a.UserID] = append(ix.byUser[a.UserID], a)
	day := a.Day()
	ix.byDay[day] = append(ix.byDay[day], a)
}

// reserve 把建议中选出的人员登记为当天已排班
func (ix *planIndex) reserve(p AssignmentProposal, day time.Time) {
	for _, id := range p.UserIDs {
		ix.add(&model.Assignment{
			ID:        p.ID + ":" + id,
			UserID:    id,
			Type:      p.AssignmentType,
			ShiftType: p.ShiftType,
			StartDate: day,
			EndDate:   day.Add(24 * time.Hour),
			Status:    "proposed",
		})
	}
}

func (ix *planIndex) assignedOn(userID, day string) bool {
	for _, a := range ix.byDay[day] {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

func (ix *planIndex) guardsInMonth(userID string, day time.Time) int {
	n := 0
	y, m, _ := day.Date()
	for _, a := range ix.byUser[userID] {
		ay, am, _ := a.StartDate.Date()
		if ay == y && am == m && a.IsGuard() {
			n++
		}
	}
	return n
}

// userStats 推导某个排班对应人员的统计（该排班本身已在索引中）
func (ix *planIndex) userStats(a *model.Assignment) *UserStats {
	st := &UserStats{}
	y, m, _ := a.StartDate.Date()
	guardDays := make(map[string]bool)
	var latestEnd *time.Time

	for _, o := range ix.byUser[a.UserID] {
		if o.IsGuard() {
			guardDays[o.Day()] = true
		}
		oy, om, _ := o.StartDate.Date()
		if oy == y && om == m && !o.StartDate.After(a.StartDate) {
			switch {
			case o.IsGuard():
				st.GuardsThisMonth++
			case o.Type == model.AssignmentAstreinte:
				st.AstreintesThisMonth++
			}
		}
		if o == a {
			continue
		}
		if o.Overlaps(a) {
			st.OverlapsExisting = true
		}
		if o.IsGuard() && o.StartDate.Before(a.StartDate) {
			if st.LastGuardDate == nil || o.StartDate.After(*st.LastGuardDate) {
				t := o.StartDate
				st.LastGuardDate = &t
			}
		}
		if !o.EndDate.After(a.StartDate) {
			if latestEnd == nil || o.EndDate.After(*latestEnd) {
				t := o.EndDate
				latestEnd = &t
			}
		}
	}

	if s, ok := ix.staff[a.UserID]; ok && s.LastGuardDate != nil && s.LastGuardDate.Before(a.StartDate) {
		if st.LastGuardDate == nil || s.LastGuardDate.After(*st.LastGuardDate) {
			t := *s.LastGuardDate
			st.LastGuardDate = &t
		}
	}
	if latestEnd != nil {
		st.RestHours = floatPtr(a.StartDate.Sub(*latestEnd).Hours())
	}

	day := model.DayOf(a.StartDate)
	if !a.IsGuard() {
		day = day.AddDate(0, 0, -1)
	}
	for guardDays[model.DayKey(day)] {
		st.ConsecutiveGuards++
		day = day.AddDate(0, 0, -1)
	}
	return st
}

// planningStats 某一天的规划统计
func (ix *planIndex) planningStats(day string) *PlanningStats {
	ps := &PlanningStats{}
	users := make(map[string]bool)
	for _, a := range ix.byDay[day] {
		ps.AssignmentCount++
		if a.IsGuard() {
			ps.GuardCount++
		}
		if users[a.UserID] {
			continue
		}
		users[a.UserID] = true
		ps.StaffCount++
		if s, ok := ix.staff[a.UserID]; ok {
			switch s.Experience {
			case model.ExperienceSenior:
				ps.SeniorCount++
			case model.ExperienceJunior:
				ps.JuniorCount++
			}
		}
	}
	if c, ok := ix.coverage[day]; ok {
		ps.Coverage = floatPtr(c)
	}
	return ps
}

// dayFacts 构造按日期求值的事实
func (ix *planIndex) dayFacts(day time.Time, now time.Time) *Facts {
	key := model.DayKey(day)
	return &Facts{
		Now:      now,
		Day:      day,
		HasDay:   true,
		Holiday:  ix.holidays[key],
		Planning: ix.planningStats(key),
	}
}
