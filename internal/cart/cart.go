// Package cart prices the set of selected benefit plans.
package cart

import (
	"fmt"
	"sort"

	"github.com/groupinstall/installportal/internal/domain"
)

const monthsPerYear = 12

// Summarize recomputes the cart from scratch over the selected plans. Each
// plan's premium counts once; enrollment counts are informational.
// totalEmployees is the census count supplied by the caller.
func Summarize(plans []domain.Plan, totalEmployees int) domain.CartSummary {
	var s domain.CartSummary
	s.TotalEmployees = totalEmployees
	for _, p := range plans {
		if !p.Selected {
			continue
		}
		s.TotalMonthlyPremium += p.MonthlyPremium
		s.EmployeeContribution += p.EmployeeContribution
		s.PlanCount++
		s.PlanIDs = append(s.PlanIDs, p.ID)
	}
	s.EmployerContribution = s.TotalMonthlyPremium - s.EmployeeContribution
	s.AnnualCost = s.TotalMonthlyPremium.Times(monthsPerYear)
	sort.Strings(s.PlanIDs)
	return s
}

// Toggle flips the selection of plan id and returns a new plan slice.
// The input slice is not modified.
func Toggle(plans []domain.Plan, id string) ([]domain.Plan, error) {
	return SetSelected(plans, id, nil)
}

// SetSelected sets the selection of plan id. A nil selected flips it.
func SetSelected(plans []domain.Plan, id string, selected *bool) ([]domain.Plan, error) {
	idx := -1
	for i, p := range plans {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return plans, fmt.Errorf("%w: %q", domain.ErrPlanNotFound, id)
	}
	out := make([]domain.Plan, len(plans))
	for i, p := range plans {
		out[i] = p.Clone()
	}
	if selected == nil {
		out[idx].Selected = !out[idx].Selected
	} else {
		out[idx].Selected = *selected
	}
	return out, nil
}

// ByCategory groups selected plans by category for display, each group sorted by id.
func ByCategory(plans []domain.Plan) map[string][]domain.Plan {
	out := map[string][]domain.Plan{}
	for _, p := range plans {
		if !p.Selected {
			continue
		}
		key := p.Category
		if key == "" {
			key = p.Type
		}
		out[key] = append(out[key], p)
	}
	for k := range out {
		group := out[k]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	}
	return out
}
