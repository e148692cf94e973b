package caseload

import (
	"github.com/groupinstall/installportal/internal/domain"
	"github.com/groupinstall/installportal/internal/milestone"
)

// Validate checks the invariants a loaded case must satisfy.
func Validate(c domain.Case) error {
	if err := milestone.CheckInvariants(c); err != nil {
		return malformed("%v", err)
	}
	for _, m := range c.Milestones {
		if m.ManualProgress == nil || len(m.Tasks) > 0 {
			continue
		}
		if m.Status != domain.MilestoneInProgress {
			return malformed("milestone %d: progress only applies while in_progress", m.ID)
		}
		if p := *m.ManualProgress; p < 0 || p > 100 {
			return malformed("milestone %d: progress %d outside 0..100", m.ID, p)
		}
	}

	for name, vd := range c.Validation {
		for _, check := range vd.Checks {
			if check.Name == "" {
				return malformed("validation %s: check name is required", name)
			}
			if !check.Status.Valid() {
				return malformed("validation %s check %q: unknown status %q", name, check.Name, check.Status)
			}
		}
	}

	seen := make(map[string]bool, len(c.Plans))
	for _, p := range c.Plans {
		if p.ID == "" {
			return malformed("plan id is required")
		}
		if seen[p.ID] {
			return malformed("duplicate plan id %q", p.ID)
		}
		seen[p.ID] = true
		if p.MonthlyPremium < 0 {
			return malformed("plan %s: monthly_premium must be >= 0", p.ID)
		}
		if p.EmployeeContribution < 0 || p.EmployeeContribution > p.MonthlyPremium {
			return malformed("plan %s: employee_contribution %s outside 0..%s", p.ID, p.EmployeeContribution, p.MonthlyPremium)
		}
		if p.EnrollmentCount < 0 {
			return malformed("plan %s: enrollment_count must be >= 0", p.ID)
		}
	}
	return nil
}
