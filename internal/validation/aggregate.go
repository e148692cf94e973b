// Package validation folds per-check results into domain and overall
// readiness. Every function here is pure and ignores input order.
package validation

import (
	"sort"

	"github.com/groupinstall/installportal/internal/domain"
)

// Canonical domain names.
const (
	DomainAccountSetup    = "accountSetup"
	DomainEligibilityFile = "eligibilityFile"
	DomainPlanCompliance  = "planCompliance"
)

// DefaultRequired lists the domains a case must pass before go-live.
var DefaultRequired = []string{DomainAccountSetup, DomainEligibilityFile, DomainPlanCompliance}

// FoldChecks derives a domain status. No checks means pending; otherwise
// the most severe status wins: failed > pending > warning > passed.
func FoldChecks(checks []domain.Check) domain.DomainStatus {
	if len(checks) == 0 {
		return domain.DomainPending
	}
	out := domain.DomainPassed
	for _, c := range checks {
		out = worse(out, domain.DomainStatusOf(c.Status))
	}
	return out
}

// OverallReadiness folds domain statuses with the same precedence. Every
// required name must be present; a missing one counts as pending. Unknown
// status values also count as pending.
func OverallReadiness(domains map[string]domain.DomainStatus, required []string) domain.DomainStatus {
	if len(domains) == 0 && len(required) == 0 {
		return domain.DomainPending
	}
	out := domain.DomainPassed
	for _, s := range domains {
		if !s.Valid() {
			s = domain.DomainPending
		}
		out = worse(out, s)
	}
	for _, name := range required {
		if _, ok := domains[name]; !ok {
			out = worse(out, domain.DomainPending)
		}
	}
	return out
}

// Statuses folds every validation domain of a case.
func Statuses(c domain.Case) map[string]domain.DomainStatus {
	out := make(map[string]domain.DomainStatus, len(c.Validation))
	for name, vd := range c.Validation {
		out[name] = FoldChecks(vd.Checks)
	}
	return out
}

// CaseReadiness is OverallReadiness over the case's own domains.
func CaseReadiness(c domain.Case, required []string) domain.DomainStatus {
	return OverallReadiness(Statuses(c), required)
}

// StepReady reports whether a domain status lets a wizard step count as valid.
// Warnings do not block.
func StepReady(s domain.DomainStatus) bool {
	return s == domain.DomainPassed || s == domain.DomainWarning
}

func worse(a, b domain.DomainStatus) domain.DomainStatus {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

type Summary struct {
	Total   int
	Passed  int
	Warning int
	Pending int
	Failed  int
	Failing []string
}

// Summarize counts checks by status. Failing holds the names of failed
// checks, sorted.
func Summarize(checks []domain.Check) Summary {
	s := Summary{Total: len(checks)}
	for _, c := range checks {
		switch domain.DomainStatusOf(c.Status) {
		case domain.DomainPassed:
			s.Passed++
		case domain.DomainWarning:
			s.Warning++
		case domain.DomainFailed:
			s.Failed++
			s.Failing = append(s.Failing, c.Name)
		default:
			s.Pending++
		}
	}
	sort.Strings(s.Failing)
	return s
}

// MissingDomains lists required names absent from domains, sorted.
func MissingDomains(domains map[string]domain.DomainStatus, required []string) []string {
	var out []string
	for _, name := range required {
		if _, ok := domains[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
