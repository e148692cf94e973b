package domain

import "strings"

// MilestoneStatus is the lifecycle of a milestone. Tasks share the same states.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
)

type TaskStatus = MilestoneStatus

const (
	TaskPending    = MilestonePending
	TaskInProgress = MilestoneInProgress
	TaskCompleted  = MilestoneCompleted
)

func (s MilestoneStatus) Valid() bool {
	return s.order() > 0
}

// CanTransition enforces pending -> in_progress -> completed.
// Skipping in_progress is allowed, going back is not.
func (s MilestoneStatus) CanTransition(next MilestoneStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return s.order() < next.order()
}

func (s MilestoneStatus) order() int {
	switch s {
	case MilestonePending:
		return 1
	case MilestoneInProgress:
		return 2
	case MilestoneCompleted:
		return 3
	default:
		return 0
	}
}

// CheckStatus is the result of a single validation check.
type CheckStatus string

const (
	CheckPending CheckStatus = "pending"
	CheckWarning CheckStatus = "warning"
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
)

func (s CheckStatus) Valid() bool {
	switch s {
	case CheckPending, CheckWarning, CheckPassed, CheckFailed:
		return true
	default:
		return false
	}
}

// DomainStatus is the folded status of a validation domain, or of all of them.
type DomainStatus string

const (
	DomainPending DomainStatus = "pending"
	DomainWarning DomainStatus = "warning"
	DomainPassed  DomainStatus = "passed"
	DomainFailed  DomainStatus = "failed"
)

func (s DomainStatus) Valid() bool {
	return s.Severity() > 0
}

// Severity orders statuses for folding: failed > pending > warning > passed.
// Unknown values rank 0.
func (s DomainStatus) Severity() int {
	switch s {
	case DomainPassed:
		return 1
	case DomainWarning:
		return 2
	case DomainPending:
		return 3
	case DomainFailed:
		return 4
	default:
		return 0
	}
}

// DomainStatusOf lifts a check status into the domain status space.
func DomainStatusOf(s CheckStatus) DomainStatus {
	switch s {
	case CheckPassed:
		return DomainPassed
	case CheckWarning:
		return DomainWarning
	case CheckFailed:
		return DomainFailed
	default:
		return DomainPending
	}
}

func ParseMilestoneStatus(value string) (MilestoneStatus, bool) {
	s := MilestoneStatus(normalize(value))
	if s == "inprogress" || s == "in-progress" {
		s = MilestoneInProgress
	}
	return s, s.Valid()
}

func ParseCheckStatus(value string) (CheckStatus, bool) {
	s := CheckStatus(normalize(value))
	return s, s.Valid()
}

func ParseDomainStatus(value string) (DomainStatus, bool) {
	s := DomainStatus(normalize(value))
	return s, s.Valid()
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
