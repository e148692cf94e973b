package domain

import (
	"sort"
	"time"
)

// Case is one employer-group benefits installation. Progress, days remaining
// and readiness are derived from it and never stored on it.
type Case struct {
	ID                string
	ClientName        string
	Broker            string
	AssignedTeam      string
	EffectiveDate     Date
	SoldDate          Date
	TargetInstallDate Date
	TotalEmployees    int
	Milestones        []Milestone
	Validation        map[string]ValidationDomain
	Plans             []Plan
}

type Milestone struct {
	ID             int
	Name           string
	Description    string
	Status         MilestoneStatus
	ManualProgress *int
	EstimatedStart Date
	StartedAt      *time.Time
	CompletedDate  *time.Time
	DaysToComplete int
	Tasks          []Task
}

type Task struct {
	Name        string
	Status      TaskStatus
	CompletedAt *time.Time
}

type ValidationDomain struct {
	Name        string
	Checks      []Check
	ValidatedAt *time.Time
}

type Check struct {
	Name    string
	Status  CheckStatus
	Message string
}

type Plan struct {
	ID                   string
	Name                 string
	Type                 string
	Category             string
	Carrier              string
	MonthlyPremium       Money
	EmployeeContribution Money
	Deductible           *Money
	OOPMax               *Money
	AnnualMaximum        *Money
	EnrollmentCount      int
	ComplianceStatus     string
	Selected             bool
	Features             []string
	ComplianceStates     []string
}

func (p Plan) EmployerContribution() Money {
	return p.MonthlyPremium - p.EmployeeContribution
}

type CartSummary struct {
	TotalMonthlyPremium  Money
	EmployeeContribution Money
	EmployerContribution Money
	AnnualCost           Money
	TotalEmployees       int
	PlanCount            int
	PlanIDs              []string
}

// FlaggedRecord is one eligibility row the extraction service could not accept.
type FlaggedRecord struct {
	Row    int
	Field  string
	Reason string
}

// ExtractionSummary is what the upload/extraction service reports back.
type ExtractionSummary struct {
	RecordsProcessed int
	Confidence       float64
	Flagged          []FlaggedRecord
	DataQuality      string
}

// CurrentMilestone returns the unique in-progress milestone, if any.
func CurrentMilestone(c Case) (Milestone, bool) {
	for _, m := range c.Milestones {
		if m.Status == MilestoneInProgress {
			return m, true
		}
	}
	return Milestone{}, false
}

// MilestoneIndex returns the slice position of milestone id, or -1.
func (c Case) MilestoneIndex(id int) int {
	for i, m := range c.Milestones {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (c Case) PlanIndex(id string) int {
	for i, p := range c.Plans {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// ValidationNames returns the validation domain names in sorted order.
func (c Case) ValidationNames() []string {
	names := make([]string, 0, len(c.Validation))
	for name := range c.Validation {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy so transitions can be tried without touching c.
func (c Case) Clone() Case {
	out := c
	if c.Milestones != nil {
		out.Milestones = make([]Milestone, len(c.Milestones))
		for i, m := range c.Milestones {
			out.Milestones[i] = m.Clone()
		}
	}
	if c.Validation != nil {
		out.Validation = make(map[string]ValidationDomain, len(c.Validation))
		for k, v := range c.Validation {
			out.Validation[k] = v.Clone()
		}
	}
	if c.Plans != nil {
		out.Plans = make([]Plan, len(c.Plans))
		for i, p := range c.Plans {
			out.Plans[i] = p.Clone()
		}
	}
	return out
}

func (m Milestone) Clone() Milestone {
	out := m
	out.ManualProgress = cloneInt(m.ManualProgress)
	out.StartedAt = cloneTime(m.StartedAt)
	out.CompletedDate = cloneTime(m.CompletedDate)
	if m.Tasks != nil {
		out.Tasks = make([]Task, len(m.Tasks))
		for i, t := range m.Tasks {
			t.CompletedAt = cloneTime(t.CompletedAt)
			out.Tasks[i] = t
		}
	}
	return out
}

func (v ValidationDomain) Clone() ValidationDomain {
	out := v
	out.ValidatedAt = cloneTime(v.ValidatedAt)
	if v.Checks != nil {
		out.Checks = append([]Check(nil), v.Checks...)
	}
	return out
}

func (p Plan) Clone() Plan {
	out := p
	out.Deductible = cloneMoney(p.Deductible)
	out.OOPMax = cloneMoney(p.OOPMax)
	out.AnnualMaximum = cloneMoney(p.AnnualMaximum)
	if p.Features != nil {
		out.Features = append([]string(nil), p.Features...)
	}
	if p.ComplianceStates != nil {
		out.ComplianceStates = append([]string(nil), p.ComplianceStates...)
	}
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneMoney(v *Money) *Money {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
