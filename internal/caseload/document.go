package caseload

import "github.com/groupinstall/installportal/internal/domain"

// Document is the wire shape of a case, shared by JSON and YAML.
// Derived values (progress, domain status, cart totals) are not part of it.
type Document struct {
	CaseID            string                    `json:"case_id" yaml:"case_id"`
	ClientName        string                    `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	Broker            string                    `json:"broker,omitempty" yaml:"broker,omitempty"`
	AssignedTeam      string                    `json:"assigned_team,omitempty" yaml:"assigned_team,omitempty"`
	EffectiveDate     domain.Date               `json:"effective_date" yaml:"effective_date,omitempty"`
	SoldDate          domain.Date               `json:"sold_date" yaml:"sold_date,omitempty"`
	TargetInstallDate domain.Date               `json:"target_install_date" yaml:"target_install_date"`
	TotalEmployees    int                       `json:"total_employees" yaml:"total_employees"`
	Milestones        []MilestoneDocument       `json:"milestones" yaml:"milestones"`
	Validation        map[string]DomainDocument `json:"validation,omitempty" yaml:"validation,omitempty"`
	Plans             []PlanDocument            `json:"plans,omitempty" yaml:"plans,omitempty"`
}

type MilestoneDocument struct {
	ID             int            `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty"`
	Status         string         `json:"status" yaml:"status"`
	Progress       *int           `json:"progress,omitempty" yaml:"progress,omitempty"`
	EstimatedStart domain.Date    `json:"estimated_start" yaml:"estimated_start,omitempty"`
	StartedAt      string         `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedDate  string         `json:"completed_date,omitempty" yaml:"completed_date,omitempty"`
	DaysToComplete int            `json:"days_to_complete,omitempty" yaml:"days_to_complete,omitempty"`
	Tasks          []TaskDocument `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

type TaskDocument struct {
	Name        string `json:"name" yaml:"name"`
	Status      string `json:"status" yaml:"status"`
	CompletedAt string `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

type DomainDocument struct {
	Checks      []CheckDocument `json:"checks" yaml:"checks"`
	ValidatedAt string          `json:"validated_at,omitempty" yaml:"validated_at,omitempty"`
}

type CheckDocument struct {
	Name    string `json:"name" yaml:"name"`
	Status  string `json:"status" yaml:"status"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

type PlanDocument struct {
	ID                   string        `json:"id" yaml:"id"`
	Name                 string        `json:"name" yaml:"name"`
	Type                 string        `json:"type,omitempty" yaml:"type,omitempty"`
	Category             string        `json:"category,omitempty" yaml:"category,omitempty"`
	Carrier              string        `json:"carrier,omitempty" yaml:"carrier,omitempty"`
	MonthlyPremium       domain.Money  `json:"monthly_premium" yaml:"monthly_premium"`
	EmployeeContribution domain.Money  `json:"employee_contribution" yaml:"employee_contribution"`
	Deductible           *domain.Money `json:"deductible,omitempty" yaml:"deductible,omitempty"`
	OOPMax               *domain.Money `json:"oop_max,omitempty" yaml:"oop_max,omitempty"`
	AnnualMaximum        *domain.Money `json:"annual_maximum,omitempty" yaml:"annual_maximum,omitempty"`
	EnrollmentCount      int           `json:"enrollment_count" yaml:"enrollment_count"`
	ComplianceStatus     string        `json:"compliance_status,omitempty" yaml:"compliance_status,omitempty"`
	Selected             bool          `json:"selected" yaml:"selected"`
	Features             []string      `json:"features,omitempty" yaml:"features,omitempty"`
	ComplianceStates     []string      `json:"compliance_states,omitempty" yaml:"compliance_states,omitempty"`
}
