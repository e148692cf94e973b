package cases

import (
	"context"
	"time"

	"github.com/groupinstall/installportal/internal/caseload"
	"github.com/groupinstall/installportal/internal/cart"
	"github.com/groupinstall/installportal/internal/domain"
	"github.com/groupinstall/installportal/internal/milestone"
	"github.com/groupinstall/installportal/internal/repo"
	"github.com/groupinstall/installportal/internal/validation"
	"github.com/groupinstall/installportal/internal/wizard"
)

// Overview is the dashboard view of one case. Every figure in it is derived
// from the stored case at read time.
type Overview struct {
	Case             caseload.Document   `json:"case"`
	Version          int64               `json:"version"`
	UpdatedAt        time.Time           `json:"updated_at"`
	Progress         int                 `json:"progress"`
	ProgressBand     milestone.Band      `json:"progress_band"`
	DaysRemaining    int                 `json:"days_remaining"`
	CurrentMilestone *MilestoneView      `json:"current_milestone,omitempty"`
	Milestones       []MilestoneView     `json:"milestones"`
	StatusCounts     StatusCountsView    `json:"status_counts"`
	Readiness        ReadinessView       `json:"readiness"`
	Cart             CartView            `json:"cart"`
	ActionItems      []ActionItem        `json:"action_items"`
	DataCollection   *DataCollectionView `json:"data_collection,omitempty"`
}

type MilestoneView struct {
	ID             int                    `json:"id"`
	Name           string                 `json:"name"`
	Status         domain.MilestoneStatus `json:"status"`
	Progress       int                    `json:"progress"`
	TasksCompleted int                    `json:"tasks_completed"`
	TasksTotal     int                    `json:"tasks_total"`
	DaysToComplete int                    `json:"days_to_complete,omitempty"`
}

type StatusCountsView struct {
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
}

type ReadinessView struct {
	Overall  domain.DomainStatus `json:"overall"`
	Domains  []DomainView        `json:"domains"`
	Missing  []string            `json:"missing,omitempty"`
	Required []string            `json:"required"`
}

type DomainView struct {
	Name        string              `json:"name"`
	Status      domain.DomainStatus `json:"status"`
	Total       int                 `json:"total"`
	Passed      int                 `json:"passed"`
	Warning     int                 `json:"warning"`
	Pending     int                 `json:"pending"`
	Failed      int                 `json:"failed"`
	Failing     []string            `json:"failing,omitempty"`
	Checks      []CheckView         `json:"checks"`
	ValidatedAt *time.Time          `json:"validated_at,omitempty"`
}

type CheckView struct {
	Name    string             `json:"name"`
	Status  domain.CheckStatus `json:"status"`
	Message string             `json:"message,omitempty"`
}

type CartView struct {
	TotalMonthlyPremium  domain.Money            `json:"total_monthly_premium"`
	EmployeeContribution domain.Money            `json:"employee_contribution"`
	EmployerContribution domain.Money            `json:"employer_contribution"`
	AnnualCost           domain.Money            `json:"annual_cost"`
	TotalEmployees       int                     `json:"total_employees"`
	PlanCount            int                     `json:"plan_count"`
	PlanIDs              []string                `json:"plan_ids"`
	Plans                []caseload.PlanDocument `json:"plans"`
}

// ActionItem is something the client still has to do.
type ActionItem struct {
	Kind        string `json:"kind"`
	MilestoneID int    `json:"milestone_id,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Title       string `json:"title"`
	Status      string `json:"status"`
}

const (
	ActionTask       = "task"
	ActionValidation = "validation"
)

type DataCollectionView struct {
	StepsCompleted int `json:"steps_completed"`
	TotalSteps     int `json:"total_steps"`
	Percent        int `json:"percent"`
}

func (s *Service) Overview(ctx context.Context, id string) (Overview, error) {
	stored, err := s.cases.Get(ctx, id)
	if err != nil {
		return Overview{}, err
	}
	ov := BuildOverview(stored, s.cfg.RequiredDomains, s.now())
	if dc, ok := s.sessionProgress(stored.Case.ID, wizard.FlowDataCollection); ok {
		ov.DataCollection = &dc
	} else if steps, ok := s.flows[wizard.FlowDataCollection]; ok {
		dc := derivedCollection(stored.Case, steps)
		ov.DataCollection = &dc
	}
	return ov, nil
}

func (s *Service) Readiness(ctx context.Context, id string) (ReadinessView, error) {
	stored, err := s.cases.Get(ctx, id)
	if err != nil {
		return ReadinessView{}, err
	}
	return BuildReadiness(stored.Case, s.cfg.RequiredDomains), nil
}

func (s *Service) Cart(ctx context.Context, id string) (CartView, error) {
	stored, err := s.cases.Get(ctx, id)
	if err != nil {
		return CartView{}, err
	}
	return BuildCart(stored.Case), nil
}

// BuildOverview derives the dashboard for a stored case as of now.
func BuildOverview(stored repo.StoredCase, required []string, now time.Time) Overview {
	c := stored.Case
	progress := milestone.CaseProgress(c)
	counts := milestone.Counts(c)
	ov := Overview{
		Case:          caseload.ToDocument(c),
		Version:       stored.Version,
		UpdatedAt:     stored.UpdatedAt,
		Progress:      progress,
		ProgressBand:  milestone.ProgressBand(progress),
		DaysRemaining: domain.DaysUntil(c.TargetInstallDate, now),
		Milestones:    make([]MilestoneView, 0, len(c.Milestones)),
		StatusCounts: StatusCountsView{
			Completed:  counts.Completed,
			InProgress: counts.InProgress,
			Pending:    counts.Pending,
		},
		Readiness: BuildReadiness(c, required),
		Cart:      BuildCart(c),
	}
	for _, m := range c.Milestones {
		mv := milestoneView(m)
		ov.Milestones = append(ov.Milestones, mv)
		if m.Status == domain.MilestoneInProgress {
			current := mv
			ov.CurrentMilestone = &current
		}
	}
	ov.ActionItems = ActionItems(c, ov.Readiness)
	return ov
}

func milestoneView(m domain.Milestone) MilestoneView {
	mv := MilestoneView{
		ID:             m.ID,
		Name:           m.Name,
		Status:         m.Status,
		Progress:       milestone.MilestoneProgress(m),
		TasksTotal:     len(m.Tasks),
		DaysToComplete: m.DaysToComplete,
	}
	for _, t := range m.Tasks {
		if t.Status == domain.TaskCompleted {
			mv.TasksCompleted++
		}
	}
	return mv
}

func BuildReadiness(c domain.Case, required []string) ReadinessView {
	statuses := validation.Statuses(c)
	rv := ReadinessView{
		Overall:  validation.OverallReadiness(statuses, required),
		Domains:  make([]DomainView, 0, len(c.Validation)),
		Missing:  validation.MissingDomains(statuses, required),
		Required: append([]string{}, required...),
	}
	for _, name := range c.ValidationNames() {
		vd := c.Validation[name]
		sum := validation.Summarize(vd.Checks)
		dv := DomainView{
			Name:        name,
			Status:      statuses[name],
			Total:       sum.Total,
			Passed:      sum.Passed,
			Warning:     sum.Warning,
			Pending:     sum.Pending,
			Failed:      sum.Failed,
			Failing:     sum.Failing,
			Checks:      make([]CheckView, 0, len(vd.Checks)),
			ValidatedAt: vd.ValidatedAt,
		}
		for _, check := range vd.Checks {
			dv.Checks = append(dv.Checks, CheckView{Name: check.Name, Status: check.Status, Message: check.Message})
		}
		rv.Domains = append(rv.Domains, dv)
	}
	return rv
}

func BuildCart(c domain.Case) CartView {
	sum := cart.Summarize(c.Plans, c.TotalEmployees)
	doc := caseload.ToDocument(c)
	cv := CartView{
		TotalMonthlyPremium:  sum.TotalMonthlyPremium,
		EmployeeContribution: sum.EmployeeContribution,
		EmployerContribution: sum.EmployerContribution,
		AnnualCost:           sum.AnnualCost,
		TotalEmployees:       sum.TotalEmployees,
		PlanCount:            sum.PlanCount,
		PlanIDs:              sum.PlanIDs,
		Plans:                doc.Plans,
	}
	if cv.PlanIDs == nil {
		cv.PlanIDs = []string{}
	}
	if cv.Plans == nil {
		cv.Plans = []caseload.PlanDocument{}
	}
	return cv
}

// ActionItems lists the open tasks of the current milestone followed by one
// item per validation domain that has not passed, including missing
// required domains.
func ActionItems(c domain.Case, readiness ReadinessView) []ActionItem {
	out := []ActionItem{}
	for _, t := range milestone.OpenTasks(c) {
		out = append(out, ActionItem{
			Kind:        ActionTask,
			MilestoneID: t.MilestoneID,
			Title:       t.Task,
			Status:      string(t.Status),
		})
	}
	for _, d := range readiness.Domains {
		if d.Status == domain.DomainPassed {
			continue
		}
		out = append(out, ActionItem{
			Kind:   ActionValidation,
			Domain: d.Name,
			Title:  "Resolve " + d.Name + " validation",
			Status: string(d.Status),
		})
	}
	for _, name := range readiness.Missing {
		out = append(out, ActionItem{
			Kind:   ActionValidation,
			Domain: name,
			Title:  "Provide " + name + " data",
			Status: string(domain.DomainPending),
		})
	}
	return out
}

// derivedCollection estimates data-collection progress with no live
// session: a step counts as done when its validation domain is ready.
func derivedCollection(c domain.Case, steps []wizard.Step) DataCollectionView {
	statuses := validation.Statuses(c)
	done := 0
	for _, step := range steps {
		if step.Domain == "" {
			continue
		}
		if st, ok := statuses[step.Domain]; ok && validation.StepReady(st) {
			done++
		}
	}
	return collectionView(done, len(steps))
}

func collectionView(done, total int) DataCollectionView {
	v := DataCollectionView{StepsCompleted: done, TotalSteps: total}
	if total > 0 {
		v.Percent = (200*done + total) / (2 * total)
	}
	return v
}
