package caseload

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/groupinstall/installportal/internal/domain"
	"gopkg.in/yaml.v3"
)

func ToDocument(c domain.Case) Document {
	doc := Document{
		CaseID:            c.ID,
		ClientName:        c.ClientName,
		Broker:            c.Broker,
		AssignedTeam:      c.AssignedTeam,
		EffectiveDate:     c.EffectiveDate,
		SoldDate:          c.SoldDate,
		TargetInstallDate: c.TargetInstallDate,
		TotalEmployees:    c.TotalEmployees,
		Milestones:        make([]MilestoneDocument, 0, len(c.Milestones)),
	}
	for _, m := range c.Milestones {
		md := MilestoneDocument{
			ID:             m.ID,
			Name:           m.Name,
			Description:    m.Description,
			Status:         string(m.Status),
			EstimatedStart: m.EstimatedStart,
			StartedAt:      formatTimestamp(m.StartedAt),
			CompletedDate:  formatTimestamp(m.CompletedDate),
			DaysToComplete: m.DaysToComplete,
		}
		if m.ManualProgress != nil {
			p := *m.ManualProgress
			md.Progress = &p
		}
		for _, t := range m.Tasks {
			md.Tasks = append(md.Tasks, TaskDocument{
				Name:        t.Name,
				Status:      string(t.Status),
				CompletedAt: formatTimestamp(t.CompletedAt),
			})
		}
		doc.Milestones = append(doc.Milestones, md)
	}

	if len(c.Validation) > 0 {
		doc.Validation = make(map[string]DomainDocument, len(c.Validation))
		for name, vd := range c.Validation {
			dd := DomainDocument{
				Checks:      make([]CheckDocument, 0, len(vd.Checks)),
				ValidatedAt: formatTimestamp(vd.ValidatedAt),
			}
			for _, check := range vd.Checks {
				dd.Checks = append(dd.Checks, CheckDocument{Name: check.Name, Status: string(check.Status), Message: check.Message})
			}
			doc.Validation[name] = dd
		}
	}

	for _, p := range c.Plans {
		doc.Plans = append(doc.Plans, PlanDocument{
			ID:                   p.ID,
			Name:                 p.Name,
			Type:                 p.Type,
			Category:             p.Category,
			Carrier:              p.Carrier,
			MonthlyPremium:       p.MonthlyPremium,
			EmployeeContribution: p.EmployeeContribution,
			Deductible:           p.Deductible,
			OOPMax:               p.OOPMax,
			AnnualMaximum:        p.AnnualMaximum,
			EnrollmentCount:      p.EnrollmentCount,
			ComplianceStatus:     p.ComplianceStatus,
			Selected:             p.Selected,
			Features:             p.Features,
			ComplianceStates:     p.ComplianceStates,
		})
	}
	return doc
}

// Encode renders c as a JSON case document that Load accepts.
func Encode(c domain.Case) ([]byte, error) {
	out, err := json.Marshal(ToDocument(c))
	if err != nil {
		return nil, fmt.Errorf("encode case %s: %w", c.ID, err)
	}
	return out, nil
}

func EncodeYAML(c domain.Case) ([]byte, error) {
	out, err := yaml.Marshal(ToDocument(c))
	if err != nil {
		return nil, fmt.Errorf("encode case %s: %w", c.ID, err)
	}
	return out, nil
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
