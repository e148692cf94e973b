// Package caseload turns raw case documents into validated domain cases and back.
package caseload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/groupinstall/installportal/internal/domain"
	"gopkg.in/yaml.v3"
)

// Load decodes one case from JSON or YAML and checks every model invariant.
// All failures wrap domain.ErrMalformedCaseData.
func Load(raw []byte) (domain.Case, error) {
	doc, err := decode(raw)
	if err != nil {
		return domain.Case{}, malformed("%v", err)
	}
	return FromDocument(doc)
}

// LoadAll decodes a stream of cases. JSON input is a single object or an
// array; YAML input is one case per document separated by ---.
func LoadAll(raw []byte) ([]domain.Case, error) {
	trimmed := bytes.TrimSpace(raw)
	var docs []Document
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := decodeJSON(trimmed, &docs); err != nil {
			return nil, malformed("%v", err)
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		var doc Document
		if err := decodeJSON(trimmed, &doc); err != nil {
			return nil, malformed("%v", err)
		}
		docs = append(docs, doc)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		for {
			var doc Document
			err := dec.Decode(&doc)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, malformed("decode yaml: %v", err)
			}
			docs = append(docs, doc)
		}
	}

	out := make([]domain.Case, 0, len(docs))
	seen := map[string]bool{}
	for i, doc := range docs {
		c, err := FromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("case %d: %w", i, err)
		}
		if seen[c.ID] {
			return nil, malformed("duplicate case id %q", c.ID)
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out, nil
}

func LoadFile(path string) ([]domain.Case, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return LoadAll(raw)
}

func decode(raw []byte) (Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Document{}, errors.New("empty document")
	}
	var doc Document
	if trimmed[0] == '{' {
		if err := decodeJSON(trimmed, &doc); err != nil {
			return Document{}, err
		}
		return doc, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(trimmed))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode yaml: %w", err)
	}
	return doc, nil
}

func decodeJSON(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("decode json: unexpected trailing data")
	}
	return nil
}

// FromDocument maps a decoded document into a domain case.
func FromDocument(doc Document) (domain.Case, error) {
	c := domain.Case{
		ID:                strings.TrimSpace(doc.CaseID),
		ClientName:        strings.TrimSpace(doc.ClientName),
		Broker:            strings.TrimSpace(doc.Broker),
		AssignedTeam:      strings.TrimSpace(doc.AssignedTeam),
		EffectiveDate:     doc.EffectiveDate,
		SoldDate:          doc.SoldDate,
		TargetInstallDate: doc.TargetInstallDate,
		TotalEmployees:    doc.TotalEmployees,
	}
	if c.ID == "" {
		return domain.Case{}, malformed("case_id is required")
	}
	if c.TargetInstallDate.IsZero() {
		return domain.Case{}, malformed("target_install_date is required")
	}
	if c.TotalEmployees < 0 {
		return domain.Case{}, malformed("total_employees must be >= 0")
	}

	milestones, err := milestonesFromDocument(doc.Milestones)
	if err != nil {
		return domain.Case{}, err
	}
	c.Milestones = milestones

	if len(doc.Validation) > 0 {
		c.Validation = make(map[string]domain.ValidationDomain, len(doc.Validation))
		for name, d := range doc.Validation {
			vd, err := domainFromDocument(name, d)
			if err != nil {
				return domain.Case{}, err
			}
			c.Validation[vd.Name] = vd
		}
	}

	plans, err := plansFromDocument(doc.Plans)
	if err != nil {
		return domain.Case{}, err
	}
	c.Plans = plans

	if err := Validate(c); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

func milestonesFromDocument(docs []MilestoneDocument) ([]domain.Milestone, error) {
	out := make([]domain.Milestone, 0, len(docs))
	for _, md := range docs {
		status, ok := domain.ParseMilestoneStatus(md.Status)
		if !ok {
			return nil, malformed("milestone %d: unknown status %q", md.ID, md.Status)
		}
		m := domain.Milestone{
			ID:             md.ID,
			Name:           strings.TrimSpace(md.Name),
			Description:    strings.TrimSpace(md.Description),
			Status:         status,
			EstimatedStart: md.EstimatedStart,
			DaysToComplete: md.DaysToComplete,
		}
		// Milestones with tasks derive their progress; a supplied value is dropped.
		if md.Progress != nil && len(md.Tasks) == 0 {
			p := *md.Progress
			m.ManualProgress = &p
		}
		if m.StartedAt, ok = parseTimestamp(md.StartedAt); !ok {
			return nil, malformed("milestone %d: bad started_at %q", md.ID, md.StartedAt)
		}
		if m.CompletedDate, ok = parseTimestamp(md.CompletedDate); !ok {
			return nil, malformed("milestone %d: bad completed_date %q", md.ID, md.CompletedDate)
		}
		for _, td := range md.Tasks {
			ts, ok := domain.ParseMilestoneStatus(td.Status)
			if !ok {
				return nil, malformed("milestone %d task %q: unknown status %q", md.ID, td.Name, td.Status)
			}
			task := domain.Task{Name: strings.TrimSpace(td.Name), Status: ts}
			if task.CompletedAt, ok = parseTimestamp(td.CompletedAt); !ok {
				return nil, malformed("milestone %d task %q: bad completed_at %q", md.ID, td.Name, td.CompletedAt)
			}
			m.Tasks = append(m.Tasks, task)
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func domainFromDocument(name string, d DomainDocument) (domain.ValidationDomain, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ValidationDomain{}, malformed("validation domain name is required")
	}
	vd := domain.ValidationDomain{Name: name}
	var ok bool
	if vd.ValidatedAt, ok = parseTimestamp(d.ValidatedAt); !ok {
		return domain.ValidationDomain{}, malformed("validation %s: bad validated_at %q", name, d.ValidatedAt)
	}
	for _, cd := range d.Checks {
		status, ok := domain.ParseCheckStatus(cd.Status)
		if !ok {
			return domain.ValidationDomain{}, malformed("validation %s check %q: unknown status %q", name, cd.Name, cd.Status)
		}
		vd.Checks = append(vd.Checks, domain.Check{
			Name:    strings.TrimSpace(cd.Name),
			Status:  status,
			Message: cd.Message,
		})
	}
	return vd, nil
}

func plansFromDocument(docs []PlanDocument) ([]domain.Plan, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]domain.Plan, 0, len(docs))
	for _, pd := range docs {
		out = append(out, domain.Plan{
			ID:                   strings.TrimSpace(pd.ID),
			Name:                 strings.TrimSpace(pd.Name),
			Type:                 strings.TrimSpace(pd.Type),
			Category:             strings.TrimSpace(pd.Category),
			Carrier:              strings.TrimSpace(pd.Carrier),
			MonthlyPremium:       pd.MonthlyPremium,
			EmployeeContribution: pd.EmployeeContribution,
			Deductible:           pd.Deductible,
			OOPMax:               pd.OOPMax,
			AnnualMaximum:        pd.AnnualMaximum,
			EnrollmentCount:      pd.EnrollmentCount,
			ComplianceStatus:     strings.TrimSpace(pd.ComplianceStatus),
			Selected:             pd.Selected,
			Features:             pd.Features,
			ComplianceStates:     pd.ComplianceStates,
		})
	}
	return out, nil
}

// parseTimestamp accepts RFC 3339, a zoneless local timestamp read as UTC,
// or a bare date (midnight UTC). Empty is nil.
func parseTimestamp(value string) (*time.Time, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, true
		}
	}
	if d, err := domain.ParseDate(s); err == nil {
		t := d.In(time.UTC)
		return &t, true
	}
	return nil, false
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedCaseData, fmt.Sprintf(format, args...))
}
