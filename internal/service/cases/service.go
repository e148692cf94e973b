package cases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/groupinstall/installportal/internal/caseload"
	"github.com/groupinstall/installportal/internal/cart"
	"github.com/groupinstall/installportal/internal/domain"
	"github.com/groupinstall/installportal/internal/eligibility"
	"github.com/groupinstall/installportal/internal/milestone"
	"github.com/groupinstall/installportal/internal/platform/auditlog"
	"github.com/groupinstall/installportal/internal/repo"
	"github.com/groupinstall/installportal/internal/storage/objectstore"
	"github.com/groupinstall/installportal/internal/upload"
	"github.com/groupinstall/installportal/internal/validation"
	"github.com/groupinstall/installportal/internal/wizard"
)

const maxConflictRetries = 3

type Config struct {
	RequiredDomains   []string
	MinConfidence     float64
	UploadBucket      string
	UploadMaxBytes    int64
	ExtractionTimeout time.Duration
}

type Deps struct {
	Cases     repo.CaseRepository
	Audit     auditlog.Recorder
	Objects   objectstore.Store
	Extractor upload.Extractor
	Flows     wizard.Flows
	Logger    *slog.Logger
}

// AuditInfo identifies who asked for a change.
type AuditInfo struct {
	Actor     string
	RequestID string
}

type Service struct {
	cases     repo.CaseRepository
	audit     auditlog.Recorder
	objects   objectstore.Store
	extractor upload.Extractor
	uploads   *upload.Coordinator
	flows     wizard.Flows
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func New(deps Deps, cfg Config) *Service {
	if deps.Cases == nil {
		return nil
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = auditlog.NewMemory()
	}
	if deps.Flows == nil {
		deps.Flows = wizard.DefaultFlows()
	}
	if len(cfg.RequiredDomains) == 0 {
		cfg.RequiredDomains = append([]string(nil), validation.DefaultRequired...)
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = validation.DefaultMinConfidence
	}
	if strings.TrimSpace(cfg.UploadBucket) == "" {
		cfg.UploadBucket = "uploads"
	}
	if cfg.UploadMaxBytes <= 0 {
		cfg.UploadMaxBytes = eligibility.DefaultMaxBytes
	}
	return &Service{
		cases:     deps.Cases,
		audit:     deps.Audit,
		objects:   deps.Objects,
		extractor: deps.Extractor,
		uploads:   upload.NewCoordinator(logger, cfg.ExtractionTimeout),
		flows:     deps.Flows,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		sessions:  map[string]*session{},
	}
}

// Close stops outstanding uploads and waits for them to exit.
func (s *Service) Close() {
	s.uploads.Close()
}

func (s *Service) RequiredDomains() []string {
	return append([]string(nil), s.cfg.RequiredDomains...)
}

func (s *Service) Get(ctx context.Context, id string) (repo.StoredCase, error) {
	return s.cases.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter repo.CaseFilter) ([]repo.StoredCase, error) {
	return s.cases.List(ctx, filter)
}

// Import loads a JSON or YAML case document and stores it as a new case.
func (s *Service) Import(ctx context.Context, raw []byte, info AuditInfo) (repo.StoredCase, error) {
	c, err := caseload.Load(raw)
	if err != nil {
		return repo.StoredCase{}, err
	}
	return s.Create(ctx, c, info)
}

func (s *Service) Create(ctx context.Context, c domain.Case, info AuditInfo) (repo.StoredCase, error) {
	if err := caseload.Validate(c); err != nil {
		return repo.StoredCase{}, err
	}
	stored, err := s.cases.Create(ctx, c)
	if err != nil {
		return repo.StoredCase{}, err
	}
	s.record(ctx, info, auditlog.ActionCaseCreated, c.ID, map[string]any{
		"client_name": c.ClientName,
		"milestones":  len(c.Milestones),
		"plans":       len(c.Plans),
	})
	return stored, nil
}

// Seed stores cases that do not exist yet and reports how many were added.
func (s *Service) Seed(ctx context.Context, cases []domain.Case) (int, error) {
	added := 0
	for _, c := range cases {
		_, err := s.Create(ctx, c, AuditInfo{Actor: "seed"})
		if errors.Is(err, repo.ErrConflict) {
			continue
		}
		if err != nil {
			return added, fmt.Errorf("seed %s: %w", c.ID, err)
		}
		added++
	}
	return added, nil
}

// Transition applies one milestone or task operation.
func (s *Service) Transition(ctx context.Context, id string, t milestone.Transition, info AuditInfo) (repo.StoredCase, error) {
	var before domain.Case
	stored, err := s.mutate(ctx, id, func(c domain.Case) (domain.Case, error) {
		before = c
		return milestone.Apply(c, t, s.now())
	})
	if err != nil {
		return repo.StoredCase{}, err
	}
	payload := map[string]any{
		"kind":         string(t.Kind),
		"milestone_id": t.MilestoneID,
		"progress":     milestone.CaseProgress(stored.Case),
	}
	if t.Task != "" {
		payload["task"] = t.Task
	}
	if t.Kind == milestone.KindSetProgress {
		payload["manual_progress"] = t.Progress
	}
	if i := before.MilestoneIndex(t.MilestoneID); i >= 0 {
		payload["from"] = string(before.Milestones[i].Status)
		payload["to"] = string(stored.Case.Milestones[i].Status)
	}
	s.record(ctx, info, auditlog.ActionMilestoneTransition, id, payload)
	return stored, nil
}

// UpdateValidation replaces the checks of one validation domain. It fails
// with domain.ErrStepBusy while an upload for a wizard step bound to that
// domain is still processing; the upload's outcome owns the domain until
// it resolves.
func (s *Service) UpdateValidation(ctx context.Context, id, name string, checks []domain.Check, validatedAt *time.Time, info AuditInfo) (repo.StoredCase, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repo.StoredCase{}, fmt.Errorf("%w: validation domain name is required", domain.ErrMalformedCaseData)
	}
	if err := s.domainBusy(id, name); err != nil {
		return repo.StoredCase{}, err
	}
	return s.writeValidation(ctx, id, name, checks, validatedAt, info)
}

func (s *Service) writeValidation(ctx context.Context, id, name string, checks []domain.Check, validatedAt *time.Time, info AuditInfo) (repo.StoredCase, error) {
	stored, err := s.mutate(ctx, id, func(c domain.Case) (domain.Case, error) {
		return setDomain(c, name, checks, validatedAt, s.now()), nil
	})
	if err != nil {
		return repo.StoredCase{}, err
	}
	s.record(ctx, info, auditlog.ActionValidationUpdated, id, map[string]any{
		"domain": name,
		"status": string(validation.FoldChecks(checks)),
		"checks": len(checks),
	})
	return stored, nil
}

func setDomain(c domain.Case, name string, checks []domain.Check, validatedAt *time.Time, now time.Time) domain.Case {
	next := c.Clone()
	if next.Validation == nil {
		next.Validation = map[string]domain.ValidationDomain{}
	}
	at := now.UTC()
	if validatedAt != nil {
		at = validatedAt.UTC()
	}
	next.Validation[name] = domain.ValidationDomain{
		Name:        name,
		Checks:      append([]domain.Check(nil), checks...),
		ValidatedAt: &at,
	}
	return next
}

// TogglePlan flips the selection of one plan in the case's cart.
func (s *Service) TogglePlan(ctx context.Context, id, planID string, info AuditInfo) (repo.StoredCase, error) {
	var selected bool
	stored, err := s.mutate(ctx, id, func(c domain.Case) (domain.Case, error) {
		plans, err := cart.Toggle(c.Plans, planID)
		if err != nil {
			return c, err
		}
		next := c.Clone()
		next.Plans = plans
		selected = plans[next.PlanIndex(planID)].Selected
		return next, nil
	})
	if err != nil {
		return repo.StoredCase{}, err
	}
	summary := cart.Summarize(stored.Case.Plans, stored.Case.TotalEmployees)
	s.record(ctx, info, auditlog.ActionCartChanged, id, map[string]any{
		"plan_id":               planID,
		"selected":              selected,
		"total_monthly_premium": summary.TotalMonthlyPremium,
	})
	return stored, nil
}

func (s *Service) AuditTrail(ctx context.Context, id string, limit int) ([]auditlog.Record, error) {
	if _, err := s.cases.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, id, limit)
}

// mutate reads the case, applies fn and writes the result back, retrying
// when another writer got there first. fn must not modify its argument.
func (s *Service) mutate(ctx context.Context, id string, fn func(domain.Case) (domain.Case, error)) (repo.StoredCase, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.cases.Get(ctx, id)
		if err != nil {
			return repo.StoredCase{}, err
		}
		next, err := fn(current.Case)
		if err != nil {
			return repo.StoredCase{}, err
		}
		if err := caseload.Validate(next); err != nil {
			return repo.StoredCase{}, err
		}
		updated, err := s.cases.Update(ctx, next, current.Version)
		if errors.Is(err, repo.ErrConflict) && attempt < maxConflictRetries {
			s.logger.Debug("case update conflict, retrying", "case_id", id, "attempt", attempt)
			continue
		}
		return updated, err
	}
}

func (s *Service) record(ctx context.Context, info AuditInfo, action, caseID string, payload map[string]any) {
	_, err := s.audit.Record(ctx, auditlog.Event{
		OccurredAt: s.now().UTC(),
		Actor:      info.Actor,
		Action:     action,
		CaseID:     caseID,
		RequestID:  info.RequestID,
		Payload:    payload,
	})
	if err != nil {
		s.logger.Warn("audit append failed", "case_id", caseID, "action", action, "error", err)
	}
}
