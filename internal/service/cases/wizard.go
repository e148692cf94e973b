package cases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/groupinstall/installportal/internal/domain"
	"github.com/groupinstall/installportal/internal/platform/auditlog"
	"github.com/groupinstall/installportal/internal/upload"
	"github.com/groupinstall/installportal/internal/validation"
	"github.com/groupinstall/installportal/internal/wizard"
)

var ErrSessionNotFound = errors.New("wizard session not found")

type session struct {
	mu      sync.Mutex
	caseID  string
	flow    string
	nav     *wizard.Navigator
	uploads map[int]upload.Record

	// resolving is held across an upload's resolution and the domain write
	// that follows, so writes land in operation order.
	resolving sync.Mutex
}

// WizardView is a session's navigator state plus its upload records.
type WizardView struct {
	CaseID string `json:"case_id"`
	Flow   string `json:"flow"`
	wizard.State
	CurrentStep wizard.Step        `json:"current_step"`
	Progress    DataCollectionView `json:"progress"`
	Uploads     []upload.Record    `json:"uploads,omitempty"`
}

func sessionKey(caseID, flow string) string {
	return strings.TrimSpace(caseID) + "/" + strings.TrimSpace(flow)
}

// StartWizard opens the session for (case, flow), or returns the existing
// one. Steps bound to a validation domain that is already ready start valid.
func (s *Service) StartWizard(ctx context.Context, caseID, flow string) (WizardView, error) {
	stored, err := s.cases.Get(ctx, caseID)
	if err != nil {
		return WizardView{}, err
	}
	key := sessionKey(stored.Case.ID, flow)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.view(), nil
	}

	nav, err := s.flows.Start(flow)
	if err != nil {
		return WizardView{}, err
	}
	statuses := validation.Statuses(stored.Case)
	for i, step := range nav.Steps() {
		if step.Domain == "" {
			continue
		}
		if st, ok := statuses[step.Domain]; ok && validation.StepReady(st) {
			if err := nav.MarkStepValid(i); err != nil {
				return WizardView{}, err
			}
		}
	}
	sess := &session{caseID: stored.Case.ID, flow: flow, nav: nav, uploads: map[int]upload.Record{}}
	s.sessions[key] = sess
	s.logger.Info("wizard session started", "case_id", stored.Case.ID, "flow", flow)
	return sess.view(), nil
}

func (s *Service) session(caseID, flow string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey(caseID, flow)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrSessionNotFound, caseID, flow)
	}
	return sess, nil
}

// withSession runs fn while holding the session's lock and returns the
// resulting view. fn's error is returned as is.
func (s *Service) withSession(caseID, flow string, fn func(*session) error) (WizardView, error) {
	sess, err := s.session(caseID, flow)
	if err != nil {
		return WizardView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if fn != nil {
		if err := fn(sess); err != nil {
			return WizardView{}, err
		}
	}
	return sess.view(), nil
}

func (s *Service) WizardState(caseID, flow string) (WizardView, error) {
	return s.withSession(caseID, flow, nil)
}

func (s *Service) WizardNext(caseID, flow string) (WizardView, error) {
	return s.withSession(caseID, flow, func(sess *session) error { return sess.nav.Next() })
}

func (s *Service) WizardPrevious(caseID, flow string) (WizardView, error) {
	return s.withSession(caseID, flow, func(sess *session) error { return sess.nav.Previous() })
}

func (s *Service) WizardJump(caseID, flow string, index int) (WizardView, error) {
	return s.withSession(caseID, flow, func(sess *session) error { return sess.nav.JumpTo(index) })
}

func (s *Service) WizardMarkStep(caseID, flow string, index int, valid bool) (WizardView, error) {
	return s.withSession(caseID, flow, func(sess *session) error {
		if valid {
			return sess.nav.MarkStepValid(index)
		}
		return sess.nav.MarkStepInvalid(index)
	})
}

// SubmitWizard completes the flow once every step is valid and records it
// in the case's audit trail.
func (s *Service) SubmitWizard(ctx context.Context, caseID, flow string, info AuditInfo) (WizardView, error) {
	return s.withSession(caseID, flow, func(sess *session) error {
		return sess.nav.Submit(func(st wizard.State) error {
			s.record(ctx, info, auditlog.ActionWizardSubmitted, sess.caseID, map[string]any{
				"flow":  sess.flow,
				"steps": len(st.Steps),
			})
			return nil
		})
	})
}

// CloseWizard discards a session and cancels its outstanding uploads.
func (s *Service) CloseWizard(caseID, flow string) error {
	s.mu.Lock()
	key := sessionKey(caseID, flow)
	sess, ok := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrSessionNotFound, caseID, flow)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i := 0; i < sess.nav.Len(); i++ {
		s.uploads.Cancel(uploadKey(sess.caseID, sess.flow, i))
	}
	return nil
}

// domainBusy reports domain.ErrStepBusy when an open session of the case
// has a processing step bound to the named validation domain.
func (s *Service) domainBusy(caseID, name string) error {
	caseID = strings.TrimSpace(caseID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.caseID != caseID {
			continue
		}
		sess.mu.Lock()
		for i, step := range sess.nav.Steps() {
			if step.Domain == name && sess.nav.Processing(i) {
				sess.mu.Unlock()
				return fmt.Errorf("%w: %s is processing an upload for %s", domain.ErrStepBusy, step.Key, name)
			}
		}
		sess.mu.Unlock()
	}
	return nil
}

func (s *Service) sessionProgress(caseID, flow string) (DataCollectionView, bool) {
	sess, err := s.session(caseID, flow)
	if err != nil {
		return DataCollectionView{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.progress(), true
}

func (sess *session) progress() DataCollectionView {
	st := sess.nav.State()
	return collectionView(len(st.Completed), len(st.Steps))
}

func (sess *session) view() WizardView {
	v := WizardView{
		CaseID:      sess.caseID,
		Flow:        sess.flow,
		State:       sess.nav.State(),
		CurrentStep: sess.nav.CurrentStep(),
		Progress:    sess.progress(),
	}
	for i := 0; i < sess.nav.Len(); i++ {
		if rec, ok := sess.uploads[i]; ok {
			v.Uploads = append(v.Uploads, rec)
		}
	}
	return v
}
