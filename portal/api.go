package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/groupinstall/installportal/internal/caseload"
	"github.com/groupinstall/installportal/internal/domain"
	"github.com/groupinstall/installportal/internal/eligibility"
	"github.com/groupinstall/installportal/internal/milestone"
	"github.com/groupinstall/installportal/internal/platform/auth"
	"github.com/groupinstall/installportal/internal/platform/httpserver"
	"github.com/groupinstall/installportal/internal/repo"
	casesvc "github.com/groupinstall/installportal/internal/service/cases"
	"github.com/groupinstall/installportal/internal/upload"
	"github.com/groupinstall/installportal/internal/validation"
	"github.com/groupinstall/installportal/internal/wizard"
)

const maxDocumentBytes = 1 << 20

type portalAPI struct {
	logger         *slog.Logger
	service        *casesvc.Service
	uploadMaxBytes int64
}

func newPortalAPI(logger *slog.Logger, service *casesvc.Service, uploadMaxBytes int64) *portalAPI {
	return &portalAPI{
		logger:         logger,
		service:        service,
		uploadMaxBytes: uploadMaxBytes,
	}
}

func (api *portalAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /cases", api.handleListCases)
	mux.HandleFunc("POST /cases", api.handleImportCase)
	mux.HandleFunc("GET /cases/{case_id}", api.handleGetCase)
	mux.HandleFunc("GET /cases/{case_id}/export", api.handleExportCase)
	mux.HandleFunc("GET /cases/{case_id}/audit", api.handleAuditTrail)

	mux.HandleFunc("POST /cases/{case_id}/milestones/{milestone_id}/{action}", api.handleMilestoneAction)
	mux.HandleFunc("PUT /cases/{case_id}/milestones/{milestone_id}/progress", api.handleSetProgress)
	mux.HandleFunc("POST /cases/{case_id}/milestones/{milestone_id}/tasks/{task}/{action}", api.handleTaskAction)

	mux.HandleFunc("GET /cases/{case_id}/readiness", api.handleReadiness)
	mux.HandleFunc("PUT /cases/{case_id}/validation/{domain}", api.handleUpdateValidation)

	mux.HandleFunc("GET /cases/{case_id}/cart", api.handleCart)
	mux.HandleFunc("POST /cases/{case_id}/cart/plans/{plan_id}/toggle", api.handleTogglePlan)

	mux.HandleFunc("POST /cases/{case_id}/wizards/{flow}", api.handleStartWizard)
	mux.HandleFunc("GET /cases/{case_id}/wizards/{flow}", api.handleWizardState)
	mux.HandleFunc("DELETE /cases/{case_id}/wizards/{flow}", api.handleCloseWizard)
	mux.HandleFunc("POST /cases/{case_id}/wizards/{flow}/{action}", api.handleWizardAction)
	mux.HandleFunc("POST /cases/{case_id}/wizards/{flow}/jump/{index}", api.handleWizardJump)
	mux.HandleFunc("POST /cases/{case_id}/wizards/{flow}/steps/{index}/{action}", api.handleWizardMark)
	mux.HandleFunc("POST /cases/{case_id}/wizards/{flow}/steps/{index}/upload", api.handleUpload)
	mux.HandleFunc("GET /cases/{case_id}/wizards/{flow}/steps/{index}/upload", api.handleUploadStatus)
}

type caseSummary struct {
	CaseID       string              `json:"case_id"`
	ClientName   string              `json:"client_name,omitempty"`
	AssignedTeam string              `json:"assigned_team,omitempty"`
	Version      int64               `json:"version"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Progress     int                 `json:"progress"`
	Readiness    domain.DomainStatus `json:"readiness"`
}

func (api *portalAPI) handleListCases(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	stored, err := api.service.List(r.Context(), repo.CaseFilter{
		AssignedTeam: strings.TrimSpace(r.URL.Query().Get("team")),
		Limit:        limit,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	required := api.service.RequiredDomains()
	out := make([]caseSummary, 0, len(stored))
	for _, sc := range stored {
		out = append(out, caseSummary{
			CaseID:       sc.Case.ID,
			ClientName:   sc.Case.ClientName,
			AssignedTeam: sc.Case.AssignedTeam,
			Version:      sc.Version,
			UpdatedAt:    sc.UpdatedAt,
			Progress:     milestone.CaseProgress(sc.Case),
			Readiness:    validation.CaseReadiness(sc.Case, required),
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"cases": out})
}

func (api *portalAPI) handleImportCase(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	if len(raw) > maxDocumentBytes {
		httpserver.WriteError(w, r, http.StatusRequestEntityTooLarge, "document_too_large")
		return
	}
	stored, err := api.service.Import(r.Context(), raw, auditInfo(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, casesvc.BuildOverview(stored, api.service.RequiredDomains(), time.Now()))
}

func (api *portalAPI) handleGetCase(w http.ResponseWriter, r *http.Request) {
	ov, err := api.service.Overview(r.Context(), r.PathValue("case_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, ov)
}

// handleExportCase returns the stored case document; ?format=yaml renders YAML.
func (api *portalAPI) handleExportCase(w http.ResponseWriter, r *http.Request) {
	stored, err := api.service.Get(r.Context(), r.PathValue("case_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "yaml") {
		out, err := caseload.EncodeYAML(stored.Case)
		if err != nil {
			api.writeServiceError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, caseload.ToDocument(stored.Case))
}

func (api *portalAPI) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 200), 1, 1000)
	events, err := api.service.AuditTrail(r.Context(), r.PathValue("case_id"), limit)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (api *portalAPI) handleMilestoneAction(w http.ResponseWriter, r *http.Request) {
	id, ok := api.milestoneID(w, r)
	if !ok {
		return
	}
	t := milestone.Transition{MilestoneID: id}
	switch r.PathValue("action") {
	case "start":
		t.Kind = milestone.KindStartMilestone
	case "complete":
		t.Kind = milestone.KindCompleteMilestone
	default:
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.transition(w, r, t)
}

type progressRequest struct {
	Progress *int `json:"progress"`
}

func (api *portalAPI) handleSetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := api.milestoneID(w, r)
	if !ok {
		return
	}
	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Progress == nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "progress_required")
		return
	}
	api.transition(w, r, milestone.Transition{Kind: milestone.KindSetProgress, MilestoneID: id, Progress: *req.Progress})
}

func (api *portalAPI) handleTaskAction(w http.ResponseWriter, r *http.Request) {
	id, ok := api.milestoneID(w, r)
	if !ok {
		return
	}
	task := strings.TrimSpace(r.PathValue("task"))
	t := milestone.Transition{MilestoneID: id, Task: task}
	switch r.PathValue("action") {
	case "start":
		t.Kind = milestone.KindStartTask
	case "complete":
		t.Kind = milestone.KindCompleteTask
	default:
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.transition(w, r, t)
}

func (api *portalAPI) transition(w http.ResponseWriter, r *http.Request, t milestone.Transition) {
	caseID := r.PathValue("case_id")
	if _, err := api.service.Transition(r.Context(), caseID, t, auditInfo(r)); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeOverview(w, r, caseID)
}

func (api *portalAPI) milestoneID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(r.PathValue("milestone_id")))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_milestone_id")
		return 0, false
	}
	return id, true
}

func (api *portalAPI) handleReadiness(w http.ResponseWriter, r *http.Request) {
	rv, err := api.service.Readiness(r.Context(), r.PathValue("case_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, rv)
}

type validationRequest struct {
	Checks      []caseload.CheckDocument `json:"checks"`
	ValidatedAt *time.Time               `json:"validated_at,omitempty"`
}

func (api *portalAPI) handleUpdateValidation(w http.ResponseWriter, r *http.Request) {
	var req validationRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	checks := make([]domain.Check, 0, len(req.Checks))
	for _, cd := range req.Checks {
		status, ok := domain.ParseCheckStatus(cd.Status)
		if !ok {
			httpserver.WriteError(w, r, http.StatusUnprocessableEntity, "invalid_check_status")
			return
		}
		checks = append(checks, domain.Check{Name: strings.TrimSpace(cd.Name), Status: status, Message: strings.TrimSpace(cd.Message)})
	}
	caseID := r.PathValue("case_id")
	stored, err := api.service.UpdateValidation(r.Context(), caseID, r.PathValue("domain"), checks, req.ValidatedAt, auditInfo(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, casesvc.BuildReadiness(stored.Case, api.service.RequiredDomains()))
}

func (api *portalAPI) handleCart(w http.ResponseWriter, r *http.Request) {
	cv, err := api.service.Cart(r.Context(), r.PathValue("case_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, cv)
}

func (api *portalAPI) handleTogglePlan(w http.ResponseWriter, r *http.Request) {
	stored, err := api.service.TogglePlan(r.Context(), r.PathValue("case_id"), r.PathValue("plan_id"), auditInfo(r))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, casesvc.BuildCart(stored.Case))
}

func (api *portalAPI) handleStartWizard(w http.ResponseWriter, r *http.Request) {
	v, err := api.service.StartWizard(r.Context(), r.PathValue("case_id"), r.PathValue("flow"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, v)
}

func (api *portalAPI) handleWizardState(w http.ResponseWriter, r *http.Request) {
	api.writeWizard(w, r)(api.service.WizardState(r.PathValue("case_id"), r.PathValue("flow")))
}

func (api *portalAPI) handleCloseWizard(w http.ResponseWriter, r *http.Request) {
	if err := api.service.CloseWizard(r.PathValue("case_id"), r.PathValue("flow")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *portalAPI) handleWizardAction(w http.ResponseWriter, r *http.Request) {
	caseID, flow := r.PathValue("case_id"), r.PathValue("flow")
	reply := api.writeWizard(w, r)
	switch r.PathValue("action") {
	case "next":
		reply(api.service.WizardNext(caseID, flow))
	case "previous":
		reply(api.service.WizardPrevious(caseID, flow))
	case "submit":
		reply(api.service.SubmitWizard(r.Context(), caseID, flow, auditInfo(r)))
	default:
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
	}
}

func (api *portalAPI) handleWizardJump(w http.ResponseWriter, r *http.Request) {
	index, ok := api.stepIndex(w, r)
	if !ok {
		return
	}
	api.writeWizard(w, r)(api.service.WizardJump(r.PathValue("case_id"), r.PathValue("flow"), index))
}

func (api *portalAPI) handleWizardMark(w http.ResponseWriter, r *http.Request) {
	index, ok := api.stepIndex(w, r)
	if !ok {
		return
	}
	var valid bool
	switch r.PathValue("action") {
	case "valid":
		valid = true
	case "invalid":
	default:
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
		return
	}
	api.writeWizard(w, r)(api.service.WizardMarkStep(r.PathValue("case_id"), r.PathValue("flow"), index, valid))
}

// handleUpload streams the multipart "file" part into the service. The
// response is 202 while extraction is still running.
func (api *portalAPI) handleUpload(w http.ResponseWriter, r *http.Request) {
	index, ok := api.stepIndex(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, api.uploadMaxBytes+maxDocumentBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_multipart")
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			httpserver.WriteError(w, r, http.StatusBadRequest, "file_required")
			return
		}
		if err != nil {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_multipart")
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		file := eligibility.File{
			Filename:    part.FileName(),
			Size:        -1,
			ContentType: strings.TrimSpace(part.Header.Get("Content-Type")),
		}
		rec, err := api.service.Upload(r.Context(), r.PathValue("case_id"), r.PathValue("flow"), index, file, part, auditInfo(r))
		_ = part.Close()
		if err != nil {
			api.writeServiceError(w, r, err)
			return
		}
		status := http.StatusOK
		if rec.Status == upload.StatusProcessing {
			status = http.StatusAccepted
		}
		httpserver.WriteJSON(w, status, rec)
		return
	}
}

func (api *portalAPI) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	index, ok := api.stepIndex(w, r)
	if !ok {
		return
	}
	rec, err := api.service.UploadStatus(r.PathValue("case_id"), r.PathValue("flow"), index)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, rec)
}

func (api *portalAPI) stepIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(strings.TrimSpace(r.PathValue("index")))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_step_index")
		return 0, false
	}
	return index, true
}

func (api *portalAPI) writeWizard(w http.ResponseWriter, r *http.Request) func(casesvc.WizardView, error) {
	return func(v casesvc.WizardView, err error) {
		if err != nil {
			api.writeServiceError(w, r, err)
			return
		}
		httpserver.WriteJSON(w, http.StatusOK, v)
	}
}

func (api *portalAPI) writeOverview(w http.ResponseWriter, r *http.Request, caseID string) {
	ov, err := api.service.Overview(r.Context(), caseID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, ov)
}

// errorStatus maps service errors onto HTTP status and error code. Lookups
// come first since a missing milestone is also a rejected transition.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, "case_not_found"
	case errors.Is(err, domain.ErrMilestoneNotFound):
		return http.StatusNotFound, "milestone_not_found"
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "task_not_found"
	case errors.Is(err, domain.ErrPlanNotFound):
		return http.StatusNotFound, "plan_not_found"
	case errors.Is(err, casesvc.ErrSessionNotFound):
		return http.StatusNotFound, "wizard_session_not_found"
	case errors.Is(err, casesvc.ErrUploadNotFound):
		return http.StatusNotFound, "upload_not_found"
	case errors.Is(err, wizard.ErrUnknownFlow):
		return http.StatusNotFound, "unknown_flow"
	case errors.Is(err, domain.ErrMalformedCaseData):
		return http.StatusUnprocessableEntity, "malformed_case_data"
	case errors.Is(err, domain.ErrInvalidMilestoneTransition):
		return http.StatusConflict, "invalid_milestone_transition"
	case errors.Is(err, domain.ErrStepNotValid):
		return http.StatusConflict, "step_not_valid"
	case errors.Is(err, domain.ErrStepNotReachable):
		return http.StatusConflict, "step_not_reachable"
	case errors.Is(err, domain.ErrStepBusy):
		return http.StatusConflict, "step_busy"
	case errors.Is(err, domain.ErrWizardAtFirstStep):
		return http.StatusConflict, "wizard_at_first_step"
	case errors.Is(err, domain.ErrWizardAtLastStep):
		return http.StatusConflict, "wizard_at_last_step"
	case errors.Is(err, domain.ErrWizardIncomplete):
		return http.StatusConflict, "wizard_incomplete"
	case errors.Is(err, repo.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrStepOutOfRange):
		return http.StatusBadRequest, "step_out_of_range"
	case errors.Is(err, casesvc.ErrNotUploadStep):
		return http.StatusBadRequest, "not_upload_step"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (api *portalAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		api.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		api.logger.Debug("request rejected", "code", code, "error", err)
	}
	httpserver.WriteError(w, r, status, code)
}

func auditInfo(r *http.Request) casesvc.AuditInfo {
	info := casesvc.AuditInfo{}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		info.Actor = identity.Subject
	}
	info.RequestID, _ = httpserver.RequestIDFromContext(r.Context())
	return info
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
