package cases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/groupinstall/installportal/internal/domain"
	"github.com/groupinstall/installportal/internal/eligibility"
	"github.com/groupinstall/installportal/internal/platform/auditlog"
	"github.com/groupinstall/installportal/internal/storage/objectstore"
	"github.com/groupinstall/installportal/internal/upload"
	"github.com/groupinstall/installportal/internal/validation"
	"github.com/groupinstall/installportal/internal/wizard"
)

var (
	ErrNotUploadStep  = errors.New("step does not accept uploads")
	ErrUploadNotFound = errors.New("upload not found")
)

const persistTimeout = 15 * time.Second

func uploadKey(caseID, flow string, step int) string {
	return fmt.Sprintf("%s/%d", sessionKey(caseID, flow), step)
}

// Upload stores a file for a wizard step. Census files on the eligibility
// step are then extracted in the background and the step stays processing
// until extraction resolves; a later upload for the same step supersedes
// this one. Upload failures become failed checks on the step's validation
// domain rather than errors.
func (s *Service) Upload(ctx context.Context, caseID, flow string, index int, file eligibility.File, body io.Reader, info AuditInfo) (upload.Record, error) {
	sess, err := s.session(caseID, flow)
	if err != nil {
		return upload.Record{}, err
	}

	sess.mu.Lock()
	steps := sess.nav.Steps()
	if index < 0 || index >= len(steps) {
		sess.mu.Unlock()
		return upload.Record{}, fmt.Errorf("%w: %d", domain.ErrStepOutOfRange, index)
	}
	step := steps[index]
	if !step.Upload {
		sess.mu.Unlock()
		return upload.Record{}, fmt.Errorf("%w: %s", ErrNotUploadStep, step.Key)
	}
	op, err := sess.nav.BeginOperation(index)
	if err != nil {
		sess.mu.Unlock()
		return upload.Record{}, err
	}
	file.Filename = eligibility.SanitizeFilename(file.Filename)
	rec := upload.Record{
		ID:         uuid.NewString(),
		CaseID:     sess.caseID,
		Flow:       sess.flow,
		Step:       index,
		Generation: op.Seq,
		Object: upload.ObjectRef{
			Bucket:      s.cfg.UploadBucket,
			Filename:    file.Filename,
			ContentType: file.ContentType,
		},
		Status:    upload.StatusProcessing,
		StartedAt: s.now().UTC(),
	}
	rec.Object.Key = objectstore.UploadKey(sess.caseID, step.Key, rec.ID, file.Filename)
	sess.uploads[index] = rec
	sess.mu.Unlock()

	data, err := io.ReadAll(io.LimitReader(body, s.cfg.UploadMaxBytes+1))
	if err != nil {
		return s.failUpload(sess, op, step, rec, nil, "could not read upload", info), nil
	}
	census := step.Domain == validation.DomainEligibilityFile
	precheck := eligibility.PrecheckDocument
	if census {
		precheck = eligibility.Precheck
	}
	pre, err := precheck(file, bytes.NewReader(data), s.cfg.UploadMaxBytes)
	if err != nil {
		return s.failUpload(sess, op, step, rec, nil, "could not read upload", info), nil
	}
	rec.Object.SizeBytes = int64(len(data))
	rec.Object.SHA256 = pre.SHA256
	if pre.Failed() {
		return s.failUpload(sess, op, step, rec, pre.Checks, pre.Message(), info), nil
	}

	if s.objects == nil {
		return s.failUpload(sess, op, step, rec, pre.Checks, "file storage is not configured", info), nil
	}
	stored, err := s.objects.Put(ctx, rec.Object.Bucket, rec.Object.Key, bytes.NewReader(data), int64(len(data)), file.ContentType)
	if err != nil {
		s.logger.Error("upload store failed", "case_id", rec.CaseID, "key", rec.Object.Key, "error", err)
		return s.failUpload(sess, op, step, rec, pre.Checks, "file storage unavailable", info), nil
	}
	rec.Object.SizeBytes = stored.Size

	if !census {
		return s.resolve(sess, op, step, rec, pre.Checks, true, upload.StatusComplete, "", nil, info), nil
	}

	sess.mu.Lock()
	if cur, ok := sess.uploads[index]; ok && cur.ID == rec.ID {
		sess.uploads[index] = rec
	}
	sess.mu.Unlock()

	ref := rec.Object
	prechecks := pre.Checks
	_, err = s.uploads.Start(uploadKey(rec.CaseID, rec.Flow, index), func(ctx context.Context) (domain.ExtractionSummary, error) {
		if s.extractor == nil {
			return domain.ExtractionSummary{}, upload.ErrUnsupported
		}
		return s.extractor.Extract(ctx, ref)
	}, func(res upload.Result) {
		s.finishUpload(sess, op, step, rec, prechecks, res, info)
	})
	if err != nil {
		return s.failUpload(sess, op, step, rec, pre.Checks, "upload processing is shutting down", info), nil
	}
	return rec, nil
}

// UploadStatus returns the latest upload record of a step.
func (s *Service) UploadStatus(caseID, flow string, index int) (upload.Record, error) {
	sess, err := s.session(caseID, flow)
	if err != nil {
		return upload.Record{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	rec, ok := sess.uploads[index]
	if !ok {
		return upload.Record{}, fmt.Errorf("%w: step %d", ErrUploadNotFound, index)
	}
	return rec, nil
}

func (s *Service) failUpload(sess *session, op wizard.Operation, step wizard.Step, rec upload.Record, prechecks []domain.Check, reason string, info AuditInfo) upload.Record {
	checks := append(append([]domain.Check(nil), prechecks...), validation.FromUploadFailure(reason)...)
	return s.resolve(sess, op, step, rec, checks, false, upload.StatusFailed, reason, nil, info)
}

func (s *Service) finishUpload(sess *session, op wizard.Operation, step wizard.Step, rec upload.Record, prechecks []domain.Check, res upload.Result, info AuditInfo) {
	checks := append([]domain.Check(nil), prechecks...)
	switch {
	case errors.Is(res.Err, upload.ErrUnsupported):
		checks = append(checks, domain.Check{
			Name:    validation.CheckDataQuality,
			Status:  domain.CheckPending,
			Message: "awaiting extraction",
		})
		s.resolve(sess, op, step, rec, checks, false, upload.StatusComplete, "stored; awaiting extraction", nil, info)
	case res.Err != nil:
		reason := res.Err.Error()
		if !errors.Is(res.Err, upload.ErrRejected) {
			reason = "extraction service unavailable"
		}
		checks = append(checks, validation.FromUploadFailure(reason)...)
		s.resolve(sess, op, step, rec, checks, false, upload.StatusFailed, reason, nil, info)
	default:
		checks = append(checks, validation.FromExtraction(res.Summary, s.cfg.MinConfidence)...)
		valid := validation.StepReady(validation.FoldChecks(checks))
		summary := res.Summary
		s.resolve(sess, op, step, rec, checks, valid, upload.StatusComplete, "", &summary, info)
	}
}

// resolve applies an upload's outcome if op is still the step's latest
// operation: the navigator learns the step's validity, the step's
// validation domain receives checks and the record is finished. A later
// operation of the session cannot resolve until this one's checks are
// written.
func (s *Service) resolve(sess *session, op wizard.Operation, step wizard.Step, rec upload.Record, checks []domain.Check, valid bool, status upload.Status, message string, summary *domain.ExtractionSummary, info AuditInfo) upload.Record {
	sess.resolving.Lock()
	defer sess.resolving.Unlock()

	sess.mu.Lock()
	applied := sess.nav.ResolveOperation(op, valid)
	if !applied {
		sess.mu.Unlock()
		s.logger.Debug("upload outcome superseded", "case_id", rec.CaseID, "upload_id", rec.ID)
		return rec.Finish(upload.StatusSuperseded, "superseded", s.now())
	}
	rec = rec.Finish(status, message, s.now())
	rec.Checks = checks
	rec.Summary = summary
	sess.uploads[op.Step] = rec
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if step.Domain != "" {
		if _, err := s.writeValidation(ctx, rec.CaseID, step.Domain, checks, nil, info); err != nil {
			s.logger.Error("persist upload checks failed", "case_id", rec.CaseID, "domain", step.Domain, "error", err)
		}
	}
	payload := map[string]any{
		"upload_id": rec.ID,
		"step":      step.Key,
		"status":    string(rec.Status),
		"valid":     valid,
		"sha256":    rec.Object.SHA256,
	}
	if summary != nil {
		payload["records_processed"] = summary.RecordsProcessed
		payload["confidence"] = summary.Confidence
	}
	s.record(ctx, info, auditlog.ActionUploadResolved, rec.CaseID, payload)
	return rec
}
