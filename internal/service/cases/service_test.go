package cases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/groupinstall/installportal/internal/caseload"
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

const acmeID = "CASE-2025-001234"

type fixture struct {
	svc     *Service
	audit   *auditlog.Memory
	objects *objectstore.MemoryStore
}

func newFixture(t *testing.T, extractor upload.Extractor) fixture {
	t.Helper()
	cs, err := caseload.LoadFile("../../caseload/testdata/acme.yaml")
	if err != nil {
		t.Fatalf("LoadFile() err=%v", err)
	}
	audit := auditlog.NewMemory()
	objects := objectstore.NewMemoryStore()
	if extractor == nil {
		extractor = upload.NewLocalExtractor(objects)
	}
	svc := New(Deps{
		Cases:     repo.NewMemoryStore(),
		Audit:     audit,
		Objects:   objects,
		Extractor: extractor,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Config{ExtractionTimeout: 5 * time.Second})
	svc.now = func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) }
	t.Cleanup(svc.Close)
	if n, err := svc.Seed(context.Background(), cs); err != nil || n != 1 {
		t.Fatalf("Seed()=%d err=%v", n, err)
	}
	return fixture{svc: svc, audit: audit, objects: objects}
}

func actions(t *testing.T, audit *auditlog.Memory, action string) []auditlog.Record {
	t.Helper()
	recs, err := audit.List(context.Background(), acmeID, 0)
	if err != nil {
		t.Fatalf("audit List() err=%v", err)
	}
	var out []auditlog.Record
	for _, r := range recs {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// waitAudit polls until n records of action exist. Upload outcomes are
// persisted after the session sees them, so the audit entry is the last
// observable effect.
func waitAudit(t *testing.T, audit *auditlog.Memory, action string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(actions(t, audit, action)) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events", n, action)
}

func censusCSV(rows ...string) string {
	var b strings.Builder
	b.WriteString(strings.Join(eligibility.RequiredFields, ","))
	b.WriteString("\n")
	for _, id := range rows {
		b.WriteString(id + ",Ana,Diaz,1980-02-03,123-45-6789,F,1 Main St,Austin,TX,73301,2020-01-06,Active,HMO\n")
	}
	return b.String()
}

func TestNew_NilRepository(t *testing.T) {
	if New(Deps{}, Config{}) != nil {
		t.Fatalf("New() without a repository should be nil")
	}
}

func TestService_SeedSkipsExisting(t *testing.T) {
	f := newFixture(t, nil)
	cs, _ := caseload.LoadFile("../../caseload/testdata/acme.yaml")
	if n, err := f.svc.Seed(context.Background(), cs); err != nil || n != 0 {
		t.Fatalf("Seed() again=%d err=%v, want 0", n, err)
	}
	raw, _ := caseload.Encode(cs[0])
	if _, err := f.svc.Import(context.Background(), raw, AuditInfo{}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("Import(duplicate) err=%v, want ErrConflict", err)
	}
	if _, err := f.svc.Import(context.Background(), []byte(`{"case_id":""}`), AuditInfo{}); !errors.Is(err, domain.ErrMalformedCaseData) {
		t.Fatalf("Import(bad) err=%v, want ErrMalformedCaseData", err)
	}
}

func TestService_TransitionAudited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	info := AuditInfo{Actor: "michael.chen", RequestID: "req-1"}

	stored, err := f.svc.Transition(ctx, acmeID, milestone.Transition{
		Kind:        milestone.KindCompleteTask,
		MilestoneID: 2,
		Task:        "Employee Eligibility File",
	}, info)
	if err != nil {
		t.Fatalf("Transition() err=%v", err)
	}
	if got := milestone.CaseProgress(stored.Case); got != 25 {
		t.Fatalf("CaseProgress()=%d, want 25", got)
	}
	if stored.Version != 2 {
		t.Fatalf("Version=%d, want 2", stored.Version)
	}
	recs := actions(t, f.audit, auditlog.ActionMilestoneTransition)
	if len(recs) != 1 || recs[0].Actor != "michael.chen" || recs[0].RequestID != "req-1" {
		t.Fatalf("transition audit=%+v", recs)
	}
	if !auditlog.Verify(recs[0]) {
		t.Fatalf("audit record integrity check failed")
	}
}

func TestService_RejectedTransitionLeavesCase(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Transition(ctx, acmeID, milestone.Transition{Kind: milestone.KindStartMilestone, MilestoneID: 4}, AuditInfo{})
	if !errors.Is(err, domain.ErrInvalidMilestoneTransition) {
		t.Fatalf("Transition() err=%v, want ErrInvalidMilestoneTransition", err)
	}
	stored, err := f.svc.Get(ctx, acmeID)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if stored.Version != 1 || stored.Case.Milestones[3].Status != domain.MilestonePending {
		t.Fatalf("case changed after rejected transition: version=%d", stored.Version)
	}
	if recs := actions(t, f.audit, auditlog.ActionMilestoneTransition); len(recs) != 0 {
		t.Fatalf("rejected transition was audited: %+v", recs)
	}
	if _, err := f.svc.Transition(ctx, "CASE-404", milestone.Transition{Kind: milestone.KindStartMilestone, MilestoneID: 1}, AuditInfo{}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Transition(missing case) err=%v, want ErrNotFound", err)
	}
}

func TestService_UpdateValidationAndReadiness(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	checks := []domain.Check{
		{Name: "File Format", Status: domain.CheckPassed},
		{Name: "Data Quality", Status: domain.CheckWarning, Message: "3 records flagged"},
	}
	if _, err := f.svc.UpdateValidation(ctx, acmeID, validation.DomainEligibilityFile, checks, nil, AuditInfo{}); err != nil {
		t.Fatalf("UpdateValidation() err=%v", err)
	}
	rv, err := f.svc.Readiness(ctx, acmeID)
	if err != nil {
		t.Fatalf("Readiness() err=%v", err)
	}
	if rv.Overall != domain.DomainWarning || len(rv.Missing) != 0 {
		t.Fatalf("Readiness()=%+v, want warning", rv)
	}

	if _, err := f.svc.UpdateValidation(ctx, acmeID, " ", checks, nil, AuditInfo{}); !errors.Is(err, domain.ErrMalformedCaseData) {
		t.Fatalf("UpdateValidation(blank) err=%v", err)
	}
	bad := []domain.Check{{Name: "x", Status: "maybe"}}
	if _, err := f.svc.UpdateValidation(ctx, acmeID, "accountSetup", bad, nil, AuditInfo{}); !errors.Is(err, domain.ErrMalformedCaseData) {
		t.Fatalf("UpdateValidation(bad status) err=%v", err)
	}
}

func TestService_TogglePlan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.svc.TogglePlan(ctx, acmeID, "PLAN-DENTAL-001", AuditInfo{}); err != nil {
		t.Fatalf("TogglePlan() err=%v", err)
	}
	cv, err := f.svc.Cart(ctx, acmeID)
	if err != nil {
		t.Fatalf("Cart() err=%v", err)
	}
	if cv.TotalMonthlyPremium.String() != "1146.75" || cv.PlanCount != 3 {
		t.Fatalf("Cart()=%+v", cv)
	}
	if _, err := f.svc.TogglePlan(ctx, acmeID, "PLAN-404", AuditInfo{}); !errors.Is(err, domain.ErrPlanNotFound) {
		t.Fatalf("TogglePlan(unknown) err=%v, want ErrPlanNotFound", err)
	}
	if recs := actions(t, f.audit, auditlog.ActionCartChanged); len(recs) != 1 {
		t.Fatalf("cart audit=%d records, want 1", len(recs))
	}
}

func TestService_Overview(t *testing.T) {
	f := newFixture(t, nil)
	ov, err := f.svc.Overview(context.Background(), acmeID)
	if err != nil {
		t.Fatalf("Overview() err=%v", err)
	}
	if ov.Progress != 21 || ov.CurrentMilestone == nil || ov.CurrentMilestone.ID != 2 || ov.CurrentMilestone.Progress != 25 {
		t.Fatalf("Overview() progress=%d current=%+v", ov.Progress, ov.CurrentMilestone)
	}
	if ov.StatusCounts != (StatusCountsView{Completed: 1, InProgress: 1, Pending: 4}) {
		t.Fatalf("StatusCounts=%+v", ov.StatusCounts)
	}
	if ov.Cart.TotalMonthlyPremium.String() != "1111.25" || ov.Cart.AnnualCost.String() != "13335.00" {
		t.Fatalf("Cart=%+v", ov.Cart)
	}
	if ov.Readiness.Overall != domain.DomainPending {
		t.Fatalf("Readiness.Overall=%s, want pending", ov.Readiness.Overall)
	}
	if ov.DaysRemaining != 52 {
		t.Fatalf("DaysRemaining=%d, want 52", ov.DaysRemaining)
	}
	if ov.DataCollection == nil || ov.DataCollection.StepsCompleted != 2 || ov.DataCollection.Percent != 50 {
		t.Fatalf("DataCollection=%+v", ov.DataCollection)
	}
	tasks, domains := 0, 0
	for _, item := range ov.ActionItems {
		switch item.Kind {
		case ActionTask:
			tasks++
		case ActionValidation:
			domains++
			if item.Domain != validation.DomainEligibilityFile {
				t.Fatalf("unexpected validation action %+v", item)
			}
		}
	}
	if tasks != 3 || domains != 1 {
		t.Fatalf("ActionItems=%+v", ov.ActionItems)
	}
	if _, err := f.svc.Overview(context.Background(), "CASE-404"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Overview(missing) err=%v", err)
	}
}

func TestService_WizardFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	v, err := f.svc.StartWizard(ctx, acmeID, wizard.FlowDataCollection)
	if err != nil {
		t.Fatalf("StartWizard() err=%v", err)
	}
	if len(v.Completed) != 2 || v.Completed[0] != 0 || v.Completed[1] != 2 || v.HighestValidated != 2 {
		t.Fatalf("StartWizard() state=%+v", v.State)
	}
	if _, err := f.svc.StartWizard(ctx, acmeID, "payroll"); !errors.Is(err, wizard.ErrUnknownFlow) {
		t.Fatalf("StartWizard(payroll) err=%v", err)
	}

	if v, err = f.svc.WizardJump(acmeID, wizard.FlowDataCollection, 2); err != nil || v.CurrentIndex != 2 {
		t.Fatalf("WizardJump(2)=%d err=%v", v.CurrentIndex, err)
	}
	if _, err := f.svc.WizardJump(acmeID, wizard.FlowDataCollection, 3); !errors.Is(err, domain.ErrStepNotReachable) {
		t.Fatalf("WizardJump(3) err=%v", err)
	}
	if _, err := f.svc.SubmitWizard(ctx, acmeID, wizard.FlowDataCollection, AuditInfo{}); !errors.Is(err, domain.ErrWizardIncomplete) {
		t.Fatalf("SubmitWizard() err=%v, want ErrWizardIncomplete", err)
	}
	for _, i := range []int{1, 3} {
		if _, err := f.svc.WizardMarkStep(acmeID, wizard.FlowDataCollection, i, true); err != nil {
			t.Fatalf("WizardMarkStep(%d) err=%v", i, err)
		}
	}
	if v, err = f.svc.SubmitWizard(ctx, acmeID, wizard.FlowDataCollection, AuditInfo{Actor: "client"}); err != nil || !v.Complete {
		t.Fatalf("SubmitWizard()=%+v err=%v", v.State, err)
	}
	if recs := actions(t, f.audit, auditlog.ActionWizardSubmitted); len(recs) != 1 {
		t.Fatalf("submit audit=%d records, want 1", len(recs))
	}

	ov, _ := f.svc.Overview(ctx, acmeID)
	if ov.DataCollection == nil || ov.DataCollection.Percent != 100 {
		t.Fatalf("DataCollection=%+v, want 100%%", ov.DataCollection)
	}

	if err := f.svc.CloseWizard(acmeID, wizard.FlowDataCollection); err != nil {
		t.Fatalf("CloseWizard() err=%v", err)
	}
	if _, err := f.svc.WizardState(acmeID, wizard.FlowDataCollection); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("WizardState() after close err=%v", err)
	}
}

func TestService_CensusUploadValidatesStep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.svc.StartWizard(ctx, acmeID, wizard.FlowDataCollection); err != nil {
		t.Fatalf("StartWizard() err=%v", err)
	}
	body := censusCSV("E1", "E2", "E3")
	rec, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 1,
		eligibility.File{Filename: `C:\exports\census.csv`, Size: int64(len(body)), ContentType: "text/csv"},
		strings.NewReader(body), AuditInfo{Actor: "client"})
	if err != nil {
		t.Fatalf("Upload() err=%v", err)
	}
	if rec.Status != upload.StatusProcessing || rec.Object.Filename != "census.csv" || rec.Object.SHA256 == "" {
		t.Fatalf("Upload()=%+v", rec)
	}
	if _, err := f.objects.Stat(ctx, rec.Object.Bucket, rec.Object.Key); err != nil {
		t.Fatalf("stored object Stat() err=%v", err)
	}

	waitAudit(t, f.audit, auditlog.ActionUploadResolved, 1)
	got, err := f.svc.UploadStatus(acmeID, wizard.FlowDataCollection, 1)
	if err != nil {
		t.Fatalf("UploadStatus() err=%v", err)
	}
	if got.Status != upload.StatusComplete || got.Summary == nil || got.Summary.RecordsProcessed != 3 {
		t.Fatalf("UploadStatus()=%+v", got)
	}
	v, _ := f.svc.WizardState(acmeID, wizard.FlowDataCollection)
	if len(v.Processing) != 0 || len(v.Completed) != 3 {
		t.Fatalf("wizard after upload=%+v", v.State)
	}
	rv, _ := f.svc.Readiness(ctx, acmeID)
	if rv.Overall != domain.DomainPassed {
		t.Fatalf("Readiness()=%+v, want passed", rv)
	}
}

func TestService_RejectedUploadFailsDomain(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.svc.StartWizard(ctx, acmeID, wizard.FlowDataCollection)

	rec, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 1,
		eligibility.File{Filename: "census.pdf", Size: 3}, strings.NewReader("pdf"), AuditInfo{})
	if err != nil {
		t.Fatalf("Upload() err=%v", err)
	}
	if rec.Status != upload.StatusFailed {
		t.Fatalf("Upload() status=%s, want failed", rec.Status)
	}
	rv, _ := f.svc.Readiness(ctx, acmeID)
	if rv.Overall != domain.DomainFailed {
		t.Fatalf("Readiness().Overall=%s, want failed", rv.Overall)
	}
	v, _ := f.svc.WizardState(acmeID, wizard.FlowDataCollection)
	if len(v.Completed) != 2 || len(v.Processing) != 0 {
		t.Fatalf("wizard after failed upload=%+v", v.State)
	}
}

func TestService_DocumentUploadResolvesInline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.svc.StartWizard(ctx, acmeID, wizard.FlowDataCollection)
	rec, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 3,
		eligibility.File{Filename: "signed.txt", Size: 5}, strings.NewReader("hello"), AuditInfo{})
	if err != nil || rec.Status != upload.StatusComplete {
		t.Fatalf("Upload()=%+v err=%v", rec, err)
	}
	v, _ := f.svc.WizardState(acmeID, wizard.FlowDataCollection)
	if len(v.Completed) != 3 {
		t.Fatalf("Completed=%v, want step 3 valid", v.Completed)
	}
}

func TestService_UploadErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	file := eligibility.File{Filename: "a.csv"}
	if _, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 1, file, strings.NewReader(""), AuditInfo{}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Upload() without session err=%v", err)
	}
	_, _ = f.svc.StartWizard(ctx, acmeID, wizard.FlowDataCollection)
	if _, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 0, file, strings.NewReader(""), AuditInfo{}); !errors.Is(err, ErrNotUploadStep) {
		t.Fatalf("Upload(step 0) err=%v, want ErrNotUploadStep", err)
	}
	if _, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 9, file, strings.NewReader(""), AuditInfo{}); !errors.Is(err, domain.ErrStepOutOfRange) {
		t.Fatalf("Upload(step 9) err=%v, want ErrStepOutOfRange", err)
	}
	if _, err := f.svc.UploadStatus(acmeID, wizard.FlowDataCollection, 1); !errors.Is(err, ErrUploadNotFound) {
		t.Fatalf("UploadStatus() err=%v, want ErrUploadNotFound", err)
	}
}

// blockingExtractor holds its first call until the context is cancelled.
type blockingExtractor struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
}

func (b *blockingExtractor) Extract(ctx context.Context, ref upload.ObjectRef) (domain.ExtractionSummary, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.mu.Unlock()
	if call == 1 {
		close(b.started)
		<-ctx.Done()
		return domain.ExtractionSummary{}, ctx.Err()
	}
	return domain.ExtractionSummary{RecordsProcessed: 7, Confidence: 0.99, DataQuality: "good"}, nil
}

func TestService_LaterUploadSupersedes(t *testing.T) {
	ext := &blockingExtractor{started: make(chan struct{})}
	f := newFixture(t, ext)
	ctx := context.Background()
	_, _ = f.svc.StartWizard(ctx, acmeID, wizard.FlowDataCollection)

	body := censusCSV("E1")
	first, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 1, eligibility.File{Filename: "old.csv"}, strings.NewReader(body), AuditInfo{})
	if err != nil {
		t.Fatalf("Upload(first) err=%v", err)
	}
	<-ext.started
	if _, err := f.svc.WizardMarkStep(acmeID, wizard.FlowDataCollection, 1, true); !errors.Is(err, domain.ErrStepBusy) {
		t.Fatalf("WizardMarkStep() while processing err=%v, want ErrStepBusy", err)
	}

	second, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 1, eligibility.File{Filename: "new.csv"}, strings.NewReader(body), AuditInfo{})
	if err != nil {
		t.Fatalf("Upload(second) err=%v", err)
	}
	if second.Generation <= first.Generation {
		t.Fatalf("generations %d then %d", first.Generation, second.Generation)
	}

	waitAudit(t, f.audit, auditlog.ActionUploadResolved, 1)
	got, _ := f.svc.UploadStatus(acmeID, wizard.FlowDataCollection, 1)
	if got.ID != second.ID || got.Summary == nil || got.Summary.RecordsProcessed != 7 {
		t.Fatalf("UploadStatus()=%+v, want second upload", got)
	}
	if n := len(actions(t, f.audit, auditlog.ActionUploadResolved)); n != 1 {
		t.Fatalf("upload.resolved events=%d, want 1", n)
	}
}

func TestService_ProcessingUploadHoldsStepAndDomain(t *testing.T) {
	ext := &blockingExtractor{started: make(chan struct{})}
	f := newFixture(t, ext)
	ctx := context.Background()
	_, _ = f.svc.StartWizard(ctx, acmeID, wizard.FlowDataCollection)
	for i := 0; i < 4; i++ {
		if _, err := f.svc.WizardMarkStep(acmeID, wizard.FlowDataCollection, i, true); err != nil {
			t.Fatalf("WizardMarkStep(%d) err=%v", i, err)
		}
	}
	if _, err := f.svc.WizardJump(acmeID, wizard.FlowDataCollection, 1); err != nil {
		t.Fatalf("WizardJump(1) err=%v", err)
	}

	body := censusCSV("E1")
	if _, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 1, eligibility.File{Filename: "old.csv"}, strings.NewReader(body), AuditInfo{}); err != nil {
		t.Fatalf("Upload(first) err=%v", err)
	}
	<-ext.started

	if _, err := f.svc.WizardNext(acmeID, wizard.FlowDataCollection); !errors.Is(err, domain.ErrStepNotValid) {
		t.Fatalf("WizardNext() while processing err=%v, want ErrStepNotValid", err)
	}
	if _, err := f.svc.SubmitWizard(ctx, acmeID, wizard.FlowDataCollection, AuditInfo{}); !errors.Is(err, domain.ErrWizardIncomplete) {
		t.Fatalf("SubmitWizard() while processing err=%v, want ErrWizardIncomplete", err)
	}
	checks := []domain.Check{{Name: "format", Status: domain.CheckPassed}}
	if _, err := f.svc.UpdateValidation(ctx, acmeID, validation.DomainEligibilityFile, checks, nil, AuditInfo{}); !errors.Is(err, domain.ErrStepBusy) {
		t.Fatalf("UpdateValidation(%s) while processing err=%v, want ErrStepBusy", validation.DomainEligibilityFile, err)
	}
	if _, err := f.svc.UpdateValidation(ctx, acmeID, "accountSetup", checks, nil, AuditInfo{}); err != nil {
		t.Fatalf("UpdateValidation(accountSetup) err=%v", err)
	}

	if _, err := f.svc.Upload(ctx, acmeID, wizard.FlowDataCollection, 1, eligibility.File{Filename: "new.csv"}, strings.NewReader(body), AuditInfo{}); err != nil {
		t.Fatalf("Upload(second) err=%v", err)
	}
	waitAudit(t, f.audit, auditlog.ActionUploadResolved, 1)

	if _, err := f.svc.WizardNext(acmeID, wizard.FlowDataCollection); err != nil {
		t.Fatalf("WizardNext() after resolve err=%v", err)
	}
	if _, err := f.svc.SubmitWizard(ctx, acmeID, wizard.FlowDataCollection, AuditInfo{}); err != nil {
		t.Fatalf("SubmitWizard() after resolve err=%v", err)
	}
	if _, err := f.svc.UpdateValidation(ctx, acmeID, validation.DomainEligibilityFile, checks, nil, AuditInfo{}); err != nil {
		t.Fatalf("UpdateValidation(%s) after resolve err=%v", validation.DomainEligibilityFile, err)
	}
}
