package caseload

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/groupinstall/installportal/internal/domain"
	"github.com/groupinstall/installportal/internal/milestone"
)

func readFixture(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile("testdata/acme.yaml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return raw
}

func TestLoad_YAMLFixture(t *testing.T) {
	c, err := Load(readFixture(t))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if c.ID != "CASE-2025-001234" || c.TotalEmployees != 425 || len(c.Milestones) != 6 {
		t.Fatalf("Load()=%+v", c)
	}
	if c.TargetInstallDate != domain.NewDate(2025, 3, 25) {
		t.Fatalf("TargetInstallDate=%s", c.TargetInstallDate)
	}
	if got := milestone.CaseProgress(c); got != 21 {
		t.Fatalf("CaseProgress()=%d, want 21", got)
	}
	if c.Plans[0].MonthlyPremium.String() != "485.50" || c.Plans[0].Deductible == nil || c.Plans[0].Deductible.String() != "1500.00" {
		t.Fatalf("plan money=%+v", c.Plans[0])
	}
	vd := c.Validation["accountSetup"]
	if vd.ValidatedAt == nil || vd.ValidatedAt.Hour() != 16 || len(vd.Checks) != 3 {
		t.Fatalf("accountSetup=%+v", vd)
	}
	if c.Milestones[1].StartedAt == nil {
		t.Fatalf("milestone 2 started_at not parsed")
	}
	if c.Milestones[1].ManualProgress != nil {
		t.Fatalf("milestone 2 ManualProgress=%d, want tasks to decide", *c.Milestones[1].ManualProgress)
	}
}

func TestLoad_ProgressWithTasksIgnored(t *testing.T) {
	doc := `{"case_id":"C-1","target_install_date":"2025-03-25","total_employees":1,"milestones":[
		{"id":1,"name":"A","status":"in_progress","progress":65,"tasks":[
			{"name":"t1","status":"completed"},{"name":"t2","status":"pending"},
			{"name":"t3","status":"pending"},{"name":"t4","status":"pending"}]}]}`
	c, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if c.Milestones[0].ManualProgress != nil {
		t.Fatalf("ManualProgress=%d, want nil", *c.Milestones[0].ManualProgress)
	}
	if got := milestone.MilestoneProgress(c.Milestones[0]); got != 25 {
		t.Fatalf("MilestoneProgress()=%d, want 25", got)
	}
	raw, _ := Encode(c)
	if strings.Contains(string(raw), `"progress"`) {
		t.Fatalf("Encode() kept supplied progress: %s", raw)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	c, err := Load(readFixture(t))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	first, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode() err=%v", err)
	}
	again, err := Load(first)
	if err != nil {
		t.Fatalf("Load(json) err=%v", err)
	}
	second, _ := Encode(again)
	if !bytes.Equal(first, second) {
		t.Fatalf("JSON round trip differs:\n%s\n%s", first, second)
	}

	y, err := EncodeYAML(c)
	if err != nil {
		t.Fatalf("EncodeYAML() err=%v", err)
	}
	fromYAML, err := Load(y)
	if err != nil {
		t.Fatalf("Load(yaml) err=%v\n%s", err, y)
	}
	third, _ := Encode(fromYAML)
	if !bytes.Equal(first, third) {
		t.Fatalf("YAML round trip differs:\n%s\n%s", first, third)
	}
}

func TestLoad_MoneyIsNumeric(t *testing.T) {
	c, _ := Load(readFixture(t))
	raw, _ := Encode(c)
	if !strings.Contains(string(raw), `"monthly_premium":485.50`) {
		t.Fatalf("Encode() money not a number literal: %s", raw)
	}
}

func TestLoad_Malformed(t *testing.T) {
	base := `{"case_id":"C-1","target_install_date":"2025-03-25","total_employees":10,"milestones":[%s]%s}`
	cases := []struct {
		name string
		doc  string
	}{
		{"unknown status", fmtDoc(base, `{"id":1,"name":"A","status":"stalled"}`, "")},
		{"two in progress", fmtDoc(base, `{"id":1,"name":"A","status":"in_progress"},{"id":2,"name":"B","status":"in_progress"}`, "")},
		{"completed after pending", fmtDoc(base, `{"id":1,"name":"A","status":"pending"},{"id":2,"name":"B","status":"completed"}`, "")},
		{"duplicate milestone id", fmtDoc(base, `{"id":1,"name":"A","status":"pending"},{"id":1,"name":"B","status":"pending"}`, "")},
		{"progress out of range", fmtDoc(base, `{"id":1,"name":"A","status":"in_progress","progress":140}`, "")},
		{"contribution above premium", fmtDoc(base, "", `,"plans":[{"id":"p","name":"P","monthly_premium":10,"employee_contribution":12,"enrollment_count":0,"selected":true}]`)},
		{"negative premium", fmtDoc(base, "", `,"plans":[{"id":"p","name":"P","monthly_premium":-1,"employee_contribution":0,"enrollment_count":0,"selected":true}]`)},
		{"duplicate plan", fmtDoc(base, "", `,"plans":[{"id":"p","name":"P","monthly_premium":1,"employee_contribution":0,"enrollment_count":0,"selected":true},{"id":"p","name":"Q","monthly_premium":1,"employee_contribution":0,"enrollment_count":0,"selected":false}]`)},
		{"bad check status", fmtDoc(base, "", `,"validation":{"x":{"checks":[{"name":"c","status":"maybe"}]}}`)},
		{"unknown field", fmtDoc(base, "", `,"colour":"red"`)},
		{"missing target date", `{"case_id":"C-1","total_employees":1,"milestones":[]}`},
		{"missing id", `{"target_install_date":"2025-03-25","total_employees":1,"milestones":[]}`},
		{"trailing data", fmtDoc(base, "", "") + `{}`},
		{"empty", "  "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load([]byte(tc.doc)); !errors.Is(err, domain.ErrMalformedCaseData) {
				t.Fatalf("Load() err=%v, want ErrMalformedCaseData", err)
			}
		})
	}
}

func fmtDoc(base, milestones, extra string) string {
	out := strings.Replace(base, "%s", milestones, 1)
	return strings.Replace(out, "%s", extra, 1)
}

func TestLoad_MilestonesSortedByID(t *testing.T) {
	doc := `{"case_id":"C-1","target_install_date":"2025-03-25","total_employees":1,"milestones":[
		{"id":2,"name":"B","status":"pending"},
		{"id":1,"name":"A","status":"in_progress","progress":30}]}`
	c, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if c.Milestones[0].ID != 1 || milestone.CaseProgress(c) != 15 {
		t.Fatalf("milestones=%+v", c.Milestones)
	}
}

func TestLoadAll(t *testing.T) {
	stream := string(readFixture(t)) + "\n---\n" + strings.Replace(string(readFixture(t)), "CASE-2025-001234", "CASE-2025-001235", 1)
	got, err := LoadAll([]byte(stream))
	if err != nil {
		t.Fatalf("LoadAll() err=%v", err)
	}
	if len(got) != 2 || got[1].ID != "CASE-2025-001235" {
		t.Fatalf("LoadAll() ids=%v", ids(got))
	}

	dup := string(readFixture(t)) + "\n---\n" + string(readFixture(t))
	if _, err := LoadAll([]byte(dup)); !errors.Is(err, domain.ErrMalformedCaseData) {
		t.Fatalf("LoadAll(dup) err=%v, want ErrMalformedCaseData", err)
	}

	arr := `[{"case_id":"A","target_install_date":"2025-03-25","total_employees":1,"milestones":[]},
		{"case_id":"B","target_install_date":"2025-03-25","total_employees":1,"milestones":[]}]`
	got, err = LoadAll([]byte(arr))
	if err != nil || len(got) != 2 {
		t.Fatalf("LoadAll(array)=%v err=%v", ids(got), err)
	}
}

func ids(cs []domain.Case) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
