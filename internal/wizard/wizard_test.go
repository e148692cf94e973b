package wizard

import (
	"errors"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/groupinstall/installportal/internal/domain"
)

func fourSteps(t *testing.T) *Navigator {
	t.Helper()
	n, err := New([]Step{{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return n
}

func TestNavigator_NextAndUnreachableJump(t *testing.T) {
	n := fourSteps(t)
	if err := n.MarkStepValid(0); err != nil {
		t.Fatalf("MarkStepValid(0) err=%v", err)
	}
	if err := n.MarkStepValid(1); err != nil {
		t.Fatalf("MarkStepValid(1) err=%v", err)
	}
	if err := n.Next(); err != nil {
		t.Fatalf("Next() err=%v", err)
	}
	if n.Current() != 1 {
		t.Fatalf("Current()=%d, want 1", n.Current())
	}

	if err := n.Next(); err != nil {
		t.Fatalf("Next() err=%v", err)
	}
	if n.Current() != 2 {
		t.Fatalf("Current()=%d, want 2", n.Current())
	}
	if err := n.JumpTo(3); !errors.Is(err, domain.ErrStepNotReachable) {
		t.Fatalf("JumpTo(3) err=%v, want ErrStepNotReachable", err)
	}
	if n.Current() != 2 {
		t.Fatalf("failed jump moved the wizard to %d", n.Current())
	}
}

func TestNavigator_InitialState(t *testing.T) {
	n := fourSteps(t)
	s := n.State()
	if s.CurrentIndex != 0 || len(s.Completed) != 0 || s.HighestValidated != -1 || s.Complete {
		t.Fatalf("initial state=%+v", s)
	}
	if err := n.Previous(); !errors.Is(err, domain.ErrWizardAtFirstStep) {
		t.Fatalf("Previous() err=%v, want ErrWizardAtFirstStep", err)
	}
	if err := n.Next(); !errors.Is(err, domain.ErrStepNotValid) {
		t.Fatalf("Next() err=%v, want ErrStepNotValid", err)
	}
	if err := n.JumpTo(0); !errors.Is(err, domain.ErrStepNotReachable) {
		t.Fatalf("JumpTo(0) err=%v, want ErrStepNotReachable", err)
	}
}

func TestNavigator_AtLastStep(t *testing.T) {
	n, err := New([]Step{{Key: "only"}})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if err := n.Next(); !errors.Is(err, domain.ErrWizardAtLastStep) {
		t.Fatalf("Next() err=%v, want ErrWizardAtLastStep", err)
	}
}

func TestNavigator_PreviousKeepsLaterValidity(t *testing.T) {
	n := fourSteps(t)
	for i := 0; i < 3; i++ {
		if err := n.MarkStepValid(i); err != nil {
			t.Fatalf("MarkStepValid(%d) err=%v", i, err)
		}
		if err := n.Next(); err != nil {
			t.Fatalf("Next() err=%v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := n.Previous(); err != nil {
			t.Fatalf("Previous() err=%v", err)
		}
	}
	if got := n.State().Completed; !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("Completed=%v, want [0 1 2]", got)
	}
	if err := n.JumpTo(2); err != nil {
		t.Fatalf("JumpTo(2) err=%v", err)
	}
}

func TestNavigator_HighestSurvivesInvalidation(t *testing.T) {
	n := fourSteps(t)
	_ = n.MarkStepValid(0)
	_ = n.MarkStepValid(1)
	_ = n.MarkStepInvalid(1)
	if n.HighestValidated() != 1 {
		t.Fatalf("HighestValidated()=%d, want 1", n.HighestValidated())
	}
	if err := n.JumpTo(1); err != nil {
		t.Fatalf("JumpTo(1) err=%v", err)
	}
	if err := n.Next(); !errors.Is(err, domain.ErrStepNotValid) {
		t.Fatalf("Next() err=%v, want ErrStepNotValid", err)
	}
}

func TestNavigator_OutOfRange(t *testing.T) {
	n := fourSteps(t)
	for _, i := range []int{-1, 4} {
		if err := n.MarkStepValid(i); !errors.Is(err, domain.ErrStepOutOfRange) {
			t.Fatalf("MarkStepValid(%d) err=%v, want ErrStepOutOfRange", i, err)
		}
		if err := n.JumpTo(i); !errors.Is(err, domain.ErrStepOutOfRange) {
			t.Fatalf("JumpTo(%d) err=%v, want ErrStepOutOfRange", i, err)
		}
	}
}

func TestNavigator_CompleteAndSubmit(t *testing.T) {
	n := fourSteps(t)
	if err := n.Submit(nil); !errors.Is(err, domain.ErrWizardIncomplete) {
		t.Fatalf("Submit() err=%v, want ErrWizardIncomplete", err)
	}
	for i := 3; i >= 0; i-- {
		_ = n.MarkStepValid(i)
	}
	if !n.IsComplete() {
		t.Fatalf("IsComplete()=false with every step valid")
	}
	var submitted State
	if err := n.Submit(func(s State) error { submitted = s; return nil }); err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if !submitted.Complete {
		t.Fatalf("submitted state not complete: %+v", submitted)
	}
	boom := errors.New("boom")
	if err := n.Submit(func(State) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Submit() err=%v, want collaborator error", err)
	}
}

func TestNavigator_OperationLastRequestWins(t *testing.T) {
	n := fourSteps(t)
	first, err := n.BeginOperation(1)
	if err != nil {
		t.Fatalf("BeginOperation() err=%v", err)
	}
	if !n.Processing(1) {
		t.Fatalf("Processing(1)=false during operation")
	}
	if err := n.MarkStepValid(1); !errors.Is(err, domain.ErrStepBusy) {
		t.Fatalf("MarkStepValid() during operation err=%v, want ErrStepBusy", err)
	}

	second, _ := n.BeginOperation(1)
	if n.ResolveOperation(first, true) {
		t.Fatalf("superseded operation was applied")
	}
	if n.IsValid(1) {
		t.Fatalf("superseded result changed validity")
	}
	if !n.ResolveOperation(second, false) {
		t.Fatalf("latest operation was discarded")
	}
	if n.Processing(1) || n.IsValid(1) {
		t.Fatalf("after failed operation: processing=%v valid=%v", n.Processing(1), n.IsValid(1))
	}

	third, _ := n.BeginOperation(1)
	if !n.CancelOperation(third) {
		t.Fatalf("CancelOperation() = false")
	}
	if n.ResolveOperation(third, true) {
		t.Fatalf("cancelled operation was applied")
	}

	fourth, _ := n.BeginOperation(1)
	if !n.ResolveOperation(fourth, true) || !n.IsValid(1) || n.HighestValidated() != 1 {
		t.Fatalf("successful operation did not validate the step")
	}
}

func TestNavigator_OperationClearsValidity(t *testing.T) {
	n := fourSteps(t)
	for i := 0; i < n.Len(); i++ {
		if err := n.MarkStepValid(i); err != nil {
			t.Fatalf("MarkStepValid(%d) err=%v", i, err)
		}
	}
	if err := n.JumpTo(1); err != nil {
		t.Fatalf("JumpTo(1) err=%v", err)
	}
	op, err := n.BeginOperation(1)
	if err != nil {
		t.Fatalf("BeginOperation() err=%v", err)
	}
	if n.IsValid(1) {
		t.Fatalf("IsValid(1)=true while processing")
	}
	if err := n.Next(); !errors.Is(err, domain.ErrStepNotValid) {
		t.Fatalf("Next() while processing err=%v, want ErrStepNotValid", err)
	}
	if n.IsComplete() {
		t.Fatalf("IsComplete()=true while processing")
	}
	if err := n.Submit(nil); !errors.Is(err, domain.ErrWizardIncomplete) {
		t.Fatalf("Submit() while processing err=%v, want ErrWizardIncomplete", err)
	}
	if n.HighestValidated() != 3 {
		t.Fatalf("HighestValidated()=%d, want 3", n.HighestValidated())
	}

	if !n.ResolveOperation(op, true) {
		t.Fatalf("ResolveOperation() = false")
	}
	if err := n.Next(); err != nil {
		t.Fatalf("Next() after resolve err=%v", err)
	}
	if err := n.Submit(nil); err != nil {
		t.Fatalf("Submit() after resolve err=%v", err)
	}
}

func TestNavigator_JumpReachabilityProperty(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for run := 0; run < 300; run++ {
		n := fourSteps(t)
		maxEver := -1
		for step := 0; step < 20; step++ {
			i := r.Intn(4)
			switch r.Intn(5) {
			case 0, 1:
				_ = n.MarkStepValid(i)
				if i > maxEver {
					maxEver = i
				}
			case 2:
				_ = n.MarkStepInvalid(i)
			case 3:
				wasValid := n.IsValid(n.Current())
				atLast := n.Current() == n.Len()-1
				err := n.Next()
				if !atLast && !wasValid && !errors.Is(err, domain.ErrStepNotValid) {
					t.Fatalf("Next() on invalid step err=%v", err)
				}
			default:
				_ = n.Previous()
			}
			k := r.Intn(4)
			before := n.Current()
			err := n.JumpTo(k)
			if (err == nil) != (k <= maxEver) {
				t.Fatalf("JumpTo(%d) err=%v with highest=%d", k, err, maxEver)
			}
			if err == nil {
				if n.Current() != k {
					t.Fatalf("JumpTo(%d) landed on %d", k, n.Current())
				}
				_ = n.JumpTo(before)
			}
		}
	}
}

func TestRestore(t *testing.T) {
	n := fourSteps(t)
	_ = n.MarkStepValid(0)
	_ = n.Next()
	_ = n.MarkStepValid(1)
	_ = n.MarkStepInvalid(1)
	s := n.State()

	r, err := Restore(s)
	if err != nil {
		t.Fatalf("Restore() err=%v", err)
	}
	if !reflect.DeepEqual(r.State(), s) {
		t.Fatalf("Restore() state=%+v, want %+v", r.State(), s)
	}

	bad := s
	bad.CurrentIndex = 3
	if _, err := Restore(bad); !errors.Is(err, domain.ErrStepNotReachable) {
		t.Fatalf("Restore(unreachable) err=%v, want ErrStepNotReachable", err)
	}
	bad = s
	bad.Completed = []int{9}
	if _, err := Restore(bad); !errors.Is(err, domain.ErrStepOutOfRange) {
		t.Fatalf("Restore(out of range) err=%v, want ErrStepOutOfRange", err)
	}
}

func TestNew_RejectsBadSteps(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("New(nil) expected error")
	}
	if _, err := New([]Step{{Key: "a"}, {Key: "a"}}); err == nil {
		t.Fatalf("New(duplicate) expected error")
	}
	if _, err := New([]Step{{Key: " "}}); err == nil {
		t.Fatalf("New(blank key) expected error")
	}
}

func TestFlows(t *testing.T) {
	flows := DefaultFlows()
	n, err := flows.Start(FlowDataCollection)
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if n.Len() != 4 || n.CurrentStep().Title != "Account Setup" {
		t.Fatalf("data-collection flow=%+v", n.Steps())
	}
	if _, err := flows.Start("payroll"); !errors.Is(err, ErrUnknownFlow) {
		t.Fatalf("Start(payroll) err=%v, want ErrUnknownFlow", err)
	}
	if got := flows.Names(); !reflect.DeepEqual(got, []string{FlowAccountSetup, FlowDataCollection}) {
		t.Fatalf("Names()=%v", got)
	}
}

func TestLoadFlows(t *testing.T) {
	in := `
flows:
  enrollment:
    - key: census
      title: Census
      domain: eligibilityFile
      upload: true
    - key: confirm
      title: Confirm
`
	flows, err := LoadFlows(strings.NewReader(in))
	if err != nil {
		t.Fatalf("LoadFlows() err=%v", err)
	}
	steps := flows["enrollment"]
	if len(steps) != 2 || !steps[0].Upload || steps[0].Domain != "eligibilityFile" {
		t.Fatalf("enrollment=%+v", steps)
	}

	if _, err := LoadFlows(strings.NewReader("flows:\n  x:\n    - key: a\n      colour: red\n")); err == nil {
		t.Fatalf("LoadFlows() accepted unknown field")
	}
	if _, err := LoadFlows(strings.NewReader("flows:\n  x:\n    - key: a\n    - key: a\n")); err == nil {
		t.Fatalf("LoadFlows() accepted duplicate keys")
	}
}
