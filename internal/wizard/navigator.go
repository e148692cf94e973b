// Package wizard gates progress through an ordered set of steps on each
// step's validity.
package wizard

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/groupinstall/installportal/internal/domain"
)

// Step describes one wizard page. Domain optionally names the validation
// domain whose result decides the step's validity.
type Step struct {
	Key    string `json:"key" yaml:"key"`
	Title  string `json:"title" yaml:"title"`
	Domain string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Upload bool   `json:"upload,omitempty" yaml:"upload,omitempty"`
}

// Operation identifies one outstanding asynchronous action on a step.
type Operation struct {
	Step int
	Seq  uint64
}

// Navigator is not safe for concurrent use; a session owns it.
type Navigator struct {
	steps     []Step
	current   int
	completed map[int]bool
	highest   int
	pending   map[int]uint64
	seq       uint64
}

func New(steps []Step) (*Navigator, error) {
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	return &Navigator{
		steps:     append([]Step(nil), steps...),
		completed: map[int]bool{},
		highest:   -1,
		pending:   map[int]uint64{},
	}, nil
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("wizard needs at least one step")
	}
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		key := strings.TrimSpace(s.Key)
		if key == "" {
			return fmt.Errorf("step %d: key is required", i)
		}
		if seen[key] {
			return fmt.Errorf("step %d: duplicate key %q", i, key)
		}
		seen[key] = true
	}
	return nil
}

func (n *Navigator) Steps() []Step      { return append([]Step(nil), n.steps...) }
func (n *Navigator) Current() int       { return n.current }
func (n *Navigator) CurrentStep() Step  { return n.steps[n.current] }
func (n *Navigator) Len() int           { return len(n.steps) }
func (n *Navigator) IsValid(i int) bool { return n.completed[i] }

// HighestValidated is the largest index ever marked valid, or -1.
func (n *Navigator) HighestValidated() int { return n.highest }

// Next advances one step. The current step must be valid.
func (n *Navigator) Next() error {
	if n.current == len(n.steps)-1 {
		return domain.ErrWizardAtLastStep
	}
	if !n.completed[n.current] {
		return fmt.Errorf("%w: %s", domain.ErrStepNotValid, n.steps[n.current].Key)
	}
	n.current++
	return nil
}

// Previous goes back one step. Validity of later steps is kept.
func (n *Navigator) Previous() error {
	if n.current == 0 {
		return domain.ErrWizardAtFirstStep
	}
	n.current--
	return nil
}

// JumpTo moves to any index up to the highest one ever validated.
func (n *Navigator) JumpTo(index int) error {
	if err := n.checkIndex(index); err != nil {
		return err
	}
	if index > n.highest {
		return fmt.Errorf("%w: %d", domain.ErrStepNotReachable, index)
	}
	n.current = index
	return nil
}

func (n *Navigator) MarkStepValid(index int) error {
	if err := n.checkMutable(index); err != nil {
		return err
	}
	n.setValid(index, true)
	return nil
}

func (n *Navigator) MarkStepInvalid(index int) error {
	if err := n.checkMutable(index); err != nil {
		return err
	}
	n.setValid(index, false)
	return nil
}

func (n *Navigator) setValid(index int, valid bool) {
	if !valid {
		delete(n.completed, index)
		return
	}
	n.completed[index] = true
	if index > n.highest {
		n.highest = index
	}
}

// IsComplete reports whether every step is valid.
func (n *Navigator) IsComplete() bool {
	for i := range n.steps {
		if !n.completed[i] {
			return false
		}
	}
	return true
}

// Submit hands the final state to submit once every step is valid.
func (n *Navigator) Submit(submit func(State) error) error {
	if !n.IsComplete() {
		return domain.ErrWizardIncomplete
	}
	if submit == nil {
		return nil
	}
	return submit(n.State())
}

// BeginOperation records a new outstanding operation on a step, superseding
// any earlier one. The step is not valid while the operation is outstanding,
// and its validity can only be set through ResolveOperation with the
// returned token.
func (n *Navigator) BeginOperation(index int) (Operation, error) {
	if err := n.checkIndex(index); err != nil {
		return Operation{}, err
	}
	n.seq++
	n.pending[index] = n.seq
	delete(n.completed, index)
	return Operation{Step: index, Seq: n.seq}, nil
}

// ResolveOperation applies an operation's outcome. A superseded or
// cancelled operation is discarded and reports false.
func (n *Navigator) ResolveOperation(op Operation, valid bool) bool {
	if seq, ok := n.pending[op.Step]; !ok || seq != op.Seq {
		return false
	}
	delete(n.pending, op.Step)
	n.setValid(op.Step, valid)
	return true
}

// CancelOperation drops op if it is still the latest for its step.
func (n *Navigator) CancelOperation(op Operation) bool {
	if seq, ok := n.pending[op.Step]; !ok || seq != op.Seq {
		return false
	}
	delete(n.pending, op.Step)
	return true
}

// Processing reports whether a step has an outstanding operation.
func (n *Navigator) Processing(index int) bool {
	_, ok := n.pending[index]
	return ok
}

func (n *Navigator) checkIndex(index int) error {
	if index < 0 || index >= len(n.steps) {
		return fmt.Errorf("%w: %d", domain.ErrStepOutOfRange, index)
	}
	return nil
}

func (n *Navigator) checkMutable(index int) error {
	if err := n.checkIndex(index); err != nil {
		return err
	}
	if n.Processing(index) {
		return fmt.Errorf("%w: %s", domain.ErrStepBusy, n.steps[index].Key)
	}
	return nil
}

// State is a read-only view of the navigator.
type State struct {
	Steps            []Step `json:"steps"`
	CurrentIndex     int    `json:"current_index"`
	Completed        []int  `json:"completed"`
	HighestValidated int    `json:"highest_validated"`
	Processing       []int  `json:"processing,omitempty"`
	Complete         bool   `json:"complete"`
}

func (n *Navigator) State() State {
	s := State{
		Steps:            n.Steps(),
		CurrentIndex:     n.current,
		Completed:        sortedKeys(n.completed),
		HighestValidated: n.highest,
		Complete:         n.IsComplete(),
	}
	for i := range n.pending {
		s.Processing = append(s.Processing, i)
	}
	sort.Ints(s.Processing)
	return s
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

// Restore rebuilds a navigator from a checkpointed state. Outstanding
// operations are not restored.
func Restore(s State) (*Navigator, error) {
	n, err := New(s.Steps)
	if err != nil {
		return nil, err
	}
	if err := n.checkIndex(s.CurrentIndex); err != nil {
		return nil, err
	}
	if s.HighestValidated < -1 || s.HighestValidated >= len(s.Steps) {
		return nil, fmt.Errorf("%w: highest validated %d", domain.ErrStepOutOfRange, s.HighestValidated)
	}
	for _, i := range s.Completed {
		if err := n.checkIndex(i); err != nil {
			return nil, err
		}
		n.setValid(i, true)
	}
	if s.HighestValidated > n.highest {
		n.highest = s.HighestValidated
	}
	if s.CurrentIndex > 0 && s.CurrentIndex > n.highest+1 {
		return nil, fmt.Errorf("%w: current index %d", domain.ErrStepNotReachable, s.CurrentIndex)
	}
	n.current = s.CurrentIndex
	return n, nil
}
