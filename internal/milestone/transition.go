package milestone

import (
	"errors"
	"fmt"
	"time"

	"github.com/groupinstall/installportal/internal/domain"
)

// Kind names a milestone or task transition.
type Kind string

const (
	KindStartMilestone    Kind = "start_milestone"
	KindCompleteMilestone Kind = "complete_milestone"
	KindSetProgress       Kind = "set_progress"
	KindStartTask         Kind = "start_task"
	KindCompleteTask      Kind = "complete_task"
)

// Transition is one requested change to a case's milestones.
type Transition struct {
	Kind        Kind
	MilestoneID int
	Task        string
	Progress    int
}

// Apply validates t against c and, if legal, returns the updated copy.
// On error the returned case is c itself, untouched.
func Apply(c domain.Case, t Transition, now time.Time) (domain.Case, error) {
	switch t.Kind {
	case KindStartMilestone:
		return StartMilestone(c, t.MilestoneID, now)
	case KindCompleteMilestone:
		return CompleteMilestone(c, t.MilestoneID, now)
	case KindSetProgress:
		return SetManualProgress(c, t.MilestoneID, t.Progress)
	case KindStartTask:
		return StartTask(c, t.MilestoneID, t.Task, now)
	case KindCompleteTask:
		return CompleteTask(c, t.MilestoneID, t.Task, now)
	default:
		return c, invalid("unknown transition %q", t.Kind)
	}
}

// StartMilestone moves a pending milestone to in_progress. The previous
// milestone must be completed and nothing else may be in progress.
func StartMilestone(c domain.Case, id int, now time.Time) (domain.Case, error) {
	idx, err := lookup(c, id)
	if err != nil {
		return c, err
	}
	m := c.Milestones[idx]
	if !m.Status.CanTransition(domain.MilestoneInProgress) {
		return c, invalid("milestone %d is %s", id, m.Status)
	}
	if cur, ok := domain.CurrentMilestone(c); ok {
		return c, invalid("milestone %d is already in progress", cur.ID)
	}
	if idx > 0 && c.Milestones[idx-1].Status != domain.MilestoneCompleted {
		return c, invalid("milestone %d cannot start before milestone %d completes", id, c.Milestones[idx-1].ID)
	}

	out := c.Clone()
	started := now.UTC()
	out.Milestones[idx].Status = domain.MilestoneInProgress
	out.Milestones[idx].StartedAt = &started
	return out, nil
}

// CompleteMilestone finishes a task-less in-progress milestone. Milestones
// with tasks complete when their last task does.
func CompleteMilestone(c domain.Case, id int, now time.Time) (domain.Case, error) {
	idx, err := lookup(c, id)
	if err != nil {
		return c, err
	}
	m := c.Milestones[idx]
	if m.Status != domain.MilestoneInProgress {
		return c, invalid("milestone %d is %s", id, m.Status)
	}
	if len(m.Tasks) > 0 {
		return c, invalid("milestone %d completes through its tasks", id)
	}

	out := c.Clone()
	complete(&out.Milestones[idx], now)
	return out, nil
}

// SetManualProgress records progress for an in-progress milestone without
// tasks. Progress only moves forward.
func SetManualProgress(c domain.Case, id int, progress int) (domain.Case, error) {
	idx, err := lookup(c, id)
	if err != nil {
		return c, err
	}
	m := c.Milestones[idx]
	if m.Status != domain.MilestoneInProgress {
		return c, invalid("milestone %d is %s", id, m.Status)
	}
	if len(m.Tasks) > 0 {
		return c, invalid("milestone %d progress is derived from its tasks", id)
	}
	if progress < 0 || progress > 100 {
		return c, invalid("progress %d outside 0..100", progress)
	}
	if cur := MilestoneProgress(m); progress < cur {
		return c, invalid("progress cannot drop from %d to %d", cur, progress)
	}

	out := c.Clone()
	p := progress
	out.Milestones[idx].ManualProgress = &p
	return out, nil
}

func StartTask(c domain.Case, milestoneID int, task string, now time.Time) (domain.Case, error) {
	idx, tidx, err := lookupTask(c, milestoneID, task)
	if err != nil {
		return c, err
	}
	t := c.Milestones[idx].Tasks[tidx]
	if t.Status != domain.TaskPending {
		return c, invalid("task %q is %s", task, t.Status)
	}

	out := c.Clone()
	out.Milestones[idx].Tasks[tidx].Status = domain.TaskInProgress
	return out, nil
}

// CompleteTask finishes a task. Completing the last open task completes the
// milestone at the same instant.
func CompleteTask(c domain.Case, milestoneID int, task string, now time.Time) (domain.Case, error) {
	idx, tidx, err := lookupTask(c, milestoneID, task)
	if err != nil {
		return c, err
	}
	t := c.Milestones[idx].Tasks[tidx]
	if !t.Status.CanTransition(domain.TaskCompleted) {
		return c, invalid("task %q is %s", task, t.Status)
	}

	out := c.Clone()
	m := &out.Milestones[idx]
	at := now.UTC()
	m.Tasks[tidx].Status = domain.TaskCompleted
	m.Tasks[tidx].CompletedAt = &at
	if allTasksCompleted(*m) {
		complete(m, now)
	}
	return out, nil
}

func complete(m *domain.Milestone, now time.Time) {
	at := now.UTC()
	m.Status = domain.MilestoneCompleted
	m.CompletedDate = &at
	m.ManualProgress = nil
	if m.StartedAt != nil {
		m.DaysToComplete = domain.DaysUntil(domain.DateOf(at), *m.StartedAt)
	}
}

func allTasksCompleted(m domain.Milestone) bool {
	for _, t := range m.Tasks {
		if t.Status != domain.TaskCompleted {
			return false
		}
	}
	return true
}

func lookup(c domain.Case, id int) (int, error) {
	idx := c.MilestoneIndex(id)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %w: %d", domain.ErrInvalidMilestoneTransition, domain.ErrMilestoneNotFound, id)
	}
	return idx, nil
}

// lookupTask resolves a task of the in-progress milestone.
func lookupTask(c domain.Case, milestoneID int, task string) (int, int, error) {
	idx, err := lookup(c, milestoneID)
	if err != nil {
		return -1, -1, err
	}
	m := c.Milestones[idx]
	tidx := -1
	for i, t := range m.Tasks {
		if t.Name == task {
			tidx = i
			break
		}
	}
	if tidx < 0 {
		return -1, -1, fmt.Errorf("%w: %w: %q in milestone %d", domain.ErrInvalidMilestoneTransition, domain.ErrTaskNotFound, task, milestoneID)
	}
	if m.Status != domain.MilestoneInProgress {
		return -1, -1, invalid("milestone %d is %s", milestoneID, m.Status)
	}
	return idx, tidx, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidMilestoneTransition, fmt.Sprintf(format, args...))
}

// CheckInvariants reports the first violated milestone invariant: ids
// strictly increasing, statuses shaped completed* in_progress? pending*,
// and task states consistent with their milestone.
func CheckInvariants(c domain.Case) error {
	phase := 0 // 0 completed, 1 in_progress seen, 2 pending seen
	for i, m := range c.Milestones {
		if i > 0 && m.ID <= c.Milestones[i-1].ID {
			return fmt.Errorf("milestone ids must be unique and ascending: %d after %d", m.ID, c.Milestones[i-1].ID)
		}
		if !m.Status.Valid() {
			return fmt.Errorf("milestone %d: unknown status %q", m.ID, m.Status)
		}
		switch m.Status {
		case domain.MilestoneCompleted:
			if phase > 0 {
				return fmt.Errorf("milestone %d is completed after an unfinished milestone", m.ID)
			}
		case domain.MilestoneInProgress:
			if phase > 0 {
				return fmt.Errorf("milestone %d is in progress after an unfinished milestone", m.ID)
			}
			phase = 1
		case domain.MilestonePending:
			phase = 2
		}
		if err := checkTasks(m); err != nil {
			return err
		}
	}
	return nil
}

func checkTasks(m domain.Milestone) error {
	names := make(map[string]bool, len(m.Tasks))
	open := 0
	for _, t := range m.Tasks {
		if t.Name == "" {
			return fmt.Errorf("milestone %d: task name is required", m.ID)
		}
		if names[t.Name] {
			return fmt.Errorf("milestone %d: duplicate task %q", m.ID, t.Name)
		}
		names[t.Name] = true
		if !t.Status.Valid() {
			return fmt.Errorf("milestone %d task %q: unknown status %q", m.ID, t.Name, t.Status)
		}
		if t.Status != domain.TaskCompleted {
			open++
		}
		switch {
		case m.Status == domain.MilestoneCompleted && t.Status != domain.TaskCompleted:
			return fmt.Errorf("milestone %d is completed but task %q is %s", m.ID, t.Name, t.Status)
		case m.Status == domain.MilestonePending && t.Status != domain.TaskPending:
			return fmt.Errorf("milestone %d is pending but task %q is %s", m.ID, t.Name, t.Status)
		}
	}
	if m.Status == domain.MilestoneInProgress && len(m.Tasks) > 0 && open == 0 {
		return fmt.Errorf("milestone %d has every task completed but is still in progress", m.ID)
	}
	return nil
}

// IsInvalidTransition reports whether err is a rejected transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, domain.ErrInvalidMilestoneTransition)
}
