// Package milestone holds the milestone and task state machine and the
// progress figures derived from it.
package milestone

import (
	"github.com/groupinstall/installportal/internal/domain"
)

// MilestoneProgress derives a milestone's percentage. In-progress milestones
// with tasks report round(100*done/total); without tasks they report the
// manually supplied value, or 0.
func MilestoneProgress(m domain.Milestone) int {
	switch m.Status {
	case domain.MilestoneCompleted:
		return 100
	case domain.MilestoneInProgress:
	default:
		return 0
	}
	if len(m.Tasks) == 0 {
		if m.ManualProgress == nil {
			return 0
		}
		return clampPercent(*m.ManualProgress)
	}
	done := 0
	for _, t := range m.Tasks {
		if t.Status == domain.TaskCompleted {
			done++
		}
	}
	return roundDiv(100*done, len(m.Tasks))
}

// CaseProgress blends whole milestones with the current one's percentage:
// round(100*(completed + current/100)/total). Every milestone weighs the same.
func CaseProgress(c domain.Case) int {
	total := len(c.Milestones)
	if total == 0 {
		return 0
	}
	completed := 0
	current := 0
	for _, m := range c.Milestones {
		switch m.Status {
		case domain.MilestoneCompleted:
			completed++
		case domain.MilestoneInProgress:
			current = MilestoneProgress(m)
		}
	}
	return roundDiv(100*completed+current, total)
}

type StatusCounts struct {
	Completed  int
	InProgress int
	Pending    int
}

func Counts(c domain.Case) StatusCounts {
	var out StatusCounts
	for _, m := range c.Milestones {
		switch m.Status {
		case domain.MilestoneCompleted:
			out.Completed++
		case domain.MilestoneInProgress:
			out.InProgress++
		default:
			out.Pending++
		}
	}
	return out
}

// Band labels a case progress percentage.
type Band string

const (
	BandEarly       Band = "early"
	BandStarted     Band = "started"
	BandProgressing Band = "progressing"
	BandOnTrack     Band = "on_track"
)

func ProgressBand(progress int) Band {
	switch {
	case progress >= 75:
		return BandOnTrack
	case progress >= 50:
		return BandProgressing
	case progress >= 25:
		return BandStarted
	default:
		return BandEarly
	}
}

// OpenTask is a task still waiting on someone.
type OpenTask struct {
	MilestoneID   int
	MilestoneName string
	Task          string
	Status        domain.TaskStatus
}

// OpenTasks lists the unfinished tasks of the current milestone.
func OpenTasks(c domain.Case) []OpenTask {
	m, ok := domain.CurrentMilestone(c)
	if !ok {
		return nil
	}
	var out []OpenTask
	for _, t := range m.Tasks {
		if t.Status == domain.TaskCompleted {
			continue
		}
		out = append(out, OpenTask{MilestoneID: m.ID, MilestoneName: m.Name, Task: t.Name, Status: t.Status})
	}
	return out
}

// roundDiv returns num/den rounded half up. Both must be non-negative.
func roundDiv(num, den int) int {
	return (2*num + den) / (2 * den)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
