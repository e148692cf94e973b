package upload

import (
	"time"

	"github.com/groupinstall/installportal/internal/domain"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
)

// Record tracks one upload attempt for a wizard step.
type Record struct {
	ID         string                    `json:"upload_id"`
	CaseID     string                    `json:"case_id"`
	Flow       string                    `json:"flow"`
	Step       int                       `json:"step"`
	Generation uint64                    `json:"generation"`
	Object     ObjectRef                 `json:"object"`
	Status     Status                    `json:"status"`
	Message    string                    `json:"message,omitempty"`
	Checks     []domain.Check            `json:"checks,omitempty"`
	Summary    *domain.ExtractionSummary `json:"summary,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt *time.Time                `json:"finished_at,omitempty"`
}

func (r Record) Finish(status Status, message string, now time.Time) Record {
	t := now.UTC()
	r.Status = status
	r.Message = message
	r.FinishedAt = &t
	return r
}
