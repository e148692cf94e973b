// Package repo defines persistence for installation cases.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/groupinstall/installportal/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// StoredCase is a case together with its optimistic-concurrency version.
type StoredCase struct {
	Case      domain.Case
	Version   int64
	UpdatedAt time.Time
}

type CaseFilter struct {
	AssignedTeam string
	Limit        int
}

// CaseRepository manages cases. Update succeeds only when expectedVersion
// matches the stored version, and bumps it by one.
type CaseRepository interface {
	Create(ctx context.Context, c domain.Case) (StoredCase, error)
	Get(ctx context.Context, id string) (StoredCase, error)
	Update(ctx context.Context, c domain.Case, expectedVersion int64) (StoredCase, error)
	List(ctx context.Context, filter CaseFilter) ([]StoredCase, error)
}
