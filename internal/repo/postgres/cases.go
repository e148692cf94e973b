package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/groupinstall/installportal/internal/caseload"
	"github.com/groupinstall/installportal/internal/domain"
	pgplatform "github.com/groupinstall/installportal/internal/platform/postgres"
	"github.com/groupinstall/installportal/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EnsureSchema creates the portal tables if they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const (
	insertCaseQuery = `INSERT INTO portal_cases (case_id, client_name, assigned_team, document, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,1,$5,$5)`
	selectCaseQuery = `SELECT document, version, updated_at FROM portal_cases WHERE case_id = $1`
	updateCaseQuery = `UPDATE portal_cases
		SET client_name = $2, assigned_team = $3, document = $4, version = version + 1, updated_at = $5
		WHERE case_id = $1 AND version = $6`
	selectVersionQuery = `SELECT version FROM portal_cases WHERE case_id = $1`
	listCasesQuery     = `SELECT document, version, updated_at FROM portal_cases
		WHERE ($1 = '' OR lower(assigned_team) = lower($1))
		ORDER BY case_id
		LIMIT $2`
)

// CaseStore keeps each case as a JSONB document alongside a version column.
type CaseStore struct {
	db  DB
	now func() time.Time
}

func NewCaseStore(db DB) *CaseStore {
	if db == nil {
		return nil
	}
	return &CaseStore{db: db, now: time.Now}
}

func (s *CaseStore) Create(ctx context.Context, c domain.Case) (repo.StoredCase, error) {
	if s == nil || s.db == nil {
		return repo.StoredCase{}, fmt.Errorf("case store not initialized")
	}
	id := strings.TrimSpace(c.ID)
	if id == "" {
		return repo.StoredCase{}, fmt.Errorf("case id is required")
	}
	doc, err := caseload.Encode(c)
	if err != nil {
		return repo.StoredCase{}, fmt.Errorf("encode case: %w", err)
	}
	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, insertCaseQuery, id, c.ClientName, c.AssignedTeam, doc, now)
	if err != nil {
		if pgplatform.IsUniqueViolation(err) {
			return repo.StoredCase{}, fmt.Errorf("%w: case %s exists", repo.ErrConflict, id)
		}
		return repo.StoredCase{}, fmt.Errorf("insert case: %w", err)
	}
	return repo.StoredCase{Case: c.Clone(), Version: 1, UpdatedAt: now}, nil
}

func (s *CaseStore) Get(ctx context.Context, id string) (repo.StoredCase, error) {
	if s == nil || s.db == nil {
		return repo.StoredCase{}, fmt.Errorf("case store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return repo.StoredCase{}, fmt.Errorf("case id is required")
	}
	row := s.db.QueryRowContext(ctx, selectCaseQuery, id)
	return scanCase(row)
}

func (s *CaseStore) Update(ctx context.Context, c domain.Case, expectedVersion int64) (repo.StoredCase, error) {
	if s == nil || s.db == nil {
		return repo.StoredCase{}, fmt.Errorf("case store not initialized")
	}
	id := strings.TrimSpace(c.ID)
	doc, err := caseload.Encode(c)
	if err != nil {
		return repo.StoredCase{}, fmt.Errorf("encode case: %w", err)
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, updateCaseQuery, id, c.ClientName, c.AssignedTeam, doc, now, expectedVersion)
	if err != nil {
		return repo.StoredCase{}, fmt.Errorf("update case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return repo.StoredCase{}, fmt.Errorf("update case: %w", err)
	}
	if n == 0 {
		var current int64
		if err := s.db.QueryRowContext(ctx, selectVersionQuery, id).Scan(&current); err != nil {
			return repo.StoredCase{}, handleNotFound(err)
		}
		return repo.StoredCase{}, fmt.Errorf("%w: case %s at version %d, not %d", repo.ErrConflict, id, current, expectedVersion)
	}
	return repo.StoredCase{Case: c.Clone(), Version: expectedVersion + 1, UpdatedAt: now}, nil
}

func (s *CaseStore) List(ctx context.Context, filter repo.CaseFilter) ([]repo.StoredCase, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store not initialized")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, listCasesQuery, strings.TrimSpace(filter.AssignedTeam), limit)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	out := make([]repo.StoredCase, 0)
	for rows.Next() {
		sc, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (repo.StoredCase, error) {
	var (
		doc       []byte
		version   int64
		updatedAt time.Time
	)
	if err := row.Scan(&doc, &version, &updatedAt); err != nil {
		return repo.StoredCase{}, handleNotFound(err)
	}
	c, err := caseload.Load(doc)
	if err != nil {
		return repo.StoredCase{}, fmt.Errorf("decode stored case: %w", err)
	}
	return repo.StoredCase{Case: c, Version: version, UpdatedAt: updatedAt.UTC()}, nil
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}
