// Package auditlog records an append-only trail of case changes. Each event
// carries a sha256 over its canonical JSON so tampering is detectable.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const resourceCase = "case"

const (
	ActionCaseCreated         = "case.created"
	ActionMilestoneTransition = "milestone.transition"
	ActionValidationUpdated   = "validation.updated"
	ActionCartChanged         = "cart.changed"
	ActionWizardSubmitted     = "wizard.submitted"
	ActionUploadResolved      = "upload.resolved"
)

type Event struct {
	OccurredAt time.Time
	Actor      string
	Action     string
	CaseID     string
	RequestID  string
	Payload    any
}

// Record is a stored event.
type Record struct {
	ID              int64           `json:"event_id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Actor           string          `json:"actor"`
	Action          string          `json:"action"`
	CaseID          string          `json:"case_id"`
	RequestID       string          `json:"request_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	IntegritySHA256 string          `json:"integrity_sha256"`
}

// Recorder appends events and lists them per case, oldest first.
type Recorder interface {
	Record(ctx context.Context, event Event) (Record, error)
	List(ctx context.Context, caseID string, limit int) ([]Record, error)
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.CaseID) == "" {
		return errors.New("CaseID is required")
	}
	return nil
}

// prepare normalizes event and returns its record without an id.
func prepare(event Event) (Record, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if strings.TrimSpace(event.Actor) == "" {
		event.Actor = "system"
	}
	if err := event.Validate(); err != nil {
		return Record{}, err
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal payload: %w", err)
	}
	rec := Record{
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      strings.TrimSpace(event.Actor),
		Action:     strings.TrimSpace(event.Action),
		CaseID:     strings.TrimSpace(event.CaseID),
		RequestID:  strings.TrimSpace(event.RequestID),
		Payload:    payloadJSON,
	}
	rec.IntegritySHA256, err = ComputeIntegritySHA256(rec)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func ComputeIntegritySHA256(rec Record) (string, error) {
	type integrityInput struct {
		OccurredAt   time.Time       `json:"occurred_at"`
		Actor        string          `json:"actor"`
		Action       string          `json:"action"`
		ResourceType string          `json:"resource_type"`
		ResourceID   string          `json:"resource_id"`
		RequestID    string          `json:"request_id,omitempty"`
		Payload      json.RawMessage `json:"payload"`
	}
	blob, err := json.Marshal(integrityInput{
		OccurredAt:   rec.OccurredAt.UTC(),
		Actor:        rec.Actor,
		Action:       rec.Action,
		ResourceType: resourceCase,
		ResourceID:   rec.CaseID,
		RequestID:    rec.RequestID,
		Payload:      rec.Payload,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the integrity hash of a stored record.
func Verify(rec Record) bool {
	want, err := ComputeIntegritySHA256(rec)
	return err == nil && want == rec.IntegritySHA256
}

type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	insertEventQuery = `INSERT INTO audit_events (
			occurred_at,
			actor,
			action,
			resource_type,
			resource_id,
			request_id,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING event_id`
	listEventsQuery = `SELECT event_id, occurred_at, actor, action, resource_id, request_id, payload, integrity_sha256
		FROM audit_events
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY event_id
		LIMIT $3`
)

// Postgres stores events in the audit_events table.
type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres {
	if db == nil {
		return nil
	}
	return &Postgres{db: db}
}

func (p *Postgres) Record(ctx context.Context, event Event) (Record, error) {
	if p == nil || p.db == nil {
		return Record{}, errors.New("audit store not initialized")
	}
	rec, err := prepare(event)
	if err != nil {
		return Record{}, err
	}
	var requestID sql.NullString
	if rec.RequestID != "" {
		requestID = sql.NullString{String: rec.RequestID, Valid: true}
	}
	err = p.db.QueryRowContext(
		ctx,
		insertEventQuery,
		rec.OccurredAt,
		rec.Actor,
		rec.Action,
		resourceCase,
		rec.CaseID,
		requestID,
		[]byte(rec.Payload),
		rec.IntegritySHA256,
	).Scan(&rec.ID)
	if err != nil {
		return Record{}, fmt.Errorf("insert audit event: %w", err)
	}
	return rec, nil
}

func (p *Postgres) List(ctx context.Context, caseID string, limit int) ([]Record, error) {
	if p == nil || p.db == nil {
		return nil, errors.New("audit store not initialized")
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, listEventsQuery, resourceCase, strings.TrimSpace(caseID), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec       Record
			requestID sql.NullString
			payload   []byte
		)
		if err := rows.Scan(&rec.ID, &rec.OccurredAt, &rec.Actor, &rec.Action, &rec.CaseID, &requestID, &payload, &rec.IntegritySHA256); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		rec.OccurredAt = rec.OccurredAt.UTC()
		rec.RequestID = requestID.String
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}

// Memory keeps events in process memory.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	events []Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(ctx context.Context, event Event) (Record, error) {
	rec, err := prepare(event)
	if err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.events = append(m.events, rec)
	return rec, nil
}

func (m *Memory) List(ctx context.Context, caseID string, limit int) ([]Record, error) {
	caseID = strings.TrimSpace(caseID)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, rec := range m.events {
		if rec.CaseID != caseID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
