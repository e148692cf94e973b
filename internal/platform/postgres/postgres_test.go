package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.MaxOpenConns != 10 || cfg.MaxIdleConns != 5 {
		t.Fatalf("pool=%d/%d, want 10/5", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
}

func TestConfigFromEnv_RejectsIdleAboveOpen(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "2")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "3")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected error")
	}
}

func TestConfigValidate_RequiresURL(t *testing.T) {
	cfg := Config{PingTimeout: 1, MaxOpenConns: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() expected error for empty URL")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(wrapped) {
		t.Fatalf("IsUniqueViolation()=false, want true")
	}
	if IsUniqueViolation(errors.New("other")) {
		t.Fatalf("IsUniqueViolation()=true, want false")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("IsUniqueViolation() matched foreign key violation")
	}
}

func TestConfigFromEnv_PortalURLWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://a@db-a:5432/a")
	t.Setenv("PORTAL_DATABASE_URL", "postgres://b@db-b:5432/b")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL != "postgres://b@db-b:5432/b" {
		t.Fatalf("URL=%q, want PORTAL_DATABASE_URL", cfg.URL)
	}
}

func TestConnConfig_RuntimeParams(t *testing.T) {
	cfg := Config{
		URL:              "postgres://portal:pw@localhost:5432/portal?sslmode=disable",
		ApplicationName:  "portal-test",
		StatementTimeout: 1500 * time.Millisecond,
	}
	connCfg, err := cfg.ConnConfig()
	if err != nil {
		t.Fatalf("ConnConfig() err=%v", err)
	}
	if got := connCfg.RuntimeParams["application_name"]; got != "portal-test" {
		t.Fatalf("application_name=%q, want portal-test", got)
	}
	if got := connCfg.RuntimeParams["statement_timeout"]; got != "1500" {
		t.Fatalf("statement_timeout=%q, want 1500", got)
	}
	if connCfg.Database != "portal" || connCfg.User != "portal" {
		t.Fatalf("database=%q user=%q", connCfg.Database, connCfg.User)
	}

	if _, err := (Config{URL: "://nope"}).ConnConfig(); err == nil {
		t.Fatalf("ConnConfig() accepted a bad URL")
	}
}
