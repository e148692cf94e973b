// Package auth identifies portal callers from gateway-signed headers and
// checks their role against the request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/groupinstall/installportal/internal/platform/env"
)

type Mode string

const (
	ModeGateway  Mode = "gateway"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type Config struct {
	Mode Mode

	InternalSecret string
	MaxSkew        time.Duration

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	maxSkew, err := env.Duration("PORTAL_AUTH_MAX_SKEW", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Mode:           Mode(strings.ToLower(env.String("PORTAL_AUTH_MODE", string(ModeDev)))),
		InternalSecret: env.String("PORTAL_INTERNAL_AUTH_SECRET", ""),
		MaxSkew:        maxSkew,
		DevSubject:     env.String("PORTAL_DEV_SUBJECT", "dev-user"),
		DevEmail:       env.String("PORTAL_DEV_EMAIL", ""),
		DevRoles:       env.List("PORTAL_DEV_ROLES", []string{RoleAdmin}),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeGateway:
		if strings.TrimSpace(c.InternalSecret) == "" {
			return errors.New("PORTAL_INTERNAL_AUTH_SECRET is required in gateway mode")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("PORTAL_DEV_SUBJECT is required in dev mode")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("unknown auth mode %q", c.Mode)
	}
	return nil
}

// NewAuthenticator returns the authenticator for c.Mode, or nil when
// authentication is disabled.
func NewAuthenticator(c Config) (Authenticator, error) {
	switch c.Mode {
	case ModeGateway:
		a, err := NewGatewayHeadersAuthenticator(c.InternalSecret)
		if err != nil {
			return nil, err
		}
		if c.MaxSkew > 0 {
			a.MaxSkew = c.MaxSkew
		}
		return a, nil
	case ModeDev:
		return DevAuthenticator{Identity: Identity{Subject: c.DevSubject, Email: c.DevEmail, Roles: c.DevRoles}}, nil
	case ModeDisabled:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", c.Mode)
	}
}

// DevAuthenticator accepts every request as a fixed identity.
type DevAuthenticator struct {
	Identity Identity
}

func (d DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return d.Identity, nil
}

func parseCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
