package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Portal roles, lowest first. Clients (the employer-group administrator)
// drive wizards, uploads and plan selection; the implementation team owns
// case records, milestones and validation results.
const (
	RoleViewer         = "viewer"
	RoleClient         = "client"
	RoleImplementation = "implementation"
	RoleAdmin          = "admin"
)

var roleLevels = map[string]int{
	RoleViewer:         1,
	RoleClient:         2,
	RoleImplementation: 3,
	RoleAdmin:          4,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		level := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

// RequiredRoleForRequest: reads need viewer. Creating cases, milestone
// transitions and validation results need implementation; other writes
// need client.
func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	}
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(segments) == 0 || segments[0] != "cases" {
		return RoleAdmin
	}
	if len(segments) == 1 {
		return RoleImplementation
	}
	if len(segments) >= 3 {
		switch segments[2] {
		case "milestones", "validation":
			return RoleImplementation
		}
	}
	return RoleClient
}
