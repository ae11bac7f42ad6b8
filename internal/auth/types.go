package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoSecret           = errors.New("jwt secret is empty")
)

// Result is the outcome of verifying a bearer token.
type Result struct {
	Success bool     `json:"success"`
	Subject string   `json:"subject,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// Token is a signed bearer token.
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// Permission represents a permission in the system
type Permission struct {
	Resource string `json:"resource"` // "decoder", "telemetry"
	Action   string `json:"action"`   // "read", "write"
}

var rolePermissions = map[string][]Permission{
	"admin": {
		{Resource: "*", Action: "*"},
	},
	"operator": {
		{Resource: "decoder", Action: "read"},
		{Resource: "decoder", Action: "write"},
		{Resource: "telemetry", Action: "read"},
	},
	"viewer": {
		{Resource: "decoder", Action: "read"},
		{Resource: "telemetry", Action: "read"},
	},
}

// HasPermission checks if any of roles grants action on resource.
func HasPermission(roles []string, resource, action string) bool {
	for _, role := range roles {
		for _, perm := range rolePermissions[role] {
			if (perm.Resource == "*" || perm.Resource == resource) &&
				(perm.Action == "*" || perm.Action == action) {
				return true
			}
		}
	}
	return false
}
