package model

import (
	"fmt"
	"strings"
)

// Role is one of the built-in principal roles.
type Role string

const (
	RoleExecutive   Role = "Executive"
	RoleManager     Role = "Manager"
	RoleContributor Role = "Contributor"
	RoleReadOnly    Role = "ReadOnly"
)

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	for _, r := range []Role{RoleExecutive, RoleManager, RoleContributor, RoleReadOnly} {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Operation is the verb checked by the access policy.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
	OpStats  Operation = "stats"
	OpPurge  Operation = "purge"
)

// Scope is the widest namespace relation a grant covers.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeTeam
	ScopeGlobal
)

func (s Scope) String() string {
	switch s {
	case ScopeOwn:
		return "own"
	case ScopeTeam:
		return "team"
	case ScopeGlobal:
		return "global"
	default:
		return "none"
	}
}

// Principal is the authenticated caller as supplied by the front end.
type Principal struct {
	ID        string   `json:"id"`
	Role      Role     `json:"role"`
	Namespace string   `json:"namespace"`
	Teams     []string `json:"teams,omitempty"`
}

// Relation classifies how a record in namespace, created by ownerID, relates
// to the principal.
func (p Principal) Relation(namespace, ownerID string) Scope {
	if namespace == p.Namespace {
		if ownerID != "" && ownerID == p.ID {
			return ScopeOwn
		}
		return ScopeTeam
	}
	for _, t := range p.Teams {
		if t == namespace {
			return ScopeTeam
		}
	}
	return ScopeGlobal
}

// Validate checks that the principal carries enough context for evaluation.
func (p Principal) Validate() error {
	if p.ID == "" {
		return NewValidationError("principal.id", "must not be empty")
	}
	if _, err := ParseRole(string(p.Role)); err != nil {
		return NewValidationError("principal.role", err.Error())
	}
	if p.Namespace == "" {
		return NewValidationError("principal.namespace", "must not be empty")
	}
	return nil
}
