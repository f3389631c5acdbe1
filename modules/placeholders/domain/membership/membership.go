package membership

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

type AccessLevel int

const (
	NoAccess   AccessLevel = 0
	Guest      AccessLevel = 10
	Planner    AccessLevel = 15
	Reporter   AccessLevel = 20
	Developer  AccessLevel = 30
	Maintainer AccessLevel = 40
	Owner      AccessLevel = 50
)

var accessLevelNames = map[AccessLevel]string{
	NoAccess:   "no_access",
	Guest:      "guest",
	Planner:    "planner",
	Reporter:   "reporter",
	Developer:  "developer",
	Maintainer: "maintainer",
	Owner:      "owner",
}

func (l AccessLevel) String() string {
	if name, ok := accessLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("access_level(%d)", int(l))
}

type ScopeKind string

const (
	ScopeGroup   ScopeKind = "group"
	ScopeProject ScopeKind = "project"
)

// SourceType is the value stored in members.source_type for the scope kind.
func (k ScopeKind) SourceType() string {
	if k == ScopeProject {
		return "Project"
	}
	return "Namespace"
}

// Scope is the group or project a membership applies to.
type Scope struct {
	Kind ScopeKind
	ID   int64
}

func GroupScope(id int64) Scope   { return Scope{Kind: ScopeGroup, ID: id} }
func ProjectScope(id int64) Scope { return Scope{Kind: ScopeProject, ID: id} }

func (s Scope) String() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

var ErrInvalidScope = errors.New("placeholder membership must have exactly one of group_id or project_id")

// NewScope builds a scope from the nullable group_id/project_id ledger columns.
func NewScope(groupID, projectID *int64) (Scope, error) {
	switch {
	case groupID != nil && projectID == nil:
		return GroupScope(*groupID), nil
	case projectID != nil && groupID == nil:
		return ProjectScope(*projectID), nil
	default:
		return Scope{}, ErrInvalidScope
	}
}

// Placeholder is a pending grant recorded by the import for a placeholder user.
type Placeholder struct {
	ID           int64
	SourceUserID int64
	Scope        Scope
	AccessLevel  AccessLevel
	ExpiresAt    *time.Time
	CreatedAt    time.Time
}

// LogFields is the placeholder_membership payload of audit events.
func (p *Placeholder) LogFields() map[string]any {
	fields := map[string]any{
		"id":             p.ID,
		"source_user_id": p.SourceUserID,
		"access_level":   int(p.AccessLevel),
		"expires_at":     p.ExpiresAt,
	}
	if p.Scope.Kind == ScopeProject {
		fields["project_id"] = p.Scope.ID
	} else {
		fields["group_id"] = p.Scope.ID
	}
	return fields
}

// Existing is a membership row already held by the destination user.
type Existing struct {
	ID          int64
	UserID      int64
	SourceID    int64
	SourceType  string
	AccessLevel AccessLevel
	ExpiresAt   *time.Time
}

// LogFields is the existing_membership payload of audit events.
func (e *Existing) LogFields() map[string]any {
	return map[string]any{
		"id":           e.ID,
		"access_level": int(e.AccessLevel),
		"source_id":    e.SourceID,
		"source_type":  e.SourceType,
		"user_id":      e.UserID,
	}
}

// Active reports whether the membership still grants access at now.
func (e *Existing) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// Member is a membership to be created for the destination user.
type Member struct {
	UserID      int64       `validate:"required,gt=0"`
	Scope       Scope       `validate:"-"`
	SourceType  string      `validate:"required,oneof=Namespace Project"`
	AccessLevel AccessLevel `validate:"required,oneof=10 15 20 30 40 50"`
	ExpiresAt   *time.Time  `validate:"omitempty"`
	CreatedByID *int64      `validate:"omitempty,gt=0"`
}

// NewMember copies a pending grant onto userID.
func NewMember(p *Placeholder, userID int64, createdBy *int64) *Member {
	return &Member{
		UserID:      userID,
		Scope:       p.Scope,
		SourceType:  p.Scope.Kind.SourceType(),
		AccessLevel: p.AccessLevel,
		ExpiresAt:   p.ExpiresAt,
		CreatedByID: createdBy,
	}
}
