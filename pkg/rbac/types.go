package rbac

import (
	"sort"
	"time"
)

// ScopeKind identifies where a membership applies
type ScopeKind string

const (
	ScopeProject  ScopeKind = "project"
	ScopeOrg      ScopeKind = "org"
	ScopePlatform ScopeKind = "platform"
)

// Labels recorded in Decision.ScopesEvaluated besides the scope kinds
const (
	ScopeLabelCatalog    = "permission_catalog"
	ScopeLabelSuperadmin = "superadmin"
)

// MembershipStatus is the lifecycle state of a membership
type MembershipStatus string

const (
	StatusActive    MembershipStatus = "active"
	StatusSuspended MembershipStatus = "suspended"
)

// Valid reports whether s is a known status
func (s MembershipStatus) Valid() bool {
	return s == StatusActive || s == StatusSuspended
}

// ReasonCode explains a decision
type ReasonCode string

const (
	ReasonAllowSuperadmin         ReasonCode = "allow_superadmin"
	ReasonAllowMembership         ReasonCode = "allow_membership"
	ReasonDenyInvalidContext      ReasonCode = "deny_invalid_context"
	ReasonDenyUnknownPermission   ReasonCode = "deny_unknown_permission"
	ReasonDenyNoProjectMembership ReasonCode = "deny_no_project_membership"
	ReasonDenyNoOrgMembership     ReasonCode = "deny_no_org_membership"
	ReasonDenyMissingPermission   ReasonCode = "deny_missing_permission"
	ReasonDenyLookupFailed        ReasonCode = "deny_lookup_failed"
)

// Wildcard grants every catalogued permission
const Wildcard = "*"

// PermissionSet is a set of permission keys
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from keys
func NewPermissionSet(keys ...string) PermissionSet {
	s := make(PermissionSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether key is literally in the set
func (s PermissionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Grants reports whether the set satisfies key, directly or by wildcard
func (s PermissionSet) Grants(key string) bool {
	return s.Has(key) || s.Has(Wildcard)
}

// Merge adds every key of other to s
func (s PermissionSet) Merge(other PermissionSet) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// Sorted returns the keys in lexical order
func (s PermissionSet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Role is a named bundle of permissions
type Role struct {
	ID          string        `json:"id"`
	Key         string        `json:"key"`
	Description string        `json:"description,omitempty"`
	Permissions PermissionSet `json:"-"`
}

// Membership binds an actor to a role within one scope instance
type Membership struct {
	Scope ScopeKind `json:"scope"`
	// ScopeID is the project or org id; empty for platform memberships
	ScopeID string `json:"scope_id,omitempty"`
	// OrgID is the owning org of a project membership
	OrgID     string           `json:"org_id,omitempty"`
	ActorID   string           `json:"actor_id"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

// Active reports whether the membership contributes permissions at now
func (m *Membership) Active(now time.Time) bool {
	if m == nil || m.Status != StatusActive {
		return false
	}
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}

// Request is the input to an authorization decision
type Request struct {
	Permission string
	ActorID    string
	OrgID      string
	ProjectID  string

	// Resource identifies what the caller is acting on, for the audit trail
	ResourceType string
	ResourceID   string

	// Audit requests an audit record for an allowed decision. Denials are
	// always audited.
	Audit bool

	// RequestID correlates the decision with the originating request
	RequestID string
}

// Decision is the outcome of an authorization request
type Decision struct {
	Permission      string     `json:"permission"`
	ActorID         string     `json:"actor_id"`
	OrgID           string     `json:"org_id,omitempty"`
	ProjectID       string     `json:"project_id,omitempty"`
	Allowed         bool       `json:"allowed"`
	Reason          ReasonCode `json:"reason"`
	ScopesEvaluated []string   `json:"scopes_evaluated"`
	Permissions     []string   `json:"permissions"`
	PolicyVersion   string     `json:"policy_version"`
	DecidedAt       time.Time  `json:"decided_at"`
}
