package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/catalog"
)

type membershipKey struct {
	scope   ScopeKind
	scopeID string
	actorID string
}

type identity struct {
	email    string
	verified bool
}

// MemoryStore is an in-process MembershipStore for development and tests
type MemoryStore struct {
	mu          sync.RWMutex
	roles       map[string]Role
	memberships map[membershipKey]Membership
	identities  map[string]identity
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[string]Role),
		memberships: make(map[membershipKey]Membership),
		identities:  make(map[string]identity),
	}
}

// ProjectMembership loads an active project membership
func (s *MemoryStore) ProjectMembership(_ context.Context, projectID, actorID string) (*Membership, error) {
	return s.active(membershipKey{ScopeProject, projectID, actorID}, time.Time{}), nil
}

// OrgMembership loads an active org membership
func (s *MemoryStore) OrgMembership(_ context.Context, orgID, actorID string) (*Membership, error) {
	return s.active(membershipKey{ScopeOrg, orgID, actorID}, time.Time{}), nil
}

// PlatformMembership loads an active, unexpired platform membership
func (s *MemoryStore) PlatformMembership(_ context.Context, actorID string, now time.Time) (*Membership, error) {
	return s.active(membershipKey{ScopePlatform, "", actorID}, now), nil
}

func (s *MemoryStore) active(key membershipKey, now time.Time) *Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[key]
	if !ok || m.Status != StatusActive {
		return nil
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
		return nil
	}

	// hand out a copy with the role's current permissions
	role := s.roles[m.Role.Key]
	m.Role = Role{ID: role.ID, Key: role.Key, Description: role.Description, Permissions: NewPermissionSet(role.Permissions.Sorted()...)}
	return &m
}

// SeedRoles upserts roles and replaces their permission lists
func (s *MemoryStore) SeedRoles(_ context.Context, roles []catalog.RoleSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rs := range roles {
		if rs.Key == "" {
			return fmt.Errorf("%w: role key is required", ErrInvalidInput)
		}
		id := uuid.NewString()
		if existing, ok := s.roles[rs.Key]; ok {
			id = existing.ID
		}
		s.roles[rs.Key] = Role{
			ID:          id,
			Key:         rs.Key,
			Description: rs.Description,
			Permissions: NewPermissionSet(rs.Permissions...),
		}
	}
	return nil
}

// AssignProjectRole creates or replaces a project membership
func (s *MemoryStore) AssignProjectRole(_ context.Context, projectID, orgID, actorID, roleKey string) error {
	if projectID == "" || orgID == "" || actorID == "" {
		return fmt.Errorf("%w: project, org and actor are required", ErrInvalidInput)
	}
	return s.assign(Membership{Scope: ScopeProject, ScopeID: projectID, OrgID: orgID, ActorID: actorID}, roleKey)
}

// AssignOrgRole creates or replaces an org membership
func (s *MemoryStore) AssignOrgRole(_ context.Context, orgID, actorID, roleKey string) error {
	if orgID == "" || actorID == "" {
		return fmt.Errorf("%w: org and actor are required", ErrInvalidInput)
	}
	return s.assign(Membership{Scope: ScopeOrg, ScopeID: orgID, OrgID: orgID, ActorID: actorID}, roleKey)
}

// AssignPlatformRole creates or replaces a platform membership
func (s *MemoryStore) AssignPlatformRole(_ context.Context, actorID, roleKey string, expiresAt *time.Time) error {
	if actorID == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	return s.assign(Membership{Scope: ScopePlatform, ActorID: actorID, ExpiresAt: expiresAt}, roleKey)
}

func (s *MemoryStore) assign(m Membership, roleKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[roleKey]
	if !ok {
		return fmt.Errorf("role %s: %w", roleKey, ErrNotFound)
	}
	m.Role = Role{ID: role.ID, Key: role.Key}
	m.Status = StatusActive
	s.memberships[membershipKey{m.Scope, m.ScopeID, m.ActorID}] = m
	return nil
}

// SetMembershipStatus suspends or reactivates a membership
func (s *MemoryStore) SetMembershipStatus(_ context.Context, scope ScopeKind, scopeID, actorID string, status MembershipStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	if scope == ScopePlatform {
		scopeID = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey{scope, scopeID, actorID}
	m, ok := s.memberships[key]
	if !ok {
		return fmt.Errorf("membership: %w", ErrNotFound)
	}
	m.Status = status
	s.memberships[key] = m
	return nil
}

// SetIdentity records an actor's email for superadmin email matching
func (s *MemoryStore) SetIdentity(actorID, email string, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[actorID] = identity{email: strings.TrimSpace(email), verified: verified}
}

// VerifiedEmail returns the actor's email and whether it has been verified
func (s *MemoryStore) VerifiedEmail(_ context.Context, actorID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[actorID]
	if !ok {
		return "", false, nil
	}
	return id.email, id.verified, nil
}
