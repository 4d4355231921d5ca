package rbac

import (
	"context"
	"time"
)

// Resolution accumulates scope results while a decision is being made
type Resolution struct {
	Request Request
	Now     time.Time

	// OrgID is the org in effect: the requested one, or the one derived from
	// the project membership
	OrgID string

	Scopes      []string
	Permissions PermissionSet

	ProjectEvaluated bool
	ProjectFound     bool
	OrgEvaluated     bool
	OrgFound         bool
}

func (r *Resolution) record(scope ScopeKind) {
	r.Scopes = append(r.Scopes, string(scope))
}

// ScopeResolver contributes one scope's permissions to a Resolution
type ScopeResolver interface {
	Kind() ScopeKind
	Resolve(ctx context.Context, res *Resolution) error
}

// DefaultResolvers returns the project, org and platform resolvers in
// priority order
func DefaultResolvers(store MembershipStore) []ScopeResolver {
	return []ScopeResolver{
		&ProjectResolver{Store: store},
		&OrgResolver{Store: store},
		&PlatformResolver{Store: store},
	}
}

// ProjectResolver evaluates project membership when a project id is given
type ProjectResolver struct {
	Store MembershipStore
}

func (p *ProjectResolver) Kind() ScopeKind { return ScopeProject }

func (p *ProjectResolver) Resolve(ctx context.Context, res *Resolution) error {
	if res.Request.ProjectID == "" {
		return nil
	}

	res.ProjectEvaluated = true
	res.record(ScopeProject)

	m, err := p.Store.ProjectMembership(ctx, res.Request.ProjectID, res.Request.ActorID)
	if err != nil {
		return err
	}
	if !m.Active(res.Now) {
		return nil
	}

	res.ProjectFound = true
	res.Permissions.Merge(m.Role.Permissions)
	if res.OrgID == "" {
		res.OrgID = m.OrgID
	}
	return nil
}

// OrgResolver evaluates org membership when an org id is known
type OrgResolver struct {
	Store MembershipStore
}

func (o *OrgResolver) Kind() ScopeKind { return ScopeOrg }

func (o *OrgResolver) Resolve(ctx context.Context, res *Resolution) error {
	if res.OrgID == "" {
		return nil
	}

	res.OrgEvaluated = true
	res.record(ScopeOrg)

	m, err := o.Store.OrgMembership(ctx, res.OrgID, res.Request.ActorID)
	if err != nil {
		return err
	}
	if !m.Active(res.Now) {
		return nil
	}

	res.OrgFound = true
	res.Permissions.Merge(m.Role.Permissions)
	return nil
}

// PlatformResolver evaluates platform membership. The scope is only recorded
// when an active, unexpired membership exists.
type PlatformResolver struct {
	Store MembershipStore
}

func (p *PlatformResolver) Kind() ScopeKind { return ScopePlatform }

func (p *PlatformResolver) Resolve(ctx context.Context, res *Resolution) error {
	m, err := p.Store.PlatformMembership(ctx, res.Request.ActorID, res.Now)
	if err != nil {
		return err
	}
	if !m.Active(res.Now) {
		return nil
	}

	res.record(ScopePlatform)
	res.Permissions.Merge(m.Role.Permissions)
	return nil
}
