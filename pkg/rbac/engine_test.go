package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/catalog"
)

const (
	orgA     = "org-a"
	orgB     = "org-b"
	project1 = "project-1"
	project2 = "project-2"
)

type recordedDecision struct {
	decision Decision
	request  Request
}

type captureSink struct {
	mu      sync.Mutex
	records []recordedDecision
}

func (c *captureSink) RecordDecision(_ context.Context, d Decision, req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, recordedDecision{d, req})
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

type fixture struct {
	engine *Engine
	store  *MemoryStore
	clock  *clockwork.FakeClock
	sink   *captureSink
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	ctx := context.Background()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	cat := catalog.New(catalog.NewStaticRegistry(catalog.Builtins()...), catalog.NewMemoryCache(clock, 0, 0))
	store := NewMemoryStore()
	require.NoError(t, store.SeedRoles(ctx, []catalog.RoleSpec{
		{Key: "estimator", Permissions: []string{catalog.PermProjectView, catalog.PermProjectBudgetView}},
		{Key: "project_viewer", Permissions: []string{catalog.PermProjectView}},
		{Key: "org_member", Permissions: []string{catalog.PermProjectView, catalog.PermProjectDocumentsView}},
		{Key: "org_owner", Permissions: []string{Wildcard}},
		{Key: "support", Permissions: []string{catalog.PermPlatformSupport, catalog.PermAuditRead}},
	}))

	sink := &captureSink{}
	base := []EngineOption{WithClock(clock), WithAuditSink(sink), WithPolicyVersion("test-policy")}
	return &fixture{
		engine: NewEngine(cat, store, append(base, opts...)...),
		store:  store,
		clock:  clock,
		sink:   sink,
	}
}

func TestAuthorize_InvalidContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []Request{
		{Permission: catalog.PermProjectView},
		{ActorID: "alice"},
		{},
	} {
		d, err := f.engine.Authorize(ctx, req)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonDenyInvalidContext, d.Reason)
		assert.Empty(t, d.ScopesEvaluated)
	}
}

func TestAuthorize_UnknownPermission(t *testing.T) {
	f := newFixture(t, WithSuperadmins(NewAllowList([]string{"root"}, nil, nil)))
	ctx := context.Background()
	require.NoError(t, f.store.AssignOrgRole(ctx, orgA, "owner", "org_owner"))

	for _, actor := range []string{"root", "owner", "nobody"} {
		d, err := f.engine.Authorize(ctx, Request{Permission: "project.teleport", ActorID: actor, OrgID: orgA})
		require.NoError(t, err)
		assert.False(t, d.Allowed, actor)
		assert.Equal(t, ReasonDenyUnknownPermission, d.Reason)
		assert.Equal(t, []string{ScopeLabelCatalog}, d.ScopesEvaluated)
	}
}

func TestAuthorize_Superadmin(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetIdentity("carol", "Carol@Example.com", true)
	store.SetIdentity("dave", "dave@example.com", false)

	allow := NewAllowList([]string{"root"}, []string{"carol@example.com", "dave@example.com"}, store)
	f := newFixture(t, WithSuperadmins(allow))
	f.engine.resolvers = DefaultResolvers(store)

	for _, actor := range []string{"root", "carol"} {
		d, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectBudgetView, ActorID: actor, ProjectID: project1})
		require.NoError(t, err)
		assert.True(t, d.Allowed, actor)
		assert.Equal(t, ReasonAllowSuperadmin, d.Reason)
		assert.Equal(t, []string{Wildcard}, d.Permissions)
		assert.Equal(t, []string{ScopeLabelSuperadmin}, d.ScopesEvaluated)
	}

	d, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectBudgetView, ActorID: "dave", ProjectID: project1})
	require.NoError(t, err)
	assert.False(t, d.Allowed, "unverified email is not a superadmin")
	assert.Equal(t, ReasonDenyNoProjectMembership, d.Reason)
}

func TestAuthorize_ProjectMembershipShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AssignProjectRole(ctx, project1, orgA, "erin", "estimator"))

	d, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectBudgetView, ActorID: "erin", ProjectID: project1})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowMembership, d.Reason)
	assert.Equal(t, []string{"project"}, d.ScopesEvaluated)
	assert.Equal(t, orgA, d.OrgID, "org is derived from the project membership")
	assert.Equal(t, []string{catalog.PermProjectBudgetView, catalog.PermProjectView}, d.Permissions)
	assert.Equal(t, "test-policy", d.PolicyVersion)
}

func TestAuthorize_DerivedOrgIsConsultedWhenProjectFallsShort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AssignProjectRole(ctx, project1, orgA, "erin", "project_viewer"))

	d, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectBudgetView, ActorID: "erin", ProjectID: project1})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenyNoOrgMembership, d.Reason)
	assert.Equal(t, []string{"project", "org"}, d.ScopesEvaluated)

	require.NoError(t, f.store.AssignOrgRole(ctx, orgA, "erin", "org_member"))
	d, err = f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectDocumentsView, ActorID: "erin", ProjectID: project1})
	require.NoError(t, err)
	assert.True(t, d.Allowed, "permissions union across project and org")
	assert.Equal(t, []string{"project", "org"}, d.ScopesEvaluated)
}

func TestAuthorize_NoProjectMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectView, ActorID: "frank", ProjectID: project1})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenyNoProjectMembership, d.Reason)
	assert.Equal(t, []string{"project"}, d.ScopesEvaluated)

	d, err = f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectView, ActorID: "frank", ProjectID: project1, OrgID: orgA})
	require.NoError(t, err)
	assert.Equal(t, ReasonDenyNoProjectMembership, d.Reason, "project reason wins over org reason")
	assert.Equal(t, []string{"project", "org"}, d.ScopesEvaluated)
}

func TestAuthorize_OrgWildcard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AssignOrgRole(ctx, orgA, "olivia", "org_owner"))

	for _, perm := range []string{catalog.PermOrgAdmin, catalog.PermProjectChangeOrders, catalog.PermPortalManage} {
		d, err := f.engine.Authorize(ctx, Request{Permission: perm, ActorID: "olivia", OrgID: orgA, ProjectID: project2})
		require.NoError(t, err)
		assert.True(t, d.Allowed, perm)
		assert.Equal(t, []string{"project", "org"}, d.ScopesEvaluated)
		assert.Equal(t, []string{Wildcard}, d.Permissions)
	}

	d, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermOrgAdmin, ActorID: "olivia", OrgID: orgB})
	require.NoError(t, err)
	assert.False(t, d.Allowed, "membership does not leak across orgs")
	assert.Equal(t, ReasonDenyNoOrgMembership, d.Reason)
}

func TestAuthorize_MissingPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AssignOrgRole(ctx, orgA, "gina", "org_member"))

	d, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectInvoicesManage, ActorID: "gina", OrgID: orgA})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenyMissingPermission, d.Reason)
	assert.Equal(t, []string{"org"}, d.ScopesEvaluated)
}

func TestAuthorize_SuspendedMembershipContributesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AssignOrgRole(ctx, orgA, "hank", "org_member"))

	req := Request{Permission: catalog.PermProjectView, ActorID: "hank", OrgID: orgA}
	d, err := f.engine.Authorize(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, f.store.SetMembershipStatus(ctx, ScopeOrg, orgA, "hank", StatusSuspended))
	d, err = f.engine.Authorize(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenyNoOrgMembership, d.Reason)

	require.NoError(t, f.store.SetMembershipStatus(ctx, ScopeOrg, orgA, "hank", StatusActive))
	d, err = f.engine.Authorize(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAuthorize_PlatformMembershipExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)
	require.NoError(t, f.store.AssignPlatformRole(ctx, "ivy", "support", &expires))

	req := Request{Permission: catalog.PermAuditRead, ActorID: "ivy"}
	d, err := f.engine.Authorize(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"platform"}, d.ScopesEvaluated)

	f.clock.Advance(time.Hour)
	d, err = f.engine.Authorize(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "expires_at equal to now is expired")
	assert.Equal(t, ReasonDenyMissingPermission, d.Reason)
	assert.Empty(t, d.ScopesEvaluated, "platform is only recorded when found")
}

func TestAuthorize_PlatformWithoutExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AssignPlatformRole(ctx, "jack", "support", nil))
	require.NoError(t, f.store.AssignProjectRole(ctx, project1, orgA, "jack", "project_viewer"))

	d, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermPlatformSupport, ActorID: "jack", ProjectID: project1})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"project", "org", "platform"}, d.ScopesEvaluated)
	assert.Equal(t, ReasonAllowMembership, d.Reason)
}

func TestAuthorize_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AssignProjectRole(ctx, project1, orgA, "kim", "project_viewer"))

	req := Request{Permission: catalog.PermProjectBudgetView, ActorID: "kim", ProjectID: project1}
	first, err := f.engine.Authorize(ctx, req)
	require.NoError(t, err)
	second, err := f.engine.Authorize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAuthorize_AuditPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AssignOrgRole(ctx, orgA, "lee", "org_member"))

	_, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectView, ActorID: "lee", OrgID: orgA})
	require.NoError(t, err)
	assert.Equal(t, 0, f.sink.count(), "advisory allows are not audited")

	_, err = f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectView, ActorID: "lee", OrgID: orgA, Audit: true})
	require.NoError(t, err)
	assert.Equal(t, 1, f.sink.count())

	_, err = f.engine.Authorize(ctx, Request{Permission: catalog.PermOrgAdmin, ActorID: "lee", OrgID: orgA, RequestID: "req-9"})
	require.NoError(t, err)
	require.Equal(t, 2, f.sink.count(), "denials are always audited")
	last := f.sink.records[1]
	assert.Equal(t, ReasonDenyMissingPermission, last.decision.Reason)
	assert.Equal(t, "req-9", last.request.RequestID)
}

type failingStore struct {
	MembershipStore
	err error
}

func (f *failingStore) OrgMembership(context.Context, string, string) (*Membership, error) {
	return nil, f.err
}

func TestAuthorize_LookupFailureDenies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.engine.resolvers = DefaultResolvers(&failingStore{MembershipStore: f.store, err: errors.New("db down")})

	d, err := f.engine.Authorize(ctx, Request{Permission: catalog.PermProjectView, ActorID: "max", OrgID: orgA})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org scope")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenyLookupFailed, d.Reason)
	assert.Equal(t, 1, f.sink.count())

	_, err = f.engine.RequireAuthorization(ctx, Request{Permission: catalog.PermProjectView, ActorID: "max", OrgID: orgA})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrForbidden))
}

func TestRequireAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AssignOrgRole(ctx, orgA, "nina", "org_member"))

	_, err := f.engine.RequireAuthorization(ctx, Request{Permission: catalog.PermProjectView, ActorID: "nina", OrgID: orgA})
	require.NoError(t, err)

	_, err = f.engine.RequireAuthorization(ctx, Request{Permission: catalog.PermOrgAdmin, ActorID: "nina", OrgID: orgA})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)

	var fe *ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ReasonDenyMissingPermission, fe.Reason)
	assert.Equal(t, []string{"org"}, fe.Scopes)
	assert.Contains(t, fe.Error(), catalog.PermOrgAdmin)
}

func TestPermissionSet(t *testing.T) {
	s := NewPermissionSet("b", "a")
	assert.True(t, s.Grants("a"))
	assert.False(t, s.Grants("c"))
	s.Merge(NewPermissionSet(Wildcard))
	assert.True(t, s.Grants("c"))
	assert.Equal(t, []string{"*", "a", "b"}, s.Sorted())
}

func TestMembershipActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	var nilMembership *Membership
	assert.False(t, nilMembership.Active(now))
	assert.True(t, (&Membership{Status: StatusActive}).Active(now))
	assert.False(t, (&Membership{Status: StatusSuspended}).Active(now))
	assert.False(t, (&Membership{Status: StatusActive, ExpiresAt: &past}).Active(now))
	assert.False(t, (&Membership{Status: StatusActive, ExpiresAt: &now}).Active(now))
	assert.True(t, (&Membership{Status: StatusActive, ExpiresAt: &future}).Active(now))
}
