package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

var rbacTracer = otel.Tracer("gatehouse/rbac")

// DefaultPolicyVersion tags decisions when no version is configured
const DefaultPolicyVersion = "v1"

// PermissionCatalog reports whether a permission key is registered
type PermissionCatalog interface {
	Exists(ctx context.Context, key string) bool
}

// AuditSink receives finished decisions. It must not block on or report
// storage failures.
type AuditSink interface {
	RecordDecision(ctx context.Context, d Decision, req Request)
}

// Engine makes authorization decisions
type Engine struct {
	catalog       PermissionCatalog
	resolvers     []ScopeResolver
	superadmins   *AllowList
	audit         AuditSink
	clock         clockwork.Clock
	policyVersion string
	metrics       *observability.Metrics
	log           logrus.FieldLogger
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithSuperadmins sets the superadmin allow-list
func WithSuperadmins(a *AllowList) EngineOption {
	return func(e *Engine) { e.superadmins = a }
}

// WithAuditSink sets where decisions are recorded
func WithAuditSink(sink AuditSink) EngineOption {
	return func(e *Engine) { e.audit = sink }
}

// WithClock overrides the clock used for expiry checks and timestamps
func WithClock(clock clockwork.Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithPolicyVersion sets the tag recorded on every decision
func WithPolicyVersion(v string) EngineOption {
	return func(e *Engine) { e.policyVersion = v }
}

// WithMetrics records decision counts and latency
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger
func WithLogger(log logrus.FieldLogger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithResolvers replaces the default scope resolvers
func WithResolvers(resolvers ...ScopeResolver) EngineOption {
	return func(e *Engine) { e.resolvers = resolvers }
}

// NewEngine creates an engine using the default project, org and platform
// resolvers over store
func NewEngine(cat PermissionCatalog, store MembershipStore, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog:       cat,
		resolvers:     DefaultResolvers(store),
		clock:         clockwork.NewRealClock(),
		policyVersion: DefaultPolicyVersion,
		log:           logrus.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize decides whether req.ActorID holds req.Permission. The returned
// decision is always populated; a non-nil error means a membership lookup
// failed and the decision is a denial.
func (e *Engine) Authorize(ctx context.Context, req Request) (Decision, error) {
	started := time.Now()
	ctx, span := rbacTracer.Start(ctx, "rbac.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("authz.permission", req.Permission),
		attribute.String("authz.org_id", req.OrgID),
		attribute.String("authz.project_id", req.ProjectID),
	)

	decision, err := e.decide(ctx, req)

	span.SetAttributes(
		attribute.Bool("authz.allowed", decision.Allowed),
		attribute.String("authz.reason", string(decision.Reason)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "membership lookup failed")
	}
	e.metrics.ObserveDecision(string(decision.Reason), decision.Allowed, time.Since(started))

	if e.audit != nil && (!decision.Allowed || req.Audit) {
		e.audit.RecordDecision(ctx, decision, req)
	}

	return decision, err
}

// RequireAuthorization is Authorize for enforcement points: a denial is
// returned as a *ForbiddenError.
func (e *Engine) RequireAuthorization(ctx context.Context, req Request) (Decision, error) {
	decision, err := e.Authorize(ctx, req)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, forbidden(decision)
	}
	return decision, nil
}

func (e *Engine) decide(ctx context.Context, req Request) (Decision, error) {
	now := e.clock.Now()
	d := Decision{
		Permission:      req.Permission,
		ActorID:         req.ActorID,
		OrgID:           req.OrgID,
		ProjectID:       req.ProjectID,
		PolicyVersion:   e.policyVersion,
		DecidedAt:       now,
		ScopesEvaluated: []string{},
		Permissions:     []string{},
	}

	if req.ActorID == "" || req.Permission == "" {
		d.Reason = ReasonDenyInvalidContext
		return d, nil
	}

	if !e.catalog.Exists(ctx, req.Permission) {
		d.Reason = ReasonDenyUnknownPermission
		d.ScopesEvaluated = []string{ScopeLabelCatalog}
		return d, nil
	}

	isSuper, err := e.superadmins.Contains(ctx, req.ActorID)
	if err != nil {
		e.log.WithError(err).WithField("actor_id", req.ActorID).Warn("superadmin identity lookup failed")
	}
	if isSuper {
		d.Allowed = true
		d.Reason = ReasonAllowSuperadmin
		d.ScopesEvaluated = []string{ScopeLabelSuperadmin}
		d.Permissions = []string{Wildcard}
		return d, nil
	}

	res := &Resolution{
		Request:     req,
		Now:         now,
		OrgID:       req.OrgID,
		Scopes:      []string{},
		Permissions: NewPermissionSet(),
	}

	for _, resolver := range e.resolvers {
		if err := resolver.Resolve(ctx, res); err != nil {
			d.OrgID = res.OrgID
			d.ScopesEvaluated = res.Scopes
			d.Permissions = res.Permissions.Sorted()
			d.Reason = ReasonDenyLookupFailed
			return d, fmt.Errorf("failed to resolve %s scope: %w", resolver.Kind(), err)
		}
		// earlier scopes take precedence; stop once the permission is held
		if res.Permissions.Grants(req.Permission) {
			break
		}
	}

	d.OrgID = res.OrgID
	d.ScopesEvaluated = res.Scopes
	d.Permissions = res.Permissions.Sorted()

	switch {
	case res.Permissions.Grants(req.Permission):
		d.Allowed = true
		d.Reason = ReasonAllowMembership
	case res.ProjectEvaluated && !res.ProjectFound:
		d.Reason = ReasonDenyNoProjectMembership
	case res.OrgEvaluated && !res.OrgFound:
		d.Reason = ReasonDenyNoOrgMembership
	default:
		d.Reason = ReasonDenyMissingPermission
	}

	return d, nil
}
