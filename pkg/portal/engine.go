package portal

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

var portalTracer = otel.Tracer("gatehouse/portal")

const (
	// DefaultTokenPrefix marks raw portal tokens
	DefaultTokenPrefix = "gpt_"
	// DefaultPINSessionTTL bounds how long a verified PIN is trusted
	DefaultPINSessionTTL = 15 * time.Minute
	// MinSecretLength is the minimum PIN session signing key size
	MinSecretLength = 32

	tokenBytes   = 32
	minPINLength = 4
	maxPINLength = 72
	maxRawLength = 256
)

// Engine issues and checks portal tokens
type Engine struct {
	store      Store
	pinSecret  []byte
	pinTTL     time.Duration
	prefix     string
	bcryptCost int
	clock      clockwork.Clock
	metrics    *observability.Metrics
	log        logrus.FieldLogger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the clock used for expiry and PIN sessions
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the engine logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics records validation outcomes and access-recording failures
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPINSessionTTL sets the lifetime of PIN sessions
func WithPINSessionTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.pinTTL = ttl }
}

// WithTokenPrefix sets the prefix of raw tokens
func WithTokenPrefix(prefix string) Option {
	return func(e *Engine) { e.prefix = prefix }
}

// WithBcryptCost sets the PIN hashing cost
func WithBcryptCost(cost int) Option {
	return func(e *Engine) { e.bcryptCost = cost }
}

// NewEngine creates a portal engine. pinSecret signs PIN sessions.
func NewEngine(store Store, pinSecret []byte, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("portal store is required")
	}
	if len(pinSecret) < MinSecretLength {
		return nil, fmt.Errorf("PIN session secret must be at least %d bytes", MinSecretLength)
	}
	e := &Engine{
		store:      store,
		pinSecret:  append([]byte(nil), pinSecret...),
		pinTTL:     DefaultPINSessionTTL,
		prefix:     DefaultTokenPrefix,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.log == nil {
		e.log = logrus.New()
	}
	if e.pinTTL <= 0 {
		return nil, fmt.Errorf("PIN session TTL must be positive")
	}
	return e, nil
}

// Create issues a new token and returns it with its raw bearer value. The
// raw value is not recoverable afterwards.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Token, string, error) {
	now := e.clock.Now()
	if err := e.validateCreate(req, now); err != nil {
		return nil, "", err
	}

	raw, err := e.newRawToken()
	if err != nil {
		return nil, "", err
	}

	perms := DefaultPermissions(req.PortalType)
	if req.Permissions != nil {
		perms = *req.Permissions
	}

	t := &Token{
		ID:             uuid.NewString(),
		TokenHash:      hashToken(raw),
		OrgID:          req.OrgID,
		ProjectID:      req.ProjectID,
		PortalType:     req.PortalType,
		CompanyID:      req.CompanyID,
		ContactID:      req.ContactID,
		Permissions:    perms,
		RequireAccount: req.RequireAccount,
		ExpiresAt:      req.ExpiresAt,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
	}
	if req.PIN != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), e.bcryptCost)
		if err != nil {
			return nil, "", fmt.Errorf("failed to hash PIN: %w", err)
		}
		t.PINRequired = true
		t.PINHash = hash
	}

	if err := e.store.CreateToken(ctx, t); err != nil {
		return nil, "", err
	}

	e.log.WithFields(logrus.Fields{
		"token_id":        t.ID,
		"project_id":      t.ProjectID,
		"portal_type":     t.PortalType,
		"pin_required":    t.PINRequired,
		"require_account": t.RequireAccount,
		"created_by":      t.CreatedBy,
	}).Info("portal token created")
	return t, raw, nil
}

func (e *Engine) validateCreate(req CreateRequest, now time.Time) error {
	switch {
	case req.OrgID == "":
		return invalidInput("org_id is required")
	case req.ProjectID == "":
		return invalidInput("project_id is required")
	case req.CreatedBy == "":
		return invalidInput("created_by is required")
	case !req.PortalType.Valid():
		return invalidInput("unknown portal type %q", req.PortalType)
	case req.ExpiresAt != nil && !req.ExpiresAt.After(now):
		return invalidInput("expires_at must be in the future")
	case req.PIN != "" && (len(req.PIN) < minPINLength || len(req.PIN) > maxPINLength):
		return invalidInput("PIN must be between %d and %d characters", minPINLength, maxPINLength)
	}
	return nil
}

func (e *Engine) newRawToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return e.prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Validate checks that raw names an existing, unrevoked, unexpired token.
// It does not apply capability, PIN or account gates.
func (e *Engine) Validate(ctx context.Context, raw string) (*AccessContext, error) {
	ctx, span := portalTracer.Start(ctx, "portal.Validate")
	defer span.End()

	t, err := e.lookup(ctx, raw)
	e.observe(ctx, "validate", err)
	if err != nil {
		span.SetStatus(codes.Error, string(ReasonOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("portal.token_id", t.ID))
	return accessContext(t), nil
}

// lookup applies the existence, revocation and expiry checks in that order
func (e *Engine) lookup(ctx context.Context, raw string) (*Token, error) {
	if !strings.HasPrefix(raw, e.prefix) || len(raw) > maxRawLength {
		return nil, deny(DenyNotFound, "")
	}

	hash := hashToken(raw)
	t, err := e.store.TokenByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, deny(DenyNotFound, "")
	}
	if err != nil {
		return nil, &DenialError{Reason: DenyLookupFailed, Err: err}
	}
	if subtle.ConstantTimeCompare([]byte(t.TokenHash), []byte(hash)) != 1 {
		return nil, deny(DenyNotFound, "")
	}

	if t.RevokedAt != nil {
		return nil, deny(DenyRevoked, t.ID)
	}
	if t.ExpiresAt != nil && !e.clock.Now().Before(*t.ExpiresAt) {
		return nil, deny(DenyExpired, t.ID)
	}
	return t, nil
}

// Alive reports whether raw is a usable token. It skips the PIN and account
// gates and reveals nothing else.
func (e *Engine) Alive(ctx context.Context, raw string) bool {
	_, err := e.lookup(ctx, raw)
	e.observe(ctx, "alive", err)
	return err == nil
}

// Authorize validates the token then applies the capability, PIN and account
// gates. An empty Capability checks the gates only. Successful access is
// recorded on a best-effort basis.
func (e *Engine) Authorize(ctx context.Context, req AccessRequest) (*AccessContext, error) {
	ctx, span := portalTracer.Start(ctx, "portal.Authorize")
	defer span.End()
	span.SetAttributes(attribute.String("portal.capability", string(req.Capability)))

	t, err := e.authorize(ctx, req)
	e.observe(ctx, "authorize", err)
	if err != nil {
		span.SetStatus(codes.Error, string(ReasonOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("portal.token_id", t.ID))

	e.RecordAccess(ctx, t.ID)
	return accessContext(t), nil
}

func (e *Engine) authorize(ctx context.Context, req AccessRequest) (*Token, error) {
	t, err := e.lookup(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	if req.Capability != "" && !t.Permissions.Allows(req.Capability) {
		return nil, deny(DenyCapability, t.ID)
	}

	if t.PINRequired {
		if req.PINSession == "" {
			return nil, deny(DenyPINRequired, t.ID)
		}
		if err := e.checkPINSession(req.PINSession, t.ID); err != nil {
			return nil, &DenialError{Reason: DenyPINInvalid, TokenID: t.ID, Err: err}
		}
	}

	if t.RequireAccount {
		if req.AccountID == "" {
			return nil, deny(DenyAccountRequired, t.ID)
		}
		g, err := e.store.GetGrant(ctx, req.AccountID, t.ID)
		if errors.Is(err, ErrNotFound) {
			return nil, deny(DenyAccountRequired, t.ID)
		}
		if err != nil {
			return nil, &DenialError{Reason: DenyLookupFailed, TokenID: t.ID, Err: err}
		}
		if g.Status != GrantActive {
			return nil, deny(DenyGrantInactive, t.ID)
		}
	}
	return t, nil
}

// RecordAccess bumps the token's access counter. Failures are logged and
// counted, never returned.
func (e *Engine) RecordAccess(ctx context.Context, tokenID string) {
	if err := e.store.RecordAccess(ctx, tokenID, e.clock.Now()); err != nil {
		observability.WithTraceContext(ctx, e.log).WithError(err).
			WithField("token_id", tokenID).
			Warn("failed to record portal access")
		e.metrics.IncAccessRecordFailure()
	}
}

// Revoke makes the token unusable from the next validation on. Revoking an
// already revoked token is a no-op.
func (e *Engine) Revoke(ctx context.Context, tokenID string) error {
	if err := e.store.RevokeToken(ctx, tokenID, e.clock.Now()); err != nil {
		return err
	}
	e.log.WithField("token_id", tokenID).Info("portal token revoked")
	return nil
}

// Token loads a token by id for management callers
func (e *Engine) Token(ctx context.Context, tokenID string) (*Token, error) {
	return e.store.TokenByID(ctx, tokenID)
}

func (e *Engine) observe(ctx context.Context, op string, err error) {
	result := "ok"
	if err != nil {
		result = string(ReasonOf(err))
		entry := observability.WithTraceContext(ctx, e.log).WithFields(logrus.Fields{
			"op":     op,
			"reason": result,
		})
		var d *DenialError
		if errors.As(err, &d) && d.TokenID != "" {
			entry = entry.WithField("token_id", d.TokenID)
		}
		if ReasonOf(err) == DenyLookupFailed {
			entry.WithError(err).Error("portal token lookup failed")
		} else {
			entry.Debug("portal access denied")
		}
	}
	e.metrics.ObserveTokenValidation("portal", result)
}
