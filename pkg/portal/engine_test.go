package portal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	engine  *Engine
	store   *MemoryStore
	clock   *clockwork.FakeClock
	hook    *test.Hook
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := NewMemoryStore()

	engine, err := NewEngine(store, testSecret,
		WithClock(clock),
		WithLogger(log),
		WithMetrics(metrics),
		WithBcryptCost(bcrypt.MinCost),
	)
	require.NoError(t, err)
	return &fixture{engine: engine, store: store, clock: clock, hook: hook, metrics: metrics}
}

func (f *fixture) create(t *testing.T, mutate func(*CreateRequest)) (*Token, string) {
	t.Helper()
	req := CreateRequest{
		OrgID:      "org-a",
		ProjectID:  "project-1",
		PortalType: TypeClient,
		CreatedBy:  "user-pm",
	}
	if mutate != nil {
		mutate(&req)
	}
	tok, raw, err := f.engine.Create(context.Background(), req)
	require.NoError(t, err)
	return tok, raw
}

func assertDenied(t *testing.T, err error, reason DenialReason) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAccessDenied), "expected access denied, got %v", err)
	assert.Equal(t, reason, ReasonOf(err))
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(NewMemoryStore(), []byte("short"))
	assert.Error(t, err)

	_, err = NewEngine(nil, testSecret)
	assert.Error(t, err)

	_, err = NewEngine(NewMemoryStore(), testSecret, WithPINSessionTTL(-time.Second))
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	tok, raw := f.create(t, nil)
	assert.True(t, strings.HasPrefix(raw, DefaultTokenPrefix))
	assert.NotEmpty(t, tok.ID)
	assert.Equal(t, hashToken(raw), tok.TokenHash)
	assert.NotContains(t, tok.TokenHash, raw)
	assert.False(t, tok.PINRequired)

	stored, err := f.store.TokenByID(context.Background(), tok.ID)
	require.NoError(t, err)
	assert.NotEqual(t, raw, stored.TokenHash)

	_, raw2 := f.create(t, nil)
	assert.NotEqual(t, raw, raw2)

	for _, entry := range f.hook.AllEntries() {
		assert.NotContains(t, entry.Message, raw)
		for _, v := range entry.Data {
			if s, ok := v.(string); ok {
				assert.NotEqual(t, raw, s)
			}
		}
	}
}

func TestCreate_DefaultPermissions(t *testing.T) {
	f := newFixture(t)

	client, _ := f.create(t, nil)
	assert.Equal(t, DefaultPermissions(TypeClient), client.Permissions)
	assert.True(t, client.Permissions.Allows(CapViewSchedule))
	assert.False(t, client.Permissions.Allows(CapApproveChangeOrders))
	assert.False(t, client.Permissions.Allows(CapPayInvoices))

	bid, _ := f.create(t, func(r *CreateRequest) { r.PortalType = TypeBid })
	assert.Equal(t, []Capability{CapViewDocuments}, bid.Permissions.Capabilities())

	explicit, _ := f.create(t, func(r *CreateRequest) {
		r.Permissions = &Permissions{SubmitSelections: true}
	})
	assert.Equal(t, []Capability{CapSubmitSelections}, explicit.Permissions.Capabilities())
}

func TestCreate_InvalidInput(t *testing.T) {
	f := newFixture(t)
	past := f.clock.Now().Add(-time.Minute)
	now := f.clock.Now()

	cases := map[string]func(*CreateRequest){
		"missing org":     func(r *CreateRequest) { r.OrgID = "" },
		"missing project": func(r *CreateRequest) { r.ProjectID = "" },
		"missing creator": func(r *CreateRequest) { r.CreatedBy = "" },
		"bad portal type": func(r *CreateRequest) { r.PortalType = "vendor" },
		"expired":         func(r *CreateRequest) { r.ExpiresAt = &past },
		"expires now":     func(r *CreateRequest) { r.ExpiresAt = &now },
		"short pin":       func(r *CreateRequest) { r.PIN = "123" },
		"oversized pin":   func(r *CreateRequest) { r.PIN = strings.Repeat("9", maxPINLength+1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := CreateRequest{OrgID: "org-a", ProjectID: "project-1", PortalType: TypeSub, CreatedBy: "user-pm"}
			mutate(&req)
			_, _, err := f.engine.Create(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)
	tok, raw := f.create(t, func(r *CreateRequest) {
		r.CompanyID = "company-9"
		r.ExpiresAt = &expires
	})

	access, err := f.engine.Validate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, access.TokenID)
	assert.Equal(t, "org-a", access.OrgID)
	assert.Equal(t, "project-1", access.ProjectID)
	assert.Equal(t, "company-9", access.CompanyID)
	assert.Equal(t, tok.Permissions, access.Permissions)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokenValidationsTotal.WithLabelValues("portal", "ok")))
}

func TestValidate_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, raw := f.create(t, nil)

	for _, candidate := range []string{
		"",
		"gpt_",
		"not-a-token",
		raw + "x",
		raw[:len(raw)-1],
		DefaultTokenPrefix + strings.Repeat("A", 43),
		DefaultTokenPrefix + strings.Repeat("A", maxRawLength),
	} {
		access, err := f.engine.Validate(ctx, candidate)
		assert.Nil(t, access)
		assertDenied(t, err, DenyNotFound)
	}
}

func TestValidate_RevokedBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)
	tok, raw := f.create(t, func(r *CreateRequest) { r.ExpiresAt = &expires })

	_, err := f.engine.Validate(ctx, raw)
	require.NoError(t, err)

	require.NoError(t, f.engine.Revoke(ctx, tok.ID))
	access, err := f.engine.Validate(ctx, raw)
	assert.Nil(t, access)
	assertDenied(t, err, DenyRevoked)

	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.Validate(ctx, raw)
	assertDenied(t, err, DenyRevoked)
}

func TestValidate_Expiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(time.Hour)
	_, raw := f.create(t, func(r *CreateRequest) { r.ExpiresAt = &expires })

	f.clock.Advance(time.Hour - time.Nanosecond)
	_, err := f.engine.Validate(ctx, raw)
	require.NoError(t, err)

	f.clock.Advance(time.Nanosecond)
	_, err = f.engine.Validate(ctx, raw)
	assertDenied(t, err, DenyExpired)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, _ := f.create(t, nil)

	require.NoError(t, f.engine.Revoke(ctx, tok.ID))
	first, err := f.engine.Token(ctx, tok.ID)
	require.NoError(t, err)
	require.NotNil(t, first.RevokedAt)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.Revoke(ctx, tok.ID))
	second, err := f.engine.Token(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.RevokedAt, *second.RevokedAt)

	assert.ErrorIs(t, f.engine.Revoke(ctx, "missing"), ErrNotFound)
}

func TestAlive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, raw := f.create(t, func(r *CreateRequest) {
		r.PIN = "4821"
		r.RequireAccount = true
	})

	assert.True(t, f.engine.Alive(ctx, raw))
	assert.False(t, f.engine.Alive(ctx, "gpt_bogus"))

	require.NoError(t, f.engine.Revoke(ctx, tok.ID))
	assert.False(t, f.engine.Alive(ctx, raw))
}

func TestAuthorize_Capability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, raw := f.create(t, func(r *CreateRequest) {
		r.Permissions = &Permissions{ViewSchedule: true, SubmitSelections: true}
	})

	access, err := f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapSubmitSelections})
	require.NoError(t, err)
	assert.True(t, access.Permissions.SubmitSelections)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapApproveChangeOrders})
	assertDenied(t, err, DenyCapability)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: "launch_rockets"})
	assertDenied(t, err, DenyCapability)
}

func TestAuthorize_RecordsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, raw := f.create(t, nil)

	for i := 0; i < 3; i++ {
		_, err := f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewSchedule})
		require.NoError(t, err)
	}
	_, err := f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapPayInvoices})
	assertDenied(t, err, DenyCapability)

	stored, err := f.store.TokenByID(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.AccessCount)
	require.NotNil(t, stored.LastAccessedAt)
	assert.Equal(t, f.clock.Now(), *stored.LastAccessedAt)
}

func TestAuthorize_AccessRecordingFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, raw := f.create(t, nil)
	f.store.FailRecordAccess = errors.New("replica is read-only")

	access, err := f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewSchedule})
	require.NoError(t, err)
	assert.NotNil(t, access)

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "failed to record portal access", entry.Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AccessRecordFailuresTotal))
}

func TestAuthorize_PINGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, raw := f.create(t, func(r *CreateRequest) { r.PIN = "4821" })
	require.True(t, tok.PINRequired)
	assert.NotEqual(t, []byte("4821"), tok.PINHash)

	_, err := f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewSchedule})
	assertDenied(t, err, DenyPINRequired)

	_, err = f.engine.VerifyPIN(ctx, raw, "0000")
	assertDenied(t, err, DenyPINInvalid)

	session, err := f.engine.VerifyPIN(ctx, raw, "4821")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(DefaultPINSessionTTL), session.ExpiresAt)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewSchedule, PINSession: session.Token})
	require.NoError(t, err)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewSchedule, PINSession: session.Token + "x"})
	assertDenied(t, err, DenyPINInvalid)

	f.clock.Advance(DefaultPINSessionTTL + time.Second)
	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewSchedule, PINSession: session.Token})
	assertDenied(t, err, DenyPINInvalid)
}

func TestAuthorize_PINSessionBoundToToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, rawA := f.create(t, func(r *CreateRequest) { r.PIN = "1111" })
	_, rawB := f.create(t, func(r *CreateRequest) { r.PIN = "1111" })

	sessionA, err := f.engine.VerifyPIN(ctx, rawA, "1111")
	require.NoError(t, err)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: rawB, Capability: CapViewSchedule, PINSession: sessionA.Token})
	assertDenied(t, err, DenyPINInvalid)
}

func TestAuthorize_PINSessionFromOtherKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, raw := f.create(t, func(r *CreateRequest) { r.PIN = "2468" })

	other, err := NewEngine(f.store, []byte("ffffffffffffffffffffffffffffffff"), WithClock(f.clock))
	require.NoError(t, err)
	forged, err := other.issuePINSession(tok.ID)
	require.NoError(t, err)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, PINSession: forged.Token})
	assertDenied(t, err, DenyPINInvalid)
}

func TestVerifyPIN_TokenWithoutPIN(t *testing.T) {
	f := newFixture(t)
	_, raw := f.create(t, nil)

	_, err := f.engine.VerifyPIN(context.Background(), raw, "1234")
	assertDenied(t, err, DenyPINInvalid)
}

func TestVerifyPIN_RevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, raw := f.create(t, func(r *CreateRequest) { r.PIN = "4821" })
	session, err := f.engine.VerifyPIN(ctx, raw, "4821")
	require.NoError(t, err)

	require.NoError(t, f.engine.Revoke(ctx, tok.ID))
	_, err = f.engine.VerifyPIN(ctx, raw, "4821")
	assertDenied(t, err, DenyRevoked)
	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, PINSession: session.Token})
	assertDenied(t, err, DenyRevoked)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s failingStore) TokenByHash(context.Context, string) (*Token, error) {
	return nil, s.err
}

func TestValidate_StoreFailureDenies(t *testing.T) {
	log, hook := test.NewNullLogger()
	engine, err := NewEngine(failingStore{NewMemoryStore(), errors.New("connection refused")}, testSecret, WithLogger(log))
	require.NoError(t, err)

	_, err = engine.Validate(context.Background(), DefaultTokenPrefix+"abc")
	assertDenied(t, err, DenyLookupFailed)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
