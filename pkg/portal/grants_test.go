package portal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) verifiedAccount(t *testing.T, email string) *Account {
	t.Helper()
	ctx := context.Background()
	a, err := f.engine.RegisterAccount(ctx, email)
	require.NoError(t, err)
	require.NoError(t, f.engine.VerifyAccountEmail(ctx, a.ID))
	return a
}

func TestRegisterAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.engine.RegisterAccount(ctx, "  Sub@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "sub@example.com", a.Email)
	assert.False(t, a.Verified())

	_, err = f.engine.RegisterAccount(ctx, "sub@example.com")
	assert.ErrorIs(t, err, ErrConflict)

	for _, bad := range []string{"", "no-at-sign", "@example.com", "user@"} {
		_, err = f.engine.RegisterAccount(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}

	require.NoError(t, f.engine.VerifyAccountEmail(ctx, a.ID))
	stored, err := f.store.AccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.Verified())

	assert.ErrorIs(t, f.engine.VerifyAccountEmail(ctx, "missing"), ErrNotFound)
}

func TestAccountGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, raw := f.create(t, func(r *CreateRequest) {
		r.PortalType = TypeSub
		r.RequireAccount = true
	})
	account := f.verifiedAccount(t, "framer@example.com")

	_, err := f.engine.Validate(ctx, raw)
	require.NoError(t, err)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewDocuments})
	assertDenied(t, err, DenyAccountRequired)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewDocuments, AccountID: account.ID})
	assertDenied(t, err, DenyAccountRequired)

	grant, err := f.engine.ClaimToken(ctx, account.ID, raw)
	require.NoError(t, err)
	assert.Equal(t, GrantActive, grant.Status)
	assert.Equal(t, tok.ID, grant.TokenID)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewDocuments, AccountID: account.ID})
	require.NoError(t, err)

	paused, err := f.engine.PauseGrant(ctx, account.ID, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, GrantPaused, paused.Status)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewDocuments, AccountID: account.ID})
	assertDenied(t, err, DenyGrantInactive)

	_, err = f.engine.Validate(ctx, raw)
	require.NoError(t, err, "pausing a grant must not affect the token")

	_, err = f.engine.ResumeGrant(ctx, account.ID, tok.ID)
	require.NoError(t, err)
	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, Capability: CapViewDocuments, AccountID: account.ID})
	require.NoError(t, err)
}

func TestAccountGate_OtherAccountsUnaffected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, raw := f.create(t, func(r *CreateRequest) { r.RequireAccount = true })
	a := f.verifiedAccount(t, "a@example.com")
	b := f.verifiedAccount(t, "b@example.com")

	_, err := f.engine.ClaimToken(ctx, a.ID, raw)
	require.NoError(t, err)
	_, err = f.engine.ClaimToken(ctx, b.ID, raw)
	require.NoError(t, err)

	_, err = f.engine.RevokeGrant(ctx, a.ID, tok.ID)
	require.NoError(t, err)

	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, AccountID: a.ID})
	assertDenied(t, err, DenyGrantInactive)
	_, err = f.engine.Authorize(ctx, AccessRequest{Token: raw, AccountID: b.ID})
	require.NoError(t, err)
}

func TestClaimToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, raw := f.create(t, func(r *CreateRequest) { r.RequireAccount = true })
	_, openRaw := f.create(t, nil)

	unverified, err := f.engine.RegisterAccount(ctx, "new@example.com")
	require.NoError(t, err)
	_, err = f.engine.ClaimToken(ctx, unverified.ID, raw)
	assert.ErrorIs(t, err, ErrAccountNotVerified)

	account := f.verifiedAccount(t, "ok@example.com")

	_, err = f.engine.ClaimToken(ctx, account.ID, openRaw)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.ClaimToken(ctx, account.ID, "gpt_unknown")
	assertDenied(t, err, DenyNotFound)

	_, err = f.engine.ClaimToken(ctx, "missing-account", raw)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.ClaimToken(ctx, account.ID, raw)
	require.NoError(t, err)
	_, err = f.engine.PauseGrant(ctx, account.ID, tok.ID)
	require.NoError(t, err)

	again, err := f.engine.ClaimToken(ctx, account.ID, raw)
	require.NoError(t, err)
	assert.Equal(t, GrantPaused, again.Status, "claiming again must not resume a paused grant")
}

func TestGrantTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, raw := f.create(t, func(r *CreateRequest) { r.RequireAccount = true })
	account := f.verifiedAccount(t, "sub@example.com")
	_, err := f.engine.ClaimToken(ctx, account.ID, raw)
	require.NoError(t, err)

	g, err := f.engine.ResumeGrant(ctx, account.ID, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, GrantActive, g.Status)

	g, err = f.engine.RevokeGrant(ctx, account.ID, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, GrantRevoked, g.Status)

	g, err = f.engine.RevokeGrant(ctx, account.ID, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, GrantRevoked, g.Status)

	_, err = f.engine.ResumeGrant(ctx, account.ID, tok.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.engine.PauseGrant(ctx, account.ID, tok.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.engine.SetGrantStatus(ctx, account.ID, tok.ID, "frozen")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.PauseGrant(ctx, account.ID, "other-token")
	assert.ErrorIs(t, err, ErrNotFound)
}
