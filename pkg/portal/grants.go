package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrAccountNotVerified rejects claims by accounts without a verified email
var ErrAccountNotVerified = errors.New("account email not verified")

// RegisterAccount creates an unverified external account
func (e *Engine) RegisterAccount(ctx context.Context, email string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if at := strings.IndexByte(email, '@'); at <= 0 || at == len(email)-1 {
		return nil, invalidInput("invalid email address")
	}
	a := &Account{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: e.clock.Now(),
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// VerifyAccountEmail marks the account's email as verified. Delivery of the
// verification challenge happens elsewhere.
func (e *Engine) VerifyAccountEmail(ctx context.Context, accountID string) error {
	return e.store.VerifyAccount(ctx, accountID, e.clock.Now())
}

// ClaimToken binds a verified account to an account-gated token. An existing
// grant is returned unchanged, so a claim never reactivates a paused or
// revoked grant.
func (e *Engine) ClaimToken(ctx context.Context, accountID, raw string) (*Grant, error) {
	t, err := e.lookup(ctx, raw)
	e.observe(ctx, "claim", err)
	if err != nil {
		return nil, err
	}
	if !t.RequireAccount {
		return nil, invalidInput("token does not require an account")
	}

	a, err := e.store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !a.Verified() {
		return nil, ErrAccountNotVerified
	}

	existing, err := e.store.GetGrant(ctx, accountID, t.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := e.clock.Now()
	g := &Grant{
		AccountID: accountID,
		TokenID:   t.ID,
		Status:    GrantActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateGrant(ctx, g); err != nil {
		if errors.Is(err, ErrConflict) {
			return e.store.GetGrant(ctx, accountID, t.ID)
		}
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"account_id": accountID, "token_id": t.ID}).Info("portal token claimed")
	return g, nil
}

// PauseGrant suspends an active grant without touching the token
func (e *Engine) PauseGrant(ctx context.Context, accountID, tokenID string) (*Grant, error) {
	return e.SetGrantStatus(ctx, accountID, tokenID, GrantPaused)
}

// ResumeGrant reactivates a paused grant
func (e *Engine) ResumeGrant(ctx context.Context, accountID, tokenID string) (*Grant, error) {
	return e.SetGrantStatus(ctx, accountID, tokenID, GrantActive)
}

// RevokeGrant permanently ends a grant
func (e *Engine) RevokeGrant(ctx context.Context, accountID, tokenID string) (*Grant, error) {
	return e.SetGrantStatus(ctx, accountID, tokenID, GrantRevoked)
}

// SetGrantStatus moves a grant to status. Revoked is terminal; setting the
// current status is a no-op.
func (e *Engine) SetGrantStatus(ctx context.Context, accountID, tokenID string, status GrantStatus) (*Grant, error) {
	if !status.Valid() {
		return nil, invalidInput("unknown grant status %q", status)
	}
	g, err := e.store.GetGrant(ctx, accountID, tokenID)
	if err != nil {
		return nil, err
	}
	if g.Status == status {
		return g, nil
	}
	if g.Status == GrantRevoked {
		return nil, fmt.Errorf("%w: grant is revoked", ErrInvalidTransition)
	}

	now := e.clock.Now()
	if err := e.store.UpdateGrantStatus(ctx, accountID, tokenID, status, now); err != nil {
		return nil, err
	}
	g.Status = status
	g.UpdatedAt = now

	e.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"token_id":   tokenID,
		"status":     status,
	}).Info("portal grant updated")
	return g, nil
}
