package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	pinIssuer   = "gatehouse"
	pinAudience = "portal-pin"
)

// PINSession is a short-lived credential proving the bearer entered the
// token's PIN
type PINSession struct {
	Token     string    `json:"pin_session"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyPIN checks pin against the token's PIN hash and issues a PIN session
// bound to the token
func (e *Engine) VerifyPIN(ctx context.Context, raw, pin string) (*PINSession, error) {
	ctx, span := portalTracer.Start(ctx, "portal.VerifyPIN")
	defer span.End()

	t, err := e.lookup(ctx, raw)
	if err == nil {
		switch {
		case !t.PINRequired:
			err = deny(DenyPINInvalid, t.ID)
		case bcrypt.CompareHashAndPassword(t.PINHash, []byte(pin)) != nil:
			err = deny(DenyPINInvalid, t.ID)
		}
	}
	e.observe(ctx, "verify_pin", err)
	if err != nil {
		return nil, err
	}
	return e.issuePINSession(t.ID)
}

func (e *Engine) issuePINSession(tokenID string) (*PINSession, error) {
	now := e.clock.Now()
	expiresAt := now.Add(e.pinTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    pinIssuer,
		Subject:   tokenID,
		Audience:  jwt.ClaimStrings{pinAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.pinSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign PIN session: %w", err)
	}
	return &PINSession{Token: signed, ExpiresAt: expiresAt}, nil
}

func (e *Engine) checkPINSession(session, tokenID string) error {
	_, err := jwt.ParseWithClaims(session, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return e.pinSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(pinIssuer),
		jwt.WithAudience(pinAudience),
		jwt.WithSubject(tokenID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(e.clock.Now),
	)
	return err
}
