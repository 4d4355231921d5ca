// Package signedtoken mints and verifies short-lived, stateless capability
// tokens that grant access to a single resource.
//
// Wire format:
//
//	base64url(json{"resourceId","expiresAt"}) "." base64url(HMAC-SHA256(payload segment))
//
// Tokens cannot be revoked individually; rotating the secret invalidates every
// outstanding token.
package signedtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// MinSecretLength is the minimum HMAC key size in bytes
const MinSecretLength = 32

// strict decoding rejects non-zero padding bits so each token has exactly one
// accepted spelling
var b64 = base64.RawURLEncoding.Strict()

var (
	// ErrInvalidToken is returned for every verification failure
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidTTL is returned when minting with a negative ttl
	ErrInvalidTTL = errors.New("ttl must not be negative")
)

// Claims is the signed payload
type Claims struct {
	ResourceID string `json:"resourceId"`
	// ExpiresAt is unix seconds
	ExpiresAt int64 `json:"expiresAt"`
}

// Codec mints and verifies signed tokens
type Codec struct {
	secret   []byte
	previous [][]byte
	clock    clockwork.Clock
}

// Option configures a Codec
type Option func(*Codec) error

// WithClock overrides the clock used for expiry
func WithClock(clock clockwork.Clock) Option {
	return func(c *Codec) error {
		c.clock = clock
		return nil
	}
}

// WithPreviousSecrets accepts tokens signed with retired secrets. New tokens
// are always signed with the current secret.
func WithPreviousSecrets(secrets ...[]byte) Option {
	return func(c *Codec) error {
		for _, s := range secrets {
			if len(s) < MinSecretLength {
				return fmt.Errorf("previous secret must be at least %d bytes", MinSecretLength)
			}
			c.previous = append(c.previous, append([]byte(nil), s...))
		}
		return nil
	}
}

// NewCodec creates a codec signing with secret
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
	}

	c := &Codec{
		secret: append([]byte(nil), secret...),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Mint issues a token for resourceID valid for ttl. A zero ttl yields a token
// that is already expired.
func (c *Codec) Mint(resourceID string, ttl time.Duration) (string, error) {
	token, _, err := c.MintClaims(resourceID, ttl)
	return token, err
}

// MintClaims is Mint that also returns the signed claims. Expiry is truncated
// to the second.
func (c *Codec) MintClaims(resourceID string, ttl time.Duration) (string, Claims, error) {
	if resourceID == "" {
		return "", Claims{}, fmt.Errorf("resource id is required")
	}
	if ttl < 0 {
		return "", Claims{}, ErrInvalidTTL
	}

	claims := Claims{
		ResourceID: resourceID,
		ExpiresAt:  c.clock.Now().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("failed to encode claims: %w", err)
	}

	segment := b64.EncodeToString(payload)
	return segment + "." + b64.EncodeToString(sign(c.secret, segment)), claims, nil
}

// Expiry returns ExpiresAt as a time
func (cl Claims) Expiry() time.Time {
	return time.Unix(cl.ExpiresAt, 0).UTC()
}

// Verify returns the resource id of a valid, unexpired token. Every failure
// is ErrInvalidToken.
func (c *Codec) Verify(token string) (string, error) {
	claims, err := c.VerifyClaims(token)
	if err != nil {
		return "", err
	}
	return claims.ResourceID, nil
}

// VerifyClaims returns the full claims of a valid, unexpired token
func (c *Codec) VerifyClaims(token string) (Claims, error) {
	segment, sigPart, found := strings.Cut(token, ".")

	// MAC is computed before anything is parsed so malformed and forged
	// tokens take the same path
	var sig []byte
	if found && !strings.Contains(sigPart, ".") {
		sig, _ = b64.DecodeString(sigPart)
	}
	if !c.matches(segment, sig) {
		return Claims{}, ErrInvalidToken
	}

	payload, err := b64.DecodeString(segment)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.ResourceID == "" {
		return Claims{}, ErrInvalidToken
	}

	if claims.ExpiresAt <= c.clock.Now().Unix() {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}

// matches checks sig against every accepted secret without short-circuiting
func (c *Codec) matches(segment string, sig []byte) bool {
	ok := hmac.Equal(sign(c.secret, segment), sig)
	for _, prev := range c.previous {
		if hmac.Equal(sign(prev, segment), sig) {
			ok = true
		}
	}
	return ok
}

func sign(secret []byte, segment string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(segment))
	return mac.Sum(nil)
}
