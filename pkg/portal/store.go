package portal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store persists portal tokens, accounts and grants. Tokens are never
// deleted; revocation and expiry are soft state.
type Store interface {
	CreateToken(ctx context.Context, t *Token) error
	TokenByHash(ctx context.Context, hash string) (*Token, error)
	TokenByID(ctx context.Context, id string) (*Token, error)
	// RevokeToken sets revoked_at if it is not already set
	RevokeToken(ctx context.Context, id string, at time.Time) error
	RecordAccess(ctx context.Context, id string, at time.Time) error

	CreateAccount(ctx context.Context, a *Account) error
	AccountByID(ctx context.Context, id string) (*Account, error)
	// VerifyAccount sets email_verified_at if it is not already set
	VerifyAccount(ctx context.Context, id string, at time.Time) error

	GetGrant(ctx context.Context, accountID, tokenID string) (*Grant, error)
	CreateGrant(ctx context.Context, g *Grant) error
	UpdateGrantStatus(ctx context.Context, accountID, tokenID string, status GrantStatus, at time.Time) error
}

const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new portal store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tokenColumns = `id, token_hash, org_id, project_id, portal_type, company_id, contact_id,
	capabilities, pin_required, pin_hash, require_account, expires_at, revoked_at,
	last_accessed_at, access_count, created_by, created_at`

// CreateToken inserts a new token
func (s *PostgresStore) CreateToken(ctx context.Context, t *Token) error {
	caps := make([]string, 0)
	for _, c := range t.Permissions.Capabilities() {
		caps = append(caps, string(c))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portal_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULL, NULL, 0, $13, $14)
	`,
		t.ID, t.TokenHash, t.OrgID, t.ProjectID, string(t.PortalType),
		nullString(t.CompanyID), nullString(t.ContactID),
		pq.Array(caps), t.PINRequired, t.PINHash, t.RequireAccount,
		nullTime(t.ExpiresAt), t.CreatedBy, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create portal token: %w", mapError(err))
	}
	return nil
}

// TokenByHash loads a token by the hash of its raw value
func (s *PostgresStore) TokenByHash(ctx context.Context, hash string) (*Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM portal_tokens WHERE token_hash = $1`, hash)
	t, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("failed to load portal token: %w", err)
	}
	return t, nil
}

// TokenByID loads a token by id
func (s *PostgresStore) TokenByID(ctx context.Context, id string) (*Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM portal_tokens WHERE id = $1`, id)
	t, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("failed to load portal token: %w", err)
	}
	return t, nil
}

func scanToken(row *sql.Row) (*Token, error) {
	var (
		t                                  Token
		portalType                         string
		companyID, contactID               sql.NullString
		caps                               pq.StringArray
		expiresAt, revokedAt, lastAccessAt sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.TokenHash, &t.OrgID, &t.ProjectID, &portalType, &companyID, &contactID,
		&caps, &t.PINRequired, &t.PINHash, &t.RequireAccount, &expiresAt, &revokedAt,
		&lastAccessAt, &t.AccessCount, &t.CreatedBy, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.PortalType = Type(portalType)
	t.CompanyID = companyID.String
	t.ContactID = contactID.String
	t.ExpiresAt = timePtr(expiresAt)
	t.RevokedAt = timePtr(revokedAt)
	t.LastAccessedAt = timePtr(lastAccessAt)

	// Unknown flags are ignored.
	for _, c := range caps {
		if f := t.Permissions.flag(Capability(c)); f != nil {
			*f = true
		}
	}
	return &t, nil
}

// RevokeToken sets revoked_at if it is not already set
func (s *PostgresStore) RevokeToken(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_tokens SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err := affected(res, err); err != nil {
		return fmt.Errorf("failed to revoke portal token: %w", err)
	}
	return nil
}

// RecordAccess bumps the access counter
func (s *PostgresStore) RecordAccess(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_tokens SET access_count = access_count + 1, last_accessed_at = $2 WHERE id = $1`, id, at)
	if err := affected(res, err); err != nil {
		return fmt.Errorf("failed to record portal access: %w", err)
	}
	return nil
}

// CreateAccount inserts a new external account
func (s *PostgresStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portal_accounts (id, email, email_verified_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, a.ID, a.Email, nullTime(a.EmailVerifiedAt), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create portal account: %w", mapError(err))
	}
	return nil
}

// AccountByID loads an external account
func (s *PostgresStore) AccountByID(ctx context.Context, id string) (*Account, error) {
	var (
		a          Account
		verifiedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, email_verified_at, created_at FROM portal_accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Email, &verifiedAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load portal account: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portal account: %w", err)
	}
	a.EmailVerifiedAt = timePtr(verifiedAt)
	return &a, nil
}

// VerifyAccount sets email_verified_at if it is not already set
func (s *PostgresStore) VerifyAccount(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE portal_accounts SET email_verified_at = COALESCE(email_verified_at, $2) WHERE id = $1`, id, at)
	if err := affected(res, err); err != nil {
		return fmt.Errorf("failed to verify portal account: %w", err)
	}
	return nil
}

// GetGrant loads the grant for an account and token
func (s *PostgresStore) GetGrant(ctx context.Context, accountID, tokenID string) (*Grant, error) {
	var (
		g      Grant
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, token_id, status, created_at, updated_at
		FROM portal_grants WHERE account_id = $1 AND token_id = $2
	`, accountID, tokenID).Scan(&g.AccountID, &g.TokenID, &status, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load portal grant: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portal grant: %w", err)
	}
	g.Status = GrantStatus(status)
	return &g, nil
}

// CreateGrant inserts a grant, failing with ErrConflict if one exists
func (s *PostgresStore) CreateGrant(ctx context.Context, g *Grant) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO portal_grants (account_id, token_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, token_id) DO NOTHING
	`, g.AccountID, g.TokenID, string(g.Status), g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create portal grant: %w", mapError(err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to create portal grant: %w", err)
	} else if n == 0 {
		return fmt.Errorf("failed to create portal grant: %w", ErrConflict)
	}
	return nil
}

// UpdateGrantStatus changes a grant's status
func (s *PostgresStore) UpdateGrantStatus(ctx context.Context, accountID, tokenID string, status GrantStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE portal_grants SET status = $3, updated_at = $4
		WHERE account_id = $1 AND token_id = $2
	`, accountID, tokenID, string(status), at)
	if err := affected(res, err); err != nil {
		return fmt.Errorf("failed to update portal grant: %w", err)
	}
	return nil
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
