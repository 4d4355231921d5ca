package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/gatehouse/pkg/catalog"
)

// MembershipStore loads the active membership of an actor in one scope
// instance. A missing or inactive membership is (nil, nil).
type MembershipStore interface {
	ProjectMembership(ctx context.Context, projectID, actorID string) (*Membership, error)
	OrgMembership(ctx context.Context, orgID, actorID string) (*Membership, error)
	PlatformMembership(ctx context.Context, actorID string, now time.Time) (*Membership, error)
}

// MembershipAdmin manages roles and memberships. Assigning a role replaces any
// existing membership for the same actor and scope instance.
type MembershipAdmin interface {
	SeedRoles(ctx context.Context, roles []catalog.RoleSpec) error
	AssignProjectRole(ctx context.Context, projectID, orgID, actorID, roleKey string) error
	AssignOrgRole(ctx context.Context, orgID, actorID, roleKey string) error
	AssignPlatformRole(ctx context.Context, actorID, roleKey string, expiresAt *time.Time) error
	SetMembershipStatus(ctx context.Context, scope ScopeKind, scopeID, actorID string, status MembershipStatus) error
}

// PostgresStore implements MembershipStore, MembershipAdmin and
// IdentityResolver on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new RBAC store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const membershipSelect = `
	SELECT %[1]s, m.user_id, m.status, %[2]s, r.id, r.key,
		COALESCE(array_agg(rp.permission_key ORDER BY rp.permission_key) FILTER (WHERE rp.permission_key IS NOT NULL), '{}')
	FROM %[3]s m
	JOIN roles r ON r.id = m.role_id
	LEFT JOIN role_permissions rp ON rp.role_id = r.id
`

// ProjectMembership loads an active project membership
func (s *PostgresStore) ProjectMembership(ctx context.Context, projectID, actorID string) (*Membership, error) {
	query := fmt.Sprintf(membershipSelect, "m.project_id, m.org_id", "NULL::timestamptz", "project_memberships") + `
	WHERE m.project_id = $1 AND m.user_id = $2 AND m.status = 'active'
	GROUP BY m.project_id, m.org_id, m.user_id, m.status, r.id, r.key`

	m, err := s.scanMembership(s.db.QueryRowContext(ctx, query, projectID, actorID), ScopeProject)
	if err != nil {
		return nil, fmt.Errorf("failed to load project membership: %w", err)
	}
	return m, nil
}

// OrgMembership loads an active org membership
func (s *PostgresStore) OrgMembership(ctx context.Context, orgID, actorID string) (*Membership, error) {
	query := fmt.Sprintf(membershipSelect, "m.org_id, m.org_id", "NULL::timestamptz", "org_memberships") + `
	WHERE m.org_id = $1 AND m.user_id = $2 AND m.status = 'active'
	GROUP BY m.org_id, m.user_id, m.status, r.id, r.key`

	m, err := s.scanMembership(s.db.QueryRowContext(ctx, query, orgID, actorID), ScopeOrg)
	if err != nil {
		return nil, fmt.Errorf("failed to load org membership: %w", err)
	}
	return m, nil
}

// PlatformMembership loads an active, unexpired platform membership
func (s *PostgresStore) PlatformMembership(ctx context.Context, actorID string, now time.Time) (*Membership, error) {
	query := fmt.Sprintf(membershipSelect, "''::text, ''::text", "m.expires_at", "platform_memberships") + `
	WHERE m.user_id = $1 AND m.status = 'active' AND (m.expires_at IS NULL OR m.expires_at > $2)
	GROUP BY m.user_id, m.status, m.expires_at, r.id, r.key`

	m, err := s.scanMembership(s.db.QueryRowContext(ctx, query, actorID, now), ScopePlatform)
	if err != nil {
		return nil, fmt.Errorf("failed to load platform membership: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) scanMembership(row *sql.Row, scope ScopeKind) (*Membership, error) {
	var (
		m         Membership
		expiresAt sql.NullTime
		perms     pq.StringArray
	)
	m.Scope = scope

	err := row.Scan(&m.ScopeID, &m.OrgID, &m.ActorID, &m.Status, &expiresAt, &m.Role.ID, &m.Role.Key, &perms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if scope == ScopePlatform {
		m.ScopeID = ""
		m.OrgID = ""
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	m.Role.Permissions = NewPermissionSet(perms...)
	return &m, nil
}

// SeedRoles upserts roles and replaces their permission lists
func (s *PostgresStore) SeedRoles(ctx context.Context, roles []catalog.RoleSpec) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rs := range roles {
		var roleID string
		err := tx.QueryRowContext(ctx, `
			INSERT INTO roles (id, key, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET description = EXCLUDED.description
			RETURNING id
		`, uuid.NewString(), rs.Key, rs.Description).Scan(&roleID)
		if err != nil {
			return fmt.Errorf("failed to upsert role %s: %w", rs.Key, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to reset permissions for role %s: %w", rs.Key, err)
		}
		if len(rs.Permissions) > 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_key)
				SELECT $1, unnest($2::text[])
			`, roleID, pq.Array(rs.Permissions)); err != nil {
				return fmt.Errorf("failed to set permissions for role %s: %w", rs.Key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit roles: %w", err)
	}
	return nil
}

// AssignProjectRole creates or replaces a project membership
func (s *PostgresStore) AssignProjectRole(ctx context.Context, projectID, orgID, actorID, roleKey string) error {
	if projectID == "" || orgID == "" || actorID == "" {
		return fmt.Errorf("%w: project, org and actor are required", ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO project_memberships (id, project_id, org_id, user_id, role_id, status, updated_at)
		SELECT $1, $2, $3, $4, r.id, 'active', NOW() FROM roles r WHERE r.key = $5
		ON CONFLICT (project_id, user_id) DO UPDATE
		SET org_id = EXCLUDED.org_id, role_id = EXCLUDED.role_id, status = 'active', updated_at = NOW()
	`, uuid.NewString(), projectID, orgID, actorID, roleKey)
	return assignResult(res, err, roleKey)
}

// AssignOrgRole creates or replaces an org membership
func (s *PostgresStore) AssignOrgRole(ctx context.Context, orgID, actorID, roleKey string) error {
	if orgID == "" || actorID == "" {
		return fmt.Errorf("%w: org and actor are required", ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO org_memberships (id, org_id, user_id, role_id, status, updated_at)
		SELECT $1, $2, $3, r.id, 'active', NOW() FROM roles r WHERE r.key = $4
		ON CONFLICT (org_id, user_id) DO UPDATE
		SET role_id = EXCLUDED.role_id, status = 'active', updated_at = NOW()
	`, uuid.NewString(), orgID, actorID, roleKey)
	return assignResult(res, err, roleKey)
}

// AssignPlatformRole creates or replaces a platform membership
func (s *PostgresStore) AssignPlatformRole(ctx context.Context, actorID, roleKey string, expiresAt *time.Time) error {
	if actorID == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_memberships (id, user_id, role_id, status, expires_at, updated_at)
		SELECT $1, $2, r.id, 'active', $3, NOW() FROM roles r WHERE r.key = $4
		ON CONFLICT (user_id) DO UPDATE
		SET role_id = EXCLUDED.role_id, status = 'active', expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, uuid.NewString(), actorID, expiresAt, roleKey)
	return assignResult(res, err, roleKey)
}

func assignResult(res sql.Result, err error, roleKey string) error {
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("role %s: %w", roleKey, ErrNotFound)
	}
	return nil
}

// SetMembershipStatus suspends or reactivates a membership
func (s *PostgresStore) SetMembershipStatus(ctx context.Context, scope ScopeKind, scopeID, actorID string, status MembershipStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}

	var (
		res sql.Result
		err error
	)
	switch scope {
	case ScopeProject:
		res, err = s.db.ExecContext(ctx,
			`UPDATE project_memberships SET status = $1, updated_at = NOW() WHERE project_id = $2 AND user_id = $3`,
			status, scopeID, actorID)
	case ScopeOrg:
		res, err = s.db.ExecContext(ctx,
			`UPDATE org_memberships SET status = $1, updated_at = NOW() WHERE org_id = $2 AND user_id = $3`,
			status, scopeID, actorID)
	case ScopePlatform:
		res, err = s.db.ExecContext(ctx,
			`UPDATE platform_memberships SET status = $1, updated_at = NOW() WHERE user_id = $2`,
			status, actorID)
	default:
		return fmt.Errorf("%w: scope %q", ErrInvalidInput, scope)
	}
	if err != nil {
		return fmt.Errorf("failed to update membership status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update membership status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("membership: %w", ErrNotFound)
	}
	return nil
}

// VerifiedEmail returns the actor's email and whether it has been verified
func (s *PostgresStore) VerifiedEmail(ctx context.Context, actorID string) (string, bool, error) {
	var (
		email      string
		verifiedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT email, email_verified_at FROM actor_identities WHERE actor_id = $1`, actorID,
	).Scan(&email, &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load actor identity: %w", err)
	}
	return email, verifiedAt.Valid, nil
}
