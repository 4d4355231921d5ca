package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrInvalidPermission is returned when a permission key is malformed
var ErrInvalidPermission = errors.New("invalid permission")

// Registry is the source of truth for permission keys
type Registry interface {
	// Lookup reports whether key is a registered permission
	Lookup(ctx context.Context, key string) (bool, error)
	// Ensure registers permissions, leaving existing keys untouched
	Ensure(ctx context.Context, perms []Permission) error
	// List returns all registered permissions ordered by key
	List(ctx context.Context) ([]Permission, error)
}

// ValidateKey checks that a permission key can be registered
func ValidateKey(key string) error {
	if key == "" || key == Wildcard || strings.ContainsAny(key, " \t\n*") {
		return fmt.Errorf("%w: %q", ErrInvalidPermission, key)
	}
	return nil
}

// SQLRegistry stores permissions in the permissions table
type SQLRegistry struct {
	db *sql.DB
}

// NewSQLRegistry creates a registry backed by PostgreSQL
func NewSQLRegistry(db *sql.DB) *SQLRegistry {
	return &SQLRegistry{db: db}
}

// Lookup reports whether key is a registered permission
func (r *SQLRegistry) Lookup(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM permissions WHERE key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up permission: %w", err)
	}
	return exists, nil
}

// Ensure registers permissions in a single transaction
func (r *SQLRegistry) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		if err := ValidateKey(p.Key); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range perms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO permissions (key, description) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			p.Key, p.Description,
		); err != nil {
			return fmt.Errorf("failed to register permission %s: %w", p.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit permissions: %w", err)
	}
	return nil
}

// List returns all registered permissions ordered by key
func (r *SQLRegistry) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, description FROM permissions ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Key, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// StaticRegistry is an in-memory registry
type StaticRegistry struct {
	mu    sync.RWMutex
	perms map[string]Permission
}

// NewStaticRegistry creates an in-memory registry holding perms
func NewStaticRegistry(perms ...Permission) *StaticRegistry {
	r := &StaticRegistry{perms: make(map[string]Permission, len(perms))}
	for _, p := range perms {
		r.perms[p.Key] = p
	}
	return r
}

// Lookup reports whether key is a registered permission
func (r *StaticRegistry) Lookup(_ context.Context, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.perms[key]
	return ok, nil
}

// Ensure registers permissions
func (r *StaticRegistry) Ensure(_ context.Context, perms []Permission) error {
	for _, p := range perms {
		if err := ValidateKey(p.Key); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range perms {
		if _, ok := r.perms[p.Key]; !ok {
			r.perms[p.Key] = p
		}
	}
	return nil
}

// List returns all registered permissions ordered by key
func (r *StaticRegistry) List(_ context.Context) ([]Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Permission, 0, len(r.perms))
	for _, p := range r.perms {
		keys = append(keys, p)
	}
	sortPermissions(keys)
	return keys, nil
}
