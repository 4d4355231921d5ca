package portal

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenRowColumns = []string{
	"id", "token_hash", "org_id", "project_id", "portal_type", "company_id", "contact_id",
	"capabilities", "pin_required", "pin_hash", "require_account", "expires_at", "revoked_at",
	"last_accessed_at", "access_count", "created_by", "created_at",
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgresStore_CreateToken(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	created := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	tok := &Token{
		ID:          "tok-1",
		TokenHash:   "abc123",
		OrgID:       "org-a",
		ProjectID:   "project-1",
		PortalType:  TypeClient,
		Permissions: Permissions{ViewSchedule: true, ViewDocuments: true},
		CreatedBy:   "user-pm",
		CreatedAt:   created,
	}

	mock.ExpectExec("INSERT INTO portal_tokens").
		WithArgs("tok-1", "abc123", "org-a", "project-1", "client", nil, nil,
			sqlmock.AnyArg(), false, sqlmock.AnyArg(), false, nil, "user-pm", created).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.CreateToken(context.Background(), tok))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateTokenConflict(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)

	mock.ExpectExec("INSERT INTO portal_tokens").
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "portal_tokens_token_hash_key"})

	err := store.CreateToken(context.Background(), &Token{ID: "tok-1", PortalType: TypeBid})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPostgresStore_TokenByHash(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	created := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)

	mock.ExpectQuery("SELECT .* FROM portal_tokens WHERE token_hash = \\$1").
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns).AddRow(
			"tok-1", "abc123", "org-a", "project-1", "sub", "company-9", nil,
			"{view_documents,submit_selections,retired_flag}", true, []byte("$2a$hash"), true, expires, nil,
			nil, int64(4), "user-pm", created,
		))

	tok, err := store.TokenByHash(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, TypeSub, tok.PortalType)
	assert.Equal(t, "company-9", tok.CompanyID)
	assert.Empty(t, tok.ContactID)
	assert.Equal(t, []Capability{CapSubmitSelections, CapViewDocuments}, tok.Permissions.Capabilities())
	assert.True(t, tok.PINRequired)
	assert.Equal(t, []byte("$2a$hash"), tok.PINHash)
	require.NotNil(t, tok.ExpiresAt)
	assert.Equal(t, expires, *tok.ExpiresAt)
	assert.Nil(t, tok.RevokedAt)
	assert.Equal(t, int64(4), tok.AccessCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TokenNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)

	mock.ExpectQuery("SELECT .* FROM portal_tokens WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(tokenRowColumns))

	_, err := store.TokenByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_RevokeToken(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE portal_tokens SET revoked_at = COALESCE\\(revoked_at, \\$2\\) WHERE id = \\$1").
		WithArgs("tok-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE portal_tokens SET revoked_at").
		WithArgs("missing", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.RevokeToken(context.Background(), "tok-1", at))
	assert.ErrorIs(t, store.RevokeToken(context.Background(), "missing", at), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordAccess(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("SET access_count = access_count \\+ 1").
		WithArgs("tok-1", at).
		WillReturnError(errors.New("read-only transaction"))

	err := store.RecordAccess(context.Background(), "tok-1", at)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record portal access")
}

func TestPostgresStore_Accounts(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	created := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO portal_accounts").
		WithArgs("acct-1", "sub@example.com", nil, created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO portal_accounts").
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "portal_accounts_email_key"})
	mock.ExpectQuery("SELECT id, email, email_verified_at, created_at FROM portal_accounts").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "email_verified_at", "created_at"}).
			AddRow("acct-1", "sub@example.com", created, created))

	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, &Account{ID: "acct-1", Email: "sub@example.com", CreatedAt: created}))
	assert.ErrorIs(t, store.CreateAccount(ctx, &Account{ID: "acct-2", Email: "sub@example.com"}), ErrConflict)

	a, err := store.AccountByID(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, a.Verified())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Grants(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	g := &Grant{AccountID: "acct-1", TokenID: "tok-1", Status: GrantActive, CreatedAt: at, UpdatedAt: at}
	mock.ExpectExec("INSERT INTO portal_grants").
		WithArgs("acct-1", "tok-1", "active", at, at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO portal_grants").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT account_id, token_id, status, created_at, updated_at").
		WithArgs("acct-1", "tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "token_id", "status", "created_at", "updated_at"}).
			AddRow("acct-1", "tok-1", "paused", at, at))
	mock.ExpectQuery("SELECT account_id, token_id, status").
		WithArgs("acct-2", "tok-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE portal_grants SET status = \\$3").
		WithArgs("acct-1", "tok-1", "revoked", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateGrant(ctx, g))
	assert.ErrorIs(t, store.CreateGrant(ctx, g), ErrConflict)

	loaded, err := store.GetGrant(ctx, "acct-1", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, GrantPaused, loaded.Status)

	_, err = store.GetGrant(ctx, "acct-2", "tok-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.UpdateGrantStatus(ctx, "acct-1", "tok-1", GrantRevoked, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
