package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger stores audit records in the authz_audit_log table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts rec
func (l *DBLogger) Log(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO authz_audit_log (
			id, occurred_at, actor_id, org_id, project_id, permission,
			resource_type, resource_id, allowed, reason, policy_version,
			scopes_evaluated, permissions, request_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := l.db.ExecContext(ctx, query,
		rec.ID,
		rec.OccurredAt,
		rec.ActorID,
		nullString(rec.OrgID),
		nullString(rec.ProjectID),
		rec.Permission,
		nullString(rec.ResourceType),
		nullString(rec.ResourceID),
		rec.Allowed,
		rec.Reason,
		rec.PolicyVersion,
		pq.Array(nonNil(rec.ScopesEvaluated)),
		pq.Array(nonNil(rec.Permissions)),
		nullString(rec.RequestID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Search returns records matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT id, occurred_at, actor_id, org_id, project_id, permission,
			resource_type, resource_id, allowed, reason, policy_version,
			scopes_evaluated, permissions, request_id
		FROM authz_audit_log
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 1

	if filter.Start != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argCount)
		args = append(args, *filter.Start)
		argCount++
	}
	if filter.End != nil {
		query += fmt.Sprintf(" AND occurred_at < $%d", argCount)
		args = append(args, *filter.End)
		argCount++
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, filter.ActorID)
		argCount++
	}
	if filter.OrgID != "" {
		query += fmt.Sprintf(" AND org_id = $%d", argCount)
		args = append(args, filter.OrgID)
		argCount++
	}
	if filter.ProjectID != "" {
		query += fmt.Sprintf(" AND project_id = $%d", argCount)
		args = append(args, filter.ProjectID)
		argCount++
	}
	if filter.Permission != "" {
		query += fmt.Sprintf(" AND permission = $%d", argCount)
		args = append(args, filter.Permission)
		argCount++
	}
	if filter.Reason != "" {
		query += fmt.Sprintf(" AND reason = $%d", argCount)
		args = append(args, filter.Reason)
		argCount++
	}
	if filter.Allowed != nil {
		query += fmt.Sprintf(" AND allowed = $%d", argCount)
		args = append(args, *filter.Allowed)
		argCount++
	}

	query += " ORDER BY occurred_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, filter.limit())
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
	} else {
		args = append(args, 0)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec                                                   Record
			orgID, projectID, resourceType, resourceID, requestID sql.NullString
			scopes, perms                                         pq.StringArray
		)
		if err := rows.Scan(
			&rec.ID, &rec.OccurredAt, &rec.ActorID, &orgID, &projectID, &rec.Permission,
			&resourceType, &resourceID, &rec.Allowed, &rec.Reason, &rec.PolicyVersion,
			&scopes, &perms, &requestID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.OrgID = orgID.String
		rec.ProjectID = projectID.String
		rec.ResourceType = resourceType.String
		rec.ResourceID = resourceID.String
		rec.RequestID = requestID.String
		rec.ScopesEvaluated = nonNil(scopes)
		rec.Permissions = nonNil(perms)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit records: %w", err)
	}
	return records, nil
}

// Purge deletes records that occurred before cutoff
func (l *DBLogger) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM authz_audit_log WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged audit records: %w", err)
	}
	return n, nil
}

// Close does not close the shared connection pool
func (l *DBLogger) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
