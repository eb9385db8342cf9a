// services/anti-cheat/internal/repository/audit_postgres.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"trust-defense/services/anti-cheat/internal/models"
)

const auditSchema = `
	CREATE TABLE IF NOT EXISTS admin_audit_log (
		id             UUID PRIMARY KEY,
		actor          TEXT NOT NULL,
		action         TEXT NOT NULL,
		target_type    TEXT NOT NULL,
		target         TEXT NOT NULL,
		before_state   JSONB,
		after_state    JSONB,
		changed_fields TEXT[] NOT NULL DEFAULT '{}',
		notes          TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_admin_audit_target ON admin_audit_log (target_type, target, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_admin_audit_actor ON admin_audit_log (actor, created_at DESC);
`

// PostgresAuditRepository is an append-only admin audit trail.
type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Migrate creates the audit table when missing.
func (r *PostgresAuditRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("migrate audit log: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	before, err := jsonOrNil(entry.Before)
	if err != nil {
		return fmt.Errorf("marshal before state: %w", err)
	}
	after, err := jsonOrNil(entry.After)
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}

	query := `
		INSERT INTO admin_audit_log (id, actor, action, target_type, target, before_state, after_state, changed_fields, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Actor,
		entry.Action,
		entry.TargetType,
		entry.Target,
		before,
		after,
		pq.Array(entry.ChangedFields),
		entry.Notes,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	limit, offset := NormalizePage(filter.Limit, filter.Offset)

	var (
		where []string
		args  []interface{}
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("actor", filter.Actor)
	add("target_type", filter.TargetType)
	add("target", filter.Target)

	query := `SELECT id, actor, action, target_type, target, before_state, after_state, changed_fields, notes, created_at FROM admin_audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var (
			e             models.AuditEntry
			before, after []byte
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.TargetType, &e.Target,
			&before, &after, pq.Array(&e.ChangedFields), &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(before) > 0 {
			if err := json.Unmarshal(before, &e.Before); err != nil {
				return nil, fmt.Errorf("decode before state: %w", err)
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &e.After); err != nil {
				return nil, fmt.Errorf("decode after state: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// jsonOrNil keeps empty states as SQL NULL.
func jsonOrNil(state map[string]interface{}) (interface{}, error) {
	if len(state) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
