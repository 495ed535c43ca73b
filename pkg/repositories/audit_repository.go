package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
)

// AuditFilter narrows an audit ledger listing. Zero values mean no filter.
type AuditFilter struct {
	Actions    []models.AuditAction
	TargetType string
	TargetID   *uuid.UUID
	ActorID    *uuid.UUID
	Since      *time.Time
	Until      *time.Time
	After      *pagination.Cursor
	Limit      int
}

// AuditRepository provides data access for the audit ledger.
// There is deliberately no update or delete.
type AuditRepository interface {
	// Create appends an entry, inside the transaction in ctx when there is one.
	Create(ctx context.Context, entry *models.AuditLogEntry) error

	// List returns entries newest first, keyset-paginated on (created_at, id).
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditLogEntry, error)
}

type auditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) AuditRepository {
	return &auditRepository{db: db}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = newID()
	}
	entry.CreatedAt = now()

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	_, err = r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO press_audit_log (
			id, actor_id, action, target_type, target_id, reason, metadata, created_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`,
		entry.ID,
		entry.ActorID,
		string(entry.Action),
		entry.TargetType,
		entry.TargetID,
		entry.Reason,
		metadataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log entry: %w", err)
	}

	return nil
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditLogEntry, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		conditions = append(conditions, fmt.Sprintf("action = ANY($%d)", argIdx))
		args = append(args, actions)
		argIdx++
	}
	if filter.TargetType != "" {
		conditions = append(conditions, fmt.Sprintf("target_type = $%d", argIdx))
		args = append(args, filter.TargetType)
		argIdx++
	}
	if filter.TargetID != nil {
		conditions = append(conditions, fmt.Sprintf("target_id = $%d", argIdx))
		args = append(args, *filter.TargetID)
		argIdx++
	}
	if filter.ActorID != nil {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argIdx))
		args = append(args, *filter.ActorID)
		argIdx++
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filter.Since)
		argIdx++
	}
	if filter.Until != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *filter.Until)
		argIdx++
	}
	if filter.After != nil {
		conditions = append(conditions, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND id < $%d))", argIdx, argIdx, argIdx+1))
		args = append(args, filter.After.Time, filter.After.ID)
		argIdx += 2
	}

	query := fmt.Sprintf(`
		SELECT id, actor_id, action, COALESCE(target_type, ''), target_id, reason, metadata, created_at
		FROM press_audit_log
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, strings.Join(conditions, " AND "), argIdx)
	args = append(args, filter.Limit)

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log entries: %w", err)
	}

	return entries, nil
}

func scanAuditLogEntry(row pgx.Row) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	var action string
	var metadataJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.ActorID,
		&action,
		&entry.TargetType,
		&entry.TargetID,
		&entry.Reason,
		&metadataJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
	}
	entry.Action = models.AuditAction(action)

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
		}
	}

	return &entry, nil
}
