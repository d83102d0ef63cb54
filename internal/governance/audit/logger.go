// Package audit delivers change records to the activity log.
//
// Activity logs are append-only. Rows are removed only by the retention
// job, never by request paths.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

// Entry is a stored activity log row.
type Entry struct {
	ID        string              `json:"id"`
	Record    domain.ChangeRecord `json:"record"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Logger writes activity records to the activity_logs table.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger creates a new audit Logger.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// Write implements Sink by inserting one activity_logs row.
func (l *Logger) Write(ctx context.Context, rec domain.ChangeRecord) error {
	meta, err := rec.MetadataJSON()
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	occurredAt := rec.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = domain.Now()
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO activity_logs
			(id, action, action_type, entity_type, entity_id, entity_name,
			 description, metadata, actor, severity, source, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		generateAuditID(), rec.Action, rec.ActionType, string(rec.EntityType), rec.EntityID, rec.EntityName,
		rec.Description, meta, rec.Actor, string(rec.Severity), string(rec.Source), occurredAt,
	)
	if err != nil {
		logger.Error("Failed to write audit log",
			zap.String("action", rec.Action),
			zap.String("entity_type", string(rec.EntityType)),
			zap.Int64p("entity_id", rec.EntityID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Query selects activity log rows. Zero-valued filters match everything.
type Query struct {
	ActionType string
	EntityType domain.EntityType
	EntityID   *int64
	Actor      string
	Page       int // 1-based; defaults to 1
	Limit      int // defaults to DefaultPageLimit
}

// DefaultPageLimit is the page size used when a Query leaves Limit unset.
const DefaultPageLimit = 10

// Page is one page of activity log rows, newest first.
type Page struct {
	Items      []Entry `json:"items"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	Total      int64   `json:"total"`
	TotalPages int     `json:"totalPages"`
}

// List returns the page of rows matching q, ordered newest first, together
// with the total number of matching rows.
func (l *Logger) List(ctx context.Context, q Query) (Page, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	where, args := q.where()

	var total int64
	if err := l.pool.QueryRow(ctx, `SELECT count(*) FROM activity_logs`+where, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count audit logs: %w", err)
	}

	n := len(args)
	args = append(args, q.Limit, (q.Page-1)*q.Limit)
	rows, err := l.pool.Query(ctx, `
		SELECT id, action, action_type, entity_type, entity_id, entity_name,
		       description, metadata, actor, severity, source, occurred_at, created_at
		FROM activity_logs`+where+fmt.Sprintf(`
		ORDER BY occurred_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, n+1, n+2),
		args...,
	)
	if err != nil {
		return Page{}, fmt.Errorf("list audit logs: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return Page{}, fmt.Errorf("scan audit logs: %w", err)
	}
	return Page{
		Items:      entries,
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: int((total + int64(q.Limit) - 1) / int64(q.Limit)),
	}, nil
}

func (q Query) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if q.ActionType != "" {
		add("action_type", q.ActionType)
	}
	if q.EntityType != "" {
		add("entity_type", string(q.EntityType))
	}
	if q.EntityID != nil {
		add("entity_id", *q.EntityID)
	}
	if q.Actor != "" {
		add("actor", q.Actor)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// DeleteBefore removes rows created before cutoff and returns how many.
func (l *Logger) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM activity_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e                            Entry
		entityType, severity, source string
		meta                         map[string]interface{}
	)
	err := row.Scan(&e.ID, &e.Record.Action, &e.Record.ActionType, &entityType, &e.Record.EntityID,
		&e.Record.EntityName, &e.Record.Description, &meta, &e.Record.Actor, &severity, &source,
		&e.Record.OccurredAt, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Record.EntityType = domain.EntityType(entityType)
	e.Record.Severity = domain.Severity(severity)
	e.Record.Source = domain.Source(source)
	e.Record.Metadata = meta
	return e, nil
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "audit-" + uuid.New().String()
	}
	return "audit-" + id.String()
}
