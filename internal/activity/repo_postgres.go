package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"activity-platform/pkg/utils"
)

// Repository is the persistence contract for activity records.
// It is append-only; there are no Update or Delete methods.
type Repository interface {
	Create(ctx context.Context, rec Record) (Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	// ListBetween returns records created in [from, to), oldest first.
	ListBetween(ctx context.Context, from, to time.Time) ([]Record, error)
}

type PostgresRepo struct {
	db utils.Executor
}

func NewPostgresRepo(db utils.Executor) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const insertActivitySQL = `
INSERT INTO activity_logs (user_id, task_id, activity_type, action, request_id, data)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`

func (r *PostgresRepo) Create(ctx context.Context, rec Record) (Record, error) {
	var taskID sql.NullInt64
	if rec.TaskID != nil {
		taskID = sql.NullInt64{Int64: *rec.TaskID, Valid: true}
	}
	var data sql.NullString
	if rec.Data != nil {
		data = sql.NullString{String: *rec.Data, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, insertActivitySQL,
		rec.UserID, taskID, string(rec.Type), rec.Action, rec.RequestID, data,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("insert activity: %w", err)
	}
	return rec, nil
}

const selectActivitySQL = `
SELECT id, user_id, task_id, activity_type, action, request_id, data, created_at
FROM activity_logs
WHERE is_deleted = FALSE`

func (r *PostgresRepo) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	return r.list(ctx, selectActivitySQL+`
ORDER BY created_at DESC, id DESC
LIMIT $1`, limit)
}

func (r *PostgresRepo) ListBetween(ctx context.Context, from, to time.Time) ([]Record, error) {
	return r.list(ctx, selectActivitySQL+`
  AND created_at >= $1 AND created_at < $2
ORDER BY created_at, id`, from, to)
}

func (r *PostgresRepo) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec    Record
			taskID sql.NullInt64
			data   sql.NullString
			typ    string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &taskID, &typ, &rec.Action, &rec.RequestID, &data, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		rec.Type = Type(typ)
		if taskID.Valid {
			id := taskID.Int64
			rec.TaskID = &id
		}
		if data.Valid {
			s := data.String
			rec.Data = &s
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return out, nil
}
