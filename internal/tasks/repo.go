package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"activity-platform/pkg/utils"
)

// ModifyFunc receives the current task and returns its replacement.
// changed=false leaves the row untouched.
type ModifyFunc func(cur Task) (next Task, changed bool, err error)

type Repository interface {
	Create(ctx context.Context, t Task) (Task, error)
	GetByID(ctx context.Context, id int64) (Task, error)
	ListByUser(ctx context.Context, userID int64) ([]Task, error)
	// Modify applies fn to a live task while holding it against concurrent
	// writers, and returns the stored result.
	Modify(ctx context.Context, id int64, fn ModifyFunc) (Task, error)
	// SoftDelete hides the task and its subtasks.
	SoftDelete(ctx context.Context, id int64) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const taskColumns = `id, user_id, title, description, parent_task_id, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, t Task) (Task, error) {
	row := r.db.QueryRowContext(ctx, `
INSERT INTO tasks (user_id, title, description, parent_task_id)
VALUES ($1, $2, $3, $4)
RETURNING `+taskColumns,
		t.UserID, t.Title, nullString(t.Description), nullInt(t.ParentTaskID),
	)
	out, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id int64) (Task, error) {
	return getTask(ctx, r.db, id, false)
}

func getTask(ctx context.Context, db utils.Executor, id int64, lock bool) (Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND is_deleted = FALSE`
	if lock {
		q += ` FOR UPDATE`
	}
	t, err := scanTask(db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID int64) ([]Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND is_deleted = FALSE ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) Modify(ctx context.Context, id int64, fn ModifyFunc) (Task, error) {
	var out Task
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := getTask(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next, changed, err := fn(cur)
		if err != nil {
			return err
		}
		if !changed {
			out = cur
			return nil
		}
		row := tx.QueryRowContext(ctx, `
UPDATE tasks SET title = $2, description = $3, updated_at = NOW()
WHERE id = $1
RETURNING `+taskColumns,
			id, next.Title, nullString(next.Description),
		)
		out, err = scanTask(row)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return out, nil
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET is_deleted = TRUE, deleted_at = NOW(), updated_at = NOW()
WHERE (id = $1 OR parent_task_id = $1) AND is_deleted = FALSE`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (Task, error) {
	var (
		t      Task
		desc   sql.NullString
		parent sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.UserID, &t.Title, &desc, &parent, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, err
	}
	if desc.Valid {
		t.Description = &desc.String
	}
	if parent.Valid {
		t.ParentTaskID = &parent.Int64
	}
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
