package tasks

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var taskCols = []string{"id", "user_id", "title", "description", "parent_task_id", "created_at", "updated_at"}

func TestPostgresRepo_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id = \\$1 AND is_deleted = FALSE").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(int64(5), int64(1), "child", nil, int64(4), now, now))

	task, err := repo.GetByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Description != nil || task.ParentTaskID == nil || *task.ParentTaskID != 4 {
		t.Fatalf("unexpected task: %+v", task)
	}

	mock.ExpectQuery("SELECT (.+) FROM tasks").WithArgs(int64(6)).WillReturnRows(sqlmock.NewRows(taskCols))
	if _, err := repo.GetByID(context.Background(), 6); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepo_ModifyLocksAndCommits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE (.+) FOR UPDATE").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(int64(3), int64(1), "old", "d", nil, now, now))
	mock.ExpectQuery("UPDATE tasks SET title").
		WithArgs(int64(3), "new", "d").
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(int64(3), int64(1), "new", "d", nil, now, now))
	mock.ExpectCommit()

	out, err := repo.Modify(context.Background(), 3, func(cur Task) (Task, bool, error) {
		cur.Title = "new"
		return cur, true, nil
	})
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if out.Title != "new" {
		t.Fatalf("unexpected task: %+v", out)
	}
}

func TestPostgresRepo_ModifyRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRepo(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FOR UPDATE").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(int64(3), int64(9), "old", nil, nil, now, now))
	mock.ExpectRollback()

	_, err := repo.Modify(context.Background(), 3, func(Task) (Task, bool, error) {
		return Task{}, false, ErrForbidden
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPostgresRepo_SoftDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresRepo(db)

	mock.ExpectExec("UPDATE tasks SET is_deleted = TRUE").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 2))
	if err := repo.SoftDelete(context.Background(), 4); err != nil {
		t.Fatalf("delete: %v", err)
	}

	mock.ExpectExec("UPDATE tasks SET is_deleted = TRUE").WithArgs(int64(4)).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.SoftDelete(context.Background(), 4); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
