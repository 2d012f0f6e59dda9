package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"activity-platform/pkg/utils"
)

type Repository interface {
	Create(ctx context.Context, u User) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	UpdateProfile(ctx context.Context, u User) (User, error)
}

type PostgresRepo struct {
	db utils.Executor
}

func NewPostgresRepo(db utils.Executor) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const userColumns = `id, email, firstname, lastname, hashed_password, is_admin, bio, profile_picture, is_deleted, created_at, updated_at`

const uniqueViolation = "23505"

func (r *PostgresRepo) Create(ctx context.Context, u User) (User, error) {
	row := r.db.QueryRowContext(ctx, `
INSERT INTO users (email, firstname, lastname, hashed_password, is_admin)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+userColumns,
		u.Email, u.Firstname, u.Lastname, u.HashedPassword, u.IsAdmin,
	)
	out, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return out, nil
}

func (r *PostgresRepo) GetByID(ctx context.Context, id int64) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return r.get(row)
}

func (r *PostgresRepo) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return r.get(row)
}

func (r *PostgresRepo) get(row *sql.Row) (User, error) {
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *PostgresRepo) UpdateProfile(ctx context.Context, u User) (User, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE users
SET firstname = $2, lastname = $3, bio = $4, profile_picture = $5, updated_at = NOW()
WHERE id = $1 AND is_deleted = FALSE
RETURNING `+userColumns,
		u.ID, u.Firstname, u.Lastname, nullString(u.Bio), nullString(u.ProfilePicture),
	)
	return r.get(row)
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u          User
		bio, photo sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &u.Firstname, &u.Lastname, &u.HashedPassword, &u.IsAdmin,
		&bio, &photo, &u.IsDeleted, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if bio.Valid {
		u.Bio = &bio.String
	}
	if photo.Valid {
		u.ProfilePicture = &photo.String
	}
	return u, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
