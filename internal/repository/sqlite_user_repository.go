package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notes-server/internal/domain"
)

type SQLiteUserRepository struct {
	conn *sql.DB
}

func NewSQLiteUserRepository(conn *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{conn: conn}
}

func (r *SQLiteUserRepository) Create(ctx context.Context, user *domain.User) error {
	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO users (id, username, password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Username, user.Password, user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("sqlite: create user: %w", err)
	}
	return nil
}

func (r *SQLiteUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, `WHERE id = ?`, id)
}

func (r *SQLiteUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, `WHERE username = ?`, username)
}

func (r *SQLiteUserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	return usernameExists(ctx, r, username)
}

func (r *SQLiteUserRepository) findOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.conn.QueryRowContext(ctx,
		`SELECT id, username, password, created_at, updated_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.Password, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("sqlite: find user: %w", err)
	}
	return &u, nil
}
