package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notes-server/internal/domain"
)

type SQLiteNoteRepository struct {
	conn *sql.DB
}

func NewSQLiteNoteRepository(conn *sql.DB) *SQLiteNoteRepository {
	return &SQLiteNoteRepository{conn: conn}
}

const noteColumns = `id, user_id, content, is_public, share_token, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*domain.Note, error) {
	var (
		n     domain.Note
		token sql.NullString
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Content, &n.IsPublic, &token, &n.Version, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.ShareToken = token.String
	return &n, nil
}

func nullableToken(token string) sql.NullString {
	return sql.NullString{String: token, Valid: token != ""}
}

func (r *SQLiteNoteRepository) Create(ctx context.Context, note *domain.Note) error {
	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, note.ID, note.UserID, note.Content, note.IsPublic, nullableToken(note.ShareToken),
		note.Version, note.CreatedAt.UTC(), note.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrShareTokenTaken
		}
		return fmt.Errorf("sqlite: create note: %w", err)
	}
	return nil
}

func (r *SQLiteNoteRepository) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	return r.findOne(ctx, r.conn, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
}

func (r *SQLiteNoteRepository) FindByShareToken(ctx context.Context, token string) (*domain.Note, error) {
	return r.findOne(ctx, r.conn, `SELECT `+noteColumns+` FROM notes WHERE share_token = ?`, token)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteNoteRepository) findOne(ctx context.Context, q queryRower, query string, arg any) (*domain.Note, error) {
	note, err := scanNote(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("sqlite: find note: %w", err)
	}
	return note, nil
}

func (r *SQLiteNoteRepository) ListByOwner(ctx context.Context, userID string) ([]*domain.Note, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]*domain.Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list notes: %w", err)
	}
	return notes, nil
}

func (r *SQLiteNoteRepository) Update(ctx context.Context, note *domain.Note, expectedVersion int64) error {
	res, err := r.conn.ExecContext(ctx, `
		UPDATE notes
		SET content = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, note.Content, note.UpdatedAt.UTC(), note.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("sqlite: update note: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update note: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing matched: the note is gone or its version moved.
	var exists int
	err = r.conn.QueryRowContext(ctx, `SELECT 1 FROM notes WHERE id = ?`, note.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoteNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: update note: %w", err)
	}
	return ErrVersionConflict
}

func (r *SQLiteNoteRepository) Publish(ctx context.Context, id, token string, now time.Time) (*domain.Note, error) {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// COALESCE keeps a token assigned by an earlier or concurrent Publish.
	res, err := tx.ExecContext(ctx, `
		UPDATE notes
		SET share_token = COALESCE(share_token, ?), is_public = 1, updated_at = ?
		WHERE id = ?
	`, token, now.UTC(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrShareTokenTaken
		}
		return nil, fmt.Errorf("sqlite: publish note: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: publish note: %w", err)
	}
	if n == 0 {
		return nil, ErrNoteNotFound
	}

	note, err := r.findOne(ctx, tx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit publish: %w", err)
	}
	return note, nil
}

func (r *SQLiteNoteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete note: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete note: %w", err)
	}
	if n == 0 {
		return ErrNoteNotFound
	}
	return nil
}
