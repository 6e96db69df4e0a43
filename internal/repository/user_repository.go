package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"notes-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}

const (
	userDocType     = "user"
	usernameDocType = "username"
)

type CouchDBUserRepository struct {
	db *kivik.DB
}

type userDoc struct {
	ID        string    `json:"_id"`
	Rev       string    `json:"_rev,omitempty"`
	DocType   string    `json:"doc_type"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// usernameDoc reserves a username; CouchDB has no unique index on fields.
type usernameDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	UserID  string `json:"user_id"`
}

func NewCouchDBUserRepository(client *kivik.Client, dbName string) *CouchDBUserRepository {
	return &CouchDBUserRepository{
		db: client.DB(dbName),
	}
}

func userDocID(id string) string {
	return fmt.Sprintf("user:%s", id)
}

func usernameDocID(username string) string {
	return fmt.Sprintf("username:%s", username)
}

func (r *CouchDBUserRepository) Create(ctx context.Context, user *domain.User) error {
	reservation := usernameDoc{
		ID:      usernameDocID(user.Username),
		DocType: usernameDocType,
		UserID:  user.ID,
	}

	rev, err := r.db.Put(ctx, reservation.ID, reservation)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrUserExists
		}
		return fmt.Errorf("failed to reserve username: %w", err)
	}

	doc := userDoc{
		ID:        userDocID(user.ID),
		DocType:   userDocType,
		UserID:    user.ID,
		Username:  user.Username,
		Password:  user.Password,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		_, _ = r.db.Delete(ctx, reservation.ID, rev)
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *CouchDBUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var doc userDoc
	if err := r.db.Get(ctx, userDocID(id)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return &domain.User{
		ID:        doc.UserID,
		Username:  doc.Username,
		Password:  doc.Password,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (r *CouchDBUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var reservation usernameDoc
	if err := r.db.Get(ctx, usernameDocID(username)).ScanDoc(&reservation); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user by username: %w", err)
	}

	return r.FindByID(ctx, reservation.UserID)
}

func (r *CouchDBUserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	return usernameExists(ctx, r, username)
}

func usernameExists(ctx context.Context, repo UserRepository, username string) (bool, error) {
	_, err := repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
