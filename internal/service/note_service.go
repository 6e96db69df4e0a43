package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notes-server/internal/domain"
	"notes-server/internal/metrics"
	"notes-server/internal/repository"

	"github.com/google/uuid"
)

// Attempts at issuing a share token before giving up on collisions.
const maxShareAttempts = 3

// PublicNoteCache caches GetPublic results by share token. Implementations
// swallow their own failures: a broken cache degrades to a miss.
type PublicNoteCache interface {
	// Get reports a hit with a nil note for a token that was forgotten.
	Get(ctx context.Context, token string) (*domain.NoteResponse, bool)
	// Set stores note unless the token already has an entry.
	Set(ctx context.Context, token string, note *domain.NoteResponse)
	Invalidate(ctx context.Context, token string)
	// Forget records the token as deleted, blocking fills from reads that
	// loaded the note before the delete.
	Forget(ctx context.Context, token string)
}

type NoteService struct {
	repo     repository.NoteRepository
	cache    PublicNoteCache
	newToken func() (string, error)
	now      func() time.Time
}

type NoteServiceOption func(*NoteService)

func WithPublicCache(cache PublicNoteCache) NoteServiceOption {
	return func(s *NoteService) {
		s.cache = cache
	}
}

func WithTokenGenerator(fn func() (string, error)) NoteServiceOption {
	return func(s *NoteService) {
		s.newToken = fn
	}
}

func WithClock(now func() time.Time) NoteServiceOption {
	return func(s *NoteService) {
		s.now = now
	}
}

func NewNoteService(repo repository.NoteRepository, opts ...NoteServiceOption) *NoteService {
	s := &NoteService{
		repo:     repo,
		newToken: newShareToken,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newShareToken returns a random (v4) UUID; uuid reads crypto/rand.
func newShareToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate share token: %w", err)
	}
	return id.String(), nil
}

func toNoteResponse(n *domain.Note) *domain.NoteResponse {
	return &domain.NoteResponse{
		ID:        n.ID,
		Content:   n.Content,
		UpdatedAt: n.UpdatedAt,
		Version:   n.Version,
	}
}

func (s *NoteService) List(ctx context.Context, userID string) ([]*domain.NoteResponse, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	notes, err := s.repo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.NoteResponse, 0, len(notes))
	for _, n := range notes {
		responses = append(responses, toNoteResponse(n))
	}

	return responses, nil
}

func (s *NoteService) Create(ctx context.Context, userID, content string) (*domain.NoteResponse, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	now := s.now().UTC()
	note := &domain.Note{
		ID:        uuid.New().String(),
		UserID:    userID,
		Content:   content,
		IsPublic:  false,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, note); err != nil {
		return nil, err
	}

	return toNoteResponse(note), nil
}

func (s *NoteService) Get(ctx context.Context, userID, noteID string) (*domain.NoteResponse, error) {
	note, err := s.findOwned(ctx, userID, noteID)
	if err != nil {
		return nil, err
	}

	return toNoteResponse(note), nil
}

func (s *NoteService) Update(ctx context.Context, userID, noteID, content string, expectedVersion int64) (*domain.NoteResponse, error) {
	note, err := s.findOwned(ctx, userID, noteID)
	if err != nil {
		return nil, err
	}

	if note.Version != expectedVersion {
		metrics.NoteVersionConflicts.Inc()
		return nil, &VersionConflictError{
			NoteID:          noteID,
			ExpectedVersion: expectedVersion,
			CurrentVersion:  note.Version,
		}
	}

	note.Content = content
	note.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, note, expectedVersion); err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			// Another writer committed between our read and our write.
			metrics.NoteVersionConflicts.Inc()
			return nil, &VersionConflictError{
				NoteID:          noteID,
				ExpectedVersion: expectedVersion,
				CurrentVersion:  s.currentVersion(ctx, noteID),
			}
		case errors.Is(err, repository.ErrNoteNotFound):
			return nil, ErrNoteNotFound
		}
		return nil, err
	}

	note.Version = expectedVersion + 1
	s.invalidatePublic(ctx, note)

	return toNoteResponse(note), nil
}

func (s *NoteService) Delete(ctx context.Context, userID, noteID string) error {
	note, err := s.findOwned(ctx, userID, noteID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, noteID); err != nil {
		if errors.Is(err, repository.ErrNoteNotFound) {
			return ErrNoteNotFound
		}
		return err
	}

	if s.cache != nil && note.ShareToken != "" {
		s.cache.Forget(ctx, note.ShareToken)
	}
	return nil
}

// Share publishes the note and returns its share URL. The token assigned on
// the first call is reused by every later call.
func (s *NoteService) Share(ctx context.Context, userID, noteID, baseURL string) (*domain.ShareResponse, error) {
	note, err := s.findOwned(ctx, userID, noteID)
	if err != nil {
		return nil, err
	}

	var published *domain.Note
	for attempt := 0; attempt < maxShareAttempts; attempt++ {
		token := note.ShareToken
		if token == "" {
			if token, err = s.newToken(); err != nil {
				return nil, err
			}
		}

		published, err = s.repo.Publish(ctx, noteID, token, s.now().UTC())
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrNoteNotFound) {
			return nil, ErrNoteNotFound
		}
		if !errors.Is(err, repository.ErrShareTokenTaken) {
			return nil, err
		}
	}
	if published == nil {
		return nil, fmt.Errorf("failed to issue a unique share token after %d attempts: %w", maxShareAttempts, err)
	}

	metrics.NotesShared.Inc()

	return &domain.ShareResponse{
		ShareURL: shareURL(baseURL, published.ShareToken),
	}, nil
}

func shareURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/share/" + token
}

func (s *NoteService) GetPublic(ctx context.Context, token string) (*domain.NoteResponse, error) {
	if token == "" {
		return nil, ErrNoteNotFound
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, token); ok {
			if cached == nil {
				return nil, ErrNoteNotFound
			}
			return cached, nil
		}
	}

	note, err := s.repo.FindByShareToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNoteNotFound) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}

	// Checked on its own: holding a token does not imply the note is public.
	if !note.IsPublic {
		return nil, ErrNotPublic
	}

	resp := toNoteResponse(note)
	if s.cache != nil {
		s.cache.Set(ctx, token, resp)
	}

	return resp, nil
}

func (s *NoteService) findOwned(ctx context.Context, userID, noteID string) (*domain.Note, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	note, err := s.repo.FindByID(ctx, noteID)
	if err != nil {
		if errors.Is(err, repository.ErrNoteNotFound) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}

	if note.UserID != userID {
		return nil, ErrForbidden
	}

	return note, nil
}

func (s *NoteService) currentVersion(ctx context.Context, noteID string) int64 {
	note, err := s.repo.FindByID(ctx, noteID)
	if err != nil {
		return -1
	}
	return note.Version
}

func (s *NoteService) invalidatePublic(ctx context.Context, note *domain.Note) {
	if s.cache != nil && note.ShareToken != "" {
		s.cache.Invalidate(ctx, note.ShareToken)
	}
}
