package repository

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"notes-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// NoteRepository persists notes. Update, Publish and Delete are conditional
// writes: they never overwrite a document that moved since it was read.
type NoteRepository interface {
	Create(ctx context.Context, note *domain.Note) error
	FindByID(ctx context.Context, id string) (*domain.Note, error)
	FindByShareToken(ctx context.Context, token string) (*domain.Note, error)
	ListByOwner(ctx context.Context, userID string) ([]*domain.Note, error)
	// Update stores note.Content and note.UpdatedAt and moves the stored
	// version from expectedVersion to expectedVersion+1. It returns
	// ErrVersionConflict when the stored version is no longer expectedVersion.
	Update(ctx context.Context, note *domain.Note, expectedVersion int64) error
	// Publish marks the note public. token is assigned only when the note has
	// no share token yet; the stored note is returned either way.
	Publish(ctx context.Context, id, token string, now time.Time) (*domain.Note, error)
	Delete(ctx context.Context, id string) error
}

const (
	noteDocType  = "note"
	shareDocType = "share"

	// Bound on re-reads after CouchDB rejects a write for a stale _rev.
	maxRevRetries = 5

	// CouchDB caps a _find without a limit at 25 rows.
	listPageSize = 100
)

type CouchDBNoteRepository struct {
	db *kivik.DB
}

type noteDoc struct {
	ID         string    `json:"_id"`
	Rev        string    `json:"_rev,omitempty"`
	DocType    string    `json:"doc_type"`
	NoteID     string    `json:"note_id"`
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	IsPublic   bool      `json:"is_public"`
	ShareToken string    `json:"share_token,omitempty"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// shareDoc claims a share token. Its _id is derived from the token, so a
// second claim of the same token fails with 409.
type shareDoc struct {
	ID      string `json:"_id"`
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	NoteID  string `json:"note_id"`
}

func NewCouchDBNoteRepository(client *kivik.Client, dbName string) *CouchDBNoteRepository {
	return &CouchDBNoteRepository{
		db: client.DB(dbName),
	}
}

func noteDocID(id string) string {
	return fmt.Sprintf("note:%s", id)
}

func shareDocID(token string) string {
	return fmt.Sprintf("share:%s", token)
}

func (r *CouchDBNoteRepository) Create(ctx context.Context, note *domain.Note) error {
	doc := noteToDoc(note)

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}

	return nil
}

func (r *CouchDBNoteRepository) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	doc, err := r.getDoc(ctx, id)
	if err != nil {
		return nil, err
	}

	return docToNote(doc), nil
}

func (r *CouchDBNoteRepository) FindByShareToken(ctx context.Context, token string) (*domain.Note, error) {
	var claim shareDoc
	if err := r.db.Get(ctx, shareDocID(token)).ScanDoc(&claim); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("failed to find share token: %w", err)
	}

	doc, err := r.getDoc(ctx, claim.NoteID)
	if err != nil {
		return nil, err
	}

	// A claim left behind by a lost Publish race points at a note that
	// carries a different token.
	if doc.ShareToken != token {
		return nil, ErrNoteNotFound
	}

	return docToNote(doc), nil
}

func (r *CouchDBNoteRepository) ListByOwner(ctx context.Context, userID string) ([]*domain.Note, error) {
	notes := make([]*domain.Note, 0)

	bookmark := ""
	for {
		page, next, err := r.listPage(ctx, userID, bookmark)
		if err != nil {
			return nil, err
		}
		notes = append(notes, page...)

		if len(page) < listPageSize || next == "" || next == bookmark {
			break
		}
		bookmark = next
	}

	slices.SortStableFunc(notes, func(a, b *domain.Note) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return notes, nil
}

// listPage runs one _find page and returns the bookmark for the next one.
func (r *CouchDBNoteRepository) listPage(ctx context.Context, userID, bookmark string) ([]*domain.Note, string, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": noteDocType,
			"user_id":  userID,
		},
		"limit": listPageSize,
	}
	if bookmark != "" {
		query["bookmark"] = bookmark
	}

	rows := r.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]*domain.Note, 0, listPageSize)
	for rows.Next() {
		var doc noteDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, "", fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, docToNote(&doc))
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to list notes: %w", err)
	}

	meta, err := rows.Metadata()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read list bookmark: %w", err)
	}

	return notes, meta.Bookmark, nil
}

func (r *CouchDBNoteRepository) Update(ctx context.Context, note *domain.Note, expectedVersion int64) error {
	for attempt := 0; attempt < maxRevRetries; attempt++ {
		doc, err := r.getDoc(ctx, note.ID)
		if err != nil {
			return err
		}

		if doc.Version != expectedVersion {
			return ErrVersionConflict
		}

		doc.Content = note.Content
		doc.UpdatedAt = note.UpdatedAt
		doc.Version = expectedVersion + 1

		// A 409 means _rev moved. Publish moves it without touching the
		// version, so re-read and only give up once the version differs.
		if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
			if kivik.HTTPStatus(err) == http.StatusConflict {
				continue
			}
			return fmt.Errorf("failed to update note: %w", err)
		}

		return nil
	}

	return ErrVersionConflict
}

func (r *CouchDBNoteRepository) Publish(ctx context.Context, id, token string, now time.Time) (*domain.Note, error) {
	claimed := false

	for attempt := 0; attempt < maxRevRetries; attempt++ {
		doc, err := r.getDoc(ctx, id)
		if err != nil {
			if claimed {
				r.releaseClaim(ctx, token)
			}
			return nil, err
		}

		if doc.ShareToken == "" {
			if !claimed {
				if err := r.claimToken(ctx, id, token); err != nil {
					return nil, err
				}
				claimed = true
			}
			doc.ShareToken = token
		} else if claimed && doc.ShareToken != token {
			// Another Publish assigned a token first; ours is unused.
			r.releaseClaim(ctx, token)
			claimed = false
		}

		doc.IsPublic = true
		doc.UpdatedAt = now

		if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
			if kivik.HTTPStatus(err) == http.StatusConflict {
				continue
			}
			if claimed {
				r.releaseClaim(ctx, token)
			}
			return nil, fmt.Errorf("failed to publish note: %w", err)
		}

		return docToNote(doc), nil
	}

	if claimed {
		r.releaseClaim(ctx, token)
	}
	return nil, fmt.Errorf("failed to publish note %s: too many concurrent writers", id)
}

func (r *CouchDBNoteRepository) Delete(ctx context.Context, id string) error {
	for attempt := 0; attempt < maxRevRetries; attempt++ {
		doc, err := r.getDoc(ctx, id)
		if err != nil {
			return err
		}

		if _, err := r.db.Delete(ctx, doc.ID, doc.Rev); err != nil {
			if kivik.HTTPStatus(err) == http.StatusConflict {
				continue
			}
			if kivik.HTTPStatus(err) == http.StatusNotFound {
				return ErrNoteNotFound
			}
			return fmt.Errorf("failed to delete note: %w", err)
		}

		if doc.ShareToken != "" {
			r.releaseClaim(ctx, doc.ShareToken)
		}
		return nil
	}

	return fmt.Errorf("failed to delete note %s: too many concurrent writers", id)
}

func (r *CouchDBNoteRepository) getDoc(ctx context.Context, id string) (*noteDoc, error) {
	var doc noteDoc
	if err := r.db.Get(ctx, noteDocID(id)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("failed to find note: %w", err)
	}

	return &doc, nil
}

func (r *CouchDBNoteRepository) claimToken(ctx context.Context, noteID, token string) error {
	claim := shareDoc{
		ID:      shareDocID(token),
		DocType: shareDocType,
		NoteID:  noteID,
	}

	if _, err := r.db.Put(ctx, claim.ID, claim); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrShareTokenTaken
		}
		return fmt.Errorf("failed to claim share token: %w", err)
	}

	return nil
}

// releaseClaim is best-effort: an orphaned claim is ignored by
// FindByShareToken and only wastes one token.
func (r *CouchDBNoteRepository) releaseClaim(ctx context.Context, token string) {
	var claim shareDoc
	if err := r.db.Get(ctx, shareDocID(token)).ScanDoc(&claim); err != nil {
		return
	}
	_, _ = r.db.Delete(ctx, claim.ID, claim.Rev)
}

func noteToDoc(note *domain.Note) *noteDoc {
	return &noteDoc{
		ID:         noteDocID(note.ID),
		DocType:    noteDocType,
		NoteID:     note.ID,
		UserID:     note.UserID,
		Content:    note.Content,
		IsPublic:   note.IsPublic,
		ShareToken: note.ShareToken,
		Version:    note.Version,
		CreatedAt:  note.CreatedAt,
		UpdatedAt:  note.UpdatedAt,
	}
}

func docToNote(doc *noteDoc) *domain.Note {
	return &domain.Note{
		ID:         doc.NoteID,
		UserID:     doc.UserID,
		Content:    doc.Content,
		IsPublic:   doc.IsPublic,
		ShareToken: doc.ShareToken,
		Version:    doc.Version,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

var (
	_ NoteRepository = (*CouchDBNoteRepository)(nil)
	_ NoteRepository = (*SQLiteNoteRepository)(nil)
	_ UserRepository = (*CouchDBUserRepository)(nil)
	_ UserRepository = (*SQLiteUserRepository)(nil)
)
