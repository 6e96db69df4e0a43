package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"notes-server/internal/domain"

	"github.com/go-kivik/kivik/v4/driver"
	"github.com/go-kivik/kivik/v4/mockdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDBName = "notes"

// couchStatus is a driver error carrying a CouchDB HTTP status.
type couchStatus int

func (s couchStatus) Error() string   { return http.StatusText(int(s)) }
func (s couchStatus) HTTPStatus() int { return int(s) }

const (
	errConflict = couchStatus(http.StatusConflict)
	errNotFound = couchStatus(http.StatusNotFound)
	errInternal = couchStatus(http.StatusInternalServerError)
)

func newMockNoteRepo(t *testing.T) (*CouchDBNoteRepository, *mockdb.DB) {
	t.Helper()
	client, mock := mockdb.NewT(t)
	db := mock.NewDB()
	mock.ExpectDB().WithName(testDBName).WillReturn(db)

	repo := NewCouchDBNoteRepository(client, testDBName)
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return repo, db
}

func newMockUserRepo(t *testing.T) (*CouchDBUserRepository, *mockdb.DB) {
	t.Helper()
	client, mock := mockdb.NewT(t)
	db := mock.NewDB()
	mock.ExpectDB().WithName(testDBName).WillReturn(db)

	repo := NewCouchDBUserRepository(client, testDBName)
	t.Cleanup(func() { assert.NoError(t, mock.ExpectationsWereMet()) })
	return repo, db
}

func storedNote(id, rev string, version int64, token string) noteDoc {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return noteDoc{
		ID:         noteDocID(id),
		Rev:        rev,
		DocType:    noteDocType,
		NoteID:     id,
		UserID:     "u1",
		Content:    "stored",
		IsPublic:   token != "",
		ShareToken: token,
		Version:    version,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func expectNote(t *testing.T, db *mockdb.DB, doc noteDoc) {
	t.Helper()
	db.ExpectGet().WithDocID(doc.ID).WillReturn(mockdb.DocumentT(t, doc))
}

func expectClaim(t *testing.T, db *mockdb.DB, token, noteID, rev string) {
	t.Helper()
	db.ExpectGet().WithDocID(shareDocID(token)).WillReturn(mockdb.DocumentT(t, shareDoc{
		ID:      shareDocID(token),
		Rev:     rev,
		DocType: shareDocType,
		NoteID:  noteID,
	}))
}

// pagedRows serves one _find page and its paging bookmark.
type pagedRows struct {
	docs     []noteDoc
	bookmark string
}

func (r *pagedRows) Next(row *driver.Row) error {
	if len(r.docs) == 0 {
		return io.EOF
	}
	doc := r.docs[0]
	r.docs = r.docs[1:]

	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	row.ID = doc.ID
	row.Doc = bytes.NewReader(body)
	return nil
}

func (r *pagedRows) Close() error      { return nil }
func (r *pagedRows) UpdateSeq() string { return "" }
func (r *pagedRows) Offset() int64     { return 0 }
func (r *pagedRows) TotalRows() int64  { return 0 }
func (r *pagedRows) Bookmark() string  { return r.bookmark }

func TestCouchDBNoteRepository_ListByOwnerPages(t *testing.T) {
	tests := []struct {
		name      string
		pageSizes []int
	}{
		{name: "more than the server default in one page", pageSizes: []int{30}},
		{name: "two pages", pageSizes: []int{listPageSize, 30}},
		{name: "exact page then empty page", pageSizes: []int{listPageSize, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, db := newMockNoteRepo(t)
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

			total := 0
			for _, n := range tt.pageSizes {
				total += n
			}

			// Pages come back newest first so the result must be re-sorted.
			seq := total
			var queries []map[string]interface{}
			for page, n := range tt.pageSizes {
				docs := make([]noteDoc, 0, n)
				for i := 0; i < n; i++ {
					seq--
					doc := storedNote(fmt.Sprintf("n%03d", seq), "1-a", 1, "")
					doc.CreatedAt = base.Add(time.Duration(seq) * time.Minute)
					docs = append(docs, doc)
				}
				rows := &pagedRows{docs: docs, bookmark: fmt.Sprintf("page-%d", page+1)}

				db.ExpectFind().WillExecute(func(_ context.Context, query interface{}, _ driver.Options) (driver.Rows, error) {
					var q map[string]interface{}
					raw, ok := query.(json.RawMessage)
					require.True(t, ok)
					require.NoError(t, json.Unmarshal(raw, &q))
					queries = append(queries, q)
					return rows, nil
				})
			}

			notes, err := repo.ListByOwner(context.Background(), "u1")
			require.NoError(t, err)
			require.Len(t, notes, total)
			for i, n := range notes {
				assert.Equal(t, fmt.Sprintf("n%03d", i), n.ID)
			}

			require.Len(t, queries, len(tt.pageSizes))
			for i, q := range queries {
				assert.Equal(t, float64(listPageSize), q["limit"])
				if i == 0 {
					assert.NotContains(t, q, "bookmark")
				} else {
					assert.Equal(t, fmt.Sprintf("page-%d", i), q["bookmark"])
				}
			}
		})
	}
}

func TestCouchDBNoteRepository_ListByOwnerFindError(t *testing.T) {
	repo, db := newMockNoteRepo(t)
	db.ExpectFind().WillReturnError(errInternal)

	_, err := repo.ListByOwner(context.Background(), "u1")
	assert.Error(t, err)
}

func TestCouchDBNoteRepository_Update(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, db *mockdb.DB)
		wantErr error
	}{
		{
			name: "stored version moved",
			setup: func(t *testing.T, db *mockdb.DB) {
				expectNote(t, db, storedNote("n1", "3-c", 3, ""))
			},
			wantErr: ErrVersionConflict,
		},
		{
			name: "revision conflict after an edit",
			setup: func(t *testing.T, db *mockdb.DB) {
				expectNote(t, db, storedNote("n1", "2-b", 2, ""))
				db.ExpectPut().WithDocID(noteDocID("n1")).WillReturnError(errConflict)
				expectNote(t, db, storedNote("n1", "3-c", 3, ""))
			},
			wantErr: ErrVersionConflict,
		},
		{
			name: "revision moved by publish keeps the version",
			setup: func(t *testing.T, db *mockdb.DB) {
				expectNote(t, db, storedNote("n1", "2-b", 2, ""))
				db.ExpectPut().WithDocID(noteDocID("n1")).WillReturnError(errConflict)
				expectNote(t, db, storedNote("n1", "3-c", 2, "tok"))
				db.ExpectPut().WithDocID(noteDocID("n1")).WillExecute(func(_ context.Context, _ string, doc interface{}, _ driver.Options) (string, error) {
					stored, ok := doc.(*noteDoc)
					require.True(t, ok)
					assert.Equal(t, "3-c", stored.Rev)
					assert.Equal(t, int64(3), stored.Version)
					assert.Equal(t, "edited", stored.Content)
					assert.Equal(t, "tok", stored.ShareToken)
					assert.True(t, stored.IsPublic)
					return "4-d", nil
				})
			},
		},
		{
			name: "revision keeps moving",
			setup: func(t *testing.T, db *mockdb.DB) {
				for i := 0; i < maxRevRetries; i++ {
					expectNote(t, db, storedNote("n1", fmt.Sprintf("%d-x", i+2), 2, ""))
					db.ExpectPut().WithDocID(noteDocID("n1")).WillReturnError(errConflict)
				}
			},
			wantErr: ErrVersionConflict,
		},
		{
			name: "missing note",
			setup: func(t *testing.T, db *mockdb.DB) {
				db.ExpectGet().WithDocID(noteDocID("n1")).WillReturnError(errNotFound)
			},
			wantErr: ErrNoteNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, db := newMockNoteRepo(t)
			tt.setup(t, db)

			note := &domain.Note{ID: "n1", Content: "edited", UpdatedAt: time.Now()}
			err := repo.Update(context.Background(), note, 2)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCouchDBNoteRepository_Publish(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("token already claimed", func(t *testing.T) {
		repo, db := newMockNoteRepo(t)
		expectNote(t, db, storedNote("n1", "1-a", 1, ""))
		db.ExpectPut().WithDocID(shareDocID("tok")).WillReturnError(errConflict)

		_, err := repo.Publish(context.Background(), "n1", "tok", now)
		assert.ErrorIs(t, err, ErrShareTokenTaken)
	})

	t.Run("claim released when the note write fails", func(t *testing.T) {
		repo, db := newMockNoteRepo(t)
		expectNote(t, db, storedNote("n1", "1-a", 1, ""))
		db.ExpectPut().WithDocID(shareDocID("tok")).WillReturn("1-s")
		db.ExpectPut().WithDocID(noteDocID("n1")).WillReturnError(errInternal)
		expectClaim(t, db, "tok", "n1", "1-s")
		db.ExpectDelete().WithDocID(shareDocID("tok")).WillReturn("2-s")

		_, err := repo.Publish(context.Background(), "n1", "tok", now)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrShareTokenTaken)
	})

	t.Run("revision conflict retries without a second claim", func(t *testing.T) {
		repo, db := newMockNoteRepo(t)
		expectNote(t, db, storedNote("n1", "1-a", 1, ""))
		db.ExpectPut().WithDocID(shareDocID("tok")).WillReturn("1-s")
		db.ExpectPut().WithDocID(noteDocID("n1")).WillReturnError(errConflict)
		expectNote(t, db, storedNote("n1", "2-b", 2, ""))
		db.ExpectPut().WithDocID(noteDocID("n1")).WillReturn("3-c")

		note, err := repo.Publish(context.Background(), "n1", "tok", now)
		require.NoError(t, err)
		assert.Equal(t, "tok", note.ShareToken)
		assert.True(t, note.IsPublic)
		assert.Equal(t, int64(2), note.Version)
	})

	t.Run("losing a publish race releases the unused claim", func(t *testing.T) {
		repo, db := newMockNoteRepo(t)
		expectNote(t, db, storedNote("n1", "1-a", 1, ""))
		db.ExpectPut().WithDocID(shareDocID("tok")).WillReturn("1-s")
		db.ExpectPut().WithDocID(noteDocID("n1")).WillReturnError(errConflict)
		expectNote(t, db, storedNote("n1", "2-b", 1, "other"))
		expectClaim(t, db, "tok", "n1", "1-s")
		db.ExpectDelete().WithDocID(shareDocID("tok")).WillReturn("2-s")
		db.ExpectPut().WithDocID(noteDocID("n1")).WillReturn("3-c")

		note, err := repo.Publish(context.Background(), "n1", "tok", now)
		require.NoError(t, err)
		assert.Equal(t, "other", note.ShareToken)
	})
}

func TestCouchDBNoteRepository_FindByShareToken(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, db *mockdb.DB)
		wantErr error
	}{
		{
			name: "no claim",
			setup: func(t *testing.T, db *mockdb.DB) {
				db.ExpectGet().WithDocID(shareDocID("tok")).WillReturnError(errNotFound)
			},
			wantErr: ErrNoteNotFound,
		},
		{
			name: "claim points at a note with another token",
			setup: func(t *testing.T, db *mockdb.DB) {
				expectClaim(t, db, "tok", "n1", "1-s")
				expectNote(t, db, storedNote("n1", "2-b", 1, "other"))
			},
			wantErr: ErrNoteNotFound,
		},
		{
			name: "claim points at a deleted note",
			setup: func(t *testing.T, db *mockdb.DB) {
				expectClaim(t, db, "tok", "n1", "1-s")
				db.ExpectGet().WithDocID(noteDocID("n1")).WillReturnError(errNotFound)
			},
			wantErr: ErrNoteNotFound,
		},
		{
			name: "matching claim",
			setup: func(t *testing.T, db *mockdb.DB) {
				expectClaim(t, db, "tok", "n1", "1-s")
				expectNote(t, db, storedNote("n1", "2-b", 1, "tok"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, db := newMockNoteRepo(t)
			tt.setup(t, db)

			note, err := repo.FindByShareToken(context.Background(), "tok")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "n1", note.ID)
			assert.Equal(t, "tok", note.ShareToken)
		})
	}
}

func TestCouchDBNoteRepository_Delete(t *testing.T) {
	t.Run("retries a revision conflict and releases the claim", func(t *testing.T) {
		repo, db := newMockNoteRepo(t)
		expectNote(t, db, storedNote("n1", "1-a", 1, "tok"))
		db.ExpectDelete().WithDocID(noteDocID("n1")).WillReturnError(errConflict)
		expectNote(t, db, storedNote("n1", "2-b", 2, "tok"))
		db.ExpectDelete().WithDocID(noteDocID("n1")).WillReturn("3-b")
		expectClaim(t, db, "tok", "n1", "1-s")
		db.ExpectDelete().WithDocID(shareDocID("tok")).WillReturn("2-s")

		assert.NoError(t, repo.Delete(context.Background(), "n1"))
	})

	t.Run("private note has no claim", func(t *testing.T) {
		repo, db := newMockNoteRepo(t)
		expectNote(t, db, storedNote("n1", "1-a", 1, ""))
		db.ExpectDelete().WithDocID(noteDocID("n1")).WillReturn("2-a")

		assert.NoError(t, repo.Delete(context.Background(), "n1"))
	})

	t.Run("deleted underneath", func(t *testing.T) {
		repo, db := newMockNoteRepo(t)
		expectNote(t, db, storedNote("n1", "1-a", 1, ""))
		db.ExpectDelete().WithDocID(noteDocID("n1")).WillReturnError(errNotFound)

		assert.ErrorIs(t, repo.Delete(context.Background(), "n1"), ErrNoteNotFound)
	})

	t.Run("missing", func(t *testing.T) {
		repo, db := newMockNoteRepo(t)
		db.ExpectGet().WithDocID(noteDocID("n1")).WillReturnError(errNotFound)

		assert.ErrorIs(t, repo.Delete(context.Background(), "n1"), ErrNoteNotFound)
	})
}

func TestCouchDBUserRepository_Create(t *testing.T) {
	user := &domain.User{ID: "u1", Username: "alice", Password: "hash"}

	t.Run("username reserved", func(t *testing.T) {
		repo, db := newMockUserRepo(t)
		db.ExpectPut().WithDocID(usernameDocID("alice")).WillReturnError(errConflict)

		assert.ErrorIs(t, repo.Create(context.Background(), user), ErrUserExists)
	})

	t.Run("reservation dropped when the user write fails", func(t *testing.T) {
		repo, db := newMockUserRepo(t)
		db.ExpectPut().WithDocID(usernameDocID("alice")).WillReturn("1-r")
		db.ExpectPut().WithDocID(userDocID("u1")).WillReturnError(errInternal)
		db.ExpectDelete().WithDocID(usernameDocID("alice")).WillReturn("2-r")

		err := repo.Create(context.Background(), user)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUserExists)
	})

	t.Run("created", func(t *testing.T) {
		repo, db := newMockUserRepo(t)
		db.ExpectPut().WithDocID(usernameDocID("alice")).WillReturn("1-r")
		db.ExpectPut().WithDocID(userDocID("u1")).WillReturn("1-u")

		assert.NoError(t, repo.Create(context.Background(), user))
	})
}

func TestCouchDBUserRepository_FindByUsername(t *testing.T) {
	t.Run("follows the reservation", func(t *testing.T) {
		repo, db := newMockUserRepo(t)
		db.ExpectGet().WithDocID(usernameDocID("alice")).WillReturn(mockdb.DocumentT(t, usernameDoc{
			ID:      usernameDocID("alice"),
			Rev:     "1-r",
			DocType: usernameDocType,
			UserID:  "u1",
		}))
		db.ExpectGet().WithDocID(userDocID("u1")).WillReturn(mockdb.DocumentT(t, userDoc{
			ID:       userDocID("u1"),
			Rev:      "1-u",
			DocType:  userDocType,
			UserID:   "u1",
			Username: "alice",
			Password: "hash",
		}))

		user, err := repo.FindByUsername(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		assert.Equal(t, "alice", user.Username)
	})

	t.Run("unknown username", func(t *testing.T) {
		repo, db := newMockUserRepo(t)
		db.ExpectGet().WithDocID(usernameDocID("bob")).WillReturnError(errNotFound)

		exists, err := repo.UsernameExists(context.Background(), "bob")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
