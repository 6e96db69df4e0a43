package service

import (
	"errors"
	"fmt"
)

var (
	ErrNoteNotFound    = errors.New("note not found")
	ErrForbidden       = errors.New("unauthorized: note does not belong to user")
	ErrVersionConflict = errors.New("version conflict")
	ErrNotPublic       = errors.New("note is not public")
	ErrUnauthenticated = errors.New("no authenticated user")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
)

// VersionConflictError reports a rejected update. The caller should re-fetch
// the note and retry against CurrentVersion. CurrentVersion is -1 when the
// store did not report it.
type VersionConflictError struct {
	NoteID          string
	ExpectedVersion int64
	CurrentVersion  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on note %s: expected version %d, current version %d",
		e.NoteID, e.ExpectedVersion, e.CurrentVersion)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}
