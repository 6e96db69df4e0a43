package repository

import "errors"

var (
	ErrNoteNotFound    = errors.New("note not found")
	ErrVersionConflict = errors.New("note version has moved")
	ErrShareTokenTaken = errors.New("share token already in use")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("username already taken")
)
