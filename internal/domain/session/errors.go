package session

import "errors"

var (
	// ErrSessionNotFound indicates no session exists with the given name.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates a session with that name already exists.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidName indicates a session name contains characters other
	// than letters, digits, '-', and '_'.
	ErrInvalidName = errors.New("session name must be alphanumeric, '-', or '_'")
	// ErrNotActive indicates an operation requires an Active session but
	// found one already Merged.
	ErrNotActive = errors.New("session is not active")
	// ErrBookmarkMissing indicates the session's bookmark could not be
	// resolved in the trunk repository (e.g. nothing has been pushed yet).
	ErrBookmarkMissing = errors.New("session bookmark not found")
)
