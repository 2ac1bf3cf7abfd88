package session

import (
	"context"

	"github.com/rpggio/aipair/internal/dvcs"
)

// Repository provides persistence for Session records, stored in the
// trunk repository (never inside a session's own clone).
type Repository interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, name string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
}

// DvcsClient is the subset of dvcs.Client operations the session
// lifecycle needs. *dvcs.Client satisfies this interface; tests supply
// a fake.
type DvcsClient interface {
	ResolveBookmark(ctx context.Context, name string) (string, error)
	SetBookmark(ctx context.Context, name, revset string) error
	CreateBookmark(ctx context.Context, name, revset string) error
	DeleteBookmark(ctx context.Context, name string) error
	Fetch(ctx context.Context) (string, error)
	Push(ctx context.Context, bookmark string, allowNew bool) (string, error)
	Rebase(ctx context.Context, revset, destination string) (string, error)
	NewChange(ctx context.Context, revset, message string) error
	GetChange(ctx context.Context, revset string) (dvcs.Change, error)
	EnumerateChanges(ctx context.Context, revset string, limit int) ([]dvcs.Change, error)
	Root() string
}

var _ DvcsClient = (*dvcs.Client)(nil)
