// Package sessionstore implements session.Repository on top of per-name
// JSON documents under a sessions directory: one file named "<name>.json"
// per session, stored in the trunk repository.
package sessionstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rpggio/aipair/internal/domain/session"
	"github.com/rpggio/aipair/internal/store/jsonfile"
)

// Store is a session.Repository backed by dir.
type Store struct {
	dir string
}

// New returns a Store rooted at dir (conventionally "<repo>/.aipair/sessions").
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save implements session.Repository.
func (s *Store) Save(_ context.Context, sess *session.Session) error {
	if err := jsonfile.WriteAtomic(s.path(sess.Name), sess); err != nil {
		return fmt.Errorf("sessionstore: saving %s: %w", sess.Name, err)
	}
	return nil
}

// Get implements session.Repository.
func (s *Store) Get(_ context.Context, name string) (*session.Session, error) {
	var sess session.Session
	if err := jsonfile.ReadInto(s.path(name), &sess); err != nil {
		if os.IsNotExist(err) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("sessionstore: reading %s: %w", name, err)
	}
	return &sess, nil
}

// List implements session.Repository, sorted by CreatedAt ascending
// (oldest session first, matching creation order).
func (s *Store) List(ctx context.Context) ([]*session.Session, error) {
	names, err := jsonfile.ListJSONFiles(s.dir)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: listing %s: %w", s.dir, err)
	}
	sessions := make([]*session.Session, 0, len(names))
	for _, name := range names {
		sess, err := s.Get(ctx, name)
		if err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}
