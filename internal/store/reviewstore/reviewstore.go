// Package reviewstore implements review.Repository on top of per-change
// JSON documents under a reviews directory: one file named
// "<change_id>.json" per change.
package reviewstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/store/jsonfile"
)

// Store is a review.Repository backed by dir.
type Store struct {
	dir string
}

// New returns a Store rooted at dir (conventionally "<repo>/.aipair/reviews").
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(changeID string) string {
	return filepath.Join(s.dir, changeID+".json")
}

// Get implements review.Repository.
func (s *Store) Get(_ context.Context, changeID string) (*review.Review, error) {
	var doc review.Review
	if err := jsonfile.ReadInto(s.path(changeID), &doc); err != nil {
		if os.IsNotExist(err) {
			return nil, review.ErrReviewNotFound
		}
		return nil, fmt.Errorf("reviewstore: reading %s: %w", changeID, err)
	}
	return &doc, nil
}

// GetByPrefix implements review.Repository.
func (s *Store) GetByPrefix(ctx context.Context, prefix string) (*review.Review, error) {
	if doc, err := s.Get(ctx, prefix); err == nil {
		return doc, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	names, err := jsonfile.ListJSONFiles(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reviewstore: listing %s: %w", s.dir, err)
	}

	var matches []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		return nil, review.ErrReviewNotFound
	case 1:
		return s.Get(ctx, matches[0])
	default:
		return nil, review.ErrAmbiguousChangeID
	}
}

// Save implements review.Repository.
func (s *Store) Save(_ context.Context, rev *review.Review) error {
	if err := jsonfile.WriteAtomic(s.path(rev.ChangeID), rev); err != nil {
		return fmt.Errorf("reviewstore: saving %s: %w", rev.ChangeID, err)
	}
	return nil
}

// List implements review.Repository. Malformed documents are skipped
// with the error swallowed: a single corrupt file must not take down
// every other review's visibility.
func (s *Store) List(ctx context.Context) ([]*review.Review, error) {
	names, err := jsonfile.ListJSONFiles(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reviewstore: listing %s: %w", s.dir, err)
	}

	docs := make([]*review.Review, 0, len(names))
	for _, name := range names {
		doc, err := s.Get(ctx, name)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

func isNotFound(err error) bool {
	return err == review.ErrReviewNotFound
}
