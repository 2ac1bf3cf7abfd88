package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service implements review document lifecycle operations: creation,
// revision tracking, and thread/comment mutation.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a review Service backed by repo.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// GetOrCreate returns the review for changeID, creating an empty one at
// base if none exists yet.
func (s *Service) GetOrCreate(ctx context.Context, changeID, base, commitID string) (*Review, error) {
	rev, err := s.repo.Get(ctx, changeID)
	if err == nil {
		if rev.WorkingCommitID == "" {
			rev.WorkingCommitID = commitID
			if err := s.repo.Save(ctx, rev); err != nil {
				return nil, fmt.Errorf("review: backfilling working commit: %w", err)
			}
		}
		return rev, nil
	}
	if !errors.Is(err, ErrReviewNotFound) {
		return nil, err
	}

	rev = &Review{
		ChangeID:        changeID,
		Base:            base,
		CreatedAt:       s.now(),
		WorkingCommitID: commitID,
	}
	if err := s.repo.Save(ctx, rev); err != nil {
		return nil, fmt.Errorf("review: creating %s: %w", changeID, err)
	}
	return rev, nil
}

// Get resolves a change_id (exact or prefix) to its review.
func (s *Service) Get(ctx context.Context, changeIDOrPrefix string) (*Review, error) {
	return s.repo.GetByPrefix(ctx, changeIDOrPrefix)
}

// List returns every review document, most recently created first.
func (s *Service) List(ctx context.Context) ([]*Review, error) {
	return s.repo.List(ctx)
}

// ListWithOpenThreads returns the subset of List with at least one open thread.
func (s *Service) ListWithOpenThreads(ctx context.Context) ([]*Review, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Review
	for _, rev := range all {
		if rev.HasOpenThreads() {
			out = append(out, rev)
		}
	}
	return out, nil
}

// RecordRevision appends a persisted revision for rev, bumping its
// working commit. The review must already exist.
func (s *Service) RecordRevision(ctx context.Context, changeID, commitID, description string) (*Review, error) {
	rev, err := s.repo.Get(ctx, changeID)
	if err != nil {
		return nil, err
	}
	rev.Revisions = append(rev.Revisions, Revision{
		Number:      len(rev.Revisions) + 1,
		CommitID:    commitID,
		CreatedAt:   s.now(),
		Description: description,
	})
	rev.WorkingCommitID = commitID
	if err := s.repo.Save(ctx, rev); err != nil {
		return nil, fmt.Errorf("review: recording revision for %s: %w", changeID, err)
	}
	return rev, nil
}

// AddComment appends a comment, finding an existing thread at
// (file, lineStart, lineEnd) or creating a new one. If the last recorded
// revision's commit differs from commitID (or no revision has been
// recorded yet), a new persisted revision is recorded first so the
// thread's CreatedAtRevision/CreatedAtCommit anchor to the commit it
// was actually written against.
func (s *Service) AddComment(ctx context.Context, changeID, commitID, file string, lineStart, lineEnd int, author AuthorTag, text string) (*Review, *Thread, error) {
	rev, err := s.repo.Get(ctx, changeID)
	if err != nil {
		return nil, nil, err
	}

	last := rev.LastRevision()
	if last == nil || last.CommitID != commitID {
		rev.Revisions = append(rev.Revisions, Revision{
			Number:    len(rev.Revisions) + 1,
			CommitID:  commitID,
			CreatedAt: s.now(),
		})
		last = rev.LastRevision()
	}
	rev.WorkingCommitID = commitID

	comment := Comment{Author: author, Text: text, Timestamp: s.now()}

	for i := range rev.Threads {
		t := &rev.Threads[i]
		if t.File == file && t.LineStart == lineStart && t.LineEnd == lineEnd {
			t.Comments = append(t.Comments, comment)
			if err := s.repo.Save(ctx, rev); err != nil {
				return nil, nil, fmt.Errorf("review: adding comment to %s: %w", changeID, err)
			}
			return rev, t, nil
		}
	}

	thread := Thread{
		ID:              newThreadID(),
		File:            file,
		LineStart:       lineStart,
		LineEnd:         lineEnd,
		Status:          ThreadOpen,
		Comments:        []Comment{comment},
		CreatedAtCommit: commitID,
		CreatedAtRev:    last.Number,
	}
	rev.Threads = append(rev.Threads, thread)
	if err := s.repo.Save(ctx, rev); err != nil {
		return nil, nil, fmt.Errorf("review: creating thread on %s: %w", changeID, err)
	}
	return rev, &rev.Threads[len(rev.Threads)-1], nil
}

// ReplyToThread appends a comment to an existing thread, resolved by id or prefix.
func (s *Service) ReplyToThread(ctx context.Context, changeIDOrPrefix, threadIDOrPrefix string, author AuthorTag, text string) (*Review, *Thread, error) {
	rev, err := s.repo.GetByPrefix(ctx, changeIDOrPrefix)
	if err != nil {
		return nil, nil, err
	}
	t, err := findThread(rev, threadIDOrPrefix)
	if err != nil {
		return nil, nil, err
	}
	t.Comments = append(t.Comments, Comment{Author: author, Text: text, Timestamp: s.now()})
	if err := s.repo.Save(ctx, rev); err != nil {
		return nil, nil, fmt.Errorf("review: replying on %s: %w", changeIDOrPrefix, err)
	}
	return rev, t, nil
}

// ResolveThread marks a thread resolved.
func (s *Service) ResolveThread(ctx context.Context, changeIDOrPrefix, threadIDOrPrefix string) (*Review, *Thread, error) {
	return s.setThreadStatus(ctx, changeIDOrPrefix, threadIDOrPrefix, ThreadResolved)
}

// ReopenThread marks a resolved thread open again.
func (s *Service) ReopenThread(ctx context.Context, changeIDOrPrefix, threadIDOrPrefix string) (*Review, *Thread, error) {
	return s.setThreadStatus(ctx, changeIDOrPrefix, threadIDOrPrefix, ThreadOpen)
}

func (s *Service) setThreadStatus(ctx context.Context, changeIDOrPrefix, threadIDOrPrefix string, status ThreadStatus) (*Review, *Thread, error) {
	rev, err := s.repo.GetByPrefix(ctx, changeIDOrPrefix)
	if err != nil {
		return nil, nil, err
	}
	t, err := findThread(rev, threadIDOrPrefix)
	if err != nil {
		return nil, nil, err
	}
	t.Status = status
	if err := s.repo.Save(ctx, rev); err != nil {
		return nil, nil, fmt.Errorf("review: updating thread status on %s: %w", changeIDOrPrefix, err)
	}
	return rev, t, nil
}

// findThread resolves idOrPrefix against rev.Threads: exact id match
// first, then a unique prefix match.
func findThread(rev *Review, idOrPrefix string) (*Thread, error) {
	for i := range rev.Threads {
		if rev.Threads[i].ID == idOrPrefix {
			return &rev.Threads[i], nil
		}
	}
	var match *Thread
	count := 0
	for i := range rev.Threads {
		if strings.HasPrefix(rev.Threads[i].ID, idOrPrefix) {
			match = &rev.Threads[i]
			count++
		}
	}
	switch count {
	case 0:
		return nil, ErrThreadNotFound
	case 1:
		return match, nil
	default:
		return nil, ErrAmbiguousThreadID
	}
}

func newThreadID() string {
	return uuid.NewString()[:8]
}
