package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/rpggio/aipair/internal/dvcs"
	"github.com/rpggio/aipair/internal/store/jsonfile"
)

// CloneFunc clones srcPath into destPath and returns a client rooted
// there. Production wiring passes dvcs.Clone; tests supply a fake.
type CloneFunc func(ctx context.Context, srcPath, destPath string) (DvcsClient, error)

// Service implements session creation, push/pull, and merge.
type Service struct {
	repo      Repository
	trunk     DvcsClient
	clone     CloneFunc
	clonesDir string
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a session Service. trunk is the DvcsClient rooted
// at the main repository; clonesDir is where new session clones are
// created (one subdirectory per session name).
func NewService(repo Repository, trunk DvcsClient, clone CloneFunc, clonesDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, trunk: trunk, clone: clone, clonesDir: clonesDir, logger: logger, now: time.Now}
}

func validateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return ErrInvalidName
		}
	}
	return nil
}

// New creates a session: validates the name, resolves its base (trunk's
// "main" bookmark by default, or baseSessionName's bookmark when
// stacking one session on another), clones the repository, creates a
// new change with the session name as its description, creates the
// session/<name> bookmark at the new change, and persists a Session
// record plus a clone marker inside the new workspace.
func (s *Service) New(ctx context.Context, name, baseSessionName string) (*Session, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := s.repo.Get(ctx, name); err == nil {
		return nil, ErrSessionExists
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	baseRevset := "main"
	baseBookmark := ""
	if baseSessionName != "" {
		base, err := s.repo.Get(ctx, baseSessionName)
		if err != nil {
			return nil, fmt.Errorf("session: resolving base session %s: %w", baseSessionName, err)
		}
		baseRevset = base.Bookmark
		baseBookmark = base.Bookmark
	}

	baseChangeID, err := s.trunk.ResolveBookmark(ctx, baseRevset)
	if err != nil {
		return nil, fmt.Errorf("session: resolving base %q: %w", baseRevset, err)
	}

	clonePath := filepath.Join(s.clonesDir, name)
	client, err := s.clone(ctx, s.trunk.Root(), clonePath)
	if err != nil {
		return nil, fmt.Errorf("session: cloning for %s: %w", name, err)
	}

	if err := client.NewChange(ctx, baseRevset+"@origin", name); err != nil {
		return nil, fmt.Errorf("session: creating change for %s: %w", name, err)
	}

	bookmark := "session/" + name
	if err := client.CreateBookmark(ctx, bookmark, "@"); err != nil {
		return nil, fmt.Errorf("session: creating bookmark %s: %w", bookmark, err)
	}

	marker := CloneMarker{SessionName: name, MainRepo: s.trunk.Root(), Bookmark: bookmark}
	if err := jsonfile.WriteAtomic(filepath.Join(clonePath, ".aipair", "clone.json"), marker); err != nil {
		return nil, fmt.Errorf("session: writing clone marker for %s: %w", name, err)
	}

	sess := &Session{
		Name:         name,
		ClonePath:    clonePath,
		Bookmark:     bookmark,
		BaseChangeID: baseChangeID,
		BaseBookmark: baseBookmark,
		Status:       StatusActive,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: saving %s: %w", name, err)
	}
	return sess, nil
}

// Push moves a session's bookmark to its current working-copy change and
// pushes it to the trunk remote, recording a PushEvent. The push is run
// from within client (the session's own clone).
func (s *Service) Push(ctx context.Context, name string, client DvcsClient, summary string) (*Session, error) {
	sess, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive {
		return nil, ErrNotActive
	}

	if err := client.SetBookmark(ctx, sess.Bookmark, "@"); err != nil {
		return nil, fmt.Errorf("session: moving bookmark for %s: %w", name, err)
	}

	change, err := client.GetChange(ctx, "@")
	if err != nil {
		return nil, fmt.Errorf("session: reading working change for %s: %w", name, err)
	}

	allowNew := len(sess.Pushes) == 0
	if _, err := client.Push(ctx, sess.Bookmark, allowNew); err != nil {
		return nil, fmt.Errorf("session: pushing %s: %w", name, err)
	}

	stack, err := client.EnumerateChanges(ctx, sess.BaseBookmarkOrDefault()+"@origin..@", 0)
	if err != nil {
		return nil, fmt.Errorf("session: enumerating pushed stack for %s: %w", name, err)
	}
	pairs := make([]ChangePair, len(stack))
	ids := make([]string, len(stack))
	for i, ch := range stack {
		pairs[i] = ChangePair{ChangeID: ch.ChangeID, CommitID: ch.CommitID}
		ids[i] = ch.ChangeID
	}
	sess.Changes = ids

	sess.Pushes = append(sess.Pushes, PushEvent{
		Summary:   truncate(summary, 30),
		ChangeID:  change.ChangeID,
		CommitID:  change.CommitID,
		Changes:   pairs,
		Timestamp: s.now(),
	})
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: saving push for %s: %w", name, err)
	}
	return sess, nil
}

// PushedClean reports whether sess's live change stack (its bookmark tip
// back to its base) exactly matches the (change_id, commit_id) pairs
// captured by its last push, per spec.md's pushed_clean definition. A
// session with no pushes yet is never clean.
func (s *Service) PushedClean(ctx context.Context, sess *Session) (bool, error) {
	if len(sess.Pushes) == 0 {
		return false, nil
	}
	tip, err := s.trunk.ResolveBookmark(ctx, sess.Bookmark)
	if err != nil {
		return false, nil
	}
	baseChangeID, err := s.trunk.ResolveBookmark(ctx, sess.BaseBookmarkOrDefault())
	if err != nil {
		return false, fmt.Errorf("session: resolving base bookmark for %s: %w", sess.Name, err)
	}
	live, err := s.trunk.EnumerateChanges(ctx, fmt.Sprintf("%s..%s", baseChangeID, tip), 0)
	if err != nil {
		return false, err
	}
	last := sess.Pushes[len(sess.Pushes)-1]
	return sameChangeSet(live, last.Changes), nil
}

func sameChangeSet(live []dvcs.Change, captured []ChangePair) bool {
	if len(live) != len(captured) {
		return false
	}
	want := make(map[ChangePair]bool, len(captured))
	for _, c := range captured {
		want[c] = true
	}
	for _, ch := range live {
		if !want[ChangePair{ChangeID: ch.ChangeID, CommitID: ch.CommitID}] {
			return false
		}
	}
	return true
}

// Pull fetches the session's base ref and rebases the working copy onto
// it, run from within client (the session's own clone). Returns true if
// the rebase produced a conflict needing manual resolution.
func (s *Service) Pull(ctx context.Context, name string, client DvcsClient) (conflicted bool, err error) {
	sess, err := s.repo.Get(ctx, name)
	if err != nil {
		return false, err
	}

	if _, err := client.Fetch(ctx); err != nil {
		return false, fmt.Errorf("session: fetching for %s: %w", name, err)
	}

	dest := "main@origin"
	if sess.BaseBookmark != "" {
		dest = sess.BaseBookmark + "@origin"
	}
	if _, err := client.Rebase(ctx, "@", dest); err != nil {
		return false, fmt.Errorf("session: rebasing %s onto %s: %w", name, dest, err)
	}

	change, err := client.GetChange(ctx, "@")
	if err != nil {
		return false, fmt.Errorf("session: reading working change for %s: %w", name, err)
	}
	if change.Conflict {
		conflicted = true
	}

	if err := client.SetBookmark(ctx, sess.Bookmark, "@"); err != nil {
		return conflicted, fmt.Errorf("session: moving bookmark for %s: %w", name, err)
	}
	return conflicted, nil
}

// Merge fast-forwards the session's base bookmark (trunk's "main" unless
// the session is stacked on another session's bookmark) to the session's
// bookmark tip, deletes the session bookmark, and marks the session
// Merged. Must be run against the trunk repository (s.trunk), not the
// session's clone.
func (s *Service) Merge(ctx context.Context, name string) (*Session, error) {
	sess, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive {
		return nil, ErrNotActive
	}

	if _, err := s.trunk.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("session: fetching before merge of %s: %w", name, err)
	}

	tip, err := s.trunk.ResolveBookmark(ctx, sess.Bookmark)
	if err != nil {
		if errors.Is(err, dvcs.ErrBookmarkAbsent) {
			return nil, ErrBookmarkMissing
		}
		return nil, fmt.Errorf("session: resolving bookmark %s: %w", sess.Bookmark, err)
	}

	if err := s.trunk.SetBookmark(ctx, sess.BaseBookmarkOrDefault(), tip); err != nil {
		return nil, fmt.Errorf("session: advancing %s for %s: %w", sess.BaseBookmarkOrDefault(), name, err)
	}
	if err := s.trunk.DeleteBookmark(ctx, sess.Bookmark); err != nil {
		return nil, fmt.Errorf("session: deleting bookmark %s: %w", sess.Bookmark, err)
	}

	sess.Status = StatusMerged
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: saving merged status for %s: %w", name, err)
	}

	if err := s.reparentStacked(ctx, sess); err != nil {
		s.logger.Warn("session: re-parenting stacked sessions failed", "merged", name, "error", err)
	}
	return sess, nil
}

// reparentStacked moves every active session stacked on top of merged
// (BaseBookmark == merged.Bookmark) onto merged's own base, now that
// merged's content has landed there — e.g. merging a middle session of
// a C -> A -> B stack re-parents B onto C, not onto trunk.
func (s *Service) reparentStacked(ctx context.Context, merged *Session) error {
	all, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, dep := range all {
		if dep.Status != StatusActive || dep.BaseBookmark != merged.Bookmark {
			continue
		}
		dep.BaseBookmark = merged.BaseBookmark
		if err := s.repo.Save(ctx, dep); err != nil {
			return fmt.Errorf("re-parenting %s onto %s: %w", dep.Name, dep.BaseBookmarkOrDefault(), err)
		}
	}
	return nil
}

// Get returns a session by name.
func (s *Service) Get(ctx context.Context, name string) (*Session, error) {
	return s.repo.Get(ctx, name)
}

// List returns every session.
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	return s.repo.List(ctx)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
