package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpggio/aipair/internal/domain/session"
	"github.com/rpggio/aipair/internal/dvcs"
)

// fakeRepository is an in-memory session.Repository for unit tests.
type fakeRepository struct {
	docs map[string]*session.Session
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{docs: make(map[string]*session.Session)}
}

func (f *fakeRepository) Save(_ context.Context, s *session.Session) error {
	cp := *s
	f.docs[s.Name] = &cp
	return nil
}

func (f *fakeRepository) Get(_ context.Context, name string) (*session.Session, error) {
	d, ok := f.docs[name]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRepository) List(_ context.Context) ([]*session.Session, error) {
	var out []*session.Session
	for _, d := range f.docs {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

// fakeDvcs is an in-memory session.DvcsClient for unit tests.
type fakeDvcs struct {
	root              string
	bookmarks         map[string]string
	workingChange     dvcs.Change
	conflict          bool
	pushes            []string
	pushAllowNew      []bool
	fetchCalls        int
	rebaseDest        string
	stack             []dvcs.Change
	enumeratedRevsets []string
}

func newFakeDvcs(root string) *fakeDvcs {
	return &fakeDvcs{root: root, bookmarks: map[string]string{"main": "changeM"}}
}

func (f *fakeDvcs) ResolveBookmark(_ context.Context, name string) (string, error) {
	id, ok := f.bookmarks[name]
	if !ok {
		return "", dvcs.ErrBookmarkAbsent
	}
	return id, nil
}

func (f *fakeDvcs) SetBookmark(_ context.Context, name, revset string) error {
	f.bookmarks[name] = revset
	return nil
}

func (f *fakeDvcs) CreateBookmark(_ context.Context, name, revset string) error {
	f.bookmarks[name] = revset
	return nil
}

func (f *fakeDvcs) DeleteBookmark(_ context.Context, name string) error {
	delete(f.bookmarks, name)
	return nil
}

func (f *fakeDvcs) Fetch(_ context.Context) (string, error) {
	f.fetchCalls++
	return "", nil
}

func (f *fakeDvcs) Push(_ context.Context, bookmark string, allowNew bool) (string, error) {
	f.pushes = append(f.pushes, bookmark)
	f.pushAllowNew = append(f.pushAllowNew, allowNew)
	return "", nil
}

func (f *fakeDvcs) Rebase(_ context.Context, revset, destination string) (string, error) {
	f.rebaseDest = destination
	return "", nil
}

func (f *fakeDvcs) NewChange(_ context.Context, revset, message string) error {
	return nil
}

func (f *fakeDvcs) GetChange(_ context.Context, revset string) (dvcs.Change, error) {
	ch := f.workingChange
	ch.Conflict = f.conflict
	return ch, nil
}

func (f *fakeDvcs) EnumerateChanges(_ context.Context, revset string, limit int) ([]dvcs.Change, error) {
	f.enumeratedRevsets = append(f.enumeratedRevsets, revset)
	return f.stack, nil
}

func (f *fakeDvcs) Root() string { return f.root }

func cloneFuncFor(clone *fakeDvcs) session.CloneFunc {
	return func(ctx context.Context, srcPath, destPath string) (session.DvcsClient, error) {
		clone.root = destPath
		return clone, nil
	}
}

func TestNewCreatesSessionFromTrunk(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	trunk := newFakeDvcs("/repo/main")
	clone := newFakeDvcs("")
	svc := session.NewService(repo, trunk, cloneFuncFor(clone), "/repo/sessions", nil)

	sess, err := svc.New(ctx, "feature-x", "")
	require.NoError(t, err)
	assert.Equal(t, "session/feature-x", sess.Bookmark)
	assert.Equal(t, "changeM", sess.BaseChangeID)
	assert.Empty(t, sess.BaseBookmark)
	assert.Equal(t, session.StatusActive, sess.Status)
}

func TestNewRejectsInvalidName(t *testing.T) {
	svc := session.NewService(newFakeRepository(), newFakeDvcs(""), cloneFuncFor(newFakeDvcs("")), "/sessions", nil)
	_, err := svc.New(context.Background(), "bad name!", "")
	assert.ErrorIs(t, err, session.ErrInvalidName)
}

func TestNewRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	trunk := newFakeDvcs("/repo/main")
	svc := session.NewService(repo, trunk, cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	_, err := svc.New(ctx, "feature-x", "")
	require.NoError(t, err)

	_, err = svc.New(ctx, "feature-x", "")
	assert.ErrorIs(t, err, session.ErrSessionExists)
}

func TestNewStackedSessionRecordsBaseBookmark(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	trunk := newFakeDvcs("/repo/main")
	trunk.bookmarks["session/base-feature"] = "changeB"
	svc := session.NewService(repo, trunk, cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	base, err := svc.New(ctx, "base-feature", "")
	require.NoError(t, err)

	stacked, err := svc.New(ctx, "dependent", base.Name)
	require.NoError(t, err)
	assert.Equal(t, base.Bookmark, stacked.BaseBookmark)
}

func TestPushRecordsEventAndAllowsNewOnFirstPush(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	require.NoError(t, repo.Save(ctx, &session.Session{Name: "feature-x", Bookmark: "session/feature-x", Status: session.StatusActive}))
	svc := session.NewService(repo, newFakeDvcs("/repo/main"), cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	clone := newFakeDvcs("/repo/sessions/feature-x")
	clone.workingChange = dvcs.Change{ChangeID: "c1", CommitID: "commit1"}
	clone.stack = []dvcs.Change{{ChangeID: "c1", CommitID: "commit1"}}

	sess, err := svc.Push(ctx, "feature-x", clone, "initial push")
	require.NoError(t, err)
	require.Len(t, sess.Pushes, 1)
	assert.Equal(t, "initial push", sess.Pushes[0].Summary)
	assert.Equal(t, []session.ChangePair{{ChangeID: "c1", CommitID: "commit1"}}, sess.Pushes[0].Changes)
	assert.Equal(t, []string{"c1"}, sess.Changes)
	assert.Equal(t, []string{"session/feature-x"}, clone.pushes)
	assert.Equal(t, []bool{true}, clone.pushAllowNew)
	assert.Equal(t, []string{"main@origin..@"}, clone.enumeratedRevsets)
}

func TestPullDetectsConflict(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	require.NoError(t, repo.Save(ctx, &session.Session{Name: "feature-x", Bookmark: "session/feature-x", Status: session.StatusActive}))
	svc := session.NewService(repo, newFakeDvcs("/repo/main"), cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	clone := newFakeDvcs("/repo/sessions/feature-x")
	clone.conflict = true

	conflicted, err := svc.Pull(ctx, "feature-x", clone)
	require.NoError(t, err)
	assert.True(t, conflicted)
	assert.Equal(t, "main@origin", clone.rebaseDest)
}

func TestMergeAdvancesMainAndDeletesBookmark(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	require.NoError(t, repo.Save(ctx, &session.Session{Name: "feature-x", Bookmark: "session/feature-x", Status: session.StatusActive}))
	trunk := newFakeDvcs("/repo/main")
	trunk.bookmarks["session/feature-x"] = "commitTip"
	svc := session.NewService(repo, trunk, cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	sess, err := svc.Merge(ctx, "feature-x")
	require.NoError(t, err)
	assert.Equal(t, session.StatusMerged, sess.Status)
	assert.Equal(t, "commitTip", trunk.bookmarks["main"])
	_, ok := trunk.bookmarks["session/feature-x"]
	assert.False(t, ok)
}

func TestMergeFailsWhenBookmarkMissing(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	require.NoError(t, repo.Save(ctx, &session.Session{Name: "feature-x", Bookmark: "session/feature-x", Status: session.StatusActive}))
	trunk := newFakeDvcs("/repo/main")
	svc := session.NewService(repo, trunk, cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	_, err := svc.Merge(ctx, "feature-x")
	assert.ErrorIs(t, err, session.ErrBookmarkMissing)
}

func TestMergeReparentsStackedSessions(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	require.NoError(t, repo.Save(ctx, &session.Session{Name: "base", Bookmark: "session/base", Status: session.StatusActive}))
	require.NoError(t, repo.Save(ctx, &session.Session{Name: "dependent", Bookmark: "session/dependent", BaseBookmark: "session/base", Status: session.StatusActive}))
	trunk := newFakeDvcs("/repo/main")
	trunk.bookmarks["session/base"] = "commitTip"
	svc := session.NewService(repo, trunk, cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	_, err := svc.Merge(ctx, "base")
	require.NoError(t, err)

	dep, err := repo.Get(ctx, "dependent")
	require.NoError(t, err)
	// base itself was unstacked (BaseBookmark == ""), so dependent now
	// points directly at trunk too, per BaseBookmarkOrDefault's convention.
	assert.Empty(t, dep.BaseBookmark)
	assert.Equal(t, "main", dep.BaseBookmarkOrDefault())
}

// TestMergeReparentsThreeLevelStack exercises a C -> A -> B stack: "base"
// stacked on trunk, "mid" stacked on "base", "leaf" stacked on "mid".
// Merging "mid" must re-parent "leaf" onto "base" (mid's own base
// bookmark), not onto trunk's "main" — the bug a two-level stack can't
// distinguish, since in that case merged.BaseBookmark happens to be "".
func TestMergeReparentsThreeLevelStack(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	require.NoError(t, repo.Save(ctx, &session.Session{Name: "base", Bookmark: "session/base", Status: session.StatusActive}))
	require.NoError(t, repo.Save(ctx, &session.Session{Name: "mid", Bookmark: "session/mid", BaseBookmark: "session/base", Status: session.StatusActive}))
	require.NoError(t, repo.Save(ctx, &session.Session{Name: "leaf", Bookmark: "session/leaf", BaseBookmark: "session/mid", Status: session.StatusActive}))
	trunk := newFakeDvcs("/repo/main")
	trunk.bookmarks["session/mid"] = "commitTip"
	svc := session.NewService(repo, trunk, cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	_, err := svc.Merge(ctx, "mid")
	require.NoError(t, err)

	leaf, err := repo.Get(ctx, "leaf")
	require.NoError(t, err)
	assert.Equal(t, "session/base", leaf.BaseBookmark)
}

func TestPushedCleanComparesLiveChangeSetToLastPush(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	sess := &session.Session{
		Name:     "feature-x",
		Bookmark: "session/feature-x",
		Status:   session.StatusActive,
		Pushes: []session.PushEvent{
			{ChangeID: "c1", CommitID: "commit1", Changes: []session.ChangePair{{ChangeID: "c1", CommitID: "commit1"}}},
		},
	}
	require.NoError(t, repo.Save(ctx, sess))
	trunk := newFakeDvcs("/repo/main")
	trunk.bookmarks["session/feature-x"] = "c1"
	trunk.stack = []dvcs.Change{{ChangeID: "c1", CommitID: "commit1"}}
	svc := session.NewService(repo, trunk, cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	clean, err := svc.PushedClean(ctx, sess)
	require.NoError(t, err)
	assert.True(t, clean)

	// The working copy advances (amend) without a new push: commit_id
	// diverges from what was captured, so pushed_clean must flip false.
	trunk.stack = []dvcs.Change{{ChangeID: "c1", CommitID: "commit2"}}
	clean, err = svc.PushedClean(ctx, sess)
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestPushedCleanFalseWithoutAnyPush(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	sess := &session.Session{Name: "feature-x", Bookmark: "session/feature-x", Status: session.StatusActive}
	require.NoError(t, repo.Save(ctx, sess))
	trunk := newFakeDvcs("/repo/main")
	svc := session.NewService(repo, trunk, cloneFuncFor(newFakeDvcs("")), "/sessions", nil)

	clean, err := svc.PushedClean(ctx, sess)
	require.NoError(t, err)
	assert.False(t, clean)
}
