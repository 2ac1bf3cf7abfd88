package sessionstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpggio/aipair/internal/domain/session"
	"github.com/rpggio/aipair/internal/store/sessionstore"
)

func TestSaveThenGet(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.New(t.TempDir())

	sess := &session.Session{Name: "feature-x", Bookmark: "session/feature-x", Status: session.StatusActive, CreatedAt: time.Now()}
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "feature-x")
	require.NoError(t, err)
	assert.Equal(t, "session/feature-x", got.Bookmark)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := sessionstore.New(t.TempDir())
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestListSortsByCreatedAtAscending(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.New(t.TempDir())
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	require.NoError(t, store.Save(ctx, &session.Session{Name: "old", CreatedAt: older}))
	require.NoError(t, store.Save(ctx, &session.Session{Name: "new", CreatedAt: newer}))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "old", sessions[0].Name)
	assert.Equal(t, "new", sessions[1].Name)
}
