package reviewstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/store/reviewstore"
)

func TestSaveThenGet(t *testing.T) {
	ctx := context.Background()
	store := reviewstore.New(t.TempDir())

	doc := &review.Review{ChangeID: "abcdef12", Base: "main", CreatedAt: time.Now()}
	require.NoError(t, store.Save(ctx, doc))

	got, err := store.Get(ctx, "abcdef12")
	require.NoError(t, err)
	assert.Equal(t, "main", got.Base)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := reviewstore.New(t.TempDir())
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, review.ErrReviewNotFound)
}

func TestGetByPrefixUniqueMatch(t *testing.T) {
	ctx := context.Background()
	store := reviewstore.New(t.TempDir())
	require.NoError(t, store.Save(ctx, &review.Review{ChangeID: "abcdef12", CreatedAt: time.Now()}))

	got, err := store.GetByPrefix(ctx, "abcd")
	require.NoError(t, err)
	assert.Equal(t, "abcdef12", got.ChangeID)
}

func TestGetByPrefixAmbiguous(t *testing.T) {
	ctx := context.Background()
	store := reviewstore.New(t.TempDir())
	require.NoError(t, store.Save(ctx, &review.Review{ChangeID: "abc111", CreatedAt: time.Now()}))
	require.NoError(t, store.Save(ctx, &review.Review{ChangeID: "abc222", CreatedAt: time.Now()}))

	_, err := store.GetByPrefix(ctx, "abc")
	assert.ErrorIs(t, err, review.ErrAmbiguousChangeID)
}

func TestListSortsByCreatedAtDescending(t *testing.T) {
	ctx := context.Background()
	store := reviewstore.New(t.TempDir())
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	require.NoError(t, store.Save(ctx, &review.Review{ChangeID: "old1", CreatedAt: older}))
	require.NoError(t, store.Save(ctx, &review.Review{ChangeID: "new1", CreatedAt: newer}))

	docs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "new1", docs[0].ChangeID)
	assert.Equal(t, "old1", docs[1].ChangeID)
}
