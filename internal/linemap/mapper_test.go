package linemap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rpggio/aipair/internal/diffparse"
)

func TestMapLineNoHunksIsIdentity(t *testing.T) {
	m := MapLine(42, nil)
	assert.Equal(t, Mapping{NewLine: 42, WasDeleted: false}, m)
}

func TestMapLineBeforeHunk(t *testing.T) {
	hunks := []diffparse.Hunk{
		{OldStart: 10, OldCount: 2, NewStart: 10, NewCount: 4, Lines: []diffparse.LineTag{diffparse.Context, diffparse.Add, diffparse.Add, diffparse.Context}},
	}
	m := MapLine(3, hunks)
	assert.Equal(t, Mapping{NewLine: 3, WasDeleted: false}, m)
}

func TestMapLineAfterHunkAppliesOffset(t *testing.T) {
	hunks := []diffparse.Hunk{
		{OldStart: 5, OldCount: 1, NewStart: 5, NewCount: 3, Lines: []diffparse.LineTag{diffparse.Context, diffparse.Add, diffparse.Add}},
	}
	m := MapLine(20, hunks)
	assert.Equal(t, Mapping{NewLine: 22, WasDeleted: false}, m)
}

func TestMapLineContextInsideHunk(t *testing.T) {
	hunks := []diffparse.Hunk{
		{
			OldStart: 5, OldCount: 3, NewStart: 5, NewCount: 5,
			Lines: []diffparse.LineTag{diffparse.Context, diffparse.Add, diffparse.Add, diffparse.Context, diffparse.Context},
		},
	}
	// old line 6 is the second line of the hunk (first Context is old line 5).
	m := MapLine(6, hunks)
	assert.Equal(t, Mapping{NewLine: 8, WasDeleted: false}, m)
}

func TestMapLineDeletedFallsForwardToNextSurviving(t *testing.T) {
	hunks := []diffparse.Hunk{
		{
			OldStart: 5, OldCount: 3, NewStart: 5, NewCount: 2,
			Lines: []diffparse.LineTag{diffparse.Context, diffparse.Delete, diffparse.Delete, diffparse.Context},
		},
	}
	// old line 6 is the first deleted line.
	m := MapLine(6, hunks)
	assert.True(t, m.WasDeleted)
	assert.Equal(t, 6, m.NewLine)
}

func TestMapLineDeletedFallsBackWhenNoSurvivorFollows(t *testing.T) {
	hunks := []diffparse.Hunk{
		{
			OldStart: 5, OldCount: 2, NewStart: 5, NewCount: 0,
			Lines: []diffparse.LineTag{diffparse.Delete, diffparse.Delete},
		},
	}
	m := MapLine(6, hunks)
	assert.True(t, m.WasDeleted)
	assert.Equal(t, 5, m.NewLine)
}

func TestMapLineEntireHunkDeletedAtFileStart(t *testing.T) {
	hunks := []diffparse.Hunk{
		{OldStart: 1, OldCount: 1, NewStart: 0, NewCount: 0, Lines: []diffparse.LineTag{diffparse.Delete}},
	}
	m := MapLine(1, hunks)
	assert.True(t, m.WasDeleted)
	assert.Equal(t, 1, m.NewLine)
}

func TestMapAllThreadsSameCommitMapsVerbatim(t *testing.T) {
	threads := []Thread{
		{ID: "t1", File: "a.go", LineStart: 10, LineEnd: 12, CreatedAtCommit: "abc"},
	}
	results := MapAllThreads(context.Background(), nil, threads, "abc")
	assert.Equal(t, Result{LineStart: 10, LineEnd: 12, IsDeleted: false, IsDisplaced: false}, results["t1"])
}

func TestMapAllThreadsUnsetCommitMapsVerbatim(t *testing.T) {
	threads := []Thread{
		{ID: "t1", File: "a.go", LineStart: 10, LineEnd: 12, CreatedAtCommit: ""},
	}
	results := MapAllThreads(context.Background(), nil, threads, "xyz")
	assert.Equal(t, Result{LineStart: 10, LineEnd: 12, IsDeleted: false, IsDisplaced: false}, results["t1"])
}
