// Package linemap maps a thread's recorded (file, line_start, line_end)
// from the commit at which it was authored to its current display
// position, by interpreting unified diff hunks between those commits.
package linemap

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rpggio/aipair/internal/diffparse"
	"github.com/rpggio/aipair/internal/dvcs"
)

// diffGroup deduplicates concurrent requests that would otherwise issue
// the same `jj diff` for the same (file, from, to): two requests mapping
// the same thread group at nearly the same time share one subprocess.
var diffGroup singleflight.Group

// Mapping is the result of mapping a single old-file line through a
// sequence of hunks. The mapper never fails to produce a line: WasDeleted
// carries the semantic that the anchored line no longer exists.
type Mapping struct {
	NewLine    int
	WasDeleted bool
}

// MapLine maps an old-file line number through hunks (produced by diffing
// from the thread's created_at_commit to the current commit).
func MapLine(oldLine int, hunks []diffparse.Hunk) Mapping {
	offset := 0

	for _, h := range hunks {
		oldEnd := h.OldStart + h.OldCount

		if oldLine < h.OldStart {
			return Mapping{NewLine: oldLine + offset, WasDeleted: false}
		}

		if oldLine < oldEnd {
			oldPos, newPos := h.OldStart, h.NewStart
			lastSurviving := -1
			for _, tag := range h.Lines {
				switch tag {
				case diffparse.Context:
					if oldPos == oldLine {
						return Mapping{NewLine: newPos, WasDeleted: false}
					}
					lastSurviving = newPos
					oldPos++
					newPos++
				case diffparse.Delete:
					if oldPos == oldLine {
						return Mapping{NewLine: findNearestSurviving(h, oldLine), WasDeleted: true}
					}
					oldPos++
				case diffparse.Add:
					newPos++
				}
			}
			if lastSurviving < 0 {
				lastSurviving = h.NewStart
			}
			return Mapping{NewLine: lastSurviving, WasDeleted: true}
		}

		offset += h.NewCount - h.OldCount
	}

	return Mapping{NewLine: oldLine + offset, WasDeleted: false}
}

// findNearestSurviving anchors a deleted old-file line to the nearest
// surviving new-file line: the first surviving Context/Add line after the
// deletion, falling back to the last one before it, falling back to
// max(new_start, 1).
func findNearestSurviving(h diffparse.Hunk, deletedOldLine int) int {
	oldPos, newPos := h.OldStart, h.NewStart
	lastBefore := -1
	reachedTarget := false

	for _, tag := range h.Lines {
		switch tag {
		case diffparse.Context:
			if reachedTarget {
				return newPos
			}
			lastBefore = newPos
			oldPos++
			newPos++
		case diffparse.Delete:
			if oldPos == deletedOldLine {
				reachedTarget = true
			}
			oldPos++
		case diffparse.Add:
			if reachedTarget {
				return newPos
			}
			newPos++
		}
	}

	if lastBefore >= 0 {
		return lastBefore
	}
	if h.NewStart > 1 {
		return h.NewStart
	}
	return 1
}

// Thread is the minimal view of a review thread the mapper needs.
type Thread struct {
	ID              string
	File            string
	LineStart       int
	LineEnd         int
	CreatedAtCommit string // empty for legacy threads with no recorded commit
}

// Result is a thread's mapped position at a target commit.
type Result struct {
	LineStart   int
	LineEnd     int
	IsDeleted   bool
	IsDisplaced bool
}

type groupKey struct {
	file   string
	commit string
}

// MapAllThreads groups threads by (file, created_at_commit), issues at
// most one diff per group (from the group's commit to targetCommit,
// scoped to the file), and maps every thread in the group. Threads whose
// created_at_commit equals targetCommit (or is unset) map to their stored
// position verbatim.
func MapAllThreads(ctx context.Context, client *dvcs.Client, threads []Thread, targetCommit string) map[string]Result {
	results := make(map[string]Result, len(threads))
	groups := make(map[groupKey][]Thread)

	for _, t := range threads {
		if t.CreatedAtCommit == "" || t.CreatedAtCommit == targetCommit {
			results[t.ID] = Result{LineStart: t.LineStart, LineEnd: t.LineEnd, IsDeleted: false, IsDisplaced: false}
			continue
		}
		key := groupKey{file: t.File, commit: t.CreatedAtCommit}
		groups[key] = append(groups[key], t)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for key, group := range groups {
		key, group := key, group
		g.Go(func() error {
			mapped := mapGroup(gctx, client, key, group, targetCommit)
			mu.Lock()
			for id, r := range mapped {
				results[id] = r
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // mapGroup never returns an error; failures are encoded per-thread.

	return results
}

func mapGroup(ctx context.Context, client *dvcs.Client, key groupKey, group []Thread, targetCommit string) map[string]Result {
	results := make(map[string]Result, len(group))

	sfKey := fmt.Sprintf("%s|%s|%s", key.file, key.commit, targetCommit)
	v, err, _ := diffGroup.Do(sfKey, func() (any, error) {
		return client.Diff(ctx, key.commit, targetCommit, key.file, 3)
	})
	if err != nil {
		client.Logger.Warn("linemap: diff failed, marking threads deleted", "file", key.file, "from", key.commit, "to", targetCommit, "error", err)
		for _, t := range group {
			results[t.ID] = Result{LineStart: t.LineStart, LineEnd: t.LineEnd, IsDeleted: true, IsDisplaced: false}
		}
		return results
	}
	diff := v.(dvcs.Diff)

	if strings.TrimSpace(diff.Raw) == "" {
		for _, t := range group {
			results[t.ID] = Result{LineStart: t.LineStart, LineEnd: t.LineEnd, IsDeleted: false, IsDisplaced: false}
		}
		return results
	}

	hunks := diffparse.ParseFileHunks(diff.Raw, key.file)
	if len(hunks) == 0 && strings.Contains(diff.Raw, "deleted file") {
		for _, t := range group {
			results[t.ID] = Result{LineStart: t.LineStart, LineEnd: t.LineEnd, IsDeleted: true, IsDisplaced: false}
		}
		return results
	}

	for _, t := range group {
		startMap := MapLine(t.LineStart, hunks)
		endMap := MapLine(t.LineEnd, hunks)
		isDeleted := startMap.WasDeleted || endMap.WasDeleted
		isDisplaced := startMap.NewLine != t.LineStart || endMap.NewLine != t.LineEnd
		results[t.ID] = Result{
			LineStart:   startMap.NewLine,
			LineEnd:     endMap.NewLine,
			IsDeleted:   isDeleted,
			IsDisplaced: isDisplaced,
		}
	}
	return results
}
