// Package mergegate implements the precondition checks that gate
// promoting a change (or a whole session) to the trunk bookmark.
package mergegate

import (
	"fmt"

	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/dvcs"
)

// Result is the outcome of a gate evaluation.
type Result struct {
	Allowed bool `json:"allowed"`
	// Blockers lists every precondition that failed and was not
	// bypassed by force; empty when Allowed is true.
	Blockers []string `json:"blockers,omitempty"`
	// Bypassed lists the specific checks force skipped, kept distinct
	// from a single "force" bit so a future split of the flag (skip
	// open threads vs. skip pending revision) is additive.
	Bypassed []string `json:"bypassed,omitempty"`
}

// CheckChange evaluates the single-change merge preconditions. change is
// the candidate; atTrunk reports whether it is already the trunk
// bookmark's target (hard failure, never forceable); rev is its review
// document, or nil if none exists yet (treated as no open threads and a
// pending revision).
func CheckChange(change dvcs.Change, atTrunk bool, rev *review.Review, force bool) Result {
	if atTrunk {
		return Result{Allowed: false, Blockers: []string{"change is already at the trunk bookmark"}}
	}

	var blockers, bypassed []string

	if change.Description == "" {
		blocker := "change has an empty description"
		if force {
			bypassed = append(bypassed, blocker)
		} else {
			blockers = append(blockers, blocker)
		}
	}

	if isPending(rev, change.CommitID) {
		blocker := "a revision is pending (working commit has not been recorded)"
		if force {
			bypassed = append(bypassed, blocker)
		} else {
			blockers = append(blockers, blocker)
		}
	}

	if rev != nil && rev.HasOpenThreads() {
		blocker := "review has an open thread"
		if force {
			bypassed = append(bypassed, blocker)
		} else {
			blockers = append(blockers, blocker)
		}
	}

	return Result{Allowed: len(blockers) == 0, Blockers: blockers, Bypassed: bypassed}
}

// isPending reports whether the change's review has no recorded
// revision matching currentCommitID — the literal spec semantics:
// "last.revisions.commit_id == current_commit_id; absence of any
// recorded revision counts as pending".
func isPending(rev *review.Review, currentCommitID string) bool {
	if rev == nil {
		return true
	}
	last := rev.LastRevision()
	if last == nil {
		return true
	}
	return last.CommitID != currentCommitID
}

// ChangeCheck is one change's evaluation within a session merge.
type ChangeCheck struct {
	ChangeID string
	Result   Result
}

// CheckSession evaluates the session merge preconditions over every
// change in the session stack. bookmarkAbsent and alreadyMerged are
// never forceable per spec; all per-change open-thread/pending-revision
// checks are forceable identically to CheckChange.
func CheckSession(alreadyMerged, bookmarkAbsent bool, changes []dvcs.Change, reviews map[string]*review.Review, force bool) (Result, []ChangeCheck) {
	if alreadyMerged {
		return Result{Allowed: false, Blockers: []string{"session is already merged"}}, nil
	}
	if bookmarkAbsent {
		return Result{Allowed: false, Blockers: []string{"session bookmark not found"}}, nil
	}

	checks := make([]ChangeCheck, 0, len(changes))
	allowed := true
	for _, ch := range changes {
		r := CheckChange(ch, false, reviews[ch.ChangeID], force)
		checks = append(checks, ChangeCheck{ChangeID: ch.ChangeID, Result: r})
		if !r.Allowed {
			allowed = false
		}
	}
	return Result{Allowed: allowed}, checks
}

// Explain renders a Result as a human-readable confirmation or refusal
// message, including an 8-character change_id prefix as spec.md §4.6
// requires on success.
func Explain(changeID string, r Result) string {
	prefix := changeID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if r.Allowed {
		return fmt.Sprintf("merged %s to trunk", prefix)
	}
	return fmt.Sprintf("cannot merge %s: %s", prefix, joinBlockers(r.Blockers))
}

func joinBlockers(blockers []string) string {
	switch len(blockers) {
	case 0:
		return "blocked"
	case 1:
		return blockers[0]
	default:
		out := blockers[0]
		for _, b := range blockers[1:] {
			out += "; " + b
		}
		return out
	}
}
