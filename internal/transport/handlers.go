package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/rpggio/aipair/internal/domain/feedback"
	"github.com/rpggio/aipair/internal/domain/mergegate"
	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/domain/session"
	"github.com/rpggio/aipair/internal/dvcs"
	"github.com/rpggio/aipair/internal/linemap"
)

type changeSummary struct {
	ChangeID          string   `json:"change_id"`
	Description       string   `json:"description"`
	ParentChangeIDs   []string `json:"parent_change_ids"`
	AtTrunk           bool     `json:"at_trunk"`
	OpenThreadCount   int      `json:"open_thread_count"`
	RevisionCount     int      `json:"revision_count"`
	HasPendingChanges bool     `json:"has_pending_changes"`
	SessionTag        string   `json:"session_tag,omitempty"`
}

type sessionSummary struct {
	Name        string `json:"name"`
	Bookmark    string `json:"bookmark"`
	PushedClean bool   `json:"pushed_clean"`
}

// handleFeedback implements GET /feedback: a Markdown report of every
// open thread across all reviews, mapped to current line positions.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.reviews.ListWithOpenThreads(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	report := feedback.Format(r.Context(), s.trunk, reviews)
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(report))
}

// handleListChanges implements GET /changes.
func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	changes, err := s.trunk.EnumerateChanges(ctx, "", 100)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	trunkChangeID, _ := s.trunk.ResolveBookmark(ctx, "main")

	sessions, err := s.sessions.List(ctx)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	sessionByChange := make(map[string]string)
	for _, sess := range sessions {
		changeID, err := s.trunk.ResolveBookmark(ctx, sess.Bookmark)
		if err == nil {
			sessionByChange[changeID] = sess.Name
		}
	}

	summaries := make([]changeSummary, 0, len(changes))
	for _, ch := range changes {
		rev, err := s.reviews.Get(ctx, ch.ChangeID)
		openThreads, revisionCount, pending := 0, 0, true
		if err == nil {
			openThreads = len(rev.OpenThreads())
			revisionCount = len(rev.Revisions)
			if last := rev.LastRevision(); last != nil {
				pending = last.CommitID != ch.CommitID
			}
		}
		summaries = append(summaries, changeSummary{
			ChangeID:          ch.ChangeID,
			Description:       ch.Description,
			ParentChangeIDs:   ch.ParentChange,
			AtTrunk:           ch.ChangeID == trunkChangeID,
			OpenThreadCount:   openThreads,
			RevisionCount:     revisionCount,
			HasPendingChanges: pending,
			SessionTag:        sessionByChange[ch.ChangeID],
		})
	}

	sessionSummaries := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		pushedClean, err := s.sessions.PushedClean(ctx, sess)
		if err != nil {
			s.logger.Warn("computing pushed_clean failed", "session", sess.Name, "error", err)
		}
		sessionSummaries = append(sessionSummaries, sessionSummary{
			Name:        sess.Name,
			Bookmark:    sess.Bookmark,
			PushedClean: pushedClean,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"changes":  summaries,
		"sessions": sessionSummaries,
	})
}

// handleChangeDiff implements GET /changes/{id}/diff?commit=&base=&session=.
func (s *Server) handleChangeDiff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	changeID := mux.Vars(r)["id"]

	base := r.URL.Query().Get("base")
	if base == "" {
		base = changeID + "-"
	}
	to := r.URL.Query().Get("commit")
	if to == "" {
		to = changeID
	}

	diff, err := s.trunk.Diff(ctx, base, to, "", 10000)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// handleGetOrCreateReview implements GET|POST /changes/{id}/review.
func (s *Server) handleGetOrCreateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	changeID := mux.Vars(r)["id"]

	change, err := s.trunk.GetChange(ctx, changeID)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	rev, err := s.reviews.GetOrCreate(ctx, changeID, "main", change.CommitID)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	mapped := linemap.MapAllThreads(ctx, s.trunk, toMappableThreads(rev.Threads), change.CommitID)
	for i := range rev.Threads {
		t := &rev.Threads[i]
		if pos, ok := mapped[t.ID]; ok {
			t.DisplayLineStart = pos.LineStart
			t.DisplayLineEnd = pos.LineEnd
			t.IsDeleted = pos.IsDeleted
			t.IsDisplaced = pos.LineStart != t.LineStart || pos.LineEnd != t.LineEnd
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"review":    rev,
		"revisions": rev.WithPendingRevision(change.CommitID, change.Timestamp),
	})
}

func toMappableThreads(threads []review.Thread) []linemap.Thread {
	out := make([]linemap.Thread, len(threads))
	for i, t := range threads {
		out[i] = linemap.Thread{ID: t.ID, File: t.File, LineStart: t.LineStart, LineEnd: t.LineEnd, CreatedAtCommit: t.CreatedAtCommit}
	}
	return out
}

type commentRequest struct {
	File      string `json:"file"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Text      string `json:"text"`
}

// handleAddComment implements POST /changes/{id}/comments.
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	changeID := mux.Vars(r)["id"]

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "malformed request body")
		return
	}

	change, err := s.trunk.GetChange(ctx, changeID)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	rev, thread, err := s.reviews.AddComment(ctx, changeID, change.CommitID, req.File, req.LineStart, req.LineEnd, review.AuthorUser, req.Text)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": rev, "thread": thread})
}

type threadTextRequest struct {
	Text string `json:"text"`
}

// handleReplyThread implements POST /changes/{id}/threads/{tid}/reply.
func (s *Server) handleReplyThread(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req threadTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "malformed request body")
		return
	}
	rev, thread, err := s.reviews.ReplyToThread(r.Context(), vars["id"], vars["tid"], review.AuthorUser, req.Text)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": rev, "thread": thread})
}

// handleResolveThread implements POST /changes/{id}/threads/{tid}/resolve.
func (s *Server) handleResolveThread(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rev, thread, err := s.reviews.ResolveThread(r.Context(), vars["id"], vars["tid"])
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": rev, "thread": thread})
}

// handleReopenThread implements POST /changes/{id}/threads/{tid}/reopen.
func (s *Server) handleReopenThread(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rev, thread, err := s.reviews.ReopenThread(r.Context(), vars["id"], vars["tid"])
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": rev, "thread": thread})
}

type mergeRequest struct {
	Force bool `json:"force"`
}

// handleMergeChange implements POST /changes/{id}/merge.
func (s *Server) handleMergeChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	changeID := mux.Vars(r)["id"]

	var req mergeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	change, err := s.trunk.GetChange(ctx, changeID)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	trunkChangeID, _ := s.trunk.ResolveBookmark(ctx, "main")

	rev, err := s.reviews.Get(ctx, changeID)
	if err != nil && !errors.Is(err, review.ErrReviewNotFound) {
		handleDomainError(w, err)
		return
	}

	result := mergegate.CheckChange(change, change.ChangeID == trunkChangeID, rev, req.Force)
	if result.Allowed {
		if err := s.trunk.SetBookmark(ctx, "main", change.ChangeID); err != nil {
			handleDomainError(w, err)
			return
		}
	}
	writeMergeResult(w, changeID, result)
}

// handleSessionChanges implements GET /sessions/{name}/changes?version=live|latest|<index>.
func (s *Server) handleSessionChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	sess, err := s.sessions.Get(ctx, name)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	revset, err := sessionChangesRevset(ctx, s.trunk, sess, r.URL.Query().Get("version"))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	changes, err := s.trunk.EnumerateChanges(ctx, revset, 100)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

// sessionChangesRevset resolves the ?version= selector to the revset of
// changes unique to the session: "live" is the bookmark's current tip,
// "latest" is the most recently pushed tip, and a bare integer indexes
// into the session's push history (0 is the first push).
func sessionChangesRevset(ctx context.Context, trunk *dvcs.Client, sess *session.Session, version string) (string, error) {
	var tip string
	switch version {
	case "", "live":
		resolved, err := trunk.ResolveBookmark(ctx, sess.Bookmark)
		if err != nil {
			return "", fmt.Errorf("resolving live tip: %w", err)
		}
		tip = resolved
	case "latest":
		if len(sess.Pushes) == 0 {
			return "", fmt.Errorf("session %s has no pushes yet", sess.Name)
		}
		tip = sess.Pushes[len(sess.Pushes)-1].ChangeID
	default:
		idx, err := strconv.Atoi(version)
		if err != nil || idx < 0 || idx >= len(sess.Pushes) {
			return "", fmt.Errorf("invalid session version %q", version)
		}
		tip = sess.Pushes[idx].ChangeID
	}

	baseChangeID, err := trunk.ResolveBookmark(ctx, sess.BaseBookmarkOrDefault())
	if err != nil {
		return "", fmt.Errorf("resolving base bookmark %s: %w", sess.BaseBookmarkOrDefault(), err)
	}
	return fmt.Sprintf("%s..%s", baseChangeID, tip), nil
}

// handleMergeSession implements POST /sessions/{name}/merge.
func (s *Server) handleMergeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["name"]

	var req mergeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	sess, err := s.sessions.Get(ctx, name)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	bookmarkAbsent := false
	var tip string
	tip, err = s.trunk.ResolveBookmark(ctx, sess.Bookmark)
	if err != nil {
		bookmarkAbsent = true
	}

	var changes []dvcs.Change
	reviews := make(map[string]*review.Review)
	if !bookmarkAbsent {
		changes, err = s.trunk.EnumerateChanges(ctx, sess.BaseBookmarkOrDefault()+".."+tip, 100)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		for _, ch := range changes {
			if rev, err := s.reviews.Get(ctx, ch.ChangeID); err == nil {
				reviews[ch.ChangeID] = rev
			}
		}
	}

	alreadyMerged := sess.Status == session.StatusMerged
	result, _ := mergegate.CheckSession(alreadyMerged, bookmarkAbsent, changes, reviews, req.Force)
	if result.Allowed {
		if _, err := s.sessions.Merge(ctx, name); err != nil {
			handleDomainError(w, err)
			return
		}
	}
	writeMergeResult(w, name, result)
}
