package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusMerged Status = "merged"
)

// ChangePair identifies a change by both its change_id and the commit_id
// it resolved to at the time it was captured, per the change-id/commit-id
// duality spec.md §9 describes.
type ChangePair struct {
	ChangeID string `json:"change_id"`
	CommitID string `json:"commit_id"`
}

// PushEvent records one push of a session's bookmark to the trunk remote.
// Changes is the full (change_id, commit_id) stack reachable from the
// pushed tip and not from the base, captured at push time so a later
// pushed_clean comparison doesn't need to re-derive it from history.
type PushEvent struct {
	Summary   string       `json:"summary"`
	ChangeID  string       `json:"change_id"`
	CommitID  string       `json:"commit_id"`
	Changes   []ChangePair `json:"changes"`
	Timestamp time.Time    `json:"timestamp"`
}

// Session is a durable record of an isolated clone workspace tracking a
// change under review. BaseBookmark supports stacking: a session created
// from another still-active session's bookmark (rather than trunk)
// records that bookmark here so merge can re-parent dependent sessions.
// Changes caches the change_ids reachable from the session tip and not
// from the base, recomputed on every push.
type Session struct {
	Name         string      `json:"name"`
	ClonePath    string      `json:"clone_path"`
	Bookmark     string      `json:"bookmark"`
	BaseChangeID string      `json:"base_change_id"`
	BaseBookmark string      `json:"base_bookmark,omitempty"`
	Status       Status      `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	Pushes       []PushEvent `json:"pushes"`
	Changes      []string    `json:"changes,omitempty"`
}

// IsStacked reports whether the session was created on top of another
// session's bookmark rather than trunk.
func (s *Session) IsStacked() bool {
	return s.BaseBookmark != ""
}

// BaseBookmarkOrDefault returns BaseBookmark, or "main" for a session
// that was created directly from trunk.
func (s *Session) BaseBookmarkOrDefault() string {
	if s.BaseBookmark == "" {
		return "main"
	}
	return s.BaseBookmark
}

// CloneMarker is written inside a session's clone workspace so commands
// run from within it can locate the owning main repo and session.
type CloneMarker struct {
	SessionName string `json:"session_name"`
	MainRepo    string `json:"main_repo"`
	Bookmark    string `json:"bookmark"`
}
