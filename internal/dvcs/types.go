package dvcs

import "time"

// Change is a stable logical unit of work read from the DVCS. The
// change_id is persistent; commit_id evolves as the change is amended.
type Change struct {
	ChangeID     string    `json:"change_id"`
	CommitID     string    `json:"commit_id"`
	Description  string    `json:"description"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	Empty        bool      `json:"empty"`
	Conflict     bool      `json:"conflict"`
	WorkingCopy  bool      `json:"working_copy"`
	ParentChange []string  `json:"parent_change_ids"`
}

// FileStatus describes how a file changed between two revisions.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileDeleted  FileStatus = "deleted"
)

// FileDiff is a single file's status entry from a diff summary.
type FileDiff struct {
	Path   string     `json:"path"`
	Status FileStatus `json:"status"`
}

// Diff is the result of diffing two revisions, optionally scoped to a file.
type Diff struct {
	From string     `json:"from"`
	To   string     `json:"to"`
	Raw  string     `json:"raw"`
	Files []FileDiff `json:"files"`
}
