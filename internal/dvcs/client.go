// Package dvcs wraps the external jj (Jujutsu) CLI and parses its output
// into typed records. Every operation is a single synchronous process
// invocation; callers that need concurrency run operations on goroutines
// or an executor of their own.
package dvcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// logTemplate asks jj for one JSON object per change plus tab-separated
// trailer fields the json(self) template doesn't carry: emptiness,
// conflict state, working-copy flag, and a comma-joined parent list.
const logTemplate = `json(self) ++ "\t" ++ empty ++ "\t" ++ conflict ++ "\t" ++ current_working_copy ++ "\t" ++ parents.map(|c| c.change_id()).join(",") ++ "\n"`

// jjChange mirrors the fields jj's json(self) template emits.
type jjChange struct {
	ChangeID    string `json:"change_id"`
	CommitID    string `json:"commit_id"`
	Description string `json:"description"`
	Author      struct {
		Email     string `json:"email"`
		Timestamp string `json:"timestamp"`
	} `json:"author"`
}

// Client invokes the jj CLI rooted at RepoPath.
type Client struct {
	RepoPath string
	Logger   *slog.Logger

	// retryPolicy governs retries of process spawn failures (e.g. the
	// jj binary briefly unavailable under load). A nonzero exit code
	// from a successfully spawned process is never retried.
	retryPolicy backoff.BackOff
}

// New creates a Client rooted at repoPath.
func New(repoPath string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	return &Client{RepoPath: repoPath, Logger: logger, retryPolicy: b}
}

// Discover locates the jj repository root containing dir (or the current
// working directory's tree, via `jj root`) and returns a Client for it.
func Discover(dir string) (*Client, error) {
	cmd := exec.Command("jj", "root")
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("dvcs: not a jj repository: %w", err)
	}
	return New(strings.TrimSpace(string(out)), nil), nil
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	var stdout []byte
	op := func() error {
		cmd := exec.CommandContext(ctx, "jj", args...)
		cmd.Dir = c.RepoPath
		var outBuf, errBuf bytes.Buffer
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
		err := cmd.Run()
		if err == nil {
			stdout = outBuf.Bytes()
			return nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return backoff.Permanent(commandFailed(args, exitErr.ExitCode(), errBuf.Bytes()))
		}
		// Spawn failure (binary missing, fork failure): eligible for retry.
		return fmt.Errorf("dvcs: spawn jj %s: %w", strings.Join(args, " "), err)
	}
	if err := backoff.Retry(op, c.retryPolicy); err != nil {
		return nil, err
	}
	return stdout, nil
}

// EnumerateChanges returns changes in the given revset (the ancestors of
// all visible heads when revset is empty), capped at limit (default
// 100). Unparseable lines are skipped with a warning, not treated as
// fatal.
func (c *Client) EnumerateChanges(ctx context.Context, revset string, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 100
	}
	if revset == "" {
		revset = fmt.Sprintf("ancestors(all(), %d) & ::visible_heads()", limit)
	}
	out, err := c.run(ctx, "log", "--no-graph", fmt.Sprintf("--limit=%d", limit), "-r", revset, "-T", logTemplate)
	if err != nil {
		return nil, err
	}
	return c.parseChanges(out), nil
}

func (c *Client) parseChanges(out []byte) []Change {
	var changes []Change
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		ch, ok := c.parseChangeLine(line)
		if !ok {
			continue
		}
		if isRootChangeID(ch.ChangeID) {
			continue
		}
		changes = append(changes, ch)
	}
	return changes
}

func (c *Client) parseChangeLine(line string) (Change, bool) {
	parts := strings.SplitN(line, "\t", 5)
	if len(parts) != 5 {
		c.Logger.Warn("dvcs: skipping unparseable log line", "line", line)
		return Change{}, false
	}
	var jc jjChange
	if err := json.Unmarshal([]byte(parts[0]), &jc); err != nil {
		c.Logger.Warn("dvcs: skipping log line with bad json", "error", err)
		return Change{}, false
	}
	ts, err := time.Parse(time.RFC3339, jc.Author.Timestamp)
	if err != nil {
		ts = time.Time{}
	}
	var parents []string
	if parts[4] != "" {
		parents = strings.Split(parts[4], ",")
	}
	return Change{
		ChangeID:     jc.ChangeID,
		CommitID:     jc.CommitID,
		Description:  strings.TrimRight(jc.Description, "\n"),
		Author:       jc.Author.Email,
		Timestamp:    ts,
		Empty:        parts[1] == "true",
		Conflict:     parts[2] == "true",
		WorkingCopy:  parts[3] == "true",
		ParentChange: parents,
	}, true
}

// isRootChangeID reports whether id is a DVCS sentinel root, conventionally
// all instances of the sentinel character ('z' for jj).
func isRootChangeID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r != 'z' {
			return false
		}
	}
	return true
}

// GetChange fetches a single change by revset token (typically a
// change_id or a revset expression such as "@").
func (c *Client) GetChange(ctx context.Context, revset string) (Change, error) {
	out, err := c.run(ctx, "log", "--no-graph", "-r", revset, "-T", logTemplate)
	if err != nil {
		return Change{}, err
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return Change{}, fmt.Errorf("dvcs: no change matched revset %q", revset)
	}
	ch, ok := c.parseChangeLine(lines[0])
	if !ok {
		return Change{}, fmt.Errorf("dvcs: could not parse change for revset %q", revset)
	}
	return ch, nil
}

// Diff diffs from..to, optionally scoped to file, with the given number
// of context lines (the core passes a very large value to get "all
// context" since jj has no --context=all).
func (c *Client) Diff(ctx context.Context, from, to, file string, context int) (Diff, error) {
	args := []string{"diff", "--from", from, "--to", to, "--git", fmt.Sprintf("--context=%d", context)}
	if file != "" {
		args = append(args, file)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return Diff{}, err
	}

	statArgs := []string{"diff", "--from", from, "--to", to, "--summary"}
	if file != "" {
		statArgs = append(statArgs, file)
	}
	statOut, err := c.run(ctx, statArgs...)
	if err != nil {
		return Diff{}, err
	}

	return Diff{From: from, To: to, Raw: string(out), Files: parseDiffSummary(string(statOut))}, nil
}

func parseDiffSummary(text string) []FileDiff {
	var files []FileDiff
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		var status FileStatus
		switch fields[0] {
		case "A":
			status = FileAdded
		case "M":
			status = FileModified
		case "D":
			status = FileDeleted
		default:
			continue
		}
		files = append(files, FileDiff{Path: fields[1], Status: status})
	}
	return files
}

// ResolveBookmark returns the change_id a bookmark points to, or
// ErrBookmarkAbsent if the bookmark doesn't exist.
func (c *Client) ResolveBookmark(ctx context.Context, name string) (string, error) {
	out, err := c.run(ctx, "log", "--no-graph", "-r", name, "-T", "change_id")
	if err != nil {
		var dvcsErr *Error
		if asDvcsError(err, &dvcsErr) && strings.Contains(dvcsErr.Stderr, "doesn't exist") {
			return "", ErrBookmarkAbsent
		}
		return "", err
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", ErrBookmarkAbsent
	}
	return id, nil
}

func asDvcsError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// SetBookmark moves (or creates) a bookmark at the given revset.
func (c *Client) SetBookmark(ctx context.Context, name, revset string) error {
	_, err := c.run(ctx, "bookmark", "set", name, "-r", revset, "--allow-backwards")
	return err
}

// CreateBookmark creates a new bookmark at the given revset.
func (c *Client) CreateBookmark(ctx context.Context, name, revset string) error {
	_, err := c.run(ctx, "bookmark", "create", name, "-r", revset)
	return err
}

// DeleteBookmark deletes a bookmark.
func (c *Client) DeleteBookmark(ctx context.Context, name string) error {
	_, err := c.run(ctx, "bookmark", "delete", name)
	return err
}

// Clone clones the repo at srcPath into destPath.
func Clone(ctx context.Context, srcPath, destPath string, logger *slog.Logger) (*Client, error) {
	cmd := exec.CommandContext(ctx, "jj", "git", "clone", srcPath, destPath)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, commandFailed([]string{"git", "clone", srcPath, destPath}, exitErr.ExitCode(), errBuf.Bytes())
		}
		return nil, fmt.Errorf("dvcs: spawn jj git clone: %w", err)
	}
	return New(destPath, logger), nil
}

// Fetch fetches from the configured remote.
func (c *Client) Fetch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "git", "fetch")
	return string(out), err
}

// Push pushes a bookmark, optionally allowing its first creation on the remote.
func (c *Client) Push(ctx context.Context, bookmark string, allowNew bool) (string, error) {
	args := []string{"git", "push", "--bookmark", bookmark}
	if allowNew {
		args = append(args, "--allow-new")
	}
	out, err := c.run(ctx, args...)
	return string(out), err
}

// Rebase rebases revset onto destination.
func (c *Client) Rebase(ctx context.Context, revset, destination string) (string, error) {
	out, err := c.run(ctx, "rebase", "-r", revset, "-d", destination)
	return string(out), err
}

// NewChange creates a new change on top of revset with the given description.
func (c *Client) NewChange(ctx context.Context, revset, message string) error {
	_, err := c.run(ctx, "new", revset, "-m", message)
	return err
}

// Describe sets a change's description.
func (c *Client) Describe(ctx context.Context, revset, message string) error {
	_, err := c.run(ctx, "describe", revset, "-m", message)
	return err
}

// ResolveRevset resolves a revset expression to the list of change_ids it contains.
func (c *Client) ResolveRevset(ctx context.Context, revset string) ([]string, error) {
	out, err := c.run(ctx, "log", "--no-graph", "-r", revset, "-T", `change_id ++ "\n"`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// ReadFile reads a file's content at the given revision.
func (c *Client) ReadFile(ctx context.Context, revset, path string) (string, error) {
	out, err := c.run(ctx, "file", "show", "-r", revset, path)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Root returns the repository root.
func (c *Client) Root() string { return c.RepoPath }
