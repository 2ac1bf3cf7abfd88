package transport_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/domain/session"
	"github.com/rpggio/aipair/internal/dvcs"
	"github.com/rpggio/aipair/internal/store/reviewstore"
	"github.com/rpggio/aipair/internal/store/sessionstore"
	"github.com/rpggio/aipair/internal/transport"
)

// requireJJ skips the test unless a real jj binary is on PATH: these
// tests drive an actual jj repository end to end through the HTTP
// surface rather than faking the DVCS layer.
func requireJJ(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("jj"); err != nil {
		t.Skip("jj binary not found on PATH, skipping DVCS-backed integration test")
	}
}

func runJJ(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("jj", args...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Env, "JJ_USER=aipair-test", "JJ_EMAIL=aipair-test@example.com", "HOME=", "JJ_CONFIG=")
	var out, errOut bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &errOut
	require.NoError(t, cmd.Run(), "jj %v: %s", args, errOut.String())
	return out.String()
}

func newTestTrunk(t *testing.T) (*dvcs.Client, string) {
	t.Helper()
	dir := t.TempDir()
	runJJ(t, dir, "git", "init")
	runJJ(t, dir, "describe", "-m", "initial")
	runJJ(t, dir, "bookmark", "create", "main", "-r", "@")

	trunk, err := dvcs.Discover(dir)
	require.NoError(t, err)
	return trunk, dir
}

func newTestServer(t *testing.T) (*httptest.Server, *dvcs.Client) {
	t.Helper()
	trunk, dir := newTestTrunk(t)

	reviewSvc := review.NewService(reviewstore.New(filepath.Join(dir, ".aipair", "reviews")), nil)
	sessionSvc := session.NewService(
		sessionstore.New(filepath.Join(dir, ".aipair", "sessions")),
		trunk,
		nil,
		filepath.Join(dir, ".aipair", "clones"),
		nil,
	)

	server := transport.NewServer(trunk, reviewSvc, sessionSvc, nil)
	return httptest.NewServer(server.Router()), trunk
}

func TestHTTPChangeReviewCommentLifecycle(t *testing.T) {
	requireJJ(t)
	ts, trunk := newTestServer(t)
	defer ts.Close()

	change, err := trunk.GetChange(t.Context(), "@")
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("%s/changes", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(fmt.Sprintf("%s/changes/%s/review", ts.URL, change.ChangeID), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reviewPayload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reviewPayload))
	require.Contains(t, reviewPayload, "review")

	commentBody, err := json.Marshal(map[string]any{
		"file": "README.md", "line_start": 1, "line_end": 1, "text": "looks good",
	})
	require.NoError(t, err)
	resp, err = http.Post(fmt.Sprintf("%s/changes/%s/comments", ts.URL, change.ChangeID), "application/json", bytes.NewReader(commentBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var commentPayload struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&commentPayload))
	require.NotEmpty(t, commentPayload.Thread.ID)

	resp, err = http.Get(fmt.Sprintf("%s/feedback", ts.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resolveURL := fmt.Sprintf("%s/changes/%s/threads/%s/resolve", ts.URL, change.ChangeID, commentPayload.Thread.ID)
	resp, err = http.Post(resolveURL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPMergeChangeBlockedWithOpenThread(t *testing.T) {
	requireJJ(t)
	ts, trunk := newTestServer(t)
	defer ts.Close()

	runJJ(t, trunk.Root(), "new", "-m", "child change")
	change, err := trunk.GetChange(t.Context(), "@")
	require.NoError(t, err)

	resp, err := http.Post(fmt.Sprintf("%s/changes/%s/review", ts.URL, change.ChangeID), "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	commentBody, err := json.Marshal(map[string]any{
		"file": "README.md", "line_start": 1, "line_end": 1, "text": "blocking comment",
	})
	require.NoError(t, err)
	resp, err = http.Post(fmt.Sprintf("%s/changes/%s/comments", ts.URL, change.ChangeID), "application/json", bytes.NewReader(commentBody))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(fmt.Sprintf("%s/changes/%s/merge", ts.URL, change.ChangeID), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, false, result["success"])
	require.Contains(t, result["blockers"], "review has an open thread")
}
