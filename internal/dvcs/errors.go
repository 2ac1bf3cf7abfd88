package dvcs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBookmarkAbsent is returned by ResolveBookmark when the bookmark does
// not exist, distinguishing "not found" from a genuine process failure.
var ErrBookmarkAbsent = errors.New("bookmark does not exist")

// Error wraps a failed invocation of the external DVCS CLI.
type Error struct {
	Command  []string
	ExitCode int
	Stderr   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dvcs: %s: exit %d: %s", strings.Join(e.Command, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// commandFailed builds an *Error from a command and the raw stderr output.
func commandFailed(args []string, exitCode int, stderr []byte) *Error {
	return &Error{Command: append([]string{"jj"}, args...), ExitCode: exitCode, Stderr: string(stderr)}
}
