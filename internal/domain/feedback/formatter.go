// Package feedback renders open review threads into a Markdown report,
// mapping each thread's recorded position to its current display
// position and attaching nearby diff context.
package feedback

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rpggio/aipair/internal/domain/review"
	"github.com/rpggio/aipair/internal/dvcs"
	"github.com/rpggio/aipair/internal/linemap"
)

const nearbyPadding = 5

// Format renders a Markdown report for reviews (only those with open
// threads are expected, but reviews with none are silently skipped).
// client is used to resolve each review's current commit, issue diffs
// for nearby-context extraction, and read raw file content as a fallback.
func Format(ctx context.Context, client *dvcs.Client, reviews []*review.Review) string {
	var out strings.Builder

	for _, rev := range reviews {
		open := rev.OpenThreads()
		if len(open) == 0 {
			continue
		}

		currentCommit := "unknown"
		if change, err := client.GetChange(ctx, rev.ChangeID); err == nil {
			currentCommit = change.CommitID
		}

		mapped := linemap.MapAllThreads(ctx, client, toMappableThreads(rev.Threads), currentCommit)
		applyMapping(rev.Threads, mapped)

		open = rev.OpenThreads()
		if len(open) == 0 {
			continue
		}

		fmt.Fprintf(&out, "## Change: %s\n\n", truncate(rev.ChangeID, 8))

		fileDiffs := make(map[string]string)
		baseRev := rev.ChangeID + "-"

		for _, thread := range open {
			writeThread(ctx, &out, client, thread, rev.ChangeID, baseRev, currentCommit, fileDiffs)
		}
	}

	return out.String()
}

func toMappableThreads(threads []review.Thread) []linemap.Thread {
	out := make([]linemap.Thread, len(threads))
	for i, t := range threads {
		out[i] = linemap.Thread{ID: t.ID, File: t.File, LineStart: t.LineStart, LineEnd: t.LineEnd, CreatedAtCommit: t.CreatedAtCommit}
	}
	return out
}

func applyMapping(threads []review.Thread, mapped map[string]linemap.Result) {
	for i := range threads {
		t := &threads[i]
		pos, ok := mapped[t.ID]
		if !ok {
			continue
		}
		t.DisplayLineStart = pos.LineStart
		t.DisplayLineEnd = pos.LineEnd
		t.IsDeleted = pos.IsDeleted
		t.IsDisplaced = pos.LineStart != t.LineStart || pos.LineEnd != t.LineEnd
	}
}

func writeThread(ctx context.Context, out *strings.Builder, client *dvcs.Client, thread review.Thread, changeID, baseRev, currentCommit string, fileDiffs map[string]string) {
	displayStart, displayEnd := thread.DisplayLineStart, thread.DisplayLineEnd
	if displayStart == 0 {
		displayStart = thread.LineStart
	}
	if displayEnd == 0 {
		displayEnd = thread.LineEnd
	}

	fmt.Fprintf(out, "### Thread %s — %s\n", truncate(thread.ID, 8), thread.File)

	origCommit := thread.CreatedAtCommit
	if origCommit == "" {
		origCommit = "unknown"
	}
	fmt.Fprintf(out, "**Originally:** lines %d-%d in %s\n", thread.LineStart, thread.LineEnd, truncate(origCommit, 12))

	if thread.IsDeleted {
		fmt.Fprintf(out, "**Now:** lines deleted (nearest: %d-%d in %s)\n\n", displayStart, displayEnd, truncate(currentCommit, 12))
	} else {
		fmt.Fprintf(out, "**Now:** lines %d-%d in %s\n\n", displayStart, displayEnd, truncate(currentCommit, 12))
	}

	if !thread.IsDeleted {
		diffText, ok := fileDiffs[thread.File]
		if !ok {
			if diff, err := client.Diff(ctx, baseRev, changeID, thread.File, 10); err == nil {
				diffText = diff.Raw
			}
			fileDiffs[thread.File] = diffText
		}

		nearby := extractNearbyHunks(diffText, displayStart, displayEnd, nearbyPadding)
		if nearby != "" {
			out.WriteString("```diff\n")
			out.WriteString(nearby)
			out.WriteString("```\n\n")
		} else if content, err := client.ReadFile(ctx, changeID, thread.File); err == nil {
			writeRawFallback(out, content, displayStart, displayEnd)
		}
	}

	out.WriteString("**Comments:**\n")
	for _, c := range thread.Comments {
		author := "User"
		if c.Author == review.AuthorAgent {
			author = "Agent"
		}
		fmt.Fprintf(out, "- **%s**: %s\n", author, c.Text)
	}
	out.WriteString("\n")
}

func writeRawFallback(out *strings.Builder, content string, displayStart, displayEnd int) {
	lines := strings.Split(content, "\n")
	start := displayStart - 3
	if start < 1 {
		start = 1
	}
	end := displayEnd + 3
	if end > len(lines) {
		end = len(lines)
	}

	out.WriteString("```\n")
	for i, line := range lines {
		lineNum := i + 1
		if lineNum < start || lineNum > end {
			continue
		}
		marker := " "
		if lineNum >= displayStart && lineNum <= displayEnd {
			marker = ">"
		}
		fmt.Fprintf(out, "%s %4d | %s\n", marker, lineNum, line)
	}
	out.WriteString("```\n\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// diffLine is one line of a unified diff tagged with its new-file
// position (absent for pure deletions, which occupy no new-file line).
type diffLine struct {
	text    string
	newLine int
	hasLine bool
}

// extractNearbyHunks scans diffText and returns only the lines whose
// new-file position falls in [lineStart-padding, lineEnd+padding],
// retaining deleted lines adjacent to a retained line and any @@ header
// whose hunk range intersects the window.
func extractNearbyHunks(diffText string, lineStart, lineEnd, padding int) string {
	targetStart := lineStart - padding
	if targetStart < 0 {
		targetStart = 0
	}
	targetEnd := lineEnd + padding

	var lines []diffLine
	newPos := 0

	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git"), strings.HasPrefix(line, "index "),
			strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			continue
		case strings.HasPrefix(line, "@@"):
			if start, _, ok := parseNewFileRange(line); ok {
				newPos = start
			}
			lines = append(lines, diffLine{text: line, newLine: newPos, hasLine: true})
		case strings.HasPrefix(line, "-"):
			lines = append(lines, diffLine{text: line})
		default:
			lines = append(lines, diffLine{text: line, newLine: newPos, hasLine: true})
			newPos++
		}
	}

	var out strings.Builder
	lastIncluded := false

	for _, dl := range lines {
		if strings.HasPrefix(dl.text, "@@") {
			if start, count, ok := parseNewFileRange(dl.text); ok {
				hunkEnd := start + count
				if start <= targetEnd && hunkEnd >= targetStart {
					out.WriteString(dl.text)
					out.WriteByte('\n')
				}
			}
			lastIncluded = false
			continue
		}

		include := lastIncluded
		if dl.hasLine {
			include = dl.newLine >= targetStart && dl.newLine <= targetEnd
		}

		if include {
			out.WriteString(dl.text)
			out.WriteByte('\n')
			lastIncluded = true
		} else {
			lastIncluded = false
		}
	}

	return out.String()
}

// parseNewFileRange parses the "+new_start[,count]" field of a
// "@@ -old... +new... @@" hunk header.
func parseNewFileRange(header string) (start, count int, ok bool) {
	fields := strings.Fields(header)
	if len(fields) < 3 {
		return 0, 0, false
	}
	newPart := strings.TrimPrefix(fields[2], "+")
	if idx := strings.IndexByte(newPart, ','); idx >= 0 {
		s, err1 := strconv.Atoi(newPart[:idx])
		c, err2 := strconv.Atoi(newPart[idx+1:])
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return s, c, true
	}
	s, err := strconv.Atoi(newPart)
	if err != nil {
		return 0, 0, false
	}
	return s, 1, true
}
