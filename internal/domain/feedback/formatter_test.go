package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNewFileRangeWithCount(t *testing.T) {
	start, count, ok := parseNewFileRange("@@ -5,3 +8,6 @@ func main() {")
	assert.True(t, ok)
	assert.Equal(t, 8, start)
	assert.Equal(t, 6, count)
}

func TestParseNewFileRangeNoCountDefaultsToOne(t *testing.T) {
	start, count, ok := parseNewFileRange("@@ -1 +1 @@")
	assert.True(t, ok)
	assert.Equal(t, 1, start)
	assert.Equal(t, 1, count)
}

func TestParseNewFileRangeMalformed(t *testing.T) {
	_, _, ok := parseNewFileRange("@@ garbage @@")
	assert.False(t, ok)
}

func TestExtractNearbyHunksWithinWindow(t *testing.T) {
	diff := `diff --git a/f.go b/f.go
index 111..222 100644
--- a/f.go
+++ b/f.go
@@ -1,5 +1,5 @@
 line1
 line2
-old3
+new3
 line4
 line5
`
	out := extractNearbyHunks(diff, 3, 3, 1)
	assert.Contains(t, out, "-old3")
	assert.Contains(t, out, "+new3")
	assert.Contains(t, out, " line2")
	assert.Contains(t, out, " line4")
	assert.NotContains(t, out, "diff --git")
}

func TestExtractNearbyHunksEmptyWhenOutsideWindow(t *testing.T) {
	diff := `diff --git a/f.go b/f.go
@@ -1,3 +1,3 @@
 line1
 line2
 line3
`
	out := extractNearbyHunks(diff, 100, 100, 2)
	assert.Empty(t, out)
}

func TestExtractNearbyHunksRetainsAdjacentDeletion(t *testing.T) {
	diff := `diff --git a/f.go b/f.go
@@ -1,3 +1,2 @@
 keep1
-removed
 keep2
`
	out := extractNearbyHunks(diff, 1, 1, 0)
	assert.Contains(t, out, "keep1")
	assert.Contains(t, out, "-removed")
}
