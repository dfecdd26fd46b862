package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffIdenticalText(t *testing.T) {
	result := Diff("a\nb\n", "a\nb\n")
	assert.Empty(t, result.Hunks)
	assert.True(t, result.Patch.Empty())
	assert.Equal(t, "", result.PatchText())
	assert.Equal(t, "No changes", Summary("a\nb\n", "a\nb\n"))
}

func TestDiffSingleLineReplacement(t *testing.T) {
	result := Diff("a\nb\nc\n", "a\nB\nc\n")
	require.Len(t, result.Hunks, 1)

	hunk := result.Hunks[0]
	assert.Equal(t, 1, hunk.OldStart)
	assert.Equal(t, 3, hunk.OldLines)
	assert.Equal(t, 1, hunk.NewStart)
	assert.Equal(t, 3, hunk.NewLines)
	assert.Equal(t, []Line{
		{Type: LineContext, Content: "a", OldLineNumber: 1, NewLineNumber: 1},
		{Type: LineRemove, Content: "b", OldLineNumber: 2},
		{Type: LineAdd, Content: "B", NewLineNumber: 2},
		{Type: LineContext, Content: "c", OldLineNumber: 3, NewLineNumber: 3},
	}, hunk.Lines)

	assert.Equal(t, "@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n", result.PatchText())
}

func TestDiffIsStable(t *testing.T) {
	oldText := strings.Repeat("line\n", 20) + "tail\n"
	newText := "head\n" + strings.Repeat("line\n", 10) + "middle\n" + strings.Repeat("line\n", 10)
	first := Diff(oldText, newText)
	for i := 0; i < 5; i++ {
		again := Diff(oldText, newText)
		assert.Equal(t, first.Hunks, again.Hunks)
		assert.Equal(t, first.PatchText(), again.PatchText())
	}
}

func TestDisplayHunksSplitOnLongContext(t *testing.T) {
	var oldLines, newLines []string
	for i := 0; i < 20; i++ {
		line := "row " + string(rune('a'+i))
		oldLines = append(oldLines, line)
		switch i {
		case 1:
			newLines = append(newLines, "changed first")
		case 18:
			newLines = append(newLines, "changed last")
		default:
			newLines = append(newLines, line)
		}
	}
	result := Diff(strings.Join(oldLines, "\n")+"\n", strings.Join(newLines, "\n")+"\n")
	require.Len(t, result.Hunks, 2)
	assert.Equal(t, 1, result.Hunks[0].OldStart)
	assert.Equal(t, 16, result.Hunks[1].OldStart)
	assert.Equal(t, 5, result.Hunks[1].OldLines)
}

func TestSummaryCounts(t *testing.T) {
	assert.Equal(t, "+3 lines", Summary("a\n", "a\nb\nc\nd\n"))
	assert.Equal(t, "-1 line", Summary("a\nb\n", "a\n"))
	assert.Equal(t, "+1 line, -1 line", Summary("a\nb\n", "a\nc\n"))
	assert.Equal(t, "+1 line", Summary("", "only"))
}

func TestPatchRoundTripApplies(t *testing.T) {
	cases := []struct {
		name     string
		oldText  string
		newText  string
	}{
		{"append", "a\nb\n", "a\nb\nc\n"},
		{"prepend", "a\nb\n", "z\na\nb\n"},
		{"delete all", "a\nb\n", ""},
		{"from empty", "", "# Title\n\nbody\n"},
		{"no trailing newline", "a\nb", "a\nc"},
		{"several hunks", "1\n2\n3\n4\n5\n6\n7\n8\n9\n", "1\nx\n3\n4\n5\n6\n7\ny\n9\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			patch := Diff(tc.oldText, tc.newText).PatchText()
			applied, err := ApplyPatch(tc.oldText, patch)
			require.NoError(t, err)
			assert.True(t, applied.Success)
			assert.Equal(t, tc.newText, applied.Result)
		})
	}
}

func TestPatchMarksMissingTrailingNewline(t *testing.T) {
	patch := Diff("x", "y").PatchText()
	assert.Equal(t, "@@ -1 +1 @@\n-x\n"+noNewlineMarker+"\n+y\n"+noNewlineMarker+"\n", patch)
}

func TestApplyPatchToleratesShiftedText(t *testing.T) {
	patch := Diff("a\nb\nc\nd\n", "a\nb\nC\nd\n").PatchText()
	applied, err := ApplyPatch("intro\nmore\na\nb\nc\nd\n", patch)
	require.NoError(t, err)
	assert.True(t, applied.Success)
	assert.Equal(t, "intro\nmore\na\nb\nC\nd\n", applied.Result)
}

func TestApplyPatchReportsDriftedText(t *testing.T) {
	patch := Diff("a\nb\nc\n", "a\nB\nc\n").PatchText()
	applied, err := ApplyPatch("a\nsomething else\nc\n", patch)
	require.NoError(t, err)
	assert.False(t, applied.Success)
	assert.Equal(t, 1, applied.FailedHunks)
	assert.Equal(t, "a\nsomething else\nc\n", applied.Result)
}

func TestApplyPatchRejectsMalformedRepresentation(t *testing.T) {
	_, err := ApplyPatch("a\n", "not a patch\n")
	require.ErrorIs(t, err, ErrMalformedPatch)

	_, err = ApplyPatch("a\n", "@@ -1,3 +1,1 @@\n a\n")
	require.ErrorIs(t, err, ErrMalformedPatch)
}

func TestParsePatchSplitsInterleavedHunks(t *testing.T) {
	patch, err := ParsePatch("@@ -1,5 +1,5 @@\n-a\n+A\n b\n c\n-d\n+D\n e\n")
	require.NoError(t, err)
	require.Equal(t, 2, patch.Len())
	assert.Equal(t, "A\nb\nc\nD\ne\n", patch.Apply("a\nb\nc\nd\ne\n").Result)
}
