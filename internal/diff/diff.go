// Package diff computes line diffs between document revisions, renders them
// as display hunks and unified patches, and merges divergent revisions.
//
// Everything here is pure and deterministic: the same inputs always yield
// the same hunks, patches and merge results.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DisplayContext is the number of unchanged lines shown around each display hunk.
const DisplayContext = 3

type LineType string

const (
	LineContext LineType = "context"
	LineAdd     LineType = "add"
	LineRemove  LineType = "remove"
)

// Line is one row of a display hunk. Line numbers are 1-based and zero when
// the line does not exist on that side.
type Line struct {
	Type          LineType `json:"type"`
	Content       string   `json:"content"`
	OldLineNumber int      `json:"oldLineNumber,omitempty"`
	NewLineNumber int      `json:"newLineNumber,omitempty"`
}

type Hunk struct {
	OldStart int    `json:"oldStart"`
	OldLines int    `json:"oldLines"`
	NewStart int    `json:"newStart"`
	NewLines int    `json:"newLines"`
	Lines    []Line `json:"lines"`
}

// Result pairs the machine-applicable patch with the hunks shown to people.
type Result struct {
	Patch Patch  `json:"-"`
	Hunks []Hunk `json:"hunks"`
}

// PatchText is the unified representation of the patch, accepted by ApplyPatch.
func (r Result) PatchText() string {
	return r.Patch.String()
}

type editOp int

const (
	opEqual editOp = iota
	opDelete
	opInsert
)

type edit struct {
	op   editOp
	line string
}

// Diff compares oldText and newText line by line.
func Diff(oldText, newText string) Result {
	edits := editScript(oldText, newText)
	return Result{
		Patch: makePatch(edits, PatchContext),
		Hunks: displayHunks(edits, DisplayContext),
	}
}

// Summary describes the change between two texts, e.g. "+3 lines, -1 line".
func Summary(oldText, newText string) string {
	var added, removed int
	for _, e := range editScript(oldText, newText) {
		switch e.op {
		case opInsert:
			added++
		case opDelete:
			removed++
		}
	}
	if added == 0 && removed == 0 {
		return "No changes"
	}
	parts := make([]string, 0, 2)
	if added > 0 {
		parts = append(parts, fmt.Sprintf("+%d %s", added, plural(added, "line")))
	}
	if removed > 0 {
		parts = append(parts, fmt.Sprintf("-%d %s", removed, plural(removed, "line")))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// splitLines keeps the terminating newline on every line; only the last line
// may lack one.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func editScript(oldText, newText string) []edit {
	if oldText == newText {
		lines := splitLines(oldText)
		edits := make([]edit, 0, len(lines))
		for _, line := range lines {
			edits = append(edits, edit{op: opEqual, line: line})
		}
		return edits
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	oldRunes, newRunes, lineArray := dmp.DiffLinesToRunes(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(oldRunes, newRunes, false), lineArray)

	var edits []edit
	for _, d := range diffs {
		op := opEqual
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = opDelete
		case diffmatchpatch.DiffInsert:
			op = opInsert
		}
		for _, line := range splitLines(d.Text) {
			edits = append(edits, edit{op: op, line: line})
		}
	}
	return edits
}

func displayHunks(edits []edit, context int) []Hunk {
	rows := make([]Line, 0, len(edits))
	oldNo, newNo := 1, 1
	for _, e := range edits {
		content := strings.TrimSuffix(e.line, "\n")
		switch e.op {
		case opEqual:
			rows = append(rows, Line{Type: LineContext, Content: content, OldLineNumber: oldNo, NewLineNumber: newNo})
			oldNo++
			newNo++
		case opDelete:
			rows = append(rows, Line{Type: LineRemove, Content: content, OldLineNumber: oldNo})
			oldNo++
		case opInsert:
			rows = append(rows, Line{Type: LineAdd, Content: content, NewLineNumber: newNo})
			newNo++
		}
	}

	hunks := []Hunk{}
	i := 0
	for i < len(rows) {
		if rows[i].Type == LineContext {
			i++
			continue
		}
		start := max(0, i-context)
		end := i + 1
		j := i + 1
		for j < len(rows) {
			if rows[j].Type != LineContext {
				end = j + 1
				j++
				continue
			}
			k := j
			for k < len(rows) && rows[k].Type == LineContext {
				k++
			}
			if k == len(rows) || k-j > 2*context {
				break
			}
			j = k
		}
		stop := min(len(rows), end+context)
		hunks = append(hunks, newHunk(rows[start:stop]))
		i = stop
	}
	return hunks
}

func newHunk(rows []Line) Hunk {
	hunk := Hunk{Lines: append([]Line(nil), rows...)}
	for _, row := range rows {
		if row.Type != LineAdd {
			if hunk.OldStart == 0 {
				hunk.OldStart = row.OldLineNumber
			}
			hunk.OldLines++
		}
		if row.Type != LineRemove {
			if hunk.NewStart == 0 {
				hunk.NewStart = row.NewLineNumber
			}
			hunk.NewLines++
		}
	}
	return hunk
}
