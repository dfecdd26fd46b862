package diff

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PatchContext is the number of unchanged lines kept on each side of a patch hunk.
const PatchContext = 2

const noNewlineMarker = `\ No newline at end of file`

var ErrMalformedPatch = errors.New("malformed patch")

// patchHunk is one contiguous change. The context slices hold unchanged
// lines of the old text; oldStart is the 0-based index of the first line of
// before (or of removed when before is empty).
type patchHunk struct {
	oldStart int
	before   []string
	removed  []string
	added    []string
	after    []string
}

func (h patchHunk) oldLen() int {
	return len(h.before) + len(h.removed) + len(h.after)
}

func (h patchHunk) newLen() int {
	return len(h.before) + len(h.added) + len(h.after)
}

// Patch is an ordered set of line hunks turning one text into another.
type Patch struct {
	hunks []patchHunk
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.hunks) == 0
}

// Len is the number of hunks.
func (p Patch) Len() int {
	return len(p.hunks)
}

// MakePatch computes the patch from oldText to newText.
func MakePatch(oldText, newText string) Patch {
	return makePatch(editScript(oldText, newText), PatchContext)
}

func makePatch(edits []edit, context int) Patch {
	var patch Patch
	oldIdx := 0
	var equalRun []string
	i := 0
	for i < len(edits) {
		if edits[i].op == opEqual {
			equalRun = append(equalRun, edits[i].line)
			oldIdx++
			i++
			continue
		}

		hunk := patchHunk{}
		if len(equalRun) > context {
			hunk.before = append(hunk.before, equalRun[len(equalRun)-context:]...)
		} else {
			hunk.before = append(hunk.before, equalRun...)
		}
		hunk.oldStart = oldIdx - len(hunk.before)
		for i < len(edits) && edits[i].op != opEqual {
			if edits[i].op == opDelete {
				hunk.removed = append(hunk.removed, edits[i].line)
				oldIdx++
			} else {
				hunk.added = append(hunk.added, edits[i].line)
			}
			i++
		}
		for j := i; j < len(edits) && edits[j].op == opEqual && len(hunk.after) < context; j++ {
			hunk.after = append(hunk.after, edits[j].line)
		}
		patch.hunks = append(patch.hunks, hunk)
		equalRun = equalRun[:0]
	}
	return patch
}

// String renders the patch as unified diff hunks.
func (p Patch) String() string {
	var b strings.Builder
	delta := 0
	for _, h := range p.hunks {
		newStart := h.oldStart + delta
		fmt.Fprintf(&b, "@@ -%s +%s @@\n", hunkRange(h.oldStart, h.oldLen()), hunkRange(newStart, h.newLen()))
		writePatchLines(&b, ' ', h.before)
		writePatchLines(&b, '-', h.removed)
		writePatchLines(&b, '+', h.added)
		writePatchLines(&b, ' ', h.after)
		delta += len(h.added) - len(h.removed)
	}
	return b.String()
}

func hunkRange(start, length int) string {
	if length == 0 {
		return fmt.Sprintf("%d,0", start)
	}
	if length == 1 {
		return strconv.Itoa(start + 1)
	}
	return fmt.Sprintf("%d,%d", start+1, length)
}

func writePatchLines(b *strings.Builder, prefix byte, lines []string) {
	for _, line := range lines {
		b.WriteByte(prefix)
		b.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			b.WriteString("\n" + noNewlineMarker + "\n")
		}
	}
}

// ParsePatch reads the unified representation produced by Patch.String.
// Hunks that interleave several change runs are split at their inner
// context lines.
func ParsePatch(text string) (Patch, error) {
	var patch Patch
	rows := splitLines(text)
	i := 0
	for i < len(rows) {
		header := strings.TrimSuffix(rows[i], "\n")
		if header == "" {
			i++
			continue
		}
		oldStart, oldLen, err := parseHunkHeader(header)
		if err != nil {
			return Patch{}, err
		}
		i++

		var body []bodyLine
		for i < len(rows) && !strings.HasPrefix(rows[i], "@@") {
			row := rows[i]
			i++
			if strings.HasPrefix(row, `\`) {
				if len(body) == 0 {
					return Patch{}, fmt.Errorf("%w: marker without line", ErrMalformedPatch)
				}
				body[len(body)-1].text = strings.TrimSuffix(body[len(body)-1].text, "\n")
				continue
			}
			if row == "\n" {
				row = " \n"
			}
			kind := row[0]
			if kind != ' ' && kind != '-' && kind != '+' {
				return Patch{}, fmt.Errorf("%w: unexpected line %q", ErrMalformedPatch, strings.TrimSuffix(row, "\n"))
			}
			line := row[1:]
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			body = append(body, bodyLine{kind: kind, text: line})
		}

		hunks, consumed := splitHunkBody(oldStart, body)
		if consumed != oldLen {
			return Patch{}, fmt.Errorf("%w: hunk at line %d covers %d old lines, header says %d", ErrMalformedPatch, oldStart+1, consumed, oldLen)
		}
		patch.hunks = append(patch.hunks, hunks...)
	}
	return patch, nil
}

type bodyLine struct {
	kind byte
	text string
}

func parseHunkHeader(header string) (start, length int, err error) {
	fields := strings.Fields(header)
	if len(fields) < 4 || fields[0] != "@@" || fields[3] != "@@" || !strings.HasPrefix(fields[1], "-") || !strings.HasPrefix(fields[2], "+") {
		return 0, 0, fmt.Errorf("%w: bad hunk header %q", ErrMalformedPatch, header)
	}
	field := strings.TrimPrefix(fields[1], "-")
	length = 1
	if comma := strings.IndexByte(field, ','); comma >= 0 {
		length, err = strconv.Atoi(field[comma+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: bad hunk length %q", ErrMalformedPatch, field)
		}
		field = field[:comma]
	}
	start, err = strconv.Atoi(field)
	if err != nil || start < 0 || length < 0 {
		return 0, 0, fmt.Errorf("%w: bad hunk start %q", ErrMalformedPatch, fields[1])
	}
	if length > 0 {
		start--
	}
	return start, length, nil
}

func splitHunkBody(oldStart int, body []bodyLine) ([]patchHunk, int) {
	var hunks []patchHunk
	var pending []string
	var current *patchHunk
	consumed := 0
	flush := func() {
		if current != nil {
			hunks = append(hunks, *current)
			current = nil
		}
	}
	for _, line := range body {
		switch line.kind {
		case ' ':
			consumed++
			if current != nil {
				current.after = append(current.after, line.text)
			}
			pending = append(pending, line.text)
		default:
			if current != nil && len(current.after) > 0 {
				flush()
			}
			if current == nil {
				current = &patchHunk{
					oldStart: oldStart + consumed - len(pending),
					before:   append([]string(nil), pending...),
				}
			}
			if line.kind == '-' {
				current.removed = append(current.removed, line.text)
				consumed++
			} else {
				current.added = append(current.added, line.text)
			}
			pending = pending[:0]
		}
	}
	flush()
	return hunks, consumed
}
