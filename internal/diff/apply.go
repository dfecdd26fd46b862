package diff

import "strings"

// ApplyResult reports the patched text and whether every hunk applied.
type ApplyResult struct {
	Result      string `json:"result"`
	Success     bool   `json:"success"`
	FailedHunks int    `json:"failedHunks"`
}

// ApplyPatch applies a unified patch representation to text. The error is
// only for a representation that cannot be parsed; hunks that no longer fit
// the text are reported through Success.
func ApplyPatch(text, patch string) (ApplyResult, error) {
	parsed, err := ParsePatch(patch)
	if err != nil {
		return ApplyResult{}, err
	}
	return parsed.Apply(text), nil
}

// Apply applies the hunks in order. A hunk is placed at the match nearest to
// where earlier hunks say it should be; when the full context no longer
// matches, one context line per side is dropped per attempt. Hunks that cannot
// be placed are skipped.
func (p Patch) Apply(text string) ApplyResult {
	lines := splitLines(text)
	cursor, delta, failed := 0, 0, 0
	for _, h := range p.hunks {
		changeAt := h.oldStart + len(h.before)
		start, ok := locate(lines, h, cursor, changeAt+delta)
		if !ok {
			failed++
			continue
		}
		end := start + len(h.removed)
		next := make([]string, 0, len(lines)-len(h.removed)+len(h.added))
		next = append(next, lines[:start]...)
		next = append(next, h.added...)
		next = append(next, lines[end:]...)
		lines = next

		cursor = start + len(h.added)
		delta = start - changeAt + len(h.added) - len(h.removed)
	}
	return ApplyResult{Result: strings.Join(lines, ""), Success: failed == 0, FailedHunks: failed}
}

// locate returns the index in lines where the hunk's removed block starts.
func locate(lines []string, h patchHunk, cursor, expected int) (int, bool) {
	maxTrim := max(len(h.before), len(h.after))
	for trim := 0; trim <= maxTrim; trim++ {
		before := h.before[min(trim, len(h.before)):]
		after := h.after[:len(h.after)-min(trim, len(h.after))]
		anchored := len(before) > 0 || len(after) > 0

		if !anchored && len(h.removed) == 0 {
			// Only a patch made from an empty text looks like this; it fits
			// nothing but an empty text.
			if trim > 0 || len(lines) > 0 {
				return 0, false
			}
			return 0, true
		}

		pattern := make([]string, 0, len(before)+len(h.removed)+len(after))
		pattern = append(pattern, before...)
		pattern = append(pattern, h.removed...)
		pattern = append(pattern, after...)

		if !anchored {
			if trim == 0 {
				if pos, ok := nearestMatch(lines, pattern, cursor, expected); ok {
					return pos, true
				}
				continue
			}
			if blankLines(h.removed) {
				return 0, false
			}
			pos, count := uniqueMatch(lines, pattern, cursor)
			if count != 1 {
				return 0, false
			}
			return pos, true
		}

		if pos, ok := nearestMatch(lines, pattern, cursor, expected-len(before)); ok {
			return pos + len(before), true
		}
	}
	return 0, false
}

func nearestMatch(lines, pattern []string, from, expected int) (int, bool) {
	best, bestDist := -1, 0
	for pos := from; pos+len(pattern) <= len(lines); pos++ {
		if !matchAt(lines, pattern, pos) {
			continue
		}
		dist := pos - expected
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best, bestDist = pos, dist
		}
	}
	return best, best >= 0
}

func uniqueMatch(lines, pattern []string, from int) (int, int) {
	found, count := -1, 0
	for pos := from; pos+len(pattern) <= len(lines); pos++ {
		if matchAt(lines, pattern, pos) {
			if found < 0 {
				found = pos
			}
			count++
		}
	}
	return found, count
}

func matchAt(lines, pattern []string, pos int) bool {
	for i, line := range pattern {
		if lines[pos+i] != line {
			return false
		}
	}
	return true
}

func blankLines(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return false
		}
	}
	return true
}
