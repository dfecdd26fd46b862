package diff

import "specsync/api/internal/checksum"

// MergeResult is the outcome of a three-way merge. Merged always holds the
// best-effort text, even when HasConflicts is set.
type MergeResult struct {
	Merged       string `json:"merged"`
	HasConflicts bool   `json:"hasConflicts"`
}

// ThreeWayMerge replays base->local onto base and then base->cloud onto the
// result. Any hunk that fails to apply marks the merge as conflicting; the
// cloud side is applied second, so overlapping edits surface as cloud hunks
// that no longer fit.
func ThreeWayMerge(base, local, cloud string) MergeResult {
	if checksum.Equal(local, cloud) {
		return MergeResult{Merged: local}
	}
	first := MakePatch(base, local).Apply(base)
	second := MakePatch(base, cloud).Apply(first.Result)
	return MergeResult{
		Merged:       second.Result,
		HasConflicts: !first.Success || !second.Success,
	}
}
