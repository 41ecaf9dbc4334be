package reconstitute

import (
	"context"
	"errors"
	"slices"
)

// ErrMergeTimeout is returned by Merge when either underlying Diff call
// misses its deadline. The caller (the per-section merge loop) treats this
// as the merge-level Timeout outcome: acc_k is left unchanged and the
// consecutive-timeout counter advances.
var ErrMergeTimeout = errors.New("reconstitute: merge timed out")

// hunk is a contiguous replacement over base's line range [start, end):
// lines is the replacement text for that range, possibly empty (deletion)
// or zero-width (pure insertion, start == end).
type hunk struct {
	start, end int
	lines      []string
}

// hunksFromAlignment converts an Alignment between base and other into an
// ordered list of hunks in base-index space, looking up inserted line text
// from other.
func hunksFromAlignment(align Alignment, other []string) []hunk {
	var hunks []hunk
	cursor := 0
	i := 0
	for i < len(align) {
		if align[i].Type == OpEqual {
			cursor++
			i++
			continue
		}
		h := hunk{start: cursor}
		for i < len(align) && align[i].Type != OpEqual {
			switch align[i].Type {
			case OpDelete:
				cursor++
			case OpInsert:
				h.lines = append(h.lines, other[align[i].BIndex])
			}
			i++
		}
		h.end = cursor
		hunks = append(hunks, h)
	}
	return hunks
}

// mergeGroup is one resolved span of base, combining every left/right hunk
// that overlaps it.
type mergeGroup struct {
	start, end int
	left       []hunk
	right      []hunk
}

// groupHunks merges overlapping left/right hunks (sorted by base position)
// into contiguous mergeGroups. Hunks that merely touch at a boundary, with
// no genuine overlap, stay in separate groups.
func groupHunks(left, right []hunk) []mergeGroup {
	type tagged struct {
		hunk
		fromRight bool
	}
	all := make([]tagged, 0, len(left)+len(right))
	for _, h := range left {
		all = append(all, tagged{h, false})
	}
	for _, h := range right {
		all = append(all, tagged{h, true})
	}
	slices.SortFunc(all, func(a, b tagged) int {
		if a.start != b.start {
			return a.start - b.start
		}
		return a.end - b.end
	})

	var groups []mergeGroup
	for _, t := range all {
		if len(groups) == 0 || t.start >= groups[len(groups)-1].end {
			groups = append(groups, mergeGroup{start: t.start, end: t.end})
		}
		g := &groups[len(groups)-1]
		if t.end > g.end {
			g.end = t.end
		}
		if t.fromRight {
			g.right = append(g.right, t.hunk)
		} else {
			g.left = append(g.left, t.hunk)
		}
	}
	return groups
}

func concatLines(hunks []hunk) []string {
	var out []string
	for _, h := range hunks {
		out = append(out, h.lines...)
	}
	return out
}

// resolveGroup applies the merger's conflict policy to one mergeGroup,
// returning the lines it contributes to the output and whether that span
// is vandal-attributed (and therefore sentinel-wrapped).
func resolveGroup(g mergeGroup) (lines []string, vandal bool) {
	switch {
	case len(g.right) == 0:
		return concatLines(g.left), false
	case len(g.left) == 0:
		return concatLines(g.right), true
	default:
		leftLines := concatLines(g.left)
		rightLines := concatLines(g.right)
		if len(g.left) == 1 && len(g.right) == 1 &&
			g.left[0].start == g.right[0].start && g.left[0].end == g.right[0].end &&
			slices.Equal(leftLines, rightLines) {
			return leftLines, false
		}
		return rightLines, true
	}
}

type block struct {
	vandal bool
	lines  []string
}

// wrapSentinelSpan brackets a contiguous run of lines with the open/close
// sentinel pair, prepended to the first line and appended to the last, so
// a multi-line vandal span is wrapped once rather than per line.
func wrapSentinelSpan(lines []string) []string {
	if len(lines) == 0 {
		return lines
	}
	out := append([]string(nil), lines...)
	out[0] = string(SentinelOpen) + out[0]
	out[len(out)-1] = out[len(out)-1] + string(SentinelClose)
	return out
}

// Merge performs a three-way merge of base, left and right line sequences,
// biased toward right (the vandal text) on conflict. base is the common
// ancestor; left is the current accumulated section text; right is the
// vandalized prior revision. It returns ErrMergeTimeout if either internal
// Diff call misses ctx's deadline.
func Merge(ctx context.Context, base, left, right []string) ([]string, error) {
	leftAlign, err := Diff(ctx, base, left)
	if err != nil {
		if errors.Is(err, ErrDiffDeadline) {
			return nil, ErrMergeTimeout
		}
		return nil, err
	}
	rightAlign, err := Diff(ctx, base, right)
	if err != nil {
		if errors.Is(err, ErrDiffDeadline) {
			return nil, ErrMergeTimeout
		}
		return nil, err
	}

	leftHunks := hunksFromAlignment(leftAlign, left)
	rightHunks := hunksFromAlignment(rightAlign, right)
	groups := groupHunks(leftHunks, rightHunks)

	var blocks []block
	cursor := 0
	for _, g := range groups {
		if g.start > cursor {
			blocks = append(blocks, block{lines: base[cursor:g.start]})
		}
		lines, vandal := resolveGroup(g)
		if len(lines) > 0 {
			blocks = append(blocks, block{vandal: vandal, lines: lines})
		}
		cursor = g.end
	}
	if cursor < len(base) {
		blocks = append(blocks, block{lines: base[cursor:]})
	}

	// Coalesce adjacent blocks sharing the same vandal/non-vandal
	// attribution so a run of back-to-back vandal hunks gets one sentinel
	// pair rather than one per hunk.
	var coalesced []block
	for _, b := range blocks {
		if len(coalesced) > 0 && coalesced[len(coalesced)-1].vandal == b.vandal {
			last := &coalesced[len(coalesced)-1]
			last.lines = append(last.lines, b.lines...)
			continue
		}
		coalesced = append(coalesced, b)
	}

	var result []string
	for _, b := range coalesced {
		if b.vandal {
			result = append(result, wrapSentinelSpan(b.lines)...)
		} else {
			result = append(result, b.lines...)
		}
	}
	return result, nil
}
