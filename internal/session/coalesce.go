package session

import (
	"sort"

	"github.com/xuanvinh1997/open-term/internal/rdp"
)

// coalesceRects merges overlapping and edge-adjacent dirty rectangles
// into their bounding boxes, repeating until no pair can be merged. The
// result is deterministic: rects are processed in (top, left) order.
func coalesceRects(rects []rdp.Rect) []rdp.Rect {
	if len(rects) <= 1 {
		return rects
	}

	merged := make([]rdp.Rect, len(rects))
	copy(merged, rects)
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Y != merged[j].Y {
			return merged[i].Y < merged[j].Y
		}
		return merged[i].X < merged[j].X
	})

	for {
		changed := false
		out := merged[:0]
		for _, r := range merged {
			absorbed := false
			for i := range out {
				if out[i].Touches(r) {
					out[i] = out[i].Union(r)
					absorbed = true
					changed = true
					break
				}
			}
			if !absorbed {
				out = append(out, r)
			}
		}
		merged = out
		if !changed {
			return merged
		}
	}
}
