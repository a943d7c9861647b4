package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuanvinh1997/open-term/internal/rdp"
)

func TestCoalesceRectsMergesOverlap(t *testing.T) {
	merged := coalesceRects([]rdp.Rect{
		{X: 0, Y: 0, Width: 50, Height: 50},
		{X: 30, Y: 30, Width: 50, Height: 50},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, rdp.Rect{X: 0, Y: 0, Width: 80, Height: 80}, merged[0])
}

func TestCoalesceRectsKeepsDisjoint(t *testing.T) {
	rects := []rdp.Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 100, Y: 100, Width: 10, Height: 10},
	}
	merged := coalesceRects(rects)
	assert.Len(t, merged, 2)
}

func TestCoalesceRectsMergesAdjacent(t *testing.T) {
	merged := coalesceRects([]rdp.Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 10, Y: 0, Width: 10, Height: 10},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, rdp.Rect{X: 0, Y: 0, Width: 20, Height: 10}, merged[0])
}

func TestCoalesceRectsChainMerge(t *testing.T) {
	// a and c only touch through b; the fixpoint pass must fold all
	// three into one box
	merged := coalesceRects([]rdp.Rect{
		{X: 0, Y: 0, Width: 10, Height: 10},
		{X: 40, Y: 0, Width: 10, Height: 10},
		{X: 8, Y: 0, Width: 35, Height: 10},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, rdp.Rect{X: 0, Y: 0, Width: 50, Height: 10}, merged[0])
}

func TestCoalesceRectsSmallInputs(t *testing.T) {
	assert.Empty(t, coalesceRects(nil))

	one := []rdp.Rect{{X: 1, Y: 2, Width: 3, Height: 4}}
	assert.Equal(t, one, coalesceRects(one))
}
