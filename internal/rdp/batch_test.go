package rdp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcherCoalescesMouseMoves(t *testing.T) {
	b := NewInputBatcher()

	for i := 0; i < 20; i++ {
		flush := b.Add(InputEvent{Type: InputMouseMove, X: uint16(i), Y: uint16(i)})
		assert.False(t, flush)
	}

	events := b.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, uint16(19), events[0].X)
}

func TestBatcherReplacesQueuedMouseMove(t *testing.T) {
	b := NewInputBatcher()

	b.Add(InputEvent{Type: InputMouseMove, X: 1})
	b.Add(InputEvent{Type: InputKeyboard, Scancode: 0x1c, Pressed: true})
	b.Add(InputEvent{Type: InputMouseMove, X: 5})

	events := b.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, InputKeyboard, events[0].Type)
	assert.Equal(t, InputMouseMove, events[1].Type)
	assert.Equal(t, uint16(5), events[1].X)
}

func TestBatcherFlushesOnCriticalEvent(t *testing.T) {
	b := NewInputBatcher()

	assert.False(t, b.Add(InputEvent{Type: InputMouseMove, X: 1, Y: 1}))
	assert.True(t, b.Add(InputEvent{Type: InputMouseButton, Button: MouseButtonLeft, Pressed: true, X: 1, Y: 1}))

	events := b.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, InputMouseMove, events[0].Type)
	assert.Equal(t, InputMouseButton, events[1].Type)
}

func TestBatcherFlushesAtCapacity(t *testing.T) {
	b := NewInputBatcher()

	// keyboard events don't coalesce; the caller ignores the per-event
	// flush signal here
	for i := 0; i < batchMaxEvents-1; i++ {
		b.Add(InputEvent{Type: InputKeyboard, Scancode: uint16(i), Pressed: true})
	}
	require.Equal(t, batchMaxEvents-1, b.Len())

	// a non-critical event still forces a flush once the cap is hit
	assert.True(t, b.Add(InputEvent{Type: InputMouseMove, X: 99, Y: 99}))
	assert.Equal(t, batchMaxEvents, b.Len())
}

func TestBatcherDue(t *testing.T) {
	b := NewInputBatcher()
	now := time.Now()
	b.now = func() time.Time { return now }

	assert.False(t, b.Due(), "empty batch is never due")

	b.Add(InputEvent{Type: InputMouseMove, X: 1})
	assert.False(t, b.Due())

	now = now.Add(batchMaxAge)
	assert.True(t, b.Due())
}

func TestBatcherDrainResets(t *testing.T) {
	b := NewInputBatcher()
	b.Add(InputEvent{Type: InputKeyboard, Scancode: 0x1c, Pressed: true})

	require.Len(t, b.Drain(), 1)
	assert.Nil(t, b.Drain())
	assert.Zero(t, b.Len())
}
