package rdp

import "time"

const (
	batchMaxEvents = 10
	batchMaxAge    = 16 * time.Millisecond
)

// InputBatcher accumulates input events between worker ticks so that a
// burst of pointer motion becomes a single wire PDU. It is owned by one
// goroutine and needs no locking.
type InputBatcher struct {
	events []InputEvent
	oldest time.Time
	now    func() time.Time
}

func NewInputBatcher() *InputBatcher {
	return &InputBatcher{now: time.Now}
}

// Add queues ev and reports whether the batch should be flushed
// immediately: on any critical event, or when the batch is full.
// Mouse motion collapses to the latest sample; at most one MouseMove is
// ever queued.
func (b *InputBatcher) Add(ev InputEvent) bool {
	if len(b.events) == 0 {
		b.oldest = b.now()
	}
	if ev.Type == InputMouseMove {
		for i := range b.events {
			if b.events[i].Type == InputMouseMove {
				b.events = append(b.events[:i], b.events[i+1:]...)
				break
			}
		}
	}
	b.events = append(b.events, ev)
	return ev.Critical() || len(b.events) >= batchMaxEvents
}

// Due reports whether the oldest queued event has waited long enough
// that the batch should flush even without a trigger.
func (b *InputBatcher) Due() bool {
	return len(b.events) > 0 && b.now().Sub(b.oldest) >= batchMaxAge
}

func (b *InputBatcher) Len() int { return len(b.events) }

// Drain returns the queued events and resets the batch.
func (b *InputBatcher) Drain() []InputEvent {
	if len(b.events) == 0 {
		return nil
	}
	out := b.events
	b.events = nil
	return out
}
