package session

import (
	"log"

	"github.com/xuanvinh1997/open-term/internal/rdp"
)

// runWorker is the per-session event loop. It alternates between
// flushing batched input to the server and processing one server PDU,
// accumulating dirty rectangles until the pacer says a frame is due.
//
// The first emitted frame is always a full desktop snapshot; everything
// after that is partial.
func (m *Manager) runWorker(s *session) {
	var pending []rdp.Rect
	sentFull := false
	var frames uint64

	flush := func() {
		events := s.batcher.Drain()
		if len(events) == 0 {
			return
		}
		// input counts as activity for the pacing schedule
		s.pace.markActivity()
		if err := s.engine.SendInput(events); err != nil {
			log.Printf("session %s: dropping %d input events: %v", s.id, len(events), err)
		}
	}

	for {
		select {
		case <-s.stop:
			return
		default:
		}

	drain:
		for {
			select {
			case ev := <-s.input:
				if s.batcher.Add(ev) {
					flush()
				}
			default:
				break drain
			}
		}
		if s.batcher.Due() {
			flush()
		}

		rects, err := s.engine.ProcessEvents()
		if err != nil {
			select {
			case <-s.stop:
				// CloseSession tore the connection down under us
				return
			default:
			}
			log.Printf("session %s: worker stopping: %v", s.id, err)
			m.sink.SessionError(s.id, err)
			m.removeEnded(s.id)
			return
		}
		if !s.engine.IsConnected() {
			log.Printf("session %s: server ended the session", s.id)
			m.removeEnded(s.id)
			return
		}

		if len(rects) > 0 {
			pending = append(pending, rects...)
			s.pace.markActivity()
		}

		if !s.pace.shouldEmit() {
			continue
		}
		select {
		case <-s.stop:
			// closed mid-iteration; nothing may be emitted for this id anymore
			return
		default:
		}

		switch {
		case !sentFull:
			width, height := s.engine.Dimensions()
			m.sink.FrameUpdate(s.id, rdp.NewFullFrame(width, height, s.engine.Snapshot()))
			sentFull = true
			// the snapshot supersedes anything accumulated so far
			pending = pending[:0]
		case len(pending) > 0:
			merged := coalesceRects(pending)
			dirty := make([]rdp.DirtyRect, 0, len(merged))
			for _, r := range merged {
				// re-extract from the framebuffer so merged regions
				// carry current pixels, not stale fragments
				if pixels := s.engine.ExtractRect(r); pixels != nil {
					dirty = append(dirty, rdp.NewDirtyRect(r, pixels))
				}
			}
			if len(dirty) > 0 {
				m.sink.FrameUpdate(s.id, rdp.NewPartialFrame(dirty))
			}
			pending = pending[:0]
		default:
			continue
		}

		frames++
		if frames%100 == 0 {
			log.Printf("session %s: %d frames emitted", s.id, frames)
		}
	}
}
