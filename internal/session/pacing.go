package session

import "time"

// Frame pacing: 2x2 adaptive schedule. While the user is interacting or
// the desktop is changing, frames go out at the active interval; once
// neither input nor damage has been seen for the activity window, the
// schedule drops to the idle interval so a static desktop costs almost
// nothing.
const (
	activeFrameInterval = 33 * time.Millisecond
	idleFrameInterval   = 250 * time.Millisecond
	activityWindow      = 2 * time.Second
)

type pacer struct {
	lastEmit     time.Time
	lastActivity time.Time
	now          func() time.Time
}

func newPacer() *pacer {
	return &pacer{now: time.Now}
}

// markActivity records session activity: desktop damage, or input sent
// to the server.
func (p *pacer) markActivity() {
	p.lastActivity = p.now()
}

func (p *pacer) interval() time.Duration {
	if p.now().Sub(p.lastActivity) <= activityWindow {
		return activeFrameInterval
	}
	return idleFrameInterval
}

// shouldEmit reports whether a frame is due and, when it is, starts the
// next pacing period. The first call always emits.
func (p *pacer) shouldEmit() bool {
	now := p.now()
	if !p.lastEmit.IsZero() && now.Sub(p.lastEmit) < p.interval() {
		return false
	}
	p.lastEmit = now
	return true
}
