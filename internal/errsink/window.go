package errsink

import (
	"sync"
	"time"
)

const (
	noticeLimit  = 5
	noticeWindow = time.Minute
)

// noticeWindowLimiter caps how many notices reach the logs channel within a sliding
// window. An audit that fails for many guilds would otherwise flood it.
type noticeWindowLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	sent   []time.Time
}

func newNoticeLimiter(limit int, window time.Duration) *noticeWindowLimiter {
	return &noticeWindowLimiter{limit: limit, window: window}
}

// allow records a notice at now and reports whether it fits in the window.
func (w *noticeWindowLimiter) allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	idx := 0
	for _, at := range w.sent {
		if at.After(cutoff) {
			break
		}
		idx++
	}
	w.sent = w.sent[idx:]
	if len(w.sent) >= w.limit {
		return false
	}
	w.sent = append(w.sent, now)
	return true
}
