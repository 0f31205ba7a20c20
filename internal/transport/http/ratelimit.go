package http

import "time"

// frameLimiter caps inbound frames per connection in fixed windows. It is
// only touched by the connection's read loop.
type frameLimiter struct {
	max     int
	window  time.Duration
	now     func() time.Time
	started time.Time
	seen    int
}

func newFrameLimiter(perMinute int) *frameLimiter {
	return &frameLimiter{max: perMinute, window: time.Minute, now: time.Now}
}

// allow counts one frame and reports whether it fits the current window.
// A non-positive max disables limiting.
func (l *frameLimiter) allow() bool {
	if l == nil || l.max <= 0 {
		return true
	}
	now := l.now()
	if l.started.IsZero() || now.Sub(l.started) >= l.window {
		l.started = now
		l.seen = 0
	}
	l.seen++
	return l.seen <= l.max
}
