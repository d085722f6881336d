package server

import "sync/atomic"

// Settings carries the runtime-adjustable knobs the config watcher may
// change while the server is running. All accessors are safe for concurrent
// use.
type Settings struct {
	demoReplyLimit atomic.Int64
}

// NewSettings creates a Settings with the given demo reply cap. Zero means
// no cap.
func NewSettings(demoReplyLimit int) *Settings {
	s := &Settings{}
	s.demoReplyLimit.Store(int64(demoReplyLimit))
	return s
}

// DemoReplyLimit returns the current per-conversation demo reply cap.
func (s *Settings) DemoReplyLimit() int {
	return int(s.demoReplyLimit.Load())
}

// SetDemoReplyLimit updates the demo reply cap. It applies to the next chat
// request.
func (s *Settings) SetDemoReplyLimit(n int) {
	s.demoReplyLimit.Store(int64(n))
}
