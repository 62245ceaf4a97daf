package netif

import (
	"sync"
	"time"
)

// Signal is a one-shot latch. Owners call Set once a condition holds and
// waiters block on it with a bounded timeout. The zero value is unset.
type Signal struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func (s *Signal) init() {
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
}

// Set latches the signal and wakes all waiters. Calling Set again has no effect.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// IsSet reports whether Set was called.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Done returns a channel closed when the signal is set.
func (s *Signal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	return s.ch
}

// Wait blocks until the signal is set or timeout elapses and reports whether it was set.
func (s *Signal) Wait(timeout time.Duration) bool {
	done := s.Done()
	select {
	case <-done:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
