// Package liveness abstracts the host environment's foreground/background
// signal so the heartbeat engine can suspend polling while nobody is looking.
package liveness

import "sync"

// Hooks are invoked on state transitions. Either hook may be nil.
type Hooks struct {
	OnBecomeActive   func()
	OnBecomeInactive func()
}

// Signal is an external liveness source. Attach registers transition hooks
// and returns a detach function; Active reports the current state.
type Signal interface {
	Active() bool
	Attach(hooks Hooks) (detach func())
}

// ManualSignal is a Signal driven explicitly by its owner. It backs tests and
// hosts that surface their own visibility events.
type ManualSignal struct {
	mu     sync.Mutex
	active bool
	nextID int
	hooks  map[int]Hooks
}

func NewManualSignal(active bool) *ManualSignal {
	return &ManualSignal{active: active, hooks: map[int]Hooks{}}
}

func (s *ManualSignal) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *ManualSignal) Attach(hooks Hooks) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.hooks[id] = hooks
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.hooks, id)
		s.mu.Unlock()
	}
}

// SetActive transitions the signal; hooks fire only on actual changes.
func (s *ManualSignal) SetActive(active bool) {
	s.mu.Lock()
	if s.active == active {
		s.mu.Unlock()
		return
	}
	s.active = active
	attached := make([]Hooks, 0, len(s.hooks))
	for _, h := range s.hooks {
		attached = append(attached, h)
	}
	s.mu.Unlock()

	for _, h := range attached {
		if active && h.OnBecomeActive != nil {
			h.OnBecomeActive()
		}
		if !active && h.OnBecomeInactive != nil {
			h.OnBecomeInactive()
		}
	}
}
