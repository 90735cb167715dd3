package controller

import (
	"context"
	"sync"

	"github.com/hessmap/server/internal/render"
)

// Surface is the display: it holds the state currently shown. Only the
// controller writes to it; any number of readers may watch it.
type Surface struct {
	mu      sync.RWMutex
	cur     *render.State
	changed chan struct{}
}

// NewSurface creates an empty display surface.
func NewSurface() *Surface {
	return &Surface{changed: make(chan struct{})}
}

// Current returns the displayed state, or nil before the first cycle.
// The returned state must not be modified.
func (s *Surface) Current() *render.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Apply replaces the displayed state if st was requested after the state
// currently shown. It reports whether st is now displayed.
func (s *Surface) Apply(st *render.State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil && st.Generation <= s.cur.Generation {
		return false
	}
	s.cur = st
	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

// Changed returns a channel closed on the next successful Apply.
func (s *Surface) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// WaitNewer blocks until a state newer than generation is displayed.
func (s *Surface) WaitNewer(ctx context.Context, generation uint64) (*render.State, error) {
	for {
		s.mu.RLock()
		cur, ch := s.cur, s.changed
		s.mu.RUnlock()

		if cur != nil && cur.Generation > generation {
			return cur, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}
