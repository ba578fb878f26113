package session

import (
	"context"
	"sync"
	"time"
)

type Options struct {
	// IdleTTL is how long an untouched controller survives Sweep.
	IdleTTL time.Duration
}

// Store maps visitor keys (cookie ids, chat ids) to their controllers.
type Store struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	idleTTL     time.Duration
}

func NewStore(opts Options) *Store {
	idleTTL := opts.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}

	return &Store{
		controllers: make(map[string]*Controller),
		idleTTL:     idleTTL,
	}
}

func (s *Store) Get(key string) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.controllers[key]; ok {
		return c
	}
	c := NewController()
	s.controllers[key] = c
	return c
}

func (s *Store) Peek(key string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.controllers[key]
	return c, ok
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.controllers, key)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controllers)
}

// Sweep drops controllers idle for longer than IdleTTL. Controllers with a
// generation in flight or a live subscriber are kept.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.controllers {
		touched, pinned := c.idleSince()
		if pinned || now.Sub(touched) < s.idleTTL {
			continue
		}
		delete(s.controllers, key)
		removed++
	}
	return removed
}

// RunJanitor sweeps every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration, onSweep func(removed int)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			removed := s.Sweep(now)
			if onSweep != nil && removed > 0 {
				onSweep(removed)
			}
		}
	}
}
