package limbic

import (
	"log/slog"
	"sync"
)

// Store is the authoritative in-process holder of the state vector.
// All public methods are safe for concurrent use.
//
// Subscribers are notified from a single dedicated goroutine in apply
// order, so an adapter that is slow to return delays other adapters but
// never the writer. Deltas have no ordering metadata; concurrent writers
// get arrival-order, last-write-per-field semantics.
type Store struct {
	mu     sync.Mutex
	vec    Vector
	subs   map[int]func(Vector)
	nextID int

	pending []Vector
	wake    *sync.Cond
	closed  bool
	done    chan struct{}

	logger *slog.Logger
}

// NewStore creates a Store with the given initial vector (clamped) and
// starts its notifier goroutine. Call Close when the store is no longer
// needed so the goroutine exits.
func NewStore(initial Vector, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		vec:    merge(initial, Delta{}),
		subs:   make(map[int]func(Vector)),
		done:   make(chan struct{}),
		logger: logger,
	}
	s.wake = sync.NewCond(&s.mu)
	go s.notify()
	return s
}

// Read returns a snapshot of the current vector. The returned value is
// a copy; readers never observe a partially applied delta.
func (s *Store) Read() Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vec
}

// Apply merges the delta into the vector, clamps every scalar to [0,1],
// queues a notification for subscribers, and returns the new snapshot.
func (s *Store) Apply(d Delta) Vector {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.vec
	}

	s.vec = merge(s.vec, d)
	snap := s.vec
	if len(s.subs) > 0 {
		s.pending = append(s.pending, snap)
		s.wake.Signal()
	}
	return snap
}

// Subscribe registers fn to receive every snapshot produced by Apply,
// in apply order. The returned cancel function removes the
// subscription; it is safe to call more than once.
func (s *Store) Subscribe(fn func(Vector)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close stops the notifier goroutine. Pending notifications queued
// before Close are still delivered; Apply after Close is a no-op that
// returns the final snapshot.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.wake.Signal()
	s.mu.Unlock()
	<-s.done
}

// notify drains the pending queue and fans each snapshot out to the
// subscribers registered at send time. Callbacks run outside the lock
// so they may call Read or Subscribe freely.
func (s *Store) notify() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.wake.Wait()
		}
		if len(s.pending) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		snap := s.pending[0]
		s.pending = s.pending[1:]
		fns := make([]func(Vector), 0, len(s.subs))
		for _, fn := range s.subs {
			fns = append(fns, fn)
		}
		s.mu.Unlock()

		for _, fn := range fns {
			fn(snap)
		}
	}
}
