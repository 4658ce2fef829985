package segment

import (
	"context"
	"fmt"
	"sync"
)

// Store keeps segments by id. Implementations are append-only apart from
// explicit eviction and are safe for concurrent use; reads vastly outnumber
// writes in practice.
type Store interface {
	// Put stores a segment and returns its id. Re-inserting an identical
	// buffer under the same id is a no-op; a differing buffer under an
	// existing id fails with ErrDuplicateID.
	Put(ctx context.Context, seg Segment) (string, error)

	// Get returns the segment for id, or ErrSegmentNotFound.
	Get(ctx context.Context, id string) (Segment, error)

	// Evict removes a segment. It fails with ErrSegmentInUse while any
	// session retains the id, and ErrSegmentNotFound if absent.
	Evict(ctx context.Context, id string) error

	// Retain marks the segment as referenced by a session; Release undoes
	// one Retain. Evict refuses retained segments.
	Retain(id string) error
	Release(id string)

	// OnEvict registers a hook invoked after each successful eviction,
	// used to drop cached join buffers referencing the segment.
	OnEvict(fn func(id string))

	// Close releases all underlying resources and ephemeral storage.
	Close() error
}

// MemStore is the in-memory Store. Buffers live on the heap for the life
// of the store; Close drops everything.
type MemStore struct {
	mu      sync.RWMutex
	items   map[string]Segment
	refs    map[string]int
	onEvict []func(id string)
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		items: make(map[string]Segment),
		refs:  make(map[string]int),
	}
}

func (s *MemStore) Put(_ context.Context, seg Segment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.items[seg.ID]; ok {
		if prev.Digest != seg.Digest {
			return "", fmt.Errorf("%w: %s", ErrDuplicateID, seg.ID)
		}
		return seg.ID, nil // idempotent retry
	}
	s.items[seg.ID] = seg
	return seg.ID, nil
}

func (s *MemStore) Get(_ context.Context, id string) (Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.items[id]
	if !ok {
		return Segment{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	return seg, nil
}

func (s *MemStore) Evict(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.items[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	if s.refs[id] > 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSegmentInUse, id)
	}
	delete(s.items, id)
	delete(s.refs, id)
	hooks := append([]func(string){}, s.onEvict...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

func (s *MemStore) Retain(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSegmentNotFound, id)
	}
	s.refs[id]++
	return nil
}

func (s *MemStore) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[id] > 0 {
		s.refs[id]--
	}
}

func (s *MemStore) OnEvict(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = append(s.onEvict, fn)
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]Segment)
	s.refs = make(map[string]int)
	return nil
}
