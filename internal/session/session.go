// Package session holds the stateful editing context over an ordered
// segment sequence. Every session is single-writer: all mutations and the
// render trigger for one session are serialized behind its mutex, while
// different sessions proceed in parallel.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/render"
	"github.com/weldaudio/weld/internal/segment"
	"github.com/weldaudio/weld/internal/stitch"
)

// Session errors.
var (
	ErrSessionBusy   = errors.New("session: render in flight, retry after completion")
	ErrSessionClosed = errors.New("session: closed")
	ErrEmptySession  = errors.New("session: no segments imported")
)

// State is the session lifecycle position.
type State int

const (
	StateIdle State = iota
	StateEditing
	StateRendering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEditing:
		return "editing"
	case StateRendering:
		return "rendering"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EditKind tags an entry in the append-only edit log.
type EditKind int

const (
	EditImport EditKind = iota
	EditReorder
	EditSetJoin
)

// Edit is one immutable log entry. Entries carry enough of the before and
// after picture to move the cursor in either direction; buffers are never
// copied, only ids and join parameters.
type Edit struct {
	Kind EditKind
	At   time.Time

	// EditImport
	SegmentID string

	// EditReorder
	PrevOrder    []string
	NewOrder     []string
	PrevPolicies []stitch.Policy
	NewPolicies  []stitch.Policy

	// EditSetJoin
	JoinIndex  int
	PrevPolicy stitch.Policy
	NewPolicy  stitch.Policy
}

// Session is one editing context. All exported methods are safe for
// concurrent use; callers from multiple goroutines are serialized.
type Session struct {
	ID string

	store    segment.Store
	renderer *render.Renderer
	base     stitch.Policy
	target   audio.Format

	mu           sync.Mutex // session-scoped: serializes all mutations and render triggers
	state        State
	order        []string
	joinPolicies []stitch.Policy
	log          []Edit
	cursor       int
	dirty        bool
	lastHash     uint64
	lastActivity time.Time
	job          *render.Job
}

func (s *Session) lock()   { s.mu.Lock() }
func (s *Session) unlock() { s.mu.Unlock() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.lock()
	defer s.unlock()
	return s.state
}

// Order returns a copy of the current segment sequence.
func (s *Session) Order() []string {
	s.lock()
	defer s.unlock()
	return append([]string(nil), s.order...)
}

// LastRenderHash returns the content hash of the most recent successful
// render, or zero if the session has never rendered.
func (s *Session) LastRenderHash() uint64 {
	s.lock()
	defer s.unlock()
	return s.lastHash
}

// Dirty reports whether the session has changed since its last render.
func (s *Session) Dirty() bool {
	s.lock()
	defer s.unlock()
	return s.dirty
}

// checkMutable rejects calls in states that forbid mutation.
// Must be called with the lock held.
func (s *Session) checkMutable() error {
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateRendering:
		return ErrSessionBusy
	}
	return nil
}

// appendEdit truncates any redo-able tail past the cursor, releasing
// store retains held only by truncated imports, then appends the entry.
// Must be called with the lock held.
func (s *Session) appendEdit(e Edit) {
	for _, dropped := range s.log[s.cursor:] {
		if dropped.Kind == EditImport {
			s.store.Release(dropped.SegmentID)
		}
	}
	s.log = s.log[:s.cursor]
	e.At = time.Now().UTC()
	s.log = append(s.log, e)
	s.cursor = len(s.log)
	s.dirty = true
	s.lastActivity = time.Now()
}

// ImportSegment appends a stored segment to the end of the sequence. The
// segment is retained in the store for as long as the session (or its
// redo log) references it.
func (s *Session) ImportSegment(id string) error {
	s.lock()
	defer s.unlock()
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.store.Retain(id); err != nil {
		return err
	}
	s.applyImport(id)
	s.appendEdit(Edit{Kind: EditImport, SegmentID: id})
	s.state = StateEditing
	return nil
}

func (s *Session) applyImport(id string) {
	s.order = append(s.order, id)
	if len(s.order) > 1 {
		s.joinPolicies = append(s.joinPolicies, s.base)
	}
}

// Reorder replaces the segment sequence. The new sequence must be drawn
// from the current one (same multiset or a subset of it); join parameters
// reset to the session default. An empty sequence ends the session
// instead of leaving a degenerate editing state.
func (s *Session) Reorder(newOrder []string) error {
	s.lock()
	defer s.unlock()
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := subsetOf(newOrder, s.order); err != nil {
		return err
	}
	if len(newOrder) == 0 {
		s.closeLocked()
		return nil
	}

	e := Edit{
		Kind:         EditReorder,
		PrevOrder:    append([]string(nil), s.order...),
		NewOrder:     append([]string(nil), newOrder...),
		PrevPolicies: append([]stitch.Policy(nil), s.joinPolicies...),
	}
	s.applyOrder(newOrder, nil)
	e.NewPolicies = append([]stitch.Policy(nil), s.joinPolicies...)
	s.appendEdit(e)
	return nil
}

// applyOrder installs a sequence and its join policies; nil policies
// resets every join to the session default.
func (s *Session) applyOrder(order []string, policies []stitch.Policy) {
	s.order = append([]string(nil), order...)
	if policies == nil {
		policies = make([]stitch.Policy, 0, max(len(order)-1, 0))
		for i := 1; i < len(order); i++ {
			policies = append(policies, s.base)
		}
	}
	s.joinPolicies = append([]stitch.Policy(nil), policies...)
}

// SetJoinParams overrides the stitch policy for the join at joinIndex
// (the transition between segments joinIndex and joinIndex+1).
func (s *Session) SetJoinParams(joinIndex int, pol stitch.Policy) error {
	s.lock()
	defer s.unlock()
	if err := s.checkMutable(); err != nil {
		return err
	}
	if joinIndex < 0 || joinIndex >= len(s.joinPolicies) {
		return fmt.Errorf("%w: join index %d out of range (have %d joins)",
			audio.ErrValidation, joinIndex, len(s.joinPolicies))
	}
	if !pol.Curve.Valid() {
		return fmt.Errorf("%w: curve selector %d", audio.ErrValidation, int(pol.Curve))
	}
	if pol.Overlap < 0 {
		return fmt.Errorf("%w: negative overlap", audio.ErrValidation)
	}

	e := Edit{
		Kind:       EditSetJoin,
		JoinIndex:  joinIndex,
		PrevPolicy: s.joinPolicies[joinIndex],
		NewPolicy:  pol,
	}
	s.joinPolicies[joinIndex] = pol
	s.appendEdit(e)
	return nil
}

// Undo moves the history cursor one entry back. At the oldest entry it is
// a silent no-op. Log entries are never deleted; redo stays available
// until a new edit truncates the tail.
func (s *Session) Undo() error {
	s.lock()
	defer s.unlock()
	if err := s.checkMutable(); err != nil {
		return err
	}
	if s.cursor == 0 {
		return nil
	}
	s.cursor--
	s.revert(s.log[s.cursor])
	s.dirty = true
	s.lastActivity = time.Now()
	return nil
}

// Redo re-applies the next undone entry, or does nothing at the newest.
func (s *Session) Redo() error {
	s.lock()
	defer s.unlock()
	if err := s.checkMutable(); err != nil {
		return err
	}
	if s.cursor == len(s.log) {
		return nil
	}
	s.reapply(s.log[s.cursor])
	s.cursor++
	s.dirty = true
	s.lastActivity = time.Now()
	return nil
}

func (s *Session) revert(e Edit) {
	switch e.Kind {
	case EditImport:
		s.order = s.order[:len(s.order)-1]
		if len(s.joinPolicies) > 0 {
			s.joinPolicies = s.joinPolicies[:len(s.joinPolicies)-1]
		}
	case EditReorder:
		s.applyOrder(e.PrevOrder, e.PrevPolicies)
	case EditSetJoin:
		s.joinPolicies[e.JoinIndex] = e.PrevPolicy
	}
}

func (s *Session) reapply(e Edit) {
	switch e.Kind {
	case EditImport:
		s.applyImport(e.SegmentID)
	case EditReorder:
		s.applyOrder(e.NewOrder, e.NewPolicies)
	case EditSetJoin:
		s.joinPolicies[e.JoinIndex] = e.NewPolicy
	}
}

// RequestRender plans the current sequence and launches an asynchronous
// render. The session moves to Rendering and rejects mutations with
// ErrSessionBusy until the job completes; it then returns to Idle on
// success or Editing on failure or cancellation.
func (s *Session) RequestRender(ctx context.Context) (*render.Job, error) {
	s.lock()
	defer s.unlock()
	switch s.state {
	case StateClosed:
		return nil, ErrSessionClosed
	case StateRendering:
		return nil, ErrSessionBusy
	}
	if len(s.order) == 0 {
		return nil, ErrEmptySession
	}

	plan, err := stitch.PlanJoins(ctx, s.store, s.order, s.joinPolicies)
	if err != nil {
		return nil, err
	}

	job := s.renderer.Start(ctx, plan, s.target)
	s.state = StateRendering
	s.job = job
	s.lastActivity = time.Now()

	go func() {
		track, err := job.Wait()
		s.lock()
		defer s.unlock()
		if s.state == StateClosed {
			return
		}
		s.job = nil
		if err != nil {
			// Cancelled or failed: back to editing, nothing produced.
			s.state = StateEditing
			return
		}
		s.state = StateIdle
		s.lastHash = track.Hash
		s.dirty = false
	}()

	return job, nil
}

// Render is the synchronous convenience wrapper around RequestRender.
func (s *Session) Render(ctx context.Context) (render.Track, error) {
	job, err := s.RequestRender(ctx)
	if err != nil {
		return render.Track{}, err
	}
	return job.Wait()
}

// Close ends the session, cancelling any in-flight render and releasing
// every store retain it holds. Closed is terminal.
func (s *Session) Close() error {
	s.lock()
	defer s.unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	s.closeLocked()
	return nil
}

func (s *Session) closeLocked() {
	if s.job != nil {
		s.job.Cancel()
		s.job = nil
	}
	for _, e := range s.log {
		if e.Kind == EditImport {
			s.store.Release(e.SegmentID)
		}
	}
	s.order = nil
	s.joinPolicies = nil
	s.state = StateClosed
}

// idleSince reports the last mutation or render time.
func (s *Session) idleSince() time.Time {
	s.lock()
	defer s.unlock()
	return s.lastActivity
}

// subsetOf verifies that candidate draws only from the current sequence,
// counting duplicates.
func subsetOf(candidate, current []string) error {
	have := make(map[string]int, len(current))
	for _, id := range current {
		have[id]++
	}
	for _, id := range candidate {
		if have[id] == 0 {
			return fmt.Errorf("%w: segment %s not in session", audio.ErrValidation, id)
		}
		have[id]--
	}
	return nil
}
