// Package handle implements a generational handle table.
//
// A Table owns its values in arena slots. Callers hold Handles, which are
// plain values naming a slot and the generation it was issued at. Removing a
// value bumps the slot generation, so every copy of the old handle is
// detected as stale instead of aliasing whatever reuses the slot.
package handle

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrClosed = errors.New("handle table closed")
	ErrNull   = errors.New("null handle")
	ErrStale  = errors.New("stale handle")
)

// Handle names a slot in a Table. The zero Handle is the null sentinel.
type Handle struct {
	index uint32 // slot index + 1
	gen   uint32
}

// IsNull reports whether h is the null sentinel.
func (h Handle) IsNull() bool { return h.index == 0 }

// Index returns the zero-based slot index. Only meaningful for non-null handles.
func (h Handle) Index() int { return int(h.index) - 1 }

// Generation returns the slot generation the handle was issued at.
func (h Handle) Generation() uint32 { return h.gen }

func (h Handle) String() string {
	if h.IsNull() {
		return "handle(null)"
	}
	return fmt.Sprintf("handle(%d@%d)", h.Index(), h.gen)
}

type slot[T any] struct {
	value T
	gen   uint32
	valid bool
}

// Table is an arena of values addressed by generational handles.
type Table[T any] struct {
	slots    []slot[T]
	freeList []uint32
	live     int
	mu       sync.RWMutex
	closed   bool
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		slots:    make([]slot[T], 0, 16),
		freeList: make([]uint32, 0, 4),
	}
}

// Insert stores a value and returns its handle.
func (t *Table[T]) Insert(value T) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Handle{}, ErrClosed
	}

	t.live++
	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		s := &t.slots[idx]
		s.value = value
		s.valid = true
		return Handle{index: idx + 1, gen: s.gen}, nil
	}

	t.slots = append(t.slots, slot[T]{value: value, valid: true})
	return Handle{index: uint32(len(t.slots))}, nil
}

// Get returns the value for h. The error is ErrNull, ErrStale or ErrClosed.
func (t *Table[T]) Get(h Handle) (T, error) {
	var zero T
	if h.IsNull() {
		return zero, ErrNull
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return zero, ErrClosed
	}
	s, ok := t.lookup(h)
	if !ok {
		return zero, ErrStale
	}
	return s.value, nil
}

// Valid reports whether h currently names a live value.
func (t *Table[T]) Valid(h Handle) bool {
	_, err := t.Get(h)
	return err == nil
}

// Remove releases the slot of h and returns the value it held.
// A second Remove of the same handle returns ErrStale.
func (t *Table[T]) Remove(h Handle) (T, error) {
	var zero T
	if h.IsNull() {
		return zero, ErrNull
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return zero, ErrClosed
	}
	s, ok := t.lookup(h)
	if !ok {
		return zero, ErrStale
	}

	value := s.value
	s.value = zero
	s.valid = false
	s.gen++
	t.live--
	t.freeList = append(t.freeList, h.index-1)
	return value, nil
}

// Len returns the number of live values.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Handles returns the handles of all live values in slot order.
func (t *Table[T]) Handles() []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Handle, 0, t.live)
	for i := range t.slots {
		if t.slots[i].valid {
			out = append(out, Handle{index: uint32(i) + 1, gen: t.slots[i].gen})
		}
	}
	return out
}

// Close drops every value. Handles issued before Close report ErrClosed.
func (t *Table[T]) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.slots = nil
	t.freeList = nil
	t.live = 0
	return nil
}

func (t *Table[T]) lookup(h Handle) (*slot[T], bool) {
	idx := int(h.index) - 1
	if idx >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.valid || s.gen != h.gen {
		return nil, false
	}
	return s, true
}
