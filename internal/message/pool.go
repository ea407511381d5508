package message

import (
	"errors"

	"anchor/internal/arena"
	"anchor/internal/ringqueue"
)

// ErrPoolExhausted is returned by Acquire when every slot in the pool is
// currently referenced.
var ErrPoolExhausted = errors.New("message: pool exhausted")

// FreeFunc is invoked synchronously every time a message's reference count
// drops to zero and it is returned to the pool's free list. The
// SessionClient uses this to replenish its own per-client message budget.
type FreeFunc func(m *Message)

// Pool is a fixed-capacity pool of reference-counted Message buffers. All
// slots are carved up front from one arena-backed allocation, the same
// bump-allocate-then-never-shrink approach the arena package itself uses;
// unlike a bump allocator's own Reset, slots here are never reclaimed in
// bulk - they are recycled individually through a free-list ring as
// messages are released.
type Pool struct {
	arena *arena.Arena
	free  *ringqueue.Queue[int]
	msgs  []*Message
	onFree FreeFunc
}

// NewPool constructs a Pool with room for capacity messages, each able to
// hold up to MaxBodySize bytes of body. onFree, if non-nil, is called every
// time a message's last reference is dropped.
func NewPool(capacity int, onFree FreeFunc) *Pool {
	if capacity <= 0 {
		panic("message: pool capacity must be positive")
	}

	// One extra byte for the arena's reserved nil offset 0.
	a := arena.New(uint(capacity)*uint(SlotSize) + 1)
	p := &Pool{
		arena:  a,
		free:   ringqueue.New[int](capacity),
		msgs:   make([]*Message, capacity),
		onFree: onFree,
	}

	for i := 0; i < capacity; i++ {
		offset, err := a.Allocate(uint(SlotSize), 1)
		if err != nil {
			// Cannot happen: the arena was sized for exactly capacity slots
			// plus its reserved nil offset.
			panic(err)
		}
		m := &Message{
			buf:  a.GetBytes(offset, uint(SlotSize)),
			pool: p,
			slot: i,
		}
		p.msgs[i] = m
		_ = p.free.Push(i)
	}

	return p
}

// Capacity returns the total number of slots in the pool.
func (p *Pool) Capacity() int {
	return len(p.msgs)
}

// Available returns the number of slots not currently referenced.
func (p *Pool) Available() int {
	return p.free.Len()
}

// Acquire returns a Message with one reference already held. It returns
// ErrPoolExhausted if every slot is currently in use - the caller (typically
// SessionClient.AcquireMessage) is expected to treat this as a budget error,
// never retry internally.
func (p *Pool) Acquire() (*Message, error) {
	slot, ok := p.free.Pop()
	if !ok {
		return nil, ErrPoolExhausted
	}
	m := p.msgs[slot]
	m.refs.Store(1)
	// Zero the header so a reused slot never leaks a stale checksum chain.
	for i := range m.buf[:HeaderSize] {
		m.buf[i] = 0
	}
	return m, nil
}

// release returns m's slot to the free list and fires the pool's free
// callback. Called only from Message.Unref when the reference count hits
// zero.
func (p *Pool) release(m *Message) {
	_ = p.free.Push(m.slot)
	if p.onFree != nil {
		p.onFree(m)
	}
}

// Close releases the pool's backing allocation. The caller must ensure no
// Message from this pool is still referenced.
func (p *Pool) Close() error {
	return p.arena.Close()
}
