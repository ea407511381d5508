// Package cachemap implements a two-tier object cache: a set-associative
// cache backed by two generational hash-map "stash" tiers, with a scoped
// undo log that can atomically persist or revert a batch of mutations.
package cachemap

import (
	"errors"

	"anchor/internal/metrics"
	"anchor/internal/setassoc"
)

// ErrScopeAlreadyOpen is returned by ScopeOpen when a scope is already
// active - at most one scope may be open at a time.
var ErrScopeAlreadyOpen = errors.New("cachemap: scope already open")

// ErrNoScopeOpen is returned by ScopeClose when no scope is active.
var ErrNoScopeOpen = errors.New("cachemap: no scope open")

// ErrScopeCapacityExceeded is returned when a scope would need to track
// more distinct keys than its configured capacity allows. This is a
// programming error, not a recoverable condition - the caller sized the
// scope wrong.
var ErrScopeCapacityExceeded = errors.New("cachemap: scope undo log capacity exceeded")

// Keyer derives a Value's Key by a pure function.
type Keyer[K comparable, V any] func(value V) K

// undo is one entry in the scope's undo log S. tomb means "this key did not
// exist before the scope began" - discard replay removes it rather than
// restoring a value.
type undo[V any] struct {
	value V
	tomb  bool
}

// Map is a two-tier CacheMap: lookup precedence is cache, then gen1, then
// gen2. Only one scope may be open at a time. Map is not safe for
// concurrent use - like every component in this module, it is owned by one
// executor.
type Map[K comparable, V any] struct {
	cache *setassoc.Cache[K, V]
	gen1  map[K]V
	gen2  map[K]V

	scope         map[K]undo[V] // nil when no scope is open
	scopeCapacity int
	keyOf         Keyer[K, V]

	metrics *metrics.Cache
}

// Option configures optional Map behavior.
type Option[K comparable, V any] func(*Map[K, V])

// WithMetrics attaches a metrics.Cache for observability. Metrics never
// gate cache decisions.
func WithMetrics[K comparable, V any](m *metrics.Cache) Option[K, V] {
	return func(mp *Map[K, V]) { mp.metrics = m }
}

// New constructs a Map over the given set-associative cache. stashCapacity
// is a sizing hint for the two stash generations; scopeCapacity must be at
// least as large as the largest number of distinct keys any single scope
// will touch.
func New[K comparable, V any](cache *setassoc.Cache[K, V], stashCapacity, scopeCapacity int, keyOf Keyer[K, V], opts ...Option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		cache:         cache,
		gen1:          make(map[K]V, stashCapacity),
		gen2:          make(map[K]V, stashCapacity),
		scopeCapacity: scopeCapacity,
		keyOf:         keyOf,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ScopeOpen begins a scope. S must be empty, which holds trivially since S
// only exists while a scope is active.
func (m *Map[K, V]) ScopeOpen() error {
	if m.scope != nil {
		return ErrScopeAlreadyOpen
	}
	m.scope = make(map[K]undo[V], m.scopeCapacity)
	return nil
}

// ScopeOpened reports whether a scope is currently active.
func (m *Map[K, V]) ScopeOpened() bool {
	return m.scope != nil
}

// ScopeMode selects how ScopeClose concludes the active scope.
type ScopeMode int

const (
	// Persist drops the undo log, keeping every mutation made during the
	// scope.
	Persist ScopeMode = iota
	// Discard replays the undo log, reverting every mutation made during
	// the scope.
	Discard
)

// ScopeClose ends the active scope. On Persist, S is dropped. On Discard, S
// is replayed (tombstone entries are removed from cache and gen1 only,
// never gen2; other entries are re-upserted) and then cleared.
func (m *Map[K, V]) ScopeClose(mode ScopeMode) error {
	if m.scope == nil {
		return ErrNoScopeOpen
	}
	s := m.scope
	m.scope = nil
	if mode == Persist {
		if m.metrics != nil {
			m.metrics.ScopesCommitted.Inc()
		}
		return nil
	}

	for key, e := range s {
		if e.tomb {
			m.cache.Remove(key)
			delete(m.gen1, key)
			continue
		}
		// m.scope is already nil, so this re-entrant Upsert does not itself
		// record undo entries.
		if err := m.Upsert(e.value); err != nil {
			return err
		}
	}
	if m.metrics != nil {
		m.metrics.ScopesDiscarded.Inc()
	}
	return nil
}

// Get returns the value stored for key, checked in precedence order: cache,
// gen1, gen2.
func (m *Map[K, V]) Get(key K) (V, bool) {
	if v, ok := m.cache.Get(key); ok {
		m.hit()
		return v, true
	}
	if v, ok := m.gen1[key]; ok {
		m.hit()
		return v, true
	}
	if v, ok := m.gen2[key]; ok {
		m.hit()
		return v, true
	}
	m.miss()
	var zero V
	return zero, false
}

func (m *Map[K, V]) hit() {
	if m.metrics != nil {
		m.metrics.Hits.Inc()
	}
}

func (m *Map[K, V]) miss() {
	if m.metrics != nil {
		m.metrics.Misses.Inc()
	}
}

// Has is the existence form of Get. A tombstone value recorded by the
// caller's domain (see the glossary's definition of tombstone) is itself a
// Value like any other and is reported present, exactly like any other
// stored value.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// recordUndo records the pre-mutation state of key into the active scope's
// undo log, the first time key is touched during the scope. Later touches
// of the same key within the same scope are no-ops, so discard always
// reverts to the value that existed when the scope opened (see DESIGN.md
// for why first-touch-wins is required).
func (m *Map[K, V]) recordUndo(key K, value V, tomb bool) error {
	if m.scope == nil {
		return nil
	}
	if _, exists := m.scope[key]; exists {
		return nil
	}
	if len(m.scope) >= m.scopeCapacity {
		return ErrScopeCapacityExceeded
	}
	m.scope[key] = undo[V]{value: value, tomb: tomb}
	return nil
}

// cacheSink adapts a single Upsert call's key into a setassoc.Sink,
// implementing the three-case undo semantics below.
type cacheSink[K comparable, V any] struct {
	m       *Map[K, V]
	key     K
	err     error
	updated bool
}

func (s *cacheSink[K, V]) OnEvict(evicted V, updated bool) {
	if s.m.metrics != nil {
		s.m.metrics.Evictions.Inc()
	}
	s.updated = updated
	if updated {
		// Case 1: evicted is the prior version of the same key.
		s.err = s.m.recordUndo(s.key, evicted, false)
		return
	}
	// Case 2: evicted belongs to a different key, displaced by capacity
	// pressure. It always moves to gen1; it is only recorded into the undo
	// log if a scope is open.
	displacedKey := s.m.keyOf(evicted)
	s.m.gen1[displacedKey] = evicted
	s.err = s.m.recordUndo(displacedKey, evicted, false)
}

// Upsert inserts or updates value, keyed by Keyer. cacheSink.OnEvict above
// implements the exact eviction/undo semantics this applies.
func (m *Map[K, V]) Upsert(value V) error {
	key := m.keyOf(value)
	sink := &cacheSink[K, V]{m: m, key: key}
	evicted := m.cache.Upsert(key, value, sink)
	if sink.err != nil {
		return sink.err
	}
	if evicted && sink.updated {
		return nil
	}

	// Case 3 (no eviction - the value fit into a free way), and the inserted
	// key of case 2: key was not in the cache before this call, so its undo
	// entry restores the stash value or, failing that, removes it.
	if old, ok := m.stashGet(key); ok {
		return m.recordUndo(key, old, false)
	}
	var zero V
	return m.recordUndo(key, zero, true)
}

// stashGet looks up key in gen1 or gen2 only (not the cache), used to
// decide what the case-3 undo entry should restore to.
func (m *Map[K, V]) stashGet(key K) (V, bool) {
	if v, ok := m.gen1[key]; ok {
		return v, true
	}
	if v, ok := m.gen2[key]; ok {
		return v, true
	}
	var zero V
	return zero, false
}

// Remove deletes key from the cache and both stash generations. Removal is
// always attempted against both gen1 and gen2 regardless of where the value
// was found.
func (m *Map[K, V]) Remove(key K) error {
	value, found := m.cache.Remove(key)
	if !found {
		if v, ok := m.gen1[key]; ok {
			value, found = v, true
		} else if v, ok := m.gen2[key]; ok {
			value, found = v, true
		}
	}
	delete(m.gen1, key)
	delete(m.gen2, key)

	if !found {
		return nil
	}
	return m.recordUndo(key, value, false)
}

// Compact clears gen2 and promotes gen1 into its place, leaving gen1 empty.
// This is the cache-invalidation step run between write batches. Compact
// requires no scope to be open.
func (m *Map[K, V]) Compact() error {
	if m.scope != nil {
		return ErrScopeAlreadyOpen
	}
	m.gen2 = m.gen1
	m.gen1 = make(map[K]V, len(m.gen2))
	if m.metrics != nil {
		m.metrics.Compactions.Inc()
	}
	return nil
}
