// Package tablememory implements the append-only, in-memory sorted table
// that sits above the on-disk LSM tree: values accumulate unsorted while
// Mutable, then are sorted once and handed off as a flushable Immutable
// snapshot.
package tablememory

import (
	"errors"
	"sort"

	"anchor/internal/compare"
)

// ErrFull is returned by Put when the table has already accumulated
// valueCountMax values.
var ErrFull = errors.New("tablememory: table is full")

// ErrNotImmutable is returned by operations that require the table to be in
// the Immutable state (KeyMin, KeyMax, MakeMutable).
var ErrNotImmutable = errors.New("tablememory: table is not immutable")

// ErrNotFlushed is returned by MakeMutable when the immutable snapshot has
// not yet been marked flushed via MarkFlushed.
var ErrNotFlushed = errors.New("tablememory: immutable snapshot not flushed")

// ErrEmpty is returned by KeyMin/KeyMax on an immutable table with no
// values.
var ErrEmpty = errors.New("tablememory: table is empty")

// Table is an append-only in-memory table. It alternates between Mutable
// (accepting Put) and Immutable (read-only, sortable, flushable) states.
// Like every component in this module, Table is not safe for concurrent
// use - it is owned by one executor.
type Table[V any] struct {
	cmp          compare.Func[V]
	valueCountMax int

	values []V
	sorted bool

	immutable   bool
	flushed     bool
	snapshotMin uint64
}

// New constructs an empty, Mutable Table with the given maximum value
// count, ordered by cmp.
func New[V any](valueCountMax int, cmp compare.Func[V]) *Table[V] {
	return &Table[V]{
		cmp:           cmp,
		valueCountMax: valueCountMax,
		values:        make([]V, 0, valueCountMax),
		sorted:        true,
	}
}

// Mutable reports whether the table is currently accepting Put calls.
func (t *Table[V]) Mutable() bool {
	return !t.immutable
}

// Len returns the number of values currently held.
func (t *Table[V]) Len() int {
	return len(t.values)
}

// Sorted reports whether the accumulated values are known to be in
// ascending key order.
func (t *Table[V]) Sorted() bool {
	return t.sorted
}

// Put appends v to the table. Requires Mutable. sorted is downgraded to
// false as soon as v's key is lower than the previously appended value's
// key; it is never upgraded back to true except by MakeImmutable's sort.
func (t *Table[V]) Put(v V) error {
	if t.immutable {
		return errors.New("tablememory: cannot put into an immutable table")
	}
	if len(t.values) >= t.valueCountMax {
		return ErrFull
	}
	if n := len(t.values); n > 0 && t.cmp(t.values[n-1], v) > 0 {
		t.sorted = false
	}
	t.values = append(t.values, v)
	return nil
}

// MakeImmutable transitions the table to Immutable{flushed: false,
// snapshot_min}. If the accumulated values are not already known sorted,
// they are sorted by key ascending first.
func (t *Table[V]) MakeImmutable(snapshotMin uint64) {
	if !t.sorted {
		sort.Slice(t.values, func(i, j int) bool {
			return t.cmp(t.values[i], t.values[j]) < 0
		})
		t.sorted = true
	}
	t.immutable = true
	t.flushed = false
	t.snapshotMin = snapshotMin
}

// MarkFlushed records that this Immutable snapshot has been durably written
// to the LSM, the precondition MakeMutable requires.
func (t *Table[V]) MarkFlushed() error {
	if !t.immutable {
		return ErrNotImmutable
	}
	t.flushed = true
	return nil
}

// Flushed reports whether the current immutable snapshot has been marked
// flushed.
func (t *Table[V]) Flushed() bool {
	return t.immutable && t.flushed
}

// SnapshotMin returns the snapshot_min recorded at the last MakeImmutable
// call. Only meaningful while Immutable.
func (t *Table[V]) SnapshotMin() uint64 {
	return t.snapshotMin
}

// MakeMutable resets the table to empty and Mutable. Requires the table be
// flushed, sorted, and immutable.
func (t *Table[V]) MakeMutable() error {
	if !t.immutable {
		return ErrNotImmutable
	}
	if !t.flushed {
		return ErrNotFlushed
	}
	t.values = t.values[:0]
	t.sorted = true
	t.immutable = false
	t.flushed = false
	t.snapshotMin = 0
	return nil
}

// KeyMin returns the first (lowest-key) value. Only valid while Immutable
// with at least one value.
func (t *Table[V]) KeyMin() (V, error) {
	var zero V
	if !t.immutable {
		return zero, ErrNotImmutable
	}
	if len(t.values) == 0 {
		return zero, ErrEmpty
	}
	return t.values[0], nil
}

// KeyMax returns the last (highest-key) value. Only valid while Immutable
// with at least one value.
func (t *Table[V]) KeyMax() (V, error) {
	var zero V
	if !t.immutable {
		return zero, ErrNotImmutable
	}
	if len(t.values) == 0 {
		return zero, ErrEmpty
	}
	return t.values[len(t.values)-1], nil
}

// Values returns the table's values in their current order. While
// Immutable this is ascending key order; callers must not mutate the
// returned slice.
func (t *Table[V]) Values() []V {
	return t.values
}
