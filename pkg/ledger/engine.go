package ledger

import (
	"anchor/internal/cachemap"
	"anchor/internal/compare"
	"anchor/internal/metrics"
	"anchor/internal/setassoc"
	"anchor/internal/tablememory"
)

// OpKind distinguishes the two mutations Engine.Apply accepts.
type OpKind int

const (
	OpUpsert OpKind = iota
	OpRemove
)

// Op is one mutation in a batch handed to Engine.Apply. Remove ops ignore
// Value.
type Op[V any] struct {
	Kind  OpKind
	Key   [16]byte
	Value V
}

// Sink is the narrow slice of pkg/lsm.Sink Engine needs, parameterized so
// ledger need not import lsm's directio dependency directly.
type Sink[V any] interface {
	Flush(snapshotMin uint64, values []V, encode func(V) []byte) error
}

// Engine glues CacheMap, TableMemory, and a Sink into a storage engine's
// usual control flow: prefetch against the cache, mutate atomically within
// a scope, then flush sorted table snapshots to the LSM.
type Engine[V any] struct {
	cache  *cachemap.Map[[16]byte, V]
	table  *tablememory.Table[V]
	sink   Sink[V]
	keyOf  cachemap.Keyer[[16]byte, V]
	encode func(V) []byte

	tableValueCountMax int
}

// New constructs an Engine over a freshly built set-associative cache of
// the given shape, a stash of stashCapacity and scope budget
// scopeValueCountMax, and a TableMemory bounded at tableValueCountMax,
// ordered by cmp. cacheMetrics, if non-nil, is attached to the underlying
// CacheMap for observability; pass nil to run without cache metrics.
func New[V any](
	sets, ways int,
	hash setassoc.HashFunc[[16]byte],
	stashCapacity, scopeValueCountMax int,
	keyOf cachemap.Keyer[[16]byte, V],
	tableValueCountMax int,
	cmp compare.Func[V],
	encode func(V) []byte,
	sink Sink[V],
	cacheMetrics *metrics.Cache,
) *Engine[V] {
	cache := setassoc.New[[16]byte, V](sets, ways, hash)
	var cacheOpts []cachemap.Option[[16]byte, V]
	if cacheMetrics != nil {
		cacheOpts = append(cacheOpts, cachemap.WithMetrics[[16]byte, V](cacheMetrics))
	}
	return &Engine[V]{
		cache:              cachemap.New(cache, stashCapacity, scopeValueCountMax, keyOf, cacheOpts...),
		table:              tablememory.New(tableValueCountMax, cmp),
		sink:               sink,
		keyOf:              keyOf,
		encode:             encode,
		tableValueCountMax: tableValueCountMax,
	}
}

// Prefetch warms the cache for every key in keys that is not yet resident,
// by calling load for each miss and upserting the result. load returning
// ok=false leaves the key absent. The whole prefetch runs in one scope, so
// an Upsert error partway through (such as the scope's undo log filling up)
// discards the scope and leaves no partially-warmed keys behind.
func (e *Engine[V]) Prefetch(keys [][16]byte, load func(key [16]byte) (V, bool)) error {
	if err := e.cache.ScopeOpen(); err != nil {
		return err
	}

	for _, key := range keys {
		if e.cache.Has(key) {
			continue
		}
		value, ok := load(key)
		if !ok {
			continue
		}
		if err := e.cache.Upsert(value); err != nil {
			if closeErr := e.cache.ScopeClose(cachemap.Discard); closeErr != nil {
				return closeErr
			}
			return err
		}
	}

	return e.cache.ScopeClose(cachemap.Persist)
}

// Get returns the current value for key, checked through the cache and
// both stash generations.
func (e *Engine[V]) Get(key [16]byte) (V, bool) {
	return e.cache.Get(key)
}

// Apply runs a batch of ops inside one scope: every Upsert is applied to
// the cache and staged for the table memory; every Remove is applied to
// the cache only (a removal has nothing to flush). Staged values are only
// appended to the table once every op in the batch has succeeded and the
// scope has been persisted - TableMemory is append-only with no undo, so
// nothing may reach it until the whole batch is known to succeed, or an
// earlier op's append would survive a later op's failure as a phantom
// record. The scope is discarded back to its pre-batch state on the first
// error (staged values are simply dropped, since they were never written
// to the real table), so a batch is all-or-nothing.
func (e *Engine[V]) Apply(ops []Op[V]) error {
	if err := e.cache.ScopeOpen(); err != nil {
		return err
	}

	staged := make([]V, 0, len(ops))
	tableLen := e.table.Len()

	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpUpsert:
			err = e.cache.Upsert(op.Value)
			if err == nil {
				if tableLen+len(staged) >= e.tableValueCountMax {
					err = tablememory.ErrFull
				} else {
					staged = append(staged, op.Value)
				}
			}
		case OpRemove:
			err = e.cache.Remove(op.Key)
		}
		if err != nil {
			if closeErr := e.cache.ScopeClose(cachemap.Discard); closeErr != nil {
				return closeErr
			}
			return err
		}
	}

	if err := e.cache.ScopeClose(cachemap.Persist); err != nil {
		return err
	}
	for _, v := range staged {
		if err := e.table.Put(v); err != nil {
			// Cannot happen: capacity was already checked against
			// tableValueCountMax above, and Table is single-executor.
			return err
		}
	}
	return nil
}

// Flush seals the current table memory snapshot, hands it to the
// configured Sink, and - once the sink confirms durability - marks it
// flushed and returns the table to Mutable, compacting the stash
// generations behind it.
func (e *Engine[V]) Flush(snapshotMin uint64) error {
	e.table.MakeImmutable(snapshotMin)
	if err := e.sink.Flush(snapshotMin, e.table.Values(), e.encode); err != nil {
		return err
	}
	if err := e.table.MarkFlushed(); err != nil {
		return err
	}
	if err := e.table.MakeMutable(); err != nil {
		return err
	}
	return e.cache.Compact()
}
