// Package intern provides a persistent intern pool: values are deduplicated
// by their serialized bytes, stored once in a table of an mkv Environment and
// handed out as small proxy handles instead of the materialized value.
//
// The package focuses on:
//   - Content addressed keys that survive hash collisions
//   - Proxy handles that never hold the value itself
//   - Zero-copy access to stored values inside a read transaction
//
// Key Components:
//
//   - Key: (Hash, Seq). Hash is the 32-bit hash of the serialized value, Seq
//     tells apart distinct values with the same hash. Keys are allocated by
//     keyseq.KeySequence, sequence numbers of deleted values are never reused.
//
//   - Pool[V]: Intern, Get, MapValue, ConsumeValue, Delete, Clear, Size,
//     Flush and Close. Interning runs on the Writer of the Environment, all
//     lookups run on their own read transaction and only see committed
//     values. Call Flush to make interned values visible to readers.
//
//   - ValueProxy[V]: (pool, key) handle. Two proxies are equal when pool and
//     key are equal. The pool keeps a bounded LRU cache of proxies so repeated
//     interning of hot values returns the same proxy instance.
//
//   - Value: A tagged union (StringValue, BytesValue, Int64Value, NullValue)
//     with ValueSerde, for pools holding values of different shapes.
//
// Failure handling:
//
//	Every storage failure is logged with the key and a hex dump of the value
//	(debug level) and returned to the caller. The pool never swallows errors.
//
// Usage:
//
//	pool, err := intern.New[intern.Value](env, "symbols", intern.ValueSerde{}, intern.DefaultConfig())
//	p, err := pool.Intern(ctx, intern.StringValue("alpha"))
//	err = pool.Flush(ctx)
//	v, ok, err := p.Get()
package intern
