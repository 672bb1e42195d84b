package table

import (
	"context"

	"github.com/ValentinKolb/mkv/lib/bytebuf"
	"github.com/ValentinKolb/mkv/lib/common"
	"github.com/ValentinKolb/mkv/lib/serde"
	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var tableLogger = logger.GetLogger(common.LoggerTable)

// keySizeHint is the initial capacity of pooled key buffers
const keySizeHint = 64

// Table is a typed view of a raw table.
type Table[K, V any] struct {
	raw    *store.Table
	keys   serde.Serde[K]
	values serde.Serde[V]
}

// KeyRange is a range over typed keys. Start and Stop are only serialized when
// the range type uses them.
type KeyRange[K any] struct {
	Type  store.RangeType
	Start K
	Stop  K
}

// All returns the forward range over every key.
func All[K any]() KeyRange[K] {
	return KeyRange[K]{Type: store.ForwardAll}
}

// Closed returns the forward range [start, stop].
func Closed[K any](start, stop K) KeyRange[K] {
	return KeyRange[K]{Type: store.ForwardClosed, Start: start, Stop: stop}
}

// Open opens (and creates if needed) the table name of env.
func Open[K, V any](env *store.Env, name string, keys serde.Serde[K], values serde.Serde[V]) (*Table[K, V], error) {
	raw, err := env.OpenTable(name, true)
	if err != nil {
		return nil, err
	}
	return &Table[K, V]{raw: raw, keys: keys, values: values}, nil
}

// Name returns the name of the underlying raw table.
func (t *Table[K, V]) Name() string {
	return t.raw.Name()
}

// Raw returns the underlying raw table.
func (t *Table[K, V]) Raw() *store.Table {
	return t.raw
}

func (t *Table[K, V]) writer() *store.Writer {
	return t.raw.Env().Writer()
}

// --------------------------------------------------------------------------
// Serialization helpers
// --------------------------------------------------------------------------

// withKey serializes key into a pooled buffer that is only valid inside fn
func (t *Table[K, V]) withKey(key K, fn func(kb []byte) error) error {
	kb, err := t.keys.Serialize(bytebuf.Get(keySizeHint), key)
	if err != nil {
		return store.WrapError(store.RetCInvalidArgument, "cannot serialize key of "+t.raw.String(), err)
	}
	defer bytebuf.Put(kb)
	return fn(kb)
}

// encodeRange serializes the bounds of r that its type uses
func (t *Table[K, V]) encodeRange(r KeyRange[K]) (store.Range, error) {
	out := store.Range{Type: r.Type}
	var err error
	if r.Type.UsesStart() {
		if out.Start, err = serde.Marshal(t.keys, r.Start); err != nil {
			return out, store.WrapError(store.RetCInvalidArgument, "cannot serialize range start", err)
		}
	}
	if r.Type.UsesStop() {
		if out.Stop, err = serde.Marshal(t.keys, r.Stop); err != nil {
			return out, store.WrapError(store.RetCInvalidArgument, "cannot serialize range stop", err)
		}
	}
	return out, nil
}

func (t *Table[K, V]) decode(k, v []byte) (K, V, error) {
	key, err := t.keys.Deserialize(k)
	if err != nil {
		var value V
		return key, value, store.WrapError(store.RetCStorage, "cannot deserialize key of "+t.raw.String(), err)
	}
	value, err := t.values.Deserialize(v)
	if err != nil {
		return key, value, store.WrapError(store.RetCStorage, "cannot deserialize value of "+t.raw.String(), err)
	}
	return key, value, nil
}

// --------------------------------------------------------------------------
// Writer side operations
// --------------------------------------------------------------------------

// Get returns the value stored under key. It runs on the writer and sees
// applied but uncommitted writes.
func (t *Table[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	type result struct {
		value V
		found bool
	}
	res, err := store.WriteResult(ctx, t.writer(), func(txn *store.WriteTxn) (result, error) {
		var res result
		err := t.withKey(key, func(kb []byte) error {
			v, ok, err := t.raw.Get(txn, kb)
			if err != nil || !ok {
				return err
			}
			res.value, err = t.values.Deserialize(v)
			res.found = err == nil
			return err
		})
		return res, err
	})
	return res.value, res.found, err
}

// putFunc serializes key and value into pooled buffers and stores them
func (t *Table[K, V]) putFunc(key K, value V) store.WriteFunc {
	return func(txn *store.WriteTxn) error {
		return t.withKey(key, func(kb []byte) error {
			vb, err := t.values.Serialize(bytebuf.Get(keySizeHint), value)
			if err != nil {
				return store.WrapError(store.RetCInvalidArgument, "cannot serialize value of "+t.raw.String(), err)
			}
			defer bytebuf.Put(vb)
			_, err = t.raw.Put(txn, kb, vb, false)
			return err
		})
	}
}

// Put stores value under key and blocks until the writer applied it.
func (t *Table[K, V]) Put(ctx context.Context, key K, value V) error {
	return t.writer().Write(ctx, t.putFunc(key, value))
}

// PutAsync queues the put and returns. The value is not necessarily visible
// when PutAsync returns. Failures are passed to the error handler.
func (t *Table[K, V]) PutAsync(ctx context.Context, key K, value V) error {
	return t.writer().WriteAsync(ctx, t.putFunc(key, value))
}

// Delete removes key and reports whether it existed.
func (t *Table[K, V]) Delete(ctx context.Context, key K) (bool, error) {
	return store.WriteResult(ctx, t.writer(), func(txn *store.WriteTxn) (bool, error) {
		var deleted bool
		err := t.withKey(key, func(kb []byte) (err error) {
			deleted, err = t.raw.Delete(txn, kb)
			return err
		})
		return deleted, err
	})
}

// DeleteRange removes every entry in r inside one operation and returns the
// number of removed entries.
func (t *Table[K, V]) DeleteRange(ctx context.Context, r KeyRange[K]) (int, error) {
	rr, err := t.encodeRange(r)
	if err != nil {
		return 0, err
	}
	n, err := store.WriteResult(ctx, t.writer(), func(txn *store.WriteTxn) (int, error) {
		return t.raw.DeleteRange(txn, rr)
	})
	if err == nil {
		tableLogger.Debugf("%s: deleted %d entries in %s", t.raw, n, r.Type)
	}
	return n, err
}

// Clear removes every entry and commits. The table itself is kept.
func (t *Table[K, V]) Clear(ctx context.Context) error {
	err := t.writer().WriteCommit(ctx, t.raw.Drop)
	if err == nil {
		tableLogger.Infof("%s cleared", t.raw)
	}
	return err
}

// --------------------------------------------------------------------------
// Reader side operations
// --------------------------------------------------------------------------

// Scan iterates r in range order and calls fn for every entry until fn
// reports a result. The first result is returned, ok is false when the range
// was exhausted without one.
func Scan[K, V, R any](t *Table[K, V], r KeyRange[K], fn func(key K, value V) (R, bool, error)) (result R, ok bool, err error) {
	rr, err := t.encodeRange(r)
	if err != nil {
		return result, false, err
	}
	err = t.raw.Env().Read(func(txn *store.ReadTxn) error {
		return t.raw.Iterate(txn, rr, func(k, v []byte) (bool, error) {
			key, value, err := t.decode(k, v)
			if err != nil {
				return false, err
			}
			res, found, err := fn(key, value)
			if err != nil {
				return false, err
			}
			if found {
				result, ok = res, true
				return false, nil
			}
			return true, nil
		})
	})
	if err != nil {
		var zero R
		return zero, false, err
	}
	return result, ok, nil
}

// ForEach calls fn for every entry in r until fn returns false or an error.
func (t *Table[K, V]) ForEach(r KeyRange[K], fn func(key K, value V) (bool, error)) error {
	rr, err := t.encodeRange(r)
	if err != nil {
		return err
	}
	return t.raw.Env().Read(func(txn *store.ReadTxn) error {
		return t.raw.Iterate(txn, rr, func(k, v []byte) (bool, error) {
			key, value, err := t.decode(k, v)
			if err != nil {
				return false, err
			}
			return fn(key, value)
		})
	})
}

// MinKey returns the smallest key of the table.
func (t *Table[K, V]) MinKey() (K, bool, error) {
	return t.firstKey(store.ForwardAll)
}

// MaxKey returns the largest key of the table.
func (t *Table[K, V]) MaxKey() (K, bool, error) {
	return t.firstKey(store.BackwardAll)
}

func (t *Table[K, V]) firstKey(rt store.RangeType) (key K, found bool, err error) {
	err = t.raw.Env().Read(func(txn *store.ReadTxn) error {
		return t.raw.Iterate(txn, store.Range{Type: rt}, func(k, _ []byte) (bool, error) {
			key, err = t.keys.Deserialize(k)
			found = err == nil
			return false, err
		})
	})
	return key, found, err
}

// Count returns the number of committed entries.
func (t *Table[K, V]) Count() (uint64, error) {
	return store.ReadResult(t.raw.Env(), func(txn *store.ReadTxn) (uint64, error) {
		return t.raw.Count(txn)
	})
}
