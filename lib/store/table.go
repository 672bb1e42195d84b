package store

import (
	"bytes"
)

// Table is a raw handle to one named key/value collection of an Environment.
// Keys are non-empty byte strings ordered lexicographically. All methods run
// inside a transaction supplied by the caller, writes require the WriteTxn
// handed out by the Writer.
//
// Slices returned by Get or passed to an iteration callback point into the
// memory map and are only valid until the transaction ends.
type Table struct {
	env  *Env
	name string
}

// Name returns the name of the table ("" for the unnamed table).
func (t *Table) Name() string {
	return t.name
}

// Env returns the Environment the table belongs to.
func (t *Table) Env() *Env {
	return t.env
}

func (t *Table) String() string {
	return "table " + displayName(t.name)
}

// Get returns the value for key. The boolean reports whether the key exists.
func (t *Table) Get(txn Txn, key []byte) ([]byte, bool, error) {
	b, err := txn.Bucket(t.name)
	if err != nil {
		return nil, false, err
	}
	k, v := b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false, nil
	}
	return v, true, nil
}

// Put stores value under key. With noOverwrite an existing entry is kept and
// false is returned. Key and value are copied, the caller may reuse them.
func (t *Table) Put(txn *WriteTxn, key, value []byte, noOverwrite bool) (bool, error) {
	if len(key) == 0 {
		return false, NewError(RetCInvalidArgument, "key must not be empty")
	}
	b, err := txn.Bucket(t.name)
	if err != nil {
		return false, err
	}

	k, _ := b.Cursor().Seek(key)
	exists := k != nil && bytes.Equal(k, key)
	if exists && noOverwrite {
		return false, nil
	}

	// bbolt keeps references to key and value until the commit
	kc := append(make([]byte, 0, len(key)), key...)
	vc := append(make([]byte, 0, len(value)), value...)
	if err := b.Put(kc, vc); err != nil {
		return false, t.env.fail(WrapError(RetCStorage, "put failed in "+t.String(), err))
	}
	if !exists {
		if err := txn.addCount(t.name, 1); err != nil {
			return false, t.env.fail(WrapError(RetCStorage, "cannot update counter of "+t.String(), err))
		}
	}
	return true, nil
}

// Delete removes key and reports whether it existed.
func (t *Table) Delete(txn *WriteTxn, key []byte) (bool, error) {
	b, err := txn.Bucket(t.name)
	if err != nil {
		return false, err
	}
	k, _ := b.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return false, nil
	}
	if err := b.Delete(key); err != nil {
		return false, t.env.fail(WrapError(RetCStorage, "delete failed in "+t.String(), err))
	}
	if err := txn.addCount(t.name, -1); err != nil {
		return false, t.env.fail(WrapError(RetCStorage, "cannot update counter of "+t.String(), err))
	}
	return true, nil
}

// Iterate calls fn for every entry in r in range order until fn returns
// false or an error.
func (t *Table) Iterate(txn Txn, r Range, fn func(k, v []byte) (bool, error)) error {
	b, err := txn.Bucket(t.name)
	if err != nil {
		return err
	}
	return r.iterate(b.Cursor(), fn)
}

// DeleteRange removes every entry in r and returns the number of removed
// entries.
func (t *Table) DeleteRange(txn *WriteTxn, r Range) (int, error) {
	b, err := txn.Bucket(t.name)
	if err != nil {
		return 0, err
	}

	// deleting through the cursor while iterating skips entries in bbolt,
	// collect the keys first
	var keys [][]byte
	err = r.iterate(b.Cursor(), func(k, _ []byte) (bool, error) {
		keys = append(keys, append([]byte(nil), k...))
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	for i, k := range keys {
		if err := b.Delete(k); err != nil {
			_ = txn.addCount(t.name, -int64(i))
			return i, t.env.fail(WrapError(RetCStorage, "range delete failed in "+t.String(), err))
		}
	}
	if err := txn.addCount(t.name, -int64(len(keys))); err != nil {
		return len(keys), t.env.fail(WrapError(RetCStorage, "cannot update counter of "+t.String(), err))
	}
	return len(keys), nil
}

// Count returns the number of entries. It reads a counter, not the data.
func (t *Table) Count(txn Txn) (uint64, error) {
	// make sure the table exists and the transaction has begun
	if _, err := txn.Bucket(t.name); err != nil {
		return 0, err
	}
	meta := txn.meta()
	if meta == nil {
		return 0, NewError(RetCInternalError, "meta bucket is missing")
	}
	return decodeCount(meta.Get([]byte(bucketName(t.name)))), nil
}

// Drop removes all entries but keeps the table.
func (t *Table) Drop(txn *WriteTxn) error {
	if _, err := txn.Bucket(t.name); err != nil {
		return err
	}
	name := []byte(bucketName(t.name))
	if err := txn.tx.DeleteBucket(name); err != nil {
		return t.env.fail(WrapError(RetCStorage, "cannot drop "+t.String(), err))
	}
	if _, err := txn.tx.CreateBucket(name); err != nil {
		return t.env.fail(WrapError(RetCStorage, "cannot recreate "+t.String(), err))
	}
	if err := txn.setCount(t.name, 0); err != nil {
		return t.env.fail(WrapError(RetCStorage, "cannot reset counter of "+t.String(), err))
	}
	return nil
}
