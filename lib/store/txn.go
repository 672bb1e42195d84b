package store

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Txn Interface
// --------------------------------------------------------------------------

// Txn is implemented by ReadTxn and WriteTxn. Tables accept either for reads.
type Txn interface {
	// Bucket returns the bucket of a table, beginning the underlying
	// transaction if necessary. It fails with RetCNotFound for unknown tables.
	Bucket(name string) (*bbolt.Bucket, error)
	// Writable reports whether the transaction can modify tables
	Writable() bool

	// meta returns the bookkeeping bucket of the begun transaction
	meta() *bbolt.Bucket
}

// --------------------------------------------------------------------------
// Read transaction
// --------------------------------------------------------------------------

// ReadTxn is a short-lived read-only snapshot. It begins lazily on first use
// and must be closed by the goroutine that created it. A ReadTxn must not be
// shared between goroutines.
type ReadTxn struct {
	env    *Env
	tx     *bbolt.Tx
	permit bool
	gate   bool
	closed bool
}

func (r *ReadTxn) begin() error {
	if r.closed {
		return NewError(RetCClosed, "read transaction is closed")
	}
	if r.tx != nil {
		return nil
	}
	if r.env.closed.Load() {
		return NewError(RetCClosed, "environment is closed")
	}

	if err := r.env.readers.Acquire(context.Background(), 1); err != nil {
		return WrapError(RetCInterrupted, "waiting for a reader slot", err)
	}
	r.permit = true

	if r.env.cfg.ReaderBlockedByWriter {
		r.env.writeGate.RLock()
		r.gate = true
	}

	tx, err := r.env.db.Begin(false)
	if err != nil {
		r.release()
		return r.env.fail(WrapError(RetCStorage, "cannot begin read transaction", err))
	}
	r.tx = tx
	return nil
}

// release returns the reader slot and the writer gate
func (r *ReadTxn) release() {
	if r.gate {
		r.env.writeGate.RUnlock()
		r.gate = false
	}
	if r.permit {
		r.env.readers.Release(1)
		r.permit = false
	}
}

// Bucket (docu see Txn)
func (r *ReadTxn) Bucket(name string) (*bbolt.Bucket, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	b := r.tx.Bucket([]byte(bucketName(name)))
	if b == nil {
		return nil, NewError(RetCNotFound, "table "+displayName(name)+" does not exist")
	}
	return b, nil
}

// Writable (docu see Txn)
func (r *ReadTxn) Writable() bool {
	return false
}

func (r *ReadTxn) meta() *bbolt.Bucket {
	if r.tx == nil {
		return nil
	}
	return r.tx.Bucket([]byte(metaBucket))
}

// Close ends the transaction. It is safe to call Close more than once.
func (r *ReadTxn) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if r.tx != nil {
		_ = r.tx.Rollback()
		r.tx = nil
	}
	r.release()
}

// --------------------------------------------------------------------------
// Write transaction
// --------------------------------------------------------------------------

// WriteTxn is the single write transaction of an Environment. It is owned by
// the Writer and is only usable inside a write operation passed to the
// Writer; any use outside of that window fails with RetCThreadAffinity.
type WriteTxn struct {
	env   *Env
	tx    *bbolt.Tx
	gate  bool
	bound atomic.Bool

	uncommitted int
	lastCommit  time.Time
}

func newWriteTxn(env *Env) *WriteTxn {
	return &WriteTxn{
		env:        env,
		lastCommit: time.Now(),
	}
}

func (w *WriteTxn) bind()   { w.bound.Store(true) }
func (w *WriteTxn) unbind() { w.bound.Store(false) }

// checkOwner fails if the transaction is used outside of a write operation
func (w *WriteTxn) checkOwner() error {
	if !w.bound.Load() {
		return NewError(RetCThreadAffinity, "write transaction used outside of the writer")
	}
	return nil
}

// begin lazily starts the underlying transaction
func (w *WriteTxn) begin() error {
	if w.tx != nil {
		return nil
	}
	if w.env.cfg.ReaderBlockedByWriter {
		w.env.writeGate.Lock()
		w.gate = true
	}
	tx, err := w.env.db.Begin(true)
	if err != nil {
		w.releaseGate()
		return w.env.fail(WrapError(RetCStorage, "cannot begin write transaction", err))
	}
	w.tx = tx
	return nil
}

func (w *WriteTxn) releaseGate() {
	if w.gate {
		w.env.writeGate.Unlock()
		w.gate = false
	}
}

// Bucket (docu see Txn)
func (w *WriteTxn) Bucket(name string) (*bbolt.Bucket, error) {
	if err := w.checkOwner(); err != nil {
		return nil, err
	}
	if err := w.begin(); err != nil {
		return nil, err
	}
	b := w.tx.Bucket([]byte(bucketName(name)))
	if b == nil {
		return nil, NewError(RetCNotFound, "table "+displayName(name)+" does not exist")
	}
	return b, nil
}

// Writable (docu see Txn)
func (w *WriteTxn) Writable() bool {
	return true
}

func (w *WriteTxn) meta() *bbolt.Bucket {
	if w.tx == nil {
		return nil
	}
	return w.tx.Bucket([]byte(metaBucket))
}

// Uncommitted returns the number of operations applied since the last commit.
func (w *WriteTxn) Uncommitted() int {
	return w.uncommitted
}

// LastCommit returns the time of the last commit (or of the writer start).
func (w *WriteTxn) LastCommit() time.Time {
	return w.lastCommit
}

// Commit commits all changes made since the last commit. A new underlying
// transaction begins on the next use.
func (w *WriteTxn) Commit() error {
	if err := w.checkOwner(); err != nil {
		return err
	}
	if err := w.commit(); err != nil {
		return w.env.fail(err)
	}
	return nil
}

// Abort discards all changes made since the last commit.
func (w *WriteTxn) Abort() error {
	if err := w.checkOwner(); err != nil {
		return err
	}
	w.abort()
	return nil
}

// commit is the unchecked commit used by the writer loop
func (w *WriteTxn) commit() *Error {
	defer func() {
		w.uncommitted = 0
		w.lastCommit = time.Now()
	}()
	if w.tx == nil {
		return nil
	}

	tx := w.tx
	w.tx = nil
	defer w.releaseGate()

	if err := tx.Commit(); err != nil {
		// bbolt rolls back on most commit failures, make sure it did
		_ = tx.Rollback()
		return WrapError(RetCCommit, "commit failed", err)
	}
	return nil
}

// abort discards the underlying transaction
func (w *WriteTxn) abort() {
	w.uncommitted = 0
	if w.tx == nil {
		return
	}
	_ = w.tx.Rollback()
	w.tx = nil
	w.releaseGate()
}

// Close discards uncommitted writes. Only the writer closes its transaction.
func (w *WriteTxn) close() {
	w.abort()
}

// --------------------------------------------------------------------------
// Table bookkeeping inside the write transaction
// --------------------------------------------------------------------------

// addCount adjusts the entry counter of a table in the meta bucket
func (w *WriteTxn) addCount(table string, delta int64) error {
	if delta == 0 {
		return nil
	}
	meta := w.meta()
	if meta == nil {
		return NewError(RetCInternalError, "meta bucket is missing")
	}
	key := []byte(bucketName(table))
	n := int64(decodeCount(meta.Get(key))) + delta
	if n < 0 {
		n = 0
	}
	return meta.Put(key, encodeCount(uint64(n)))
}

// setCount overwrites the entry counter of a table
func (w *WriteTxn) setCount(table string, n uint64) error {
	meta := w.meta()
	if meta == nil {
		return NewError(RetCInternalError, "meta bucket is missing")
	}
	return meta.Put([]byte(bucketName(table)), encodeCount(n))
}

// createTable creates the bucket and the counter of a table if missing.
// It returns true if the table was created.
func (w *WriteTxn) createTable(name string, maxTables int) (bool, error) {
	if err := w.checkOwner(); err != nil {
		return false, err
	}
	if err := w.begin(); err != nil {
		return false, err
	}
	if w.tx.Bucket([]byte(bucketName(name))) != nil {
		return false, nil
	}

	// the unnamed table must not be mixed with named tables
	existing := tableNames(w.tx)
	for _, n := range existing {
		if (n == "") != (name == "") {
			return false, NewError(RetCConfig, "the unnamed table cannot be mixed with named tables")
		}
	}
	if len(existing) >= maxTables {
		return false, NewError(RetCConfig, "maximum number of tables reached")
	}

	if _, err := w.tx.CreateBucket([]byte(bucketName(name))); err != nil {
		return false, WrapError(RetCStorage, "cannot create table "+displayName(name), err)
	}
	if err := w.setCount(name, 0); err != nil {
		return false, WrapError(RetCStorage, "cannot create table counter", err)
	}
	return true, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

const (
	metaBucket    = "__mkv_meta__"
	unnamedBucket = "__mkv_unnamed__"
)

// bucketName maps a table name onto its bucket, bbolt does not allow empty
// bucket names
func bucketName(table string) string {
	if table == "" {
		return unnamedBucket
	}
	return table
}

func displayName(table string) string {
	if table == "" {
		return "<unnamed>"
	}
	return "'" + table + "'"
}

// tableNames lists all table buckets of a transaction
func tableNames(tx *bbolt.Tx) []string {
	var names []string
	_ = tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		switch n := string(name); n {
		case metaBucket:
		case unnamedBucket:
			names = append(names, "")
		default:
			names = append(names, n)
		}
		return nil
	})
	return names
}

func encodeCount(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func decodeCount(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
