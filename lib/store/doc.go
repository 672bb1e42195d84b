// Package store provides the storage core of mkv: an Environment over a single
// memory-mapped B+tree file (bbolt), short-lived read transactions, raw tables
// and the Writer that serializes every mutation through one long-lived write
// transaction.
//
// The package focuses on:
//   - A single-writer, multiple-reader model matching the MVCC guarantees of the store
//   - Synchronous, asynchronous and result-returning writes with backpressure
//   - Auto-commit by number of applied operations and by elapsed time
//   - Unified error reporting through typed return codes and one error handler
//
// Key Components:
//
//   - Env: Owns the data file, the lock file and the Writer of one directory.
//     It opens tables, hands out read transactions and reports every
//     unexpected lower-level failure to the configured ErrorHandler before
//     returning it. Deleting the backing files is only possible once closed.
//
//   - Writer: Drains a bounded lock-free queue of operations in FIFO order and
//     applies them to the write transaction it owns. After every operation the
//     AutoCommit policy decides whether to commit. Panics and errors of single
//     operations do not stop the loop. A failed commit rolls the batch back,
//     is reported to the handler and to the waiting callers and the writer
//     continues with a fresh transaction. Stop applies all queued operations
//     and commits before it returns.
//
//   - ReadTxn / WriteTxn: Lazily begun transaction wrappers. Read transactions
//     are bounded by Config.MaxReaders and only ever observe committed state.
//     The write transaction is only usable inside an operation of its Writer,
//     any other use fails with RetCThreadAffinity.
//
//   - Table: Raw byte-keyed table with get, put, delete, ordered range
//     iteration (forward and backward, open and closed bounds), range delete,
//     an O(1) entry count and drop.
//
//   - Error: Error type carrying a RetCode, a message and the wrapped cause.
//
// On-disk layout:
//
//	<dir>/data.mdb   the bbolt data file
//	<dir>/lock.mdb   lock file, held while the Environment is open
//
// Thread Safety:
//
//	Env, Writer and Table are safe for concurrent use. A ReadTxn belongs to the
//	goroutine that created it. The WriteTxn belongs to the Writer.
//
// Usage:
//
//	env, err := store.Build(store.EnvDir{Base: "/var/lib/mkv", SubDir: "pool"}, store.DefaultConfig())
//	if err != nil { ... }
//	defer env.Close()
//
//	tbl, err := env.OpenTable("values", true)
//	err = env.Writer().Write(ctx, func(txn *store.WriteTxn) error {
//	    _, err := tbl.Put(txn, []byte("k"), []byte("v"), false)
//	    return err
//	})
//	err = env.Writer().Sync(ctx)
//
//	v, err := store.ReadResult(env, func(txn *store.ReadTxn) ([]byte, error) {
//	    v, _, err := tbl.Get(txn, []byte("k"))
//	    return bytes.Clone(v), err
//	})
package store
