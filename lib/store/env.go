package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/mkv/lib/common"
	"github.com/docker/go-units"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.etcd.io/bbolt"
	"golang.org/x/sync/semaphore"
)

var storeLogger = logger.GetLogger(common.LoggerStore)

// Env is an open Environment: one memory-mapped store in one directory with
// any number of tables, concurrent read transactions and a single Writer.
type Env struct {
	id  string
	dir EnvDir
	cfg Config

	db   *bbolt.DB
	lock *flock.Flock

	readers   *semaphore.Weighted
	writeGate sync.RWMutex // only used with Config.ReaderBlockedByWriter
	writer    *Writer
	tables    *xsync.MapOf[string, *Table]

	closeMu sync.Mutex
	closed  atomic.Bool
	handler ErrorHandler
}

// Build validates the configuration, prepares the directory and opens the
// Environment. The writer is started before Build returns.
func Build(dir EnvDir, cfg Config) (*Env, error) {
	handler := cfg.ErrorHandler
	if handler == nil {
		handler = LogErrorHandler(storeLogger)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := dir.EnsureExists(); err != nil {
		return nil, err
	}

	lock := flock.New(dir.LockFile())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, WrapError(RetCConfig, "cannot lock "+dir.LockFile(), err)
	}
	if !locked {
		return nil, NewError(RetCConfig, fmt.Sprintf("directory %s is used by another environment", dir.Path()))
	}

	opts := &bbolt.Options{
		Timeout:         cfg.OpenTimeout,
		InitialMmapSize: initialMmapSize(cfg.MaxMapSize),
		MaxSize:         int(cfg.MaxMapSize),
		NoGrowSync:      cfg.Flags.Has(FlagNoGrowSync),
		NoFreelistSync:  cfg.Flags.Has(FlagNoFreelistSync),
		NoSync:          cfg.Flags.Has(FlagNoSync),
		FreelistType:    bbolt.FreelistMapType,
		MmapFlags:       mmapFlags(cfg.ReadAhead && !cfg.Flags.Has(FlagNoReadAhead)),
	}
	db, err := bbolt.Open(dir.DataFile(), 0o600, opts)
	if err != nil {
		_ = lock.Unlock()
		return nil, WrapError(RetCStorage, "cannot open "+dir.DataFile(), err)
	}

	// the bookkeeping bucket exists before any table
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	}); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, WrapError(RetCStorage, "cannot initialize "+dir.DataFile(), err)
	}

	env := &Env{
		id:      uuid.NewString(),
		dir:     dir,
		cfg:     cfg,
		db:      db,
		lock:    lock,
		readers: semaphore.NewWeighted(int64(cfg.MaxReaders)),
		tables:  xsync.NewMapOf[string, *Table](),
		handler: handler,
	}
	env.writer = newWriter(env, cfg.AutoCommit)
	env.writer.Start()

	storeLogger.Infof("env %s opened at %s (map size %s)", env.id, dir.Path(), units.BytesSize(float64(cfg.MaxMapSize)))
	return env, nil
}

// ID returns the random instance id of the Environment.
func (e *Env) ID() string {
	return e.id
}

// Dir returns the directory of the Environment.
func (e *Env) Dir() EnvDir {
	return e.dir
}

// Config returns the configuration the Environment was built with.
func (e *Env) Config() Config {
	return e.cfg
}

// Writer returns the single Writer of the Environment.
func (e *Env) Writer() *Writer {
	return e.writer
}

// IsClosed reports whether Close was called.
func (e *Env) IsClosed() bool {
	return e.closed.Load()
}

// --------------------------------------------------------------------------
// Error routing
// --------------------------------------------------------------------------

// initialMmapSize is the largest size bbolt maps without rounding up that
// does not exceed max. bbolt doubles mappings up to 1GiB, above it grows in
// steps of 1GiB.
func initialMmapSize(max int64) int {
	const step = 1 << 30
	if max >= step {
		return int(max - max%step)
	}
	size := int64(1 << 15)
	for size*2 <= max {
		size *= 2
	}
	return int(size)
}

// handle passes err to the error handler
func (e *Env) handle(err error) {
	defer func() {
		if r := recover(); r != nil {
			storeLogger.Errorf("error handler panicked: %v", r)
		}
	}()
	e.handler(err)
}

// fail passes an unexpected failure to the error handler and returns it
func (e *Env) fail(err *Error) error {
	if err == nil {
		return nil
	}
	if !err.handled {
		err.handled = true
		e.handle(err)
	}
	return err
}

// --------------------------------------------------------------------------
// Tables
// --------------------------------------------------------------------------

// OpenTable returns the table with the given name. With create the table is
// created if it does not exist, otherwise a missing table is a RetCNotFound
// error. The empty name is the unnamed table, it cannot be used together with
// named tables.
func (e *Env) OpenTable(name string, create bool) (*Table, error) {
	if e.closed.Load() {
		return nil, NewError(RetCClosed, "environment is closed")
	}
	if t, ok := e.tables.Load(name); ok {
		return t, nil
	}
	if strings.HasPrefix(name, "__mkv_") {
		return nil, NewError(RetCInvalidArgument, fmt.Sprintf("table name %q is reserved", name))
	}

	exists, err := e.HasTable(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		if !create {
			return nil, NewError(RetCNotFound, "table "+displayName(name)+" does not exist")
		}
		// bbolt allows a single write transaction, creation goes through the writer
		err := e.writer.WriteCommit(context.Background(), func(txn *WriteTxn) error {
			created, err := txn.createTable(name, e.cfg.MaxTables)
			if created {
				storeLogger.Infof("env %s: created table %s", e.id, displayName(name))
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	t, _ := e.tables.LoadOrStore(name, &Table{env: e, name: name})
	return t, nil
}

// HasTable reports whether a table exists without opening it.
func (e *Env) HasTable(name string) (bool, error) {
	return ReadResult(e, func(txn *ReadTxn) (bool, error) {
		if _, err := txn.Bucket(name); err != nil {
			if HasCode(err, RetCNotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
}

// TableNames lists the committed tables in name order.
func (e *Env) TableNames() ([]string, error) {
	return ReadResult(e, func(txn *ReadTxn) ([]string, error) {
		if err := txn.begin(); err != nil {
			return nil, err
		}
		names := tableNames(txn.tx)
		sort.Strings(names)
		return names, nil
	})
}

// --------------------------------------------------------------------------
// Read transactions
// --------------------------------------------------------------------------

// ReadTxn returns a new read transaction. It begins on first use and must be
// closed by the caller.
func (e *Env) ReadTxn() *ReadTxn {
	return &ReadTxn{env: e}
}

// Read runs fn inside a read transaction that is closed afterwards.
func (e *Env) Read(fn func(txn *ReadTxn) error) error {
	txn := e.ReadTxn()
	defer txn.Close()
	return fn(txn)
}

// ReadResult runs fn inside a read transaction and returns its result.
func ReadResult[R any](e *Env, fn func(txn *ReadTxn) (R, error)) (R, error) {
	txn := e.ReadTxn()
	defer txn.Close()
	return fn(txn)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close stops the writer (committing everything it applied), closes the store
// and releases the lock file. Closing twice returns a RetCClosed error.
func (e *Env) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()

	if e.closed.Load() {
		return NewError(RetCClosed, "environment is already closed")
	}

	var result *multierror.Error
	if err := e.writer.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	e.closed.Store(true)

	if err := e.db.Close(); err != nil {
		result = multierror.Append(result, e.fail(WrapError(RetCStorage, "cannot close store", err)))
	}
	if err := e.lock.Unlock(); err != nil {
		result = multierror.Append(result, e.fail(WrapError(RetCStorage, "cannot release lock file", err)))
	}
	e.tables.Clear()

	storeLogger.Infof("env %s closed", e.id)
	return result.ErrorOrNil()
}

// Delete removes the backing files of a closed Environment. A dedicated
// directory is removed entirely.
func (e *Env) Delete() error {
	if !e.closed.Load() {
		return e.fail(NewError(RetCInvalidArgument, "cannot delete an open environment, close it first"))
	}

	for name, size := range e.dir.fileSizes() {
		storeLogger.Debugf("env %s: deleting %s (%s)", e.id, name, units.BytesSize(float64(size)))
	}
	if err := e.dir.Delete(); err != nil {
		return e.fail(err.(*Error))
	}
	storeLogger.Infof("env %s: deleted %s", e.id, e.dir.Path())
	return nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Info describes an open Environment.
type Info struct {
	ID          string
	Path        string
	MaxMapSize  int64
	SizeOnDisk  int64
	Tables      map[string]uint64 // table name to entry count
	ReadTxnOpen int
	Writer      WriterStats
}

// Info returns the map size, the size on disk and the entry count of every table.
func (e *Env) Info() (Info, error) {
	info := Info{
		ID:         e.id,
		Path:       e.dir.Path(),
		MaxMapSize: e.cfg.MaxMapSize,
		Tables:     make(map[string]uint64),
		Writer:     e.writer.Stats(),
	}
	if st, err := os.Stat(e.dir.DataFile()); err == nil {
		info.SizeOnDisk = st.Size()
	}

	err := e.Read(func(txn *ReadTxn) error {
		if err := txn.begin(); err != nil {
			return err
		}
		for _, name := range tableNames(txn.tx) {
			t := &Table{env: e, name: name}
			n, err := t.Count(txn)
			if err != nil {
				return err
			}
			info.Tables[name] = n
		}
		return nil
	})
	info.ReadTxnOpen = e.db.Stats().OpenTxN
	return info, err
}
