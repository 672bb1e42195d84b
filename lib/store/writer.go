package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mkv/lib/common"
	"github.com/ValentinKolb/mkv/lib/util"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
)

var writerLogger = logger.GetLogger(common.LoggerWriter)

// --------------------------------------------------------------------------
// Writer state
// --------------------------------------------------------------------------

// WriterState is the lifecycle state of a Writer.
type WriterState int32

const (
	WriterStopped WriterState = iota
	WriterStarting
	WriterRunning
	WriterStopping
)

func (s WriterState) String() string {
	switch s {
	case WriterStopped:
		return "Stopped"
	case WriterStarting:
		return "Starting"
	case WriterRunning:
		return "Running"
	case WriterStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Write operations
// --------------------------------------------------------------------------

// WriteFunc is a unit of work applied by the writer inside the write transaction.
type WriteFunc func(txn *WriteTxn) error

type opKind uint8

const (
	opWrite       opKind = iota // apply, then run the auto commit policy
	opWriteCommit               // apply, then commit
	opSync                      // commit only
)

type op struct {
	fn   WriteFunc
	kind opKind
	done chan error // nil for fire-and-forget operations
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// Writer serializes all mutations of an Environment. Operations are queued
// from any goroutine and applied in FIFO order by one goroutine that holds
// the only write transaction. Every Environment owns exactly one Writer.
type Writer struct {
	env *Env

	mu      sync.Mutex // guards lifecycle transitions and the fields below
	state   atomic.Int32
	queue   *util.MPSC[op]
	done    chan struct{} // closed when the loop has exited
	txn     *WriteTxn
	stopErr error

	policy  atomic.Pointer[AutoCommit]
	metrics *writerMetrics
}

func newWriter(env *Env, policy AutoCommit) *Writer {
	w := &Writer{env: env}
	w.policy.Store(&policy)
	w.metrics = newWriterMetrics(env.id, w.queueLen)
	return w
}

// State returns the current lifecycle state.
func (w *Writer) State() WriterState {
	return WriterState(w.state.Load())
}

// Start launches the writer goroutine. Calling Start on a running writer is a
// no-op. A stopped writer can be started again.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.State() != WriterStopped {
		return
	}
	w.state.Store(int32(WriterStarting))

	w.queue = util.NewMPSC[op](w.env.cfg.QueueCapacity)
	w.done = make(chan struct{})
	w.txn = newWriteTxn(w.env)
	w.stopErr = nil

	started := make(chan struct{})
	go w.run(w.queue, w.done, w.txn, started)
	<-started

	writerLogger.Debugf("writer of env %s started", w.env.id)
}

// Stop stops accepting operations, applies the ones already queued, commits
// and waits for the writer goroutine to exit. It returns the error of the
// final commit. Calling Stop on a stopped writer is a no-op.
func (w *Writer) Stop() error {
	w.mu.Lock()
	if w.State() != WriterRunning {
		w.mu.Unlock()
		return nil
	}
	w.state.Store(int32(WriterStopping))
	queue, done := w.queue, w.done
	w.mu.Unlock()

	queue.Close()
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Store(int32(WriterStopped))
	writerLogger.Debugf("writer of env %s stopped", w.env.id)
	return w.stopErr
}

// SetAutoCommit replaces the policy run after every applied operation. The
// new policy is used from the next operation on.
func (w *Writer) SetAutoCommit(policy AutoCommit) {
	w.policy.Store(&policy)
}

// AutoCommit returns the current policy.
func (w *Writer) AutoCommit() AutoCommit {
	return *w.policy.Load()
}

// --------------------------------------------------------------------------
// Submission API
// --------------------------------------------------------------------------

// Write queues fn and blocks until the writer has applied it. The change is
// not necessarily committed when Write returns. A full queue blocks until
// ctx is done.
func (w *Writer) Write(ctx context.Context, fn WriteFunc) error {
	return w.submitAndWait(ctx, &op{fn: fn, kind: opWrite, done: make(chan error, 1)})
}

// WriteCommit is like Write but also commits the transaction after fn.
func (w *Writer) WriteCommit(ctx context.Context, fn WriteFunc) error {
	return w.submitAndWait(ctx, &op{fn: fn, kind: opWriteCommit, done: make(chan error, 1)})
}

// WriteAsync queues fn and returns without waiting for it. It only blocks
// while the queue is full. Failures of fn are passed to the error handler.
func (w *Writer) WriteAsync(ctx context.Context, fn WriteFunc) error {
	_, err := w.submit(ctx, &op{fn: fn, kind: opWrite})
	return err
}

// Sync blocks until every operation queued before it is applied and committed.
func (w *Writer) Sync(ctx context.Context) error {
	return w.submitAndWait(ctx, &op{kind: opSync, done: make(chan error, 1)})
}

// WriteResult queues fn, waits until it has been applied and returns its result.
func WriteResult[R any](ctx context.Context, w *Writer, fn func(txn *WriteTxn) (R, error)) (R, error) {
	var result R
	err := w.Write(ctx, func(txn *WriteTxn) error {
		r, err := fn(txn)
		result = r
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}

// submit enqueues o and returns the done channel of the current run
func (w *Writer) submit(ctx context.Context, o *op) (<-chan struct{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	w.mu.Lock()
	state, queue, done := w.State(), w.queue, w.done
	w.mu.Unlock()

	if state != WriterRunning {
		return nil, NewError(RetCClosed, "writer is "+state.String())
	}
	if err := queue.Push(ctx, o); err != nil {
		if errors.Is(err, util.ErrQueueClosed) {
			return nil, NewError(RetCClosed, "writer is stopping")
		}
		return nil, fromContext(err, true)
	}
	return done, nil
}

// submitAndWait enqueues o and waits for its result
func (w *Writer) submitAndWait(ctx context.Context, o *op) error {
	done, err := w.submit(ctx, o)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case err := <-o.done:
		return err
	case <-done:
		// the result is sent before the loop exits
		select {
		case err := <-o.done:
			return err
		default:
			return NewError(RetCClosed, "writer stopped before applying the operation")
		}
	case <-ctx.Done():
		return fromContext(ctx.Err(), false)
	}
}

// --------------------------------------------------------------------------
// Writer loop
// --------------------------------------------------------------------------

// run is the writer goroutine. It owns txn exclusively.
func (w *Writer) run(queue *util.MPSC[op], done chan struct{}, txn *WriteTxn, started chan struct{}) {
	defer close(done)

	w.state.Store(int32(WriterRunning))
	close(started)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	// arm schedules a time based commit for the open batch
	arm := func() {
		policy := w.AutoCommit()
		if policy.MaxElapsed <= 0 || txn.uncommitted == 0 || timer != nil {
			return
		}
		d := time.Until(txn.lastCommit.Add(policy.MaxElapsed))
		if d < 0 {
			d = 0
		}
		timer = time.NewTimer(d)
		timerC = timer.C
	}
	defer disarm()

	for {
		select {
		case o, ok := <-queue.Recv():
			if !ok {
				// queue closed and drained: final commit
				err := w.commit(txn)
				txn.close()
				w.mu.Lock()
				w.stopErr = err
				w.mu.Unlock()
				return
			}
			w.apply(txn, o)
			if txn.uncommitted == 0 {
				disarm()
			} else {
				arm()
			}

		case <-timerC:
			timer, timerC = nil, nil
			if w.AutoCommit().ShouldCommit(txn.uncommitted, txn.lastCommit, time.Now()) {
				_ = w.commit(txn)
			}
			arm()
		}
	}
}

// apply runs one operation and the commit policy and reports the outcome
func (w *Writer) apply(txn *WriteTxn, o *op) {
	var opErr, commitErr error

	switch o.kind {
	case opSync:
		commitErr = w.commit(txn)
	default:
		opErr = w.invoke(txn, o.fn)
		txn.uncommitted++
		w.metrics.ops.Inc()
		if opErr != nil {
			w.metrics.opErrors.Inc()
			if !wasHandled(opErr) {
				w.env.handle(opErr)
			}
		}

		if o.kind == opWriteCommit || w.AutoCommit().ShouldCommit(txn.uncommitted, txn.lastCommit, time.Now()) {
			commitErr = w.commit(txn)
		}
	}

	if o.done != nil {
		var result *multierror.Error
		if opErr != nil {
			result = multierror.Append(result, opErr)
		}
		if commitErr != nil {
			result = multierror.Append(result, commitErr)
		}
		if result != nil && len(result.Errors) == 1 {
			o.done <- result.Errors[0]
		} else {
			o.done <- result.ErrorOrNil()
		}
	}
}

// invoke applies fn inside the thread affinity window and turns panics into errors
func (w *Writer) invoke(txn *WriteTxn, fn WriteFunc) (err error) {
	txn.bind()
	defer txn.unbind()
	defer func() {
		if r := recover(); r != nil {
			err = NewError(RetCInternalError, fmt.Sprintf("panic in write operation: %v", r))
		}
	}()
	if fn == nil {
		return nil
	}
	return fn(txn)
}

// commit commits the batch. On failure the batch is rolled back, the error is
// reported and the writer continues with a fresh transaction.
func (w *Writer) commit(txn *WriteTxn) error {
	batch := txn.uncommitted
	hadTxn := txn.tx != nil

	err := txn.commit()
	if !hadTxn {
		return nil
	}

	w.metrics.commits.Inc()
	w.metrics.batchSize.Update(float64(batch))
	if err != nil {
		w.metrics.commitErrors.Inc()
		writerLogger.Warningf("env %s: commit of %d operations failed, continuing with a fresh transaction", w.env.id, batch)
		return w.env.fail(err)
	}
	writerLogger.Debugf("env %s: committed %d operations", w.env.id, batch)
	return nil
}

// queueLen reports the length of the current queue (for the metrics gauge)
func (w *Writer) queueLen() float64 {
	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()
	if q == nil {
		return 0
	}
	return float64(q.Len())
}

// queueCap reports the capacity of the current queue
func (w *Writer) queueCap() int {
	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.Cap()
}
