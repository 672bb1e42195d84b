package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.Writer()
	assert.Equal(t, WriterRunning, w.State())
	assert.Equal(t, DefaultQueueCapacity, w.Stats().QueueCap)

	w.Start() // idempotent
	assert.Equal(t, WriterRunning, w.State())

	require.NoError(t, w.Stop())
	assert.Equal(t, WriterStopped, w.State())
	require.NoError(t, w.Stop())

	err := w.Write(context.Background(), func(*WriteTxn) error { return nil })
	assert.Equal(t, RetCClosed, CodeOf(err))

	w.Start()
	assert.Equal(t, WriterRunning, w.State())
	require.NoError(t, w.Write(context.Background(), func(*WriteTxn) error { return nil }))
}

// concurrent writers never interleave below the granularity of one operation
// and each producer's operations keep their submission order
func TestSingleWriterOrdering(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("counter", true)
	require.NoError(t, err)

	const producers = 8
	const perProducer = 200

	var (
		applied []int // only touched by the writer goroutine
		running atomic.Int32
	)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				id := p*perProducer + i
				err := env.Writer().Write(context.Background(), func(txn *WriteTxn) error {
					if running.Add(1) != 1 {
						t.Errorf("operations overlap")
					}
					defer running.Add(-1)

					// read-modify-write of a shared counter
					v, _, err := tbl.Get(txn, []byte("n"))
					if err != nil {
						return err
					}
					var n uint64
					if len(v) == 8 {
						n = binary.BigEndian.Uint64(v)
					}
					buf := make([]byte, 8)
					binary.BigEndian.PutUint64(buf, n+1)
					if _, err := tbl.Put(txn, []byte("n"), buf, false); err != nil {
						return err
					}
					applied = append(applied, id)
					return nil
				})
				if err != nil {
					t.Errorf("write %d: %v", id, err)
				}
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, env.Writer().Sync(context.Background()))

	// no lost updates
	v, ok := readValue(t, env, tbl, "n")
	require.True(t, ok)
	assert.Equal(t, uint64(producers*perProducer), binary.BigEndian.Uint64([]byte(v)))

	// per producer order
	require.Len(t, applied, producers*perProducer)
	last := make(map[int]int)
	for _, id := range applied {
		p, i := id/perProducer, id%perProducer
		if prev, ok := last[p]; ok {
			require.Greater(t, i, prev, "producer %d out of order", p)
		}
		last[p] = i
	}
}

// a read transaction only observes state committed before it began
func TestReadIsolation(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	old := env.ReadTxn()
	defer old.Close()
	_, found, err := tbl.Get(old, []byte("k")) // begins the snapshot
	require.NoError(t, err)
	require.False(t, found)

	put(t, env, tbl, "k", "v")

	// applied but not committed: invisible to everyone
	_, found = readValue(t, env, tbl, "k")
	assert.False(t, found)

	require.NoError(t, env.Writer().Sync(context.Background()))

	_, found, err = tbl.Get(old, []byte("k"))
	require.NoError(t, err)
	assert.False(t, found, "old snapshot must not see the committed write")

	v, found := readValue(t, env, tbl, "k")
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestAutoCommitByCount(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)
	env.Writer().SetAutoCommit(AutoCommit{MaxItems: 5})

	for i := 0; i < 4; i++ {
		put(t, env, tbl, fmt.Sprintf("k%d", i), "v")
	}
	_, found := readValue(t, env, tbl, "k0")
	assert.False(t, found, "4 of 5 writes must not trigger a commit")

	put(t, env, tbl, "k4", "v")
	for i := 0; i < 5; i++ {
		_, found := readValue(t, env, tbl, fmt.Sprintf("k%d", i))
		assert.True(t, found, "k%d", i)
	}

	count, err := ReadResult(env, func(txn *ReadTxn) (uint64, error) { return tbl.Count(txn) })
	require.NoError(t, err)
	assert.Equal(t, uint64(5), count)
}

func TestAutoCommitByTime(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)
	env.Writer().SetAutoCommit(AutoCommit{MaxItems: 1 << 30, MaxElapsed: 200 * time.Millisecond})

	put(t, env, tbl, "k", "v")
	time.Sleep(250 * time.Millisecond)

	v, found := readValue(t, env, tbl, "k")
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

func TestWriteCommit(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	require.NoError(t, env.Writer().WriteCommit(context.Background(), func(txn *WriteTxn) error {
		_, err := tbl.Put(txn, []byte("k"), []byte("v"), false)
		return err
	}))
	_, found := readValue(t, env, tbl, "k")
	assert.True(t, found)
}

func TestWriteResult(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	inserted, err := WriteResult(context.Background(), env.Writer(), func(txn *WriteTxn) (bool, error) {
		return tbl.Put(txn, []byte("k"), []byte("v1"), true)
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = WriteResult(context.Background(), env.Writer(), func(txn *WriteTxn) (bool, error) {
		return tbl.Put(txn, []byte("k"), []byte("v2"), true)
	})
	require.NoError(t, err)
	assert.False(t, inserted, "no-overwrite put must keep the first value")

	// the writer sees its own uncommitted state
	v, err := WriteResult(context.Background(), env.Writer(), func(txn *WriteTxn) (string, error) {
		v, _, err := tbl.Get(txn, []byte("k"))
		return string(v), err
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}

// writes acknowledged before Close survive a reopen
func TestShutdownDurability(t *testing.T) {
	dir := EnvDir{Base: t.TempDir(), SubDir: "durable"}
	env, err := Build(dir, testConfig())
	require.NoError(t, err)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		put(t, env, tbl, fmt.Sprintf("k%02d", i), "v")
	}
	for i := 50; i < 100; i++ {
		require.NoError(t, env.Writer().WriteAsync(context.Background(), func(txn *WriteTxn) error {
			_, err := tbl.Put(txn, []byte(fmt.Sprintf("k%02d", i)), []byte("v"), false)
			return err
		}))
	}
	require.NoError(t, env.Close())

	env, err = Build(dir, testConfig())
	require.NoError(t, err)
	defer env.Close()
	tbl, err = env.OpenTable("values", false)
	require.NoError(t, err)

	count, err := ReadResult(env, func(txn *ReadTxn) (uint64, error) { return tbl.Count(txn) })
	require.NoError(t, err)
	assert.Equal(t, uint64(100), count)
}

func TestOperationFailuresDoNotStopTheWriter(t *testing.T) {
	var handled atomic.Int32
	env := newTestEnv(t, func(cfg *Config) {
		cfg.ErrorHandler = func(error) { handled.Add(1) }
	})
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = env.Writer().Write(context.Background(), func(*WriteTxn) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = env.Writer().Write(context.Background(), func(*WriteTxn) error { panic("kaputt") })
	require.Error(t, err)
	assert.Equal(t, RetCInternalError, CodeOf(err))

	put(t, env, tbl, "still", "alive")
	require.NoError(t, env.Writer().Sync(context.Background()))
	_, found := readValue(t, env, tbl, "still")
	assert.True(t, found)

	assert.Equal(t, int32(2), handled.Load())
	stats := env.Writer().Stats()
	assert.Equal(t, uint64(2), stats.OpErrors)
}

// a failed commit rolls the batch back, is reported once to the handler and
// to the caller and the writer continues with a fresh transaction
func TestCommitFailure(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []error
	)
	env := newTestEnv(t, func(cfg *Config) {
		cfg.ErrorHandler = func(err error) {
			mu.Lock()
			seen = append(seen, err)
			mu.Unlock()
		}
	})
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	err = env.Writer().WriteCommit(context.Background(), func(txn *WriteTxn) error {
		if _, err := tbl.Put(txn, []byte("lost"), []byte("v"), false); err != nil {
			return err
		}
		// closing the underlying transaction lets the following commit fail
		return txn.tx.Rollback()
	})
	require.Error(t, err)
	assert.Equal(t, RetCCommit, CodeOf(err))

	mu.Lock()
	require.Len(t, seen, 1)
	assert.Equal(t, RetCCommit, CodeOf(seen[0]))
	mu.Unlock()

	stats := env.Writer().Stats()
	assert.Equal(t, uint64(1), stats.CommitErrors)
	assert.Equal(t, uint64(0), stats.OpErrors)

	put(t, env, tbl, "kept", "v")
	require.NoError(t, env.Writer().Sync(context.Background()))

	_, found := readValue(t, env, tbl, "lost")
	assert.False(t, found)
	v, found := readValue(t, env, tbl, "kept")
	assert.True(t, found)
	assert.Equal(t, "v", v)

	count, err := ReadResult(env, func(txn *ReadTxn) (uint64, error) { return tbl.Count(txn) })
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	mu.Lock()
	assert.Len(t, seen, 1, "later operations report nothing")
	mu.Unlock()
}

func TestThreadAffinity(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	var leaked *WriteTxn
	require.NoError(t, env.Writer().Write(context.Background(), func(txn *WriteTxn) error {
		leaked = txn
		return nil
	}))

	_, err = tbl.Put(leaked, []byte("k"), []byte("v"), false)
	assert.Equal(t, RetCThreadAffinity, CodeOf(err))
	assert.Equal(t, RetCThreadAffinity, CodeOf(leaked.Commit()))
	assert.Equal(t, RetCThreadAffinity, CodeOf(leaked.Abort()))
}

func TestAbortDiscardsBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	put(t, env, tbl, "gone", "v")
	require.NoError(t, env.Writer().Write(context.Background(), func(txn *WriteTxn) error {
		return txn.Abort()
	}))
	require.NoError(t, env.Writer().Sync(context.Background()))

	_, found := readValue(t, env, tbl, "gone")
	assert.False(t, found)
}

func TestQueueFull(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.QueueCapacity = 1 })
	w := env.Writer()

	release := make(chan struct{})
	entered := make(chan struct{})
	require.NoError(t, w.WriteAsync(context.Background(), func(*WriteTxn) error {
		close(entered)
		<-release
		return nil
	}))
	<-entered

	// occupies the only slot while the writer is blocked
	require.NoError(t, w.WriteAsync(context.Background(), func(*WriteTxn) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.Write(ctx, func(*WriteTxn) error { return nil })
	assert.Equal(t, RetCQueueFull, CodeOf(err))

	close(release)
	require.NoError(t, w.Sync(context.Background()))
}

func TestStopDrainsQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		require.NoError(t, env.Writer().WriteAsync(context.Background(), func(txn *WriteTxn) error {
			_, err := tbl.Put(txn, key, []byte("v"), false)
			return err
		}))
	}
	require.NoError(t, env.Writer().Stop())

	count, err := ReadResult(env, func(txn *ReadTxn) (uint64, error) { return tbl.Count(txn) })
	require.NoError(t, err)
	assert.Equal(t, uint64(100), count)
}

func TestAutoCommitPolicy(t *testing.T) {
	now := time.Now()
	p := AutoCommit{MaxItems: 3, MaxElapsed: time.Second}

	assert.False(t, p.ShouldCommit(0, now.Add(-time.Hour), now), "nothing to commit")
	assert.False(t, p.ShouldCommit(2, now, now))
	assert.True(t, p.ShouldCommit(3, now, now))
	assert.True(t, p.ShouldCommit(1, now.Add(-2*time.Second), now))

	assert.True(t, AutoCommit{}.Disabled())
	assert.False(t, AutoCommit{}.ShouldCommit(100, now.Add(-time.Hour), now))
}

func TestWriterMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)
	put(t, env, tbl, "k", "v")
	require.NoError(t, env.Writer().Sync(context.Background()))

	var sb strings.Builder
	env.Writer().WritePrometheus(&sb)
	assert.Contains(t, sb.String(), "mkv_writer_ops_total")
	assert.Contains(t, sb.String(), env.ID())
	assert.GreaterOrEqual(t, env.Writer().Stats().Commits, uint64(2))
}
