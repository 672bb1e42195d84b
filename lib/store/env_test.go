package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// testConfig returns a small configuration without auto commit
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxMapSize = 32 << 20
	cfg.AutoCommit = AutoCommit{}
	cfg.Flags = cfg.Flags.With(FlagNoSync)
	return cfg
}

func newTestEnv(t *testing.T, mutate func(cfg *Config)) *Env {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	env, err := Build(EnvDir{Base: t.TempDir(), SubDir: "env"}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if !env.IsClosed() {
			_ = env.Close()
		}
	})
	return env
}

func put(t *testing.T, env *Env, tbl *Table, key, value string) {
	t.Helper()
	require.NoError(t, env.Writer().Write(context.Background(), func(txn *WriteTxn) error {
		_, err := tbl.Put(txn, []byte(key), []byte(value), false)
		return err
	}))
}

func readValue(t *testing.T, env *Env, tbl *Table, key string) (string, bool) {
	t.Helper()
	var (
		value string
		found bool
	)
	require.NoError(t, env.Read(func(txn *ReadTxn) error {
		v, ok, err := tbl.Get(txn, []byte(key))
		value, found = string(v), ok
		return err
	}))
	return value, found
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.ReadAhead = true
	cfg.Flags = cfg.Flags.With(FlagNoReadAhead)
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, RetCConfig, CodeOf(err))

	cfg = DefaultConfig()
	cfg.MaxReaders = 0
	assert.True(t, HasCode(cfg.Validate(), RetCConfig))

	_, err = Build(EnvDir{Base: t.TempDir()}, Config{})
	assert.True(t, HasCode(err, RetCConfig))

	cfg = DefaultConfig()
	cfg.MaxMapSize = 64 << 10
	assert.True(t, HasCode(cfg.Validate(), RetCConfig))

	// a blocked reader of a writing goroutine would wait forever
	cfg = DefaultConfig()
	cfg.ReaderBlockedByWriter = true
	require.NoError(t, cfg.Validate())
	cfg.AutoCommit = AutoCommit{MaxItems: 10}
	assert.True(t, HasCode(cfg.Validate(), RetCConfig))
}

func TestInitialMmapSize(t *testing.T) {
	for max, want := range map[int64]int{
		1 << 20:   1 << 20,
		5 << 20:   4 << 20,
		100 << 20: 64 << 20,
		1 << 30:   1 << 30,
	} {
		assert.Equal(t, want, initialMmapSize(max), max)
	}
}

// commits that would grow the data file beyond MaxMapSize fail and leave the
// environment usable
func TestMaxMapSizeIsEnforced(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.MaxMapSize = 1 << 20 })
	tbl, err := env.OpenTable("large", true)
	require.NoError(t, err)

	value := make([]byte, 64<<10)
	var (
		full     error
		accepted int
	)
	for i := 0; i < 64 && full == nil; i++ {
		full = env.Writer().WriteCommit(context.Background(), func(txn *WriteTxn) error {
			_, err := tbl.Put(txn, []byte{byte(i)}, value, false)
			return err
		})
		if full == nil {
			accepted++
		}
	}
	require.Error(t, full, "64 values of 64KiB cannot fit into 1MiB")
	assert.Equal(t, RetCCommit, CodeOf(full))
	assert.Less(t, accepted, 16)

	info, err := env.Info()
	require.NoError(t, err)
	assert.LessOrEqual(t, info.SizeOnDisk, int64(1<<20))
	assert.Equal(t, uint64(accepted), info.Tables["large"], "the failed batch is rolled back")

	// small writes still fit
	put(t, env, tbl, "small", "v")
	require.NoError(t, env.Writer().Sync(context.Background()))
	v, ok := readValue(t, env, tbl, "small")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

// with ReaderBlockedByWriter a goroutine may read its own writes once the
// time based commit released the write transaction
func TestReaderBlockedByWriter(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.ReaderBlockedByWriter = true
		cfg.AutoCommit = AutoCommit{MaxElapsed: 20 * time.Millisecond}
	})
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	put(t, env, tbl, "k", "v")
	done := make(chan string, 1)
	go func() {
		v, _ := ReadResult(env, func(txn *ReadTxn) (string, error) {
			v, _, err := tbl.Get(txn, []byte("k"))
			return string(v), err
		})
		done <- v
	}()
	select {
	case v := <-done:
		assert.Equal(t, "v", v)
	case <-time.After(5 * time.Second):
		t.Fatal("read stayed blocked after the auto commit")
	}
}

func TestParseSize(t *testing.T) {
	for in, want := range map[string]int64{
		"10G":    10 << 30,
		"512MiB": 512 << 20,
		"1k":     1 << 10,
		"4096":   4096,
	} {
		got, err := ParseSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSize("ten gigs")
	assert.True(t, HasCode(err, RetCConfig))
}

func TestEnvDir(t *testing.T) {
	base := t.TempDir()

	shared := EnvDir{Base: base}
	assert.False(t, shared.IsDedicated())
	assert.Equal(t, base, shared.Path())
	assert.False(t, shared.Exists())

	dedicated := EnvDir{Base: base, SubDir: "pool"}
	assert.True(t, dedicated.IsDedicated())
	assert.Equal(t, filepath.Join(base, "pool"), dedicated.Path())
	require.NoError(t, dedicated.EnsureExists())

	info, err := os.Stat(dedicated.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.True(t, HasCode(EnvDir{Base: base, SubDir: "../escape"}.EnsureExists(), RetCConfig))
	assert.True(t, HasCode(EnvDir{}.EnsureExists(), RetCConfig))
}

func TestBuildLocksDirectory(t *testing.T) {
	dir := EnvDir{Base: t.TempDir()}
	env, err := Build(dir, testConfig())
	require.NoError(t, err)

	_, err = Build(dir, testConfig())
	require.Error(t, err)
	assert.Equal(t, RetCConfig, CodeOf(err))

	require.NoError(t, env.Close())

	// released on close
	env, err = Build(dir, testConfig())
	require.NoError(t, err)
	require.NoError(t, env.Close())
}

func TestOpenTable(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.OpenTable("missing", false)
	assert.Equal(t, RetCNotFound, CodeOf(err))

	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)
	assert.Equal(t, "values", tbl.Name())

	again, err := env.OpenTable("values", false)
	require.NoError(t, err)
	assert.Same(t, tbl, again)

	ok, err := env.HasTable("values")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = env.OpenTable("other", true)
	require.NoError(t, err)

	names, err := env.TableNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "values"}, names)

	// reserved names and the unnamed table
	_, err = env.OpenTable("__mkv_meta__", true)
	assert.Equal(t, RetCInvalidArgument, CodeOf(err))
	_, err = env.OpenTable("", true)
	assert.Equal(t, RetCConfig, CodeOf(err))
}

func TestUnnamedTable(t *testing.T) {
	env := newTestEnv(t, nil)

	tbl, err := env.OpenTable("", true)
	require.NoError(t, err)
	put(t, env, tbl, "k", "v")
	require.NoError(t, env.Writer().Sync(context.Background()))

	v, ok := readValue(t, env, tbl, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	names, err := env.TableNames()
	require.NoError(t, err)
	assert.Equal(t, []string{""}, names)

	_, err = env.OpenTable("named", true)
	assert.Equal(t, RetCConfig, CodeOf(err))
}

func TestMaxTables(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.MaxTables = 2 })

	_, err := env.OpenTable("a", true)
	require.NoError(t, err)
	_, err = env.OpenTable("b", true)
	require.NoError(t, err)
	_, err = env.OpenTable("c", true)
	assert.Equal(t, RetCConfig, CodeOf(err))
}

func TestCloseTwice(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.Close())

	err := env.Close()
	require.Error(t, err)
	assert.Equal(t, RetCClosed, CodeOf(err))

	_, err = env.OpenTable("x", true)
	assert.Equal(t, RetCClosed, CodeOf(err))
}

func TestDeleteRequiresClosed(t *testing.T) {
	env := newTestEnv(t, nil)
	err := env.Delete()
	require.Error(t, err)
	assert.True(t, env.Dir().Exists())

	require.NoError(t, env.Close())
	require.NoError(t, env.Delete())

	_, err = os.Stat(env.Dir().Path())
	assert.True(t, os.IsNotExist(err), "dedicated directory should be removed")
}

func TestDeleteSharedDirectory(t *testing.T) {
	base := t.TempDir()
	other := filepath.Join(base, "keep.txt")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o600))

	env, err := Build(EnvDir{Base: base}, testConfig())
	require.NoError(t, err)
	require.NoError(t, env.Close())
	require.NoError(t, env.Delete())

	_, err = os.Stat(filepath.Join(base, DataFileName))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(base, LockFileName))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(other)
	assert.NoError(t, err, "unrelated files must survive")
}

func TestErrorHandler(t *testing.T) {
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
	require.Error(t, env.Delete())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, RetCInvalidArgument, CodeOf(seen[0]))
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)
	put(t, env, tbl, "a", "1")
	put(t, env, tbl, "b", "2")
	require.NoError(t, env.Writer().Sync(context.Background()))

	info, err := env.Info()
	require.NoError(t, err)
	assert.Equal(t, env.ID(), info.ID)
	assert.Equal(t, uint64(2), info.Tables["values"])
	assert.Greater(t, info.SizeOnDisk, int64(0))
	assert.Equal(t, int64(32<<20), info.MaxMapSize)
	assert.Equal(t, uint64(3), info.Writer.Ops) // table creation and two puts
}
