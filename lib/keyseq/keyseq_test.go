package keyseq

import (
	"context"
	"testing"

	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newTestSequence(t *testing.T, withHighWater bool) (*store.Env, *KeySequence) {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.MaxMapSize = 32 << 20
	cfg.AutoCommit = store.AutoCommit{}
	cfg.Flags = cfg.Flags.With(store.FlagNoSync)

	env, err := store.Build(store.EnvDir{Base: t.TempDir()}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	values, err := env.OpenTable("values", true)
	require.NoError(t, err)
	var hw *store.Table
	if withHighWater {
		hw, err = env.OpenTable("values-hw", true)
		require.NoError(t, err)
	}
	seq, err := New(values, hw, 4)
	require.NoError(t, err)
	return env, seq
}

func put(t *testing.T, env *store.Env, seq *KeySequence, prefix []byte, value string) Match {
	t.Helper()
	m, err := store.WriteResult(context.Background(), env.Writer(), func(txn *store.WriteTxn) (Match, error) {
		return seq.Put(txn, prefix, []byte(value))
	})
	require.NoError(t, err)
	return m
}

func del(t *testing.T, env *store.Env, seq *KeySequence, prefix []byte, value string) bool {
	t.Helper()
	m, err := store.WriteResult(context.Background(), env.Writer(), func(txn *store.WriteTxn) (Match, error) {
		return seq.Delete(txn, prefix, Equal([]byte(value)))
	})
	require.NoError(t, err)
	return m.Found
}

var prefix = []byte{0, 0, 0, 7}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestKeyLayout(t *testing.T) {
	_, seq := newTestSequence(t, false)

	assert.Equal(t, prefix, AddSequenceNumber(nil, prefix, 0))
	assert.Equal(t, []byte{0, 0, 0, 7, 0, 0, 1, 2}, AddSequenceNumber(nil, prefix, 258))

	p, n, err := seq.SplitKey([]byte{0, 0, 0, 7, 0, 0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, prefix, p)
	assert.Equal(t, uint32(258), n)

	p, n, err = seq.SplitKey(prefix)
	require.NoError(t, err)
	assert.Equal(t, prefix, p)
	assert.Equal(t, uint32(0), n)

	_, _, err = seq.SplitKey([]byte{1, 2, 3})
	assert.Equal(t, store.RetCInvalidArgument, store.CodeOf(err))

	_, err = New(seq.Table(), nil, 0)
	assert.Error(t, err)
}

// colliding values get increasing sequence numbers, equal values are found
func TestPutAllocatesSequences(t *testing.T) {
	env, seq := newTestSequence(t, true)

	a := put(t, env, seq, prefix, "alpha")
	assert.False(t, a.Found)
	assert.Equal(t, uint32(0), a.Seq)
	assert.Equal(t, prefix, a.Key)

	b := put(t, env, seq, prefix, "beta")
	assert.False(t, b.Found)
	assert.Equal(t, uint32(1), b.Seq)

	c := put(t, env, seq, prefix, "gamma")
	assert.Equal(t, uint32(2), c.Seq)

	again := put(t, env, seq, prefix, "beta")
	assert.True(t, again.Found)
	assert.Equal(t, b.Key, again.Key)

	// another prefix starts at 0 again
	other := put(t, env, seq, []byte{0, 0, 0, 8}, "beta")
	assert.Equal(t, uint32(0), other.Seq)

	require.NoError(t, env.Writer().Sync(context.Background()))
	n, err := store.ReadResult(env, func(txn *store.ReadTxn) (uint64, error) {
		return seq.Table().Count(txn)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
}

func TestFindInReadTxn(t *testing.T) {
	env, seq := newTestSequence(t, true)
	put(t, env, seq, prefix, "alpha")
	put(t, env, seq, prefix, "beta")
	require.NoError(t, env.Writer().Sync(context.Background()))

	require.NoError(t, env.Read(func(txn *store.ReadTxn) error {
		m, err := seq.Find(txn, prefix, Equal([]byte("beta")))
		require.NoError(t, err)
		assert.True(t, m.Found)
		assert.Equal(t, uint32(1), m.Seq)

		m, err = seq.Find(txn, prefix, Equal([]byte("delta")))
		require.NoError(t, err)
		assert.False(t, m.Found)
		assert.Nil(t, m.Key)
		assert.Equal(t, uint32(2), m.NextSeq)

		m, err = seq.Find(txn, []byte{9, 9, 9, 9}, Equal([]byte("alpha")))
		require.NoError(t, err)
		assert.Equal(t, uint32(0), m.NextSeq, "empty prefix starts at 0")

		_, err = seq.Find(txn, []byte{1}, Equal(nil))
		assert.Equal(t, store.RetCInvalidArgument, store.CodeOf(err))
		return nil
	}))
}

// deleted sequence numbers are never handed out again
func TestSequencesNeverReused(t *testing.T) {
	env, seq := newTestSequence(t, true)

	put(t, env, seq, prefix, "alpha")
	beta := put(t, env, seq, prefix, "beta")
	require.Equal(t, uint32(1), beta.Seq)

	assert.True(t, del(t, env, seq, prefix, "beta"))
	assert.False(t, del(t, env, seq, prefix, "beta"))

	gamma := put(t, env, seq, prefix, "gamma")
	assert.Equal(t, uint32(2), gamma.Seq)

	// even after every value of the prefix is gone
	assert.True(t, del(t, env, seq, prefix, "alpha"))
	assert.True(t, del(t, env, seq, prefix, "gamma"))
	delta := put(t, env, seq, prefix, "delta")
	assert.Equal(t, uint32(3), delta.Seq)
}

// without a high-water table only the present entries count
func TestWithoutHighWater(t *testing.T) {
	env, seq := newTestSequence(t, false)

	put(t, env, seq, prefix, "alpha")
	put(t, env, seq, prefix, "beta")
	put(t, env, seq, prefix, "gamma")
	assert.True(t, del(t, env, seq, prefix, "beta"))

	// the highest present number is still 2
	delta := put(t, env, seq, prefix, "delta")
	assert.Equal(t, uint32(3), delta.Seq)
}

// prefixes made of 0xff bytes have no upper bound key
func TestMaxPrefix(t *testing.T) {
	env, seq := newTestSequence(t, true)
	maxPrefix := []byte{0xff, 0xff, 0xff, 0xff}

	assert.Equal(t, uint32(0), put(t, env, seq, maxPrefix, "a").Seq)
	assert.Equal(t, uint32(1), put(t, env, seq, maxPrefix, "b").Seq)
	assert.Equal(t, uint32(0), put(t, env, seq, []byte{0xff, 0xff, 0xff, 0xfe}, "a").Seq)
	assert.True(t, put(t, env, seq, maxPrefix, "b").Found)
}
