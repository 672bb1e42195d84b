package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func k(n int) []byte { return []byte{byte(n)} }

// fillTable stores the single byte keys of ns and commits
func fillTable(t *testing.T, env *Env, name string, ns ...int) *Table {
	t.Helper()
	tbl, err := env.OpenTable(name, true)
	require.NoError(t, err)
	require.NoError(t, env.Writer().WriteCommit(context.Background(), func(txn *WriteTxn) error {
		for _, n := range ns {
			if _, err := tbl.Put(txn, k(n), []byte{byte(n * 10)}, false); err != nil {
				return err
			}
		}
		return nil
	}))
	return tbl
}

func collect(t *testing.T, env *Env, tbl *Table, r Range) []int {
	t.Helper()
	keys := []int{}
	require.NoError(t, env.Read(func(txn *ReadTxn) error {
		return tbl.Iterate(txn, r, func(key, value []byte) (bool, error) {
			require.Equal(t, []byte{key[0] * 10}, value)
			keys = append(keys, int(key[0]))
			return true, nil
		})
	}))
	return keys
}

func TestRanges(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl := fillTable(t, env, "ranges", 1, 2, 3, 4, 5, 6, 7, 8, 9)

	tests := []struct {
		r    Range
		want []int
	}{
		{Range{Type: ForwardAll}, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{Range{Type: ForwardAtLeast, Start: k(3)}, []int{3, 4, 5, 6, 7, 8, 9}},
		{Range{Type: ForwardAtMost, Stop: k(7)}, []int{1, 2, 3, 4, 5, 6, 7}},
		{Range{Type: ForwardClosed, Start: k(3), Stop: k(7)}, []int{3, 4, 5, 6, 7}},
		{Range{Type: ForwardClosedOpen, Start: k(3), Stop: k(7)}, []int{3, 4, 5, 6}},
		{Range{Type: ForwardGreaterThan, Start: k(3)}, []int{4, 5, 6, 7, 8, 9}},
		{Range{Type: ForwardLessThan, Stop: k(7)}, []int{1, 2, 3, 4, 5, 6}},
		{Range{Type: ForwardOpen, Start: k(3), Stop: k(7)}, []int{4, 5, 6}},
		{Range{Type: ForwardOpenClosed, Start: k(3), Stop: k(7)}, []int{4, 5, 6, 7}},

		{Range{Type: BackwardAll}, []int{9, 8, 7, 6, 5, 4, 3, 2, 1}},
		{Range{Type: BackwardAtLeast, Start: k(7)}, []int{7, 6, 5, 4, 3, 2, 1}},
		{Range{Type: BackwardAtMost, Stop: k(3)}, []int{9, 8, 7, 6, 5, 4, 3}},
		{Range{Type: BackwardClosed, Start: k(7), Stop: k(3)}, []int{7, 6, 5, 4, 3}},
		{Range{Type: BackwardClosedOpen, Start: k(7), Stop: k(3)}, []int{7, 6, 5, 4}},
		{Range{Type: BackwardGreaterThan, Start: k(7)}, []int{6, 5, 4, 3, 2, 1}},
		{Range{Type: BackwardLessThan, Stop: k(3)}, []int{9, 8, 7, 6, 5, 4}},
		{Range{Type: BackwardOpen, Start: k(7), Stop: k(3)}, []int{6, 5, 4}},
		{Range{Type: BackwardOpenClosed, Start: k(7), Stop: k(3)}, []int{6, 5, 4, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.r.Type.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, collect(t, env, tbl, tt.r))
		})
	}
}

// bounds that are not present in the table
func TestRangesWithAbsentBounds(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl := fillTable(t, env, "even", 2, 4, 6, 8)

	assert.Equal(t, []int{4, 2}, collect(t, env, tbl, Range{Type: BackwardAtLeast, Start: k(5)}))
	assert.Equal(t, []int{8, 6, 4, 2}, collect(t, env, tbl, Range{Type: BackwardAtLeast, Start: k(20)}))
	assert.Equal(t, []int{6, 8}, collect(t, env, tbl, Range{Type: ForwardGreaterThan, Start: k(5)}))
	assert.Equal(t, []int{4, 6}, collect(t, env, tbl, Range{Type: ForwardClosed, Start: k(3), Stop: k(7)}))
	assert.Equal(t, []int{6, 4}, collect(t, env, tbl, Range{Type: BackwardClosed, Start: k(7), Stop: k(3)}))
	assert.Equal(t, []int{}, collect(t, env, tbl, Range{Type: ForwardAtLeast, Start: k(9)}))
	assert.Equal(t, []int{}, collect(t, env, tbl, Range{Type: BackwardAtLeast, Start: k(1)}))
}

func TestRangeEarlyExit(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl := fillTable(t, env, "exit", 1, 2, 3, 4, 5)

	var seen []int
	require.NoError(t, env.Read(func(txn *ReadTxn) error {
		return tbl.Iterate(txn, All(), func(key, _ []byte) (bool, error) {
			seen = append(seen, int(key[0]))
			return key[0] < 3, nil
		})
	}))
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRangeValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl := fillTable(t, env, "invalid", 1)

	err := env.Read(func(txn *ReadTxn) error {
		return tbl.Iterate(txn, Range{Type: ForwardClosed, Start: k(1)}, func(_, _ []byte) (bool, error) {
			return true, nil
		})
	})
	assert.Equal(t, RetCInvalidArgument, CodeOf(err))
}

func TestPrefixRange(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("prefix", true)
	require.NoError(t, err)
	for _, key := range []string{"a", "ab", "abc", "abd", "b", "\xff", "\xff\x01"} {
		put(t, env, tbl, key, "v")
	}
	require.NoError(t, env.Writer().Sync(context.Background()))

	keysOf := func(r Range) []string {
		var keys []string
		require.NoError(t, env.Read(func(txn *ReadTxn) error {
			return tbl.Iterate(txn, r, func(key, _ []byte) (bool, error) {
				keys = append(keys, string(key))
				return true, nil
			})
		}))
		return keys
	}
	assert.Equal(t, []string{"ab", "abc", "abd"}, keysOf(Prefix([]byte("ab"))))
	assert.Equal(t, []string{"\xff", "\xff\x01"}, keysOf(Prefix([]byte("\xff"))))
}

// deleting a closed range removes exactly the keys inside it
func TestDeleteRange(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl := fillTable(t, env, "delete", 1, 2, 3, 4, 5, 6, 7, 8, 9)

	n, err := WriteResult(context.Background(), env.Writer(), func(txn *WriteTxn) (int, error) {
		return tbl.DeleteRange(txn, Closed(k(3), k(6)))
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, env.Writer().Sync(context.Background()))

	assert.Equal(t, []int{1, 2, 7, 8, 9}, collect(t, env, tbl, All()))
	count, err := ReadResult(env, func(txn *ReadTxn) (uint64, error) { return tbl.Count(txn) })
	require.NoError(t, err)
	assert.Equal(t, uint64(5), count)
}

func TestPutDeleteAndCount(t *testing.T) {
	env := newTestEnv(t, nil)
	tbl, err := env.OpenTable("values", true)
	require.NoError(t, err)

	err = env.Writer().Write(context.Background(), func(txn *WriteTxn) error {
		_, err := tbl.Put(txn, nil, []byte("v"), false)
		return err
	})
	assert.Equal(t, RetCInvalidArgument, CodeOf(err))

	put(t, env, tbl, "a", "1")
	put(t, env, tbl, "a", "2") // overwrite does not change the count
	put(t, env, tbl, "b", "")

	deleted, err := WriteResult(context.Background(), env.Writer(), func(txn *WriteTxn) (bool, error) {
		return tbl.Delete(txn, []byte("missing"))
	})
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NoError(t, env.Writer().Sync(context.Background()))

	count, err := ReadResult(env, func(txn *ReadTxn) (uint64, error) { return tbl.Count(txn) })
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	v, found := readValue(t, env, tbl, "a")
	assert.True(t, found)
	assert.Equal(t, "2", v)
	v, found = readValue(t, env, tbl, "b")
	assert.True(t, found, "empty values are still entries")
	assert.Equal(t, "", v)

	deleted, err = WriteResult(context.Background(), env.Writer(), func(txn *WriteTxn) (bool, error) {
		return tbl.Delete(txn, []byte("a"))
	})
	require.NoError(t, err)
	assert.True(t, deleted)

	require.NoError(t, env.Writer().WriteCommit(context.Background(), func(txn *WriteTxn) error {
		return tbl.Drop(txn)
	}))
	count, err = ReadResult(env, func(txn *ReadTxn) (uint64, error) { return tbl.Count(txn) })
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)

	ok, err := env.HasTable("values")
	require.NoError(t, err)
	assert.True(t, ok, "drop keeps the table")
}
