package testing

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/mkv/lib/serde"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSerdeTests runs the conformance suite for a Serde with the given samples.
func RunSerdeTests[T any](t *testing.T, name string, s serde.Serde[T], samples []T) {
	t.Run(name, func(t *testing.T) {
		t.Run("RoundTrip", func(t *testing.T) {
			testRoundTrip(t, s, samples)
		})

		t.Run("AppendsToDst", func(t *testing.T) {
			testAppendsToDst(t, s, samples)
		})

		t.Run("Deterministic", func(t *testing.T) {
			testDeterministic(t, s, samples)
		})

		t.Run("DoesNotRetainInput", func(t *testing.T) {
			testDoesNotRetainInput(t, s, samples)
		})
	})
}

// RunOrderTests checks that the encodings of sorted sort byte-wise in the
// same order. sorted must be strictly increasing.
func RunOrderTests[T any](t *testing.T, name string, s serde.Serde[T], sorted []T) {
	t.Run(name+"/Order", func(t *testing.T) {
		var prev []byte
		for i, v := range sorted {
			b, err := s.Serialize(nil, v)
			require.NoError(t, err)
			if i > 0 {
				assert.Equal(t, 1, bytes.Compare(b, prev), "encoding of %v must sort after %v", v, sorted[i-1])
			}
			prev = b
		}
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

// Every sample decodes to itself
func testRoundTrip[T any](t *testing.T, s serde.Serde[T], samples []T) {
	for _, v := range samples {
		b, err := s.Serialize(nil, v)
		require.NoError(t, err)

		got, err := s.Deserialize(b)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

// Serialize keeps the existing content of dst
func testAppendsToDst[T any](t *testing.T, s serde.Serde[T], samples []T) {
	prefix := []byte("prefix:")
	for _, v := range samples {
		dst := append(make([]byte, 0, 256), prefix...)
		b, err := s.Serialize(dst, v)
		require.NoError(t, err)
		require.True(t, bytes.HasPrefix(b, prefix))

		got, err := s.Deserialize(b[len(prefix):])
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

// deterministicRounds is high enough to catch randomized map iteration
const deterministicRounds = 100

// Equal values produce equal bytes
func testDeterministic[T any](t *testing.T, s serde.Serde[T], samples []T) {
	for _, v := range samples {
		want, err := s.Serialize(nil, v)
		require.NoError(t, err)
		for i := 0; i < deterministicRounds; i++ {
			got, err := s.Serialize(nil, v)
			require.NoError(t, err)
			require.Equal(t, want, got, "round %d", i)
		}
	}
}

// Decoded values stay valid after the input buffer is overwritten
func testDoesNotRetainInput[T any](t *testing.T, s serde.Serde[T], samples []T) {
	for _, v := range samples {
		b, err := s.Serialize(nil, v)
		require.NoError(t, err)

		got, err := s.Deserialize(b)
		require.NoError(t, err)
		for i := range b {
			b[i] = 0xAA
		}
		assert.Equal(t, v, got)
	}
}
