package testing

import (
	"testing"

	"github.com/ValentinKolb/mkv/lib/serde"
)

// RunSerdeBenchmarks measures Serialize and Deserialize for a single value.
func RunSerdeBenchmarks[T any](b *testing.B, name string, s serde.Serde[T], sample T) {
	b.Run(name+"/Serialize", func(b *testing.B) {
		benchmarkSerialize(b, s, sample)
	})

	b.Run(name+"/Deserialize", func(b *testing.B) {
		benchmarkDeserialize(b, s, sample)
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkSerialize[T any](b *testing.B, s serde.Serde[T], sample T) {
	buf := make([]byte, 0, 1024)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, err := s.Serialize(buf[:0], sample)
		if err != nil {
			b.Fatal(err)
		}
		b.SetBytes(int64(len(out)))
	}
}

func benchmarkDeserialize[T any](b *testing.B, s serde.Serde[T], sample T) {
	data, err := s.Serialize(nil, sample)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Deserialize(data); err != nil {
			b.Fatal(err)
		}
	}
}
