package serde

import "fmt"

// Serde serializes values of type T to bytes and back.
type Serde[T any] interface {
	// Serialize appends the encoding of v to dst and returns the extended slice.
	Serialize(dst []byte, v T) ([]byte, error)
	// Deserialize decodes a value. The result must not reference b.
	Deserialize(b []byte) (T, error)
}

// Marshal serializes v into a new slice.
func Marshal[T any](s Serde[T], v T) ([]byte, error) {
	return s.Serialize(nil, v)
}

// sizeError is returned by the fixed width decoders
func sizeError(name string, want, got int) error {
	return fmt.Errorf("serde %s: expected %d bytes, got %d", name, want, got)
}
