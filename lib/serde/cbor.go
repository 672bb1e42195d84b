package serde

import (
	"github.com/fxamacker/cbor/v2"
)

// canonical is the shared encoding mode: sorted map keys, shortest integer
// and float forms, no indefinite lengths
var canonical = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// CBOR encodes values with canonical CBOR (RFC 7049 section 3.9).
type CBOR[T any] struct{}

func (CBOR[T]) Serialize(dst []byte, v T) ([]byte, error) {
	b, err := canonical.Marshal(v)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

func (CBOR[T]) Deserialize(b []byte) (T, error) {
	var v T
	err := cbor.Unmarshal(b, &v)
	return v, err
}
