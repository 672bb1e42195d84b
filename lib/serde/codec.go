package serde

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
)

// JSON encodes values with encoding/json.
type JSON[T any] struct{}

func (JSON[T]) Serialize(dst []byte, v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

func (JSON[T]) Deserialize(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// Gob encodes values with encoding/gob. Every value carries its own type
// description, so equal values of the same type produce equal bytes.
type Gob[T any] struct{}

func (Gob[T]) Serialize(dst []byte, v T) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return dst, err
	}
	return buf.Bytes(), nil
}

func (Gob[T]) Deserialize(b []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v)
	return v, err
}
