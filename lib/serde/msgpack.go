package serde

import (
	"bytes"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Msgpack encodes values with MessagePack. The entries of every map, nested
// ones included, are ordered by their encoded keys, so equal values always
// have equal encodings.
type Msgpack[T any] struct{}

func (Msgpack[T]) Serialize(dst []byte, v T) ([]byte, error) {
	var raw bytes.Buffer
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	enc.Reset(&raw)
	if err := enc.Encode(v); err != nil {
		return dst, err
	}

	buf := bytes.NewBuffer(dst)
	out := msgpack.NewEncoder(buf)
	if err := sortMaps(msgpack.NewDecoder(bytes.NewReader(raw.Bytes())), out); err != nil {
		return dst, err
	}
	return buf.Bytes(), nil
}

func (Msgpack[T]) Deserialize(b []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

// sortMaps copies the next value from dec to enc. Map entries are written in
// ascending byte order of their encoded keys. Arrays are walked, everything
// else is copied verbatim.
func sortMaps(dec *msgpack.Decoder, enc *msgpack.Encoder) error {
	c, err := dec.PeekCode()
	if err != nil {
		return err
	}

	switch {
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return err
		}
		type entry struct{ key, value []byte }
		entries := make([]entry, n)
		for i := range entries {
			if entries[i].key, err = sortedCopy(dec); err != nil {
				return err
			}
			if entries[i].value, err = sortedCopy(dec); err != nil {
				return err
			}
		}
		sort.Slice(entries, func(i, j int) bool {
			return bytes.Compare(entries[i].key, entries[j].key) < 0
		})

		if err := enc.EncodeMapLen(n); err != nil {
			return err
		}
		for _, e := range entries {
			if err := enc.Encode(msgpack.RawMessage(e.key)); err != nil {
				return err
			}
			if err := enc.Encode(msgpack.RawMessage(e.value)); err != nil {
				return err
			}
		}
		return nil

	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(n); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := sortMaps(dec, enc); err != nil {
				return err
			}
		}
		return nil

	default:
		raw, err := dec.DecodeRaw()
		if err != nil {
			return err
		}
		return enc.Encode(raw)
	}
}

// sortedCopy returns the encoding of the next value of dec with sorted maps
func sortedCopy(dec *msgpack.Decoder) ([]byte, error) {
	var buf bytes.Buffer
	err := sortMaps(dec, msgpack.NewEncoder(&buf))
	return buf.Bytes(), err
}
