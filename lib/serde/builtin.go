package serde

import (
	"encoding/binary"
)

// --------------------------------------------------------------------------
// Raw encodings
// --------------------------------------------------------------------------

// String encodes strings as their raw bytes.
type String struct{}

func (String) Serialize(dst []byte, v string) ([]byte, error) {
	return append(dst, v...), nil
}

func (String) Deserialize(b []byte) (string, error) {
	return string(b), nil
}

// Bytes encodes byte slices as themselves. Deserialize returns a copy.
type Bytes struct{}

func (Bytes) Serialize(dst []byte, v []byte) ([]byte, error) {
	return append(dst, v...), nil
}

func (Bytes) Deserialize(b []byte) ([]byte, error) {
	return append(make([]byte, 0, len(b)), b...), nil
}

// --------------------------------------------------------------------------
// Fixed width integers (order preserving)
// --------------------------------------------------------------------------

// Uint32 encodes uint32 values as 4 bytes big-endian.
type Uint32 struct{}

func (Uint32) Serialize(dst []byte, v uint32) ([]byte, error) {
	return binary.BigEndian.AppendUint32(dst, v), nil
}

func (Uint32) Deserialize(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, sizeError("uint32", 4, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64 encodes uint64 values as 8 bytes big-endian.
type Uint64 struct{}

func (Uint64) Serialize(dst []byte, v uint64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(dst, v), nil
}

func (Uint64) Deserialize(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, sizeError("uint64", 8, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Int32 encodes int32 values as 4 bytes big-endian with the sign bit flipped.
type Int32 struct{}

const signBit32 = 1 << 31

func (Int32) Serialize(dst []byte, v int32) ([]byte, error) {
	return binary.BigEndian.AppendUint32(dst, uint32(v)^signBit32), nil
}

func (Int32) Deserialize(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, sizeError("int32", 4, len(b))
	}
	return int32(binary.BigEndian.Uint32(b) ^ signBit32), nil
}

// Int64 encodes int64 values as 8 bytes big-endian with the sign bit flipped.
type Int64 struct{}

const signBit64 = 1 << 63

func (Int64) Serialize(dst []byte, v int64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(dst, uint64(v)^signBit64), nil
}

func (Int64) Deserialize(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, sizeError("int64", 8, len(b))
	}
	return int64(binary.BigEndian.Uint64(b) ^ signBit64), nil
}
