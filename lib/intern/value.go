package intern

import (
	"encoding/binary"
	"fmt"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindBytes
	KindInt64
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindInt64:
		return "int64"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged union of the value shapes a pool can hold at once.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	StringValue string
	BytesValue  []byte
	Int64Value  int64
	NullValue   struct{}
)

func (StringValue) Kind() Kind { return KindString }
func (BytesValue) Kind() Kind  { return KindBytes }
func (Int64Value) Kind() Kind  { return KindInt64 }
func (NullValue) Kind() Kind   { return KindNull }

func (StringValue) isValue() {}
func (BytesValue) isValue()  {}
func (Int64Value) isValue()  {}
func (NullValue) isValue()   {}

// ValueSerde encodes a Value as its one byte Kind followed by the payload.
// Values of different kinds never encode to the same bytes, so
// StringValue("1") and Int64Value(1) intern to different keys.
type ValueSerde struct{}

func (ValueSerde) Serialize(dst []byte, v Value) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return append(dst, byte(KindNull)), nil
	case NullValue:
		return append(dst, byte(KindNull)), nil
	case StringValue:
		return append(append(dst, byte(KindString)), v...), nil
	case BytesValue:
		return append(append(dst, byte(KindBytes)), v...), nil
	case Int64Value:
		return binary.BigEndian.AppendUint64(append(dst, byte(KindInt64)), uint64(v)^(1<<63)), nil
	default:
		return dst, fmt.Errorf("unsupported value type %T", v)
	}
}

func (ValueSerde) Deserialize(b []byte) (Value, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty value encoding")
	}
	payload := b[1:]
	switch Kind(b[0]) {
	case KindNull:
		if len(payload) != 0 {
			return nil, fmt.Errorf("null value with %d bytes payload", len(payload))
		}
		return NullValue{}, nil
	case KindString:
		return StringValue(payload), nil
	case KindBytes:
		return BytesValue(append(make([]byte, 0, len(payload)), payload...)), nil
	case KindInt64:
		if len(payload) != 8 {
			return nil, fmt.Errorf("int64 value with %d bytes payload", len(payload))
		}
		return Int64Value(binary.BigEndian.Uint64(payload) ^ (1 << 63)), nil
	default:
		return nil, fmt.Errorf("unknown value kind %d", b[0])
	}
}
