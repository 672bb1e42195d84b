package intern

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/mkv/lib/keyseq"
	"github.com/ValentinKolb/mkv/lib/store"
)

// prefixLen is the length of the encoded hash
const prefixLen = 4

// Key identifies an interned value.
type Key struct {
	Hash int32
	Seq  uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%08x:%d", uint32(k.Hash), k.Seq)
}

// hashPrefix encodes h as 4 bytes big-endian with the sign bit flipped so
// that keys sort by hash
func hashPrefix(dst []byte, h int32) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(h)^(1<<31))
}

// Bytes returns the stored form of the key.
func (k Key) Bytes() []byte {
	var prefix [prefixLen]byte
	return keyseq.AddSequenceNumber(make([]byte, 0, prefixLen+keyseq.SeqLen), hashPrefix(prefix[:0], k.Hash), k.Seq)
}

// KeyFromBytes parses the stored form of a key.
func KeyFromBytes(b []byte) (Key, error) {
	switch len(b) {
	case prefixLen, prefixLen + keyseq.SeqLen:
	default:
		return Key{}, store.NewError(store.RetCInvalidArgument, fmt.Sprintf("invalid key length %d", len(b)))
	}
	k := Key{Hash: int32(binary.BigEndian.Uint32(b) ^ (1 << 31))}
	if len(b) > prefixLen {
		k.Seq = binary.BigEndian.Uint32(b[prefixLen:])
	}
	return k, nil
}

// ParseKey parses the String form of a key ("0000002a:3").
func ParseKey(s string) (Key, error) {
	hash, seq, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, store.NewError(store.RetCInvalidArgument, fmt.Sprintf("invalid key %q, expected <hash>:<seq>", s))
	}
	h, err := strconv.ParseUint(hash, 16, 32)
	if err != nil {
		return Key{}, store.WrapError(store.RetCInvalidArgument, fmt.Sprintf("invalid hash in key %q", s), err)
	}
	n, err := strconv.ParseUint(seq, 10, 32)
	if err != nil {
		return Key{}, store.WrapError(store.RetCInvalidArgument, fmt.Sprintf("invalid sequence in key %q", s), err)
	}
	return Key{Hash: int32(uint32(h)), Seq: uint32(n)}, nil
}
