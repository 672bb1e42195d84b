// Package keyseq allocates collision free keys for content addressed values.
//
// Values are stored under a fixed length prefix (typically a hash of the
// value) followed by a sequence number that tells apart distinct values
// sharing the prefix:
//
//	seq 0:  <prefix>
//	seq n:  <prefix><n as 4 bytes big-endian>
//
// Find scans the entries of a prefix for a matching value and otherwise
// reports the next free sequence number. Sequence numbers only ever grow:
// the next number is derived from the highest number present and, if a
// high-water table is configured, from the highest number ever issued for
// the prefix. A deleted value therefore never hands its number to a
// different value.
package keyseq

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/ValentinKolb/mkv/lib/common"
	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var keyseqLogger = logger.GetLogger(common.LoggerKeySeq)

// SeqLen is the length of the sequence suffix of keys with a sequence > 0.
const SeqLen = 4

// MatchFunc reports whether a stored value is the one searched for. The
// slice is only valid during the call.
type MatchFunc func(value []byte) bool

// Equal returns a MatchFunc comparing byte-wise with value.
func Equal(value []byte) MatchFunc {
	return func(stored []byte) bool {
		return bytes.Equal(stored, value)
	}
}

// Match is the outcome of a Find.
type Match struct {
	Found   bool   // a matching value exists
	Key     []byte // key of the matching value, nil if not found
	Seq     uint32 // sequence number of the matching value
	NextSeq uint32 // next free sequence number of the prefix, only set if not found
}

// KeySequence allocates keys of one table.
type KeySequence struct {
	table     *store.Table
	highWater *store.Table
	prefixLen int
}

// New returns a KeySequence over table for prefixes of prefixLen bytes.
// highWater stores the highest issued sequence per prefix, it may be nil in
// which case only the numbers present in table are considered.
func New(table, highWater *store.Table, prefixLen int) (*KeySequence, error) {
	if table == nil {
		return nil, store.NewError(store.RetCInvalidArgument, "key sequence requires a table")
	}
	if prefixLen <= 0 {
		return nil, store.NewError(store.RetCInvalidArgument, fmt.Sprintf("invalid prefix length %d", prefixLen))
	}
	return &KeySequence{table: table, highWater: highWater, prefixLen: prefixLen}, nil
}

// PrefixLen returns the prefix length of the sequence.
func (s *KeySequence) PrefixLen() int {
	return s.prefixLen
}

// Table returns the table the keys are allocated in.
func (s *KeySequence) Table() *store.Table {
	return s.table
}

// --------------------------------------------------------------------------
// Key layout
// --------------------------------------------------------------------------

// AddSequenceNumber appends the key of prefix and seq to dst.
func AddSequenceNumber(dst, prefix []byte, seq uint32) []byte {
	dst = append(dst, prefix...)
	if seq == 0 {
		return dst
	}
	return binary.BigEndian.AppendUint32(dst, seq)
}

// SplitKey splits a key of the sequence into its prefix and sequence number.
// The prefix references key.
func (s *KeySequence) SplitKey(key []byte) ([]byte, uint32, error) {
	switch len(key) {
	case s.prefixLen:
		return key, 0, nil
	case s.prefixLen + SeqLen:
		return key[:s.prefixLen], binary.BigEndian.Uint32(key[s.prefixLen:]), nil
	default:
		return nil, 0, store.NewError(store.RetCInvalidArgument,
			fmt.Sprintf("key %s has length %d, expected %d or %d", hex.EncodeToString(key), len(key), s.prefixLen, s.prefixLen+SeqLen))
	}
}

func (s *KeySequence) checkPrefix(prefix []byte) error {
	if len(prefix) != s.prefixLen {
		return store.NewError(store.RetCInvalidArgument,
			fmt.Sprintf("prefix %s has length %d, expected %d", hex.EncodeToString(prefix), len(prefix), s.prefixLen))
	}
	return nil
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Find looks for a value matching match among the entries of prefix. It
// first tries the key of sequence 0, then scans the whole prefix. If nothing
// matches, NextSeq holds the number to use for a new value.
func (s *KeySequence) Find(txn store.Txn, prefix []byte, match MatchFunc) (Match, error) {
	if err := s.checkPrefix(prefix); err != nil {
		return Match{}, err
	}

	// fast path, no collision
	v, ok, err := s.table.Get(txn, prefix)
	if err != nil {
		return Match{}, err
	}
	if ok && match(v) {
		return Match{Found: true, Key: bytes.Clone(prefix), Seq: 0}, nil
	}

	var (
		result  Match
		maxSeen int64 = -1
	)
	if ok {
		maxSeen = 0
	}
	err = s.table.Iterate(txn, store.Prefix(prefix), func(k, v []byte) (bool, error) {
		if !bytes.HasPrefix(k, prefix) {
			return false, nil
		}
		if len(k) == s.prefixLen {
			// sequence 0 was checked above
			return true, nil
		}
		_, seq, err := s.SplitKey(k)
		if err != nil {
			return false, store.WrapError(store.RetCStorage, "corrupt key in "+s.table.String(), err)
		}
		if match(v) {
			result = Match{Found: true, Key: bytes.Clone(k), Seq: seq}
			return false, nil
		}
		if int64(seq) > maxSeen {
			maxSeen = int64(seq)
		}
		return true, nil
	})
	if err != nil || result.Found {
		return result, err
	}

	next := maxSeen + 1
	if hw, ok, err := s.issued(txn, prefix); err != nil {
		return Match{}, err
	} else if ok && int64(hw)+1 > next {
		next = int64(hw) + 1
	}
	if next > math.MaxUint32 {
		return Match{}, store.NewError(store.RetCStorage, "sequence numbers of prefix "+hex.EncodeToString(prefix)+" are exhausted")
	}
	return Match{NextSeq: uint32(next)}, nil
}

// Put stores value under prefix unless an equal value is already stored and
// returns the match. Found reports whether the value existed before.
func (s *KeySequence) Put(txn *store.WriteTxn, prefix, value []byte) (Match, error) {
	m, err := s.Find(txn, prefix, Equal(value))
	if err != nil || m.Found {
		return m, err
	}

	key := AddSequenceNumber(make([]byte, 0, s.prefixLen+SeqLen), prefix, m.NextSeq)
	if _, err := s.table.Put(txn, key, value, true); err != nil {
		return Match{}, err
	}
	if err := s.setIssued(txn, prefix, m.NextSeq); err != nil {
		return Match{}, err
	}
	if m.NextSeq > 0 {
		keyseqLogger.Debugf("%s: collision on prefix %s, allocated sequence %d", s.table, hex.EncodeToString(prefix), m.NextSeq)
	}
	return Match{Key: key, Seq: m.NextSeq}, nil
}

// Delete removes the first entry of prefix matching match. At most one entry
// is removed, the returned match describes it.
func (s *KeySequence) Delete(txn *store.WriteTxn, prefix []byte, match MatchFunc) (Match, error) {
	m, err := s.Find(txn, prefix, match)
	if err != nil || !m.Found {
		return Match{}, err
	}
	// the high-water mark keeps the number of the deleted entry reserved
	if err := s.setIssued(txn, prefix, m.Seq); err != nil {
		return Match{}, err
	}
	if _, err := s.table.Delete(txn, m.Key); err != nil {
		return Match{}, err
	}
	return m, nil
}

// --------------------------------------------------------------------------
// High-water marks
// --------------------------------------------------------------------------

// issued returns the highest sequence number ever issued for prefix
func (s *KeySequence) issued(txn store.Txn, prefix []byte) (uint32, bool, error) {
	if s.highWater == nil {
		return 0, false, nil
	}
	v, ok, err := s.highWater.Get(txn, prefix)
	if err != nil || !ok {
		return 0, false, err
	}
	if len(v) != SeqLen {
		return 0, false, store.NewError(store.RetCStorage, "corrupt high-water mark in "+s.highWater.String())
	}
	return binary.BigEndian.Uint32(v), true, nil
}

// setIssued raises the high-water mark of prefix to seq
func (s *KeySequence) setIssued(txn *store.WriteTxn, prefix []byte, seq uint32) error {
	if s.highWater == nil {
		return nil
	}
	hw, ok, err := s.issued(txn, prefix)
	if err != nil || (ok && hw >= seq) {
		return err
	}
	var buf [SeqLen]byte
	binary.BigEndian.PutUint32(buf[:], seq)
	_, err = s.highWater.Put(txn, prefix, buf[:], false)
	return err
}
