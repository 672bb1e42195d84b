package store

import (
	"bytes"

	"go.etcd.io/bbolt"
)

// RangeType selects the bounds and the direction of a range iteration.
// Forward ranges iterate in ascending key order from Start towards Stop.
// Backward ranges iterate in descending order, Start is then the upper and
// Stop the lower bound.
type RangeType uint8

const (
	ForwardAll         RangeType = iota // every key, ascending
	ForwardAtLeast                      // Start <= k
	ForwardAtMost                       // k <= Stop
	ForwardClosed                       // Start <= k <= Stop
	ForwardClosedOpen                   // Start <= k < Stop
	ForwardGreaterThan                  // Start < k
	ForwardLessThan                     // k < Stop
	ForwardOpen                         // Start < k < Stop
	ForwardOpenClosed                   // Start < k <= Stop

	BackwardAll         // every key, descending
	BackwardAtLeast     // k <= Start
	BackwardAtMost      // Stop <= k
	BackwardClosed      // Stop <= k <= Start
	BackwardClosedOpen  // Stop < k <= Start
	BackwardGreaterThan // k < Start
	BackwardLessThan    // Stop < k
	BackwardOpen        // Stop < k < Start
	BackwardOpenClosed  // Stop <= k < Start
)

var rangeTypeNames = [...]string{
	"ForwardAll", "ForwardAtLeast", "ForwardAtMost", "ForwardClosed", "ForwardClosedOpen",
	"ForwardGreaterThan", "ForwardLessThan", "ForwardOpen", "ForwardOpenClosed",
	"BackwardAll", "BackwardAtLeast", "BackwardAtMost", "BackwardClosed", "BackwardClosedOpen",
	"BackwardGreaterThan", "BackwardLessThan", "BackwardOpen", "BackwardOpenClosed",
}

func (t RangeType) String() string {
	if int(t) < len(rangeTypeNames) {
		return rangeTypeNames[t]
	}
	return "Unknown"
}

// Backward reports whether the range iterates in descending order.
func (t RangeType) Backward() bool {
	return t >= BackwardAll
}

// UsesStart reports whether the range type reads Range.Start.
func (t RangeType) UsesStart() bool {
	switch t {
	case ForwardAll, ForwardAtMost, ForwardLessThan, BackwardAll, BackwardAtMost, BackwardLessThan:
		return false
	}
	return int(t) < len(rangeTypeNames)
}

// UsesStop reports whether the range type reads Range.Stop.
func (t RangeType) UsesStop() bool {
	switch t {
	case ForwardAll, ForwardAtLeast, ForwardGreaterThan, BackwardAll, BackwardAtLeast, BackwardGreaterThan:
		return false
	}
	return int(t) < len(rangeTypeNames)
}

// Range is a key range over serialized keys. Keys are compared byte-wise.
type Range struct {
	Type  RangeType
	Start []byte
	Stop  []byte
}

// All returns the forward range over all keys.
func All() Range {
	return Range{Type: ForwardAll}
}

// Closed returns the forward range [start, stop].
func Closed(start, stop []byte) Range {
	return Range{Type: ForwardClosed, Start: start, Stop: stop}
}

// Prefix returns the forward range over all keys starting with prefix.
func Prefix(prefix []byte) Range {
	if end := prefixEnd(prefix); end != nil {
		return Range{Type: ForwardClosedOpen, Start: prefix, Stop: end}
	}
	return Range{Type: ForwardAtLeast, Start: prefix}
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil if no such key exists (prefix of only 0xff bytes)
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// bounds is the normalized form of a Range
type bounds struct {
	backward bool

	lo, hi         []byte
	hasLo, hasHi   bool
	loIncl, hiIncl bool
}

func (r Range) bounds() (bounds, error) {
	b := bounds{backward: r.Type.Backward()}

	lower := func(k []byte, incl bool) { b.lo, b.hasLo, b.loIncl = k, true, incl }
	upper := func(k []byte, incl bool) { b.hi, b.hasHi, b.hiIncl = k, true, incl }

	switch r.Type {
	case ForwardAll, BackwardAll:
	case ForwardAtLeast:
		lower(r.Start, true)
	case ForwardAtMost:
		upper(r.Stop, true)
	case ForwardClosed:
		lower(r.Start, true)
		upper(r.Stop, true)
	case ForwardClosedOpen:
		lower(r.Start, true)
		upper(r.Stop, false)
	case ForwardGreaterThan:
		lower(r.Start, false)
	case ForwardLessThan:
		upper(r.Stop, false)
	case ForwardOpen:
		lower(r.Start, false)
		upper(r.Stop, false)
	case ForwardOpenClosed:
		lower(r.Start, false)
		upper(r.Stop, true)
	case BackwardAtLeast:
		upper(r.Start, true)
	case BackwardAtMost:
		lower(r.Stop, true)
	case BackwardClosed:
		upper(r.Start, true)
		lower(r.Stop, true)
	case BackwardClosedOpen:
		upper(r.Start, true)
		lower(r.Stop, false)
	case BackwardGreaterThan:
		upper(r.Start, false)
	case BackwardLessThan:
		lower(r.Stop, false)
	case BackwardOpen:
		upper(r.Start, false)
		lower(r.Stop, false)
	case BackwardOpenClosed:
		upper(r.Start, false)
		lower(r.Stop, true)
	default:
		return b, NewError(RetCInvalidArgument, "unknown range type")
	}

	if (b.hasLo && len(b.lo) == 0) || (b.hasHi && len(b.hi) == 0) {
		return b, NewError(RetCInvalidArgument, r.Type.String()+" requires non-empty bounds")
	}
	return b, nil
}

// aboveHi reports whether k lies beyond the upper bound
func (b *bounds) aboveHi(k []byte) bool {
	if !b.hasHi {
		return false
	}
	c := bytes.Compare(k, b.hi)
	return c > 0 || (c == 0 && !b.hiIncl)
}

// belowLo reports whether k lies beyond the lower bound
func (b *bounds) belowLo(k []byte) bool {
	if !b.hasLo {
		return false
	}
	c := bytes.Compare(k, b.lo)
	return c < 0 || (c == 0 && !b.loIncl)
}

// iterate walks the cursor over the range and calls fn for every entry until
// fn returns false or an error. Key and value are only valid inside fn.
func (r Range) iterate(c *bbolt.Cursor, fn func(k, v []byte) (bool, error)) error {
	b, err := r.bounds()
	if err != nil {
		return err
	}

	if !b.backward {
		var k, v []byte
		if b.hasLo {
			k, v = c.Seek(b.lo)
			if k != nil && !b.loIncl && bytes.Equal(k, b.lo) {
				k, v = c.Next()
			}
		} else {
			k, v = c.First()
		}
		for ; k != nil && !b.aboveHi(k); k, v = c.Next() {
			if cont, err := fn(k, v); err != nil || !cont {
				return err
			}
		}
		return nil
	}

	var k, v []byte
	if b.hasHi {
		k, v = c.Seek(b.hi)
		if k == nil {
			// every key is below hi
			k, v = c.Last()
		} else if b.aboveHi(k) {
			k, v = c.Prev()
		}
	} else {
		k, v = c.Last()
	}
	for ; k != nil && !b.belowLo(k); k, v = c.Prev() {
		if cont, err := fn(k, v); err != nil || !cont {
			return err
		}
	}
	return nil
}
