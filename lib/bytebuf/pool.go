// Package bytebuf provides a size-classed pool of reusable byte slices.
//
// Buffers are grouped into power-of-two size classes from 64 bytes to 1 MiB,
// each backed by its own sync.Pool. Larger requests are allocated directly
// and never pooled. Get returns a zero-length slice whose capacity is at
// least the requested size; Put hands the slice back.
//
// A buffer must not be used after it was returned with Put. Slices handed to
// the store are copied by the store, so a buffer used to build a key or value
// can be returned as soon as the call returned.
package bytebuf

import (
	"math/bits"
	"sync"
)

const (
	minShift = 6  // 64 B
	maxShift = 20 // 1 MiB
)

// Pool is a size-classed buffer pool. The zero value is not usable, use New
// or the package level Default pool.
type Pool struct {
	classes [maxShift - minShift + 1]sync.Pool
}

// Default is the process wide pool used by Get and Put.
var Default = New()

// New creates an empty pool.
func New() *Pool {
	p := &Pool{}
	for i := range p.classes {
		size := 1 << (minShift + i)
		p.classes[i].New = func() any {
			b := make([]byte, 0, size)
			return &b
		}
	}
	return p
}

// classOf returns the index of the smallest class holding size bytes, or -1
// if size exceeds the largest class
func classOf(size int) int {
	if size <= 1<<minShift {
		return 0
	}
	shift := bits.Len(uint(size - 1))
	if shift > maxShift {
		return -1
	}
	return shift - minShift
}

// Get returns an empty buffer with a capacity of at least minSize.
func (p *Pool) Get(minSize int) []byte {
	c := classOf(minSize)
	if c < 0 {
		return make([]byte, 0, minSize)
	}
	return (*p.classes[c].Get().(*[]byte))[:0]
}

// Put returns a buffer obtained from Get. Buffers whose capacity is not
// exactly a class size are dropped.
func (p *Pool) Put(b []byte) {
	c := classOf(cap(b))
	if c < 0 || cap(b) != 1<<(minShift+c) {
		return
	}
	b = b[:0]
	p.classes[c].Put(&b)
}

// Get returns a buffer from the Default pool.
func Get(minSize int) []byte {
	return Default.Get(minSize)
}

// Put returns a buffer to the Default pool.
func Put(b []byte) {
	Default.Put(b)
}
