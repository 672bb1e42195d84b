package intern

import "fmt"

// ValueProxy is a handle to an interned value. It holds the pool and the key,
// never the value.
type ValueProxy[V any] struct {
	pool *Pool[V]
	key  Key
}

// Key returns the key of the value.
func (p *ValueProxy[V]) Key() Key {
	return p.key
}

// Pool returns the pool the value was interned in.
func (p *ValueProxy[V]) Pool() *Pool[V] {
	return p.pool
}

// Get returns a copy of the value.
func (p *ValueProxy[V]) Get() (V, bool, error) {
	return p.pool.Get(p)
}

// Equal reports whether both proxies refer to the same key of the same pool.
func (p *ValueProxy[V]) Equal(other *ValueProxy[V]) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.pool == other.pool && p.key == other.key
}

func (p *ValueProxy[V]) String() string {
	return fmt.Sprintf("%s/%s", p.pool.name, p.key)
}
