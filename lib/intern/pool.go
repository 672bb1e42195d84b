package intern

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mkv/lib/bytebuf"
	"github.com/ValentinKolb/mkv/lib/common"
	"github.com/ValentinKolb/mkv/lib/keyseq"
	"github.com/ValentinKolb/mkv/lib/serde"
	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/ValentinKolb/mkv/lib/util"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var internLogger = logger.GetLogger(common.LoggerIntern)

// Hasher computes the hash prefix of a serialized value. It must be stable
// across processes since hashes are persisted.
type Hasher func(b []byte) int32

// DefaultHasher is 32-bit FNV-1a.
func DefaultHasher(b []byte) int32 {
	return util.HashBytes(b, 0)
}

// valueSizeHint is the initial capacity of pooled value buffers
const valueSizeHint = 256

// Config configures a Pool.
type Config struct {
	// Hasher replaces DefaultHasher.
	Hasher Hasher
	// ProxyCacheSize bounds the number of cached proxies, 0 disables the cache.
	ProxyCacheSize int
}

// DefaultConfig returns FNV-1a hashing and a cache of 4096 proxies.
func DefaultConfig() Config {
	return Config{Hasher: DefaultHasher, ProxyCacheSize: 4096}
}

// Pool is an intern pool of values of type V.
type Pool[V any] struct {
	name    string
	env     *store.Env
	ownsEnv bool

	values *store.Table
	seq    *keyseq.KeySequence
	serde  serde.Serde[V]
	hasher Hasher

	proxies *lru.Cache // Key -> *ValueProxy[V], nil if disabled

	registry gometrics.Registry
	hits     gometrics.Meter
	misses   gometrics.Meter
	interns  gometrics.Timer

	closeMu sync.Mutex
	closed  atomic.Bool
}

// New creates or reopens the pool name inside env. The pool uses two tables:
// name for the values and name+"#hw" for the sequence high-water marks.
// Closing the pool does not close env.
func New[V any](env *store.Env, name string, s serde.Serde[V], cfg Config) (*Pool[V], error) {
	if s == nil {
		return nil, store.NewError(store.RetCConfig, "intern pool requires a serde")
	}
	values, err := env.OpenTable(name, true)
	if err != nil {
		return nil, err
	}
	hw, err := env.OpenTable(name+"#hw", true)
	if err != nil {
		return nil, err
	}
	seq, err := keyseq.New(values, hw, prefixLen)
	if err != nil {
		return nil, err
	}

	p := &Pool[V]{
		name:     name,
		env:      env,
		values:   values,
		seq:      seq,
		serde:    s,
		hasher:   cfg.Hasher,
		registry: gometrics.NewRegistry(),
	}
	if p.hasher == nil {
		p.hasher = DefaultHasher
	}
	if cfg.ProxyCacheSize > 0 {
		if p.proxies, err = lru.New(cfg.ProxyCacheSize); err != nil {
			return nil, store.WrapError(store.RetCConfig, "cannot create proxy cache", err)
		}
	}
	p.hits = gometrics.GetOrRegisterMeter("intern.hits", p.registry)
	p.misses = gometrics.GetOrRegisterMeter("intern.misses", p.registry)
	p.interns = gometrics.GetOrRegisterTimer("intern.duration", p.registry)

	internLogger.Infof("pool %s opened in env %s", name, env.ID())
	return p, nil
}

// Open builds a dedicated Environment in dir and creates the pool inside it.
// Closing the pool closes the Environment.
func Open[V any](dir store.EnvDir, envCfg store.Config, name string, s serde.Serde[V], cfg Config) (*Pool[V], error) {
	env, err := store.Build(dir, envCfg)
	if err != nil {
		return nil, err
	}
	p, err := New(env, name, s, cfg)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	p.ownsEnv = true
	return p, nil
}

// Name returns the name of the pool.
func (p *Pool[V]) Name() string {
	return p.name
}

// Env returns the Environment of the pool.
func (p *Pool[V]) Env() *store.Env {
	return p.env
}

// Metrics returns the registry holding the intern meters and timer.
func (p *Pool[V]) Metrics() gometrics.Registry {
	return p.registry
}

func (p *Pool[V]) checkOpen() error {
	if p.closed.Load() {
		return store.NewError(store.RetCClosed, "pool "+p.name+" is closed")
	}
	return nil
}

// --------------------------------------------------------------------------
// Interning
// --------------------------------------------------------------------------

// Intern stores v unless an equal value is already stored and returns the
// proxy of the value. Interning the same value twice returns equal proxies.
func (p *Pool[V]) Intern(ctx context.Context, v V) (*ValueProxy[V], error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()

	vb, err := p.serde.Serialize(bytebuf.Get(valueSizeHint), v)
	if err != nil {
		return nil, store.WrapError(store.RetCInvalidArgument, "cannot serialize value for pool "+p.name, err)
	}
	hash := p.hasher(vb)
	var prefix [prefixLen]byte

	m, err := store.WriteResult(ctx, p.env.Writer(), func(txn *store.WriteTxn) (keyseq.Match, error) {
		return p.seq.Put(txn, hashPrefix(prefix[:0], hash), vb)
	})
	if err != nil {
		internLogger.Errorf("pool %s: intern of value with hash %08x failed: %v", p.name, uint32(hash), err)
		internLogger.Debugf("pool %s: value\n%s", p.name, hex.Dump(vb))
		// a canceled wait may leave the operation queued, it still owns vb
		if !store.HasCode(err, store.RetCInterrupted) {
			bytebuf.Put(vb)
		}
		return nil, err
	}
	bytebuf.Put(vb)

	if m.Found {
		p.hits.Mark(1)
	} else {
		p.misses.Mark(1)
	}
	p.interns.UpdateSince(start)

	return p.Proxy(Key{Hash: hash, Seq: m.Seq}), nil
}

// Proxy returns the proxy for key. The key is not checked against the store.
func (p *Pool[V]) Proxy(key Key) *ValueProxy[V] {
	proxy := &ValueProxy[V]{pool: p, key: key}
	if p.proxies == nil {
		return proxy
	}
	if prev, ok, _ := p.proxies.PeekOrAdd(key, proxy); ok {
		return prev.(*ValueProxy[V])
	}
	return proxy
}

// --------------------------------------------------------------------------
// Lookups
// --------------------------------------------------------------------------

// view calls fn with the stored bytes of key inside a read transaction
func (p *Pool[V]) view(key Key, fn func(b []byte) error) (bool, error) {
	if err := p.checkOpen(); err != nil {
		return false, err
	}
	kb := key.Bytes()
	var found bool
	err := p.env.Read(func(txn *store.ReadTxn) error {
		v, ok, err := p.values.Get(txn, kb)
		if err != nil || !ok {
			return err
		}
		found = true
		if err := fn(v); err != nil {
			internLogger.Debugf("pool %s: failed on value of key %s\n%s", p.name, key, hex.Dump(v))
			return err
		}
		return nil
	})
	if err != nil {
		internLogger.Errorf("pool %s: lookup of key %s failed: %v", p.name, key, err)
		return false, err
	}
	return found, nil
}

// Get returns a copy of the value of proxy. The boolean is false when the
// value does not exist (anymore) or is not committed yet.
func (p *Pool[V]) Get(proxy *ValueProxy[V]) (V, bool, error) {
	var v V
	found, err := p.view(proxy.key, func(b []byte) error {
		var err error
		v, err = p.serde.Deserialize(b)
		return err
	})
	return v, found, err
}

// MapValue applies fn to the stored bytes of proxy without copying them. The
// slice is only valid during fn and must not be retained.
func MapValue[V, T any](proxy *ValueProxy[V], fn func(b []byte) (T, error)) (T, bool, error) {
	var result T
	found, err := proxy.pool.view(proxy.key, func(b []byte) error {
		var err error
		result, err = fn(b)
		return err
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return result, found, nil
}

// ConsumeValue calls fn with the stored bytes of proxy without copying them
// and reports whether the value exists. The slice must not be retained.
func (p *Pool[V]) ConsumeValue(proxy *ValueProxy[V], fn func(b []byte) error) (bool, error) {
	return p.view(proxy.key, fn)
}

// Size returns the number of committed values.
func (p *Pool[V]) Size() (uint64, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}
	return store.ReadResult(p.env, func(txn *store.ReadTxn) (uint64, error) {
		return p.values.Count(txn)
	})
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

// Delete removes v from the pool and reports whether it was stored. Proxies
// of v stay valid handles but no longer resolve to a value.
func (p *Pool[V]) Delete(ctx context.Context, v V) (bool, error) {
	if err := p.checkOpen(); err != nil {
		return false, err
	}
	vb, err := serde.Marshal(p.serde, v)
	if err != nil {
		return false, store.WrapError(store.RetCInvalidArgument, "cannot serialize value for pool "+p.name, err)
	}
	hash := p.hasher(vb)

	m, err := store.WriteResult(ctx, p.env.Writer(), func(txn *store.WriteTxn) (keyseq.Match, error) {
		return p.seq.Delete(txn, hashPrefix(nil, hash), keyseq.Equal(vb))
	})
	if err != nil {
		internLogger.Errorf("pool %s: delete of value with hash %08x failed: %v", p.name, uint32(hash), err)
		internLogger.Debugf("pool %s: value\n%s", p.name, hex.Dump(vb))
		return false, err
	}
	if m.Found && p.proxies != nil {
		p.proxies.Remove(Key{Hash: hash, Seq: m.Seq})
	}
	return m.Found, nil
}

// Clear removes every value and commits. High-water marks are kept, so keys
// of removed values are never handed out again.
func (p *Pool[V]) Clear(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.env.Writer().WriteCommit(ctx, p.values.Drop); err != nil {
		internLogger.Errorf("pool %s: clear failed: %v", p.name, err)
		return err
	}
	if p.proxies != nil {
		p.proxies.Purge()
	}
	internLogger.Infof("pool %s cleared", p.name)
	return nil
}

// Flush commits every interned value so readers can see it.
func (p *Pool[V]) Flush(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	return p.env.Writer().Sync(ctx)
}

// Close flushes the pool and, if the pool owns its Environment, closes it.
// Closing twice returns a RetCClosed error.
func (p *Pool[V]) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if err := p.checkOpen(); err != nil {
		return err
	}

	var result *multierror.Error
	if p.ownsEnv {
		// closing the env commits everything
		if err := p.env.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	} else if err := p.env.Writer().Sync(context.Background()); err != nil {
		result = multierror.Append(result, err)
	}
	p.closed.Store(true)

	p.registry.UnregisterAll()
	if p.proxies != nil {
		p.proxies.Purge()
	}
	internLogger.Infof("pool %s closed", p.name)
	return result.ErrorOrNil()
}

func (p *Pool[V]) String() string {
	return fmt.Sprintf("pool %s", p.name)
}
