package intern

import (
	"time"

	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/ValentinKolb/mkv/lib/util"
)

// Info describes the content and the activity of a pool.
type Info struct {
	Name       string
	Size       uint64     // number of committed values
	Collisions uint64     // values stored with a sequence number > 0
	ValueSizes util.Stats // serialized value sizes in bytes
	MedianSize int        // estimated from the size histogram
	P99Size    int        // estimated from the size histogram

	Hits          int64 // interns of an existing value
	Misses        int64 // interns of a new value
	InternRate    float64
	MeanIntern    time.Duration
	CachedProxies int
}

// Info scans every committed value and samples its size.
func (p *Pool[V]) Info() (Info, error) {
	if err := p.checkOpen(); err != nil {
		return Info{}, err
	}
	info := Info{
		Name:       p.name,
		Hits:       p.hits.Count(),
		Misses:     p.misses.Count(),
		InternRate: p.interns.Rate1(),
		MeanIntern: time.Duration(p.interns.Mean()),
	}
	if p.proxies != nil {
		info.CachedProxies = p.proxies.Len()
	}

	hist := util.NewSizeHistogram()
	var sizes []float64
	err := p.env.Read(func(txn *store.ReadTxn) error {
		n, err := p.values.Count(txn)
		if err != nil {
			return err
		}
		info.Size = n
		sizes = make([]float64, 0, n)

		return p.values.Iterate(txn, store.All(), func(k, v []byte) (bool, error) {
			if _, seq, err := p.seq.SplitKey(k); err != nil {
				return false, err
			} else if seq > 0 {
				info.Collisions++
			}
			hist.AddSample(len(v))
			sizes = append(sizes, float64(len(v)))
			return true, nil
		})
	})
	if err != nil {
		return info, err
	}

	info.ValueSizes = util.NewStats(sizes)
	info.MedianSize = hist.MedianEstimate()
	info.P99Size = hist.PercentileEstimate(99)
	return info, nil
}
