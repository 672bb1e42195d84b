package store

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// writerMetrics are the metrics of one Writer, kept in a private set so
// several environments can live in one process.
type writerMetrics struct {
	set          *metrics.Set
	ops          *metrics.Counter
	opErrors     *metrics.Counter
	commits      *metrics.Counter
	commitErrors *metrics.Counter
	batchSize    *metrics.Histogram
}

func newWriterMetrics(envID string, queueLen func() float64) *writerMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`%s{env=%q}`, metric, envID)
	}
	m := &writerMetrics{
		set:          set,
		ops:          set.NewCounter(name("mkv_writer_ops_total")),
		opErrors:     set.NewCounter(name("mkv_writer_op_errors_total")),
		commits:      set.NewCounter(name("mkv_writer_commits_total")),
		commitErrors: set.NewCounter(name("mkv_writer_commit_errors_total")),
		batchSize:    set.NewHistogram(name("mkv_writer_batch_size")),
	}
	set.NewGauge(name("mkv_writer_queue_length"), queueLen)
	return m
}

// WriterStats is a snapshot of the writer counters.
type WriterStats struct {
	Ops          uint64
	OpErrors     uint64
	Commits      uint64
	CommitErrors uint64
	QueueLength  int
	QueueCap     int // 0 when unbounded or not running
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Ops:          w.metrics.ops.Get(),
		OpErrors:     w.metrics.opErrors.Get(),
		Commits:      w.metrics.commits.Get(),
		CommitErrors: w.metrics.commitErrors.Get(),
		QueueLength:  int(w.queueLen()),
		QueueCap:     w.queueCap(),
	}
}

// Metrics returns the metric set of the writer.
func (w *Writer) Metrics() *metrics.Set {
	return w.metrics.set
}

// WritePrometheus writes the writer metrics in Prometheus text format.
func (w *Writer) WritePrometheus(out io.Writer) {
	w.metrics.set.WritePrometheus(out)
}
