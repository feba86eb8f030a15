// Package metrics exposes indexing engine events as OpenTelemetry
// instruments, exported for Prometheus scraping.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricFilesTotal      = "codeknow.index.files.total"
	metricFileDuration    = "codeknow.index.file.duration.seconds"
	metricLockContention  = "codeknow.index.lock.contention.total"
	metricCacheEvictions  = "codeknow.index.cache.evictions.total"
	metricCheckpointSaves = "codeknow.index.checkpoint.saves.total"
	metricRunsTotal       = "codeknow.index.runs.total"
	metricPendingFiles    = "codeknow.index.pending.files.total"

	attrOutcome = "outcome"

	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// durationBuckets span sub-millisecond cache hits to multi-second parses
var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}

var (
	okAttrs     = metric.WithAttributes(attribute.String(attrOutcome, outcomeOK))
	failedAttrs = metric.WithAttributes(attribute.String(attrOutcome, outcomeFailed))
)

// IndexMetrics records worker pool and engine events. It satisfies the
// pool's Recorder interface. All methods are safe on a nil receiver.
type IndexMetrics struct {
	files           metric.Int64Counter
	fileDuration    metric.Float64Histogram
	lockContention  metric.Int64Counter
	cacheEvictions  metric.Int64Counter
	checkpointSaves metric.Int64Counter
	runs            metric.Int64Counter
	pending         metric.Int64Counter
}

// NewIndexMetrics creates the instruments from mt
func NewIndexMetrics(mt metric.Meter) (*IndexMetrics, error) {
	b := newMetricBuilder(mt)

	m := &IndexMetrics{
		files:           b.counter(metricFilesTotal, "Files handled by workers by outcome", "{file}"),
		fileDuration:    b.histogram(metricFileDuration, "Per-file extraction duration in seconds", "s", durationBuckets...),
		lockContention:  b.counter(metricLockContention, "File lock acquisitions that found the lock held", "{attempt}"),
		cacheEvictions:  b.counter(metricCacheEvictions, "Evictions of per-worker parser and embedding caches", "{eviction}"),
		checkpointSaves: b.counter(metricCheckpointSaves, "Durable checkpoint writes by outcome", "{save}"),
		runs:            b.counter(metricRunsTotal, "Indexing runs by outcome", "{run}"),
		pending:         b.counter(metricPendingFiles, "Files found needing (re)processing", "{file}"),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// FileProcessed records one file leaving a worker
func (m *IndexMetrics) FileProcessed(ctx context.Context, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := okAttrs
	if failed {
		attrs = failedAttrs
	}
	m.files.Add(ctx, 1, attrs)
	m.fileDuration.Record(ctx, d.Seconds(), attrs)
}

// LockContended records a lock held by another worker
func (m *IndexMetrics) LockContended(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockContention.Add(ctx, 1)
}

// CachesEvicted records a periodic cache eviction
func (m *IndexMetrics) CachesEvicted(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheEvictions.Add(ctx, 1)
}

// CheckpointSaved records the outcome of one durable checkpoint write
func (m *IndexMetrics) CheckpointSaved(ctx context.Context, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.checkpointSaves.Add(ctx, 1, failedAttrs)
		return
	}
	m.checkpointSaves.Add(ctx, 1, okAttrs)
}

// RunFinished records the end of an indexing run and its pending set size
func (m *IndexMetrics) RunFinished(ctx context.Context, pending int, err error) {
	if m == nil {
		return
	}
	m.pending.Add(ctx, int64(pending))
	if err != nil {
		m.runs.Add(ctx, 1, failedAttrs)
		return
	}
	m.runs.Add(ctx, 1, okAttrs)
}
