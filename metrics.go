package anndata

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordOpen is called after a container is opened or created.
	RecordOpen(duration time.Duration, err error)

	// RecordSlice is called after each matrix read. rows is the number of
	// rows returned.
	RecordSlice(rows int, duration time.Duration, err error)

	// RecordWrite is called after each element write.
	RecordWrite(duration time.Duration, err error)

	// RecordSubset is called after each subset or concatenation.
	RecordSubset(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOpen(time.Duration, error)       {}
func (NoopMetricsCollector) RecordSlice(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordWrite(time.Duration, error)      {}
func (NoopMetricsCollector) RecordSubset(time.Duration, error)     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	OpenCount       atomic.Int64
	OpenErrors      atomic.Int64
	SliceCount      atomic.Int64
	SliceErrors     atomic.Int64
	SliceRows       atomic.Int64
	SliceTotalNanos atomic.Int64
	WriteCount      atomic.Int64
	WriteErrors     atomic.Int64
	SubsetCount     atomic.Int64
	SubsetErrors    atomic.Int64
}

// RecordOpen implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOpen(_ time.Duration, err error) {
	b.OpenCount.Add(1)
	if err != nil {
		b.OpenErrors.Add(1)
	}
}

// RecordSlice implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSlice(rows int, duration time.Duration, err error) {
	b.SliceCount.Add(1)
	b.SliceTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SliceErrors.Add(1)
		return
	}
	b.SliceRows.Add(int64(rows))
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(_ time.Duration, err error) {
	b.WriteCount.Add(1)
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordSubset implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSubset(_ time.Duration, err error) {
	b.SubsetCount.Add(1)
	if err != nil {
		b.SubsetErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		OpenCount:     b.OpenCount.Load(),
		OpenErrors:    b.OpenErrors.Load(),
		SliceCount:    b.SliceCount.Load(),
		SliceErrors:   b.SliceErrors.Load(),
		SliceRows:     b.SliceRows.Load(),
		SliceAvgNanos: b.getAvgSliceNanos(),
		WriteCount:    b.WriteCount.Load(),
		WriteErrors:   b.WriteErrors.Load(),
		SubsetCount:   b.SubsetCount.Load(),
		SubsetErrors:  b.SubsetErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSliceNanos() int64 {
	count := b.SliceCount.Load()
	if count == 0 {
		return 0
	}
	return b.SliceTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	OpenCount     int64
	OpenErrors    int64
	SliceCount    int64
	SliceErrors   int64
	SliceRows     int64
	SliceAvgNanos int64
	WriteCount    int64
	WriteErrors   int64
	SubsetCount   int64
	SubsetErrors  int64
}
