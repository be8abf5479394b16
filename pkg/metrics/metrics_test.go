package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLatencyTracker(t *testing.T) {
	tracker := NewLatencyTracker(0.01)

	operations := []string{OpLookup, OpCopy, OpPersist}

	for _, op := range operations {
		tracker.Record(op, 1*time.Millisecond)
		tracker.Record(op, 5*time.Millisecond)
		tracker.Record(op, 10*time.Millisecond)
		tracker.Record(op, 50*time.Millisecond)
		tracker.Record(op, 100*time.Millisecond)
	}

	for _, op := range operations {
		stats, err := tracker.GetStats(op)
		if err != nil {
			t.Errorf("Failed to get stats for %s: %v", op, err)
			continue
		}

		if stats.Count != 5 {
			t.Errorf("Expected count 5 for %s, got %d", op, stats.Count)
		}

		if stats.Min < 0.9 || stats.Min > 1.1 {
			t.Errorf("Expected min ~1ms for %s, got %.2fms", op, stats.Min)
		}

		if stats.Max < 99 || stats.Max > 101 {
			t.Errorf("Expected max ~100ms for %s, got %.2fms", op, stats.Max)
		}

		if stats.P50 < 5 || stats.P50 > 15 {
			t.Errorf("Expected p50 ~10ms for %s, got %.2fms", op, stats.P50)
		}
	}

	allStats := tracker.GetAllStats()
	if len(allStats) != len(operations) {
		t.Fatalf("Expected %d operations in GetAllStats, got %d", len(operations), len(allStats))
	}
	for i := 1; i < len(allStats); i++ {
		if allStats[i-1].Operation > allStats[i].Operation {
			t.Errorf("GetAllStats not sorted: %s before %s", allStats[i-1].Operation, allStats[i].Operation)
		}
	}

	if _, err := tracker.GetStats("nonexistent"); err == nil {
		t.Error("Expected error for non-existent operation, got nil")
	}
}

func TestLatencyTrackerRecordFunc(t *testing.T) {
	tracker := NewLatencyTracker(0.01)

	err := tracker.RecordFunc(OpCopy, func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Errorf("RecordFunc returned error: %v", err)
	}

	func() {
		defer tracker.Since(OpCopy, time.Now())
	}()

	stats, err := tracker.GetStats(OpCopy)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Count != 2 {
		t.Errorf("Expected count 2, got %d", stats.Count)
	}
	if stats.Max < 9 {
		t.Errorf("Expected max >= 9ms, got %.2fms", stats.Max)
	}
}

func TestStatsString(t *testing.T) {
	stats := Stats{
		Operation: "copy",
		Count:     100,
		Min:       1.5,
		P50:       10.2,
		P90:       50.7,
		P99:       99.1,
		Max:       120.5,
	}

	str := stats.String()
	expected := "  copy (n=100): min=1.50ms p50=10.20ms p90=50.70ms p99=99.10ms max=120.50ms"
	if str != expected {
		t.Errorf("Expected:\n%s\nGot:\n%s", expected, str)
	}

	emptyStr := Stats{Operation: "persist"}.String()
	expectedEmpty := "  persist: no data"
	if emptyStr != expectedEmpty {
		t.Errorf("Expected:\n%s\nGot:\n%s", expectedEmpty, emptyStr)
	}
}

func TestCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCacheMetrics(reg)

	m.Lookup(LookupHit)
	m.Lookup(LookupHit)
	m.Lookup(LookupMiss)
	m.Write("stored", 1024)
	m.Write("too_long", 0)
	m.SetIndexEntries(3)

	if got := testutil.ToFloat64(m.lookups.WithLabelValues(LookupHit)); got != 2 {
		t.Errorf("Expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.writes.WithLabelValues("stored")); got != 1 {
		t.Errorf("Expected 1 stored write, got %v", got)
	}
	if got := testutil.ToFloat64(m.bytesWritten); got != 1024 {
		t.Errorf("Expected 1024 bytes written, got %v", got)
	}
	if got := testutil.ToFloat64(m.indexEntries); got != 3 {
		t.Errorf("Expected 3 index entries, got %v", got)
	}

	count, err := testutil.GatherAndCount(reg, "voicecache_lookups_total")
	if err != nil {
		t.Fatalf("GatherAndCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 lookup series, got %d", count)
	}
}

func BenchmarkLatencyTrackerRecord(b *testing.B) {
	tracker := NewLatencyTracker(0.01)
	duration := 10 * time.Millisecond

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.Record(OpLookup, duration)
	}
}
