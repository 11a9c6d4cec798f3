// Package metrics provides lightweight, lock-minimal performance counters
// for the pseudonymization subsystem.
//
// Counters use sync/atomic so hot paths (pipeline passes, mapping lookups)
// incur no mutex contention. Latency statistics use a single mutex per
// dimension; they are updated at most once per document.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// knownPasses lists the pipeline pass names that can report replacements.
// Used to pre-populate the per-pass counter map in New() so Snapshot() can
// iterate a fixed set without racing on map writes.
var knownPasses = []string{"regex", "ner_fuzzy", "fuzzy_direct"}

// Metrics holds all runtime counters for a running subsystem instance.
// The zero value is NOT valid for the per-pass counters — use New().
type Metrics struct {
	// Document counters
	DocumentsProcessed atomic.Int64
	ExtractionHits     atomic.Int64
	ExtractionMisses   atomic.Int64

	// Mapping store counters
	MappingsCreated atomic.Int64
	MappingsReused  atomic.Int64
	MappingsDeleted atomic.Int64

	// Restore volume
	TokensRestored atomic.Int64

	// NER adapter counters
	NERErrors      atomic.Int64
	NERCacheHits   atomic.Int64
	NERCacheMisses atomic.Int64

	// Per-pass replacement counters.
	// The map is written only in New(); concurrent reads are safe without a lock.
	replacements map[string]*atomic.Int64

	// Latency statistics (mutex-guarded because they accumulate floats)
	pipelineMu   sync.Mutex
	pipelineStat latencyStats

	nerMu   sync.Mutex
	nerStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and the per-pass
// replacement counter map pre-populated for all known passes.
func New() *Metrics {
	m := &Metrics{
		startTime:    time.Now(),
		replacements: make(map[string]*atomic.Int64, len(knownPasses)),
	}
	for _, p := range knownPasses {
		m.replacements[p] = new(atomic.Int64)
	}
	return m
}

// RecordReplacements adds n to the replacement counter for the given pass.
// Unknown pass names are silently ignored.
func (m *Metrics) RecordReplacements(pass string, n int64) {
	if c, ok := m.replacements[pass]; ok {
		c.Add(n)
	}
}

// PassReplacements returns the replacement count for the given pass.
// Unknown pass names return 0.
func (m *Metrics) PassReplacements(pass string) int64 {
	if c, ok := m.replacements[pass]; ok {
		return c.Load()
	}
	return 0
}

// RecordPipelineLatency records the duration of one full pipeline run.
func (m *Metrics) RecordPipelineLatency(d time.Duration) {
	m.pipelineMu.Lock()
	m.pipelineStat.record(float64(d.Microseconds()) / 1000.0)
	m.pipelineMu.Unlock()
}

// RecordNERLatency records the duration of one NER tagging call.
func (m *Metrics) RecordNERLatency(d time.Duration) {
	m.nerMu.Lock()
	m.nerStat.record(float64(d.Microseconds()) / 1000.0)
	m.nerMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.pipelineMu.Lock()
	pipeline := m.pipelineStat.snapshot()
	m.pipelineMu.Unlock()

	m.nerMu.Lock()
	ner := m.nerStat.snapshot()
	m.nerMu.Unlock()

	replacements := make(map[string]int64, len(m.replacements))
	for p, c := range m.replacements {
		if n := c.Load(); n > 0 {
			replacements[p] = n
		}
	}

	return Snapshot{
		Documents: DocumentSnapshot{
			Processed:        m.DocumentsProcessed.Load(),
			ExtractionHits:   m.ExtractionHits.Load(),
			ExtractionMisses: m.ExtractionMisses.Load(),
		},
		Mappings: MappingSnapshot{
			Created: m.MappingsCreated.Load(),
			Reused:  m.MappingsReused.Load(),
			Deleted: m.MappingsDeleted.Load(),
		},
		Pipeline: PipelineSnapshot{
			Replacements:   replacements,
			TokensRestored: m.TokensRestored.Load(),
			NERErrors:      m.NERErrors.Load(),
			NERCacheHits:   m.NERCacheHits.Load(),
			NERCacheMisses: m.NERCacheMisses.Load(),
		},
		Latency: LatencyGroup{
			PipelineMs: pipeline,
			NERMs:      ner,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Documents  DocumentSnapshot `json:"documents"`
	Mappings   MappingSnapshot  `json:"mappings"`
	Pipeline   PipelineSnapshot `json:"pipeline"`
	Latency    LatencyGroup     `json:"latency"`
	UptimeSecs float64          `json:"uptimeSecs"`
}

// DocumentSnapshot holds document-level counters.
type DocumentSnapshot struct {
	Processed        int64 `json:"processed"`
	ExtractionHits   int64 `json:"extractionHits"`
	ExtractionMisses int64 `json:"extractionMisses"`
}

// MappingSnapshot holds identity mapping store counters.
type MappingSnapshot struct {
	Created int64 `json:"created"`
	Reused  int64 `json:"reused"`
	Deleted int64 `json:"deleted"`
}

// PipelineSnapshot holds replacement volume and NER effectiveness counters.
type PipelineSnapshot struct {
	// Per-pass replacement counts (only passes with non-zero counts appear).
	Replacements map[string]int64 `json:"replacements,omitempty"`

	TokensRestored int64 `json:"tokensRestored"`
	NERErrors      int64 `json:"nerErrors"`
	NERCacheHits   int64 `json:"nerCacheHits"`
	NERCacheMisses int64 `json:"nerCacheMisses"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	PipelineMs LatencySnapshot `json:"pipelineMs"`
	NERMs      LatencySnapshot `json:"nerMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
