// Package ner provides the person-detection pass for the pseudonymization
// pipeline: a lazily initialized statistical tagger behind a persistent
// span cache.
//
// Detection is a privacy control, not an enrichment: when the model cannot
// load or tagging fails, the error propagates to the caller so the document
// is rejected instead of leaving names in text bound for third-party APIs.
package ner

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	prose "github.com/jdkato/prose/v2"

	"bulletin-pseudonymizer/internal/logger"
	"bulletin-pseudonymizer/internal/metrics"
)

// Span is one person mention detected in a text.
type Span struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// personLabels are the entity labels treated as person mentions, covering
// the label sets of common NER models.
var personLabels = map[string]struct{}{
	"PER":    {},
	"PERSON": {},
	"B-PER":  {},
	"I-PER":  {},
}

// Tagger detects person mentions in text. The underlying model initializes
// on first use, guarded so concurrent callers share a single load.
type Tagger struct {
	log   *logger.Logger
	met   *metrics.Metrics
	cache SpanCache

	loaded atomic.Bool
	loadMu sync.Mutex

	// annotate runs the underlying tagger; replaced in tests.
	annotate func(text string) ([]Span, error)
}

// New returns a Tagger caching results in cache. The model loads on first
// detection call.
func New(log *logger.Logger, met *metrics.Metrics, cache SpanCache) *Tagger {
	t := &Tagger{log: log, met: met, cache: cache}
	t.annotate = t.proseAnnotate
	return t
}

// DetectPersons returns the person mentions in text, in document order.
// Results are cached by text digest. Model load and tagging errors
// propagate; they are never replaced by an empty result.
func (t *Tagger) DetectPersons(text string) ([]Span, error) {
	if text == "" {
		return nil, nil
	}
	if err := t.ensureLoaded(); err != nil {
		return nil, err
	}

	key := digest(text)
	if encoded, ok := t.cache.Get(key); ok {
		var spans []Span
		if err := json.Unmarshal([]byte(encoded), &spans); err == nil {
			t.met.NERCacheHits.Add(1)
			return spans, nil
		}
		// Undecodable entry: drop it and tag again.
		t.cache.Delete(key)
	}
	t.met.NERCacheMisses.Add(1)

	start := time.Now()
	spans, err := t.annotate(text)
	if err != nil {
		t.met.NERErrors.Add(1)
		return nil, fmt.Errorf("tagging text: %w", err)
	}
	t.met.RecordNERLatency(time.Since(start))

	if encoded, err := json.Marshal(spans); err == nil {
		t.cache.Set(key, string(encoded))
	}
	return spans, nil
}

// Close releases the span cache.
func (t *Tagger) Close() error {
	return t.cache.Close()
}

// ensureLoaded initializes the model exactly once. Double-checked so the
// hot path after a successful load is a single atomic read. A failed load
// is retried on the next call.
func (t *Tagger) ensureLoaded() error {
	if t.loaded.Load() {
		return nil
	}
	t.loadMu.Lock()
	defer t.loadMu.Unlock()
	if t.loaded.Load() {
		return nil
	}

	// A warm-up document forces the model data to initialize here rather
	// than inside the first real detection.
	start := time.Now()
	if _, err := t.annotate("Jean lit un livre."); err != nil {
		t.met.NERErrors.Add(1)
		return fmt.Errorf("loading ner model: %w", err)
	}
	t.log.Infof("model_load", "tagger ready in %s", time.Since(start).Round(time.Millisecond))
	t.loaded.Store(true)
	return nil
}

// proseAnnotate runs the prose tagger over text.
func (t *Tagger) proseAnnotate(text string) ([]Span, error) {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil, err
	}
	return filterPersons(doc.Entities()), nil
}

// filterPersons keeps person-labeled entities as spans. The tagger emits
// unscored decisions, so Confidence is fixed at 1.
func filterPersons(ents []prose.Entity) []Span {
	spans := make([]Span, 0, len(ents))
	for _, ent := range ents {
		if _, ok := personLabels[ent.Label]; !ok {
			continue
		}
		spans = append(spans, Span{Text: ent.Text, Label: ent.Label, Confidence: 1})
	}
	return spans
}

// digest keys the span cache by text content.
func digest(text string) string {
	sum := md5.Sum([]byte(text)) // #nosec G401 -- cache key derivation, not a security boundary
	return fmt.Sprintf("%x", sum)
}
