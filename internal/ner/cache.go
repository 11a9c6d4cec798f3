// Package ner — cache.go
//
// SpanCache is the interface for the cross-session person-span cache. It
// stores text digest → encoded span list, so documents already tagged in an
// earlier session (re-imports, shared appreciation boilerplate) skip the
// expensive statistical tagging pass entirely.
//
// Two implementations are provided:
//   - memoryCache — in-memory only, used in tests and when no path is configured.
//   - bboltCache  — embedded key-value store (bbolt), used in production.
//
// The interface is intentionally minimal. The tagger writes one entry per
// text; reads are per-text lookups before tagging. Batch operations and
// iteration are not needed.
package ner

import (
	"fmt"
	"log"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// SpanCache is the cross-session person-span cache interface.
// All implementations must be safe for concurrent use.
type SpanCache interface {
	// Get returns the encoded span list for the given text digest, if present.
	Get(digest string) (spans string, ok bool)

	// Set stores digest → encoded span list. Overwrites any existing entry silently.
	Set(digest, spans string)

	// Delete removes the entry for digest. A no-op when absent.
	Delete(digest string)

	// Close releases any resources held by the cache (e.g. file handles).
	// Must be called when the subsystem is shut down.
	Close() error
}

// OpenCache builds the span cache stack: bbolt-backed when path is set,
// memory-only otherwise, with an S3-FIFO layer bounding it to capacity
// entries. A bbolt open failure falls back to memory with
// a logged warning.
func OpenCache(path string, capacity int) SpanCache {
	var backing SpanCache
	if path == "" {
		backing = newMemoryCache()
	} else {
		bc, err := newBboltCache(path)
		if err != nil {
			log.Printf("[NER] span cache unavailable at %s (%v), using memory", path, err)
			bc = newMemoryCache()
		}
		backing = bc
	}
	return newS3FIFOCache(backing, capacity)
}

// --- memoryCache ---------------------------------------------------------

// memoryCache is a thread-safe in-memory SpanCache.
// Used in tests and as a fallback when no bbolt path is configured.
type memoryCache struct {
	mu    sync.RWMutex
	store map[string]string
}

func newMemoryCache() SpanCache {
	return &memoryCache{store: make(map[string]string)}
}

func (c *memoryCache) Get(digest string) (string, bool) {
	c.mu.RLock()
	v, ok := c.store[digest]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(digest, spans string) {
	c.mu.Lock()
	c.store[digest] = spans
	c.mu.Unlock()
}

func (c *memoryCache) Delete(digest string) {
	c.mu.Lock()
	delete(c.store, digest)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "ner_spans"

// bboltCache is a SpanCache backed by an embedded bbolt database.
// Entries survive process restarts. The database file is created at the
// given path if it does not exist.
type bboltCache struct {
	db *bolt.DB
}

// newBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists. Returns an error if the file cannot be opened.
func newBboltCache(path string) (SpanCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	// Ensure the bucket exists.
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	log.Printf("[NER] span cache opened at %s", path)
	return &bboltCache{db: db}, nil
}

func (c *bboltCache) Get(digest string) (string, bool) {
	var spans string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(digest))
		if v != nil {
			spans = string(v)
		}
		return nil
	})
	if err != nil {
		log.Printf("[NER] bbolt Get error: %v", err)
		return "", false
	}
	return spans, spans != ""
}

func (c *bboltCache) Set(digest, spans string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(digest), []byte(spans))
	}); err != nil {
		log.Printf("[NER] bbolt Set error: %v", err)
	}
}

func (c *bboltCache) Delete(digest string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(digest))
	}); err != nil {
		log.Printf("[NER] bbolt Delete error: %v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}
