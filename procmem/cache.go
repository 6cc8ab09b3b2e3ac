// Package procmem implements the bounded, TTL-aware cache of compressed
// WASM memory per process (spec.md §4.C).
package procmem

import (
	"bytes"
	"compress/gzip"
	"container/list"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aonet/cu/sortkey"
)

// Header identifies which evaluation a cached memory snapshot belongs to.
type Header struct {
	ProcessID string
	SortKey   string
	DeepHash  string
}

// Entry is what Get returns: the decompressed memory plus whether it was
// served past its TTL ("allowed stale" per spec.md §4.C).
type Entry struct {
	Header Header
	Memory []byte
	Stale  bool
}

type record struct {
	header     Header
	compressed []byte
	size       int64
	expiresAt  time.Time
}

// Cache is a bounded key(processId)->value map holding one compressed
// memory snapshot per process, subject to a total byte-size bound and a
// per-entry TTL.
//
// set is a no-op if the cached evaluation is later-than the incoming one
// (cache monotonicity, spec.md §4.C and §8). Eviction is approximate LRU
// bounded by maxSize; onEviction fires exactly once per evicted entry, from
// the eviction path only (never from Set on its own entry).
type Cache struct {
	mu         sync.Mutex
	maxSize    int64
	ttl        time.Duration
	onEviction func(Header)

	order   *list.List // front = most recently used
	entries map[string]*list.Element
	size    int64
}

// New creates a Cache bounded by maxSize total compressed bytes, with the
// given per-entry TTL. onEviction may be nil.
func New(maxSize int64, ttl time.Duration, onEviction func(Header)) *Cache {
	if onEviction == nil {
		onEviction = func(Header) {}
	}
	return &Cache{
		maxSize:    maxSize,
		ttl:        ttl,
		onEviction: onEviction,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Get returns the decompressed memory cached for processID, if any.
// Accessing an entry marks it most-recently-used and, if it is still fresh,
// renews its TTL; a stale entry stays stale until the next Set.
func (c *Cache) Get(processID string) (Entry, bool, error) {
	c.mu.Lock()
	elem, ok := c.entries[processID]
	if !ok {
		c.mu.Unlock()
		return Entry{}, false, nil
	}
	r := elem.Value.(*record)
	stale := time.Now().After(r.expiresAt)
	if !stale {
		r.expiresAt = time.Now().Add(c.ttl)
	}
	c.order.MoveToFront(elem)
	header := r.header
	compressed := r.compressed
	c.mu.Unlock()

	memory, err := gunzip(compressed)
	if err != nil {
		return Entry{}, false, fmt.Errorf("procmem: decompressing cached memory for %s: %w", processID, err)
	}
	return Entry{Header: header, Memory: memory, Stale: stale}, true, nil
}

// Set stores memory (compressed internally as gzip) for the evaluation
// described by header, unless the currently cached evaluation for that
// process is later-than header's (cache monotonicity). Eviction may run
// afterward to respect maxSize, invoking onEviction for each evicted entry.
func (c *Cache) Set(header Header, memory []byte) error {
	compressed, err := gzipBytes(memory)
	if err != nil {
		return fmt.Errorf("procmem: compressing memory for %s: %w", header.ProcessID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[header.ProcessID]; ok {
		existing := elem.Value.(*record)
		if laterThan(existing.header.SortKey, header.SortKey) {
			return nil
		}
		c.size -= existing.size
		existing.header = header
		existing.compressed = compressed
		existing.size = int64(len(compressed))
		existing.expiresAt = time.Now().Add(c.ttl)
		c.size += existing.size
		c.order.MoveToFront(elem)
	} else {
		r := &record{
			header:     header,
			compressed: compressed,
			size:       int64(len(compressed)),
			expiresAt:  time.Now().Add(c.ttl),
		}
		elem := c.order.PushFront(r)
		c.entries[header.ProcessID] = elem
		c.size += r.size
	}

	c.evictToFit()
	return nil
}

// laterThan reports whether existing is later (by sortkey ordering) than
// incoming; a parse failure is treated as "not later" so a malformed
// cached key never permanently blocks updates.
func laterThan(existing, incoming string) bool {
	cmp, err := sortkey.Compare(existing, incoming)
	if err != nil {
		return false
	}
	return cmp > 0
}

// evictToFit drops least-recently-used entries until total size is within
// bound. Must be called with c.mu held.
func (c *Cache) evictToFit() {
	for c.maxSize > 0 && c.size > c.maxSize {
		back := c.order.Back()
		if back == nil {
			return
		}
		r := back.Value.(*record)
		c.order.Remove(back)
		delete(c.entries, r.header.ProcessID)
		c.size -= r.size
		c.onEviction(r.header)
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
