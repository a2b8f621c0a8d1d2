// Package stockcache keeps per-company stock quantities hot for the
// public catalog read path. The cache is never authoritative: a miss
// always falls back to the durable store, and the batch pipeline only
// pushes fresh values into it once a sync session completes.
package stockcache

import (
	"log"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTTL matches the expected daily sync cadence.
	DefaultTTL = 6 * time.Hour

	// compactFraction of the oldest entries is evicted when the entry
	// count hits the configured maximum.
	compactFraction = 0.2
)

// Stats exposes operational counters; they inform monitoring, never
// correctness.
type Stats struct {
	Hits             uint64    `json:"hits"`
	Misses           uint64    `json:"misses"`
	HitRatio         float64   `json:"hitRatio"`
	Companies        int       `json:"companies"`
	Products         int       `json:"products"`
	LastInvalidation time.Time `json:"lastInvalidation"`
	ApproxBytes      int64     `json:"approxBytes"`
}

// Cache is the (company, product) -> quantity contract. Batch Get
// returns only the subset actually cached; read-through on misses is
// the caller's job.
type Cache interface {
	Get(companyID, productID int64) (float64, bool)
	Set(companyID, productID int64, quantity float64)
	GetBatch(companyID int64, productIDs []int64) map[int64]float64
	SetBatch(companyID int64, quantities map[int64]float64)

	GetProductIDsWithStock(companyID int64) ([]int64, bool)
	SetProductIDsWithStock(companyID int64, productIDs []int64)

	InvalidateAll()
	InvalidateCompany(companyID int64)
	IsWarm(companyID int64) bool
	Stats() Stats
}

type key struct {
	companyID int64
	productID int64
}

type entry struct {
	quantity float64
	expires  time.Time
	added    time.Time
}

type indexEntry struct {
	productIDs []int64
	expires    time.Time
}

type memoryCache struct {
	mu         sync.RWMutex
	entries    map[key]entry
	index      map[int64]indexEntry // company -> in-stock product ids
	lastWrite  map[int64]time.Time  // company -> most recent write (warmth)
	ttl        time.Duration
	maxEntries int

	hits             uint64
	misses           uint64
	lastInvalidation time.Time
}

// New creates an in-memory stock cache. ttl <= 0 uses DefaultTTL;
// maxEntries <= 0 disables compaction.
func New(ttl time.Duration, maxEntries int) Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &memoryCache{
		entries:    make(map[key]entry),
		index:      make(map[int64]indexEntry),
		lastWrite:  make(map[int64]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (c *memoryCache) Get(companyID, productID int64) (float64, bool) {
	k := key{companyID, productID}

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()

	if ok && time.Now().Before(e.expires) {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return e.quantity, true
	}

	c.mu.Lock()
	c.misses++
	// Re-check under the write lock: a Set may have replaced the entry
	// since the read, and a fresh value must not be dropped.
	if cur, still := c.entries[k]; still && time.Now().After(cur.expires) {
		delete(c.entries, k)
	}
	c.mu.Unlock()
	return 0, false
}

func (c *memoryCache) Set(companyID, productID int64, quantity float64) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compactLocked(1)
	c.entries[key{companyID, productID}] = entry{
		quantity: quantity,
		expires:  now.Add(c.ttl),
		added:    now,
	}
	c.lastWrite[companyID] = now
}

func (c *memoryCache) GetBatch(companyID int64, productIDs []int64) map[int64]float64 {
	now := time.Now()
	found := make(map[int64]float64, len(productIDs))
	var hits, misses uint64

	c.mu.RLock()
	for _, pid := range productIDs {
		e, ok := c.entries[key{companyID, pid}]
		if ok && now.Before(e.expires) {
			found[pid] = e.quantity
			hits++
		} else {
			misses++
		}
	}
	c.mu.RUnlock()

	c.mu.Lock()
	c.hits += hits
	c.misses += misses
	c.mu.Unlock()

	return found
}

func (c *memoryCache) SetBatch(companyID int64, quantities map[int64]float64) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compactLocked(len(quantities))
	for pid, qty := range quantities {
		c.entries[key{companyID, pid}] = entry{
			quantity: qty,
			expires:  now.Add(c.ttl),
			added:    now,
		}
	}
	c.lastWrite[companyID] = now
}

func (c *memoryCache) GetProductIDsWithStock(companyID int64) ([]int64, bool) {
	c.mu.RLock()
	ie, ok := c.index[companyID]
	c.mu.RUnlock()

	if !ok || time.Now().After(ie.expires) {
		return nil, false
	}
	ids := make([]int64, len(ie.productIDs))
	copy(ids, ie.productIDs)
	return ids, true
}

func (c *memoryCache) SetProductIDsWithStock(companyID int64, productIDs []int64) {
	ids := make([]int64, len(productIDs))
	copy(ids, productIDs)
	now := time.Now()

	c.mu.Lock()
	c.index[companyID] = indexEntry{productIDs: ids, expires: now.Add(c.ttl)}
	c.lastWrite[companyID] = now
	c.mu.Unlock()
}

func (c *memoryCache) InvalidateAll() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[key]entry)
	c.index = make(map[int64]indexEntry)
	c.lastWrite = make(map[int64]time.Time)
	c.lastInvalidation = time.Now()
	c.mu.Unlock()

	log.Printf("🧹 Stock cache: invalidated all (%d entries dropped)", n)
}

func (c *memoryCache) InvalidateCompany(companyID int64) {
	c.mu.Lock()
	for k := range c.entries {
		if k.companyID == companyID {
			delete(c.entries, k)
		}
	}
	delete(c.index, companyID)
	delete(c.lastWrite, companyID)
	c.lastInvalidation = time.Now()
	c.mu.Unlock()
}

func (c *memoryCache) IsWarm(companyID int64) bool {
	c.mu.RLock()
	last, ok := c.lastWrite[companyID]
	c.mu.RUnlock()
	return ok && time.Since(last) < c.ttl
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	companies := make(map[int64]struct{})
	for k := range c.entries {
		companies[k.companyID] = struct{}{}
	}

	ratio := 0.0
	if total := c.hits + c.misses; total > 0 {
		ratio = float64(c.hits) / float64(total)
	}

	var indexBytes int64
	for _, ie := range c.index {
		indexBytes += int64(len(ie.productIDs)) * 8
	}

	return Stats{
		Hits:             c.hits,
		Misses:           c.misses,
		HitRatio:         ratio,
		Companies:        len(companies),
		Products:         len(c.entries),
		LastInvalidation: c.lastInvalidation,
		// key + entry + map overhead, a rough operational figure
		ApproxBytes: int64(len(c.entries))*64 + indexBytes,
	}
}

// compactLocked evicts the oldest entries when adding `incoming` would
// reach the maximum. Caller holds the write lock.
func (c *memoryCache) compactLocked(incoming int) {
	if c.maxEntries <= 0 || len(c.entries)+incoming < c.maxEntries {
		return
	}

	type aged struct {
		k     key
		added time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.added})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].added.Before(all[j].added) })

	evict := int(float64(c.maxEntries) * compactFraction)
	if evict < incoming {
		evict = incoming
	}
	if evict > len(all) {
		evict = len(all)
	}
	for _, a := range all[:evict] {
		delete(c.entries, a.k)
	}
	log.Printf("🧹 Stock cache: compacted %d oldest entries", evict)
}
