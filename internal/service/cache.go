package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/bitbeam/internal/domain"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitbeam_cache_hits_total",
		Help: "Terminal beam lookups served from memory",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitbeam_cache_misses_total",
		Help: "Beam lookups that went to the backend",
	})
)

// TerminalCache keeps completed and failed records in memory. Terminal
// records never change, so a cached copy can never go stale.
type TerminalCache struct {
	lru *expirable.LRU[string, *domain.BeamRecord]
}

// NewTerminalCache returns nil when size is zero; a nil cache is a valid no-op.
func NewTerminalCache(size int, ttl time.Duration) *TerminalCache {
	if size <= 0 {
		return nil
	}
	return &TerminalCache{lru: expirable.NewLRU[string, *domain.BeamRecord](size, nil, ttl)}
}

func (c *TerminalCache) Get(id string) (*domain.BeamRecord, bool) {
	if c == nil {
		return nil, false
	}
	rec, ok := c.lru.Get(id)
	if !ok {
		cacheMissesTotal.Inc()
		return nil, false
	}
	cacheHitsTotal.Inc()
	return rec.Clone(), true
}

// Remember stores rec if it is terminal and ignores it otherwise.
func (c *TerminalCache) Remember(rec *domain.BeamRecord) {
	if c == nil || rec == nil || !rec.Status.Terminal() {
		return
	}
	c.lru.Add(rec.ID, rec.Clone())
}

func (c *TerminalCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
