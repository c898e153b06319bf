package metrics

// CacheHit records one cache lookup answered from the KV store.
func (m *Metrics) CacheHit() { m.CacheHitsTotal.Inc() }

// CacheMiss records one cache lookup that fell through to the store.
func (m *Metrics) CacheMiss() { m.CacheMissesTotal.Inc() }
