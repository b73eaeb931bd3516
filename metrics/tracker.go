// Package metrics records what the cache does: hits, misses, response times
// and storage maintenance events.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/krisalay/tiercache/types"
)

// DefaultWindow is how many response times are kept per key.
const DefaultWindow = 100

// KeyStats is the record of one key.
type KeyStats struct {
	Key             string        `json:"key"`
	Hits            int64         `json:"hits"`
	Misses          int64         `json:"misses"`
	HitRate         float64       `json:"hitRate"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	Samples         int           `json:"samples"`
}

// Stats is the aggregate over every key plus maintenance counters.
type Stats struct {
	Hits            int64         `json:"hits"`
	Misses          int64         `json:"misses"`
	HitRate         float64       `json:"hitRate"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	Keys            int           `json:"keys"`

	Evictions       int64 `json:"evictions"`
	EvictedBytes    int64 `json:"evictedBytes"`
	Expirations     int64 `json:"expirations"`
	CorruptEntries  int64 `json:"corruptEntries"`
	Refreshes       int64 `json:"refreshes"`
	RefreshFailures int64 `json:"refreshFailures"`
}

// window is a fixed-size ring of response times.
type window struct {
	samples []time.Duration
	next    int
	full    bool
}

func (w *window) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) values() []time.Duration {
	if w.full {
		return w.samples
	}
	return w.samples[:w.next]
}

type keyRecord struct {
	hits, misses int64
	times        window
}

/*
Tracker is the performance tracker. It is purely additive: recording never
blocks on I/O and never fails the cache operation being recorded.

It implements types.Recorder, so the storage manager, the garbage collector
and the revalidator report straight into it. An Exporter can mirror every
event into Prometheus.
*/
type Tracker struct {
	size     int
	exporter *Exporter

	mu   sync.Mutex
	keys map[string]*keyRecord

	evictions, evictedBytes int64
	expirations, corrupt    int64
	refreshes, refreshFails int64
}

var _ types.Recorder = (*Tracker)(nil)

// Option configures a Tracker.
type Option func(*Tracker)

// WithWindow sets how many response times are kept per key.
func WithWindow(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.size = n
		}
	}
}

// WithExporter mirrors every recorded event into e.
func WithExporter(e *Exporter) Option {
	return func(t *Tracker) {
		t.exporter = e
	}
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{size: DefaultWindow, keys: make(map[string]*keyRecord)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) record(key string) *keyRecord {
	r, ok := t.keys[key]
	if !ok {
		r = &keyRecord{times: window{samples: make([]time.Duration, t.size)}}
		t.keys[key] = r
	}
	return r
}

func (t *Tracker) Hit(key string, elapsed time.Duration) {
	t.mu.Lock()
	r := t.record(key)
	r.hits++
	r.times.add(elapsed)
	t.mu.Unlock()

	if t.exporter != nil {
		t.exporter.hit(key, elapsed)
	}
}

func (t *Tracker) Miss(key string, elapsed time.Duration) {
	t.mu.Lock()
	r := t.record(key)
	r.misses++
	r.times.add(elapsed)
	t.mu.Unlock()

	if t.exporter != nil {
		t.exporter.miss(key, elapsed)
	}
}

func (t *Tracker) Eviction(key string, bytes int64) {
	t.mu.Lock()
	t.evictions++
	t.evictedBytes += bytes
	t.mu.Unlock()

	if t.exporter != nil {
		t.exporter.eviction(key, bytes)
	}
}

func (t *Tracker) Expire(key string) {
	t.mu.Lock()
	t.expirations++
	t.mu.Unlock()

	if t.exporter != nil {
		t.exporter.expire(key)
	}
}

func (t *Tracker) Corrupt(key string) {
	t.mu.Lock()
	t.corrupt++
	t.mu.Unlock()

	if t.exporter != nil {
		t.exporter.corrupt(key)
	}
}

func (t *Tracker) Refresh(key string, err error) {
	t.mu.Lock()
	t.refreshes++
	if err != nil {
		t.refreshFails++
	}
	t.mu.Unlock()

	if t.exporter != nil {
		t.exporter.refresh(key, err)
	}
}

// Key returns the record of key. ok is false when nothing was recorded.
func (t *Tracker) Key(key string) (KeyStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.keys[key]
	if !ok {
		return KeyStats{Key: key}, false
	}
	times := r.times.values()
	return KeyStats{
		Key:             key,
		Hits:            r.hits,
		Misses:          r.misses,
		HitRate:         rate(r.hits, r.misses),
		AvgResponseTime: mean(times),
		Samples:         len(times),
	}, true
}

// Keys returns every recorded key, sorted.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.keys))
	for k := range t.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stats returns the aggregate. The average response time is taken over the
// sample windows of all keys.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Keys:            len(t.keys),
		Evictions:       t.evictions,
		EvictedBytes:    t.evictedBytes,
		Expirations:     t.expirations,
		CorruptEntries:  t.corrupt,
		Refreshes:       t.refreshes,
		RefreshFailures: t.refreshFails,
	}
	var total time.Duration
	var n int
	for _, r := range t.keys {
		s.Hits += r.hits
		s.Misses += r.misses
		for _, d := range r.times.values() {
			total += d
			n++
		}
	}
	s.HitRate = rate(s.Hits, s.Misses)
	if n > 0 {
		s.AvgResponseTime = total / time.Duration(n)
	}
	return s
}

// Reset forgets everything recorded so far. Exported Prometheus counters are
// monotonic and keep their values.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys = make(map[string]*keyRecord)
	t.evictions, t.evictedBytes = 0, 0
	t.expirations, t.corrupt = 0, 0
	t.refreshes, t.refreshFails = 0, 0
}

func rate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func mean(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}
