package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krisalay/tiercache/compression"
	"github.com/krisalay/tiercache/eviction"
	"github.com/krisalay/tiercache/expiration"
	"github.com/krisalay/tiercache/keys"
	"github.com/krisalay/tiercache/quota"
	"github.com/krisalay/tiercache/types"
	"github.com/krisalay/tiercache/writepolicy"
)

// DefaultBatchConcurrency bounds the parallel reads of GetBatch.
const DefaultBatchConcurrency = 8

// Item is one write of SetBatch.
type Item struct {
	Key     string
	Data    []byte
	Options types.StorageOptions
}

// Usage reports storage consumption and pressure.
type Usage struct {
	quota.Estimate
	Level   quota.Level `json:"level"`
	Entries int         `json:"entries"`
}

/*
Manager unifies the primary store and the response store.

Writes:
 1. wrap the data in an envelope (TTL, priority, version, kind)
 2. gzip it when asked and worth it
 3. make room under the quota, evicting if needed
 4. write the primary store, then mirror HTTP-cacheable keys

Steps 3 and 4 run under one mutex, so two writers can never both pass the
quota check and overflow it together.

Reads validate what they find. Expired, corrupt and undecompressable entries
are deleted and reported as a miss (nil entry, nil error).
*/
type Manager struct {
	primary   Backend
	available bool

	secondary *ResponseStore
	policy    writepolicy.WritePolicy

	ttl        *expiration.Resolver
	validator  *expiration.Validator
	compressor *compression.Compressor
	estimator  *quota.Estimator
	collector  *eviction.Collector

	recorder types.Recorder
	logger   *zap.Logger

	// writeMu covers check quota → evict → write.
	writeMu sync.Mutex

	gcBatch    int
	quotaBytes int64
	quotaCfg   quota.Config
	source     quota.Source
}

// Option configures a Manager.
type Option func(*Manager)

// WithSecondary mirrors HTTP-cacheable keys into rs through policy. A nil
// policy means write-through.
func WithSecondary(rs *ResponseStore, policy writepolicy.WritePolicy) Option {
	return func(m *Manager) {
		m.secondary = rs
		m.policy = policy
	}
}

// WithResolver sets the TTL resolver, and with it the clock.
func WithResolver(r *expiration.Resolver) Option {
	return func(m *Manager) {
		if r != nil {
			m.ttl = r
		}
	}
}

// WithCompressor sets the compression utility.
func WithCompressor(c *compression.Compressor) Option {
	return func(m *Manager) {
		if c != nil {
			m.compressor = c
		}
	}
}

// WithQuota bounds the primary store to quotaBytes. A non-positive quota
// leaves usage unknown, which makes the estimator fall back.
func WithQuota(quotaBytes int64, cfg quota.Config) Option {
	return func(m *Manager) {
		m.quotaBytes = quotaBytes
		m.quotaCfg = cfg
	}
}

// WithQuotaSource replaces the usage source entirely.
func WithQuotaSource(src quota.Source, cfg quota.Config) Option {
	return func(m *Manager) {
		m.source = src
		m.quotaCfg = cfg
	}
}

// WithGCBatchSize sets how many keys the collector removes per call.
func WithGCBatchSize(n int) Option {
	return func(m *Manager) {
		m.gcBatch = n
	}
}

// WithRecorder reports evictions, expirations and corrupt entries to r.
func WithRecorder(r types.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager over primary. A nil primary degrades the
// manager to a no-op store: writes succeed, reads miss, and nothing is
// mirrored into the response store either.
func NewManager(primary Backend, opts ...Option) *Manager {
	m := &Manager{
		primary:    primary,
		available:  primary != nil,
		ttl:        expiration.NewResolver(nil, nil),
		compressor: compression.New(compression.DefaultThreshold, 0),
		recorder:   types.NoopRecorder{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.primary == nil {
		m.primary = NoopBackend{}
		if m.policy != nil {
			m.policy.Close()
		}
		m.secondary, m.policy = nil, nil
		m.logger.Warn("no structured store available, caching disabled")
	}
	if m.secondary != nil && m.policy == nil {
		m.policy = writepolicy.NewWriteThroughPolicy(m.secondary, m.logger)
	}

	m.validator = expiration.NewValidator(m.ttl, m.logger)
	if m.source == nil && m.quotaBytes > 0 {
		m.source = quota.FixedQuota(m, m.quotaBytes)
	}
	m.estimator = quota.NewEstimator(m.source, m.quotaCfg, m.logger)
	m.collector = eviction.NewCollector(gcTarget{m},
		eviction.WithBatchSize(m.gcBatch),
		eviction.WithClock(m.ttl.Clock()),
		eviction.WithRecorder(m.recorder),
		eviction.WithLogger(m.logger),
	)
	return m
}

// Available reports whether a structured store backs the manager.
func (m *Manager) Available() bool {
	return m.available
}

// Clock returns the clock entries are timestamped with.
func (m *Manager) Clock() clockwork.Clock {
	return m.ttl.Clock()
}

// Resolver returns the TTL resolver.
func (m *Manager) Resolver() *expiration.Resolver {
	return m.ttl
}

// Estimator returns the quota estimator.
func (m *Manager) Estimator() *quota.Estimator {
	return m.estimator
}

// Set stores data under key.
func (m *Manager) Set(ctx context.Context, key string, data []byte, opts types.StorageOptions) error {
	ent, err := m.newEntry(key, data, opts)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.ensureRoom(ctx, key, ent.Size); err != nil {
		return err
	}
	return m.write(ctx, ent)
}

// SetBatch stores all items after a single quota check for their total size.
func (m *Manager) SetBatch(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	entries := make([]*types.CacheEntry, 0, len(items))
	var total int64
	for _, it := range items {
		ent, err := m.newEntry(it.Key, it.Data, it.Options)
		if err != nil {
			return err
		}
		entries = append(entries, ent)
		total += ent.Size
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.ensureRoom(ctx, entries[0].Key, total); err != nil {
		return err
	}
	return m.write(ctx, entries...)
}

// Put stores a fully built entry as is. The entry must already be valid.
func (m *Manager) Put(ctx context.Context, ent *types.CacheEntry) error {
	if err := expiration.CheckEnvelope(ent); err != nil {
		return fmt.Errorf("put entry: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.ensureRoom(ctx, ent.Key, ent.Size); err != nil {
		return err
	}
	return m.write(ctx, ent)
}

func (m *Manager) newEntry(key string, data []byte, opts types.StorageOptions) (*types.CacheEntry, error) {
	if key == "" {
		return nil, fmt.Errorf("empty cache key")
	}
	if data == nil {
		data = []byte{}
	}

	kind := opts.Kind
	if kind == "" {
		kind = types.KindRaw
	}
	if !kind.Known() {
		return nil, fmt.Errorf("set %q: unknown kind %q", key, kind)
	}
	if err := expiration.CheckPayload(kind, data); err != nil {
		return nil, fmt.Errorf("set %q: %w", key, err)
	}

	ct := opts.ContentType
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.ttl.TTLFor(ct)
	}
	prio := opts.Priority
	if !prio.Valid() {
		prio = eviction.PriorityFor(ct)
	}

	stored, compressed := data, false
	if opts.Compress != nil && *opts.Compress && m.compressor.ShouldCompress(data) {
		gz, err := m.compressor.Compress(data)
		if err != nil {
			return nil, fmt.Errorf("compress %q: %w", key, err)
		}
		stored, compressed = gz, true
	}

	return &types.CacheEntry{
		Key:          key,
		Kind:         kind,
		Data:         stored,
		Compressed:   compressed,
		Timestamp:    m.ttl.Clock().Now(),
		TTL:          ttl,
		Version:      types.SchemaVersion,
		Priority:     prio,
		Size:         int64(len(stored)),
		ContentType:  ct,
		ETag:         opts.ETag,
		LastModified: opts.LastModified,
	}, nil
}

// ensureRoom runs quota enforcement once if the write needs it. The caller
// must hold writeMu.
func (m *Manager) ensureRoom(ctx context.Context, key string, incoming int64) error {
	if !m.available {
		return nil
	}
	est := m.estimator.Estimate(ctx)
	if !m.estimator.NeedsCleanup(est, incoming) {
		return nil
	}

	need := max(m.estimator.CalculateSpaceToFree(est), est.Used+incoming-est.Quota)
	if _, err := m.collector.PerformCleanup(ctx, need); err != nil {
		return fmt.Errorf("enforce quota: %w", err)
	}

	est = m.estimator.Estimate(ctx)
	if !m.estimator.Fits(est, incoming) {
		return &types.QuotaExceededError{Key: key, Requested: incoming, Available: est.Available}
	}
	return nil
}

func (m *Manager) write(ctx context.Context, entries ...*types.CacheEntry) error {
	if err := m.primary.Put(ctx, entries...); err != nil {
		return fmt.Errorf("write %d entries: %w", len(entries), err)
	}
	if m.policy == nil {
		return nil
	}
	for _, ent := range entries {
		if keys.IsHTTPCacheable(ent.Key) {
			m.policy.OnWrite(ctx, ent)
		}
	}
	return nil
}

// Get returns the decoded-ready entry for key, or nil on a miss. The returned
// entry's Data is always uncompressed; Size still reports stored bytes.
func (m *Manager) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	ent, err := m.lookup(ctx, key)
	if err != nil || ent == nil {
		return nil, err
	}

	switch m.validator.Check(ent) {
	case expiration.Corrupt:
		m.discard(ctx, key)
		m.recorder.Corrupt(key)
		return nil, nil
	case expiration.Expired:
		m.discard(ctx, key)
		m.recorder.Expire(key)
		return nil, nil
	case expiration.Valid:
	}

	if ent.Compressed {
		raw, err := m.compressor.Decompress(ent.Data)
		if err == nil {
			err = expiration.CheckPayload(ent.Kind, raw)
		}
		if err != nil {
			m.logger.Warn("corrupt cache entry", zap.String("key", key), zap.Error(err))
			m.discard(ctx, key)
			m.recorder.Corrupt(key)
			return nil, nil
		}
		ent.Data = raw
		ent.Compressed = false
	}
	return ent, nil
}

// Peek returns the stored entry for key without validating or decompressing it.
func (m *Manager) Peek(ctx context.Context, key string) (*types.CacheEntry, error) {
	return m.lookup(ctx, key)
}

// lookup reads the primary store and, for HTTP-cacheable keys, falls back to
// the response store. Read failures are logged and treated as misses.
func (m *Manager) lookup(ctx context.Context, key string) (*types.CacheEntry, error) {
	ent, err := m.primary.Get(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("primary store read failed", zap.String("key", key), zap.Error(err))
		ent = nil
	}
	if ent != nil || m.secondary == nil || !keys.IsHTTPCacheable(key) {
		return ent, nil
	}

	ent, err = m.secondary.Lookup(ctx, key)
	if err != nil {
		m.logger.Warn("corrupt cached response", zap.String("key", key), zap.Error(err))
		_ = m.secondary.Delete(ctx, key)
		m.recorder.Corrupt(key)
		return nil, nil
	}
	return ent, nil
}

func (m *Manager) discard(ctx context.Context, key string) {
	if err := m.remove(ctx, key); err != nil {
		m.logger.Warn("failed to delete invalid entry", zap.String("key", key), zap.Error(err))
	}
}

// GetBatch reads keys concurrently. Misses are absent from the result.
func (m *Manager) GetBatch(ctx context.Context, batch []string) (map[string]*types.CacheEntry, error) {
	out := make(map[string]*types.CacheEntry, len(batch))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultBatchConcurrency)
	for _, key := range batch {
		g.Go(func() error {
			ent, err := m.Get(gctx, key)
			if err != nil {
				return fmt.Errorf("get %q: %w", key, err)
			}
			if ent != nil {
				mu.Lock()
				out[key] = ent
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes key from every store.
func (m *Manager) Remove(ctx context.Context, key string) error {
	return m.remove(ctx, key)
}

// RemoveBatch deletes all keys from every store.
func (m *Manager) RemoveBatch(ctx context.Context, batch []string) error {
	return m.remove(ctx, batch...)
}

func (m *Manager) remove(ctx context.Context, batch ...string) error {
	if len(batch) == 0 {
		return nil
	}
	if err := m.primary.Delete(ctx, batch...); err != nil {
		return fmt.Errorf("delete %d keys: %w", len(batch), err)
	}
	if m.policy != nil {
		var mirrored []string
		for _, k := range batch {
			if keys.IsHTTPCacheable(k) {
				mirrored = append(mirrored, k)
			}
		}
		if len(mirrored) > 0 {
			m.policy.OnDelete(ctx, mirrored...)
		}
	}
	return nil
}

// RemovePrefix deletes every key starting with prefix from every store.
func (m *Manager) RemovePrefix(ctx context.Context, prefix string) error {
	if err := m.primary.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	if m.policy != nil {
		m.policy.OnDeletePrefix(ctx, prefix)
	}
	return nil
}

// Clear deletes everything from every store.
func (m *Manager) Clear(ctx context.Context) error {
	return m.RemovePrefix(ctx, "")
}

/*
Touch rewrites the envelope of a stored entry in place: update receives the
stored entry (still compressed if it was) and may change its TTL or
timestamp. It reports false when key is not stored. Expired and corrupt
entries are deleted instead of touched, so they cannot be revived.
*/
func (m *Manager) Touch(ctx context.Context, key string, update func(*types.CacheEntry)) (bool, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	ent, err := m.lookup(ctx, key)
	if err != nil || ent == nil {
		return false, err
	}
	switch m.validator.Check(ent) {
	case expiration.Corrupt:
		m.discard(ctx, key)
		m.recorder.Corrupt(key)
		return false, nil
	case expiration.Expired:
		m.discard(ctx, key)
		m.recorder.Expire(key)
		return false, nil
	case expiration.Valid:
	}
	update(ent)
	if err := m.write(ctx, ent); err != nil {
		return false, err
	}
	return true, nil
}

// UsedBytes reports the bytes held by the primary store.
func (m *Manager) UsedBytes(ctx context.Context) (int64, error) {
	return m.primary.UsedBytes(ctx)
}

// GetStorageUsage reports usage, pressure level and entry count.
func (m *Manager) GetStorageUsage(ctx context.Context) (Usage, error) {
	infos, err := m.primary.List(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("list entries: %w", err)
	}
	est := m.estimator.Estimate(ctx)
	return Usage{Estimate: est, Level: m.estimator.Level(est), Entries: len(infos)}, nil
}

// Cleanup removes every expired entry.
func (m *Manager) Cleanup(ctx context.Context) (eviction.Result, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.collector.PerformCleanup(ctx, 0)
}

// EnforceQuota frees space when usage is critical, and does nothing otherwise.
func (m *Manager) EnforceQuota(ctx context.Context) (eviction.Result, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	est := m.estimator.Estimate(ctx)
	if est.Fallback || m.estimator.Level(est) != quota.LevelCritical {
		return eviction.Result{}, nil
	}
	return m.collector.PerformCleanup(ctx, m.estimator.CalculateSpaceToFree(est))
}

// Flush waits for pending mirror changes.
func (m *Manager) Flush(ctx context.Context) error {
	if m.policy == nil {
		return nil
	}
	return m.policy.Flush(ctx)
}

// Close drains the mirror and closes the primary store.
func (m *Manager) Close() error {
	if m.policy != nil {
		m.policy.Close()
	}
	if err := m.primary.Close(); err != nil {
		return fmt.Errorf("close primary store: %w", err)
	}
	return nil
}

// gcTarget exposes the manager to the garbage collector without taking
// writeMu, which the collector's caller already holds.
type gcTarget struct{ m *Manager }

func (t gcTarget) List(ctx context.Context) ([]types.EntryInfo, error) {
	return t.m.primary.List(ctx)
}

func (t gcTarget) Remove(ctx context.Context, batch ...string) error {
	return t.m.remove(ctx, batch...)
}
