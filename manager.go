// Package cache is the multi-tier cache engine.
//
// Manager is the facade: it builds namespaced keys, resolves per-content-type
// policies, stores through the storage manager and records every lookup in
// the performance tracker.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/krisalay/tiercache/api"
	"github.com/krisalay/tiercache/compression"
	"github.com/krisalay/tiercache/config"
	"github.com/krisalay/tiercache/engine"
	"github.com/krisalay/tiercache/expiration"
	"github.com/krisalay/tiercache/keys"
	"github.com/krisalay/tiercache/metrics"
	"github.com/krisalay/tiercache/quota"
	"github.com/krisalay/tiercache/refresh"
	"github.com/krisalay/tiercache/storage"
	"github.com/krisalay/tiercache/storage/sqlite"
	"github.com/krisalay/tiercache/strategy"
	"github.com/krisalay/tiercache/types"
	"github.com/krisalay/tiercache/writepolicy"
)

type (
	Stats  = api.Stats
	Status = api.Status
)

/*
Manager is the cache facade.
This struct connects:
- the storage manager (structured store + response store)
- the strategy orchestrator
- the revalidator
- the performance tracker
*/
type Manager struct {
	storage      *storage.Manager
	responses    *storage.ResponseStore
	orchestrator *engine.Orchestrator
	revalidator  *refresh.Revalidator
	tracker      *metrics.Tracker
	validator    *expiration.Validator
	ttl          *expiration.Resolver

	clock   clockwork.Clock
	logger  *zap.Logger
	backend string

	initMu sync.Mutex
	status *Status

	closeOnce sync.Once
	closeErr  error
}

var _ api.Cache = (*Manager)(nil)

/*
New builds a Manager.

Without WithConfig the configuration is read from the environment. If the
configured structured store cannot be opened, the manager degrades to a
no-op cache instead of failing: every read misses and every write succeeds.
*/
func New(ctx context.Context, opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if !o.hasConfig {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = config.NewLogger(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	clock := o.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var exporterOpt []metrics.Option
	if o.registerer != nil {
		exp, err := metrics.NewExporter(cfg.MetricsNamespace, o.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		exporterOpt = append(exporterOpt, metrics.WithExporter(exp))
	}
	tracker := metrics.NewTracker(append(exporterOpt, metrics.WithWindow(cfg.MetricsWindow))...)

	backend, name := o.backend, "custom"
	if backend == nil {
		backend, name = openBackend(ctx, cfg, logger)
	}

	resolver := expiration.NewResolver(clock, cfg.TTLOverrides())
	responses := storage.NewResponseStore()

	quotaCfg := quota.Config{
		Warning:      cfg.WarningThreshold,
		Critical:     cfg.CriticalThreshold,
		FreeFraction: cfg.FreeFraction,
	}
	storageOpts := []storage.Option{
		storage.WithResolver(resolver),
		storage.WithCompressor(compression.New(cfg.CompressionThreshold, cfg.CompressionLevel)),
		storage.WithGCBatchSize(cfg.GCBatchSize),
		storage.WithRecorder(tracker),
		storage.WithLogger(logger),
	}
	// Without a structured store nothing is cached, mirrored responses included.
	if backend != nil {
		var mirror writepolicy.WritePolicy
		switch cfg.MirrorMode {
		case config.MirrorAsync:
			mirror = writepolicy.NewWriteBackPolicy(responses, cfg.MirrorBuffer, logger)
		default:
			mirror = writepolicy.NewWriteThroughPolicy(responses, logger)
		}
		storageOpts = append(storageOpts, storage.WithSecondary(responses, mirror))
	}
	if o.source != nil {
		storageOpts = append(storageOpts, storage.WithQuotaSource(o.source, quotaCfg))
	} else {
		storageOpts = append(storageOpts, storage.WithQuota(cfg.QuotaBytes, quotaCfg))
	}
	store := storage.NewManager(backend, storageOpts...)

	revalidator := refresh.New(
		refresh.WithWorkers(cfg.RevalidateWorkers),
		refresh.WithQueueSize(cfg.RevalidateQueue),
		refresh.WithMaxTries(cfg.RevalidateMaxTries),
		refresh.WithTimeout(cfg.RevalidateTimeout),
		refresh.WithRecorder(tracker),
		refresh.WithLogger(logger),
	)

	orchestrator := engine.NewOrchestrator(strategy.Deps{
		Store:       store,
		Resolver:    resolver,
		Revalidator: revalidator,
		Breaker: strategy.BreakerConfig{
			Name:                "network-first",
			MaxRequests:         cfg.Breaker.MaxRequests,
			Interval:            cfg.Breaker.Interval,
			Timeout:             cfg.Breaker.Timeout,
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		},
		Logger: logger,
	}, cfg.Overrides())

	if !store.Available() {
		name = config.BackendNone
	}
	logger.Info("cache created",
		zap.String("backend", name),
		zap.Int64("quota_bytes", cfg.QuotaBytes),
		zap.String("mirror_mode", cfg.MirrorMode),
	)

	return &Manager{
		storage:      store,
		responses:    responses,
		orchestrator: orchestrator,
		revalidator:  revalidator,
		tracker:      tracker,
		validator:    expiration.NewValidator(resolver, logger),
		ttl:          resolver,
		clock:        clock,
		logger:       logger,
		backend:      name,
	}, nil
}

// openBackend opens the configured structured store. A nil Backend means no
// store could be opened.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Backend, string) {
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, cfg.DBPath)
		if err != nil {
			logger.Warn("structured store unavailable, caching disabled",
				zap.String("path", cfg.DBPath), zap.Error(err))
			return nil, config.BackendNone
		}
		return st, config.BackendSQLite
	case config.BackendMemory:
		return storage.NewMemoryBackend(cfg.Shards), config.BackendMemory
	default:
		return nil, config.BackendNone
	}
}

// Storage returns the storage manager, for callers that need raw entries.
func (m *Manager) Storage() *storage.Manager { return m.storage }

// Responses returns the HTTP response store. It is an http.Handler.
func (m *Manager) Responses() *storage.ResponseStore { return m.responses }

// Orchestrator returns the strategy orchestrator.
func (m *Manager) Orchestrator() *engine.Orchestrator { return m.orchestrator }

// Tracker returns the performance tracker.
func (m *Manager) Tracker() *metrics.Tracker { return m.tracker }

// Revalidator returns the background revalidation pool.
func (m *Manager) Revalidator() *refresh.Revalidator { return m.revalidator }

/*
Initialize bootstraps the cache. Only the first successful call does work:
it removes entries that expired while nothing was running and frees space
if the store is already critical. Later calls return the same Status.
*/
func (m *Manager) Initialize(ctx context.Context) (Status, error) {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.status != nil {
		return *m.status, nil
	}

	available := m.storage.Available()
	if available {
		res, err := m.storage.Cleanup(ctx)
		if err != nil {
			return Status{}, fmt.Errorf("initial cleanup: %w", err)
		}
		if _, err := m.storage.EnforceQuota(ctx); err != nil {
			return Status{}, fmt.Errorf("initial quota enforcement: %w", err)
		}
		m.logger.Info("cache initialized",
			zap.Int("expired_removed", res.Expired),
			zap.Int64("bytes_freed", res.Freed),
		)
	}

	m.status = &Status{
		Initialized:      true,
		StorageAvailable: available,
		OfflineSupported: available && m.responses != nil,
	}
	return *m.status, nil
}

// CacheContent stores a content document.
func (m *Manager) CacheContent(ctx context.Context, contentID string, params map[string]any, payload types.ContentPayload, opts ...types.StorageOptions) error {
	key, err := keys.ContentKey(contentID, params)
	if err != nil {
		return err
	}
	return m.put(ctx, key, types.KindContent, types.ContentTypeContent, payload, opts)
}

// GetContent returns the cached content document for contentID and params.
func (m *Manager) GetContent(ctx context.Context, contentID string, params map[string]any) (*types.ContentPayload, bool, error) {
	key, err := keys.ContentKey(contentID, params)
	if err != nil {
		return nil, false, err
	}
	var p types.ContentPayload
	ok, err := m.get(ctx, key, types.KindContent, &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// CacheAPIResponse stores an API response. opts may carry a more specific
// ContentType (search, user, quiz) than the api default.
func (m *Manager) CacheAPIResponse(ctx context.Context, url string, params map[string]any, payload types.APIPayload, opts ...types.StorageOptions) error {
	key, err := keys.APIKey(url, params)
	if err != nil {
		return err
	}
	return m.put(ctx, key, types.KindAPI, types.ContentTypeAPI, payload, opts)
}

// GetAPIResponse returns the cached API response for url and params.
func (m *Manager) GetAPIResponse(ctx context.Context, url string, params map[string]any) (*types.APIPayload, bool, error) {
	key, err := keys.APIKey(url, params)
	if err != nil {
		return nil, false, err
	}
	var p types.APIPayload
	ok, err := m.get(ctx, key, types.KindAPI, &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// CacheAsset stores a binary asset. The asset's URL defaults to url.
func (m *Manager) CacheAsset(ctx context.Context, url string, payload types.AssetPayload, opts ...types.StorageOptions) error {
	key, err := keys.AssetKey(url)
	if err != nil {
		return err
	}
	if payload.URL == "" {
		payload.URL = url
	}
	return m.put(ctx, key, types.KindAsset, types.ContentTypeStatic, payload, opts)
}

// GetAsset returns the cached asset for url.
func (m *Manager) GetAsset(ctx context.Context, url string) (*types.AssetPayload, bool, error) {
	key, err := keys.AssetKey(url)
	if err != nil {
		return nil, false, err
	}
	var p types.AssetPayload
	ok, err := m.get(ctx, key, types.KindAsset, &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (m *Manager) put(ctx context.Context, key string, kind types.Kind, ct types.ContentType, payload any, opts []types.StorageOptions) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	ct = contentTypeOf(ct, opts)
	last := types.StorageOptions{Kind: kind}
	if kind == types.KindAsset {
		// Asset blobs are already encoded (images, fonts); store them raw.
		last.Compress = types.Bool(false)
	}
	all := append(append([]types.StorageOptions(nil), opts...), last)
	resolved := m.orchestrator.Resolve(ct, all...)
	return m.storage.Set(ctx, key, data, resolved)
}

/*
get reads key and decodes it into out.

An entry of another kind than expected is a miss: keys are namespaced by
kind, so it can only be there if something wrote the key directly.
*/
func (m *Manager) get(ctx context.Context, key string, kind types.Kind, out any) (bool, error) {
	start := m.clock.Now()

	ent, err := m.storage.Get(ctx, key)
	if err != nil {
		m.tracker.Miss(key, m.clock.Since(start))
		return false, err
	}
	if ent == nil || ent.Kind != kind {
		if ent != nil {
			m.logger.Warn("unexpected entry kind",
				zap.String("key", key),
				zap.String("want", string(kind)),
				zap.String("got", string(ent.Kind)),
			)
		}
		m.tracker.Miss(key, m.clock.Since(start))
		return false, nil
	}
	if err := json.Unmarshal(ent.Data, out); err != nil {
		// The validator checked the payload shape, so this is unexpected.
		m.logger.Warn("undecodable cache entry", zap.String("key", key), zap.Error(err))
		m.tracker.Miss(key, m.clock.Since(start))
		return false, nil
	}

	m.tracker.Hit(key, m.clock.Since(start))
	return true, nil
}

/*
Fetch reads key through the strategy configured for ct.

A call counts as a hit when it returned data without a successful fetch, and
as a miss otherwise. A caller that waited on another caller's fetch of the
same key counts as a miss too. Background revalidations never count.
*/
func (m *Manager) Fetch(ctx context.Context, key string, ct types.ContentType, fetch types.FetchFunc, opts ...types.StorageOptions) ([]byte, error) {
	start := m.clock.Now()

	ctx, fetched := strategy.TrackFetches(ctx)
	data, err := m.orchestrator.ExecuteStrategy(ctx, key, ct, fetch, opts...)
	if err != nil || fetched.Load() {
		m.tracker.Miss(key, m.clock.Since(start))
	} else {
		m.tracker.Hit(key, m.clock.Since(start))
	}
	return data, err
}

// FetchJSON is Fetch followed by decoding the JSON result into a T.
func FetchJSON[T any](ctx context.Context, m *Manager, key string, ct types.ContentType, fetch types.FetchFunc, opts ...types.StorageOptions) (T, error) {
	var out T
	data, err := m.Fetch(ctx, key, ct, fetch, opts...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %q: %w", key, err)
	}
	return out, nil
}

// ClearCache deletes every key of each namespace, or everything when no
// namespace is given.
func (m *Manager) ClearCache(ctx context.Context, namespaces ...types.Namespace) error {
	if len(namespaces) == 0 {
		if err := m.storage.Clear(ctx); err != nil {
			return err
		}
		m.logger.Info("cache cleared")
		return nil
	}

	var errs []error
	for _, ns := range namespaces {
		if err := m.storage.RemovePrefix(ctx, keys.Prefix(ns)); err != nil {
			errs = append(errs, err)
			continue
		}
		m.logger.Info("cache namespace cleared", zap.String("namespace", string(ns)))
	}
	return errors.Join(errs...)
}

// GetCacheStats merges tracker aggregates with storage usage.
func (m *Manager) GetCacheStats(ctx context.Context) (Stats, error) {
	usage, err := m.storage.GetStorageUsage(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Performance:          m.tracker.Stats(),
		Storage:              usage,
		Backend:              m.backend,
		CachedResponses:      m.responses.Len(),
		PendingRevalidations: m.revalidator.Pending(),
	}, nil
}

// IsValid reports whether key holds a well-formed, unexpired entry. It does
// not delete what it finds.
func (m *Manager) IsValid(ctx context.Context, key string) (bool, error) {
	ent, err := m.storage.Peek(ctx, key)
	if err != nil || ent == nil {
		return false, err
	}
	return m.validator.IsValid(ent), nil
}

// IsStale reports whether key holds a valid entry past its refresh point.
func (m *Manager) IsStale(ctx context.Context, key string) (bool, error) {
	ent, err := m.storage.Peek(ctx, key)
	if err != nil || ent == nil {
		return false, err
	}
	return m.validator.IsValid(ent) && m.ttl.IsStale(ent), nil
}

// Invalidate removes key from every store.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	return m.storage.Remove(ctx, key)
}

// ExtendTTL adds d to the TTL of key.
func (m *Manager) ExtendTTL(ctx context.Context, key string, d time.Duration) (bool, error) {
	return m.storage.Touch(ctx, key, func(ent *types.CacheEntry) {
		m.ttl.ExtendTTL(ent, d)
	})
}

// RefreshTTL resets the timestamp of key to now and its TTL to its content
// type's default.
func (m *Manager) RefreshTTL(ctx context.Context, key string) (bool, error) {
	return m.storage.Touch(ctx, key, m.ttl.RefreshTTL)
}

/*
Close gracefully shuts down the cache.
Queued revalidations are given until ctx ends, pending mirror writes are
flushed, then the structured store is closed. Later calls return the first
result.
*/
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.revalidator.Close(ctx)
		if err := m.storage.Flush(ctx); err != nil {
			m.logger.Warn("mirror flush failed", zap.Error(err))
		}
		m.closeErr = m.storage.Close()
		_ = m.logger.Sync()
	})
	return m.closeErr
}

func contentTypeOf(def types.ContentType, opts []types.StorageOptions) types.ContentType {
	for _, o := range opts {
		if o.ContentType != "" {
			def = o.ContentType
		}
	}
	return def
}
