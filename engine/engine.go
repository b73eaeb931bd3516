package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/krisalay/tiercache/eviction"
	"github.com/krisalay/tiercache/expiration"
	"github.com/krisalay/tiercache/strategy"
	"github.com/krisalay/tiercache/types"
)

// DefaultPolicies returns the per-content-type configuration table.
func DefaultPolicies() map[types.ContentType]types.Policy {
	policy := func(ct types.ContentType, compress bool, s types.StrategyKind) types.Policy {
		return types.Policy{
			TTL:      expiration.DefaultTTLs[ct],
			Priority: eviction.PriorityFor(ct),
			Compress: compress,
			Strategy: s,
		}
	}
	return map[types.ContentType]types.Policy{
		types.ContentTypeContent: policy(types.ContentTypeContent, true, types.StrategyStaleWhileRevalidate),
		types.ContentTypeAPI:     policy(types.ContentTypeAPI, false, types.StrategyNetworkFirst),
		types.ContentTypeSearch:  policy(types.ContentTypeSearch, false, types.StrategyNetworkFirst),
		types.ContentTypeUser:    policy(types.ContentTypeUser, false, types.StrategyNetworkFirst),
		types.ContentTypeStatic:  policy(types.ContentTypeStatic, true, types.StrategyCacheFirst),
		types.ContentTypeImage:   policy(types.ContentTypeImage, false, types.StrategyCacheFirst),
		types.ContentTypeFont:    policy(types.ContentTypeFont, false, types.StrategyCacheFirst),
		types.ContentTypeQuiz:    policy(types.ContentTypeQuiz, false, types.StrategyStaleWhileRevalidate),
	}
}

// Override changes parts of one content type's policy. Zero fields keep the default.
type Override struct {
	TTL      time.Duration
	Priority types.Priority
	Compress *bool
	Strategy types.StrategyKind
}

/*
Orchestrator is the "brain" of the read path.
It is responsible for the "behavior" of a cache access, NOT storage.

It decides:
- Which strategy serves a content type
- Which TTL, priority and compression a fetched value is stored with
- How per-call options override those defaults

It does NOT:
- Store data
- Validate entries
- Decide eviction order
*/
type Orchestrator struct {
	deps     strategy.Deps
	policies map[types.ContentType]types.Policy
	logger   *zap.Logger

	// strategies are built on first use and reused afterwards.
	mu         sync.Mutex
	strategies map[types.StrategyKind]strategy.Strategy
}

// NewOrchestrator creates an Orchestrator. Overrides are applied on top of
// DefaultPolicies; an override for an unknown content type adds it.
func NewOrchestrator(deps strategy.Deps, overrides map[types.ContentType]Override) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Group == nil {
		deps.Group = &singleflight.Group{}
	}

	policies := DefaultPolicies()
	for ct, o := range overrides {
		p, ok := policies[ct]
		if !ok {
			p = policies[types.ContentTypeAPI]
		}
		policies[ct] = p.Apply(types.StorageOptions{
			TTL:      o.TTL,
			Priority: o.Priority,
			Compress: o.Compress,
			Strategy: o.Strategy,
		})
	}

	return &Orchestrator{
		deps:       deps,
		policies:   policies,
		logger:     deps.Logger,
		strategies: make(map[types.StrategyKind]strategy.Strategy),
	}
}

// Policy returns the configuration of ct. Unknown types get the API policy.
func (o *Orchestrator) Policy(ct types.ContentType) types.Policy {
	if p, ok := o.policies[ct]; ok {
		return p
	}
	return o.policies[types.ContentTypeAPI]
}

// Resolve merges per-call options into ct's policy and returns the storage
// options a fetched value should be written with.
func (o *Orchestrator) Resolve(ct types.ContentType, opts ...types.StorageOptions) types.StorageOptions {
	p := o.Policy(ct)
	kind := types.KindRaw
	var etag, lastModified string
	for _, opt := range opts {
		p = p.Apply(opt)
		if opt.Kind != "" {
			kind = opt.Kind
		}
		if opt.ETag != "" {
			etag = opt.ETag
		}
		if opt.LastModified != "" {
			lastModified = opt.LastModified
		}
	}
	resolved := p.Options(kind, ct)
	resolved.ETag = etag
	resolved.LastModified = lastModified
	return resolved
}

// Strategy returns the memoized strategy for kind, building it on first use.
func (o *Orchestrator) Strategy(kind types.StrategyKind) (strategy.Strategy, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.strategies[kind]; ok {
		return s, nil
	}
	s, err := strategy.New(kind, o.deps)
	if err != nil {
		return nil, err
	}
	o.strategies[kind] = s
	return s, nil
}

// ExecuteStrategy reads key through the strategy configured for ct.
func (o *Orchestrator) ExecuteStrategy(
	ctx context.Context,
	key string,
	ct types.ContentType,
	fetch types.FetchFunc,
	opts ...types.StorageOptions,
) ([]byte, error) {
	resolved := o.Resolve(ct, opts...)
	s, err := o.Strategy(resolved.Strategy)
	if err != nil {
		return nil, fmt.Errorf("execute %q: %w", key, err)
	}
	o.logger.Debug("executing cache strategy",
		zap.String("key", key),
		zap.String("content_type", string(ct)),
		zap.String("strategy", string(resolved.Strategy)),
	)
	return s.Execute(ctx, key, fetch, resolved)
}
