package cache

import (
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/krisalay/tiercache/config"
	"github.com/krisalay/tiercache/quota"
	"github.com/krisalay/tiercache/storage"
)

type options struct {
	cfg        config.Config
	hasConfig  bool
	backend    storage.Backend
	clock      clockwork.Clock
	logger     *zap.Logger
	registerer prometheus.Registerer
	source     quota.Source
}

// Option configures a Manager.
type Option func(*options)

// WithConfig replaces the configuration loaded from the environment.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
		o.hasConfig = true
	}
}

// WithBackend uses b as the structured store instead of opening the
// configured one. The Manager takes ownership and closes it.
func WithBackend(b storage.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithClock sets the clock every TTL and latency measurement uses.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger instead of building one from the config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer exports cache metrics to Prometheus through reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithQuotaSource replaces the fixed byte quota with src, e.g. a platform
// storage estimate.
func WithQuotaSource(src quota.Source) Option {
	return func(o *options) {
		o.source = src
	}
}
