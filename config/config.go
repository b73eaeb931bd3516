// Package config loads cache configuration from the environment and an
// optional YAML policy file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/krisalay/tiercache/engine"
	"github.com/krisalay/tiercache/types"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TIERCACHE_"

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Mirror modes.
const (
	MirrorSync  = "sync"
	MirrorAsync = "async"
)

// Config is the full cache configuration.
type Config struct {
	Backend string `env:"BACKEND" envDefault:"sqlite" validate:"oneof=sqlite memory none"`
	DBPath  string `env:"DB_PATH" envDefault:"tiercache.db" validate:"required_if=Backend sqlite"`
	Shards  int    `env:"SHARDS" envDefault:"16" validate:"gte=1"`

	QuotaBytes        int64   `env:"QUOTA_BYTES" envDefault:"52428800" validate:"gte=0"`
	WarningThreshold  float64 `env:"QUOTA_WARNING" envDefault:"0.80" validate:"gt=0,ltefield=CriticalThreshold"`
	CriticalThreshold float64 `env:"QUOTA_CRITICAL" envDefault:"0.95" validate:"gt=0,lte=1"`
	FreeFraction      float64 `env:"QUOTA_FREE_FRACTION" envDefault:"0.20" validate:"gt=0,lte=1"`
	GCBatchSize       int     `env:"GC_BATCH_SIZE" envDefault:"50" validate:"gte=1"`

	CompressionThreshold int `env:"COMPRESSION_THRESHOLD" envDefault:"1024" validate:"gte=1"`
	CompressionLevel     int `env:"COMPRESSION_LEVEL" envDefault:"-1" validate:"gte=-3,lte=9"`

	MirrorMode   string `env:"MIRROR_MODE" envDefault:"sync" validate:"oneof=sync async"`
	MirrorBuffer int    `env:"MIRROR_BUFFER" envDefault:"256" validate:"gte=1"`

	RevalidateWorkers  int           `env:"REVALIDATE_WORKERS" envDefault:"2" validate:"gte=1"`
	RevalidateQueue    int           `env:"REVALIDATE_QUEUE" envDefault:"64" validate:"gte=1"`
	RevalidateMaxTries uint          `env:"REVALIDATE_MAX_TRIES" envDefault:"3" validate:"gte=1"`
	RevalidateTimeout  time.Duration `env:"REVALIDATE_TIMEOUT" envDefault:"30s" validate:"gte=0"`

	Breaker Breaker `envPrefix:"BREAKER_"`

	MetricsWindow    int    `env:"METRICS_WINDOW" envDefault:"100" validate:"gte=1"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"tiercache"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	PolicyFile string                               `env:"POLICY_FILE"`
	Policies   map[types.ContentType]PolicyOverride `validate:"dive"`
}

// Breaker configures the circuit breaker of network-first reads.
type Breaker struct {
	ConsecutiveFailures uint32        `env:"FAILURES" envDefault:"5"`
	MaxRequests         uint32        `env:"MAX_REQUESTS" envDefault:"1"`
	Interval            time.Duration `env:"INTERVAL" envDefault:"0s"`
	Timeout             time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// PolicyOverride is one content type's entry in the policy file.
type PolicyOverride struct {
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
	Priority string        `yaml:"priority" validate:"omitempty,oneof=low medium high"`
	Compress *bool         `yaml:"compress"`
	Strategy string        `yaml:"strategy" validate:"omitempty,oneof=cache-first network-first stale-while-revalidate network-only cache-only"`
}

type policyFile struct {
	Policies map[types.ContentType]PolicyOverride `yaml:"policies"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the process environment and, if set, the policy file.
func Load() (Config, error) {
	return LoadFrom(envMap(os.Environ()))
}

// LoadFrom is Load over an explicit environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.PolicyFile != "" {
		policies, err := ReadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Policies = policies
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied.
func Default() Config {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Validate checks every field constraint.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ReadPolicyFile parses a YAML policy file:
//
//	policies:
//	  content:
//	    ttl: 12h
//	    priority: high
//	    compress: true
//	    strategy: stale-while-revalidate
func ReadPolicyFile(path string) (map[types.ContentType]PolicyOverride, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicies(raw)
}

// ParsePolicies parses the policy file content.
func ParsePolicies(raw []byte) (map[types.ContentType]PolicyOverride, error) {
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return pf.Policies, nil
}

// Overrides converts the policy file entries for the orchestrator.
func (c Config) Overrides() map[types.ContentType]engine.Override {
	out := make(map[types.ContentType]engine.Override, len(c.Policies))
	for ct, p := range c.Policies {
		o := engine.Override{TTL: p.TTL, Compress: p.Compress, Strategy: types.StrategyKind(p.Strategy)}
		if p.Priority != "" {
			// Validated by oneof.
			o.Priority, _ = types.ParsePriority(p.Priority)
		}
		out[ct] = o
	}
	return out
}

// TTLOverrides returns the per-type TTLs the policy file sets.
func (c Config) TTLOverrides() map[types.ContentType]time.Duration {
	out := make(map[types.ContentType]time.Duration)
	for ct, p := range c.Policies {
		if p.TTL > 0 {
			out[ct] = p.TTL
		}
	}
	return out
}

func envMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}
