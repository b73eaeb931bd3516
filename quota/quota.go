// Package quota estimates storage usage and classifies pressure.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

const (
	// DefaultWarning is the usage fraction at which pressure becomes a warning.
	DefaultWarning = 0.80

	// DefaultCritical is the usage fraction at which writes trigger cleanup.
	DefaultCritical = 0.95

	// DefaultFreeFraction is the share of the quota a cleanup aims to free.
	DefaultFreeFraction = 0.20

	// FallbackQuota is assumed when no usage source is available.
	FallbackQuota int64 = 50 * 1024 * 1024
)

// ErrUnavailable means the source cannot report usage.
var ErrUnavailable = errors.New("storage estimate unavailable")

// Source is the platform capability that reports bytes used and the quota.
type Source interface {
	Estimate(ctx context.Context) (used, quota int64, err error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (used, quota int64, err error)

func (f SourceFunc) Estimate(ctx context.Context) (int64, int64, error) {
	return f(ctx)
}

// Estimate is a point-in-time usage report.
type Estimate struct {
	Used       int64   `json:"used"`
	Available  int64   `json:"available"`
	Quota      int64   `json:"quota"`
	Percentage float64 `json:"percentage"`
	Fallback   bool    `json:"fallback"`
}

// Level classifies usage pressure.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Config tunes the estimator thresholds.
type Config struct {
	Warning      float64
	Critical     float64
	FreeFraction float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{Warning: DefaultWarning, Critical: DefaultCritical, FreeFraction: DefaultFreeFraction}
}

// Estimator turns a Source into Estimates and cleanup targets.
type Estimator struct {
	source Source
	config Config
	logger *zap.Logger
}

// NewEstimator creates an Estimator. Zero config fields take defaults; a nil
// source always yields the fallback estimate.
func NewEstimator(source Source, config Config, logger *zap.Logger) *Estimator {
	def := DefaultConfig()
	if config.Warning <= 0 {
		config.Warning = def.Warning
	}
	if config.Critical <= 0 {
		config.Critical = def.Critical
	}
	if config.FreeFraction <= 0 {
		config.FreeFraction = def.FreeFraction
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{source: source, config: config, logger: logger}
}

// Config returns the thresholds in use.
func (e *Estimator) Config() Config {
	return e.config
}

// Estimate asks the source for usage, falling back to a conservative fixed
// assumption when it cannot answer.
func (e *Estimator) Estimate(ctx context.Context) Estimate {
	if e.source == nil {
		return fallback()
	}
	used, q, err := e.source.Estimate(ctx)
	if err == nil && q <= 0 {
		err = fmt.Errorf("%w: non-positive quota %d", ErrUnavailable, q)
	}
	if err != nil {
		e.logger.Debug("storage estimate unavailable, using fallback", zap.Error(err))
		return fallback()
	}
	if used < 0 {
		used = 0
	}
	return Estimate{
		Used:       used,
		Available:  max(q-used, 0),
		Quota:      q,
		Percentage: float64(used) / float64(q) * 100,
	}
}

// Level classifies est against the warning and critical thresholds.
func (e *Estimator) Level(est Estimate) Level {
	frac := est.Percentage / 100
	switch {
	case frac >= e.config.Critical:
		return LevelCritical
	case frac >= e.config.Warning:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// NeedsCleanup reports whether a write of incoming bytes should run the
// garbage collector first: usage is critical or the write would not fit.
func (e *Estimator) NeedsCleanup(est Estimate, incoming int64) bool {
	if est.Fallback {
		return false
	}
	return e.Level(est) == LevelCritical || est.Used+incoming > est.Quota
}

// Fits reports whether incoming bytes fit in the remaining quota.
func (e *Estimator) Fits(est Estimate, incoming int64) bool {
	return est.Fallback || est.Used+incoming <= est.Quota
}

// CalculateSpaceToFree returns how many bytes a cleanup should free: at least
// FreeFraction of the quota, or enough to drop below the warning threshold.
func (e *Estimator) CalculateSpaceToFree(est Estimate) int64 {
	byFraction := int64(math.Ceil(float64(est.Quota) * e.config.FreeFraction))
	toWarning := est.Used - int64(float64(est.Quota)*e.config.Warning)
	return max(byFraction, toWarning, 0)
}

func fallback() Estimate {
	return Estimate{
		Used:       0,
		Available:  FallbackQuota,
		Quota:      FallbackQuota,
		Percentage: 0,
		Fallback:   true,
	}
}

// UsageReporter is anything that can count the bytes it stores.
type UsageReporter interface {
	UsedBytes(ctx context.Context) (int64, error)
}

// FixedQuota is a Source that measures usage from r against a configured
// quota. A non-positive quota makes it report ErrUnavailable.
func FixedQuota(r UsageReporter, quota int64) Source {
	return SourceFunc(func(ctx context.Context) (int64, int64, error) {
		if r == nil || quota <= 0 {
			return 0, 0, ErrUnavailable
		}
		used, err := r.UsedBytes(ctx)
		if err != nil {
			return 0, 0, err
		}
		return used, quota, nil
	})
}
