package types

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the eviction weight of an entry. Higher survives longer.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the three declared weights.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// ParsePriority parses "low", "medium" or "high".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return 0, fmt.Errorf("invalid priority: %q", s)
	}
}

// ContentType tags what kind of data is cached; it selects TTL, priority
// and retrieval strategy.
type ContentType string

const (
	ContentTypeContent ContentType = "content"
	ContentTypeAPI     ContentType = "api"
	ContentTypeSearch  ContentType = "search"
	ContentTypeUser    ContentType = "user"
	ContentTypeStatic  ContentType = "static"
	ContentTypeImage   ContentType = "image"
	ContentTypeFont    ContentType = "font"
	ContentTypeQuiz    ContentType = "quiz"
)

// ContentTypes lists every declared content type.
var ContentTypes = []ContentType{
	ContentTypeContent,
	ContentTypeAPI,
	ContentTypeSearch,
	ContentTypeUser,
	ContentTypeStatic,
	ContentTypeImage,
	ContentTypeFont,
	ContentTypeQuiz,
}

// Namespace is the first segment of every cache key.
type Namespace string

const (
	NamespaceContent Namespace = "content"
	NamespaceAPI     Namespace = "api"
	NamespaceAsset   Namespace = "asset"
)

// StrategyKind names a retrieval strategy.
type StrategyKind string

const (
	StrategyCacheFirst           StrategyKind = "cache-first"
	StrategyNetworkFirst         StrategyKind = "network-first"
	StrategyStaleWhileRevalidate StrategyKind = "stale-while-revalidate"
	StrategyNetworkOnly          StrategyKind = "network-only"
	StrategyCacheOnly            StrategyKind = "cache-only"
)

// Valid reports whether s is a known strategy.
func (s StrategyKind) Valid() bool {
	switch s {
	case StrategyCacheFirst, StrategyNetworkFirst, StrategyStaleWhileRevalidate,
		StrategyNetworkOnly, StrategyCacheOnly:
		return true
	default:
		return false
	}
}

/*
StorageOptions lets every call site override the content-type defaults.
Zero values mean "use the default".
*/
type StorageOptions struct {
	TTL         time.Duration
	Priority    Priority
	Compress    *bool
	Strategy    StrategyKind
	Kind        Kind
	ContentType ContentType

	ETag         string
	LastModified string
}

// Bool returns a pointer to b, for StorageOptions.Compress.
func Bool(b bool) *bool {
	return &b
}

// Policy is the fully resolved configuration for one content type.
type Policy struct {
	TTL      time.Duration
	Priority Priority
	Compress bool
	Strategy StrategyKind
}

// Apply overlays the non-zero fields of opts onto p.
func (p Policy) Apply(opts StorageOptions) Policy {
	if opts.TTL > 0 {
		p.TTL = opts.TTL
	}
	if opts.Priority.Valid() {
		p.Priority = opts.Priority
	}
	if opts.Compress != nil {
		p.Compress = *opts.Compress
	}
	if opts.Strategy != "" {
		p.Strategy = opts.Strategy
	}
	return p
}

// Options converts p back into StorageOptions for a storage write.
func (p Policy) Options(kind Kind, ct ContentType) StorageOptions {
	return StorageOptions{
		TTL:         p.TTL,
		Priority:    p.Priority,
		Compress:    Bool(p.Compress),
		Strategy:    p.Strategy,
		Kind:        kind,
		ContentType: ct,
	}
}
