package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is written into every new entry.
const SchemaVersion = "1"

/*
CacheEntry is the universal stored record.

Data holds the bytes exactly as persisted. When Compressed is set the bytes
are gzip and must be inflated before the payload is decoded. Size always
reflects len(Data), i.e. the stored size, never the pre-compression size.
*/
type CacheEntry struct {
	Key         string
	Kind        Kind
	Data        []byte
	Compressed  bool
	Timestamp   time.Time
	TTL         time.Duration
	Version     string
	Priority    Priority
	Size        int64
	ContentType ContentType

	// Freshness hints for revalidation.
	ETag         string
	LastModified string
}

// ExpiresAt returns the instant after which the entry is no longer valid.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.Timestamp.Add(e.TTL)
}

// Info returns the metadata the garbage collector works on.
func (e *CacheEntry) Info() EntryInfo {
	return EntryInfo{
		Key:       e.Key,
		Priority:  e.Priority,
		Timestamp: e.Timestamp,
		TTL:       e.TTL,
		Size:      e.Size,
	}
}

// Clone returns a deep copy so callers can never mutate stored bytes.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Data = append([]byte(nil), e.Data...)
	return &c
}

// EntryInfo is the payload-free view of an entry.
type EntryInfo struct {
	Key       string
	Priority  Priority
	Timestamp time.Time
	TTL       time.Duration
	Size      int64
}

// Kind is the persisted variant tag of an entry's payload.
type Kind string

const (
	// KindRaw is any payload written directly through the storage manager.
	KindRaw Kind = "raw"

	// KindContent holds a ContentPayload.
	KindContent Kind = "content"

	// KindAPI holds an APIPayload.
	KindAPI Kind = "api"

	// KindAsset holds an AssetPayload.
	KindAsset Kind = "asset"
)

// Known reports whether k is one of the declared variants.
func (k Kind) Known() bool {
	switch k {
	case KindRaw, KindContent, KindAPI, KindAsset:
		return true
	default:
		return false
	}
}

// ContentPayload is a structured domain document with its translations and images.
type ContentPayload struct {
	Content      json.RawMessage            `json:"content"`
	Translations map[string]json.RawMessage `json:"translations,omitempty"`
	Images       []string                   `json:"images,omitempty"`
}

// Decode unmarshals the main document into out.
func (p *ContentPayload) Decode(out any) error {
	return json.Unmarshal(p.Content, out)
}

// Translation unmarshals the translation for lang into out.
// It returns false when no translation exists for lang.
func (p *ContentPayload) Translation(lang string, out any) (bool, error) {
	raw, ok := p.Translations[lang]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// APIPayload is a cached API response.
type APIPayload struct {
	Response json.RawMessage   `json:"response"`
	Headers  map[string]string `json:"headers,omitempty"`
	Status   int               `json:"status"`
}

// Decode unmarshals the response body into out.
func (p *APIPayload) Decode(out any) error {
	return json.Unmarshal(p.Response, out)
}

// AssetPayload is a cached binary asset.
type AssetPayload struct {
	Blob     []byte `json:"blob"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url"`
}

// DecodePayload unmarshals raw into the Go type matching kind.
// KindRaw payloads are returned as json.RawMessage.
func DecodePayload(kind Kind, raw []byte) (any, error) {
	switch kind {
	case KindRaw:
		return json.RawMessage(raw), nil
	case KindContent:
		var p ContentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case KindAPI:
		var p APIPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case KindAsset:
		var p AssetPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown entry kind %q", kind)
	}
}
