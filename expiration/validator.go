// This file decides whether a stored record may be served.

package expiration

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/krisalay/tiercache/types"
)

// Validity is the outcome of checking an entry.
type Validity int

const (
	Valid Validity = iota
	Expired
	Corrupt
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "corrupt"
	}
}

/*
Validator type-checks stored records and decides expiry.

Expired and corrupt entries are both cache misses. Only corrupt ones are
anomalies worth a log line; expiry is the normal end of an entry's life.
*/
type Validator struct {
	ttl    *Resolver
	logger *zap.Logger
}

// NewValidator creates a Validator. A nil logger discards output.
func NewValidator(ttl *Resolver, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{ttl: ttl, logger: logger}
}

// IsValid is true only for structurally sound, unexpired entries.
func (v *Validator) IsValid(ent *types.CacheEntry) bool {
	return v.Check(ent) == Valid
}

// Check classifies ent. Envelope problems are checked before expiry so a
// corrupt record is never mistaken for a merely old one.
func (v *Validator) Check(ent *types.CacheEntry) Validity {
	if err := CheckEnvelope(ent); err != nil {
		v.logCorrupt(ent, err)
		return Corrupt
	}
	if !ent.Compressed {
		if err := CheckPayload(ent.Kind, ent.Data); err != nil {
			v.logCorrupt(ent, err)
			return Corrupt
		}
	}
	if v.ttl.IsExpired(ent) {
		return Expired
	}
	return Valid
}

func (v *Validator) logCorrupt(ent *types.CacheEntry, err error) {
	key := ""
	if ent != nil {
		key = ent.Key
	}
	v.logger.Warn("corrupt cache entry", zap.String("key", key), zap.Error(err))
}

// CheckEnvelope verifies the fields every entry must carry.
func CheckEnvelope(ent *types.CacheEntry) error {
	switch {
	case ent == nil:
		return fmt.Errorf("nil entry")
	case ent.Key == "":
		return fmt.Errorf("missing key")
	case ent.Timestamp.IsZero():
		return fmt.Errorf("missing timestamp")
	case ent.TTL <= 0:
		return fmt.Errorf("non-positive ttl %s", ent.TTL)
	case ent.Version == "":
		return fmt.Errorf("missing version")
	case !ent.Priority.Valid():
		return fmt.Errorf("invalid priority %d", int(ent.Priority))
	case !ent.Kind.Known():
		return fmt.Errorf("unknown kind %q", ent.Kind)
	case ent.Data == nil:
		return fmt.Errorf("missing data")
	case ent.Size != int64(len(ent.Data)):
		return fmt.Errorf("size %d does not match stored %d bytes", ent.Size, len(ent.Data))
	}
	return nil
}

// CheckPayload verifies that raw (uncompressed) bytes have the shape kind requires.
func CheckPayload(kind types.Kind, raw []byte) error {
	switch kind {
	case types.KindRaw:
		return nil
	case types.KindContent:
		var p types.ContentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("content payload: %w", err)
		}
		if len(p.Content) == 0 {
			return fmt.Errorf("content payload: empty content")
		}
	case types.KindAPI:
		var p types.APIPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("api payload: %w", err)
		}
		if p.Status <= 0 {
			return fmt.Errorf("api payload: invalid status %d", p.Status)
		}
	case types.KindAsset:
		var p types.AssetPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("asset payload: %w", err)
		}
		if p.MimeType == "" || p.URL == "" {
			return fmt.Errorf("asset payload: missing mime type or url")
		}
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	return nil
}
