package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/krisalay/tiercache/types"
)

// Headers carrying entry metadata on stored responses.
const (
	HeaderKind        = "X-Cache-Kind"
	HeaderTimestamp   = "X-Cache-Timestamp"
	HeaderTTL         = "X-Cache-Ttl"
	HeaderPriority    = "X-Cache-Priority"
	HeaderVersion     = "X-Cache-Version"
	HeaderCompressed  = "X-Cache-Compressed"
	HeaderContentType = "X-Cache-Content-Type"
	HeaderKey         = "X-Cache-Key"
)

type storedResponse struct {
	header http.Header
	body   []byte
}

/*
ResponseStore is the HTTP-response-shaped secondary store.

Every entry is kept as a response: the stored bytes are the body and the
envelope travels in X-Cache-* headers, so a cached response can be served to
an HTTP client as is and still be turned back into a CacheEntry.
*/
type ResponseStore struct {
	mu    sync.RWMutex
	items map[string]storedResponse
}

// NewResponseStore creates an empty ResponseStore.
func NewResponseStore() *ResponseStore {
	return &ResponseStore{items: make(map[string]storedResponse)}
}

// Put stores ent as a response under its key.
func (s *ResponseStore) Put(_ context.Context, ent *types.CacheEntry) error {
	if ent == nil || ent.Key == "" {
		return fmt.Errorf("response store: entry without key")
	}
	sr := storedResponse{header: headerFor(ent), body: append([]byte(nil), ent.Data...)}

	s.mu.Lock()
	s.items[ent.Key] = sr
	s.mu.Unlock()
	return nil
}

// Match returns the stored response for key. The body is a fresh reader on
// every call.
func (s *ResponseStore) Match(_ context.Context, key string) (*http.Response, bool) {
	s.mu.RLock()
	sr, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        sr.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(sr.body)),
		ContentLength: int64(len(sr.body)),
	}, true
}

// Lookup returns the entry stored under key, or nil on a miss.
func (s *ResponseStore) Lookup(ctx context.Context, key string) (*types.CacheEntry, error) {
	resp, ok := s.Match(ctx, key)
	if !ok {
		return nil, nil
	}
	defer resp.Body.Close()
	return EntryFromResponse(key, resp)
}

// Delete removes the given keys.
func (s *ResponseStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.items, k)
	}
	s.mu.Unlock()
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (s *ResponseStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
		}
	}
	s.mu.Unlock()
	return nil
}

// Clear removes everything.
func (s *ResponseStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.items = make(map[string]storedResponse)
	s.mu.Unlock()
	return nil
}

// Len returns how many responses are stored.
func (s *ResponseStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

/*
ServeHTTP serves a stored response. The cache key is taken from the "key"
query parameter:

	GET /cache?key=api:_quiz_categories

A missing key is 400, a miss is 404. Compressed bodies are sent with
Content-Encoding: gzip.
*/
func (s *ResponseStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	resp, ok := s.Match(r.Context(), key)
	if !ok {
		http.Error(w, "not cached", http.StatusNotFound)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if resp.Header.Get(HeaderCompressed) == "true" {
		w.Header().Set("Content-Encoding", "gzip")
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodGet {
		_, _ = io.Copy(w, resp.Body)
	}
}

func headerFor(ent *types.CacheEntry) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", mimeFor(ent.Kind))
	h.Set("Content-Length", strconv.Itoa(len(ent.Data)))
	h.Set(HeaderKey, ent.Key)
	h.Set(HeaderKind, string(ent.Kind))
	h.Set(HeaderTimestamp, ent.Timestamp.UTC().Format(time.RFC3339Nano))
	h.Set(HeaderTTL, strconv.FormatInt(ent.TTL.Milliseconds(), 10))
	h.Set(HeaderPriority, strconv.Itoa(int(ent.Priority)))
	h.Set(HeaderVersion, ent.Version)
	h.Set(HeaderCompressed, strconv.FormatBool(ent.Compressed))
	if ent.ContentType != "" {
		h.Set(HeaderContentType, string(ent.ContentType))
	}
	if ent.ETag != "" {
		h.Set("ETag", ent.ETag)
	}
	if ent.LastModified != "" {
		h.Set("Last-Modified", ent.LastModified)
	}
	return h
}

func mimeFor(kind types.Kind) string {
	if kind == types.KindRaw {
		return "application/octet-stream"
	}
	return "application/json"
}

// EntryFromResponse rebuilds a CacheEntry from a stored response. Missing or
// malformed metadata headers are reported as types.ErrCorruptEntry.
func EntryFromResponse(key string, resp *http.Response) (*types.CacheEntry, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cached response %q: %w", key, err)
	}
	h := resp.Header

	ts, err := time.Parse(time.RFC3339Nano, h.Get(HeaderTimestamp))
	if err != nil {
		return nil, fmt.Errorf("%w: %q timestamp: %v", types.ErrCorruptEntry, key, err)
	}
	ttlMs, err := strconv.ParseInt(h.Get(HeaderTTL), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q ttl: %v", types.ErrCorruptEntry, key, err)
	}
	prio, err := strconv.Atoi(h.Get(HeaderPriority))
	if err != nil {
		return nil, fmt.Errorf("%w: %q priority: %v", types.ErrCorruptEntry, key, err)
	}
	compressed, err := strconv.ParseBool(h.Get(HeaderCompressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %q compressed flag: %v", types.ErrCorruptEntry, key, err)
	}

	return &types.CacheEntry{
		Key:          key,
		Kind:         types.Kind(h.Get(HeaderKind)),
		Data:         body,
		Compressed:   compressed,
		Timestamp:    ts,
		TTL:          time.Duration(ttlMs) * time.Millisecond,
		Version:      h.Get(HeaderVersion),
		Priority:     types.Priority(prio),
		Size:         int64(len(body)),
		ContentType:  types.ContentType(h.Get(HeaderContentType)),
		ETag:         h.Get("ETag"),
		LastModified: h.Get("Last-Modified"),
	}, nil
}
