// Package sqlite is the primary structured store of the cache, backed by an
// embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/krisalay/tiercache/types"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store provides SQLite-backed persistence for cache entries.
type Store struct {
	db *sql.DB
}

// Open opens and migrates a cache database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := MemoryPath
	if path != MemoryPath {
		dsn = filepath.Clean(path) +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; also keeps an in-memory database on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get loads an entry by key. A missing key returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, kind, data, compressed, timestamp, ttl, version, priority, size,
		        content_type, etag, last_modified
		 FROM cache_entries
		 WHERE key = ?`,
		key,
	)

	var (
		ent        types.CacheEntry
		kind       string
		compressed int64
		ts, ttl    int64
		prio       int64
		ct         string
	)
	if err := row.Scan(
		&ent.Key,
		&kind,
		&ent.Data,
		&compressed,
		&ts,
		&ttl,
		&ent.Version,
		&prio,
		&ent.Size,
		&ct,
		&ent.ETag,
		&ent.LastModified,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}

	ent.Kind = types.Kind(kind)
	ent.Compressed = compressed != 0
	ent.Timestamp = unixMillisToTime(ts)
	ent.TTL = time.Duration(ttl) * time.Millisecond
	ent.Priority = types.Priority(prio)
	ent.ContentType = types.ContentType(ct)
	if ent.Data == nil {
		ent.Data = []byte{}
	}
	return &ent, nil
}

// Put upserts entries in one transaction.
func (s *Store) Put(ctx context.Context, entries ...*types.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cache_entries (
		    key, kind, data, compressed, timestamp, ttl, version, priority, size,
		    content_type, etag, last_modified
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		    kind = excluded.kind,
		    data = excluded.data,
		    compressed = excluded.compressed,
		    timestamp = excluded.timestamp,
		    ttl = excluded.ttl,
		    version = excluded.version,
		    priority = excluded.priority,
		    size = excluded.size,
		    content_type = excluded.content_type,
		    etag = excluded.etag,
		    last_modified = excluded.last_modified`)
	if err != nil {
		return fmt.Errorf("prepare put: %w", err)
	}
	defer stmt.Close()

	for _, ent := range entries {
		if strings.TrimSpace(ent.Key) == "" {
			return fmt.Errorf("cache key is required")
		}
		data := ent.Data
		if data == nil {
			data = []byte{}
		}
		if _, err := stmt.ExecContext(ctx,
			ent.Key,
			string(ent.Kind),
			data,
			boolToInt(ent.Compressed),
			timeToUnixMillis(ent.Timestamp),
			ent.TTL.Milliseconds(),
			ent.Version,
			int64(ent.Priority),
			ent.Size,
			string(ent.ContentType),
			ent.ETag,
			ent.LastModified,
		); err != nil {
			return fmt.Errorf("put cache entry %q: %w", ent.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

// Delete removes entries by key.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	return nil
}

// DeletePrefix removes every key that starts with prefix. The comparison is
// case-sensitive, unlike LIKE.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE substr(key, 1, length(?1)) = ?1`, prefix); err != nil {
		return fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

// List returns the metadata of every entry, oldest first.
func (s *Store) List(ctx context.Context) ([]types.EntryInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, priority, timestamp, ttl, size FROM cache_entries ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var out []types.EntryInfo
	for rows.Next() {
		var (
			info         types.EntryInfo
			prio, ts, tl int64
		)
		if err := rows.Scan(&info.Key, &prio, &ts, &tl, &info.Size); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		info.Priority = types.Priority(prio)
		info.Timestamp = unixMillisToTime(ts)
		info.TTL = time.Duration(tl) * time.Millisecond
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return out, nil
}

// UsedBytes returns the sum of stored entry sizes.
func (s *Store) UsedBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM cache_entries`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum cache entry sizes: %w", err)
	}
	return total, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func timeToUnixMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func unixMillisToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}
