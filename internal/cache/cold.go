package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ColdStore is the unbounded on-disk tier.
type ColdStore interface {
	// Get returns ErrNotFound on a miss and ErrCorruptEntry when the stored
	// payload fails its checksum. Corrupt rows are deleted before returning.
	Get(ctx context.Context, id string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// SQLiteStore keeps cold entries in a SQLite database in WAL mode so several
// processes can share it.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the cold store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS cold_entries (
		id TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		checksum TEXT NOT NULL,
		effectiveness REAL NOT NULL DEFAULT 0.5,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_access INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create cold_entries: %w", err)
	}
	return nil
}

// Get implements ColdStore.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	var (
		e                   Entry
		ctype, sum          string
		lastAccess, expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, payload, checksum, effectiveness, access_count, last_access, expires_at
		 FROM cold_entries WHERE id = ?`, id,
	).Scan(&ctype, &e.Payload, &sum, &e.Effectiveness, &e.AccessCount, &lastAccess, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cold entry: %w", err)
	}

	if checksum(e.Payload) != sum {
		if derr := s.Delete(ctx, id); derr != nil {
			return nil, errors.Join(ErrCorruptEntry, derr)
		}
		return nil, ErrCorruptEntry
	}

	e.ID = id
	e.Type = ContentType(ctype)
	e.Tier = TierCold
	e.LastAccess = time.Unix(0, lastAccess)
	e.ExpiresAt = time.Unix(0, expires)
	return &e, nil
}

// Put implements ColdStore. The last writer wins.
func (s *SQLiteStore) Put(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cold_entries (id, content_type, payload, checksum, effectiveness, access_count, last_access, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			content_type = excluded.content_type,
			payload = excluded.payload,
			checksum = excluded.checksum,
			effectiveness = excluded.effectiveness,
			access_count = excluded.access_count,
			last_access = excluded.last_access,
			expires_at = excluded.expires_at`,
		e.ID, string(e.Type), e.Payload, checksum(e.Payload), e.Effectiveness,
		e.AccessCount, e.LastAccess.UnixNano(), e.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert cold entry: %w", err)
	}
	return nil
}

// Delete implements ColdStore.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cold_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete cold entry: %w", err)
	}
	return nil
}

// Len implements ColdStore.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cold_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cold entries: %w", err)
	}
	return n, nil
}

// Close implements ColdStore.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
