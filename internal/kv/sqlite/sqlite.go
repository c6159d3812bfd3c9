// Package sqlite implements kv.Store on a SQLite database file.
//
// It lets several processes on one host share presence records without
// Redis. Expiry is stored per row and every read filters on it; Purge
// reclaims lapsed rows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/viewing-server/internal/kv"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_records (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_indexes (
	name       TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_index_members (
	name   TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (name, member)
);

CREATE INDEX IF NOT EXISTS idx_kv_records_expires ON kv_records(expires_at);
`

// Store is a SQLite-backed kv.Store.
type Store struct {
	db    *sql.DB
	clock clock.Clock

	stop chan struct{}
	once sync.Once
}

var _ kv.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and applies the schema.
// A positive purgeInterval starts a janitor that deletes lapsed rows.
func New(dbPath string, purgeInterval time.Duration) (*Store, error) {
	return NewWithClock(dbPath, clock.New(), purgeInterval)
}

// NewWithClock is New with an explicit clock.
func NewWithClock(dbPath string, clk clock.Clock, purgeInterval time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, clock: clk, stop: make(chan struct{})}
	if purgeInterval > 0 {
		go s.janitor(purgeInterval)
	}
	return s, nil
}

func (s *Store) now() int64 {
	return s.clock.Now().UnixNano()
}

// SetEx upserts the value and its expiry in a single statement.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := `
		INSERT INTO kv_records (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, s.now()+ttl.Nanoseconds()); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_records WHERE key = ? AND expires_at > ?`, key, s.now(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, s.now())

	query := `SELECT key, value FROM kv_records WHERE key IN (` + placeholders(len(keys)) + `) AND expires_at > ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get many: %w", err)
	}
	defer rows.Close()

	found := make(map[string][]byte, len(keys))
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		found[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	for i, k := range keys {
		out[i] = found[k]
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := `DELETE FROM kv_records WHERE key IN (` + placeholders(len(keys)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// IndexAdd adds member and refreshes the index expiry. An index that had
// already lapsed starts over empty.
func (s *Store) IndexAdd(ctx context.Context, index, member string, ttl time.Duration) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM kv_index_members
		WHERE name = ? AND EXISTS (SELECT 1 FROM kv_indexes WHERE name = ? AND expires_at <= ?)
	`, index, index, now); err != nil {
		return fmt.Errorf("reset lapsed index %s: %w", index, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv_indexes (name, expires_at) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET expires_at = excluded.expires_at
	`, index, now+ttl.Nanoseconds()); err != nil {
		return fmt.Errorf("touch index %s: %w", index, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO kv_index_members (name, member) VALUES (?, ?)`, index, member,
	); err != nil {
		return fmt.Errorf("add index member %s: %w", index, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) IndexMembers(ctx context.Context, index string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.member
		FROM kv_index_members m
		JOIN kv_indexes i ON i.name = m.name
		WHERE m.name = ? AND i.expires_at > ?
	`, index, s.now())
	if err != nil {
		return nil, fmt.Errorf("list index %s: %w", index, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (s *Store) IndexRemove(ctx context.Context, index string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, 0, len(members)+1)
	args = append(args, index)
	for _, m := range members {
		args = append(args, m)
	}
	query := `DELETE FROM kv_index_members WHERE name = ? AND member IN (` + placeholders(len(members)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove index members %s: %w", index, err)
	}
	return nil
}

// IndexPrune deletes members whose record is missing or expired; the check
// is part of each DELETE statement.
func (s *Store) IndexPrune(ctx context.Context, index string, members map[string]string) (int, error) {
	if len(members) == 0 {
		return 0, nil
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		DELETE FROM kv_index_members
		WHERE name = ? AND member = ?
		AND NOT EXISTS (SELECT 1 FROM kv_records WHERE key = ? AND expires_at > ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare prune: %w", err)
	}
	defer stmt.Close()

	var removed int64
	for member, key := range members {
		res, err := stmt.ExecContext(ctx, index, member, key, now)
		if err != nil {
			return 0, fmt.Errorf("prune index %s: %w", index, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return int(removed), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the janitor and closes the database.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	return s.db.Close()
}

// Purge deletes lapsed records and indexes and returns the number of rows
// removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, q := range []string{
		`DELETE FROM kv_records WHERE expires_at <= ?`,
		`DELETE FROM kv_index_members WHERE name IN (SELECT name FROM kv_indexes WHERE expires_at <= ?)`,
		`DELETE FROM kv_indexes WHERE expires_at <= ?`,
	} {
		res, err := tx.ExecContext(ctx, q, now)
		if err != nil {
			return 0, fmt.Errorf("purge: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return total, nil
}

func (s *Store) janitor(interval time.Duration) {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			_, _ = s.Purge(ctx)
			cancel()
		case <-s.stop:
			return
		}
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
