package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "pwnotify/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL  -- unix millis; 0 = no expiry
);
CREATE INDEX IF NOT EXISTS kv_expires_at ON kv(expires_at);
`

// sqliteStore implements KV on an embedded database file. Expiry is applied
// lazily: reads filter on expires_at and a prune runs opportunistically every
// pruneEvery writes.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (KV, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug("sqlite store opened", logx.String("path", cfg.Path))
	return &sqliteStore{db: db, log: log, pruneEvery: 200}, nil
}

func (s *sqliteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, expires_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		key, value, expiryMillis(ttl),
	)
	if err != nil {
		return unavailable("sqlite put", err)
	}
	s.maybePrune()
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		until int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).
		Scan(&value, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("sqlite get", err)
	}
	if expired(until) {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return unavailable("sqlite delete", err)
	}
	return nil
}

func (s *sqliteStore) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key LIKE ? ESCAPE '\' AND (expires_at = 0 OR expires_at > ?)`,
		likePrefix(prefix), time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, unavailable("sqlite scan", err)
	}
	defer rows.Close()

	out := map[string][]byte{}
	for rows.Next() {
		var (
			k string
			v []byte
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, unavailable("sqlite scan", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite scan", err)
	}
	return out, nil
}

func (s *sqliteStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("sqlite incrby", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		value []byte
		until int64
		cur   int64
	)
	err = tx.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).
		Scan(&value, &until)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// fresh counter
	case err != nil:
		return 0, unavailable("sqlite incrby", err)
	case expired(until):
		// stale counter restarts from zero
	default:
		cur, _ = strconv.ParseInt(string(value), 10, 64)
	}
	cur += delta

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv(key, value, expires_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		key, []byte(strconv.FormatInt(cur, 10)), expiryMillis(ttl),
	)
	if err != nil {
		return 0, unavailable("sqlite incrby", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("sqlite incrby", err)
	}
	s.maybePrune()
	return cur, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) maybePrune() {
	if s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at != 0 AND expires_at < ?`, time.Now().UnixMilli()); err != nil {
		s.log.Debug("sqlite prune failed", logx.Err(err))
	}
}

func expiryMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixMilli()
}

func expired(until int64) bool {
	return until != 0 && until <= time.Now().UnixMilli()
}

// likePrefix escapes LIKE metacharacters so the prefix matches literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
