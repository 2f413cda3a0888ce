package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmgilman/go/errors"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteRegistry is a Registry persisted in a SQLite database.
type SQLiteRegistry struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

var _ Registry = SQLiteRegistry{}

// numbers the in-memory dbs of this process
var memoryDBs atomic.Int64

// NewSQLiteRegistry opens the registry with the given filename as the db.
// If file name is empty, a new in-memory db is opened that no other registry shares.
func NewSQLiteRegistry(filename string) (SQLiteRegistry, error) {
	if filename == "" {
		filename = fmt.Sprintf("file:atd-memory-%d?mode=memory&cache=shared", memoryDBs.Add(1))
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteRegistry{}, errors.Wrap(err, errors.CodeDatabase, "could not open cache db")
	}
	// a single connection keeps in-memory databases alive and avoids lock contention
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (store, key)
		)`,
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteRegistry{}, errors.Wrap(err, errors.CodeDatabase, "could not initialize cache db")
		}
	}
	return SQLiteRegistry{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteRegistry) Open(ctx context.Context, store string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)",
		store, time.Now().Unix())
	return wrapDB(err)
}

func (s SQLiteRegistry) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, wrapDB(err)
		}
		names = append(names, name)
	}
	return names, wrapDB(rows.Err())
}

func (s SQLiteRegistry) Match(ctx context.Context, store, key string) (Entry, bool, error) {
	entry := Entry{Key: key}
	var storedAt int64
	err := s.db.QueryRowContext(ctx, "SELECT stored_at, bytes FROM entries WHERE store = ? AND key = ?",
		store, key).Scan(&storedAt, &entry.Bytes)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, wrapDB(err)
	}
	entry.StoredAt = time.Unix(storedAt, 0)
	return entry, true, nil
}

func (s SQLiteRegistry) Put(ctx context.Context, store string, entry Entry) error {
	return s.PutAll(ctx, store, []Entry{entry})
}

func (s SQLiteRegistry) PutAll(ctx context.Context, store string, entries []Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)",
		store, time.Now().Unix()); err != nil {
		return wrapDB(err)
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO entries
			(store, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
			store, e.Key, e.StoredAt.Unix(), e.Bytes); err != nil {
			return wrapDB(err)
		}
	}
	return wrapDB(tx.Commit())
}

func (s SQLiteRegistry) Keys(ctx context.Context, store string, cb func(string)) error {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE store = ? ORDER BY key", store)
	if err != nil {
		return wrapDB(err)
	}
	// collect first, the callback may use the registry (and there is only one connection)
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return wrapDB(err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (s SQLiteRegistry) Len(ctx context.Context, store string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE store = ?", store).Scan(&n)
	return n, wrapDB(err)
}

func (s SQLiteRegistry) Delete(ctx context.Context, store string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapDB(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE store = ?", store); err != nil {
		return false, wrapDB(err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE name = ?", store)
	if err != nil {
		return false, wrapDB(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, wrapDB(err)
	}
	return rows > 0, wrapDB(tx.Commit())
}

func (s SQLiteRegistry) Close() error {
	return s.db.Close()
}

func wrapDB(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, errors.CodeDatabase, "cache db")
}
