package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig holds connection settings for the Postgres-backed store.
type PostgresConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// PostgresStore implements Store on a single collection/key/value table
// with JSONB values. Update maps directly onto a SQL transaction, which is
// what gives confirm its all-or-nothing multi-write.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to Postgres and ensures the backing table
// exists.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS kv_entries (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, key)
		)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to ensure kv_entries table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(collection, key string, dest interface{}) error {
	var raw []byte
	query := `SELECT value FROM kv_entries WHERE collection = $1 AND key = $2`
	err := s.db.QueryRow(query, collection, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (s *PostgresStore) Put(collection, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, key, err)
	}
	query := `
		INSERT INTO kv_entries (collection, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key) DO UPDATE SET value = $3, updated_at = NOW()`
	_, err = s.db.Exec(query, collection, key, raw)
	return err
}

func (s *PostgresStore) Delete(collection, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv_entries WHERE collection = $1 AND key = $2`, collection, key)
	return err
}

func (s *PostgresStore) List(collection string) ([]string, error) {
	var keys []string
	err := s.db.Select(&keys, `SELECT key FROM kv_entries WHERE collection = $1 ORDER BY key`, collection)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *PostgresStore) Update(fn func(txn Txn) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&postgresTxn{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback failed (%v) after: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type postgresTxn struct {
	tx *sqlx.Tx
}

func (t *postgresTxn) Get(collection, key string, dest interface{}) error {
	// FOR UPDATE cannot lock a row that does not exist yet, so two
	// instances could both see a fresh key as absent and both upsert. A
	// transaction-scoped advisory lock on (collection, key) serializes
	// them; it releases at commit or rollback.
	if _, err := t.tx.Exec(`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, collection+"/"+key); err != nil {
		return fmt.Errorf("failed to lock %s/%s: %w", collection, key, err)
	}

	var raw []byte
	query := `SELECT value FROM kv_entries WHERE collection = $1 AND key = $2 FOR UPDATE`
	err := t.tx.QueryRow(query, collection, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (t *postgresTxn) Put(collection, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, key, err)
	}
	query := `
		INSERT INTO kv_entries (collection, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key) DO UPDATE SET value = $3, updated_at = NOW()`
	_, err = t.tx.Exec(query, collection, key, raw)
	return err
}

func (t *postgresTxn) Delete(collection, key string) error {
	_, err := t.tx.Exec(`DELETE FROM kv_entries WHERE collection = $1 AND key = $2`, collection, key)
	return err
}
