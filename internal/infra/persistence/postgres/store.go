// Package postgres keeps the ledger snapshot in a Postgres `state` table, one
// JSONB row per bucket, and serves reads from the embedded memory store.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"

	"creatureledger/internal/infra/persistence/memory"
	"creatureledger/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/creatureledger?sslmode=disable"

	createStateTable = `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	selectState = `SELECT bucket, payload FROM state`
	upsertState = `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store writes the buckets whose encoding changed since the last successful
// write, then lets the memory store swap the new state in. A failed write
// discards the transaction. written is only touched under the memory store's
// write lock.
type Store struct {
	*memory.Store
	db      *sql.DB
	written map[string][]byte
}

// NewStore connects to dsn, or to a local default database when dsn is
// empty, and loads any snapshot already stored there.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	return Open(context.Background(), dsn, engine)
}

// Open is NewStore with a caller supplied context for the startup queries.
func Open(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db}
	if err := s.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createStateTable); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, selectState)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	written := make(map[string][]byte)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if err := memory.DecodeBucket(&snapshot, bucket, payload); err != nil {
			return err
		}
		written[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.ImportState(snapshot)
	s.written = written
	return nil
}

// RunInTransaction writes the changed buckets of fn's staged state in a
// single database transaction before the state becomes visible.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.RunInTransactionWithCommit(ctx, fn, func(staged memory.Snapshot) error {
		return s.write(ctx, staged)
	})
}

// changed returns the encoded buckets that differ from the last write, in
// memory.Buckets order.
func (s *Store) changed(snapshot memory.Snapshot) ([]string, map[string][]byte, error) {
	encoded, err := memory.EncodeBuckets(snapshot)
	if err != nil {
		return nil, nil, err
	}
	var dirty []string
	for _, bucket := range memory.Buckets {
		if prev, ok := s.written[bucket]; ok && bytes.Equal(prev, encoded[bucket]) {
			continue
		}
		dirty = append(dirty, bucket)
	}
	return dirty, encoded, nil
}

func (s *Store) write(ctx context.Context, staged memory.Snapshot) (err error) {
	dirty, encoded, err := s.changed(staged)
	if err != nil || len(dirty) == 0 {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range dirty {
		if _, err = tx.ExecContext(ctx, upsertState, bucket, encoded[bucket]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, bucket := range dirty {
		s.written[bucket] = encoded[bucket]
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
