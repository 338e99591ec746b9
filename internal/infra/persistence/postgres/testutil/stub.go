// Package testutil emulates the postgres state table behind database/sql so
// store tests run without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Uint64

// StateDB holds the committed rows of `state(bucket, payload)`. Upserts
// issued inside a transaction become visible on commit only.
type StateDB struct {
	mu    sync.Mutex
	rows  map[string][]byte
	stmts []string

	FailPing   bool
	FailBegin  bool
	FailCommit bool
	// FailUpsert makes the upsert of this bucket fail; "*" fails every bucket.
	FailUpsert string
	// RowsErr is reported after the last row of a SELECT.
	RowsErr error
}

// NewStateDB registers a fresh driver and opens a handle on it.
func NewStateDB() (*sql.DB, *StateDB) {
	state := &StateDB{rows: make(map[string][]byte)}
	name := fmt.Sprintf("statedb%d", driverSeq.Add(1))
	sql.Register(name, stateDriver{state: state})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, state
}

// Seed stores a committed row.
func (s *StateDB) Seed(bucket string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[bucket] = append([]byte(nil), payload...)
}

// Rows returns a copy of the committed rows.
func (s *StateDB) Rows() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.rows))
	for bucket, payload := range s.rows {
		out[bucket] = append([]byte(nil), payload...)
	}
	return out
}

// Statements returns every statement executed so far, in order.
func (s *StateDB) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stmts...)
}

func (s *StateDB) record(query string) {
	s.mu.Lock()
	s.stmts = append(s.stmts, strings.Join(strings.Fields(query), " "))
	s.mu.Unlock()
}

type stateDriver struct {
	state *StateDB
}

func (d stateDriver) Open(string) (driver.Conn, error) {
	return &stateConn{state: d.state}, nil
}

type stateConn struct {
	state  *StateDB
	staged map[string][]byte
	inTx   bool
}

func (c *stateConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *stateConn) Close() error { return nil }

func (c *stateConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *stateConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.state.FailBegin {
		return nil, errors.New("begin refused")
	}
	c.inTx = true
	c.staged = make(map[string][]byte)
	return stateTx{conn: c}, nil
}

func (c *stateConn) Ping(context.Context) error {
	if c.state.FailPing {
		return errors.New("connection refused")
	}
	return nil
}

func (c *stateConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.state.record(query)
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO STATE"):
		if len(args) != 2 {
			return nil, fmt.Errorf("upsert expects 2 args, got %d", len(args))
		}
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("bucket must be text, got %T", args[0].Value)
		}
		payload, ok := args[1].Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("payload must be bytes, got %T", args[1].Value)
		}
		if fail := c.state.FailUpsert; fail == "*" || fail == bucket {
			return nil, fmt.Errorf("upsert %s refused", bucket)
		}
		if c.inTx {
			c.staged[bucket] = append([]byte(nil), payload...)
		} else {
			c.state.Seed(bucket, payload)
		}
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("unsupported statement: %s", query)
	}
}

func (c *stateConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.state.record(query)
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT BUCKET, PAYLOAD FROM STATE") {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	committed := c.state.Rows()
	buckets := make([]string, 0, len(committed))
	for bucket := range committed {
		buckets = append(buckets, bucket)
	}
	sort.Strings(buckets)
	values := make([][]driver.Value, 0, len(buckets))
	for _, bucket := range buckets {
		values = append(values, []driver.Value{bucket, committed[bucket]})
	}
	return &stateRows{values: values, err: c.state.RowsErr}, nil
}

type stateTx struct {
	conn *stateConn
}

func (t stateTx) Commit() error {
	defer t.reset()
	if t.conn.state.FailCommit {
		return errors.New("commit refused")
	}
	for bucket, payload := range t.conn.staged {
		t.conn.state.Seed(bucket, payload)
	}
	return nil
}

func (t stateTx) Rollback() error {
	t.reset()
	return nil
}

func (t stateTx) reset() {
	t.conn.inTx = false
	t.conn.staged = nil
}

type stateRows struct {
	values [][]driver.Value
	next   int
	err    error
}

func (r *stateRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stateRows) Close() error      { return nil }

func (r *stateRows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}
