package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	xerrors "CoinKeep/internal/errors"

	"github.com/go-sql-driver/mysql"
)

const upsertSQL = `INSERT INTO kv_entries (k, v, updated_at) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = VALUES(updated_at)`

func TestKVGetSetDelete(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT v FROM kv_entries WHERE k = ?`, mockRowsData{columns: []string{"v"}}),
		execOp(upsertSQL, mockResult{rowsAffected: 1}),
		queryOp(`SELECT v FROM kv_entries WHERE k = ?`, mockRowsData{
			columns: []string{"v"},
			values:  [][]driver.Value{{`[{"id":"a1"}]`}},
		}),
		execOp(`DELETE FROM kv_entries WHERE k = ?`, mockResult{rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	kv := newKV(db)
	kv.now = func() time.Time { return time.UnixMilli(1700000000000) }
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "coinkeep_agents"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := kv.Set(ctx, "coinkeep_agents", `[{"id":"a1"}]`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	v, ok, err := kv.Get(ctx, "coinkeep_agents")
	if err != nil || !ok || v != `[{"id":"a1"}]` {
		t.Fatalf("unexpected get result %q ok=%v err=%v", v, ok, err)
	}
	if err := kv.Delete(ctx, "coinkeep_agents"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

func TestKVMapsMySQLErrors(t *testing.T) {
	t.Parallel()

	tooLong := mockOperation{typ: opExec, query: upsertSQL, err: &mysql.MySQLError{Number: errDataTooLong, Message: "Data too long"}}
	broken := mockOperation{typ: opExec, query: upsertSQL, err: fmt.Errorf("connection reset")}
	db, drv := newMockDB(t, []mockOperation{tooLong, broken})
	defer drv.assertConsumed(t)
	defer db.Close()

	kv := newKV(db)
	err := kv.Set(context.Background(), "ck_user", "x")
	if !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	err = kv.Set(context.Background(), "ck_user", "x")
	if !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestKVRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createVersionTable, mockResult{}),
		queryOp(`SELECT version FROM kv_schema_versions`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(), mockResult{rowsAffected: 0}),
		execOp(`INSERT INTO kv_schema_versions (version, name, applied_at) VALUES (?, ?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := newKV(db).runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestKVSkipsAppliedMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createVersionTable, mockResult{}),
		queryOp(`SELECT version FROM kv_schema_versions`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{int64(1)}},
		}),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := newKV(db).runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func readMigrationStatement() string {
	steps, err := loadSchema(schemaFS)
	if err != nil || len(steps) == 0 || len(steps[0].statements) == 0 {
		panic(fmt.Sprintf("failed to load schema: %v", err))
	}
	return steps[0].statements[0]
}

func TestLoadSchemaOrdersAndValidates(t *testing.T) {
	fsys := fstest.MapFS{
		"schema/0010_index.sql": {Data: []byte("CREATE INDEX a ON kv_entries (updated_at);")},
		"schema/0002_more.sql":  {Data: []byte("ALTER TABLE kv_entries ADD c INT; ALTER TABLE kv_entries ADD d INT;")},
		"schema/0003_empty.sql": {Data: []byte("  ;  ")},
	}
	steps, err := loadSchema(fsys)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	if len(steps) != 2 || steps[0].version != 2 || steps[1].version != 10 {
		t.Fatalf("unexpected steps %+v", steps)
	}
	if len(steps[0].statements) != 2 {
		t.Fatalf("expected two statements, got %v", steps[0].statements)
	}

	if _, err := loadSchema(fstest.MapFS{"schema/init.sql": {Data: []byte("SELECT 1;")}}); err == nil {
		t.Fatal("expected error for missing version prefix")
	}
	dup := fstest.MapFS{
		"schema/0001_a.sql": {Data: []byte("SELECT 1;")},
		"schema/1_b.sql":    {Data: []byte("SELECT 2;")},
	}
	if _, err := loadSchema(dup); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" {
		if want, got := normalizeSQL(op.query), normalizeSQL(query); want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
