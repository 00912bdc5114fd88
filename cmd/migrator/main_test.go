package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeMigratorDB struct {
	executed   []string
	execErr    error
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	beginFn    func(ctx context.Context) (pgx.Tx, error)
}

func (f *fakeMigratorDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.executed = append(f.executed, sql)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("EXEC 1"), nil
}

func (f *fakeMigratorDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.queryRowFn != nil {
		return f.queryRowFn(ctx, sql, args...)
	}
	return fakeMigratorRow{applied: false}
}

func (f *fakeMigratorDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginFn != nil {
		return f.beginFn(ctx)
	}
	return &fakeMigratorTx{}, nil
}

type fakeMigratorRow struct {
	applied bool
	err     error
}

func (r fakeMigratorRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return errors.New("scan arity mismatch")
	}
	b, ok := dest[0].(*bool)
	if !ok {
		return errors.New("expected *bool")
	}
	*b = r.applied
	return nil
}

type fakeMigratorTx struct {
	execFn        func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	commitErr     error
	rollbackCalls int
}

func (t *fakeMigratorTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeMigratorTx) Commit(ctx context.Context) error          { return t.commitErr }
func (t *fakeMigratorTx) Rollback(ctx context.Context) error {
	t.rollbackCalls++
	return nil
}
func (t *fakeMigratorTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeMigratorTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeMigratorTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeMigratorTx) Prepare(ctx context.Context, name string, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeMigratorTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execFn != nil {
		return t.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("EXEC 1"), nil
}
func (t *fakeMigratorTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeMigratorTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fakeMigratorRow{err: errors.New("not implemented")}
}
func (t *fakeMigratorTx) Conn() *pgx.Conn { return nil }

func TestEnsureBaseSchemaCreatesGatewayTables(t *testing.T) {
	db := &fakeMigratorDB{}
	if err := ensureBaseSchema(context.Background(), db); err != nil {
		t.Fatalf("ensureBaseSchema: %v", err)
	}
	all := strings.Join(db.executed, "\n")
	if !strings.Contains(all, "CREATE TABLE IF NOT EXISTS transactions") {
		t.Fatalf("transactions DDL missing:\n%s", all)
	}
	if !strings.Contains(all, "CREATE TABLE IF NOT EXISTS query_audit") {
		t.Fatalf("query_audit DDL missing:\n%s", all)
	}
}

func TestValidateMigrationPath(t *testing.T) {
	t.Parallel()

	clean, err := validateMigrationPath("migrations", "migrations/001_init.sql")
	if err != nil {
		t.Fatalf("expected valid migration path, got error: %v", err)
	}
	if clean != filepath.Clean("migrations/001_init.sql") {
		t.Fatalf("unexpected clean path: %s", clean)
	}
	if _, err := validateMigrationPath("migrations", "../outside.sql"); err == nil {
		t.Fatal("expected rejection for outside migration path")
	}
	if _, err := validateMigrationPath("migrations", "other/001_init.sql"); err == nil {
		t.Fatal("expected rejection for different directory")
	}
}

func TestRunMigrationsAppliesInOrderAndSkipsApplied(t *testing.T) {
	db := &fakeMigratorDB{}
	var applied []string
	tx := &fakeMigratorTx{}
	tx.execFn = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		if len(args) == 1 {
			applied = append(applied, args[0].(string))
		}
		return pgconn.NewCommandTag("EXEC 1"), nil
	}
	db.beginFn = func(ctx context.Context) (pgx.Tx, error) { return tx, nil }
	db.queryRowFn = func(ctx context.Context, sql string, args ...any) pgx.Row {
		return fakeMigratorRow{applied: args[0].(string) == "001_init.sql"}
	}

	readFile := func(name string) ([]byte, error) { return []byte("SELECT 1;"), nil }
	glob := func(pattern string) ([]string, error) {
		return []string{"migrations/002_add_currency.sql", "migrations/001_init.sql"}, nil
	}

	err := runMigrations(context.Background(), db, "migrations", readFile, glob, func(string, ...any) {})
	if err != nil {
		t.Fatalf("runMigrations: %v", err)
	}
	if len(applied) != 1 || applied[0] != "002_add_currency.sql" {
		t.Fatalf("applied = %v, want only 002_add_currency.sql", applied)
	}
}

func TestRunMigrationsRollsBackOnApplyFailure(t *testing.T) {
	db := &fakeMigratorDB{}
	tx := &fakeMigratorTx{}
	tx.execFn = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		if len(args) == 0 {
			return pgconn.CommandTag{}, errors.New("syntax error")
		}
		return pgconn.NewCommandTag("EXEC 1"), nil
	}
	db.beginFn = func(ctx context.Context) (pgx.Tx, error) { return tx, nil }

	readFile := func(name string) ([]byte, error) { return []byte("BROKEN SQL"), nil }
	glob := func(pattern string) ([]string, error) {
		return []string{"migrations/001_init.sql"}, nil
	}

	err := runMigrations(context.Background(), db, "migrations", readFile, glob, func(string, ...any) {})
	if err == nil || !strings.Contains(err.Error(), "apply migration") {
		t.Fatalf("err = %v, want apply failure", err)
	}
	if tx.rollbackCalls != 1 {
		t.Fatalf("rollbackCalls = %d, want 1", tx.rollbackCalls)
	}
}

func TestRunMigrationsRejectsEscapingPath(t *testing.T) {
	db := &fakeMigratorDB{}
	glob := func(pattern string) ([]string, error) {
		return []string{"../evil.sql"}, nil
	}
	err := runMigrations(context.Background(), db, "migrations", nil, glob, func(string, ...any) {})
	if err == nil || !strings.Contains(err.Error(), "invalid migration path") {
		t.Fatalf("err = %v, want invalid path", err)
	}
}
