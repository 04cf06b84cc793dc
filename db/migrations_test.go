package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigrate_AppliesOnceAndCreatesTables(t *testing.T) {
	ctx := context.Background()
	d, err := Open(ctx, DialectSQLite, filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	applied, err := Migrate(ctx, d)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) == 0 || applied[0] != "001_init.sql" {
		t.Fatalf("applied = %v, want 001_init.sql first", applied)
	}

	again, err := Migrate(ctx, d)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second run applied %v, want nothing", again)
	}

	for _, table := range []string{"candidates", "ingest_state"} {
		var n int
		if err := d.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	d, err := Open(ctx, DialectSQLite, filepath.Join(t.TempDir(), "tx.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	if _, err := d.ExecContext(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatal(err)
	}

	sentinel := context.Canceled
	err = WithTx(ctx, d, func(conn *CompatConn) error {
		if _, err := conn.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", 1); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}

	var n int
	d.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n)
	if n != 0 {
		t.Errorf("rows after rollback = %d, want 0", n)
	}
}
