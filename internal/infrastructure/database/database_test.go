package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name string
		rel  string
		wal  bool
	}{
		{name: "creates database file", rel: "test.db", wal: true},
		{name: "creates nested directory", rel: filepath.Join("subdir", "nested", "test.db"), wal: true},
		{name: "rollback journal", rel: "plain.db", wal: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := filepath.Join(t.TempDir(), tt.rel)
			db, err := Open(config.DatabaseConfig{Path: dbPath, WALMode: tt.wal, BusyTimeout: 5})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // Test cleanup

			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				t.Error("database file was not created")
			}
			if db.Path() != dbPath {
				t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
			}

			var mode string
			if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
				t.Fatalf("journal_mode query error = %v", err)
			}
			if tt.wal && mode != "wal" {
				t.Errorf("journal_mode = %q, want wal", mode)
			}
			if !tt.wal && mode == "wal" {
				t.Error("journal_mode = wal with WALMode disabled")
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context should fail")
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close() should fail")
	}

	var zero DB
	if err := zero.Close(); err != nil {
		t.Errorf("Close() on zero DB error = %v", err)
	}
}

func TestWithTx(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		fail    error
		want    int
		wantErr error
	}{
		{name: "commit", want: 1},
		{name: "rollback on error", fail: boom, want: 0, wantErr: boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			ctx := context.Background()
			if _, err := db.ExecContext(ctx, "CREATE TABLE seen (ga TEXT PRIMARY KEY)"); err != nil {
				t.Fatalf("CREATE TABLE error = %v", err)
			}

			err := db.WithTx(ctx, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, "INSERT INTO seen (ga) VALUES (?)", "1/2/3"); err != nil {
					return err
				}
				return tt.fail
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("WithTx() error = %v, want %v", err, tt.wantErr)
			}

			var count int
			if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen").Scan(&count); err != nil {
				t.Fatalf("COUNT error = %v", err)
			}
			if count != tt.want {
				t.Errorf("count = %d, want %d", count, tt.want)
			}
		})
	}
}

func TestWithTxPanicRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE seen (ga TEXT PRIMARY KEY)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("WithTx() swallowed the panic")
			}
		}()
		db.WithTx(ctx, func(tx *sql.Tx) error { //nolint:errcheck // panics
			tx.ExecContext(ctx, "INSERT INTO seen (ga) VALUES ('1/2/3')") //nolint:errcheck // test
			panic("handler bug")
		})
	}()

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM seen").Scan(&count); err != nil {
		t.Fatalf("COUNT error = %v (connection left in a transaction?)", err)
	}
	if count != 0 {
		t.Errorf("count = %d after panic, want 0", count)
	}
}

func TestDSN(t *testing.T) {
	got := dsn(config.DatabaseConfig{Path: "/var/lib/knxipd/knxip.db", BusyTimeout: 5, WALMode: true})
	for _, part := range []string{"file:/var/lib/knxipd/knxip.db?", "_busy_timeout=5000", "_foreign_keys=on", "_journal_mode=WAL", "_synchronous=NORMAL"} {
		if !strings.Contains(got, part) {
			t.Errorf("dsn() = %q, missing %q", got, part)
		}
	}
	if strings.Contains(dsn(config.DatabaseConfig{Path: "x.db"}), "_journal_mode") {
		t.Error("dsn() sets journal mode with WAL disabled")
	}
}

func TestSingleConnection(t *testing.T) {
	db := openTestDB(t)
	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}
}

// openTestDB opens a fresh database in a temp directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}
