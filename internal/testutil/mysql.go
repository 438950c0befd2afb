package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/iliyamo/vcpool/internal/database"
)

// MySQLEnv names the server used by OpenMySQL, as a DSN without a
// database, e.g. "root:secret@tcp(127.0.0.1:3306)/".
const MySQLEnv = "VCPOOL_TEST_MYSQL_DSN"

// OpenMySQL creates and migrates a scratch database on the MySQL server
// named by MySQLEnv and drops it when the test ends.  The test is skipped
// when the variable is unset.
func OpenMySQL(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()
	dsn := os.Getenv(MySQLEnv)
	if dsn == "" {
		t.Skipf("%s not set", MySQLEnv)
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse %s: %v", MySQLEnv, err)
	}
	server, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	name := "vcpool_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := server.Exec("CREATE DATABASE " + name); err != nil {
		server.Close()
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() {
		_, _ = server.Exec("DROP DATABASE " + name)
		server.Close()
	})

	cfg.DBName = name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	db.SetMaxOpenConns(25)
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(context.Background(), db, database.MySQL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, database.MySQL
}
