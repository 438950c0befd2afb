package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect captures the few SQL differences between the engines we run on.
// ForUpdate is appended to SELECTs that must take a row lock; SQLite has
// no row locks and serializes writers on the database instead.
type Dialect struct {
	Name      string
	ForUpdate string
}

var (
	MySQL  = Dialect{Name: "mysql", ForUpdate: " FOR UPDATE"}
	SQLite = Dialect{Name: "sqlite", ForUpdate: ""}
)

// OpenMySQL connects to MySQL and verifies the connection.
func OpenMySQL(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := ping(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens (or creates) a SQLite database file.  A single
// connection is used so transactions are serialized, which gives the same
// single-writer guarantee MySQL gets from row locks.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := ping(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open dispatches on driver name and returns the handle with its dialect.
func Open(driver, user, pass, host, port, name, sqlitePath string) (*sql.DB, Dialect, error) {
	switch driver {
	case "", "mysql":
		db, err := OpenMySQL(user, pass, host, port, name)
		return db, MySQL, err
	case "sqlite":
		db, err := OpenSQLite(sqlitePath)
		return db, SQLite, err
	}
	return nil, Dialect{}, fmt.Errorf("unsupported DB_DRIVER %q", driver)
}

// Ping with timeout
func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
