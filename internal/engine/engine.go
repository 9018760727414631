// Package engine opens SQLite databases for the store.
//
// Two drivers are supported. "sqlite3" is github.com/mattn/go-sqlite3 (cgo)
// with the sqlite-vec extension registered, which enables the vec0 index.
// "sqlite" is the pure-Go modernc.org/sqlite driver, which has no vector
// extension and therefore only serves brute-force search.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver
	_ "modernc.org/sqlite"          // pure-Go SQLite driver

	"gwi.com/chatvec/internal/errortypes"
)

const (
	DriverCGO  = "sqlite3"
	DriverPure = "sqlite"

	busyTimeoutMillis = 5000
)

var registerVec sync.Once

// Open opens path with the named driver and verifies the connection.
// Every connection runs in WAL mode with foreign keys enforced, a busy
// timeout, and immediate write transactions so writers serialize at BEGIN.
func Open(ctx context.Context, driver, path string) (*sql.DB, error) {
	dsn, err := DSN(driver, path)
	if err != nil {
		return nil, err
	}
	if driver == DriverCGO {
		registerVec.Do(sqlite_vec.Auto)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errortypes.StoreError(err, "failed to open database")
	}
	if isMemory(path) {
		// each connection to :memory: would be a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errortypes.StoreError(err, "failed to ping database")
	}
	return db, nil
}

// DSN builds the driver specific connection string for path.
func DSN(driver, path string) (string, error) {
	if path == "" {
		return "", errortypes.ConfigError(nil, "database path is empty")
	}
	var params []string
	switch driver {
	case DriverCGO:
		params = []string{
			fmt.Sprintf("_busy_timeout=%d", busyTimeoutMillis),
			"_foreign_keys=on",
			"_txlock=immediate",
		}
		if !isMemory(path) {
			params = append(params, "_journal_mode=WAL")
		}
	case DriverPure:
		params = []string{
			fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeoutMillis),
			"_pragma=foreign_keys(1)",
			"_txlock=immediate",
		}
		if !isMemory(path) {
			params = append(params, "_pragma=journal_mode(WAL)")
		}
	default:
		return "", errortypes.ConfigError(fmt.Errorf("unknown driver %q", driver), "unsupported database driver")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&"), nil
}

// VecVersion reports the loaded sqlite-vec version. It fails when the
// extension is not available on db.
func VecVersion(ctx context.Context, db *sql.DB) (string, error) {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
		return "", err
	}
	return version, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
