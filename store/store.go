// Package store opens the relational databases the toolkit migrates and
// classifies their constraint errors.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds database connection configuration.
type Config struct {
	Driver       string `yaml:"driver" json:"driver"`
	URL          string `yaml:"url" json:"url"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
}

// NormalizeDriver maps driver aliases to DriverPostgres or DriverSQLite.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	case "sqlite", "sqlite3", "":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DB is a database/sql handle plus the pool behind it, if any.
type DB struct {
	*sql.DB
	driver string
	pool   *pgxpool.Pool
}

// Driver returns the normalized driver name.
func (d *DB) Driver() string { return d.driver }

// Close closes the handle and the underlying pool.
func (d *DB) Close() error {
	err := d.DB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

// Open connects to the configured database and verifies the connection.
// SQLite connections always enforce foreign keys.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	driver, err := NormalizeDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s: database url is empty", driver)
	}

	var db *DB
	switch driver {
	case DriverPostgres:
		db, err = openPostgres(ctx, cfg)
	default:
		db, err = openSQLite(cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func openPostgres(ctx context.Context, cfg Config) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns) //nolint:gosec // small config value
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	return &DB{DB: stdlib.OpenDBFromPool(pool), driver: DriverPostgres, pool: pool}, nil
}

func openSQLite(cfg Config) (*DB, error) {
	dsn := SQLiteDSN(cfg.URL)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	switch {
	case isMemory(cfg.URL):
		// Each connection to an in-memory database is a separate database.
		sqlDB.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return &DB{DB: sqlDB, driver: DriverSQLite}, nil
}

// SQLiteDSN adds the foreign_keys pragma to a SQLite file name or URI unless
// it is already present.
func SQLiteDSN(url string) string {
	url = strings.TrimPrefix(url, "sqlite://")
	if strings.Contains(url, "foreign_keys") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "_pragma=foreign_keys(1)"
}

func isMemory(url string) bool {
	return strings.Contains(url, ":memory:") || strings.Contains(url, "mode=memory")
}
