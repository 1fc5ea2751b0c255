// Package config loads the mcctl configuration: database connection,
// migration locking and the layering rules enforced by `mcctl boundary`.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/GoCodeAlone/missioncontrol/store"
)

// Environment variables that override file values.
const (
	EnvDatabaseDriver = "MCCTL_DATABASE_DRIVER"
	EnvDatabaseURL    = "MCCTL_DATABASE_URL"
	EnvLockBackend    = "MCCTL_LOCK_BACKEND"
	EnvRedisAddr      = "MCCTL_REDIS_ADDR"
)

// PresetOpenClaw selects the gateway-dispatch rules of the mission control
// backend.
const PresetOpenClaw = "openclaw"

// Config is the root of the mcctl configuration file.
type Config struct {
	Database   store.Config     `json:"database" yaml:"database"`
	Migrations MigrationsConfig `json:"migrations" yaml:"migrations"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Boundary   BoundaryConfig   `json:"boundary" yaml:"boundary"`
}

// MigrationsConfig controls how revisions are applied.
type MigrationsConfig struct {
	VersionTable string        `json:"version_table" yaml:"version_table"`
	LockBackend  string        `json:"lock_backend" yaml:"lock_backend"`
	LockKey      string        `json:"lock_key" yaml:"lock_key"`
	LockTimeout  time.Duration `json:"lock_timeout" yaml:"lock_timeout"`
}

// RedisConfig is used by the redis lock backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
}

// BoundaryConfig describes the source tree scanned by the layering checker
// and the rules applied to it. Rules from Preset come first, followed by the
// explicitly configured ones.
type BoundaryConfig struct {
	Root             string             `json:"root" yaml:"root"`
	APIDir           string             `json:"api_dir" yaml:"api_dir"`
	Extensions       []string           `json:"extensions" yaml:"extensions"`
	Workers          int                `json:"workers,omitempty" yaml:"workers,omitempty"`
	Preset           string             `json:"preset,omitempty" yaml:"preset,omitempty"`
	ForbiddenImports []ForbiddenImport  `json:"forbidden_imports,omitempty" yaml:"forbidden_imports,omitempty"`
	SafeWrappers     []SafeWrapper      `json:"safe_wrappers,omitempty" yaml:"safe_wrappers,omitempty"`
	GoImports        []GoImportBoundary `json:"go_imports,omitempty" yaml:"go_imports,omitempty"`
}

// ForbiddenImport forbids importing Module directly.
type ForbiddenImport struct {
	Module string `json:"module" yaml:"module"`
	Hint   string `json:"hint" yaml:"hint"`
}

// SafeWrapper requires calls to Unsafe to go through Safe.
type SafeWrapper struct {
	Unsafe string `json:"unsafe" yaml:"unsafe"`
	Safe   string `json:"safe" yaml:"safe"`
	Hint   string `json:"hint" yaml:"hint"`
}

// GoImportBoundary forbids Go import paths, including their sub-packages.
type GoImportBoundary struct {
	Forbidden []string `json:"forbidden" yaml:"forbidden"`
	Hint      string   `json:"hint" yaml:"hint"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: store.Config{
			Driver: store.DriverSQLite,
			URL:    "missioncontrol.db",
		},
		Migrations: MigrationsConfig{
			VersionTable: "schema_version",
			LockKey:      "migration_runner",
			LockTimeout:  5 * time.Minute,
		},
		Boundary: BoundaryConfig{
			Root:       ".",
			APIDir:     "backend/app/api",
			Extensions: []string{".py"},
			Preset:     PresetOpenClaw,
		},
	}
}

// Load reads a YAML file over Default, applies environment overrides and then
// overrides, and validates the result. An empty path skips the file.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := NewFileSource(path).LoadInto(cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MCCTL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDatabaseDriver); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(EnvLockBackend); v != "" {
		c.Migrations.LockBackend = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
}

// Validate normalizes the database driver and reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	driver, err := store.NormalizeDriver(c.Database.Driver)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.Database.Driver = driver
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}

	c.Migrations.LockBackend = strings.ToLower(c.Migrations.LockBackend)
	switch c.Migrations.LockBackend {
	case "", "sqlite":
	case "postgres":
		if driver != store.DriverPostgres {
			errs = append(errs, fmt.Errorf("lock backend postgres requires the postgres driver, got %q", c.Database.Driver))
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("lock backend redis requires redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock backend %q", c.Migrations.LockBackend))
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, errors.New("database.max_open_conns must not be negative"))
	}
	// The advisory lock pins one connection for the whole run.
	if driver == store.DriverPostgres && c.Database.MaxOpenConns == 1 &&
		(c.Migrations.LockBackend == "" || c.Migrations.LockBackend == "postgres") {
		errs = append(errs, errors.New("database.max_open_conns must be at least 2 with the postgres lock"))
	}
	if c.Migrations.LockTimeout < 0 {
		errs = append(errs, errors.New("migrations.lock_timeout must not be negative"))
	}

	b := c.Boundary
	if b.Preset != "" && b.Preset != PresetOpenClaw {
		errs = append(errs, fmt.Errorf("unknown boundary preset %q", b.Preset))
	}
	for i, r := range b.ForbiddenImports {
		if r.Module == "" {
			errs = append(errs, fmt.Errorf("boundary.forbidden_imports[%d]: module is required", i))
		}
	}
	for i, r := range b.SafeWrappers {
		if r.Unsafe == "" || r.Safe == "" {
			errs = append(errs, fmt.Errorf("boundary.safe_wrappers[%d]: unsafe and safe are required", i))
		}
	}
	for i, r := range b.GoImports {
		if len(r.Forbidden) == 0 {
			errs = append(errs, fmt.Errorf("boundary.go_imports[%d]: forbidden is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
