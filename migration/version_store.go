package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
)

// DefaultVersionTable is the table holding the current revision id.
const DefaultVersionTable = "schema_version"

// Querier is satisfied by both *sql.DB and *sql.Tx so the version row can be
// written inside the same transaction as a revision's DDL.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// VersionStore persists which revision a database is at.
type VersionStore interface {
	// Ensure creates the version table if it does not exist.
	Ensure(ctx context.Context, q Querier) error
	// Current returns the applied revision id, or "" when none is applied.
	Current(ctx context.Context, q Querier) (string, error)
	// Set records id as the applied revision.
	Set(ctx context.Context, q Querier, id string) error
	// Clear records that no revision is applied.
	Clear(ctx context.Context, q Querier) error
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLVersionStore keeps a single row (version_num) in a version table.
type SQLVersionStore struct {
	table   string
	dialect Dialect
}

// NewSQLVersionStore creates a store using the given table name, or
// DefaultVersionTable when table is empty.
func NewSQLVersionStore(d Dialect, table string) (*SQLVersionStore, error) {
	if table == "" {
		table = DefaultVersionTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid version table name %q", table)
	}
	return &SQLVersionStore{table: table, dialect: d}, nil
}

// Table returns the version table name.
func (s *SQLVersionStore) Table() string { return s.table }

// Ensure creates the version table if needed.
func (s *SQLVersionStore) Ensure(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	version_num VARCHAR(32) NOT NULL,
	CONSTRAINT %s_pkc PRIMARY KEY (version_num)
)`, s.table, s.table))
	if err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Current returns the recorded revision id, or "" if the table is empty.
func (s *SQLVersionStore) Current(ctx context.Context, q Querier) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT version_num FROM %s`, s.table)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query %s: %w", s.table, err)
	}
	return id, nil
}

// Set replaces the recorded revision id.
func (s *SQLVersionStore) Set(ctx context.Context, q Querier, id string) error {
	if err := s.Clear(ctx, q); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (version_num) VALUES (%s)`, s.table, s.dialect.Placeholder(1)), id)
	if err != nil {
		return fmt.Errorf("insert %s: %w", s.table, err)
	}
	return nil
}

// Clear removes the recorded revision id.
func (s *SQLVersionStore) Clear(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("clear %s: %w", s.table, err)
	}
	return nil
}
