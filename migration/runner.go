package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// DefaultLockKey is the lock key runners use unless configured otherwise.
const DefaultLockKey = "migration_runner"

// Runner applies and reverts revisions of a chain against a live database.
// Each revision runs in its own transaction together with the version row
// update, so a failure leaves the database at the last completed revision.
type Runner struct {
	db      *sql.DB
	dialect Dialect
	chain   *Chain
	store   VersionStore
	locker  DistributedLock
	lockKey string
	logger  *slog.Logger
}

// NewRunner creates a new Runner.
func NewRunner(db *sql.DB, dialect Dialect, chain *Chain, store VersionStore, locker DistributedLock, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		db:      db,
		dialect: dialect,
		chain:   chain,
		store:   store,
		locker:  locker,
		lockKey: DefaultLockKey,
		logger:  logger,
	}
}

// SetLockKey overrides the distributed lock key.
func (r *Runner) SetLockKey(key string) {
	if key != "" {
		r.lockKey = key
	}
}

// Chain returns the runner's revision chain.
func (r *Runner) Chain() *Chain { return r.chain }

// Current returns the revision the database is at, or "" for base.
func (r *Runner) Current(ctx context.Context) (string, error) {
	if err := r.store.Ensure(ctx, r.db); err != nil {
		return "", err
	}
	return r.store.Current(ctx, r.db)
}

// Pending returns the revisions an upgrade to target would apply.
func (r *Runner) Pending(ctx context.Context, target string) ([]Revision, error) {
	current, err := r.Current(ctx)
	if err != nil {
		return nil, err
	}
	return r.chain.UpgradePath(current, target)
}

// Upgrade applies every revision between the current one and target.
func (r *Runner) Upgrade(ctx context.Context, target string) error {
	return r.run(ctx, Up, target)
}

// Downgrade reverts revisions, newest first, until target is current.
func (r *Runner) Downgrade(ctx context.Context, target string) error {
	return r.run(ctx, Down, target)
}

func (r *Runner) run(ctx context.Context, dir Direction, target string) error {
	release, err := r.locker.Acquire(ctx, r.lockKey)
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer release()

	current, err := r.Current(ctx)
	if err != nil {
		return err
	}

	var path []Revision
	if dir == Up {
		path, err = r.chain.UpgradePath(current, target)
	} else {
		path, err = r.chain.DowngradePath(current, target)
	}
	if err != nil {
		return fmt.Errorf("%s from %s: %w", dir, label(current), err)
	}

	if len(path) == 0 {
		r.logger.Info("schema already at target",
			"dialect", r.dialect.Name(),
			"revision", label(current))
		return nil
	}

	for _, rev := range path {
		next := rev.ID
		if dir == Down {
			next = rev.DownRevision
		}
		if err := r.apply(ctx, rev, dir, next); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, rev Revision, dir Direction, next string) error {
	stmts, err := RenderRevision(r.dialect, rev, dir)
	if err != nil {
		return err
	}

	r.logger.Info("running migration",
		"direction", dir.String(),
		"revision", rev.ID,
		"message", rev.Message,
		"statements", len(stmts))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", rev.ID, err)
	}

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s %s: statement %d: %w", dir, rev.ID, i+1, err)
		}
	}

	if next == "" {
		err = r.store.Clear(ctx, tx)
	} else {
		err = r.store.Set(ctx, tx, next)
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s: %w", label(next), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", dir, rev.ID, err)
	}

	r.logger.Info("migration applied",
		"direction", dir.String(),
		"revision", rev.ID,
		"now_at", label(next))
	return nil
}

// PlannedRevision is the SQL one revision would run, rendered offline.
type PlannedRevision struct {
	Revision   Revision
	Direction  Direction
	Statements []string
}

// Plan renders the statements for moving from one revision to another
// without touching a database.
func Plan(chain *Chain, d Dialect, dir Direction, from, to string) ([]PlannedRevision, error) {
	var (
		path []Revision
		err  error
	)
	if dir == Up {
		path, err = chain.UpgradePath(from, to)
	} else {
		path, err = chain.DowngradePath(from, to)
	}
	if err != nil {
		return nil, err
	}

	plan := make([]PlannedRevision, 0, len(path))
	for _, rev := range path {
		stmts, err := RenderRevision(d, rev, dir)
		if err != nil {
			return nil, err
		}
		plan = append(plan, PlannedRevision{Revision: rev, Direction: dir, Statements: stmts})
	}
	return plan, nil
}
