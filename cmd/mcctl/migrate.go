package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoCodeAlone/missioncontrol/config"
	"github.com/GoCodeAlone/missioncontrol/migration"
	"github.com/GoCodeAlone/missioncontrol/orgschema"
	"github.com/GoCodeAlone/missioncontrol/store"
)

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	common := addCommonFlags(fs)
	from := fs.String("from", "", "Starting revision for 'plan' (defaults to base for up, head for down)")
	message := fs.String("m", "", "Message for 'revision'")
	output := fs.String("o", "", "Output file for 'revision' (defaults to stdout)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: mcctl migrate <subcommand> [options] [target]

Subcommands:
  status               Show the current and head revision and what is pending
  history              List every revision of the chain, oldest first
  upgrade [target]     Apply revisions up to target (default: head)
  downgrade <target>   Revert revisions down to target ("base" reverts everything)
  plan [--from rev] up|down [target]
                       Print the SQL a move would run without touching the database
  revision -m msg      Print a Go skeleton for a new revision on top of head

Targets are a revision id, a unique id prefix, "head" or "base".
Options go between the subcommand and its arguments.

Options:
`)
		fs.PrintDefaults()
	}

	sub, err := parseSub(fs, args, "status, history, upgrade, downgrade, plan, revision")
	if err != nil {
		return err
	}

	switch sub {
	case "history":
		return migrateHistory()
	case "revision":
		return migrateRevision(*message, *output)
	case "plan":
		return migratePlan(common, fs.Args(), *from)
	case "status", "upgrade", "downgrade":
	default:
		fs.Usage()
		return fmt.Errorf("unknown migrate subcommand: %s", sub)
	}

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}
	ctx, cancel := operationContext(cfg)
	defer cancel()

	runner, closeFn, err := openRunner(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	switch sub {
	case "status":
		return migrateStatus(ctx, runner)
	case "upgrade":
		target := migration.Head
		if fs.NArg() > 0 {
			target = fs.Arg(0)
		}
		if err := runner.Upgrade(ctx, target); err != nil {
			return err
		}
	case "downgrade":
		if fs.NArg() == 0 {
			return fmt.Errorf("downgrade requires a target revision (use %q to revert everything)", migration.Base)
		}
		if err := runner.Downgrade(ctx, fs.Arg(0)); err != nil {
			return err
		}
	}

	current, err := runner.Current(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Database is at %s\n", revisionLabel(current))
	return nil
}

// openRunner connects to the configured database and builds a runner over
// the organization schema chain. The returned func closes every connection.
func openRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*migration.Runner, func(), error) {
	chain, err := orgschema.Chain()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{db.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", "err", err)
			}
		}
	}

	d, err := migration.DialectByName(db.Driver())
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	versions, err := migration.NewSQLVersionStore(d, cfg.Migrations.VersionTable)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	var rc migration.RedisClient
	if cfg.Migrations.LockBackend == migration.LockRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, client.Close)
		rc = client
	}
	locker, err := migration.NewLock(lockBackend(cfg), db.DB, rc)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	runner := migration.NewRunner(db.DB, d, chain, versions, locker, logger)
	runner.SetLockKey(cfg.Migrations.LockKey)
	logger.Debug("migration runner ready",
		"driver", db.Driver(),
		"version_table", versions.Table(),
		"lock_backend", lockBackend(cfg))
	return runner, closeAll, nil
}

// operationContext bounds a database command by the lock timeout. Zero means
// no limit.
func operationContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.Migrations.LockTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), cfg.Migrations.LockTimeout)
}

// lockBackend defaults to the advisory lock of the configured database.
func lockBackend(cfg *config.Config) string {
	if cfg.Migrations.LockBackend != "" {
		return cfg.Migrations.LockBackend
	}
	if cfg.Database.Driver == store.DriverPostgres {
		return migration.LockPostgres
	}
	return migration.LockSQLite
}

func revisionLabel(id string) string {
	if id == "" {
		return "<base>"
	}
	return id
}

func migrateStatus(ctx context.Context, runner *migration.Runner) error {
	current, err := runner.Current(ctx)
	if err != nil {
		return err
	}
	pending, err := runner.Pending(ctx, migration.Head)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Current revision: %s\n", revisionLabel(current))
	fmt.Fprintf(stdout, "Head revision:    %s\n", runner.Chain().Head().ID)
	if len(pending) == 0 {
		fmt.Fprintln(stdout, "Schema is up to date.")
		return nil
	}
	fmt.Fprintf(stdout, "Pending revisions (%d):\n", len(pending))
	for _, rev := range pending {
		fmt.Fprintf(stdout, "  %s  %s\n", rev.ID, rev.Message)
	}
	return nil
}

func migrateHistory() error {
	chain, err := orgschema.Chain()
	if err != nil {
		return err
	}
	head := chain.Head().ID
	for _, rev := range chain.Revisions() {
		marker := ""
		if rev.ID == head {
			marker = " (head)"
		}
		fmt.Fprintf(stdout, "%s -> %s%s  %s  %s\n",
			revisionLabel(rev.DownRevision), rev.ID, marker,
			rev.CreatedAt.Format(time.DateOnly), rev.Message)
	}
	return nil
}

// migratePlan renders SQL offline. With no --from, "up" starts at base and
// "down" starts at head.
func migratePlan(common *commonFlags, args []string, from string) error {
	if len(args) == 0 {
		return fmt.Errorf("plan requires a direction: up or down")
	}
	cfg, _, err := common.load()
	if err != nil {
		return err
	}
	chain, err := orgschema.Chain()
	if err != nil {
		return err
	}
	d, err := migration.DialectByName(cfg.Database.Driver)
	if err != nil {
		return err
	}

	var dir migration.Direction
	target := migration.Head
	switch args[0] {
	case "up":
		dir = migration.Up
		if from == "" {
			from = migration.Base
		}
	case "down":
		dir = migration.Down
		target = migration.Base
		if from == "" {
			from = migration.Head
		}
	default:
		return fmt.Errorf("unknown plan direction %q (want up or down)", args[0])
	}
	if len(args) > 1 {
		target = args[1]
	}

	return printPlan(chain, d, dir, from, target)
}

func printPlan(chain *migration.Chain, d migration.Dialect, dir migration.Direction, from, to string) error {
	plan, err := migration.Plan(chain, d, dir, from, to)
	if err != nil {
		return err
	}
	if len(plan) == 0 {
		fmt.Fprintf(stdout, "-- nothing to %s\n", dir)
		return nil
	}
	for _, p := range plan {
		fmt.Fprintf(stdout, "-- %s %s: %s (%s)\n", p.Direction, p.Revision.ID, p.Revision.Message, d.Name())
		for _, stmt := range p.Statements {
			fmt.Fprintf(stdout, "%s;\n\n", stmt)
		}
	}
	return nil
}

var revisionTemplate = template.Must(template.New("revision").Parse(`package orgschema

import (
	"time"

	m "github.com/GoCodeAlone/missioncontrol/migration"
)

// {{.Func}} returns revision {{.ID}}: {{.Message}}
func {{.Func}}() m.Revision {
	return m.Revision{
		ID:           "{{.ID}}",
		DownRevision: "{{.DownRevision}}",
		Message:      {{printf "%q" .Message}},
		CreatedAt:    time.Date({{.CreatedAt.Year}}, {{.CreatedAt.Month | printf "%d"}}, {{.CreatedAt.Day}}, 0, 0, 0, 0, time.UTC),
		Upgrade: []m.Step{
			{Name: {{printf "%q" .Message}}, Ops: []m.Op{}},
		},
		Downgrade: []m.Step{
			{Name: {{printf "%q" (print "revert " .Message)}}, Ops: []m.Op{}},
		},
	}
}
`))

type revisionData struct {
	Func         string
	ID           string
	DownRevision string
	Message      string
	CreatedAt    time.Time
}

// migrateRevision prints the skeleton of a new revision whose parent is the
// current head. It still has to be appended to Chain by hand.
func migrateRevision(message, output string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("revision requires -m <message>")
	}
	chain, err := orgschema.Chain()
	if err != nil {
		return err
	}

	id := migration.NewRevisionID()
	data := revisionData{
		Func:         "revision" + id,
		ID:           id,
		DownRevision: chain.Head().ID,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	}

	w := stdout
	if output != "" {
		f, err := os.Create(output) //nolint:gosec // G304: user-supplied output path
		if err != nil {
			return fmt.Errorf("create %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}
	if err := revisionTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render revision: %w", err)
	}
	if output != "" {
		fmt.Fprintf(os.Stderr, "Wrote revision %s (down revision %s) to %s\n", id, data.DownRevision, output)
	}
	return nil
}
