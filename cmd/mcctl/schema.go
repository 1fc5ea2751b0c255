package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"slices"

	"github.com/GoCodeAlone/missioncontrol/migration"
	"github.com/GoCodeAlone/missioncontrol/orgschema"
	"github.com/GoCodeAlone/missioncontrol/store"
)

func runSchema(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	common := addCommonFlags(fs)
	dialect := fs.String("dialect", "", "SQL dialect for 'sql' (postgres or sqlite; defaults to the configured driver)")
	down := fs.Bool("down", false, "Render the downgrade from head to base instead of the upgrade")
	skipDB := fs.Bool("offline", false, "Skip the SQLite round trip in 'verify'")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `Usage: mcctl schema <subcommand> [options]

Subcommands:
  verify   Check the revision chain, replay it against an in-memory SQLite
           database and compare the ORM models with the head schema
  sql      Print the full upgrade (or --down downgrade) SQL for a dialect

Options:
`)
		fs.PrintDefaults()
	}

	sub, err := parseSub(fs, args, "verify, sql")
	if err != nil {
		return err
	}

	switch sub {
	case "verify":
		_, logger, err := common.load()
		if err != nil {
			return err
		}
		return schemaVerify(logger, !*skipDB)
	case "sql":
		name := *dialect
		if name == "" {
			cfg, _, err := common.load()
			if err != nil {
				return err
			}
			name = cfg.Database.Driver
		}
		d, err := migration.DialectByName(name)
		if err != nil {
			return err
		}
		chain, err := orgschema.Chain()
		if err != nil {
			return err
		}
		if *down {
			return printPlan(chain, d, migration.Down, migration.Head, migration.Base)
		}
		return printPlan(chain, d, migration.Up, migration.Base, migration.Head)
	default:
		fs.Usage()
		return fmt.Errorf("unknown schema subcommand: %s", sub)
	}
}

func schemaVerify(logger *slog.Logger, roundTrip bool) error {
	chain, err := orgschema.Chain()
	if err != nil {
		return err
	}
	if err := chain.Verify(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	fmt.Fprintf(stdout, "chain: ok (%d revisions, head %s)\n", chain.Len(), chain.Head().ID)

	head, err := chain.CatalogAt(migration.Head)
	if err != nil {
		return err
	}
	mismatches, err := orgschema.CheckModels(head, orgschema.Models()...)
	if err != nil {
		return err
	}
	if len(mismatches) > 0 {
		for _, mm := range mismatches {
			fmt.Fprintf(stdout, "models: %s\n", mm)
		}
		return fmt.Errorf("%d model mismatches against head", len(mismatches))
	}
	fmt.Fprintf(stdout, "models: ok (%d models)\n", len(orgschema.Models()))

	if !roundTrip {
		return nil
	}
	if err := sqliteRoundTrip(chain, head.TableNames(), logger); err != nil {
		return fmt.Errorf("round trip: %w", err)
	}
	fmt.Fprintln(stdout, "round trip: ok (sqlite upgrade head, downgrade base)")
	return nil
}

// sqliteRoundTrip upgrades a scratch database to head, checks the tables and
// downgrades it back to an empty schema.
func sqliteRoundTrip(chain *migration.Chain, want []string, logger *slog.Logger) error {
	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, URL: ":memory:"})
	if err != nil {
		return err
	}
	defer db.Close()

	d := migration.SQLite{}
	versions, err := migration.NewSQLVersionStore(d, migration.DefaultVersionTable)
	if err != nil {
		return err
	}
	runner := migration.NewRunner(db.DB, d, chain, versions, migration.NewSQLiteLock(db.DB), logger)

	if err := runner.Upgrade(ctx, migration.Head); err != nil {
		return err
	}
	got, err := sqliteTables(ctx, db)
	if err != nil {
		return err
	}
	want = append(slices.Clone(want), versions.Table())
	slices.Sort(want)
	if !slices.Equal(got, want) {
		return fmt.Errorf("tables at head: got %v, want %v", got, want)
	}

	if err := runner.Downgrade(ctx, migration.Base); err != nil {
		return err
	}
	got, err = sqliteTables(ctx, db)
	if err != nil {
		return err
	}
	if !slices.Equal(got, []string{versions.Table()}) {
		return fmt.Errorf("tables left after downgrade: %v", got)
	}
	return nil
}

func sqliteTables(ctx context.Context, db *store.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
