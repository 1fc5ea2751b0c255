package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

var version = "dev"

// stdout receives command output. Tests replace it.
var stdout io.Writer = os.Stdout

var commands = map[string]func([]string) error{
	"migrate":  runMigrate,
	"schema":   runSchema,
	"boundary": runBoundary,
}

func usage() {
	fmt.Fprintf(os.Stderr, `mcctl - mission control schema and layering tool (version %s)

Usage:
  mcctl <command> [options]

Commands:
  migrate    Apply, revert and inspect schema revisions (status, history, upgrade, downgrade, plan, revision)
  schema     Validate the revision chain and print its SQL (verify, sql)
  boundary   Check the API layer against the layering rules (check)

Run 'mcctl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd) //nolint:gosec // G705: CLI error output
		usage()
		os.Exit(1)
	}

	if err := fn(os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err) //nolint:gosec // G705: CLI error output
		os.Exit(1)
	}
}
