package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/GoCodeAlone/missioncontrol/config"
)

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	driver     string
	url        string
	logLevel   string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "Path to the mcctl YAML config file")
	fs.StringVar(&c.driver, "driver", "", "Database driver (postgres or sqlite); overrides the config")
	fs.StringVar(&c.url, "url", "", "Database URL or SQLite path; overrides the config")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return c
}

// load reads the configuration with flag overrides applied and builds the
// logger.
func (c *commonFlags) load(extra ...func(*config.Config)) (*config.Config, *slog.Logger, error) {
	logger, err := newLogger(c.logLevel)
	if err != nil {
		return nil, nil, err
	}

	overrides := []func(*config.Config){func(cfg *config.Config) {
		if c.driver != "" {
			cfg.Database.Driver = c.driver
		}
		if c.url != "" {
			cfg.Database.URL = c.url
		}
	}}
	cfg, err := config.Load(c.configPath, append(overrides, extra...)...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// parseSub splits "<subcommand> [flags] [args]" and parses the flags.
func parseSub(fs *flag.FlagSet, args []string, want string) (string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
			fs.Usage()
			return "", flag.ErrHelp
		}
		fs.Usage()
		return "", fmt.Errorf("subcommand required: %s", want)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return "", err
	}
	return args[0], nil
}
