package boundary

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Checker scans the files under Root/APIDir and applies Rules to each.
type Checker struct {
	// Root is the repository root. Reported paths are relative to it.
	Root string
	// APIDir is the scanned directory, relative to Root.
	APIDir string
	// Extensions limits the scan to files with these suffixes. Empty means
	// every regular file.
	Extensions []string
	Rules      []Rule
	// Workers bounds the number of files read concurrently. Zero means
	// GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Check scans every matching file and returns all violations. A missing API
// directory yields an empty report.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	files, err := c.files()
	if err != nil {
		return nil, err
	}

	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([][]Violation, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := c.checkFile(rel)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := newReport(c.Rules, len(files))
	for _, v := range results {
		report.Violations = append(report.Violations, v...)
	}
	report.sort()

	logger.Debug("boundary check finished",
		"root", c.Root,
		"api_dir", c.APIDir,
		"files", len(files),
		"violations", len(report.Violations))
	return report, nil
}

// files lists the slash-separated paths, relative to Root, of every file to
// scan.
func (c *Checker) files() ([]string, error) {
	root := c.Root
	if root == "" {
		root = "."
	}
	apiRoot := filepath.Join(root, filepath.FromSlash(c.APIDir))

	var files []string
	err := filepath.WalkDir(apiRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == apiRoot && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !c.matchExt(path) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// Linked files are scanned through their target; dangling links
			// and links to directories are skipped.
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", apiRoot, err)
	}
	return files, nil
}

func (c *Checker) matchExt(path string) bool {
	if len(c.Extensions) == 0 {
		return true
	}
	return slices.ContainsFunc(c.Extensions, func(ext string) bool {
		return strings.HasSuffix(path, ext)
	})
}

func (c *Checker) checkFile(rel string) ([]Violation, error) {
	root := c.Root
	if root == "" {
		root = "."
	}
	src, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	var out []Violation
	for _, rule := range c.Rules {
		lines, err := rule.Check(rel, src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rule.Name(), err)
		}
		for _, line := range lines {
			out = append(out, Violation{Path: rel, Line: line, Rule: rule.Name()})
		}
	}
	return out, nil
}
