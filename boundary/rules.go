// Package boundary enforces layering rules over a source tree: which modules
// a layer may import and which helpers it must call instead of their unsafe
// counterparts.
package boundary

import (
	"fmt"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/mod/module"
)

// Rule is one layering constraint. Check returns the 1-based line numbers of
// src that violate it.
type Rule interface {
	Name() string
	Hint() string
	Check(path string, src []byte) ([]int, error)
}

// matchLines applies match to every line of src after trimming surrounding
// whitespace.
func matchLines(src []byte, match func(string) bool) []int {
	var lines []int
	for i, raw := range splitLines(string(src)) {
		if match(strings.TrimSpace(raw)) {
			lines = append(lines, i+1)
		}
	}
	return lines
}

// splitLines splits s at every line boundary a Python source reader
// recognizes: "\n", "\r", "\r\n", and the vertical tab, form feed, file,
// group and record separators, NEL and the Unicode line and paragraph
// separators. A trailing boundary does not start a new line.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch r {
		case '\r':
			lines = append(lines, s[start:i])
			if i+1 < len(s) && s[i+1] == '\n' {
				size = 2
			}
			start = i + size
		case '\n', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
			lines = append(lines, s[start:i])
			start = i + size
		}
		i += size
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// ForbiddenImport reports Python-style imports of Module, either
// `from <Module> import ...` or `import <Module>...`.
type ForbiddenImport struct {
	Module string
	Advice string
}

func (r ForbiddenImport) Name() string { return "forbidden-import:" + r.Module }

func (r ForbiddenImport) Hint() string {
	if r.Advice != "" {
		return r.Advice
	}
	return fmt.Sprintf("Do not import %s directly.", r.Module)
}

// MatchLine reports whether a trimmed line imports the forbidden module.
func (r ForbiddenImport) MatchLine(line string) bool {
	return strings.HasPrefix(line, "from "+r.Module+" import ") ||
		strings.HasPrefix(line, "import "+r.Module)
}

func (r ForbiddenImport) Check(_ string, src []byte) ([]int, error) {
	return matchLines(src, r.MatchLine), nil
}

// SafeWrapper reports lines that mention Unsafe as a whole word unless the
// line also mentions Safe. Word characters are Unicode letters, numbers and
// the underscore.
type SafeWrapper struct {
	Unsafe string
	Safe   string
	Advice string
}

// NewSafeWrapper returns the rule requiring safe in place of unsafe.
func NewSafeWrapper(unsafe, safe, advice string) SafeWrapper {
	return SafeWrapper{Unsafe: unsafe, Safe: safe, Advice: advice}
}

func (r SafeWrapper) Name() string { return "safe-wrapper:" + r.Unsafe }

func (r SafeWrapper) Hint() string {
	if r.Advice != "" {
		return r.Advice
	}
	return fmt.Sprintf("Use %s instead of %s.", r.Safe, r.Unsafe)
}

// MatchLine reports whether a trimmed line calls the unsafe helper.
func (r SafeWrapper) MatchLine(line string) bool {
	if r.Unsafe == "" || !containsWord(line, r.Unsafe) {
		return false
	}
	return !strings.Contains(line, r.Safe)
}

// containsWord reports whether word occurs in s with a word boundary on both
// sides, in the sense of a Unicode-aware \b.
func containsWord(s, word string) bool {
	first, _ := utf8.DecodeRuneInString(word)
	last, _ := utf8.DecodeLastRuneInString(word)
	for off := 0; off < len(s); {
		i := strings.Index(s[off:], word)
		if i < 0 {
			return false
		}
		i += off
		end := i + len(word)

		before, after := utf8.RuneError, utf8.RuneError
		if i > 0 {
			before, _ = utf8.DecodeLastRuneInString(s[:i])
		}
		if end < len(s) {
			after, _ = utf8.DecodeRuneInString(s[end:])
		}
		if isWordRune(before, i > 0) != isWordRune(first, true) &&
			isWordRune(last, true) != isWordRune(after, end < len(s)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		off = i + size
	}
	return false
}

func isWordRune(r rune, present bool) bool {
	return present && (r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r))
}

func (r SafeWrapper) Check(_ string, src []byte) ([]int, error) {
	return matchLines(src, r.MatchLine), nil
}

// GoImport reports Go import specs whose path is one of Forbidden or nested
// under one. Only .go files are parsed; other files never violate it.
type GoImport struct {
	Forbidden []string
	Advice    string
}

// NewGoImport validates the forbidden import paths.
func NewGoImport(forbidden []string, advice string) (GoImport, error) {
	for _, p := range forbidden {
		if err := module.CheckImportPath(p); err != nil {
			return GoImport{}, fmt.Errorf("go import rule: %w", err)
		}
	}
	return GoImport{Forbidden: forbidden, Advice: advice}, nil
}

func (r GoImport) Name() string { return "go-import:" + strings.Join(r.Forbidden, ",") }

func (r GoImport) Hint() string {
	if r.Advice != "" {
		return r.Advice
	}
	return fmt.Sprintf("Do not import %s from this layer.", strings.Join(r.Forbidden, " or "))
}

// Forbids reports whether importPath is covered by the rule.
func (r GoImport) Forbids(importPath string) bool {
	for _, f := range r.Forbidden {
		if importPath == f || strings.HasPrefix(importPath, f+"/") {
			return true
		}
	}
	return false
}

func (r GoImport) Check(path string, src []byte) ([]int, error) {
	if !strings.HasSuffix(path, ".go") {
		return nil, nil
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ImportsOnly)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var lines []int
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if r.Forbids(p) {
			lines = append(lines, fset.Position(imp.Pos()).Line)
		}
	}
	return lines, nil
}

// Hints of the mission control backend rules.
const (
	OpenClawImportHint = "Import OpenClaw integration details via service modules (for example " +
		"`app.services.openclaw.shared`) instead of directly from `app.api`."
	OpenClawDispatchHint = "Use `send_gateway_agent_message_safe` from `app.services.openclaw.shared` " +
		"for API-level gateway notification dispatch."
)

// OpenClawRules returns the rules that keep the API layer away from the
// gateway integration client.
func OpenClawRules() []Rule {
	return []Rule{
		ForbiddenImport{Module: "app.integrations.openclaw_gateway", Advice: OpenClawImportHint},
		NewSafeWrapper("send_gateway_agent_message", "send_gateway_agent_message_safe", OpenClawDispatchHint),
	}
}
