package boundary

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Violation is one offending line.
type Violation struct {
	Path string
	Line int
	Rule string
}

// String renders the violation as path:line.
func (v Violation) String() string { return fmt.Sprintf("%s:%d", v.Path, v.Line) }

// Report is the result of one scan.
type Report struct {
	Violations []Violation
	// Files is the number of files scanned.
	Files int

	rules []Rule
}

func newReport(rules []Rule, files int) *Report {
	return &Report{rules: rules, Files: files}
}

func (r *Report) sort() {
	slices.SortFunc(r.Violations, func(a, b Violation) int {
		return cmp.Or(
			cmp.Compare(a.Path, b.Path),
			cmp.Compare(a.Line, b.Line),
			cmp.Compare(a.Rule, b.Rule),
		)
	})
}

// OK reports whether the scan found no violations.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

// ByRule returns the violations of the named rule in report order.
func (r *Report) ByRule(name string) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Rule == name {
			out = append(out, v)
		}
	}
	return out
}

// Err returns nil for a clean report, otherwise a *ViolationError listing
// every violation grouped by rule.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	ve := &ViolationError{}
	for _, rule := range r.rules {
		if vs := r.ByRule(rule.Name()); len(vs) > 0 {
			ve.Groups = append(ve.Groups, RuleViolations{Rule: rule.Name(), Hint: rule.Hint(), Violations: vs})
		}
	}
	return ve
}

// RuleViolations are the violations of a single rule.
type RuleViolations struct {
	Rule       string
	Hint       string
	Violations []Violation
}

func (g RuleViolations) String() string {
	locs := make([]string, len(g.Violations))
	for i, v := range g.Violations {
		locs[i] = v.String()
	}
	return g.Hint + " Violations: " + strings.Join(locs, ", ")
}

// ViolationError carries every violation of a failed check.
type ViolationError struct {
	Groups []RuleViolations
}

func (e *ViolationError) Error() string {
	parts := make([]string, len(e.Groups))
	for i, g := range e.Groups {
		parts[i] = g.String()
	}
	return strings.Join(parts, "\n")
}

// Count returns the total number of violations.
func (e *ViolationError) Count() int {
	n := 0
	for _, g := range e.Groups {
		n += len(g.Violations)
	}
	return n
}
