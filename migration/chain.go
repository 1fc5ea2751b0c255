package migration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Targets understood by Chain.Resolve in addition to revision ids.
const (
	Head = "head"
	Base = "base"
)

var (
	ErrEmptyChain         = errors.New("empty revision chain")
	ErrInvalidRevision    = errors.New("invalid revision")
	ErrDuplicateRevision  = errors.New("duplicate revision")
	ErrMissingPredecessor = errors.New("missing predecessor")
	ErrMultipleRoots      = errors.New("multiple root revisions")
	ErrBranchedChain      = errors.New("branched revision chain")
	ErrCycle              = errors.New("revision cycle")
	ErrUnknownRevision    = errors.New("unknown revision")
	ErrAmbiguousRevision  = errors.New("ambiguous revision")
	ErrWrongDirection     = errors.New("target is in the wrong direction")
)

// ChainError describes why a set of revisions does not form a valid chain.
type ChainError struct {
	Kind error
	Msg  string
}

func (e *ChainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *ChainError) Unwrap() error { return e.Kind }

func chainErrorf(kind error, format string, args ...any) error {
	return &ChainError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Chain is a validated, linear sequence of revisions ordered root to head.
type Chain struct {
	revs  []Revision
	index map[string]int
}

// NewChain validates the revisions and orders them from root to head. It
// rejects empty ids, duplicate ids, missing predecessors, more than one root,
// branches (two revisions sharing a predecessor) and cycles.
func NewChain(revs ...Revision) (*Chain, error) {
	if len(revs) == 0 {
		return nil, &ChainError{Kind: ErrEmptyChain}
	}

	byID := make(map[string]Revision, len(revs))
	for _, r := range revs {
		if r.ID == "" {
			return nil, chainErrorf(ErrInvalidRevision, "revision with message %q has no id", r.Message)
		}
		if r.ID == r.DownRevision {
			return nil, chainErrorf(ErrCycle, "%s revises itself", r.ID)
		}
		if _, dup := byID[r.ID]; dup {
			return nil, chainErrorf(ErrDuplicateRevision, "%s", r.ID)
		}
		byID[r.ID] = r
	}

	var roots []string
	children := make(map[string][]string, len(revs))
	for _, r := range revs {
		if r.IsRoot() {
			roots = append(roots, r.ID)
			continue
		}
		if _, ok := byID[r.DownRevision]; !ok {
			return nil, chainErrorf(ErrMissingPredecessor, "%s revises unknown %s", r.ID, r.DownRevision)
		}
		children[r.DownRevision] = append(children[r.DownRevision], r.ID)
	}

	for parent, kids := range children {
		if len(kids) > 1 {
			sort.Strings(kids)
			return nil, chainErrorf(ErrBranchedChain, "%s is revised by %s", parent, strings.Join(kids, ", "))
		}
	}

	switch len(roots) {
	case 0:
		return nil, chainErrorf(ErrCycle, "no root revision")
	case 1:
	default:
		sort.Strings(roots)
		return nil, chainErrorf(ErrMultipleRoots, "%s", strings.Join(roots, ", "))
	}

	c := &Chain{index: make(map[string]int, len(revs))}
	for id := roots[0]; ; {
		c.index[id] = len(c.revs)
		c.revs = append(c.revs, byID[id])
		next := children[id]
		if len(next) == 0 {
			break
		}
		id = next[0]
	}

	// With one root and no branches, anything unreachable from the root sits
	// on a predecessor cycle.
	if len(c.revs) != len(revs) {
		var stray []string
		for id := range byID {
			if _, ok := c.index[id]; !ok {
				stray = append(stray, id)
			}
		}
		sort.Strings(stray)
		return nil, chainErrorf(ErrCycle, "unreachable from root %s: %s", roots[0], strings.Join(stray, ", "))
	}

	return c, nil
}

// Len returns the number of revisions.
func (c *Chain) Len() int { return len(c.revs) }

// Revisions returns the revisions ordered root to head.
func (c *Chain) Revisions() []Revision {
	return append([]Revision(nil), c.revs...)
}

// Base returns the root revision.
func (c *Chain) Base() Revision { return c.revs[0] }

// Head returns the newest revision.
func (c *Chain) Head() Revision { return c.revs[len(c.revs)-1] }

// Get returns the revision with the exact id.
func (c *Chain) Get(id string) (Revision, bool) {
	i, ok := c.index[id]
	if !ok {
		return Revision{}, false
	}
	return c.revs[i], true
}

// Resolve turns a target into a revision id. "head" is the newest revision,
// "base" and the empty string mean no revision applied (returned as ""),
// anything else must be an id or a unique id prefix.
func (c *Chain) Resolve(target string) (string, error) {
	switch target {
	case "", Base:
		return "", nil
	case Head:
		return c.Head().ID, nil
	}
	if _, ok := c.index[target]; ok {
		return target, nil
	}

	var matches []string
	for _, r := range c.revs {
		if strings.HasPrefix(r.ID, target) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrUnknownRevision, target)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %s", ErrAmbiguousRevision, target, strings.Join(matches, ", "))
	}
}

// position returns the chain index of id, or -1 for the empty (base) id.
func (c *Chain) position(id string) (int, error) {
	if id == "" {
		return -1, nil
	}
	i, ok := c.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRevision, id)
	}
	return i, nil
}

// UpgradePath returns the revisions to apply, in order, to move from the
// current revision to the target. Both arguments accept Resolve targets.
func (c *Chain) UpgradePath(from, to string) ([]Revision, error) {
	pf, pt, err := c.positions(from, to)
	if err != nil {
		return nil, err
	}
	if pt < pf {
		return nil, fmt.Errorf("%w: upgrade from %s to %s", ErrWrongDirection, label(from), label(to))
	}
	return append([]Revision(nil), c.revs[pf+1:pt+1]...), nil
}

// DowngradePath returns the revisions to revert, newest first, to move from
// the current revision down to the target.
func (c *Chain) DowngradePath(from, to string) ([]Revision, error) {
	pf, pt, err := c.positions(from, to)
	if err != nil {
		return nil, err
	}
	if pt > pf {
		return nil, fmt.Errorf("%w: downgrade from %s to %s", ErrWrongDirection, label(from), label(to))
	}
	path := make([]Revision, 0, pf-pt)
	for i := pf; i > pt; i-- {
		path = append(path, c.revs[i])
	}
	return path, nil
}

func (c *Chain) positions(from, to string) (int, int, error) {
	fromID, err := c.Resolve(from)
	if err != nil {
		return 0, 0, err
	}
	toID, err := c.Resolve(to)
	if err != nil {
		return 0, 0, err
	}
	pf, err := c.position(fromID)
	if err != nil {
		return 0, 0, err
	}
	pt, err := c.position(toID)
	if err != nil {
		return 0, 0, err
	}
	return pf, pt, nil
}

// CatalogAt replays upgrades from the root through the target and returns the
// resulting schema.
func (c *Chain) CatalogAt(target string) (*Catalog, error) {
	path, err := c.UpgradePath("", target)
	if err != nil {
		return nil, err
	}
	cat := NewCatalog()
	for _, r := range path {
		if err := cat.ApplyRevision(r, Up); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

// Verify replays every revision against an in-memory catalog, checking that
// each upgrade is applicable on top of its predecessor and that each
// downgrade restores the predecessor's schema exactly.
func (c *Chain) Verify() error {
	cat := NewCatalog()
	for _, r := range c.revs {
		next, err := VerifyRevision(cat, r)
		if err != nil {
			return err
		}
		cat = next
	}
	return nil
}

func label(target string) string {
	if target == "" {
		return Base
	}
	return target
}
