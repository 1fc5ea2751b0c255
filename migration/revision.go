package migration

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Direction selects which half of a revision is applied.
type Direction int

const (
	Up Direction = iota + 1
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "downgrade"
	}
	return "upgrade"
}

// Step is a named group of operations applied in order. Splitting a revision
// into steps keeps multi-phase changes visible, such as creating two mutually
// referencing tables first and linking them in a later step.
type Step struct {
	Name string
	Ops  []Op
}

// Revision is one immutable link in a revision chain. DownRevision is the id
// of the immediately preceding revision, or empty for the root.
type Revision struct {
	ID           string
	DownRevision string
	Message      string
	CreatedAt    time.Time
	Upgrade      []Step
	Downgrade    []Step
}

// IsRoot reports whether the revision starts a chain.
func (r Revision) IsRoot() bool { return r.DownRevision == "" }

// Ops flattens the steps for the given direction into one ordered list.
func (r Revision) Ops(dir Direction) []Op {
	steps := r.Upgrade
	if dir == Down {
		steps = r.Downgrade
	}
	var ops []Op
	for _, s := range steps {
		ops = append(ops, s.Ops...)
	}
	return ops
}

// Steps returns the steps for the given direction.
func (r Revision) Steps(dir Direction) []Step {
	if dir == Down {
		return r.Downgrade
	}
	return r.Upgrade
}

// NewRevisionID returns a fresh 12 hex character revision id.
func NewRevisionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[10:])
}
