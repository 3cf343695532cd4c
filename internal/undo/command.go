package undo

import (
	"context"
	"sync/atomic"

	"github.com/roach88/boardreplica/internal/block"
)

// Persistence is the remote store every local change is mirrored to. A
// failed call must have no effect remotely.
type Persistence interface {
	Create(ctx context.Context, b block.Block) error
	Update(ctx context.Context, b block.Block) error
	Delete(ctx context.Context, b block.Block) error
}

// Change is one entity mutation. Before is nil for an insert and After is
// nil for a delete. Versions (UpdateAt, DeleteAt) are assigned when the
// change is applied, so the blocks only need to carry content.
type Change struct {
	Before *block.Block
	After  *block.Block
}

// Insert returns the change that creates b.
func Insert(b block.Block) Change {
	after := b.Clone()
	return Change{After: &after}
}

// Update returns the change from before to after.
func Update(before, after block.Block) Change {
	b, a := before.Clone(), after.Clone()
	return Change{Before: &b, After: &a}
}

// Delete returns the change that tombstones b.
func Delete(b block.Block) Change {
	before := b.Clone()
	return Change{Before: &before}
}

// ID returns the id of the changed block.
func (c Change) ID() string {
	if c.After != nil {
		return c.After.ID
	}
	if c.Before != nil {
		return c.Before.ID
	}
	return ""
}

func (c Change) inverse() Change {
	return Change{Before: c.After, After: c.Before}
}

// State is a command's position in its lifecycle:
// Pending -> AppliedLocally -> Confirmed | Reverted.
type State int32

const (
	Pending State = iota
	AppliedLocally
	Confirmed
	Reverted
)

func (s State) String() string {
	switch s {
	case AppliedLocally:
		return "applied-locally"
	case Confirmed:
		return "confirmed"
	case Reverted:
		return "reverted"
	default:
		return "pending"
	}
}

// Command is a named, reversible mutation.
type Command struct {
	Description string
	Changes     []Change

	// OnSuccess runs after the remote confirmed every change.
	OnSuccess func()
	// OnFailure runs after the command was rolled back.
	OnFailure func(error)

	state atomic.Int32
}

// NewCommand creates a command applying changes in order.
func NewCommand(description string, changes ...Change) *Command {
	return &Command{Description: description, Changes: changes}
}

// State returns the command's lifecycle state.
func (c *Command) State() State {
	return State(c.state.Load())
}

func (c *Command) setState(s State) {
	c.state.Store(int32(s))
}

// Transaction is one history entry: commands that undo and redo together.
type Transaction struct {
	ID          string
	Description string
	Commands    []*Command
}

// forward returns every change in execution order.
func (t *Transaction) forward() []Change {
	var out []Change
	for _, cmd := range t.Commands {
		out = append(out, cmd.Changes...)
	}
	return out
}

// inverse returns the changes that undo t, last change first.
func (t *Transaction) inverse() []Change {
	fwd := t.forward()
	out := make([]Change, len(fwd))
	for i, c := range fwd {
		out[len(fwd)-1-i] = c.inverse()
	}
	return out
}
