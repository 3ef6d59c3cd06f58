package ir

import (
	"time"

	"github.com/zclconf/go-cty/cty"
)

// ActionKind classifies one change action.
type ActionKind string

const (
	ActionCreate  ActionKind = "create"
	ActionUpdate  ActionKind = "update"
	ActionDestroy ActionKind = "destroy"
	ActionNoop    ActionKind = "noop"
)

// ChangeAction is one planned step for one resource instance. A replacement
// is lowered into a destroy/create pair at the same address, both marked
// Replacing, joined by an ordering edge whose direction follows the replace
// policy in effect.
type ChangeAction struct {
	Address   string
	Kind      ActionKind
	Replacing bool

	// Before is the state entry the action starts from; nil for create.
	Before *StateEntry
	// After is the desired instance; nil for destroy.
	After *Instance

	Diff map[string]*AttributeDiff
}

// AttributeDiff is one attribute-level change, for plan rendering.
type AttributeDiff struct {
	Before            cty.Value
	After             cty.Value
	ForcesReplacement bool
}

// Edge orders two actions by their positions in Plan.Actions: the action at
// From must complete before the action at To starts.
type Edge struct {
	From int
	To   int
}

// Plan is the ordered change-action sequence for one run. Produced fresh by
// the differ, consumed once by the executor, never persisted.
type Plan struct {
	CreatedAt time.Time
	Actions   []*ChangeAction
	Edges     []Edge

	// Families maps logical resource names to their instance addresses, so
	// the executor can resolve references without the graph.
	Families map[string][]string

	Summary Summary
}

// Summary counts planned actions; a replace pair counts once under Replace.
type Summary struct {
	Create  int
	Update  int
	Replace int
	Destroy int
	NoOp    int
}

// Changes reports the number of actions that mutate provider state.
func (s Summary) Changes() int {
	return s.Create + s.Update + s.Replace + s.Destroy
}

// Dependencies returns the indices of actions that must complete before the
// action at index i.
func (p *Plan) Dependencies(i int) []int {
	var deps []int
	for _, e := range p.Edges {
		if e.To == i {
			deps = append(deps, e.From)
		}
	}
	return deps
}
