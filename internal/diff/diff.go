// Package diff compares the desired-state graph against a state snapshot and
// produces the ordered change-action plan for one run.
package diff

import (
	"fmt"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/state"
)

// Options configure a Differ.
type Options struct {
	// DefaultReplacePolicy applies when neither the adapter schema nor the
	// resource lifecycle chooses one. Defaults to destroy_before_create.
	DefaultReplacePolicy ir.ReplacePolicy

	// Schema, when set, supplies per-type attribute types and immutable
	// attribute sets.
	Schema func(typ string) *ir.Schema
}

// Differ produces plans. Stateless; safe for reuse across runs.
type Differ struct {
	opts Options
}

func New(opts Options) *Differ {
	if opts.DefaultReplacePolicy == "" {
		opts.DefaultReplacePolicy = ir.DestroyBeforeCreate
	}
	return &Differ{opts: opts}
}

// Diff classifies every graph instance against the snapshot and orders the
// resulting actions. Given identical inputs it produces identical plans:
// iteration is over the graph's deterministic order and sorted addresses
// throughout.
func (d *Differ) Diff(g *graph.Graph, snap state.Snapshot) (*ir.Plan, error) {
	plan := &ir.Plan{
		CreatedAt: time.Now().UTC(),
		Families:  g.Families(),
	}
	lookup := snapshotResolver(g, snap)

	// liveIndex maps an address to the action dependents order against:
	// for a replace pair that is the create member, since the address is
	// live again only once it completes.
	liveIndex := make(map[string]int)

	for _, addr := range g.Order() {
		inst := g.Instance(addr)
		desired, err := resolveAttributes(inst, lookup)
		if err != nil {
			return nil, err
		}
		if err := d.checkTypes(inst, desired); err != nil {
			return nil, err
		}

		entry := snap[addr]
		var idx int
		if entry == nil {
			idx = d.appendAction(plan, &ir.ChangeAction{
				Address: addr,
				Kind:    ir.ActionCreate,
				After:   inst,
				Diff:    createDiff(desired),
			})
			plan.Summary.Create++
		} else {
			diffMap, forcesReplace := d.compare(inst, entry, desired)
			switch {
			case len(diffMap) == 0:
				idx = d.appendAction(plan, &ir.ChangeAction{
					Address: addr,
					Kind:    ir.ActionNoop,
					Before:  entry,
					After:   inst,
				})
				plan.Summary.NoOp++
			case forcesReplace:
				if inst.Lifecycle != nil && inst.Lifecycle.PreventDestroy {
					return nil, fmt.Errorf("resource %s has prevent_destroy set but plan requires replacement", addr)
				}
				idx, err = d.appendReplace(plan, addr, inst, entry, diffMap)
				if err != nil {
					return nil, err
				}
				plan.Summary.Replace++
			default:
				idx = d.appendAction(plan, &ir.ChangeAction{
					Address: addr,
					Kind:    ir.ActionUpdate,
					Before:  entry,
					After:   inst,
					Diff:    diffMap,
				})
				plan.Summary.Update++
			}
		}

		liveIndex[addr] = idx
		for _, dep := range g.Dependencies(addr) {
			plan.Edges = append(plan.Edges, ir.Edge{From: liveIndex[dep], To: idx})
		}
	}

	d.appendDestroys(plan, g, snap)

	logging.Debug("plan computed",
		"create", plan.Summary.Create,
		"update", plan.Summary.Update,
		"replace", plan.Summary.Replace,
		"destroy", plan.Summary.Destroy,
		"noop", plan.Summary.NoOp)
	return plan, nil
}

func (d *Differ) appendAction(plan *ir.Plan, a *ir.ChangeAction) int {
	plan.Actions = append(plan.Actions, a)
	return len(plan.Actions) - 1
}

// appendReplace lowers a replacement into a destroy/create pair at the same
// address. The pair's internal edge follows the replace policy, so the
// executor needs no replace-specific handling. Returns the index of the
// create member.
func (d *Differ) appendReplace(plan *ir.Plan, addr string, inst *ir.Instance, entry *ir.StateEntry, diffMap map[string]*ir.AttributeDiff) (int, error) {
	destroy := &ir.ChangeAction{
		Address:   addr,
		Kind:      ir.ActionDestroy,
		Replacing: true,
		Before:    entry,
	}
	create := &ir.ChangeAction{
		Address:   addr,
		Kind:      ir.ActionCreate,
		Replacing: true,
		After:     inst,
		Diff:      diffMap,
	}

	switch d.replacePolicy(inst) {
	case ir.CreateBeforeDestroy:
		ci := d.appendAction(plan, create)
		di := d.appendAction(plan, destroy)
		plan.Edges = append(plan.Edges, ir.Edge{From: ci, To: di})
		return ci, nil
	case ir.DestroyBeforeCreate:
		di := d.appendAction(plan, destroy)
		ci := d.appendAction(plan, create)
		plan.Edges = append(plan.Edges, ir.Edge{From: di, To: ci})
		return ci, nil
	default:
		return 0, fmt.Errorf("unknown replace policy for %s", addr)
	}
}

func (d *Differ) replacePolicy(inst *ir.Instance) ir.ReplacePolicy {
	if inst.Lifecycle != nil && inst.Lifecycle.CreateBeforeDestroy {
		return ir.CreateBeforeDestroy
	}
	if s := d.schema(inst.Type); s != nil && s.ReplacePolicy != "" {
		return s.ReplacePolicy
	}
	return d.opts.DefaultReplacePolicy
}

// compare diffs desired values against the entry's last-applied values by
// deep structural equality. Attributes absent from the desired set are
// treated as unmanaged (providers record observed extras such as ARNs that
// no declaration mentions).
func (d *Differ) compare(inst *ir.Instance, entry *ir.StateEntry, desired map[string]cty.Value) (map[string]*ir.AttributeDiff, bool) {
	schema := d.schema(inst.Type)
	diffMap := make(map[string]*ir.AttributeDiff)
	forcesReplace := false

	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if inst.Ignored(name) {
			continue
		}
		cur := desired[name]
		prior, ok := entry.Attributes[name]
		if ok && cur.IsWhollyKnown() && cur.RawEquals(prior) {
			continue
		}
		if !ok {
			if cur.IsNull() {
				continue
			}
			prior = cty.NullVal(cty.DynamicPseudoType)
		}
		ad := &ir.AttributeDiff{Before: prior, After: cur}
		if inst.ReplaceTriggered(name, schema) {
			ad.ForcesReplacement = true
			forcesReplace = true
		}
		diffMap[name] = ad
	}
	return diffMap, forcesReplace
}

// checkTypes validates resolved values against the adapter schema.
func (d *Differ) checkTypes(inst *ir.Instance, desired map[string]cty.Value) error {
	schema := d.schema(inst.Type)
	if schema == nil || schema.Attributes == nil {
		return nil
	}
	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		want, ok := schema.Attributes[name]
		if !ok {
			continue
		}
		v := desired[name]
		if v.IsNull() || !v.IsWhollyKnown() {
			continue
		}
		if _, err := convert.Convert(v, want); err != nil {
			return &AttributeTypeError{
				Address:   inst.Address,
				Attribute: name,
				Expected:  want,
				Actual:    v.Type(),
			}
		}
	}
	return nil
}

// appendDestroys plans a destroy for every state entry whose instance is
// absent from the (pruned) graph, dependents strictly before their
// dependencies.
func (d *Differ) appendDestroys(plan *ir.Plan, g *graph.Graph, snap state.Snapshot) {
	stateOnly := make(map[string]*ir.StateEntry)
	for _, addr := range snap.Addresses() {
		if g.Instance(addr) == nil {
			stateOnly[addr] = snap[addr]
		}
	}
	if len(stateOnly) == 0 {
		return
	}

	addrs := make([]string, 0, len(stateOnly))
	for addr := range stateOnly {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	// remaining[b] counts not-yet-emitted dependents of b within the set.
	remaining := make(map[string]int, len(addrs))
	for _, addr := range addrs {
		for _, dep := range stateOnly[addr].Dependencies {
			if _, ok := stateOnly[dep]; ok {
				remaining[dep]++
			}
		}
	}

	emitted := make(map[string]bool, len(addrs))
	indices := make(map[string]int, len(addrs))
	for len(emitted) < len(addrs) {
		progressed := false
		for _, addr := range addrs {
			if emitted[addr] || remaining[addr] != 0 {
				continue
			}
			entry := stateOnly[addr]
			indices[addr] = d.appendAction(plan, &ir.ChangeAction{
				Address: addr,
				Kind:    ir.ActionDestroy,
				Before:  entry,
				Diff:    destroyDiff(entry.Attributes),
			})
			plan.Summary.Destroy++
			emitted[addr] = true
			for _, dep := range entry.Dependencies {
				if _, ok := stateOnly[dep]; ok {
					remaining[dep]--
				}
			}
			progressed = true
		}
		if !progressed {
			// Recorded dependencies should never cycle; if they somehow
			// do, fall back to address order rather than spin.
			for _, addr := range addrs {
				if !emitted[addr] {
					entry := stateOnly[addr]
					indices[addr] = d.appendAction(plan, &ir.ChangeAction{
						Address: addr,
						Kind:    ir.ActionDestroy,
						Before:  entry,
						Diff:    destroyDiff(entry.Attributes),
					})
					plan.Summary.Destroy++
					emitted[addr] = true
				}
			}
		}
	}

	for _, addr := range addrs {
		for _, dep := range stateOnly[addr].Dependencies {
			if _, ok := stateOnly[dep]; ok {
				plan.Edges = append(plan.Edges, ir.Edge{From: indices[addr], To: indices[dep]})
			}
		}
	}
}

func (d *Differ) schema(typ string) *ir.Schema {
	if d.opts.Schema == nil {
		return nil
	}
	return d.opts.Schema(typ)
}

func createDiff(desired map[string]cty.Value) map[string]*ir.AttributeDiff {
	diffMap := make(map[string]*ir.AttributeDiff, len(desired))
	for name, v := range desired {
		diffMap[name] = &ir.AttributeDiff{
			Before: cty.NullVal(cty.DynamicPseudoType),
			After:  v,
		}
	}
	return diffMap
}

func destroyDiff(attrs map[string]cty.Value) map[string]*ir.AttributeDiff {
	diffMap := make(map[string]*ir.AttributeDiff, len(attrs))
	for name, v := range attrs {
		diffMap[name] = &ir.AttributeDiff{
			Before: v,
			After:  cty.NullVal(cty.DynamicPseudoType),
		}
	}
	return diffMap
}
