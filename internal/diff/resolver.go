package diff

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/state"
)

// snapshotResolver resolves references to the state-entry values of their
// targets, never to desired-spec values of not-yet-applied resources. A
// target without a state entry yields an unknown value, which always
// compares as changed; a pruned target yields null.
func snapshotResolver(g *graph.Graph, snap state.Snapshot) func(ir.Ref) (cty.Value, error) {
	return func(ref ir.Ref) (cty.Value, error) {
		targets := g.Family(ref.Name)
		if ref.Index >= 0 {
			var match string
			for _, addr := range targets {
				if _, idx := ir.SplitIndex(addr); idx == ref.Index {
					match = addr
					break
				}
			}
			if match == "" {
				return cty.NullVal(cty.DynamicPseudoType), nil
			}
			return entryValue(snap, match, ref.Attribute), nil
		}

		switch len(targets) {
		case 0:
			return cty.NullVal(cty.DynamicPseudoType), nil
		case 1:
			return entryValue(snap, targets[0], ref.Attribute), nil
		}

		// Unindexed reference to a counted family yields the per-instance
		// values as a tuple, in index order.
		sorted := append([]string(nil), targets...)
		sort.Slice(sorted, func(i, j int) bool {
			_, a := ir.SplitIndex(sorted[i])
			_, b := ir.SplitIndex(sorted[j])
			return a < b
		})
		vals := make([]cty.Value, len(sorted))
		for i, addr := range sorted {
			vals[i] = entryValue(snap, addr, ref.Attribute)
		}
		return cty.TupleVal(vals), nil
	}
}

func entryValue(snap state.Snapshot, addr, attribute string) cty.Value {
	entry, ok := snap[addr]
	if !ok {
		return cty.UnknownVal(cty.DynamicPseudoType)
	}
	if attribute == "" {
		return entry.Object()
	}
	return entry.Attribute(attribute)
}

// resolveAttributes resolves every attribute expression of an instance.
func resolveAttributes(inst *ir.Instance, lookup func(ir.Ref) (cty.Value, error)) (map[string]cty.Value, error) {
	rc := &ir.ResolveContext{Index: inst.Index, Lookup: lookup}
	out := make(map[string]cty.Value, len(inst.Attributes))

	names := make([]string, 0, len(inst.Attributes))
	for name := range inst.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, err := inst.Attributes[name].Resolve(rc)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to resolve %q: %w", inst.Address, name, err)
		}
		out[name] = v
	}
	return out, nil
}
