// Package graph builds the directed acyclic dependency graph of resource
// instances from a desired-state specification. Building is a pure function
// of the declarations: count/condition expansion first, then static reference
// analysis over attribute expressions, then cycle detection and a
// deterministic topological order.
package graph

import (
	"sort"

	"github.com/stackform-io/stackform/internal/ir"
)

// Graph is the dependency graph for one run. Immutable once built.
type Graph struct {
	instances map[string]*ir.Instance
	families  map[string][]string // logical name -> instance addresses
	declared  map[string]bool     // names present in the declaration set
	deps      map[string][]string // address -> dependency addresses
	rdeps     map[string][]string
	order     []string
}

// Build expands declarations and wires dependency edges from attribute
// references and explicit depends_on constraints.
func Build(decls []*ir.Declaration) (*Graph, error) {
	instances, declared, err := expand(decls)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		instances: make(map[string]*ir.Instance, len(instances)),
		families:  make(map[string][]string),
		declared:  declared,
		deps:      make(map[string][]string),
		rdeps:     make(map[string][]string),
	}
	for _, inst := range instances {
		g.instances[inst.Address] = inst
		g.families[inst.Name] = append(g.families[inst.Name], inst.Address)
	}
	for name := range g.families {
		sort.Strings(g.families[name])
	}

	for _, addr := range g.Addresses() {
		inst := g.instances[addr]
		seen := make(map[string]bool)

		for _, attr := range sortedKeys(inst.Attributes) {
			for _, ref := range inst.Attributes[attr].References() {
				if err := g.addRefEdges(inst, ref, seen); err != nil {
					return nil, err
				}
			}
		}
		for _, dep := range inst.DependsOn {
			if err := g.addRefEdges(inst, ir.Ref{Name: dep, Index: -1}, seen); err != nil {
				return nil, err
			}
		}
		sort.Strings(g.deps[addr])
	}

	for _, addr := range g.Addresses() {
		for _, dep := range g.deps[addr] {
			g.rdeps[dep] = append(g.rdeps[dep], addr)
		}
	}
	for addr := range g.rdeps {
		sort.Strings(g.rdeps[addr])
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	g.order = g.topoSort()

	return g, nil
}

// addRefEdges records edges from one reference. An unindexed reference to a
// counted family depends on every instance of that family. References to a
// declared-but-pruned resource produce no edge; references to an undeclared
// name are a build error.
func (g *Graph) addRefEdges(inst *ir.Instance, ref ir.Ref, seen map[string]bool) error {
	if !g.declared[ref.Name] {
		return &UnresolvedReferenceError{Address: inst.Address, Reference: ref.Name}
	}
	if ref.Name == inst.Name {
		return nil // self-references carry no ordering
	}
	for _, target := range g.families[ref.Name] {
		if ref.Index >= 0 {
			if _, idx := ir.SplitIndex(target); idx != ref.Index {
				continue
			}
		}
		if !seen[target] {
			seen[target] = true
			g.deps[inst.Address] = append(g.deps[inst.Address], target)
		}
	}
	return nil
}

// Addresses returns every instance address in stable sorted order.
func (g *Graph) Addresses() []string {
	addrs := make([]string, 0, len(g.instances))
	for addr := range g.instances {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Instance returns the instance at the given address, or nil.
func (g *Graph) Instance(addr string) *ir.Instance {
	return g.instances[addr]
}

// Order returns the topological order (dependencies first). Ties are broken
// by address so identical inputs always produce identical orders.
func (g *Graph) Order() []string {
	return g.order
}

// Dependencies returns the addresses the given instance depends on.
func (g *Graph) Dependencies(addr string) []string {
	return g.deps[addr]
}

// Dependents returns the addresses that depend on the given instance.
func (g *Graph) Dependents(addr string) []string {
	return g.rdeps[addr]
}

// Family returns the instance addresses for a logical name, sorted.
func (g *Graph) Family(name string) []string {
	return g.families[name]
}

// Families returns a copy of the name-to-addresses mapping.
func (g *Graph) Families() map[string][]string {
	out := make(map[string][]string, len(g.families))
	for name, addrs := range g.families {
		out[name] = append([]string(nil), addrs...)
	}
	return out
}

// Declared reports whether a logical name exists in the declaration set,
// even when pruned to zero instances.
func (g *Graph) Declared(name string) bool {
	return g.declared[name]
}

// detectCycles runs a depth-first traversal and fails on the first back-edge,
// reporting the addresses along the cycle.
func (g *Graph) detectCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	color := make(map[string]int, len(g.instances))
	var stack []string

	var visit func(addr string) *CycleError
	visit = func(addr string) *CycleError {
		color[addr] = visiting
		stack = append(stack, addr)
		for _, dep := range g.deps[addr] {
			switch color[dep] {
			case visiting:
				// Back-edge: slice the cycle out of the traversal stack.
				start := 0
				for i, a := range stack {
					if a == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				cycle = append(cycle, dep)
				return &CycleError{Cycle: cycle}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[addr] = done
		return nil
	}

	for _, addr := range g.Addresses() {
		if color[addr] == unvisited {
			if err := visit(addr); err != nil {
				return err
			}
		}
	}
	return nil
}

// topoSort emits addresses dependencies-first. The ready set is scanned in
// sorted address order, which makes the result deterministic.
func (g *Graph) topoSort() []string {
	addrs := g.Addresses()
	remaining := make(map[string]int, len(addrs))
	for _, addr := range addrs {
		remaining[addr] = len(g.deps[addr])
	}

	emitted := make(map[string]bool, len(addrs))
	order := make([]string, 0, len(addrs))
	for len(order) < len(addrs) {
		progressed := false
		for _, addr := range addrs {
			if emitted[addr] || remaining[addr] != 0 {
				continue
			}
			emitted[addr] = true
			order = append(order, addr)
			for _, dep := range g.rdeps[addr] {
				remaining[dep]--
			}
			progressed = true
		}
		if !progressed {
			break // unreachable once detectCycles has passed
		}
	}
	return order
}

func sortedKeys(m map[string]ir.Expr) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
