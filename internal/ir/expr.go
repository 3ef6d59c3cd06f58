package ir

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Ref names an attribute of another resource by its logical name.
type Ref struct {
	Name      string
	Index     int    // instance index; -1 when the reference is unindexed
	Attribute string // empty means the whole attribute object
}

func (r Ref) String() string {
	s := r.Name
	if r.Index >= 0 {
		s = fmt.Sprintf("%s[%d]", s, r.Index)
	}
	if r.Attribute != "" {
		s += "." + r.Attribute
	}
	return s
}

// ResolveContext supplies reference values during expression resolution.
type ResolveContext struct {
	// Index is the count index of the instance being resolved, -1 for
	// singletons.
	Index int

	// Lookup resolves a reference to a concrete value.
	Lookup func(Ref) (cty.Value, error)
}

// Expr is a desired-state attribute expression: a literal, a reference to
// another resource, or a computed expression over references. Expressions are
// analyzed statically (References) before any provider value exists, and
// resolved to concrete values (Resolve) only when those values are known.
type Expr interface {
	References() []Ref
	Resolve(rc *ResolveContext) (cty.Value, error)
}

// Literal is a constant value.
type Literal struct {
	Value cty.Value
}

func (l Literal) References() []Ref { return nil }

func (l Literal) Resolve(*ResolveContext) (cty.Value, error) { return l.Value, nil }

// Reference is a bare reference to another resource's attribute.
type Reference struct {
	Ref
}

func (r Reference) References() []Ref { return []Ref{r.Ref} }

func (r Reference) Resolve(rc *ResolveContext) (cty.Value, error) {
	if rc == nil || rc.Lookup == nil {
		return cty.NilVal, fmt.Errorf("reference %s cannot be resolved without a lookup", r.Ref)
	}
	return rc.Lookup(r.Ref)
}

// List is a sequence of sub-expressions.
type List struct {
	Elems []Expr
}

func (l List) References() []Ref {
	var refs []Ref
	for _, e := range l.Elems {
		refs = append(refs, e.References()...)
	}
	return refs
}

func (l List) Resolve(rc *ResolveContext) (cty.Value, error) {
	if len(l.Elems) == 0 {
		return cty.EmptyTupleVal, nil
	}
	vals := make([]cty.Value, len(l.Elems))
	for i, e := range l.Elems {
		v, err := e.Resolve(rc)
		if err != nil {
			return cty.NilVal, err
		}
		vals[i] = v
	}
	return cty.TupleVal(vals), nil
}

// Object is a keyed collection of sub-expressions.
type Object struct {
	Attrs map[string]Expr
}

func (o Object) References() []Ref {
	keys := make([]string, 0, len(o.Attrs))
	for k := range o.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var refs []Ref
	for _, k := range keys {
		refs = append(refs, o.Attrs[k].References()...)
	}
	return refs
}

func (o Object) Resolve(rc *ResolveContext) (cty.Value, error) {
	if len(o.Attrs) == 0 {
		return cty.EmptyObjectVal, nil
	}
	vals := make(map[string]cty.Value, len(o.Attrs))
	for k, e := range o.Attrs {
		v, err := e.Resolve(rc)
		if err != nil {
			return cty.NilVal, err
		}
		vals[k] = v
	}
	return cty.ObjectVal(vals), nil
}
