package load

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/stackform-io/stackform/internal/ir"
)

// convertExpr turns an HCL expression into the declaration expression model:
// bare traversals become references, constant expressions are evaluated to
// literals up front, and everything else stays a computed expression that is
// re-evaluated whenever its referenced values change.
func convertExpr(expr hclsyntax.Expression) (ir.Expr, error) {
	switch ex := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		if ref, ok := simpleRef(ex.Traversal); ok {
			if ref.Name == "count" {
				if ref.Attribute != "index" || ref.Index >= 0 {
					return nil, fmt.Errorf("unknown count attribute in %s", ex.Traversal.SourceRange().String())
				}
				return countIndex{}, nil
			}
			return ir.Reference{Ref: ref}, nil
		}
	case *hclsyntax.TupleConsExpr:
		elems := make([]ir.Expr, len(ex.Exprs))
		for i, e := range ex.Exprs {
			conv, err := convertExpr(e)
			if err != nil {
				return nil, err
			}
			elems[i] = conv
		}
		return ir.List{Elems: elems}, nil
	case *hclsyntax.ObjectConsExpr:
		attrs := make(map[string]ir.Expr, len(ex.Items))
		static := true
		for _, item := range ex.Items {
			key := hcl.ExprAsKeyword(item.KeyExpr)
			if key == "" {
				static = false
				break
			}
			conv, err := convertExpr(item.ValueExpr)
			if err != nil {
				return nil, err
			}
			attrs[key] = conv
		}
		if static {
			return ir.Object{Attrs: attrs}, nil
		}
	}

	vars := expr.Variables()
	if len(vars) == 0 {
		v, diags := expr.Value(staticEvalContext())
		if diags.HasErrors() {
			return nil, diags
		}
		return ir.Literal{Value: v}, nil
	}

	refs, err := traversalRefs(vars)
	if err != nil {
		return nil, err
	}
	return &computed{expr: expr, refs: refs}, nil
}

// simpleRef recognizes traversals of the shape name, name.attr, name[i] or
// name[i].attr. Deeper traversals are handled as computed expressions.
func simpleRef(trav hcl.Traversal) (ir.Ref, bool) {
	ref := ir.Ref{Name: trav.RootName(), Index: -1}
	rest := trav[1:]

	if len(rest) > 0 {
		if idx, ok := traverseIndex(rest[0]); ok {
			ref.Index = idx
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		attr, ok := rest[0].(hcl.TraverseAttr)
		if !ok {
			return ir.Ref{}, false
		}
		ref.Attribute = attr.Name
		rest = rest[1:]
	}
	return ref, len(rest) == 0
}

func traverseIndex(step hcl.Traverser) (int, bool) {
	idx, ok := step.(hcl.TraverseIndex)
	if !ok || idx.Key.Type() != cty.Number {
		return 0, false
	}
	i, _ := idx.Key.AsBigFloat().Int64()
	return int(i), true
}

// traversalRefs extracts the references a computed expression depends on.
// Traversals deeper than the simple shape still contribute a reference at
// whatever precision can be read off statically.
func traversalRefs(travs []hcl.Traversal) ([]ir.Ref, error) {
	seen := make(map[string]bool)
	var refs []ir.Ref
	for _, trav := range travs {
		if trav.RootName() == "count" {
			continue
		}
		ref, ok := simpleRef(trav)
		if !ok {
			ref = ir.Ref{Name: trav.RootName(), Index: -1}
			for _, step := range trav[1:] {
				if idx, isIdx := traverseIndex(step); isIdx && ref.Index < 0 {
					ref.Index = idx
				}
				if attr, isAttr := step.(hcl.TraverseAttr); isAttr && ref.Attribute == "" {
					ref.Attribute = attr.Name
				}
			}
		}
		key := ref.String()
		if !seen[key] {
			seen[key] = true
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// countIndex resolves to the instance's count index.
type countIndex struct{}

func (countIndex) References() []ir.Ref { return nil }

func (countIndex) Resolve(rc *ir.ResolveContext) (cty.Value, error) {
	if rc == nil || rc.Index < 0 {
		return cty.NilVal, fmt.Errorf("count.index used outside a counted resource")
	}
	return cty.NumberIntVal(int64(rc.Index)), nil
}

// computed is an HCL expression over one or more references. Resolution binds
// each referenced resource's whole value to its logical name and lets HCL
// evaluate the traversal, so interpolations and operators come for free.
type computed struct {
	expr hclsyntax.Expression
	refs []ir.Ref
}

func (c *computed) References() []ir.Ref { return c.refs }

func (c *computed) Resolve(rc *ir.ResolveContext) (cty.Value, error) {
	if rc == nil || rc.Lookup == nil {
		return cty.NilVal, fmt.Errorf("expression cannot be resolved without a lookup")
	}

	roots := make(map[string]bool)
	for _, trav := range c.expr.Variables() {
		roots[trav.RootName()] = true
	}
	names := make([]string, 0, len(roots))
	for name := range roots {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make(map[string]cty.Value, len(names))
	for _, name := range names {
		if name == "count" {
			if rc.Index < 0 {
				return cty.NilVal, fmt.Errorf("count.index used outside a counted resource")
			}
			vars[name] = cty.ObjectVal(map[string]cty.Value{
				"index": cty.NumberIntVal(int64(rc.Index)),
			})
			continue
		}
		v, err := rc.Lookup(ir.Ref{Name: name, Index: -1})
		if err != nil {
			return cty.NilVal, err
		}
		vars[name] = v
	}

	ctx := staticEvalContext()
	ctx.Variables = vars
	v, diags := c.expr.Value(ctx)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	return v, nil
}

// staticEvalContext carries the function table available to specification
// expressions.
func staticEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"coalesce":   stdlib.CoalesceFunc,
			"concat":     stdlib.ConcatFunc,
			"format":     stdlib.FormatFunc,
			"join":       stdlib.JoinFunc,
			"jsondecode": stdlib.JSONDecodeFunc,
			"jsonencode": stdlib.JSONEncodeFunc,
			"length":     stdlib.LengthFunc,
			"lower":      stdlib.LowerFunc,
			"max":        stdlib.MaxFunc,
			"min":        stdlib.MinFunc,
			"split":      stdlib.SplitFunc,
			"upper":      stdlib.UpperFunc,
		},
	}
}
