package graph

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/stackform-io/stackform/internal/ir"
)

// expand materializes declarations into addressed instances. A declaration
// with count = 0 or condition = false produces no instances but its name
// stays declared, so references to it resolve to null instead of failing.
func expand(decls []*ir.Declaration) ([]*ir.Instance, map[string]bool, error) {
	declared := make(map[string]bool, len(decls))
	var instances []*ir.Instance

	for _, decl := range decls {
		if decl.Name == "" || decl.Type == "" {
			return nil, nil, fmt.Errorf("declaration missing type or name")
		}
		if declared[decl.Name] {
			return nil, nil, fmt.Errorf("duplicate resource name %q", decl.Name)
		}
		declared[decl.Name] = true

		enabled, err := evalCondition(decl)
		if err != nil {
			return nil, nil, err
		}
		if !enabled {
			continue
		}

		count, counted, err := evalCount(decl)
		if err != nil {
			return nil, nil, err
		}

		if !counted {
			instances = append(instances, newInstance(decl, -1))
			continue
		}
		for i := 0; i < count; i++ {
			instances = append(instances, newInstance(decl, i))
		}
	}

	return instances, declared, nil
}

func newInstance(decl *ir.Declaration, index int) *ir.Instance {
	return &ir.Instance{
		Address:    ir.InstanceAddress(decl.Type, decl.Name, index),
		Type:       decl.Type,
		Name:       decl.Name,
		Provider:   decl.Provider,
		Index:      index,
		Attributes: decl.Attributes,
		DependsOn:  append([]string(nil), decl.DependsOn...),
		Lifecycle:  decl.Lifecycle,
	}
}

func evalCondition(decl *ir.Declaration) (bool, error) {
	if decl.Condition == nil {
		return true, nil
	}
	v, err := resolveConstant(decl, decl.Condition, "condition")
	if err != nil {
		return false, err
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil || b.IsNull() {
		return false, fmt.Errorf("condition for %q is not a boolean", decl.Name)
	}
	return b.True(), nil
}

func evalCount(decl *ir.Declaration) (int, bool, error) {
	if decl.Count == nil {
		return 0, false, nil
	}
	v, err := resolveConstant(decl, decl.Count, "count")
	if err != nil {
		return 0, false, err
	}
	n, err := convert.Convert(v, cty.Number)
	if err != nil || n.IsNull() {
		return 0, false, fmt.Errorf("count for %q is not a number", decl.Name)
	}
	count, _ := n.AsBigFloat().Int64()
	if count < 0 {
		return 0, false, fmt.Errorf("count for %q is negative", decl.Name)
	}
	return int(count), true, nil
}

// resolveConstant evaluates an expression that must not depend on other
// resources. Expansion happens before the graph exists, so a reference here
// has nothing to resolve against.
func resolveConstant(decl *ir.Declaration, expr ir.Expr, what string) (cty.Value, error) {
	rc := &ir.ResolveContext{
		Index: -1,
		Lookup: func(ref ir.Ref) (cty.Value, error) {
			return cty.NilVal, fmt.Errorf("%s for %q may not reference resource %q", what, decl.Name, ref.Name)
		},
	}
	return expr.Resolve(rc)
}
