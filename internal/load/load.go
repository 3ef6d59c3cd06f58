// Package load reads desired-state specifications written in HCL and turns
// them into resource declarations. Parsing is the only place HCL appears;
// everything downstream works on the declaration model.
package load

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/stackform-io/stackform/internal/ir"
)

// Dir loads every .hcl file in a directory, in file-name order.
func Dir(path string) ([]*ir.Declaration, error) {
	matches, err := filepath.Glob(filepath.Join(path, "*.hcl"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no .hcl specification files in %s", path)
	}
	sort.Strings(matches)

	var decls []*ir.Declaration
	for _, file := range matches {
		fileDecls, err := File(file)
		if err != nil {
			return nil, err
		}
		decls = append(decls, fileDecls...)
	}
	return decls, nil
}

// File loads one specification file.
func File(path string) ([]*ir.Declaration, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(path, src)
}

// Parse decodes HCL source into declarations. The filename is used in
// diagnostics only.
func Parse(filename string, src []byte) ([]*ir.Declaration, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected body type", filename)
	}

	if len(body.Attributes) > 0 {
		for _, attr := range body.Attributes {
			return nil, fmt.Errorf("%s: unexpected top-level attribute %q", filename, attr.Name)
		}
	}

	var decls []*ir.Declaration
	for _, block := range body.Blocks {
		if block.Type != "resource" {
			return nil, fmt.Errorf("%s: unsupported block type %q at %s", filename, block.Type, block.TypeRange.String())
		}
		if len(block.Labels) != 2 {
			return nil, fmt.Errorf("%s: resource block needs two labels (type and name) at %s", filename, block.TypeRange.String())
		}
		decl, err := decodeResource(block)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

func decodeResource(block *hclsyntax.Block) (*ir.Declaration, error) {
	decl := &ir.Declaration{
		Type:       block.Labels[0],
		Name:       block.Labels[1],
		Attributes: make(map[string]ir.Expr),
	}

	names := make([]string, 0, len(block.Body.Attributes))
	for name := range block.Body.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attr := block.Body.Attributes[name]
		switch name {
		case "provider":
			v, err := staticValue(attr.Expr, cty.String)
			if err != nil {
				return nil, fmt.Errorf("resource %s.%s: provider: %w", decl.Type, decl.Name, err)
			}
			decl.Provider = v.AsString()
		case "count":
			expr, err := convertExpr(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("resource %s.%s: count: %w", decl.Type, decl.Name, err)
			}
			decl.Count = expr
		case "condition":
			expr, err := convertExpr(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("resource %s.%s: condition: %w", decl.Type, decl.Name, err)
			}
			decl.Condition = expr
		case "depends_on":
			deps, err := decodeDependsOn(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("resource %s.%s: depends_on: %w", decl.Type, decl.Name, err)
			}
			decl.DependsOn = deps
		default:
			expr, err := convertExpr(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("resource %s.%s: %s: %w", decl.Type, decl.Name, name, err)
			}
			decl.Attributes[name] = expr
		}
	}

	for _, sub := range block.Body.Blocks {
		if sub.Type != "lifecycle" {
			return nil, fmt.Errorf("resource %s.%s: unsupported nested block %q", decl.Type, decl.Name, sub.Type)
		}
		lc, err := decodeLifecycle(sub)
		if err != nil {
			return nil, fmt.Errorf("resource %s.%s: lifecycle: %w", decl.Type, decl.Name, err)
		}
		decl.Lifecycle = lc
	}

	if decl.Provider == "" {
		decl.Provider = providerForType(decl.Type)
	}
	return decl, nil
}

func decodeLifecycle(block *hclsyntax.Block) (*ir.Lifecycle, error) {
	lc := &ir.Lifecycle{}
	for name, attr := range block.Body.Attributes {
		switch name {
		case "replace_triggers":
			list, err := staticStringList(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("replace_triggers: %w", err)
			}
			lc.ReplaceTriggers = list
		case "ignore_changes":
			list, err := staticStringList(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("ignore_changes: %w", err)
			}
			lc.IgnoreChanges = list
		case "create_before_destroy":
			v, err := staticValue(attr.Expr, cty.Bool)
			if err != nil {
				return nil, fmt.Errorf("create_before_destroy: %w", err)
			}
			lc.CreateBeforeDestroy = v.True()
		case "prevent_destroy":
			v, err := staticValue(attr.Expr, cty.Bool)
			if err != nil {
				return nil, fmt.Errorf("prevent_destroy: %w", err)
			}
			lc.PreventDestroy = v.True()
		default:
			return nil, fmt.Errorf("unsupported lifecycle attribute %q", name)
		}
	}
	if len(block.Body.Blocks) > 0 {
		return nil, fmt.Errorf("lifecycle blocks take no nested blocks")
	}
	return lc, nil
}

// decodeDependsOn accepts a list of bare resource names or name strings.
func decodeDependsOn(expr hclsyntax.Expression) ([]string, error) {
	tuple, ok := expr.(*hclsyntax.TupleConsExpr)
	if !ok {
		return nil, fmt.Errorf("must be a list of resource names")
	}
	deps := make([]string, 0, len(tuple.Exprs))
	for _, elem := range tuple.Exprs {
		if trav, ok := elem.(*hclsyntax.ScopeTraversalExpr); ok {
			deps = append(deps, trav.Traversal.RootName())
			continue
		}
		v, err := staticValue(elem, cty.String)
		if err != nil {
			return nil, fmt.Errorf("must be a list of resource names: %w", err)
		}
		deps = append(deps, v.AsString())
	}
	return deps, nil
}

// providerForType infers the provider from the resource type prefix when the
// declaration does not name one: aws_instance -> aws, docker_network ->
// docker.
func providerForType(typ string) string {
	if i := strings.Index(typ, "_"); i > 0 {
		return typ[:i]
	}
	return typ
}

func staticValue(expr hclsyntax.Expression, want cty.Type) (cty.Value, error) {
	if len(expr.Variables()) > 0 {
		return cty.NilVal, fmt.Errorf("must be a constant")
	}
	v, diags := expr.Value(staticEvalContext())
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	converted, err := convert.Convert(v, want)
	if err != nil || converted.IsNull() {
		return cty.NilVal, fmt.Errorf("must be a %s", want.FriendlyName())
	}
	return converted, nil
}

func staticStringList(expr hclsyntax.Expression) ([]string, error) {
	v, err := staticValue(expr, cty.List(cty.String))
	if err != nil {
		return nil, err
	}
	var out []string
	for it := v.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		out = append(out, elem.AsString())
	}
	return out, nil
}
