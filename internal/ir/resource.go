package ir

import "github.com/zclconf/go-cty/cty"

// ReplacePolicy controls the ordering of the destroy/create pair produced
// when a resource must be replaced.
type ReplacePolicy string

const (
	DestroyBeforeCreate ReplacePolicy = "destroy_before_create"
	CreateBeforeDestroy ReplacePolicy = "create_before_destroy"
)

// Declaration is one desired-state resource before count/condition expansion.
type Declaration struct {
	Type     string
	Name     string
	Provider string

	// Count and Condition control how many instances the declaration
	// produces. Both must resolve without referencing other resources.
	Count     Expr
	Condition Expr

	DependsOn  []string
	Attributes map[string]Expr
	Lifecycle  *Lifecycle
}

// Lifecycle carries per-resource behavior overrides.
type Lifecycle struct {
	// ReplaceTriggers lists attributes whose change forces
	// destroy-and-recreate instead of an in-place update.
	ReplaceTriggers []string

	CreateBeforeDestroy bool
	PreventDestroy      bool
	IgnoreChanges       []string
}

// Instance is the materialized, addressed form of a Declaration after
// count/condition expansion. Instances are immutable once the graph is built.
type Instance struct {
	Address  string
	Type     string
	Name     string
	Provider string
	Index    int // -1 for uncounted resources

	Attributes map[string]Expr
	DependsOn  []string
	Lifecycle  *Lifecycle
}

// ReplaceTriggered reports whether a change to the named attribute forces
// replacement for this instance, given an optional adapter schema.
func (inst *Instance) ReplaceTriggered(attr string, schema *Schema) bool {
	if inst.Lifecycle != nil {
		for _, t := range inst.Lifecycle.ReplaceTriggers {
			if t == attr {
				return true
			}
		}
	}
	if schema != nil {
		for _, t := range schema.Immutable {
			if t == attr {
				return true
			}
		}
	}
	return false
}

// Ignored reports whether the named attribute is excluded from update
// detection by the lifecycle's ignore_changes list.
func (inst *Instance) Ignored(attr string) bool {
	if inst.Lifecycle == nil {
		return false
	}
	for _, a := range inst.Lifecycle.IgnoreChanges {
		if a == attr {
			return true
		}
	}
	return false
}

// Schema describes what an adapter knows about a resource type. Attribute
// types are used to reject mistyped reference values at plan time; Immutable
// lists attributes whose change always forces replacement.
type Schema struct {
	Attributes map[string]cty.Type
	Immutable  []string

	// ReplacePolicy, when non-empty, overrides the engine-wide default for
	// this resource type.
	ReplacePolicy ReplacePolicy
}
