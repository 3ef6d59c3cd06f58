package graph

import (
	"fmt"
	"strings"
)

// CycleError is returned when the dependency edges do not form a DAG.
type CycleError struct {
	// Cycle holds the addresses along the cycle, in dependency order.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnresolvedReferenceError is returned when an expression names a resource
// absent from the declaration set.
type UnresolvedReferenceError struct {
	Address   string // the referencing instance
	Reference string // the name that could not be found
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s references undeclared resource %q", e.Address, e.Reference)
}
