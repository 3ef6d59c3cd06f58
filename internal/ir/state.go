package ir

import (
	"time"

	"github.com/zclconf/go-cty/cty"
)

// StateEntry is the last-observed provider-side representation of one
// resource instance. Entries are owned by the state store; everything else
// reads and writes them through its interface.
type StateEntry struct {
	Address  string
	Type     string
	Name     string
	Index    int
	Provider string

	// ProviderID is the opaque external identifier returned by the adapter.
	ProviderID string

	// Attributes holds the last applied/observed values.
	Attributes map[string]cty.Value

	// Dependencies records the instance addresses this entry depended on
	// when it was applied, used to order destroys of removed resources.
	Dependencies []string

	LastSuccess time.Time
}

// Clone returns a deep copy. cty values are immutable, so sharing them
// between copies is safe.
func (e *StateEntry) Clone() *StateEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Attributes != nil {
		c.Attributes = make(map[string]cty.Value, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	c.Dependencies = append([]string(nil), e.Dependencies...)
	return &c
}

// Attribute returns one attribute value; the "id" attribute falls back to
// the provider identifier. Missing attributes resolve to null.
func (e *StateEntry) Attribute(name string) cty.Value {
	if v, ok := e.Attributes[name]; ok {
		return v
	}
	if name == "id" && e.ProviderID != "" {
		return cty.StringVal(e.ProviderID)
	}
	return cty.NullVal(cty.DynamicPseudoType)
}

// Object returns the entry's attributes as a single cty object, with the
// provider identifier exposed as "id" when not shadowed.
func (e *StateEntry) Object() cty.Value {
	attrs := make(map[string]cty.Value, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	if _, ok := attrs["id"]; !ok && e.ProviderID != "" {
		attrs["id"] = cty.StringVal(e.ProviderID)
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(attrs)
}
