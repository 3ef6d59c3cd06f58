package diff

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// AttributeTypeError is returned when a resolved value has a type the target
// attribute does not accept. It is a data-model violation, not a provider
// failure, and aborts planning before any apply.
type AttributeTypeError struct {
	Address   string
	Attribute string
	Expected  cty.Type
	Actual    cty.Type
}

func (e *AttributeTypeError) Error() string {
	return fmt.Sprintf("%s: attribute %q expects %s, got %s",
		e.Address, e.Attribute, e.Expected.FriendlyName(), e.Actual.FriendlyName())
}
