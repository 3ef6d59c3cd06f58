// Package adapter defines the boundary between the reconciliation core and
// provider implementations. The core never embeds provider-specific logic;
// it only calls this interface, so AWS, Docker, or a test fake can be
// substituted freely.
package adapter

import (
	"context"
	"errors"

	"github.com/stackform-io/stackform/internal/ir"
)

// ErrNotFound is returned by Read when the provider-side resource no longer
// exists.
var ErrNotFound = errors.New("resource not found")

// Adapter translates generic change actions into concrete API calls for the
// resource types it owns. Attribute payloads cross the boundary as JSON
// objects of fully resolved values.
type Adapter interface {
	// Schema describes a resource type: attribute types for plan-time
	// validation and the attributes whose change forces replacement.
	// Returns nil for types the adapter does not validate.
	Schema(typ string) *ir.Schema

	// Create provisions a new resource and returns its opaque provider
	// identifier plus the observed attributes.
	Create(ctx context.Context, typ string, attrs []byte) (id string, observed []byte, err error)

	// Read fetches the current observed attributes, or ErrNotFound.
	Read(ctx context.Context, typ, id string, prior []byte) (observed []byte, err error)

	// Update modifies the resource in place and returns the observed
	// attributes after the change.
	Update(ctx context.Context, typ, id string, attrs, prior []byte) (observed []byte, err error)

	// Destroy removes the resource.
	Destroy(ctx context.Context, typ, id string, prior []byte) error
}
