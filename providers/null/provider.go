// Package null implements the no-op provider. Its single resource type,
// null_resource, provisions nothing: it exists to anchor ordering edges and
// to force downstream replacement through its triggers attribute.
package null

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
)

type Provider struct {
	serial atomic.Int64
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Schema(typ string) *ir.Schema {
	if typ != "null_resource" {
		return nil
	}
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"triggers": cty.Map(cty.String),
		},
		// A trigger change always forces destroy-and-recreate; there is
		// nothing to update in place.
		Immutable: []string{"triggers"},
	}
}

func (p *Provider) Create(ctx context.Context, typ string, attrs []byte) (string, []byte, error) {
	if typ != "null_resource" {
		return "", nil, fmt.Errorf("unknown resource type: %s", typ)
	}
	var config resourceConfig
	if err := json.Unmarshal(attrs, &config); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	id := fmt.Sprintf("null-%d", p.serial.Add(1))
	observed, err := json.Marshal(resourceState{Triggers: config.Triggers})
	if err != nil {
		return "", nil, err
	}
	return id, observed, nil
}

func (p *Provider) Read(ctx context.Context, typ, id string, prior []byte) ([]byte, error) {
	// Nothing exists provider-side; the recorded state is the truth.
	return prior, nil
}

func (p *Provider) Update(ctx context.Context, typ, id string, attrs, prior []byte) ([]byte, error) {
	var config resourceConfig
	if err := json.Unmarshal(attrs, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return json.Marshal(resourceState{Triggers: config.Triggers})
}

func (p *Provider) Destroy(ctx context.Context, typ, id string, prior []byte) error {
	return nil
}

type resourceConfig struct {
	Triggers map[string]string `json:"triggers"`
}

type resourceState struct {
	Triggers map[string]string `json:"triggers"`
}
