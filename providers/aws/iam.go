package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type roleConfig struct {
	Name             string `json:"name"`
	AssumeRolePolicy string `json:"assume_role_policy"`
	Description      string `json:"description"`
}

type roleObserved struct {
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func roleSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"name":               cty.String,
			"assume_role_policy": cty.String,
			"description":        cty.String,
		},
		Immutable: []string{"name"},
	}
}

func (p *Provider) createRole(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired roleConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &iam.CreateRoleInput{
		RoleName:                 &desired.Name,
		AssumeRolePolicyDocument: &desired.AssumeRolePolicy,
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create role: %w", err)
	}

	observed, err := json.Marshal(roleObserved{Name: desired.Name, ARN: awssdk.ToString(resp.Role.Arn)})
	if err != nil {
		return desired.Name, nil, err
	}
	return desired.Name, observed, nil
}

func (p *Provider) readRole(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &id})
	if err != nil {
		if isErrorCode(err, "NoSuchEntity", "NoSuchEntityException") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return json.Marshal(roleObserved{Name: id, ARN: awssdk.ToString(resp.Role.Arn)})
}

func (p *Provider) updateRole(ctx context.Context, id string, attrs []byte) ([]byte, error) {
	var desired roleConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if desired.Description != "" {
		_, err := p.iamClient.UpdateRole(ctx, &iam.UpdateRoleInput{
			RoleName:    &id,
			Description: &desired.Description,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update role: %w", err)
		}
	}
	if desired.AssumeRolePolicy != "" {
		_, err := p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       &id,
			PolicyDocument: &desired.AssumeRolePolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update assume role policy: %w", err)
		}
	}
	return p.readRole(ctx, id)
}

func (p *Provider) destroyRole(ctx context.Context, id string) error {
	_, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &id})
	if err != nil && !isErrorCode(err, "NoSuchEntity", "NoSuchEntityException") {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}
