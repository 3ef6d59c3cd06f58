package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type secretConfig struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SecretString string `json:"secret_string"`
}

type secretObserved struct {
	ARN  string `json:"arn"`
	Name string `json:"name"`
}

func secretSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"name":          cty.String,
			"description":   cty.String,
			"secret_string": cty.String,
		},
		Immutable: []string{"name"},
	}
}

func (p *Provider) createSecret(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired secretConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &secretsmanager.CreateSecretInput{Name: &desired.Name}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	if desired.SecretString != "" {
		input.SecretString = &desired.SecretString
	}
	resp, err := p.secretsmanagerClient.CreateSecret(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create secret: %w", err)
	}
	arn := awssdk.ToString(resp.ARN)

	observed, err := json.Marshal(secretObserved{ARN: arn, Name: desired.Name})
	if err != nil {
		return arn, nil, err
	}
	return arn, observed, nil
}

func (p *Provider) readSecret(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.secretsmanagerClient.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: &id,
	})
	if err != nil {
		if isErrorCode(err, "ResourceNotFoundException") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe secret: %w", err)
	}
	if resp.DeletedDate != nil {
		return nil, adapter.ErrNotFound
	}
	return json.Marshal(secretObserved{ARN: awssdk.ToString(resp.ARN), Name: awssdk.ToString(resp.Name)})
}

func (p *Provider) updateSecret(ctx context.Context, id string, attrs []byte) ([]byte, error) {
	var desired secretConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &secretsmanager.UpdateSecretInput{SecretId: &id}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	if desired.SecretString != "" {
		input.SecretString = &desired.SecretString
	}
	if _, err := p.secretsmanagerClient.UpdateSecret(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to update secret: %w", err)
	}
	return p.readSecret(ctx, id)
}

func (p *Provider) destroySecret(ctx context.Context, id string) error {
	_, err := p.secretsmanagerClient.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   &id,
		ForceDeleteWithoutRecovery: awssdk.Bool(true),
	})
	if err != nil && !isErrorCode(err, "ResourceNotFoundException") {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}
