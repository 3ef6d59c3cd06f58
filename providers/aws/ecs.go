package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type ecsClusterConfig struct {
	Name string `json:"name"`
}

type ecsClusterObserved struct {
	ARN  string `json:"arn"`
	Name string `json:"name"`
}

func ecsClusterSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"name": cty.String,
		},
		Immutable: []string{"name"},
	}
}

func (p *Provider) createEcsCluster(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired ecsClusterConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	resp, err := p.ecsClient.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: &desired.Name,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create ECS cluster: %w", err)
	}
	arn := awssdk.ToString(resp.Cluster.ClusterArn)

	observed, err := json.Marshal(ecsClusterObserved{ARN: arn, Name: desired.Name})
	if err != nil {
		return arn, nil, err
	}
	return arn, observed, nil
}

func (p *Provider) readEcsCluster(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.ecsClient.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("failed to describe ECS cluster: %w", err)
	}
	if len(resp.Clusters) == 0 || awssdk.ToString(resp.Clusters[0].Status) == "INACTIVE" {
		return nil, adapter.ErrNotFound
	}
	return json.Marshal(ecsClusterObserved{
		ARN:  awssdk.ToString(resp.Clusters[0].ClusterArn),
		Name: awssdk.ToString(resp.Clusters[0].ClusterName),
	})
}

func (p *Provider) destroyEcsCluster(ctx context.Context, id string) error {
	_, err := p.ecsClient.DeleteCluster(ctx, &ecs.DeleteClusterInput{Cluster: &id})
	if err != nil && !isErrorCode(err, "ClusterNotFoundException") {
		return fmt.Errorf("failed to delete ECS cluster: %w", err)
	}
	return nil
}

type ecsServiceConfig struct {
	Name           string `json:"name"`
	Cluster        string `json:"cluster"`
	TaskDefinition string `json:"task_definition"`
	DesiredCount   int    `json:"desired_count"`
	LaunchType     string `json:"launch_type"`
}

type ecsServiceObserved struct {
	ARN          string `json:"arn"`
	Cluster      string `json:"cluster"`
	DesiredCount int    `json:"desired_count"`
}

func ecsServiceSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"name":            cty.String,
			"cluster":         cty.String,
			"task_definition": cty.String,
			"desired_count":   cty.Number,
			"launch_type":     cty.String,
		},
		Immutable: []string{"name", "cluster", "launch_type"},
	}
}

func (p *Provider) createEcsService(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired ecsServiceConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &ecs.CreateServiceInput{
		ServiceName:    &desired.Name,
		Cluster:        &desired.Cluster,
		TaskDefinition: &desired.TaskDefinition,
		DesiredCount:   awssdk.Int32(int32(desired.DesiredCount)),
	}
	if desired.LaunchType != "" {
		input.LaunchType = ecstypes.LaunchType(desired.LaunchType)
	}
	resp, err := p.ecsClient.CreateService(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create ECS service: %w", err)
	}
	arn := awssdk.ToString(resp.Service.ServiceArn)

	observed, err := json.Marshal(ecsServiceObserved{
		ARN:          arn,
		Cluster:      desired.Cluster,
		DesiredCount: desired.DesiredCount,
	})
	if err != nil {
		return arn, nil, err
	}
	return arn, observed, nil
}

func (p *Provider) readEcsService(ctx context.Context, id string, prior []byte) ([]byte, error) {
	cluster := priorEcsCluster(prior)
	input := &ecs.DescribeServicesInput{Services: []string{id}}
	if cluster != "" {
		input.Cluster = &cluster
	}
	resp, err := p.ecsClient.DescribeServices(ctx, input)
	if err != nil {
		if isErrorCode(err, "ServiceNotFoundException", "ClusterNotFoundException") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe ECS service: %w", err)
	}
	if len(resp.Services) == 0 || awssdk.ToString(resp.Services[0].Status) == "INACTIVE" {
		return nil, adapter.ErrNotFound
	}
	svc := resp.Services[0]
	return json.Marshal(ecsServiceObserved{
		ARN:          awssdk.ToString(svc.ServiceArn),
		Cluster:      cluster,
		DesiredCount: int(svc.DesiredCount),
	})
}

func (p *Provider) updateEcsService(ctx context.Context, id string, attrs, prior []byte) ([]byte, error) {
	var desired ecsServiceConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &ecs.UpdateServiceInput{
		Service:      &id,
		DesiredCount: awssdk.Int32(int32(desired.DesiredCount)),
	}
	if desired.Cluster != "" {
		input.Cluster = &desired.Cluster
	}
	if desired.TaskDefinition != "" {
		input.TaskDefinition = &desired.TaskDefinition
	}
	if _, err := p.ecsClient.UpdateService(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to update ECS service: %w", err)
	}
	return p.readEcsService(ctx, id, prior)
}

func (p *Provider) destroyEcsService(ctx context.Context, id string, prior []byte) error {
	cluster := priorEcsCluster(prior)
	input := &ecs.DeleteServiceInput{Service: &id, Force: awssdk.Bool(true)}
	if cluster != "" {
		input.Cluster = &cluster
	}
	_, err := p.ecsClient.DeleteService(ctx, input)
	if err != nil && !isErrorCode(err, "ServiceNotFoundException", "ClusterNotFoundException") {
		return fmt.Errorf("failed to delete ECS service: %w", err)
	}
	return nil
}

func priorEcsCluster(prior []byte) string {
	if len(prior) == 0 {
		return ""
	}
	var cfg ecsServiceConfig
	if err := json.Unmarshal(prior, &cfg); err != nil {
		return ""
	}
	return cfg.Cluster
}
