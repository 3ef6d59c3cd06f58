package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type loadBalancerConfig struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Scheme         string   `json:"scheme"`
	Subnets        []string `json:"subnets"`
	SecurityGroups []string `json:"security_groups"`
}

type loadBalancerObserved struct {
	ARN     string `json:"arn"`
	DNSName string `json:"dns_name"`
}

func loadBalancerSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"name":            cty.String,
			"type":            cty.String,
			"scheme":          cty.String,
			"subnets":         cty.List(cty.String),
			"security_groups": cty.List(cty.String),
		},
		Immutable: []string{"name", "type", "scheme"},
	}
}

func (p *Provider) createLoadBalancer(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired loadBalancerConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &elasticloadbalancingv2.CreateLoadBalancerInput{
		Name:    &desired.Name,
		Subnets: desired.Subnets,
	}
	if desired.Type != "" {
		input.Type = elbv2types.LoadBalancerTypeEnum(desired.Type)
	}
	if desired.Scheme != "" {
		input.Scheme = elbv2types.LoadBalancerSchemeEnum(desired.Scheme)
	}
	if len(desired.SecurityGroups) > 0 {
		input.SecurityGroups = desired.SecurityGroups
	}

	resp, err := p.elbv2Client.CreateLoadBalancer(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create load balancer: %w", err)
	}
	if len(resp.LoadBalancers) == 0 {
		return "", nil, fmt.Errorf("create load balancer returned no load balancers")
	}
	lb := resp.LoadBalancers[0]
	arn := awssdk.ToString(lb.LoadBalancerArn)

	observed, err := json.Marshal(loadBalancerObserved{ARN: arn, DNSName: awssdk.ToString(lb.DNSName)})
	if err != nil {
		return arn, nil, err
	}
	return arn, observed, nil
}

func (p *Provider) readLoadBalancer(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.elbv2Client.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
		LoadBalancerArns: []string{id},
	})
	if err != nil {
		if isErrorCode(err, "LoadBalancerNotFound") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe load balancer: %w", err)
	}
	if len(resp.LoadBalancers) == 0 {
		return nil, adapter.ErrNotFound
	}
	lb := resp.LoadBalancers[0]
	return json.Marshal(loadBalancerObserved{
		ARN:     awssdk.ToString(lb.LoadBalancerArn),
		DNSName: awssdk.ToString(lb.DNSName),
	})
}

func (p *Provider) destroyLoadBalancer(ctx context.Context, id string) error {
	_, err := p.elbv2Client.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
		LoadBalancerArn: &id,
	})
	if err != nil && !isErrorCode(err, "LoadBalancerNotFound") {
		return fmt.Errorf("failed to delete load balancer: %w", err)
	}
	return nil
}

type targetGroupConfig struct {
	Name       string `json:"name"`
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"`
	VpcID      string `json:"vpc_id"`
	TargetType string `json:"target_type"`
}

type targetGroupObserved struct {
	ARN string `json:"arn"`
}

func targetGroupSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"name":        cty.String,
			"port":        cty.Number,
			"protocol":    cty.String,
			"vpc_id":      cty.String,
			"target_type": cty.String,
		},
		Immutable: []string{"name", "port", "protocol", "vpc_id", "target_type"},
	}
}

func (p *Provider) createTargetGroup(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired targetGroupConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &elasticloadbalancingv2.CreateTargetGroupInput{
		Name: &desired.Name,
		Port: awssdk.Int32(int32(desired.Port)),
	}
	if desired.Protocol != "" {
		input.Protocol = elbv2types.ProtocolEnum(desired.Protocol)
	}
	if desired.VpcID != "" {
		input.VpcId = &desired.VpcID
	}
	if desired.TargetType != "" {
		input.TargetType = elbv2types.TargetTypeEnum(desired.TargetType)
	}

	resp, err := p.elbv2Client.CreateTargetGroup(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create target group: %w", err)
	}
	if len(resp.TargetGroups) == 0 {
		return "", nil, fmt.Errorf("create target group returned no target groups")
	}
	arn := awssdk.ToString(resp.TargetGroups[0].TargetGroupArn)

	observed, err := json.Marshal(targetGroupObserved{ARN: arn})
	if err != nil {
		return arn, nil, err
	}
	return arn, observed, nil
}

func (p *Provider) readTargetGroup(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.elbv2Client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
		TargetGroupArns: []string{id},
	})
	if err != nil {
		if isErrorCode(err, "TargetGroupNotFound") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe target group: %w", err)
	}
	if len(resp.TargetGroups) == 0 {
		return nil, adapter.ErrNotFound
	}
	return json.Marshal(targetGroupObserved{ARN: awssdk.ToString(resp.TargetGroups[0].TargetGroupArn)})
}

func (p *Provider) destroyTargetGroup(ctx context.Context, id string) error {
	_, err := p.elbv2Client.DeleteTargetGroup(ctx, &elasticloadbalancingv2.DeleteTargetGroupInput{
		TargetGroupArn: &id,
	})
	if err != nil && !isErrorCode(err, "TargetGroupNotFound") {
		return fmt.Errorf("failed to delete target group: %w", err)
	}
	return nil
}
