package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type vpcConfig struct {
	CidrBlock string            `json:"cidr_block"`
	Tags      map[string]string `json:"tags"`
}

type vpcObserved struct {
	ID        string `json:"id"`
	CidrBlock string `json:"cidr_block"`
}

func vpcSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"cidr_block": cty.String,
			"tags":       cty.Map(cty.String),
		},
		Immutable: []string{"cidr_block"},
	}
}

func (p *Provider) createVpc(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired vpcConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: &desired.CidrBlock,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create VPC: %w", err)
	}
	id := *resp.Vpc.VpcId
	p.tagResource(ctx, id, desired.Tags)

	observed, err := json.Marshal(vpcObserved{ID: id, CidrBlock: desired.CidrBlock})
	if err != nil {
		return "", nil, err
	}
	return id, observed, nil
}

func (p *Provider) readVpc(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id}})
	if err != nil {
		if isErrorCode(err, "InvalidVpcID.NotFound") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe VPC: %w", err)
	}
	if len(resp.Vpcs) == 0 {
		return nil, adapter.ErrNotFound
	}
	return json.Marshal(vpcObserved{ID: id, CidrBlock: awssdk.ToString(resp.Vpcs[0].CidrBlock)})
}

func (p *Provider) destroyVpc(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &id})
	if err != nil && !isErrorCode(err, "InvalidVpcID.NotFound") {
		return fmt.Errorf("failed to delete VPC: %w", err)
	}
	return nil
}

type subnetConfig struct {
	VpcID            string            `json:"vpc_id"`
	CidrBlock        string            `json:"cidr_block"`
	AvailabilityZone string            `json:"availability_zone"`
	MapPublicIP      bool              `json:"map_public_ip"`
	Tags             map[string]string `json:"tags"`
}

type subnetObserved struct {
	ID    string `json:"id"`
	VpcID string `json:"vpc_id"`
}

func subnetSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"vpc_id":            cty.String,
			"cidr_block":        cty.String,
			"availability_zone": cty.String,
			"map_public_ip":     cty.Bool,
			"tags":              cty.Map(cty.String),
		},
		Immutable: []string{"vpc_id", "cidr_block", "availability_zone"},
	}
}

func (p *Provider) createSubnet(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired subnetConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     &desired.VpcID,
		CidrBlock: &desired.CidrBlock,
	}
	if desired.AvailabilityZone != "" {
		input.AvailabilityZone = &desired.AvailabilityZone
	}
	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create subnet: %w", err)
	}
	id := *resp.Subnet.SubnetId
	p.tagResource(ctx, id, desired.Tags)

	if desired.MapPublicIP {
		_, _ = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            &id,
			MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: awssdk.Bool(true)},
		})
	}

	observed, err := json.Marshal(subnetObserved{ID: id, VpcID: desired.VpcID})
	if err != nil {
		return "", nil, err
	}
	return id, observed, nil
}

func (p *Provider) readSubnet(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{id}})
	if err != nil {
		if isErrorCode(err, "InvalidSubnetID.NotFound") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe subnet: %w", err)
	}
	if len(resp.Subnets) == 0 {
		return nil, adapter.ErrNotFound
	}
	return json.Marshal(subnetObserved{ID: id, VpcID: awssdk.ToString(resp.Subnets[0].VpcId)})
}

func (p *Provider) destroySubnet(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &id})
	if err != nil && !isErrorCode(err, "InvalidSubnetID.NotFound") {
		return fmt.Errorf("failed to delete subnet: %w", err)
	}
	return nil
}

type securityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpc_id"`
	Ingress     []securityGroupRule `json:"ingress"`
	Tags        map[string]string   `json:"tags"`
}

type securityGroupRule struct {
	FromPort   int      `json:"from_port"`
	ToPort     int      `json:"to_port"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidr_blocks"`
}

type securityGroupObserved struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func securityGroupSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"name":        cty.String,
			"description": cty.String,
			"vpc_id":      cty.String,
			"tags":        cty.Map(cty.String),
		},
		Immutable: []string{"name", "vpc_id", "description"},
	}
}

func (p *Provider) createSecurityGroup(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired securityGroupConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:   &desired.Name,
		Description: &desired.Description,
	}
	if desired.VpcID != "" {
		input.VpcId = &desired.VpcID
	}
	resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create security group: %w", err)
	}
	id := *resp.GroupId
	p.tagResource(ctx, id, desired.Tags)

	if len(desired.Ingress) > 0 {
		if err := p.authorizeIngress(ctx, id, desired.Ingress); err != nil {
			return id, nil, err
		}
	}

	observed, err := json.Marshal(securityGroupObserved{ID: id, Name: desired.Name})
	if err != nil {
		return id, nil, err
	}
	return id, observed, nil
}

func (p *Provider) authorizeIngress(ctx context.Context, id string, rules []securityGroupRule) error {
	var perms []ec2types.IpPermission
	for _, rule := range rules {
		perm := ec2types.IpPermission{
			FromPort:   awssdk.Int32(int32(rule.FromPort)),
			ToPort:     awssdk.Int32(int32(rule.ToPort)),
			IpProtocol: awssdk.String(rule.Protocol),
		}
		for _, cidr := range rule.CidrBlocks {
			perm.IpRanges = append(perm.IpRanges, ec2types.IpRange{CidrIp: awssdk.String(cidr)})
		}
		perms = append(perms, perm)
	}
	_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       &id,
		IpPermissions: perms,
	})
	if err != nil && !isErrorCode(err, "InvalidPermission.Duplicate") {
		return fmt.Errorf("failed to authorize ingress: %w", err)
	}
	return nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{id}})
	if err != nil {
		if isErrorCode(err, "InvalidGroup.NotFound", "InvalidGroupId.Malformed") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe security group: %w", err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil, adapter.ErrNotFound
	}
	return json.Marshal(securityGroupObserved{ID: id, Name: awssdk.ToString(resp.SecurityGroups[0].GroupName)})
}

func (p *Provider) updateSecurityGroup(ctx context.Context, id string, attrs, prior []byte) ([]byte, error) {
	var desired securityGroupConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	p.tagResource(ctx, id, desired.Tags)
	if len(desired.Ingress) > 0 {
		if err := p.authorizeIngress(ctx, id, desired.Ingress); err != nil {
			return nil, err
		}
	}
	return p.readSecurityGroup(ctx, id)
}

func (p *Provider) destroySecurityGroup(ctx context.Context, id string) error {
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &id})
	if err != nil && !isErrorCode(err, "InvalidGroup.NotFound") {
		return fmt.Errorf("failed to delete security group: %w", err)
	}
	return nil
}

type instanceConfig struct {
	AMI            string            `json:"ami"`
	InstanceType   string            `json:"instance_type"`
	SubnetID       string            `json:"subnet_id"`
	SecurityGroups []string          `json:"security_groups"`
	Tags           map[string]string `json:"tags"`
}

type instanceObserved struct {
	ID        string `json:"id"`
	PublicIP  string `json:"public_ip"`
	PrivateIP string `json:"private_ip"`
}

func instanceSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"ami":             cty.String,
			"instance_type":   cty.String,
			"subnet_id":       cty.String,
			"security_groups": cty.List(cty.String),
			"tags":            cty.Map(cty.String),
		},
		Immutable: []string{"ami", "subnet_id"},
	}
}

func (p *Provider) createInstance(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired instanceConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &ec2.RunInstancesInput{
		ImageId:      &desired.AMI,
		InstanceType: ec2types.InstanceType(desired.InstanceType),
		MinCount:     awssdk.Int32(1),
		MaxCount:     awssdk.Int32(1),
	}
	if desired.SubnetID != "" {
		input.SubnetId = &desired.SubnetID
	}
	if len(desired.SecurityGroups) > 0 {
		input.SecurityGroupIds = desired.SecurityGroups
	}

	resp, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return "", nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(resp.Instances) == 0 {
		return "", nil, fmt.Errorf("run instance returned no instances")
	}
	inst := resp.Instances[0]
	id := *inst.InstanceId
	p.tagResource(ctx, id, desired.Tags)

	observed, err := json.Marshal(instanceObserved{
		ID:        id,
		PublicIP:  awssdk.ToString(inst.PublicIpAddress),
		PrivateIP: awssdk.ToString(inst.PrivateIpAddress),
	})
	if err != nil {
		return id, nil, err
	}
	return id, observed, nil
}

func (p *Provider) readInstance(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		if isErrorCode(err, "InvalidInstanceID.NotFound") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe instance: %w", err)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return nil, adapter.ErrNotFound
	}
	inst := resp.Reservations[0].Instances[0]
	if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
		return nil, adapter.ErrNotFound
	}
	return json.Marshal(instanceObserved{
		ID:        id,
		PublicIP:  awssdk.ToString(inst.PublicIpAddress),
		PrivateIP: awssdk.ToString(inst.PrivateIpAddress),
	})
}

// updateInstance covers the mutable surface: tags. AMI, subnet and type
// changes are replacements.
func (p *Provider) updateInstance(ctx context.Context, id string, attrs []byte) ([]byte, error) {
	var desired instanceConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	p.tagResource(ctx, id, desired.Tags)
	return p.readInstance(ctx, id)
}

func (p *Provider) destroyInstance(ctx context.Context, id string) error {
	_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	if err != nil && !isErrorCode(err, "InvalidInstanceID.NotFound") {
		return fmt.Errorf("failed to terminate instance: %w", err)
	}
	return nil
}

// updateTagged re-applies tags and reads back; used by types whose only
// mutable attribute is the tag set.
func (p *Provider) updateTagged(ctx context.Context, typ, id string, attrs []byte) ([]byte, error) {
	var tagged struct {
		Tags map[string]string `json:"tags"`
	}
	if err := json.Unmarshal(attrs, &tagged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	p.tagResource(ctx, id, tagged.Tags)
	switch typ {
	case "aws_vpc":
		return p.readVpc(ctx, id)
	case "aws_subnet":
		return p.readSubnet(ctx, id)
	}
	return nil, fmt.Errorf("unknown resource type: %s", typ)
}

func (p *Provider) tagResource(ctx context.Context, id string, tags map[string]string) {
	if len(tags) == 0 {
		return
	}
	var ec2Tags []ec2types.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
	}
	_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags,
	})
}
