// Package aws implements the AWS provider for the middleware platform
// resource set: networking, compute, ECS, data stores, load balancing, DNS,
// IAM, secrets and alarms.
package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/stackform-io/stackform/internal/ir"
)

type Provider struct {
	mu sync.Mutex

	ec2Client            *ec2.Client
	ecsClient            *ecs.Client
	rdsClient            *rds.Client
	elasticacheClient    *elasticache.Client
	elbv2Client          *elasticloadbalancingv2.Client
	s3Client             *s3.Client
	iamClient            *iam.Client
	route53Client        *route53.Client
	secretsmanagerClient *secretsmanager.Client
	cloudwatchClient     *cloudwatch.Client
}

func New() *Provider {
	return &Provider{}
}

// ensureClients lazily builds every service client from the default config
// chain (env, shared config, instance metadata). Region and credentials come
// from that chain.
func (p *Provider) ensureClients(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ec2Client != nil {
		return nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.ecsClient = ecs.NewFromConfig(cfg)
	p.rdsClient = rds.NewFromConfig(cfg)
	p.elasticacheClient = elasticache.NewFromConfig(cfg)
	p.elbv2Client = elasticloadbalancingv2.NewFromConfig(cfg)
	p.s3Client = s3.NewFromConfig(cfg)
	p.iamClient = iam.NewFromConfig(cfg)
	p.route53Client = route53.NewFromConfig(cfg)
	p.secretsmanagerClient = secretsmanager.NewFromConfig(cfg)
	p.cloudwatchClient = cloudwatch.NewFromConfig(cfg)

	return nil
}

func (p *Provider) Schema(typ string) *ir.Schema {
	switch typ {
	case "aws_vpc":
		return vpcSchema()
	case "aws_subnet":
		return subnetSchema()
	case "aws_security_group":
		return securityGroupSchema()
	case "aws_instance":
		return instanceSchema()
	case "aws_ecs_cluster":
		return ecsClusterSchema()
	case "aws_ecs_service":
		return ecsServiceSchema()
	case "aws_db_instance":
		return dbInstanceSchema()
	case "aws_elasticache_cluster":
		return cacheClusterSchema()
	case "aws_lb":
		return loadBalancerSchema()
	case "aws_lb_target_group":
		return targetGroupSchema()
	case "aws_s3_bucket":
		return bucketSchema()
	case "aws_iam_role":
		return roleSchema()
	case "aws_route53_zone":
		return hostedZoneSchema()
	case "aws_route53_record":
		return recordSchema()
	case "aws_secretsmanager_secret":
		return secretSchema()
	case "aws_cloudwatch_metric_alarm":
		return alarmSchema()
	}
	return nil
}

func (p *Provider) Create(ctx context.Context, typ string, attrs []byte) (string, []byte, error) {
	if err := p.ensureClients(ctx); err != nil {
		return "", nil, err
	}
	switch typ {
	case "aws_vpc":
		return p.createVpc(ctx, attrs)
	case "aws_subnet":
		return p.createSubnet(ctx, attrs)
	case "aws_security_group":
		return p.createSecurityGroup(ctx, attrs)
	case "aws_instance":
		return p.createInstance(ctx, attrs)
	case "aws_ecs_cluster":
		return p.createEcsCluster(ctx, attrs)
	case "aws_ecs_service":
		return p.createEcsService(ctx, attrs)
	case "aws_db_instance":
		return p.createDBInstance(ctx, attrs)
	case "aws_elasticache_cluster":
		return p.createCacheCluster(ctx, attrs)
	case "aws_lb":
		return p.createLoadBalancer(ctx, attrs)
	case "aws_lb_target_group":
		return p.createTargetGroup(ctx, attrs)
	case "aws_s3_bucket":
		return p.createBucket(ctx, attrs)
	case "aws_iam_role":
		return p.createRole(ctx, attrs)
	case "aws_route53_zone":
		return p.createHostedZone(ctx, attrs)
	case "aws_route53_record":
		return p.createRecord(ctx, attrs)
	case "aws_secretsmanager_secret":
		return p.createSecret(ctx, attrs)
	case "aws_cloudwatch_metric_alarm":
		return p.createAlarm(ctx, attrs)
	}
	return "", nil, fmt.Errorf("unknown resource type: %s", typ)
}

func (p *Provider) Read(ctx context.Context, typ, id string, prior []byte) ([]byte, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}
	switch typ {
	case "aws_vpc":
		return p.readVpc(ctx, id)
	case "aws_subnet":
		return p.readSubnet(ctx, id)
	case "aws_security_group":
		return p.readSecurityGroup(ctx, id)
	case "aws_instance":
		return p.readInstance(ctx, id)
	case "aws_ecs_cluster":
		return p.readEcsCluster(ctx, id)
	case "aws_ecs_service":
		return p.readEcsService(ctx, id, prior)
	case "aws_db_instance":
		return p.readDBInstance(ctx, id)
	case "aws_elasticache_cluster":
		return p.readCacheCluster(ctx, id)
	case "aws_lb":
		return p.readLoadBalancer(ctx, id)
	case "aws_lb_target_group":
		return p.readTargetGroup(ctx, id)
	case "aws_s3_bucket":
		return p.readBucket(ctx, id)
	case "aws_iam_role":
		return p.readRole(ctx, id)
	case "aws_route53_zone":
		return p.readHostedZone(ctx, id)
	case "aws_route53_record":
		return p.readRecord(ctx, id, prior)
	case "aws_secretsmanager_secret":
		return p.readSecret(ctx, id)
	case "aws_cloudwatch_metric_alarm":
		return p.readAlarm(ctx, id)
	}
	return nil, fmt.Errorf("unknown resource type: %s", typ)
}

func (p *Provider) Update(ctx context.Context, typ, id string, attrs, prior []byte) ([]byte, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}
	switch typ {
	case "aws_vpc", "aws_subnet":
		return p.updateTagged(ctx, typ, id, attrs)
	case "aws_security_group":
		return p.updateSecurityGroup(ctx, id, attrs, prior)
	case "aws_instance":
		return p.updateInstance(ctx, id, attrs)
	case "aws_ecs_cluster":
		return p.readEcsCluster(ctx, id)
	case "aws_ecs_service":
		return p.updateEcsService(ctx, id, attrs, prior)
	case "aws_db_instance":
		return p.updateDBInstance(ctx, id, attrs)
	case "aws_elasticache_cluster":
		return p.updateCacheCluster(ctx, id, attrs)
	case "aws_lb":
		return p.readLoadBalancer(ctx, id)
	case "aws_lb_target_group":
		return p.readTargetGroup(ctx, id)
	case "aws_s3_bucket":
		return p.updateBucket(ctx, id, attrs)
	case "aws_iam_role":
		return p.updateRole(ctx, id, attrs)
	case "aws_route53_zone":
		return p.readHostedZone(ctx, id)
	case "aws_route53_record":
		return p.updateRecord(ctx, id, attrs)
	case "aws_secretsmanager_secret":
		return p.updateSecret(ctx, id, attrs)
	case "aws_cloudwatch_metric_alarm":
		return p.updateAlarm(ctx, id, attrs)
	}
	return nil, fmt.Errorf("unknown resource type: %s", typ)
}

func (p *Provider) Destroy(ctx context.Context, typ, id string, prior []byte) error {
	if err := p.ensureClients(ctx); err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	switch typ {
	case "aws_vpc":
		return p.destroyVpc(ctx, id)
	case "aws_subnet":
		return p.destroySubnet(ctx, id)
	case "aws_security_group":
		return p.destroySecurityGroup(ctx, id)
	case "aws_instance":
		return p.destroyInstance(ctx, id)
	case "aws_ecs_cluster":
		return p.destroyEcsCluster(ctx, id)
	case "aws_ecs_service":
		return p.destroyEcsService(ctx, id, prior)
	case "aws_db_instance":
		return p.destroyDBInstance(ctx, id)
	case "aws_elasticache_cluster":
		return p.destroyCacheCluster(ctx, id)
	case "aws_lb":
		return p.destroyLoadBalancer(ctx, id)
	case "aws_lb_target_group":
		return p.destroyTargetGroup(ctx, id)
	case "aws_s3_bucket":
		return p.destroyBucket(ctx, id)
	case "aws_iam_role":
		return p.destroyRole(ctx, id)
	case "aws_route53_zone":
		return p.destroyHostedZone(ctx, id)
	case "aws_route53_record":
		return p.destroyRecord(ctx, id, prior)
	case "aws_secretsmanager_secret":
		return p.destroySecret(ctx, id)
	case "aws_cloudwatch_metric_alarm":
		return p.destroyAlarm(ctx, id)
	}
	return fmt.Errorf("unknown resource type: %s", typ)
}

// isErrorCode matches smithy API error codes, e.g. InvalidVpcID.NotFound.
func isErrorCode(err error, codes ...string) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	for _, code := range codes {
		if ae.ErrorCode() == code {
			return true
		}
	}
	return false
}
