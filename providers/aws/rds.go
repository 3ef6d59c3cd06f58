package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type dbInstanceConfig struct {
	Identifier       string `json:"identifier"`
	Engine           string `json:"engine"`
	InstanceClass    string `json:"instance_class"`
	AllocatedStorage int    `json:"allocated_storage"`
	Username         string `json:"username"`
	Password         string `json:"password"`
}

type dbInstanceObserved struct {
	ID       string `json:"id"`
	ARN      string `json:"arn"`
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
}

func dbInstanceSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"identifier":        cty.String,
			"engine":            cty.String,
			"instance_class":    cty.String,
			"allocated_storage": cty.Number,
			"username":          cty.String,
			"password":          cty.String,
		},
		Immutable: []string{"identifier", "engine", "username"},
	}
}

func (p *Provider) createDBInstance(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired dbInstanceConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	resp, err := p.rdsClient.CreateDBInstance(ctx, &rds.CreateDBInstanceInput{
		DBInstanceIdentifier: &desired.Identifier,
		Engine:               &desired.Engine,
		DBInstanceClass:      &desired.InstanceClass,
		AllocatedStorage:     awssdk.Int32(int32(desired.AllocatedStorage)),
		MasterUsername:       &desired.Username,
		MasterUserPassword:   &desired.Password,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create DB instance: %w", err)
	}

	observed, err := json.Marshal(dbInstanceObserved{
		ID:     desired.Identifier,
		ARN:    awssdk.ToString(resp.DBInstance.DBInstanceArn),
		Status: awssdk.ToString(resp.DBInstance.DBInstanceStatus),
	})
	if err != nil {
		return desired.Identifier, nil, err
	}
	return desired.Identifier, observed, nil
}

func (p *Provider) readDBInstance(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: &id,
	})
	if err != nil {
		if isErrorCode(err, "DBInstanceNotFound", "DBInstanceNotFoundFault") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe DB instance: %w", err)
	}
	if len(resp.DBInstances) == 0 {
		return nil, adapter.ErrNotFound
	}
	db := resp.DBInstances[0]
	obs := dbInstanceObserved{
		ID:     id,
		ARN:    awssdk.ToString(db.DBInstanceArn),
		Status: awssdk.ToString(db.DBInstanceStatus),
	}
	if db.Endpoint != nil {
		obs.Endpoint = fmt.Sprintf("%s:%d", awssdk.ToString(db.Endpoint.Address), awssdk.ToInt32(db.Endpoint.Port))
	}
	return json.Marshal(obs)
}

func (p *Provider) updateDBInstance(ctx context.Context, id string, attrs []byte) ([]byte, error) {
	var desired dbInstanceConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &rds.ModifyDBInstanceInput{
		DBInstanceIdentifier: &id,
		ApplyImmediately:     awssdk.Bool(true),
	}
	if desired.InstanceClass != "" {
		input.DBInstanceClass = &desired.InstanceClass
	}
	if desired.AllocatedStorage > 0 {
		input.AllocatedStorage = awssdk.Int32(int32(desired.AllocatedStorage))
	}
	if _, err := p.rdsClient.ModifyDBInstance(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to modify DB instance: %w", err)
	}
	return p.readDBInstance(ctx, id)
}

func (p *Provider) destroyDBInstance(ctx context.Context, id string) error {
	_, err := p.rdsClient.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier: &id,
		SkipFinalSnapshot:    awssdk.Bool(true),
	})
	if err != nil && !isErrorCode(err, "DBInstanceNotFound", "DBInstanceNotFoundFault") {
		return fmt.Errorf("failed to delete DB instance: %w", err)
	}
	return nil
}
