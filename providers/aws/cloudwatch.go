package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type alarmConfig struct {
	Name               string  `json:"name"`
	MetricName         string  `json:"metric_name"`
	Namespace          string  `json:"namespace"`
	Statistic          string  `json:"statistic"`
	ComparisonOperator string  `json:"comparison_operator"`
	Threshold          float64 `json:"threshold"`
	Period             int     `json:"period"`
	EvaluationPeriods  int     `json:"evaluation_periods"`
}

type alarmObserved struct {
	ARN  string `json:"arn"`
	Name string `json:"name"`
}

func alarmSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"name":                cty.String,
			"metric_name":         cty.String,
			"namespace":           cty.String,
			"statistic":           cty.String,
			"comparison_operator": cty.String,
			"threshold":           cty.Number,
			"period":              cty.Number,
			"evaluation_periods":  cty.Number,
		},
		Immutable: []string{"name"},
	}
}

func (p *Provider) createAlarm(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired alarmConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := p.putAlarm(ctx, desired); err != nil {
		return "", nil, err
	}
	observed, err := p.readAlarm(ctx, desired.Name)
	if err != nil {
		return desired.Name, nil, err
	}
	return desired.Name, observed, nil
}

// putAlarm is create and update in one call; PutMetricAlarm overwrites the
// whole definition.
func (p *Provider) putAlarm(ctx context.Context, desired alarmConfig) error {
	_, err := p.cloudwatchClient.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          &desired.Name,
		MetricName:         &desired.MetricName,
		Namespace:          &desired.Namespace,
		Statistic:          cwtypes.Statistic(desired.Statistic),
		ComparisonOperator: cwtypes.ComparisonOperator(desired.ComparisonOperator),
		Threshold:          awssdk.Float64(desired.Threshold),
		Period:             awssdk.Int32(int32(desired.Period)),
		EvaluationPeriods:  awssdk.Int32(int32(desired.EvaluationPeriods)),
	})
	if err != nil {
		return fmt.Errorf("failed to put metric alarm: %w", err)
	}
	return nil
}

func (p *Provider) readAlarm(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.cloudwatchClient.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
		AlarmNames: []string{id},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe alarms: %w", err)
	}
	if len(resp.MetricAlarms) == 0 {
		return nil, adapter.ErrNotFound
	}
	alarm := resp.MetricAlarms[0]
	return json.Marshal(alarmObserved{
		ARN:  awssdk.ToString(alarm.AlarmArn),
		Name: awssdk.ToString(alarm.AlarmName),
	})
}

func (p *Provider) updateAlarm(ctx context.Context, id string, attrs []byte) ([]byte, error) {
	var desired alarmConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = id
	}
	if err := p.putAlarm(ctx, desired); err != nil {
		return nil, err
	}
	return p.readAlarm(ctx, id)
}

func (p *Provider) destroyAlarm(ctx context.Context, id string) error {
	_, err := p.cloudwatchClient.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{
		AlarmNames: []string{id},
	})
	if err != nil && !isErrorCode(err, "ResourceNotFound", "ResourceNotFoundException") {
		return fmt.Errorf("failed to delete alarms: %w", err)
	}
	return nil
}
