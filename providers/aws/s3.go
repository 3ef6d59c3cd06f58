package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type bucketConfig struct {
	Name       string            `json:"name"`
	Region     string            `json:"region"`
	Versioning bool              `json:"versioning"`
	Tags       map[string]string `json:"tags"`
}

type bucketObserved struct {
	Name       string `json:"name"`
	Versioning bool   `json:"versioning"`
}

func bucketSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"name":       cty.String,
			"region":     cty.String,
			"versioning": cty.Bool,
			"tags":       cty.Map(cty.String),
		},
		Immutable: []string{"name", "region"},
	}
}

func (p *Provider) createBucket(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired bucketConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &s3.CreateBucketInput{Bucket: &desired.Name}
	if desired.Region != "" && desired.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(desired.Region),
		}
	}
	if _, err := p.s3Client.CreateBucket(ctx, input); err != nil {
		if !isErrorCode(err, "BucketAlreadyOwnedByYou") {
			return "", nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	if err := p.applyBucketSettings(ctx, desired.Name, desired); err != nil {
		return desired.Name, nil, err
	}

	observed, err := json.Marshal(bucketObserved{Name: desired.Name, Versioning: desired.Versioning})
	if err != nil {
		return desired.Name, nil, err
	}
	return desired.Name, observed, nil
}

func (p *Provider) applyBucketSettings(ctx context.Context, name string, desired bucketConfig) error {
	if desired.Versioning {
		_, err := p.s3Client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket: &name,
			VersioningConfiguration: &s3types.VersioningConfiguration{
				Status: s3types.BucketVersioningStatusEnabled,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to enable versioning: %w", err)
		}
	}
	if len(desired.Tags) > 0 {
		var tagSet []s3types.Tag
		for k, v := range desired.Tags {
			tagSet = append(tagSet, s3types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
		}
		_, err := p.s3Client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
			Bucket:  &name,
			Tagging: &s3types.Tagging{TagSet: tagSet},
		})
		if err != nil {
			return fmt.Errorf("failed to tag bucket: %w", err)
		}
	}
	return nil
}

func (p *Provider) readBucket(ctx context.Context, id string) ([]byte, error) {
	if _, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &id}); err != nil {
		if isErrorCode(err, "NotFound", "NoSuchBucket") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to head bucket: %w", err)
	}

	versioning := false
	if resp, err := p.s3Client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: &id}); err == nil {
		versioning = resp.Status == s3types.BucketVersioningStatusEnabled
	}
	return json.Marshal(bucketObserved{Name: id, Versioning: versioning})
}

func (p *Provider) updateBucket(ctx context.Context, id string, attrs []byte) ([]byte, error) {
	var desired bucketConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := p.applyBucketSettings(ctx, id, desired); err != nil {
		return nil, err
	}
	return p.readBucket(ctx, id)
}

func (p *Provider) destroyBucket(ctx context.Context, id string) error {
	_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &id})
	if err != nil && !isErrorCode(err, "NoSuchBucket", "NotFound") {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}
