package aws

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type cacheClusterConfig struct {
	ClusterID string `json:"cluster_id"`
	Engine    string `json:"engine"`
	NodeType  string `json:"node_type"`
	NumNodes  int    `json:"num_nodes"`
}

type cacheClusterObserved struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func cacheClusterSchema() *ir.Schema {
	return &ir.Schema{
		Attributes: map[string]cty.Type{
			"cluster_id": cty.String,
			"engine":     cty.String,
			"node_type":  cty.String,
			"num_nodes":  cty.Number,
		},
		Immutable: []string{"cluster_id", "engine"},
	}
}

func (p *Provider) createCacheCluster(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired cacheClusterConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	resp, err := p.elasticacheClient.CreateCacheCluster(ctx, &elasticache.CreateCacheClusterInput{
		CacheClusterId: &desired.ClusterID,
		Engine:         &desired.Engine,
		CacheNodeType:  &desired.NodeType,
		NumCacheNodes:  awssdk.Int32(int32(desired.NumNodes)),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create cache cluster: %w", err)
	}

	observed, err := json.Marshal(cacheClusterObserved{
		ID:     desired.ClusterID,
		Status: awssdk.ToString(resp.CacheCluster.CacheClusterStatus),
	})
	if err != nil {
		return desired.ClusterID, nil, err
	}
	return desired.ClusterID, observed, nil
}

func (p *Provider) readCacheCluster(ctx context.Context, id string) ([]byte, error) {
	resp, err := p.elasticacheClient.DescribeCacheClusters(ctx, &elasticache.DescribeCacheClustersInput{
		CacheClusterId: &id,
	})
	if err != nil {
		if isErrorCode(err, "CacheClusterNotFound", "CacheClusterNotFoundFault") {
			return nil, adapter.ErrNotFound
		}
		return nil, fmt.Errorf("failed to describe cache cluster: %w", err)
	}
	if len(resp.CacheClusters) == 0 {
		return nil, adapter.ErrNotFound
	}
	return json.Marshal(cacheClusterObserved{
		ID:     id,
		Status: awssdk.ToString(resp.CacheClusters[0].CacheClusterStatus),
	})
}

func (p *Provider) updateCacheCluster(ctx context.Context, id string, attrs []byte) ([]byte, error) {
	var desired cacheClusterConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &elasticache.ModifyCacheClusterInput{
		CacheClusterId:   &id,
		ApplyImmediately: awssdk.Bool(true),
	}
	if desired.NodeType != "" {
		input.CacheNodeType = &desired.NodeType
	}
	if desired.NumNodes > 0 {
		input.NumCacheNodes = awssdk.Int32(int32(desired.NumNodes))
	}
	if _, err := p.elasticacheClient.ModifyCacheCluster(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to modify cache cluster: %w", err)
	}
	return p.readCacheCluster(ctx, id)
}

func (p *Provider) destroyCacheCluster(ctx context.Context, id string) error {
	_, err := p.elasticacheClient.DeleteCacheCluster(ctx, &elasticache.DeleteCacheClusterInput{
		CacheClusterId: &id,
	})
	if err != nil && !isErrorCode(err, "CacheClusterNotFound", "CacheClusterNotFoundFault") {
		return fmt.Errorf("failed to delete cache cluster: %w", err)
	}
	return nil
}
