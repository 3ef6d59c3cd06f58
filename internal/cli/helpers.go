package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackform-io/stackform/internal/diff"
	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/load"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/state"
)

// specDir resolves the specification directory from the optional positional
// argument, defaulting to the working directory.
func specDir(args []string) (string, error) {
	if len(args) == 0 {
		return os.Getwd()
	}
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", args[0])
	}
	return abs, nil
}

// openStore builds the state store selected by the backend flags: S3 with
// optional DynamoDB locking when a bucket is set, the local file store
// otherwise.
func openStore(ctx context.Context) (state.Store, error) {
	if s3Bucket != "" {
		return state.NewS3Store(ctx, state.S3Config{
			Bucket:        s3Bucket,
			Key:           s3Key,
			Region:        s3Region,
			DynamoDBTable: s3LockTable,
		})
	}
	return state.NewFileStore(stateFile), nil
}

// loadDeclProviders loads every provider the declarations name.
func loadDeclProviders(registry *provider.Registry, decls []*ir.Declaration) error {
	seen := make(map[string]bool)
	for _, decl := range decls {
		if decl.Provider != "" && !seen[decl.Provider] {
			seen[decl.Provider] = true
			if err := registry.Load(decl.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", decl.Provider, err)
			}
		}
	}
	return nil
}

// loadSnapshotProviders loads providers for resources already in state, so
// destroys of undeclared resources still have an adapter.
func loadSnapshotProviders(registry *provider.Registry, snap state.Snapshot) error {
	seen := make(map[string]bool)
	for _, entry := range snap {
		if entry.Provider != "" && !seen[entry.Provider] {
			seen[entry.Provider] = true
			if err := registry.Load(entry.Provider); err != nil {
				return fmt.Errorf("failed to load provider %s: %w", entry.Provider, err)
			}
		}
	}
	return nil
}

// buildPlan runs the shared pipeline: graph construction then diffing with
// schemas supplied by the loaded adapters.
func buildPlan(decls []*ir.Declaration, snap state.Snapshot, registry *provider.Registry) (*graph.Graph, *ir.Plan, error) {
	g, err := graph.Build(decls)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build graph: %w", err)
	}
	differ := diff.New(diff.Options{Schema: registry.Schema})
	plan, err := differ.Diff(g, snap)
	if err != nil {
		return nil, nil, fmt.Errorf("plan generation failed: %w", err)
	}
	return g, plan, nil
}

// loadSpec reads the HCL specification from a directory.
func loadSpec(dir string) ([]*ir.Declaration, error) {
	decls, err := load.Dir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load specification: %w", err)
	}
	return decls, nil
}
