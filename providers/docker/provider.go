// Package docker implements the Docker provider: containers, networks,
// volumes and images against a local or remote daemon.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
)

type Provider struct {
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli
	return nil
}

func (p *Provider) Schema(typ string) *ir.Schema {
	switch typ {
	case "docker_container":
		return &ir.Schema{
			Attributes: map[string]cty.Type{
				"image":       cty.String,
				"name":        cty.String,
				"command":     cty.List(cty.String),
				"env":         cty.Map(cty.String),
				"labels":      cty.Map(cty.String),
				"networks":    cty.List(cty.String),
				"volumes":     cty.List(cty.String),
				"working_dir": cty.String,
				"user":        cty.String,
				"restart":     cty.String,
			},
			Immutable: []string{"image", "name"},
		}
	case "docker_network":
		return &ir.Schema{
			Attributes: map[string]cty.Type{
				"name":     cty.String,
				"driver":   cty.String,
				"internal": cty.Bool,
				"labels":   cty.Map(cty.String),
			},
			Immutable: []string{"name", "driver", "internal"},
		}
	case "docker_volume":
		return &ir.Schema{
			Attributes: map[string]cty.Type{
				"name":   cty.String,
				"driver": cty.String,
			},
			Immutable: []string{"name", "driver"},
		}
	case "docker_image":
		return &ir.Schema{
			Attributes: map[string]cty.Type{
				"name": cty.String,
			},
			Immutable: []string{"name"},
		}
	}
	return nil
}

func (p *Provider) Create(ctx context.Context, typ string, attrs []byte) (string, []byte, error) {
	if err := p.ensureClient(); err != nil {
		return "", nil, err
	}
	switch typ {
	case "docker_container":
		return p.createContainer(ctx, attrs)
	case "docker_network":
		return p.createNetwork(ctx, attrs)
	case "docker_volume":
		return p.createVolume(ctx, attrs)
	case "docker_image":
		return p.createImage(ctx, attrs)
	}
	return "", nil, fmt.Errorf("unknown resource type: %s", typ)
}

func (p *Provider) Read(ctx context.Context, typ, id string, prior []byte) ([]byte, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}
	switch typ {
	case "docker_container":
		inspect, err := p.client.ContainerInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, adapter.ErrNotFound
			}
			return nil, fmt.Errorf("failed to inspect container: %w", err)
		}
		return json.Marshal(containerObserved{
			ID:    inspect.ID,
			Name:  strings.TrimPrefix(inspect.Name, "/"),
			Image: inspect.Config.Image,
		})
	case "docker_network":
		inspect, err := p.client.NetworkInspect(ctx, id, network.InspectOptions{})
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, adapter.ErrNotFound
			}
			return nil, fmt.Errorf("failed to inspect network: %w", err)
		}
		return json.Marshal(networkObserved{ID: inspect.ID, Name: inspect.Name, Driver: inspect.Driver})
	case "docker_volume":
		vol, err := p.client.VolumeInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, adapter.ErrNotFound
			}
			return nil, fmt.Errorf("failed to inspect volume: %w", err)
		}
		return json.Marshal(volumeObserved{Name: vol.Name, Driver: vol.Driver})
	case "docker_image":
		inspect, _, err := p.client.ImageInspectWithRaw(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, adapter.ErrNotFound
			}
			return nil, fmt.Errorf("failed to inspect image: %w", err)
		}
		return json.Marshal(imageObserved{ID: inspect.ID})
	}
	return nil, fmt.Errorf("unknown resource type: %s", typ)
}

// Update covers the mutable surface only; immutable attributes are declared
// in the schema and handled upstream as replacements.
func (p *Provider) Update(ctx context.Context, typ, id string, attrs, prior []byte) ([]byte, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}
	switch typ {
	case "docker_container":
		var desired containerConfig
		if err := json.Unmarshal(attrs, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
		}
		if desired.Restart != "" {
			_, err := p.client.ContainerUpdate(ctx, id, container.UpdateConfig{
				RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(desired.Restart)},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to update container: %w", err)
			}
		}
		return p.Read(ctx, typ, id, prior)
	case "docker_network", "docker_volume", "docker_image":
		// No in-place mutations exist for these types.
		return p.Read(ctx, typ, id, prior)
	}
	return nil, fmt.Errorf("unknown resource type: %s", typ)
}

func (p *Provider) Destroy(ctx context.Context, typ, id string, prior []byte) error {
	if err := p.ensureClient(); err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	switch typ {
	case "docker_container":
		timeout := 10 // seconds
		_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
		if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove container: %w", err)
			}
		}
		return nil
	case "docker_network":
		if err := p.client.NetworkRemove(ctx, id); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove network: %w", err)
			}
		}
		return nil
	case "docker_volume":
		if err := p.client.VolumeRemove(ctx, id, true); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove volume: %w", err)
			}
		}
		return nil
	case "docker_image":
		if _, err := p.client.ImageRemove(ctx, id, image.RemoveOptions{Force: true}); err != nil {
			if !client.IsErrNotFound(err) {
				return fmt.Errorf("failed to remove image: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown resource type: %s", typ)
}

func (p *Provider) createContainer(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired containerConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	reader, err := p.client.ImagePull(ctx, desired.Image, image.PullOptions{})
	if err != nil {
		return "", nil, fmt.Errorf("failed to pull image %s: %w", desired.Image, err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range desired.Ports {
		cp := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[cp] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	var binds []string
	for _, v := range desired.Volumes {
		parts := strings.SplitN(v, ":", 2)
		if len(parts) > 0 && (strings.HasPrefix(parts[0], "./") || strings.HasPrefix(parts[0], "../")) {
			if abs, err := filepath.Abs(parts[0]); err == nil {
				parts[0] = abs
				binds = append(binds, strings.Join(parts, ":"))
				continue
			}
		}
		binds = append(binds, v)
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        binds,
	}
	if len(desired.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(desired.Networks[0])
	}
	if desired.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(desired.Restart),
		}
	}

	config := &container.Config{
		Image:      desired.Image,
		Cmd:        desired.Command,
		Env:        mapToEnvList(desired.Env),
		Labels:     desired.Labels,
		WorkingDir: desired.WorkingDir,
		User:       desired.User,
	}
	if desired.Healthcheck != nil {
		test := desired.Healthcheck.Test
		if len(test) == 0 {
			test = []string{"NONE"}
		}
		interval, _ := time.ParseDuration(desired.Healthcheck.Interval)
		timeout, _ := time.ParseDuration(desired.Healthcheck.Timeout)
		startPeriod, _ := time.ParseDuration(desired.Healthcheck.StartPeriod)
		config.Healthcheck = &container.HealthConfig{
			Test:        test,
			Interval:    interval,
			Timeout:     timeout,
			StartPeriod: startPeriod,
			Retries:     desired.Healthcheck.Retries,
		}
	}

	resp, err := p.client.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, &v1.Platform{}, desired.Name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create container: %w", err)
	}
	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", nil, fmt.Errorf("failed to start container: %w", err)
	}

	observed, err := json.Marshal(containerObserved{ID: resp.ID, Name: desired.Name, Image: desired.Image})
	if err != nil {
		return "", nil, err
	}
	return resp.ID, observed, nil
}

func (p *Provider) createNetwork(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired networkConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	resp, err := p.client.NetworkCreate(ctx, desired.Name, types.NetworkCreate{
		Driver:   desired.Driver,
		Internal: desired.Internal,
		Labels:   desired.Labels,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create network: %w", err)
	}

	observed, err := json.Marshal(networkObserved{ID: resp.ID, Name: desired.Name, Driver: desired.Driver})
	if err != nil {
		return "", nil, err
	}
	return resp.ID, observed, nil
}

func (p *Provider) createVolume(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired volumeConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   desired.Name,
		Driver: desired.Driver,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create volume: %w", err)
	}

	observed, err := json.Marshal(volumeObserved{Name: vol.Name, Driver: vol.Driver})
	if err != nil {
		return "", nil, err
	}
	return vol.Name, observed, nil
}

func (p *Provider) createImage(ctx context.Context, attrs []byte) (string, []byte, error) {
	var desired imageConfig
	if err := json.Unmarshal(attrs, &desired); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	reader, err := p.client.ImagePull(ctx, desired.Name, image.PullOptions{})
	if err != nil {
		return "", nil, fmt.Errorf("failed to pull image: %w", err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	inspect, _, err := p.client.ImageInspectWithRaw(ctx, desired.Name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to inspect pulled image: %w", err)
	}

	observed, err := json.Marshal(imageObserved{ID: inspect.ID})
	if err != nil {
		return "", nil, err
	}
	return inspect.ID, observed, nil
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

type containerConfig struct {
	Image       string             `json:"image"`
	Name        string             `json:"name"`
	Command     []string           `json:"command"`
	Ports       map[string]int     `json:"ports"`
	Env         map[string]string  `json:"env"`
	Networks    []string           `json:"networks"`
	Volumes     []string           `json:"volumes"`
	Labels      map[string]string  `json:"labels"`
	WorkingDir  string             `json:"working_dir"`
	User        string             `json:"user"`
	Restart     string             `json:"restart"`
	Healthcheck *healthcheckConfig `json:"healthcheck"`
}

type healthcheckConfig struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval"`
	Timeout     string   `json:"timeout"`
	StartPeriod string   `json:"start_period"`
	Retries     int      `json:"retries"`
}

type containerObserved struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

type networkConfig struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels"`
}

type networkObserved struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type volumeConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type volumeObserved struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type imageConfig struct {
	Name string `json:"name"`
}

type imageObserved struct {
	ID string `json:"id"`
}
