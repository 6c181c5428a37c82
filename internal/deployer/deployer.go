package deployer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// DockerNetwork is the bridge network all managed instances attach to.
const DockerNetwork = "rewind-public"

// Deployer drives the container runtime for backend rollbacks: it starts
// instances of a prior version, health checks them and retires the ones
// running the bad version.
type Deployer struct {
	client *client.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) (*Deployer, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := dockerClient.Ping(context.Background()); err != nil {
		dockerClient.Close()
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}

	return &Deployer{client: dockerClient, logger: logger}, nil
}

func (d *Deployer) Close() error {
	return d.client.Close()
}

// EnsureNetwork creates the managed bridge network if it does not exist.
func (d *Deployer) EnsureNetwork(ctx context.Context) error {
	networks, err := d.client.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list Docker networks: %w", err)
	}

	for _, n := range networks {
		if n.Name == DockerNetwork {
			return nil
		}
	}

	options := network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
		Labels: map[string]string{
			"created-by": "rewind",
		},
	}
	if _, err := d.client.NetworkCreate(ctx, DockerNetwork, options); err != nil {
		return fmt.Errorf("failed to create Docker network: %w", err)
	}
	return nil
}
