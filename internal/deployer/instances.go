package deployer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/rewindlabs/rewind/internal/helpers"
)

// Instance is one managed container of a service.
type Instance struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Service     string `json:"service"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
	Running     bool   `json:"running"`
}

// StartOptions describes the instances to create for one version of a
// service. RunID makes container names unique per rollback run, and
// ReplicaOffset keeps them unique when one run starts instances in several
// batches.
type StartOptions struct {
	Service         string
	Environment     string
	Version         string
	Image           string
	Replicas        int
	ReplicaOffset   int
	RunID           string
	Port            string
	HealthCheckPath string
	Env             []string
}

func serviceFilter(service, environment string) filters.Args {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", fmt.Sprintf("%s=%s", LabelService, service))
	filterArgs.Add("label", fmt.Sprintf("%s=%s", LabelEnvironment, environment))
	filterArgs.Add("label", fmt.Sprintf("%s=%s", LabelRole, InstanceRole))
	return filterArgs
}

// Instances lists every managed container for a service, running or not.
func (d *Deployer) Instances(ctx context.Context, service, environment string) ([]Instance, error) {
	containerList, err := d.client.ContainerList(ctx, container.ListOptions{
		Filters: serviceFilter(service, environment),
		All:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	instances := make([]Instance, 0, len(containerList))
	for _, c := range containerList {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		instances = append(instances, Instance{
			ID:          c.ID,
			Name:        name,
			Service:     service,
			Environment: environment,
			Version:     c.Labels[LabelVersion],
			Running:     c.State == "running",
		})
	}
	return instances, nil
}

// StartVersion creates and starts the requested number of replicas running
// the given image. Containers created before a failure are removed again.
func (d *Deployer) StartVersion(ctx context.Context, opts StartOptions) (started []Instance, err error) {
	if opts.Replicas < 1 {
		opts.Replicas = 1
	}

	il := InstanceLabels{
		Service:         opts.Service,
		Environment:     opts.Environment,
		Version:         opts.Version,
		Role:            InstanceRole,
		Port:            opts.Port,
		HealthCheckPath: opts.HealthCheckPath,
	}
	if il.HealthCheckPath == "" {
		il.HealthCheckPath = "/"
	}
	labels := il.ToLabels()

	hostConfig := &container.HostConfig{
		NetworkMode:   container.NetworkMode(DockerNetwork),
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}

	defer func() {
		if err != nil {
			// Remove anything started before the failure so a half-applied
			// rollback leaves no strays behind.
			for _, instance := range started {
				removeErr := d.client.ContainerRemove(ctx, instance.ID, container.RemoveOptions{Force: true})
				if removeErr != nil {
					d.logger.Warn("failed to clean up container after error",
						"container_id", helpers.SafeIDPrefix(instance.ID), "error", removeErr)
				}
			}
			started = nil
		}
	}()

	for i := 0; i < opts.Replicas; i++ {
		replica := opts.ReplicaOffset + i + 1
		envVars := append(append([]string{}, opts.Env...), fmt.Sprintf("REWIND_REPLICA_ID=%d", replica))
		containerConfig := &container.Config{
			Image:  opts.Image,
			Labels: labels,
			Env:    envVars,
		}
		containerName := fmt.Sprintf("%s-rewind-%s-replica-%d", opts.Service, opts.RunID, replica)

		resp, createErr := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
		if createErr != nil {
			err = fmt.Errorf("failed to create container: %w", createErr)
			return started, err
		}
		started = append(started, Instance{
			ID:          resp.ID,
			Name:        containerName,
			Service:     opts.Service,
			Environment: opts.Environment,
			Version:     opts.Version,
			Running:     true,
		})

		if startErr := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); startErr != nil {
			err = fmt.Errorf("failed to start container: %w", startErr)
			return started, err
		}
	}

	return started, nil
}

// StartInstance starts an existing stopped container, the fast path when a
// standby from the previous version is still around.
func (d *Deployer) StartInstance(ctx context.Context, instanceID string) error {
	if err := d.client.ContainerStart(ctx, instanceID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", helpers.SafeIDPrefix(instanceID), err)
	}
	return nil
}

// StopInstance stops a single container, waiting up to 20 seconds for a
// clean shutdown.
func (d *Deployer) StopInstance(ctx context.Context, instanceID string) error {
	timeout := 20
	if err := d.client.ContainerStop(ctx, instanceID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", helpers.SafeIDPrefix(instanceID), err)
	}
	return nil
}

// RemoveInstance force-removes a single container.
func (d *Deployer) RemoveInstance(ctx context.Context, instanceID string) error {
	if err := d.client.ContainerRemove(ctx, instanceID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", helpers.SafeIDPrefix(instanceID), err)
	}
	return nil
}

// StopOthers stops every running instance of the service that is not on
// keepVersion and returns the stopped container IDs.
func (d *Deployer) StopOthers(ctx context.Context, service, environment, keepVersion string) ([]string, error) {
	containerList, err := d.client.ContainerList(ctx, container.ListOptions{
		Filters: serviceFilter(service, environment),
		All:     false, // Only running containers
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	stoppedIDs := []string{}
	var stopErrors []error
	for _, c := range containerList {
		if c.Labels[LabelVersion] == keepVersion {
			continue
		}

		timeout := 20
		stopOptions := container.StopOptions{Timeout: &timeout}
		if err := d.client.ContainerStop(ctx, c.ID, stopOptions); err != nil {
			d.logger.Warn("failed to stop container",
				"container_id", helpers.SafeIDPrefix(c.ID), "error", err)
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop container %s: %w", helpers.SafeIDPrefix(c.ID), err))
			continue
		}
		stoppedIDs = append(stoppedIDs, c.ID)
	}

	if len(stopErrors) > 0 {
		return stoppedIDs, errors.Join(stopErrors...)
	}
	return stoppedIDs, nil
}

// RemoveStopped deletes stopped instances of the service, keeping those on
// keepVersion around as the next rollback's standby.
func (d *Deployer) RemoveStopped(ctx context.Context, service, environment, keepVersion string) ([]string, error) {
	containerList, err := d.client.ContainerList(ctx, container.ListOptions{
		Filters: serviceFilter(service, environment),
		All:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	removed := []string{}
	var removalErrors []error
	for _, c := range containerList {
		if c.State == "running" || c.Labels[LabelVersion] == keepVersion {
			continue
		}
		if err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			removalErrors = append(removalErrors, fmt.Errorf("failed to remove container %s: %w", helpers.SafeIDPrefix(c.ID), err))
			continue
		}
		removed = append(removed, c.ID)
	}

	if len(removalErrors) > 0 {
		return removed, errors.Join(removalErrors...)
	}
	return removed, nil
}

// WaitHealthy blocks until the instance reports healthy, first through the
// image's built-in health check and otherwise through an HTTP probe against
// the labeled port and path.
func (d *Deployer) WaitHealthy(ctx context.Context, instanceID string, initialWaitTime ...time.Duration) error {
	// Wait up to 30 seconds for the container to be running.
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var containerInfo container.InspectResponse
	var err error

	for {
		containerInfo, err = d.client.ContainerInspect(startCtx, instanceID)
		if err != nil {
			return fmt.Errorf("failed to inspect container %s: %w", helpers.SafeIDPrefix(instanceID), err)
		}

		if containerInfo.State.Running {
			break
		}

		select {
		case <-startCtx.Done():
			return fmt.Errorf("timed out waiting for container %s to start", helpers.SafeIDPrefix(instanceID))
		case <-time.After(500 * time.Millisecond):
		}
	}

	if len(initialWaitTime) > 0 && initialWaitTime[0] > 0 {
		waitTimer := time.NewTimer(initialWaitTime[0])
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled during initial wait period")
		case <-waitTimer.C:
		}
	}

	if containerInfo.State.Health != nil {
		if containerInfo.State.Health.Status == "healthy" {
			return nil
		}

		// Wait for the built-in health check to leave its starting state.
		if containerInfo.State.Health.Status == "starting" {
			healthCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			for {
				containerInfo, err = d.client.ContainerInspect(healthCtx, instanceID)
				if err != nil {
					return fmt.Errorf("failed to re-inspect container: %w", err)
				}

				if containerInfo.State.Health.Status != "starting" {
					break
				}

				select {
				case <-healthCtx.Done():
					return fmt.Errorf("timed out waiting for container health check to complete")
				case <-time.After(1 * time.Second):
				}
			}
		}

		if containerInfo.State.Health.Status == "healthy" {
			d.logger.Debug("container healthy via built-in health check",
				"container_id", helpers.SafeIDPrefix(instanceID))
			return nil
		} else if containerInfo.State.Health.Status == "unhealthy" {
			if len(containerInfo.State.Health.Log) > 0 {
				lastLog := containerInfo.State.Health.Log[len(containerInfo.State.Health.Log)-1]
				return fmt.Errorf("container %s is unhealthy: %s", helpers.SafeIDPrefix(instanceID), lastLog.Output)
			}
			return fmt.Errorf("container %s is unhealthy according to its health check", helpers.SafeIDPrefix(instanceID))
		}
	}

	// No built-in health check, probe over HTTP using the instance labels.
	labels, err := ParseInstanceLabels(containerInfo.Config.Labels)
	if err != nil {
		return fmt.Errorf("failed to parse container labels: %w", err)
	}
	if labels.Port == "" {
		return fmt.Errorf("container %s has no port label set", helpers.SafeIDPrefix(instanceID))
	}

	targetIP, err := containerNetworkIP(containerInfo, DockerNetwork)
	if err != nil {
		return fmt.Errorf("failed to get container IP address: %w", err)
	}

	healthCheckURL := fmt.Sprintf("http://%s:%s%s", targetIP, labels.Port, labels.HealthCheckPath)

	maxRetries := 5
	backoff := 500 * time.Millisecond
	httpClient := &http.Client{Timeout: 5 * time.Second}

	for retry := 0; retry < maxRetries; retry++ {
		if retry > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthCheckURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create health check request: %w", err)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			d.logger.Warn("health check attempt failed", "url", healthCheckURL, "error", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			return nil
		}

		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		d.logger.Warn("health check returned non-success status",
			"status", resp.StatusCode, "body", string(bodyBytes))
	}

	return fmt.Errorf("container %s failed health check after %d attempts", helpers.SafeIDPrefix(instanceID), maxRetries)
}

func containerNetworkIP(containerInfo container.InspectResponse, networkName string) (string, error) {
	if _, exists := containerInfo.NetworkSettings.Networks[networkName]; !exists {
		return "", fmt.Errorf("specified network not found: %s", networkName)
	}
	if containerInfo.State == nil || !containerInfo.State.Running {
		return "", fmt.Errorf("container is not running")
	}
	ipAddress := containerInfo.NetworkSettings.Networks[networkName].IPAddress
	if ipAddress == "" {
		return "", fmt.Errorf("container has no IP address on network: %s", networkName)
	}
	return ipAddress, nil
}
