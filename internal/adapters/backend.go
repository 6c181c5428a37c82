package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/deployer"
	"github.com/rewindlabs/rewind/internal/rollback"
	"github.com/rewindlabs/rewind/internal/store"
)

// ContainerRuntime is the slice of the deployer the backend adapter needs.
type ContainerRuntime interface {
	Instances(ctx context.Context, service, environment string) ([]deployer.Instance, error)
	StartVersion(ctx context.Context, opts deployer.StartOptions) ([]deployer.Instance, error)
	StartInstance(ctx context.Context, instanceID string) error
	StopInstance(ctx context.Context, instanceID string) error
	RemoveInstance(ctx context.Context, instanceID string) error
	StopOthers(ctx context.Context, service, environment, keepVersion string) ([]string, error)
	WaitHealthy(ctx context.Context, instanceID string, initialWaitTime ...time.Duration) error
}

// VersionRegistry answers which release is current and which stable release
// a rollback should restore.
type VersionRegistry interface {
	CurrentVersion(service, platform string) (store.Release, error)
	PreviousStableVersion(service, platform string) (store.Release, error)
	AddRelease(release store.Release) error
}

// BackendAdapter rolls containerized backend services back to their previous
// stable release.
type BackendAdapter struct {
	runtime  ContainerRuntime
	registry VersionRegistry
	services []config.ServiceConfig
	logger   *slog.Logger
}

func NewBackendAdapter(runtime ContainerRuntime, registry VersionRegistry, services []config.ServiceConfig, logger *slog.Logger) *BackendAdapter {
	return &BackendAdapter{
		runtime:  runtime,
		registry: registry,
		services: services,
		logger:   logger,
	}
}

func (a *BackendAdapter) Service() rollback.Service {
	return rollback.ServiceBackend
}

func (a *BackendAdapter) Validate(target rollback.Target) error {
	services, err := servicesOfKind(a.services, rollback.ServiceBackend, target)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if svc.Image == "" {
			return fmt.Errorf("service %q has no image configured", svc.Name)
		}
	}
	return nil
}

func (a *BackendAdapter) Plan(ctx context.Context, executionID string, target rollback.Target) ([]PlannedStep, error) {
	services, err := servicesOfKind(a.services, rollback.ServiceBackend, target)
	if err != nil {
		return nil, err
	}

	var steps []PlannedStep
	for _, svc := range services {
		previous, err := a.registry.PreviousStableVersion(svc.Name, "")
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, Permanent(target, "no_previous_stable_version",
					fmt.Errorf("service %q has no stable release to roll back to", svc.Name))
			}
			return nil, fmt.Errorf("failed to resolve previous version for %q: %w", svc.Name, err)
		}

		var serviceSteps []PlannedStep
		switch target.Strategy {
		case rollback.StrategyBlueGreen:
			serviceSteps = a.planBlueGreen(executionID, target, svc, previous)
		case rollback.StrategyRolling:
			serviceSteps, err = a.planRolling(ctx, executionID, target, svc, previous)
			if err != nil {
				return nil, err
			}
		case rollback.StrategyImmediate:
			serviceSteps = a.planImmediate(executionID, target, svc, previous)
		default:
			return nil, fmt.Errorf("backend adapter does not support strategy %q", target.Strategy)
		}
		steps = append(steps, serviceSteps...)
	}
	return steps, nil
}

// planBlueGreen brings the previous version up next to the current one,
// waits for it to become healthy, and only then routes traffic away by
// stopping the current instances. The stopped containers stay around as the
// next standby.
func (a *BackendAdapter) planBlueGreen(executionID string, target rollback.Target, svc config.ServiceConfig, previous store.Release) []PlannedStep {
	var standby []deployer.Instance

	startStandby := PlannedStep{
		Name:          fmt.Sprintf("start-standby-%s", svc.Name),
		TargetService: rollback.ServiceBackend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			started, err := a.runtime.StartVersion(ctx, a.startOptions(executionID, target, svc, previous.Version, 0))
			if err != nil {
				return "", Retryable(target, "standby_start_failed", err)
			}
			standby = started
			return fmt.Sprintf("started %d standby instance(s) of %s:%s", len(started), svc.Name, previous.Version), nil
		},
	}

	awaitHealth := PlannedStep{
		Name:          fmt.Sprintf("await-standby-health-%s", svc.Name),
		TargetService: rollback.ServiceBackend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			if len(standby) == 0 {
				return "", Permanent(target, "standby_missing", errors.New("no standby instances were started"))
			}
			for _, instance := range standby {
				if err := a.runtime.WaitHealthy(ctx, instance.ID); err != nil {
					return "", Retryable(target, "standby_unhealthy", err)
				}
			}
			return fmt.Sprintf("%d standby instance(s) healthy", len(standby)), nil
		},
	}

	routeTraffic := PlannedStep{
		Name:          fmt.Sprintf("route-traffic-%s", svc.Name),
		TargetService: rollback.ServiceBackend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			stopped, err := a.runtime.StopOthers(ctx, svc.Name, target.Environment, previous.Version)
			if err != nil {
				return "", Retryable(target, "traffic_switch_failed", err)
			}
			return fmt.Sprintf("stopped %d instance(s) not on %s", len(stopped), previous.Version), nil
		},
	}

	return []PlannedStep{startStandby, awaitHealth, routeTraffic, a.recordStep(target, svc, previous)}
}

// planRolling replaces current instances one at a time so the service keeps
// serving throughout. When nothing is running there is nothing to drain, so
// it degrades to a plain start of the previous version.
func (a *BackendAdapter) planRolling(ctx context.Context, executionID string, target rollback.Target, svc config.ServiceConfig, previous store.Release) ([]PlannedStep, error) {
	instances, err := a.runtime.Instances(ctx, svc.Name, target.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances for %q: %w", svc.Name, err)
	}

	var current []deployer.Instance
	for _, instance := range instances {
		if instance.Running && instance.Version != previous.Version {
			current = append(current, instance)
		}
	}

	if len(current) == 0 {
		a.logger.Info("no running instances to replace, starting previous version directly",
			"service", svc.Name, "version", previous.Version)
		return a.planImmediate(executionID, target, svc, previous), nil
	}

	steps := make([]PlannedStep, 0, len(current)+1)
	for i, old := range current {
		oldInstance := old
		offset := i
		steps = append(steps, PlannedStep{
			Name:          fmt.Sprintf("replace-instance-%s-%d", svc.Name, i+1),
			TargetService: rollback.ServiceBackend,
			Environment:   target.Environment,
			Run: func(ctx context.Context) (string, error) {
				started, err := a.runtime.StartVersion(ctx, a.startOptionsN(executionID, target, svc, previous.Version, offset, 1))
				if err != nil {
					return "", Retryable(target, "instance_start_failed", err)
				}
				replacement := started[0]

				if err := a.runtime.WaitHealthy(ctx, replacement.ID); err != nil {
					// Remove the unhealthy replacement so a retry starts clean.
					if removeErr := a.runtime.RemoveInstance(ctx, replacement.ID); removeErr != nil {
						a.logger.Warn("failed to remove unhealthy replacement", "error", removeErr)
					}
					return "", Retryable(target, "replacement_unhealthy", err)
				}

				if err := a.runtime.StopInstance(ctx, oldInstance.ID); err != nil {
					if removeErr := a.runtime.RemoveInstance(ctx, replacement.ID); removeErr != nil {
						a.logger.Warn("failed to remove replacement after stop failure", "error", removeErr)
					}
					return "", Retryable(target, "instance_stop_failed", err)
				}
				return fmt.Sprintf("replaced %s with %s:%s", oldInstance.Name, svc.Name, previous.Version), nil
			},
		})
	}
	return append(steps, a.recordStep(target, svc, previous)), nil
}

// planImmediate stops everything first and then brings the previous version
// up, accepting a brief outage in exchange for never running two versions at
// once. Stopped standby containers from an earlier blue-green switch are
// restarted instead of recreated when present.
func (a *BackendAdapter) planImmediate(executionID string, target rollback.Target, svc config.ServiceConfig, previous store.Release) []PlannedStep {
	var running []deployer.Instance

	stopCurrent := PlannedStep{
		Name:          fmt.Sprintf("stop-current-%s", svc.Name),
		TargetService: rollback.ServiceBackend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			stopped, err := a.runtime.StopOthers(ctx, svc.Name, target.Environment, previous.Version)
			if err != nil {
				return "", Retryable(target, "instance_stop_failed", err)
			}
			return fmt.Sprintf("stopped %d instance(s)", len(stopped)), nil
		},
	}

	startPrevious := PlannedStep{
		Name:          fmt.Sprintf("start-previous-%s", svc.Name),
		TargetService: rollback.ServiceBackend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			running = running[:0] // Rebuilt from scratch on every attempt.
			instances, err := a.runtime.Instances(ctx, svc.Name, target.Environment)
			if err != nil {
				return "", Retryable(target, "instance_list_failed", err)
			}

			var standby []deployer.Instance
			for _, instance := range instances {
				if instance.Version == previous.Version {
					if instance.Running {
						running = append(running, instance)
					} else {
						standby = append(standby, instance)
					}
				}
			}

			if len(running) > 0 && len(standby) == 0 {
				return fmt.Sprintf("%d instance(s) of %s already running", len(running), previous.Version), nil
			}

			if len(standby) > 0 {
				for _, instance := range standby {
					if err := a.runtime.StartInstance(ctx, instance.ID); err != nil {
						return "", Retryable(target, "standby_start_failed", err)
					}
					running = append(running, instance)
				}
				return fmt.Sprintf("restarted %d standby instance(s) of %s", len(standby), previous.Version), nil
			}

			started, err := a.runtime.StartVersion(ctx, a.startOptions(executionID, target, svc, previous.Version, 0))
			if err != nil {
				return "", Retryable(target, "instance_start_failed", err)
			}
			running = append(running, started...)
			return fmt.Sprintf("started %d instance(s) of %s:%s", len(started), svc.Name, previous.Version), nil
		},
	}

	awaitHealth := PlannedStep{
		Name:          fmt.Sprintf("await-health-%s", svc.Name),
		TargetService: rollback.ServiceBackend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			if len(running) == 0 {
				return "", Permanent(target, "no_instances_running", errors.New("no instances of the previous version are running"))
			}
			for _, instance := range running {
				if err := a.runtime.WaitHealthy(ctx, instance.ID); err != nil {
					return "", Retryable(target, "instance_unhealthy", err)
				}
			}
			return fmt.Sprintf("%d instance(s) healthy", len(running)), nil
		},
	}

	return []PlannedStep{stopCurrent, startPrevious, awaitHealth, a.recordStep(target, svc, previous)}
}

// recordStep makes the registry reflect the restored version so subsequent
// rollbacks and verification resolve against it.
func (a *BackendAdapter) recordStep(target rollback.Target, svc config.ServiceConfig, previous store.Release) PlannedStep {
	return PlannedStep{
		Name:          fmt.Sprintf("record-rollback-%s", svc.Name),
		TargetService: rollback.ServiceBackend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			release := store.Release{
				Service:    svc.Name,
				Version:    previous.Version,
				Stable:     true,
				ReleasedAt: time.Now().UTC(),
			}
			if err := a.registry.AddRelease(release); err != nil {
				return "", Retryable(target, "registry_update_failed", err)
			}
			return fmt.Sprintf("%s is current again for %s", previous.Version, svc.Name), nil
		},
	}
}

func (a *BackendAdapter) Verify(ctx context.Context, target rollback.Target) error {
	services, err := servicesOfKind(a.services, rollback.ServiceBackend, target)
	if err != nil {
		return err
	}

	var verifyErrors []error
	for _, svc := range services {
		expected, err := a.registry.CurrentVersion(svc.Name, "")
		if err != nil {
			verifyErrors = append(verifyErrors, fmt.Errorf("no current version recorded for %q: %w", svc.Name, err))
			continue
		}

		instances, err := a.runtime.Instances(ctx, svc.Name, target.Environment)
		if err != nil {
			verifyErrors = append(verifyErrors, fmt.Errorf("failed to list instances for %q: %w", svc.Name, err))
			continue
		}

		healthy := 0
		for _, instance := range instances {
			if !instance.Running || instance.Version != expected.Version {
				continue
			}
			if err := a.runtime.WaitHealthy(ctx, instance.ID); err != nil {
				verifyErrors = append(verifyErrors, fmt.Errorf("instance %s of %q: %w", instance.Name, svc.Name, err))
				continue
			}
			healthy++
		}
		if healthy == 0 {
			verifyErrors = append(verifyErrors, fmt.Errorf("no healthy instance of %q is running version %s", svc.Name, expected.Version))
		}
	}
	return errors.Join(verifyErrors...)
}

func (a *BackendAdapter) startOptions(executionID string, target rollback.Target, svc config.ServiceConfig, version string, offset int) deployer.StartOptions {
	replicas := 1
	if svc.Replicas != nil {
		replicas = *svc.Replicas
	}
	return a.startOptionsN(executionID, target, svc, version, offset, replicas)
}

func (a *BackendAdapter) startOptionsN(executionID string, target rollback.Target, svc config.ServiceConfig, version string, offset, replicas int) deployer.StartOptions {
	env := make([]string, 0, len(svc.Env))
	for _, e := range svc.Env {
		env = append(env, fmt.Sprintf("%s=%s", e.Name, e.Value))
	}
	return deployer.StartOptions{
		Service:         svc.Name,
		Environment:     target.Environment,
		Version:         version,
		Image:           fmt.Sprintf("%s:%s", svc.Image, version),
		Replicas:        replicas,
		ReplicaOffset:   offset,
		RunID:           executionID,
		Port:            svc.Port.String(),
		HealthCheckPath: svc.HealthCheckPath,
		Env:             env,
	}
}
