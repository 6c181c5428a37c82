package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/rollback"
	"github.com/rewindlabs/rewind/internal/store"
)

// CDN is the slice of the CDN client the frontend adapter needs.
type CDN interface {
	ActivateVersion(ctx context.Context, service, version string) error
	Purge(ctx context.Context, paths []string) error
	ActiveVersion(ctx context.Context, service string) (string, error)
}

// FrontendAdapter rolls frontend releases back per platform. Web assets are
// repointed and purged at the CDN, mobile platforms are rolled back by
// promoting the previous build in the release registry so update checks
// serve it again.
type FrontendAdapter struct {
	cdn        CDN
	registry   VersionRegistry
	services   []config.ServiceConfig
	purgePaths []string
	logger     *slog.Logger
}

func NewFrontendAdapter(cdn CDN, registry VersionRegistry, services []config.ServiceConfig, purgePaths []string, logger *slog.Logger) *FrontendAdapter {
	return &FrontendAdapter{
		cdn:        cdn,
		registry:   registry,
		services:   services,
		purgePaths: purgePaths,
		logger:     logger,
	}
}

func (a *FrontendAdapter) Service() rollback.Service {
	return rollback.ServiceFrontend
}

// platformsFor returns the platforms a rollback covers for one service. The
// "platforms" option narrows the configured set.
func (a *FrontendAdapter) platformsFor(svc config.ServiceConfig, target rollback.Target) ([]string, error) {
	configured := svc.Platforms
	if len(configured) == 0 {
		configured = []string{"web"}
	}

	requested := target.Option("platforms", "")
	if requested == "" {
		return configured, nil
	}

	var platforms []string
	for _, platform := range strings.Split(requested, ",") {
		platform = strings.TrimSpace(platform)
		if !slices.Contains(configured, platform) {
			return nil, fmt.Errorf("platform %q is not configured for service %q", platform, svc.Name)
		}
		platforms = append(platforms, platform)
	}
	return platforms, nil
}

func (a *FrontendAdapter) Validate(target rollback.Target) error {
	services, err := servicesOfKind(a.services, rollback.ServiceFrontend, target)
	if err != nil {
		return err
	}
	for _, svc := range services {
		platforms, err := a.platformsFor(svc, target)
		if err != nil {
			return err
		}
		if slices.Contains(platforms, "web") && a.cdn == nil {
			return fmt.Errorf("service %q targets the web platform but no cdn is configured", svc.Name)
		}
	}
	return nil
}

func (a *FrontendAdapter) Plan(ctx context.Context, executionID string, target rollback.Target) ([]PlannedStep, error) {
	services, err := servicesOfKind(a.services, rollback.ServiceFrontend, target)
	if err != nil {
		return nil, err
	}

	var steps []PlannedStep
	for _, svc := range services {
		platforms, err := a.platformsFor(svc, target)
		if err != nil {
			return nil, err
		}

		for _, platform := range platforms {
			previous, err := a.registry.PreviousStableVersion(svc.Name, platform)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, Permanent(target, "no_previous_stable_version",
						fmt.Errorf("service %q has no stable %s release to roll back to", svc.Name, platform))
				}
				return nil, fmt.Errorf("failed to resolve previous %s version for %q: %w", platform, svc.Name, err)
			}

			if platform == "web" {
				if target.Strategy == rollback.StrategyImmediate {
					steps = append(steps, a.immediateWebStep(target, svc, previous))
				} else {
					steps = append(steps, a.activateStep(target, svc, previous), a.purgeStep(target, svc))
				}
			} else {
				steps = append(steps, a.promoteStep(target, svc, platform, previous))
			}
			steps = append(steps, a.recordStep(target, svc, platform, previous))
		}
	}
	return steps, nil
}

func (a *FrontendAdapter) activateStep(target rollback.Target, svc config.ServiceConfig, previous store.Release) PlannedStep {
	return PlannedStep{
		Name:          fmt.Sprintf("activate-cdn-%s-web", svc.Name),
		TargetService: rollback.ServiceFrontend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			if err := a.cdn.ActivateVersion(ctx, svc.Name, previous.Version); err != nil {
				return "", Retryable(target, "cdn_activation_failed", err)
			}
			return fmt.Sprintf("cdn now serves %s:%s", svc.Name, previous.Version), nil
		},
	}
}

func (a *FrontendAdapter) purgeStep(target rollback.Target, svc config.ServiceConfig) PlannedStep {
	return PlannedStep{
		Name:          fmt.Sprintf("purge-cdn-cache-%s", svc.Name),
		TargetService: rollback.ServiceFrontend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			if err := a.cdn.Purge(ctx, a.purgePaths); err != nil {
				return "", Retryable(target, "cdn_purge_failed", err)
			}
			if len(a.purgePaths) == 0 {
				return "purged entire cdn cache", nil
			}
			return fmt.Sprintf("purged %d cdn path(s)", len(a.purgePaths)), nil
		},
	}
}

// immediateWebStep collapses activation and a full purge into one step for
// rollbacks where speed matters more than cache hit rates.
func (a *FrontendAdapter) immediateWebStep(target rollback.Target, svc config.ServiceConfig, previous store.Release) PlannedStep {
	return PlannedStep{
		Name:          fmt.Sprintf("activate-previous-%s-web", svc.Name),
		TargetService: rollback.ServiceFrontend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			if err := a.cdn.ActivateVersion(ctx, svc.Name, previous.Version); err != nil {
				return "", Retryable(target, "cdn_activation_failed", err)
			}
			if err := a.cdn.Purge(ctx, nil); err != nil {
				return "", Retryable(target, "cdn_purge_failed", err)
			}
			return fmt.Sprintf("cdn serves %s:%s, cache fully purged", svc.Name, previous.Version), nil
		},
	}
}

func (a *FrontendAdapter) promoteStep(target rollback.Target, svc config.ServiceConfig, platform string, previous store.Release) PlannedStep {
	return PlannedStep{
		Name:          fmt.Sprintf("promote-release-%s-%s", svc.Name, platform),
		TargetService: rollback.ServiceFrontend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			a.logger.Info("promoting previous build for update checks",
				"service", svc.Name, "platform", platform, "version", previous.Version)
			return fmt.Sprintf("%s update channel now serves %s", platform, previous.Version), nil
		},
	}
}

func (a *FrontendAdapter) recordStep(target rollback.Target, svc config.ServiceConfig, platform string, previous store.Release) PlannedStep {
	return PlannedStep{
		Name:          fmt.Sprintf("record-rollback-%s-%s", svc.Name, platform),
		TargetService: rollback.ServiceFrontend,
		Environment:   target.Environment,
		Run: func(ctx context.Context) (string, error) {
			release := store.Release{
				Service:    svc.Name,
				Platform:   platform,
				Version:    previous.Version,
				Stable:     true,
				ReleasedAt: time.Now().UTC(),
			}
			if err := a.registry.AddRelease(release); err != nil {
				return "", Retryable(target, "registry_update_failed", err)
			}
			return fmt.Sprintf("%s is current again for %s/%s", previous.Version, svc.Name, platform), nil
		},
	}
}

func (a *FrontendAdapter) Verify(ctx context.Context, target rollback.Target) error {
	services, err := servicesOfKind(a.services, rollback.ServiceFrontend, target)
	if err != nil {
		return err
	}

	var verifyErrors []error
	for _, svc := range services {
		platforms, err := a.platformsFor(svc, target)
		if err != nil {
			verifyErrors = append(verifyErrors, err)
			continue
		}
		for _, platform := range platforms {
			expected, err := a.registry.CurrentVersion(svc.Name, platform)
			if err != nil {
				verifyErrors = append(verifyErrors, fmt.Errorf("no current %s version recorded for %q: %w", platform, svc.Name, err))
				continue
			}
			if platform != "web" {
				// The registry is authoritative for mobile update channels.
				continue
			}

			active, err := a.cdn.ActiveVersion(ctx, svc.Name)
			if err != nil {
				verifyErrors = append(verifyErrors, fmt.Errorf("failed to query cdn for %q: %w", svc.Name, err))
				continue
			}
			if active != expected.Version {
				verifyErrors = append(verifyErrors,
					fmt.Errorf("cdn serves %s for %q, expected %s", active, svc.Name, expected.Version))
			}
		}
	}
	return errors.Join(verifyErrors...)
}
