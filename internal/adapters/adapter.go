package adapters

import (
	"context"
	"fmt"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/rollback"
)

// Adapter plans and verifies rollbacks for one service kind. Plan resolves
// the previous stable state up front and returns steps that close over it,
// so a mid-rollback registry change cannot split one run across two
// versions.
type Adapter interface {
	Service() rollback.Service

	// Validate rejects targets this adapter cannot execute. It runs at
	// submission time and must not touch external systems.
	Validate(target rollback.Target) error

	Plan(ctx context.Context, executionID string, target rollback.Target) ([]PlannedStep, error)

	// Verify confirms the rolled-back state actually took effect.
	Verify(ctx context.Context, target rollback.Target) error
}

// PlannedStep is one unit of rollback work, ready to run. Run returns a
// human-readable detail on success.
type PlannedStep struct {
	Name          string
	TargetService rollback.Service
	Environment   string
	Run           func(ctx context.Context) (string, error)
}

// AdapterError describes a step failure with enough context to decide
// whether another attempt can help.
type AdapterError struct {
	Target    rollback.Target
	Reason    string
	Retryable bool
	Err       error
}

func (e *AdapterError) Error() string {
	msg := fmt.Sprintf("%s/%s: %s", e.Target.Service, e.Target.Environment, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Retryable marks a transient failure, worth another attempt.
func Retryable(target rollback.Target, reason string, err error) *AdapterError {
	return &AdapterError{Target: target, Reason: reason, Retryable: true, Err: err}
}

// Permanent marks a failure that retrying cannot fix.
func Permanent(target rollback.Target, reason string, err error) *AdapterError {
	return &AdapterError{Target: target, Reason: reason, Retryable: false, Err: err}
}

// Registry maps service kinds to their adapters.
type Registry struct {
	adapters map[rollback.Service]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[rollback.Service]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Service()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) ForService(service rollback.Service) (Adapter, error) {
	adapter, ok := r.adapters[service]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for service %q", service)
	}
	return adapter, nil
}

// ValidateTarget checks structural validity and then defers to the owning
// adapter for strategy-specific rules.
func (r *Registry) ValidateTarget(target rollback.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	adapter, err := r.ForService(target.Service)
	if err != nil {
		return err
	}
	return adapter.Validate(target)
}

// servicesOfKind selects the configured services a target applies to. The
// optional "service" option narrows the rollback to one named service.
func servicesOfKind(services []config.ServiceConfig, kind rollback.Service, target rollback.Target) ([]config.ServiceConfig, error) {
	only := target.Option("service", "")

	var matched []config.ServiceConfig
	for _, svc := range services {
		if svc.Kind != string(kind) {
			continue
		}
		if only != "" && svc.Name != only {
			continue
		}
		matched = append(matched, svc)
	}

	if len(matched) == 0 {
		if only != "" {
			return nil, fmt.Errorf("no %s service named %q is configured", kind, only)
		}
		return nil, fmt.Errorf("no %s services are configured", kind)
	}
	return matched, nil
}
