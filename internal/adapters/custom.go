package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/helpers"
	"github.com/rewindlabs/rewind/internal/rollback"
)

// CustomAdapter runs operator-supplied rollback commands for services the
// built-in adapters cannot model.
type CustomAdapter struct {
	services []config.ServiceConfig
	logger   *slog.Logger
}

func NewCustomAdapter(services []config.ServiceConfig, logger *slog.Logger) *CustomAdapter {
	return &CustomAdapter{services: services, logger: logger}
}

func (a *CustomAdapter) Service() rollback.Service {
	return rollback.ServiceCustom
}

// commandFor resolves the command to run, with the "command" option taking
// precedence over the configured rollback_command.
func commandFor(svc config.ServiceConfig, target rollback.Target) string {
	return target.Option("command", svc.RollbackCommand)
}

func (a *CustomAdapter) Validate(target rollback.Target) error {
	services, err := servicesOfKind(a.services, rollback.ServiceCustom, target)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if commandFor(svc, target) == "" {
			return fmt.Errorf("service %q has no rollback command", svc.Name)
		}
	}
	return nil
}

func (a *CustomAdapter) Plan(ctx context.Context, executionID string, target rollback.Target) ([]PlannedStep, error) {
	services, err := servicesOfKind(a.services, rollback.ServiceCustom, target)
	if err != nil {
		return nil, err
	}

	// Command exit codes are treated as final unless the operator opts into
	// retries for a command they know to be idempotent.
	retryable := target.Option("retryable", "false") == "true"

	steps := make([]PlannedStep, 0, len(services))
	for _, svc := range services {
		service := svc
		command := commandFor(service, target)
		steps = append(steps, PlannedStep{
			Name:          fmt.Sprintf("run-rollback-command-%s", service.Name),
			TargetService: rollback.ServiceCustom,
			Environment:   target.Environment,
			Run: func(ctx context.Context) (string, error) {
				output, err := a.runCommand(ctx, executionID, target, service, command)
				if err != nil {
					if retryable {
						return "", Retryable(target, "command_failed", err)
					}
					return "", Permanent(target, "command_failed", err)
				}
				if output == "" {
					return "command completed", nil
				}
				return output, nil
			},
		})
	}
	return steps, nil
}

func (a *CustomAdapter) runCommand(ctx context.Context, executionID string, target rollback.Target, svc config.ServiceConfig, command string) (string, error) {
	a.logger.Info("running rollback command", "service", svc.Name, "command", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("REWIND_EXECUTION_ID=%s", executionID),
		fmt.Sprintf("REWIND_SERVICE=%s", svc.Name),
		fmt.Sprintf("REWIND_ENVIRONMENT=%s", target.Environment),
	)
	for _, e := range svc.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", e.Name, e.Value))
	}

	output, err := cmd.CombinedOutput()
	trimmed := helpers.TruncateString(string(output), 500)
	if err != nil {
		if len(trimmed) > 0 {
			return "", fmt.Errorf("%w: %s", err, trimmed)
		}
		return "", err
	}
	return trimmed, nil
}

func (a *CustomAdapter) Verify(ctx context.Context, target rollback.Target) error {
	verifyCommand := target.Option("verify_command", "")
	if verifyCommand == "" {
		return nil
	}

	services, err := servicesOfKind(a.services, rollback.ServiceCustom, target)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if _, err := a.runCommand(ctx, "", target, svc, verifyCommand); err != nil {
			return fmt.Errorf("verify command failed for %q: %w", svc.Name, err)
		}
	}
	return nil
}
