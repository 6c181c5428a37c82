package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/rollback"
)

func warmerService(command string) config.ServiceConfig {
	return config.ServiceConfig{
		Name:            "cache-warmer",
		Kind:            "custom",
		RollbackCommand: command,
	}
}

func customTarget(options map[string]string) rollback.Target {
	return rollback.Target{
		Service:     rollback.ServiceCustom,
		Environment: "production",
		Strategy:    rollback.StrategyCommand,
		Options:     options,
	}
}

func TestCustomRunsConfiguredCommand(t *testing.T) {
	adapter := NewCustomAdapter([]config.ServiceConfig{warmerService("echo rollback-ok")}, testLogger())

	steps, err := adapter.Plan(context.Background(), "01EXEC", customTarget(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"run-rollback-command-cache-warmer"}, stepNames(steps))

	details := runPlan(t, steps)
	assert.Contains(t, details[0], "rollback-ok")
}

func TestCustomCommandSeesRollbackEnvironment(t *testing.T) {
	adapter := NewCustomAdapter([]config.ServiceConfig{
		warmerService(`echo "$REWIND_EXECUTION_ID/$REWIND_SERVICE/$REWIND_ENVIRONMENT"`),
	}, testLogger())

	steps, err := adapter.Plan(context.Background(), "01EXEC", customTarget(nil))
	require.NoError(t, err)

	details := runPlan(t, steps)
	assert.Contains(t, details[0], "01EXEC/cache-warmer/production")
}

func TestCustomCommandFailureIsPermanent(t *testing.T) {
	adapter := NewCustomAdapter([]config.ServiceConfig{warmerService("echo broken >&2; exit 3")}, testLogger())

	steps, err := adapter.Plan(context.Background(), "01EXEC", customTarget(nil))
	require.NoError(t, err)

	_, runErr := steps[0].Run(context.Background())
	var adapterErr *AdapterError
	require.ErrorAs(t, runErr, &adapterErr)
	assert.Equal(t, "command_failed", adapterErr.Reason)
	assert.False(t, adapterErr.Retryable)
	assert.Contains(t, adapterErr.Error(), "broken")
}

func TestCustomRetryableOptIn(t *testing.T) {
	adapter := NewCustomAdapter([]config.ServiceConfig{warmerService("exit 1")}, testLogger())

	steps, err := adapter.Plan(context.Background(), "01EXEC", customTarget(map[string]string{"retryable": "true"}))
	require.NoError(t, err)

	_, runErr := steps[0].Run(context.Background())
	var adapterErr *AdapterError
	require.ErrorAs(t, runErr, &adapterErr)
	assert.True(t, adapterErr.Retryable)
}

func TestCustomCommandOptionOverridesConfig(t *testing.T) {
	adapter := NewCustomAdapter([]config.ServiceConfig{warmerService("echo from-config")}, testLogger())

	steps, err := adapter.Plan(context.Background(), "01EXEC", customTarget(map[string]string{"command": "echo from-option"}))
	require.NoError(t, err)

	details := runPlan(t, steps)
	assert.Contains(t, details[0], "from-option")
	assert.NotContains(t, details[0], "from-config")
}

func TestCustomValidateMissingCommand(t *testing.T) {
	adapter := NewCustomAdapter([]config.ServiceConfig{warmerService("")}, testLogger())

	err := adapter.Validate(customTarget(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no rollback command")
}

func TestCustomVerifyCommand(t *testing.T) {
	adapter := NewCustomAdapter([]config.ServiceConfig{warmerService("echo ok")}, testLogger())

	// No verify command configured means nothing to check.
	require.NoError(t, adapter.Verify(context.Background(), customTarget(nil)))

	err := adapter.Verify(context.Background(), customTarget(map[string]string{"verify_command": "exit 2"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify command failed")
}

func TestRegistryRoutesAndValidates(t *testing.T) {
	registry := NewRegistry(
		NewCustomAdapter([]config.ServiceConfig{warmerService("echo ok")}, testLogger()),
		NewDatabaseAdapter(&fakeTool{}, testLogger()),
	)

	adapter, err := registry.ForService(rollback.ServiceCustom)
	require.NoError(t, err)
	assert.Equal(t, rollback.ServiceCustom, adapter.Service())

	_, err = registry.ForService(rollback.ServiceBackend)
	require.Error(t, err)

	// Structural validation runs before the adapter sees the target.
	err = registry.ValidateTarget(rollback.Target{Service: rollback.ServiceCustom, Strategy: rollback.StrategyBlueGreen})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support strategy")

	require.NoError(t, registry.ValidateTarget(customTarget(nil)))
}
