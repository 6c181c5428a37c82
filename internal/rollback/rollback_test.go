package rollback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIDSortable(t *testing.T) {
	now := time.Now()
	id1 := NewID(now)
	id2 := NewID(now.Add(time.Second))

	assert.Len(t, id1, 26)
	assert.NotEqual(t, id1, id2)
	assert.Greater(t, id2, id1, "IDs should sort by creation time")
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{
			name:   "backend blue_green",
			target: Target{Service: ServiceBackend, Strategy: StrategyBlueGreen},
		},
		{
			name:   "backend rolling",
			target: Target{Service: ServiceBackend, Strategy: StrategyRolling},
		},
		{
			name:   "database migration",
			target: Target{Service: ServiceDatabase, Strategy: StrategyDatabaseMigration},
		},
		{
			name:   "frontend multi platform",
			target: Target{Service: ServiceFrontend, Strategy: StrategyFrontendMultiPlatform},
		},
		{
			name:    "database blue_green is not a thing",
			target:  Target{Service: ServiceDatabase, Strategy: StrategyBlueGreen},
			wantErr: true,
		},
		{
			name:    "frontend rolling unsupported",
			target:  Target{Service: ServiceFrontend, Strategy: StrategyRolling},
			wantErr: true,
		},
		{
			name:    "unknown service",
			target:  Target{Service: "cache", Strategy: StrategyImmediate},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	active := []Status{StatusPending, StatusResolving, StatusExecuting, StatusVerifying}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestWorse(t *testing.T) {
	assert.Equal(t, StatusCritical, Worse(StatusHealthy, StatusCritical))
	assert.Equal(t, StatusCritical, Worse(StatusCritical, StatusWarning))
	assert.Equal(t, StatusWarning, Worse(StatusWarning, StatusUnknown))
	assert.Equal(t, StatusHealthy, Worse(StatusHealthy, StatusHealthy))
}

func TestTerminalStatus(t *testing.T) {
	now := time.Now()
	step := func(service Service, name string, outcome Outcome, attempt int) Step {
		return Step{
			TargetService: service,
			Name:          name,
			Outcome:       outcome,
			Attempt:       attempt,
			StartedAt:     now,
			FinishedAt:    now,
		}
	}

	tests := []struct {
		name         string
		steps        []Step
		verification *Verification
		want         Status
	}{
		{
			name: "all succeeded and healthy",
			steps: []Step{
				step(ServiceDatabase, "rollback_to", OutcomeSucceeded, 1),
				step(ServiceBackend, "switch_traffic", OutcomeSucceeded, 1),
			},
			verification: &Verification{Status: StatusHealthy},
			want:         StatusCompleted,
		},
		{
			name: "all succeeded but verification critical",
			steps: []Step{
				step(ServiceBackend, "switch_traffic", OutcomeSucceeded, 1),
			},
			verification: &Verification{Status: StatusCritical},
			want:         StatusPartiallyCompleted,
		},
		{
			name: "all succeeded without a verifier",
			steps: []Step{
				step(ServiceBackend, "switch_traffic", OutcomeSucceeded, 1),
			},
			want: StatusCompleted,
		},
		{
			name: "mixed outcomes",
			steps: []Step{
				step(ServiceDatabase, "rollback_to", OutcomeSucceeded, 1),
				step(ServiceBackend, "switch_traffic", OutcomeFailed, 1),
				step(ServiceFrontend, "sync_assets", OutcomeSkipped, 1),
			},
			verification: &Verification{Status: StatusHealthy},
			want:         StatusPartiallyCompleted,
		},
		{
			name: "zero successful steps",
			steps: []Step{
				step(ServiceBackend, "switch_traffic", OutcomeFailed, 1),
			},
			want: StatusFailed,
		},
		{
			name: "retry supersedes earlier failed attempt",
			steps: []Step{
				step(ServiceBackend, "switch_traffic", OutcomeFailed, 1),
				step(ServiceBackend, "switch_traffic", OutcomeSucceeded, 2),
			},
			verification: &Verification{Status: StatusHealthy},
			want:         StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &Execution{Steps: tt.steps}
			assert.Equal(t, tt.want, exec.TerminalStatus(tt.verification))
		})
	}
}
