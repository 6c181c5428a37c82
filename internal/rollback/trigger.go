package rollback

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// Reason describes why a rollback was requested.
type Reason string

const (
	ReasonManual                 Reason = "manual"
	ReasonPerformanceDegradation Reason = "performance_degradation"
	ReasonErrorRate              Reason = "error_rate"
	ReasonHealthCheckFailure     Reason = "health_check_failure"
	ReasonExternalSignal         Reason = "external_signal"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonManual, ReasonPerformanceDegradation, ReasonErrorRate, ReasonHealthCheckFailure, ReasonExternalSignal:
		return true
	}
	return false
}

// Trigger is the immutable record of a single rollback request. It is created
// once, referenced by exactly one execution, and never mutated.
type Trigger struct {
	TriggerID    string    `json:"trigger_id"`
	Reason       Reason    `json:"reason"`
	TriggeredBy  string    `json:"triggered_by"`
	DeploymentID string    `json:"deployment_id"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewTrigger(reason Reason, triggeredBy, deploymentID, message string, now time.Time) Trigger {
	return Trigger{
		TriggerID:    NewID(now),
		Reason:       reason,
		TriggeredBy:  triggeredBy,
		DeploymentID: deploymentID,
		Message:      message,
		CreatedAt:    now,
	}
}

func (t Trigger) Validate() error {
	if t.DeploymentID == "" {
		return fmt.Errorf("trigger is missing a deployment ID")
	}
	if !t.Reason.Valid() {
		return fmt.Errorf("unknown trigger reason: %q", t.Reason)
	}
	return nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a ULID. ULIDs sort by creation time, so trigger and execution
// IDs double as a chronological ordering key.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
