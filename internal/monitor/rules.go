package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/notify"
	"github.com/rewindlabs/rewind/internal/rollback"
)

// evaluateRules walks the rules in priority order against one snapshot and
// dispatches the actions of every rule that holds and is not cooling down.
func (m *Monitor) evaluateRules(ctx context.Context, snap *Snapshot) {
	now := m.now()
	for i := range m.rules {
		rule := &m.rules[i]
		if !m.evalCondition(&rule.When, snap) {
			continue
		}
		if !m.tryFire(rule, now) {
			m.logger.Debug("rule condition holds but rule is cooling down", "rule_id", rule.ID)
			continue
		}
		m.dispatch(ctx, rule)
	}
}

func (m *Monitor) evalCondition(c *config.Condition, snap *Snapshot) bool {
	switch {
	case c.Threshold != nil:
		return m.thresholdHolds(c.Threshold, snap)
	case c.FailureCount != nil:
		fc := c.FailureCount
		return snap.FailureCount(fc.Service, fc.Window) >= fc.MinFailures
	case c.StatusIs != nil:
		return statusHolds(c.StatusIs, snap)
	case len(c.All) > 0:
		for i := range c.All {
			if !m.evalCondition(&c.All[i], snap) {
				return false
			}
		}
		return true
	case len(c.Any) > 0:
		for i := range c.Any {
			if m.evalCondition(&c.Any[i], snap) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// thresholdHolds requires the check's last Samples values to all violate the
// threshold. Fewer samples than required means the condition does not hold
// yet.
func (m *Monitor) thresholdHolds(th *config.ThresholdCondition, snap *Snapshot) bool {
	samples := th.Samples
	if samples < 1 {
		samples = 1
	}
	window := snap.Results(th.CheckID)
	if len(window) < samples {
		return false
	}
	for _, result := range window[len(window)-samples:] {
		if !compare(result.Value, th.Operator, th.Value) {
			return false
		}
	}
	return true
}

func statusHolds(st *config.StatusCondition, snap *Snapshot) bool {
	want := rollback.HealthStatus(st.Status)
	if st.CheckID != "" {
		latest, ok := snap.Latest(st.CheckID)
		if !ok {
			return want == rollback.StatusUnknown
		}
		return latest.Status == want
	}
	return snap.ServiceStatus(st.Service) == want
}

func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	default:
		return false
	}
}

// tryFire claims the right to fire under the rule's cooldown. The in-memory
// decision and the timestamp update happen under one lock so concurrent
// evaluations cannot double-fire; persistence failures are logged, not fatal,
// because a missed cooldown after restart is cheaper than a missed action.
func (m *Monitor) tryFire(rule *config.RuleConfig, now time.Time) bool {
	cooldownMinutes := constants.DefaultRuleCooldownMinutes
	if rule.CooldownMinutes != nil {
		cooldownMinutes = *rule.CooldownMinutes
	}
	cooldown := time.Duration(cooldownMinutes) * time.Minute

	m.fireMu.Lock()
	last, fired := m.lastFired[rule.ID]
	if fired && now.Sub(last) < cooldown {
		m.fireMu.Unlock()
		return false
	}
	m.lastFired[rule.ID] = now
	m.fireMu.Unlock()

	if err := m.ruleState.SetRuleLastFired(rule.ID, now); err != nil {
		m.logger.Error("failed to persist rule fire time", "rule_id", rule.ID, "error", err)
	}
	return true
}

// dispatch runs the fired rule's actions in their configured order.
func (m *Monitor) dispatch(ctx context.Context, rule *config.RuleConfig) {
	service := m.conditionService(&rule.When)
	m.logger.Warn("monitoring rule fired",
		"rule_id", rule.ID,
		"priority", rule.Priority,
		"service", service,
		"actions", rule.Actions)

	for _, action := range rule.Actions {
		m.metrics.RuleFiredTotal.WithLabelValues(rule.ID, action).Inc()
		switch action {
		case config.ActionAlert:
			message := rule.Description
			if message == "" {
				message = fmt.Sprintf("service %q is unhealthy", service)
			}
			m.notifier.Dispatch(notify.Event{
				Type:         notify.EventRuleFired,
				DeploymentID: m.deploymentID,
				Title:        fmt.Sprintf("Rule %s fired", rule.ID),
				Message:      message,
				Severity:     "warning",
				Time:         m.now(),
			})
		case config.ActionRollback:
			if m.sink == nil {
				m.logger.Warn("rule requested a rollback but no action sink is wired", "rule_id", rule.ID)
				continue
			}
			m.sink.RollbackRequested(ctx, *rule, service)
		case config.ActionPreserveLogs:
			path, err := m.archiver.PreserveLogs(rule.ID)
			if err != nil {
				m.logger.Error("failed to preserve logs", "rule_id", rule.ID, "error", err)
				continue
			}
			m.logger.Info("logs preserved", "rule_id", rule.ID, "archive", path)
		}
	}
}

// conditionService resolves which service a rule is about, for notifications
// and rollback target selection. Combinators take the first resolvable child.
func (m *Monitor) conditionService(c *config.Condition) string {
	switch {
	case c.FailureCount != nil:
		return c.FailureCount.Service
	case c.StatusIs != nil && c.StatusIs.Service != "":
		return c.StatusIs.Service
	case c.StatusIs != nil:
		return m.checkServices[c.StatusIs.CheckID]
	case c.Threshold != nil:
		return m.checkServices[c.Threshold.CheckID]
	}
	for i := range c.All {
		if service := m.conditionService(&c.All[i]); service != "" {
			return service
		}
	}
	for i := range c.Any {
		if service := m.conditionService(&c.Any[i]); service != "" {
			return service
		}
	}
	return ""
}
