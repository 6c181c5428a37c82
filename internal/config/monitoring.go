package config

import (
	"fmt"
	"slices"
)

type MonitoringConfig struct {
	Enabled          bool          `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	IntervalSeconds  *int          `json:"intervalSeconds,omitempty" yaml:"interval_seconds,omitempty" toml:"interval_seconds,omitempty"`
	RetentionMinutes *int          `json:"retentionMinutes,omitempty" yaml:"retention_minutes,omitempty" toml:"retention_minutes,omitempty"`
	Checks           []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty" toml:"checks,omitempty"`
	Rules            []RuleConfig  `json:"rules,omitempty" yaml:"rules,omitempty" toml:"rules,omitempty"`
}

const (
	CheckTypeHTTPResponse       = "http_response"
	CheckTypeDatabaseConnection = "database_connection"
	CheckTypeSystemResource     = "system_resource"
	CheckTypeCustom             = "custom"
)

var validCheckTypes = []string{
	CheckTypeHTTPResponse,
	CheckTypeDatabaseConnection,
	CheckTypeSystemResource,
	CheckTypeCustom,
}

// CheckConfig describes one periodic health probe. The fields a check uses
// depend on its type; Validate enforces the per-type requirements.
type CheckConfig struct {
	ID              string `json:"id" yaml:"id" toml:"id"`
	Type            string `json:"type" yaml:"type" toml:"type"`
	Service         string `json:"service" yaml:"service" toml:"service"`
	IntervalSeconds *int   `json:"intervalSeconds,omitempty" yaml:"interval_seconds,omitempty" toml:"interval_seconds,omitempty"`
	TimeoutSeconds  *int   `json:"timeoutSeconds,omitempty" yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"`

	// http_response
	URL            string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	ExpectedStatus int    `json:"expectedStatus,omitempty" yaml:"expected_status,omitempty" toml:"expected_status,omitempty"`

	// database_connection, optional. Empty means a plain reachability ping.
	Query string `json:"query,omitempty" yaml:"query,omitempty" toml:"query,omitempty"`

	// system_resource
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty" toml:"resource,omitempty"`

	// custom
	Command string `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`

	// Thresholds turn a measured value into warning or critical status.
	WarnAbove *float64 `json:"warnAbove,omitempty" yaml:"warn_above,omitempty" toml:"warn_above,omitempty"`
	CritAbove *float64 `json:"critAbove,omitempty" yaml:"crit_above,omitempty" toml:"crit_above,omitempty"`
}

func (cc *CheckConfig) Validate(knownServices map[string]bool) error {
	if cc.ID == "" {
		return fmt.Errorf("check 'id' cannot be empty")
	}
	if !slices.Contains(validCheckTypes, cc.Type) {
		return fmt.Errorf("check '%s' has invalid type '%s'", cc.ID, cc.Type)
	}
	if cc.Service == "" {
		return fmt.Errorf("check '%s' is missing a service", cc.ID)
	}
	if len(knownServices) > 0 && !knownServices[cc.Service] {
		return fmt.Errorf("check '%s' references unknown service '%s'", cc.ID, cc.Service)
	}

	switch cc.Type {
	case CheckTypeHTTPResponse:
		if cc.URL == "" {
			return fmt.Errorf("check '%s': http_response checks require a url", cc.ID)
		}
	case CheckTypeSystemResource:
		if !slices.Contains([]string{"cpu", "memory", "disk"}, cc.Resource) {
			return fmt.Errorf("check '%s' has invalid resource '%s' (must be 'cpu', 'memory', or 'disk')", cc.ID, cc.Resource)
		}
	case CheckTypeCustom:
		if cc.Command == "" {
			return fmt.Errorf("check '%s': custom checks require a command", cc.ID)
		}
	}

	if cc.IntervalSeconds != nil && *cc.IntervalSeconds < 1 {
		return fmt.Errorf("check '%s': interval must be at least 1 second", cc.ID)
	}
	if cc.WarnAbove != nil && cc.CritAbove != nil && *cc.WarnAbove > *cc.CritAbove {
		return fmt.Errorf("check '%s': warn_above cannot exceed crit_above", cc.ID)
	}
	return nil
}

const (
	ActionAlert        = "alert"
	ActionRollback     = "rollback"
	ActionPreserveLogs = "preserve_logs"
)

var validRuleActions = []string{ActionAlert, ActionRollback, ActionPreserveLogs}

// RuleConfig couples a condition with the actions to run when it holds.
// Rules are evaluated highest priority first, and a fired rule sleeps for its
// cooldown before it can fire again.
type RuleConfig struct {
	ID              string    `json:"id" yaml:"id" toml:"id"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Priority        int       `json:"priority,omitempty" yaml:"priority,omitempty" toml:"priority,omitempty"`
	CooldownMinutes *int      `json:"cooldownMinutes,omitempty" yaml:"cooldown_minutes,omitempty" toml:"cooldown_minutes,omitempty"`
	When            Condition `json:"when" yaml:"when" toml:"when"`
	Actions         []string  `json:"actions" yaml:"actions" toml:"actions"`
}

func (rc *RuleConfig) Validate(knownChecks map[string]bool, knownServices map[string]bool) error {
	if rc.ID == "" {
		return fmt.Errorf("rule 'id' cannot be empty")
	}
	if err := rc.When.Validate(knownChecks, knownServices); err != nil {
		return fmt.Errorf("rule '%s': %w", rc.ID, err)
	}
	if len(rc.Actions) == 0 {
		return fmt.Errorf("rule '%s' has no actions", rc.ID)
	}
	for _, action := range rc.Actions {
		if !slices.Contains(validRuleActions, action) {
			return fmt.Errorf("rule '%s' has invalid action '%s' (must be 'alert', 'rollback', or 'preserve_logs')", rc.ID, action)
		}
	}
	if rc.CooldownMinutes != nil && *rc.CooldownMinutes < 0 {
		return fmt.Errorf("rule '%s': cooldown cannot be negative", rc.ID)
	}
	return nil
}

// Condition is a structured rule predicate. Exactly one form must be set:
// a threshold on a check's measured value, a failure count over a service's
// recent samples, a status match, or a combinator over sub-conditions.
// Conditions are data, never evaluated strings.
type Condition struct {
	Threshold    *ThresholdCondition    `json:"threshold,omitempty" yaml:"threshold,omitempty" toml:"threshold,omitempty"`
	FailureCount *FailureCountCondition `json:"failureCount,omitempty" yaml:"failure_count,omitempty" toml:"failure_count,omitempty"`
	StatusIs     *StatusCondition       `json:"statusIs,omitempty" yaml:"status_is,omitempty" toml:"status_is,omitempty"`
	All          []Condition            `json:"all,omitempty" yaml:"all,omitempty" toml:"all,omitempty"`
	Any          []Condition            `json:"any,omitempty" yaml:"any,omitempty" toml:"any,omitempty"`
}

// ThresholdCondition holds when the last Samples values of a check all
// violate the operator against Value. Samples defaults to 1, the most recent
// sample only.
type ThresholdCondition struct {
	CheckID  string  `json:"checkId" yaml:"check_id" toml:"check_id"`
	Operator string  `json:"operator" yaml:"operator" toml:"operator"`
	Value    float64 `json:"value" yaml:"value" toml:"value"`
	Samples  int     `json:"samples,omitempty" yaml:"samples,omitempty" toml:"samples,omitempty"`
}

// FailureCountCondition holds when at least MinFailures of the service's most
// recent Window samples are non-healthy, pooled across all of the service's
// checks.
type FailureCountCondition struct {
	Service     string `json:"service" yaml:"service" toml:"service"`
	Window      int    `json:"window" yaml:"window" toml:"window"`
	MinFailures int    `json:"minFailures" yaml:"min_failures" toml:"min_failures"`
}

// StatusCondition matches the current status of a single check or the
// aggregated status of a service. Exactly one of CheckID and Service is set.
type StatusCondition struct {
	CheckID string `json:"checkId,omitempty" yaml:"check_id,omitempty" toml:"check_id,omitempty"`
	Service string `json:"service,omitempty" yaml:"service,omitempty" toml:"service,omitempty"`
	Status  string `json:"status" yaml:"status" toml:"status"`
}

var validOperators = []string{"gt", "gte", "lt", "lte", "eq"}
var validStatuses = []string{"healthy", "warning", "critical", "unknown"}

func (c *Condition) Validate(knownChecks map[string]bool, knownServices map[string]bool) error {
	forms := 0
	if c.Threshold != nil {
		forms++
	}
	if c.FailureCount != nil {
		forms++
	}
	if c.StatusIs != nil {
		forms++
	}
	if len(c.All) > 0 {
		forms++
	}
	if len(c.Any) > 0 {
		forms++
	}
	if forms == 0 {
		return fmt.Errorf("condition must specify one of 'threshold', 'failure_count', 'status_is', 'all', or 'any'")
	}
	if forms > 1 {
		return fmt.Errorf("condition can only specify one of 'threshold', 'failure_count', 'status_is', 'all', or 'any'")
	}

	if c.Threshold != nil {
		th := c.Threshold
		if th.CheckID == "" {
			return fmt.Errorf("threshold condition is missing a check_id")
		}
		if len(knownChecks) > 0 && !knownChecks[th.CheckID] {
			return fmt.Errorf("threshold condition references unknown check '%s'", th.CheckID)
		}
		if !slices.Contains(validOperators, th.Operator) {
			return fmt.Errorf("threshold operator '%s' is invalid (must be 'gt', 'gte', 'lt', 'lte', or 'eq')", th.Operator)
		}
		if th.Samples < 0 {
			return fmt.Errorf("threshold samples cannot be negative")
		}
	}

	if c.FailureCount != nil {
		fc := c.FailureCount
		if fc.Service == "" {
			return fmt.Errorf("failure_count condition is missing a service")
		}
		if len(knownServices) > 0 && !knownServices[fc.Service] {
			return fmt.Errorf("failure_count condition references unknown service '%s'", fc.Service)
		}
		if fc.Window < 1 {
			return fmt.Errorf("failure_count window must be at least 1")
		}
		if fc.MinFailures < 1 {
			return fmt.Errorf("failure_count min_failures must be at least 1")
		}
	}

	if c.StatusIs != nil {
		st := c.StatusIs
		if st.CheckID == "" && st.Service == "" {
			return fmt.Errorf("status condition needs a check_id or a service")
		}
		if st.CheckID != "" && st.Service != "" {
			return fmt.Errorf("status condition cannot have both check_id and service")
		}
		if st.CheckID != "" && len(knownChecks) > 0 && !knownChecks[st.CheckID] {
			return fmt.Errorf("status condition references unknown check '%s'", st.CheckID)
		}
		if st.Service != "" && len(knownServices) > 0 && !knownServices[st.Service] {
			return fmt.Errorf("status condition references unknown service '%s'", st.Service)
		}
		if !slices.Contains(validStatuses, st.Status) {
			return fmt.Errorf("status '%s' is invalid (must be 'healthy', 'warning', 'critical', or 'unknown')", st.Status)
		}
	}

	for i := range c.All {
		if err := c.All[i].Validate(knownChecks, knownServices); err != nil {
			return fmt.Errorf("all[%d]: %w", i, err)
		}
	}
	for i := range c.Any {
		if err := c.Any[i].Validate(knownChecks, knownServices); err != nil {
			return fmt.Errorf("any[%d]: %w", i, err)
		}
	}
	return nil
}

func (mc *MonitoringConfig) Validate(knownServices map[string]bool) error {
	if mc.IntervalSeconds != nil && *mc.IntervalSeconds < 1 {
		return fmt.Errorf("monitoring.interval_seconds must be at least 1")
	}
	if mc.RetentionMinutes != nil && *mc.RetentionMinutes < 1 {
		return fmt.Errorf("monitoring.retention_minutes must be at least 1")
	}

	knownChecks := make(map[string]bool, len(mc.Checks))
	for i := range mc.Checks {
		check := &mc.Checks[i]
		if err := check.Validate(knownServices); err != nil {
			return fmt.Errorf("monitoring.checks[%d]: %w", i, err)
		}
		if knownChecks[check.ID] {
			return fmt.Errorf("duplicate check id: '%s'", check.ID)
		}
		knownChecks[check.ID] = true
	}

	seenRules := make(map[string]bool, len(mc.Rules))
	for i := range mc.Rules {
		rule := &mc.Rules[i]
		if err := rule.Validate(knownChecks, knownServices); err != nil {
			return fmt.Errorf("monitoring.rules[%d]: %w", i, err)
		}
		if seenRules[rule.ID] {
			return fmt.Errorf("duplicate rule id: '%s'", rule.ID)
		}
		seenRules[rule.ID] = true
	}
	return nil
}
