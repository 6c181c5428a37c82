package store

import (
	"database/sql"
	"fmt"
	"time"
)

const ruleStateSchema = `
CREATE TABLE IF NOT EXISTS rule_state (
	rule_id TEXT PRIMARY KEY,
	last_fired_at DATETIME NOT NULL
);
`

func createRuleStateTable(s *Store) error {
	if _, err := s.Exec(ruleStateSchema); err != nil {
		return fmt.Errorf("failed to create rule_state table: %w", err)
	}
	return nil
}

type ruleStateRow struct {
	RuleID      string    `db:"rule_id"`
	LastFiredAt time.Time `db:"last_fired_at"`
}

// SetRuleLastFired persists the fire timestamp for a rule so cooldowns
// survive a daemon restart.
func (s *Store) SetRuleLastFired(ruleID string, firedAt time.Time) error {
	query := `INSERT INTO rule_state (rule_id, last_fired_at)
		VALUES (?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET last_fired_at = excluded.last_fired_at`
	if _, err := s.Exec(query, ruleID, firedAt); err != nil {
		return fmt.Errorf("failed to set last fired for rule %s: %w", ruleID, err)
	}
	return nil
}

// RuleLastFired returns when a rule last fired, or ErrNotFound if it never
// has.
func (s *Store) RuleLastFired(ruleID string) (time.Time, error) {
	var row ruleStateRow
	err := s.Get(&row, `SELECT * FROM rule_state WHERE rule_id = ?`, ruleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("failed to get last fired for rule %s: %w", ruleID, err)
	}
	return row.LastFiredAt, nil
}

// AllRuleLastFired returns the fire timestamps for every known rule, keyed by
// rule ID. Loaded once at startup to seed the evaluator.
func (s *Store) AllRuleLastFired() (map[string]time.Time, error) {
	var rows []ruleStateRow
	if err := s.Select(&rows, `SELECT * FROM rule_state`); err != nil {
		return nil, fmt.Errorf("failed to list rule state: %w", err)
	}
	fired := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		fired[row.RuleID] = row.LastFiredAt
	}
	return fired, nil
}
