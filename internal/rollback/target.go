package rollback

import (
	"fmt"
	"slices"
)

// Service identifies which part of a deployment a target rolls back.
type Service string

const (
	ServiceBackend  Service = "backend"
	ServiceFrontend Service = "frontend"
	ServiceDatabase Service = "database"
	ServiceCustom   Service = "custom"
)

// Strategy selects the rollback mechanics for a target.
type Strategy string

const (
	StrategyBlueGreen             Strategy = "blue_green"
	StrategyRolling               Strategy = "rolling"
	StrategyImmediate             Strategy = "immediate"
	StrategyDatabaseMigration     Strategy = "database_migration"
	StrategyFrontendMultiPlatform Strategy = "frontend_multi_platform"
	StrategyCommand               Strategy = "command"
)

// supportedStrategies is the authoritative service/strategy compatibility
// table. Unsupported combinations are rejected at submission, never at
// execution time.
var supportedStrategies = map[Service][]Strategy{
	ServiceBackend:  {StrategyBlueGreen, StrategyRolling, StrategyImmediate},
	ServiceFrontend: {StrategyFrontendMultiPlatform, StrategyImmediate},
	ServiceDatabase: {StrategyDatabaseMigration},
	ServiceCustom:   {StrategyCommand},
}

func SupportedStrategies(service Service) []Strategy {
	return slices.Clone(supportedStrategies[service])
}

// Target describes what to roll back and how. Options carry strategy-specific
// settings and are validated by the owning adapter.
type Target struct {
	Service     Service           `json:"service"`
	Environment string            `json:"environment"`
	Strategy    Strategy          `json:"strategy"`
	Options     map[string]string `json:"options,omitempty"`
}

func (t Target) Validate() error {
	strategies, ok := supportedStrategies[t.Service]
	if !ok {
		return fmt.Errorf("unknown service: %q", t.Service)
	}
	if !slices.Contains(strategies, t.Strategy) {
		return fmt.Errorf("service %q does not support strategy %q", t.Service, t.Strategy)
	}
	return nil
}

func (t Target) Option(key, fallback string) string {
	if v, ok := t.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}
