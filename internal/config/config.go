package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"slices"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/helpers"
	"github.com/rewindlabs/rewind/internal/rollback"
)

// Config is the full rewindd configuration for one deployment.
type Config struct {
	Server        ServerConfig     `json:"server,omitempty" yaml:"server,omitempty" toml:"server,omitempty"`
	Deployment    DeploymentConfig `json:"deployment" yaml:"deployment" toml:"deployment"`
	Monitoring    MonitoringConfig `json:"monitoring,omitempty" yaml:"monitoring,omitempty" toml:"monitoring,omitempty"`
	Rollback      RollbackConfig   `json:"rollback,omitempty" yaml:"rollback,omitempty" toml:"rollback,omitempty"`
	Database      *DatabaseConfig  `json:"database,omitempty" yaml:"database,omitempty" toml:"database,omitempty"`
	CDN           *CDNConfig       `json:"cdn,omitempty" yaml:"cdn,omitempty" toml:"cdn,omitempty"`
	Notifications []NotifierConfig `json:"notifications,omitempty" yaml:"notifications,omitempty" toml:"notifications,omitempty"`
	Logs          LogsConfig       `json:"logs,omitempty" yaml:"logs,omitempty" toml:"logs,omitempty"`
}

type ServerConfig struct {
	APIPort Port   `json:"apiPort,omitempty" yaml:"api_port,omitempty" toml:"api_port,omitempty"`
	DataDir string `json:"dataDir,omitempty" yaml:"data_dir,omitempty" toml:"data_dir,omitempty"`
}

type DeploymentConfig struct {
	DeploymentID string          `json:"deploymentId" yaml:"deployment_id" toml:"deployment_id"`
	Environment  string          `json:"environment,omitempty" yaml:"environment,omitempty" toml:"environment,omitempty"`
	Services     []ServiceConfig `json:"services,omitempty" yaml:"services,omitempty" toml:"services,omitempty"`
}

// ServiceConfig describes one monitored and rollback-capable service of the
// deployment. Image is the repository without a tag, the version registry
// supplies the tag to roll back to.
type ServiceConfig struct {
	Name            string   `json:"name" yaml:"name" toml:"name"`
	Kind            string   `json:"kind" yaml:"kind" toml:"kind"`
	Image           string   `json:"image,omitempty" yaml:"image,omitempty" toml:"image,omitempty"`
	Replicas        *int     `json:"replicas,omitempty" yaml:"replicas,omitempty" toml:"replicas,omitempty"`
	Platforms       []string `json:"platforms,omitempty" yaml:"platforms,omitempty" toml:"platforms,omitempty"`
	HealthCheckPath string   `json:"healthCheckPath,omitempty" yaml:"health_check_path,omitempty" toml:"health_check_path,omitempty"`
	Port            Port     `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	RollbackCommand string   `json:"rollbackCommand,omitempty" yaml:"rollback_command,omitempty" toml:"rollback_command,omitempty"`
	Env             []EnvVar `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
}

type RollbackConfig struct {
	AutoRollbackEnabled bool         `json:"autoRollbackEnabled,omitempty" yaml:"auto_rollback_enabled,omitempty" toml:"auto_rollback_enabled,omitempty"`
	MaxRetryAttempts    *int         `json:"maxRetryAttempts,omitempty" yaml:"max_retry_attempts,omitempty" toml:"max_retry_attempts,omitempty"`
	StepTimeoutMinutes  *int         `json:"stepTimeoutMinutes,omitempty" yaml:"step_timeout_minutes,omitempty" toml:"step_timeout_minutes,omitempty"`
	HistoryLimit        *int         `json:"historyLimit,omitempty" yaml:"history_limit,omitempty" toml:"history_limit,omitempty"`
	StrictOrdering      bool         `json:"strictOrdering,omitempty" yaml:"strict_ordering,omitempty" toml:"strict_ordering,omitempty"`
	BlockingServices    []string     `json:"blockingServices,omitempty" yaml:"blocking_services,omitempty" toml:"blocking_services,omitempty"`
	Targets             []TargetSpec `json:"targets,omitempty" yaml:"targets,omitempty" toml:"targets,omitempty"`
}

// TargetSpec is the configured default target set used when a monitoring rule
// initiates a rollback on its own.
type TargetSpec struct {
	Service     string            `json:"service" yaml:"service" toml:"service"`
	Environment string            `json:"environment,omitempty" yaml:"environment,omitempty" toml:"environment,omitempty"`
	Strategy    string            `json:"strategy" yaml:"strategy" toml:"strategy"`
	Options     map[string]string `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

func (ts TargetSpec) ToTarget(defaultEnvironment string) rollback.Target {
	environment := ts.Environment
	if environment == "" {
		environment = defaultEnvironment
	}
	return rollback.Target{
		Service:     rollback.Service(ts.Service),
		Environment: environment,
		Strategy:    rollback.Strategy(ts.Strategy),
		Options:     ts.Options,
	}
}

type DatabaseConfig struct {
	Driver        string      `json:"driver,omitempty" yaml:"driver,omitempty" toml:"driver,omitempty"`
	DSN           ValueSource `json:"dsn" yaml:"dsn" toml:"dsn"`
	MigrationsDir string      `json:"migrationsDir,omitempty" yaml:"migrations_dir,omitempty" toml:"migrations_dir,omitempty"`
	SnapshotDir   string      `json:"snapshotDir,omitempty" yaml:"snapshot_dir,omitempty" toml:"snapshot_dir,omitempty"`
}

type CDNConfig struct {
	Provider   string      `json:"provider,omitempty" yaml:"provider,omitempty" toml:"provider,omitempty"`
	BaseURL    string      `json:"baseUrl" yaml:"base_url" toml:"base_url"`
	APIKey     ValueSource `json:"apiKey,omitempty" yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	PurgePaths []string    `json:"purgePaths,omitempty" yaml:"purge_paths,omitempty" toml:"purge_paths,omitempty"`
}

type NotifierConfig struct {
	Type   string      `json:"type" yaml:"type" toml:"type"`
	URL    ValueSource `json:"url" yaml:"url" toml:"url"`
	Events []string    `json:"events,omitempty" yaml:"events,omitempty" toml:"events,omitempty"`
}

// LogsConfig controls daemon log verbosity and what a preserve_logs rule
// action captures. PreserveDir is the directory whose contents get archived;
// ArchiveDir is where the archives land, defaulting to <data_dir>/archives.
type LogsConfig struct {
	Level       string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
	PreserveDir string `json:"preserveDir,omitempty" yaml:"preserve_dir,omitempty" toml:"preserve_dir,omitempty"`
	ArchiveDir  string `json:"archiveDir,omitempty" yaml:"archive_dir,omitempty" toml:"archive_dir,omitempty"`
}

// Load reads, normalizes and validates a config file.
// Returns:
//   - config: Parsed and validated configuration, zero value on error
//   - format: Detected format ("json", "yaml", or "toml"), useful for error messages
//   - err: Any error encountered during loading, parsing, or validation
func Load(path string) (Config, string, error) {
	configFile, err := FindConfigFile(path)
	if err != nil {
		return Config{}, "", err
	}

	format, err := getConfigFormat(configFile)
	if err != nil {
		return Config{}, "", err
	}

	parser, err := getConfigParser(format)
	if err != nil {
		return Config{}, "", err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(configFile), parser); err != nil {
		return Config{}, "", fmt.Errorf("failed to load config file: %w", err)
	}

	if err := checkUnknownFields(reflect.TypeOf(Config{}), k.Keys(), format); err != nil {
		return Config{}, "", err
	}

	var cfg Config
	decoderConfig := &mapstructure.DecoderConfig{
		TagName: format,
		Result:  &cfg,
		// This ensures that embedded structs with inline tags work properly
		Squash:     true,
		DecodeHook: PortDecodeHook(),
	}

	unmarshalConf := koanf.UnmarshalConf{
		Tag:           format,
		DecoderConfig: decoderConfig,
	}

	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return Config{}, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, format, err
	}

	return cfg, format, nil
}

// Normalize fills in defaults so the rest of the engine never has to.
func (c *Config) Normalize() {
	if c.Server.APIPort == "" {
		c.Server.APIPort = Port(constants.APIServerPort)
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = constants.DefaultDataDir
	}

	if c.Deployment.Environment == "" {
		c.Deployment.Environment = "production"
	}

	if c.Monitoring.IntervalSeconds == nil {
		defaultInterval := constants.DefaultMonitorIntervalSeconds
		c.Monitoring.IntervalSeconds = &defaultInterval
	}
	if c.Monitoring.RetentionMinutes == nil {
		defaultRetention := constants.DefaultMetricsRetentionMinutes
		c.Monitoring.RetentionMinutes = &defaultRetention
	}
	for i := range c.Monitoring.Checks {
		if c.Monitoring.Checks[i].IntervalSeconds == nil {
			c.Monitoring.Checks[i].IntervalSeconds = c.Monitoring.IntervalSeconds
		}
		if c.Monitoring.Checks[i].TimeoutSeconds == nil {
			defaultTimeout := constants.DefaultCheckTimeoutSeconds
			c.Monitoring.Checks[i].TimeoutSeconds = &defaultTimeout
		}
	}
	for i := range c.Monitoring.Rules {
		if c.Monitoring.Rules[i].CooldownMinutes == nil {
			defaultCooldown := constants.DefaultRuleCooldownMinutes
			c.Monitoring.Rules[i].CooldownMinutes = &defaultCooldown
		}
	}

	if c.Rollback.MaxRetryAttempts == nil {
		defaultAttempts := constants.DefaultRetryMaxAttempts
		c.Rollback.MaxRetryAttempts = &defaultAttempts
	}
	if c.Rollback.StepTimeoutMinutes == nil {
		defaultTimeout := constants.DefaultStepTimeoutMinutes
		c.Rollback.StepTimeoutMinutes = &defaultTimeout
	}
	if c.Rollback.HistoryLimit == nil {
		defaultLimit := constants.DefaultHistoryLimit
		c.Rollback.HistoryLimit = &defaultLimit
	}
	// Database rollbacks always block dependent tiers.
	if c.Rollback.BlockingServices == nil {
		for _, service := range c.Deployment.Services {
			if service.Kind == string(rollback.ServiceDatabase) {
				c.Rollback.BlockingServices = append(c.Rollback.BlockingServices, service.Name)
			}
		}
	}

	if c.Database != nil && c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	if c.Logs.ArchiveDir == "" {
		c.Logs.ArchiveDir = filepath.Join(c.Server.DataDir, "archives")
	}
}

func (c *Config) Validate() error {
	if c.Deployment.DeploymentID == "" {
		return fmt.Errorf("deployment.deployment_id is required")
	}
	if !helpers.IsValidIdentifier(c.Deployment.DeploymentID) {
		return fmt.Errorf("invalid deployment.deployment_id '%s'; must contain only alphanumeric characters, hyphens, and underscores", c.Deployment.DeploymentID)
	}

	if err := c.Server.APIPort.Validate(); err != nil {
		return fmt.Errorf("server.api_port: %w", err)
	}

	seenServices := make(map[string]bool)
	for i, service := range c.Deployment.Services {
		if err := service.Validate(); err != nil {
			return fmt.Errorf("deployment.services[%d]: %w", i, err)
		}
		if seenServices[service.Name] {
			return fmt.Errorf("duplicate service name: '%s'", service.Name)
		}
		seenServices[service.Name] = true
	}

	if err := c.Monitoring.Validate(seenServices); err != nil {
		return err
	}

	for i, spec := range c.Rollback.Targets {
		target := spec.ToTarget(c.Deployment.Environment)
		if err := target.Validate(); err != nil {
			return fmt.Errorf("rollback.targets[%d]: %w", i, err)
		}
	}
	for _, name := range c.Rollback.BlockingServices {
		if !seenServices[name] {
			return fmt.Errorf("rollback.blocking_services references unknown service '%s'", name)
		}
	}

	if c.Database != nil {
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("database.driver '%s' is invalid (only 'postgres' is supported)", c.Database.Driver)
		}
		if err := c.Database.DSN.Validate(); err != nil {
			return fmt.Errorf("database.dsn: %w", err)
		}
	}

	if c.CDN != nil {
		if c.CDN.BaseURL == "" {
			return fmt.Errorf("cdn.base_url is required")
		}
		if err := helpers.IsValidURL(c.CDN.BaseURL); err != nil {
			return fmt.Errorf("cdn.base_url: %w", err)
		}
		if c.CDN.APIKey.Value != "" || c.CDN.APIKey.From != nil {
			if err := c.CDN.APIKey.Validate(); err != nil {
				return fmt.Errorf("cdn.api_key: %w", err)
			}
		}
	}

	for i, notifier := range c.Notifications {
		if err := notifier.Validate(); err != nil {
			return fmt.Errorf("notifications[%d]: %w", i, err)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logs.Level) {
		return fmt.Errorf("logs.level '%s' is invalid (must be 'debug', 'info', 'warn', or 'error')", c.Logs.Level)
	}

	return nil
}

var validServiceKinds = []string{
	string(rollback.ServiceBackend),
	string(rollback.ServiceFrontend),
	string(rollback.ServiceDatabase),
	string(rollback.ServiceCustom),
}

var validPlatforms = []string{"web", "ios", "android"}

func (sc *ServiceConfig) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("service 'name' cannot be empty")
	}
	if !helpers.IsValidIdentifier(sc.Name) {
		return fmt.Errorf("invalid service name '%s'; must contain only alphanumeric characters, hyphens, and underscores", sc.Name)
	}
	if !slices.Contains(validServiceKinds, sc.Kind) {
		return fmt.Errorf("service '%s' has invalid kind '%s' (must be 'backend', 'frontend', 'database', or 'custom')", sc.Name, sc.Kind)
	}

	if sc.Kind == string(rollback.ServiceBackend) && sc.Image == "" {
		return fmt.Errorf("service '%s': backend services require an image", sc.Name)
	}
	if sc.Replicas != nil && *sc.Replicas < 1 {
		return fmt.Errorf("service '%s': replicas must be at least 1", sc.Name)
	}
	if sc.Kind == string(rollback.ServiceCustom) && sc.RollbackCommand == "" {
		return fmt.Errorf("service '%s': custom services require a rollback_command", sc.Name)
	}

	if len(sc.Platforms) > 0 {
		if sc.Kind != string(rollback.ServiceFrontend) {
			return fmt.Errorf("service '%s': platforms are only valid for frontend services", sc.Name)
		}
		for _, platform := range sc.Platforms {
			if !slices.Contains(validPlatforms, platform) {
				return fmt.Errorf("service '%s' has invalid platform '%s' (must be 'web', 'ios', or 'android')", sc.Name, platform)
			}
		}
	}

	if sc.HealthCheckPath != "" && sc.HealthCheckPath[0] != '/' {
		return fmt.Errorf("service '%s': health check path must start with a slash", sc.Name)
	}
	if err := sc.Port.Validate(); err != nil {
		return fmt.Errorf("service '%s': %w", sc.Name, err)
	}

	for i := range sc.Env {
		if err := sc.Env[i].Validate(); err != nil {
			return fmt.Errorf("service '%s' env[%d]: %w", sc.Name, i, err)
		}
	}
	return nil
}

var validNotifierTypes = []string{"slack", "webhook"}

func (nc *NotifierConfig) Validate() error {
	if !slices.Contains(validNotifierTypes, nc.Type) {
		return fmt.Errorf("type '%s' is invalid (must be 'slack' or 'webhook')", nc.Type)
	}
	if err := nc.URL.Validate(); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	for _, event := range nc.Events {
		if !slices.Contains(validNotifierEvents, event) {
			return fmt.Errorf("unknown event '%s'", event)
		}
	}
	return nil
}

var validNotifierEvents = []string{"execution_completed", "execution_failed", "rule_fired", "alert"}
