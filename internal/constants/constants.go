package constants

import "os"

const (
	Version = "0.1.0"

	APIServerPort       = "8642"
	DefaultAPIServerURL = "http://localhost:8642" // Default URL for the rewindd API server

	DefaultMonitorIntervalSeconds  = 30
	DefaultMetricsRetentionMinutes = 60
	DefaultCheckTimeoutSeconds     = 10
	DefaultStepTimeoutMinutes      = 10
	DefaultRetryMaxAttempts        = 3
	DefaultHistoryLimit            = 50
	DefaultRuleCooldownMinutes     = 5

	// Environment variables
	EnvVarAgeIdentity = "REWIND_ENCRYPTION_KEY"
	EnvVarAPIToken    = "REWIND_API_TOKEN"
	EnvVarAPIURL      = "REWIND_API_URL"
	EnvVarDataDir     = "REWIND_DATA_DIR"
	EnvVarConfigDir   = "REWIND_CONFIG_DIR"

	// Default paths for the rewindd daemon.
	DefaultDataDir   = "/var/lib/rewind"
	DefaultConfigDir = "/etc/rewind"

	// File names
	ConfigFileName       = "rewind.yaml"
	ConfigEnvFileName    = ".env"
	ClientConfigFileName = "client.yaml"
	AgeIdentityFile      = "identity.key"
)

// File and directory permissions
const (
	ModeFileSecret  os.FileMode = 0o600 // secrets: .env, keys
	ModeFileDefault os.FileMode = 0o644 // non-secret configs
	ModeFileExec    os.FileMode = 0o755 // scripts/binaries
	ModeDirPrivate  os.FileMode = 0o700 // private dirs
	ModeDirDefault  os.FileMode = 0o755
)
