package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rewindlabs/rewind/internal/constants"
)

func ensureDir(dirPath string) error {
	return os.MkdirAll(dirPath, constants.ModeDirPrivate)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// DataDir returns the daemon's state directory. REWIND_DATA_DIR overrides the
// default.
func DataDir() (string, error) {
	if envPath, ok := os.LookupEnv(constants.EnvVarDataDir); ok && envPath != "" {
		return expandHome(envPath)
	}
	return constants.DefaultDataDir, nil
}

// ConfigDir returns the client configuration directory, creating it if
// needed. REWIND_CONFIG_DIR overrides the default.
func ConfigDir() (string, error) {
	if envPath, ok := os.LookupEnv(constants.EnvVarConfigDir); ok && envPath != "" {
		expanded, err := expandHome(envPath)
		if err != nil {
			return "", err
		}
		if err := ensureDir(expanded); err != nil {
			return "", err
		}
		return expanded, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(home, ".config", "rewind")
	if err := ensureDir(path); err != nil {
		return "", err
	}
	return path, nil
}
