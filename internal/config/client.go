package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/helpers"
	"gopkg.in/yaml.v3"
)

// ClientConfig is the CLI's saved server registry. Servers maps a normalized
// server URL to the name of the environment variable holding that server's
// API token, so tokens never end up on disk.
type ClientConfig struct {
	Servers map[string]string `json:"servers" yaml:"servers" toml:"servers"`
}

func (cc *ClientConfig) AddServer(url, tokenEnv string) {
	if cc.Servers == nil {
		cc.Servers = make(map[string]string)
	}
	cc.Servers[url] = tokenEnv
}

func (cc *ClientConfig) RemoveServer(url string) error {
	if _, exists := cc.Servers[url]; !exists {
		return fmt.Errorf("server %s not found", url)
	}
	delete(cc.Servers, url)
	return nil
}

func (cc *ClientConfig) ListServers() []string {
	var urls []string
	for url := range cc.Servers {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// ClientConfigPath returns the location of the saved server registry.
func ClientConfigPath() (string, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, constants.ClientConfigFileName), nil
}

// LoadClientConfig reads the saved server registry. A missing file is not an
// error; it returns nil so callers can tell "no registry" from "empty one".
func LoadClientConfig(path string) (*ClientConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	format, err := getConfigFormat(path)
	if err != nil {
		return nil, err
	}

	parser, err := getConfigParser(format)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load client config file: %w", err)
	}

	var clientConfig ClientConfig
	if err := k.UnmarshalWithConf("", &clientConfig, koanf.UnmarshalConf{Tag: format}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client config: %w", err)
	}
	return &clientConfig, nil
}

func (cc *ClientConfig) Save(path string) error {
	data, err := yaml.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to marshal client config: %w", err)
	}
	return os.WriteFile(path, data, constants.ModeFileDefault)
}

// APIServerURL returns the rewindd endpoint the CLI should talk to. An
// explicit flag value wins over REWIND_API_URL; with neither set, a registry
// holding exactly one saved server selects it, and anything else falls back
// to the local default.
func APIServerURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if url := os.Getenv(constants.EnvVarAPIURL); url != "" {
		return url
	}
	if url := singleSavedServer(); url != "" {
		return url
	}
	return constants.DefaultAPIServerURL
}

func singleSavedServer() string {
	path, err := ClientConfigPath()
	if err != nil {
		return ""
	}
	clientConfig, err := LoadClientConfig(path)
	if err != nil || clientConfig == nil {
		return ""
	}
	if servers := clientConfig.ListServers(); len(servers) == 1 {
		return servers[0]
	}
	return ""
}

// LoadAPIToken resolves the API token for a server. REWIND_API_TOKEN from the
// environment or a .env file always wins; otherwise the saved server registry
// names the environment variable to read. An empty serverURL skips the
// registry lookup.
func LoadAPIToken(serverURL string) (string, error) {
	// .env files are optional, a missing one is not an error.
	loadEnvFiles()

	if token := os.Getenv(constants.EnvVarAPIToken); token != "" {
		return token, nil
	}

	if serverURL != "" {
		if token, err := tokenFromRegistry(serverURL); err == nil {
			return token, nil
		}
	}

	return "", fmt.Errorf("API token not found. Please set %s environment variable or create a .env file", constants.EnvVarAPIToken)
}

func tokenFromRegistry(serverURL string) (string, error) {
	path, err := ClientConfigPath()
	if err != nil {
		return "", err
	}
	clientConfig, err := LoadClientConfig(path)
	if err != nil {
		return "", err
	}
	if clientConfig == nil {
		return "", fmt.Errorf("no saved servers")
	}

	normalizedURL, err := helpers.NormalizeServerURL(serverURL)
	if err != nil {
		return "", err
	}
	tokenEnv, exists := clientConfig.Servers[normalizedURL]
	if !exists {
		return "", fmt.Errorf("server %s not in registry", normalizedURL)
	}
	token := os.Getenv(tokenEnv)
	if token == "" {
		return "", fmt.Errorf("environment variable %s is not set", tokenEnv)
	}
	return token, nil
}

// loadEnvFiles attempts to load .env files from the working directory and the
// rewind config directory, first hit wins.
func loadEnvFiles() error {
	if err := loadEnvFile(constants.ConfigEnvFileName); err == nil {
		return nil
	}

	if configDir, err := ConfigDir(); err == nil {
		configEnvPath := filepath.Join(configDir, constants.ConfigEnvFileName)
		if err := loadEnvFile(configEnvPath); err == nil {
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return err
	}
	return godotenv.Load(path)
}
