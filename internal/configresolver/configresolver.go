package configresolver

import (
	"errors"
	"fmt"
	"os"

	"github.com/jinzhu/copier"
	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/store"
)

// SecretStore is the part of the store the resolver needs.
type SecretStore interface {
	GetSecretDecryptedValue(name string) (string, error)
}

// Resolve materializes every from.env and from.secret reference in the config
// and returns a new config with plain values. The input is never mutated, so
// secrets don't leak into the config that gets logged or echoed back.
func Resolve(unresolvedConfig *config.Config, secretStore SecretStore) (*config.Config, error) {
	if unresolvedConfig == nil {
		return nil, nil
	}

	// Copy to avoid mutating the original
	resolvedConfig := &config.Config{}
	if err := copier.CopyWithOption(resolvedConfig, unresolvedConfig, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to copy config for resolution: %w", err)
	}

	for _, vs := range gatherValueSources(resolvedConfig) {
		if err := resolveValueSource(vs, secretStore); err != nil {
			return nil, err
		}
	}

	return resolvedConfig, nil
}

// gatherValueSources scans the config and collects pointers to every
// ValueSource instance that may need resolution.
func gatherValueSources(cfg *config.Config) []*config.ValueSource {
	var sources []*config.ValueSource

	if cfg.Database != nil {
		sources = append(sources, &cfg.Database.DSN)
	}
	if cfg.CDN != nil {
		sources = append(sources, &cfg.CDN.APIKey)
	}
	for i := range cfg.Notifications {
		sources = append(sources, &cfg.Notifications[i].URL)
	}
	for i := range cfg.Deployment.Services {
		for j := range cfg.Deployment.Services[i].Env {
			sources = append(sources, &cfg.Deployment.Services[i].Env[j].ValueSource)
		}
	}

	return sources
}

func resolveValueSource(vs *config.ValueSource, secretStore SecretStore) error {
	if vs.From == nil {
		return nil // Plain values need no work.
	}

	if vs.From.Env != "" {
		vs.Value = os.Getenv(vs.From.Env)
	} else if vs.From.Secret != "" {
		if secretStore == nil {
			return fmt.Errorf("found 'from.secret' reference '%s' but no secret store is available", vs.From.Secret)
		}
		value, err := secretStore.GetSecretDecryptedValue(vs.From.Secret)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("secret '%s' not found in secrets store", vs.From.Secret)
			}
			return fmt.Errorf("failed to resolve secret '%s': %w", vs.From.Secret, err)
		}
		vs.Value = value
	}

	// Clear the 'From' block now that it's resolved.
	vs.From = nil
	return nil
}
