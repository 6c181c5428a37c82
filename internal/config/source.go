package config

import (
	"errors"
	"fmt"
)

// ValueSource is a config value that is either given inline or referenced
// from an environment variable or a stored secret. Exactly one form must be
// set.
type ValueSource struct {
	Value string           `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
	From  *SourceReference `json:"from,omitempty" yaml:"from,omitempty" toml:"from,omitempty"`
}

type SourceReference struct {
	Env    string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty" toml:"secret,omitempty"`
}

func (vs *ValueSource) Validate() error {
	if vs.Value != "" && vs.From != nil {
		return errors.New("cannot provide both 'value' and 'from'")
	}
	if vs.Value == "" && vs.From == nil {
		return errors.New("must provide either 'value' or 'from'")
	}
	if vs.From != nil {
		if err := vs.From.Validate(); err != nil {
			return fmt.Errorf("invalid 'from' block: %w", err)
		}
	}
	return nil
}

// IsResolved reports whether the value has been materialized. Unresolved
// sources still carry a From reference.
func (vs *ValueSource) IsResolved() bool {
	return vs.From == nil
}

func (sr *SourceReference) Validate() error {
	if sr.Env != "" && sr.Secret != "" {
		return errors.New("only one source reference ('env' or 'secret') can be specified at a time")
	}
	if sr.Env == "" && sr.Secret == "" {
		return errors.New("a source reference (e.g., 'env' or 'secret') must be specified")
	}
	return nil
}

// EnvVar is a named environment variable handed to commands spawned for
// custom rollback targets and checks.
type EnvVar struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	ValueSource `mapstructure:",squash" json:",inline" yaml:",inline" toml:",inline"`
}

func (ev *EnvVar) Validate() error {
	if ev.Name == "" {
		return errors.New("environment variable 'name' cannot be empty")
	}
	if err := ev.ValueSource.Validate(); err != nil {
		return fmt.Errorf("environment variable '%s': %w", ev.Name, err)
	}
	return nil
}
