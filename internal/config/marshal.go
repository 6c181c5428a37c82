package config

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Marshal renders the config in the given format, using the same field names
// Load accepts. Marshaling a normalized config therefore produces a file that
// loads back to the identical configuration.
func (c *Config) Marshal(format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(c, "", "  ")
	case "yaml":
		return yaml.Marshal(c)
	case "toml":
		return toml.Marshal(c)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
}
