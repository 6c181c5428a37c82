package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
)

var (
	supportedExtensions  = []string{".json", ".yaml", ".yml", ".toml"}
	supportedConfigNames = []string{"rewind.json", "rewind.yaml", "rewind.yml", "rewind.toml"}
)

// FindConfigFile locates a rewind config file based on the given path.
// It supports:
// - Full path to a config file
// - Directory containing a rewind config file
// - Relative paths
func FindConfigFile(path string) (string, error) {
	// If no path provided, use current directory
	if path == "" {
		path = "."
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %s", absPath)
	}

	// If it's a file, validate it's a supported extension
	if !stat.IsDir() {
		ext := filepath.Ext(absPath)
		if !slices.Contains(supportedExtensions, ext) {
			return "", fmt.Errorf("file %s is not a valid rewind config file (must be .json, .yaml, .yml, or .toml)", absPath)
		}
		return absPath, nil
	}

	// If it's a directory, look for rewind config files
	for _, configName := range supportedConfigNames {
		configPath := filepath.Join(absPath, configName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	// Get the directory name for the error (use base name if path is ".")
	dirName := path
	if path == "." {
		if cwd, err := os.Getwd(); err == nil {
			dirName = filepath.Base(cwd)
		}
	}

	return "", fmt.Errorf("no rewind config file found in directory %s (looking for: %s)",
		dirName, strings.Join(supportedConfigNames, ", "))
}

func getConfigFormat(configFile string) (string, error) {
	switch filepath.Ext(configFile) {
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	default:
		return "", fmt.Errorf("unsupported config file type: %s", filepath.Ext(configFile))
	}
}

func getConfigParser(format string) (koanf.Parser, error) {
	switch format {
	case "json":
		return json.Parser(), nil
	case "yaml":
		return yaml.Parser(), nil
	case "toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
}

// checkUnknownFields compares the keys found in the loaded file against the
// struct's tags for the given format and rejects anything the struct does not
// declare. Keys inside list elements are not visible here; list entries are
// checked by Validate instead.
func checkUnknownFields(t reflect.Type, keys []string, format string) error {
	paths := &fieldPaths{exact: make(map[string]bool)}
	collectFieldPaths(t, format, "", paths)
	for _, key := range keys {
		if !paths.allows(key) {
			return fmt.Errorf("unknown field: %s", key)
		}
	}
	return nil
}

// fieldPaths holds every key path a struct accepts. Terminals are non-struct
// fields (maps, lists, scalars) whose sub-keys cannot be checked by tag.
type fieldPaths struct {
	exact     map[string]bool
	terminals []string
}

func (fp *fieldPaths) allows(key string) bool {
	if fp.exact[key] {
		return true
	}
	for _, terminal := range fp.terminals {
		if strings.HasPrefix(key, terminal+".") {
			return true
		}
	}
	return false
}

func collectFieldPaths(t reflect.Type, format, prefix string, paths *fieldPaths) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		// Squashed embeds contribute their fields at the current level.
		if field.Anonymous && strings.Contains(field.Tag.Get("mapstructure"), "squash") {
			collectFieldPaths(field.Type, format, prefix, paths)
			continue
		}

		tag := field.Tag.Get(format)
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name == "" {
			continue
		}

		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		paths.exact[path] = true

		fieldType := field.Type
		if fieldType.Kind() == reflect.Pointer {
			fieldType = fieldType.Elem()
		}
		if fieldType.Kind() == reflect.Struct {
			collectFieldPaths(fieldType, format, path, paths)
		} else {
			paths.terminals = append(paths.terminals, path)
		}
	}
}
