package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Loader reads a Configuration from a YAML, JSON or TOML document.
type Loader struct {
	filePath string
}

// NewLoader creates a new configuration loader for the given file path.
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Configuration, error) {
	return NewLoader(path).Load()
}

func (l *Loader) Load() (*Configuration, error) {
	if l.filePath == "" {
		return nil, errors.New("configuration file path is empty")
	}
	content, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file '%s'", l.filePath)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, errors.Errorf("configuration file '%s' is empty", l.filePath)
	}

	options := make(map[string]interface{})
	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".toml":
		if _, err := toml.Decode(string(content), &options); err != nil {
			return nil, errors.Wrapf(err, "failed to parse TOML config '%s'", l.filePath)
		}
	case ".yaml", ".yml", ".json":
		// JSON documents are valid YAML.
		if err := yaml.Unmarshal(content, &options); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config '%s'", l.filePath)
		}
	default:
		return nil, errors.Errorf("unsupported config format %q for '%s' (want .yaml, .yml, .json or .toml)", ext, l.filePath)
	}

	cfg, err := newConfiguration(options, l.filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid configuration '%s'", l.filePath)
	}
	return cfg, nil
}
