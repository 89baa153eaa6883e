package config

import (
	"os"
	"strings"

	"github.com/streamkit/nicesync/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML or JSON configuration file, substitutes ${ENV_VAR}
// references, overlays the result onto the defaults, and validates it.
// YAML is a superset of JSON, so .json configs parse with the same path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to read config file %s", path)
	}

	content := substituteEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to parse config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfig, "failed to write config file %s", path)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} references with environment
// values. Unset variables substitute to the empty string, which Validate
// then reports for required fields.
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		value := os.Getenv(varName)
		content = content[:start] + value + content[end+1:]
	}
	return content
}
