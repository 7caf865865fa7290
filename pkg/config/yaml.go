package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadBaseFile reads an operator-edited YAML base config from path and
// merges it onto top of base; fields the file doesn't set keep base's
// value, since YAML-unmarshaling into an already-populated struct only
// overwrites the keys present in the document. A missing file is not an
// error — base.yaml is an optional convenience over the env-var overrides
// cmd/groupmind applies afterward.
func LoadBaseFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return base, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return base, nil
}
