package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Top-level YAML config key names used for shallow merge.
const (
	keyCache   = "cache"
	keyLogging = "logging"
	keyServer  = "server"
)

// ShallowMergeYAML loads a YAML file and merges its sections onto target.
// Within a section, keys present in the file replace the target's values
// and absent keys are left unchanged. Unknown top-level keys are ignored.
func ShallowMergeYAML(target *Config, overlayPath string) error {
	if target == nil {
		return errors.New("nil target *Config in ShallowMergeYAML")
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		return fmt.Errorf("reading overlay file %s: %w", overlayPath, err)
	}

	var overlay map[string]yaml.Node
	if err = yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing overlay YAML from %s: %w", overlayPath, err)
	}

	// Decode each section onto a copy so a bad section leaves target untouched.
	merged := *target
	for key, node := range overlay {
		if err = decodeSection(&merged, key, &node); err != nil {
			return fmt.Errorf("applying overlay section %q: %w", key, err)
		}
	}
	*target = merged
	return nil
}

// decodeSection decodes node onto the field of target named by key.
// Decoding into the existing struct keeps fields the section omits.
func decodeSection(target *Config, key string, node *yaml.Node) error {
	switch key {
	case keyCache:
		return node.Decode(&target.Cache)
	case keyLogging:
		return node.Decode(&target.Logging)
	case keyServer:
		return node.Decode(&target.Server)
	default:
		return nil
	}
}
