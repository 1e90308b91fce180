package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/policy"
)

const policyEnvPrefix = "POLICY_"

// LoadPolicy builds the policy configuration from defaults, an optional YAML
// file, and POLICY_-prefixed environment variables, in that order.
func LoadPolicy(path string) (policy.Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return policy.Config{}, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(policyEnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, policyEnvPrefix))
	}), nil); err != nil {
		return policy.Config{}, err
	}

	cfg := policy.DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return policy.Config{}, fmt.Errorf("decode policy config: %w", err)
	}
	return cfg, nil
}
