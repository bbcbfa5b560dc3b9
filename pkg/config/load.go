package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// DefaultEnvFiles are read in order; earlier files win, the real environment beats both.
var DefaultEnvFiles = []string{".env.local", ".env"}

// LoadOptions controls configuration assembly
type LoadOptions struct {
	ConfigFile string     // Optional YAML file; empty skips this layer
	EnvFiles   []string   // Dotenv files; nil means DefaultEnvFiles
	Lookup     LookupFunc // Real environment; nil means os.LookupEnv
}

// Load assembles defaults, the YAML file, dotenv files and the environment, in rising precedence.
// CLI flags are applied by the caller afterwards, then Validate is called.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigFile != "" {
		if err := LoadFile(opts.ConfigFile, &cfg); err != nil {
			return nil, err
		}
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = DefaultEnvFiles
	}
	layered, err := withDotEnv(lookup, envFiles)
	if err != nil {
		return nil, err
	}

	ApplyEnv(&cfg, layered)
	return &cfg, nil
}

// LoadFile decodes a YAML config file over cfg. Keys absent from the file keep their current value.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config %s: %w", utils.ErrConfigValidation, path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse config %s: %w", utils.ErrConfigValidation, path, err)
	}
	return nil
}

// withDotEnv returns a lookup that consults the real environment first, then each dotenv file in order.
// Missing dotenv files are skipped.
func withDotEnv(lookup LookupFunc, files []string) (LookupFunc, error) {
	var layers []map[string]string
	for _, f := range files {
		values, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: read env file %s: %w", utils.ErrConfigValidation, f, err)
		}
		layers = append(layers, values)
	}

	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		for _, layer := range layers {
			if v, ok := layer[key]; ok {
				return v, true
			}
		}
		return "", false
	}, nil
}
