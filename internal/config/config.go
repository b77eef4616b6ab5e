package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	configDirName  = ".protoguard"
	configFileName = "config.yaml"

	// CurrentVersion is the config schema version this build understands.
	CurrentVersion = "1.0"
)

// Config is the on-disk configuration for the validator and its gateway.
type Config struct {
	Version   string          `mapstructure:"version"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
}

// ValidatorConfig tunes the protocol validation core.
type ValidatorConfig struct {
	AllowUnknownFields bool     `mapstructure:"allow_unknown_fields"`
	AllowedRoles       []string `mapstructure:"allowed_roles"`
	DefaultRole        string   `mapstructure:"default_role"`
	InjectionPatterns  []string `mapstructure:"injection_patterns"`
}

// GatewayConfig tunes the hosting gateway surface.
type GatewayConfig struct {
	Listen          string `mapstructure:"listen"`
	ValidatePath    string `mapstructure:"validate_path"`
	StreamPath      string `mapstructure:"stream_path"`
	InternalToken   string `mapstructure:"internal_token"`
	RedisURL        string `mapstructure:"redis_url"`
	RedisKeyPrefix  string `mapstructure:"redis_key_prefix"`
	RedisTTLSeconds int    `mapstructure:"redis_ttl_seconds"`
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// ConfigFile forces a specific file. Empty means resolve the default
	// search path; a resolved-but-absent default yields built-in defaults.
	ConfigFile string
}

// Load reads the config, applying built-in defaults for anything unset.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	path := ResolveConfigPath(opts.ConfigFile)
	explicit := opts.ConfigFile != ""
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", CurrentVersion)
	v.SetDefault("validator.allow_unknown_fields", false)
	v.SetDefault("validator.allowed_roles", []string{"assistant"})
	v.SetDefault("validator.default_role", "assistant")
	v.SetDefault("gateway.listen", ":8099")
	v.SetDefault("gateway.validate_path", "/protocol/validate")
	v.SetDefault("gateway.stream_path", "/protocol/stream")
	v.SetDefault("gateway.redis_key_prefix", "protoguard:verdict:")
	v.SetDefault("gateway.redis_ttl_seconds", 3600)
}

// Validate checks internal consistency of a loaded config.
func (c *Config) Validate() error {
	if c.Version != "" && c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %q (want %q)", c.Version, CurrentVersion)
	}
	if c.Validator.DefaultRole != "" && len(c.Validator.AllowedRoles) > 0 {
		allowed := false
		for _, r := range c.Validator.AllowedRoles {
			if r == c.Validator.DefaultRole {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("validator.default_role %q is not in validator.allowed_roles", c.Validator.DefaultRole)
		}
	}
	if c.Gateway.Listen == "" {
		return fmt.Errorf("gateway.listen must not be empty")
	}
	if c.Gateway.RedisTTLSeconds < 0 {
		return fmt.Errorf("gateway.redis_ttl_seconds must be >= 0")
	}
	return nil
}

// ResolveConfigPath returns the explicit path when given, otherwise searches
// upward from the working directory for .protoguard/config.yaml and falls
// back to the home-directory default.
func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	dir, err := os.Getwd()
	if err == nil {
		for {
			candidate := filepath.Join(dir, configDirName, configFileName)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return DefaultConfigPath()
}

// DefaultConfigPath is ~/.protoguard/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(configDirName, configFileName)
	}
	return filepath.Join(home, configDirName, configFileName)
}

// ApplyFile copies a config file into place, creating the target directory.
func ApplyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
