package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	xdgAppName = "sprintplanner"
	configFile = "config.yaml"
	envPrefix  = "SPRINTPLANNER_"

	DefaultProcess  = "Agile"
	DefaultActivity = "Development"
)

type Config struct {
	Organization    string `koanf:"organization" yaml:"organization"`
	Project         string `koanf:"project" yaml:"project"`
	Team            string `koanf:"team" yaml:"team,omitempty"`
	Token           string `koanf:"token" yaml:"token,omitempty"`
	Process         string `koanf:"process" yaml:"process"`
	DefaultActivity string `koanf:"default_activity" yaml:"default_activity"`
	Debug           bool   `koanf:"debug" yaml:"debug,omitempty"`

	Log   LogConfig   `koanf:"log" yaml:"log"`
	API   APIConfig   `koanf:"api" yaml:"api"`
	OAuth OAuthConfig `koanf:"oauth" yaml:"oauth,omitempty"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

type APIConfig struct {
	BaseURL string  `koanf:"base_url" yaml:"base_url,omitempty"`
	Rate    float64 `koanf:"rate" yaml:"rate"`
	Burst   int     `koanf:"burst" yaml:"burst"`
}

// OAuthConfig enables Microsoft Entra sign-in instead of a personal access token.
type OAuthConfig struct {
	Tenant       string   `koanf:"tenant" yaml:"tenant,omitempty"`
	ClientID     string   `koanf:"client_id" yaml:"client_id,omitempty"`
	ClientSecret string   `koanf:"client_secret" yaml:"client_secret,omitempty"`
	Scopes       []string `koanf:"scopes" yaml:"scopes,omitempty"`
}

// Enabled reports whether OAuth sign-in is configured.
func (o OAuthConfig) Enabled() bool { return o.ClientID != "" }

// sections are the nested keys an environment variable can address.
var sections = map[string]bool{"log": true, "api": true, "oauth": true}

func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// LoadFile reads path when it exists, then applies SPRINTPLANNER_* overrides.
// A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// envKey maps SPRINTPLANNER_LOG_LEVEL to log.level and
// SPRINTPLANNER_DEFAULT_ACTIVITY to default_activity.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) == 2 && sections[parts[0]] {
		return parts[0] + "." + parts[1]
	}
	return key
}

func applyDefaults(cfg *Config) {
	if cfg.Process == "" {
		cfg.Process = DefaultProcess
	}
	if cfg.DefaultActivity == "" {
		cfg.DefaultActivity = DefaultActivity
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
		if cfg.Debug {
			cfg.Log.Level = "debug"
		}
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.API.Rate <= 0 {
		cfg.API.Rate = 10
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = 5
	}
	if cfg.OAuth.Enabled() && len(cfg.OAuth.Scopes) == 0 {
		cfg.OAuth.Scopes = []string{"499b84ac-1321-427f-aa17-267ca6975798/.default", "offline_access"}
	}
}

// IsValid reports whether the config is complete enough to reach Azure DevOps.
func (c *Config) IsValid() bool {
	return c.Organization != "" && c.Project != "" && (c.Token != "" || c.OAuth.Enabled())
}

// Validate checks values that would otherwise fail later in confusing ways.
func (c *Config) Validate() error {
	if !c.IsValid() {
		return fmt.Errorf("missing organization, project or token in configuration")
	}
	switch strings.ToLower(c.Process) {
	case "agile", "scrum":
	default:
		return fmt.Errorf("process type %q not supported", c.Process)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format %q not supported", c.Log.Format)
	}
	return nil
}

// Set assigns one setting by its config file key, e.g. "log.level".
func (c *Config) Set(key, value string) error {
	switch key {
	case "organization":
		c.Organization = value
	case "project":
		c.Project = value
	case "team":
		c.Team = value
	case "token":
		c.Token = value
	case "process":
		c.Process = value
	case "default_activity":
		c.DefaultActivity = value
	case "debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		c.Debug = b
	case "log.level":
		c.Log.Level = value
	case "log.format":
		c.Log.Format = value
	case "api.base_url":
		c.API.BaseURL = value
	case "api.rate":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		c.API.Rate = f
	case "api.burst":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		c.API.Burst = n
	case "oauth.tenant":
		c.OAuth.Tenant = value
	case "oauth.client_id":
		c.OAuth.ClientID = value
	case "oauth.client_secret":
		c.OAuth.ClientSecret = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func SaveFile(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	encoder := yamlv3.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}
