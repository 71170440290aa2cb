package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	VersionV1 = "v1"

	GrantDeviceCode        = "device-code"
	GrantAuthorizationCode = "authorization-code"
)

// GitHub is the provider the menu-bar app ships with.
var githubProvider = Provider{
	Name:          "github",
	ClientID:      "a945f87ad537bfddb109",
	GrantType:     GrantDeviceCode,
	DeviceAuthURL: "https://github.com/login/device/code",
	TokenURL:      "https://github.com/login/oauth/access_token",
	ProfileURL:    "https://api.github.com/user",
}

type Config struct {
	Version  string   `yaml:"version"`
	Server   string   `yaml:"server,omitempty"`
	Team     string   `yaml:"team,omitempty"`
	Player   string   `yaml:"player,omitempty"`
	Provider Provider `yaml:"provider,omitempty"`
	Settings Settings `yaml:"settings,omitempty"`
}

// Provider describes the authorization server. GitHub-style providers set
// the endpoint URLs directly; OIDC providers set Authority and let
// discovery fill the endpoints in.
type Provider struct {
	Name             string `yaml:"name,omitempty"`
	Authority        string `yaml:"authority,omitempty"`
	ClientID         string `yaml:"client-id"`
	ClientSecret     string `yaml:"client-secret,omitempty"`
	ClientSecretEnv  string `yaml:"client-secret-env,omitempty"`
	ClientSecretFile string `yaml:"client-secret-file,omitempty"`
	Scope            string `yaml:"scope,omitempty"`
	GrantType        string `yaml:"grant-type,omitempty"`
	DeviceAuthURL    string `yaml:"device-auth-url,omitempty"`
	TokenURL         string `yaml:"token-url,omitempty"`
	ProfileURL       string `yaml:"profile-url,omitempty"`
}

type Settings struct {
	TokenStorage string `yaml:"token-storage,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version:  VersionV1,
		Server:   "https://keyrace.app",
		Provider: githubProvider,
		Settings: Settings{TokenStorage: "keychain"},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	p := c.Provider
	if strings.TrimSpace(p.ClientID) == "" {
		return errors.New("provider client-id is required")
	}
	if p.Authority == "" && (p.DeviceAuthURL == "" || p.TokenURL == "") {
		return errors.New("provider needs either an authority or device-auth-url and token-url")
	}
	switch p.GrantType {
	case "", GrantDeviceCode:
	case GrantAuthorizationCode:
		if p.Authority == "" {
			return errors.New("authorization-code grant requires an authority")
		}
	default:
		return fmt.Errorf("unsupported grant type: %s", p.GrantType)
	}
	return nil
}
