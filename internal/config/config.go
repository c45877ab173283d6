// Package config holds the daemon configuration: API listener, storage, logging,
// backend overrides, prompt policy and the catalogue of GUI plugins that may
// talk to the wallet through the bridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/walletbridge/internal/backend"
	"github.com/klingon-exchange/walletbridge/internal/currency"
	"github.com/klingon-exchange/walletbridge/pkg/helpers"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Permission grants a plugin access to a sensitive bridge call.
type Permission string

const (
	PermissionSpend       Permission = "spend"        // requestSpend, requestSpendUri, makeSpendRequest
	PermissionSignMessage Permission = "sign_message" // signMessage
)

// Config holds all configuration for the daemon.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Prompts PromptConfig  `yaml:"prompts"`

	// Backends overrides the default chain backend per plugin id.
	// If not specified, the first RPC server of the currency defaults is used.
	Backends map[string]*backend.Config `yaml:"backends,omitempty"`

	// Plugins is the catalogue of GUI plugins allowed to open a bridge.
	Plugins []GuiPlugin `yaml:"plugins"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for the database, seed and config.
	DataDir string `yaml:"data_dir"`
}

// APIConfig holds the HTTP listener settings.
type APIConfig struct {
	// Listen is the host:port of the JSON-RPC, WebSocket and bridge server.
	Listen string `yaml:"listen"`

	// Metrics exposes Prometheus metrics at /metrics.
	Metrics bool `yaml:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is text, json or logfmt.
	Format string `yaml:"format"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// WalletConfig holds wallet engine settings.
type WalletConfig struct {
	// EnabledPlugins lists the currency plugins the account creates wallets
	// for. Empty means every plugin the local engine supports.
	EnabledPlugins []string `yaml:"enabled_plugins,omitempty"`

	// Account is the BIP44 account index.
	Account uint32 `yaml:"account"`
}

// PromptConfig controls how host prompts are answered.
type PromptConfig struct {
	// Timeout is how long a prompt waits for the host UI.
	Timeout time.Duration `yaml:"timeout"`

	// AutoApprove lists prompt kinds answered without a UI. Meant for
	// development and headless testing only.
	AutoApprove []string `yaml:"auto_approve,omitempty"`
}

// GuiPlugin describes an embedded third-party plugin.
type GuiPlugin struct {
	ID          string       `yaml:"id" json:"pluginId"`
	DisplayName string       `yaml:"name" json:"displayName"`
	URI         string       `yaml:"uri" json:"uri"`
	Permissions []Permission `yaml:"permissions,omitempty" json:"permissions,omitempty"`

	// FixCurrencyCodes resolves legacy codes the plugin sends that the
	// currency table cannot.
	FixCurrencyCodes currency.FixMap `yaml:"fix_currency_codes,omitempty" json:"-"`
}

// Allows reports whether the plugin holds the permission.
func (p *GuiPlugin) Allows(perm Permission) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// Plugin returns the catalogue entry for a plugin id.
func (c *Config) Plugin(id string) (*GuiPlugin, bool) {
	for i := range c.Plugins {
		if c.Plugins[i].ID == id {
			return &c.Plugins[i], true
		}
	}
	return nil, false
}

// Currencies returns the currency plugins the account uses.
func (c *Config) Currencies() *currency.Config {
	if len(c.Wallet.EnabledPlugins) == 0 {
		return currency.Default()
	}
	return currency.Default().Subset(c.Wallet.EnabledPlugins...)
}

// GetBackendConfig returns the backend config for a plugin id.
// Returns the currency default if not explicitly configured.
func (c *Config) GetBackendConfig(pluginID string) *backend.Config {
	if cfg, ok := c.Backends[pluginID]; ok && cfg != nil {
		return cfg
	}
	info, ok := currency.Get(pluginID)
	if !ok {
		return nil
	}
	return backend.DefaultConfig(info)
}

// Validate checks the config for inconsistencies.
func (c *Config) Validate() error {
	var errs []error

	if c.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is empty"))
	}
	if c.Prompts.Timeout <= 0 {
		errs = append(errs, errors.New("prompts.timeout must be positive"))
	}
	for _, id := range c.Wallet.EnabledPlugins {
		if !currency.IsSupported(id) {
			errs = append(errs, fmt.Errorf("wallet.enabled_plugins: unknown plugin %q", id))
		}
	}
	for id := range c.Backends {
		if !currency.IsSupported(id) {
			errs = append(errs, fmt.Errorf("backends: unknown plugin %q", id))
		}
	}

	seen := make(map[string]bool)
	for _, p := range c.Plugins {
		if p.ID == "" {
			errs = append(errs, errors.New("plugins: entry without id"))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("plugins: duplicate id %q", p.ID))
		}
		seen[p.ID] = true

		for _, perm := range p.Permissions {
			if perm != PermissionSpend && perm != PermissionSignMessage {
				errs = append(errs, fmt.Errorf("plugins.%s: unknown permission %q", p.ID, perm))
			}
		}
		for code, ref := range p.FixCurrencyCodes {
			if !currency.IsSupported(ref.PluginID) {
				errs = append(errs, fmt.Errorf("plugins.%s: fix for %s names unknown plugin %q", p.ID, code, ref.PluginID))
			}
			if ref.TokenID != "" && !helpers.IsHex(ref.TokenID) {
				errs = append(errs, fmt.Errorf("plugins.%s: fix for %s has malformed token id %q", p.ID, code, ref.TokenID))
			}
		}
	}

	return errors.Join(errs...)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "~/.walletbridge",
		},
		API: APIConfig{
			Listen:  "127.0.0.1:8080",
			Metrics: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Prompts: PromptConfig{
			Timeout: 5 * time.Minute,
		},
		Plugins: []GuiPlugin{},
	}
}

// LoadConfig loads configuration from the data directory.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	return LoadConfigFile(ConfigPath(dataDir), dataDir)
}

// LoadConfigFile loads configuration from an explicit file. A missing file is
// created with default values and dataDir as the storage directory.
func LoadConfigFile(configPath, dataDir string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Wallet bridge daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
