package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LumeraProtocol/notary/notary/anchor"
	"github.com/LumeraProtocol/notary/pkg/contentstore/local"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type APIConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type LedgerConfig struct {
	// Backend selects the ledger client. Only simnet is built in.
	Backend       string `mapstructure:"backend" yaml:"backend"`
	AddressPrefix string `mapstructure:"address_prefix" yaml:"address_prefix"`
	FragmentSize  int    `mapstructure:"fragment_size" yaml:"fragment_size"`

	ledger.NetworkParams `mapstructure:",squash" yaml:",inline"`
}

type ContentStoreConfig struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"`
	IPFSAPIURL string        `mapstructure:"ipfs_api_url" yaml:"ipfs_api_url"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type CacheConfig struct {
	MaxItems int64 `mapstructure:"max_items" yaml:"max_items"`
}

// Config is the notary's YAML configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir" yaml:"data_dir"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	API          APIConfig          `mapstructure:"api" yaml:"api"`
	Ingest       anchor.Config      `mapstructure:"ingest" yaml:"ingest"`
	Ledger       LedgerConfig       `mapstructure:"ledger" yaml:"ledger"`
	ContentStore ContentStoreConfig `mapstructure:"content_store" yaml:"content_store"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`

	// BaseDir anchors relative paths; it is the directory of the config file.
	BaseDir string `mapstructure:"-" yaml:"-"`
}

// CreateDefaultConfig returns a configuration rooted at baseDir.
func CreateDefaultConfig(baseDir string) *Config {
	return &Config{
		DataDir:  DefaultDataDir,
		LogLevel: DefaultLogLevel,
		API:      APIConfig{Host: DefaultAPIHost, Port: DefaultAPIPort},
		Ingest:   anchor.DefaultConfig(),
		Ledger: LedgerConfig{
			Backend:       DefaultLedgerBackend,
			AddressPrefix: ledger.DefaultAddressPrefix,
			NetworkParams: ledger.NetworkParams{
				Depth:              DefaultLedgerDepth,
				MinWeightMagnitude: DefaultMinWeightMagnitude,
				Tag:                DefaultLedgerTag,
			},
		},
		ContentStore: ContentStoreConfig{
			Backend:    DefaultContentBackend,
			IPFSAPIURL: DefaultIPFSAPIURL,
			Timeout:    anchor.DefaultContentStoreTimeout,
		},
		Cache:   CacheConfig{MaxItems: DefaultCacheMaxItems},
		BaseDir: baseDir,
	}
}

// LoadConfig reads filename, applies defaults for missing keys and NOTARY_*
// environment overrides, and validates the result.
func LoadConfig(filename string) (*Config, error) {
	ctx := context.Background()

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("error getting absolute path for config file: %w", err)
	}
	logtrace.Info(ctx, "Loading configuration", logtrace.Fields{"path": absPath})

	v := viper.New()
	v.SetConfigFile(absPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, CreateDefaultConfig(""))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	cfg.BaseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logtrace.Info(ctx, "Configuration loaded successfully", logtrace.Fields{
		"data_dir":      cfg.GetDataDir(),
		"content_store": cfg.ContentStore.Backend,
		"ledger":        cfg.Ledger.Backend,
	})
	return &cfg, nil
}

// setDefaults registers every key of d so that env overrides apply even when
// the file omits a section.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)

	v.SetDefault("ingest.size_limit_bytes", d.Ingest.SizeLimitBytes)
	v.SetDefault("ingest.max_concurrent", d.Ingest.MaxConcurrent)
	v.SetDefault("ingest.content_store_timeout", d.Ingest.ContentStoreTimeout)
	v.SetDefault("ingest.ledger_timeout", d.Ingest.LedgerTimeout)
	v.SetDefault("ingest.max_retries", d.Ingest.MaxRetries)
	v.SetDefault("ingest.retry_initial_interval", d.Ingest.RetryInitialInterval)
	v.SetDefault("ingest.submit_rate_per_second", d.Ingest.SubmitRatePerSecond)
	v.SetDefault("ingest.task_timeout", d.Ingest.TaskTimeout)

	v.SetDefault("ledger.backend", d.Ledger.Backend)
	v.SetDefault("ledger.address_prefix", d.Ledger.AddressPrefix)
	v.SetDefault("ledger.fragment_size", d.Ledger.FragmentSize)
	v.SetDefault("ledger.depth", d.Ledger.Depth)
	v.SetDefault("ledger.min_weight_magnitude", d.Ledger.MinWeightMagnitude)
	v.SetDefault("ledger.tag", d.Ledger.Tag)

	v.SetDefault("content_store.backend", d.ContentStore.Backend)
	v.SetDefault("content_store.ipfs_api_url", d.ContentStore.IPFSAPIURL)
	v.SetDefault("content_store.timeout", d.ContentStore.Timeout)

	v.SetDefault("cache.max_items", d.Cache.MaxItems)
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case LedgerBackendSimnet:
	default:
		return fmt.Errorf("unsupported ledger backend %q", c.Ledger.Backend)
	}
	switch c.ContentStore.Backend {
	case ContentBackendLocal, ContentBackendIPFS:
	default:
		return fmt.Errorf("unsupported content store backend %q", c.ContentStore.Backend)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	if c.Ingest.SizeLimitBytes < 0 {
		return fmt.Errorf("ingest.size_limit_bytes must not be negative")
	}
	if c.Cache.MaxItems <= 0 {
		return fmt.Errorf("cache.max_items must be positive")
	}
	return nil
}

// SaveConfig writes config as YAML, creating parent directories.
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetDataDir returns the absolute data directory.
func (c *Config) GetDataDir() string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(c.BaseDir, c.DataDir)
}

func (c *Config) StateDBPath() string   { return filepath.Join(c.GetDataDir(), StateDBFile) }
func (c *Config) LedgerDBPath() string  { return filepath.Join(c.GetDataDir(), LedgerDBFile) }
func (c *Config) ContentDBPath() string { return filepath.Join(c.GetDataDir(), local.Filename) }

// EnsureDirs creates the data directory.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.GetDataDir(), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// AnchorConfig returns the pipeline settings with the ledger network
// parameters filled in.
func (c *Config) AnchorConfig() anchor.Config {
	ac := c.Ingest
	ac.Network = c.Ledger.NetworkParams
	return ac
}
