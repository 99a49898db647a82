package anchor

import (
	"time"

	"github.com/LumeraProtocol/notary/pkg/ledger"
)

// Config contains settings for the anchor service.
type Config struct {
	// SizeLimitBytes is the exclusive upper bound on file size.
	SizeLimitBytes int64 `mapstructure:"size_limit_bytes" yaml:"size_limit_bytes" json:"size_limit_bytes"`
	// MaxConcurrent bounds ingestions past validation.
	MaxConcurrent int64 `mapstructure:"max_concurrent" yaml:"max_concurrent" json:"max_concurrent"`

	ContentStoreTimeout time.Duration `mapstructure:"content_store_timeout" yaml:"content_store_timeout" json:"content_store_timeout"`
	LedgerTimeout       time.Duration `mapstructure:"ledger_timeout" yaml:"ledger_timeout" json:"ledger_timeout"`

	// MaxRetries applies to idempotent collaborator calls: content store
	// reads and writes and ledger reads. Ledger submissions are never retried.
	MaxRetries           uint64        `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval" yaml:"retry_initial_interval" json:"retry_initial_interval"`

	// SubmitRatePerSecond paces ledger submissions; 0 disables pacing.
	SubmitRatePerSecond int `mapstructure:"submit_rate_per_second" yaml:"submit_rate_per_second" json:"submit_rate_per_second"`
	// TaskTimeout is when an unfinished task is dropped from status reports.
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout" json:"task_timeout"`

	Network ledger.NetworkParams `mapstructure:"-" yaml:"-" json:"-"`
}

const (
	DefaultSizeLimitBytes      = 64 << 20
	DefaultMaxConcurrent       = 16
	DefaultContentStoreTimeout = 30 * time.Second
	DefaultLedgerTimeout       = 60 * time.Second
	DefaultMaxRetries          = 3
	DefaultRetryInterval       = 200 * time.Millisecond
	DefaultSubmitRatePerSecond = 10
	DefaultTaskTimeout         = 10 * time.Minute
)

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		SizeLimitBytes:       DefaultSizeLimitBytes,
		MaxConcurrent:        DefaultMaxConcurrent,
		ContentStoreTimeout:  DefaultContentStoreTimeout,
		LedgerTimeout:        DefaultLedgerTimeout,
		MaxRetries:           DefaultMaxRetries,
		RetryInitialInterval: DefaultRetryInterval,
		SubmitRatePerSecond:  DefaultSubmitRatePerSecond,
		TaskTimeout:          DefaultTaskTimeout,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SizeLimitBytes <= 0 {
		c.SizeLimitBytes = d.SizeLimitBytes
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.ContentStoreTimeout <= 0 {
		c.ContentStoreTimeout = d.ContentStoreTimeout
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = d.LedgerTimeout
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = d.RetryInitialInterval
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	return c
}
