// Package config provides configuration management for the webhook service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"backspread-webhook/internal/models"
)

const (
	// defaultScanCount is the number of ITM candidate strikes scanned when
	// strategy.scan_count is unset.
	defaultScanCount = 10
	// defaultOrderPacing is the delay between order legs when
	// strategy.order_pacing is unset.
	defaultOrderPacing = 500 * time.Millisecond
	// defaultRequestTimeout bounds a single webhook request when
	// server.request_timeout is unset.
	defaultRequestTimeout = 60 * time.Second
)

// Quote failure policies. The original strategies disagreed on whether a
// failed ATM quote aborts the entry or substitutes a constant; the policy is
// now an explicit configuration decision.
const (
	QuotePolicyAbort    = "abort"
	QuotePolicyFallback = "fallback"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig  `yaml:"environment"`
	Broker      BrokerConfig       `yaml:"broker"`
	Server      ServerConfig       `yaml:"server"`
	Strategy    StrategyConfig     `yaml:"strategy"`
	Instruments InstrumentsConfig  `yaml:"instruments"`
	Journal     JournalConfig      `yaml:"journal"`
	Underlyings []UnderlyingConfig `yaml:"underlyings"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider    string `yaml:"provider"`
	ClientID    string `yaml:"client_id"`
	AccessToken string `yaml:"access_token"`
	APIEndpoint string `yaml:"api_endpoint"`
}

// ServerConfig defines the webhook HTTP listener settings.
type ServerConfig struct {
	Port           int    `yaml:"port"`
	AuthToken      string `yaml:"auth_token"`
	RequestTimeout string `yaml:"request_timeout"`
}

// StrategyConfig defines strategy-wide execution parameters.
type StrategyConfig struct {
	ScanCount          int    `yaml:"scan_count"`
	OrderPacing        string `yaml:"order_pacing"`
	QuoteFailurePolicy string `yaml:"quote_failure_policy"` // abort | fallback
}

// InstrumentsConfig locates the instrument master file.
type InstrumentsConfig struct {
	CSVPath string `yaml:"csv_path"`
}

// JournalConfig defines where executed strategies are journaled.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// UnderlyingConfig is the per-underlying strategy parameterization. One record
// here replaces one family of duplicated per-symbol strategy functions.
type UnderlyingConfig struct {
	Root                  string  `yaml:"root"`
	Exchange              string  `yaml:"exchange"`
	ProductType           string  `yaml:"product_type"`
	StrikeStep            float64 `yaml:"strike_step"`
	FallbackLotSize       int     `yaml:"fallback_lot_size"`
	FallbackATMPrice      float64 `yaml:"fallback_atm_price"`
	Index                 bool    `yaml:"index"`
	RatioCounts           []int   `yaml:"ratio_counts"`
	AutoFlattenOnMismatch bool    `yaml:"auto_flatten_on_mismatch"`
}

// Model converts the yaml record into the domain Underlying.
func (u UnderlyingConfig) Model() models.Underlying {
	return models.Underlying{
		Root:                  u.Root,
		Exchange:              u.Exchange,
		ProductType:           u.ProductType,
		StrikeStep:            u.StrikeStep,
		FallbackLotSize:       u.FallbackLotSize,
		FallbackATMPrice:      u.FallbackATMPrice,
		Index:                 u.Index,
		RatioCounts:           u.RatioCounts,
		AutoFlattenOnMismatch: u.AutoFlattenOnMismatch,
	}
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.ClientID == "" {
		return fmt.Errorf("broker.client_id is required")
	}
	if c.Broker.AccessToken == "" {
		return fmt.Errorf("broker.access_token is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0,65535]")
	}
	if _, err := time.ParseDuration(c.Server.RequestTimeout); err != nil {
		return fmt.Errorf("server.request_timeout invalid: %w", err)
	}

	if c.Strategy.ScanCount <= 0 {
		return fmt.Errorf("strategy.scan_count must be > 0")
	}
	if _, err := time.ParseDuration(c.Strategy.OrderPacing); err != nil {
		return fmt.Errorf("strategy.order_pacing invalid: %w", err)
	}
	switch c.Strategy.QuoteFailurePolicy {
	case QuotePolicyAbort, QuotePolicyFallback:
	default:
		return fmt.Errorf("strategy.quote_failure_policy must be %q or %q",
			QuotePolicyAbort, QuotePolicyFallback)
	}

	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}

	if len(c.Underlyings) == 0 {
		return fmt.Errorf("at least one underlying is required")
	}
	seen := make(map[string]bool, len(c.Underlyings))
	for i, u := range c.Underlyings {
		if u.Root == "" {
			return fmt.Errorf("underlyings[%d].root is required", i)
		}
		if u.Root != strings.ToUpper(u.Root) || strings.Contains(u.Root, "-") {
			return fmt.Errorf("underlyings[%d].root %q must be upper-case without dashes", i, u.Root)
		}
		if seen[u.Root] {
			return fmt.Errorf("duplicate underlying root %q", u.Root)
		}
		seen[u.Root] = true
		if u.Exchange == "" {
			return fmt.Errorf("underlying %s: exchange is required", u.Root)
		}
		if u.StrikeStep <= 0 {
			return fmt.Errorf("underlying %s: strike_step must be > 0", u.Root)
		}
		if u.FallbackLotSize <= 0 {
			return fmt.Errorf("underlying %s: fallback_lot_size must be > 0", u.Root)
		}
		if len(u.RatioCounts) == 0 {
			return fmt.Errorf("underlying %s: ratio_counts is required", u.Root)
		}
		for _, n := range u.RatioCounts {
			if n <= 0 || n%2 != 0 {
				return fmt.Errorf("underlying %s: ratio count %d must be a positive even number", u.Root, n)
			}
		}
		if c.Strategy.QuoteFailurePolicy == QuotePolicyFallback && u.FallbackATMPrice <= 0 {
			return fmt.Errorf("underlying %s: fallback_atm_price must be > 0 under the fallback quote policy", u.Root)
		}
	}

	return nil
}

// IsPaperTrading returns true if the service is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// OrderPacing returns the configured inter-order pacing delay.
func (c *Config) OrderPacing() time.Duration {
	d, err := time.ParseDuration(c.Strategy.OrderPacing)
	if err != nil {
		return defaultOrderPacing
	}
	return d
}

// RequestTimeout returns the configured per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.RequestTimeout)
	if err != nil {
		return defaultRequestTimeout
	}
	return d
}

// UnderlyingModels returns the configured underlyings as domain records keyed
// by root symbol.
func (c *Config) UnderlyingModels() map[string]models.Underlying {
	out := make(map[string]models.Underlying, len(c.Underlyings))
	for _, u := range c.Underlyings {
		out[u.Root] = u.Model()
	}
	return out
}

// normalize sets defaults for optional settings before validation.
func (c *Config) normalize() {
	if c.Strategy.ScanCount == 0 {
		c.Strategy.ScanCount = defaultScanCount
	}
	if c.Strategy.OrderPacing == "" {
		c.Strategy.OrderPacing = defaultOrderPacing.String()
	}
	if c.Strategy.QuoteFailurePolicy == "" {
		c.Strategy.QuoteFailurePolicy = QuotePolicyAbort
	}
	if c.Server.RequestTimeout == "" {
		c.Server.RequestTimeout = defaultRequestTimeout.String()
	}
	for i := range c.Underlyings {
		if c.Underlyings[i].ProductType == "" {
			c.Underlyings[i].ProductType = "INTRADAY"
		}
	}
}
