// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

// Package config loads and validates the assistant configuration from file,
// environment, and defaults.
package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// Config is the top-level Aisle configuration.
type Config struct {
	Networking NetworkingConfig          `mapstructure:"networking"`
	Providers  map[string]ProviderConfig `mapstructure:"providers"`
	Models     ModelsConfig              `mapstructure:"models"`
	Catalog    CatalogConfig             `mapstructure:"catalog"`
	Agent      AgentConfig               `mapstructure:"agent"`
	Limits     LimitsConfig              `mapstructure:"limits"`
	Storage    StorageConfig             `mapstructure:"storage"`
}

// NetworkingConfig controls how the server listens for connections.
type NetworkingConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig selects the chat and embedding models.
type ModelsConfig struct {
	// Chat is a provider-qualified reference, e.g. "openai/gpt-4o-mini".
	Chat string `mapstructure:"chat"`
	// Embedding names the provider whose embedding endpoint builds the
	// search index.
	Embedding string `mapstructure:"embedding"`
}

// CatalogConfig points at the upstream store API.
type CatalogConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// AgentConfig tunes the conversation loop.
type AgentConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	HistoryWindow int           `mapstructure:"history_window"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
	Temperature   float32       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	SystemPrompt  string        `mapstructure:"system_prompt"`
}

// LimitsConfig bounds search result sizes.
type LimitsConfig struct {
	SearchDefault int `mapstructure:"search_default"`
	SearchMax     int `mapstructure:"search_max"`
}

// StorageConfig locates the on-disk state.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix AISLE_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("networking.listen", "127.0.0.1:8080")
	v.SetDefault("models.chat", "openai/gpt-4o-mini")
	v.SetDefault("models.embedding", "openai")
	v.SetDefault("catalog.base_url", "https://fakestoreapi.com")
	v.SetDefault("agent.max_iterations", 8)
	v.SetDefault("agent.history_window", 20)
	v.SetDefault("agent.tool_timeout", "10s")
	v.SetDefault("agent.max_tokens", 1024)
	v.SetDefault("limits.search_default", 5)
	v.SetDefault("limits.search_max", 20)
	v.SetDefault("storage.data_dir", "./data")

	// Environment
	v.SetEnvPrefix("AISLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, aisleerr.Errorf(aisleerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, aisleerr.Errorf(aisleerr.CodeConfigLoadReadFailure, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It collects every
// issue found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNetworking()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateCatalog()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateLimits()...)

	return errs
}

func (c *Config) validateNetworking() []error {
	var errs []error

	if c.Networking.Listen == "" {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: networking.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Networking.Listen)
	if err != nil {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: networking.listen must be a valid host:port address, got %q: %w",
			c.Networking.Listen, err))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: networking.listen port must be a number, got %q", portStr))
	} else if port < 0 || port > 65535 {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: networking.listen port must be between 0 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Models.Chat == "" {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: models.chat must not be empty"))
	} else if !strings.Contains(c.Models.Chat, "/") {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: models.chat must be in \"provider/model\" format, got %q", c.Models.Chat))
	} else if c.Providers != nil {
		// Cross-reference only when a providers section exists; defaults
		// alone are valid for commands that never call a model.
		name, _, _ := strings.Cut(c.Models.Chat, "/")
		if _, ok := c.Providers[name]; !ok {
			errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
				"config: models.chat %q references provider %q which is not configured",
				c.Models.Chat, name))
		}
	}

	if c.Models.Embedding == "" {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: models.embedding must not be empty"))
	}

	return errs
}

func (c *Config) validateCatalog() []error {
	var errs []error

	if c.Catalog.BaseURL == "" {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: catalog.base_url must not be empty"))
	} else if !strings.HasPrefix(c.Catalog.BaseURL, "http://") && !strings.HasPrefix(c.Catalog.BaseURL, "https://") {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: catalog.base_url must be an http(s) URL, got %q", c.Catalog.BaseURL))
	}

	return errs
}

func (c *Config) validateAgent() []error {
	var errs []error

	if c.Agent.MaxIterations < 1 {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: agent.max_iterations must be at least 1, got %d", c.Agent.MaxIterations))
	}
	if c.Agent.HistoryWindow < 1 {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: agent.history_window must be at least 1, got %d", c.Agent.HistoryWindow))
	}
	if c.Agent.ToolTimeout < 0 {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: agent.tool_timeout must not be negative, got %s", c.Agent.ToolTimeout))
	}

	return errs
}

func (c *Config) validateLimits() []error {
	var errs []error

	if c.Limits.SearchDefault < 1 {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: limits.search_default must be at least 1, got %d", c.Limits.SearchDefault))
	}
	if c.Limits.SearchMax < c.Limits.SearchDefault {
		errs = append(errs, aisleerr.Errorf(aisleerr.CodeConfigValidateInvalidValue,
			"config: limits.search_max must be at least limits.search_default, got %d < %d",
			c.Limits.SearchMax, c.Limits.SearchDefault))
	}

	return errs
}
