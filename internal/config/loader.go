package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Limits holds the resource-governor and decode-loop ceilings.
// Zero values mean "unspecified" and are replaced by defaults in Normalize.
type Limits struct {
	// MaxTokensPerCall bounds a single allocation (prompt or generation).
	MaxTokensPerCall int `json:"max_tokens_per_call" yaml:"max_tokens_per_call" toml:"max_tokens_per_call"`
	// GlobalTokenCeiling bounds the sum of all active token allocations.
	GlobalTokenCeiling int `json:"global_token_ceiling" yaml:"global_token_ceiling" toml:"global_token_ceiling"`
	// ContextLength is the prompt window; longer prompts are prefix-truncated.
	ContextLength int `json:"context_length" yaml:"context_length" toml:"context_length"`
	// MaxGenerateTokens caps a request's max_tokens parameter.
	MaxGenerateTokens int `json:"max_generate_tokens" yaml:"max_generate_tokens" toml:"max_generate_tokens"`
	// RequestsPerSecond / RequestsPerMinute are sliding-window admission caps.
	RequestsPerSecond int `json:"requests_per_second" yaml:"requests_per_second" toml:"requests_per_second"`
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" toml:"requests_per_minute"`
	// MemoryFraction rejects admission when resident memory exceeds this
	// fraction of physical memory.
	MemoryFraction float64 `json:"memory_fraction" yaml:"memory_fraction" toml:"memory_fraction"`
}

// Config holds runtime parameters for the daemon.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// FetchBaseURL, when set, lets the loader download missing models from
	// <base>/<owner>/<name>.gguf. Empty disables fetching.
	FetchBaseURL string `json:"fetch_base_url" yaml:"fetch_base_url" toml:"fetch_base_url"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// ShutdownGrace bounds graceful HTTP shutdown.
	ShutdownGraceSeconds int    `json:"shutdown_grace_seconds" yaml:"shutdown_grace_seconds" toml:"shutdown_grace_seconds"`
	Limits               Limits `json:"limits" yaml:"limits" toml:"limits"`
}

// Defaults applied by Normalize for unset fields.
const (
	DefaultAddr               = "127.0.0.1:8090"
	DefaultMaxTokensPerCall   = 8192
	DefaultGlobalTokenCeiling = 10000
	DefaultContextLength      = 16384
	DefaultMaxGenerateTokens  = 4096
	DefaultRequestsPerSecond  = 10
	DefaultRequestsPerMinute  = 60
	DefaultMemoryFraction     = 0.8
	DefaultShutdownGrace      = 5 * time.Second
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Normalize fills unset fields with package defaults and returns the result.
func (c Config) Normalize() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Limits.MaxTokensPerCall <= 0 {
		c.Limits.MaxTokensPerCall = DefaultMaxTokensPerCall
	}
	if c.Limits.GlobalTokenCeiling <= 0 {
		c.Limits.GlobalTokenCeiling = DefaultGlobalTokenCeiling
	}
	if c.Limits.ContextLength <= 0 {
		c.Limits.ContextLength = DefaultContextLength
	}
	if c.Limits.MaxGenerateTokens <= 0 {
		c.Limits.MaxGenerateTokens = DefaultMaxGenerateTokens
	}
	if c.Limits.RequestsPerSecond <= 0 {
		c.Limits.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Limits.RequestsPerMinute <= 0 {
		c.Limits.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.Limits.MemoryFraction <= 0 || c.Limits.MemoryFraction > 1 {
		c.Limits.MemoryFraction = DefaultMemoryFraction
	}
	if c.ShutdownGraceSeconds <= 0 {
		c.ShutdownGraceSeconds = int(DefaultShutdownGrace / time.Second)
	}
	return c
}
