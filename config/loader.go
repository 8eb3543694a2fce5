// Package config provides unified configuration loading for scholarflow:
// defaults, then a YAML file, then environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SCHOLARFLOW").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full scholarflow configuration.
type Config struct {
	// LLM model provider settings
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Workflow engine ceilings and concurrency
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Search paper search tool settings
	Search SearchConfig `yaml:"search" env:"SEARCH"`

	// Download paper download tool settings
	Download DownloadConfig `yaml:"download" env:"DOWNLOAD"`

	// Log logging settings
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics Prometheus settings
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Checkpoint state snapshot settings
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`
}

// LLMConfig configures the OpenAI-compatible model endpoint.
type LLMConfig struct {
	// Base URL of the chat completions endpoint
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Model name
	Model string `yaml:"model" env:"MODEL"`
	// Request timeout
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Max completion tokens, 0 for provider default
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// Sampling temperature
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// Stream token increments when the provider supports it
	StreamEnabled bool `yaml:"stream_enabled" env:"STREAM_ENABLED"`
}

// WorkflowConfig bounds the engine.
type WorkflowConfig struct {
	// Planning re-entries before the run fails
	MaxResearchCycles int `yaml:"max_research_cycles" env:"MAX_RESEARCH_CYCLES"`
	// Judge rejections before acceptance is forced
	MaxFeedbackRequests int `yaml:"max_feedback_requests" env:"MAX_FEEDBACK_REQUESTS"`
	// Concurrent tool calls per batch
	ToolWorkers int `yaml:"tool_workers" env:"TOOL_WORKERS"`
}

// SearchConfig configures the paper search tool.
type SearchConfig struct {
	// API base URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Per-request timeout
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Retries after the first attempt
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// Outbound request rate limit
	RatePerSecond float64 `yaml:"rate_per_second" env:"RATE_PER_SECOND"`
}

// DownloadConfig configures the paper download tool.
type DownloadConfig struct {
	// Per-request timeout
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Retries after the first attempt
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// Response body size cap in bytes
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled exposes /metrics while a run is in progress
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Metric namespace
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// Listen address for the metrics endpoint
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// CheckpointConfig configures state snapshots.
type CheckpointConfig struct {
	// Path of the snapshot file; empty disables checkpointing
	Path string `yaml:"path" env:"PATH"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SCHOLARFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation function run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then YAML file,
// then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file falls back to defaults.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration from path and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	var errs []string

	if c.Workflow.MaxResearchCycles <= 0 {
		errs = append(errs, "max_research_cycles must be positive")
	}
	if c.Workflow.MaxFeedbackRequests <= 0 {
		errs = append(errs, "max_feedback_requests must be positive")
	}
	if c.Workflow.ToolWorkers <= 0 {
		errs = append(errs, "tool_workers must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, "llm base_url is required")
	}
	if c.Search.RatePerSecond <= 0 {
		errs = append(errs, "search rate_per_second must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
