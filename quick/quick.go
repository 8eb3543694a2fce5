// Package quick provides a convenience entry point for running research
// queries with minimal boilerplate. It wires the default configuration, the
// OpenAI-compatible provider, and the standard tool set so a caller can go
// from a question to an answer in two calls.
//
// Usage:
//
//	import "github.com/BaSui01/scholarflow/quick"
//
//	a, err := quick.New(quick.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	result, err := a.Ask(ctx, "What drives battery degradation?")
package quick

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/config"
	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/llm/openaicompat"
	"github.com/BaSui01/scholarflow/tools"
	"github.com/BaSui01/scholarflow/tools/corepapers"
	"github.com/BaSui01/scholarflow/tools/download"
	"github.com/BaSui01/scholarflow/tools/feedback"
	"github.com/BaSui01/scholarflow/workflow"
)

// Option configures the assistant created by New.
type Option func(*options)

type options struct {
	cfg      *config.Config
	cfgPath  string
	provider llm.Provider
	extra    []tools.Tool
	sink     workflow.EventSink
	logger   *zap.Logger
	apiKey   string
}

// WithConfig sets a pre-built configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConfigFile loads the configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(o *options) { o.cfgPath = path }
}

// WithProvider sets a pre-built model provider, overriding the configured
// endpoint.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithAPIKey sets the model endpoint API key. Falls back to the
// OPENAI_API_KEY environment variable when unset.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithTool registers an additional tool beyond the standard set.
func WithTool(t tools.Tool) Option {
	return func(o *options) { o.extra = append(o.extra, t) }
}

// WithSink sets the event sink receiving run progress.
func WithSink(s workflow.EventSink) Option {
	return func(o *options) { o.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Assistant holds the wired provider and tool set. It is reusable across
// queries; each Ask drives a fresh workflow run.
type Assistant struct {
	cfg      *config.Config
	provider llm.Provider
	registry *tools.Registry
	sink     workflow.EventSink
	logger   *zap.Logger
}

// New creates an assistant with the standard tool set.
func New(opts ...Option) (*Assistant, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		loader := config.NewLoader()
		if o.cfgPath != "" {
			loader = loader.WithConfigPath(o.cfgPath)
		}
		loaded, err := loader.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := o.provider
	if provider == nil {
		apiKey := o.apiKey
		if apiKey == "" {
			apiKey = cfg.LLM.APIKey
		}
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		provider = openaicompat.New(openaicompat.Config{
			APIKey:             apiKey,
			BaseURL:            cfg.LLM.BaseURL,
			DefaultModel:       cfg.LLM.Model,
			DefaultMaxTokens:   cfg.LLM.MaxTokens,
			DefaultTemperature: float32(cfg.LLM.Temperature),
			Timeout:            cfg.LLM.Timeout,
		}, logger)
	}

	searchClient := corepapers.NewClient(corepapers.ClientConfig{
		BaseURL:       cfg.Search.BaseURL,
		APIKey:        cfg.Search.APIKey,
		Timeout:       cfg.Search.Timeout,
		MaxRetries:    cfg.Search.MaxRetries,
		RatePerSecond: cfg.Search.RatePerSecond,
	}, logger)

	registry := tools.NewRegistry(
		corepapers.NewSearchTool(searchClient),
		download.New(download.Config{
			Timeout:    cfg.Download.Timeout,
			MaxRetries: cfg.Download.MaxRetries,
			MaxBody:    cfg.Download.MaxBodyBytes,
		}, nil, logger),
		feedback.New(feedback.NewConsoleProvider(os.Stdin, os.Stderr)),
	)
	for _, t := range o.extra {
		registry.Register(t)
	}

	sink := o.sink
	if sink == nil {
		sink = workflow.NopSink{}
	}

	return &Assistant{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		sink:     sink,
		logger:   logger,
	}, nil
}

// Ask answers a single research question. The returned result carries the
// terminal status, the final answer, and the full message log.
func (a *Assistant) Ask(ctx context.Context, query string) (*workflow.Result, error) {
	engine := workflow.New(a.provider, a.registry, workflow.Config{
		MaxResearchCycles:   a.cfg.Workflow.MaxResearchCycles,
		MaxFeedbackRequests: a.cfg.Workflow.MaxFeedbackRequests,
		ToolWorkers:         a.cfg.Workflow.ToolWorkers,
	}, a.sink, a.logger)

	return engine.Run(ctx, workflow.NewState(nil, query))
}
