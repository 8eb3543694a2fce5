// Command scholarflow answers research questions from the terminal. It runs
// the full decision/planning/tool/answering/judging workflow against an
// OpenAI-compatible model endpoint and the CORE paper search API.
//
// Usage:
//
//	scholarflow ask "impact of CRISPR on crop yields"
//	scholarflow ask --config config.yaml --checkpoint run.json "..."
//	scholarflow version
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/scholarflow/config"
	"github.com/BaSui01/scholarflow/internal/metrics"
	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/llm/openaicompat"
	"github.com/BaSui01/scholarflow/tools"
	"github.com/BaSui01/scholarflow/tools/corepapers"
	"github.com/BaSui01/scholarflow/tools/download"
	"github.com/BaSui01/scholarflow/tools/feedback"
	"github.com/BaSui01/scholarflow/workflow"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ask":
		runAsk(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	checkpointPath := fs.String("checkpoint", "", "Path for the state snapshot (overrides config)")
	quiet := fs.Bool("quiet", false, "Suppress progress output")
	fs.Parse(args)

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "ask: a query is required")
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	if *checkpointPath != "" {
		cfg.Checkpoint.Path = *checkpointPath
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting scholarflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	provider := buildProvider(cfg.LLM, logger)
	registry := buildRegistry(cfg, logger)

	progress := workflow.NewChanSink(256)
	sinks := []workflow.EventSink{progress}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
		sinks = append(sinks, metrics.NewSink(collector))
		provider = metrics.InstrumentProvider(provider, collector)
		go serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	eng := workflow.New(provider, registry, workflow.Config{
		MaxResearchCycles:   cfg.Workflow.MaxResearchCycles,
		MaxFeedbackRequests: cfg.Workflow.MaxFeedbackRequests,
		ToolWorkers:         cfg.Workflow.ToolWorkers,
	}, workflow.NewMultiSink(sinks...), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First interrupt cancels cooperatively, a second one is forceful.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupt received, finishing in-flight work (press again to force)")
		eng.Cancel()
		<-sigCh
		cancel()
	}()

	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderProgress(progress.Events(), *quiet)
	}()

	state := workflow.NewState(nil, query)
	start := time.Now()
	result, runErr := eng.Run(ctx, state)

	progress.Close()
	<-renderDone

	if collector != nil {
		collector.RecordRun(string(result.Status), time.Since(start), state.ResearchCycles)
	}

	if cfg.Checkpoint.Path != "" {
		if err := workflow.SaveState(cfg.Checkpoint.Path, state); err != nil {
			logger.Warn("failed to save checkpoint", zap.Error(err))
		}
	}

	switch result.Status {
	case workflow.StatusCompleted:
		fmt.Println(result.FinalAnswer)
	case workflow.StatusCancelled:
		fmt.Fprintln(os.Stderr, "run cancelled")
		os.Exit(130)
	default:
		fmt.Fprintf(os.Stderr, "run failed (%s): %v\n", result.Status, runErr)
		os.Exit(1)
	}
}

func buildProvider(cfg config.LLMConfig, logger *zap.Logger) llm.Provider {
	p := openaicompat.New(openaicompat.Config{
		APIKey:             cfg.APIKey,
		BaseURL:            cfg.BaseURL,
		DefaultModel:       cfg.Model,
		DefaultMaxTokens:   cfg.MaxTokens,
		DefaultTemperature: float32(cfg.Temperature),
		Timeout:            cfg.Timeout,
	}, logger)
	if !cfg.StreamEnabled {
		return nonStreaming{p}
	}
	return p
}

// nonStreaming hides the Stream method so the answering stage falls back to
// plain completions.
type nonStreaming struct {
	llm.Provider
}

func buildRegistry(cfg *config.Config, logger *zap.Logger) *tools.Registry {
	searchClient := corepapers.NewClient(corepapers.ClientConfig{
		BaseURL:       cfg.Search.BaseURL,
		APIKey:        cfg.Search.APIKey,
		Timeout:       cfg.Search.Timeout,
		MaxRetries:    cfg.Search.MaxRetries,
		RatePerSecond: cfg.Search.RatePerSecond,
	}, logger)

	downloadTool := download.New(download.Config{
		Timeout:    cfg.Download.Timeout,
		MaxRetries: cfg.Download.MaxRetries,
		MaxBody:    cfg.Download.MaxBodyBytes,
	}, nil, logger)

	feedbackTool := feedback.New(feedback.NewConsoleProvider(os.Stdin, os.Stderr))

	return tools.NewRegistry(
		corepapers.NewSearchTool(searchClient),
		downloadTool,
		feedbackTool,
	)
}

// renderProgress writes a human readable trace of the run to stderr and
// streams answer tokens to stdout as they arrive.
func renderProgress(events <-chan workflow.Event, quiet bool) {
	streaming := false
	for ev := range events {
		if quiet && ev.Type != workflow.EventToken {
			continue
		}
		switch ev.Type {
		case workflow.EventStageStart:
			fmt.Fprintf(os.Stderr, "▸ %s\n", ev.Node)
		case workflow.EventToolStart:
			fmt.Fprintf(os.Stderr, "  ⚙ %s\n", ev.Tool)
		case workflow.EventToolEnd:
			if ev.Err != "" {
				fmt.Fprintf(os.Stderr, "  ✗ %s: %s\n", ev.Tool, ev.Err)
			}
		case workflow.EventToken:
			if !quiet {
				fmt.Fprint(os.Stderr, ev.Token)
				streaming = true
			}
		case workflow.EventStageEnd:
			if streaming && ev.Node == workflow.NodeAnswering {
				fmt.Fprintln(os.Stderr)
				streaming = false
			}
		case workflow.EventCancelled:
			fmt.Fprintln(os.Stderr, "▸ cancelled")
		}
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics endpoint stopped", zap.Error(err))
	}
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}

func printVersion() {
	fmt.Printf("scholarflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`scholarflow - automated research assistant

Usage:
  scholarflow <command> [options]

Commands:
  ask       Answer a research question
  version   Show version information
  help      Show this help message

Options for 'ask':
  --config <path>      Path to configuration file (YAML)
  --checkpoint <path>  Write a state snapshot when the run ends
  --quiet              Suppress progress output

Examples:
  scholarflow ask "What are the latest advances in perovskite solar cells?"
  scholarflow ask --config ~/.scholarflow.yaml "..."
  SCHOLARFLOW_LLM_API_KEY=sk-... scholarflow ask "..."`)
}
