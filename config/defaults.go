package config

import "time"

// DefaultConfig returns the configuration used when no file or environment
// overrides are present. The ceilings mirror the workflow engine defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:       "https://api.openai.com",
			Model:         "gpt-4o",
			Timeout:       120 * time.Second,
			Temperature:   0.0,
			StreamEnabled: true,
		},
		Workflow: WorkflowConfig{
			MaxResearchCycles:   10,
			MaxFeedbackRequests: 2,
			ToolWorkers:         4,
		},
		Search: SearchConfig{
			BaseURL:       "https://api.core.ac.uk/v3",
			Timeout:       15 * time.Second,
			MaxRetries:    4,
			RatePerSecond: 2,
		},
		Download: DownloadConfig{
			Timeout:      30 * time.Second,
			MaxRetries:   2,
			MaxBodyBytes: 32 << 20,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Namespace:  "scholarflow",
			ListenAddr: ":9090",
		},
		Checkpoint: CheckpointConfig{},
	}
}
