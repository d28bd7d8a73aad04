package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() {
	c.Paths.DataDir = expandHome(strings.TrimSpace(c.Paths.DataDir))
	c.Paths.BlobDir = expandHome(strings.TrimSpace(c.Paths.BlobDir))
	c.Paths.LogDir = expandHome(strings.TrimSpace(c.Paths.LogDir))
	c.Paths.TempDir = expandHome(strings.TrimSpace(c.Paths.TempDir))
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Enricher.Provider = strings.ToLower(strings.TrimSpace(c.Enricher.Provider))
	c.Transcriber.URL = strings.TrimRight(strings.TrimSpace(c.Transcriber.URL), "/")

	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultMaxAttempts
	}
	if c.Retry.TranscribeMaxAttempts <= 0 {
		c.Retry.TranscribeMaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.BaseDelaySeconds <= 0 {
		c.Retry.BaseDelaySeconds = defaultBaseDelaySeconds
	}
	if c.Retry.MaxDelaySeconds < c.Retry.BaseDelaySeconds {
		c.Retry.MaxDelaySeconds = defaultMaxDelaySeconds
	}
	if c.Embedder.Dimension <= 0 {
		c.Embedder.Dimension = defaultEmbedDimension
	}
}

// Validate checks configuration invariants that cannot be repaired by
// normalization.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("config: paths.data_dir must not be empty")
	}
	if c.Paths.BlobDir == "" {
		return fmt.Errorf("config: paths.blob_dir must not be empty")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Enricher.Provider {
	case "", "ollama":
	case "openai":
		if strings.TrimSpace(c.Enricher.OpenAIAPIKey) == "" {
			return fmt.Errorf("config: enricher.openai_api_key required for the openai provider")
		}
	case "anthropic":
		if strings.TrimSpace(c.Enricher.AnthropicAPIKey) == "" {
			return fmt.Errorf("config: enricher.anthropic_api_key required for the anthropic provider")
		}
	default:
		return fmt.Errorf("config: enricher.provider %q is not supported", c.Enricher.Provider)
	}
	if c.Transcriber.URL == "" {
		return fmt.Errorf("config: transcriber.url must not be empty")
	}
	return nil
}
