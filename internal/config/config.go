package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	BlobDir string `toml:"blob_dir"`
	LogDir  string `toml:"log_dir"`
	TempDir string `toml:"temp_dir"`
	APIBind string `toml:"api_bind"`
}

// Logging controls log level and console format.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Workflow tunes the orchestrator worker pool and polling cadence.
type Workflow struct {
	Workers            int `toml:"workers"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Retry configures the stage retry policy.
type Retry struct {
	MaxAttempts           int `toml:"max_attempts"`
	TranscribeMaxAttempts int `toml:"transcribe_max_attempts"`
	BaseDelaySeconds      int `toml:"base_delay_seconds"`
	MaxDelaySeconds       int `toml:"max_delay_seconds"`
}

// Extract configures the extraction stage.
type Extract struct {
	DownloaderBinary string `toml:"downloader_binary"`
	ProbeBinary      string `toml:"probe_binary"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
}

// Fingerprint configures the deduplication fingerprinter.
type Fingerprint struct {
	FpcalcBinary   string `toml:"fpcalc_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Transcriber configures the Whisper-compatible transcription server.
type Transcriber struct {
	URL            string `toml:"url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Enricher configures the summary/tag LLM.
type Enricher struct {
	Provider          string `toml:"provider"`
	Model             string `toml:"model"`
	OllamaHost        string `toml:"ollama_host"`
	OpenAIAPIKey      string `toml:"openai_api_key"`
	AnthropicAPIKey   string `toml:"anthropic_api_key"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// Embedder configures the embedding provider.
type Embedder struct {
	Model          string `toml:"model"`
	OllamaHost     string `toml:"ollama_host"`
	Dimension      int    `toml:"dimension"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Config is the root nexus configuration.
type Config struct {
	Paths       Paths       `toml:"paths"`
	Logging     Logging     `toml:"logging"`
	Workflow    Workflow    `toml:"workflow"`
	Retry       Retry       `toml:"retry"`
	Extract     Extract     `toml:"extract"`
	Fingerprint Fingerprint `toml:"fingerprint"`
	Transcriber Transcriber `toml:"transcriber"`
	Enricher    Enricher    `toml:"enricher"`
	Embedder    Embedder    `toml:"embedder"`
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	return expandHome("~/.config/nexus/config.toml")
}

// Load reads configuration from path (or the default path when empty),
// merging file values over defaults. A missing file is not an error; the
// defaults are returned together with created=false.
func Load(path string) (*Config, string, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultPath()
	}
	resolved = expandHome(resolved)

	cfg := Default()

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			if err := cfg.Validate(); err != nil {
				return nil, resolved, false, err
			}
			return &cfg, resolved, false, nil
		}
		return nil, resolved, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, false, fmt.Errorf("parse config %s: %w", resolved, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, false, err
	}
	return &cfg, resolved, true, nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	path = expandHome(strings.TrimSpace(path))
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.BlobDir, c.Paths.LogDir, c.Paths.TempDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "nexus.db")
}

// LogFilePath returns the daemon log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "nexus.log")
}

// LockFilePath returns the daemon single-instance lock location.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.DataDir, "nexusd.lock")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}
