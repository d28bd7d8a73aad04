package config

const (
	defaultDataDir            = "~/.local/share/nexus"
	defaultBlobDir            = "~/.local/share/nexus/blobs"
	defaultLogDir             = "~/.local/share/nexus/logs"
	defaultTempDir            = "~/.local/share/nexus/tmp"
	defaultAPIBind            = "127.0.0.1:8742"
	defaultLogLevel           = "info"
	defaultLogFormat          = "console"
	defaultWorkers            = 3
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultMaxAttempts        = 3
	defaultBaseDelaySeconds   = 2
	defaultMaxDelaySeconds    = 30
	defaultDownloaderBinary   = "yt-dlp"
	defaultProbeBinary        = "ffprobe"
	defaultExtractTimeout     = 900
	defaultFpcalcBinary       = "fpcalc"
	defaultFingerprintTimeout = 60
	defaultTranscriberURL     = "http://127.0.0.1:9000"
	defaultTranscriberModel   = "base"
	defaultTranscriberTimeout = 1800
	defaultEnricherProvider   = "ollama"
	defaultEnricherModel      = "llama3.1"
	defaultOllamaHost         = "http://127.0.0.1:11434"
	defaultEnricherTimeout    = 120
	defaultEnricherRPM        = 30
	defaultEmbedderModel      = "nomic-embed-text"
	defaultEmbedDimension     = 768
	defaultEmbedderTimeout    = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			BlobDir: defaultBlobDir,
			LogDir:  defaultLogDir,
			TempDir: defaultTempDir,
			APIBind: defaultAPIBind,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Retry: Retry{
			MaxAttempts:           defaultMaxAttempts,
			TranscribeMaxAttempts: defaultMaxAttempts,
			BaseDelaySeconds:      defaultBaseDelaySeconds,
			MaxDelaySeconds:       defaultMaxDelaySeconds,
		},
		Extract: Extract{
			DownloaderBinary: defaultDownloaderBinary,
			ProbeBinary:      defaultProbeBinary,
			TimeoutSeconds:   defaultExtractTimeout,
		},
		Fingerprint: Fingerprint{
			FpcalcBinary:   defaultFpcalcBinary,
			TimeoutSeconds: defaultFingerprintTimeout,
		},
		Transcriber: Transcriber{
			URL:            defaultTranscriberURL,
			Model:          defaultTranscriberModel,
			TimeoutSeconds: defaultTranscriberTimeout,
		},
		Enricher: Enricher{
			Provider:          defaultEnricherProvider,
			Model:             defaultEnricherModel,
			OllamaHost:        defaultOllamaHost,
			TimeoutSeconds:    defaultEnricherTimeout,
			RequestsPerMinute: defaultEnricherRPM,
		},
		Embedder: Embedder{
			Model:          defaultEmbedderModel,
			OllamaHost:     defaultOllamaHost,
			Dimension:      defaultEmbedDimension,
			TimeoutSeconds: defaultEmbedderTimeout,
		},
	}
}
