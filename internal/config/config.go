package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the translation gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram STT API configuration
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base

	// Translation engine configuration (Azure Translator v3 wire shape)
	TranslatorKey      string `envconfig:"TRANSLATOR_KEY" required:"true"`
	TranslatorEndpoint string `envconfig:"TRANSLATOR_ENDPOINT" default:"https://api.cognitive.microsofttranslator.com"`
	TranslatorRegion   string `envconfig:"TRANSLATOR_REGION" default:""`

	// Synthesis engine configuration (Azure Cognitive Speech REST shape)
	SpeechKey    string `envconfig:"SPEECH_KEY" required:"true"`
	SpeechRegion string `envconfig:"SPEECH_REGION" default:"eastus"`
	// Per-target voice map, e.g. "hi-IN:hi-IN-KavyaNeural,es-ES:es-ES-ElviraNeural"
	VoiceMap     map[string]string `envconfig:"VOICE_MAP" default:"hi-IN:hi-IN-KavyaNeural"`
	DefaultVoice string            `envconfig:"DEFAULT_VOICE" default:"hi-IN-KavyaNeural"`
	SpeechRate   string            `envconfig:"SPEECH_RATE" default:"medium"` // SSML prosody rate

	// Audio format expected on the ingest socket (mono 16-bit PCM)
	SampleRate int `envconfig:"SAMPLE_RATE" default:"16000"`

	// Segmentation configuration
	SilenceThresholdMs int `envconfig:"SILENCE_THRESHOLD_MS" default:"700"` // silence cut boundary
	MaxSegmentTokens   int `envconfig:"MAX_SEGMENT_TOKENS" default:"18"`    // length cut boundary

	// Target pipeline configuration
	PipelineQueueDepth int `envconfig:"PIPELINE_QUEUE_DEPTH" default:"16"` // segments queued per target before drop-and-mark
	PacingLeadMs       int `envconfig:"PACING_LEAD_MS" default:"1500"`     // max lookahead before previous audio ends
	ListenerQueueDepth int `envconfig:"LISTENER_QUEUE_DEPTH" default:"32"` // outbound frames buffered per listener
	EngineTimeout      int `envconfig:"ENGINE_TIMEOUT" default:"10"`       // per translation/synthesis call, seconds

	// Glossary configuration
	GlossaryPath string `envconfig:"GLOSSARY_PATH" default:""` // TSV term list; empty disables the guard

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`             // One retry per engine call
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum STT reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// SilenceThreshold returns the segmenter silence boundary as a duration.
func (c *Config) SilenceThreshold() time.Duration {
	return time.Duration(c.SilenceThresholdMs) * time.Millisecond
}

// PacingLead returns the maximum synthesis lookahead as a duration.
func (c *Config) PacingLead() time.Duration {
	return time.Duration(c.PacingLeadMs) * time.Millisecond
}

// VoiceFor returns the synthesis voice for a target language tag,
// falling back to the configured default voice.
func (c *Config) VoiceFor(target string) string {
	if v, ok := c.VoiceMap[target]; ok && v != "" {
		return v
	}
	return c.DefaultVoice
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.TranslatorKey == "" {
		return fmt.Errorf("TRANSLATOR_KEY is required")
	}
	if c.SpeechKey == "" {
		return fmt.Errorf("SPEECH_KEY is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.SilenceThresholdMs <= 0 {
		return fmt.Errorf("SILENCE_THRESHOLD_MS must be positive, got %d", c.SilenceThresholdMs)
	}
	if c.MaxSegmentTokens <= 0 {
		return fmt.Errorf("MAX_SEGMENT_TOKENS must be positive, got %d", c.MaxSegmentTokens)
	}
	if c.PipelineQueueDepth <= 0 {
		return fmt.Errorf("PIPELINE_QUEUE_DEPTH must be positive, got %d", c.PipelineQueueDepth)
	}
	if !strings.HasPrefix(c.TranslatorEndpoint, "http") {
		return fmt.Errorf("TRANSLATOR_ENDPOINT must be an http(s) URL, got %q", c.TranslatorEndpoint)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
