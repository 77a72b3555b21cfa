// Package config provides the configuration schema, loader, and TTS provider
// registry for the parley server and terminal player.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr         = ":8080"
	DefaultScenePath          = "scenes/office_pantry_01.yaml"
	DefaultWatchInterval      = 2 * time.Second
	DefaultMinReadingTime     = 1500 * time.Millisecond
	DefaultPerCharReadingTime = 35 * time.Millisecond
	DefaultSpeakDelay         = 50 * time.Millisecond
	DefaultSampleRate         = 16000
	DefaultServiceName        = "parley"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scene     SceneConfig     `yaml:"scene"`
	Speech    SpeechConfig    `yaml:"speech"`
	Providers ProvidersConfig `yaml:"providers"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns accepted for cross-origin WebSocket
	// connections. Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxSessions caps concurrent WebSocket sessions. 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// SceneConfig selects the scene document and how it is reloaded.
type SceneConfig struct {
	// Path is the YAML or JSON scene file.
	Path string `yaml:"path"`

	// StartNode overrides the document's start node.
	StartNode string `yaml:"start_node"`

	// Strict rejects unknown fields in the scene document.
	Strict bool `yaml:"strict"`

	// Watch polls Path and swaps in a new graph whenever the file changes.
	// Running sessions keep their graph until they restart.
	Watch bool `yaml:"watch"`

	// WatchInterval is the polling interval. Default: 2s.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// SpeechConfig tunes both speech backends.
type SpeechConfig struct {
	// AudioEnabled is the initial audio preference of new sessions. It
	// requires providers.tts.
	AudioEnabled bool `yaml:"audio_enabled"`

	// MinReadingTime is the floor of the timer backend. Default: 1.5s.
	MinReadingTime time.Duration `yaml:"min_reading_time"`

	// PerCharReadingTime is the per-character reading time. Default: 35ms.
	PerCharReadingTime time.Duration `yaml:"per_char_reading_time"`

	// SpeakDelay is the pause before each synthesised line. Default: 50ms.
	SpeakDelay time.Duration `yaml:"speak_delay"`

	// SampleRate of the synthesised PCM. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	Voices VoicesConfig `yaml:"voices"`
}

// VoicesConfig assigns a voice to each speaking role.
type VoicesConfig struct {
	NPC    VoiceConfig `yaml:"npc"`
	Player VoiceConfig `yaml:"player"`
}

// VoiceConfig specifies the TTS voice parameters for one role.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Name is the provider's display name of the voice. When VoiceID is
	// empty it is looked up in the provider's voice list at startup.
	Name string `yaml:"name"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// ProvidersConfig declares the TTS provider behind the audio backend and the
// providers it fails over to.
type ProvidersConfig struct {
	TTS ProviderEntry `yaml:"tts"`

	// TTSFallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig tunes the breaker guarding each TTS provider. Zero
// values select the breaker's defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TelemetryConfig names the service in traces and metrics.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}
