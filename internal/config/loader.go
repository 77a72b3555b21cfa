package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued setting that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Scene.Path == "" {
		cfg.Scene.Path = DefaultScenePath
	}
	if cfg.Scene.WatchInterval == 0 {
		cfg.Scene.WatchInterval = DefaultWatchInterval
	}
	if cfg.Speech.MinReadingTime == 0 {
		cfg.Speech.MinReadingTime = DefaultMinReadingTime
	}
	if cfg.Speech.PerCharReadingTime == 0 {
		cfg.Speech.PerCharReadingTime = DefaultPerCharReadingTime
	}
	if cfg.Speech.SpeakDelay == 0 {
		cfg.Speech.SpeakDelay = DefaultSpeakDelay
	}
	if cfg.Speech.SampleRate == 0 {
		cfg.Speech.SampleRate = DefaultSampleRate
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}

	// Scene
	if cfg.Scene.Path == "" {
		errs = append(errs, errors.New("scene.path is required"))
	}
	if cfg.Scene.WatchInterval < 0 {
		errs = append(errs, fmt.Errorf("scene.watch_interval %s must not be negative", cfg.Scene.WatchInterval))
	}

	// Speech
	if cfg.Speech.MinReadingTime < 0 {
		errs = append(errs, fmt.Errorf("speech.min_reading_time %s must not be negative", cfg.Speech.MinReadingTime))
	}
	if cfg.Speech.PerCharReadingTime < 0 {
		errs = append(errs, fmt.Errorf("speech.per_char_reading_time %s must not be negative", cfg.Speech.PerCharReadingTime))
	}
	if cfg.Speech.SpeakDelay < 0 {
		errs = append(errs, fmt.Errorf("speech.speak_delay %s must not be negative", cfg.Speech.SpeakDelay))
	}
	if cfg.Speech.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("speech.sample_rate %d must not be negative", cfg.Speech.SampleRate))
	}
	validateVoice := func(role string, v VoiceConfig) {
		if v.SpeedFactor != 0 && (v.SpeedFactor < 0.5 || v.SpeedFactor > 2.0) {
			errs = append(errs, fmt.Errorf("speech.voices.%s.speed_factor %.2f is out of range [0.5, 2.0]", role, v.SpeedFactor))
		}
	}
	validateVoice("npc", cfg.Speech.Voices.NPC)
	validateVoice("player", cfg.Speech.Voices.Player)

	// Providers
	validateProviderName("tts", cfg.Providers.TTS.Name)
	if cfg.Speech.AudioEnabled && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("speech.audio_enabled requires a TTS provider but providers.tts is not configured"))
	}
	if len(cfg.Providers.TTSFallbacks) > 0 && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts_fallbacks requires a primary providers.tts"))
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("tts", fb.Name)
	}
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}
	if npc := cfg.Speech.Voices.NPC; cfg.Providers.TTS.Name != "" && npc.VoiceID == "" && npc.Name == "" {
		slog.Warn("providers.tts is configured but speech.voices.npc has neither voice_id nor name; the provider default voice is used")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
