package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins:
    - "localhost:*"

scene:
  path: scenes/office_pantry_01.yaml
  start_node: n001
  watch: true
  watch_interval: 500ms

speech:
  audio_enabled: true
  min_reading_time: 1s
  per_char_reading_time: 20ms
  sample_rate: 22050
  voices:
    npc:
      voice_id: maya-v1
      name: Maya
      speed_factor: 0.9
    player:
      voice_id: player-v1

providers:
  tts:
    name: elevenlabs
    api_key: el-test
    model: eleven_flash_v2_5
    options:
      output_format: pcm_16000
  tts_fallbacks:
    - name: elevenlabs
      api_key: el-backup
  circuit_breaker:
    max_failures: 3
    reset_timeout: 10s

telemetry:
  service_version: 1.2.3
`

func mustFail(t *testing.T, yaml, wantSubstr string) {
	t.Helper()
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", wantSubstr)
	}
	if !strings.Contains(err.Error(), wantSubstr) {
		t.Errorf("error should mention %q, got: %v", wantSubstr, err)
	}
}

// ── YAML loading ─────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if !cfg.Scene.Watch || cfg.Scene.WatchInterval != 500*time.Millisecond {
		t.Errorf("scene watch: got %v every %s", cfg.Scene.Watch, cfg.Scene.WatchInterval)
	}
	if cfg.Speech.MinReadingTime != time.Second || cfg.Speech.PerCharReadingTime != 20*time.Millisecond {
		t.Errorf("reading time: got %s + %s/char", cfg.Speech.MinReadingTime, cfg.Speech.PerCharReadingTime)
	}
	if cfg.Speech.Voices.NPC.SpeedFactor != 0.9 {
		t.Errorf("speech.voices.npc.speed_factor: got %.2f, want 0.9", cfg.Speech.Voices.NPC.SpeedFactor)
	}
	if cfg.Providers.TTS.Options["output_format"] != "pcm_16000" {
		t.Errorf("providers.tts.options: got %v", cfg.Providers.TTS.Options)
	}
	if len(cfg.Providers.TTSFallbacks) != 1 {
		t.Fatalf("providers.tts_fallbacks: got %d, want 1", len(cfg.Providers.TTSFallbacks))
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout != 10*time.Second {
		t.Errorf("circuit_breaker.reset_timeout: got %s", cfg.Providers.CircuitBreaker.ResetTimeout)
	}

	// Defaults fill what the file leaves out.
	if cfg.Speech.SpeakDelay != config.DefaultSpeakDelay {
		t.Errorf("speech.speak_delay: got %s, want default", cfg.Speech.SpeakDelay)
	}
	if cfg.Telemetry.ServiceName != config.DefaultServiceName || cfg.Telemetry.ServiceVersion != "1.2.3" {
		t.Errorf("telemetry: got %+v", cfg.Telemetry)
	}
}

func TestLoadFromReader_EmptyIsDefault(t *testing.T) {
	t.Parallel()
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		def := config.Default()
		if cfg.Server.ListenAddr != def.Server.ListenAddr || cfg.Server.LogLevel != def.Server.LogLevel ||
			cfg.Scene != def.Scene || cfg.Telemetry != def.Telemetry {
			t.Errorf("config for %q differs from Default(): %+v", doc, cfg)
		}
		if cfg.Speech.MinReadingTime != config.DefaultMinReadingTime || cfg.Speech.SampleRate != config.DefaultSampleRate {
			t.Errorf("speech defaults not applied for %q: %+v", doc, cfg.Speech)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	mustFail(t, "server:\n  listen_adr: \":8080\"\n", "listen_adr")
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scene.StartNode != "n001" {
		t.Errorf("scene.start_node: got %q", cfg.Scene.StartNode)
	}

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v, want os.ErrNotExist", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if !cfg.Scene.Watch || cfg.Scene.WatchInterval != 2*time.Second {
		t.Errorf("scene watch: got %v every %s", cfg.Scene.Watch, cfg.Scene.WatchInterval)
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout != 30*time.Second {
		t.Errorf("circuit_breaker.reset_timeout: got %s", cfg.Providers.CircuitBreaker.ResetTimeout)
	}
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: verbose\n",
			want: "server.log_level",
		},
		{
			name: "tls without key",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: "server.tls",
		},
		{
			name: "negative session cap",
			yaml: "server:\n  max_sessions: -2\n",
			want: "server.max_sessions",
		},
		{
			name: "negative watch interval",
			yaml: "scene:\n  watch_interval: -1s\n",
			want: "scene.watch_interval",
		},
		{
			name: "negative reading time",
			yaml: "speech:\n  min_reading_time: -5ms\n",
			want: "speech.min_reading_time",
		},
		{
			name: "speed factor out of range",
			yaml: "speech:\n  voices:\n    player:\n      speed_factor: 3\n",
			want: "speech.voices.player.speed_factor",
		},
		{
			name: "audio without provider",
			yaml: "speech:\n  audio_enabled: true\n",
			want: "requires a TTS provider",
		},
		{
			name: "fallbacks without primary",
			yaml: "providers:\n  tts_fallbacks:\n    - name: elevenlabs\n",
			want: "requires a primary",
		},
		{
			name: "unnamed fallback",
			yaml: "providers:\n  tts:\n    name: elevenlabs\n  tts_fallbacks:\n    - api_key: x\n",
			want: "tts_fallbacks[0].name",
		},
		{
			name: "negative breaker setting",
			yaml: "providers:\n  circuit_breaker:\n    max_failures: -1\n",
			want: "circuit_breaker",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mustFail(t, tc.yaml, tc.want)
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
speech:
  audio_enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"server.log_level", "TTS provider"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace" should be invalid`)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if !slices.Contains(config.ValidProviderNames["tts"], "elevenlabs") {
		t.Error(`ValidProviderNames["tts"] should contain "elevenlabs"`)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownTTS(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredTTS(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	want := &ttsmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterTTS("stub", func(e config.ProviderEntry) (tts.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateTTS(config.ProviderEntry{Name: "stub", APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.APIKey != "k" {
		t.Errorf("factory entry: got %+v", gotEntry)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterTTS("broken", func(config.ProviderEntry) (tts.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_TTSNames(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	factory := func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil }
	reg.RegisterTTS("zeta", factory)
	reg.RegisterTTS("alpha", factory)
	if got := reg.TTSNames(); !slices.Equal(got, []string{"alpha", "zeta"}) {
		t.Errorf("TTSNames: got %v", got)
	}
}
