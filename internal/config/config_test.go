package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.AudioExt != "wav" {
		t.Fatalf("expected wav audio ext, got %q", cfg.TTS.AudioExt)
	}
	if cfg.TTS.Mimic3.UseDeterministicCompute {
		t.Fatal("expected deterministic compute disabled by default")
	}
	if cfg.TTS.Mimic3.LengthScale != nil {
		t.Fatal("expected length_scale unset by default")
	}
}

const mimic3YAML = `tts:
  enabled: true
  mode: exec
  command: "mimic3 --cuda"
  mimic3:
    voice: en_UK/apope_low
    language: en_UK
    voices_directories:
      - /opt/voices
      - /usr/share/mimic3/voices
    speaker: "3"
    length_scale: 1.2
    noise_w: 0.5
    use_deterministic_compute: true
    preload_voices:
      - de_DE/thorsten_low
    preloaded_cache: /var/cache/mimic3
`

func TestLoadMimic3Section(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-mimic3.yaml")
	if err := os.WriteFile(path, []byte(mimic3YAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := cfg.TTS.Mimic3
	if m.Voice != "en_UK/apope_low" || m.Language != "en_UK" {
		t.Fatalf("unexpected voice/language: %q %q", m.Voice, m.Language)
	}
	if len(m.VoicesDirectories) != 2 {
		t.Fatalf("expected 2 voice directories, got %v", m.VoicesDirectories)
	}
	if m.LengthScale == nil || *m.LengthScale != 1.2 {
		t.Fatalf("expected length_scale 1.2, got %v", m.LengthScale)
	}
	if m.NoiseScale != nil {
		t.Fatalf("expected noise_scale unset")
	}
	if m.NoiseW == nil || *m.NoiseW != 0.5 {
		t.Fatalf("expected noise_w 0.5")
	}
	if !m.UseDeterministicCompute {
		t.Fatal("expected deterministic compute enabled")
	}
	if len(m.PreloadVoices) != 1 || m.PreloadVoices[0] != "de_DE/thorsten_low" {
		t.Fatalf("unexpected preload voices: %v", m.PreloadVoices)
	}
	if m.PreloadedCache != "/var/cache/mimic3" {
		t.Fatalf("unexpected preloaded cache: %q", m.PreloadedCache)
	}
	// Untouched keys keep their defaults.
	if cfg.TTS.ChunkDurationMS != 400 {
		t.Fatalf("expected default chunk duration, got %d", cfg.TTS.ChunkDurationMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_NODE_ID", "test-node")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_TTS_MODE", "http")
	t.Setenv("LOQA_TTS_ENDPOINT", "http://mimic3:59125")
	t.Setenv("LOQA_MIMIC3_VOICE", "en_US/vctk_low")
	t.Setenv("LOQA_MIMIC3_NOISE_SCALE", "0.333")
	t.Setenv("LOQA_MIMIC3_PRELOAD_VOICES", "fr_FR/siwis_low, ,de_DE/thorsten_low")
	t.Setenv("LOQA_MIMIC3_USE_DETERMINISTIC_COMPUTE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.TTS.Mode != "http" || cfg.TTS.Endpoint != "http://mimic3:59125" {
		t.Fatalf("expected tts overrides, got %q %q", cfg.TTS.Mode, cfg.TTS.Endpoint)
	}
	if cfg.TTS.Mimic3.Voice != "en_US/vctk_low" {
		t.Fatalf("expected voice override")
	}
	if cfg.TTS.Mimic3.NoiseScale == nil || *cfg.TTS.Mimic3.NoiseScale != 0.333 {
		t.Fatalf("expected noise scale override")
	}
	if len(cfg.TTS.Mimic3.PreloadVoices) != 2 {
		t.Fatalf("expected 2 preload voices, got %v", cfg.TTS.Mimic3.PreloadVoices)
	}
	if !cfg.TTS.Mimic3.UseDeterministicCompute {
		t.Fatal("expected deterministic compute override")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	t.Setenv("LOQA_TTS_MODE", "espeak")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown tts mode")
	}
}

func TestValidateRejectsNegativeScale(t *testing.T) {
	t.Setenv("LOQA_MIMIC3_LENGTH_SCALE", "-1")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for negative length scale")
	}
}

func TestValidateRejectsZeroTimeout(t *testing.T) {
	t.Setenv("LOQA_TTS_TIMEOUT_MS", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for zero tts timeout")
	}
}
