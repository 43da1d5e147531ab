package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"mediaclient/internal/audioassembler"
	"mediaclient/internal/config"
	"mediaclient/internal/leakybucket"
	"mediaclient/internal/videodecode"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("expected default sample rate 48000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 1 {
		t.Errorf("expected default channels 1, got %d", cfg.Audio.Channels)
	}
	if cfg.Audio.SampleType != "F32" {
		t.Errorf("expected default sample type F32, got %q", cfg.Audio.SampleType)
	}
	if cfg.Video.PixelFormat != "NV12" {
		t.Errorf("expected default pixel format NV12, got %q", cfg.Video.PixelFormat)
	}
	if cfg.Bucket.Mode != "Active" {
		t.Errorf("expected default bucket mode Active, got %q", cfg.Bucket.Mode)
	}
	if cfg.Jitter.NumStd != 4 {
		t.Errorf("expected default jitter.num_std 4, got %d", cfg.Jitter.NumStd)
	}
	if len(cfg.Servers) == 0 {
		t.Error("expected at least one default server")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidateRejectsUnknownEnumValues(t *testing.T) {
	cases := []func(*config.Config){
		func(c *config.Config) { c.Audio.SampleRate = 44100 },
		func(c *config.Config) { c.Audio.Channels = 3 },
		func(c *config.Config) { c.Audio.SampleType = "PCM" },
		func(c *config.Config) { c.Video.PixelFormat = "RGB" },
		func(c *config.Config) { c.Bucket.Mode = "Passive" },
	}
	for i, mutate := range cases {
		cfg := config.Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestSampleFormatTranslation(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.SampleType = "L16"
	if cfg.SampleFormat() != audioassembler.FormatL16 {
		t.Error("expected FormatL16")
	}
	cfg.Audio.SampleType = "F32"
	if cfg.SampleFormat() != audioassembler.FormatF32 {
		t.Error("expected FormatF32")
	}
}

func TestPixelFormatTranslation(t *testing.T) {
	cfg := config.Default()
	cfg.Video.PixelFormat = "I420"
	if cfg.PixelFormat() != videodecode.PixelFormatI420 {
		t.Error("expected PixelFormatI420")
	}
	cfg.Video.PixelFormat = "NV12"
	if cfg.PixelFormat() != videodecode.PixelFormatNV12 {
		t.Error("expected PixelFormatNV12")
	}
}

func TestBucketModeTranslation(t *testing.T) {
	cfg := config.Default()
	cfg.Bucket.Mode = "Listener"
	if cfg.BucketMode() != leakybucket.Listener {
		t.Error("expected Listener mode")
	}
	cfg.Bucket.Mode = "Active"
	if cfg.BucketMode() != leakybucket.Active {
		t.Error("expected Active mode")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := config.Default()
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 2
	cfg.Jitter.NumStd = 6
	cfg.Servers = []config.ServerEntry{{Name: "Home", Addr: "192.168.1.10:8443"}}

	if err := config.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := config.Load()
	if loaded.Audio.SampleRate != 16000 {
		t.Errorf("sample rate: want 16000 got %d", loaded.Audio.SampleRate)
	}
	if loaded.Audio.Channels != 2 {
		t.Errorf("channels: want 2 got %d", loaded.Audio.Channels)
	}
	if loaded.Jitter.NumStd != 6 {
		t.Errorf("num_std: want 6 got %d", loaded.Jitter.NumStd)
	}
	if len(loaded.Servers) != 1 || loaded.Servers[0].Addr != "192.168.1.10:8443" {
		t.Errorf("servers: unexpected value %+v", loaded.Servers)
	}
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := config.Default()
	cfg.Audio.SampleRate = 44100
	if err := config.Save(cfg); err == nil {
		t.Error("expected Save to reject an invalid sample rate")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := config.Load()
	if cfg.Audio.SampleRate != 48000 {
		t.Error("expected defaults when config file is missing")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "mediaclient", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json {{{"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Load()
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("expected default sample rate on corrupt file, got %d", cfg.Audio.SampleRate)
	}
}

func TestLoadRejectsInvalidPersistedValue(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "mediaclient", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"audio":{"sample_rate":44100,"channels":1,"sample_type":"F32"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Load()
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("expected fallback to defaults on invalid persisted value, got %d", cfg.Audio.SampleRate)
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if err := config.Save(config.Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, "mediaclient", "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file not created: %v", err)
	}
}
