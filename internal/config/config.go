// Package config manages persistent engine configuration, stored as JSON
// at os.UserConfigDir()/mediaclient/config.json, following the teacher's
// persisted-JSON Config/ServerEntry pattern.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mediaclient/internal/audioassembler"
	"mediaclient/internal/leakybucket"
	"mediaclient/internal/videodecode"
)

// Config holds the enumerated options of spec.md §6's EXTERNAL INTERFACES
// section plus the saved-server list carried from the teacher.
type Config struct {
	Audio   AudioConfig   `json:"audio"`
	Video   VideoConfig   `json:"video"`
	Bucket  BucketConfig  `json:"bucket"`
	Jitter  JitterConfig  `json:"jitter"`
	Servers []ServerEntry `json:"servers"`
}

// AudioConfig is audio.sample_rate / audio.channels / audio.sample_type.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"` // one of 8000, 16000, 24000, 48000
	Channels   int    `json:"channels"`    // 1 or 2
	SampleType string `json:"sample_type"` // "F32" or "L16"
}

// VideoConfig is video.pixel_format.
type VideoConfig struct {
	PixelFormat string `json:"pixel_format"` // "NV12" or "I420"
}

// BucketConfig is bucket.mode.
type BucketConfig struct {
	Mode string `json:"mode"` // "Active" or "Listener"
}

// JitterConfig is jitter.num_std.
type JitterConfig struct {
	NumStd uint `json:"num_std"`
}

// ServerEntry is a saved server shown in the server browser.
type ServerEntry struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

var validSampleRates = map[int]bool{8000: true, 16000: true, 24000: true, 48000: true}

// Default returns a Config populated with spec.md §6's defaults.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate: 48000,
			Channels:   1,
			SampleType: "F32",
		},
		Video: VideoConfig{
			PixelFormat: "NV12",
		},
		Bucket: BucketConfig{
			Mode: "Active",
		},
		Jitter: JitterConfig{
			NumStd: 4,
		},
		Servers: []ServerEntry{
			{Name: "Local Dev", Addr: "localhost:4433"},
		},
	}
}

// Validate checks that every enumerated option is one of the values
// spec.md §6 allows.
func (c Config) Validate() error {
	if !validSampleRates[c.Audio.SampleRate] {
		return fmt.Errorf("config: audio.sample_rate %d not in {8000,16000,24000,48000}", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("config: audio.channels %d not in {1,2}", c.Audio.Channels)
	}
	if c.Audio.SampleType != "F32" && c.Audio.SampleType != "L16" {
		return fmt.Errorf("config: audio.sample_type %q not in {F32,L16}", c.Audio.SampleType)
	}
	if c.Video.PixelFormat != "NV12" && c.Video.PixelFormat != "I420" {
		return fmt.Errorf("config: video.pixel_format %q not in {NV12,I420}", c.Video.PixelFormat)
	}
	if c.Bucket.Mode != "Active" && c.Bucket.Mode != "Listener" {
		return fmt.Errorf("config: bucket.mode %q not in {Active,Listener}", c.Bucket.Mode)
	}
	return nil
}

// SampleFormat translates audio.sample_type into the audioassembler enum.
func (c Config) SampleFormat() audioassembler.SampleFormat {
	if c.Audio.SampleType == "L16" {
		return audioassembler.FormatL16
	}
	return audioassembler.FormatF32
}

// PixelFormat translates video.pixel_format into the videodecode enum.
func (c Config) PixelFormat() videodecode.PixelFormat {
	if c.Video.PixelFormat == "I420" {
		return videodecode.PixelFormatI420
	}
	return videodecode.PixelFormatNV12
}

// BucketMode translates bucket.mode into the leakybucket enum.
func (c Config) BucketMode() leakybucket.Mode {
	if c.Bucket.Mode == "Listener" {
		return leakybucket.Listener
	}
	return leakybucket.Active
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mediaclient", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing,
// unreadable, or fails validation, the default config is returned — never
// an error, matching the teacher's forgiving Load (spec.md §7: per-packet
// and per-call failures never become hard stops for the host application).
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	if err := cfg.Validate(); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk, creating the directory if needed. Rejects
// invalid enumerated option values instead of persisting them.
func Save(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
