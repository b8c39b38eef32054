// Package config provides the configuration schema, loader, and file watcher
// for the Drizzle bot.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that unmarshals from YAML strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity for the Drizzle process.
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

// Level maps l to the corresponding [slog.Level]. Unrecognised or empty
// values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure for Drizzle.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Discord DiscordConfig `yaml:"discord"`
	Cache   CacheConfig   `yaml:"cache"`
	Rain    RainConfig    `yaml:"rain"`
	Session SessionConfig `yaml:"session"`
}

// SessionConfig tunes per-guild voice session behaviour.
type SessionConfig struct {
	// LockWait bounds how long a command waits for a busy session before
	// giving up with a transient error. Zero means the built-in default.
	LockWait Duration `yaml:"lock_wait"`
}

// ServerConfig holds network and logging settings for the ops endpoints
// (metrics and health).
type ServerConfig struct {
	// ListenAddr is the TCP address the ops server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the ops server. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DiscordConfig holds the Discord connection settings.
type DiscordConfig struct {
	// Token is the bot token. Falls back to the DISCORD_TOKEN environment
	// variable when empty.
	Token string `yaml:"token"`
}

// CacheConfig holds settings for the on-disk audio asset cache.
type CacheConfig struct {
	// Dir is the directory cached audio files live in.
	Dir string `yaml:"dir"`
}

// RainConfig holds settings for the ambience bed mixed under tracks.
type RainConfig struct {
	// BedPath is the audio file looped under tracks when ambience is on.
	// Falls back to the RAIN_PATH environment variable when empty. When
	// neither is set, ambience-mixed playback is unavailable.
	BedPath string `yaml:"bed_path"`
}
