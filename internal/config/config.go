package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied by Load and Default for unset fields.
const (
	DefaultListenAddr     = "127.0.0.1:8088"
	DefaultJWTIssuer      = "casechat"
	DefaultTypingTTL      = 1500 * time.Millisecond
	DefaultTypingDebounce = 500 * time.Millisecond
	DefaultOutboxInterval = 500 * time.Millisecond
	DefaultSendQueue      = 64
	DefaultRedisChannel   = "casechat:rooms"
)

// Config represents the global ~/.casechat/config.toml.
type Config struct {
	DefaultInstance string   `toml:"default_instance"`
	ListenAddr      string   `toml:"listen_addr"`
	JWTSecret       string   `toml:"jwt_secret"`
	JWTIssuer       string   `toml:"jwt_issuer"`
	TypingTTL       Duration `toml:"typing_ttl"`
	TypingDebounce  Duration `toml:"typing_debounce"`
	OutboxInterval  Duration `toml:"outbox_interval"`
	SendQueue       int      `toml:"send_queue"`
	RedisAddr       string   `toml:"redis_addr"`
	RedisChannel    string   `toml:"redis_channel"`
	// DBPath overrides the per-instance message store. Processes relayed
	// over Redis must point at the same database.
	DBPath string `toml:"db_path"`
}

// Duration is a time.Duration written as a string ("1.5s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault reads the config at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from CASECHAT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CASECHAT_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("CASECHAT_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("CASECHAT_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("CASECHAT_DB_PATH"); v != "" {
		c.DBPath = v
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = DefaultJWTIssuer
	}
	if c.TypingTTL.Duration <= 0 {
		c.TypingTTL.Duration = DefaultTypingTTL
	}
	if c.TypingDebounce.Duration <= 0 {
		c.TypingDebounce.Duration = DefaultTypingDebounce
	}
	if c.OutboxInterval.Duration <= 0 {
		c.OutboxInterval.Duration = DefaultOutboxInterval
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.RedisChannel == "" {
		c.RedisChannel = DefaultRedisChannel
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
