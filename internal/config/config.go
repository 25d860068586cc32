// Package config loads the gateway configuration from a JSON5 or YAML file
// with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/wagate/internal/compose"
)

// Defaults.
const (
	DefaultPort    = 4531
	DefaultDataDir = "/data/auth"
	DefaultPath    = "~/.wagate/config.json5"
)

// Storage backends.
const (
	BackendAuto     = ""
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Session   SessionConfig   `json:"session" yaml:"session"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	Branding  BrandingConfig  `json:"branding" yaml:"branding"`
	Media     MediaConfig     `json:"media" yaml:"media"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

type ServerConfig struct {
	Host  string `json:"host" yaml:"host"`
	Port  int    `json:"port" yaml:"port"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"` // bearer token for POST /send; empty = open
	// RateLimitRPM caps sends per client IP per minute (0 = unlimited).
	RateLimitRPM int `json:"rateLimitRpm" yaml:"rateLimitRpm"`
	RateBurst    int `json:"rateBurst" yaml:"rateBurst"`
	// TrustProxy keys rate limits on X-Forwarded-For.
	TrustProxy bool `json:"trustProxy,omitempty" yaml:"trustProxy,omitempty"`
}

type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "", file, postgres, redis, memory
	DataDir string `json:"dataDir" yaml:"dataDir"`
	Account string `json:"account,omitempty" yaml:"account,omitempty"`

	PostgresDSN   string `json:"postgresDsn,omitempty" yaml:"postgresDsn,omitempty"`
	RedisURL      string `json:"redisUrl,omitempty" yaml:"redisUrl,omitempty"`
	EncryptionKey string `json:"encryptionKey,omitempty" yaml:"encryptionKey,omitempty"`
}

type SessionConfig struct {
	ReconnectBase Duration `json:"reconnectBase" yaml:"reconnectBase"`
	ReconnectMax  Duration `json:"reconnectMax" yaml:"reconnectMax"`
	MaxAttempts   int      `json:"maxAttempts" yaml:"maxAttempts"` // 0 = unlimited
	Jitter        bool     `json:"jitter" yaml:"jitter"`
}

type DispatchConfig struct {
	QueueCap int `json:"queueCap" yaml:"queueCap"`
}

// BrandingConfig mirrors compose.Branding with a human-readable duration.
type BrandingConfig struct {
	Disabled        bool     `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	ChannelJID      string   `json:"channelJid" yaml:"channelJid"`
	ServerMessageID string   `json:"serverMessageId" yaml:"serverMessageId"`
	ChannelName     string   `json:"channelName" yaml:"channelName"`
	ForwardingScore uint32   `json:"forwardingScore" yaml:"forwardingScore"`
	Disappearing    Duration `json:"disappearing" yaml:"disappearing"`
	StickerExempt   bool     `json:"stickerExempt" yaml:"stickerExempt"`
	QuoteCard       bool     `json:"quoteCard" yaml:"quoteCard"`
	QuoteName       string   `json:"quoteName" yaml:"quoteName"`
	QuoteID         string   `json:"quoteId" yaml:"quoteId"`
}

type MediaConfig struct {
	MaxBytes int64    `json:"maxBytes" yaml:"maxBytes"`
	Timeout  Duration `json:"timeout" yaml:"timeout"`

	// Roots limits local file refs to these directories. Empty disables file refs.
	Roots []string `json:"roots,omitempty" yaml:"roots,omitempty"`

	S3Region   string `json:"s3Region,omitempty" yaml:"s3Region,omitempty"`
	S3Endpoint string `json:"s3Endpoint,omitempty" yaml:"s3Endpoint,omitempty"` // MinIO, R2, etc.

	// Static S3 credentials. When empty the default AWS chain is used.
	S3AccessKeyID     string `json:"s3AccessKeyId,omitempty" yaml:"s3AccessKeyId,omitempty"`
	S3SecretAccessKey string `json:"s3SecretAccessKey,omitempty" yaml:"s3SecretAccessKey,omitempty"`
}

type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"` // grpc (default) or http
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName string            `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	b := compose.DefaultBranding()
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         DefaultPort,
			RateLimitRPM: 60,
			RateBurst:    10,
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
		},
		Session: SessionConfig{
			ReconnectBase: Duration(time.Second),
			ReconnectMax:  Duration(time.Minute),
			MaxAttempts:   20,
			Jitter:        true,
		},
		Dispatch: DispatchConfig{QueueCap: 64},
		Branding: BrandingConfig{
			ChannelJID:      b.ChannelJID,
			ServerMessageID: b.ServerMessageID,
			ChannelName:     b.ChannelName,
			ForwardingScore: b.ForwardingScore,
			Disappearing:    Duration(b.Disappearing),
			StickerExempt:   b.StickerExempt,
			QuoteCard:       b.QuoteCard,
			QuoteName:       b.QuoteName,
			QuoteID:         b.QuoteID,
		},
		Media: MediaConfig{
			MaxBytes: 64 << 20,
			Timeout:  Duration(30 * time.Second),
		},
		Telemetry: TelemetryConfig{
			ServiceName: "wagate",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(ExpandHome(path))
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	envString("WAGATE_HOST", &c.Server.Host)
	envString("WAGATE_TOKEN", &c.Server.Token)
	envString("WAGATE_DATA_DIR", &c.Storage.DataDir)
	envString("WAGATE_STORAGE", &c.Storage.Backend)
	envString("WAGATE_POSTGRES_DSN", &c.Storage.PostgresDSN)
	envString("WAGATE_REDIS_URL", &c.Storage.RedisURL)
	envString("WAGATE_ENCRYPTION_KEY", &c.Storage.EncryptionKey)
	envString("WAGATE_OTEL_ENDPOINT", &c.Telemetry.Endpoint)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Backend {
	case BackendAuto, BackendFile, BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.backend postgres requires storage.postgresDsn")
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.backend redis requires storage.redisUrl")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Session.ReconnectBase < 0 || c.Session.ReconnectMax < 0 {
		return fmt.Errorf("session reconnect delays must not be negative")
	}
	if c.Media.MaxBytes <= 0 {
		return fmt.Errorf("media.maxBytes must be positive")
	}
	return nil
}

// StorageBackend resolves the auto backend: postgres when a DSN is set,
// then redis, then file.
func (c *Config) StorageBackend() string {
	if c.Storage.Backend != BackendAuto {
		return c.Storage.Backend
	}
	switch {
	case c.Storage.PostgresDSN != "":
		return BackendPostgres
	case c.Storage.RedisURL != "":
		return BackendRedis
	default:
		return BackendFile
	}
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ComposeBranding converts the branding section for the composer.
func (b BrandingConfig) ComposeBranding() compose.Branding {
	return compose.Branding{
		ChannelJID:      b.ChannelJID,
		ServerMessageID: b.ServerMessageID,
		ChannelName:     b.ChannelName,
		ForwardingScore: b.ForwardingScore,
		Disappearing:    b.Disappearing.Duration(),
		StickerExempt:   b.StickerExempt,
		QuoteCard:       b.QuoteCard,
		QuoteName:       b.QuoteName,
		QuoteID:         b.QuoteID,
		Disabled:        b.Disabled,
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Save writes cfg to path as JSON (JSON5-compatible) or YAML by extension.
// The file is created 0600 since it may hold secrets.
func Save(path string, cfg *Config) error {
	path = ExpandHome(path)
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
