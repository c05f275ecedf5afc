// Package config loads configuration from an optional YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable, e.g. BLOBFM_ACCOUNT_KEY.
const EnvPrefix = "BLOBFM"

// FileEnv names the variable pointing at an optional YAML config file.
const FileEnv = "BLOBFM_CONFIG"

// Config holds configuration shared by the minter and the object store.
type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Logging     LogConfig       `yaml:"logging"`
	Account     AccountConfig   `yaml:"account"`
	Permissions Permissions     `yaml:"permissions"`
	Limits      LimitsConfig    `yaml:"limits"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Backend     BackendConfig   `yaml:"backend"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr  string   `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`
	MetricsAddr string   `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
	TLSCertFile string   `yaml:"tls_cert_file" envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string   `yaml:"tls_key_file" envconfig:"TLS_KEY_FILE"`
	CORSOrigins []string `yaml:"cors_origins" envconfig:"CORS_ORIGINS"` // empty = any origin
	// TrustedProxies lists the proxy CIDRs whose X-Forwarded-For is honored
	// for client IPs. Empty trusts no proxy.
	TrustedProxies []string `yaml:"trusted_proxies" envconfig:"TRUSTED_PROXIES"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// AccountConfig identifies the store account and the key capabilities are signed with.
type AccountConfig struct {
	Name      string `yaml:"name" envconfig:"NAME"`
	Key       string `yaml:"key" envconfig:"KEY"`
	Container string `yaml:"container" envconfig:"CONTAINER"`
	// PublicURL is the store base URL clients reach, used in signed URLs.
	PublicURL string `yaml:"public_url" envconfig:"PUBLIC_URL"`
}

// Permissions is the static per-operation permission table checked before every mint.
type Permissions struct {
	Create             bool `yaml:"create" envconfig:"CREATE"`
	Remove             bool `yaml:"remove" envconfig:"REMOVE"`
	RenameOrMoveOrCopy bool `yaml:"rename_or_move_or_copy" envconfig:"RENAME_OR_MOVE_OR_COPY"`
	Upload             bool `yaml:"upload" envconfig:"UPLOAD"`
	Download           bool `yaml:"download" envconfig:"DOWNLOAD"`
}

// LimitsConfig holds size and lifetime limits.
type LimitsConfig struct {
	MaxBlobSize    int64         `yaml:"max_blob_size" envconfig:"MAX_BLOB_SIZE"`
	CapabilityTTL  time.Duration `yaml:"capability_ttl" envconfig:"CAPABILITY_TTL"`
	MaxListResults int           `yaml:"max_list_results" envconfig:"MAX_LIST_RESULTS"`
	StagedBlockTTL time.Duration `yaml:"staged_block_ttl" envconfig:"STAGED_BLOCK_TTL"`
}

// RateLimitConfig holds per-client mint rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" envconfig:"ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RPS"`
	Burst             int     `yaml:"burst" envconfig:"BURST"`
}

// BackendConfig selects and configures the byte storage under the object store.
type BackendConfig struct {
	Type      string `yaml:"type" envconfig:"TYPE"` // memory, local, s3
	LocalPath string `yaml:"local_path" envconfig:"LOCAL_PATH"`

	S3Endpoint     string `yaml:"s3_endpoint" envconfig:"S3_ENDPOINT"`
	S3Bucket       string `yaml:"s3_bucket" envconfig:"S3_BUCKET"`
	S3AccessKey    string `yaml:"s3_access_key" envconfig:"S3_ACCESS_KEY"`
	S3SecretKey    string `yaml:"s3_secret_key" envconfig:"S3_SECRET_KEY"`
	S3Region       string `yaml:"s3_region" envconfig:"S3_REGION"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style" envconfig:"S3_USE_PATH_STYLE"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			MetricsAddr: ":9090",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Account: AccountConfig{
			Name:      "devaccount",
			Container: "files",
			PublicURL: "http://localhost:10000",
		},
		Permissions: Permissions{
			Download: true,
		},
		Limits: LimitsConfig{
			MaxBlobSize:    1 << 20,
			CapabilityTTL:  time.Hour,
			MaxListResults: 5000,
			StagedBlockTTL: 7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Backend: BackendConfig{
			Type:           "local",
			LocalPath:      "/data/blobfm",
			S3Endpoint:     "http://localhost:9000",
			S3Bucket:       "blobfm",
			S3Region:       "us-east-1",
			S3UsePathStyle: true,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// BLOBFM_CONFIG (if set), then environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Account.Name == "" {
		return fmt.Errorf("account name is required")
	}
	if c.Account.Key == "" {
		return fmt.Errorf("account key is required")
	}
	if c.Account.Container == "" {
		return fmt.Errorf("account container is required")
	}
	if c.Account.PublicURL == "" {
		return fmt.Errorf("account public URL is required")
	}
	if c.Limits.MaxBlobSize <= 0 {
		return fmt.Errorf("max blob size must be positive")
	}
	if c.Limits.CapabilityTTL <= 0 {
		return fmt.Errorf("capability TTL must be positive")
	}
	if c.Limits.MaxListResults <= 0 {
		return fmt.Errorf("max list results must be positive")
	}
	switch c.Backend.Type {
	case "memory", "s3":
	case "local":
		if c.Backend.LocalPath == "" {
			return fmt.Errorf("local backend path is required")
		}
	default:
		return fmt.Errorf("unknown backend type: %s", c.Backend.Type)
	}
	return nil
}

// UseTLS reports whether both TLS files are configured.
func (c *Config) UseTLS() bool {
	return c.Server.TLSCertFile != "" && c.Server.TLSKeyFile != ""
}
