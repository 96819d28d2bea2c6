package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// Required fields
	JWTSecretKey string `mapstructure:"jwt_secret_key"`

	// Storage backends, chosen once at startup
	DBPath      string `mapstructure:"db_path"`
	RecordStore string `mapstructure:"record_store"` // "sqlite", "postgres" or "memory"
	PostgresDSN string `mapstructure:"postgres_dsn"`
	BlobStore   string `mapstructure:"blob_store"` // "fs" or "s3"
	BlobDir     string `mapstructure:"blob_dir"`

	// S3 settings, used when blob_store is "s3"
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Prefix    string `mapstructure:"s3_prefix"`

	// Optional API settings
	APIHost string `mapstructure:"api_host"`
	APIPort int    `mapstructure:"api_port"`

	// Optional SSL settings
	SSLCert string `mapstructure:"ssl_cert"`
	SSLKey  string `mapstructure:"ssl_key"`

	// Optional CORS settings
	CORSOrigins []string `mapstructure:"cors_origins"`

	// Optional logging settings
	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`

	// Optional JWT settings
	JWTAlgorithm string        `mapstructure:"jwt_algorithm"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`

	// Engine settings
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	ScheduleWindow   time.Duration `mapstructure:"schedule_window"`
	FileManifestPath string        `mapstructure:"file_manifest_path"`
	ExpiredAuditDays int           `mapstructure:"expired_audit_days"`
	Collections      []string      `mapstructure:"collections"`

	ConfigPath string
}

const (
	DefaultConfigPath       = "/etc/vaultkeep/config.yml"
	DefaultDBPath           = "/var/lib/vaultkeep/vaultkeep.db"
	DefaultBlobDir          = "/var/lib/vaultkeep/blobs"
	DefaultRecordStore      = "sqlite"
	DefaultBlobStore        = "fs"
	DefaultAPIHost          = "0.0.0.0"
	DefaultAPIPort          = 8336
	DefaultLogLevel         = "info"
	DefaultJWTAlgorithm     = "HS256"
	DefaultTokenTTL         = time.Hour
	DefaultTickInterval     = time.Minute
	DefaultScheduleWindow   = time.Hour
	DefaultFileManifestPath = "files/manifest.json"
	DefaultExpiredAuditDays = 7
)

// DefaultCollections is the set of live collections captured when none are configured.
var DefaultCollections = []string{"services", "orders", "customers", "content", "settings", "activity_logs"}

var keys = []string{
	"jwt_secret_key", "postgres_dsn", "s3_endpoint", "s3_region", "s3_bucket",
	"s3_access_key", "s3_secret_key", "s3_prefix", "ssl_cert", "ssl_key", "log_file",
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Set defaults
	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("record_store", DefaultRecordStore)
	v.SetDefault("blob_store", DefaultBlobStore)
	v.SetDefault("blob_dir", DefaultBlobDir)
	v.SetDefault("api_host", DefaultAPIHost)
	v.SetDefault("api_port", DefaultAPIPort)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("jwt_algorithm", DefaultJWTAlgorithm)
	v.SetDefault("token_ttl", DefaultTokenTTL)
	v.SetDefault("tick_interval", DefaultTickInterval)
	v.SetDefault("schedule_window", DefaultScheduleWindow)
	v.SetDefault("file_manifest_path", DefaultFileManifestPath)
	v.SetDefault("expired_audit_days", DefaultExpiredAuditDays)
	v.SetDefault("collections", DefaultCollections)
	v.SetDefault("cors_origins", []string{})
	// Keys without a default still need registering for env overrides to reach Unmarshal
	for _, key := range keys {
		v.SetDefault(key, "")
	}

	// Allow environment variable overrides
	v.SetEnvPrefix("VAULTKEEP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ConfigPath = configPath

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecretKey == "" {
		return fmt.Errorf("jwt_secret_key is required")
	}

	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	switch c.RecordStore {
	case "sqlite", "memory":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required when record_store is 'postgres'")
		}
	default:
		return fmt.Errorf("record_store must be 'sqlite', 'postgres' or 'memory'")
	}

	switch c.BlobStore {
	case "fs":
		if c.BlobDir == "" {
			return fmt.Errorf("blob_dir is required when blob_store is 'fs'")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("s3_bucket is required when blob_store is 's3'")
		}
	default:
		return fmt.Errorf("blob_store must be 'fs' or 's3'")
	}

	if c.TickInterval < time.Second {
		return fmt.Errorf("tick_interval must be at least 1s")
	}
	if c.ScheduleWindow <= 0 {
		return fmt.Errorf("schedule_window must be positive")
	}
	if c.ExpiredAuditDays < 0 {
		return fmt.Errorf("expired_audit_days cannot be negative")
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("collections must list at least one collection")
	}

	// Validate SSL config if provided
	if c.SSLCert != "" || c.SSLKey != "" {
		if c.SSLCert == "" || c.SSLKey == "" {
			return fmt.Errorf("both ssl_cert and ssl_key must be provided")
		}
		if _, err := os.Stat(c.SSLCert); os.IsNotExist(err) {
			return fmt.Errorf("ssl_cert file does not exist: %s", c.SSLCert)
		}
		if _, err := os.Stat(c.SSLKey); os.IsNotExist(err) {
			return fmt.Errorf("ssl_key file does not exist: %s", c.SSLKey)
		}
	}

	return nil
}

func (c *Config) IsDevMode() bool {
	return os.Getenv("VAULTKEEP_DEV_MODE") == "1"
}
