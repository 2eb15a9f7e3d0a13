// Package config provides configuration management for the collaboration
// backend services.
//
// Configuration is loaded from multiple sources with proper precedence:
//   - YAML configuration files
//   - Environment variables (SCRIBE_ prefix)
//   - Default values
//
// Environment variables override all other configuration sources. Nested
// keys use underscore separation:
//   - SCRIBE_GATEWAY_PORT=8081
//   - SCRIBE_KAFKA_BROKERS=broker-1:9092,broker-2:9092
//   - SCRIBE_SECURITY_JWT_SECRET=...
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// ServerConfig contains the shared HTTP server settings.
type ServerConfig struct {
	// Host is the bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging and additional endpoints
	Debug bool `mapstructure:"debug"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains Postgres connection settings.
type DatabaseConfig struct {
	// DSN is the primary connection string
	DSN string `mapstructure:"dsn"`

	// ReplicaDSN optionally points document loads at a read replica.
	// Empty means reads go to the primary.
	ReplicaDSN string `mapstructure:"replica_dsn"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// ConnMaxLifetime is the maximum amount of time a connection may be reused
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig contains the pub/sub fabric and presence store settings.
type RedisConfig struct {
	// URL is the redis connection URL (redis://host:port/db)
	URL string `mapstructure:"url"`
}

// KafkaConfig contains the shared log settings.
type KafkaConfig struct {
	// Brokers are the seed broker addresses
	Brokers []string `mapstructure:"brokers"`

	// ClientID identifies this process to the brokers
	ClientID string `mapstructure:"client_id"`

	// ProduceRetries bounds producer retry attempts
	ProduceRetries int `mapstructure:"produce_retries"`

	// ProduceBackoff is the initial producer retry backoff
	ProduceBackoff time.Duration `mapstructure:"produce_backoff"`
}

// AMQPConfig contains the legacy event bridge exchange settings.
type AMQPConfig struct {
	// URL is the RabbitMQ connection URL
	URL string `mapstructure:"url"`

	// Exchange is the durable topic exchange events are forwarded to
	Exchange string `mapstructure:"exchange"`
}

// S3Config contains object store settings for snapshot blobs.
type S3Config struct {
	// Endpoint is the S3-compatible endpoint URL (empty for AWS)
	Endpoint string `mapstructure:"endpoint"`

	// Region is the signing region
	Region string `mapstructure:"region"`

	// AccessKey and SecretKey are static credentials
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// Bucket holds the snapshot blobs
	Bucket string `mapstructure:"bucket"`

	// UsePathStyle must be true for MinIO
	UsePathStyle bool `mapstructure:"use_path_style"`
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	// JWTSecret is the HS256 shared secret for socket and API tokens
	JWTSecret string `mapstructure:"jwt_secret"`

	// TokenTTL is the lifetime of tokens issued by the token subcommand
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// GatewayConfig contains collaboration gateway settings.
type GatewayConfig struct {
	// Port is the gateway listen port (websocket + health)
	Port int `mapstructure:"port"`

	// BatchSize triggers an operation-record flush when the buffer
	// reaches this many records
	BatchSize int `mapstructure:"batch_size"`

	// BatchInterval triggers a flush on a timer regardless of size
	BatchInterval time.Duration `mapstructure:"batch_interval"`

	// SendBuffer is the per-session outbound channel capacity; slow
	// consumers beyond it are dropped
	SendBuffer int `mapstructure:"send_buffer"`

	// DocumentServiceURL fronts the external document metadata service
	// used for access checks on join
	DocumentServiceURL string `mapstructure:"document_service_url"`

	// PresenceURL points at the presence tracker
	PresenceURL string `mapstructure:"presence_url"`
}

// ReconcilerConfig contains reconciliation engine settings.
type ReconcilerConfig struct {
	// Workers is the number of document actor goroutines
	Workers int `mapstructure:"workers"`

	// Group is the Kafka consumer group
	Group string `mapstructure:"group"`

	// FlushInterval is the dirty-flush cadence
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	// EvictInterval is the idle-eviction sweep cadence
	EvictInterval time.Duration `mapstructure:"evict_interval"`

	// IdleTTL is how long a clean buffer may sit untouched before
	// it is dropped from memory
	IdleTTL time.Duration `mapstructure:"idle_ttl"`

	// HistoryLimit bounds the per-document transform history ring
	HistoryLimit int `mapstructure:"history_limit"`
}

// PresenceConfig contains presence tracker settings.
type PresenceConfig struct {
	// Port is the tracker listen port
	Port int `mapstructure:"port"`

	// RecordTTL is the heartbeat window; records older than this are
	// invisible to readers
	RecordTTL time.Duration `mapstructure:"record_ttl"`

	// IndexTTL is the TTL refreshed on the per-document member set
	IndexTTL time.Duration `mapstructure:"index_ttl"`
}

// ArchiverConfig contains snapshot archiver settings.
type ArchiverConfig struct {
	// Port is the archiver read-API listen port
	Port int `mapstructure:"port"`

	// Group is the Kafka consumer group
	Group string `mapstructure:"group"`

	// Prefix is the object key prefix for snapshot blobs
	Prefix string `mapstructure:"prefix"`

	// PresignTTL is the lifetime of signed download URLs
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

// BridgeConfig contains legacy event bridge settings.
type BridgeConfig struct {
	// Group is the Kafka consumer group
	Group string `mapstructure:"group"`

	// RoutingPrefix prefixes the AMQP routing key built from the
	// event type ("document." by default)
	RoutingPrefix string `mapstructure:"routing_prefix"`
}

// Config is the root configuration shared by every service. Each service
// reads only the sections it needs.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	AMQP       AMQPConfig       `mapstructure:"amqp"`
	S3         S3Config         `mapstructure:"s3"`
	Security   SecurityConfig   `mapstructure:"security"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Presence   PresenceConfig   `mapstructure:"presence"`
	Archiver   ArchiverConfig   `mapstructure:"archiver"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a new configuration loader with the given environment
// prefix (e.g. "SCRIBE" -> "SCRIBE_GATEWAY_PORT").
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetConfigDefaults seeds every default the services rely on. Call before
// Load.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.read_timeout", "30s")
	l.v.SetDefault("server.write_timeout", "30s")
	l.v.SetDefault("server.shutdown_timeout", "10s")
	l.v.SetDefault("server.debug", false)

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "json")

	l.v.SetDefault("database.dsn", "")
	l.v.SetDefault("database.replica_dsn", "")
	l.v.SetDefault("database.max_open_conns", 100)
	l.v.SetDefault("database.max_idle_conns", 10)
	l.v.SetDefault("database.conn_max_lifetime", "1h")

	l.v.SetDefault("redis.url", "redis://localhost:6379/0")

	l.v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	l.v.SetDefault("kafka.client_id", "scribe")
	l.v.SetDefault("kafka.produce_retries", 8)
	l.v.SetDefault("kafka.produce_backoff", "100ms")

	l.v.SetDefault("amqp.url", "")
	l.v.SetDefault("amqp.exchange", "document-events")

	l.v.SetDefault("s3.endpoint", "")
	l.v.SetDefault("s3.region", "us-east-1")
	l.v.SetDefault("s3.bucket", "scribe-snapshots")
	l.v.SetDefault("s3.use_path_style", false)

	l.v.SetDefault("security.jwt_secret", "")
	l.v.SetDefault("security.token_ttl", "24h")

	l.v.SetDefault("gateway.port", 8081)
	l.v.SetDefault("gateway.batch_size", 50)
	l.v.SetDefault("gateway.batch_interval", "2s")
	l.v.SetDefault("gateway.send_buffer", 256)
	l.v.SetDefault("gateway.document_service_url", "http://localhost:8090")
	l.v.SetDefault("gateway.presence_url", "http://localhost:8082")

	l.v.SetDefault("reconciler.workers", 8)
	l.v.SetDefault("reconciler.group", "scribe-reconciler")
	l.v.SetDefault("reconciler.flush_interval", "2s")
	l.v.SetDefault("reconciler.evict_interval", "5m")
	l.v.SetDefault("reconciler.idle_ttl", "30m")
	l.v.SetDefault("reconciler.history_limit", 100)

	l.v.SetDefault("presence.port", 8082)
	l.v.SetDefault("presence.record_ttl", "30s")
	l.v.SetDefault("presence.index_ttl", "5m")

	l.v.SetDefault("archiver.port", 8083)
	l.v.SetDefault("archiver.group", "scribe-archiver")
	l.v.SetDefault("archiver.prefix", "snapshots/")
	l.v.SetDefault("archiver.presign_ttl", "5m")

	l.v.SetDefault("bridge.group", "scribe-bridge")
	l.v.SetDefault("bridge.routing_prefix", "document.")
}

// Load reads configuration from an optional file and the environment. If
// cfgFile is empty, config.yaml is searched in standard locations.
func (l *Loader) Load(cfgFile string, target interface{}) error {
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".scribe"))
		}
		l.v.AddConfigPath("/etc/scribe")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	return nil
}

// LoadConfig loads and validates the full configuration with standard
// defaults.
func LoadConfig(envPrefix, cfgFile string) (*Config, error) {
	loader := NewLoader(envPrefix)
	loader.SetConfigDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateConfig checks cross-cutting requirements every service shares.
// Service commands perform their own section checks on top (a gateway
// needs Kafka and Redis, the bridge needs AMQP, and so on).
func ValidateConfig(cfg *Config) error {
	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if cfg.Gateway.BatchSize < 1 {
		return fmt.Errorf("gateway.batch_size must be positive")
	}
	if cfg.Reconciler.Workers < 1 {
		return fmt.Errorf("reconciler.workers must be positive")
	}
	if cfg.Reconciler.HistoryLimit < 1 {
		return fmt.Errorf("reconciler.history_limit must be positive")
	}
	return nil
}
