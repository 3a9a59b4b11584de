package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Ledger    LedgerConfig
	Documents DocumentsConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type PostgresConfig struct {
	URL            string
	MaxConnections int32
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

// StorageConfig selects the blob backend: memory, filesystem or minio.
type StorageConfig struct {
	Backend     string
	Dir         string
	Compression string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

// LedgerConfig selects the commit backend: hashchain or redis.
type LedgerConfig struct {
	Backend       string
	ChainSecret   string
	Journal       string
	RedisPrefix   string
	CommitRetries int
	CommitTimeout time.Duration
}

// DocumentsConfig selects the document row store: memory, mongo or postgres.
type DocumentsConfig struct {
	Store          string
	MaxUploadBytes int64
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

type RateLimitConfig struct {
	Enabled  bool
	RPS      float64
	Burst    int
	UseRedis bool
	Window   time.Duration
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", 30)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30)
	v.SetDefault("MONGODB_DATABASE", "provenance")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("POSTGRES_MAX_CONNECTIONS", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STORAGE_BACKEND", "memory")
	v.SetDefault("STORAGE_DIR", "./data/blobs")
	v.SetDefault("STORAGE_COMPRESSION", "none")
	v.SetDefault("MINIO_BUCKET", "documents")
	v.SetDefault("LEDGER_BACKEND", "hashchain")
	v.SetDefault("LEDGER_REDIS_PREFIX", "ledger:chain")
	v.SetDefault("LEDGER_COMMIT_RETRIES", 3)
	v.SetDefault("LEDGER_COMMIT_TIMEOUT", 10)
	v.SetDefault("DOCUMENT_STORE", "memory")
	v.SetDefault("MAX_UPLOAD_BYTES", 32<<20)
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", 15)
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 10.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_WINDOW", 60)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  time.Duration(v.GetInt("SERVER_READ_TIMEOUT")) * time.Second,
			WriteTimeout: time.Duration(v.GetInt("SERVER_WRITE_TIMEOUT")) * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Postgres: PostgresConfig{
			URL:            v.GetString("POSTGRES_URL"),
			MaxConnections: v.GetInt32("POSTGRES_MAX_CONNECTIONS"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Storage: StorageConfig{
			Backend:        strings.ToLower(v.GetString("STORAGE_BACKEND")),
			Dir:            v.GetString("STORAGE_DIR"),
			Compression:    strings.ToLower(v.GetString("STORAGE_COMPRESSION")),
			MinIOEndpoint:  v.GetString("MINIO_ENDPOINT"),
			MinIOAccessKey: v.GetString("MINIO_ACCESS_KEY"),
			MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
			MinIOBucket:    v.GetString("MINIO_BUCKET"),
			MinIOUseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		Ledger: LedgerConfig{
			Backend:       strings.ToLower(v.GetString("LEDGER_BACKEND")),
			ChainSecret:   os.Getenv("LEDGER_CHAIN_SECRET"),
			Journal:       v.GetString("LEDGER_JOURNAL"),
			RedisPrefix:   v.GetString("LEDGER_REDIS_PREFIX"),
			CommitRetries: v.GetInt("LEDGER_COMMIT_RETRIES"),
			CommitTimeout: time.Duration(v.GetInt("LEDGER_COMMIT_TIMEOUT")) * time.Second,
		},
		Documents: DocumentsConfig{
			Store:          strings.ToLower(v.GetString("DOCUMENT_STORE")),
			MaxUploadBytes: v.GetInt64("MAX_UPLOAD_BYTES"),
		},
		Keycloak: KeycloakConfig{
			URL:          v.GetString("KEYCLOAK_URL"),
			Realm:        v.GetString("KEYCLOAK_REALM"),
			ClientID:     v.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret: os.Getenv("KEYCLOAK_CLIENT_SECRET"),
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			AccessTokenTTL: time.Duration(v.GetInt("JWT_ACCESS_TOKEN_TTL")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:      v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:    v.GetInt("RATE_LIMIT_BURST"),
			UseRedis: v.GetBool("RATE_LIMIT_USE_REDIS"),
			Window:   time.Duration(v.GetInt("RATE_LIMIT_WINDOW")) * time.Second,
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// Validate rejects unknown backend names and missing values the selected
// backends need.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "filesystem":
		if c.Storage.Dir == "" {
			return fmt.Errorf("config: STORAGE_DIR is required for the filesystem backend")
		}
	case "minio":
		if c.Storage.MinIOEndpoint == "" || c.Storage.MinIOBucket == "" {
			return fmt.Errorf("config: MINIO_ENDPOINT and MINIO_BUCKET are required for the minio backend")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch c.Storage.Compression {
	case "", "none", "zstd", "lz4":
	default:
		return fmt.Errorf("config: unknown STORAGE_COMPRESSION %q", c.Storage.Compression)
	}

	switch c.Ledger.Backend {
	case "hashchain":
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("config: REDIS_HOST is required for the redis ledger backend")
		}
	default:
		return fmt.Errorf("config: unknown LEDGER_BACKEND %q", c.Ledger.Backend)
	}
	if c.Ledger.ChainSecret == "" && c.IsProduction() {
		return fmt.Errorf("config: LEDGER_CHAIN_SECRET is required in production")
	}
	// An in-memory chain starts over on restart, so entries that outlive it
	// could no longer be verified.
	if c.Ledger.Backend == "hashchain" && c.Ledger.Journal == "" {
		if c.IsProduction() {
			return fmt.Errorf("config: LEDGER_JOURNAL is required for the hashchain ledger in production")
		}
		if c.MongoDB.URI != "" {
			return fmt.Errorf("config: LEDGER_JOURNAL is required for the hashchain ledger when entries are stored in MongoDB")
		}
	}
	if c.Ledger.CommitRetries < 0 {
		return fmt.Errorf("config: LEDGER_COMMIT_RETRIES must not be negative")
	}

	switch c.Documents.Store {
	case "memory":
	case "mongo":
		if c.MongoDB.URI == "" {
			return fmt.Errorf("config: MONGODB_URI is required for the mongo document store")
		}
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("config: POSTGRES_URL is required for the postgres document store")
		}
	default:
		return fmt.Errorf("config: unknown DOCUMENT_STORE %q", c.Documents.Store)
	}
	if c.Documents.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_BYTES must be positive")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("config: RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.RateLimit.UseRedis && c.Redis.Host == "" {
		return fmt.Errorf("config: REDIS_HOST is required for the redis rate limiter")
	}
	return nil
}
