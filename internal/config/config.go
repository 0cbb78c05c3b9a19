package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Record store backends.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Artifact store backends.
const (
	ArtifactMemory = "memory"
	ArtifactGCS    = "gcs"
)

// minProductionSecretLen is the minimum JWT secret length accepted outside development.
const minProductionSecretLen = 32

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	RecordStore      string        `mapstructure:"RECORD_STORE"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	MongoURI         string        `mapstructure:"MONGO_URI"`
	MongoDatabase    string        `mapstructure:"MONGO_DATABASE"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	JWTSecret        string        `mapstructure:"JWT_SECRET"`
	JWTTTL           time.Duration `mapstructure:"JWT_TTL"`
	AuthCookieName   string        `mapstructure:"AUTH_COOKIE_NAME"`
	ArtifactStore    string        `mapstructure:"ARTIFACT_STORE"`
	GCSBucket        string        `mapstructure:"GCS_BUCKET"`
	GCSPublicBaseURL string        `mapstructure:"GCS_PUBLIC_BASE_URL"`
	PublicBaseURL    string        `mapstructure:"PUBLIC_BASE_URL"`
	ExternalTimeout  time.Duration `mapstructure:"EXTERNAL_TIMEOUT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MaxUploadSize    string        `mapstructure:"MAX_UPLOAD_SIZE"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT", "ENV", "RECORD_STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MONGO_URI", "MONGO_DATABASE", "REDIS_URL", "JWT_SECRET", "JWT_TTL", "AUTH_COOKIE_NAME",
	"ARTIFACT_STORE", "GCS_BUCKET", "GCS_PUBLIC_BASE_URL", "PUBLIC_BASE_URL",
	"EXTERNAL_TIMEOUT", "REQUEST_TIMEOUT", "MAX_UPLOAD_SIZE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from an optional .env file and the process
// environment. It is called once at startup; the resulting *Config is passed
// to every component that needs it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("RECORD_STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MONGO_DATABASE", "dentrecord")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("AUTH_COOKIE_NAME", "token")
	v.SetDefault("ARTIFACT_STORE", ArtifactMemory)
	v.SetDefault("GCS_PUBLIC_BASE_URL", "https://storage.googleapis.com")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")
	v.SetDefault("EXTERNAL_TIMEOUT", "30s")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("MAX_UPLOAD_SIZE", "10M")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.RecordStore = strings.ToLower(cfg.RecordStore)
	cfg.ArtifactStore = strings.ToLower(cfg.ArtifactStore)
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.GCSPublicBaseURL = strings.TrimRight(cfg.GCSPublicBaseURL, "/")

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: console logging is enabled and auth cookies are not marked Secure.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration names a usable record store and
// artifact store and carries a signing secret.
func (c *Config) Validate() error {
	switch c.RecordStore {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when RECORD_STORE is %q", StorePostgres)
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when RECORD_STORE is %q", StoreMongo)
		}
	default:
		return fmt.Errorf("RECORD_STORE must be %q or %q, got %q", StorePostgres, StoreMongo, c.RecordStore)
	}

	switch c.ArtifactStore {
	case ArtifactMemory:
		if c.IsProduction() {
			return fmt.Errorf("ARTIFACT_STORE %q is not durable and cannot be used in production", ArtifactMemory)
		}
	case ArtifactGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when ARTIFACT_STORE is %q", ArtifactGCS)
		}
	default:
		return fmt.Errorf("ARTIFACT_STORE must be %q or %q, got %q", ArtifactMemory, ArtifactGCS, c.ArtifactStore)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < minProductionSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production, got %d", minProductionSecretLen, len(c.JWTSecret))
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive, got %s", c.JWTTTL)
	}
	if c.ExternalTimeout <= 0 {
		return fmt.Errorf("EXTERNAL_TIMEOUT must be positive, got %s", c.ExternalTimeout)
	}

	return nil
}
