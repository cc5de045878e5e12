package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/vadim/dealroom/internal/database"
)

// Config holds all application configuration
type Config struct {
	Server   Server   `yaml:"server"`
	Auth     Auth     `yaml:"auth"`
	Database Database `yaml:"database"`
	S3       S3       `yaml:"s3"`
	Redis    Redis    `yaml:"redis"`
	NATS     NATS     `yaml:"nats"`
	Session  Session  `yaml:"session"`
	Seed     Seed     `yaml:"seed"`
	Log      Log      `yaml:"log"`
}

// Server holds HTTP server configuration
type Server struct {
	Host           string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port           string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"60s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SERVER_REQUEST_TIMEOUT" env-default:"30s"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"SERVER_MAX_UPLOAD_BYTES" env-default:"104857600"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// DevJWTSecret is the signing secret used when none is configured
const DevJWTSecret = "dev-secret-change-me"

// Auth holds access token configuration
type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET" env-default:"dev-secret-change-me"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"24h"`
}

// InsecureSecret reports whether tokens are signed with the public development secret
func (a Auth) InsecureSecret() bool {
	return a.JWTSecret == DevJWTSecret
}

// Database holds database configuration
type Database struct {
	// PostgreSQL; empty keeps sessions in memory only
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`

	// Connection pool settings
	MaxOpenConns int `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MinIdleConns int `yaml:"min_idle_conns" env:"DB_MIN_IDLE_CONNS" env-default:"5"`
}

// Enabled reports whether a database is configured
func (d Database) Enabled() bool {
	return d.PostgresDSN != ""
}

// Pool returns the connection pool settings
func (d Database) Pool() database.PoolConfig {
	return database.PoolConfig{
		DSN:      d.PostgresDSN,
		MaxConns: int32(d.MaxOpenConns),
		MinConns: int32(d.MinIdleConns),
	}
}

// S3 holds S3/MinIO document storage configuration
type S3 struct {
	Enabled         bool   `yaml:"enabled" env:"S3_ENABLED" env-default:"false"`
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"documents"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/documents"`
}

// Redis holds presence store configuration
type Redis struct {
	Addr        string        `yaml:"addr" env:"REDIS_ADDR"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	PoolSize    int           `yaml:"pool_size" env:"REDIS_POOL_SIZE" env-default:"10"`
	PresenceTTL time.Duration `yaml:"presence_ttl" env:"REDIS_PRESENCE_TTL" env-default:"2m"`
}

// Enabled reports whether presence tracking is configured
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// NATS holds event bus configuration
type NATS struct {
	URL           string        `yaml:"url" env:"NATS_URL"`
	MaxReconnects int           `yaml:"max_reconnects" env:"NATS_MAX_RECONNECTS" env-default:"60"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"NATS_RECONNECT_WAIT" env-default:"2s"`
	Workers       int           `yaml:"workers" env:"NATS_WORKERS" env-default:"8"`
	BufferSize    int           `yaml:"buffer_size" env:"NATS_BUFFER_SIZE" env-default:"1024"`
}

// Enabled reports whether cross-instance events are configured
func (n NATS) Enabled() bool {
	return n.URL != ""
}

// Session holds per-user session configuration
type Session struct {
	IdleTTL       time.Duration `yaml:"idle_ttl" env:"SESSION_IDLE_TTL" env-default:"30m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SESSION_SWEEP_INTERVAL" env-default:"1m"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"SESSION_WRITE_TIMEOUT" env-default:"5s"`
}

// Seed holds mock data configuration
type Seed struct {
	Enabled bool `yaml:"enabled" env:"SEED_ENABLED" env-default:"true"`
	// Path to a YAML fixture; empty uses the built-in one
	Path string `yaml:"path" env:"SEED_PATH"`
}

// Log holds logger configuration
type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
