package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Auth        AuthConfig     `mapstructure:"auth"`
	ML          MLConfig       `mapstructure:"ml"`
	Training    TrainingConfig `mapstructure:"training"`
	Progress    ProgressConfig `mapstructure:"progress"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// StorageConfig selects and configures the datastore
type StorageConfig struct {
	Driver     string         `mapstructure:"driver"` // "sqlite", "postgres", "mongo"
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   DatabaseConfig `mapstructure:"postgres"`
	Mongo      MongoConfig    `mapstructure:"mongo"`
}

// DatabaseConfig represents PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MongoConfig represents MongoDB connection configuration
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// AuthConfig configures bearer tokens and password hashing
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	DefaultRole    string        `mapstructure:"default_role"`
	LoginRateLimit float64       `mapstructure:"login_rate_limit"` // attempts per second per client IP
	LoginBurst     int           `mapstructure:"login_burst"`
}

// MLConfig configures the external prediction, OCR and training service
type MLConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	TrainTimeout     time.Duration `mapstructure:"train_timeout"`
	RateLimit        int           `mapstructure:"rate_limit"` // requests per second
	PredictCacheSize int           `mapstructure:"predict_cache_size"`
	PredictCacheTTL  time.Duration `mapstructure:"predict_cache_ttl"`
}

// TrainingConfig configures the retraining orchestrator
type TrainingConfig struct {
	BatchSize      int             `mapstructure:"batch_size"`
	PhaseDurations []time.Duration `mapstructure:"phase_durations"`
	TerminalHold   time.Duration   `mapstructure:"terminal_hold"`
}

// ProgressConfig configures training progress fan-out
type ProgressConfig struct {
	RedisURL     string `mapstructure:"redis_url"`
	RedisChannel string `mapstructure:"redis_channel"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
