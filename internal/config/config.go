package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/spf13/viper"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	config     *domain.Config
	configFile string
}

// Option customizes how a Manager locates its configuration
type Option func(*Manager)

// WithConfigFile reads configuration from an explicit file instead of the search path
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.configFile = path
	}
}

// NewManager creates a new configuration manager
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dili-feedback-server/")
	}

	v.SetEnvPrefix("DILI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s") // progress streams stay open
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "./data/dili.db")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.database", "dili_feedback")
	v.SetDefault("storage.postgres.username", "postgres")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.ssl_mode", "disable")
	v.SetDefault("storage.postgres.max_open_conns", 25)
	v.SetDefault("storage.postgres.max_idle_conns", 5)
	v.SetDefault("storage.postgres.conn_max_lifetime", "5m")
	v.SetDefault("storage.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo.database", "dili_feedback")
	v.SetDefault("storage.mongo.connect_timeout", "10s")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.default_role", string(domain.RoleClinician))
	v.SetDefault("auth.login_rate_limit", 1.0)
	v.SetDefault("auth.login_burst", 5)

	// External ML service defaults
	v.SetDefault("ml.base_url", "http://localhost:8000")
	v.SetDefault("ml.timeout", "30s")
	v.SetDefault("ml.train_timeout", "30m")
	v.SetDefault("ml.rate_limit", 10)
	v.SetDefault("ml.predict_cache_size", 512)
	v.SetDefault("ml.predict_cache_ttl", "10m")

	// Training defaults
	v.SetDefault("training.batch_size", 10)
	v.SetDefault("training.phase_durations", []string{"2s", "4s", "1.5s", "16s", "3s", "2.5s"})
	v.SetDefault("training.terminal_hold", "2.5s")

	// Progress fan-out defaults
	v.SetDefault("progress.redis_url", "")
	v.SetDefault("progress.redis_channel", "dili:training")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetStorageConfig returns storage configuration
func (m *Manager) GetStorageConfig() *domain.StorageConfig {
	return &m.config.Storage
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Storage.Driver {
	case "sqlite":
		if config.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if config.Storage.Postgres.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Storage.Postgres.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Storage.Postgres.Username == "" {
			return fmt.Errorf("database username is required")
		}
	case "mongo":
		if config.Storage.Mongo.URI == "" {
			return fmt.Errorf("mongo uri is required")
		}
		if config.Storage.Mongo.Database == "" {
			return fmt.Errorf("mongo database is required")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", config.Storage.Driver)
	}

	if config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if m.IsProduction() && len(config.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters in production")
	}
	if _, ok := domain.ParseRole(config.Auth.DefaultRole); !ok {
		return fmt.Errorf("invalid default role: %s", config.Auth.DefaultRole)
	}
	if config.Auth.BcryptCost < 4 || config.Auth.BcryptCost > 31 {
		return fmt.Errorf("invalid bcrypt cost: %d", config.Auth.BcryptCost)
	}

	if config.ML.BaseURL == "" {
		return fmt.Errorf("ML service base URL is required")
	}
	if _, err := url.ParseRequestURI(config.ML.BaseURL); err != nil {
		return fmt.Errorf("invalid ML service base URL: %w", err)
	}

	if config.Training.BatchSize <= 0 {
		return fmt.Errorf("training batch size must be positive")
	}
	for i, d := range config.Training.PhaseDurations {
		if d < 0 {
			return fmt.Errorf("training phase %d has negative duration", i)
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a key/value PostgreSQL connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Storage.Postgres
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the PostgreSQL URL form used by migrations
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Storage.Postgres
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: "sslmode=" + db.SSLMode,
	}
	return u.String()
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
