package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	AdminToken   string        `yaml:"admin_token"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name to a slog level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StorageConfig selects the storage engine
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Brokers          []string      `yaml:"brokers"`
	SubmissionsTopic string        `yaml:"submissions_topic"`
	EventsTopic      string        `yaml:"events_topic"`
	GroupID          string        `yaml:"group_id"`
	BatchSize        int           `yaml:"batch_size"`
	BatchTimeout     time.Duration `yaml:"batch_timeout"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

// MaintenanceConfig holds the maintenance worker configuration
type MaintenanceConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	BackupEnabled  bool          `yaml:"backup_enabled"`
	BackupInterval time.Duration `yaml:"backup_interval"`
	BackupDir      string        `yaml:"backup_dir"`
	RetentionDays  int           `yaml:"retention_days"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	DefaultLimit        int     `yaml:"default_limit"`
	MaxLimit            int     `yaml:"max_limit"`
	UserScoresLimit     int     `yaml:"user_scores_limit"`
	UserScoresMaxLimit  int     `yaml:"user_scores_max_limit"`
	CompareMaxPlayers   int     `yaml:"compare_max_players"`
	WeekStart           string  `yaml:"week_start"`
	Timezone            string  `yaml:"timezone"`
	SubmitRatePerSecond float64 `yaml:"submit_rate_per_second"`
	SubmitBurst         int     `yaml:"submit_burst"`
	MaxBatchSize        int     `yaml:"max_batch_size"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the process cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if _, err := c.Leaderboard.Location(); err != nil {
		return err
	}
	if _, err := c.Leaderboard.FirstWeekday(); err != nil {
		return err
	}
	if c.Maintenance.RetentionDays < 0 {
		return fmt.Errorf("maintenance.retention_days must be non-negative")
	}
	return nil
}

// Location returns the timezone daily and weekly windows are computed in
func (c LeaderboardConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// FirstWeekday returns the weekday weekly windows start on
func (c LeaderboardConfig) FirstWeekday() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.WeekStart) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown week_start %q", c.WeekStart)
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "scoreboard"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.SubmissionsTopic == "" {
		c.Kafka.SubmissionsTopic = "score-submissions"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "score-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "scoreboard-consumer"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Maintenance defaults
	if c.Maintenance.Interval == 0 {
		c.Maintenance.Interval = 30 * time.Minute
	}
	if c.Maintenance.BackupInterval == 0 {
		c.Maintenance.BackupInterval = 24 * time.Hour
	}
	if c.Maintenance.BackupDir == "" {
		c.Maintenance.BackupDir = "backups"
	}
	if c.Maintenance.RetentionDays == 0 {
		c.Maintenance.RetentionDays = 30
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 10
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 100
	}
	if c.Leaderboard.UserScoresLimit == 0 {
		c.Leaderboard.UserScoresLimit = 50
	}
	if c.Leaderboard.UserScoresMaxLimit == 0 {
		c.Leaderboard.UserScoresMaxLimit = 200
	}
	if c.Leaderboard.CompareMaxPlayers == 0 {
		c.Leaderboard.CompareMaxPlayers = 10
	}
	if c.Leaderboard.WeekStart == "" {
		c.Leaderboard.WeekStart = "monday"
	}
	if c.Leaderboard.Timezone == "" {
		c.Leaderboard.Timezone = "UTC"
	}
	if c.Leaderboard.SubmitRatePerSecond == 0 {
		c.Leaderboard.SubmitRatePerSecond = 50
	}
	if c.Leaderboard.SubmitBurst == 0 {
		c.Leaderboard.SubmitBurst = 100
	}
	if c.Leaderboard.MaxBatchSize == 0 {
		c.Leaderboard.MaxBatchSize = 500
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Maintenance.Enabled = true
	return cfg
}
