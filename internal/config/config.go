// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/weftlabs/loom/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Store    StoreConfig   `yaml:"store"`
	Cache    CacheConfig   `yaml:"cache"`
	NATS     NATSConfig    `yaml:"nats"`
	Worker   WorkerConfig  `yaml:"worker"`
	Log      LogConfig     `yaml:"log"`
	Patterns []PatternSeed `yaml:"patterns"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
}

// StoreConfig selects and configures the pattern store backend
type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string `yaml:"-"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
	Database string `yaml:"database"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	URL string `yaml:"-"`
}

// CacheConfig holds the LevelDB pattern cache configuration
type CacheConfig struct {
	Path     string `yaml:"path"`
	TTLHours int    `yaml:"ttlHours"`
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	URL        string `yaml:"url"`
	Subject    string `yaml:"subject"`
	QueueGroup string `yaml:"queueGroup"`
}

// WorkerConfig holds executor runner configuration
type WorkerConfig struct {
	MaxWorkers      int `yaml:"maxWorkers"`
	PollIntervalMs  int `yaml:"pollIntervalMs"`
	ShutdownTimeout int `yaml:"shutdownTimeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PatternSeed is a pattern registered at boot from the config file
type PatternSeed struct {
	Type     string         `yaml:"type"`
	Config   models.Payload `yaml:"config"`
	Metadata models.Payload `yaml:"metadata"`
}

// Store driver names
const (
	DriverNeo4j    = "neo4j"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Default configuration values
const (
	DefaultServerPort         = "8080"
	DefaultServerReadTimeout  = 30
	DefaultServerWriteTimeout = 30
	DefaultStoreDriver        = DriverNeo4j
	DefaultNeo4jUsername      = "neo4j"
	DefaultNeo4jDatabase      = "neo4j"
	DefaultCachePath          = "./data/cache"
	DefaultCacheTTLHours      = 24
	DefaultNATSSubject        = "loom.executions"
	DefaultNATSQueueGroup     = "loom-runners"
	DefaultMaxWorkers         = 10
	DefaultPollIntervalMs     = 200
	DefaultShutdownTimeout    = 30
	DefaultLogLevel           = "info"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as boolean or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// Load creates a new configuration with environment variables and pattern seeds from YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Check mandatory environment variables
	natsURL := os.Getenv("LOOM_NATS_URL")
	if natsURL == "" {
		return nil, fmt.Errorf("LOOM_NATS_URL environment variable is required")
	}

	driver := getEnv("LOOM_STORE_DRIVER", DefaultStoreDriver)
	store := StoreConfig{Driver: driver}
	switch driver {
	case DriverNeo4j:
		uri := os.Getenv("LOOM_NEO4J_URI")
		if uri == "" {
			return nil, fmt.Errorf("LOOM_NEO4J_URI environment variable is required")
		}
		store.Neo4j = Neo4jConfig{
			URI:      uri,
			Username: getEnv("LOOM_NEO4J_USERNAME", DefaultNeo4jUsername),
			Password: os.Getenv("LOOM_NEO4J_PASSWORD"),
			Database: getEnv("LOOM_NEO4J_DATABASE", DefaultNeo4jDatabase),
		}
	case DriverPostgres:
		url := os.Getenv("LOOM_POSTGRES_URL")
		if url == "" {
			return nil, fmt.Errorf("LOOM_POSTGRES_URL environment variable is required")
		}
		store.Postgres = PostgresConfig{URL: url}
	case DriverMemory:
		// Nothing to configure, state lives in the process.
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}

	// Override/set configuration with environment variables and defaults
	config.Server = ServerConfig{
		Port:         getEnv("LOOM_SERVER_PORT", DefaultServerPort),
		ReadTimeout:  getEnvInt("LOOM_SERVER_READ_TIMEOUT", DefaultServerReadTimeout),
		WriteTimeout: getEnvInt("LOOM_SERVER_WRITE_TIMEOUT", DefaultServerWriteTimeout),
	}

	config.Store = store

	config.Cache = CacheConfig{
		Path:     getEnv("LOOM_CACHE_PATH", DefaultCachePath),
		TTLHours: getEnvInt("LOOM_CACHE_TTL_HOURS", DefaultCacheTTLHours),
	}

	config.NATS = NATSConfig{
		URL:        natsURL,
		Subject:    getEnv("LOOM_NATS_SUBJECT", DefaultNATSSubject),
		QueueGroup: getEnv("LOOM_NATS_QUEUE_GROUP", DefaultNATSQueueGroup),
	}

	config.Worker = WorkerConfig{
		MaxWorkers:      getEnvInt("LOOM_WORKER_MAX_WORKERS", DefaultMaxWorkers),
		PollIntervalMs:  getEnvInt("LOOM_WORKER_POLL_INTERVAL_MS", DefaultPollIntervalMs),
		ShutdownTimeout: getEnvInt("LOOM_WORKER_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
	}

	config.Log = LogConfig{
		Level: getEnv("LOOM_LOG_LEVEL", DefaultLogLevel),
		JSON:  getEnvBool("LOOM_LOG_JSON", false),
	}

	// Initialize empty pattern seeds slice if none were loaded from file
	if config.Patterns == nil {
		config.Patterns = make([]PatternSeed, 0)
	}

	return &config, nil
}
