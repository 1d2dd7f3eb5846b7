package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domainconfig "graphsync/domain/config"
)

// Store backends
const (
	StoreNeo4j    = "neo4j"
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string
	ConfigFile    string

	// Graph store
	StoreBackend  string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// AWS configuration
	AWSRegion     string
	DynamoDBTable string
	GraphID       string
	EventBusName  string

	// Soft snapshot cache
	RedisURL         string
	SnapshotCacheKey string
	SnapshotCacheTTL time.Duration

	// Store circuit breaker
	BreakerMaxRequests      int
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold float64

	// Logging
	LogLevel string

	// Authentication
	JWTSecret  string
	JWTIssuer  string
	EnableAuth bool

	// Feature flags
	EnableMetrics  bool
	EnableTracing  bool
	OTLPEndpoint   string
	EnableCORS     bool
	AllowedOrigins []string

	// Engine tunables, overlaid from the engine: section of ConfigFile
	Engine *domainconfig.EngineConfig
}

// fileConfig is the shape of CONFIG_FILE
type fileConfig struct {
	Engine *domainconfig.EngineConfig `yaml:"engine"`
}

// LoadConfig loads configuration from environment variables, then overlays
// the engine section of CONFIG_FILE when one is set.
func LoadConfig() (*Config, error) {
	environment := getEnv("ENVIRONMENT", "development")
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   environment,
		ConfigFile:    getEnv("CONFIG_FILE", ""),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		Neo4jURI:      getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", ""),

		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("DYNAMODB_TABLE", "graphsync"),
		GraphID:       getEnv("GRAPH_ID", "default"),
		EventBusName:  getEnv("EVENT_BUS_NAME", ""),

		RedisURL:         getEnv("REDIS_URL", ""),
		SnapshotCacheKey: getEnv("SNAPSHOT_CACHE_KEY", "graphsync:snapshot"),
		SnapshotCacheTTL: getEnvDuration("SNAPSHOT_CACHE_TTL", 24*time.Hour),

		BreakerMaxRequests:      getEnvInt("BREAKER_MAX_REQUESTS", 3),
		BreakerInterval:         getEnvDuration("BREAKER_INTERVAL", 30*time.Second),
		BreakerTimeout:          getEnvDuration("BREAKER_TIMEOUT", 15*time.Second),
		BreakerFailureThreshold: getEnvFloat("BREAKER_FAILURE_THRESHOLD", 0.6),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		JWTIssuer:  getEnv("JWT_ISSUER", "graphsync"),
		EnableAuth: getEnvBool("ENABLE_AUTH", false),

		EnableMetrics:  getEnvBool("ENABLE_METRICS", true),
		EnableTracing:  getEnvBool("ENABLE_TRACING", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", ""),
		EnableCORS:     getEnvBool("ENABLE_CORS", true),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),

		Engine: domainconfig.LoadEngineConfig(environment),
	}

	if cfg.ConfigFile != "" {
		engine, err := LoadEngineFile(cfg.ConfigFile, cfg.Engine)
		if err != nil {
			return nil, err
		}
		cfg.Engine = engine
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEngineFile reads path and overlays its engine section on base. Keys
// the file does not set keep the value from base.
func LoadEngineFile(path string, base *domainconfig.EngineConfig) (*domainconfig.EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseEngine(data, base)
}

// ParseEngine overlays the engine section of a YAML document on base.
func ParseEngine(data []byte, base *domainconfig.EngineConfig) (*domainconfig.EngineConfig, error) {
	if base == nil {
		base = domainconfig.DefaultEngineConfig()
	}
	fc := fileConfig{Engine: base.Clone()}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if fc.Engine == nil {
		fc.Engine = base.Clone()
	}
	if err := fc.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}
	return fc.Engine, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreNeo4j:
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required for the neo4j store")
		}
	case StoreDynamoDB:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb store")
		}
		if c.GraphID == "" {
			return fmt.Errorf("GRAPH_ID is required for the dynamodb store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.EnableAuth && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENABLE_AUTH is set")
	}
	if c.BreakerFailureThreshold <= 0 || c.BreakerFailureThreshold > 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be in (0, 1]")
	}

	if c.IsProduction() {
		if c.StoreBackend == StoreMemory {
			return fmt.Errorf("the memory store cannot be used in production")
		}
		if !c.EnableAuth {
			return fmt.Errorf("ENABLE_AUTH is required in production")
		}
	}

	if c.Engine == nil {
		return fmt.Errorf("engine configuration is missing")
	}
	return c.Engine.Validate()
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
