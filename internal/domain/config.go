package domain

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the complete FraudShield configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are wired
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Model      ModelConfig      `json:"model"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	// AsyncWorker enables scoring of bus-submitted transactions
	AsyncWorker bool `json:"asyncWorker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// PredictTimeout bounds a single scoring request, in seconds. Zero disables it.
	PredictTimeout int `json:"predictTimeout"`

	// AllowedOrigins lists CORS origins. Empty admits any origin without credentials.
	AllowedOrigins []string `json:"allowedOrigins"`
}

// ModelConfig controls training and where the fitted state lives.
type ModelConfig struct {
	SyntheticSamples int     `json:"syntheticSamples"`
	Seed             uint64  `json:"seed"`
	Trees            int     `json:"trees"`
	MaxDepth         int     `json:"maxDepth"`
	TestFraction     float64 `json:"testFraction"`

	// DataDir is searched for a real labeled CSV before falling back to synthetic data
	DataDir string `json:"dataDir"`

	// ArtifactStore is "file", "sql" or "cache"
	ArtifactStore string `json:"artifactStore"`
	ArtifactDir   string `json:"artifactDir"`
	ArtifactName  string `json:"artifactName"`

	// TrainOnStartup retrains before serving traffic
	TrainOnStartup bool `json:"trainOnStartup"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`

	// OTLPEndpoint is a host:port for the OTLP gRPC exporter. When empty,
	// spans are created but not exported.
	OTLPEndpoint string `json:"otlpEndpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, channels and an in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			ReadTimeout:    30,
			WriteTimeout:   120, // POST /train can take a while
			PredictTimeout: 10,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudshield.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalMaxBytes: 256 << 20, // room for a few serialized models
			LocalTTL:      5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Model: ModelConfig{
			SyntheticSamples: 10000,
			Seed:             42,
			Trees:            100,
			MaxDepth:         10,
			TestFraction:     0.2,
			DataDir:          "data",
			ArtifactStore:    "file",
			ArtifactDir:      "./models",
			ArtifactName:     "fraud_model",
			TrainOnStartup:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudshield",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudshield",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalMaxBytes:  128 << 20,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "fraudshield-workers",
	}
	// Replicas share one trained model through Redis
	cfg.Model.ArtifactStore = "cache"
	cfg.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the configuration from an optional .env file and
// FRAUDSHIELD_* environment variables.
func LoadConfig() *Config {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if os.Getenv("FRAUDSHIELD_TIER") == string(TierPro) {
		cfg = ProConfig()
	}

	cfg.Server.Host = getEnv("FRAUDSHIELD_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("FRAUDSHIELD_PORT", cfg.Server.Port)
	cfg.Server.PredictTimeout = getEnvInt("FRAUDSHIELD_PREDICT_TIMEOUT", cfg.Server.PredictTimeout)
	if origins := getEnv("FRAUDSHIELD_CORS_ORIGINS", ""); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Repository.Driver = getEnv("FRAUDSHIELD_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("FRAUDSHIELD_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("FRAUDSHIELD_PG_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("FRAUDSHIELD_PG_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("FRAUDSHIELD_PG_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("FRAUDSHIELD_PG_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("FRAUDSHIELD_PG_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("FRAUDSHIELD_PG_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.Type = getEnv("FRAUDSHIELD_CACHE", cfg.Cache.Type)
	cfg.Cache.RedisAddr = getEnv("FRAUDSHIELD_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("FRAUDSHIELD_REDIS_PASSWORD", cfg.Cache.RedisPassword)

	cfg.EventBus.Type = getEnv("FRAUDSHIELD_EVENTBUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("FRAUDSHIELD_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("FRAUDSHIELD_NATS_TOKEN", cfg.EventBus.NATSToken)

	cfg.Model.SyntheticSamples = getEnvInt("FRAUDSHIELD_SYNTHETIC_SAMPLES", cfg.Model.SyntheticSamples)
	cfg.Model.Trees = getEnvInt("FRAUDSHIELD_TREES", cfg.Model.Trees)
	cfg.Model.MaxDepth = getEnvInt("FRAUDSHIELD_MAX_DEPTH", cfg.Model.MaxDepth)
	cfg.Model.DataDir = getEnv("FRAUDSHIELD_DATA_DIR", cfg.Model.DataDir)
	cfg.Model.ArtifactStore = getEnv("FRAUDSHIELD_ARTIFACT_STORE", cfg.Model.ArtifactStore)
	cfg.Model.ArtifactDir = getEnv("FRAUDSHIELD_ARTIFACT_DIR", cfg.Model.ArtifactDir)
	cfg.Model.TrainOnStartup = getEnvBool("FRAUDSHIELD_TRAIN_ON_STARTUP", cfg.Model.TrainOnStartup)
	if seed := getEnvInt("FRAUDSHIELD_SEED", -1); seed >= 0 {
		cfg.Model.Seed = uint64(seed)
	}

	cfg.Logging.Level = getEnv("FRAUDSHIELD_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("FRAUDSHIELD_LOG_FORMAT", cfg.Logging.Format)
	if os.Getenv("FRAUDSHIELD_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	cfg.Tracing.Enabled = getEnvBool("FRAUDSHIELD_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.OTLPEndpoint)
	cfg.AsyncWorker = getEnvBool("FRAUDSHIELD_ASYNC_WORKER", cfg.AsyncWorker)

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList parses a comma separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}
