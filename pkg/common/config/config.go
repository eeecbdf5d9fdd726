package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database (MPI, trace status and pseudonym vault share one instance)
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers        []string
	KafkaGroupID        string
	TraceCompletedTopic string
	TraceDLQTopic       string

	// Matching
	MatchingStrategy   string
	MatchThreshold     float64
	MatchCandidatePool int

	// Feed
	FeedConfigPath string
	CohortPath     string

	// Pseudonymisation
	PseudonymMasterKey  string
	PseudonymKeyVersion string

	// External demographics lookup (PDS-style async batch API)
	LookupBaseURL      string
	LookupTokenURL     string
	LookupClientID     string
	LookupClientSecret string
	LookupTimeout      time.Duration

	// Trace scheduling
	TraceSubmitInterval time.Duration
	TracePollInterval   time.Duration
	TraceBatchCacheTTL  time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "ldp"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "ldp123"),
		PostgresDB:       getEnv("POSTGRES_DB", "ldp"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:        getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "ldp-platform"),
		TraceCompletedTopic: getEnv("TRACE_COMPLETED_TOPIC", "trace-completed"),
		TraceDLQTopic:       getEnv("TRACE_DLQ_TOPIC", ""),

		MatchingStrategy:   getEnv("MATCHING_STRATEGY", "exact"),
		MatchThreshold:     getFloatEnv("MATCH_THRESHOLD", 0.92),
		MatchCandidatePool: getIntEnv("MATCH_CANDIDATE_POOL", 500),

		FeedConfigPath: getEnv("FEED_CONFIG_PATH", ""),
		CohortPath:     getEnv("COHORT_PATH", ""),

		PseudonymMasterKey:  getEnv("PSEUDONYM_MASTER_KEY", ""),
		PseudonymKeyVersion: getEnv("PSEUDONYM_KEY_VERSION", "v1"),

		LookupBaseURL:      getEnv("LOOKUP_BASE_URL", ""),
		LookupTokenURL:     getEnv("LOOKUP_TOKEN_URL", ""),
		LookupClientID:     getEnv("LOOKUP_CLIENT_ID", ""),
		LookupClientSecret: getEnv("LOOKUP_CLIENT_SECRET", ""),
		LookupTimeout:      getDuration("LOOKUP_TIMEOUT", 15*time.Second),

		TraceSubmitInterval: getDuration("TRACE_SUBMIT_INTERVAL", 15*time.Minute),
		TracePollInterval:   getDuration("TRACE_POLL_INTERVAL", 5*time.Minute),
		TraceBatchCacheTTL:  getDuration("TRACE_BATCH_CACHE_TTL", 72*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
