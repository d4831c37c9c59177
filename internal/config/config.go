// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration shared by the pedalei binaries.
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Telemetry
	OTelEnabled      bool
	OTLPEndpoint     string
	TraceSampleRatio float64

	// OpenRouteService
	ORSBaseURL string
	ORSAPIKey  string
	ORSTimeout time.Duration

	// Directions cache. An empty RedisAddr keeps the cache in memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	CacheStaleTTL time.Duration

	// Pub/Sub. An empty project logs ride summaries instead of publishing them.
	PubSubProjectID     string
	SummaryTopic        string
	SummarySubscription string

	// Rides
	MaxRides       int
	DefaultLang    string
	RateLimitRPM   int
	RideFixBuffer  int
	AnnounceBuffer int
}

// Load reads a .env file when present, then the environment.
func Load() Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables, using defaults for
// anything unset or unparsable.
func FromEnv() Config {
	return Config{
		Port:        getEnvOrDefault("APP_PORT", "8080"),
		Environment: getEnvOrDefault("APP_ENV", "development"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),

		OTelEnabled:      getBool("OTEL_ENABLED", false),
		OTLPEndpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TraceSampleRatio: getFloat("OTEL_TRACES_SAMPLER_ARG", 1),

		ORSBaseURL: getEnvOrDefault("ORS_BASE_URL", "https://api.openrouteservice.org"),
		ORSAPIKey:  os.Getenv("ORS_API_KEY"),
		ORSTimeout: getDuration("ORS_TIMEOUT", 10*time.Second),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		CacheTTL:      getDuration("ROUTE_CACHE_TTL", 15*time.Minute),
		CacheStaleTTL: getDuration("ROUTE_CACHE_STALE_TTL", time.Hour),

		PubSubProjectID:     os.Getenv("PUBSUB_PROJECT_ID"),
		SummaryTopic:        getEnvOrDefault("PUBSUB_SUMMARY_TOPIC", "ride-summaries"),
		SummarySubscription: getEnvOrDefault("PUBSUB_SUMMARY_SUBSCRIPTION", "ride-summaries-worker"),

		MaxRides:       getInt("MAX_RIDES", 1000),
		DefaultLang:    getEnvOrDefault("DEFAULT_LANGUAGE", "pt-BR"),
		RateLimitRPM:   getInt("RATE_LIMIT_RPM", 30),
		RideFixBuffer:  getInt("RIDE_FIX_BUFFER", 32),
		AnnounceBuffer: getInt("ANNOUNCE_BUFFER", 64),
	}
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnvOrDefault(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnvOrDefault(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnvOrDefault(key, defaultValue.String()))
	if err != nil {
		return defaultValue
	}
	return v
}
