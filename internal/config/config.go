package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Env      string
	Port     string
	LogLevel string
	LogFile  string

	// Inventory backend (REST) and its notification endpoint.
	BackendURL     string
	RequestTimeout time.Duration
	LiveTransport  string // ws | kafka
	LiveURL        string
	Kafka          KafkaConfig

	Redis       RedisConfig
	ForecastTTL time.Duration

	TracingEnabled bool
	JaegerEndpoint string

	TemplatesDir string
	StaticDir    string
	SessionIdle  time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c Config) IsDevelopment() bool { return c.Env == "development" }

func Load() Config {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := Config{
		Env:      getEnv("APP_ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		BackendURL:     strings.TrimRight(getEnv("BACKEND_URL", "http://127.0.0.1:8000"), "/"),
		RequestTimeout: getEnvDuration("BACKEND_TIMEOUT", 5*time.Second),
		LiveTransport:  strings.ToLower(getEnv("LIVE_TRANSPORT", "ws")),
		LiveURL:        getEnv("LIVE_URL", "ws://127.0.0.1:8000/ws"),
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC_STOCK", "estoque.notificacoes"),
			GroupID: getEnv("KAFKA_GROUP", "stockboard"),
		},

		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		ForecastTTL: getEnvDuration("FORECAST_TTL", 30*time.Second),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),

		TemplatesDir: getEnv("TEMPLATES_DIR", "./web/templates"),
		StaticDir:    getEnv("STATIC_DIR", "./web/static"),
		SessionIdle:  getEnvDuration("SESSION_IDLE", 30*time.Minute),
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("backend", cfg.BackendURL).
		Str("live_transport", cfg.LiveTransport).
		Str("live_url", cfg.LiveURL).
		Bool("redis", cfg.Redis.Addr != "").
		Bool("tracing", cfg.TracingEnabled).
		Msg("config loaded")
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("750ms") or plain seconds ("5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
