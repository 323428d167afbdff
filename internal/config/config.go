package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config reúne toda a configuração do serviço, lida de variáveis de ambiente
type Config struct {
	Env         string
	Mode        string // api | worker | all
	ServiceName string
	HTTPPort    string

	Database DatabaseConfig

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	KafkaTopic   string
	WebhookURL   string

	OTLPEndpoint     string
	TelemetryEnabled bool

	QueueDriver       string // postgres | memory
	QueuePollInterval time.Duration
	Workers           int
	JobMaxAttempts    int
	JobBackoff        time.Duration
}

type DatabaseConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// DSN monta a connection string do PostgreSQL
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// Load lê o .env (opcional) e as variáveis de ambiente
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, relying on environment variables")
	}

	return &Config{
		Env:         getEnv("APP_ENV", "development"),
		Mode:        getEnv("MODE", "all"),
		ServiceName: getEnv("SERVICE_NAME", "ledger"),
		HTTPPort:    getEnv("PORT", "8080"),

		Database: DatabaseConfig{
			User:     getEnv("DATABASE_USER", "root"),
			Password: getEnv("DATABASE_PASSWORD", "pass"),
			Host:     getEnv("DATABASE_HOST", "localhost"),
			Port:     getEnv("DATABASE_PORT", "5432"),
			Name:     getEnv("DATABASE_NAME", "ledger_db"),
			SSLMode:  getEnv("DATABASE_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DATABASE_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DATABASE_MIN_CONNS", 5)),
		},

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "ledger.transactions"),
		WebhookURL:   getEnv("NOTIFICATION_WEBHOOK_URL", ""),

		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		TelemetryEnabled: getEnvBool("TELEMETRY_ENABLED", true),

		QueueDriver:       getEnv("QUEUE_DRIVER", "postgres"),
		QueuePollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", 5*time.Second),
		Workers:           getEnvInt("WORKERS", 4),
		JobMaxAttempts:    getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobBackoff:        getEnvDuration("JOB_BACKOFF", 60*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("⚠️ Invalid integer for %s=%q, using %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("⚠️ Invalid duration for %s=%q, using %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
