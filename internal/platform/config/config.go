// Package config reads the full runtime configuration from FISCUS_-prefixed
// environment variables so main stays lean. Every knob has a dev default;
// production overrides what it needs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "fiscus/pkg/platform/strings"
)

// Status store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Server    Server
	Pipeline  Pipeline
	Postgres  Postgres
	Redis     Redis
	Kafka     Kafka
	Notify    Notify
	Analytics Analytics
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	AuthSigningKey  string
	ShutdownTimeout time.Duration
}

// Pipeline configures validation and the status feed.
type Pipeline struct {
	RateTablePath string
	MathTolerance string
	Store         string
	FeedBuffer    int
}

// Postgres configures the durable status store and analytics sink.
type Postgres struct {
	URL string
}

// Redis configures the redis status store.
type Redis struct {
	URL string
}

// Kafka configures brokers and topics. Empty Brokers disables every Kafka
// component.
type Kafka struct {
	Brokers            []string
	StatusTopic        string
	NotificationsTopic string
	IngestTopic        string
	Group              string
}

// Notify configures delivery channels. An empty endpoint disables that
// channel.
type Notify struct {
	WebhookURL    string
	WebhookSecret string
	SMTPAddr      string
	SMTPFrom      string
	SMTPTo        []string
}

// Analytics configures export sinks.
type Analytics struct {
	CSVPath  string
	Postgres bool
}

// FromEnv builds the configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envOr("FISCUS_ADDR", ":8080"),
			LogLevel:        envOr("FISCUS_LOG_LEVEL", "info"),
			AuthSigningKey:  os.Getenv("FISCUS_AUTH_SIGNING_KEY"),
			ShutdownTimeout: envDuration("FISCUS_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Pipeline: Pipeline{
			RateTablePath: os.Getenv("FISCUS_RATE_TABLE_PATH"),
			MathTolerance: envOr("FISCUS_MATH_TOLERANCE", "0.05"),
			Store:         envOr("FISCUS_STORE", StoreMemory),
			FeedBuffer:    envInt("FISCUS_FEED_BUFFER", 256),
		},
		Postgres: Postgres{
			URL: os.Getenv("FISCUS_POSTGRES_URL"),
		},
		Redis: Redis{
			URL: os.Getenv("FISCUS_REDIS_URL"),
		},
		Kafka: Kafka{
			Brokers:            envList("FISCUS_KAFKA_BROKERS"),
			StatusTopic:        envOr("FISCUS_KAFKA_STATUS_TOPIC", "fiscus.status.finalized"),
			NotificationsTopic: envOr("FISCUS_KAFKA_NOTIFICATIONS_TOPIC", "fiscus.notifications"),
			IngestTopic:        envOr("FISCUS_KAFKA_INGEST_TOPIC", "fiscus.invoices.extracted"),
			Group:              envOr("FISCUS_KAFKA_GROUP", "fiscus-pipeline"),
		},
		Notify: Notify{
			WebhookURL:    os.Getenv("FISCUS_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("FISCUS_WEBHOOK_SECRET"),
			SMTPAddr:      os.Getenv("FISCUS_SMTP_ADDR"),
			SMTPFrom:      os.Getenv("FISCUS_SMTP_FROM"),
			SMTPTo:        envList("FISCUS_SMTP_TO"),
		},
		Analytics: Analytics{
			CSVPath:  os.Getenv("FISCUS_ANALYTICS_CSV_PATH"),
			Postgres: envBool("FISCUS_ANALYTICS_POSTGRES"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	return os.Getenv(key) == "true"
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList splits a comma separated value, dropping blanks and duplicates.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	out := pstrings.DedupeAndTrim(strings.Split(v, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
