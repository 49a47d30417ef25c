// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Change feed modes.
const (
	FeedSQS    = "sqs"
	FeedStream = "stream"
	FeedLocal  = "local"
)

type Config struct {
	AWSRegion        string
	EndpointOverride string

	OrdersTable      string
	IdempotencyTable string
	IdempotencyTTL   time.Duration

	QueueURL   string
	ChangeFeed string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RunLocal   bool
	ListenAddr string
	LogLevel   string

	DurableMaxAttempts     int
	DurableInitialBackoff  time.Duration
	MirrorTimeout          time.Duration
	SubscriptionGrace      time.Duration
	SubscriptionPoll       time.Duration
	SubscriptionResubEvery time.Duration

	MetricsNamespace string
	MetricsEnabled   bool
}

func defaults(v *viper.Viper) {
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("ORDERS_TABLE", "orders")
	v.SetDefault("IDEMPOTENCY_TABLE", "idempotency")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("CHANGE_FEED", FeedLocal)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RUN_LOCAL", false)
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DURABLE_MAX_ATTEMPTS", 3)
	v.SetDefault("DURABLE_INITIAL_BACKOFF", "100ms")
	v.SetDefault("MIRROR_TIMEOUT", "2s")
	v.SetDefault("SUBSCRIPTION_GRACE_PERIOD", "3s")
	v.SetDefault("SUBSCRIPTION_POLL_INTERVAL", "5s")
	v.SetDefault("SUBSCRIPTION_RESUBSCRIBE_INTERVAL", "10s")
	v.SetDefault("METRICS_NAMESPACE", "OrderSync")
	v.SetDefault("METRICS_ENABLED", false)
}

// Load reads the environment. Unset keys fall back to defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	defaults(v)
	// keys without a default still need binding to be read
	for _, k := range []string{"AWS_ENDPOINT_OVERRIDE", "ORDERS_QUEUE_URL", "REDIS_PASSWORD"} {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	cfg := &Config{
		AWSRegion:              v.GetString("AWS_REGION"),
		EndpointOverride:       v.GetString("AWS_ENDPOINT_OVERRIDE"),
		OrdersTable:            v.GetString("ORDERS_TABLE"),
		IdempotencyTable:       v.GetString("IDEMPOTENCY_TABLE"),
		IdempotencyTTL:         v.GetDuration("IDEMPOTENCY_TTL"),
		QueueURL:               v.GetString("ORDERS_QUEUE_URL"),
		ChangeFeed:             strings.ToLower(v.GetString("CHANGE_FEED")),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		RunLocal:               v.GetBool("RUN_LOCAL"),
		ListenAddr:             v.GetString("LISTEN_ADDR"),
		LogLevel:               v.GetString("LOG_LEVEL"),
		DurableMaxAttempts:     v.GetInt("DURABLE_MAX_ATTEMPTS"),
		DurableInitialBackoff:  v.GetDuration("DURABLE_INITIAL_BACKOFF"),
		MirrorTimeout:          v.GetDuration("MIRROR_TIMEOUT"),
		SubscriptionGrace:      v.GetDuration("SUBSCRIPTION_GRACE_PERIOD"),
		SubscriptionPoll:       v.GetDuration("SUBSCRIPTION_POLL_INTERVAL"),
		SubscriptionResubEvery: v.GetDuration("SUBSCRIPTION_RESUBSCRIBE_INTERVAL"),
		MetricsNamespace:       v.GetString("METRICS_NAMESPACE"),
		MetricsEnabled:         v.GetBool("METRICS_ENABLED"),
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.ChangeFeed {
	case FeedSQS:
		if c.QueueURL == "" {
			return fmt.Errorf("CHANGE_FEED=sqs requires ORDERS_QUEUE_URL")
		}
	case FeedStream, FeedLocal:
	default:
		return fmt.Errorf("unknown CHANGE_FEED %q", c.ChangeFeed)
	}
	if c.DurableMaxAttempts < 1 {
		return fmt.Errorf("DURABLE_MAX_ATTEMPTS must be at least 1, got %d", c.DurableMaxAttempts)
	}
	if c.OrdersTable == "" {
		return fmt.Errorf("ORDERS_TABLE is required")
	}
	return nil
}
