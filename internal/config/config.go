package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for every component (spec.md §6).
// Every field except store.url has a default; Load fails when store.url is
// unset. log.brokers defaults to localhost:9092.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration

	// Store (C2)
	DatabaseURL  string
	DBMaxConns   int32
	DBMinConns   int32
	StorePoolSize int

	// Dedup Cache (C3)
	CacheEndpoint string
	DedupTTL      time.Duration

	// Message Log (C1)
	LogBrokers       []string
	LogConsumerGroup string

	// Provider endpoints (C4)
	EmailSMTPHost     string
	EmailSMTPPort     int
	EmailSMTPUser     string
	EmailSMTPPassword string
	EmailFrom         string

	SMSGatewayURL string

	PushVAPIDPublicKey  string
	PushVAPIDPrivateKey string
	PushVAPIDSubject    string

	WebhookBaseURL     string
	WebhookFallbackURL string // optional; empty disables the webhook fallback adapter

	DispatchTimeout map[string]time.Duration

	// Worker pool (C7)
	DispatchPoolSize int
	RateLimitPerChannel int

	// Retry Router (C6)
	MaxRetries    int
	BaseDelay     time.Duration

	// Circuit Breaker (C5)
	BreakerFailureThreshold uint32
	BreakerCooldown         time.Duration

	// Scheduler (C9)
	SchedulerTick       time.Duration
	SchedulerBatchSize  int
	StuckPendingAge     time.Duration
}

// Load reads configuration from environment variables (viper's AutomaticEnv,
// keys upper-cased with "." replaced by "_", e.g. store.url -> STORE_URL),
// falling back to the defaults below.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout_ms", 5000)
	v.SetDefault("http.write_timeout_ms", 10000)
	v.SetDefault("http.shutdown_timeout_ms", 30000)
	v.SetDefault("drain_timeout_ms", 30000)

	v.SetDefault("store.url", "")
	v.SetDefault("store.pool_size", 20)
	v.SetDefault("store.max_conns", 25)
	v.SetDefault("store.min_conns", 5)

	v.SetDefault("cache.endpoint", "localhost:6379")
	v.SetDefault("dedup.ttl_s", 86400)

	v.SetDefault("log.brokers", "localhost:9092")
	v.SetDefault("log.consumer_group", "notification-workers")

	v.SetDefault("email.smtp_host", "localhost")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.smtp_user", "")
	v.SetDefault("email.smtp_password", "")
	v.SetDefault("email.from", "notifications@example.com")

	v.SetDefault("sms.gateway_url", "https://sms-gateway.internal/send")

	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.vapid_subject", "mailto:ops@example.com")

	v.SetDefault("webhook.base_url", "https://webhook.site/your-uuid-here")
	v.SetDefault("webhook.fallback_url", "")

	v.SetDefault("dispatch.timeout_ms.email", 10000)
	v.SetDefault("dispatch.timeout_ms.sms", 5000)
	v.SetDefault("dispatch.timeout_ms.push", 5000)
	v.SetDefault("dispatch.timeout_ms.webhook", 10000)

	v.SetDefault("worker.dispatch_pool", 64)
	v.SetDefault("rate_limit_per_channel", 100)

	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay_ms", 1000)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_ms", 30000)

	v.SetDefault("scheduler.tick_ms", 5000)
	v.SetDefault("scheduler.batch_size", 500)
	v.SetDefault("scheduler.stuck_pending_age_ms", 60000)

	dbURL := v.GetString("store.url")
	if dbURL == "" {
		return nil, fmt.Errorf("store.url (STORE_URL) is required")
	}

	brokers := strings.Split(v.GetString("log.brokers"), ",")

	return &Config{
		HTTPPort:        v.GetString("http.port"),
		ReadTimeout:     v.GetDuration("http.read_timeout_ms") * time.Millisecond,
		WriteTimeout:    v.GetDuration("http.write_timeout_ms") * time.Millisecond,
		ShutdownTimeout: v.GetDuration("http.shutdown_timeout_ms") * time.Millisecond,
		DrainTimeout:    v.GetDuration("drain_timeout_ms") * time.Millisecond,

		DatabaseURL:   dbURL,
		DBMaxConns:    int32(v.GetInt("store.max_conns")),
		DBMinConns:    int32(v.GetInt("store.min_conns")),
		StorePoolSize: v.GetInt("store.pool_size"),

		CacheEndpoint: v.GetString("cache.endpoint"),
		DedupTTL:      v.GetDuration("dedup.ttl_s") * time.Second,

		LogBrokers:       brokers,
		LogConsumerGroup: v.GetString("log.consumer_group"),

		EmailSMTPHost:     v.GetString("email.smtp_host"),
		EmailSMTPPort:     v.GetInt("email.smtp_port"),
		EmailSMTPUser:     v.GetString("email.smtp_user"),
		EmailSMTPPassword: v.GetString("email.smtp_password"),
		EmailFrom:         v.GetString("email.from"),

		SMSGatewayURL: v.GetString("sms.gateway_url"),

		PushVAPIDPublicKey:  v.GetString("push.vapid_public_key"),
		PushVAPIDPrivateKey: v.GetString("push.vapid_private_key"),
		PushVAPIDSubject:    v.GetString("push.vapid_subject"),

		WebhookBaseURL:     v.GetString("webhook.base_url"),
		WebhookFallbackURL: v.GetString("webhook.fallback_url"),

		DispatchTimeout: map[string]time.Duration{
			"email":   v.GetDuration("dispatch.timeout_ms.email") * time.Millisecond,
			"sms":     v.GetDuration("dispatch.timeout_ms.sms") * time.Millisecond,
			"push":    v.GetDuration("dispatch.timeout_ms.push") * time.Millisecond,
			"webhook": v.GetDuration("dispatch.timeout_ms.webhook") * time.Millisecond,
		},

		DispatchPoolSize:    v.GetInt("worker.dispatch_pool"),
		RateLimitPerChannel: v.GetInt("rate_limit_per_channel"),

		MaxRetries: v.GetInt("retry.max_attempts"),
		BaseDelay:  v.GetDuration("retry.base_delay_ms") * time.Millisecond,

		BreakerFailureThreshold: uint32(v.GetInt("breaker.failure_threshold")),
		BreakerCooldown:         v.GetDuration("breaker.cooldown_ms") * time.Millisecond,

		SchedulerTick:      v.GetDuration("scheduler.tick_ms") * time.Millisecond,
		SchedulerBatchSize: v.GetInt("scheduler.batch_size"),
		StuckPendingAge:    v.GetDuration("scheduler.stuck_pending_age_ms") * time.Millisecond,
	}, nil
}
