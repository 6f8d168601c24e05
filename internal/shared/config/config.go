package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the booking engine
type Config struct {
	// Server configuration
	Port           string
	GinMode        string
	APIVersion     string
	APIPrefix      string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig

	RateLimit RateLimitConfig

	Booking  BookingConfig
	Payments PaymentsConfig
	Kafka    KafkaConfig

	Maintenance MaintenanceConfig

	// Logging
	LogLevel string
}

// StorageConfig selects where ledger, hold and booking state is persisted
type StorageConfig struct {
	Driver string // "postgres" or "memory"
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	DSN      string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	Addr     string

	AvailabilityCacheTTL time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled         bool
	WindowDuration  time.Duration
	DefaultRequests int
	PublicRequests  int
	BookingRequests int
	WebhookRequests int
	AdminRequests   int
	HealthRequests  int
	WhitelistedIPs  []string
}

// BookingConfig holds hold and state machine tunables
type BookingConfig struct {
	HoldTTL            time.Duration
	HoldSweepInterval  time.Duration
	SweepBatchSize     int
	MaxNights          int
	MaxPaymentAttempts int
	Currency           string
	// ReferencePrefix is prepended to human readable booking references.
	ReferencePrefix string
	// PaymentLinkMinTTL is how long a hold is kept once a payment link is sent.
	PaymentLinkMinTTL time.Duration
}

// PaymentsConfig holds webhook verification settings
type PaymentsConfig struct {
	RazorpayWebhookSecret string
	StripeWebhookSecret   string
	RequireSignature      bool

	// API credentials for payment links; links are disabled without them.
	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayAPIBase   string
}

// KafkaConfig holds broker and topic names
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	EventsTopic     string
	CallbacksTopic  string
	ConsumerGroupID string
	ConsumerWorkers int
}

// MaintenanceConfig holds the schedule for periodic housekeeping
type MaintenanceConfig struct {
	Schedule        string
	LedgerRetention time.Duration
	HoldRetention   time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		APIVersion:     getEnv("API_VERSION", "v1"),
		APIPrefix:      getEnv("API_PREFIX", "/api"),
		ReadTimeout:    getDurationEnv("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:   getDurationEnv("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:    getDurationEnv("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes: getIntEnv("MAX_HEADER_BYTES", 1<<20), // 1 MB

		Storage: StorageConfig{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", "postgres")),
		},

		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "zomestay_db"),
			User:     getEnv("DB_USER", "zomestay_user"),
			Password: getEnv("DB_PASSWORD", "zomestay_password"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),

			AvailabilityCacheTTL: getDurationEnv("REDIS_AVAILABILITY_CACHE_TTL", 30*time.Second),
		},

		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-super-secret-jwt-key"),
		},

		RateLimit: RateLimitConfig{
			Enabled:         getBoolEnv("RATE_LIMIT_ENABLED", true),
			WindowDuration:  getDurationEnv("RATE_LIMIT_WINDOW_DURATION", 60*time.Second),
			DefaultRequests: getIntEnv("RATE_LIMIT_DEFAULT_REQUESTS", 60),
			PublicRequests:  getIntEnv("RATE_LIMIT_PUBLIC_REQUESTS", 100),
			BookingRequests: getIntEnv("RATE_LIMIT_BOOKING_REQUESTS", 20),
			WebhookRequests: getIntEnv("RATE_LIMIT_WEBHOOK_REQUESTS", 600),
			AdminRequests:   getIntEnv("RATE_LIMIT_ADMIN_REQUESTS", 200),
			HealthRequests:  getIntEnv("RATE_LIMIT_HEALTH_REQUESTS", 300),
			WhitelistedIPs:  getStringSliceEnv("RATE_LIMIT_WHITELISTED_IPS", []string{}),
		},

		Booking: BookingConfig{
			HoldTTL:            getDurationEnv("BOOKING_HOLD_TTL", 10*time.Minute),
			HoldSweepInterval:  getDurationEnv("BOOKING_HOLD_SWEEP_INTERVAL", 30*time.Second),
			SweepBatchSize:     getIntEnv("BOOKING_HOLD_SWEEP_BATCH", 100),
			MaxNights:          getIntEnv("BOOKING_MAX_NIGHTS", 30),
			MaxPaymentAttempts: getIntEnv("BOOKING_MAX_PAYMENT_ATTEMPTS", 3),
			Currency:           getEnv("BOOKING_CURRENCY", "INR"),
			ReferencePrefix:    getEnv("BOOKING_REFERENCE_PREFIX", "ZS"),
			PaymentLinkMinTTL:  getDurationEnv("BOOKING_PAYMENT_LINK_MIN_TTL", 16*time.Minute),
		},

		Payments: PaymentsConfig{
			RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			StripeWebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
			RequireSignature:      getBoolEnv("PAYMENTS_REQUIRE_SIGNATURE", true),
			RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
			RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
			RazorpayAPIBase:       getEnv("RAZORPAY_API_BASE", ""),
		},

		Kafka: KafkaConfig{
			Enabled:         getBoolEnv("KAFKA_ENABLED", false),
			Brokers:         getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			EventsTopic:     getEnv("KAFKA_BOOKING_EVENTS_TOPIC", "booking-events"),
			CallbacksTopic:  getEnv("KAFKA_PAYMENT_CALLBACKS_TOPIC", "payment-callbacks"),
			ConsumerGroupID: getEnv("KAFKA_CONSUMER_GROUP", "zomestay-payment-reconciler"),
			ConsumerWorkers: getIntEnv("KAFKA_CONSUMER_WORKERS", 1),
		},

		Maintenance: MaintenanceConfig{
			Schedule:        getEnv("MAINTENANCE_SCHEDULE", "0 3 * * *"),
			LedgerRetention: getDurationEnv("MAINTENANCE_LEDGER_RETENTION", 24*time.Hour),
			HoldRetention:   getDurationEnv("MAINTENANCE_HOLD_RETENTION", 30*24*time.Hour),
		},

		LogLevel: getEnv("LOG_LEVEL", "debug"),
	}

	// Build composite values
	cfg.Database.DSN = buildDatabaseDSN(cfg.Database)
	cfg.Redis.Addr = cfg.Redis.Host + ":" + cfg.Redis.Port

	// Unsigned webhooks are a local development convenience only.
	if cfg.IsProduction() {
		cfg.Payments.RequireSignature = true
	}

	return cfg
}

// buildDatabaseDSN builds the database connection string
func buildDatabaseDSN(db DatabaseConfig) string {
	return "host=" + db.Host +
		" port=" + db.Port +
		" user=" + db.User +
		" password=" + db.Password +
		" dbname=" + db.Name +
		" sslmode=" + db.SSLMode
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return fallback
}

// getStringSliceEnv gets a comma-separated string environment variable as a slice
func getStringSliceEnv(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

func (c *Config) IsProduction() bool {
	return c.GinMode == "release"
}

func (c *Config) IsDevelopment() bool {
	return c.GinMode == "debug"
}

// UsesMemoryStorage reports whether state is kept in process only.
func (c *Config) UsesMemoryStorage() bool {
	return c.Storage.Driver == "memory"
}

func (c *Config) GetServerAddress() string {
	return ":" + c.Port
}

func (c *Config) GetAPIBasePath() string {
	return c.APIPrefix + "/" + c.APIVersion
}
