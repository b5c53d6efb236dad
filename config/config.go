package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Logging
	LogLevel  string
	LogFormat string
	PIIKey    string

	// Purchase API
	APIBaseURL      string
	APITimeout      time.Duration
	NotificationURL string

	// Payment widget
	WidgetScriptURL      string
	WidgetPublicKey      string
	WidgetLocale         string
	WidgetMaxInstallment int
	WidgetInitAttempts   int
	WidgetInitDelay      time.Duration

	// Status polling
	PollInterval    time.Duration
	PollMaxDuration time.Duration
	PollMaxFailures int

	// Sessions
	SessionIdleTTL  time.Duration
	CleanupInterval time.Duration

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int
	ReferralTTL   time.Duration

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Rate limiting
	RateLimitPerMinute int
	AntiBotPerMinute   int

	// Price list
	PriceSingle  decimal.Decimal
	PriceCouple  decimal.Decimal
	PriceBox     decimal.Decimal
	PriceTable   decimal.Decimal
	PriceParking decimal.Decimal

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

// LoadConfig reads the environment, after loading a .env file when one exists.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		PIIKey:    getEnv("PII_KEY", ""),

		// Purchase API
		APIBaseURL:      getEnv("API_BASE_URL", "https://eventos.grupoglk.com.br/api"),
		APITimeout:      getEnvAsDuration("API_TIMEOUT", "10s"),
		NotificationURL: getEnv("NOTIFICATION_URL", "https://eventos.grupoglk.com.br/status"),

		// Widget
		WidgetScriptURL:      getEnv("WIDGET_SCRIPT_URL", "https://sdk.mercadopago.com/js/v2"),
		WidgetPublicKey:      getEnv("WIDGET_PUBLIC_KEY", ""),
		WidgetLocale:         getEnv("WIDGET_LOCALE", "pt-BR"),
		WidgetMaxInstallment: getEnvAsInt("WIDGET_MAX_INSTALLMENTS", 12),
		WidgetInitAttempts:   getEnvAsInt("WIDGET_INIT_ATTEMPTS", 5),
		WidgetInitDelay:      getEnvAsDuration("WIDGET_INIT_DELAY", "1s"),

		// Polling
		PollInterval:    getEnvAsDuration("POLL_INTERVAL", "5s"),
		PollMaxDuration: getEnvAsDuration("POLL_MAX_DURATION", "5m"),
		PollMaxFailures: getEnvAsInt("POLL_MAX_FAILURES", 10),

		// Sessions
		SessionIdleTTL:  getEnvAsDuration("SESSION_IDLE_TTL", "30m"),
		CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", "1m"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		ReferralTTL:   getEnvAsDuration("REFERRAL_TTL", "720h"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "invite-checkout"),

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),
		AntiBotPerMinute:   getEnvAsInt("ANTIBOT_PER_MINUTE", 30),

		// Prices
		PriceSingle:  getEnvAsDecimal("PRICE_SINGLE", "25.00"),
		PriceCouple:  getEnvAsDecimal("PRICE_COUPLE", "40.00"),
		PriceBox:     getEnvAsDecimal("PRICE_BOX", "200.00"),
		PriceTable:   getEnvAsDecimal("PRICE_TABLE", "20.00"),
		PriceParking: getEnvAsDecimal("PRICE_PARKING", "20.00"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	valueStr := getEnv(key, defaultValue)
	if value, err := decimal.NewFromString(valueStr); err == nil {
		return value
	}
	return decimal.RequireFromString(defaultValue)
}
