package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Kommo CRM
	KommoBaseURL          string
	KommoAccessToken      string
	KommoWebhookSecret    string
	KommoEnforceSignature bool
	KommoMaxRetries       int
	KommoRetryBaseDelay   time.Duration
	KommoRetryMaxDelay    time.Duration
	KommoRateLimitRPS     float64
	KommoTimeout          time.Duration
	KommoDriveURL         string

	// Custom-field overrides; zero / empty keeps the catalog default.
	VehicleFieldID          int64
	VehicleFieldCode        string
	DeliveryDateFieldID     int64
	CollectDateFieldID      int64
	DeliveryLocationFieldID int64
	CollectLocationFieldID  int64

	DocumentsBucket         string
	DocumentSyncConcurrency int
	WebhookEventConcurrency int
	WebhookPipelineTimeout  time.Duration
	WebhookRateLimitRPS     float64
	WebhookRateLimitBurst   int
	AdminJWTSecret          string
	VATRate                 float64

	// Downstream collaborators
	SalesOrderURL       string
	SalesOrderToken     string
	SalesOrderTimeout   time.Duration
	RecognitionQueueURL string

	// Operator notifications
	TelegramBotToken  string
	TelegramChatID    string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	OpsEmail          string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		KommoBaseURL:          strings.TrimRight(getEnv("KOMMO_BASE_URL", ""), "/"),
		KommoAccessToken:      getEnv("KOMMO_ACCESS_TOKEN", ""),
		KommoWebhookSecret:    getEnv("KOMMO_WEBHOOK_SECRET", ""),
		KommoEnforceSignature: getEnvAsBool("KOMMO_ENFORCE_SIGNATURE", false),
		KommoMaxRetries:       getEnvAsInt("KOMMO_MAX_RETRIES", 4),
		KommoRetryBaseDelay:   time.Duration(getEnvAsInt("KOMMO_RETRY_BASE_DELAY_MS", 500)) * time.Millisecond,
		KommoRetryMaxDelay:    time.Duration(getEnvAsInt("KOMMO_RETRY_MAX_DELAY_MS", 5000)) * time.Millisecond,
		KommoRateLimitRPS:     getEnvAsFloat("KOMMO_RATE_LIMIT_RPS", 6),
		KommoTimeout:          getEnvAsDuration("KOMMO_TIMEOUT", 20*time.Second),
		KommoDriveURL:         strings.TrimRight(getEnv("KOMMO_DRIVE_URL", ""), "/"),

		VehicleFieldID:          getEnvAsInt64("KOMMO_VEHICLE_FIELD_ID", 0),
		VehicleFieldCode:        getEnv("KOMMO_VEHICLE_FIELD_CODE", ""),
		DeliveryDateFieldID:     getEnvAsInt64("KOMMO_DELIVERY_DATE_FIELD_ID", 0),
		CollectDateFieldID:      getEnvAsInt64("KOMMO_COLLECT_DATE_FIELD_ID", 0),
		DeliveryLocationFieldID: getEnvAsInt64("KOMMO_DELIVERY_LOCATION_FIELD_ID", 0),
		CollectLocationFieldID:  getEnvAsInt64("KOMMO_COLLECT_LOCATION_FIELD_ID", 0),

		DocumentsBucket:         getEnv("DOCUMENTS_BUCKET", "client-documents"),
		DocumentSyncConcurrency: getEnvAsInt("DOCUMENT_SYNC_CONCURRENCY", 4),
		WebhookEventConcurrency: getEnvAsInt("WEBHOOK_EVENT_CONCURRENCY", 1),
		WebhookPipelineTimeout:  getEnvAsDuration("WEBHOOK_PIPELINE_TIMEOUT", 10*time.Minute),
		WebhookRateLimitRPS:     getEnvAsFloat("WEBHOOK_RATE_LIMIT_RPS", 20),
		WebhookRateLimitBurst:   getEnvAsInt("WEBHOOK_RATE_LIMIT_BURST", 40),
		AdminJWTSecret:          getEnv("ADMIN_JWT_SECRET", ""),
		VATRate:                 getEnvAsFloat("VAT_RATE", 0.05),

		SalesOrderURL:       strings.TrimRight(getEnv("SALES_ORDER_URL", ""), "/"),
		SalesOrderToken:     getEnv("SALES_ORDER_TOKEN", ""),
		SalesOrderTimeout:   getEnvAsDuration("SALES_ORDER_TIMEOUT", 30*time.Second),
		RecognitionQueueURL: getEnv("RECOGNITION_QUEUE_URL", ""),

		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Rental Ops"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		OpsEmail:          getEnv("OPS_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "me-central-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
	cfg.applyFloors()
	return cfg
}

// applyFloors clamps retry tuning so a bad env value cannot disable retries
// or turn backoff into a busy loop.
func (c *Config) applyFloors() {
	if c.KommoMaxRetries < 1 {
		c.KommoMaxRetries = 1
	}
	if c.KommoRetryBaseDelay < 100*time.Millisecond {
		c.KommoRetryBaseDelay = 100 * time.Millisecond
	}
	if c.KommoRetryMaxDelay < c.KommoRetryBaseDelay {
		c.KommoRetryMaxDelay = c.KommoRetryBaseDelay
	}
	if c.WebhookEventConcurrency < 1 {
		c.WebhookEventConcurrency = 1
	}
	if c.DocumentSyncConcurrency < 1 {
		c.DocumentSyncConcurrency = 1
	}
	if c.VATRate < 0 {
		c.VATRate = 0
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
