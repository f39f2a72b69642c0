/**
 * @description
 * This package handles the configuration management for the settlement-service. It
 * uses Viper to read an optional .env file and environment variables into Config.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration loading.
 * - github.com/mitchellh/mapstructure: Decode hooks for decimals and durations.
 * - github.com/shopspring/decimal: Rates and fee schedule amounts.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement-service.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	AppEnv     string `mapstructure:"APP_ENV"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RunMigrations  bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	SettlementExchange   string `mapstructure:"SETTLEMENT_EXCHANGE"`
	SettlementEventQueue string `mapstructure:"SETTLEMENT_EVENT_QUEUE"`
	AlertExchange        string `mapstructure:"ALERT_EXCHANGE"`
	WorkerCount          int    `mapstructure:"WORKER_COUNT"`

	BankAPIBaseURL          string `mapstructure:"BANK_API_BASE_URL"`
	BankAPIKey              string `mapstructure:"BANK_API_KEY"`
	BankSettlementAccount   string `mapstructure:"BANK_SETTLEMENT_ACCOUNT_ID"`
	WithdrawalRateLimit     int    `mapstructure:"WITHDRAWAL_RATE_LIMIT"`
	WithdrawalRateWindowSec int    `mapstructure:"WITHDRAWAL_RATE_WINDOW_SECONDS"`

	// Webhook secrets are plaintext unless SecretsEncryptionKey is set, in which case
	// they are base64 secretbox ciphertexts.
	WebhookSecretBank          string        `mapstructure:"WEBHOOK_SECRET_BANK"`
	WebhookSecretCollection    string        `mapstructure:"WEBHOOK_SECRET_COLLECTION"`
	WebhookSecretAccount       string        `mapstructure:"WEBHOOK_SECRET_ACCOUNT"`
	SecretsEncryptionKey       string        `mapstructure:"SECRETS_ENCRYPTION_KEY"`
	SecretCacheTTL             time.Duration `mapstructure:"SECRET_CACHE_TTL"`
	WebhookFreshnessWindowSecs int           `mapstructure:"WEBHOOK_FRESHNESS_WINDOW_SECONDS"`
	WebhookDedupeTTL           time.Duration `mapstructure:"WEBHOOK_DEDUPE_TTL"`

	APIKey             string   `mapstructure:"API_KEY"`
	APISigningSecret   string   `mapstructure:"API_SIGNING_SECRET"`
	JWTSecret          string   `mapstructure:"JWT_SECRET"`
	CORSAllowedOrigins []string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	QuoteSourceCurrency string          `mapstructure:"QUOTE_SOURCE_CURRENCY"`
	QuoteTargetCurrency string          `mapstructure:"QUOTE_TARGET_CURRENCY"`
	QuoteRate           decimal.Decimal `mapstructure:"QUOTE_RATE"`
	QuoteRateCacheTTL   time.Duration   `mapstructure:"QUOTE_RATE_CACHE_TTL"`

	FeeStandardFixed        decimal.Decimal `mapstructure:"FEE_STANDARD_FIXED"`
	FeeStandardMultiplier   decimal.Decimal `mapstructure:"FEE_STANDARD_MULTIPLIER"`
	FeeStandardNoba         decimal.Decimal `mapstructure:"FEE_STANDARD_NOBA"`
	FeeCollectionFixed      decimal.Decimal `mapstructure:"FEE_COLLECTION_FIXED"`
	FeeCollectionMultiplier decimal.Decimal `mapstructure:"FEE_COLLECTION_MULTIPLIER"`
	FeeCollectionNoba       decimal.Decimal `mapstructure:"FEE_COLLECTION_NOBA"`

	LockLeaseSeconds   int    `mapstructure:"LOCK_LEASE_SECONDS"`
	LockReaperSchedule string `mapstructure:"LOCK_REAPER_SCHEDULE"`
}

var keys = []string{
	"SERVER_PORT", "APP_ENV", "LOG_LEVEL",
	"DATABASE_URL", "RUN_MIGRATIONS", "REDIS_URL", "REDIS_KEY_PREFIX",
	"RABBITMQ_URL", "SETTLEMENT_EXCHANGE", "SETTLEMENT_EVENT_QUEUE", "ALERT_EXCHANGE", "WORKER_COUNT",
	"BANK_API_BASE_URL", "BANK_API_KEY", "BANK_SETTLEMENT_ACCOUNT_ID",
	"WITHDRAWAL_RATE_LIMIT", "WITHDRAWAL_RATE_WINDOW_SECONDS",
	"WEBHOOK_SECRET_BANK", "WEBHOOK_SECRET_COLLECTION", "WEBHOOK_SECRET_ACCOUNT",
	"SECRETS_ENCRYPTION_KEY", "SECRET_CACHE_TTL", "WEBHOOK_FRESHNESS_WINDOW_SECONDS", "WEBHOOK_DEDUPE_TTL",
	"API_KEY", "API_SIGNING_SECRET", "JWT_SECRET", "CORS_ALLOWED_ORIGINS",
	"QUOTE_SOURCE_CURRENCY", "QUOTE_TARGET_CURRENCY", "QUOTE_RATE", "QUOTE_RATE_CACHE_TTL",
	"FEE_STANDARD_FIXED", "FEE_STANDARD_MULTIPLIER", "FEE_STANDARD_NOBA",
	"FEE_COLLECTION_FIXED", "FEE_COLLECTION_MULTIPLIER", "FEE_COLLECTION_NOBA",
	"LOCK_LEASE_SECONDS", "LOCK_REAPER_SCHEDULE",
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_KEY_PREFIX", "settlement")
	viper.SetDefault("SETTLEMENT_EXCHANGE", "settlement.events")
	viper.SetDefault("SETTLEMENT_EVENT_QUEUE", "settlement_service.webhook_events")
	viper.SetDefault("ALERT_EXCHANGE", "settlement.alerts")
	viper.SetDefault("WORKER_COUNT", 4)
	viper.SetDefault("WITHDRAWAL_RATE_LIMIT", 5)
	viper.SetDefault("WITHDRAWAL_RATE_WINDOW_SECONDS", 60)
	viper.SetDefault("SECRET_CACHE_TTL", "10m")
	viper.SetDefault("WEBHOOK_FRESHNESS_WINDOW_SECONDS", 300)
	viper.SetDefault("WEBHOOK_DEDUPE_TTL", "24h")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("QUOTE_SOURCE_CURRENCY", "COP")
	viper.SetDefault("QUOTE_TARGET_CURRENCY", "USD")
	viper.SetDefault("QUOTE_RATE", "0.00025")
	viper.SetDefault("QUOTE_RATE_CACHE_TTL", "5m")
	viper.SetDefault("FEE_STANDARD_FIXED", "400")
	viper.SetDefault("FEE_STANDARD_MULTIPLIER", "0.03")
	viper.SetDefault("FEE_STANDARD_NOBA", "0.50")
	viper.SetDefault("FEE_COLLECTION_FIXED", "0")
	viper.SetDefault("FEE_COLLECTION_MULTIPLIER", "0.02")
	viper.SetDefault("FEE_COLLECTION_NOBA", "0.50")
	viper.SetDefault("LOCK_LEASE_SECONDS", 300)
	viper.SetDefault("LOCK_REAPER_SCHEDULE", "@every 1m")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("PORT")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalHook(),
	)))
	if err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}

	normalize(&config)
	return config, nil
}

func normalize(config *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.AppEnv = strings.ToLower(strings.TrimSpace(config.AppEnv))
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "settlement"
	}
	config.QuoteSourceCurrency = strings.ToUpper(strings.TrimSpace(config.QuoteSourceCurrency))
	config.QuoteTargetCurrency = strings.ToUpper(strings.TrimSpace(config.QuoteTargetCurrency))

	origins := config.CORSAllowedOrigins[:0]
	for _, origin := range config.CORSAllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	config.CORSAllowedOrigins = origins

	if !config.QuoteRate.IsPositive() {
		log.Printf("level=warn component=config msg=\"non-positive quote rate configured; quotes will fail\" rate=%s", config.QuoteRate)
	}
	for name, fee := range map[string]*decimal.Decimal{
		"FEE_STANDARD_FIXED":        &config.FeeStandardFixed,
		"FEE_STANDARD_MULTIPLIER":   &config.FeeStandardMultiplier,
		"FEE_STANDARD_NOBA":         &config.FeeStandardNoba,
		"FEE_COLLECTION_FIXED":      &config.FeeCollectionFixed,
		"FEE_COLLECTION_MULTIPLIER": &config.FeeCollectionMultiplier,
		"FEE_COLLECTION_NOBA":       &config.FeeCollectionNoba,
	} {
		if fee.IsNegative() {
			log.Printf("level=warn component=config msg=\"negative fee configured; coercing to zero\" key=%s value=%s", name, fee)
			*fee = decimal.Zero
		}
	}

	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.WebhookFreshnessWindowSecs <= 0 {
		config.WebhookFreshnessWindowSecs = 300
	}
	if config.WebhookDedupeTTL <= 0 {
		config.WebhookDedupeTTL = 24 * time.Hour
	}
	if config.SecretCacheTTL <= 0 {
		config.SecretCacheTTL = 10 * time.Minute
	}
	if config.QuoteRateCacheTTL <= 0 {
		config.QuoteRateCacheTTL = 5 * time.Minute
	}
	if config.LockLeaseSeconds <= 0 {
		config.LockLeaseSeconds = 300
	}
	if strings.TrimSpace(config.LockReaperSchedule) == "" {
		config.LockReaperSchedule = "@every 1m"
	}
}

// FreshnessWindow is the accepted clock skew for signed requests.
func (c Config) FreshnessWindow() time.Duration {
	return time.Duration(c.WebhookFreshnessWindowSecs) * time.Second
}

// WithdrawalRateWindow is the window WithdrawalRateLimit applies to.
func (c Config) WithdrawalRateWindow() time.Duration {
	return time.Duration(c.WithdrawalRateWindowSec) * time.Second
}

// LockLease is the age after which the reaper deletes a lock.
func (c Config) LockLease() time.Duration {
	return time.Duration(c.LockLeaseSeconds) * time.Second
}

// WebhookSecrets maps vendor name to its configured (possibly encrypted) secret.
func (c Config) WebhookSecrets() map[string]string {
	return map[string]string{
		"bank":       c.WebhookSecretBank,
		"collection": c.WebhookSecretCollection,
		"account":    c.WebhookSecretAccount,
	}
}

func decimalHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}
