/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the entitlement service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	StripeSecretKey          string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret      string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeCollectionPriceID  string `mapstructure:"STRIPE_COLLECTION_PRICE_ID"`
	FirebaseProjectID        string `mapstructure:"FIREBASE_PROJECT_ID"`
	AuthCertsURL             string `mapstructure:"AUTH_CERTS_URL"`
	CatalogPath              string `mapstructure:"CATALOG_PATH"`
	AllowedOrigins           string `mapstructure:"ALLOWED_ORIGINS"`
	CheckoutSuccessURL       string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL        string `mapstructure:"CHECKOUT_CANCEL_URL"`
	EntitlementCacheTTLMin   int    `mapstructure:"ENTITLEMENT_CACHE_TTL_MINUTES"`
	WebhookDedupTTLMin       int    `mapstructure:"WEBHOOK_DEDUP_TTL_MINUTES"`
	EntitlementEventsEnabled bool   `mapstructure:"ENTITLEMENT_EVENTS_ENABLED"`
}

// IsLiveMode reports whether the configured Stripe key is a live-mode key.
func (c Config) IsLiveMode() bool {
	return strings.HasPrefix(c.StripeSecretKey, "sk_live_")
}

// AllowedOriginList splits the comma-separated ALLOWED_ORIGINS value.
func (c Config) AllowedOriginList() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("CATALOG_PATH", "catalog.json")
	viper.SetDefault("CHECKOUT_SUCCESS_URL", "bookin://purchase-success?session_id={CHECKOUT_SESSION_ID}")
	viper.SetDefault("CHECKOUT_CANCEL_URL", "bookin://purchase-cancelled")
	viper.SetDefault("ENTITLEMENT_CACHE_TTL_MINUTES", 5)
	viper.SetDefault("WEBHOOK_DEDUP_TTL_MINUTES", 60)
	viper.SetDefault("ENTITLEMENT_EVENTS_ENABLED", true)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("STRIPE_COLLECTION_PRICE_ID")
	_ = viper.BindEnv("FIREBASE_PROJECT_ID")
	_ = viper.BindEnv("AUTH_CERTS_URL")
	_ = viper.BindEnv("CATALOG_PATH")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_CANCEL_URL")
	_ = viper.BindEnv("ENTITLEMENT_CACHE_TTL_MINUTES")
	_ = viper.BindEnv("WEBHOOK_DEDUP_TTL_MINUTES")
	_ = viper.BindEnv("ENTITLEMENT_EVENTS_ENABLED")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	// Platform-provided PORT wins over SERVER_PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StripeSecretKey = strings.TrimSpace(config.StripeSecretKey)
	config.StripeWebhookSecret = strings.TrimSpace(config.StripeWebhookSecret)
	config.RedisURL = strings.TrimSpace(config.RedisURL)

	if config.StripeSecretKey == "" {
		log.Printf("level=warn component=config msg=\"STRIPE_SECRET_KEY is not set; checkout endpoints will fail\"")
	}
	if config.StripeWebhookSecret == "" {
		log.Printf("level=warn component=config msg=\"STRIPE_WEBHOOK_SECRET is not set; webhook deliveries will be rejected\"")
	}

	if config.EntitlementCacheTTLMin <= 0 {
		log.Printf("level=warn component=config msg=\"invalid entitlement cache ttl; using default\" minutes=%d", config.EntitlementCacheTTLMin)
		config.EntitlementCacheTTLMin = 5
	}
	if config.WebhookDedupTTLMin <= 0 {
		config.WebhookDedupTTLMin = 60
	}

	return
}
