package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment names accepted by EBAY_ENVIRONMENT
const (
	EnvironmentProduction = "production"
	EnvironmentSandbox    = "sandbox"
)

// Config holds runtime configuration
type Config struct {
	App         App
	Ebay        Ebay
	Storage     Storage
	Logging     Logging
	CORSOrigins []string
}

// App holds HTTP server settings
type App struct {
	Port       string
	Env        string
	SessionKey string
}

// Ebay holds marketplace credentials and listing defaults
type Ebay struct {
	ClientID            string
	ClientSecret        string
	RuName              string // registered redirect identifier
	Environment         string
	EncryptionKey       string // base64, 32 bytes
	MarketplaceID       string
	Currency            string
	CategoryTreeID      string
	FulfillmentPolicyID string
	PaymentPolicyID     string
	ReturnPolicyID      string
	MerchantLocationKey string
}

// Storage selects and configures the token store backend
type Storage struct {
	Backend       string // sqlite, redis or memory
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Logging holds logger settings
type Logging struct {
	Level  string
	Pretty bool
}

// Sandbox reports whether the sandbox marketplace should be used
func (e Ebay) Sandbox() bool {
	return e.Environment != EnvironmentProduction
}

// Production reports whether the app runs in production mode (secure cookies)
func (a App) Production() bool {
	return a.Env == EnvironmentProduction
}

// Load reads .env files (existing environment wins) and then the process
// environment through viper, applying defaults.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// Missing files are fine, the environment may be set directly
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	ruName := v.GetString("EBAY_RU_NAME")
	if ruName == "" {
		ruName = v.GetString("EBAY_REDIRECT_URI")
	}

	cfg := Config{
		App: App{
			Port:       v.GetString("PORT"),
			Env:        strings.ToLower(v.GetString("APP_ENV")),
			SessionKey: v.GetString("SESSION_KEY"),
		},
		Ebay: Ebay{
			ClientID:            v.GetString("EBAY_CLIENT_ID"),
			ClientSecret:        v.GetString("EBAY_CLIENT_SECRET"),
			RuName:              ruName,
			Environment:         strings.ToLower(v.GetString("EBAY_ENVIRONMENT")),
			EncryptionKey:       v.GetString("EBAY_ENCRYPTION_KEY"),
			MarketplaceID:       v.GetString("EBAY_MARKETPLACE_ID"),
			Currency:            v.GetString("EBAY_CURRENCY"),
			CategoryTreeID:      v.GetString("EBAY_CATEGORY_TREE_ID"),
			FulfillmentPolicyID: v.GetString("EBAY_FULFILLMENT_POLICY_ID"),
			PaymentPolicyID:     v.GetString("EBAY_PAYMENT_POLICY_ID"),
			ReturnPolicyID:      v.GetString("EBAY_RETURN_POLICY_ID"),
			MerchantLocationKey: v.GetString("EBAY_MERCHANT_LOCATION_KEY"),
		},
		Storage: Storage{
			Backend:       strings.ToLower(v.GetString("TOKEN_STORE")),
			DBPath:        v.GetString("DB_PATH"),
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
		},
		Logging: Logging{
			Level:  v.GetString("LOG_LEVEL"),
			Pretty: v.GetBool("LOG_PRETTY"),
		},
		CORSOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	switch cfg.Ebay.Environment {
	case EnvironmentProduction, EnvironmentSandbox:
	default:
		return Config{}, fmt.Errorf("invalid EBAY_ENVIRONMENT %q: expected %s or %s",
			cfg.Ebay.Environment, EnvironmentProduction, EnvironmentSandbox)
	}

	switch cfg.Storage.Backend {
	case "sqlite", "redis", "memory":
	default:
		return Config{}, fmt.Errorf("invalid TOKEN_STORE %q: expected sqlite, redis or memory", cfg.Storage.Backend)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("EBAY_ENVIRONMENT", EnvironmentSandbox)
	v.SetDefault("EBAY_MARKETPLACE_ID", "EBAY_DE")
	v.SetDefault("EBAY_CURRENCY", "EUR")
	v.SetDefault("EBAY_CATEGORY_TREE_ID", "77")
	v.SetDefault("TOKEN_STORE", "sqlite")
	v.SetDefault("DB_PATH", "ebay-listing.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
