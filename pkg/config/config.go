package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Blob        BlobConfig
	Engine      EngineConfig
	Webhook     WebhookConfig
	Reconcile   ReconcileConfig
	CallbackURL string
}

type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type StorageConfig struct {
	Path string
}

type BlobConfig struct {
	BaseURL     string
	Container   string
	SigningKey  string
	URLValidity time.Duration
	SkewGrace   time.Duration
}

type EngineConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
}

type WebhookConfig struct {
	Secret string
}

type ReconcileConfig struct {
	Interval      time.Duration
	Grace         time.Duration
	MaxBackoff    time.Duration
	Workers       int
	WriteAttempts int
}

// Load reads configuration from the environment, with a .env file as
// an optional source. Every tuning value has a default so the server
// starts with nothing but the engine key and webhook secret set.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Config: skipping .env: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Address:      envString("SERVER_ADDRESS", ":8080"),
			ReadTimeout:  envDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: envDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Path: envString("STORAGE_PATH", "./data"),
		},
		Blob: BlobConfig{
			BaseURL:     envString("BLOB_BASE_URL", "http://localhost:8081"),
			Container:   envString("BLOB_CONTAINER", "uploads"),
			SigningKey:  envString("BLOB_SIGNING_KEY", ""),
			URLValidity: envDuration("SIGNED_URL_VALIDITY", time.Hour),
			SkewGrace:   envDuration("SIGNED_URL_SKEW_GRACE", 5*time.Minute),
		},
		Engine: EngineConfig{
			BaseURL:     envString("ENGINE_BASE_URL", "https://api.example-speech.com/v2"),
			APIKey:      envString("ENGINE_API_KEY", ""),
			Timeout:     envDuration("ENGINE_TIMEOUT", 30*time.Second),
			MaxAttempts: envInt("ENGINE_MAX_ATTEMPTS", 3),
			RetryBase:   envDuration("ENGINE_RETRY_BASE", 500*time.Millisecond),
		},
		Webhook: WebhookConfig{
			Secret: envString("WEBHOOK_SECRET", ""),
		},
		Reconcile: ReconcileConfig{
			Interval:      envDuration("RECONCILE_INTERVAL", 5*time.Minute),
			Grace:         envDuration("RECONCILE_GRACE", 30*time.Minute),
			MaxBackoff:    envDuration("RECONCILE_MAX_BACKOFF", time.Hour),
			Workers:       envInt("RECONCILE_WORKERS", 4),
			WriteAttempts: envInt("RECONCILE_WRITE_ATTEMPTS", 3),
		},
		CallbackURL: envString("CALLBACK_URL", "http://localhost:8080/webhook"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Config: invalid %s=%q, using default %s", key, v, def)
		return def
	}
	return d
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Config: invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}
