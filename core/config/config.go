package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// DefaultSecretKey is the placeholder shipped for local runs. It encrypts
// automation secrets, so production refuses to start with it.
const DefaultSecretKey = "changeme_please_change_me_in_prod_12345"

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Paths      PathsConfig
	Database   DatabaseConfig
	Evolution  EvolutionConfig
	Webhook    WebhookConfig
	Reconciler ReconcilerConfig
	WorkerPool WorkerPoolConfig
	Security   SecurityConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasicAuth          []string
	BasePath           string
	TrustedProxies     []string
	BaseUrl            string
	CorsAllowedOrigins []string
	ServerID           string
}

type PathsConfig struct {
	Storages string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	SSLMode         string
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

// EvolutionConfig points at the Evolution API gateway that owns the WhatsApp instances.
type EvolutionConfig struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// WebhookConfig describes how the provider reaches us back.
type WebhookConfig struct {
	PublicURL         string // e.g. https://crm.example.com/webhook/evolution
	ByEvents          bool
	SecretGracePeriod time.Duration
	DedupTTL          time.Duration
}

type ReconcilerConfig struct {
	PollInterval       time.Duration
	QRFallbackTimeout  time.Duration
	QRFallbackInterval time.Duration
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

type SecurityConfig struct {
	SecretKey string
}

// Global provides access to the loaded configuration for the cobra commands.
var Global *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_port", "3000")
	v.SetDefault("app_debug", false)
	v.SetDefault("app_env", "development")
	v.SetDefault("app_base_path", "")
	v.SetDefault("app_base_url", "http://localhost:3000")
	v.SetDefault("app_cors_allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("app_base_dir", "storages")

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_user", "postgres")
	v.SetDefault("db_sslmode", "disable")

	v.SetDefault("valkey_enabled", false)
	v.SetDefault("valkey_address", "localhost:6379")
	v.SetDefault("valkey_db", 0)
	v.SetDefault("valkey_key_prefix", "azconnect:")

	v.SetDefault("evolution_base_url", "http://localhost:8080")
	v.SetDefault("evolution_timeout", "15s")
	v.SetDefault("evolution_insecure_skip_verify", false)

	v.SetDefault("webhook_by_events", false)
	v.SetDefault("webhook_secret_grace_period", "24h")
	v.SetDefault("webhook_dedup_ttl", "24h")

	v.SetDefault("reconciler_poll_interval", "5s")
	v.SetDefault("reconciler_qr_fallback_timeout", "3s")
	v.SetDefault("reconciler_qr_fallback_interval", "20s")

	v.SetDefault("message_worker_pool_size", 20)
	v.SetDefault("message_worker_queue_size", 1000)

	v.SetDefault("app_secret_key", DefaultSecretKey)
}

// LoadConfig loads configuration from the environment (and a .env file when present).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	baseDir := v.GetString("app_base_dir")

	appCfg := AppConfig{
		Version:            "v1.0.0",
		Port:               v.GetString("app_port"),
		Debug:              v.GetBool("app_debug") || v.GetBool("debug"),
		Environment:        v.GetString("app_env"),
		BasicAuth:          splitList(v.GetString("app_basic_auth")),
		BasePath:           v.GetString("app_base_path"),
		TrustedProxies:     splitList(v.GetString("app_trusted_proxies")),
		BaseUrl:            v.GetString("app_base_url"),
		CorsAllowedOrigins: splitList(v.GetString("app_cors_allowed_origins")),
		ServerID:           v.GetString("server_id"),
	}

	dbCfg := DatabaseConfig{
		Driver:          v.GetString("db_driver"),
		Host:            v.GetString("db_host"),
		Port:            v.GetInt("db_port"),
		User:            v.GetString("db_user"),
		Password:        v.GetString("db_password"),
		Name:            v.GetString("db_name"),
		SSLMode:         v.GetString("db_sslmode"),
		ValkeyEnabled:   v.GetBool("valkey_enabled"),
		ValkeyAddress:   v.GetString("valkey_address"),
		ValkeyPassword:  v.GetString("valkey_password"),
		ValkeyDB:        v.GetInt("valkey_db"),
		ValkeyKeyPrefix: v.GetString("valkey_key_prefix"),
	}
	if dbCfg.Name == "" {
		if dbCfg.Driver == "postgres" {
			dbCfg.Name = "postgres"
		} else {
			dbCfg.Name = filepath.Join(baseDir, "connect.db")
		}
	}

	webhookURL := v.GetString("webhook_public_url")
	if webhookURL == "" {
		webhookURL = strings.TrimRight(appCfg.BaseUrl, "/") + appCfg.BasePath + "/webhook/evolution"
	}

	cfg := &Config{
		App:      appCfg,
		Paths:    PathsConfig{Storages: baseDir},
		Database: dbCfg,
		Evolution: EvolutionConfig{
			BaseURL:            strings.TrimRight(v.GetString("evolution_base_url"), "/"),
			APIKey:             v.GetString("evolution_api_key"),
			Timeout:            v.GetDuration("evolution_timeout"),
			InsecureSkipVerify: v.GetBool("evolution_insecure_skip_verify"),
		},
		Webhook: WebhookConfig{
			PublicURL:         webhookURL,
			ByEvents:          v.GetBool("webhook_by_events"),
			SecretGracePeriod: v.GetDuration("webhook_secret_grace_period"),
			DedupTTL:          v.GetDuration("webhook_dedup_ttl"),
		},
		Reconciler: ReconcilerConfig{
			PollInterval:       v.GetDuration("reconciler_poll_interval"),
			QRFallbackTimeout:  v.GetDuration("reconciler_qr_fallback_timeout"),
			QRFallbackInterval: v.GetDuration("reconciler_qr_fallback_interval"),
		},
		WorkerPool: WorkerPoolConfig{
			Size:      v.GetInt("message_worker_pool_size"),
			QueueSize: v.GetInt("message_worker_queue_size"),
		},
		Security: SecurityConfig{SecretKey: v.GetString("app_secret_key")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Global = cfg
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Evolution.BaseURL == "" {
		return fmt.Errorf("EVOLUTION_BASE_URL is required")
	}
	if c.Reconciler.PollInterval <= 0 || c.Reconciler.QRFallbackInterval <= 0 {
		return fmt.Errorf("reconciler intervals must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Security.SecretKey == DefaultSecretKey {
		if c.IsProduction() {
			return fmt.Errorf("APP_SECRET_KEY must be changed from its default in production")
		}
		logrus.Warn("[CONFIG] APP_SECRET_KEY is the built-in default; set your own before going to production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.App.Environment))
	return env == "production" || env == "prod"
}
