package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Backend      BackendConfig
	Provisioning ProvisioningConfig
	Quota        QuotaConfig
	RateLimit    RateLimitConfig
}

// BackendConfig selects and configures the infrastructure backend.
type BackendConfig struct {
	Type string // "openstack" or "fake"

	AuthURL     string
	Region      string
	Username    string
	Password    string
	ProjectName string
	DomainName  string
	NetworkID   string
	ImageRef    string
}

// ProvisioningConfig tunes the async task machinery.
type ProvisioningConfig struct {
	Workers            int
	QueueDepth         int
	ThrottlePerBackend int
}

type QuotaConfig struct {
	AlertThreshold float64
}

type RateLimitConfig struct {
	Enabled        bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ProvisionRate  float64
	ProvisionBurst int
}

const (
	BackendOpenStack = "openstack"
	BackendFake      = "fake"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "conductor"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "conductor"),
		DBUser:            getenv("DATABASE_USER", "conductor"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", 1800),

		Backend: BackendConfig{
			Type:        normalizeBackendType(getenv("BACKEND_TYPE", BackendFake)),
			AuthURL:     strings.TrimSpace(getenv("OS_AUTH_URL", "")),
			Region:      getenv("OS_REGION_NAME", ""),
			Username:    getenv("OS_USERNAME", ""),
			Password:    getenv("OS_PASSWORD", ""),
			ProjectName: getenv("OS_PROJECT_NAME", ""),
			DomainName:  getenv("OS_USER_DOMAIN_NAME", "Default"),
			NetworkID:   getenv("OS_NETWORK_ID", ""),
			ImageRef:    getenv("OS_IMAGE_REF", ""),
		},
		Provisioning: ProvisioningConfig{
			Workers:            getenvInt("PROVISIONING_WORKERS", 4),
			QueueDepth:         getenvInt("PROVISIONING_QUEUE_DEPTH", 256),
			ThrottlePerBackend: getenvInt("PROVISIONING_THROTTLE_PER_BACKEND", 4),
		},
		Quota: QuotaConfig{
			AlertThreshold: getenvFloat("QUOTA_ALERT_THRESHOLD", 0.8),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:      strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword:  strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:        getenvInt("RATE_LIMIT_REDIS_DB", 0),
			ProvisionRate:  getenvFloat("RATE_LIMIT_PROVISION_RATE", 1),
			ProvisionBurst: getenvInt("RATE_LIMIT_PROVISION_BURST", 10),
		},
	}
}

func normalizeBackendType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case BackendOpenStack:
		return BackendOpenStack
	default:
		return BackendFake
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
