package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (gate scan feed)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Credential verification. When CredentialPublicKey is set the device
	// verifies issuer signatures asymmetrically and carries no secret.
	CredentialSecret    string
	CredentialPublicKey string

	// Device configuration. A non-empty DeviceID switches the binary into
	// gate-device mode: local scan API plus background sync against
	// CentralURL instead of the central admission server.
	DeviceID        string
	DeviceStorePath string
	CentralURL      string

	// Manual override operators, operator id -> bcrypt PIN hash.
	OverridePINs map[string]string

	// Claim submission
	ClaimTimeout      time.Duration
	ScanRatePerMinute int

	// Sync reconciler
	SyncInterval    time.Duration
	SyncBackoffBase time.Duration
	SyncBackoffCap  time.Duration
	SyncMaxAttempts int
	SyncRetention   time.Duration

	// Snapshot cache
	SnapshotTTL time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server (gate API listener; PocketBase serves on its own port)
		Port:        getEnv("PORT", "8081"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Credentials
		CredentialSecret:    getEnv("CREDENTIAL_SECRET", ""),
		CredentialPublicKey: getEnv("CREDENTIAL_PUBLIC_KEY", ""),

		// Device
		DeviceID:        getEnv("DEVICE_ID", ""),
		DeviceStorePath: getEnv("DEVICE_STORE_PATH", "gate_device.db"),
		CentralURL:      getEnv("CENTRAL_URL", "http://localhost:8081"),
		OverridePINs:    getEnvAsMap("OVERRIDE_PINS"),

		// Claims
		ClaimTimeout:      getEnvAsDuration("CLAIM_TIMEOUT", "3s"),
		ScanRatePerMinute: getEnvAsInt("SCAN_RATE_PER_MINUTE", 120),

		// Sync
		SyncInterval:    getEnvAsDuration("SYNC_INTERVAL", "15s"),
		SyncBackoffBase: getEnvAsDuration("SYNC_BACKOFF_BASE", "1s"),
		SyncBackoffCap:  getEnvAsDuration("SYNC_BACKOFF_CAP", "60s"),
		SyncMaxAttempts: getEnvAsInt("SYNC_MAX_ATTEMPTS", 10),
		SyncRetention:   getEnvAsDuration("SYNC_RETENTION", "168h"),

		// Snapshot cache
		SnapshotTTL: getEnvAsDuration("SNAPSHOT_TTL", "30s"),

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

// getEnvAsMap parses "key1:value1;key2:value2" pairs.
func getEnvAsMap(key string) map[string]string {
	result := map[string]string{}
	for _, pair := range strings.Split(getEnv(key, ""), ";") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) == 2 && parts[0] != "" {
			result[parts[0]] = parts[1]
		}
	}
	return result
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
