package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port        string
	DatabaseURL string
	StoreDriver string
	SeedFile    string
	Location    *time.Location
	LogLevel    slog.Level

	NotifyProvider     string
	NotifyWebhookURL   string
	NotifyWebhookToken string
	NotifyKafkaBrokers string
	NotifyKafkaTopic   string
	NotifyTimeout      time.Duration

	RateLimitPerMinute     int
	RateLimitBurst         int
	UserRateLimitPerMinute int
	UserRateLimitBurst     int
	// TrustedProxies holds the addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string
}

// LoadDotEnv reads .env from the working directory when present.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if driver != DriverMemory {
		driver = DriverPostgres
	}

	provider := os.Getenv("NOTIFY_PROVIDER")
	if provider == "" {
		provider = "log"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		StoreDriver: driver,
		SeedFile:    os.Getenv("SEED_FILE"),
		Location:    readLocation("BUSINESS_TIMEZONE"),
		LogLevel:    readLevel("LOG_LEVEL", slog.LevelInfo),

		NotifyProvider:     provider,
		NotifyWebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookToken: os.Getenv("NOTIFY_WEBHOOK_TOKEN"),
		NotifyKafkaBrokers: os.Getenv("NOTIFY_KAFKA_BROKERS"),
		NotifyKafkaTopic:   os.Getenv("NOTIFY_KAFKA_TOPIC"),
		NotifyTimeout:      readDurationSeconds("NOTIFY_TIMEOUT_SECONDS", 5),

		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 30),
		UserRateLimitPerMinute: readInt("USER_RATE_LIMIT_PER_MIN", 60),
		UserRateLimitBurst:     readInt("USER_RATE_LIMIT_BURST", 20),
		TrustedProxies:         readList("TRUSTED_PROXIES"),
	}
}

// readLocation falls back to the host zone when unset and to UTC when the
// name cannot be loaded.
func readLocation(key string) *time.Location {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" || raw == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		return time.UTC
	}
	return loc
}

func readLevel(key string, fallback slog.Level) slog.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}
	return level
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
