package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	MongoURI              string
	MongoDatabase         string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	PINLookupTTLSeconds   int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminEmail            string
	AdminPassword         string
	CurrencySymbol        string
	ExportTimezone        string
	TxMaxAttempts         int
	TxTimeoutSeconds      int
}

// Load reads the environment, after merging a .env file from the working
// directory if there is one. Variables already set win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] WARN: ignoring unreadable .env file: %v", err)
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		MongoURI:              os.Getenv("MONGO_URI"),
		MongoDatabase:         getEnv("MONGO_DATABASE", "stall_manager"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		PINLookupTTLSeconds:   positiveInt("PIN_LOOKUP_TTL_SECONDS", 60),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		AdminEmail:            strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))),
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
		CurrencySymbol:        getEnv("CURRENCY_SYMBOL", "£"),
		ExportTimezone:        getEnv("EXPORT_TIMEZONE", "Europe/London"),
		TxMaxAttempts:         positiveInt("TX_MAX_ATTEMPTS", 5),
		TxTimeoutSeconds:      positiveInt("TX_TIMEOUT_SECONDS", 10),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Backend names the store selected by the connection settings: postgres wins
// over mongo, and neither means the in-memory store.
func (c Config) Backend() string {
	switch {
	case c.DatabaseURL != "":
		return BackendPostgres
	case c.MongoURI != "":
		return BackendMongo
	default:
		return BackendMemory
	}
}

func (c Config) ExportLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ExportTimezone)
	if err != nil {
		return nil, fmt.Errorf("EXPORT_TIMEZONE %q: %w", c.ExportTimezone, err)
	}
	return loc, nil
}

func (c Config) PINLookupTTL() time.Duration {
	return time.Duration(c.PINLookupTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) TxTimeout() time.Duration {
	return time.Duration(c.TxTimeoutSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
