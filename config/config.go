package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	PolicyFlat   = "flat"
	PolicyScaled = "scaled"
)

type DatabaseConfig struct {
	Driver      string
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	SSLMode     string
	SQLitePath  string
	LockTimeout time.Duration
}

type Config struct {
	ServerPort         string
	CORSAllowedOrigins []string
	LogLevel           string

	Database DatabaseConfig

	FirebaseCredentialsPath string
	CreditHistoryCollection string
	AuthDevMode             bool
	// Firebase uids that are given the admin role on login.
	AdminUIDs []string

	AMapKey string

	SweepInterval time.Duration
	GrabWindow    time.Duration
	CreditPolicy  string
}

// Load reads .env from the working directory when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// LoadFile is Load with an explicit env file; the file must exist.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       os.Getenv("DB_USER"),
			Password:   os.Getenv("DB_PASSWORD"),
			Name:       getEnv("DB_NAME", "courier"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("SQLITE_PATH", "courier.db"),
		},
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		CreditHistoryCollection: getEnv("CREDIT_HISTORY_COLLECTION", "credit_history"),
		AMapKey:                 os.Getenv("AMAP_WEB_SERVICE_KEY"),
		CreditPolicy:            strings.ToLower(getEnv("CREDIT_POLICY", PolicyFlat)),
	}

	cfg.CORSAllowedOrigins = getList("CORS_ALLOWED_ORIGINS", "*")
	cfg.AdminUIDs = getList("ADMIN_UIDS", "")

	var err error
	if cfg.Database.LockTimeout, err = getDuration("DB_LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	sweepSeconds, err := getInt("SWEEP_INTERVAL_SECONDS", 3600)
	if err != nil {
		return nil, err
	}
	cfg.SweepInterval = time.Duration(sweepSeconds) * time.Second
	grabMinutes, err := getInt("GRAB_WINDOW_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	cfg.GrabWindow = time.Duration(grabMinutes) * time.Minute
	if cfg.AuthDevMode, err = getBool("AUTH_DEV_MODE", false); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be one of postgres, sqlite, memory (got %q)", c.Database.Driver)
	}
	switch c.CreditPolicy {
	case PolicyFlat, PolicyScaled:
	default:
		return fmt.Errorf("CREDIT_POLICY must be flat or scaled (got %q)", c.CreditPolicy)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.GrabWindow <= 0 {
		return fmt.Errorf("GRAB_WINDOW_MINUTES must be positive")
	}
	return nil
}

// PostgresDSN builds the lib/pq connection string.
func (d DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// getList splits a comma separated value, dropping empty items.
func getList(key, fallback string) []string {
	var items []string
	for _, item := range strings.Split(getEnv(key, fallback), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
