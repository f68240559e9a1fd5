// Package config loads process settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	internal_storage "github.com/bayuaji732/data-prep-api/internal/storage"
	"github.com/bayuaji732/data-prep-api/pkg/backend"
	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string
	Version string

	// ledger and catalog database
	PSQLHost     string
	PSQLPort     int
	PSQLDatabase string
	PSQLUser     string
	PSQLPassword string
	PSQLSSLMode  string

	// staged uploads: fetched from StagedURL when set, read from LocalDir otherwise
	StagedURL      string
	LocalDir       string
	StagingRetries int

	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	// dataset and feature-group warehouse; an empty DSN reuses the ledger database
	WarehouseDriver  string
	WarehouseDSN     string
	OfflineWriteMode models.WriteMode

	HDFSNamenode     string
	HDFSUser         string
	TicketCachePath  string
	Krb5ConfPath     string
	ServicePrincipal string

	LogLevel    string
	LogFilePath string

	HTTPPort         string
	MaxFileSize      int64
	AllowedFileTypes []string

	Workers          int
	QueueSize        int
	BatchConcurrency int
	ParseTimeout     time.Duration
	WriteTimeout     time.Duration
}

var defaults = map[string]interface{}{
	"APP_NAME":           "Data Preparation API",
	"VERSION":            "1.0.0",
	"PSQL_HOST":          "localhost",
	"PSQL_PORT":          5432,
	"PSQL_SSLMODE":       "disable",
	"LOCAL_DIR":          "/tmp/dataprep",
	"STAGING_RETRIES":    3,
	"REDIS_HOST":         "localhost",
	"REDIS_PORT":         6379,
	"REDIS_DB":           0,
	"WAREHOUSE_DRIVER":   "postgres",
	"OFFLINE_WRITE_MODE": string(models.ReplaceWriteMode),
	"HDFS_NAMENODE":      "localhost:8020",
	"TICKET_CACHE_PATH":  "",
	"KRB5_CONFIG":        "/etc/krb5.conf",
	"HDFS_SPN":           "nn/_HOST",
	"LOG_LEVEL":          "INFO",
	"HTTP_PORT":          "8000",
	"MAX_FILE_SIZE":      100 * 1024 * 1024,
	"ALLOWED_FILE_TYPES": "csv,tsv,xls,xlsx,sav",
	"WORKERS":            0,
	"QUEUE_SIZE":         1024,
	"BATCH_CONCURRENCY":  8,
	"PARSE_TIMEOUT":      "5m",
	"WRITE_TIMEOUT":      "10m",
}

// Load reads .env files (missing ones are ignored), then the environment,
// falling back to defaults.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables already set
		_ = godotenv.Load(f)
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	mode, ok := models.ParseWriteMode(strings.ToLower(v.GetString("OFFLINE_WRITE_MODE")))
	if !ok || mode == models.UpsertWriteMode {
		return nil, errors.Errorf("invalid OFFLINE_WRITE_MODE %q", v.GetString("OFFLINE_WRITE_MODE"))
	}

	cfg := &Config{
		AppName:          v.GetString("APP_NAME"),
		Version:          v.GetString("VERSION"),
		PSQLHost:         v.GetString("PSQL_HOST"),
		PSQLPort:         v.GetInt("PSQL_PORT"),
		PSQLDatabase:     v.GetString("PSQL_DATABASE"),
		PSQLUser:         v.GetString("PSQL_USER"),
		PSQLPassword:     v.GetString("PSQL_PASSWORD"),
		PSQLSSLMode:      v.GetString("PSQL_SSLMODE"),
		StagedURL:        v.GetString("URL"),
		LocalDir:         v.GetString("LOCAL_DIR"),
		StagingRetries:   v.GetInt("STAGING_RETRIES"),
		RedisHost:        v.GetString("REDIS_HOST"),
		RedisPort:        v.GetInt("REDIS_PORT"),
		RedisDB:          v.GetInt("REDIS_DB"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		WarehouseDriver:  v.GetString("WAREHOUSE_DRIVER"),
		WarehouseDSN:     v.GetString("WAREHOUSE_DSN"),
		OfflineWriteMode: mode,
		HDFSNamenode:     v.GetString("HDFS_NAMENODE"),
		HDFSUser:         v.GetString("HDFS_USER"),
		TicketCachePath:  v.GetString("TICKET_CACHE_PATH"),
		Krb5ConfPath:     v.GetString("KRB5_CONFIG"),
		ServicePrincipal: v.GetString("HDFS_SPN"),
		LogLevel:         strings.ToUpper(v.GetString("LOG_LEVEL")),
		LogFilePath:      v.GetString("LOG_FILE_PATH"),
		HTTPPort:         v.GetString("HTTP_PORT"),
		MaxFileSize:      v.GetInt64("MAX_FILE_SIZE"),
		AllowedFileTypes: splitList(v.GetString("ALLOWED_FILE_TYPES")),
		Workers:          v.GetInt("WORKERS"),
		QueueSize:        v.GetInt("QUEUE_SIZE"),
		BatchConcurrency: v.GetInt("BATCH_CONCURRENCY"),
		ParseTimeout:     v.GetDuration("PARSE_TIMEOUT"),
		WriteTimeout:     v.GetDuration("WRITE_TIMEOUT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks settings that would otherwise fail on first use.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return errors.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	if !supportedDriver(c.WarehouseDriver) {
		return errors.Errorf("unsupported WAREHOUSE_DRIVER %q, want one of %s", c.WarehouseDriver, strings.Join(backend.Drivers(), ", "))
	}
	if c.MaxFileSize <= 0 {
		return errors.New("MAX_FILE_SIZE must be positive")
	}
	if len(c.AllowedFileTypes) == 0 {
		return errors.New("ALLOWED_FILE_TYPES is empty")
	}
	if c.ParseTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("PARSE_TIMEOUT and WRITE_TIMEOUT must be positive")
	}
	if c.Workers < 0 || c.QueueSize < 0 || c.BatchConcurrency < 0 || c.StagingRetries < 0 {
		return errors.New("WORKERS, QUEUE_SIZE, BATCH_CONCURRENCY and STAGING_RETRIES cannot be negative")
	}
	if c.StagedURL != "" {
		if u, err := url.Parse(c.StagedURL); err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Errorf("invalid URL %q", c.StagedURL)
		}
	}
	return nil
}

func supportedDriver(name string) bool {
	for _, d := range backend.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

// DatabaseURL is the Postgres connection string for the ledger and catalog.
func (c *Config) DatabaseURL() string {
	return internal_storage.ConnString(c.PSQLHost, c.PSQLPort, c.PSQLUser, c.PSQLPassword, c.PSQLDatabase, c.PSQLSSLMode)
}

// WarehouseSource returns the driver and DSN of the dataset warehouse.
func (c *Config) WarehouseSource() (string, string) {
	if c.WarehouseDSN != "" {
		return c.WarehouseDriver, c.WarehouseDSN
	}
	return "postgres", c.DatabaseURL()
}

// RedisAddr is host:port of the online store.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
