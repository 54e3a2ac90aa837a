package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Storage drivers.
const (
	DriverMongoDB = "mongodb"
	DriverMemory  = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Attachments AttachmentsConfig
	Sheets      SheetsConfig
	Scheduler   SchedulerConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port         string        `envconfig:"APP_PORT" default:"8080"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
	ReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Driver       string        `envconfig:"STORAGE_DRIVER" default:"mongodb"`
	MongoURI     string        `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDBName  string        `envconfig:"MONGODB_DB_NAME" default:"lounge"`
	MongoTimeout time.Duration `envconfig:"MONGODB_TIMEOUT" default:"10s"`
}

// RedisConfig backs the settlement queue and the scheduler locks. Empty Addr disables both.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"5"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// AttachmentsConfig points at the external attachment service. Empty BaseURL links
// attachments in the record store instead.
type AttachmentsConfig struct {
	BaseURL string        `envconfig:"ATTACHMENT_SERVICE_URL"`
	Token   string        `envconfig:"ATTACHMENT_SERVICE_TOKEN"`
	Timeout time.Duration `envconfig:"ATTACHMENT_SERVICE_TIMEOUT" default:"10s"`
}

// SheetsConfig contains configuration required to mirror stock movements to Google Sheets.
type SheetsConfig struct {
	CredentialsPath string `envconfig:"GOOGLE_SHEETS_CREDENTIALS_PATH"`
	SpreadsheetID   string `envconfig:"GOOGLE_SHEET_DATABASE_ID"`
	MovementsRange  string `envconfig:"GOOGLE_SHEET_MOVEMENTS_RANGE" default:"Movements!A:K"`
}

// Enabled reports whether the spreadsheet mirror is configured.
func (c SheetsConfig) Enabled() bool { return c.CredentialsPath != "" && c.SpreadsheetID != "" }

// SchedulerConfig holds the reconciliation job settings.
type SchedulerConfig struct {
	ReconcileCron      string        `envconfig:"RECONCILE_CRON" default:"*/5 * * * *"`
	ValuationAuditCron string        `envconfig:"VALUATION_AUDIT_CRON" default:"0 3 * * *"`
	PendingGrace       time.Duration `envconfig:"PENDING_GRACE" default:"2m"`
	JobTimeout         time.Duration `envconfig:"SCHEDULER_JOB_TIMEOUT" default:"2m"`
	Timezone           string        `envconfig:"TIMEZONE" default:"Africa/Conakry"`
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are fine when configuration comes from the environment.
		_ = godotenv.Load()
	}

	cfg := &Config{}
	sections := []any{&cfg.Server, &cfg.Storage, &cfg.Redis, &cfg.Attachments, &cfg.Sheets, &cfg.Scheduler}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverMongoDB:
		if c.Storage.MongoURI == "" {
			return errors.New("MONGODB_URI must be provided")
		}
		if c.Storage.MongoDBName == "" {
			return errors.New("MONGODB_DB_NAME must be provided")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverMongoDB, DriverMemory, c.Storage.Driver)
	}

	if (c.Sheets.CredentialsPath == "") != (c.Sheets.SpreadsheetID == "") {
		return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH and GOOGLE_SHEET_DATABASE_ID must be provided together")
	}

	if c.Attachments.Token != "" && c.Attachments.BaseURL == "" {
		return errors.New("ATTACHMENT_SERVICE_URL must be provided with ATTACHMENT_SERVICE_TOKEN")
	}

	switch {
	case c.Scheduler.ReconcileCron == "":
		return errors.New("RECONCILE_CRON must be provided")
	case c.Scheduler.ValuationAuditCron == "":
		return errors.New("VALUATION_AUDIT_CRON must be provided")
	case c.Scheduler.PendingGrace <= 0:
		return errors.New("PENDING_GRACE must be positive")
	}

	return nil
}
