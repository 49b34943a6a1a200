package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMongoDB  = "mongodb"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Ledger    LedgerConfig
	Reporting ReportingConfig
	Sheets    SheetsConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port       string
	Env        string
	CORSOrigin string
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver      string
	MongoDB     MongoDBConfig
	PostgresDSN string
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// LedgerConfig tunes the stock ledger engine.
type LedgerConfig struct {
	MaxApplyAttempts int
}

// ReportingConfig holds scheduler-related settings.
type ReportingConfig struct {
	CronSchedule      string
	Timezone          string
	LowStockThreshold int64
}

// SheetsConfig contains configuration required to interact with Google Sheets.
// Export is disabled when both fields are empty.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
}

// Enabled reports whether reports are exported to a spreadsheet.
func (c SheetsConfig) Enabled() bool {
	return c.CredentialsPath != "" && c.SpreadsheetID != ""
}

// WebhookConfig configures the report notification webhook.
type WebhookConfig struct {
	URL   string
	Token string
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
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

	maxAttempts, err := getenvInt("LEDGER_MAX_APPLY_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	threshold, err := getenvInt("LOW_STOCK_THRESHOLD", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:       getenvWithDefault("APP_PORT", "8080"),
			Env:        getenvWithDefault("APP_ENV", "production"),
			CORSOrigin: getenvWithDefault("CORS_ORIGIN", "*"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getenvWithDefault("STORE_DRIVER", DriverMongoDB)),
			MongoDB: MongoDBConfig{
				URI:    getenvWithDefault("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
				DBName: getenvWithDefault("MONGODB_DB_NAME", "stockledger"),
			},
			PostgresDSN: os.Getenv("POSTGRES_DSN"),
		},
		Ledger: LedgerConfig{
			MaxApplyAttempts: int(maxAttempts),
		},
		Reporting: ReportingConfig{
			CronSchedule:      getenvWithDefault("REPORT_CRON_SCHEDULE", "0 20 * * *"),
			Timezone:          getenvWithDefault("TIMEZONE", "UTC"),
			LowStockThreshold: threshold,
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_DATABASE_ID"),
		},
		Webhook: WebhookConfig{
			URL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
			Token: os.Getenv("NOTIFY_WEBHOOK_TOKEN"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  getenvWithDefault("SERVICE_NAME", "stockledger"),
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
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

	switch c.Store.Driver {
	case DriverMongoDB:
		if c.Store.MongoDB.URI == "" {
			return errors.New("MONGODB_URI must be provided")
		}
		if c.Store.MongoDB.DBName == "" {
			return errors.New("MONGODB_DB_NAME must be provided")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN must be provided when STORE_DRIVER=postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of mongodb, postgres, memory: got %q", c.Store.Driver)
	}

	if c.Ledger.MaxApplyAttempts < 1 {
		return errors.New("LEDGER_MAX_APPLY_ATTEMPTS must be at least 1")
	}

	if c.Reporting.CronSchedule == "" {
		return errors.New("REPORT_CRON_SCHEDULE must be provided")
	}

	if _, err := time.LoadLocation(c.Reporting.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE is invalid: %w", err)
	}

	if c.Reporting.LowStockThreshold < 0 {
		return errors.New("LOW_STOCK_THRESHOLD must not be negative")
	}

	if (c.Sheets.CredentialsPath == "") != (c.Sheets.SpreadsheetID == "") {
		return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH and GOOGLE_SHEET_DATABASE_ID must be provided together")
	}

	if c.Webhook.Token != "" && c.Webhook.URL == "" {
		return errors.New("NOTIFY_WEBHOOK_URL must be provided when NOTIFY_WEBHOOK_TOKEN is set")
	}

	return nil
}

// Location returns the reporting time zone. Validate guarantees it loads.
func (c ReportingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
