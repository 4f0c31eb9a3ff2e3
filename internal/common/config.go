package common

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. INVOICE_ETL_STORE_DRIVER.
const EnvPrefix = "INVOICE_ETL_"

// Config holds all application configuration
type Config struct {
	Input   InputConfig   `yaml:"input"`
	Store   StoreConfig   `yaml:"store"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Extract ExtractConfig `yaml:"extract"`
	Log     LogConfig     `yaml:"log"`
}

// InputConfig selects the documents to ingest
type InputConfig struct {
	Dir        string `yaml:"dir"`
	SkipHidden bool   `yaml:"skip_hidden"`
	Recursive  bool   `yaml:"recursive"` // descend into subdirectories
}

// StoreConfig holds durable store configuration
type StoreConfig struct {
	Driver string `yaml:"driver"` // json | sqlite | postgres
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`

	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// IngestConfig holds batch orchestration configuration
type IngestConfig struct {
	Workers     int           `yaml:"workers"`
	FileTimeout time.Duration `yaml:"file_timeout"`
	Sequential  bool          `yaml:"sequential"`
}

// ExtractConfig holds document loading and cell parsing configuration
type ExtractConfig struct {
	Backend                 string `yaml:"backend"` // native | pdftotext
	Pdftotext               string `yaml:"pdftotext"`
	MaxPages                int    `yaml:"max_pages"`
	StripThousandsSeparator bool   `yaml:"strip_thousands_separator"`
	DecimalComma            bool   `yaml:"decimal_comma"`
}

// LogConfig holds the operational log configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig is the configuration used when nothing overrides it
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			Dir:        "./invoices",
			SkipHidden: true,
		},
		Store: StoreConfig{
			Driver:          "json",
			Path:            "database.json",
			MaxConns:        10,
			MinConns:        0,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Ingest: IngestConfig{
			Workers: runtime.NumCPU(),
		},
		Extract: ExtractConfig{
			Backend:                 "native",
			Pdftotext:               "pdftotext",
			StripThousandsSeparator: true,
			DecimalComma:            true,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			File:       "logs/invoice-etl.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// LoadConfig layers defaults, the optional YAML file at path, a .env file
// and INVOICE_ETL_* environment variables, in that order. A missing .env is
// not an error; a missing YAML file is only an error when path was given.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, ConfigError("read config file "+path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, ConfigError("parse config file "+path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, ConfigError("load .env", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Input.Dir = getEnv("INPUT_DIR", c.Input.Dir)
	c.Input.SkipHidden = getEnvAsBool("INPUT_SKIP_HIDDEN", c.Input.SkipHidden)
	c.Input.Recursive = getEnvAsBool("INPUT_RECURSIVE", c.Input.Recursive)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnv("STORE_PATH", c.Store.Path)
	c.Store.DSN = getEnv("STORE_DSN", c.Store.DSN)
	c.Store.MaxConns = getEnvAsInt32("STORE_MAX_CONNS", c.Store.MaxConns)
	c.Store.MinConns = getEnvAsInt32("STORE_MIN_CONNS", c.Store.MinConns)
	c.Store.MaxConnLifetime = getEnvAsDuration("STORE_MAX_CONN_LIFETIME", c.Store.MaxConnLifetime)
	c.Store.MaxConnIdleTime = getEnvAsDuration("STORE_MAX_CONN_IDLE_TIME", c.Store.MaxConnIdleTime)
	c.Store.DialTimeout = getEnvAsDuration("STORE_DIAL_TIMEOUT", c.Store.DialTimeout)
	c.Store.StatementTimeout = getEnvAsDuration("STORE_STATEMENT_TIMEOUT", c.Store.StatementTimeout)

	c.Ingest.Workers = getEnvAsInt("INGEST_WORKERS", c.Ingest.Workers)
	c.Ingest.FileTimeout = getEnvAsDuration("INGEST_FILE_TIMEOUT", c.Ingest.FileTimeout)
	c.Ingest.Sequential = getEnvAsBool("INGEST_SEQUENTIAL", c.Ingest.Sequential)

	c.Extract.Backend = getEnv("EXTRACT_BACKEND", c.Extract.Backend)
	c.Extract.Pdftotext = getEnv("EXTRACT_PDFTOTEXT", c.Extract.Pdftotext)
	c.Extract.MaxPages = getEnvAsInt("EXTRACT_MAX_PAGES", c.Extract.MaxPages)
	c.Extract.StripThousandsSeparator = getEnvAsBool("EXTRACT_STRIP_THOUSANDS_SEPARATOR", c.Extract.StripThousandsSeparator)
	c.Extract.DecimalComma = getEnvAsBool("EXTRACT_DECIMAL_COMMA", c.Extract.DecimalComma)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	c.Log.MaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", c.Log.MaxSizeMB)
	c.Log.MaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", c.Log.MaxBackups)
	c.Log.MaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", c.Log.MaxAgeDays)
	c.Log.Compress = getEnvAsBool("LOG_COMPRESS", c.Log.Compress)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Input.Dir) == "" {
		return ConfigErrorf("input.dir is required")
	}
	switch strings.ToLower(c.Store.Driver) {
	case "json", "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return ConfigErrorf("store.path is required for the %s driver", c.Store.Driver)
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return ConfigErrorf("store.dsn is required for the postgres driver")
		}
	default:
		return ConfigErrorf("unsupported store.driver %q", c.Store.Driver)
	}
	if c.Ingest.Workers < 1 {
		return ConfigErrorf("ingest.workers must be at least 1")
	}
	if c.Ingest.FileTimeout < 0 {
		return ConfigErrorf("ingest.file_timeout must not be negative")
	}
	switch strings.ToLower(c.Extract.Backend) {
	case "native", "pdftotext":
	default:
		return ConfigErrorf("unsupported extract.backend %q", c.Extract.Backend)
	}
	return nil
}
