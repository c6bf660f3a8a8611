package common

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	LogLevel string        `yaml:"log_level"`
	OCR      OCRConfig     `yaml:"ocr"`
	Browser  BrowserConfig `yaml:"browser"`
	Report   ReportConfig  `yaml:"report"`
	Store    StoreConfig   `yaml:"store"`
	Server   ServerConfig  `yaml:"server"`
	GCS      GCSConfig     `yaml:"gcs"`
}

// OCRConfig holds text-layer and OCR configuration
type OCRConfig struct {
	TextBackend string `yaml:"text_backend"` // native | pdftotext
	Pdftotext   string `yaml:"pdftotext"`
	Pdftoppm    string `yaml:"pdftoppm"`
	Tesseract   string `yaml:"tesseract"`
	Lang        string `yaml:"lang"`
	DPI         int    `yaml:"dpi"`
	MaxPages    int    `yaml:"max_pages"`
	TessdataDir string `yaml:"tessdata_dir"`
}

// BrowserConfig holds the remote verification page settings
type BrowserConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RemoteURL     string        `yaml:"remote_url"` // attach to a running Chrome instead of launching
	Bin           string        `yaml:"bin"`
	Headless      bool          `yaml:"headless"`
	Stealth       bool          `yaml:"stealth"`
	WaitTimeout   time.Duration `yaml:"wait_timeout"`
	NavTimeout    time.Duration `yaml:"nav_timeout"`
	Interval      time.Duration `yaml:"interval"`
	LocalFallback bool          `yaml:"local_fallback"`
	CellOrder     string        `yaml:"cell_order"` // e.g. "input-value,nested-text,raw-text"
}

// ReportConfig holds report output settings
type ReportConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
	JSON   bool   `yaml:"json"`
}

// StoreConfig holds run history database settings
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // "" | sqlite | postgres
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr      string `yaml:"http_addr"`
	GRPCAddr      string `yaml:"grpc_addr"`
	AccessKeyHash string `yaml:"access_key_hash"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
	Workers       int    `yaml:"workers"` // background batch workers
}

// GCSConfig holds Cloud Storage source/sink settings
type GCSConfig struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	ReportPrefix string `yaml:"report_prefix"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		OCR: OCRConfig{
			TextBackend: "native",
			Pdftotext:   "pdftotext",
			Pdftoppm:    "pdftoppm",
			Tesseract:   "tesseract",
			Lang:        "spa",
			DPI:         300,
		},
		Browser: BrowserConfig{
			Enabled:     true,
			Headless:    true,
			Stealth:     true,
			WaitTimeout: 10 * time.Second,
			NavTimeout:  30 * time.Second,
		},
		Report: ReportConfig{
			Dir:    ".",
			Prefix: "Lector",
		},
		Store: StoreConfig{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:    ":8080",
			MaxUploadMB: 64,
			Workers:     2,
		},
		GCS: GCSConfig{
			ReportPrefix: "reports/",
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file at
// path, and environment variables, in that order of precedence (env wins).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError("CONFIG_ERROR", "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("parse %s", path), err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("CSF_LOG_LEVEL", c.LogLevel)

	c.OCR.TextBackend = getEnv("CSF_TEXT_BACKEND", c.OCR.TextBackend)
	c.OCR.Pdftotext = getEnv("CSF_PDFTOTEXT", c.OCR.Pdftotext)
	c.OCR.Pdftoppm = getEnv("CSF_PDFTOPPM", c.OCR.Pdftoppm)
	c.OCR.Tesseract = getEnv("CSF_TESSERACT", c.OCR.Tesseract)
	c.OCR.Lang = getEnv("CSF_OCR_LANG", c.OCR.Lang)
	c.OCR.DPI = getEnvAsInt("CSF_OCR_DPI", c.OCR.DPI)
	c.OCR.MaxPages = getEnvAsInt("CSF_OCR_MAX_PAGES", c.OCR.MaxPages)
	c.OCR.TessdataDir = getEnv("TESSDATA_PREFIX", c.OCR.TessdataDir)

	c.Browser.Enabled = getEnvAsBool("CSF_REMOTE_ENABLED", c.Browser.Enabled)
	c.Browser.RemoteURL = getEnv("CSF_BROWSER_URL", c.Browser.RemoteURL)
	c.Browser.Bin = getEnv("CSF_BROWSER_BIN", c.Browser.Bin)
	c.Browser.Headless = getEnvAsBool("CSF_BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.Stealth = getEnvAsBool("CSF_BROWSER_STEALTH", c.Browser.Stealth)
	c.Browser.WaitTimeout = getEnvAsDuration("CSF_WAIT_TIMEOUT", c.Browser.WaitTimeout)
	c.Browser.NavTimeout = getEnvAsDuration("CSF_NAV_TIMEOUT", c.Browser.NavTimeout)
	c.Browser.Interval = getEnvAsDuration("CSF_REMOTE_INTERVAL", c.Browser.Interval)
	c.Browser.LocalFallback = getEnvAsBool("CSF_LOCAL_FALLBACK", c.Browser.LocalFallback)
	c.Browser.CellOrder = getEnv("CSF_CELL_ORDER", c.Browser.CellOrder)

	c.Report.Dir = getEnv("CSF_REPORT_DIR", c.Report.Dir)
	c.Report.Prefix = getEnv("CSF_REPORT_PREFIX", c.Report.Prefix)
	c.Report.JSON = getEnvAsBool("CSF_JSON_REPORT", c.Report.JSON)

	c.Store.Driver = getEnv("CSF_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("CSF_STORE_DSN", c.Store.DSN)
	c.Store.MaxConns = getEnvAsInt32("CSF_STORE_MAX_CONNS", c.Store.MaxConns)
	c.Store.MinConns = getEnvAsInt32("CSF_STORE_MIN_CONNS", c.Store.MinConns)
	c.Store.MaxConnLifetime = getEnvAsDuration("CSF_STORE_MAX_CONN_LIFETIME", c.Store.MaxConnLifetime)
	c.Store.MaxConnIdleTime = getEnvAsDuration("CSF_STORE_MAX_CONN_IDLE_TIME", c.Store.MaxConnIdleTime)
	c.Store.DialTimeout = getEnvAsDuration("CSF_STORE_DIAL_TIMEOUT", c.Store.DialTimeout)

	c.Server.HTTPAddr = getEnv("CSF_HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("CSF_GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.AccessKeyHash = getEnv("CSF_ACCESS_KEY_HASH", c.Server.AccessKeyHash)
	c.Server.MaxUploadMB = getEnvAsInt("CSF_MAX_UPLOAD_MB", c.Server.MaxUploadMB)
	c.Server.Workers = getEnvAsInt("CSF_WORKERS", c.Server.Workers)

	c.GCS.Bucket = getEnv("CSF_GCS_BUCKET", c.GCS.Bucket)
	c.GCS.Prefix = getEnv("CSF_GCS_PREFIX", c.GCS.Prefix)
	c.GCS.ReportPrefix = getEnv("CSF_GCS_REPORT_PREFIX", c.GCS.ReportPrefix)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.OCR.TextBackend {
	case "native", "pdftotext":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("CSF_TEXT_BACKEND must be native or pdftotext, got %q", c.OCR.TextBackend), ErrInvalidInput)
	}
	if c.OCR.DPI <= 0 {
		return NewAppError("CONFIG_ERROR", "CSF_OCR_DPI must be positive", ErrInvalidInput)
	}
	if c.Browser.Enabled && c.Browser.WaitTimeout <= 0 {
		return NewAppError("CONFIG_ERROR", "CSF_WAIT_TIMEOUT must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Report.Prefix) == "" {
		return NewAppError("CONFIG_ERROR", "CSF_REPORT_PREFIX is required", ErrInvalidInput)
	}
	switch c.Store.Driver {
	case "":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return NewAppError("CONFIG_ERROR", "CSF_STORE_DSN is required when CSF_STORE_DRIVER is set", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown CSF_STORE_DRIVER %q", c.Store.Driver), ErrInvalidInput)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
