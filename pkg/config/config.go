package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Service limits
const (
	MaxWorkers   = 32
	MaxBatchSize = 2000
)

// Config holds all configuration options for attachdl. It is treated as immutable once
// Load returns.
type Config struct {
	Salesforce SalesforceConfig `yaml:"salesforce" json:"salesforce"`
	Download   DownloadConfig   `yaml:"download" json:"download"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	State      StateConfig      `yaml:"state" json:"state"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SalesforceConfig holds connection settings. Either InstanceURL and AccessToken are set,
// or Username names an account whose password is read from the credential store.
type SalesforceConfig struct {
	LoginURL    string `yaml:"login_url" json:"login_url"`
	Username    string `yaml:"username" json:"username"`
	APIVersion  string `yaml:"api_version" json:"api_version"`
	InstanceURL string `yaml:"instance_url" json:"instance_url"`
	AccessToken string `yaml:"access_token" json:"-"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	MaxConcurrentWorkers int    `yaml:"max_concurrent_workers" json:"max_concurrent_workers"`
	BatchSize            int    `yaml:"batch_size" json:"batch_size"`
	DestinationDirectory string `yaml:"destination_directory" json:"destination_directory"`
	// DestinationBucket is a gocloud blob URL (s3://, gs://, file://, mem://). When set it
	// replaces DestinationDirectory as the sink.
	DestinationBucket string        `yaml:"destination_bucket" json:"destination_bucket"`
	DownloadTimeout   time.Duration `yaml:"download_timeout" json:"download_timeout"`
	// RequestsPerMinute paces outgoing requests; 0 disables pacing
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// StateConfig locates the files a run persists. An empty CheckpointFile falls back to the
// per-user data directory; an empty LedgerDB disables the SQLite ledger.
type StateConfig struct {
	CheckpointFile string `yaml:"checkpoint_file" json:"checkpoint_file"`
	MetadataLog    string `yaml:"metadata_log" json:"metadata_log"`
	ErrorLog       string `yaml:"error_log" json:"error_log"`
	LedgerDB       string `yaml:"ledger_db" json:"ledger_db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Salesforce: SalesforceConfig{
			LoginURL:   "https://login.salesforce.com",
			APIVersion: "58.0",
		},
		Download: DownloadConfig{
			MaxConcurrentWorkers: 10,
			BatchSize:            200,
			DestinationDirectory: "./attachments",
			DownloadTimeout:      5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			BaseDelay:    1 * time.Second,
			MaxDelay:     30 * time.Second,
			JitterFactor: 0.1,
		},
		State: StateConfig{
			CheckpointFile: "attachdl_checkpoint.json",
			MetadataLog:    "attachments_metadata.csv",
			ErrorLog:       "attachments_errors.csv",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from ATTACHDL_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setString("ATTACHDL_LOGIN_URL", &c.Salesforce.LoginURL)
	setString("ATTACHDL_USERNAME", &c.Salesforce.Username)
	setString("ATTACHDL_API_VERSION", &c.Salesforce.APIVersion)
	setString("ATTACHDL_INSTANCE_URL", &c.Salesforce.InstanceURL)
	setString("ATTACHDL_ACCESS_TOKEN", &c.Salesforce.AccessToken)

	setInt("ATTACHDL_MAX_WORKERS", &c.Download.MaxConcurrentWorkers)
	setInt("ATTACHDL_BATCH_SIZE", &c.Download.BatchSize)
	setString("ATTACHDL_DESTINATION_DIR", &c.Download.DestinationDirectory)
	setString("ATTACHDL_DESTINATION_BUCKET", &c.Download.DestinationBucket)
	setDuration("ATTACHDL_DOWNLOAD_TIMEOUT", &c.Download.DownloadTimeout)
	setInt("ATTACHDL_REQUESTS_PER_MINUTE", &c.Download.RequestsPerMinute)

	setInt("ATTACHDL_MAX_RETRY_ATTEMPTS", &c.Retry.MaxAttempts)
	setDuration("ATTACHDL_BASE_BACKOFF_DELAY", &c.Retry.BaseDelay)
	setDuration("ATTACHDL_MAX_BACKOFF_DELAY", &c.Retry.MaxDelay)

	setString("ATTACHDL_CHECKPOINT_FILE", &c.State.CheckpointFile)
	setString("ATTACHDL_METADATA_LOG", &c.State.MetadataLog)
	setString("ATTACHDL_ERROR_LOG", &c.State.ErrorLog)
	setString("ATTACHDL_LEDGER_DB", &c.State.LedgerDB)

	setString("ATTACHDL_LOG_LEVEL", &c.Logging.Level)
	setString("ATTACHDL_LOG_FILE", &c.Logging.File)
	setString("ATTACHDL_LOG_FORMAT", &c.Logging.Format)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file. An empty path searches the
// standard locations and is not an error when nothing is found.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	locations := []string{
		".attachdl.yaml",
		".attachdl.yml",
		filepath.Join(home, ".config", "attachdl", "config.yaml"),
		filepath.Join(home, ".config", "attachdl", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Salesforce.APIVersion == "" {
		errs = append(errs, errors.New("salesforce api version is required"))
	}
	if c.Salesforce.InstanceURL != "" {
		if _, err := url.ParseRequestURI(c.Salesforce.InstanceURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid instance url: %w", err))
		}
	} else if c.Salesforce.LoginURL == "" {
		errs = append(errs, errors.New("either salesforce instance url or login url is required"))
	}
	if c.Salesforce.AccessToken != "" && c.Salesforce.InstanceURL == "" {
		errs = append(errs, errors.New("access token requires an instance url"))
	}

	if c.Download.MaxConcurrentWorkers < 1 || c.Download.MaxConcurrentWorkers > MaxWorkers {
		errs = append(errs, fmt.Errorf("max concurrent workers must be between 1 and %d", MaxWorkers))
	}
	if c.Download.BatchSize < 1 || c.Download.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("batch size must be between 1 and %d", MaxBatchSize))
	}
	if c.Download.DestinationDirectory == "" && c.Download.DestinationBucket == "" {
		errs = append(errs, errors.New("destination directory or bucket is required"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("max retry attempts must be at least 1"))
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, errors.New("base backoff delay must be positive"))
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("max backoff delay cannot be less than base delay"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("jitter factor must be between 0 and 1"))
	}

	if c.State.MetadataLog == "" || c.State.ErrorLog == "" {
		errs = append(errs, errors.New("metadata and error log paths are required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save writes the configuration as YAML. The access token is never persisted.
func (c *Config) Save(path string) error {
	out := *c
	out.Salesforce.AccessToken = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges flag values that the user explicitly set.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["instance-url"].(string); ok && v != "" {
		c.Salesforce.InstanceURL = v
	}
	if v, ok := flags["username"].(string); ok && v != "" {
		c.Salesforce.Username = v
	}
	if v, ok := flags["api-version"].(string); ok && v != "" {
		c.Salesforce.APIVersion = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Download.DestinationDirectory = v
	}
	if v, ok := flags["bucket"].(string); ok && v != "" {
		c.Download.DestinationBucket = v
	}
	if v, ok := flags["workers"].(int); ok && v > 0 {
		c.Download.MaxConcurrentWorkers = v
	}
	if v, ok := flags["batch-size"].(int); ok && v > 0 {
		c.Download.BatchSize = v
	}
	if v, ok := flags["max-retries"].(int); ok && v > 0 {
		c.Retry.MaxAttempts = v
	}
	if v, ok := flags["checkpoint"].(string); ok && v != "" {
		c.State.CheckpointFile = v
	}
	if v, ok := flags["ledger"].(string); ok && v != "" {
		c.State.LedgerDB = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".attachdl.env"))
	}

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
