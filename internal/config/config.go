package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dvillagrablanco/inmova-app-sub011/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Sync       SyncConfig       `yaml:"sync"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SyncConfig tunes the scheduler and executor. Zero values fall back to the
// engine defaults in models.
type SyncConfig struct {
	HorizonDays         int `yaml:"horizon_days"`
	CadenceHours        int `yaml:"cadence_hours"`
	SchedulerTickSec    int `yaml:"scheduler_tick_seconds"`
	WorkerCount         int `yaml:"worker_count"`
	AdapterTimeoutSec   int `yaml:"adapter_timeout_seconds"`
	FailureThreshold    int `yaml:"failure_threshold"`
	CalendarBatchSize   int `yaml:"calendar_batch_size"`
	ManualSyncWindowSec int `yaml:"manual_sync_window_seconds"`
	BackoffCapFactor    int `yaml:"backoff_cap_factor"`
}

func (s SyncConfig) Cadence() time.Duration {
	return time.Duration(s.CadenceHours) * time.Hour
}

func (s SyncConfig) SchedulerTick() time.Duration {
	return time.Duration(s.SchedulerTickSec) * time.Second
}

func (s SyncConfig) AdapterTimeout() time.Duration {
	return time.Duration(s.AdapterTimeoutSec) * time.Second
}

func (s SyncConfig) ManualSyncWindow() time.Duration {
	return time.Duration(s.ManualSyncWindowSec) * time.Second
}

type ChannelsConfig struct {
	StayHub StayHubConfig `yaml:"stayhub"`
}

type StayHubConfig struct {
	BaseURL string `yaml:"base_url"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML config, expanding ${ENV} references after loading .env
// if present.
func Load(configPath string) (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth enabled but no api keys configured")
	}
	if c.Sync.HorizonDays < 0 || c.Sync.CadenceHours < 0 {
		return errors.New("sync horizon and cadence must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "inmova-sync"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Sync.HorizonDays == 0 {
		c.Sync.HorizonDays = models.DefaultSyncHorizonDays
	}
	if c.Sync.CadenceHours == 0 {
		c.Sync.CadenceHours = models.DefaultCadenceHours
	}
	if c.Sync.SchedulerTickSec == 0 {
		c.Sync.SchedulerTickSec = models.DefaultSchedulerTickSeconds
	}
	if c.Sync.WorkerCount == 0 {
		c.Sync.WorkerCount = models.DefaultWorkerCount
	}
	if c.Sync.AdapterTimeoutSec == 0 {
		c.Sync.AdapterTimeoutSec = models.DefaultAdapterTimeoutSeconds
	}
	if c.Sync.FailureThreshold == 0 {
		c.Sync.FailureThreshold = models.DefaultFailureThreshold
	}
	if c.Sync.CalendarBatchSize == 0 {
		c.Sync.CalendarBatchSize = models.DefaultCalendarBatchSize
	}
	if c.Sync.ManualSyncWindowSec == 0 {
		c.Sync.ManualSyncWindowSec = models.DefaultManualSyncWindowSeconds
	}
	if c.Sync.BackoffCapFactor == 0 {
		c.Sync.BackoffCapFactor = models.DefaultBackoffCapFactor
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// LoadListings reads the listings catalog produced by the surrounding product.
func LoadListings(path string) ([]models.Listing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var catalog struct {
		Listings []models.Listing `yaml:"listings"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}

	if err := ValidateListings(catalog.Listings); err != nil {
		return nil, err
	}
	return catalog.Listings, nil
}

// ValidateListings rejects duplicate or zero listing IDs.
func ValidateListings(listings []models.Listing) error {
	seen := make(map[int64]bool)
	for _, l := range listings {
		if l.ID == 0 {
			return fmt.Errorf("listing %q has invalid ID 0", l.Name)
		}
		if seen[l.ID] {
			return fmt.Errorf("duplicate listing ID found: %d", l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}
