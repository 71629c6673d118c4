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
	"gopkg.in/yaml.v3"
)

// Config captures the settings required to run the incident console.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Clients ClientsConfig `yaml:"clients"`
	Feeds   FeedsConfig   `yaml:"feeds"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Scan    ScanConfig    `yaml:"scan"`
	Logging LoggingConfig `yaml:"logging"`
	Rules   RulesConfig   `yaml:"rules"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	Reflection      bool          `yaml:"reflection"`
}

// ClientsConfig groups the collaborator services the console consumes.
type ClientsConfig struct {
	Analysis   AnalysisClientConfig   `yaml:"analysis"`
	JobStore   JobStoreClientConfig   `yaml:"jobStore"`
	Integrator IntegratorClientConfig `yaml:"integrator"`
	RateLimit  RateLimitConfig        `yaml:"rateLimit"`
}

// AnalysisClientConfig configures the four pipeline stage collaborators.
type AnalysisClientConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	AnalyzePath   string        `yaml:"analyzePath"`
	PredictPath   string        `yaml:"predictPath"`
	SearchPath    string        `yaml:"searchPath"`
	RecommendPath string        `yaml:"recommendPath"`
	TopK          int           `yaml:"topK"`
	Timeout       time.Duration `yaml:"timeout"`
}

// JobStoreClientConfig configures the job store, incident source and cluster lookups.
type JobStoreClientConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	Token          string        `yaml:"token"`
	JobsPath       string        `yaml:"jobsPath"`
	IncidentsPath  string        `yaml:"incidentsPath"`
	ClustersPath   string        `yaml:"clustersPath"`
	NamespacesPath string        `yaml:"namespacesPath"`
	PodsPath       string        `yaml:"podsPath"`
	ScanPath       string        `yaml:"scanPath"`
	Timeout        time.Duration `yaml:"timeout"`
	ScanTimeout    time.Duration `yaml:"scanTimeout"`
}

// IntegratorClientConfig configures escalation to the incident integrator.
// An identical summary is reported at most once per DedupeWindow; zero
// disables deduplication.
type IntegratorClientConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	DedupeWindow time.Duration `yaml:"dedupeWindow"`
}

// RateLimitConfig bounds outbound collaborator calls. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// FeedsConfig configures the live feeds.
type FeedsConfig struct {
	Incidents FeedConfig `yaml:"incidents"`
	Metrics   FeedConfig `yaml:"metrics"`
}

// FeedConfig pairs a push stream with its pull-equivalent endpoint.
type FeedConfig struct {
	StreamURL    string        `yaml:"streamURL"`
	PollURL      string        `yaml:"pollURL"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// JobsConfig controls the job registry.
type JobsConfig struct {
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

// ScanConfig holds defaults for on-demand scans.
type ScanConfig struct {
	TimeRangeMinutes int      `yaml:"timeRangeMinutes"`
	MaxLinesPerPod   int      `yaml:"maxLinesPerPod"`
	LogLevels        []string `yaml:"logLevels"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls loading of the escalation rule pack.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Redis-backed caching of cascade lookups and knowledge search.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	InMemory     bool          `yaml:"inMemory"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	LookupTTL    time.Duration `yaml:"lookupTTL"`
	KnowledgeTTL time.Duration `yaml:"knowledgeTTL"`
}

// Load builds Config from defaults, an optional .env file, a YAML file and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("INCIDENT_CONSOLE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Analysis: AnalysisClientConfig{
				BaseURL:       "http://localhost:8080",
				AnalyzePath:   "/analyze",
				PredictPath:   "/predict",
				SearchPath:    "/search",
				RecommendPath: "/recommend",
				TopK:          3,
				Timeout:       30 * time.Second,
			},
			JobStore: JobStoreClientConfig{
				BaseURL:        "http://localhost:8080",
				JobsPath:       "/api/log-scan-jobs",
				IncidentsPath:  "/api/incidents/recent",
				ClustersPath:   "/k8s-clusters",
				NamespacesPath: "/k8s-namespaces",
				PodsPath:       "/k8s-pods",
				ScanPath:       "/scan-k8s-logs",
				Timeout:        10 * time.Second,
				ScanTimeout:    2 * time.Minute,
			},
			Integrator: IntegratorClientConfig{Timeout: 10 * time.Second, DedupeWindow: 15 * time.Minute},
		},
		Feeds: FeedsConfig{
			Incidents: FeedConfig{PollInterval: 5 * time.Second},
			Metrics:   FeedConfig{PollInterval: 30 * time.Second},
		},
		Jobs: JobsConfig{RefreshInterval: 5 * time.Minute},
		Scan: ScanConfig{
			TimeRangeMinutes: 60,
			MaxLinesPerPod:   1000,
			LogLevels:        []string{"ERROR", "WARN", "CRITICAL"},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/escalation.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			LookupTTL:    time.Minute,
			KnowledgeTTL: 10 * time.Minute,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

func (c *Config) validate() error {
	if c.Clients.Analysis.BaseURL == "" {
		return errors.New("config: clients.analysis.baseURL is required")
	}
	if c.Clients.JobStore.BaseURL == "" {
		return errors.New("config: clients.jobStore.baseURL is required")
	}
	if c.Feeds.Incidents.PollInterval <= 0 || c.Feeds.Metrics.PollInterval <= 0 {
		return errors.New("config: feed poll intervals must be positive")
	}
	if c.Jobs.RefreshInterval <= 0 {
		return errors.New("config: jobs.refreshInterval must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Address, "INCIDENT_CONSOLE_SERVER_ADDRESS")
	setString(&cfg.Server.MetricsAddress, "INCIDENT_CONSOLE_METRICS_ADDRESS")
	setBool(&cfg.Server.Reflection, "INCIDENT_CONSOLE_GRPC_REFLECTION")

	setString(&cfg.Clients.Analysis.BaseURL, "INCIDENT_CONSOLE_ANALYSIS_URL")
	setInt(&cfg.Clients.Analysis.TopK, "INCIDENT_CONSOLE_SEARCH_TOP_K")
	setDuration(&cfg.Clients.Analysis.Timeout, "INCIDENT_CONSOLE_ANALYSIS_TIMEOUT")
	setString(&cfg.Clients.JobStore.BaseURL, "INCIDENT_CONSOLE_JOB_STORE_URL")
	setString(&cfg.Clients.JobStore.Token, "INCIDENT_CONSOLE_JOB_STORE_TOKEN")
	setString(&cfg.Clients.Integrator.URL, "INCIDENT_CONSOLE_INTEGRATOR_URL")
	setDuration(&cfg.Clients.Integrator.DedupeWindow, "INCIDENT_CONSOLE_ESCALATION_DEDUPE")
	if v := os.Getenv("INCIDENT_CONSOLE_RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Clients.RateLimit.RPS = rps
		}
	}
	setInt(&cfg.Clients.RateLimit.Burst, "INCIDENT_CONSOLE_RATE_LIMIT_BURST")

	setString(&cfg.Feeds.Incidents.StreamURL, "INCIDENT_CONSOLE_INCIDENT_STREAM_URL")
	setString(&cfg.Feeds.Incidents.PollURL, "INCIDENT_CONSOLE_INCIDENT_POLL_URL")
	setString(&cfg.Feeds.Metrics.StreamURL, "INCIDENT_CONSOLE_METRICS_STREAM_URL")
	setString(&cfg.Feeds.Metrics.PollURL, "INCIDENT_CONSOLE_METRICS_POLL_URL")
	setDuration(&cfg.Jobs.RefreshInterval, "INCIDENT_CONSOLE_JOBS_REFRESH_INTERVAL")

	setString(&cfg.Logging.Level, "INCIDENT_CONSOLE_LOG_LEVEL")
	if v := os.Getenv("INCIDENT_CONSOLE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	setString(&cfg.Rules.Path, "INCIDENT_CONSOLE_RULES_PATH")

	setBool(&cfg.Cache.Enabled, "INCIDENT_CONSOLE_CACHE_ENABLED")
	setBool(&cfg.Cache.InMemory, "INCIDENT_CONSOLE_CACHE_IN_MEMORY")
	setString(&cfg.Cache.Addr, "INCIDENT_CONSOLE_CACHE_ADDR")
	setString(&cfg.Cache.Username, "INCIDENT_CONSOLE_CACHE_USERNAME")
	setString(&cfg.Cache.Password, "INCIDENT_CONSOLE_CACHE_PASSWORD")
	setInt(&cfg.Cache.DB, "INCIDENT_CONSOLE_CACHE_DB")
	setBool(&cfg.Cache.TLS, "INCIDENT_CONSOLE_CACHE_TLS")
	setDuration(&cfg.Cache.DialTimeout, "INCIDENT_CONSOLE_CACHE_DIAL_TIMEOUT")
	setDuration(&cfg.Cache.ReadTimeout, "INCIDENT_CONSOLE_CACHE_READ_TIMEOUT")
	setDuration(&cfg.Cache.WriteTimeout, "INCIDENT_CONSOLE_CACHE_WRITE_TIMEOUT")
	setInt(&cfg.Cache.MaxRetries, "INCIDENT_CONSOLE_CACHE_MAX_RETRIES")
	setDuration(&cfg.Cache.LookupTTL, "INCIDENT_CONSOLE_CACHE_LOOKUP_TTL")
	setDuration(&cfg.Cache.KnowledgeTTL, "INCIDENT_CONSOLE_CACHE_KNOWLEDGE_TTL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
