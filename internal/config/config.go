package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-history-collector/internal/models"
	"github.com/kjstillabower/weather-history-collector/internal/validation"
)

// Config holds collector configuration loaded from .env, YAML and env.
type Config struct {
	Location string

	BaseURL         string
	UpstreamTimeout time.Duration
	PageLatency     time.Duration
	UpstreamRPS     float64 // 0 = unpaced
	UserAgent       string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	AlignAttempts  int
	AlignBaseDelay time.Duration
	AlignMaxDelay  time.Duration

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	SessionBackend  string // "http" or "browser"
	BrowserExecPath string
	BrowserHeadless bool

	// Period is the default collection range; zero when not configured.
	Period  models.Period
	Workers int

	CacheBackend          string // "none", "in_memory" or "memcached"
	CacheTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	StoreBackend     string // "csv", "sqlite" or "postgres"
	StoreDir         string
	SQLitePath       string
	DatabaseURL      string
	HourlyDataset    string
	DayLengthDataset string
	DailyDataset     string

	ServerPort       string
	RequestTimeout   time.Duration
	RateLimitRPS     int
	RateLimitBurst   int
	ShutdownTimeout  time.Duration
	DegradedWindow   time.Duration
	DegradedErrorPct int // 0 disables error-rate degradation

	ScheduleCron string
}

type fileConfig struct {
	Location string `yaml:"location"`

	Upstream struct {
		BaseURL      string  `yaml:"base_url"`
		Timeout      string  `yaml:"timeout"`
		Latency      string  `yaml:"latency"`
		RateLimitRPS float64 `yaml:"rate_limit_rps"`
		UserAgent    string  `yaml:"user_agent"`
	} `yaml:"upstream"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		AlignMaxAttempts int    `yaml:"align_max_attempts"`
		AlignBaseDelay   string `yaml:"align_base_delay"`
		AlignMaxDelay    string `yaml:"align_max_delay"`
		CircuitBreaker   struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Session struct {
		Backend         string `yaml:"backend"`
		BrowserExecPath string `yaml:"browser_exec_path"`
		Headless        *bool  `yaml:"headless"`
	} `yaml:"session"`

	Collector struct {
		Start   string `yaml:"start"`
		End     string `yaml:"end"`
		Workers int    `yaml:"workers"`
	} `yaml:"collector"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Store struct {
		Backend    string `yaml:"backend"`
		Dir        string `yaml:"dir"`
		SQLitePath string `yaml:"sqlite_path"`
		Datasets   struct {
			Hourly    string `yaml:"hourly"`
			DayLength string `yaml:"daylength"`
			Daily     string `yaml:"daily"`
		} `yaml:"datasets"`
	} `yaml:"store"`

	Server struct {
		Port             string `yaml:"port"`
		RequestTimeout   string `yaml:"request_timeout"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		ShutdownTimeout  string `yaml:"shutdown_timeout"`
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"server"`

	Schedule struct {
		Cron string `yaml:"cron"`
	} `yaml:"schedule"`
}

// Load reads .env (optional), then config/{ENV_NAME}.yaml (default dev), then
// env overrides. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.Location = envOr("LOCATION", fc.Location)
	cfg.BaseURL = envOr("BASE_URL", fc.Upstream.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.timeanddate.com"
	}
	cfg.UpstreamTimeout = parseDuration(fc.Upstream.Timeout, 15*time.Second)
	cfg.PageLatency = parseDurationOrZero(fc.Upstream.Latency, 500*time.Millisecond)
	cfg.UpstreamRPS = fc.Upstream.RateLimitRPS
	cfg.UserAgent = strings.TrimSpace(fc.Upstream.UserAgent)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 250*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)
	cfg.AlignAttempts = fc.Reliability.AlignMaxAttempts
	if cfg.AlignAttempts <= 0 {
		cfg.AlignAttempts = 5
	}
	cfg.AlignBaseDelay = parseDuration(fc.Reliability.AlignBaseDelay, 500*time.Millisecond)
	cfg.AlignMaxDelay = parseDuration(fc.Reliability.AlignMaxDelay, 10*time.Second)
	cfg.BreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.CircuitBreaker.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.SessionBackend = strings.ToLower(envOr("SESSION_BACKEND", fc.Session.Backend))
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = "http"
	}
	cfg.BrowserExecPath = envOr("BROWSER_EXEC_PATH", fc.Session.BrowserExecPath)
	cfg.BrowserHeadless = true
	if fc.Session.Headless != nil {
		cfg.BrowserHeadless = *fc.Session.Headless
	}

	cfg.Workers = fc.Collector.Workers
	if v, ok := envInt("COLLECTOR_WORKERS"); ok {
		cfg.Workers = v
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	cfg.CacheBackend = strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 24*time.Hour)
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.StoreBackend = strings.ToLower(envOr("STORE_BACKEND", fc.Store.Backend))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "csv"
	}
	cfg.StoreDir = envOr("STORE_DIR", fc.Store.Dir)
	if cfg.StoreDir == "" {
		cfg.StoreDir = "data"
	}
	cfg.SQLitePath = envOr("SQLITE_PATH", fc.Store.SQLitePath)
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.StoreDir, "weather.db")
	}
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.HourlyDataset = orDefault(fc.Store.Datasets.Hourly, "weather")
	cfg.DayLengthDataset = orDefault(fc.Store.Datasets.DayLength, "daylight")
	cfg.DailyDataset = orDefault(fc.Store.Datasets.Daily, "daily")

	cfg.ServerPort = envOr("SERVER_PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 5*time.Second)
	cfg.RateLimitRPS = fc.Server.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Server.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	cfg.ShutdownTimeout = parseDuration(fc.Server.ShutdownTimeout, 10*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Server.DegradedWindow, time.Minute)
	cfg.DegradedErrorPct = fc.Server.DegradedErrorPct

	cfg.ScheduleCron = orDefault(fc.Schedule.Cron, "0 6 2 * *")

	start := envOr("COLLECT_START", fc.Collector.Start)
	end := envOr("COLLECT_END", fc.Collector.End)
	if start != "" || end != "" {
		p, err := models.ParsePeriod(start, end)
		if err != nil {
			return nil, fmt.Errorf("collector period: %w", err)
		}
		cfg.Period = p
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero is returned as-is, e.g. to disable the page latency wait.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}

// validate checks enums and the location slug, and normalizes the location.
func validate(cfg *Config) error {
	loc, err := validation.ValidateLocation(cfg.Location)
	if err != nil {
		return fmt.Errorf("location: %w", err)
	}
	cfg.Location = loc

	switch cfg.SessionBackend {
	case "http", "browser":
	default:
		return fmt.Errorf("session.backend must be http or browser, got %q", cfg.SessionBackend)
	}
	switch cfg.CacheBackend {
	case "none", "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be none, in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.StoreBackend {
	case "csv", "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("store.backend postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("store.backend must be csv, sqlite or postgres, got %q", cfg.StoreBackend)
	}
	for _, key := range []string{cfg.HourlyDataset, cfg.DayLengthDataset, cfg.DailyDataset} {
		if _, err := validation.ValidateDatasetKey(key); err != nil {
			return fmt.Errorf("store.datasets: %q: %w", key, err)
		}
	}
	if cfg.UpstreamRPS < 0 {
		return fmt.Errorf("upstream.rate_limit_rps must not be negative")
	}
	if cfg.DegradedErrorPct < 0 || cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("server.degraded_error_pct must be 0-100, got %d", cfg.DegradedErrorPct)
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	if cfg.AlignMaxDelay < cfg.AlignBaseDelay {
		cfg.AlignMaxDelay = cfg.AlignBaseDelay
	}
	return nil
}
