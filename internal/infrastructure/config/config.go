package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Feed      FeedConfig
	Rates     RatesConfig
	Pricing   PricingConfig
	Store     StoreConfig
	Sync      SyncConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration // zero = no write deadline; the SSE stream needs this
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
	RateLimit        int           // requests per client per window on /api; 0 disables
	RateLimitWindow  time.Duration
}

// DatabaseConfig holds run-history database settings. The default driver is
// sqlite so a single binary works with zero external services; postgres is
// for multi-instance deployments.
type DatabaseConfig struct {
	Driver          string // sqlite, postgres
	Path            string // sqlite file path
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings for the last-good rate cache
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// FeedConfig holds catalog feed host settings
type FeedConfig struct {
	BaseURL          string
	Category         string
	Timeout          time.Duration
	MaxResponseBytes int64
}

// RatesConfig holds exchange rate provider settings
type RatesConfig struct {
	URL         string
	Currency    string  // local currency code looked up in the response
	DefaultRate float64 // fallback when the provider and cache both fail
	Timeout     time.Duration
	CacheTTL    time.Duration // last-good cache entry lifetime
}

// PricingConfig holds local price derivation policy. Granularity and
// rounding are fixed per deployment and never mixed within a run.
type PricingConfig struct {
	MinPrice    int64
	Granularity int64  // 1 or 100
	Rounding    string // round, ceil
}

// StoreConfig selects and configures the destination store backend
type StoreConfig struct {
	Backend string // rest, remote
	REST    RESTBackendConfig
	Remote  RemoteBackendConfig
}

// RESTBackendConfig holds settings for the storefront batch API backend
type RESTBackendConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	BatchSize  int
	BatchDelay time.Duration
	Timeout    time.Duration
}

// RemoteBackendConfig holds settings for the SSH remote-execution backend
type RemoteBackendConfig struct {
	Host             string
	Port             int
	User             string
	Password         string
	KeyFile          string
	ConnectTimeout   time.Duration
	DBName           string
	DBUser           string
	DBPassword       string
	TablePrefix      string
	CLIPath          string
	BatchSize        int
	BatchDelay       time.Duration
	CreatePauseEvery int
	CreatePause      time.Duration
}

// SyncConfig holds run coordinator settings
type SyncConfig struct {
	LogCapacity         int
	HistoryLimit        int
	AutoRefreshEnabled  bool
	AutoRefreshInterval time.Duration
}

// ArchiveConfig holds S3-compatible feed archive settings
type ArchiveConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	KeyPrefix    string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool
	MetricsEnabled    bool
	LogsEnabled       bool
	DBTraceEnabled    bool
	Profiling         ProfilingConfig
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled       bool
	ServerAddress string
	SpanProfiles  bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with FEEDBRIDGE_ prefix (e.g., FEEDBRIDGE_STORE_REST_APISECRET)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/feedbridge")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("FEEDBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			RateLimit:        v.GetInt("http.rate_limit"),
			RateLimitWindow:  v.GetDuration("http.rate_limit_window"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Feed: FeedConfig{
			BaseURL:          v.GetString("feed.base_url"),
			Category:         v.GetString("feed.category"),
			Timeout:          v.GetDuration("feed.timeout"),
			MaxResponseBytes: v.GetInt64("feed.max_response_bytes"),
		},
		Rates: RatesConfig{
			URL:         v.GetString("rates.url"),
			Currency:    v.GetString("rates.currency"),
			DefaultRate: v.GetFloat64("rates.default_rate"),
			Timeout:     v.GetDuration("rates.timeout"),
			CacheTTL:    v.GetDuration("rates.cache_ttl"),
		},
		Pricing: PricingConfig{
			MinPrice:    v.GetInt64("pricing.min_price"),
			Granularity: v.GetInt64("pricing.granularity"),
			Rounding:    v.GetString("pricing.rounding"),
		},
		Store: StoreConfig{
			Backend: v.GetString("store.backend"),
			REST: RESTBackendConfig{
				BaseURL:    v.GetString("store.rest.base_url"),
				APIKey:     v.GetString("store.rest.api_key"),
				APISecret:  v.GetString("store.rest.api_secret"),
				BatchSize:  v.GetInt("store.rest.batch_size"),
				BatchDelay: v.GetDuration("store.rest.batch_delay"),
				Timeout:    v.GetDuration("store.rest.timeout"),
			},
			Remote: RemoteBackendConfig{
				Host:             v.GetString("store.remote.host"),
				Port:             v.GetInt("store.remote.port"),
				User:             v.GetString("store.remote.user"),
				Password:         v.GetString("store.remote.password"),
				KeyFile:          v.GetString("store.remote.key_file"),
				ConnectTimeout:   v.GetDuration("store.remote.connect_timeout"),
				DBName:           v.GetString("store.remote.db_name"),
				DBUser:           v.GetString("store.remote.db_user"),
				DBPassword:       v.GetString("store.remote.db_password"),
				TablePrefix:      v.GetString("store.remote.table_prefix"),
				CLIPath:          v.GetString("store.remote.cli_path"),
				BatchSize:        v.GetInt("store.remote.batch_size"),
				BatchDelay:       v.GetDuration("store.remote.batch_delay"),
				CreatePauseEvery: v.GetInt("store.remote.create_pause_every"),
				CreatePause:      v.GetDuration("store.remote.create_pause"),
			},
		},
		Sync: SyncConfig{
			LogCapacity:         v.GetInt("sync.log_capacity"),
			HistoryLimit:        v.GetInt("sync.history_limit"),
			AutoRefreshEnabled:  v.GetBool("sync.auto_refresh_enabled"),
			AutoRefreshInterval: v.GetDuration("sync.auto_refresh_interval"),
		},
		Archive: ArchiveConfig{
			Enabled:      v.GetBool("archive.enabled"),
			Endpoint:     v.GetString("archive.endpoint"),
			Region:       v.GetString("archive.region"),
			Bucket:       v.GetString("archive.bucket"),
			AccessKey:    v.GetString("archive.access_key"),
			SecretKey:    v.GetString("archive.secret_key"),
			UseSSL:       v.GetBool("archive.use_ssl"),
			UsePathStyle: v.GetBool("archive.use_path_style"),
			KeyPrefix:    v.GetString("archive.key_prefix"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			Profiling: ProfilingConfig{
				Enabled:       v.GetBool("telemetry.profiling.enabled"),
				ServerAddress: v.GetString("telemetry.profiling.server_address"),
				SpanProfiles:  v.GetBool("telemetry.profiling.span_profiles"),
			},
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "feedbridge"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB, the API only takes tiny bodies
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "X-Request-ID", "Last-Event-ID"}
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "feedbridge.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "feedbridge"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = "https://feeds.tcgdata.io"
	}
	if cfg.Feed.Category == "" {
		cfg.Feed.Category = "3"
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = 30 * time.Second
	}
	if cfg.Feed.MaxResponseBytes == 0 {
		cfg.Feed.MaxResponseBytes = 20 << 20 // 20MB, the largest group CSVs run a few MB
	}
	if cfg.Rates.URL == "" {
		cfg.Rates.URL = "https://open.er-api.com/v6/latest/USD"
	}
	if cfg.Rates.Currency == "" {
		cfg.Rates.Currency = "COP"
	}
	if cfg.Rates.DefaultRate == 0 {
		cfg.Rates.DefaultRate = 4000
	}
	if cfg.Rates.Timeout == 0 {
		cfg.Rates.Timeout = 10 * time.Second
	}
	if cfg.Rates.CacheTTL == 0 {
		cfg.Rates.CacheTTL = 24 * time.Hour
	}
	if cfg.Pricing.MinPrice == 0 {
		cfg.Pricing.MinPrice = 200
	}
	if cfg.Pricing.Granularity == 0 {
		cfg.Pricing.Granularity = 100
	}
	if cfg.Pricing.Rounding == "" {
		cfg.Pricing.Rounding = "ceil"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "rest"
	}
	if cfg.Store.REST.BatchSize == 0 {
		cfg.Store.REST.BatchSize = 100
	}
	if cfg.Store.REST.BatchDelay == 0 {
		cfg.Store.REST.BatchDelay = time.Second
	}
	if cfg.Store.REST.Timeout == 0 {
		cfg.Store.REST.Timeout = 60 * time.Second
	}
	if cfg.Store.Remote.Port == 0 {
		cfg.Store.Remote.Port = 22
	}
	if cfg.Store.Remote.ConnectTimeout == 0 {
		cfg.Store.Remote.ConnectTimeout = 15 * time.Second
	}
	if cfg.Store.Remote.TablePrefix == "" {
		cfg.Store.Remote.TablePrefix = "store_"
	}
	if cfg.Store.Remote.CLIPath == "" {
		cfg.Store.Remote.CLIPath = "storectl"
	}
	if cfg.Store.Remote.BatchSize == 0 {
		cfg.Store.Remote.BatchSize = 500
	}
	if cfg.Store.Remote.BatchDelay == 0 {
		cfg.Store.Remote.BatchDelay = 500 * time.Millisecond
	}
	if cfg.Store.Remote.CreatePauseEvery == 0 {
		cfg.Store.Remote.CreatePauseEvery = 10
	}
	if cfg.Store.Remote.CreatePause == 0 {
		cfg.Store.Remote.CreatePause = 2 * time.Second
	}
	if cfg.Sync.LogCapacity == 0 {
		cfg.Sync.LogCapacity = 250
	}
	if cfg.Sync.HistoryLimit == 0 {
		cfg.Sync.HistoryLimit = 50
	}
	if cfg.Sync.AutoRefreshInterval == 0 {
		cfg.Sync.AutoRefreshInterval = 24 * time.Hour
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Archive.KeyPrefix == "" {
		cfg.Archive.KeyPrefix = "feeds"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "feedbridge"
	}
	if cfg.Telemetry.Profiling.ServerAddress == "" {
		cfg.Telemetry.Profiling.ServerAddress = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Store.Backend != "rest" && c.Store.Backend != "remote" {
		return fmt.Errorf("store.backend must be rest or remote, got %q", c.Store.Backend)
	}

	if c.Pricing.MinPrice < 0 {
		return fmt.Errorf("pricing.min_price cannot be negative")
	}
	if c.Pricing.Granularity != 1 && c.Pricing.Granularity != 100 {
		return fmt.Errorf("pricing.granularity must be 1 or 100, got %d", c.Pricing.Granularity)
	}
	if c.Pricing.Rounding != "round" && c.Pricing.Rounding != "ceil" {
		return fmt.Errorf("pricing.rounding must be round or ceil, got %q", c.Pricing.Rounding)
	}

	if c.Rates.DefaultRate <= 0 {
		return fmt.Errorf("rates.default_rate must be positive, got %f", c.Rates.DefaultRate)
	}

	if c.App.Env == "production" {
		if len(c.HTTP.CORSAllowOrigins) == 0 {
			return fmt.Errorf("http.cors_allow_origins must be configured in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the postgres connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
