package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	HTTP    HTTPConfig    `yaml:"http" mapstructure:"http"`
	FTP     FTPConfig     `yaml:"ftp" mapstructure:"ftp"`
	Build   BuildConfig   `yaml:"build" mapstructure:"build"`
	Inspect InspectConfig `yaml:"inspect" mapstructure:"inspect"`
	Release ReleaseConfig `yaml:"release" mapstructure:"release"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// CatalogConfig locates the catalog document that drives a run.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StoreConfig configures the run-log/cache database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// MaxConns and MinConns size the Postgres pool; SQLite ignores them.
	MaxConns int `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int `yaml:"min_conns" mapstructure:"min_conns"`
}

// HTTPConfig tunes the shared HTTP fetcher.
type HTTPConfig struct {
	TimeoutSecs             int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries                 int     `yaml:"retries" mapstructure:"retries"`
	BackoffMs               int     `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterFraction          float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	UserAgent               string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerHost             float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	BurstPerHost            int     `yaml:"burst_per_host" mapstructure:"burst_per_host"`
	BreakerFailureThreshold int     `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetSecs        int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// FTPConfig tunes downloads for catalog items on ftp:// URLs.
type FTPConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// BuildConfig tunes per-run fan-out across indicators and files.
type BuildConfig struct {
	Concurrency int  `yaml:"concurrency" mapstructure:"concurrency"`
	Force       bool `yaml:"force" mapstructure:"force"`
}

// InspectConfig tunes the messiness heuristics.
type InspectConfig struct {
	// MaxScanRows bounds the header-row scan per sheet.
	MaxScanRows int `yaml:"max_scan_rows" mapstructure:"max_scan_rows"`
	// SampleRows bounds how many CSV rows the sniffing pass reads.
	SampleRows  int `yaml:"sample_rows" mapstructure:"sample_rows"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ReleaseConfig configures release packaging and the downloads page.
type ReleaseConfig struct {
	// BaseURL is the site root published releases are served from.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// RepoURL is the repository whose release pages the downloads page
	// links to.
	RepoURL string `yaml:"repo_url" mapstructure:"repo_url"`
	DocsDir string `yaml:"docs_dir" mapstructure:"docs_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	// .env is optional; real deployments set CARIBDATA_* directly.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CARIBDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("catalog.path", "catalog.yml")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "caribdata.db")
	v.SetDefault("http.timeout_secs", 90)
	v.SetDefault("http.retries", 6)
	v.SetDefault("http.backoff_ms", 800)
	v.SetDefault("http.max_backoff_ms", 60000)
	v.SetDefault("http.jitter_fraction", 0.25)
	v.SetDefault("http.user_agent", "CaribData/1.0 (+github.com/CaribData)")
	v.SetDefault("http.rate_per_host", 2.0)
	v.SetDefault("http.burst_per_host", 4)
	v.SetDefault("http.breaker_failure_threshold", 5)
	v.SetDefault("http.breaker_reset_secs", 30)
	v.SetDefault("ftp.timeout_secs", 60)
	v.SetDefault("build.concurrency", 4)
	v.SetDefault("inspect.max_scan_rows", 10)
	v.SetDefault("inspect.sample_rows", 200)
	v.SetDefault("inspect.concurrency", 4)
	v.SetDefault("release.base_url", "https://caribdata.github.io/open-data-caribbean")
	v.SetDefault("release.repo_url", "https://github.com/CaribData/open-data-caribbean")
	v.SetDefault("release.docs_dir", "docs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command actually needs. Mode is the command
// name; bounds shared by every mode are always checked.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Build.Concurrency < 1 || c.Build.Concurrency > 32 {
		problems = append(problems, "build.concurrency must be between 1 and 32")
	}
	if c.Inspect.Concurrency < 1 || c.Inspect.Concurrency > 32 {
		problems = append(problems, "inspect.concurrency must be between 1 and 32")
	}
	if c.Inspect.MaxScanRows < 1 {
		problems = append(problems, "inspect.max_scan_rows must be >= 1")
	}
	if c.HTTP.TimeoutSecs < 1 {
		problems = append(problems, "http.timeout_secs must be >= 1")
	}
	if c.HTTP.Retries < 1 || c.HTTP.Retries > 20 {
		problems = append(problems, "http.retries must be between 1 and 20")
	}
	if c.HTTP.JitterFraction < 0 || c.HTTP.JitterFraction > 1 {
		problems = append(problems, "http.jitter_fraction must be within [0, 1]")
	}

	switch mode {
	case "validate", "run", "build", "messy", "inspect", "quality", "release", "docs":
		if c.Catalog.Path == "" {
			problems = append(problems, "catalog.path is required")
		}
	case "status", "runs":
		// Store-only modes.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch mode {
	case "run", "build", "messy", "status", "runs":
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
