package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full application configuration. It is populated once at
// startup from the config file, DEMOVAULT_* environment variables, and flag
// overrides, in that order of precedence.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Steam    SteamConfig    `mapstructure:"steam" yaml:"steam"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Crawler  CrawlerConfig  `mapstructure:"crawler" yaml:"crawler"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Web      WebConfig      `mapstructure:"web" yaml:"web"`
}

// LoggerConfig mirrors the knobs consumed by internal/observability.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SteamConfig names the pages the session flows and crawler talk to. These
// are configurable mostly so tests can point them at local servers.
type SteamConfig struct {
	CommunityURL    string `mapstructure:"community_url" yaml:"community_url"`
	LoginURL        string `mapstructure:"login_url" yaml:"login_url"`
	ProfileURL      string `mapstructure:"profile_url" yaml:"profile_url"`
	MatchHistoryURL string `mapstructure:"match_history_url" yaml:"match_history_url"`
}

type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ExtraArgs         []string      `mapstructure:"extra_args" yaml:"extra_args"`
}

type SessionConfig struct {
	CookieFile      string        `mapstructure:"cookie_file" yaml:"cookie_file"`
	FreshnessWindow time.Duration `mapstructure:"freshness_window" yaml:"freshness_window"`
	ValidateTimeout time.Duration `mapstructure:"validate_timeout" yaml:"validate_timeout"`
	LoginTimeout    time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
}

type CrawlerConfig struct {
	MaxStaleRows int           `mapstructure:"max_stale_rows" yaml:"max_stale_rows"`
	LoadMoreWait time.Duration `mapstructure:"load_more_wait" yaml:"load_more_wait"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

type DownloadConfig struct {
	OutputDir      string        `mapstructure:"output_dir" yaml:"output_dir"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
}

type WebConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// SetDefaults registers the default value for every key on the given viper
// instance. Callers bind flags and env vars on top of these.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "demovault")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)

	v.SetDefault("steam.community_url", "https://steamcommunity.com")
	v.SetDefault("steam.login_url", "https://steamcommunity.com/login")
	v.SetDefault("steam.profile_url", "https://steamcommunity.com/my")
	v.SetDefault("steam.match_history_url", "https://steamcommunity.com/my/gcpd/730?tab=matchhistorypremier")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)

	v.SetDefault("session.cookie_file", "steam_cookies.json")
	v.SetDefault("session.freshness_window", 24*time.Hour)
	v.SetDefault("session.validate_timeout", 5*time.Second)
	v.SetDefault("session.login_timeout", 300*time.Second)

	v.SetDefault("crawler.max_stale_rows", 3)
	v.SetDefault("crawler.load_more_wait", 10*time.Second)
	v.SetDefault("crawler.settle_delay", 3*time.Second)

	v.SetDefault("download.output_dir", "replays")
	v.SetDefault("download.max_concurrency", 5)
	v.SetDefault("download.request_timeout", 5*time.Minute)
	v.SetDefault("download.rate_per_second", 0)

	v.SetDefault("web.listen_addr", "127.0.0.1:5000")
}

// Load reads configuration from the optional file path plus DEMOVAULT_* env
// vars and returns the populated Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DEMOVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Download.OutputDir == "" {
		return fmt.Errorf("download.output_dir must not be empty")
	}
	if c.Download.MaxConcurrency < 1 {
		return fmt.Errorf("download.max_concurrency must be at least 1, got %d", c.Download.MaxConcurrency)
	}
	if c.Session.CookieFile == "" {
		return fmt.Errorf("session.cookie_file must not be empty")
	}
	if c.Crawler.MaxStaleRows < 1 {
		return fmt.Errorf("crawler.max_stale_rows must be at least 1, got %d", c.Crawler.MaxStaleRows)
	}
	if c.Session.FreshnessWindow < 0 {
		return fmt.Errorf("session.freshness_window must not be negative")
	}
	return nil
}
