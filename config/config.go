// Package config loads the immutable startup configuration.
//
// Values come from, in increasing priority: defaults, a YAML file, PRERENDER_*
// environment variables, and command-line flags bound by the caller.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/krisalay/prerender-cache/engine"
)

// DefaultBots matches the crawlers that get rendered pages.
const DefaultBots = `Googlebot|Bingbot|Slurp|DuckDuckBot|Baiduspider|YandexBot`

type Config struct {
	Listen    string `mapstructure:"listen"`
	Upstream  string `mapstructure:"upstream"`
	Shell     string `mapstructure:"shell"`
	RenderAll bool   `mapstructure:"render_all"`
	Bots      string `mapstructure:"bots"`
	Compress  bool   `mapstructure:"compress"`

	Cache   CacheConfig   `mapstructure:"cache"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Render  RenderConfig  `mapstructure:"render"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
}

type CacheConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Shards int           `mapstructure:"shards"`
}

type WorkerConfig struct {
	RecycleInterval time.Duration `mapstructure:"recycle_interval"`
	LaunchInterval  time.Duration `mapstructure:"launch_interval"`
	ExecPath        string        `mapstructure:"exec_path"`
	Flags           []string      `mapstructure:"flags"`
}

type RenderConfig struct {
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout"`
	ReadinessTimeout    time.Duration `mapstructure:"readiness_timeout"`
	ReadinessExpression string        `mapstructure:"readiness_expression"`
	Minify              bool          `mapstructure:"minify"`
}

type SessionConfig struct {
	Headers        map[string]string `mapstructure:"headers"`
	BlockResources []string          `mapstructure:"block_resources"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so env overrides work without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":29953")
	v.SetDefault("upstream", "http://127.0.0.1:8080")
	v.SetDefault("shell", "dist/index.html")
	v.SetDefault("render_all", false)
	v.SetDefault("bots", DefaultBots)
	v.SetDefault("compress", true)

	v.SetDefault("cache.ttl", 6*time.Hour)
	v.SetDefault("cache.shards", 16)

	v.SetDefault("worker.recycle_interval", 30*time.Minute)
	v.SetDefault("worker.launch_interval", 5*time.Second)
	v.SetDefault("worker.exec_path", "")
	v.SetDefault("worker.flags", []string{})

	v.SetDefault("render.navigation_timeout", 20*time.Second)
	v.SetDefault("render.readiness_timeout", 10*time.Second)
	v.SetDefault("render.readiness_expression", engine.DefaultReadinessExpression)
	v.SetDefault("render.minify", true)

	v.SetDefault("session.headers", map[string]string{})
	v.SetDefault("session.block_resources", []string{"image", "media", "font"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// NewViper returns a viper instance with defaults and env binding in place.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("prerender")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads an optional config file into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if _, err := engine.UpstreamResolver(c.Upstream); err != nil {
		errs = append(errs, err)
	}
	if _, err := regexp.Compile(c.Bots); err != nil {
		errs = append(errs, fmt.Errorf("bots pattern: %w", err))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Render.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("render.navigation_timeout must be positive"))
	}
	if c.Render.ReadinessTimeout <= 0 {
		errs = append(errs, errors.New("render.readiness_timeout must be positive"))
	}
	if c.Worker.RecycleInterval < 0 {
		errs = append(errs, errors.New("worker.recycle_interval must not be negative"))
	}
	if c.Worker.LaunchInterval < 0 {
		errs = append(errs, errors.New("worker.launch_interval must not be negative"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Resolver resolves keys against the configured upstream.
func (c Config) Resolver() (engine.Resolver, error) {
	return engine.UpstreamResolver(c.Upstream)
}

// BotPattern compiles the crawler classifier, case-insensitively.
func (c Config) BotPattern() (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + c.Bots)
}
