package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GUESTSYNC_REMOTE_BASE_URL.
const EnvPrefix = "GUESTSYNC"

type (
	Config struct {
		Remote Remote `mapstructure:"remote"`
		Store  Store  `mapstructure:"store"`
		Paging Paging `mapstructure:"paging"`
		Log    Log    `mapstructure:"log"`
		HTTP   HTTP   `mapstructure:"http"`
	}

	Remote struct {
		BaseURL string        `mapstructure:"base_url"`
		Path    string        `mapstructure:"path"`
		Timeout time.Duration `mapstructure:"timeout"`
	}

	Store struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
		Debug  bool   `mapstructure:"debug"`
	}

	Paging struct {
		PageSize         int `mapstructure:"page_size"`
		PrefetchDistance int `mapstructure:"prefetch_distance"`
	}

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	// HTTP configures the read API started by "guestsync serve".
	HTTP struct {
		Listen string `mapstructure:"listen"`
	}
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("remote.base_url", "https://plannix.in/")
	v.SetDefault("remote.path", "web/guest_list.php")
	v.SetDefault("remote.timeout", 15*time.Second)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "visitor_log.db")
	v.SetDefault("store.debug", false)

	v.SetDefault("paging.page_size", 5)
	v.SetDefault("paging.prefetch_distance", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.listen", ":8080")
}

// Load reads configFile (json, yaml or toml by extension) when it is not empty,
// applies GUESTSYNC_* environment overrides and validates the result.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}

	switch c.Store.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unknown store.driver '%s'", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}

	if c.Paging.PageSize < 1 {
		return fmt.Errorf("paging.page_size must be >= 1")
	}
	if c.Paging.PrefetchDistance < 0 {
		return fmt.Errorf("paging.prefetch_distance must be >= 0")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level '%s': %w", l.Level, err)
	}

	return level, nil
}
