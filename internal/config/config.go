package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name  string `mapstructure:"name"`
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SweepConfig controls the inbound mail sweep task.
type SweepConfig struct {
	Schedule          string        `mapstructure:"schedule"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	TenantWorkers     int           `mapstructure:"tenant_workers"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	DeleteAfterFetch  bool          `mapstructure:"delete_after_fetch"`
	DefaultStatusID   int           `mapstructure:"default_status_id"`
	DefaultPriorityID int           `mapstructure:"default_priority_id"`
	DefaultCategoryID int           `mapstructure:"default_category_id"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from file and environment. Safe to call more than
// once; only the first call parses.
func Load(path string) (*Config, error) {
	var loadErr error
	once.Do(func() {
		v := viper.New()
		setDefaults(v)

		v.SetEnvPrefix("MAILROOM")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if path != "" {
			v.SetConfigFile(path)
		} else {
			v.SetConfigName("mailroom")
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
			v.AddConfigPath("/etc/mailroom")
		}

		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine; env and defaults still apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
				loadErr = fmt.Errorf("read config: %w", err)
				return
			}
		}

		c := &Config{}
		if err := v.Unmarshal(c); err != nil {
			loadErr = fmt.Errorf("unmarshal config: %w", err)
			return
		}

		mu.Lock()
		cfg = c
		mu.Unlock()
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return Get(), nil
}

// Get returns the loaded configuration, or defaults when Load was never called.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if cfg == nil {
		return defaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mailroom")
	v.SetDefault("app.env", "production")
	v.SetDefault("app.debug", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mailroom")
	v.SetDefault("database.user", "mailroom")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sweep.schedule", "0 */5 * * * *")
	v.SetDefault("sweep.timeout", 10*time.Minute)
	v.SetDefault("sweep.max_retries", 3)
	v.SetDefault("sweep.tenant_workers", 4)
	v.SetDefault("sweep.dial_timeout", 15*time.Second)
	v.SetDefault("sweep.delete_after_fetch", false)
	v.SetDefault("sweep.default_status_id", 1)
	v.SetDefault("sweep.default_priority_id", 3)
	v.SetDefault("sweep.default_category_id", 1)
	v.SetDefault("sweep.lock_ttl", 15*time.Minute)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9190")
}

func defaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	c := &Config{}
	_ = v.Unmarshal(c)
	return c
}

// DSN builds the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// Addr returns the host:port pair for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
