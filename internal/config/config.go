package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	// Admins are users with the admin role in every room. Only the memory
	// driver reads it; the other drivers keep roles in their store.
	Admins []string `mapstructure:"admins"`

	Store     StoreConfig     `mapstructure:"store"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Voice     VoiceConfig     `mapstructure:"voice"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

type StoreConfig struct {
	// Driver is one of memory, redis, postgres.
	Driver        string `mapstructure:"driver"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
}

type SyncConfig struct {
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
	Fanout         int           `mapstructure:"fanout"`
}

// TasksConfig enables the asynq time-limit worker. It needs Redis even
// when the store driver is postgres.
type TasksConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
}

type VoiceConfig struct {
	ConnectInitialInterval time.Duration `mapstructure:"connect_initial_interval"`
	ConnectMaxInterval     time.Duration `mapstructure:"connect_max_interval"`
	ConnectMaxElapsed      time.Duration `mapstructure:"connect_max_elapsed"`
	ICEServers             []string      `mapstructure:"ice_servers"`
}

type RateLimitConfig struct {
	MicRequests int           `mapstructure:"mic_requests"`
	Interval    time.Duration `mapstructure:"interval"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis_addr", "127.0.0.1:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key_prefix", "microom:")

	v.SetDefault("sync.resync_interval", "30s")
	v.SetDefault("sync.fanout", 8)

	v.SetDefault("tasks.enabled", false)
	v.SetDefault("tasks.concurrency", 4)

	v.SetDefault("voice.connect_initial_interval", "250ms")
	v.SetDefault("voice.connect_max_interval", "5s")
	v.SetDefault("voice.connect_max_elapsed", "30s")
	v.SetDefault("voice.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("ratelimit.mic_requests", 5)
	v.SetDefault("ratelimit.interval", "10s")

	v.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load reads config/config.<CONFIG_ENV>.yaml, then MICROOM_* overrides.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("module", "config").Msg("cannot read .env")
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("MICROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "redis":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Tasks.Enabled && c.Tasks.Concurrency <= 0 {
		return fmt.Errorf("config: tasks.concurrency must be positive")
	}
	return nil
}
