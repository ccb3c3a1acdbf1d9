package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/busboard/internal/auth"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	StaticPath    string        `mapstructure:"static_path"`
	LogLevel      string        `mapstructure:"log_level"`
	Secret        string        `mapstructure:"secret"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	PongWait      time.Duration `mapstructure:"pong_wait"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	SessionMaxAge time.Duration `mapstructure:"session_max_age"`
	SeedPath      string        `mapstructure:"seed_path"`
	MetricsPath   string        `mapstructure:"metrics_path"`
	CORS          CORSConfig    `mapstructure:"cors"`
	RateLimit     RateConfig    `mapstructure:"rate_limit"`
	Auth          AuthConfig    `mapstructure:"auth"`
	Storage       StorageConfig `mapstructure:"storage"`
	Audio         AudioConfig   `mapstructure:"audio"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateConfig limits inbound patches per connection. Zero disables the limit.
type RateConfig struct {
	PatchesPerSecond float64 `mapstructure:"patches_per_second"`
	Burst            int     `mapstructure:"burst"`
}

type AuthConfig struct {
	MaxAttempts     int               `mapstructure:"max_attempts"`
	LockoutWindow   time.Duration     `mapstructure:"lockout_window"`
	Users           []auth.Credential `mapstructure:"users"`
	DefaultPassword string            `mapstructure:"default_password"`
}

type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalPath string `mapstructure:"local_path"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	KeyID     string `mapstructure:"key_id"`
	AppKey    string `mapstructure:"app_key"`
	Prefix    string `mapstructure:"prefix"`
}

// AudioConfig holds storage references of the fixed audio cues. The *File
// paths, when set, are copied into storage at startup if the reference is
// missing there.
type AudioConfig struct {
	Announcement     string `mapstructure:"announcement"`
	Booking          string `mapstructure:"booking"`
	AnnouncementFile string `mapstructure:"announcement_file"`
	BookingFile      string `mapstructure:"booking_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("session_max_age", "168h")
	v.SetDefault("seed_path", "")
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("rate_limit.patches_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("auth.max_attempts", auth.DefaultMaxAttempts)
	v.SetDefault("auth.lockout_window", auth.DefaultLockoutWindow.String())
	v.SetDefault("auth.default_password", "adminpass")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.local_path", "./data")
	v.SetDefault("storage.bucket", "busboard")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("audio.announcement", "audio/announcement.mp3")
	v.SetDefault("audio.booking", "audio/booking.mp3")
	v.SetDefault("audio.announcement_file", "")
	v.SetDefault("audio.booking_file", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BUSBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). A missing
// file is not an error; defaults and BUSBOARD_* variables still apply.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env), true)
}

// LoadFile reads the given file, which must exist.
func LoadFile(path string) (*Config, error) {
	return load(path, false)
}

func load(fileName string, optional bool) (*Config, error) {
	v := newViper()
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		if !optional {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
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
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Str("storage", cfg.Storage.Provider).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Provider {
	case "memory", "local", "s3":
	default:
		return fmt.Errorf("storage.provider %q: want memory, local or s3", c.Storage.Provider)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	return nil
}
