package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var Version = "dev"

const (
	MB = 1024 * 1024

	DiskSpaceMinGB  = 5
	RateLimitWindow = 60 * time.Second
	RateLimitMax    = 60
	MaxUploadBody   = 512 * MB

	// IncomingDir holds received uploads inside the temp dir until their
	// tasks retire.
	IncomingDir = "incoming"
)

var ContainerMIMEs = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"mov":  "video/quicktime",
	"jpg":  "image/jpeg",
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Compress  CompressConfig  `mapstructure:"compress"`
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Log       LogConfig       `mapstructure:"log"`
	TempDir   string          `mapstructure:"temp_dir"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// APIURL is where the transport finds the sign and upload endpoints.
	APIURL   string `mapstructure:"api_url"`
	Secret   string `mapstructure:"secret"`
	CORSFile string `mapstructure:"cors_file"`
}

type UploadConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	DirectLimitMB int64         `mapstructure:"direct_limit_mb"`
	RetainFor     time.Duration `mapstructure:"retain_for"`
	ResetDelay    time.Duration `mapstructure:"reset_delay"`
	ProgressTick  time.Duration `mapstructure:"progress_tick"`
}

func (u UploadConfig) DirectLimitBytes() int64 {
	return u.DirectLimitMB * MB
}

type CompressConfig struct {
	FFmpegPath   string        `mapstructure:"ffmpeg_path"`
	FFprobePath  string        `mapstructure:"ffprobe_path"`
	MaxSourceMB  int64         `mapstructure:"max_source_mb"`
	MaxDimension int           `mapstructure:"max_dimension"`
	MinTargetMB  float64       `mapstructure:"min_target_mb"`
	MaxTargetMB  float64       `mapstructure:"max_target_mb"`
	FPS          int           `mapstructure:"fps"`
	MinBitrate   int           `mapstructure:"min_bitrate"`
	AudioBitrate string        `mapstructure:"audio_bitrate"`
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
	SafetyCap    time.Duration `mapstructure:"safety_cap"`
}

func (c CompressConfig) MaxSourceBytes() int64 {
	return c.MaxSourceMB * MB
}

type ThumbnailConfig struct {
	SeekTimeout time.Duration `mapstructure:"seek_timeout"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Quality     int           `mapstructure:"quality"`
}

type StorageConfig struct {
	Driver  string        `mapstructure:"driver"`
	SignTTL time.Duration `mapstructure:"sign_ttl"`
	Local   LocalConfig   `mapstructure:"local"`
	S3      S3Config      `mapstructure:"s3"`
}

type LocalConfig struct {
	Dir     string `mapstructure:"dir"`
	BaseURL string `mapstructure:"base_url"`
}

type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	PublicURL    string `mapstructure:"public_url"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type AlertsConfig struct {
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
	DiscordPingUserID string `mapstructure:"discord_ping_user_id"`
}

func (a AlertsConfig) Enabled() bool {
	return a.DiscordWebhookURL != ""
}

type CleanupConfig struct {
	Schedule      string        `mapstructure:"schedule"`
	FileRetention time.Duration `mapstructure:"file_retention"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads .env, an optional config file and REELUP_* environment variables,
// in increasing order of precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REELUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("temp_dir", "/var/tmp/reelup")

	v.SetDefault("server.port", "3001")
	v.SetDefault("server.api_url", "http://localhost:3001")
	v.SetDefault("server.secret", "")
	v.SetDefault("server.cors_file", "cors-origins.txt")

	v.SetDefault("upload.max_concurrent", 2)
	v.SetDefault("upload.direct_limit_mb", 50)
	v.SetDefault("upload.retain_for", "10m")
	v.SetDefault("upload.reset_delay", "3s")
	v.SetDefault("upload.progress_tick", "300ms")

	v.SetDefault("compress.ffmpeg_path", "ffmpeg")
	v.SetDefault("compress.ffprobe_path", "ffprobe")
	v.SetDefault("compress.max_source_mb", 200)
	v.SetDefault("compress.max_dimension", 1080)
	v.SetDefault("compress.min_target_mb", 8)
	v.SetDefault("compress.max_target_mb", 35)
	v.SetDefault("compress.fps", 24)
	v.SetDefault("compress.min_bitrate", 200000)
	v.SetDefault("compress.audio_bitrate", "128k")
	v.SetDefault("compress.safety_margin", "30s")
	v.SetDefault("compress.safety_cap", "5m")

	v.SetDefault("thumbnail.seek_timeout", "4s")
	v.SetDefault("thumbnail.timeout", "20s")
	v.SetDefault("thumbnail.quality", 85)

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.sign_ttl", "15m")
	v.SetDefault("storage.local.dir", "data/media")
	v.SetDefault("storage.local.base_url", "http://localhost:3001")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.public_url", "")
	v.SetDefault("storage.s3.use_path_style", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("alerts.discord_webhook_url", "")
	v.SetDefault("alerts.discord_ping_user_id", "")

	v.SetDefault("cleanup.schedule", "@every 5m")
	v.SetDefault("cleanup.file_retention", "20m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", filepath.Join("data", "logs", "reelup.log"))
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Upload.MaxConcurrent < 1 {
		errs = append(errs, errors.New("upload.max_concurrent must be at least 1"))
	}
	if c.Compress.MinTargetMB <= 0 || c.Compress.MinTargetMB > c.Compress.MaxTargetMB {
		errs = append(errs, fmt.Errorf("compress target range [%g, %g] is invalid", c.Compress.MinTargetMB, c.Compress.MaxTargetMB))
	}
	if c.Compress.MaxDimension < 2 {
		errs = append(errs, errors.New("compress.max_dimension must be at least 2"))
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		errs = append(errs, errors.New("thumbnail.quality must be within 1..100"))
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}
