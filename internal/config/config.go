package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Media    MediaConfig    `mapstructure:"media"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Models   ModelsConfig   `mapstructure:"models"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Storage  StorageConfig  `mapstructure:"storage"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Metadata MetadataConfig `mapstructure:"metadata"`
}

type ServerConfig struct {
	Port          int        `mapstructure:"port"`
	Mode          string     `mapstructure:"mode"`
	MaxUploadMB   int64      `mapstructure:"max_upload_mb"`
	CORS          CORSConfig `mapstructure:"cors"`
	EnableMetrics bool       `mapstructure:"enable_metrics"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		if c.URL != "" {
			return c.URL
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

// MediaConfig describes where submissions and derived artifacts live on disk
// and how they are exposed over HTTP.
type MediaConfig struct {
	Root           string `mapstructure:"root"`
	HostURL        string `mapstructure:"host_url"`
	MediaURL       string `mapstructure:"media_url"`
	SubmissionsDir string `mapstructure:"submissions_dir"`
	FramesDir      string `mapstructure:"frames_dir"`
	CropsDir       string `mapstructure:"crops_dir"`
	SyntheticDir   string `mapstructure:"synthetic_dir"`
	FileFormat     string `mapstructure:"file_format"`
}

type PipelineConfig struct {
	FaceThreshold   float64 `mapstructure:"face_threshold"`
	FrameRate       float64 `mapstructure:"frame_rate"`
	Workers         int     `mapstructure:"workers"`
	CropSize        int     `mapstructure:"crop_size"`
	ELAQuality      int     `mapstructure:"ela_quality"`
	ELAScale        float64 `mapstructure:"ela_scale"`
	GradCAMLayer    string  `mapstructure:"gradcam_layer"`
	EnableGradCAM   bool    `mapstructure:"enable_gradcam"`
	EnableELA       bool    `mapstructure:"enable_ela"`
	PredictionCache bool    `mapstructure:"prediction_cache"`
	MemoryCacheSize int     `mapstructure:"memory_cache_size"`

	TextWindow             int     `mapstructure:"text_window"`
	TextStride             int     `mapstructure:"text_stride"`
	TextHighlightThreshold float64 `mapstructure:"text_highlight_threshold"`
}

type ModelsConfig struct {
	ServerURL       string        `mapstructure:"server_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FrameModel      string        `mapstructure:"frame_model"`
	CropModel       string        `mapstructure:"crop_model"`
	DetectorModel   string        `mapstructure:"detector_model"`
	AIImageModel    string        `mapstructure:"ai_image_model"`
	TextModel       string        `mapstructure:"text_model"` // empty disables text detection
	PersonClassID   int           `mapstructure:"person_class_id"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	BreakerHalfOpen uint32        `mapstructure:"breaker_half_open"`
	BreakerInterval time.Duration `mapstructure:"breaker_interval"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type FFmpegConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
}

type MetadataConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("models.server_url", "MODEL_SERVER_URL")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.public_url", "S3_PUBLIC_URL")
	v.BindEnv("media.host_url", "HOST_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_upload_mb", 200)
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/dmi.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("media.root", "./media")
	v.SetDefault("media.host_url", "http://localhost:8080")
	v.SetDefault("media.media_url", "/media/")
	v.SetDefault("media.submissions_dir", "submissions")
	v.SetDefault("media.frames_dir", "frames")
	v.SetDefault("media.crops_dir", "crops")
	v.SetDefault("media.synthetic_dir", "synthetic")
	v.SetDefault("media.file_format", "jpg")

	v.SetDefault("pipeline.face_threshold", 0.4)
	v.SetDefault("pipeline.frame_rate", 2.0)
	v.SetDefault("pipeline.workers", 1)
	v.SetDefault("pipeline.crop_size", 256)
	v.SetDefault("pipeline.ela_quality", 90)
	v.SetDefault("pipeline.ela_scale", 50.0)
	v.SetDefault("pipeline.gradcam_layer", "layer4.1")
	v.SetDefault("pipeline.enable_gradcam", true)
	v.SetDefault("pipeline.enable_ela", true)
	v.SetDefault("pipeline.prediction_cache", true)
	v.SetDefault("pipeline.memory_cache_size", 10000)
	v.SetDefault("pipeline.text_window", 100)
	v.SetDefault("pipeline.text_stride", 50)
	v.SetDefault("pipeline.text_highlight_threshold", 0.01)

	v.SetDefault("models.server_url", "http://localhost:8500")
	v.SetDefault("models.timeout", 60*time.Second)
	v.SetDefault("models.frame_model", "frame-resnet18")
	v.SetDefault("models.crop_model", "crop-resnet18")
	v.SetDefault("models.detector_model", "person-detector")
	v.SetDefault("models.ai_image_model", "ai-image-swinv2")
	v.SetDefault("models.text_model", "ai-text-bert")
	v.SetDefault("models.person_class_id", 0)
	v.SetDefault("models.breaker_failures", 5)
	v.SetDefault("models.breaker_timeout", 30*time.Second)
	v.SetDefault("models.breaker_half_open", 1)
	v.SetDefault("models.breaker_interval", time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 7*24*time.Hour)

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "dmi_submissions")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "dmi-artifacts")
	v.SetDefault("storage.prefix", "artifacts")

	v.SetDefault("ffmpeg.ffmpeg_path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")

	v.SetDefault("metadata.enabled", true)
}

// Validate checks ranges and required fields that the pipeline relies on.
func (c *Config) Validate() error {
	if c.Pipeline.FaceThreshold < 0 || c.Pipeline.FaceThreshold >= 1 {
		return fmt.Errorf("pipeline.face_threshold must be in [0,1), got %v", c.Pipeline.FaceThreshold)
	}
	if c.Pipeline.FrameRate <= 0 {
		return fmt.Errorf("pipeline.frame_rate must be positive, got %v", c.Pipeline.FrameRate)
	}
	if c.Pipeline.Workers < 1 {
		c.Pipeline.Workers = 1
	}
	if c.Pipeline.CropSize <= 0 {
		return fmt.Errorf("pipeline.crop_size must be positive, got %d", c.Pipeline.CropSize)
	}
	if c.Pipeline.ELAQuality < 1 || c.Pipeline.ELAQuality > 100 {
		return fmt.Errorf("pipeline.ela_quality must be in [1,100], got %d", c.Pipeline.ELAQuality)
	}
	if c.Pipeline.MemoryCacheSize < 0 {
		return fmt.Errorf("pipeline.memory_cache_size must not be negative, got %d", c.Pipeline.MemoryCacheSize)
	}
	if c.Pipeline.TextWindow > 0 && c.Pipeline.TextStride >= c.Pipeline.TextWindow {
		return fmt.Errorf("pipeline.text_stride must be smaller than pipeline.text_window, got %d >= %d",
			c.Pipeline.TextStride, c.Pipeline.TextWindow)
	}
	if c.Media.Root == "" {
		return fmt.Errorf("media.root is required")
	}
	switch strings.ToLower(c.Media.FileFormat) {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("media.file_format must be jpg or png, got %q", c.Media.FileFormat)
	}
	if c.Models.ServerURL == "" {
		return fmt.Errorf("models.server_url is required")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}
	return nil
}
