package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"storyscene-server/logger"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/config.yaml"

type ServerConfig struct {
	Port            string        `yaml:"port" validate:"required"`
	Mode            string        `yaml:"mode" validate:"omitempty,oneof=debug release test"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn" validate:"required"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// MinIOConfig 对象存储配置，Domain 非空时直接拼接公开地址而不签名
type MinIOConfig struct {
	Endpoint  string        `yaml:"endpoint" validate:"required"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket" validate:"required"`
	UseSSL    bool          `yaml:"use_ssl"`
	Domain    string        `yaml:"domain" validate:"omitempty,url"`
	Region    string        `yaml:"region"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

type ChatConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Model   string `yaml:"model"`
}

type ImageConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Model   string `yaml:"model"`
	Size    string `yaml:"size"`
}

type VideoConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Model   string `yaml:"model"`
}

type AIConfig struct {
	Chat  ChatConfig  `yaml:"chat"`
	Image ImageConfig `yaml:"image"`
	Video VideoConfig `yaml:"video"`
}

// WorkerConfig 视频任务的后台等待与巡检
type WorkerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Concurrency       int           `yaml:"concurrency" validate:"gte=0"`
	WaitInterval      time.Duration `yaml:"wait_interval"`
	WaitMax           time.Duration `yaml:"wait_max"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StalledAfter      time.Duration `yaml:"stalled_after"`
	ProcessingLease   time.Duration `yaml:"processing_lease"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" validate:"required,min=16"`
}

type Config struct {
	Server ServerConfig  `yaml:"server"`
	MySQL  MySQLConfig   `yaml:"mysql"`
	Redis  RedisConfig   `yaml:"redis"`
	MinIO  MinIOConfig   `yaml:"minio"`
	AI     AIConfig      `yaml:"ai"`
	Worker WorkerConfig  `yaml:"worker"`
	Auth   AuthConfig    `yaml:"auth"`
	Log    logger.Config `yaml:"log"`
}

var AppConfig *Config

// InitConfig 读取默认路径的配置，失败直接退出
func InitConfig() {
	cfg, err := Load(DefaultPath)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	AppConfig = cfg
}

// Load reads the yaml file, applies .env and environment overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("配置文件读取失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("配置文件解析失败: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "SERVER_PORT")
	setString(&c.Server.Mode, "GIN_MODE")
	setString(&c.MySQL.DSN, "MYSQL_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.MinIO.Endpoint, "MINIO_ENDPOINT")
	setString(&c.MinIO.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.MinIO.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.AI.Chat.APIKey, "ZHIPU_API_KEY")
	// 火山方舟的图片和视频共用一个 key
	setString(&c.AI.Image.APIKey, "VOLC_API_KEY")
	setString(&c.AI.Video.APIKey, "VOLC_API_KEY")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v, ok := os.LookupEnv("WORKER_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Worker.Enabled = b
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.MinIO.URLExpiry <= 0 {
		c.MinIO.URLExpiry = time.Hour
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 4
	}
	if c.Worker.WaitInterval <= 0 {
		c.Worker.WaitInterval = 5 * time.Second
	}
	if c.Worker.WaitMax <= 0 {
		c.Worker.WaitMax = 10 * time.Minute
	}
	if c.Worker.JobTimeout <= 0 {
		c.Worker.JobTimeout = c.Worker.WaitMax + 5*time.Minute
	}
	if c.Worker.ReconcileInterval <= 0 {
		c.Worker.ReconcileInterval = 5 * time.Minute
	}
	if c.Worker.StalledAfter <= 0 {
		c.Worker.StalledAfter = 15 * time.Minute
	}
	if c.Worker.ProcessingLease <= 0 {
		c.Worker.ProcessingLease = 30 * time.Minute
	}

	def := logger.DefaultConfig()
	if c.Log.Level == "" {
		c.Log.Level = def.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = def.Output
	}
	if c.Log.FilePath == "" {
		c.Log.FilePath = def.FilePath
	}
	if c.Log.MaxSize <= 0 {
		c.Log.MaxSize = def.MaxSize
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = def.MaxBackups
	}
	if c.Log.MaxAge <= 0 {
		c.Log.MaxAge = def.MaxAge
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if c.Worker.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("配置校验失败: worker.enabled requires redis.addr")
	}
	return nil
}

// WorkerEnabled reports whether the asynq worker and reconciler should run.
func (c *Config) WorkerEnabled() bool {
	return c.Worker.Enabled && c.Redis.Addr != ""
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
