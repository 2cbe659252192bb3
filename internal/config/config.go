package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Provider ProviderConfig `yaml:"provider"`
	Engine   EngineConfig   `yaml:"engine"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// gin 运行模式：debug/release/test
	Mode            string        `yaml:"mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// mysql / sqlite
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Charset  string `yaml:"charset"`
	// sqlite 文件路径（":memory:" 用于测试）
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	// gorm 日志级别：silent/error/warn/info
	LogLevel string `yaml:"log_level"`
}

type StorageConfig struct {
	// s3 / local
	Driver         string `yaml:"driver"`
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	LocalDir       string `yaml:"local_dir"`
}

type ProviderConfig struct {
	// 研究未指定 provider 时使用
	Default   string              `yaml:"default"`
	Timeout   time.Duration       `yaml:"timeout"`
	MaxTokens int                 `yaml:"max_tokens"`
	OpenAI    ProviderCredentials `yaml:"openai"`
	Anthropic ProviderCredentials `yaml:"anthropic"`
}

type ProviderCredentials struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type EngineConfig struct {
	// 同时在途的分类请求上限（即窗口大小）
	Concurrency int `yaml:"concurrency"`
	// 重跑时是否先清空上一轮结果
	ClearPriorResultsOnRerun *bool `yaml:"clear_prior_results_on_rerun"`
	// running 状态超过该时长且本进程无对应任务，视为中断
	StaleAfter     time.Duration `yaml:"stale_after"`
	ReaperSchedule string        `yaml:"reaper_schedule"`
}

// ClearOnRerun 未配置时默认清空
func (e EngineConfig) ClearOnRerun() bool {
	if e.ClearPriorResultsOnRerun == nil {
		return true
	}
	return *e.ClearPriorResultsOnRerun
}

type AuthConfig struct {
	UserHeader string `yaml:"user_header"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// json / console
	Format string `yaml:"format"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyEnvOverrides()
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnvOverrides 密钥类配置允许通过环境变量注入，避免写进配置文件
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Provider.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Provider.Anthropic.APIKey = v
	}
	if v := os.Getenv("STORAGE_ACCESS_KEY"); v != "" {
		c.Storage.AccessKey = v
	}
	if v := os.Getenv("STORAGE_SECRET_KEY"); v != "" {
		c.Storage.SecretKey = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
}

func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/studylab.db"
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "warn"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "local"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "social-experiment"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "data/objects"
	}

	if c.Provider.Default == "" {
		c.Provider.Default = "openai"
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 60 * time.Second
	}
	if c.Provider.MaxTokens <= 0 {
		c.Provider.MaxTokens = 4096
	}
	if c.Provider.OpenAI.BaseURL == "" {
		c.Provider.OpenAI.BaseURL = "https://api.openai.com/v1"
	}

	if c.Engine.Concurrency == 0 {
		c.Engine.Concurrency = 5
	}
	if c.Engine.StaleAfter <= 0 {
		c.Engine.StaleAfter = 10 * time.Minute
	}
	if c.Engine.ReaperSchedule == "" {
		c.Engine.ReaperSchedule = "@every 1m"
	}

	if c.Auth.UserHeader == "" {
		c.Auth.UserHeader = "X-User-ID"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "s3", "local":
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Provider.Default {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("不支持的模型提供方: %s", c.Provider.Default)
	}
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency 必须大于 0: %d", c.Engine.Concurrency)
	}
	return nil
}
