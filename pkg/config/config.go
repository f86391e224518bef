package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultOrigin         = "https://api.robinhood.com"
	DefaultAPIVersion     = "1.280.0"
	DefaultClientID       = "c82SH0WZOsabOXGP2sxqcj34FxkvfnWRZBKlBjFS"
	DefaultScope          = "internal"
	DefaultExpiresIn      = 3600 * time.Second
	DefaultRenewThreshold = 60 * time.Second
	DefaultCheckInterval  = 10 * time.Second
	DefaultTimeout        = 30 * time.Second
)

// APIConfig 远端 API 配置
type APIConfig struct {
	Origin            string
	APIVersion        string
	Timeout           time.Duration
	RequestsPerSecond int // 0 disables the client-side limiter
}

// AuthConfig 登录凭证配置
type AuthConfig struct {
	Username    string
	Password    string
	MFASecret   string // base32 TOTP secret; empty means codes are typed in
	ClientID    string
	Scope       string
	ExpiresIn   time.Duration
	DeviceToken string
}

// SessionConfig controls the credential renewal loop.
type SessionConfig struct {
	RenewThreshold time.Duration
	CheckInterval  time.Duration
}

// TokenStoreConfig points at the encrypted credential store. An empty Path
// disables it.
type TokenStoreConfig struct {
	Path          string
	EncryptionKey string
}

// OrdersConfig guards live order submission.
type OrdersConfig struct {
	// MaxConsecutiveFailures halts live submissions after this many failed
	// ones in a row; 0 disables the breaker.
	MaxConsecutiveFailures int
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	JSON       bool
}

// Config 应用配置
type Config struct {
	API        APIConfig
	Auth       AuthConfig
	Session    SessionConfig
	TokenStore TokenStoreConfig
	Orders     OrdersConfig
	Log        LogConfig
	// SafeMode previews every order and asks for confirmation before the
	// live submission. Only RH_SAFEMODE_OFF=1 turns it off.
	SafeMode bool
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	API struct {
		Origin            string `yaml:"origin" json:"origin"`
		APIVersion        string `yaml:"api_version" json:"api_version"`
		Timeout           string `yaml:"timeout" json:"timeout"`
		RequestsPerSecond int    `yaml:"requests_per_second" json:"requests_per_second"`
	} `yaml:"api" json:"api"`
	Auth struct {
		Username    string `yaml:"username" json:"username"`
		Password    string `yaml:"password" json:"password"`
		MFASecret   string `yaml:"mfa_secret" json:"mfa_secret"`
		ClientID    string `yaml:"client_id" json:"client_id"`
		Scope       string `yaml:"scope" json:"scope"`
		ExpiresIn   string `yaml:"expires_in" json:"expires_in"`
		DeviceToken string `yaml:"device_token" json:"device_token"`
	} `yaml:"auth" json:"auth"`
	Session struct {
		RenewThreshold string `yaml:"renew_threshold" json:"renew_threshold"`
		CheckInterval  string `yaml:"check_interval" json:"check_interval"`
	} `yaml:"session" json:"session"`
	TokenStore struct {
		Path          string `yaml:"path" json:"path"`
		EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
	} `yaml:"token_store" json:"token_store"`
	Orders struct {
		MaxConsecutiveFailures *int `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	} `yaml:"orders" json:"orders"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		JSON       bool   `yaml:"json" json:"json"`
	} `yaml:"log" json:"log"`
}

// Default returns the configuration used when no file and no env is given.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Origin:     DefaultOrigin,
			APIVersion: DefaultAPIVersion,
			Timeout:    DefaultTimeout,
		},
		Auth: AuthConfig{
			ClientID:  DefaultClientID,
			Scope:     DefaultScope,
			ExpiresIn: DefaultExpiresIn,
		},
		Session: SessionConfig{
			RenewThreshold: DefaultRenewThreshold,
			CheckInterval:  DefaultCheckInterval,
		},
		Orders: OrdersConfig{MaxConsecutiveFailures: 3},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
		},
		SafeMode: true,
	}
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置。优先级：环境变量 > 配置文件 > 默认值。
// An empty filePath skips the file.
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		configFile, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
		if err := applyFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(cfg)

	globalConfig = cfg
	configFilePath = filePath
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var configFile ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yaml, .yml or .json)", ext)
	}
	return &configFile, nil
}

func applyFile(cfg *Config, cf *ConfigFile) error {
	cfg.API.Origin = getValueFromSources(cf.API.Origin, cfg.API.Origin)
	cfg.API.APIVersion = getValueFromSources(cf.API.APIVersion, cfg.API.APIVersion)
	if cf.API.RequestsPerSecond > 0 {
		cfg.API.RequestsPerSecond = cf.API.RequestsPerSecond
	}

	cfg.Auth.Username = getValueFromSources(cf.Auth.Username, cfg.Auth.Username)
	cfg.Auth.Password = getValueFromSources(cf.Auth.Password, cfg.Auth.Password)
	cfg.Auth.MFASecret = getValueFromSources(cf.Auth.MFASecret, cfg.Auth.MFASecret)
	cfg.Auth.ClientID = getValueFromSources(cf.Auth.ClientID, cfg.Auth.ClientID)
	cfg.Auth.Scope = getValueFromSources(cf.Auth.Scope, cfg.Auth.Scope)
	cfg.Auth.DeviceToken = getValueFromSources(cf.Auth.DeviceToken, cfg.Auth.DeviceToken)

	cfg.TokenStore.Path = getValueFromSources(cf.TokenStore.Path, cfg.TokenStore.Path)
	cfg.TokenStore.EncryptionKey = getValueFromSources(cf.TokenStore.EncryptionKey, cfg.TokenStore.EncryptionKey)

	if cf.Orders.MaxConsecutiveFailures != nil {
		cfg.Orders.MaxConsecutiveFailures = *cf.Orders.MaxConsecutiveFailures
	}

	cfg.Log.Level = getValueFromSources(cf.Log.Level, cfg.Log.Level)
	cfg.Log.File = getValueFromSources(cf.Log.File, cfg.Log.File)
	cfg.Log.JSON = cf.Log.JSON
	if cf.Log.MaxSize > 0 {
		cfg.Log.MaxSize = cf.Log.MaxSize
	}
	if cf.Log.MaxBackups > 0 {
		cfg.Log.MaxBackups = cf.Log.MaxBackups
	}
	if cf.Log.MaxAge > 0 {
		cfg.Log.MaxAge = cf.Log.MaxAge
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"api.timeout", cf.API.Timeout, &cfg.API.Timeout},
		{"auth.expires_in", cf.Auth.ExpiresIn, &cfg.Auth.ExpiresIn},
		{"session.renew_threshold", cf.Session.RenewThreshold, &cfg.Session.RenewThreshold},
		{"session.check_interval", cf.Session.CheckInterval, &cfg.Session.CheckInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// applyEnvOverrides 环境变量覆盖
func applyEnvOverrides(cfg *Config) {
	cfg.API.Origin = getEnv("RH_ORIGIN", cfg.API.Origin)
	cfg.API.APIVersion = getEnv("RH_API_VERSION", cfg.API.APIVersion)
	cfg.API.RequestsPerSecond = parseIntEnv("RH_REQUESTS_PER_SECOND", cfg.API.RequestsPerSecond)

	cfg.Auth.Username = getEnv("RH_USERNAME", cfg.Auth.Username)
	cfg.Auth.Password = getEnv("RH_PASSWORD", cfg.Auth.Password)
	cfg.Auth.MFASecret = getEnv("RH_MFA_SECRET", cfg.Auth.MFASecret)
	cfg.Auth.DeviceToken = getEnv("RH_DEVICE_TOKEN", cfg.Auth.DeviceToken)

	cfg.TokenStore.Path = getEnv("RH_TOKEN_STORE", cfg.TokenStore.Path)
	cfg.TokenStore.EncryptionKey = getEnv("RH_TOKEN_STORE_KEY", cfg.TokenStore.EncryptionKey)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	// anything but exactly "1" keeps safe mode on
	cfg.SafeMode = os.Getenv("RH_SAFEMODE_OFF") != "1"
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.Origin, "https://") && !strings.HasPrefix(c.API.Origin, "http://") {
		return fmt.Errorf("api.origin must be an absolute http(s) url, got %q", c.API.Origin)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second cannot be negative")
	}
	if c.Orders.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("orders.max_consecutive_failures cannot be negative")
	}
	if c.Auth.ClientID == "" {
		return fmt.Errorf("auth.client_id is required")
	}
	if c.Auth.ExpiresIn <= c.Session.RenewThreshold {
		return fmt.Errorf("auth.expires_in (%s) must exceed session.renew_threshold (%s)", c.Auth.ExpiresIn, c.Session.RenewThreshold)
	}
	if c.Session.CheckInterval <= 0 {
		return fmt.Errorf("session.check_interval must be positive")
	}
	if c.Session.RenewThreshold < 30*time.Second {
		return fmt.Errorf("session.renew_threshold must be at least 30s")
	}
	if c.Session.CheckInterval >= c.Session.RenewThreshold {
		return fmt.Errorf("session.check_interval must be shorter than session.renew_threshold")
	}
	return nil
}

func getValueFromSources(configValue, fallback string) string {
	if configValue != "" {
		return configValue
	}
	return fallback
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
