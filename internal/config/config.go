package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Telegram TelegramConfig `json:"telegram"`
	Email    EmailConfig    `json:"email"`
	OpenAI   OpenAIConfig   `json:"openai"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env           string        `json:"env"`            // 运行环境: local / prod
	LogLevel      string        `json:"log_level"`      // 日志级别: debug / info / warn / error
	HTTPAddr      string        `json:"http_addr"`      // API 服务监听地址
	NotifyChannel string        `json:"notify_channel"` // 通知渠道: telegram / email
	NotifyTimeout time.Duration `json:"notify_timeout"` // 单次通知发送超时
	NotifyWorkers int           `json:"notify_workers"` // 通知 worker 数量
	NotifyQueue   int           `json:"notify_queue"`   // 通知队列容量

	DigestEnabled  bool          `json:"digest_enabled"`  // 是否启用周期性摘要推送
	DigestInterval time.Duration `json:"digest_interval"` // 摘要推送间隔（如 "168h"）

	LoginRatePerMin      float64 `json:"login_rate_per_min"`      // 登录限流（次/分钟）
	RecommendRatePerHour float64 `json:"recommend_rate_per_hour"` // AI 推荐限流（次/小时）
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置（限流使用）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// TelegramConfig Telegram Bot 通知配置。
type TelegramConfig struct {
	BotToken   string `json:"bot_token"`    // Bot Token
	APIBaseURL string `json:"api_base_url"` // API 基础地址（测试时可替换）
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// OpenAIConfig 文本补全服务配置。
type OpenAIConfig struct {
	APIKey             string        `json:"api_key"`
	BaseURL            string        `json:"base_url"`             // API 地址（测试时可替换）
	Model              string        `json:"model"`                // 模型名称
	Timeout            time.Duration `json:"timeout"`              // 单次补全调用超时
	RecommendMaxTokens int           `json:"recommend_max_tokens"` // 推荐接口最大输出长度
	DigestMaxTokens    int           `json:"digest_max_tokens"`    // 摘要接口最大输出长度
	DigestTemperature  float64       `json:"digest_temperature"`   // 摘要生成温度
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret  string        `json:"jwt_secret"`  // JWT 签名密钥
	TokenTTL   time.Duration `json:"token_ttl"`   // JWT 有效期
	AdminToken string        `json:"admin_token"` // 运维令牌（为空表示禁用摘要触发接口）
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终优先于文件内容。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:           "local",
			LogLevel:      "info",
			HTTPAddr:      ":8080",
			NotifyChannel: "telegram",
			NotifyTimeout: 5 * time.Second,
			NotifyWorkers: 4,
			NotifyQueue:   256,

			DigestEnabled:  true,
			DigestInterval: 7 * 24 * time.Hour,

			LoginRatePerMin:      5,
			RecommendRatePerHour: 10,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/voltify?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Telegram: TelegramConfig{
			BotToken:   "",
			APIBaseURL: "https://api.telegram.org",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		OpenAI: OpenAIConfig{
			APIKey:             "",
			BaseURL:            "https://api.openai.com",
			Model:              "gpt-3.5-turbo",
			Timeout:            8 * time.Second,
			RecommendMaxTokens: 100,
			DigestMaxTokens:    650,
			DigestTemperature:  0.7,
		},
		Security: SecurityConfig{
			JWTSecret:  "dev_secret_change_me",
			TokenTTL:   24 * time.Hour,
			AdminToken: "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.NotifyChannel == "" {
		cfg.App.NotifyChannel = defaults.App.NotifyChannel
	}
	if cfg.App.NotifyTimeout == 0 {
		cfg.App.NotifyTimeout = defaults.App.NotifyTimeout
	}
	if cfg.App.NotifyWorkers == 0 {
		cfg.App.NotifyWorkers = defaults.App.NotifyWorkers
	}
	if cfg.App.NotifyQueue == 0 {
		cfg.App.NotifyQueue = defaults.App.NotifyQueue
	}
	if cfg.App.DigestInterval == 0 {
		cfg.App.DigestInterval = defaults.App.DigestInterval
	}
	if cfg.App.LoginRatePerMin == 0 {
		cfg.App.LoginRatePerMin = defaults.App.LoginRatePerMin
	}
	if cfg.App.RecommendRatePerHour == 0 {
		cfg.App.RecommendRatePerHour = defaults.App.RecommendRatePerHour
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Telegram.APIBaseURL == "" {
		cfg.Telegram.APIBaseURL = defaults.Telegram.APIBaseURL
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = defaults.OpenAI.BaseURL
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = defaults.OpenAI.Model
	}
	if cfg.OpenAI.Timeout == 0 {
		cfg.OpenAI.Timeout = defaults.OpenAI.Timeout
	}
	if cfg.OpenAI.RecommendMaxTokens == 0 {
		cfg.OpenAI.RecommendMaxTokens = defaults.OpenAI.RecommendMaxTokens
	}
	if cfg.OpenAI.DigestMaxTokens == 0 {
		cfg.OpenAI.DigestMaxTokens = defaults.OpenAI.DigestMaxTokens
	}
	if cfg.OpenAI.DigestTemperature == 0 {
		cfg.OpenAI.DigestTemperature = defaults.OpenAI.DigestTemperature
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.TokenTTL == 0 {
		cfg.Security.TokenTTL = defaults.Security.TokenTTL
	}
}

// applyEnvOverrides 用环境变量覆盖配置，密钥类字段通过 viper 绑定。
func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
	_ = viper.BindEnv("openai_api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("admin_token", "ADMIN_TOKEN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_NOTIFY_CHANNEL"); v != "" {
		cfg.App.NotifyChannel = v
	}
	if v := os.Getenv("APP_NOTIFY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.NotifyTimeout = d
		}
	}
	if v := os.Getenv("APP_NOTIFY_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.NotifyWorkers = i
		}
	}
	if v := os.Getenv("APP_DIGEST_ENABLED"); v != "" {
		cfg.App.DigestEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("APP_DIGEST_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.DigestInterval = d
		}
	}
	if v := os.Getenv("APP_LOGIN_RATE_PER_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.LoginRatePerMin = f
		}
	}
	if v := os.Getenv("APP_RECOMMEND_RATE_PER_HOUR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RecommendRatePerHour = f
		}
	}

	if v := viper.GetString("telegram_bot_token"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_API_BASE_URL"); v != "" {
		cfg.Telegram.APIBaseURL = v
	}
	if v := viper.GetString("openai_api_key"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := viper.GetString("admin_token"); v != "" {
		cfg.Security.AdminToken = v
	}
	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		cfg.MySQL.DSN = rewriteMySQLDSN(cfg.MySQL.DSN)
	}
}

// rewriteMySQLDSN 用 DB_* 环境变量改写 DSN 的对应字段。
func rewriteMySQLDSN(dsn string) string {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		parsed = mysql.NewConfig()
		parsed.Net = "tcp"
		parsed.Addr = "localhost:3306"
		parsed.DBName = "voltify"
		parsed.ParseTime = true
	}
	if v := viper.GetString("db_host"); v != "" {
		port := "3306"
		if p := os.Getenv("DB_PORT"); p != "" {
			port = p
		}
		parsed.Addr = v + ":" + port
	}
	if v := os.Getenv("DB_USER"); v != "" {
		parsed.User = v
	}
	if v := viper.GetString("db_password"); v != "" {
		parsed.Passwd = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		parsed.DBName = v
	}
	return parsed.FormatDSN()
}
