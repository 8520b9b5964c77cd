package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Auth struct {
		// JWTSecret HMAC 簽章密鑰（可被 JWT_SECRET 環境變數覆蓋）
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Game struct {
		// CountdownDelay 配對成功後的同步倒數延遲
		CountdownDelay time.Duration `yaml:"countdown_delay"`
		// DisconnectBonus 斷線判負時留存玩家獲得的積分
		DisconnectBonus int `yaml:"disconnect_bonus"`
		// StoreTimeout 所有外部儲存操作的逾時上限
		StoreTimeout time.Duration `yaml:"store_timeout"`
	} `yaml:"game"`

	Chat struct {
		// BadWords 聊天遮罩詞表
		BadWords []string `yaml:"bad_words"`
	} `yaml:"chat"`

	RateLimit struct {
		// Window 配額視窗長度，視窗內同一客戶端只執行一次受保護操作
		Window time.Duration `yaml:"window"`
	} `yaml:"ratelimit"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig 載入配置檔案並套用預設值
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - path 是硬編碼的配置檔案路徑，非使用者輸入
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.applyDefaults()

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	return &config, nil
}

// applyDefaults 套用未配置欄位的預設值
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Game.CountdownDelay == 0 {
		c.Game.CountdownDelay = 5 * time.Second
	}
	if c.Game.DisconnectBonus == 0 {
		c.Game.DisconnectBonus = 1000
	}
	if c.Game.StoreTimeout == 0 {
		c.Game.StoreTimeout = 3 * time.Second
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 10 * time.Second
	}
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
	)
}
