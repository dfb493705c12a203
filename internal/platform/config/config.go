package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// 決済完了/キャンセル時に戻ってくるURLの組み立てに使う
	PublicBaseURL string `yaml:"public_base_url"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type StripeConfig struct {
	SecretKey string `yaml:"secret_key"`
	Currency  string `yaml:"currency"`
	// Consecutive provider failures before the breaker opens.
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

type FeesConfig struct {
	FineCoefficient string `yaml:"fine_coefficient"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type NotifyConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode"`
	Server      ServerConfig   `yaml:"server"`
	DB          DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Stripe      StripeConfig   `yaml:"stripe"`
	Fees        FeesConfig     `yaml:"fees"`
	Auth        AuthConfig     `yaml:"auth"`
	Notify      NotifyConfig   `yaml:"notify"`
	Sweep       SweepConfig    `yaml:"sweep"`
	Certificate Certs          `yaml:"certificate"`
}

func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(buf)
}

// Parse decodes YAML, applies environment overrides and defaults, then validates.
func Parse(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// 秘密情報は環境変数で上書きできる
func (c *Config) applyEnv() {
	c.DB.Password = getEnv("DB_PASSWORD", c.DB.Password)
	c.Stripe.SecretKey = getEnv("STRIPE_SECRET_KEY", c.Stripe.SecretKey)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = "https://localhost:8443"
	}
	c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 5 * time.Minute
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "library_notifications"
	}
	if c.Stripe.Currency == "" {
		c.Stripe.Currency = "usd"
	}
	if c.Stripe.MaxFailures == 0 {
		c.Stripe.MaxFailures = 5
	}
	if c.Stripe.ResetTimeout == 0 {
		c.Stripe.ResetTimeout = 30 * time.Second
	}
	if c.Fees.FineCoefficient == "" {
		c.Fees.FineCoefficient = "2"
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = 24 * time.Hour
	}
}

func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "release" {
		return fmt.Errorf("config: mode must be dev or release, got %q", c.Mode)
	}
	coeff, err := c.FineCoefficient()
	if err != nil {
		return fmt.Errorf("config: fees.fine_coefficient: %w", err)
	}
	if !coeff.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: fees.fine_coefficient must be > 1, got %s", coeff)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers required when kafka is enabled")
	}
	if c.Mode == "release" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret required in release mode")
	}
	return nil
}

func (c *Config) FineCoefficient() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Fees.FineCoefficient)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
