package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	MercadoPago MercadoPagoConfig `mapstructure:"mercadopago"`
	Redis       RedisConfig
	SMTP        SMTPConfig
}

type ServerConfig struct {
	Port             int      `mapstructure:"port"`
	TimeoutSeconds   int      `mapstructure:"timeoutSeconds"`
	BaseURL          string   `mapstructure:"base_url"`
	RateLimit        float64  `mapstructure:"rate_limit"`
	RateBurst        int      `mapstructure:"rate_burst"`
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
	MetricsPrefix    string   `mapstructure:"metrics_prefix"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

// MercadoPagoConfig configures the payment gateway client. TimeoutSeconds
// bounds every outbound call; no store lock is ever held while one is in
// flight.
type MercadoPagoConfig struct {
	AccessToken    string `mapstructure:"access_token"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

func (c MercadoPagoConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.SetDefault("server.rate_limit", 50)
	viper.SetDefault("server.rate_burst", 100)
	viper.SetDefault("server.metrics_prefix", "case_api")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
