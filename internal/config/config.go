package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

type AuthConfig struct {
	AccessSecret string
}

type QuotationsConfig struct {
	BaseURL           string
	ExpiryWindowDays  int
	MagicLinkTTLHours int
	SendTimeout       time.Duration
	EmailTimeout      time.Duration
	PDFTimeout        time.Duration
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Quotations  QuotationsConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetString("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Quotations: QuotationsConfig{
			BaseURL:           v.GetString("APP_BASE_URL"),
			ExpiryWindowDays:  v.GetInt("QUOTATION_EXPIRY_DAYS"),
			MagicLinkTTLHours: v.GetInt("MAGIC_LINK_TTL_HOURS"),
			SendTimeout:       v.GetDuration("SEND_TIMEOUT"),
			EmailTimeout:      v.GetDuration("EMAIL_TIMEOUT"),
			PDFTimeout:        v.GetDuration("PDF_TIMEOUT"),
		},
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 7090
	}
	if cfg.Quotations.BaseURL == "" {
		cfg.Quotations.BaseURL = "http://localhost:3000"
	}
	if cfg.Quotations.ExpiryWindowDays == 0 {
		cfg.Quotations.ExpiryWindowDays = 3
	}
	if cfg.Quotations.MagicLinkTTLHours == 0 {
		cfg.Quotations.MagicLinkTTLHours = 168
	}
	if cfg.Quotations.SendTimeout == 0 {
		cfg.Quotations.SendTimeout = 45 * time.Second
	}
	if cfg.Quotations.EmailTimeout == 0 {
		cfg.Quotations.EmailTimeout = 30 * time.Second
	}
	if cfg.Quotations.PDFTimeout == 0 {
		cfg.Quotations.PDFTimeout = 25 * time.Second
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	return nil
}
