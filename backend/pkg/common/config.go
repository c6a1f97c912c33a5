package common

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env      string         `mapstructure:"env" yaml:"env"`
	Port     string         `mapstructure:"port" yaml:"port"`
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
	DB       DBConfig       `mapstructure:"db" yaml:"db"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Fabric   FabricConfig   `mapstructure:"fabric" yaml:"fabric"`
	Limits   LimitsConfig   `mapstructure:"limits" yaml:"limits"`
	Terminal TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	Webhook  WebhookConfig  `mapstructure:"webhook" yaml:"webhook"`
}

type DBConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Name     string `mapstructure:"name" yaml:"name"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
	Path     string `mapstructure:"path" yaml:"path"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer" yaml:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

type FabricConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ConfigPath string `mapstructure:"config_path" yaml:"config_path"`
	WalletPath string `mapstructure:"wallet_path" yaml:"wallet_path"`
	Channel    string `mapstructure:"channel" yaml:"channel"`
	Chaincode  string `mapstructure:"chaincode" yaml:"chaincode"`
	MSP        string `mapstructure:"msp" yaml:"msp"`
	CertPath   string `mapstructure:"cert_path" yaml:"cert_path"`
	KeyPath    string `mapstructure:"key_path" yaml:"key_path"`
}

// CardCeilings mirrors the per-type defaults applied when a card is issued.
type CardCeilings struct {
	DailyLimit   int64 `mapstructure:"daily_limit" yaml:"daily_limit"`
	MonthlyLimit int64 `mapstructure:"monthly_limit" yaml:"monthly_limit"`
	MaxBalance   int64 `mapstructure:"max_balance" yaml:"max_balance"`
}

type LimitsConfig struct {
	Timezone     string        `mapstructure:"timezone" yaml:"timezone"`
	CardValidity time.Duration `mapstructure:"card_validity" yaml:"card_validity"`
	Standard     CardCeilings  `mapstructure:"standard" yaml:"standard"`
	Premium      CardCeilings  `mapstructure:"premium" yaml:"premium"`
	Entreprise   CardCeilings  `mapstructure:"entreprise" yaml:"entreprise"`
}

// Location resolves Timezone for limit windows and daily stats.
func (c LimitsConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid limits timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type TerminalConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type WebhookConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	QueueSize int           `mapstructure:"queue_size" yaml:"queue_size"`
}

// envAliases keeps the variable names used by existing deployments.
var envAliases = map[string]string{
	"fabric.config_path": "FABRIC_CONFIG",
	"fabric.msp":         "MSP_ID",
	"fabric.cert_path":   "CERT_PATH",
	"fabric.key_path":    "KEY_PATH",
	"auth.jwt_secret":    "JWT_SECRET",
	"limits.timezone":    "LIMITS_TIMEZONE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "cardcore")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.path", "cardcore.db")

	v.SetDefault("auth.jwt_secret", "super-secret-key-change-me")
	v.SetDefault("auth.issuer", "cardcore")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("fabric.enabled", false)
	v.SetDefault("fabric.config_path", "connection-profile.yaml")
	v.SetDefault("fabric.wallet_path", "wallet")
	v.SetDefault("fabric.channel", "cardchannel")
	v.SetDefault("fabric.chaincode", "card-audit")
	v.SetDefault("fabric.msp", "IssuerMSP")
	v.SetDefault("fabric.cert_path", "")
	v.SetDefault("fabric.key_path", "")

	v.SetDefault("limits.timezone", "UTC")
	v.SetDefault("limits.card_validity", 365*24*time.Hour)
	v.SetDefault("limits.standard.daily_limit", 50_000)
	v.SetDefault("limits.standard.monthly_limit", 500_000)
	v.SetDefault("limits.standard.max_balance", 200_000)
	v.SetDefault("limits.premium.daily_limit", 200_000)
	v.SetDefault("limits.premium.monthly_limit", 2_000_000)
	v.SetDefault("limits.premium.max_balance", 1_000_000)
	v.SetDefault("limits.entreprise.daily_limit", 1_000_000)
	v.SetDefault("limits.entreprise.monthly_limit", 10_000_000)
	v.SetDefault("limits.entreprise.max_balance", 5_000_000)

	v.SetDefault("terminal.timeout", 15*time.Second)

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.timeout", 5*time.Second)
	v.SetDefault("webhook.queue_size", 256)
}

// LoadConfig reads defaults, then an optional YAML file, then the
// environment (including a .env file in the working directory). An empty
// path falls back to $CARDCORE_CONFIG.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path == "" {
		path = getEnv("CARDCORE_CONFIG", "")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns the built-in defaults without reading any file or
// environment variable.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
