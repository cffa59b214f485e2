package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Mail       MailConfig       `mapstructure:"mail" yaml:"mail"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	Mode string `mapstructure:"mode" yaml:"mode"` // gin mode: debug, release, test
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // postgres, sqlite
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`       // 优先于 host/port 等字段
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Password     string `mapstructure:"password" yaml:"password"`
	DB           int    `mapstructure:"db" yaml:"db"`
	PoolSize     int    `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	Output     string `mapstructure:"output" yaml:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // number of backup files
	Compress   bool   `mapstructure:"compress" yaml:"compress"`       // compress backup files
}

type MonitoringConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	Tracing     TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`         // OTLP gRPC 端点，例如 otel-collector:4317
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`         // 是否使用明文（本地/开发）
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

// AutomationConfig 自动化引擎配置
type AutomationConfig struct {
	Enabled                bool          `mapstructure:"enabled" yaml:"enabled"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	RetryAttempts          int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBaseDelay         time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	ContractExpiryDays     int           `mapstructure:"contract_expiry_days" yaml:"contract_expiry_days"`
	InvoiceDueDays         int           `mapstructure:"invoice_due_days" yaml:"invoice_due_days"`
	DepositRatio           float64       `mapstructure:"deposit_ratio" yaml:"deposit_ratio"`
	DefaultIntervalMinutes int           `mapstructure:"default_interval_minutes" yaml:"default_interval_minutes"`
	ExpirySweepEnabled     bool          `mapstructure:"expiry_sweep_enabled" yaml:"expiry_sweep_enabled"`
	InvoiceSequencer       string        `mapstructure:"invoice_sequencer" yaml:"invoice_sequencer"` // count, redis
}

// MailConfig 邮件发送配置
type MailConfig struct {
	Provider string               `mapstructure:"provider" yaml:"provider"` // ses, log
	From     string               `mapstructure:"from" yaml:"from"`
	Timeout  time.Duration        `mapstructure:"timeout" yaml:"timeout"`
	SES      SESConfig            `mapstructure:"ses" yaml:"ses"`
	Breaker  CircuitBreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

type SESConfig struct {
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"` // 本地测试时可指向 SES 模拟服务
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxFailures  int           `mapstructure:"max_failures" yaml:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
}

// Load 读取配置文件与环境变量，叠加在默认配置之上
// path 为空时在当前目录与 ./config 下查找 config.yml
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("FREELANCEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := GetDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about, so the
// env-overridable ones are registered explicitly.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.port",
		"server.mode",
		"database.driver",
		"database.dsn",
		"database.host",
		"database.password",
		"redis.enabled",
		"redis.host",
		"redis.password",
		"log.level",
		"log.output",
		"monitoring.tracing.enabled",
		"monitoring.tracing.endpoint",
		"automation.enabled",
		"automation.sweep_interval",
		"automation.invoice_sequencer",
		"mail.provider",
		"mail.from",
		"mail.ses.region",
		"mail.ses.access_key",
		"mail.ses.secret_key",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Mail.Provider {
	case "ses", "log":
	default:
		return fmt.Errorf("unsupported mail provider %q", c.Mail.Provider)
	}
	switch c.Automation.InvoiceSequencer {
	case "count", "redis":
	default:
		return fmt.Errorf("unsupported invoice sequencer %q", c.Automation.InvoiceSequencer)
	}
	if c.Automation.InvoiceSequencer == "redis" && !c.Redis.Enabled {
		return errors.New("invoice sequencer redis requires redis.enabled")
	}
	if c.Automation.SweepInterval <= 0 {
		return errors.New("automation.sweep_interval must be positive")
	}
	if c.Automation.DepositRatio <= 0 || c.Automation.DepositRatio > 1 {
		return errors.New("automation.deposit_ratio must be in (0, 1]")
	}
	return nil
}

// ConnectionString 返回 postgres 连接串，显式配置的 dsn 优先
func (d DatabaseConfig) ConnectionString() string {
	if d.DSN != "" {
		return d.DSN
	}
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, sslmode)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "release",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "freelancehub",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         6379,
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/freelancehub.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "freelancehub",
			},
		},
		Automation: AutomationConfig{
			Enabled:                true,
			SweepInterval:          60 * time.Second,
			RetryAttempts:          3,
			RetryBaseDelay:         500 * time.Millisecond,
			ContractExpiryDays:     7,
			InvoiceDueDays:         7,
			DepositRatio:           0.5,
			DefaultIntervalMinutes: 1440,
			ExpirySweepEnabled:     true,
			InvoiceSequencer:       "count",
		},
		Mail: MailConfig{
			Provider: "log",
			From:     "noreply@freelancehub.local",
			Timeout:  10 * time.Second,
			SES: SESConfig{
				Region: "us-east-1",
			},
			Breaker: CircuitBreakerConfig{
				Enabled:      true,
				MaxFailures:  5,
				ResetTimeout: 60 * time.Second,
			},
		},
	}
}
