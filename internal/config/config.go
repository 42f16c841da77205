package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Brokers       []string         `mapstructure:"brokers"`
	ConsumerGroup string           `mapstructure:"consumer_group"`
	ConsumeEnable bool             `mapstructure:"consume_enabled"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Notification     string `mapstructure:"notification"`
	PaymentConfirmed string `mapstructure:"payment_confirmed"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SettlementConfig 结算参数的初始值，数据库中没有配置版本时使用
type SettlementConfig struct {
	DefaultCommissionRate string            `mapstructure:"default_commission_rate"`
	CategoryRates         map[string]string `mapstructure:"category_rates"`
	Tiers                 []TierConfig      `mapstructure:"tiers"`
	HoldingPeriodDays     int               `mapstructure:"holding_period_days"`
	MinimumPayoutAmount   int64             `mapstructure:"minimum_payout_amount"`
	MaximumPayoutAmount   int64             `mapstructure:"maximum_payout_amount"`
	AutoApproveThreshold  int64             `mapstructure:"auto_approve_threshold"`
	PayoutMethods         []string          `mapstructure:"payout_methods"`
}

// TierConfig 阶梯佣金，MinVolume 为近30天销售额下限（分）
type TierConfig struct {
	Name      string `mapstructure:"name"`
	MinVolume int64  `mapstructure:"min_volume"`
	Rate      string `mapstructure:"rate"`
}

type JobsConfig struct {
	SweepEnabled         bool `mapstructure:"sweep_enabled"`
	SweepIntervalSeconds int  `mapstructure:"sweep_interval_seconds"`
	SweepBatchSize       int  `mapstructure:"sweep_batch_size"`

	CompensateIntervalSeconds int `mapstructure:"compensate_interval_seconds"`
	CompensateBatchSize       int `mapstructure:"compensate_batch_size"`
	CompensateMaxAttempts     int `mapstructure:"compensate_max_attempts"`

	OutboxIntervalMillis int `mapstructure:"outbox_interval_millis"`
	OutboxBatchSize      int `mapstructure:"outbox_batch_size"`
	OutboxMaxRetryCount  int `mapstructure:"outbox_max_retry_count"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 10)

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.database", "settlement")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.consumer_group", "settlement")
	v.SetDefault("kafka.topic.notification", "settlement.notification")
	v.SetDefault("kafka.topic.payment_confirmed", "payment.confirmed")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("settlement.default_commission_rate", "15")
	v.SetDefault("settlement.holding_period_days", 7)
	v.SetDefault("settlement.minimum_payout_amount", 1000)
	v.SetDefault("settlement.maximum_payout_amount", 1000000)
	v.SetDefault("settlement.auto_approve_threshold", 0)
	v.SetDefault("settlement.payout_methods", []string{"bank_transfer", "paypal", "wallet"})
	v.SetDefault("settlement.tiers", []map[string]interface{}{
		{"name": "bronze", "min_volume": 0, "rate": "15"},
		{"name": "silver", "min_volume": 1000000, "rate": "12"},
		{"name": "gold", "min_volume": 5000000, "rate": "10"},
		{"name": "platinum", "min_volume": 10000000, "rate": "8"},
	})

	v.SetDefault("jobs.sweep_enabled", true)
	v.SetDefault("jobs.sweep_interval_seconds", 300)
	v.SetDefault("jobs.sweep_batch_size", 200)
	v.SetDefault("jobs.compensate_interval_seconds", 60)
	v.SetDefault("jobs.compensate_batch_size", 50)
	v.SetDefault("jobs.compensate_max_attempts", 5)
	v.SetDefault("jobs.outbox_interval_millis", 500)
	v.SetDefault("jobs.outbox_batch_size", 100)
	v.SetDefault("jobs.outbox_max_retry_count", 5)
}

// Load 读取配置文件，环境变量 SETTLEMENT_MYSQL_HOST 之类可覆盖文件中的值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return config, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	config, err := Load(configPath)
	if err != nil {
		logrus.Fatalf("%v", err)
	}

	GlobalConfig = config
	return config
}
