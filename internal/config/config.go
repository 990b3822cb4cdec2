package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	SteamAuth SteamAuthConfig `mapstructure:"steam_auth"`
	PayGate   PayGateConfig   `mapstructure:"pay_gate"`
	Business  BusinessConfig  `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	OrderEvents  string `mapstructure:"order_events"`
	WalletEvents string `mapstructure:"wallet_events"`
}

type JWTConfig struct {
	SigningKey string `mapstructure:"signing_key"`
	TTLHours   int    `mapstructure:"ttl_hours"`
}

// SteamAuthConfig 凭据校验服务（外部，对游戏平台做真实登录）
type SteamAuthConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PayGateConfig 银行扫码支付网关（外部，出码 + 轮询到账）
type PayGateConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type BusinessConfig struct {
	OrderTTLSeconds       int  `mapstructure:"order_ttl_seconds"`       // 订单支付时限，默认 1800
	DepositTTLSeconds     int  `mapstructure:"deposit_ttl_seconds"`     // 充值单时限，默认 1800
	ReaperIntervalSeconds int  `mapstructure:"reaper_interval_seconds"` // 过期清理扫描间隔，默认 60
	MaxRetryCount         int  `mapstructure:"max_retry_count"`         // outbox 投递最大重试次数
	AllowGuardedAccounts  bool `mapstructure:"allow_guarded_accounts"`  // 是否允许购买带令牌的账号
}

func (b *BusinessConfig) OrderTTL() time.Duration {
	if b.OrderTTLSeconds <= 0 {
		return 1800 * time.Second
	}
	return time.Duration(b.OrderTTLSeconds) * time.Second
}

func (b *BusinessConfig) DepositTTL() time.Duration {
	if b.DepositTTLSeconds <= 0 {
		return 1800 * time.Second
	}
	return time.Duration(b.DepositTTLSeconds) * time.Second
}

func (b *BusinessConfig) ReaperInterval() time.Duration {
	if b.ReaperIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(b.ReaperIntervalSeconds) * time.Second
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("business.order_ttl_seconds", 1800)
	viper.SetDefault("business.deposit_ttl_seconds", 1800)
	viper.SetDefault("business.reaper_interval_seconds", 60)
	viper.SetDefault("business.max_retry_count", 5)
	viper.SetDefault("business.allow_guarded_accounts", true)
	viper.SetDefault("steam_auth.timeout_seconds", 10)
	viper.SetDefault("pay_gate.timeout_seconds", 5)
	viper.SetDefault("jwt.ttl_hours", 24)

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
