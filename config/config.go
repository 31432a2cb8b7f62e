package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	ETCD    ETCDConfig    `mapstructure:"etcd"`
	Lock    LockConfig    `mapstructure:"lock"`
	GraphQL GraphQLConfig `mapstructure:"graphql"`
	Log     LogConfig     `mapstructure:"log"`
	Draw    DrawConfig    `mapstructure:"draw"`
	Gate    GateConfig    `mapstructure:"gate"`
	Reveal  RevealConfig  `mapstructure:"reveal"`
	Ticket  TicketConfig  `mapstructure:"ticket"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// 设备标识Cookie的签名密钥
	SessionKey string `mapstructure:"session_key"`
}

type StoreConfig struct {
	// mysql 或 memory
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxOpenConns   int    `mapstructure:"max_open_conns"`
	MaxIdleConns   int    `mapstructure:"max_idle_conns"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

type RedisConfig struct {
	// 数据存储Redis，为空时限流状态与票据保存在内存中
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// Redlock使用的Redis节点
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ETCDConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type LockConfig struct {
	// etcd、redis 或 local
	Driver     string        `mapstructure:"driver"`
	TTL        time.Duration `mapstructure:"ttl"`
	RetryCount int           `mapstructure:"retry_count"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// 非终端环境下写入的日志文件
	File       string `mapstructure:"file"`
	MaxSize    int64  `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type DrawConfig struct {
	RollDuration time.Duration `mapstructure:"roll_duration"`
}

type GateConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	LockoutDuration time.Duration `mapstructure:"lockout_duration"`
	BcryptCost      int           `mapstructure:"bcrypt_cost"`
}

type RevealConfig struct {
	CountdownFrom    int           `mapstructure:"countdown_from"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	RevealDwell      time.Duration `mapstructure:"reveal_dwell"`
	CarouselInterval time.Duration `mapstructure:"carousel_interval"`
}

type TicketConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("mysql.max_open_conns", 20)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("mysql.migrate_on_start", true)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.timeout", 3*time.Second)
	v.SetDefault("kafka.topic", "luckydraw-changes")
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.ttl", 5*time.Minute)
	v.SetDefault("lock.retry_count", 3)
	v.SetDefault("graphql.path", "/graphql")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/luckydraw.log")
	v.SetDefault("log.max_size", 100*1024*1024)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("draw.roll_duration", 3*time.Second)
	v.SetDefault("gate.max_attempts", 5)
	v.SetDefault("gate.lockout_duration", 30*time.Second)
	v.SetDefault("gate.bcrypt_cost", 10)
	v.SetDefault("reveal.countdown_from", 3)
	v.SetDefault("reveal.tick_interval", time.Second)
	v.SetDefault("reveal.reveal_dwell", 2500*time.Millisecond)
	v.SetDefault("reveal.carousel_interval", 8*time.Second)
	v.SetDefault("ticket.ttl", 10*time.Minute)
}

// LoadConfig 加载配置文件，configPath 为空时只使用默认值与环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LUCKYDRAW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	if err := v.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &AppConfig, nil
}
