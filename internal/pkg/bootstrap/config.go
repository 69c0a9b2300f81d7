// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/config.yaml"

type Config struct {
	App       AppConfig       `yaml:"app"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Venues    VenuesConfig    `yaml:"venues"`
	Admission AdmissionConfig `yaml:"admission"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Infra     InfraConfig     `yaml:"infra"`
}

type AppConfig struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // mysql | sqlite
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	LogLevel        string        `yaml:"log_level"`
}

type QueueConfig struct {
	Driver           string        `yaml:"driver"` // memory | kafka
	Concurrency      int           `yaml:"concurrency"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
	RemoveOnComplete time.Duration `yaml:"remove_on_complete"`
	RemoveOnFail     time.Duration `yaml:"remove_on_fail"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	GroupID         string   `yaml:"group_id"`
	StepTopic       string   `yaml:"step_topic"`
	RetryTopic      string   `yaml:"retry_topic"`
	DeadLetterTopic string   `yaml:"dead_letter_topic"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	Buffer   int    `yaml:"buffer"`
}

type VenuesConfig struct {
	Preference []string          `yaml:"preference"`
	Mocks      []MockVenueConfig `yaml:"mocks"`
}

type MockVenueConfig struct {
	ID             string        `yaml:"id"`
	BasePrice      float64       `yaml:"base_price"`
	FeeRate        float64       `yaml:"fee_rate"`
	QuoteVariance  [2]float64    `yaml:"quote_variance"`
	ExecVariance   [2]float64    `yaml:"exec_variance"`
	QuoteLatency   time.Duration `yaml:"quote_latency"`
	SwapLatencyMin time.Duration `yaml:"swap_latency_min"`
	SwapLatencyMax time.Duration `yaml:"swap_latency_max"`
	FailureRate    float64       `yaml:"failure_rate"`
	Seed           uint64        `yaml:"seed"`
}

type AdmissionConfig struct {
	Rule string `yaml:"rule"`
}

type RecoveryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type JaegerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type ZookeeperConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

// DefaultConfig 返回与线上参考值一致的默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "swap-engine", Port: 8080, Env: "dev"},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:swapflow.db?cache=shared&_busy_timeout=5000",
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
			LogLevel:        "warn",
		},
		Queue: QueueConfig{
			Driver:           "memory",
			Concurrency:      10,
			MaxAttempts:      3,
			BackoffBase:      time.Second,
			BackoffMax:       time.Minute,
			RemoveOnComplete: time.Hour,
			RemoveOnFail:     24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			GroupID:         "swap-engine",
			StepTopic:       "order-execution",
			RetryTopic:      "order-execution-retry",
			DeadLetterTopic: "order-execution-dlt",
		},
		Redis: RedisConfig{Addr: "localhost:6379", Channel: "order-events", Buffer: 1024},
		Venues: VenuesConfig{
			Preference: []string{"meteora", "raydium"},
			Mocks: []MockVenueConfig{
				{
					ID: "raydium", BasePrice: 100, FeeRate: 0.003,
					QuoteVariance: [2]float64{0.98, 1.02}, ExecVariance: [2]float64{0.99, 1.01},
					QuoteLatency: 200 * time.Millisecond, SwapLatencyMin: 2 * time.Second, SwapLatencyMax: 3 * time.Second,
					FailureRate: 0.05,
				},
				{
					ID: "meteora", BasePrice: 100, FeeRate: 0.002,
					QuoteVariance: [2]float64{0.97, 1.02}, ExecVariance: [2]float64{0.99, 1.01},
					QuoteLatency: 200 * time.Millisecond, SwapLatencyMin: 2 * time.Second, SwapLatencyMax: 3 * time.Second,
					FailureRate: 0.05,
				},
			},
		},
		Recovery: RecoveryConfig{Enabled: true, Interval: 30 * time.Second, StaleAfter: 2 * time.Minute, BatchSize: 100},
		Infra: InfraConfig{
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
			Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}, SessionTimeout: 10 * time.Second, LockTimeout: 30 * time.Second},
		},
	}
}

var current atomic.Pointer[Config]

// Init 加载配置并设为当前配置; path 为空时读取 CONFIG_PATH 或默认路径。
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	current.Store(cfg)
	return nil
}

// GetCurrentConfig 返回当前配置; 未初始化时返回默认配置
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

// Load 依次应用: 默认值 -> YAML 文件 -> 环境变量, 最后校验
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = getEnv("CONFIG_PATH", defaultConfigPath)
		explicit = os.Getenv("CONFIG_PATH") != ""
	}

	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// 没有配置文件时使用默认值
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("APP_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = port
		}
	}
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("DB_DSN", cfg.Database.DSN)
	cfg.Queue.Driver = getEnv("QUEUE_DRIVER", cfg.Queue.Driver)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok && v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	if v, ok := os.LookupEnv("ZK_SERVERS"); ok && v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
}

// Validate 校验关键参数
func (c *Config) Validate() error {
	var errs []error
	if c.App.Port <= 0 {
		errs = append(errs, errors.New("app.port must be positive"))
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	switch c.Queue.Driver {
	case "memory":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required for the kafka queue driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported queue.driver %q", c.Queue.Driver))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("queue.max_attempts must be at least 1"))
	}
	if c.Queue.Concurrency < 1 {
		errs = append(errs, errors.New("queue.concurrency must be at least 1"))
	}
	if len(c.Venues.Mocks) == 0 {
		errs = append(errs, errors.New("at least one venue must be configured"))
	}
	return errors.Join(errs...)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
