// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"fraudguard/internal/pkg/database"
	"fraudguard/internal/pkg/nacos"
)

// DefaultConfigPath 在 CONFIG_PATH 未设置时使用。
const DefaultConfigPath = "configs/fraud-detection.yaml"

// Config 是所有服务共用的基础配置。服务自己的配置段通过 inline 嵌入此结构后一起解析。
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`
}

type AppConfig struct {
	Name            string        `yaml:"name"`
	Port            int           `yaml:"port"`
	LogLevel        string        `yaml:"logLevel"`
	AdminToken      string        `yaml:"adminToken"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig         `yaml:"jaeger"`
	MySQL     database.MySQLConfig `yaml:"mysql"`
	Redis     RedisConfig          `yaml:"redis"`
	Kafka     KafkaConfig          `yaml:"kafka"`
	Zookeeper ZookeeperConfig      `yaml:"zookeeper"`
	Nacos     NacosConfig          `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

type RedisConfig struct {
	Addrs    string `yaml:"addrs"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	OrderTopic  string   `yaml:"orderTopic"`
	SignalTopic string   `yaml:"signalTopic"`
	GroupID     string   `yaml:"groupId"`

	// DeadLetterTopic 为空时使用 OrderTopic + "-dlt"
	DeadLetterTopic string `yaml:"deadLetterTopic"`
}

type ZookeeperConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	LockRoot       string        `yaml:"lockRoot"`
	LockTimeout    time.Duration `yaml:"lockTimeout"`
}

type NacosConfig struct {
	Enabled      bool `yaml:"enabled"`
	nacos.Config `yaml:",inline"`
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回最近一次 Load 的基础配置。
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	c := defaultConfig()
	return &c
}

func defaultConfig() Config {
	return Config{
		App: AppConfig{Port: 8085, LogLevel: "info", ShutdownTimeout: 10 * time.Second},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 1},
			MySQL: database.MySQLConfig{
				Addr: "localhost:3306", User: "root", Database: "fraud",
				MaxOpenConns: 50, MaxIdleConns: 10, ConnMaxLifetime: time.Hour, QueryTimeout: 2 * time.Second,
			},
			Redis: RedisConfig{Addrs: "localhost:6379"},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"}, OrderTopic: "order-events",
				SignalTopic: "fraud-signals", DeadLetterTopic: "order-events-dlt", GroupID: "fraud-detection-service",
			},
			Zookeeper: ZookeeperConfig{
				Servers: []string{"localhost:2181"}, SessionTimeout: 10 * time.Second, LockTimeout: 3 * time.Second,
			},
			Nacos: NacosConfig{Config: nacos.Config{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"}},
		},
	}
}

// Load 读取 YAML 配置文件到 out（需内嵌 Config），${VAR} 会先按环境变量展开，
// 随后应用环境变量覆盖，并把基础配置保存为当前配置。
func Load(path string, out interface{ Base() *Config }) error {
	base := out.Base()
	*base = defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warn().Str("path", path).Msg("config file not found, using defaults and environment")
	case err != nil:
		return fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(base); err != nil {
		return err
	}
	snapshot := *base
	current.Store(&snapshot)
	return nil
}

// Base 让 Config 本身也能直接传给 Load。
func (c *Config) Base() *Config { return c }

// ConfigPath 返回 CONFIG_PATH 或默认路径。
func ConfigPath() string {
	return getEnv("CONFIG_PATH", DefaultConfigPath)
}

func applyEnvOverrides(c *Config) error {
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.App.AdminToken = getEnv("ADMIN_TOKEN", c.App.AdminToken)
	if v, ok := os.LookupEnv("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_PORT %q: %w", v, err)
		}
		c.App.Port = port
	}

	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.MySQL.Addr = getEnv("MYSQL_ADDR", c.Infra.MySQL.Addr)
	c.Infra.MySQL.User = getEnv("MYSQL_USER", c.Infra.MySQL.User)
	c.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", c.Infra.MySQL.Password)
	c.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", c.Infra.MySQL.Database)
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Redis.Password = getEnv("REDIS_PASSWORD", c.Infra.Redis.Password)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Infra.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("ZK_SERVERS"); ok {
		c.Infra.Zookeeper.Servers = splitList(v)
	}
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
