// internal/pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是整个进程的配置树，来自 YAML 文件加环境变量覆盖
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Port int    `yaml:"port"`
	} `yaml:"app"`

	Infra struct {
		MySQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Zookeeper struct {
			Servers        []string      `yaml:"servers"`
			SessionTimeout time.Duration `yaml:"sessionTimeout"`
		} `yaml:"zookeeper"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Nacos struct {
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	Reservation struct {
		// Timeout 是预留的存活时长，超过即被清扫
		Timeout time.Duration `yaml:"timeout"`
		// MaxRetries 是乐观冲突的单元级重试上限
		MaxRetries int `yaml:"maxRetries"`
		// LockWait 是变体锁的最长等待
		LockWait time.Duration `yaml:"lockWait"`
		// Locker 选择锁实现：zookeeper | redis | local
		Locker string `yaml:"locker"`
		// FallbackPolicy 是替代放行的 CEL 表达式
		FallbackPolicy string `yaml:"fallbackPolicy"`
	} `yaml:"reservation"`

	Sweeper struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sweeper"`
}

// Load 读取 YAML 文件并套用默认值和环境变量覆盖。
// path 为空时先看 CONFIG_FILE，再回退 config.yaml。
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnv("CONFIG_FILE", "config.yaml")
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err == nil {
		if uerr := yaml.Unmarshal(data, cfg); uerr != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, uerr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.Infra.MySQL.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Infra.Redis.Addr = v
	}
	if v := os.Getenv("ZOOKEEPER_SERVERS"); v != "" {
		c.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		c.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		c.Infra.Nacos.ServerAddrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		c.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		c.Infra.Nacos.Group = v
	}
	if v := os.Getenv("STOCK_LOCKER"); v != "" {
		c.Reservation.Locker = v
	}
}

func (c *Config) applyDefaults() {
	if c.App.Port == 0 {
		c.App.Port = 8083
	}
	if c.Infra.Redis.Addr == "" {
		c.Infra.Redis.Addr = "localhost:6379"
	}
	if len(c.Infra.Kafka.Brokers) == 0 {
		c.Infra.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Infra.Jaeger.Endpoint == "" {
		c.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	}
	if c.Reservation.Timeout <= 0 {
		c.Reservation.Timeout = 15 * time.Minute
	}
	if c.Reservation.MaxRetries <= 0 {
		c.Reservation.MaxRetries = 3
	}
	if c.Reservation.LockWait <= 0 {
		c.Reservation.LockWait = 10 * time.Second
	}
	if c.Reservation.Locker == "" {
		c.Reservation.Locker = "local"
	}
	if c.Reservation.FallbackPolicy == "" {
		// 默认放行：调用方允许替代即生效
		c.Reservation.FallbackPolicy = "true"
	}
	if c.Sweeper.Interval <= 0 {
		c.Sweeper.Interval = time.Minute
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
