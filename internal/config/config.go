package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// 存储驱动名称。
const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
)

// ConfigPathEnvVar 可覆盖配置文件路径。
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths 按顺序查找的配置文件。
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Gateway  GatewayConfig  `koanf:"gateway"`
	Auth     AuthConfig     `koanf:"auth"`
	Store    StoreConfig    `koanf:"store"`
	Mongo    MongoConfig    `koanf:"mongo"`
	Redis    RedisConfig    `koanf:"redis"`
	NATS     NATSConfig     `koanf:"nats"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig 描述 HTTP API 服务配置。
type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// GatewayConfig 描述实时推送网关配置。
type GatewayConfig struct {
	Addr           string   `koanf:"addr"`
	Path           string   `koanf:"path"`
	Embedded       bool     `koanf:"embedded"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	MessageRate    float64  `koanf:"message_rate"`
	MessageBurst   int      `koanf:"message_burst"`
	NodeID         string   `koanf:"node_id"`
}

// AuthConfig 描述 JWT 校验配置。
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// StoreConfig 选择会话存储实现。
type StoreConfig struct {
	Driver string `koanf:"driver"`
}

// MongoConfig 描述文档数据库连接。
type MongoConfig struct {
	URI      string        `koanf:"uri"`
	Database string        `koanf:"database"`
	Timeout  time.Duration `koanf:"timeout"`
}

// RedisConfig 描述缓存连接，Addr 为空时禁用缓存。
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// Enabled 表示是否配置了 Redis。
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// NATSConfig 描述跨进程事件总线配置。
type NATSConfig struct {
	URL           string `koanf:"url"`
	Embedded      bool   `koanf:"embedded"`
	EmbeddedHost  string `koanf:"embedded_host"`
	EmbeddedPort  int    `koanf:"embedded_port"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Enabled 表示是否需要连接事件总线。
func (c NATSConfig) Enabled() bool { return c.URL != "" || c.Embedded }

// SecurityConfig 描述跨域与限流配置。
type SecurityConfig struct {
	BaseURL           string        `koanf:"base_url"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig 描述日志输出。
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Gateway: GatewayConfig{
			Addr:         "5001",
			Path:         "/ws",
			MessageRate:  5,
			MessageBurst: 10,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Store: StoreConfig{Driver: DriverMemory},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "shutterhub",
			Timeout:  10 * time.Second,
		},
		Redis: RedisConfig{CacheTTL: 5 * time.Minute},
		NATS: NATSConfig{
			EmbeddedHost:  "127.0.0.1",
			EmbeddedPort:  4222,
			SubjectPrefix: "chat",
		},
		Security: SecurityConfig{
			BaseURL:           "http://localhost:3000",
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load 依次加载默认值、可选 YAML 文件与环境变量。
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate 校验必填项与取值范围。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return errors.New("MONGO_URI and MONGO_DATABASE are required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Security.RateLimitRequests <= 0 || c.Security.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	if c.Gateway.MessageRate <= 0 || c.Gateway.MessageBurst <= 0 {
		return errors.New("SOCKET_MESSAGE_RATE and SOCKET_MESSAGE_BURST must be positive")
	}
	return nil
}

func (c *Config) normalize() error {
	addr, err := normalizeAddr(c.Server.Addr)
	if err != nil {
		return fmt.Errorf("invalid PORT value: %w", err)
	}
	c.Server.Addr = addr

	addr, err = normalizeAddr(c.Gateway.Addr)
	if err != nil {
		return fmt.Errorf("invalid SOCKET_PORT value: %w", err)
	}
	c.Gateway.Addr = addr

	if len(c.Security.CORSOrigins) == 0 && c.Security.BaseURL != "" {
		c.Security.CORSOrigins = []string{c.Security.BaseURL}
	}
	if len(c.Gateway.AllowedOrigins) == 0 {
		c.Gateway.AllowedOrigins = append([]string(nil), c.Security.CORSOrigins...)
	}
	if !strings.HasPrefix(c.Gateway.Path, "/") {
		c.Gateway.Path = "/" + c.Gateway.Path
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	return nil
}

// normalizeAddr 允许传入 "8080"、":8080" 或 "127.0.0.1:8080"。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		return "", errors.New("empty address")
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("%q contains spaces", port)
	}
	if strings.Contains(port, ":") {
		return port, nil
	}
	return ":" + port, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
	"gateway.allowed_origins",
}

// splitSliceFields 把环境变量中逗号分隔的字符串转换为切片。
func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"port":                    "server.addr",
	"shutdown_timeout":        "server.shutdown_timeout",
	"socket_port":             "gateway.addr",
	"socket_path":             "gateway.path",
	"gateway_embedded":        "gateway.embedded",
	"gateway_allowed_origins": "gateway.allowed_origins",
	"gateway_node_id":         "gateway.node_id",
	"socket_message_rate":     "gateway.message_rate",
	"socket_message_burst":    "gateway.message_burst",
	"jwt_secret":              "auth.jwt_secret",
	"token_ttl":               "auth.token_ttl",
	"store_driver":            "store.driver",
	"mongo_uri":               "mongo.uri",
	"mongo_database":          "mongo.database",
	"mongo_timeout":           "mongo.timeout",
	"redis_addr":              "redis.addr",
	"redis_password":          "redis.password",
	"redis_db":                "redis.db",
	"redis_cache_ttl":         "redis.cache_ttl",
	"nats_url":                "nats.url",
	"nats_embedded":           "nats.embedded",
	"nats_embedded_host":      "nats.embedded_host",
	"nats_embedded_port":      "nats.embedded_port",
	"nats_subject_prefix":     "nats.subject_prefix",
	"base_url":                "security.base_url",
	"cors_origins":            "security.cors_origins",
	"rate_limit_requests":     "security.rate_limit_requests",
	"rate_limit_window":       "security.rate_limit_window",
	"log_level":               "logging.level",
	"log_format":              "logging.format",
}

// envTransformFunc 将环境变量名映射为配置路径，未登记的变量被忽略。
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
