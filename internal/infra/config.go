package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации дашборда.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Events  EventsConfig  `mapstructure:"events"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
	Logger  LoggerConfig  `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GatewayConfig описывает внешний шлюз безопасности.
type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	AnalyzeRPS   float64 `mapstructure:"analyze_rps"`
	AnalyzeBurst int     `mapstructure:"analyze_burst"`

	// Настройки Circuit Breaker для опроса ленты
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`
}

// EngineConfig — параметры оркестратора.
type EngineConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	LayerDelay    time.Duration `mapstructure:"layer_delay"`
	HistorySize   int           `mapstructure:"history_size"`
	LogSize       int           `mapstructure:"log_size"`
	ReviewBacklog int           `mapstructure:"review_backlog"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub). Пустой Addr отключает публикацию.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EventsConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// GRPCConfig — порт health-сервиса. 0 отключает.
type GRPCConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// GATEWAY_BASE_URL=http://... перекроет gateway.base_url
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return errors.New("config: gateway.base_url is required")
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("config: engine.poll_interval must be positive, got %s", c.Engine.PollInterval)
	}
	if c.Engine.LayerDelay < 0 {
		return fmt.Errorf("config: engine.layer_delay must not be negative, got %s", c.Engine.LayerDelay)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("gateway.base_url", "http://localhost:3001")
	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("gateway.analyze_rps", 5)
	v.SetDefault("gateway.analyze_burst", 1)
	v.SetDefault("gateway.cb_max_requests", 1)
	v.SetDefault("gateway.cb_interval", 0)
	v.SetDefault("gateway.cb_timeout", 10*time.Second)
	v.SetDefault("gateway.cb_failures", 5)

	v.SetDefault("engine.poll_interval", 500*time.Millisecond)
	v.SetDefault("engine.layer_delay", 80*time.Millisecond)
	v.SetDefault("engine.history_size", 20)
	v.SetDefault("engine.log_size", 8)
	v.SetDefault("engine.review_backlog", 200)

	// Ключи без дефолтов не видны AutomaticEnv при Unmarshal
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("events.buffer_size", 1000)
	v.SetDefault("events.flush_interval", 1*time.Second)

	v.SetDefault("grpc.health_port", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
