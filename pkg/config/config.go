package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	PolicyLevel   = "level"
	PolicyOneShot = "one_shot"

	StoreRedis  = "redis"
	StoreSQLite = "sqlite"

	HistoryNone       = "none"
	HistoryKafka      = "kafka"
	HistoryClickHouse = "clickhouse"

	MinIntervalSeconds = 10
	MaxIntervalSeconds = 60
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Collector  struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic"`
			Level          string        `yaml:"level"`
			Interval       time.Duration `yaml:"interval"`
			CountThreshold int           `yaml:"count_threshold"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Scheduler struct {
		IntervalSeconds     int    `yaml:"interval_seconds"`
		PostFirePolicy      string `yaml:"post_fire_policy"`
		DispatchConcurrency int    `yaml:"dispatch_concurrency"`
		Lock                struct {
			Enabled bool          `yaml:"enabled"`
			Key     string        `yaml:"key"`
			TTL     time.Duration `yaml:"ttl"`
		} `yaml:"lock"`
	} `yaml:"scheduler"`
	Store struct {
		Driver string `yaml:"driver"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"store"`
	Redis struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		Prefix       string `yaml:"prefix"`
		PoolSize     int    `yaml:"pool_size"`
		MinIdleConns int    `yaml:"min_idle_conns"`
	} `yaml:"redis"`
	Quotes struct {
		BaseURL      string        `yaml:"base_url"`
		MarketSuffix string        `yaml:"market_suffix"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"quotes"`
	Telegram struct {
		BotToken      string        `yaml:"bot_token"`
		APIURL        string        `yaml:"api_url"`
		WebhookURL    string        `yaml:"webhook_url"`
		WebhookPath   string        `yaml:"webhook_path"`
		Timeout       time.Duration `yaml:"timeout"`
		RatePerSecond float64       `yaml:"rate_per_second"`
		CommandBurst  int           `yaml:"command_burst"`
		CommandRefill float64       `yaml:"command_refill_per_second"`
	} `yaml:"telegram"`
	History struct {
		Backend string `yaml:"backend"`
	} `yaml:"history"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port"`
		Database    string        `yaml:"database"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		UseHTTP     bool          `yaml:"use_http"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
	} `yaml:"clickhouse"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// The bot token usually only exists in the environment, so validation runs
// after the overrides.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := getenv("WEBHOOK_URL"); v != "" {
		c.Telegram.WebhookURL = v
	}
	if v := getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	if v := getenv("CHECK_INTERVAL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHECK_INTERVAL_SECONDS: %w", err)
		}
		c.Scheduler.IntervalSeconds = n
	}
	if v := getenv("POST_FIRE_POLICY"); v != "" {
		c.Scheduler.PostFirePolicy = v
	}
	if v := getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		c.Store.SQLite.Path = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("REDIS_ADDR: %w", err)
			}
			c.Redis.Port = p
		}
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("HISTORY_BACKEND"); v != "" {
		c.History.Backend = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
	if c.Log.Collector.Topic == "" {
		c.Log.Collector.Topic = "pricealarm-logs"
	}
	if c.Log.Collector.Level == "" {
		c.Log.Collector.Level = "error"
	}
	if c.Scheduler.IntervalSeconds == 0 {
		c.Scheduler.IntervalSeconds = 60
	}
	if c.Scheduler.PostFirePolicy == "" {
		c.Scheduler.PostFirePolicy = PolicyLevel
	}
	if c.Scheduler.DispatchConcurrency <= 0 {
		c.Scheduler.DispatchConcurrency = 4
	}
	if c.Scheduler.Lock.Key == "" {
		c.Scheduler.Lock.Key = "cycle-lock"
	}
	if c.Scheduler.Lock.TTL == 0 {
		c.Scheduler.Lock.TTL = 2 * time.Minute
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreSQLite
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "data/alarms.db"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "pricealarm"
	}
	if c.Quotes.BaseURL == "" {
		c.Quotes.BaseURL = "https://query1.finance.yahoo.com"
	}
	if c.Quotes.MarketSuffix == "" {
		c.Quotes.MarketSuffix = ".SA"
	}
	if c.Quotes.Timeout == 0 {
		c.Quotes.Timeout = 10 * time.Second
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Telegram.WebhookPath == "" {
		c.Telegram.WebhookPath = "/bot"
	}
	if c.Telegram.Timeout == 0 {
		c.Telegram.Timeout = 10 * time.Second
	}
	if c.Telegram.RatePerSecond == 0 {
		c.Telegram.RatePerSecond = 25
	}
	if c.Telegram.CommandBurst == 0 {
		c.Telegram.CommandBurst = 5
	}
	if c.Telegram.CommandRefill == 0 {
		c.Telegram.CommandRefill = 1
	}
	if c.History.Backend == "" {
		c.History.Backend = HistoryNone
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "alarm-triggers"
	}
	if c.Kafka.RequiredAcks == 0 {
		c.Kafka.RequiredAcks = -1
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "pricealarm-history"
	}
	if c.ClickHouse.Port == 0 {
		c.ClickHouse.Port = 9000
	}
	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "pricealarm"
	}
}

// Interval returns the evaluation interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// ClickHouseEnabled reports whether a ClickHouse host is configured.
func (c *Config) ClickHouseEnabled() bool {
	return c.ClickHouse.Host != ""
}

// KafkaEnabled reports whether any component needs the Kafka producer.
func (c *Config) KafkaEnabled() bool {
	return c.History.Backend == HistoryKafka || c.Log.Collector.Enabled || c.Kafka.Consumer.Enabled
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required (or TELEGRAM_BOT_TOKEN)")
	}
	if s := c.Scheduler.IntervalSeconds; s < MinIntervalSeconds || s > MaxIntervalSeconds {
		return fmt.Errorf("scheduler.interval_seconds must be between %d and %d, got %d",
			MinIntervalSeconds, MaxIntervalSeconds, s)
	}
	switch c.Scheduler.PostFirePolicy {
	case PolicyLevel, PolicyOneShot:
	default:
		return fmt.Errorf("scheduler.post_fire_policy must be '%s' or '%s', got '%s'",
			PolicyLevel, PolicyOneShot, c.Scheduler.PostFirePolicy)
	}
	switch c.Store.Driver {
	case StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("store.driver must be '%s' or '%s', got '%s'", StoreRedis, StoreSQLite, c.Store.Driver)
	}
	switch c.History.Backend {
	case HistoryNone, HistoryKafka:
	case HistoryClickHouse:
		if !c.ClickHouseEnabled() {
			return fmt.Errorf("history.backend clickhouse requires clickhouse.host")
		}
	default:
		return fmt.Errorf("history.backend must be one of none, kafka, clickhouse, got '%s'", c.History.Backend)
	}
	if c.KafkaEnabled() && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is used")
	}
	if c.Kafka.Consumer.Enabled && !c.ClickHouseEnabled() {
		return fmt.Errorf("kafka.consumer requires clickhouse.host to sink triggers")
	}
	if !strings.HasPrefix(c.Telegram.WebhookPath, "/") {
		return fmt.Errorf("telegram.webhook_path must start with '/'")
	}
	return nil
}
