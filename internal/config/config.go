package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"presale_sniper/internal/model"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Provider ProviderConfig `yaml:"provider"`
	Limits   LimitsConfig   `yaml:"limits"`
	Task     TaskConfig     `yaml:"task"`
	Worker   WorkerConfig   `yaml:"worker"`
	Gate     GateConfig     `yaml:"gate"`
	Reserve  ReserveConfig  `yaml:"reserve"`
	Strategy StrategyConfig `yaml:"strategy"`
	Log      LogConfig      `yaml:"log"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlitePath"`
	PostgresURL string `yaml:"postgresURL"`
	MaxConns    int    `yaml:"maxConns"`
}

type ProxyConfig struct {
	Global string `yaml:"global"`
}

type ProviderConfig struct {
	BaseURL   string           `yaml:"baseURL"`
	TimeoutMs int              `yaml:"timeoutMs"`
	Retry     ProviderRetryCfg `yaml:"retry"`
	UserAgent string           `yaml:"userAgent"`
}

type ProviderRetryCfg struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c ProviderRetryCfg) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

func (c ProviderRetryCfg) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// LimitsConfig throttles vendor calls. A QPS of 0 means unlimited.
type LimitsConfig struct {
	GlobalQPS       float64 `yaml:"globalQPS"`
	GlobalBurst     int     `yaml:"globalBurst"`
	PerAccountQPS   float64 `yaml:"perAccountQPS"`
	PerAccountBurst int     `yaml:"perAccountBurst"`
}

type TaskConfig struct {
	LeadTimeMs int `yaml:"leadTimeMs"`
	MaxRetries int `yaml:"maxRetries"`
}

// LeadTime is subtracted from the sale start to get a task's fire time.
func (c TaskConfig) LeadTime() time.Duration {
	if c.LeadTimeMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.LeadTimeMs) * time.Millisecond
}

type WorkerConfig struct {
	Count        int `yaml:"count"`
	MinSleepMs   int `yaml:"minSleepMs"`
	MaxSleepMs   int `yaml:"maxSleepMs"`
	SleepStepMs  int `yaml:"sleepStepMs"`
	RetryDelayMs int `yaml:"retryDelayMs"`
}

func (c WorkerConfig) MinSleep() time.Duration {
	if c.MinSleepMs <= 0 {
		return time.Second
	}
	return time.Duration(c.MinSleepMs) * time.Millisecond
}

func (c WorkerConfig) MaxSleep() time.Duration {
	if c.MaxSleepMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.MaxSleepMs) * time.Millisecond
}

func (c WorkerConfig) SleepStep() time.Duration {
	if c.SleepStepMs <= 0 {
		return time.Second
	}
	return time.Duration(c.SleepStepMs) * time.Millisecond
}

func (c WorkerConfig) RetryDelay() time.Duration {
	if c.RetryDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

type GateConfig struct {
	SlowPollMs   int `yaml:"slowPollMs"`
	FastPollMs   int `yaml:"fastPollMs"`
	FastWindowMs int `yaml:"fastWindowMs"`
	// MaxWaitMs bounds how long a gate polls for a sale to open. 0 waits indefinitely.
	MaxWaitMs int `yaml:"maxWaitMs"`
}

func (c GateConfig) SlowPoll() time.Duration {
	if c.SlowPollMs <= 0 {
		return time.Second
	}
	return time.Duration(c.SlowPollMs) * time.Millisecond
}

func (c GateConfig) FastPoll() time.Duration {
	if c.FastPollMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.FastPollMs) * time.Millisecond
}

func (c GateConfig) FastWindow() time.Duration {
	if c.FastWindowMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.FastWindowMs) * time.Millisecond
}

func (c GateConfig) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 0
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

type ReserveConfig struct {
	MaxAttempts int `yaml:"maxAttempts"`
}

type StrategyConfig struct {
	PositiveKeywords []string `yaml:"positiveKeywords"`
	NegativeKeywords []string `yaml:"negativeKeywords"`
	NameWeight       int      `yaml:"nameWeight"`
	PriceWeight      int      `yaml:"priceWeight"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console *bool  `yaml:"console"`
	Buffer  int    `yaml:"buffer"`
}

func (c LogConfig) ConsoleEnabled() bool {
	return c.Console == nil || *c.Console
}

type NotifyConfig struct {
	Email EmailConfig `yaml:"email"`
	AMQP  AMQPConfig  `yaml:"amqp"`
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	SSL      bool     `yaml:"ssl"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routingKey"`
}

func (c AMQPConfig) Enabled() bool { return c.URL != "" }

// Load reads a yaml config file. A missing file yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", model.ErrConfiguration, path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/presale_sniper.db"
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 10
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.kide.app/api"
	}
	if c.Provider.UserAgent == "" {
		c.Provider.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0 Safari/537.36"
	}
	if c.Provider.Retry.Count < 0 {
		c.Provider.Retry.Count = 0
	}
	if c.Limits.GlobalBurst <= 0 {
		c.Limits.GlobalBurst = 10
	}
	if c.Limits.PerAccountBurst <= 0 {
		c.Limits.PerAccountBurst = 2
	}
	if c.Task.MaxRetries < 0 {
		c.Task.MaxRetries = 0
	}
	if c.Worker.Count <= 0 {
		c.Worker.Count = 10
	}
	if c.Reserve.MaxAttempts <= 0 {
		c.Reserve.MaxAttempts = 20
	}
	if len(c.Strategy.PositiveKeywords) == 0 {
		c.Strategy.PositiveKeywords = []string{"4 hengen", "Promenade", "A-hytti", "helga"}
	}
	if len(c.Strategy.NegativeKeywords) == 0 {
		c.Strategy.NegativeKeywords = []string{"allergia", "handicap", "inva"}
	}
	if c.Strategy.NameWeight <= 0 {
		c.Strategy.NameWeight = 1
	}
	if c.Strategy.PriceWeight <= 0 {
		c.Strategy.PriceWeight = 1000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Buffer <= 0 {
		c.Log.Buffer = 200
	}
	if c.Notify.Email.Port <= 0 {
		c.Notify.Email.Port = 465
	}
	if c.Notify.AMQP.Exchange == "" {
		c.Notify.AMQP.Exchange = "presale.reservations.v1"
	}
	if c.Notify.AMQP.RoutingKey == "" {
		c.Notify.AMQP.RoutingKey = "reservation.created"
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider.baseURL is required")
	}
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.Storage.PostgresURL) == "" {
			return errors.New("storage.postgresURL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}
	if e := c.Notify.Email; e.Enabled {
		if e.Host == "" || e.From == "" || len(e.To) == 0 {
			return errors.New("notify.email requires host, from and to when enabled")
		}
	}
	return nil
}
