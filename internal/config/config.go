package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Destination is one yield-bearing integration slot as configured.
type Destination struct {
	Index     int    `yaml:"index"`
	ProgramID string `yaml:"program_id"`
	Kind      string `yaml:"kind"`
	// Cap is the largest share of the pool, scaled by 1e9.
	Cap uint64 `yaml:"cap"`
}

// Pair is a (pool, asset) the router keeps rebalanced.
type Pair struct {
	Pool  string `yaml:"pool"`
	Asset string `yaml:"asset"`
}

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Schedule struct {
		AdvanceCron string `yaml:"advance_cron"`
		StartCron   string `yaml:"start_cron"`
		IncomeCron  string `yaml:"income_cron"`
	} `yaml:"schedule"`
	Rebalancing struct {
		CapMode                  string        `yaml:"cap_mode"`
		RefreshInterval          time.Duration `yaml:"refresh_interval"`
		RequireFreshDistribution bool          `yaml:"require_fresh_distribution"`
		Operator                 string        `yaml:"operator"`
		Pairs                    []Pair        `yaml:"pairs"`
	} `yaml:"rebalancing"`
	Destinations []Destination       `yaml:"destinations"`
	Managers     map[string][]string `yaml:"managers"`
	Oracle       struct {
		Authority string `yaml:"authority"`
		// Distributions seeds the oracle of each asset on first start.
		Distributions map[string][]uint64 `yaml:"distributions"`
	} `yaml:"oracle"`
	Custody struct {
		StateFile string `yaml:"state_file"`
		// Seed mints balances into an empty ledger: account -> asset -> amount.
		Seed map[string]map[string]uint64 `yaml:"seed"`
	} `yaml:"custody"`
	Database struct {
		SQLitePath  string `yaml:"sqlite_path"`
		HistoryPath string `yaml:"history_path"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Log struct {
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads .env (if present) and the YAML file, then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("ADVANCE_CRON"); v != "" {
		cfg.Schedule.AdvanceCron = v
	}
	if v := os.Getenv("CAP_MODE"); v != "" {
		cfg.Rebalancing.CapMode = v
	}
	if v := os.Getenv("ORACLE_AUTHORITY"); v != "" {
		cfg.Oracle.Authority = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Log.Env = v
	}

	// Defaults
	if cfg.Schedule.AdvanceCron == "" {
		cfg.Schedule.AdvanceCron = "*/30 * * * * *"
	}
	if cfg.Schedule.StartCron == "" {
		cfg.Schedule.StartCron = "0 0 */6 * * *"
	}
	if cfg.Schedule.IncomeCron == "" {
		cfg.Schedule.IncomeCron = "0 30 * * * *"
	}
	if cfg.Rebalancing.CapMode == "" {
		cfg.Rebalancing.CapMode = "clamped"
	}
	if cfg.Rebalancing.RefreshInterval == 0 {
		cfg.Rebalancing.RefreshInterval = time.Hour
	}
	if cfg.Custody.StateFile == "" {
		cfg.Custody.StateFile = "data/custody.json"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/yield_router.db"
	}
	if cfg.Database.HistoryPath == "" {
		cfg.Database.HistoryPath = "data/history.db"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "yield-router.events"
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = "production"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if len(c.Destinations) == 0 {
		return fmt.Errorf("destinations are required")
	}
	for i, d := range c.Destinations {
		if d.Index != i {
			return fmt.Errorf("destinations[%d].index must be %d", i, i)
		}
		if d.ProgramID == "" {
			return fmt.Errorf("destinations[%d].program_id is required", i)
		}
		if d.Cap > 1_000_000_000 {
			return fmt.Errorf("destinations[%d].cap must not exceed 1000000000", i)
		}
	}
	if len(c.Rebalancing.Pairs) == 0 {
		return fmt.Errorf("rebalancing.pairs is required")
	}
	for i, p := range c.Rebalancing.Pairs {
		if p.Pool == "" || p.Asset == "" {
			return fmt.Errorf("rebalancing.pairs[%d] needs pool and asset", i)
		}
	}
	switch c.Rebalancing.CapMode {
	case "clamped", "strict":
	default:
		return fmt.Errorf("rebalancing.cap_mode must be clamped or strict, got %q", c.Rebalancing.CapMode)
	}
	if c.Oracle.Authority == "" {
		return fmt.Errorf("oracle.authority is required")
	}
	for asset, shares := range c.Oracle.Distributions {
		if len(shares) != len(c.Destinations) {
			return fmt.Errorf("oracle.distributions[%s] has %d shares, want %d", asset, len(shares), len(c.Destinations))
		}
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when bot_token is set")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	return nil
}
