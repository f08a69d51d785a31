// Package config loads BudgetGuard's runtime configuration from a YAML
// file, environment variables, and hardcoded defaults via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	MetricsPort      int           `mapstructure:"metrics_port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	UpstreamTimeout  time.Duration `mapstructure:"upstream_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ProvidersConfig carries upstream base URLs and credentials for the
// three supported LLM vendors. Keys are read from the environment by
// bindEnvVars, not written into the YAML file in plaintext.
type ProvidersConfig struct {
	OpenAIKey       string `mapstructure:"openai_key"`
	OpenAIBaseURL   string `mapstructure:"openai_base_url"`
	AnthropicKey    string `mapstructure:"anthropic_key"`
	AnthropicBaseURL string `mapstructure:"anthropic_base_url"`
	GoogleKey       string `mapstructure:"google_key"`
	GoogleBaseURL   string `mapstructure:"google_base_url"`
}

type PolicyConfig struct {
	WasmPath string `mapstructure:"wasm_path"`
}

// BudgetConfig holds the environment-variable fallback chain described in
// spec.md §4.3: stored row -> BUDGET_<PERIOD>_<TENANT> -> BUDGET_<PERIOD>_USD
// -> caller default. DailyUSD/MonthlyUSD mirror BUDGET_DAILY_USD and
// BUDGET_MONTHLY_USD; the budget store does not read these fields, it reads
// both the per-tenant and the tenant-agnostic variables directly with
// os.Getenv, since the per-tenant names are computed at lookup time.
type BudgetConfig struct {
	DailyUSD    float64 `mapstructure:"daily_usd"`
	MonthlyUSD  float64 `mapstructure:"monthly_usd"`
	StartDate   string  `mapstructure:"start_date"`
	EndDate     string  `mapstructure:"end_date"`
	Periods     []string `mapstructure:"periods"`
	DefaultTenant  string `mapstructure:"default_tenant"`
	DefaultAPIKey  string `mapstructure:"default_api_key"`
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int `mapstructure:"max_requests_per_minute"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/budgetguard")
	}

	setDefaults()

	viper.AutomaticEnv()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg = &c
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.metrics_port", 9090)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "90s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.upstream_timeout", "60s")
	viper.SetDefault("server.graceful_shutdown", "30s")

	viper.SetDefault("database.max_connections", 50)
	viper.SetDefault("database.max_idle_connections", 10)
	viper.SetDefault("database.conn_max_lifetime", "1h")

	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 50)

	viper.SetDefault("providers.openai_base_url", "https://api.openai.com")
	viper.SetDefault("providers.anthropic_base_url", "https://api.anthropic.com")
	viper.SetDefault("providers.google_base_url", "https://generativelanguage.googleapis.com/v1beta/models")

	viper.SetDefault("budget.periods", []string{"daily", "monthly"})

	viper.SetDefault("rate_limit.max_requests_per_minute", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func bindEnvVars() {
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("redis.url", "REDIS_URL")

	viper.BindEnv("providers.openai_key", "OPENAI_KEY")
	viper.BindEnv("providers.anthropic_key", "ANTHROPIC_API_KEY")
	viper.BindEnv("providers.google_key", "GOOGLE_API_KEY")

	viper.BindEnv("policy.wasm_path", "OPA_POLICY_PATH")

	viper.BindEnv("budget.daily_usd", "BUDGET_DAILY_USD")
	viper.BindEnv("budget.monthly_usd", "BUDGET_MONTHLY_USD")
	viper.BindEnv("budget.start_date", "BUDGET_START_DATE")
	viper.BindEnv("budget.end_date", "BUDGET_END_DATE")
	viper.BindEnv("budget.periods", "BUDGET_PERIODS")
	viper.BindEnv("budget.default_tenant", "DEFAULT_TENANT")
	viper.BindEnv("budget.default_api_key", "DEFAULT_API_KEY")

	viper.BindEnv("rate_limit.max_requests_per_minute", "MAX_REQS_PER_MIN")

	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("logging.format", "LOG_FORMAT")
}

func Get() *Config {
	return cfg
}
