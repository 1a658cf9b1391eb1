package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/apperr"
)

type Config struct {
	Server        ServerConfig
	SQLite        SQLiteConfig
	Redis         RedisConfig
	Logging       LoggingConfig
	Cache         CacheConfig
	Knowledge     KnowledgeConfig
	Providers     []ProviderConfig
	LoadBalancing LoadBalancingConfig
	Usage         UsageConfig
	Anonymization AnonymizationConfig
	Analytics     AnalyticsConfig
	Engine        EngineConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	RequestsPerMin int
	AllowedOrigins []string
	IsDevelopment  bool
	MaxQueryLength int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type CacheConfig struct {
	MemoryMaxEntries int
	// Tier1MaxEntries and Tier1MaxBytes bound the Redis tier.
	Tier1MaxEntries int
	Tier1MaxBytes   int64
	// Tier1ItemMaxBytes routes larger serialized entries to tier 2.
	Tier1ItemMaxBytes   int
	Tier2MaxEntries     int
	DefaultTTL          time.Duration
	HighEvidenceTTL     time.Duration
	ModerateEvidenceTTL time.Duration
	LowEvidenceTTL      time.Duration
	SweepInterval       time.Duration
}

type KnowledgeConfig struct {
	MinConfidence  float64
	MinRelevance   float64
	FuzzyEnabled   bool
	FuzzyThreshold float64
	MaxResults     int
}

type ProviderLimits struct {
	Hourly  int64
	Daily   int64
	Monthly int64
}

type ProviderConfig struct {
	Name        string
	Type        string
	Model       string
	BaseURL     string
	APIKey      string
	Enabled     bool
	Weight      float64
	Limits      ProviderLimits
	MaxTokens   int
	Temperature float32
	TimeoutSec  int
}

type LoadBalancingConfig struct {
	Enabled  bool
	Strategy string
	// Preferences maps a query type to providers in order of preference.
	Preferences map[string][]string
}

type UsageConfig struct {
	WarningThreshold  float64
	CriticalThreshold float64
	CheckInterval     time.Duration
	MonthlyInterval   time.Duration
}

type AnonymizationConfig struct {
	Enabled bool
	Names   []string
}

type AnalyticsConfig struct {
	RetentionDays int
	// PaidCostPer1K is what a pay-per-token API would charge per 1K tokens.
	PaidCostPer1K float64
	// PremiumCostPer1K is the effective cost of the subscribed providers.
	PremiumCostPer1K   float64
	AvgTokensPerQuery  int
	MonthlyPlanCost    float64
	RollupInterval     time.Duration
	MinCacheHitRate    float64
	MaxAvgResponseTime time.Duration
	MaxPremiumShare    float64
}

type EngineConfig struct {
	DefaultMaxResponseTime time.Duration
	SchedulingKeywords     []string
}

const (
	StrategyRoundRobin = "round_robin"
	StrategyLeastUsed  = "least_used"
	StrategyWeighted   = "weighted"
)

// Load reads config.yaml (or the file at path) and FISIOFLOW_AI_* variables
// over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fisioflow-ai")
	}

	v.SetEnvPrefix("FISIOFLOW_AI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyListDefaults(&cfg)

	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	applyListDefaults(&cfg)
	return &cfg
}

func applyListDefaults(cfg *Config) {
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}
	if len(cfg.LoadBalancing.Preferences) == 0 {
		cfg.LoadBalancing.Preferences = DefaultPreferences()
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 4194304)
	v.SetDefault("server.requestsPerMin", 120)
	v.SetDefault("server.maxQueryLength", 4000)
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("sqlite.path", "./data/fisioflow-ai.db")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyPrefix", "fisioflow:ai:")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("cache.memoryMaxEntries", 100)
	v.SetDefault("cache.tier1MaxEntries", 500)
	v.SetDefault("cache.tier1MaxBytes", 5*1024*1024)
	v.SetDefault("cache.tier1ItemMaxBytes", 16*1024)
	v.SetDefault("cache.tier2MaxEntries", 10000)
	v.SetDefault("cache.defaultTTL", 7*24*time.Hour)
	v.SetDefault("cache.highEvidenceTTL", 30*24*time.Hour)
	v.SetDefault("cache.moderateEvidenceTTL", 14*24*time.Hour)
	v.SetDefault("cache.lowEvidenceTTL", 7*24*time.Hour)
	v.SetDefault("cache.sweepInterval", time.Hour)

	v.SetDefault("knowledge.minConfidence", 0.7)
	v.SetDefault("knowledge.minRelevance", 0.3)
	v.SetDefault("knowledge.fuzzyEnabled", true)
	v.SetDefault("knowledge.fuzzyThreshold", 0.8)
	v.SetDefault("knowledge.maxResults", 5)

	v.SetDefault("loadBalancing.enabled", true)
	v.SetDefault("loadBalancing.strategy", StrategyRoundRobin)

	v.SetDefault("usage.warningThreshold", 0.8)
	v.SetDefault("usage.criticalThreshold", 0.95)
	v.SetDefault("usage.checkInterval", time.Minute)
	v.SetDefault("usage.monthlyInterval", time.Hour)

	v.SetDefault("anonymization.enabled", true)
	v.SetDefault("anonymization.names", []string{
		"Maria", "José", "João", "Ana", "Antônio", "Francisco", "Carlos", "Paulo",
		"Pedro", "Lucas", "Luiz", "Marcos", "Luis", "Gabriel", "Rafael", "Daniel",
		"Marcelo", "Bruno", "Eduardo", "Felipe", "Juliana", "Mariana", "Fernanda",
		"Patrícia", "Aline", "Camila", "Amanda", "Bruna", "Jéssica", "Letícia",
	})

	v.SetDefault("analytics.retentionDays", 30)
	v.SetDefault("analytics.paidCostPer1K", 0.03)
	v.SetDefault("analytics.premiumCostPer1K", 0.0)
	v.SetDefault("analytics.avgTokensPerQuery", 800)
	v.SetDefault("analytics.monthlyPlanCost", 100.0)
	v.SetDefault("analytics.rollupInterval", time.Hour)
	v.SetDefault("analytics.minCacheHitRate", 0.2)
	v.SetDefault("analytics.maxAvgResponseTime", 10*time.Second)
	v.SetDefault("analytics.maxPremiumShare", 0.6)

	v.SetDefault("engine.defaultMaxResponseTime", 30*time.Second)
	v.SetDefault("engine.schedulingKeywords", []string{
		"agendar", "agendamento", "marcar consulta", "remarcar", "desmarcar",
		"cancelar consulta", "horário disponível", "horarios disponiveis", "disponibilidade",
		"schedule", "reschedule", "appointment",
	})
}

// DefaultPreferences orders providers per query type.
func DefaultPreferences() map[string][]string {
	return map[string][]string{
		"exercise_recommendation": {"chatgpt", "gemini", "claude"},
		"diagnosis_help":          {"claude", "chatgpt", "gemini"},
		"protocol_suggestion":     {"claude", "chatgpt", "perplexity"},
		"general_question":        {"gemini", "chatgpt", "claude"},
		"case_analysis":           {"claude", "chatgpt"},
		"scheduling":              {"chatgpt", "gemini"},
	}
}

// DefaultProviders mirrors the clinic's subscribed assistants. Only chatgpt is
// enabled until API keys are configured.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name: "chatgpt", Type: "openai", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1",
			Enabled: true, Weight: 1.0, MaxTokens: 1500, Temperature: 0.3, TimeoutSec: 30,
			Limits: ProviderLimits{Hourly: 40, Daily: 300, Monthly: 5000},
		},
		{
			Name: "claude", Type: "openai", Model: "claude-3-5-sonnet-latest", BaseURL: "https://api.anthropic.com/v1",
			Enabled: false, Weight: 1.2, MaxTokens: 1500, Temperature: 0.3, TimeoutSec: 30,
			Limits: ProviderLimits{Hourly: 30, Daily: 200, Monthly: 3000},
		},
		{
			Name: "gemini", Type: "openai", Model: "gemini-1.5-flash", BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
			Enabled: false, Weight: 0.8, MaxTokens: 1500, Temperature: 0.3, TimeoutSec: 30,
			Limits: ProviderLimits{Hourly: 60, Daily: 500, Monthly: 8000},
		},
		{
			Name: "perplexity", Type: "openai", Model: "sonar", BaseURL: "https://api.perplexity.ai",
			Enabled: false, Weight: 0.6, MaxTokens: 1200, Temperature: 0.2, TimeoutSec: 30,
			Limits: ProviderLimits{Hourly: 20, Daily: 100, Monthly: 1500},
		},
	}
}

// Validate runs the startup checks and reports the first failure as an
// *apperr.ConfigError naming the check.
func (c *Config) Validate() error {
	if c.Usage.WarningThreshold <= 0 || c.Usage.WarningThreshold >= 1 {
		return apperr.Invalid("usage.warningThreshold must be in (0,1)", nil)
	}
	if c.Usage.CriticalThreshold <= c.Usage.WarningThreshold || c.Usage.CriticalThreshold >= 1 {
		return apperr.Invalid("usage.criticalThreshold must be in (warningThreshold,1)", nil)
	}
	if c.Knowledge.MinConfidence <= 0 || c.Knowledge.MinConfidence > 1 {
		return apperr.Invalid("knowledge.minConfidence must be in (0,1]", nil)
	}
	if c.Knowledge.FuzzyThreshold <= 0 || c.Knowledge.FuzzyThreshold > 1 {
		return apperr.Invalid("knowledge.fuzzyThreshold must be in (0,1]", nil)
	}
	if c.Cache.MemoryMaxEntries <= 0 {
		return apperr.Invalid("cache.memoryMaxEntries must be positive", nil)
	}
	if c.Cache.Tier1MaxEntries <= 0 || c.Cache.Tier1MaxBytes <= 0 {
		return apperr.Invalid("cache tier 1 bounds must be positive", nil)
	}
	if c.Cache.DefaultTTL <= 0 {
		return apperr.Invalid("cache.defaultTTL must be positive", nil)
	}
	switch c.LoadBalancing.Strategy {
	case StrategyRoundRobin, StrategyLeastUsed, StrategyWeighted:
	default:
		return apperr.Invalid(fmt.Sprintf("loadBalancing.strategy %q is unknown", c.LoadBalancing.Strategy), nil)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return apperr.Invalid("providers[].name is required", nil)
		}
		if seen[p.Name] {
			return apperr.Invalid(fmt.Sprintf("provider %q is declared twice", p.Name), nil)
		}
		seen[p.Name] = true
		if p.Weight < 0 {
			return apperr.Invalid(fmt.Sprintf("provider %q has a negative weight", p.Name), nil)
		}
		if p.Enabled && (p.Limits.Hourly <= 0 || p.Limits.Daily <= 0 || p.Limits.Monthly <= 0) {
			return apperr.Invalid(fmt.Sprintf("provider %q needs positive hourly, daily and monthly limits", p.Name), nil)
		}
	}
	for queryType, names := range c.LoadBalancing.Preferences {
		for _, name := range names {
			if !seen[name] {
				return apperr.Invalid(fmt.Sprintf("preference for %s names unknown provider %q", queryType, name), nil)
			}
		}
	}
	return nil
}

// Provider returns the configuration of the named provider.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
