package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Triage     TriageConfig     `yaml:"triage" mapstructure:"triage"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderConfig holds news provider API settings.
type ProviderConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// IngestConfig configures backfill runs.
type IngestConfig struct {
	WeeksBack     int    `yaml:"weeks_back" mapstructure:"weeks_back"`
	WindowBudget  int    `yaml:"window_budget" mapstructure:"window_budget"`
	QuotaFloor    int    `yaml:"quota_floor" mapstructure:"quota_floor"`
	Workers       int    `yaml:"workers" mapstructure:"workers"`
	MaxArticles   int    `yaml:"max_articles" mapstructure:"max_articles"`
	ResidualQuota int    `yaml:"residual_quota" mapstructure:"residual_quota"`
	CheckpointDir string `yaml:"checkpoint_dir" mapstructure:"checkpoint_dir"`
	CatalogPath   string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// DedupConfig configures the deduplication engine.
type DedupConfig struct {
	Threshold    float64 `yaml:"threshold" mapstructure:"threshold"`
	KeepEarliest bool    `yaml:"keep_earliest" mapstructure:"keep_earliest"`
}

// TriageConfig configures the quality gate bounds.
type TriageConfig struct {
	MinLength int `yaml:"min_length" mapstructure:"min_length"`
	MaxLength int `yaml:"max_length" mapstructure:"max_length"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures metrics collection and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	AcceptRateFloor      float64 `yaml:"accept_rate_floor" mapstructure:"accept_rate_floor"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUGARWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a meaningful default still need an entry:
	// AutomaticEnv only surfaces env vars for keys viper already knows.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sugarwire.db")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("provider.key", "")
	v.SetDefault("provider.base_url", "https://api.opoint.com")
	v.SetDefault("provider.rate_per_sec", 5)
	v.SetDefault("provider.rate_burst", 5)
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("ingest.weeks_back", 12)
	v.SetDefault("ingest.window_budget", 200)
	v.SetDefault("ingest.quota_floor", 2)
	v.SetDefault("ingest.workers", 3)
	v.SetDefault("ingest.max_articles", 100)
	v.SetDefault("ingest.residual_quota", 50)
	v.SetDefault("ingest.checkpoint_dir", ".sugarwire/checkpoints")
	v.SetDefault("ingest.catalog_path", "")
	v.SetDefault("dedup.threshold", 0.9)
	v.SetDefault("dedup.keep_earliest", false)
	v.SetDefault("triage.min_length", 20)
	v.SetDefault("triage.max_length", 0)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.accept_rate_floor", 0.02)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete for the given
// mode. Modes correspond to subcommands: "ingest", "serve", "runs",
// "sources".
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		missing = append(missing, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}

	switch mode {
	case "ingest":
		if c.Provider.Key == "" {
			missing = append(missing, "provider.key is required")
		}
		if c.Ingest.WeeksBack < 1 || c.Ingest.WeeksBack > 520 {
			missing = append(missing, "ingest.weeks_back must be between 1 and 520")
		}
		if c.Ingest.WindowBudget < 1 {
			missing = append(missing, "ingest.window_budget must be > 0")
		}
		if c.Ingest.Workers < 1 || c.Ingest.Workers > 32 {
			missing = append(missing, "ingest.workers must be between 1 and 32")
		}
		if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
			missing = append(missing, "dedup.threshold must be in (0, 1]")
		}
	case "serve":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "runs", "sources":
		// Store settings checked above are enough.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
